package registry

import (
	"fmt"

	"github.com/canectors/basic-cleaning/internal/modules/filter"
	"github.com/canectors/basic-cleaning/internal/modules/input"
	"github.com/canectors/basic-cleaning/internal/modules/output"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// Built-in module type names.
const (
	TypeArtifact   = "artifact"
	TypeFile       = "file"
	TypePriceRange = "priceRange"
)

func init() {
	RegisterBuiltins()
}

func registerBuiltinInputModules() {
	// artifact - CSV artifact from the artifact store
	RegisterInput(TypeArtifact, func(cfg *step.ModuleConfig, deps Deps) (input.Module, error) {
		return input.NewArtifactInputFromConfig(cfg, deps.Store, deps.RunID)
	})

	// file - local CSV file
	RegisterInput(TypeFile, func(cfg *step.ModuleConfig, _ Deps) (input.Module, error) {
		return input.NewFileInputFromConfig(cfg)
	})
}

func registerBuiltinFilterModules() {
	// priceRange - inclusive interval on one numeric column
	RegisterFilter(TypePriceRange, func(cfg *step.ModuleConfig, _ Deps) (filter.Module, error) {
		rangeConfig, err := filter.ParseRangeConfig(cfg.Config)
		if err != nil {
			return nil, fmt.Errorf("invalid priceRange config: %w", err)
		}
		module, err := filter.NewRangeFromConfig(rangeConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid priceRange config: %w", err)
		}
		return module, nil
	})
}

func registerBuiltinOutputModules() {
	// artifact - publish the cleaned CSV as a new artifact version
	RegisterOutput(TypeArtifact, func(cfg *step.ModuleConfig, deps Deps) (output.Module, error) {
		return output.NewArtifactOutputFromConfig(cfg, deps.Store, deps.RunID, deps.WorkDir)
	})

	// file - local CSV file
	RegisterOutput(TypeFile, func(cfg *step.ModuleConfig, _ Deps) (output.Module, error) {
		return output.NewFileOutputFromConfig(cfg)
	})
}
