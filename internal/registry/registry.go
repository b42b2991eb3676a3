// Package registry provides module registries for input, filter, and output modules.
//
// Modules register their constructors by type string instead of being wired
// through a hard-coded switch, so new sources or destinations can be added
// without touching the runtime.
//
// To add a new input module type:
//
//	func init() {
//	    registry.RegisterInput("s3", func(cfg *step.ModuleConfig, deps registry.Deps) (input.Module, error) {
//	        return NewS3Input(cfg)
//	    })
//	}
//
// Built-in modules (artifact and file inputs, the priceRange filter, artifact
// and file outputs) are registered in builtins.go. Unknown types are errors.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/internal/modules/filter"
	"github.com/canectors/basic-cleaning/internal/modules/input"
	"github.com/canectors/basic-cleaning/internal/modules/output"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// ErrUnknownModuleType is returned when no constructor is registered for a type.
var ErrUnknownModuleType = errors.New("unknown module type")

// Deps carries the run-scoped collaborators handed to module constructors.
type Deps struct {
	// Store is the artifact store used by artifact modules
	Store artifact.Store
	// RunID identifies the current run in the store
	RunID string
	// WorkDir is where output modules write intermediate files
	WorkDir string
}

// InputConstructor creates an input module from configuration.
type InputConstructor func(cfg *step.ModuleConfig, deps Deps) (input.Module, error)

// FilterConstructor creates a filter module from configuration.
type FilterConstructor func(cfg *step.ModuleConfig, deps Deps) (filter.Module, error)

// OutputConstructor creates an output module from configuration.
type OutputConstructor func(cfg *step.ModuleConfig, deps Deps) (output.Module, error)

var (
	inputMu       sync.RWMutex
	inputRegistry = make(map[string]InputConstructor)
)

var (
	filterMu       sync.RWMutex
	filterRegistry = make(map[string]FilterConstructor)
)

var (
	outputMu       sync.RWMutex
	outputRegistry = make(map[string]OutputConstructor)
)

// RegisterInput registers an input module constructor by type string,
// replacing any previous registration. Safe for concurrent use.
func RegisterInput(moduleType string, constructor InputConstructor) {
	inputMu.Lock()
	defer inputMu.Unlock()
	inputRegistry[moduleType] = constructor
}

// RegisterFilter registers a filter module constructor by type string,
// replacing any previous registration. Safe for concurrent use.
func RegisterFilter(moduleType string, constructor FilterConstructor) {
	filterMu.Lock()
	defer filterMu.Unlock()
	filterRegistry[moduleType] = constructor
}

// RegisterOutput registers an output module constructor by type string,
// replacing any previous registration. Safe for concurrent use.
func RegisterOutput(moduleType string, constructor OutputConstructor) {
	outputMu.Lock()
	defer outputMu.Unlock()
	outputRegistry[moduleType] = constructor
}

// GetInputConstructor returns the registered constructor, or nil.
func GetInputConstructor(moduleType string) InputConstructor {
	inputMu.RLock()
	defer inputMu.RUnlock()
	return inputRegistry[moduleType]
}

// GetFilterConstructor returns the registered constructor, or nil.
func GetFilterConstructor(moduleType string) FilterConstructor {
	filterMu.RLock()
	defer filterMu.RUnlock()
	return filterRegistry[moduleType]
}

// GetOutputConstructor returns the registered constructor, or nil.
func GetOutputConstructor(moduleType string) OutputConstructor {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return outputRegistry[moduleType]
}

// NewInput builds the input module described by cfg.
func NewInput(cfg *step.ModuleConfig, deps Deps) (input.Module, error) {
	if cfg == nil {
		return nil, errors.New("input module configuration is required")
	}
	ctor := GetInputConstructor(cfg.Type)
	if ctor == nil {
		return nil, fmt.Errorf("%w: input %q (registered: %v)", ErrUnknownModuleType, cfg.Type, ListInputTypes())
	}
	return ctor(cfg, deps)
}

// NewFilter builds the filter module described by cfg.
func NewFilter(cfg *step.ModuleConfig, deps Deps) (filter.Module, error) {
	if cfg == nil {
		return nil, errors.New("filter module configuration is required")
	}
	ctor := GetFilterConstructor(cfg.Type)
	if ctor == nil {
		return nil, fmt.Errorf("%w: filter %q (registered: %v)", ErrUnknownModuleType, cfg.Type, ListFilterTypes())
	}
	return ctor(cfg, deps)
}

// NewOutput builds the output module described by cfg.
func NewOutput(cfg *step.ModuleConfig, deps Deps) (output.Module, error) {
	if cfg == nil {
		return nil, errors.New("output module configuration is required")
	}
	ctor := GetOutputConstructor(cfg.Type)
	if ctor == nil {
		return nil, fmt.Errorf("%w: output %q (registered: %v)", ErrUnknownModuleType, cfg.Type, ListOutputTypes())
	}
	return ctor(cfg, deps)
}

// ListInputTypes returns all registered input module type names, sorted.
func ListInputTypes() []string {
	inputMu.RLock()
	defer inputMu.RUnlock()
	return sortedKeys(inputRegistry)
}

// ListFilterTypes returns all registered filter module type names, sorted.
func ListFilterTypes() []string {
	filterMu.RLock()
	defer filterMu.RUnlock()
	return sortedKeys(filterRegistry)
}

// ListOutputTypes returns all registered output module type names, sorted.
func ListOutputTypes() []string {
	outputMu.RLock()
	defer outputMu.RUnlock()
	return sortedKeys(outputRegistry)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ClearRegistries removes all registered constructors.
// This is intended for testing purposes only.
func ClearRegistries() {
	inputMu.Lock()
	inputRegistry = make(map[string]InputConstructor)
	inputMu.Unlock()

	filterMu.Lock()
	filterRegistry = make(map[string]FilterConstructor)
	filterMu.Unlock()

	outputMu.Lock()
	outputRegistry = make(map[string]OutputConstructor)
	outputMu.Unlock()
}

// RegisterBuiltins (re)registers the built-in modules. It runs at package
// initialization and can be called again after ClearRegistries.
func RegisterBuiltins() {
	registerBuiltinInputModules()
	registerBuiltinFilterModules()
	registerBuiltinOutputModules()
}
