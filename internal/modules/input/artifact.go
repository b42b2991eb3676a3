package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/internal/dataset"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// ErrMissingArtifact is returned when the artifact reference is not configured.
var ErrMissingArtifact = errors.New("'artifact' is required for artifact input")

// ArtifactInput fetches a CSV artifact from an artifact store. Using the
// artifact records it as an input of the current run.
type ArtifactInput struct {
	ref   artifact.Ref
	store artifact.Store
	runID string

	mu       sync.Mutex
	resolved *artifact.Artifact
}

// NewArtifactInputFromConfig creates an artifact input module.
// Configuration: {"artifact": "[[entity/]project/]name[:version]"}.
func NewArtifactInputFromConfig(cfg *step.ModuleConfig, store artifact.Store, runID string) (*ArtifactInput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if store == nil {
		return nil, errors.New("artifact input requires an artifact store")
	}
	raw, _ := cfg.Config["artifact"].(string)
	if raw == "" {
		return nil, ErrMissingArtifact
	}
	ref, err := artifact.ParseRef(raw)
	if err != nil {
		return nil, err
	}

	logger.Debug("artifact input module initialized",
		slog.String("artifact", ref.String()),
		slog.String("run_id", runID),
	)
	return &ArtifactInput{ref: ref, store: store, runID: runID}, nil
}

// Ref returns the configured reference.
func (m *ArtifactInput) Ref() artifact.Ref {
	return m.ref
}

// Artifact returns the version resolved by the last Fetch, or nil.
func (m *ArtifactInput) Artifact() *artifact.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolved
}

// Fetch downloads the artifact and parses it as CSV.
func (m *ArtifactInput) Fetch(ctx context.Context) (*dataset.Dataset, error) {
	logger.Info("Downloading artifact", slog.String("artifact", m.ref.String()))

	a, rc, err := m.store.Use(ctx, m.runID, m.ref)
	if err != nil {
		return nil, fmt.Errorf("using artifact %s: %w", m.ref, err)
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil {
			logger.Debug("failed to close artifact reader", slog.String("error", closeErr.Error()))
		}
	}()

	m.mu.Lock()
	m.resolved = a
	m.mu.Unlock()
	logger.LogArtifact("used", a.Name, a.VersionTag(), a.Size, slog.String("run_id", m.runID))

	ds, err := dataset.Read(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s:%s: %w", a.Name, a.VersionTag(), err)
	}
	return ds, nil
}

// Close releases resources. The store is owned by the caller.
func (m *ArtifactInput) Close() error {
	return nil
}

var _ Module = (*ArtifactInput)(nil)
