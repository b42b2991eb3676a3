package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/canectors/basic-cleaning/internal/artifact"
	"github.com/canectors/basic-cleaning/internal/dataset"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// DefaultFileName is the name of the cleaned CSV written to the work directory.
const DefaultFileName = "clean_sample.csv"

// ErrMissingName is returned when the output artifact name is not configured.
var ErrMissingName = errors.New("'name' is required for artifact output")

// ArtifactOutputConfig configures an artifact output module.
type ArtifactOutputConfig struct {
	// Name of the artifact to publish
	Name string `json:"name"`
	// Type of the artifact (e.g. "clean_sample")
	Type string `json:"type"`
	// Description stored with the version
	Description string `json:"description"`
	// FileName of the CSV in the work directory and in the store
	FileName string `json:"fileName,omitempty"`
	// Aliases applied in addition to "latest"
	Aliases []string `json:"aliases,omitempty"`
}

// ArtifactOutput writes the dataset as CSV to the work directory, then
// publishes that file as a new version of an artifact.
type ArtifactOutput struct {
	config  ArtifactOutputConfig
	store   artifact.Store
	runID   string
	workDir string

	mu           sync.Mutex
	published    *artifact.Artifact
	bytesWritten int64
}

// NewArtifactOutputFromConfig creates an artifact output module.
func NewArtifactOutputFromConfig(cfg *step.ModuleConfig, store artifact.Store, runID, workDir string) (*ArtifactOutput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if store == nil {
		return nil, errors.New("artifact output requires an artifact store")
	}

	config := ArtifactOutputConfig{
		Name:        stringValue(cfg.Config, "name"),
		Type:        stringValue(cfg.Config, "type"),
		Description: stringValue(cfg.Config, "description"),
		FileName:    stringValue(cfg.Config, "fileName"),
		Aliases:     stringSlice(cfg.Config, "aliases"),
	}
	if config.Name == "" {
		return nil, ErrMissingName
	}
	if err := artifact.ValidateName(config.Name); err != nil {
		return nil, err
	}
	if config.FileName == "" {
		config.FileName = DefaultFileName
	}
	if err := artifact.ValidateName(config.FileName); err != nil {
		return nil, fmt.Errorf("fileName: %w", err)
	}
	if workDir == "" {
		workDir = "."
	}

	logger.Debug("artifact output module initialized",
		slog.String("artifact", config.Name),
		slog.String("type", config.Type),
		slog.String("file", filepath.Join(workDir, config.FileName)),
	)
	return &ArtifactOutput{config: config, store: store, runID: runID, workDir: workDir}, nil
}

// Config returns the module configuration.
func (m *ArtifactOutput) Config() ArtifactOutputConfig {
	return m.config
}

// LocalPath is where the cleaned CSV is written before upload.
func (m *ArtifactOutput) LocalPath() string {
	return filepath.Join(m.workDir, m.config.FileName)
}

// Artifact returns the version published by the last Send, or nil.
func (m *ArtifactOutput) Artifact() *artifact.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

// BytesWritten returns the size of the CSV written by the last Send.
func (m *ArtifactOutput) BytesWritten() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytesWritten
}

// Send writes ds to LocalPath and logs it to the store.
func (m *ArtifactOutput) Send(ctx context.Context, ds *dataset.Dataset) (int, error) {
	if ds == nil {
		return 0, errors.New("dataset is nil")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path := m.LocalPath()
	n, err := dataset.WriteFile(path, ds)
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w", path, err)
	}
	m.mu.Lock()
	m.bytesWritten = n
	m.mu.Unlock()

	logger.Info("Logging artifact", slog.String("artifact", m.config.Name), slog.String("file", path))

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	a, err := m.store.Log(ctx, m.runID, artifact.Spec{
		Name:        m.config.Name,
		Type:        m.config.Type,
		Description: m.config.Description,
		FileName:    m.config.FileName,
		Aliases:     m.config.Aliases,
	}, f)
	if err != nil {
		return 0, fmt.Errorf("logging artifact %s: %w", m.config.Name, err)
	}

	m.mu.Lock()
	m.published = a
	m.mu.Unlock()
	logger.LogArtifact("published", a.Name, a.VersionTag(), a.Size,
		slog.String("run_id", m.runID),
		slog.String("digest", a.Digest),
	)
	return ds.Len(), nil
}

// Close is a no-op; the store is owned by the caller.
func (m *ArtifactOutput) Close() error {
	return nil
}

func stringValue(config map[string]interface{}, key string) string {
	s, _ := config[key].(string)
	return s
}

func stringSlice(config map[string]interface{}, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

var _ Module = (*ArtifactOutput)(nil)
