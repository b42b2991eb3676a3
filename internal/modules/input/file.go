package input

import (
	"context"
	"errors"
	"log/slog"

	"github.com/canectors/basic-cleaning/internal/dataset"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// ErrMissingPath is returned when a file input has no path.
var ErrMissingPath = errors.New("'path' is required for file input")

// FileInput reads a CSV file from the local filesystem.
type FileInput struct {
	path string
}

// NewFileInputFromConfig creates a file input module.
// Configuration: {"path": "data/sample.csv"}.
func NewFileInputFromConfig(cfg *step.ModuleConfig) (*FileInput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	path, _ := cfg.Config["path"].(string)
	if path == "" {
		return nil, ErrMissingPath
	}
	return &FileInput{path: path}, nil
}

// Path returns the configured file path.
func (m *FileInput) Path() string {
	return m.path
}

// Fetch reads and parses the file.
func (m *FileInput) Fetch(ctx context.Context) (*dataset.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.Info("Reading input file", slog.String("path", m.path))
	return dataset.ReadFile(m.path)
}

// Close is a no-op.
func (m *FileInput) Close() error {
	return nil
}

var _ Module = (*FileInput)(nil)
