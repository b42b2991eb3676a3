package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/canectors/basic-cleaning/internal/dataset"
	"github.com/canectors/basic-cleaning/internal/logger"
	"github.com/canectors/basic-cleaning/pkg/step"
)

// ErrMissingPath is returned when a file output has no path.
var ErrMissingPath = errors.New("'path' is required for file output")

// FileOutput writes the dataset to a CSV file.
type FileOutput struct {
	path         string
	bytesWritten int64
}

// NewFileOutputFromConfig creates a file output module.
// Configuration: {"path": "out/clean_sample.csv"}.
func NewFileOutputFromConfig(cfg *step.ModuleConfig) (*FileOutput, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	path := stringValue(cfg.Config, "path")
	if path == "" {
		return nil, ErrMissingPath
	}
	return &FileOutput{path: path}, nil
}

// Path returns the destination path.
func (m *FileOutput) Path() string {
	return m.path
}

// BytesWritten returns the size of the file written by the last Send.
func (m *FileOutput) BytesWritten() int64 {
	return m.bytesWritten
}

// Send writes ds atomically to the configured path.
func (m *FileOutput) Send(ctx context.Context, ds *dataset.Dataset) (int, error) {
	if ds == nil {
		return 0, errors.New("dataset is nil")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := dataset.WriteFile(m.path, ds)
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w", m.path, err)
	}
	m.bytesWritten = n
	logger.Info("Wrote output file", slog.String("path", m.path), slog.Int("rows", ds.Len()))
	return ds.Len(), nil
}

// Close is a no-op.
func (m *FileOutput) Close() error {
	return nil
}

var _ Module = (*FileOutput)(nil)
