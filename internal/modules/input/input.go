// Package input provides implementations for input modules.
// Input modules are responsible for fetching the dataset the step cleans.
package input

import (
	"context"
	"errors"

	"github.com/canectors/basic-cleaning/internal/dataset"
)

// ErrNilConfig is returned when a module is built without configuration.
var ErrNilConfig = errors.New("input module configuration is nil")

// Module represents an input module that fetches a dataset from a source.
type Module interface {
	// Fetch retrieves and parses the source data.
	// The context can be used to cancel long-running operations.
	Fetch(ctx context.Context) (*dataset.Dataset, error)
	// Close releases any resources held by the module.
	Close() error
}
