// Package output provides implementations for output modules.
// Output modules are responsible for persisting the cleaned dataset.
package output

import (
	"context"
	"errors"

	"github.com/canectors/basic-cleaning/internal/dataset"
)

// ErrNilConfig is returned when a module is built without configuration.
var ErrNilConfig = errors.New("output module configuration is nil")

// Module represents an output module that sends a dataset to a destination.
type Module interface {
	// Send writes the dataset to the destination.
	// Returns the number of rows written and any error.
	Send(ctx context.Context, ds *dataset.Dataset) (int, error)

	// Close releases any resources held by the module.
	Close() error
}
