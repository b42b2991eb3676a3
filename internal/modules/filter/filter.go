// Package filter provides implementations for filter modules.
// Filter modules select the rows of a dataset that move on to the output.
package filter

import (
	"context"

	"github.com/canectors/basic-cleaning/internal/dataset"
)

// Module represents a filter module that transforms a dataset.
type Module interface {
	// Process returns the filtered dataset. The input is not modified.
	Process(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error)
}
