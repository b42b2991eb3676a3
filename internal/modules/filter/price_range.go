package filter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/canectors/basic-cleaning/internal/dataset"
	"github.com/canectors/basic-cleaning/internal/logger"
)

// DefaultRangeColumn is the column filtered when none is configured.
const DefaultRangeColumn = "price"

// RangeConfig represents the configuration for a priceRange filter module.
type RangeConfig struct {
	// Column is the numeric column compared against the bounds (default "price")
	Column string `json:"column,omitempty"`
	// MinPrice is the inclusive lower bound
	MinPrice float64 `json:"minPrice"`
	// MaxPrice is the inclusive upper bound
	MaxPrice float64 `json:"maxPrice"`
}

// RangeStats counts how the rows of a dataset were classified.
type RangeStats struct {
	Input      int `json:"input"`
	Kept       int `json:"kept"`
	OutOfRange int `json:"outOfRange"`
	NonNumeric int `json:"nonNumeric"`
}

// Dropped returns the number of rows that did not pass.
func (s RangeStats) Dropped() int {
	return s.OutOfRange + s.NonNumeric
}

// ByRange keeps the rows of ds whose column value v satisfies lo <= v <= hi.
// Rows where the value is empty, NaN or not a number are dropped and counted
// as NonNumeric. The result shares the header and row order of ds; ds is not
// modified.
//
// A missing column is reported as a *dataset.SchemaError.
func ByRange(ds *dataset.Dataset, column string, lo, hi float64) (*dataset.Dataset, RangeStats, error) {
	var stats RangeStats
	if ds == nil {
		return nil, stats, errors.New("dataset is nil")
	}
	idx, err := ds.ColumnIndex(column)
	if err != nil {
		return nil, stats, err
	}

	stats.Input = ds.Len()
	out := ds.Filter(func(row []string) bool {
		v, ok := dataset.ParseFloat(row[idx])
		switch {
		case !ok:
			stats.NonNumeric++
			return false
		case v < lo || v > hi:
			stats.OutOfRange++
			return false
		default:
			stats.Kept++
			return true
		}
	})
	return out, stats, nil
}

// RangeModule implements the priceRange filter: an inclusive interval on a
// single numeric column.
type RangeModule struct {
	config RangeConfig
	stats  RangeStats
}

// NewRangeFromConfig creates a new priceRange filter module from configuration.
func NewRangeFromConfig(config RangeConfig) (*RangeModule, error) {
	if config.Column == "" {
		config.Column = DefaultRangeColumn
	}
	if math.IsNaN(config.MinPrice) || math.IsNaN(config.MaxPrice) {
		return nil, errors.New("price bounds must be numbers")
	}
	if config.MinPrice > config.MaxPrice {
		logger.Warn("price range is empty; every row will be dropped",
			slog.Float64("min_price", config.MinPrice),
			slog.Float64("max_price", config.MaxPrice),
		)
	}

	logger.Debug("priceRange filter module initialized",
		slog.String("column", config.Column),
		slog.Float64("min_price", config.MinPrice),
		slog.Float64("max_price", config.MaxPrice),
	)
	return &RangeModule{config: config}, nil
}

// Config returns the module configuration.
func (m *RangeModule) Config() RangeConfig {
	return m.config
}

// Stats returns the classification counts of the last Process call.
func (m *RangeModule) Stats() RangeStats {
	return m.stats
}

// Process implements the filter.Module interface.
func (m *RangeModule) Process(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	logger.Info("Dropping outliers",
		slog.String("column", m.config.Column),
		slog.Float64("min_price", m.config.MinPrice),
		slog.Float64("max_price", m.config.MaxPrice),
	)

	out, stats, err := ByRange(ds, m.config.Column, m.config.MinPrice, m.config.MaxPrice)
	if err != nil {
		return nil, fmt.Errorf("filtering on %s: %w", m.config.Column, err)
	}
	m.stats = stats

	logger.Debug("priceRange filter applied",
		slog.Int("input", stats.Input),
		slog.Int("kept", stats.Kept),
		slog.Int("out_of_range", stats.OutOfRange),
		slog.Int("non_numeric", stats.NonNumeric),
	)
	return out, nil
}

// ParseRangeConfig parses a raw configuration map into RangeConfig.
// minPrice and maxPrice are required.
func ParseRangeConfig(config map[string]interface{}) (RangeConfig, error) {
	var cfg RangeConfig

	if raw, ok := config["column"]; ok {
		column, isString := raw.(string)
		if !isString || column == "" {
			return cfg, errors.New("'column' must be a non-empty string")
		}
		cfg.Column = column
	}

	var err error
	if cfg.MinPrice, err = requireNumber(config, "minPrice"); err != nil {
		return cfg, err
	}
	if cfg.MaxPrice, err = requireNumber(config, "maxPrice"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func requireNumber(config map[string]interface{}, key string) (float64, error) {
	raw, ok := config[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("'%s' is required", key)
	}
	f, ok := toFloat(raw)
	if !ok || math.IsNaN(f) {
		return 0, fmt.Errorf("'%s' must be a number, got %T", key, raw)
	}
	if math.IsInf(f, 0) {
		return 0, fmt.Errorf("'%s' must be finite, got %v", key, f)
	}
	return f, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Verify interface compliance at compile time
var _ Module = (*RangeModule)(nil)
