package annvdb

import "fmt"

// Option configures a database before Open constructs it, mirroring the
// teacher's functional options pattern.
type Option func(*Config) error

// WithStoragePath sets the directory holding dump.bin, vectors.f32.bin,
// ann.oplog, and the metadata file.
func WithStoragePath(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return fmt.Errorf("annvdb: storage path cannot be empty")
		}
		c.StoragePath = path
		return nil
	}
}

// WithPrefix namespaces the files within StoragePath, and the global
// per-directory FIFO lock key, letting multiple collections share one
// directory.
func WithPrefix(prefix string) Option {
	return func(c *Config) error {
		c.Prefix = prefix
		return nil
	}
}

// WithDimension sets DIM; must be positive and a multiple of 4.
func WithDimension(dim int32) Option {
	return func(c *Config) error {
		if dim <= 0 || dim%4 != 0 {
			return fmt.Errorf("%w: DIM must be positive and a multiple of 4, got %d", ErrDimensionMismatch, dim)
		}
		c.Dim = dim
		return nil
	}
}

// WithMode applies a named tuning preset (fast/balanced/accurate).
func WithMode(mode Mode) Option {
	return func(c *Config) error {
		m, efc, baseEf, rerank, maxAnnK, resultsCap, err := modePreset(mode)
		if err != nil {
			return err
		}
		c.M, c.EfConstruction, c.BaseEfSearch = m, efc, baseEf
		c.RerankMultiplier, c.MaxAnnK, c.ResultsCap = rerank, maxAnnK, resultsCap
		return nil
	}
}

// WithCapacity sets the maximum number of internal ids.
func WithCapacity(capacity int32) Option {
	return func(c *Config) error {
		if capacity <= 0 {
			return fmt.Errorf("annvdb: capacity must be positive")
		}
		c.Capacity = capacity
		return nil
	}
}

// WithSeed sets the HNSW level-generator seed.
func WithSeed(seed uint32) Option {
	return func(c *Config) error {
		c.Seed = seed
		return nil
	}
}

// WithDeletedRebuildThreshold sets the deleted/total ratio that triggers
// a non-compact rebuild after a delete.
func WithDeletedRebuildThreshold(ratio float64) Option {
	return func(c *Config) error {
		if ratio <= 0 || ratio > 1 {
			return fmt.Errorf("annvdb: deleted-rebuild threshold must be in (0,1]")
		}
		c.DeletedRebuildThreshold = ratio
		return nil
	}
}

// WithAutoRebuildOnLoad enables or disables rebuilding from the f32 store
// when the dump is absent or corrupt at open time.
func WithAutoRebuildOnLoad(enabled bool) Option {
	return func(c *Config) error {
		c.AutoRebuildOnLoad = enabled
		return nil
	}
}

// WithMetrics enables or disables Prometheus metrics collection.
func WithMetrics(enabled bool) Option {
	return func(c *Config) error {
		c.MetricsEnabled = enabled
		return nil
	}
}

// WithDevelopmentLogging switches the zap logger to development mode
// (console-encoded, debug level) instead of the production JSON encoder.
func WithDevelopmentLogging(enabled bool) Option {
	return func(c *Config) error {
		c.Development = enabled
		return nil
	}
}
