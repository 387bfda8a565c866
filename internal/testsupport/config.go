package testsupport

import (
	"path/filepath"
	"testing"

	"github.com/RTIInternational/SMART-sub000/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithProjectDefaults overrides the seeded project defaults.
func WithProjectDefaults(batchSize, irrPercent, raterCount int, ordering string) ConfigOption {
	return func(c *config.Config) {
		c.ProjectDefaults.BatchSize = batchSize
		c.ProjectDefaults.IRRPercent = irrPercent
		c.ProjectDefaults.RaterCount = raterCount
		c.ProjectDefaults.Ordering = ordering
	}
}

// WithoutClassifier clears the default classifier so projects created from
// the config never train.
func WithoutClassifier() ConfigOption {
	return func(c *config.Config) {
		c.ProjectDefaults.Classifier = ""
	}
}

// WithLeaseTimeout overrides the admin lease timeout.
func WithLeaseTimeout(seconds int) ConfigOption {
	return func(c *config.Config) {
		c.Lease.TimeoutSeconds = seconds
	}
}
