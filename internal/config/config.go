package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Lease contains configuration for admin lease handling.
type Lease struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// ProjectDefaults seeds configuration for newly created projects. Existing
// projects keep whatever the project-management collaborator stored.
type ProjectDefaults struct {
	BatchSize  int    `toml:"batch_size"`
	IRRPercent int    `toml:"irr_percent"`
	RaterCount int    `toml:"rater_count"`
	Ordering   string `toml:"ordering"`
	Classifier string `toml:"classifier"`
}

// Config is the root application configuration.
type Config struct {
	Paths           Paths           `toml:"paths"`
	Logging         Logging         `toml:"logging"`
	Lease           Lease           `toml:"lease"`
	ProjectDefaults ProjectDefaults `toml:"project_defaults"`
}

// DefaultConfigPath returns the location probed when no explicit path is given.
func DefaultConfigPath() string {
	return "~/.config/smart/config.toml"
}

// Load reads configuration from path, falling back to the default location
// and then to built-in defaults when no file exists. It returns the resolved
// path of the file that was read (empty when defaults were used).
func Load(path string) (*Config, string, error) {
	cfg := Default()

	probe := strings.TrimSpace(path)
	explicit := probe != ""
	if !explicit {
		probe = DefaultConfigPath()
	}

	resolved, err := ExpandPath(probe)
	if err != nil {
		return nil, "", fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		if explicit {
			return nil, "", fmt.Errorf("config file %s does not exist", resolved)
		}
		resolved = ""
	default:
		return nil, "", fmt.Errorf("read config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return &cfg, resolved, nil
}

// Validate checks the configuration for values the scheduler cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		problems = append(problems, "paths.data_dir: must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir: must not be empty")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unsupported value %q", c.Logging.Format))
	}
	if c.Lease.TimeoutSeconds <= 0 {
		problems = append(problems, "lease.timeout_seconds: must be positive")
	}
	if c.ProjectDefaults.BatchSize <= 0 {
		problems = append(problems, "project_defaults.batch_size: must be positive")
	}
	if c.ProjectDefaults.IRRPercent < 0 || c.ProjectDefaults.IRRPercent > 100 {
		problems = append(problems, "project_defaults.irr_percent: must be between 0 and 100")
	}
	if c.ProjectDefaults.RaterCount < 2 {
		problems = append(problems, "project_defaults.rater_count: must be at least 2")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// EnsureDirectories creates the configured data and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the durable SQLite database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "smart.db")
}

// RebuildLockPath returns the flock file that serializes cache rebuilds.
func (c *Config) RebuildLockPath() string {
	return filepath.Join(c.Paths.DataDir, "rebuild.lock")
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = ExpandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.ProjectDefaults.Ordering = strings.ToLower(strings.TrimSpace(c.ProjectDefaults.Ordering))
	return nil
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return filepath.Clean(trimmed), nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	resolved, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config file %s already exists", resolved)
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(resolved, []byte(sampleConfig), 0o644)
}
