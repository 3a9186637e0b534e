// Package config provides configuration file support for rsyncer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jvs-project/rsyncer/pkg/errclass"
	"github.com/jvs-project/rsyncer/pkg/fsutil"
	"github.com/jvs-project/rsyncer/pkg/logging"
	"github.com/jvs-project/rsyncer/pkg/rsync"
	"github.com/jvs-project/rsyncer/pkg/webhook"
)

// EnvConfig names the environment variable that overrides the config path.
const EnvConfig = "RSYNCER_CONFIG"

// Config represents the rsyncer configuration.
type Config struct {
	Binary          string         `yaml:"binary,omitempty"`
	BaseFlags       []string       `yaml:"base_flags,omitempty"`
	DefaultExcludes []string       `yaml:"default_excludes,omitempty"`
	Progress        ProgressConfig `yaml:"progress"`
	LogArchiveDir   string         `yaml:"log_archive_dir,omitempty"`
	Logging         LoggingConfig  `yaml:"logging"`
	MetricsFile     string         `yaml:"metrics_file,omitempty"`
	HistoryFile     string         `yaml:"history_file,omitempty"`
	MaxParallel     int            `yaml:"max_parallel"`
	Webhooks        webhook.Config `yaml:"webhooks"`
	Jobs            []Job          `yaml:"jobs,omitempty"`
}

// ProgressConfig configures progress tracking.
type ProgressConfig struct {
	// Pattern replaces the version-selected grammar when set. It must
	// contain exactly one capture group holding the percentage.
	Pattern   string        `yaml:"pattern,omitempty"`
	TailBytes int64         `yaml:"tail_bytes,omitempty"`
	Interval  time.Duration `yaml:"interval,omitempty"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Binary: rsync.DefaultBinary,
		Progress: ProgressConfig{
			TailBytes: rsync.DefaultTailBytes,
			Interval:  500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		MaxParallel: 2,
		Webhooks:    *webhook.DefaultConfig(),
	}
}

// DefaultPath returns $RSYNCER_CONFIG, or config.yaml under the user's
// configuration directory.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvConfig); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "rsyncer", "config.yaml"), nil
}

// Load reads the configuration at path.
// Returns default config if file doesn't exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil // No config file is OK, use defaults
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errclass.ErrConfigInvalid.WithMessagef("parse %s: %v", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path atomically.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := fsutil.AtomicWrite(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks value ranges, the progress pattern and every job.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errclass.ErrConfigInvalid.WithMessagef("logging.level: %v", err)
	}
	switch logging.Format(c.Logging.Format) {
	case logging.FormatJSON, logging.FormatText, "":
	default:
		return errclass.ErrConfigInvalid.WithMessagef("logging.format: unknown format %q", c.Logging.Format)
	}
	if c.MaxParallel < 0 {
		return errclass.ErrConfigInvalid.WithMessage("max_parallel must not be negative")
	}
	if c.Progress.TailBytes < 0 {
		return errclass.ErrConfigInvalid.WithMessage("progress.tail_bytes must not be negative")
	}
	if c.Progress.Interval < 0 {
		return errclass.ErrConfigInvalid.WithMessage("progress.interval must not be negative")
	}
	if _, err := c.CustomGrammar(); err != nil {
		return err
	}
	for i, hook := range c.Webhooks.Hooks {
		if hook.URL == "" {
			return errclass.ErrConfigInvalid.WithMessagef("webhooks.hooks[%d]: url is required", i)
		}
	}

	seen := make(map[string]bool, len(c.Jobs))
	for _, job := range c.Jobs {
		if err := job.validate(); err != nil {
			return err
		}
		if seen[job.Name] {
			return errclass.ErrConfigInvalid.WithMessagef("job %q defined more than once", job.Name)
		}
		seen[job.Name] = true
		if err := c.Options(job).Validate(); err != nil {
			return errclass.ErrConfigInvalid.WithMessagef("job %q: %v", job.Name, err)
		}
	}
	return nil
}

// CustomGrammar returns the grammar built from progress.pattern, or nil
// when no pattern is configured.
func (c *Config) CustomGrammar() (*rsync.Grammar, error) {
	if c.Progress.Pattern == "" {
		return nil, nil
	}
	g, err := rsync.NewGrammar("custom", "", c.Progress.Pattern)
	if err != nil {
		return nil, errclass.ErrConfigInvalid.WithMessagef("progress.pattern: %v", err)
	}
	return g, nil
}

type keySpec struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

var keys = map[string]keySpec{
	"binary": {
		get: func(c *Config) string { return c.Binary },
		set: func(c *Config, v string) error { c.Binary = v; return nil },
	},
	"base_flags": {
		get: func(c *Config) string { return listString(c.BaseFlags) },
		set: func(c *Config, v string) (err error) { c.BaseFlags, err = parseList(v); return },
	},
	"default_excludes": {
		get: func(c *Config) string { return listString(c.DefaultExcludes) },
		set: func(c *Config, v string) (err error) { c.DefaultExcludes, err = parseList(v); return },
	},
	"progress.pattern": {
		get: func(c *Config) string { return c.Progress.Pattern },
		set: func(c *Config, v string) error { c.Progress.Pattern = v; return nil },
	},
	"progress.tail_bytes": {
		get: func(c *Config) string { return strconv.FormatInt(c.Progress.TailBytes, 10) },
		set: func(c *Config, v string) (err error) {
			c.Progress.TailBytes, err = strconv.ParseInt(v, 10, 64)
			return
		},
	},
	"progress.interval": {
		get: func(c *Config) string { return c.Progress.Interval.String() },
		set: func(c *Config, v string) (err error) { c.Progress.Interval, err = time.ParseDuration(v); return },
	},
	"log_archive_dir": {
		get: func(c *Config) string { return c.LogArchiveDir },
		set: func(c *Config, v string) error { c.LogArchiveDir = v; return nil },
	},
	"logging.level": {
		get: func(c *Config) string { return c.Logging.Level },
		set: func(c *Config, v string) error { c.Logging.Level = v; return nil },
	},
	"logging.format": {
		get: func(c *Config) string { return c.Logging.Format },
		set: func(c *Config, v string) error { c.Logging.Format = v; return nil },
	},
	"metrics_file": {
		get: func(c *Config) string { return c.MetricsFile },
		set: func(c *Config, v string) error { c.MetricsFile = v; return nil },
	},
	"history_file": {
		get: func(c *Config) string { return c.HistoryFile },
		set: func(c *Config, v string) error { c.HistoryFile = v; return nil },
	},
	"max_parallel": {
		get: func(c *Config) string { return strconv.Itoa(c.MaxParallel) },
		set: func(c *Config, v string) (err error) { c.MaxParallel, err = strconv.Atoi(v); return },
	},
	"webhooks.enabled": {
		get: func(c *Config) string { return strconv.FormatBool(c.Webhooks.Enabled) },
		set: func(c *Config, v string) (err error) { c.Webhooks.Enabled, err = strconv.ParseBool(v); return },
	},
}

// Keys returns the settable keys in sorted order.
func Keys() []string {
	out := make([]string, 0, len(keys))
	for k := range keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns the value of key rendered as a string. Lists render as JSON
// arrays.
func (c *Config) Get(key string) (string, error) {
	spec, ok := keys[key]
	if !ok {
		return "", errclass.ErrConfigInvalid.WithMessagef("unknown key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	return spec.get(c), nil
}

// Set parses value into key and validates the result. On error the
// config is left unchanged.
func (c *Config) Set(key, value string) error {
	spec, ok := keys[key]
	if !ok {
		return errclass.ErrConfigInvalid.WithMessagef("unknown key %q (valid: %s)", key, strings.Join(Keys(), ", "))
	}
	next := *c
	if err := spec.set(&next, value); err != nil {
		return errclass.ErrConfigInvalid.WithMessagef("%s: %v", key, err)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

func listString(v []string) string {
	if v == nil {
		v = []string{}
	}
	data, _ := json.Marshal(v)
	return string(data)
}

// parseList accepts a YAML/JSON flow sequence or a comma-separated list.
func parseList(v string) ([]string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if strings.HasPrefix(v, "[") {
		var out []string
		if err := yaml.Unmarshal([]byte(v), &out); err != nil {
			return nil, fmt.Errorf("parse list: %w", err)
		}
		return out, nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
