package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/rsyncer/pkg/errclass"
	"github.com/jvs-project/rsyncer/pkg/rsync"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "rsync", cfg.Binary)
	assert.Nil(t, cfg.BaseFlags)
	assert.Equal(t, int64(rsync.DefaultTailBytes), cfg.Progress.TailBytes)
	assert.Equal(t, 500*time.Millisecond, cfg.Progress.Interval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.MaxParallel)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultPath_Env(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/rsyncer.yaml")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/rsyncer.yaml", path)
}

func TestDefaultPath_UserConfigDir(t *testing.T) {
	t.Setenv(EnvConfig, "")
	t.Setenv("XDG_CONFIG_HOME", "/home/test/.config")
	t.Setenv("HOME", "/home/test")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", filepath.Base(path))
	assert.Equal(t, "rsyncer", filepath.Base(filepath.Dir(path)))
}

func TestLoad_NotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Exists(t *testing.T) {
	path := writeConfig(t, `
binary: /usr/local/bin/rsync
base_flags: ["-a", "-z"]
default_excludes:
  - .cache
progress:
  interval: 2s
  pattern: 'progress=(\d+)'
logging:
  level: debug
  format: json
max_parallel: 4
webhooks:
  enabled: true
  max_retries: 1
  retry_delay: 100ms
  hooks:
    - url: https://hooks.example.com/sync
      events: [sync.failed]
      enabled: true
jobs:
  - name: photos
    source: /home/me/photos/
    dest: /backups/photos-{date}
    dest_ssh: backup@nas
    excludes: ["*.tmp"]
    flags: ["--delete"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/rsync", cfg.Binary)
	assert.Equal(t, []string{"-a", "-z"}, cfg.BaseFlags)
	assert.Equal(t, 2*time.Second, cfg.Progress.Interval)
	assert.Equal(t, int64(rsync.DefaultTailBytes), cfg.Progress.TailBytes, "unset keys keep defaults")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, 100*time.Millisecond, cfg.Webhooks.RetryDelay)
	require.Len(t, cfg.Webhooks.Hooks, 1)
	assert.Equal(t, "https://hooks.example.com/sync", cfg.Webhooks.Hooks[0].URL)

	job, err := cfg.Job("photos")
	require.NoError(t, err)
	assert.Equal(t, "backup@nas", job.DestSSH)
	assert.Equal(t, []string{"--delete"}, job.Flags)

	g, err := cfg.CustomGrammar()
	require.NoError(t, err)
	require.NotNil(t, g)
	pct, ok := g.Parse([]byte("progress=12\n"))
	assert.True(t, ok)
	assert.Equal(t, 12, pct)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "jobs: [unclosed\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad level", "logging:\n  level: loud\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"negative parallel", "max_parallel: -1\n"},
		{"bad pattern", "progress:\n  pattern: '[0-9]+%'\n"},
		{"hook without url", "webhooks:\n  hooks:\n    - events: ['*']\n"},
		{"bad job name", "jobs:\n  - name: 'my job'\n    source: /a\n    dest: /b\n"},
		{"job without dest", "jobs:\n  - name: a\n    source: /a\n"},
		{"duplicate job", "jobs:\n  - {name: a, source: /a, dest: /b}\n  - {name: a, source: /c, dest: /d}\n"},
		{"both remote", "jobs:\n  - {name: a, source: /a, dest: /b, source_ssh: u@h, dest_ssh: u@g}\n"},
		{"bad remote", "jobs:\n  - {name: a, source: /a, dest: /b, dest_ssh: 'u@h:22'}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.DefaultExcludes = []string{".git"}
	cfg.Jobs = []Job{{Name: "docs", Source: "/docs/", Dest: "/mnt/docs", Excludes: []string{"*.swp"}}}

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_Job(t *testing.T) {
	cfg := Default()
	cfg.Jobs = []Job{{Name: "a", Source: "/a", Dest: "/b"}, {Name: "b", Source: "/c", Dest: "/d"}}

	j, err := cfg.Job("b")
	require.NoError(t, err)
	assert.Equal(t, "/c", j.Source)
	assert.Equal(t, []string{"a", "b"}, cfg.JobNames())

	_, err = cfg.Job("missing")
	assert.ErrorIs(t, err, errclass.ErrJobNotFound)
}

func TestConfig_Options(t *testing.T) {
	cfg := Default()
	cfg.Binary = "/opt/rsync"
	cfg.DefaultExcludes = []string{".cache"}
	job := Job{
		Name:     "photos",
		Source:   "/p/",
		Dest:     "/b/",
		DestSSH:  "me@nas",
		Includes: []string{"*.jpg"},
		Excludes: []string{"*.tmp"},
		Flags:    []string{"--delete"},
	}

	opts := cfg.Options(job)
	assert.Equal(t, "/opt/rsync", opts.Binary)
	assert.Equal(t, []string{".cache", "*.tmp"}, opts.Excludes)
	assert.Equal(t, []string{"*.jpg"}, opts.Includes)
	assert.Equal(t, []string{"--delete"}, opts.ExtraFlags)
	assert.Nil(t, opts.BaseFlags)

	args, err := rsync.BuildArgs(opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"-a", "--include=*.jpg", "--exclude=.cache", "--exclude=*.tmp", "--delete", "/p/", "me@nas:/b/"}, args)

	// the merged slice must not alias the config
	opts.Excludes[0] = "changed"
	assert.Equal(t, ".cache", cfg.DefaultExcludes[0])
}

func TestConfig_OptionsNoExcludes(t *testing.T) {
	opts := Default().Options(Job{Name: "a", Source: "/a", Dest: "/b"})
	assert.Nil(t, opts.Excludes)
}

func TestConfig_CustomGrammarUnset(t *testing.T) {
	g, err := Default().CustomGrammar()
	assert.NoError(t, err)
	assert.Nil(t, g)
}

func TestConfig_Set(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("binary", "/usr/bin/rsync"))
	assert.Equal(t, "/usr/bin/rsync", cfg.Binary)

	require.NoError(t, cfg.Set("base_flags", `["-a", "-H"]`))
	assert.Equal(t, []string{"-a", "-H"}, cfg.BaseFlags)

	require.NoError(t, cfg.Set("default_excludes", ".git, node_modules"))
	assert.Equal(t, []string{".git", "node_modules"}, cfg.DefaultExcludes)

	require.NoError(t, cfg.Set("progress.interval", "1s"))
	assert.Equal(t, time.Second, cfg.Progress.Interval)

	require.NoError(t, cfg.Set("progress.tail_bytes", "4096"))
	assert.Equal(t, int64(4096), cfg.Progress.TailBytes)

	require.NoError(t, cfg.Set("max_parallel", "8"))
	assert.Equal(t, 8, cfg.MaxParallel)

	require.NoError(t, cfg.Set("webhooks.enabled", "false"))
	assert.False(t, cfg.Webhooks.Enabled)

	require.NoError(t, cfg.Set("logging.format", "json"))
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestConfig_SetInvalid(t *testing.T) {
	cfg := Default()

	assert.ErrorIs(t, cfg.Set("invalid_key", "value"), errclass.ErrConfigInvalid)
	assert.ErrorIs(t, cfg.Set("max_parallel", "many"), errclass.ErrConfigInvalid)
	assert.ErrorIs(t, cfg.Set("max_parallel", "-2"), errclass.ErrConfigInvalid)
	assert.ErrorIs(t, cfg.Set("progress.pattern", "no-group"), errclass.ErrConfigInvalid)
	assert.ErrorIs(t, cfg.Set("logging.level", "chatty"), errclass.ErrConfigInvalid)

	assert.Equal(t, Default(), cfg, "failed sets leave the config unchanged")
}

func TestConfig_Get(t *testing.T) {
	cfg := Default()
	cfg.BaseFlags = []string{"-a", "-z"}

	tests := map[string]string{
		"binary":            "rsync",
		"base_flags":        `["-a","-z"]`,
		"default_excludes":  "[]",
		"progress.interval": "500ms",
		"max_parallel":      "2",
		"logging.level":     "info",
		"webhooks.enabled":  "true",
	}
	for key, want := range tests {
		got, err := cfg.Get(key)
		require.NoError(t, err, key)
		assert.Equal(t, want, got, key)
	}

	_, err := cfg.Get("invalid_key")
	assert.ErrorIs(t, err, errclass.ErrConfigInvalid)
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "binary")
	assert.Contains(t, keys, "progress.pattern")
	assert.Contains(t, keys, "metrics_file")
	assert.Contains(t, keys, "history_file")
	assert.IsIncreasing(t, keys)

	cfg := Default()
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}
