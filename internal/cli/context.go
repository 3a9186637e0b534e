package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/jvs-project/rsyncer/internal/history"
	"github.com/jvs-project/rsyncer/internal/jobs"
	"github.com/jvs-project/rsyncer/pkg/color"
	"github.com/jvs-project/rsyncer/pkg/config"
	"github.com/jvs-project/rsyncer/pkg/logging"
	"github.com/jvs-project/rsyncer/pkg/metrics"
	"github.com/jvs-project/rsyncer/pkg/rsync"
	"github.com/jvs-project/rsyncer/pkg/webhook"
)

// configPath returns --config, or the default location.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return config.DefaultPath()
}

// loadConfig reads the config file and installs the global logger it
// describes.
func loadConfig() (*config.Config, string, error) {
	path, err := configPath()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	if err := setupLogging(cfg); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func setupLogging(cfg *config.Config) error {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return err
	}
	l := logging.NewLogger(lvl)
	l.SetFormat(logging.Format(cfg.Logging.Format))
	logging.SetGlobal(l)
	return nil
}

// historyPath returns history_file, or history.jsonl next to the config.
func historyPath(cfg *config.Config, cfgPath string) string {
	if cfg.HistoryFile != "" {
		return cfg.HistoryFile
	}
	return filepath.Join(filepath.Dir(cfgPath), "history.jsonl")
}

// detectVersion asks the configured binary for its version. Failure is not
// fatal: the newest grammar is used instead.
func detectVersion(cfg *config.Config) *semver.Version {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := rsync.DetectVersion(ctx, cfg.Binary)
	if err != nil {
		logging.Debug("rsync version unknown", map[string]any{"error": err.Error()})
		return nil
	}
	return v
}

// newRunner wires the job runner to the sinks named in cfg. The returned
// func flushes pending webhooks and must be called before exit.
func newRunner(cfg *config.Config, cfgPath string) (*jobs.Runner, func()) {
	r := &jobs.Runner{
		Config:  cfg,
		Logger:  logging.Global(),
		Metrics: metrics.Default(),
		History: history.NewLog(historyPath(cfg, cfgPath)),
		Version: detectVersion(cfg),
	}
	if !cfg.Webhooks.Enabled || len(cfg.Webhooks.Hooks) == 0 {
		return r, func() {}
	}
	client := webhook.NewClient(&cfg.Webhooks, logging.Global())
	r.Notifier = client
	return r, func() {
		if err := client.Close(); err != nil {
			logging.ErrorErr("close webhook client", err)
		}
	}
}

// progressFlag returns the flag that makes rsync report overall progress.
// --info=progress2 arrived in 3.1.0.
func progressFlag(v *semver.Version) string {
	if v != nil && v.LessThan(semver.MustParse("3.1.0")) {
		return "--progress"
	}
	return "--info=progress2"
}

// logProgress reports progress updates at debug level.
func logProgress(op string, current, total int, message string) {
	logging.Debug("progress", map[string]any{"job": op, "percent": current})
}

// signalContext is cancelled on SIGINT or SIGTERM so a running transfer is
// terminated instead of orphaned.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fmtErr(format string, args ...any) {
	// Colorize the error prefix
	prefix := "rsyncer: "
	if color.Enabled() {
		prefix = color.Error("rsyncer:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
