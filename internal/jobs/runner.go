// Package jobs runs configured sync jobs and reports their outcome to the
// metrics, webhook and history sinks.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jvs-project/rsyncer/internal/history"
	"github.com/jvs-project/rsyncer/pkg/config"
	"github.com/jvs-project/rsyncer/pkg/logging"
	"github.com/jvs-project/rsyncer/pkg/metrics"
	"github.com/jvs-project/rsyncer/pkg/progress"
	"github.com/jvs-project/rsyncer/pkg/rsync"
	"github.com/jvs-project/rsyncer/pkg/template"
	"github.com/jvs-project/rsyncer/pkg/webhook"
)

// Notifier receives lifecycle events. *webhook.Client satisfies it.
type Notifier interface {
	Notify(event webhook.Event)
}

// Result describes one finished job.
type Result struct {
	Job       string        `json:"job"`
	SessionID string        `json:"session_id,omitempty"`
	Command   string        `json:"command,omitempty"`
	ExitCode  int           `json:"exit_code"`
	Progress  int           `json:"progress"`
	Duration  time.Duration `json:"duration"`
	Killed    bool          `json:"killed,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// OK reports whether rsync ran and exited with code zero.
func (r Result) OK() bool {
	return r.Error == "" && r.ExitCode == 0 && !r.Killed
}

// Runner executes jobs. Only Config is required; nil sinks are skipped.
type Runner struct {
	Config   *config.Config
	Logger   *logging.Logger
	Notifier Notifier
	Metrics  *metrics.Registry
	History  *history.Log

	// Version, when known, selects the progress grammar. A configured
	// progress.pattern always wins.
	Version *semver.Version
	// TempDir holds session logs; os.TempDir() when empty.
	TempDir string
	// Now is used for path placeholders; time.Now when nil.
	Now func() time.Time

	metricsMu sync.Mutex
}

func (r *Runner) logger() *logging.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return logging.Global()
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Expand resolves path placeholders in job against the runner's clock.
func (r *Runner) Expand(job config.Job) config.Job {
	now := r.now()
	vars := map[string]string{"job": job.Name}
	job.Source = template.ExpandAt(job.Source, now, vars)
	job.Dest = template.ExpandAt(job.Dest, now, vars)
	job.KeepLog = template.ExpandAt(job.KeepLog, now, vars)
	return job
}

func (r *Runner) grammar() (*rsync.Grammar, error) {
	g, err := r.Config.CustomGrammar()
	if err != nil || g != nil {
		return g, err
	}
	return rsync.GrammarFor(r.Version), nil
}

func (r *Runner) sessionOptions(job config.Job, log *logging.Logger) ([]rsync.SessionOption, error) {
	g, err := r.grammar()
	if err != nil {
		return nil, err
	}
	opts := []rsync.SessionOption{
		rsync.WithGrammar(g),
		rsync.WithTailBytes(r.Config.Progress.TailBytes),
		rsync.WithLogger(log),
	}
	if r.TempDir != "" {
		opts = append(opts, rsync.WithTempDir(r.TempDir))
	}
	if job.KeepLog != "" {
		opts = append(opts, rsync.WithKeepLog(job.KeepLog))
	}
	if r.Config.LogArchiveDir != "" {
		opts = append(opts, rsync.WithArchiveDir(r.Config.LogArchiveDir))
	}
	return opts, nil
}

// Run executes job and blocks until rsync exits. Progress is polled at
// progress.interval and passed to onProgress as (job, pct, 100, "").
// Cancelling ctx terminates rsync. A non-zero exit is reported as
// E_NONZERO_EXIT alongside the populated Result.
func (r *Runner) Run(ctx context.Context, job config.Job, onProgress progress.Callback) (Result, error) {
	if onProgress == nil {
		onProgress = progress.Noop
	}
	job = r.Expand(job)
	log := r.logger().WithFields(map[string]any{"job": job.Name})
	res := Result{Job: job.Name, ExitCode: -1}
	start := time.Now()

	fail := func(err error) (Result, error) {
		res.Duration = time.Since(start)
		res.Error = err.Error()
		r.Metrics.RecordError(job.Name)
		r.notify(webhook.EventSyncFailed, res)
		r.record(res, history.ResultError, log)
		r.flushMetrics(log)
		return res, fmt.Errorf("job %s: %w", job.Name, err)
	}

	sopts, err := r.sessionOptions(job, log)
	if err != nil {
		return fail(err)
	}
	s, err := rsync.NewSession(r.Config.Options(job), sopts...)
	if err != nil {
		return fail(err)
	}
	defer s.Close()
	res.SessionID = s.ID()
	res.Command = s.Command()

	if err := s.Run(); err != nil {
		return fail(err)
	}
	r.notify(webhook.EventSyncStart, res)

	res.Progress, res.Killed = r.poll(ctx, s, job.Name, onProgress)
	res.ExitCode, _ = s.ExitCode()
	res.Duration = time.Since(start)

	var runErr error
	outcome := history.ResultSuccess
	if res.Killed {
		outcome = history.ResultKilled
		runErr = fmt.Errorf("job %s: %w", job.Name, ctx.Err())
	} else if err := rsync.CheckExit(res.ExitCode); err != nil {
		outcome = history.ResultFailure
		runErr = fmt.Errorf("job %s: %w", job.Name, err)
	}
	if runErr != nil {
		res.Error = runErr.Error()
		r.notify(webhook.EventSyncFailed, res)
	} else {
		r.notify(webhook.EventSyncComplete, res)
	}
	r.Metrics.RecordSync(job.Name, res.ExitCode, res.Duration)
	r.record(res, outcome, log)
	r.flushMetrics(log)
	return res, runErr
}

// poll reports progress until rsync exits. If ctx ends first rsync is
// terminated; killed is true only when the signal reached a live process.
func (r *Runner) poll(ctx context.Context, s *rsync.Session, name string, onProgress progress.Callback) (last int, killed bool) {
	interval := r.Config.Progress.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last = -1
	report := func() {
		pct, ok, err := s.Progress()
		if err != nil || !ok || pct == last {
			return
		}
		last = pct
		onProgress(name, pct, 100, "")
	}

	for {
		select {
		case <-s.Done():
			report()
			return max(last, 0), false
		case <-ctx.Done():
			report()
			s.Exit()
			<-s.Done()
			return max(last, 0), s.State() == rsync.StateKilled
		case <-ticker.C:
			report()
		}
	}
}

// RunAll runs jobs with at most max_parallel sessions at a time. Every job
// runs to completion regardless of the others; the first error is returned
// after all have finished. Results are in input order.
func (r *Runner) RunAll(ctx context.Context, jobs []config.Job, onProgress progress.Callback) ([]Result, error) {
	results := make([]Result, len(jobs))

	var g errgroup.Group
	if n := r.Config.MaxParallel; n > 0 {
		g.SetLimit(n)
	}
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := r.Run(ctx, job, onProgress)
			results[i] = res
			return err
		})
	}
	return results, g.Wait()
}

func (r *Runner) notify(event webhook.EventType, res Result) {
	if r.Notifier == nil {
		return
	}
	ev := webhook.Event{
		Event:     event,
		Job:       res.Job,
		SessionID: res.SessionID,
		Command:   res.Command,
		Error:     res.Error,
	}
	if event != webhook.EventSyncStart {
		code := res.ExitCode
		ev.ExitCode = &code
		ev.Duration = res.Duration.Round(time.Millisecond).String()
	}
	r.Notifier.Notify(ev)
}

func (r *Runner) record(res Result, result string, log *logging.Logger) {
	if r.History == nil {
		return
	}
	_, err := r.History.Append(history.Record{
		Job:        res.Job,
		SessionID:  res.SessionID,
		Command:    res.Command,
		Result:     result,
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
		Error:      res.Error,
	})
	if err != nil {
		log.ErrorErr("append history", err, map[string]any{"path": r.History.Path()})
	}
}

func (r *Runner) flushMetrics(log *logging.Logger) {
	if r.Metrics == nil || r.Config.MetricsFile == "" {
		return
	}
	r.metricsMu.Lock()
	defer r.metricsMu.Unlock()
	if err := r.Metrics.WriteTextfile(r.Config.MetricsFile); err != nil {
		log.ErrorErr("write metrics", err, map[string]any{"path": r.Config.MetricsFile})
	}
}

// Select returns the named jobs, or every job when names is empty.
func Select(cfg *config.Config, names []string) ([]config.Job, error) {
	if len(names) == 0 {
		return append([]config.Job(nil), cfg.Jobs...), nil
	}
	var errs []error
	jobs := make([]config.Job, 0, len(names))
	for _, name := range names {
		j, err := cfg.Job(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, errors.Join(errs...)
}
