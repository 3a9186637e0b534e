package rsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"github.com/jvs-project/rsyncer/pkg/errclass"
	"github.com/jvs-project/rsyncer/pkg/fsutil"
	"github.com/jvs-project/rsyncer/pkg/logging"
)

// DefaultTailBytes bounds how much of the log Progress reads per call.
const DefaultTailBytes = 8 << 10

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFinished
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateKilled:
		return "killed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether the child is gone or was told to go.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateKilled
}

type sessionConfig struct {
	grammar    *Grammar
	tailBytes  int64
	logger     *logging.Logger
	tempDir    string
	keepLog    string
	archiveDir string
}

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

// WithGrammar selects the progress grammar. Defaults to DefaultGrammar.
func WithGrammar(g *Grammar) SessionOption {
	return func(c *sessionConfig) {
		if g != nil {
			c.grammar = g
		}
	}
}

// WithTailBytes sets how many trailing bytes of the log Progress inspects.
func WithTailBytes(n int64) SessionOption {
	return func(c *sessionConfig) {
		if n > 0 {
			c.tailBytes = n
		}
	}
}

// WithLogger sets the logger; the global logger is used otherwise.
func WithLogger(l *logging.Logger) SessionOption {
	return func(c *sessionConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTempDir places the session log under dir instead of os.TempDir().
func WithTempDir(dir string) SessionOption {
	return func(c *sessionConfig) {
		c.tempDir = dir
	}
}

// WithKeepLog writes rsync output to path and leaves it in place on Close.
func WithKeepLog(path string) SessionOption {
	return func(c *sessionConfig) {
		c.keepLog = path
	}
}

// WithArchiveDir compresses the log into dir as <session-id>.log.zst on Close.
func WithArchiveDir(dir string) SessionOption {
	return func(c *sessionConfig) {
		c.archiveDir = dir
	}
}

// Session supervises one rsync process. It owns its log file exclusively
// and is meant to be driven from a single goroutine; distinct sessions are
// independent.
type Session struct {
	opts    Options
	args    []string
	cfg     sessionConfig
	id      string
	logPath string
	log     *logging.Logger
	done    chan struct{}

	mu       sync.Mutex
	state    State
	closed   bool
	logFile  *os.File
	cmd      *exec.Cmd
	exitCode int
}

// NewSession validates opts and allocates the session log file.
func NewSession(opts Options, options ...SessionOption) (*Session, error) {
	args, err := BuildArgs(opts)
	if err != nil {
		return nil, err
	}
	opts = cloneOptions(opts)

	cfg := sessionConfig{
		grammar:   DefaultGrammar,
		tailBytes: DefaultTailBytes,
		logger:    logging.Global(),
	}
	for _, o := range options {
		o(&cfg)
	}

	s := &Session{
		opts:     opts,
		args:     args,
		cfg:      cfg,
		id:       uuid.NewString(),
		done:     make(chan struct{}),
		exitCode: -1,
	}
	s.log = cfg.logger.WithFields(map[string]any{"session": s.id})

	var f *os.File
	if cfg.keepLog != "" {
		f, err = os.OpenFile(cfg.keepLog, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	} else {
		f, err = os.CreateTemp(cfg.tempDir, "rsyncer-"+s.id+"-*.log")
	}
	if err != nil {
		return nil, fmt.Errorf("create session log: %w", err)
	}
	s.logFile = f
	s.logPath = f.Name()

	s.log.Debug("session created", map[string]any{"log": s.logPath, "command": s.Command()})
	return s, nil
}

func cloneOptions(o Options) Options {
	clone := func(in []string) []string {
		if in == nil {
			return nil
		}
		return append([]string{}, in...)
	}
	o.Includes = clone(o.Includes)
	o.Excludes = clone(o.Excludes)
	o.ExtraFlags = clone(o.ExtraFlags)
	o.BaseFlags = clone(o.BaseFlags)
	return o
}

// Run starts rsync and returns without waiting for it. stdout and stderr
// both go to the session log. A single attempt is made.
func (s *Session) Run() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errclass.ErrSessionClosed.WithMessage("run after close")
	}
	if s.state != StateIdle {
		return errclass.ErrAlreadyStarted.WithMessagef("session is %s", s.state)
	}

	binary := s.opts.binary()
	path, err := exec.LookPath(binary)
	if err != nil {
		return errclass.ErrSpawnFailed.WithMessagef("locate %s: %v", binary, err)
	}

	cmd := exec.Command(path, s.args...)
	cmd.Stdout = s.logFile
	cmd.Stderr = s.logFile
	setProcessGroup(cmd)

	if !hasProgressFlag(s.args) {
		s.log.Debug("no progress flag given, Progress will not report data")
	}

	if err := cmd.Start(); err != nil {
		return errclass.ErrSpawnFailed.WithMessagef("start %s: %v", binary, err)
	}
	s.cmd = cmd
	s.state = StateRunning
	s.log.Info("rsync started", map[string]any{"pid": cmd.Process.Pid, "command": s.Command()})

	go s.wait(cmd)
	return nil
}

// wait reaps the child; it is the only place that observes process exit.
func (s *Session) wait(cmd *exec.Cmd) {
	err := cmd.Wait()
	code := exitCode(err)

	s.mu.Lock()
	s.exitCode = code
	if s.state == StateRunning {
		s.state = StateFinished
	}
	state := s.state
	s.mu.Unlock()

	fields := map[string]any{"exit_code": code, "state": state.String()}
	if code == 0 {
		s.log.Info("rsync finished", fields)
	} else {
		s.log.Warn("rsync finished with non-zero status", fields)
	}
	close(s.done)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Wait blocks until rsync exits or ctx is done and returns the raw exit
// code. A non-zero code is not an error here; a process ended by a signal
// reports -1. Cancelling ctx stops waiting but leaves rsync running.
func (s *Session) Wait(ctx context.Context) (int, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StateIdle {
		return -1, errclass.ErrNotStarted.WithMessage("wait before run")
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return -1, fmt.Errorf("wait for rsync: %w", ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, nil
}

// RunAndWait starts rsync and blocks until it exits.
func (s *Session) RunAndWait(ctx context.Context) (int, error) {
	if err := s.Run(); err != nil {
		return -1, err
	}
	return s.Wait(ctx)
}

// Progress re-reads the tail of the session log and returns the most recent
// percentage rsync printed. ok is false when no progress line has appeared
// yet, including before Run.
func (s *Session) Progress() (pct int, ok bool, err error) {
	s.mu.Lock()
	closed, state := s.closed, s.state
	s.mu.Unlock()

	if closed {
		return 0, false, errclass.ErrSessionClosed.WithMessage("progress after close")
	}
	if state == StateIdle {
		return 0, false, nil
	}

	tail, err := readTail(s.logPath, s.cfg.tailBytes)
	if err != nil {
		return 0, false, errclass.ErrSessionClosed.WithMessagef("read session log: %v", err)
	}
	pct, ok = s.cfg.grammar.Parse(tail)
	return pct, ok, nil
}

func readTail(path string, n int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := max(info.Size()-n, 0)
	buf := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}

// Command returns the command line as a shell-quoted string.
func (s *Session) Command() string {
	return formatCommand(s.opts.binary(), s.args)
}

// Args returns a copy of the argument vector, without the binary.
func (s *Session) Args() []string {
	return append([]string{}, s.args...)
}

// Options returns the options the session was built from.
func (s *Session) Options() Options {
	return cloneOptions(s.opts)
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// LogPath returns the path of the file receiving rsync output.
func (s *Session) LogPath() string { return s.logPath }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the rsync process has exited. It never closes for a
// session that was not run.
func (s *Session) Done() <-chan struct{} { return s.done }

// IsDone reports whether the rsync process has exited.
func (s *Session) IsDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code once the process has been reaped.
func (s *Session) ExitCode() (int, bool) {
	if !s.IsDone() {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, true
}

// Close releases the session log. A running rsync is left alone. Close is
// idempotent and never fails; problems are logged.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true

	if err := s.logFile.Close(); err != nil {
		s.log.Debug("close session log", map[string]any{"error": err.Error()})
	}
	if s.cfg.archiveDir != "" {
		dst, err := archiveLog(s.logPath, s.cfg.archiveDir, s.id)
		if err != nil {
			s.log.ErrorErr("archive session log", err, map[string]any{"dir": s.cfg.archiveDir})
		} else {
			s.log.Info("session log archived", map[string]any{"archive": dst})
		}
	}
	if s.cfg.keepLog != "" {
		return
	}
	if err := fsutil.RemoveIfExists(s.logPath); err != nil {
		s.log.ErrorErr("remove session log", err, map[string]any{"log": s.logPath})
	}
}

// Exit asks a running rsync to terminate and closes the session. The
// signal goes to rsync's process group so its ssh transport stops too.
// Termination is requested, not awaited; use Done to observe it.
func (s *Session) Exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitLocked()
}

func (s *Session) exitLocked() {
	switch s.state {
	case StateIdle:
		s.log.Debug("exit before run, nothing to terminate")
	case StateRunning:
		pid := s.cmd.Process.Pid
		err := terminate(s.cmd.Process)
		switch {
		case err == nil:
			s.log.Info("rsync terminated", map[string]any{"pid": pid})
			s.state = StateKilled
		case errors.Is(err, os.ErrProcessDone):
			// Exited but not yet reaped; wait records it as finished.
			s.log.Debug("rsync already exited", map[string]any{"pid": pid})
		default:
			s.log.Warn("terminate rsync", map[string]any{"error": err.Error(), "pid": pid})
		}
	default:
		s.log.Debug("rsync already exited", map[string]any{"state": s.state.String()})
	}
	s.closeLocked()
}
