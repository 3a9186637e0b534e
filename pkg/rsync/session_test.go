//go:build unix

package rsync

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jvs-project/rsyncer/pkg/errclass"
	"github.com/jvs-project/rsyncer/pkg/logging"
)

// fakeRsync writes an executable shell script standing in for rsync and
// returns its path.
func fakeRsync(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rsync")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testOptions(binary string) Options {
	return Options{Binary: binary, Source: "/a/file.txt", Dest: "/b/"}
}

func quietLogger() *logging.Logger {
	return logging.Discard()
}

func newTestSession(t *testing.T, opts Options, options ...SessionOption) *Session {
	t.Helper()
	options = append([]SessionOption{WithLogger(quietLogger()), WithTempDir(t.TempDir())}, options...)
	s, err := NewSession(opts, options...)
	require.NoError(t, err)
	t.Cleanup(s.Exit)
	return s
}

func TestSync_ExitZero(t *testing.T) {
	bin := fakeRsync(t, "exit 0")
	ok, err := Sync(context.Background(), testOptions(bin), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSync_ExitNonZero(t *testing.T) {
	bin := fakeRsync(t, `echo "rsync error: some files could not be transferred" >&2; exit 2`)
	ok, err := Sync(context.Background(), testOptions(bin), WithLogger(quietLogger()))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSync_SpawnError(t *testing.T) {
	opts := testOptions(filepath.Join(t.TempDir(), "no-such-rsync"))
	ok, err := Sync(context.Background(), opts, WithLogger(quietLogger()))
	assert.False(t, ok)
	assert.ErrorIs(t, err, errclass.ErrSpawnFailed)
}

func TestSync_InvalidOptions(t *testing.T) {
	opts := Options{Source: "/a", Dest: "/b", SourceSSH: "u@h", DestSSH: "u@g"}
	ok, err := Sync(context.Background(), opts)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errclass.ErrInvalidOptions)
}

func TestSync_RemovesLog(t *testing.T) {
	dir := t.TempDir()
	bin := fakeRsync(t, "echo done")
	ok, err := Sync(context.Background(), testOptions(bin), WithLogger(quietLogger()), WithTempDir(dir))
	require.NoError(t, err)
	assert.True(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSync_CancelTerminatesRsync(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "alive")
	bin := fakeRsync(t, "sleep 1; touch "+marker)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ok, err := Sync(ctx, testOptions(bin), WithLogger(quietLogger()))
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	time.Sleep(1500 * time.Millisecond)
	_, err = os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "rsync kept running after Sync returned")
}

func TestSession_PassesArgsAndCapturesOutput(t *testing.T) {
	bin := fakeRsync(t, `for a in "$@"; do echo "arg:$a"; done; echo "to stderr" >&2`)
	opts := testOptions(bin)
	opts.Excludes = []string{"*.tmp"}
	opts.SourceSSH = "user@host"
	s := newTestSession(t, opts)

	code, err := s.RunAndWait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	out, err := os.ReadFile(s.LogPath())
	require.NoError(t, err)
	assert.Equal(t,
		"arg:-a\narg:--exclude=*.tmp\narg:user@host:/a/file.txt\narg:/b/\nto stderr\n",
		string(out))
}

func TestSession_LifecycleStates(t *testing.T) {
	bin := fakeRsync(t, "exit 3")
	s := newTestSession(t, testOptions(bin))
	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.IsDone())
	_, ok := s.ExitCode()
	assert.False(t, ok)

	require.NoError(t, s.Run())
	code, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, StateFinished, s.State())
	assert.True(t, s.IsDone())

	got, ok := s.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, 3, got)
	assert.ErrorIs(t, CheckExit(got), errclass.ErrNonZeroExit)
}

func TestSession_RunTwice(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	require.NoError(t, s.Run())
	assert.ErrorIs(t, s.Run(), errclass.ErrAlreadyStarted)
}

func TestSession_RunAfterClose(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	s.Close()
	assert.ErrorIs(t, s.Run(), errclass.ErrSessionClosed)
}

func TestSession_WaitBeforeRun(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	_, err := s.Wait(context.Background())
	assert.ErrorIs(t, err, errclass.ErrNotStarted)
}

func TestSession_WaitHonoursContext(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exec sleep 30")))
	require.NoError(t, s.Run())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateRunning, s.State(), "cancelling a wait must not kill rsync")
}

func TestSession_SpawnError(t *testing.T) {
	s := newTestSession(t, testOptions(filepath.Join(t.TempDir(), "missing")))
	err := s.Run()
	assert.ErrorIs(t, err, errclass.ErrSpawnFailed)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_CloseRemovesLog(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	_, err := os.Stat(s.LogPath())
	require.NoError(t, err)

	s.Close()
	_, err = os.Stat(s.LogPath())
	assert.True(t, os.IsNotExist(err))

	// second close is a no-op
	assert.NotPanics(t, s.Close)
}

func TestSession_CloseWithLogAlreadyGone(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	require.NoError(t, os.Remove(s.LogPath()))
	assert.NotPanics(t, s.Close)
}

func TestSession_CloseLeavesProcessRunning(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exec sleep 30")))
	require.NoError(t, s.Run())

	s.Close()
	assert.Equal(t, StateRunning, s.State())
	assert.False(t, s.IsDone())
}

func TestSession_UniqueLogPaths(t *testing.T) {
	bin := fakeRsync(t, "exit 0")
	dir := t.TempDir()
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		s := newTestSession(t, testOptions(bin), WithTempDir(dir))
		assert.False(t, seen[s.LogPath()])
		seen[s.LogPath()] = true
		assert.Contains(t, filepath.Base(s.LogPath()), s.ID())
	}
}

func TestSession_ProgressBeforeOutput(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exec sleep 30")))

	pct, ok, err := s.Progress()
	require.NoError(t, err)
	assert.False(t, ok, "idle session has no progress")
	assert.Zero(t, pct)

	require.NoError(t, s.Run())
	pct, ok, err = s.Progress()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, pct)
}

func TestSession_ProgressWhileRunning(t *testing.T) {
	bin := fakeRsync(t, `echo "sending incremental file list"
echo "big.iso"
printf '     32,768   0%%    0.00kB/s    0:00:00\r'
printf '527,826,944  37%%   50.33MB/s    0:00:09\r'
exec sleep 30`)
	opts := testOptions(bin)
	opts.ExtraFlags = []string{"--progress"}
	s := newTestSession(t, opts)
	require.NoError(t, s.Run())

	require.Eventually(t, func() bool {
		pct, ok, err := s.Progress()
		return err == nil && ok && pct == 37
	}, 5*time.Second, 20*time.Millisecond)

	s.Exit()
	assert.Equal(t, StateKilled, s.State())
}

func TestSession_ProgressAfterFinish(t *testing.T) {
	bin := fakeRsync(t, `printf '      1,238,099 100%%  146.38kB/s    0:00:08 (xfr#1, to-chk=0/1)\n'
echo ""
echo "sent 1,238,451 bytes  received 35 bytes  2,476,972.00 bytes/sec"`)
	s := newTestSession(t, testOptions(bin))
	code, err := s.RunAndWait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, code)

	for i := 0; i < 2; i++ {
		pct, ok, err := s.Progress()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 100, pct)
	}
}

func TestSession_ProgressTailIsBounded(t *testing.T) {
	bin := fakeRsync(t, `printf '  1,024  55%%  1.00kB/s  0:00:01\n'
i=0; while [ $i -lt 200 ]; do echo "some/long/file/name/number/$i.dat"; i=$((i+1)); done`)
	s := newTestSession(t, testOptions(bin), WithTailBytes(256))
	_, err := s.RunAndWait(context.Background())
	require.NoError(t, err)

	_, ok, err := s.Progress()
	require.NoError(t, err)
	assert.False(t, ok, "progress line lies outside the inspected tail")
}

func TestSession_ProgressAfterClose(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	_, err := s.RunAndWait(context.Background())
	require.NoError(t, err)
	s.Close()

	_, _, err = s.Progress()
	assert.ErrorIs(t, err, errclass.ErrSessionClosed)
}

func TestSession_ProgressLogRemovedExternally(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	_, err := s.RunAndWait(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.Remove(s.LogPath()))

	_, _, err = s.Progress()
	assert.ErrorIs(t, err, errclass.ErrSessionClosed)
}

func TestSession_ExitTerminatesRunningProcess(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exec sleep 30")))
	require.NoError(t, s.Run())

	s.Exit()
	assert.Equal(t, StateKilled, s.State())
	_, err := os.Stat(s.LogPath())
	assert.True(t, os.IsNotExist(err))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("rsync did not exit after SIGTERM")
	}
	code, ok := s.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, -1, code, "signalled processes report -1")
	assert.Equal(t, StateKilled, s.State(), "reaping must not overwrite killed")
}

func TestSession_ExitAfterFinish(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	_, err := s.RunAndWait(context.Background())
	require.NoError(t, err)

	assert.NotPanics(t, s.Exit)
	assert.Equal(t, StateFinished, s.State())
}

func TestSession_ExitAfterUnreapedExit(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	require.NoError(t, s.Run())

	// Holding the lock keeps wait from recording the exit after reaping.
	s.mu.Lock()
	pid := s.cmd.Process.Pid
	require.Eventually(t, func() bool {
		return errors.Is(unix.Kill(-pid, 0), unix.ESRCH)
	}, 5*time.Second, 10*time.Millisecond)
	s.exitLocked()
	state := s.state
	s.mu.Unlock()
	assert.Equal(t, StateRunning, state)

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not record the exit")
	}
	assert.Equal(t, StateFinished, s.State())
	code, ok := s.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, 0, code)
}

func TestSession_ExitBeforeRun(t *testing.T) {
	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")))
	s.Exit()
	assert.Equal(t, StateIdle, s.State())
	assert.ErrorIs(t, s.Run(), errclass.ErrSessionClosed)
}

func TestSession_Command(t *testing.T) {
	s := newTestSession(t, Options{Binary: "rsync", Source: "/a/dir", Dest: "/b/", SourceSSH: "user@host"})
	assert.Equal(t, "rsync -a user@host:/a/dir /b/", s.Command())
	assert.Equal(t, []string{"-a", "user@host:/a/dir", "/b/"}, s.Args())

	args := s.Args()
	args[0] = "mutated"
	assert.Equal(t, "-a", s.Args()[0])
}

func TestSession_OptionsAreCopied(t *testing.T) {
	opts := testOptions(fakeRsync(t, "exit 0"))
	opts.Excludes = []string{"a"}
	s := newTestSession(t, opts)
	opts.Excludes[0] = "changed"
	assert.Equal(t, []string{"a"}, s.Options().Excludes)
}

func TestSession_KeepLog(t *testing.T) {
	keep := filepath.Join(t.TempDir(), "transfer.log")
	s := newTestSession(t, testOptions(fakeRsync(t, "echo kept")), WithKeepLog(keep))
	assert.Equal(t, keep, s.LogPath())

	_, err := s.RunAndWait(context.Background())
	require.NoError(t, err)
	s.Close()

	out, err := os.ReadFile(keep)
	require.NoError(t, err)
	assert.Equal(t, "kept\n", string(out))
}

func TestSession_ArchiveDir(t *testing.T) {
	archive := t.TempDir()
	s := newTestSession(t, testOptions(fakeRsync(t, "echo archived output")), WithArchiveDir(archive))
	_, err := s.RunAndWait(context.Background())
	require.NoError(t, err)
	s.Close()

	_, err = os.Stat(s.LogPath())
	assert.True(t, os.IsNotExist(err), "temp log removed after archiving")

	data, err := ReadArchive(filepath.Join(archive, ArchiveName(s.ID())))
	require.NoError(t, err)
	assert.Equal(t, "archived output\n", string(data))
}

func TestSession_LogsWithSessionField(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.LevelDebug)
	logger.SetOutput(&buf)

	s := newTestSession(t, testOptions(fakeRsync(t, "exit 0")), WithLogger(logger))
	_, err := s.RunAndWait(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"session":"`+s.ID()+`"`)
	assert.Contains(t, buf.String(), "rsync finished")
}

func TestWith_ClosesOnReturn(t *testing.T) {
	dir := t.TempDir()
	var logPath string
	err := With(testOptions(fakeRsync(t, "exit 0")), func(s *Session) error {
		logPath = s.LogPath()
		_, err := s.RunAndWait(context.Background())
		return err
	}, WithTempDir(dir), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = os.Stat(logPath)
	assert.True(t, os.IsNotExist(err))
}

func TestWith_ClosesOnPanic(t *testing.T) {
	var logPath string
	assert.Panics(t, func() {
		With(testOptions(fakeRsync(t, "exit 0")), func(s *Session) error {
			logPath = s.LogPath()
			panic("boom")
		}, WithTempDir(t.TempDir()), WithLogger(quietLogger()))
	})
	require.NotEmpty(t, logPath)
	_, err := os.Stat(logPath)
	assert.True(t, os.IsNotExist(err))
}

func TestWith_ReturnsCallbackError(t *testing.T) {
	err := With(testOptions(fakeRsync(t, "exit 0")), func(s *Session) error {
		return errclass.ErrNonZeroExit
	}, WithTempDir(t.TempDir()), WithLogger(quietLogger()))
	assert.ErrorIs(t, err, errclass.ErrNonZeroExit)
}

func TestDetectVersion(t *testing.T) {
	bin := fakeRsync(t, `echo "rsync  version 3.2.7  protocol version 31"`)
	v, err := DetectVersion(context.Background(), bin)
	require.NoError(t, err)
	assert.Equal(t, "3.2.7", v.String())
	assert.Same(t, GrammarRsync31, GrammarFor(v))
}

func TestDetectVersion_Missing(t *testing.T) {
	_, err := DetectVersion(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, errclass.ErrSpawnFailed)
}

func TestDetectVersion_Garbage(t *testing.T) {
	bin := fakeRsync(t, `echo "hello"`)
	_, err := DetectVersion(context.Background(), bin)
	assert.ErrorIs(t, err, errclass.ErrVersionUnknown)
}
