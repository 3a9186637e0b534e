package rsync

import (
	"context"

	"github.com/jvs-project/rsyncer/pkg/errclass"
)

// Sync runs rsync for opts to completion and reports whether it exited
// with code zero. Invalid options and spawn failures are returned as
// errors; a non-zero exit is (false, nil).
//
// If ctx ends first, rsync is terminated and reaped before Sync returns
// ctx's error.
func Sync(ctx context.Context, opts Options, options ...SessionOption) (bool, error) {
	s, err := NewSession(opts, options...)
	if err != nil {
		return false, err
	}
	defer s.Close()

	code, err := s.RunAndWait(ctx)
	if err != nil {
		if ctx.Err() != nil && s.State() != StateIdle {
			s.Exit()
			<-s.Done()
		}
		return false, err
	}
	if code != 0 {
		s.log.Warn("there was an error running rsync", map[string]any{"exit_code": code})
		return false, nil
	}
	return true, nil
}

// With creates a session, hands it to fn and closes it on every way out of
// fn, panics included.
func With(opts Options, fn func(*Session) error, options ...SessionOption) error {
	s, err := NewSession(opts, options...)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// CheckExit converts an exit code into an E_NONZERO_EXIT error.
func CheckExit(code int) error {
	if code == 0 {
		return nil
	}
	return errclass.ErrNonZeroExit.WithMessagef("rsync exited with code %d", code)
}
