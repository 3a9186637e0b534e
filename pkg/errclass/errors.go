// Package errclass defines the stable error classes surfaced by rsyncer.
package errclass

import "fmt"

// SyncError is a stable, machine-readable error class.
type SyncError struct {
	Code    string
	Message string
}

func (e *SyncError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any SyncError carrying the same Code.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	return ok && e.Code == t.Code
}

// WithMessage returns a new SyncError with the same Code but a specific message.
func (e *SyncError) WithMessage(msg string) *SyncError {
	return &SyncError{Code: e.Code, Message: msg}
}

// WithMessagef returns a new SyncError with a formatted message.
func (e *SyncError) WithMessagef(format string, args ...any) *SyncError {
	return &SyncError{Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

var (
	// Session and command building.
	ErrInvalidOptions = &SyncError{Code: "E_INVALID_OPTIONS"}
	ErrSpawnFailed    = &SyncError{Code: "E_SPAWN_FAILED"}
	ErrSessionClosed  = &SyncError{Code: "E_SESSION_CLOSED"}
	ErrAlreadyStarted = &SyncError{Code: "E_ALREADY_STARTED"}
	ErrNotStarted     = &SyncError{Code: "E_NOT_STARTED"}
	ErrNonZeroExit    = &SyncError{Code: "E_NONZERO_EXIT"}

	// Tooling around sessions.
	ErrConfigInvalid  = &SyncError{Code: "E_CONFIG_INVALID"}
	ErrJobNotFound    = &SyncError{Code: "E_JOB_NOT_FOUND"}
	ErrVersionUnknown = &SyncError{Code: "E_VERSION_UNKNOWN"}
	ErrHistoryCorrupt = &SyncError{Code: "E_HISTORY_CORRUPT"}
)
