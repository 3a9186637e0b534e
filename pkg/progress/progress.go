// Package progress renders progress of running transfers.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Callback receives progress updates during long operations. For rsync
// sessions total is 100 and current is the reported percentage.
type Callback func(op string, current, total int, message string)

// Noop is a no-op callback for default behavior.
func Noop(op string, current, total int, message string) {}

// Multi fans a single update out to several callbacks.
func Multi(cbs ...Callback) Callback {
	return func(op string, current, total int, message string) {
		for _, cb := range cbs {
			if cb != nil {
				cb(op, current, total, message)
			}
		}
	}
}

// Terminal provides a terminal-based progress bar.
type Terminal struct {
	mu          sync.Mutex
	writer      io.Writer
	op          string
	total       int
	current     int
	lastLineLen int
	enabled     bool
	dirty       bool
}

// NewTerminal creates a new terminal progress bar writing to w.
func NewTerminal(w io.Writer, op string, total int, enabled bool) *Terminal {
	return &Terminal{
		writer:  w,
		op:      op,
		total:   total,
		enabled: enabled,
	}
}

// Callback returns a Callback function for this terminal.
func (t *Terminal) Callback() Callback {
	return func(op string, current, total int, message string) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !t.enabled {
			return
		}
		if op != "" {
			t.op = op
		}
		if total > 0 {
			t.total = total
		}
		t.current = current
		t.render(message)
	}
}

// render draws the progress bar. Caller holds t.mu.
func (t *Terminal) render(message string) {
	total := t.total
	if total <= 0 {
		total = 1
	}
	current := min(max(t.current, 0), total)
	percentage := float64(current) / float64(total) * 100

	barWidth := 30
	filled := barWidth * current / total
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)

	clear := "\r"
	if t.lastLineLen > 0 {
		clear = "\r" + strings.Repeat(" ", t.lastLineLen) + "\r"
	}

	line := fmt.Sprintf("%s [%s] %3.0f%%", t.op, bar, percentage)
	if message != "" {
		line += " " + message
	}

	fmt.Fprint(t.writer, clear+line)
	t.lastLineLen = len(line)
	t.dirty = true
}

// Done marks the operation as complete and prints a final newline.
func (t *Terminal) Done(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.current = t.total
	t.render(message)
	fmt.Fprintln(t.writer)
	t.dirty = false
}

// Abort ends the line without forcing the bar to 100%.
func (t *Terminal) Abort(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.dirty {
		return
	}
	t.render(message)
	fmt.Fprintln(t.writer)
	t.dirty = false
}

// SetEnabled enables or disables the progress bar.
func (t *Terminal) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

// IsEnabled returns whether the progress bar is enabled.
func (t *Terminal) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}
