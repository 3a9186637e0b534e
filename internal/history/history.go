// Package history keeps an append-only, hash-chained JSONL record of sync
// runs. Each record carries the hash of its predecessor so truncation or
// editing of earlier lines is detectable.
package history

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jvs-project/rsyncer/pkg/errclass"
	"github.com/jvs-project/rsyncer/pkg/jsonutil"
)

// Results recorded for a run.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
	ResultKilled  = "killed"
)

// Record is one finished sync run.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	Job        string    `json:"job"`
	SessionID  string    `json:"session_id,omitempty"`
	Command    string    `json:"command,omitempty"`
	Result     string    `json:"result"`
	ExitCode   int       `json:"exit_code"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	PrevHash   string    `json:"prev_hash"`
	RecordHash string    `json:"record_hash,omitempty"`
}

// Log appends records to a JSONL file.
type Log struct {
	path string
	mu   sync.Mutex
}

// NewLog returns a Log backed by path. The file is created on first Append.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the backing file.
func (l *Log) Path() string { return l.path }

// Append chains rec onto the log and returns it with its hashes filled in.
// The file is flocked so separate rsyncer processes can share it.
func (l *Log) Append(rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return rec, fmt.Errorf("create history dir: %w", err)
	}
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return rec, fmt.Errorf("open history: %w", err)
	}
	defer file.Close()

	if err := lockFile(file); err != nil {
		return rec, fmt.Errorf("lock history: %w", err)
	}
	defer unlockFile(file)

	prevHash, err := lastHash(file)
	if err != nil {
		return rec, err
	}

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.PrevHash = prevHash
	rec.RecordHash, err = hashRecord(rec)
	if err != nil {
		return rec, err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("marshal history record: %w", err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return rec, fmt.Errorf("seek history: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return rec, fmt.Errorf("write history: %w", err)
	}
	if err := file.Sync(); err != nil {
		return rec, fmt.Errorf("sync history: %w", err)
	}
	return rec, nil
}

// List returns the last limit records in file order; limit <= 0 returns all.
// Malformed lines are skipped.
func (l *Log) List(limit int) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var records []Record
	err := l.scan(func(_ int, rec Record, err error) error {
		if err == nil {
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Verify walks the chain and returns the number of records checked.
func (l *Log) Verify() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	prev := ""
	err := l.scan(func(lineNo int, rec Record, err error) error {
		if err != nil {
			return errclass.ErrHistoryCorrupt.WithMessagef("line %d: %v", lineNo, err)
		}
		if rec.PrevHash != prev {
			return errclass.ErrHistoryCorrupt.WithMessagef("line %d: chain broken", lineNo)
		}
		want, err := hashRecord(rec)
		if err != nil {
			return err
		}
		if rec.RecordHash != want {
			return errclass.ErrHistoryCorrupt.WithMessagef("line %d: record hash mismatch", lineNo)
		}
		prev = rec.RecordHash
		count++
		return nil
	})
	return count, err
}

func (l *Log) scan(fn func(lineNo int, rec Record, err error) error) error {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		err := json.Unmarshal(scanner.Bytes(), &rec)
		if err := fn(lineNo, rec, err); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan history: %w", err)
	}
	return nil
}

func lastHash(file *os.File) (string, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("seek history: %w", err)
	}
	var last string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // skip malformed lines
		}
		last = rec.RecordHash
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("scan history: %w", err)
	}
	return last, nil
}

func hashRecord(rec Record) (string, error) {
	rec.RecordHash = ""
	h, err := jsonutil.HashHex(rec)
	if err != nil {
		return "", fmt.Errorf("hash history record: %w", err)
	}
	return h, nil
}
