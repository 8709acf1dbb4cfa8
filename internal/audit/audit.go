// Package audit mirrors agent action transitions into an append-only JSONL
// file next to the system log, so outbound side effects can be reviewed
// without opening the database.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/asis/internal/shared"
)

type entry struct {
	Timestamp  string `json:"timestamp"`
	TraceID    string `json:"trace_id,omitempty"`
	ActionID   int64  `json:"action_id,omitempty"`
	ActionType string `json:"action_type"`
	Target     string `json:"target,omitempty"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
}

// Record is one transition of an agent action.
type Record struct {
	TraceID    string
	ActionID   int64
	ActionType string
	Target     string
	Status     string
	Detail     string
}

// Log appends records to logs/actions.jsonl. The zero value and a nil *Log
// are valid and discard everything.
type Log struct {
	mu        sync.Mutex
	file      *os.File
	failCount atomic.Int64
}

// Open creates (or appends to) logs/actions.jsonl under homeDir.
func Open(homeDir string) (*Log, error) {
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "actions.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Log{file: f}, nil
}

func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// FailCount returns the number of failed actions recorded since startup.
func (l *Log) FailCount() int64 {
	if l == nil {
		return 0
	}
	return l.failCount.Load()
}

func (l *Log) Record(r Record) {
	if l == nil {
		return
	}
	if r.Status == "failed" {
		l.failCount.Add(1)
	}

	ev := entry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:    r.TraceID,
		ActionID:   r.ActionID,
		ActionType: r.ActionType,
		Target:     r.Target,
		Status:     r.Status,
		Detail:     shared.Redact(r.Detail),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		_, _ = l.file.Write(append(b, '\n'))
	}
}
