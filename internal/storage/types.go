package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Kind names a persisted collection.
type Kind string

const (
	KindSchedule  Kind = "schedule"
	KindQueueItem Kind = "queue_item"
)

// Entry is one persisted record. Data is the owning service's JSON payload.
type Entry struct {
	UserID string
	ID     string
	Data   []byte
}
