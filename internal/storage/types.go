package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrTimerExists = errors.New("storage: live timer already registered")
	ErrClosed      = errors.New("storage: closed")
	ErrConflict    = errors.New("storage: modified concurrently")
)

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// AuditEntry records one mutating command.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	ThreadID      int
	Action        string
	Target        string
	Error         string
	TookMS        int64
}
