package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled and registrations live
// in memory only.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite and bolt; 0 means default
}

// Registration is the persisted form of a timer registration. One row per
// slot; Put replaces.
type Registration struct {
	Slot      int           `json:"slot"`
	Mode      string        `json:"mode"`
	FireAt    time.Time     `json:"fire_at"`
	Interval  time.Duration `json:"interval,omitempty"`
	Payload   []byte        `json:"payload"`
	Token     string        `json:"token"`
	CreatedAt time.Time     `json:"created_at"`
}

// AuditEntry records one alarm operation.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Source   string    `json:"source,omitempty"`
	ActorID  int64     `json:"actor_id,omitempty"`
	Action   string    `json:"action"`
	Kind     string    `json:"kind,omitempty"`
	Slot     int       `json:"slot,omitempty"`
	FireAt   time.Time `json:"fire_at,omitzero"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
