package timer

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrBadInterval = errors.New("repeat interval must be a positive whole number of minutes")

// Receiver gets the payload of a registration when it comes due.
type Receiver func(ctx context.Context, payload []byte) error

type Mode string

const (
	ModeOneShot   Mode = "oneshot"
	ModeRepeating Mode = "repeating"
)

// Config controls the timer service.
type Config struct {
	Timezone string // IANA TZ used by the cron runner; empty means Local
}

// Registration is a slot's current alarm definition.
type Registration struct {
	Slot      int           `json:"slot"`
	Mode      Mode          `json:"mode"`
	FireAt    time.Time     `json:"fire_at"`
	Interval  time.Duration `json:"interval,omitempty"`
	Payload   []byte        `json:"-"`
	Token     string        `json:"token"`
	CreatedAt time.Time     `json:"created_at"`

	// Next is the upcoming delivery, computed at read time.
	Next time.Time `json:"next,omitzero"`
	// Rule is the RRULE text of repeating registrations.
	Rule string `json:"rule,omitempty"`
}

// Event is published on the bus when a registration is armed or delivered.
type Event struct {
	Slot  int       `json:"slot"`
	Mode  Mode      `json:"mode"`
	At    time.Time `json:"at"`
	Token string    `json:"token"`
}

type entry struct {
	reg  Registration
	ver  uint64
	rule *recurrence

	cronID cron.EntryID
	stop   chan struct{} // closes the one-shot waiter
}
