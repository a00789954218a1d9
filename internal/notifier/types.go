package notifier

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoSinks        = errors.New("notifier has no sinks")
	ErrAllFailed      = errors.New("every notification sink failed")
	ErrUnknownChannel = errors.New("unknown notification channel")
)

type Importance string

const (
	ImportanceDefault Importance = "default"
	ImportanceHigh    Importance = "high"
)

const (
	DefaultChannelID   = "Channel_1"
	DefaultChannelName = "Alarm Manager Channel"
)

// Channel groups notifications that share importance and vibration.
type Channel struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Importance Importance      `json:"importance"`
	Vibration  []time.Duration `json:"vibration"`
}

// DefaultChannel is high importance with five one-second vibration pulses.
func DefaultChannel() Channel {
	return Channel{
		ID:         DefaultChannelID,
		Name:       DefaultChannelName,
		Importance: ImportanceHigh,
		Vibration:  repeatPulse(5, time.Second),
	}
}

func repeatPulse(n int, d time.Duration) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = d
	}
	return out
}

// Config controls presentation. It can be re-applied at runtime.
type Config struct {
	Icon        string
	Color       string
	Sound       string
	HistorySize int
	SendTimeout time.Duration
	Channel     ChannelConfig
}

type ChannelConfig struct {
	ID              string
	Name            string
	VibrationPulses int
	VibrationPulse  time.Duration
}

// Post is a rendered notification as handed to sinks.
type Post struct {
	SlotID    int             `json:"slot_id"`
	ChannelID string          `json:"channel_id"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Icon      string          `json:"icon"`
	Color     string          `json:"color"`
	Sound     string          `json:"sound"`
	Vibration []time.Duration `json:"vibration"`
	At        time.Time       `json:"at"`
}

// Sink displays posts somewhere.
type Sink interface {
	Name() string
	Post(ctx context.Context, p Post) error
}

// Dismisser is implemented by sinks that can take a post down again.
type Dismisser interface {
	Dismiss(ctx context.Context, slot int) error
}

// Event is emitted on the event bus for every sink delivery.
type Event struct {
	Sink   string    `json:"sink"`
	SlotID int       `json:"slot_id"`
	Title  string    `json:"title"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}
