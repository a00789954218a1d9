package alarm

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidDateTime = errors.New("invalid date/time")
	ErrUnknownKind     = errors.New("unknown alarm kind")
	ErrNoMessage       = errors.New("payload has no message")
)

// Kind is the alarm variant. The zero value is not a valid kind.
type Kind int

const (
	OneTime Kind = iota + 1
	Repeating
)

const (
	OneTimeSlotID   = 1012
	RepeatingSlotID = 1013

	typeOneTime   = "OneTimeAlarm"
	typeRepeating = "RepeatingAlarm"
)

func (k Kind) String() string {
	switch k {
	case OneTime:
		return typeOneTime
	case Repeating:
		return typeRepeating
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Title is the notification title shown when an alarm of this kind fires.
func (k Kind) Title() string { return k.String() }

// SlotID is used both as the alarm registration id and the notification id.
func (k Kind) SlotID() int {
	if k == OneTime {
		return OneTimeSlotID
	}
	return RepeatingSlotID
}

func (k Kind) Valid() bool { return k == OneTime || k == Repeating }

// Label is the short lower-case form used in URLs and chat commands.
func (k Kind) Label() string {
	switch k {
	case OneTime:
		return "one-time"
	case Repeating:
		return "repeating"
	default:
		return ""
	}
}

// ParseKind accepts "OneTimeAlarm"/"RepeatingAlarm" (any case) and the short
// forms "one-time", "onetime", "repeating".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "onetimealarm", "one-time", "onetime", "one_time":
		return OneTime, nil
	case "repeatingalarm", "repeating", "daily":
		return Repeating, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// KindForSlot maps a slot id back to its kind.
func KindForSlot(slot int) (Kind, bool) {
	switch slot {
	case OneTimeSlotID:
		return OneTime, true
	case RepeatingSlotID:
		return Repeating, true
	default:
		return 0, false
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, ErrUnknownKind
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
