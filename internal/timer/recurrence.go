package timer

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// recurrence is a cron.Schedule backed by an RRULE anchored at the first
// fire time.
type recurrence struct {
	rule *rrule.RRule
}

func newRecurrence(first time.Time, every time.Duration) (*recurrence, error) {
	freq, n, err := frequencyOf(every)
	if err != nil {
		return nil, err
	}
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:     freq,
		Interval: n,
		Dtstart:  first,
	})
	if err != nil {
		return nil, fmt.Errorf("build rrule: %w", err)
	}
	return &recurrence{rule: r}, nil
}

// frequencyOf picks the coarsest RRULE frequency that expresses every.
func frequencyOf(every time.Duration) (rrule.Frequency, int, error) {
	const day = 24 * time.Hour
	switch {
	case every <= 0 || every%time.Minute != 0:
		return 0, 0, fmt.Errorf("%w: %s", ErrBadInterval, every)
	case every%day == 0:
		return rrule.DAILY, int(every / day), nil
	case every%time.Hour == 0:
		return rrule.HOURLY, int(every / time.Hour), nil
	default:
		return rrule.MINUTELY, int(every / time.Minute), nil
	}
}

// Next implements cron.Schedule.
func (r *recurrence) Next(t time.Time) time.Time {
	return r.rule.After(t, false)
}

// Rule returns the RRULE line without DTSTART, e.g. "FREQ=DAILY;INTERVAL=1".
func (r *recurrence) Rule() string {
	return r.rule.OrigOptions.RRuleString()
}
