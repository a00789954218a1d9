package alarm

import (
	"context"
	"time"
)

// DailyInterval is the repeat interval of repeating alarms.
const DailyInterval = 24 * time.Hour

// SchedulerPort is the alarm-scheduling service. Registrations are keyed by
// slot; registering a slot again replaces the previous registration.
type SchedulerPort interface {
	SetExactOneShot(ctx context.Context, fireAt time.Time, slot int, payload []byte) error
	SetInexactRepeating(ctx context.Context, first time.Time, interval time.Duration, slot int, payload []byte) error
	Cancel(ctx context.Context, slot int) error
	Lookup(ctx context.Context, slot int) (bool, error)
}

// NotifierPort posts a notification, replacing any visible one with the same slot id.
type NotifierPort interface {
	Show(ctx context.Context, n Notification) error
}

// Feedback shows a short transient message to the user.
type Feedback interface {
	Toast(ctx context.Context, text string)
}

// FeedbackFunc adapts a function to Feedback.
type FeedbackFunc func(ctx context.Context, text string)

func (f FeedbackFunc) Toast(ctx context.Context, text string) { f(ctx, text) }

// MultiFeedback sends each toast to every non-nil Feedback.
func MultiFeedback(fs ...Feedback) Feedback {
	return FeedbackFunc(func(ctx context.Context, text string) {
		for _, f := range fs {
			if f != nil {
				f.Toast(ctx, text)
			}
		}
	})
}
