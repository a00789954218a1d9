package alarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"alarmd/internal/eventbus"
	logx "alarmd/pkg/logx"
)

// User-visible confirmations.
const (
	MsgInvalidDateTime = "Invalid date/time"
	MsgInvalidTime     = "Invalid time"
	MsgOneTimeSet      = "One time alarm set up"
	MsgRepeatingSet    = "Repeating alarm set up"
	MsgOneTimeCancel   = "One time alarm canceled"
	MsgRepeatingCancel = "Repeating alarm canceled"
	MsgScheduleFailed  = "Could not set alarm"
)

// ScheduleResult is the confirmation text for the outcome of scheduling kind.
func ScheduleResult(kind Kind, err error) string {
	switch {
	case err == nil && kind == Repeating:
		return MsgRepeatingSet
	case err == nil:
		return MsgOneTimeSet
	case errors.Is(err, ErrInvalidDateTime) && kind == Repeating:
		return MsgInvalidTime
	case errors.Is(err, ErrInvalidDateTime):
		return MsgInvalidDateTime
	default:
		return MsgScheduleFailed
	}
}

// CancelResult is the confirmation text for canceling a pending alarm of kind.
func CancelResult(kind Kind) string {
	if kind == Repeating {
		return MsgRepeatingCancel
	}
	return MsgOneTimeCancel
}

// Event is published on the bus for every alarm lifecycle step.
type Event struct {
	Kind    Kind      `json:"kind"`
	SlotID  int       `json:"slot_id"`
	FireAt  time.Time `json:"fire_at,omitempty"`
	Message string    `json:"message,omitempty"`
	Error   string    `json:"error,omitempty"`

	Source  string `json:"source,omitempty"`
	ActorID int64  `json:"actor_id,omitempty"`
}

// Scheduler validates requests, registers them with the scheduling service
// and renders notifications when the service delivers a payload back.
//
// It keeps no state about pending alarms; the scheduling service owns them.
type Scheduler struct {
	timers   SchedulerPort
	notifier NotifierPort
	feedback Feedback
	clk      clock.Clock
	log      logx.Logger
	bus      eventbus.Bus

	mu  sync.RWMutex
	loc *time.Location
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clk = c } }

// WithLocation sets the calendar used to interpret dates and times (default time.Local).
func WithLocation(loc *time.Location) Option { return func(s *Scheduler) { s.loc = loc } }

func WithFeedback(f Feedback) Option { return func(s *Scheduler) { s.feedback = f } }

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(s *Scheduler) { s.bus = bus } }

func NewScheduler(timers SchedulerPort, notifier NotifierPort, opts ...Option) *Scheduler {
	s := &Scheduler{
		timers:   timers,
		notifier: notifier,
		clk:      clock.New(),
		loc:      time.Local,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	return s
}

// SetLocation swaps the calendar used for new requests. Pending alarms keep
// their absolute fire time.
func (s *Scheduler) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	s.mu.Lock()
	s.loc = loc
	s.mu.Unlock()
}

func (s *Scheduler) Location() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc
}

// Schedule dispatches req by kind.
func (s *Scheduler) Schedule(ctx context.Context, req Request) error {
	switch req.Kind {
	case OneTime:
		return s.ScheduleOneTime(ctx, req)
	case Repeating:
		return s.ScheduleRepeating(ctx, req)
	default:
		return fmt.Errorf("schedule: %w", ErrUnknownKind)
	}
}

// ScheduleOneTime registers an exact one-shot alarm at req.Date req.Time in
// the slot of OneTime. Invalid input is rejected before any scheduling call.
func (s *Scheduler) ScheduleOneTime(ctx context.Context, req Request) error {
	s.log.Debug("one-time alarm requested", logx.String("date", req.Date), logx.String("time", req.Time))

	d, derr := ValidateDate(req.Date)
	c, terr := ValidateTime(req.Time)
	if err := errors.Join(derr, terr); err != nil {
		s.reject(ctx, OneTime, MsgInvalidDateTime, err)
		return err
	}

	fireAt := FireTime(d, c, s.Location())
	payload, err := Payload{Kind: OneTime, Message: req.Message}.Encode()
	if err != nil {
		return err
	}
	if err := s.timers.SetExactOneShot(ctx, fireAt, OneTimeSlotID, payload); err != nil {
		s.log.Error("one-time alarm registration failed", logx.Err(err), logx.Time("fire_at", fireAt))
		return fmt.Errorf("register one-time alarm: %w", err)
	}

	s.log.Info("one-time alarm set", logx.Time("fire_at", fireAt), logx.Int("slot", OneTimeSlotID))
	s.publish(ctx, eventbus.AlarmScheduled, Event{Kind: OneTime, SlotID: OneTimeSlotID, FireAt: fireAt, Message: req.Message})
	s.toast(ctx, ScheduleResult(OneTime, nil))
	return nil
}

// ScheduleRepeating registers an inexact alarm repeating every 24 hours,
// starting today at req.Time (second 0) even if that moment has passed.
func (s *Scheduler) ScheduleRepeating(ctx context.Context, req Request) error {
	c, err := ValidateTime(req.Time)
	if err != nil {
		s.reject(ctx, Repeating, MsgInvalidTime, err)
		return err
	}

	first := TodayAt(s.clk.Now(), c, s.Location())
	payload, err := Payload{Kind: Repeating, Message: req.Message}.Encode()
	if err != nil {
		return err
	}
	if err := s.timers.SetInexactRepeating(ctx, first, DailyInterval, RepeatingSlotID, payload); err != nil {
		s.log.Error("repeating alarm registration failed", logx.Err(err), logx.Time("first", first))
		return fmt.Errorf("register repeating alarm: %w", err)
	}

	s.log.Info("repeating alarm set", logx.Time("first", first), logx.Int("slot", RepeatingSlotID))
	s.publish(ctx, eventbus.AlarmScheduled, Event{Kind: Repeating, SlotID: RepeatingSlotID, FireAt: first, Message: req.Message})
	s.toast(ctx, ScheduleResult(Repeating, nil))
	return nil
}

// Cancel removes the pending alarm of kind. With nothing registered it is a
// silent no-op.
func (s *Scheduler) Cancel(ctx context.Context, kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("cancel: %w", ErrUnknownKind)
	}
	slot := kind.SlotID()
	ok, err := s.timers.Lookup(ctx, slot)
	if err != nil {
		return fmt.Errorf("lookup slot %d: %w", slot, err)
	}
	if !ok {
		s.log.Debug("cancel ignored; nothing registered", logx.String("kind", kind.String()), logx.Int("slot", slot))
		return nil
	}
	if err := s.timers.Cancel(ctx, slot); err != nil {
		return fmt.Errorf("cancel slot %d: %w", slot, err)
	}

	s.log.Info("alarm canceled", logx.String("kind", kind.String()), logx.Int("slot", slot))
	s.publish(ctx, eventbus.AlarmCanceled, Event{Kind: kind, SlotID: slot})
	s.toast(ctx, CancelResult(kind))
	return nil
}

// Pending reports, per kind, whether an alarm is registered.
func (s *Scheduler) Pending(ctx context.Context) (map[Kind]bool, error) {
	out := make(map[Kind]bool, 2)
	for _, k := range []Kind{OneTime, Repeating} {
		ok, err := s.timers.Lookup(ctx, k.SlotID())
		if err != nil {
			return nil, err
		}
		out[k] = ok
	}
	return out, nil
}

// OnFire is the delivery callback of the scheduling service. It must return
// quickly: it renders exactly one notification and does no other work.
func (s *Scheduler) OnFire(ctx context.Context, payload []byte) error {
	p, err := DecodePayload(payload)
	if errors.Is(err, ErrNoMessage) {
		s.log.Warn("alarm fired without message; no notification", logx.String("kind", p.Kind.String()))
		return nil
	}
	if err != nil {
		return err
	}

	n := NotificationFor(p)
	s.publish(ctx, eventbus.AlarmFired, Event{Kind: p.Kind, SlotID: n.SlotID, Message: p.Message})
	if err := s.notifier.Show(ctx, n); err != nil {
		s.log.Error("notification failed", logx.Err(err), logx.Int("slot", n.SlotID))
		return fmt.Errorf("show notification: %w", err)
	}
	s.log.Info("alarm fired", logx.String("kind", p.Kind.String()), logx.Int("slot", n.SlotID))
	return nil
}

func (s *Scheduler) reject(ctx context.Context, kind Kind, msg string, err error) {
	s.log.Info("alarm rejected", logx.String("kind", kind.String()), logx.Err(err))
	s.publish(ctx, eventbus.AlarmRejected, Event{Kind: kind, SlotID: kind.SlotID(), Error: err.Error()})
	s.toast(ctx, msg)
}

func (s *Scheduler) toast(ctx context.Context, text string) {
	if s.feedback != nil {
		s.feedback.Toast(ctx, text)
	}
}

func (s *Scheduler) publish(ctx context.Context, typ string, e Event) {
	if s.bus == nil {
		return
	}
	a := ActorFrom(ctx)
	e.Source, e.ActorID = a.Source, a.ID
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clk.Now(), Data: e})
}
