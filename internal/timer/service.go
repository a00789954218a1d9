package timer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmhodges/clock"
	"github.com/robfig/cron/v3"

	"alarmd/internal/eventbus"
	"alarmd/internal/storage"
	logx "alarmd/pkg/logx"
)

// Service keeps at most one registration per slot. Registering a slot again
// replaces the previous registration; stale runtime timers are detected by
// version and never deliver.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	bus   eventbus.Bus
	store storage.Store
	clk   clock.Clock
	recv  Receiver

	c    *cron.Cron
	regs map[int]*entry
	seq  uint64

	runCtx context.Context
	wg     sync.WaitGroup
}

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clk = c } }

// WithStore persists registrations so they survive restarts.
func WithStore(st storage.Store) Option { return func(s *Service) { s.store = st } }

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		clk:    clock.New(),
		regs:   map[int]*entry{},
		runCtx: context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetReceiver sets the delivery callback. It must be set before Start.
func (s *Service) SetReceiver(r Receiver) {
	s.mu.Lock()
	s.recv = r
	s.mu.Unlock()
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	// Restart cron with the new location and re-register repeating entries.
	// The old runner is not awaited: its jobs take s.mu.
	s.c.Stop()
	s.startCronLocked()
	for _, e := range s.regs {
		if e.reg.Mode == ModeRepeating {
			s.addCronLocked(e)
		}
	}
	s.log.Info("cron restarted", logx.String("tz", s.loc.String()))
}

// Start restores persisted registrations and arms every registration.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx = ctx
	s.startCronLocked()

	restored := 0
	if s.store != nil {
		list, err := s.store.ListRegistrations(ctx)
		if err != nil {
			return fmt.Errorf("restore registrations: %w", err)
		}
		for _, pr := range list {
			if _, ok := s.regs[pr.Slot]; ok {
				continue
			}
			e, err := s.newEntryLocked(fromStored(pr))
			if err != nil {
				s.log.Warn("dropping unreadable registration", logx.Int("slot", pr.Slot), logx.Err(err))
				continue
			}
			s.regs[pr.Slot] = e
			restored++
		}
	}
	for _, e := range s.regs {
		// Missed one-shots deliver now; repeating rules resume at their next occurrence.
		s.armLocked(e, false)
	}
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("registrations", len(s.regs)), logx.Int("restored", restored))
	return nil
}

// Stop halts runtime timers and the cron runner. Registrations are kept, in
// memory and in the store, so they resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, e := range s.regs {
		s.disarmLocked(e)
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// SetExactOneShot registers payload for delivery at fireAt. A fireAt in the
// past delivers immediately.
func (s *Service) SetExactOneShot(ctx context.Context, fireAt time.Time, slot int, payload []byte) error {
	return s.register(ctx, Registration{
		Slot:    slot,
		Mode:    ModeOneShot,
		FireAt:  fireAt,
		Payload: payload,
	})
}

// SetInexactRepeating registers payload for delivery at first and then every
// interval. A first in the past delivers once immediately and then follows
// the rule.
func (s *Service) SetInexactRepeating(ctx context.Context, first time.Time, interval time.Duration, slot int, payload []byte) error {
	return s.register(ctx, Registration{
		Slot:     slot,
		Mode:     ModeRepeating,
		FireAt:   first,
		Interval: interval,
		Payload:  payload,
	})
}

func (s *Service) register(ctx context.Context, r Registration) error {
	r.Token = uuid.NewString()
	r.CreatedAt = s.clk.Now()
	r.Payload = append([]byte(nil), r.Payload...)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.newEntryLocked(r)
	if err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.PutRegistration(ctx, toStored(r)); err != nil {
			return fmt.Errorf("persist slot %d: %w", r.Slot, err)
		}
	}
	if old, ok := s.regs[r.Slot]; ok {
		s.disarmLocked(old)
		s.log.Debug("registration replaced", logx.Int("slot", r.Slot), logx.String("old_token", old.reg.Token))
	}
	s.regs[r.Slot] = e
	if s.c != nil {
		s.armLocked(e, true)
	}

	s.log.Info("registration armed", logx.Int("slot", r.Slot), logx.String("mode", string(r.Mode)), logx.Time("fire_at", r.FireAt), logx.String("token", r.Token))
	s.publish(eventbus.TimerArmed, Event{Slot: r.Slot, Mode: r.Mode, At: r.FireAt, Token: r.Token})
	return nil
}

// Cancel removes the registration of slot. Unknown slots are a no-op.
func (s *Service) Cancel(ctx context.Context, slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.regs[slot]
	if ok {
		s.disarmLocked(e)
		delete(s.regs, slot)
	}
	if s.store != nil {
		if err := s.store.DeleteRegistration(ctx, slot); err != nil {
			return fmt.Errorf("delete slot %d: %w", slot, err)
		}
	}
	if ok {
		s.log.Info("registration canceled", logx.Int("slot", slot), logx.String("token", e.reg.Token))
	}
	return nil
}

// Lookup reports whether slot has a registration.
func (s *Service) Lookup(_ context.Context, slot int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.regs[slot]
	return ok, nil
}

// Registrations returns the current registrations ordered by slot, with
// their next delivery time.
func (s *Service) Registrations() []Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	out := make([]Registration, 0, len(s.regs))
	for _, e := range s.regs {
		r := e.reg
		switch r.Mode {
		case ModeOneShot:
			r.Next = r.FireAt
		case ModeRepeating:
			r.Rule = e.rule.Rule()
			if s.c != nil && e.cronID != 0 {
				r.Next = s.c.Entry(e.cronID).Next
			}
			if r.Next.IsZero() {
				r.Next = e.rule.Next(now)
			}
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

func (s *Service) newEntryLocked(r Registration) (*entry, error) {
	s.seq++
	e := &entry{reg: r, ver: s.seq}
	if r.Mode == ModeRepeating {
		rule, err := newRecurrence(r.FireAt, r.Interval)
		if err != nil {
			return nil, err
		}
		e.rule = rule
	}
	return e, nil
}

// armLocked starts the runtime trigger for e. fresh is true for a new
// registration and false when resuming after Start.
func (s *Service) armLocked(e *entry, fresh bool) {
	now := s.clk.Now()
	slot, ver := e.reg.Slot, e.ver

	switch e.reg.Mode {
	case ModeOneShot:
		e.stop = make(chan struct{})
		delay := e.reg.FireAt.Sub(now)
		if delay <= 0 {
			s.goDeliver(slot, ver)
			return
		}
		t := s.clk.NewTimer(delay)
		stop := e.stop
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case <-t.C:
				s.deliver(slot, ver)
			case <-stop:
				t.Stop()
			}
		}()
	case ModeRepeating:
		if fresh && !e.reg.FireAt.After(now) {
			s.goDeliver(slot, ver)
		}
		s.addCronLocked(e)
	}
}

func (s *Service) addCronLocked(e *entry) {
	slot, ver := e.reg.Slot, e.ver
	e.cronID = s.c.Schedule(e.rule, cron.FuncJob(func() { s.deliver(slot, ver) }))
}

func (s *Service) disarmLocked(e *entry) {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
	if e.cronID != 0 && s.c != nil {
		s.c.Remove(e.cronID)
	}
	e.cronID = 0
}

func (s *Service) goDeliver(slot int, ver uint64) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.deliver(slot, ver)
	}()
}

// deliver hands the payload to the receiver exactly once per trigger. One-shot
// registrations are released before the receiver runs.
func (s *Service) deliver(slot int, ver uint64) {
	s.mu.Lock()
	e, ok := s.regs[slot]
	if !ok || e.ver != ver {
		s.mu.Unlock()
		return
	}
	reg := e.reg
	if reg.Mode == ModeOneShot {
		e.stop = nil
		delete(s.regs, slot)
	}
	recv := s.recv
	ctx := s.runCtx
	st := s.store
	s.mu.Unlock()

	if reg.Mode == ModeOneShot && st != nil {
		if err := st.DeleteRegistration(ctx, slot); err != nil {
			s.log.Warn("one-shot cleanup failed", logx.Int("slot", slot), logx.Err(err))
		}
	}

	s.publish(eventbus.TimerDelivered, Event{Slot: slot, Mode: reg.Mode, At: s.clk.Now(), Token: reg.Token})
	if recv == nil {
		s.log.Warn("registration due but no receiver set", logx.Int("slot", slot))
		return
	}
	if err := recv(ctx, reg.Payload); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("receiver failed", logx.Int("slot", slot), logx.String("token", reg.Token), logx.Err(err))
	}
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithLocation(s.loc))
	s.c.Start()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) publish(typ string, e Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clk.Now(), Data: e})
}

func toStored(r Registration) storage.Registration {
	return storage.Registration{
		Slot:      r.Slot,
		Mode:      string(r.Mode),
		FireAt:    r.FireAt,
		Interval:  r.Interval,
		Payload:   r.Payload,
		Token:     r.Token,
		CreatedAt: r.CreatedAt,
	}
}

func fromStored(r storage.Registration) Registration {
	return Registration{
		Slot:      r.Slot,
		Mode:      Mode(r.Mode),
		FireAt:    r.FireAt,
		Interval:  r.Interval,
		Payload:   r.Payload,
		Token:     r.Token,
		CreatedAt: r.CreatedAt,
	}
}
