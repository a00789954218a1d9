package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	logx "alarmd/pkg/logx"
)

const (
	defaultIcon        = "ic_alarm"
	defaultColor       = "#7B1FA2"
	defaultSound       = "alarm"
	defaultHistorySize = 100
	defaultSendTimeout = 10 * time.Second
)

// Service implements alarm.NotifierPort.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	clk clock.Clock
	cfg Config

	channels map[string]Channel
	sinks    []Sink

	active  map[int]Post
	history []Post
}

var _ alarm.NotifierPort = (*Service)(nil)

type Option func(*Service)

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clk = c } }

func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func WithSinks(sinks ...Sink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sinks...) }
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		clk:      clock.New(),
		channels: map[string]Channel{},
		active:   map[int]Post{},
	}
	for _, o := range opts {
		o(s)
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if strings.TrimSpace(cfg.Icon) == "" {
		cfg.Icon = defaultIcon
	}
	if strings.TrimSpace(cfg.Color) == "" {
		cfg.Color = defaultColor
	}
	if strings.TrimSpace(cfg.Sound) == "" {
		cfg.Sound = defaultSound
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	s.cfg = cfg
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
}

// channelLocked is the channel Show posts on, derived from config.
func (s *Service) channelLocked() Channel {
	ch := DefaultChannel()
	cc := s.cfg.Channel
	if id := strings.TrimSpace(cc.ID); id != "" {
		ch.ID = id
	}
	if name := strings.TrimSpace(cc.Name); name != "" {
		ch.Name = name
	}
	if cc.VibrationPulses > 0 {
		pulse := cc.VibrationPulse
		if pulse <= 0 {
			pulse = time.Second
		}
		ch.Vibration = repeatPulse(cc.VibrationPulses, pulse)
	}
	return ch
}

// EnsureChannel registers ch. Registering an existing id is a no-op: the
// first registration wins.
func (s *Service) EnsureChannel(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureChannelLocked(ch)
}

func (s *Service) ensureChannelLocked(ch Channel) bool {
	if _, ok := s.channels[ch.ID]; ok {
		return false
	}
	ch.Vibration = append([]time.Duration(nil), ch.Vibration...)
	s.channels[ch.ID] = ch
	s.log.Debug("channel registered", logx.String("id", ch.ID), logx.String("name", ch.Name), logx.String("importance", string(ch.Importance)))
	return true
}

func (s *Service) Channel(id string) (Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return Channel{}, fmt.Errorf("%w: %q", ErrUnknownChannel, id)
	}
	return ch, nil
}

// AddSink appends sink. A sink with the same name is replaced.
func (s *Service) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.sinks {
		if cur.Name() == sink.Name() {
			s.sinks[i] = sink
			return
		}
	}
	s.sinks = append(s.sinks, sink)
}

// RemoveSink drops the sink called name and reports whether it was present.
func (s *Service) RemoveSink(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, cur := range s.sinks {
		if cur.Name() == name {
			s.sinks = append(s.sinks[:i], s.sinks[i+1:]...)
			return true
		}
	}
	return false
}

// Show posts n on the alarm channel under n.SlotID, replacing the active
// post of that slot. Each sink receives the post exactly once.
func (s *Service) Show(ctx context.Context, n alarm.Notification) error {
	s.mu.Lock()
	ch := s.channelLocked()
	s.ensureChannelLocked(ch)
	if len(s.sinks) == 0 {
		s.mu.Unlock()
		return ErrNoSinks
	}
	p := Post{
		SlotID:    n.SlotID,
		ChannelID: ch.ID,
		Title:     n.Title,
		Body:      n.Message,
		Icon:      s.cfg.Icon,
		Color:     s.cfg.Color,
		Sound:     s.cfg.Sound,
		Vibration: s.channels[ch.ID].Vibration,
		At:        s.clk.Now(),
	}
	sinks := append([]Sink(nil), s.sinks...)
	timeout := s.cfg.SendTimeout
	s.active[p.SlotID] = p
	s.history = append(s.history, p)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.mu.Unlock()

	var errs []error
	for _, sink := range sinks {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := sink.Post(cctx, p)
		cancel()
		ev := Event{Sink: sink.Name(), SlotID: p.SlotID, Title: p.Title, At: s.clk.Now()}
		if err != nil {
			ev.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			s.log.Warn("notification sink failed", logx.String("sink", sink.Name()), logx.Int("slot", p.SlotID), logx.Err(err))
			s.publish(ev)
			continue
		}
		s.publish(ev)
	}
	if len(errs) == len(sinks) {
		return fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
	}
	return nil
}

// Dismiss removes the active post of slot from every sink that supports it.
func (s *Service) Dismiss(ctx context.Context, slot int) error {
	s.mu.Lock()
	_, ok := s.active[slot]
	delete(s.active, slot)
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	var errs []error
	for _, sink := range sinks {
		if d, ok := sink.(Dismisser); ok {
			if err := d.Dismiss(ctx, slot); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

// Active returns the visible posts ordered by slot.
func (s *Service) Active() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Post, 0, len(s.active))
	for _, p := range s.active {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out
}

// History returns recent posts, oldest first.
func (s *Service) History() []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Post(nil), s.history...)
}

func (s *Service) publish(ev Event) {
	if s.bus == nil {
		return
	}
	typ := eventbus.NotificationPosted
	if ev.Error != "" {
		typ = eventbus.NotificationFailed
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
