// Package commands answers chat commands with the same alarm operations the
// web form offers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmhodges/clock"

	"alarmd/internal/alarm"
	"alarmd/internal/timer"
	"alarmd/internal/transport"
	logx "alarmd/pkg/logx"
)

// Alarms is the scheduling surface commands drive.
type Alarms interface {
	Schedule(ctx context.Context, req alarm.Request) error
	Cancel(ctx context.Context, kind alarm.Kind) error
	Location() *time.Location
}

// Registry lists pending registrations.
type Registry interface {
	Registrations() []timer.Registration
}

type handlerFunc func(ctx context.Context, args []string) (string, error)

type command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Handle      handlerFunc
}

// Router maps command names to alarm operations.
type Router struct {
	alarms   Alarms
	registry Registry
	clk      clock.Clock
	log      logx.Logger

	cmds  []*command
	index map[string]*command
}

var _ transport.CommandHandler = (*Router)(nil)

func New(alarms Alarms, registry Registry, clk clock.Clock, log logx.Logger) *Router {
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{alarms: alarms, registry: registry, clk: clk, log: log, index: map[string]*command{}}
	r.register(&command{
		Name:        "remind",
		Aliases:     []string{"once", "at"},
		Usage:       "/remind <YYYY-MM-DD|today|tomorrow> <HH:MM> [message]",
		Description: "set the one-time alarm",
		Handle:      r.remind,
	})
	r.register(&command{
		Name:        "daily",
		Aliases:     []string{"repeat", "every"},
		Usage:       "/daily <HH:MM> [message]",
		Description: "set the daily repeating alarm",
		Handle:      r.daily,
	})
	r.register(&command{
		Name:        "cancel",
		Usage:       "/cancel <one-time|repeating|all>",
		Description: "cancel a pending alarm",
		Handle:      r.cancel,
	})
	r.register(&command{
		Name:        "alarms",
		Aliases:     []string{"list", "status"},
		Usage:       "/alarms",
		Description: "show pending alarms",
		Handle:      r.list,
	})
	r.register(&command{
		Name:        "help",
		Aliases:     []string{"start"},
		Usage:       "/help",
		Description: "show this help",
		Handle:      func(context.Context, []string) (string, error) { return r.help(), nil },
	})
	return r
}

func (r *Router) register(c *command) {
	r.cmds = append(r.cmds, c)
	r.index[c.Name] = c
	for _, a := range c.Aliases {
		r.index[a] = c
	}
}

// HandleCommand implements transport.CommandHandler. Unknown commands get
// no reply so the bot can share a chat with others.
func (r *Router) HandleCommand(ctx context.Context, cmd transport.Command) (string, error) {
	c, ok := r.index[strings.ToLower(cmd.Name)]
	if !ok {
		return "", nil
	}
	ctx = alarm.WithActor(ctx, alarm.Actor{Source: "telegram", ID: cmd.FromID})
	start := r.clk.Now()
	reply, err := c.Handle(ctx, tokenize(cmd.Args))
	r.log.Info("command handled",
		logx.String("cmd", c.Name),
		logx.Int64("from", cmd.FromID),
		logx.Duration("took", r.clk.Now().Sub(start)),
		logx.Err(err),
	)
	return reply, err
}

func (r *Router) remind(ctx context.Context, args []string) (string, error) {
	if len(args) < 2 {
		return usage(r.index["remind"]), nil
	}
	date := r.resolveDate(args[0])
	req := alarm.Request{Kind: alarm.OneTime, Date: date, Time: args[1], Message: strings.Join(args[2:], " ")}
	err := r.alarms.Schedule(ctx, req)
	if err != nil && errors.Is(err, alarm.ErrInvalidDateTime) {
		return alarm.ScheduleResult(alarm.OneTime, err) + "\n" + usage(r.index["remind"]), nil
	}
	return alarm.ScheduleResult(alarm.OneTime, err), err
}

func (r *Router) daily(ctx context.Context, args []string) (string, error) {
	if len(args) < 1 {
		return usage(r.index["daily"]), nil
	}
	req := alarm.Request{Kind: alarm.Repeating, Time: args[0], Message: strings.Join(args[1:], " ")}
	err := r.alarms.Schedule(ctx, req)
	if err != nil && errors.Is(err, alarm.ErrInvalidDateTime) {
		return alarm.ScheduleResult(alarm.Repeating, err) + "\n" + usage(r.index["daily"]), nil
	}
	return alarm.ScheduleResult(alarm.Repeating, err), err
}

func (r *Router) cancel(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return usage(r.index["cancel"]), nil
	}
	var kinds []alarm.Kind
	if strings.EqualFold(args[0], "all") {
		kinds = []alarm.Kind{alarm.OneTime, alarm.Repeating}
	} else {
		k, err := alarm.ParseKind(args[0])
		if err != nil {
			return usage(r.index["cancel"]), nil
		}
		kinds = []alarm.Kind{k}
	}

	pending := r.pendingKinds()
	var lines []string
	for _, k := range kinds {
		if err := r.alarms.Cancel(ctx, k); err != nil {
			return "Could not cancel " + k.Label() + " alarm", err
		}
		if pending[k] {
			lines = append(lines, alarm.CancelResult(k))
		}
	}
	if len(lines) == 0 {
		return "Nothing to cancel", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) list(context.Context, []string) (string, error) {
	regs := r.registrations()
	if len(regs) == 0 {
		return "No alarms set", nil
	}
	loc := r.alarms.Location()
	lines := make([]string, 0, len(regs))
	for _, reg := range regs {
		kind, ok := alarm.KindForSlot(reg.Slot)
		if !ok {
			continue
		}
		next := reg.Next
		if next.IsZero() {
			next = reg.FireAt
		}
		line := fmt.Sprintf("%s: next %s", kind.Title(), next.In(loc).Format("2006-01-02 15:04"))
		if reg.Mode == timer.ModeRepeating {
			line += " (daily)"
		}
		if p, err := alarm.DecodePayload(reg.Payload); err == nil && p.Message != "" {
			line += " · " + p.Message
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Router) help() string {
	cmds := append([]*command(nil), r.cmds...)
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	lines := []string{"⏰ Alarm commands:"}
	for _, c := range cmds {
		lines = append(lines, "- "+c.Usage+" : "+c.Description)
	}
	return strings.Join(lines, "\n")
}

// resolveDate turns "today" and "tomorrow" into YYYY-MM-DD in the alarm
// calendar. Anything else is passed through for strict validation.
func (r *Router) resolveDate(s string) string {
	now := r.clk.Now().In(r.alarms.Location())
	switch strings.ToLower(s) {
	case "today":
		return now.Format(alarm.DateLayout)
	case "tomorrow":
		return now.AddDate(0, 0, 1).Format(alarm.DateLayout)
	default:
		return s
	}
}

func (r *Router) registrations() []timer.Registration {
	if r.registry == nil {
		return nil
	}
	return r.registry.Registrations()
}

func (r *Router) pendingKinds() map[alarm.Kind]bool {
	out := map[alarm.Kind]bool{}
	for _, reg := range r.registrations() {
		if k, ok := alarm.KindForSlot(reg.Slot); ok {
			out[k] = true
		}
	}
	return out
}

func usage(c *command) string { return "Usage: " + c.Usage }
