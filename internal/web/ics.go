package web

import (
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"alarmd/internal/alarm"
	"alarmd/internal/timer"
)

const calendarProdID = "-//alarmd//alarms//EN"

// Calendar renders pending registrations as an iCalendar feed. Each alarm is
// a zero-length VEVENT carrying a DISPLAY VALARM at its start; repeating
// alarms add their RRULE.
func Calendar(regs []timer.Registration, now time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(calendarProdID)
	cal.SetName("alarmd")

	for _, r := range regs {
		kind, ok := alarm.KindForSlot(r.Slot)
		if !ok {
			continue
		}
		msg := ""
		if p, err := alarm.DecodePayload(r.Payload); err == nil || errors.Is(err, alarm.ErrNoMessage) {
			msg = p.Message
		}

		ev := cal.AddEvent(fmt.Sprintf("%s@alarmd", r.Token))
		ev.SetDtStampTime(now)
		ev.SetCreatedTime(r.CreatedAt)
		ev.SetStartAt(r.FireAt)
		ev.SetEndAt(r.FireAt)
		ev.SetSummary(kind.Title())
		if msg != "" {
			ev.SetDescription(msg)
		}
		if r.Mode == timer.ModeRepeating {
			if rule := ruleOf(r); rule != "" {
				ev.AddRrule(rule)
			}
		}

		a := ev.AddAlarm()
		a.SetAction(ical.ActionDisplay)
		a.SetTrigger("PT0M")
		a.SetProperty(ical.ComponentPropertyDescription, orDefault(msg, kind.Title()))
	}
	return cal
}

func ruleOf(r timer.Registration) string {
	if r.Rule != "" {
		return r.Rule
	}
	if r.Interval > 0 && r.Interval%time.Minute == 0 {
		return fmt.Sprintf("FREQ=MINUTELY;INTERVAL=%d", int(r.Interval/time.Minute))
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
