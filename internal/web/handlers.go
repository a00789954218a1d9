package web

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"alarmd/internal/alarm"
	"alarmd/internal/notifier"
	"alarmd/internal/timer"
	logx "alarmd/pkg/logx"
)

type slotView struct {
	Kind    string
	Label   string
	Pending bool
	Next    time.Time
	Message string
}

type indexView struct {
	Flash   string
	Today   string
	Now     string
	Slots   []slotView
	Active  []notifier.Post
	History []notifier.Post
}

// AlarmView is the API form of a registration.
type AlarmView struct {
	Kind     alarm.Kind `json:"kind"`
	Slot     int        `json:"slot"`
	Mode     timer.Mode `json:"mode"`
	FireAt   time.Time  `json:"fire_at"`
	Next     time.Time  `json:"next,omitzero"`
	Interval string     `json:"interval,omitempty"`
	Rule     string     `json:"rule,omitempty"`
	Message  string     `json:"message"`
}

type apiRequest struct {
	Kind    alarm.Kind `json:"kind"`
	Date    string     `json:"date"`
	Time    string     `json:"time"`
	Message string     `json:"message"`
}

func (s *Server) views() []AlarmView {
	var regs []timer.Registration
	if s.deps.Registry != nil {
		regs = s.deps.Registry.Registrations()
	}
	out := make([]AlarmView, 0, len(regs))
	for _, r := range regs {
		kind, ok := alarm.KindForSlot(r.Slot)
		if !ok {
			continue
		}
		v := AlarmView{Kind: kind, Slot: r.Slot, Mode: r.Mode, FireAt: r.FireAt, Next: r.Next, Rule: r.Rule}
		if r.Interval > 0 {
			v.Interval = r.Interval.String()
		}
		if p, err := alarm.DecodePayload(r.Payload); err == nil {
			v.Message = p.Message
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) index(c *gin.Context) {
	now := s.deps.Clock.Now().In(s.deps.Location())
	views := s.views()

	slots := make([]slotView, 0, 2)
	for _, k := range []alarm.Kind{alarm.OneTime, alarm.Repeating} {
		sv := slotView{Kind: k.String(), Label: k.Label()}
		i := slices.IndexFunc(views, func(v AlarmView) bool { return v.Kind == k })
		if i >= 0 {
			sv.Pending = true
			sv.Next = views[i].Next
			if sv.Next.IsZero() {
				sv.Next = views[i].FireAt
			}
			sv.Message = views[i].Message
		}
		slots = append(slots, sv)
	}

	var active, history []notifier.Post
	if s.deps.Notifications != nil {
		active = s.deps.Notifications.Active()
		history = s.deps.Notifications.History()
		slices.Reverse(history)
	}
	c.HTML(http.StatusOK, "index.html", indexView{
		Flash:   c.Query("flash"),
		Today:   now.Format(alarm.DateLayout),
		Now:     now.Format(alarm.TimeLayout),
		Slots:   slots,
		Active:  active,
		History: history,
	})
}

// submitForm schedules from the HTML form and redirects back with the
// confirmation as flash text.
func (s *Server) submitForm(c *gin.Context) {
	kind := alarm.OneTime
	if c.PostForm("repeat") != "" {
		kind = alarm.Repeating
	}
	req := alarm.Request{
		Kind:    kind,
		Date:    c.PostForm("date"),
		Time:    c.PostForm("time"),
		Message: c.PostForm("message"),
	}
	err := s.deps.Alarms.Schedule(actorContext(c, "web"), req)
	if err != nil && !errors.Is(err, alarm.ErrInvalidDateTime) {
		s.log.Error("form schedule failed", logx.Err(err))
	}
	redirectFlash(c, alarm.ScheduleResult(kind, err))
}

func (s *Server) cancelForm(c *gin.Context) {
	kind, err := alarm.ParseKind(c.Param("kind"))
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	pending := slices.ContainsFunc(s.views(), func(v AlarmView) bool { return v.Kind == kind })
	if err := s.deps.Alarms.Cancel(actorContext(c, "web"), kind); err != nil {
		s.log.Error("form cancel failed", logx.Err(err))
		redirectFlash(c, "Could not cancel alarm")
		return
	}
	flash := ""
	if pending {
		flash = alarm.CancelResult(kind)
	}
	redirectFlash(c, flash)
}

func (s *Server) listAlarms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alarms": s.views()})
}

func (s *Server) createAlarm(c *gin.Context) {
	var req apiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.deps.Alarms.Schedule(actorContext(c, "api"), alarm.Request{
		Kind:    req.Kind,
		Date:    req.Date,
		Time:    req.Time,
		Message: req.Message,
	})
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"kind": req.Kind, "message": alarm.ScheduleResult(req.Kind, nil)})
	case errors.Is(err, alarm.ErrInvalidDateTime):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": alarm.ScheduleResult(req.Kind, err)})
	case errors.Is(err, alarm.ErrUnknownKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("api schedule failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": alarm.MsgScheduleFailed})
	}
}

func (s *Server) deleteAlarm(c *gin.Context) {
	kind, err := alarm.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.Alarms.Cancel(actorContext(c, "api"), kind); err != nil {
		s.log.Error("api cancel failed", logx.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listNotifications(c *gin.Context) {
	active, history := []notifier.Post{}, []notifier.Post{}
	if s.deps.Notifications != nil {
		active = s.deps.Notifications.Active()
		history = s.deps.Notifications.History()
	}
	c.JSON(http.StatusOK, gin.H{"active": active, "history": history})
}

// MsgDismissed is the flash shown after taking a notification down.
const MsgDismissed = "Notification dismissed"

func (s *Server) dismissNotification(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || s.deps.Notifications == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot"})
		return
	}
	if err := s.deps.Notifications.Dismiss(actorContext(c, "api"), slot); err != nil {
		s.log.Warn("dismiss failed", logx.Int("slot", slot), logx.Err(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) dismissForm(c *gin.Context) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || s.deps.Notifications == nil {
		c.String(http.StatusBadRequest, "invalid slot")
		return
	}
	if err := s.deps.Notifications.Dismiss(actorContext(c, "web"), slot); err != nil {
		s.log.Warn("dismiss failed", logx.Int("slot", slot), logx.Err(err))
	}
	redirectFlash(c, MsgDismissed)
}

func (s *Server) calendar(c *gin.Context) {
	var regs []timer.Registration
	if s.deps.Registry != nil {
		regs = s.deps.Registry.Registrations()
	}
	body := Calendar(regs, s.deps.Clock.Now()).Serialize()
	c.Header("Content-Disposition", `inline; filename="alarms.ics"`)
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}

func actorContext(c *gin.Context, source string) context.Context {
	return alarm.WithActor(c.Request.Context(), alarm.Actor{Source: source})
}

func redirectFlash(c *gin.Context, flash string) {
	target := "/"
	if flash != "" {
		target += "?flash=" + url.QueryEscape(flash)
	}
	c.Redirect(http.StatusSeeOther, target)
}
