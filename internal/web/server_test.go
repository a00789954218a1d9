package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jmhodges/clock"

	"alarmd/internal/alarm"
	"alarmd/internal/notifier"
	"alarmd/internal/timer"
	logx "alarmd/pkg/logx"
)

func init() { gin.SetMode(gin.TestMode) }

var t0 = time.Date(2025, time.June, 1, 9, 30, 0, 0, time.UTC)

type fixture struct {
	srv    *Server
	timers *timer.Service
	notes  *notifier.Service
	hub    *Hub
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clk := clock.NewFake()
	clk.Set(t0)

	hub := NewHub(logx.Nop())
	timers := timer.New(timer.Config{Timezone: "UTC"}, logx.Nop(), timer.WithClock(clk))
	notes := notifier.New(notifier.Config{}, logx.Nop(), notifier.WithClock(clk), notifier.WithSinks(hub))
	sched := alarm.NewScheduler(timers, notes,
		alarm.WithClock(clk),
		alarm.WithLocation(time.UTC),
		alarm.WithFeedback(hub),
	)
	srv := New(cfg, Deps{
		Alarms:        sched,
		Registry:      timers,
		Notifications: notes,
		Hub:           hub,
		Clock:         clk,
		Location:      func() *time.Location { return time.UTC },
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("alarmd_up 1\n"))
		}),
	}, logx.Nop())
	return &fixture{srv: srv, timers: timers, notes: notes, hub: hub}
}

func (f *fixture) do(t *testing.T, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) form(t *testing.T, target string, v url.Values) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, http.MethodPost, target, "application/x-www-form-urlencoded", v.Encode())
}

func (f *fixture) alarms(t *testing.T) []AlarmView {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/api/alarms", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/alarms = %d", rec.Code)
	}
	var out struct {
		Alarms []AlarmView `json:"alarms"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode alarms: %v", err)
	}
	return out.Alarms
}

func flashOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	u, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	return u.Query().Get("flash")
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestFormSchedulesOneTimeAlarm(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	rec := f.form(t, "/alarms", url.Values{"date": {"2025-06-02"}, "time": {"08:15"}, "message": {"dentist"}})
	if got := flashOf(t, rec); got != alarm.MsgOneTimeSet {
		t.Fatalf("flash = %q", got)
	}

	list := f.alarms(t)
	if len(list) != 1 {
		t.Fatalf("alarms = %+v", list)
	}
	a := list[0]
	if a.Kind != alarm.OneTime || a.Slot != alarm.OneTimeSlotID || a.Message != "dentist" {
		t.Fatalf("alarm = %+v", a)
	}
	if want := time.Date(2025, 6, 2, 8, 15, 0, 0, time.UTC); !a.FireAt.Equal(want) {
		t.Fatalf("fire_at = %v, want %v", a.FireAt, want)
	}

	page := f.do(t, http.MethodGet, "/?flash="+url.QueryEscape(alarm.MsgOneTimeSet), "", "")
	body := page.Body.String()
	for _, want := range []string{"Set alarm", alarm.MsgOneTimeSet, "2025-06-02 08:15", "dentist"} {
		if !strings.Contains(body, want) {
			t.Fatalf("index page missing %q", want)
		}
	}
}

func TestFormRejectsInvalidDate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	rec := f.form(t, "/alarms", url.Values{"date": {"2024-02-30"}, "time": {"08:15"}, "message": {"x"}})
	if got := flashOf(t, rec); got != alarm.MsgInvalidDateTime {
		t.Fatalf("flash = %q", got)
	}
	if list := f.alarms(t); len(list) != 0 {
		t.Fatalf("invalid date registered %+v", list)
	}

	rec = f.form(t, "/alarms", url.Values{"time": {"7:5"}, "repeat": {"1"}})
	if got := flashOf(t, rec); got != alarm.MsgInvalidTime {
		t.Fatalf("repeat flash = %q", got)
	}
}

func TestFormCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	// Nothing pending: no flash at all.
	if got := flashOf(t, f.form(t, "/alarms/one-time/cancel", nil)); got != "" {
		t.Fatalf("empty cancel flash = %q", got)
	}

	f.form(t, "/alarms", url.Values{"date": {"2025-06-02"}, "time": {"08:15"}, "message": {"x"}})
	if got := flashOf(t, f.form(t, "/alarms/one-time/cancel", nil)); got != alarm.MsgOneTimeCancel {
		t.Fatalf("cancel flash = %q", got)
	}
	if list := f.alarms(t); len(list) != 0 {
		t.Fatalf("alarms after cancel = %+v", list)
	}
}

func TestAPIScheduleAndCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/api/alarms", "application/json", `{"kind":"daily","time":"07:00","message":"stretch"}`)
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), alarm.MsgRepeatingSet) {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}

	list := f.alarms(t)
	if len(list) != 1 || list[0].Kind != alarm.Repeating || list[0].Interval != "24h0m0s" {
		t.Fatalf("alarms = %+v", list)
	}
	if !strings.Contains(list[0].Rule, "FREQ=DAILY") {
		t.Fatalf("rule = %q", list[0].Rule)
	}
	if want := time.Date(2025, 6, 2, 7, 0, 0, 0, time.UTC); !list[0].Next.Equal(want) {
		t.Fatalf("next = %v, want %v", list[0].Next, want)
	}

	if rec := f.do(t, http.MethodDelete, "/api/alarms/repeating", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	if list := f.alarms(t); len(list) != 0 {
		t.Fatalf("alarms after delete = %+v", list)
	}
	// Cancelling an empty slot is still fine.
	if rec := f.do(t, http.MethodDelete, "/api/alarms/repeating", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("second delete = %d", rec.Code)
	}
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	tests := []struct {
		name, method, target, body string
		want                       int
	}{
		{"unknown kind", http.MethodPost, "/api/alarms", `{"kind":"weekly","time":"07:00"}`, http.StatusBadRequest},
		{"missing kind", http.MethodPost, "/api/alarms", `{"time":"07:00"}`, http.StatusBadRequest},
		{"malformed", http.MethodPost, "/api/alarms", `{`, http.StatusBadRequest},
		{"bad time", http.MethodPost, "/api/alarms", `{"kind":"repeating","time":"24:00"}`, http.StatusUnprocessableEntity},
		{"bad date", http.MethodPost, "/api/alarms", `{"kind":"one-time","date":"2025-6-01","time":"07:00"}`, http.StatusUnprocessableEntity},
		{"delete unknown kind", http.MethodDelete, "/api/alarms/weekly", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := f.do(t, tt.method, tt.target, "application/json", tt.body)
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d, want %d (%s)", tt.name, rec.Code, tt.want, rec.Body.String())
		}
	}
	if list := f.alarms(t); len(list) != 0 {
		t.Fatalf("rejected requests registered %+v", list)
	}
}

func TestNotificationsEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	if err := f.notes.Show(context.Background(), alarm.Notification{Title: "OneTimeAlarm", Message: "hi", SlotID: 1012}); err != nil {
		t.Fatalf("Show: %v", err)
	}
	rec := f.do(t, http.MethodGet, "/api/notifications", "", "")
	var out struct {
		Active  []notifier.Post `json:"active"`
		History []notifier.Post `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Active) != 1 || out.Active[0].Body != "hi" || len(out.History) != 1 {
		t.Fatalf("notifications = %+v", out)
	}
}

func TestDismissNotification(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()
	for _, slot := range []int{alarm.OneTimeSlotID, alarm.RepeatingSlotID} {
		if err := f.notes.Show(ctx, alarm.Notification{Title: "t", Message: "m", SlotID: slot}); err != nil {
			t.Fatalf("Show: %v", err)
		}
	}

	if rec := f.do(t, http.MethodDelete, "/api/notifications/1012", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d %s", rec.Code, rec.Body.String())
	}
	if a := f.notes.Active(); len(a) != 1 || a[0].SlotID != alarm.RepeatingSlotID {
		t.Fatalf("active after api dismiss = %+v", a)
	}

	rec := f.form(t, "/notifications/1013/dismiss", url.Values{})
	if got := flashOf(t, rec); got != MsgDismissed {
		t.Fatalf("flash = %q", got)
	}
	if a := f.notes.Active(); len(a) != 0 {
		t.Fatalf("active after form dismiss = %+v", a)
	}
	if n := len(f.notes.History()); n != 2 {
		t.Fatalf("history lost on dismiss: %d", n)
	}

	// Unknown slots are a no-op, malformed ones are rejected.
	if rec := f.do(t, http.MethodDelete, "/api/notifications/7", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE unknown = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodDelete, "/api/notifications/abc", "", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("DELETE malformed = %d", rec.Code)
	}
}

func TestPprofRoutes(t *testing.T) {
	t.Parallel()
	off := newFixture(t, Config{})
	if rec := off.do(t, http.MethodGet, "/debug/pprof/", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled = %d", rec.Code)
	}

	f := newFixture(t, Config{Pprof: true})
	rec := f.do(t, http.MethodGet, "/debug/pprof/", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatalf("pprof index = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/debug/pprof/goroutine?debug=1", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine profile") {
		t.Fatalf("goroutine profile = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/debug/pprof/cmdline", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("cmdline = %d", rec.Code)
	}

	locked := newFixture(t, Config{Pprof: true, Username: "admin", Password: "secret"})
	if rec := locked.do(t, http.MethodGet, "/debug/pprof/", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("pprof behind auth = %d", rec.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{Username: "admin", Password: "secret"})

	if rec := f.do(t, http.MethodGet, "/api/alarms", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz behind auth = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "alarmd_up") {
		t.Fatalf("authenticated metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestCalendarExport(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.form(t, "/alarms", url.Values{"date": {"2025-06-02"}, "time": {"08:15"}, "message": {"dentist"}})
	f.form(t, "/alarms", url.Values{"time": {"07:00"}, "message": {"stretch"}, "repeat": {"1"}})

	rec := f.do(t, http.MethodGet, "/alarms.ics", "", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("ics = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	for _, want := range []string{"BEGIN:VALARM", "ACTION:DISPLAY", "SUMMARY:OneTimeAlarm", "SUMMARY:RepeatingAlarm", "FREQ=DAILY"} {
		if !strings.Contains(body, want) {
			t.Fatalf("calendar missing %q:\n%s", want, body)
		}
	}

	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseCalendar: %v", err)
	}
	if n := len(cal.Events()); n != 2 {
		t.Fatalf("events = %d, want 2", n)
	}
}

func TestHubPushesToasts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := f.do(t, http.MethodPost, "/api/alarms", "application/json", `{"kind":"one-time","date":"2025-06-02","time":"08:15","message":"x"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d", rec.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != MsgToast || msg.Payload["text"] != alarm.MsgOneTimeSet {
		t.Fatalf("message = %+v", msg)
	}

	f.hub.Close()
	if f.hub.Clients() != 0 {
		t.Fatalf("clients after Close = %d", f.hub.Clients())
	}
}
