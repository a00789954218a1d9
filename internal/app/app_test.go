package app

import (
	"context"
	"os"
	"sync"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"alarmd/internal/alarm"
	"alarmd/internal/config"
	"alarmd/internal/eventbus"
	"alarmd/internal/notifier"
	"alarmd/internal/storage"
	"alarmd/internal/timer"
	"alarmd/internal/transport"
	logx "alarmd/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	if _, enabled, err := mapStorageConfig(&config.Config{}); err != nil || enabled {
		t.Fatalf("empty driver: enabled=%v err=%v", enabled, err)
	}
	sc, enabled, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: " SQLite ", Path: "a.db"}})
	if err != nil || !enabled || sc.Driver != "sqlite" || sc.BusyTimeout != time.Second {
		t.Fatalf("sqlite = %+v enabled=%v err=%v", sc, enabled, err)
	}
	if _, _, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "bolt", BusyTimeout: "x"}}); err == nil {
		t.Fatalf("bad busy_timeout accepted")
	}
}

func TestMapNotifierAndWebConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		HTTP:     config.HTTPConfig{Enabled: true, ReadTimeout: "5s", BasicAuth: config.BasicAuth{Username: "u", Password: "p"}},
		Notifier: config.NotifierConfig{SendTimeout: "3s", Channel: config.ChannelConfig{VibrationPulses: 2, VibrationPulse: "250ms"}},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/m"},
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil || nc.SendTimeout != 3*time.Second || nc.Channel.VibrationPulse != 250*time.Millisecond {
		t.Fatalf("notifier = %+v, %v", nc, err)
	}
	wc, err := mapWebConfig(cfg)
	if err != nil || wc.ReadTimeout != 5*time.Second || wc.WriteTimeout != 30*time.Second || wc.MetricsPath != "/m" || wc.Username != "u" {
		t.Fatalf("web = %+v, %v", wc, err)
	}

	lc := mapLoggingConfig(&config.Config{Logging: config.LoggingConfig{Telegram: config.LoggingTelegram{Enabled: true}}})
	if lc.Chat.Enabled {
		t.Fatalf("chat logging enabled without telegram")
	}
}

func TestAuditEntry(t *testing.T) {
	t.Parallel()
	at := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		ev   eventbus.Event
		ok   bool
		chk  func(t *testing.T, got string, okField bool, source string)
	}{
		{
			name: "alarm rejected",
			ev: eventbus.Event{Type: eventbus.AlarmRejected, Time: at, Data: alarm.Event{
				Kind: alarm.OneTime, SlotID: 1012, Error: "bad date", Source: "web",
			}},
			ok: true,
			chk: func(t *testing.T, kind string, okField bool, source string) {
				if kind != "OneTimeAlarm" || okField || source != "web" {
					t.Fatalf("kind=%q ok=%v source=%q", kind, okField, source)
				}
			},
		},
		{
			name: "timer delivered",
			ev:   eventbus.Event{Type: eventbus.TimerDelivered, Time: at, Data: timer.Event{Slot: 1013, Mode: timer.ModeRepeating, At: at}},
			ok:   true,
			chk: func(t *testing.T, kind string, okField bool, source string) {
				if kind != "RepeatingAlarm" || !okField || source != "timer" {
					t.Fatalf("kind=%q ok=%v source=%q", kind, okField, source)
				}
			},
		},
		{
			name: "timer armed skipped",
			ev:   eventbus.Event{Type: eventbus.TimerArmed, Time: at, Data: timer.Event{Slot: 1013}},
		},
		{
			name: "notification failed",
			ev:   eventbus.Event{Type: eventbus.NotificationFailed, Time: at, Data: notifier.Event{Sink: "chat", SlotID: 1012, Title: "OneTimeAlarm", Error: "x"}},
			ok:   true,
			chk: func(t *testing.T, kind string, okField bool, source string) {
				if okField || source != "notifier" {
					t.Fatalf("ok=%v source=%q", okField, source)
				}
			},
		},
		{name: "foreign payload", ev: eventbus.Event{Type: "other", Data: 1}},
	}
	for _, tt := range tests {
		got, ok := auditEntry(tt.ev)
		if ok != tt.ok {
			t.Fatalf("%s: ok = %v, want %v", tt.name, ok, tt.ok)
		}
		if !ok {
			continue
		}
		if got.Action != tt.ev.Type || !got.At.Equal(at) {
			t.Fatalf("%s: entry = %+v", tt.name, got)
		}
		tt.chk(t, got.Kind, got.OK, got.Source)
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "config.json")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAppDeliversAndAudits(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `{
		"timezone": "UTC",
		"logging": {"level": "error", "console": true},
		"storage": {"driver": "file", "path": "`+filepath.ToSlash(filepath.Join(dir, "alarmd.db"))+`"}
	}`)

	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A fire time in the past is delivered right away.
	if err := a.Scheduler().Schedule(ctx, alarm.Request{Kind: alarm.OneTime, Date: "2020-01-01", Time: "00:00", Message: "overdue"}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	waitFor(t, "notification", func() bool { return len(a.notif.History()) == 1 })
	if h := a.notif.History()[0]; h.Title != "OneTimeAlarm" || h.Body != "overdue" || h.SlotID != 1012 {
		t.Fatalf("posted %+v", h)
	}
	if n := len(a.timers.Registrations()); n != 0 {
		t.Fatalf("one-time registration kept after delivery: %d", n)
	}

	auditPath := filepath.Join(dir, "alarmd.audit.jsonl")
	waitFor(t, "audit rows", func() bool {
		b, _ := os.ReadFile(auditPath)
		s := string(b)
		return strings.Contains(s, eventbus.AlarmScheduled) &&
			strings.Contains(s, eventbus.TimerDelivered) &&
			strings.Contains(s, eventbus.NotificationPosted)
	})

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestAppAuditsOverdueAlarmRestoredAtStart(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "alarmd.db")

	st, err := storage.Open(storage.Config{Driver: "file", Path: dbPath}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	payload, err := alarm.Payload{Kind: alarm.OneTime, Message: "missed while down"}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	err = st.PutRegistration(context.Background(), storage.Registration{
		Slot:      alarm.OneTimeSlotID,
		Mode:      string(timer.ModeOneShot),
		FireAt:    time.Now().Add(-time.Hour),
		Payload:   payload,
		Token:     "restored",
		CreatedAt: time.Now().Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed registration: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	path := writeConfig(t, dir, `{
		"timezone": "UTC",
		"logging": {"level": "error", "console": true},
		"storage": {"driver": "file", "path": "`+filepath.ToSlash(dbPath)+`"}
	}`)
	a, err := NewApp(path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
	}()

	waitFor(t, "restored notification", func() bool { return len(a.notif.History()) == 1 })
	if h := a.notif.History()[0]; h.Body != "missed while down" || h.SlotID != alarm.OneTimeSlotID {
		t.Fatalf("posted %+v", h)
	}

	auditPath := filepath.Join(dir, "alarmd.audit.jsonl")
	waitFor(t, "audit rows for the restored delivery", func() bool {
		b, _ := os.ReadFile(auditPath)
		s := string(b)
		return strings.Contains(s, eventbus.AlarmFired) &&
			strings.Contains(s, eventbus.TimerDelivered) &&
			strings.Contains(s, eventbus.NotificationPosted)
	})
}

type chatRecorder struct {
	mu    sync.Mutex
	chats []int64
}

func (r *chatRecorder) SendText(_ context.Context, to transport.ChatTarget, _ string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, to.ChatID)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(r.chats)}, nil
}

func (r *chatRecorder) DeleteMessage(context.Context, transport.MessageRef) error { return nil }

func (r *chatRecorder) sent() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.chats...)
}

func TestApplyChatSinkFollowsConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := &chatRecorder{}
	a := &App{
		log:     logx.Nop(),
		chatLog: logx.Nop(),
		chat:    rec,
		notif:   notifier.New(notifier.Config{}, logx.Nop(), notifier.WithSinks(notifier.LogSink{Log: logx.Nop()})),
	}
	show := func() {
		t.Helper()
		if err := a.notif.Show(ctx, alarm.Notification{Title: "OneTimeAlarm", Message: "m", SlotID: alarm.OneTimeSlotID}); err != nil {
			t.Fatalf("Show: %v", err)
		}
	}
	withChat := func(id int64) *config.Config {
		return &config.Config{Telegram: config.TelegramConfig{ChatID: id}}
	}

	a.applyChatSink(withChat(0))
	show()
	a.applyChatSink(withChat(42))
	show()
	a.applyChatSink(withChat(43))
	show()
	a.applyChatSink(withChat(0))
	show()

	got := rec.sent()
	if len(got) != 2 || got[0] != 42 || got[1] != 43 {
		t.Fatalf("chat sends = %v, want [42 43]", got)
	}
	if a.notif.RemoveSink(notifier.ChatSinkName) {
		t.Fatal("chat sink still registered after chat_id was cleared")
	}
}
