package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/notifier"
	"alarmd/internal/timer"
)

func TestObserveCountsEvents(t *testing.T) {
	t.Parallel()
	r := New(func() int { return 2 })

	r.Observe(eventbus.Event{Type: eventbus.AlarmScheduled, Data: alarm.Event{Kind: alarm.OneTime}})
	r.Observe(eventbus.Event{Type: eventbus.AlarmScheduled, Data: alarm.Event{Kind: alarm.OneTime}})
	r.Observe(eventbus.Event{Type: eventbus.AlarmRejected, Data: alarm.Event{Kind: alarm.Repeating}})
	r.Observe(eventbus.Event{Type: eventbus.TimerDelivered, Data: timer.Event{Mode: timer.ModeOneShot}})
	r.Observe(eventbus.Event{Type: eventbus.TimerArmed, Data: timer.Event{Mode: timer.ModeOneShot}})
	r.Observe(eventbus.Event{Type: eventbus.NotificationFailed, Data: notifier.Event{Sink: "chat", Error: "boom"}})
	r.Observe(eventbus.Event{Type: "unrelated", Data: 42})

	if got := testutil.ToFloat64(r.alarms.WithLabelValues("OneTimeAlarm", eventbus.AlarmScheduled)); got != 2 {
		t.Fatalf("scheduled = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.alarms.WithLabelValues("RepeatingAlarm", eventbus.AlarmRejected)); got != 1 {
		t.Fatalf("rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.deliveries.WithLabelValues("oneshot")); got != 1 {
		t.Fatalf("deliveries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.notifications.WithLabelValues("chat", resultError)); got != 1 {
		t.Fatalf("notification errors = %v, want 1", got)
	}
}

func TestHandlerExposesPendingGauge(t *testing.T) {
	t.Parallel()
	r := New(func() int { return 3 })
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "alarmd_pending_registrations 3") {
		t.Fatalf("metrics output missing pending gauge:\n%s", rec.Body.String())
	}
}

func TestRunCountsEventsPublishedBeforeStart(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	r := New(func() int { return 0 })

	ch, unsub := bus.Subscribe(8)
	defer unsub()
	bus.Publish(eventbus.Event{Type: eventbus.AlarmFired, Data: alarm.Event{Kind: alarm.OneTime}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx, ch)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(r.alarms.WithLabelValues("OneTimeAlarm", eventbus.AlarmFired)) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("event published before Run was not counted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
