package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"alarmd/internal/alarm"
	"alarmd/internal/eventbus"
	"alarmd/internal/notifier"
	"alarmd/internal/timer"
)

const (
	metricPrefix = "alarmd_"

	resultSuccess = "success"
	resultError   = "error"
)

// Recorder owns a registry with the alarm metrics and keeps them current
// from event bus traffic.
type Recorder struct {
	reg *prometheus.Registry

	alarms        *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// New registers the collectors. pending reports the number of live timer
// registrations; it may be nil.
func New(pending func() int) *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		alarms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarm_events_total",
				Help: "Alarm lifecycle events by kind and event",
			},
			[]string{"kind", "event"},
		),
		deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "timer_deliveries_total",
				Help: "Timer deliveries by mode",
			},
			[]string{"mode"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notification_posts_total",
				Help: "Notification posts by sink and result",
			},
			[]string{"sink", "result"},
		),
	}
	r.reg.MustRegister(
		r.alarms, r.deliveries, r.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if pending != nil {
		r.reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: metricPrefix + "pending_registrations",
				Help: "Registered alarms waiting for delivery",
			},
			func() float64 { return float64(pending()) },
		))
	}
	return r
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// Run observes events from ch until ctx is done or ch is closed. Subscribe
// before anything publishes so no event is missed.
func (r *Recorder) Run(ctx context.Context, ch <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			r.Observe(e)
		}
	}
}

// Observe updates counters for a single event.
func (r *Recorder) Observe(e eventbus.Event) {
	switch d := e.Data.(type) {
	case alarm.Event:
		r.alarms.WithLabelValues(d.Kind.String(), e.Type).Inc()
	case timer.Event:
		if e.Type == eventbus.TimerDelivered {
			r.deliveries.WithLabelValues(string(d.Mode)).Inc()
		}
	case notifier.Event:
		result := resultSuccess
		if d.Error != "" {
			result = resultError
		}
		r.notifications.WithLabelValues(d.Sink, result).Inc()
	}
}
