package production

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/comalice/hsmx"
)

// MetricsPublisher turns trace records into Prometheus counters.
type MetricsPublisher struct {
	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	timers      *prometheus.CounterVec
	panics      *prometheus.CounterVec
}

// NewMetricsPublisher creates the hsmx_* counters and registers them
// with reg.
func NewMetricsPublisher(reg prometheus.Registerer) (*MetricsPublisher, error) {
	p := &MetricsPublisher{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsmx_events_total",
				Help: "Events dispatched, by engine and outcome (handled, bubbled, dropped).",
			},
			[]string{"engine", "outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsmx_transitions_total",
				Help: "State transitions performed, by engine.",
			},
			[]string{"engine"},
		),
		timers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsmx_timers_total",
				Help: "Timer operations, by engine and op (scheduled, fired, cancelled).",
			},
			[]string{"engine", "op"},
		),
		panics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsmx_handler_panics_total",
				Help: "Recovered state handler panics, by engine.",
			},
			[]string{"engine"},
		),
	}

	for _, c := range []prometheus.Collector{p.events, p.transitions, p.timers, p.panics} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register hsmx metrics: %w", err)
		}
	}
	return p, nil
}

func (p *MetricsPublisher) Publish(_ context.Context, rec hsmx.Record) error {
	switch rec.Kind {
	case hsmx.RecordHandled, hsmx.RecordBubbled, hsmx.RecordDropped:
		p.events.WithLabelValues(rec.Engine, string(rec.Kind)).Inc()
	case hsmx.RecordTransition:
		p.transitions.WithLabelValues(rec.Engine).Inc()
	case hsmx.RecordTimerScheduled:
		p.timers.WithLabelValues(rec.Engine, "scheduled").Inc()
	case hsmx.RecordTimerFired:
		p.timers.WithLabelValues(rec.Engine, "fired").Inc()
	case hsmx.RecordTimerCancelled:
		p.timers.WithLabelValues(rec.Engine, "cancelled").Inc()
	case hsmx.RecordPanic:
		p.panics.WithLabelValues(rec.Engine).Inc()
	}
	return nil
}

func (p *MetricsPublisher) Close() error {
	return nil
}
