package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/realtime-task-progress/internal/progress"
)

// PrometheusSink exports tracking metrics via Prometheus. It owns the collectors
// for sessions opened/closed/open, task updates, and failures.
type PrometheusSink struct {
	sessionsOpened    prometheus.Counter
	sessionsOpen      prometheus.Gauge
	sessionDuration   prometheus.Histogram
	taskUpdates       *prometheus.CounterVec
	routingFailures   prometheus.Counter
	transportFailures prometheus.Counter

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		sessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskprogress_sessions_opened_total",
			Help: "Tracking sessions whose connection opened.",
		}),
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "taskprogress_sessions_open",
			Help: "Tracking sessions currently holding an open connection.",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskprogress_session_duration_seconds",
			Help:    "Lifetime of closed tracking sessions.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
		}),
		taskUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskprogress_task_updates_total",
			Help: "Dispatched task events partitioned by kind.",
		}, []string{"kind"}),
		routingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskprogress_routing_failures_total",
			Help: "Inbound messages that could not be routed to a task.",
		}),
		transportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskprogress_transport_failures_total",
			Help: "Sessions that lost or never obtained their connection.",
		}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.sessionsOpened,
		s.sessionsOpen,
		s.sessionDuration,
		s.taskUpdates,
		s.routingFailures,
		s.transportFailures,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register tracking collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageSessionOpen:
		s.sessionsOpened.Inc()
		if s.tracker.open(evt.SessionID) {
			s.sessionsOpen.Inc()
		}
	case progress.StageSessionClosed:
		if s.tracker.close(evt.SessionID) {
			s.sessionsOpen.Dec()
		}
		if evt.Dur > 0 {
			s.sessionDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageTaskProgress:
		s.taskUpdates.WithLabelValues("progress").Inc()
	case progress.StageTaskSuccess:
		s.taskUpdates.WithLabelValues("success").Inc()
	case progress.StageTaskError:
		s.taskUpdates.WithLabelValues("error").Inc()
	case progress.StageRoutingFailure:
		s.routingFailures.Inc()
	case progress.StageTransportFailure:
		s.transportFailures.Inc()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu   sync.Mutex
	live map[[16]byte]struct{}
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{live: make(map[[16]byte]struct{})}
}

func (t *sessionTracker) open(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; ok {
		return false
	}
	t.live[id] = struct{}{}
	return true
}

func (t *sessionTracker) close(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[id]; !ok {
		return false
	}
	delete(t.live, id)
	return true
}
