package metrics

import (
	coremetrics "github.com/medrelay/dispatch/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records dispatch events in Prometheus metrics.
type PromSink struct {
	assignments *prometheus.CounterVec
	responses   *prometheus.CounterVec
	expired     prometheus.Counter
	latency     *prometheus.HistogramVec
}

// NewPromSink registers dispatch metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusAddr.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_assignments_total",
		Help: "Total number of unit assignment attempts",
	}, []string{"agency_id", "urgency", "outcome"})
	responses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "agency_responses_total",
		Help: "Total number of agency responses recorded",
	}, []string{"agency_id", "answer"})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stale_trips_expired_total",
		Help: "Total number of trips cancelled by the stale-request sweep",
	})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_assign_latency_seconds",
		Help:    "Time spent committing a unit assignment",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	if err := reg.Register(assignments); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			assignments = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(responses); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			responses = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(expired); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			expired = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(latency); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			latency = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{assignments: assignments, responses: responses, expired: expired, latency: latency}, nil
}

// RecordAssignment increments the assignment counter and observes latency.
func (s *PromSink) RecordAssignment(ev coremetrics.AssignmentEvent) error {
	s.assignments.WithLabelValues(ev.AgencyID, string(ev.Urgency), ev.Outcome).Inc()
	if ev.Latency > 0 {
		s.latency.WithLabelValues(ev.Outcome).Observe(ev.Latency.Seconds())
	}
	return nil
}

// RecordResponse increments the per-agency response counter.
func (s *PromSink) RecordResponse(ev coremetrics.ResponseEvent) error {
	s.responses.WithLabelValues(ev.AgencyID, string(ev.Answer)).Inc()
	return nil
}

// RecordSweep adds the number of expired trips to the sweep counter.
func (s *PromSink) RecordSweep(ev coremetrics.SweepEvent) error {
	s.expired.Add(float64(ev.Expired))
	return nil
}
