// Package metrics defines the observability contract of the dispatch engine.
// Sinks live under infra/metrics; the engine records events through the Sink
// interface and never depends on a concrete backend.
package metrics

import (
	"time"

	"github.com/medrelay/dispatch/core/model"
)

// AssignmentEvent is recorded for every assignment attempt.
type AssignmentEvent struct {
	TripID   string
	UnitID   string
	AgencyID string
	Urgency  model.Urgency
	// Outcome is "assigned", "released" or the failed precondition
	// ("unit_unavailable", "trip_assigned").
	Outcome string
	Latency time.Duration
	Time    time.Time
}

// ResponseEvent is recorded for every agency reply.
type ResponseEvent struct {
	TripID   string
	AgencyID string
	Answer   model.Answer
	Time     time.Time
}

// SweepEvent is recorded after each stale-request sweep.
type SweepEvent struct {
	Expired int
	Time    time.Time
}

// Sink records dispatch events for observability purposes.
type Sink interface {
	RecordAssignment(ev AssignmentEvent) error
	RecordResponse(ev ResponseEvent) error
	RecordSweep(ev SweepEvent) error
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RecordAssignment(AssignmentEvent) error { return nil }
func (NopSink) RecordResponse(ResponseEvent) error     { return nil }
func (NopSink) RecordSweep(SweepEvent) error           { return nil }

// MultiSink fans events out to multiple sinks, returning the first error.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordAssignment(ev AssignmentEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAssignment(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordResponse(ev ResponseEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordResponse(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordSweep(ev SweepEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordSweep(ev); err != nil {
			return err
		}
	}
	return nil
}

// Config defines settings for metrics sinks.
type Config struct {
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusAddr    string `json:"prometheus_addr"`
	InfluxEnabled     bool   `json:"influx_enabled"`
	InfluxURL         string `json:"influx_url"`
	InfluxToken       string `json:"influx_token"`
	InfluxOrg         string `json:"influx_org"`
	InfluxBucket      string `json:"influx_bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusAddr == "" {
		c.PrometheusAddr = ":9090"
	}
}
