package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	coremetrics "github.com/medrelay/dispatch/core/metrics"
	"github.com/medrelay/dispatch/core/model"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg)
	require.NoError(t, err)

	require.NoError(t, sink.RecordAssignment(coremetrics.AssignmentEvent{
		TripID:   "t1",
		UnitID:   "u1",
		AgencyID: "a1",
		Urgency:  model.UrgencyUrgent,
		Outcome:  "assigned",
		Latency:  25 * time.Millisecond,
		Time:     time.Now(),
	}))
	require.NoError(t, sink.RecordAssignment(coremetrics.AssignmentEvent{
		AgencyID: "a1",
		Urgency:  model.UrgencyUrgent,
		Outcome:  "unit_unavailable",
	}))
	require.NoError(t, sink.RecordResponse(coremetrics.ResponseEvent{AgencyID: "a1", Answer: model.AnswerAccept}))
	require.NoError(t, sink.RecordSweep(coremetrics.SweepEvent{Expired: 3}))
	require.NoError(t, sink.RecordSweep(coremetrics.SweepEvent{Expired: 2}))

	ps := sink.(*PromSink)
	if got := testutil.ToFloat64(ps.assignments.WithLabelValues("a1", "Urgent", "assigned")); got != 1 {
		t.Errorf("assigned counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ps.assignments.WithLabelValues("a1", "Urgent", "unit_unavailable")); got != 1 {
		t.Errorf("unit_unavailable counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ps.responses.WithLabelValues("a1", "ACCEPT")); got != 1 {
		t.Errorf("responses counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ps.expired); got != 5 {
		t.Errorf("expired counter = %v, want 5", got)
	}
}

func TestPromSinkReregister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	// Registering twice on the same registry reuses the existing collectors.
	if _, err := NewPromSinkWithRegistry(coremetrics.Config{}, reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestNewFromConfig(t *testing.T) {
	sink, err := NewFromConfig(coremetrics.Config{})
	require.NoError(t, err)
	if _, ok := sink.(coremetrics.NopSink); !ok {
		t.Fatalf("expected NopSink with nothing enabled, got %T", sink)
	}
}
