package model

import (
	"errors"
	"testing"
	"time"
)

// TestCanTransition walks the full cross product of states so that every
// transition outside the table is proven illegal.
func TestCanTransition(t *testing.T) {
	all := []TripStatus{TripPending, TripScheduled, TripInProgress, TripCompleted, TripCancelled}
	legal := map[TripStatus]map[TripStatus]bool{
		TripPending:   {TripScheduled: true, TripCancelled: true},
		TripScheduled: {TripInProgress: true, TripCancelled: true},
		TripInProgress: {
			TripCompleted: true,
		},
	}
	for _, from := range all {
		for _, to := range all {
			want := legal[from][to]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestCheckTransition(t *testing.T) {
	if err := CheckTransition(TripPending, TripScheduled); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}
	err := CheckTransition(TripInProgress, TripCancelled)
	if !errors.Is(err, ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []TripStatus{TripCompleted, TripCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []TripStatus{TripPending, TripScheduled, TripInProgress} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestParseUrgency(t *testing.T) {
	for _, s := range []string{"Routine", "Urgent", "Emergent"} {
		if _, err := ParseUrgency(s); err != nil {
			t.Errorf("ParseUrgency(%q) failed: %v", s, err)
		}
	}
	_, err := ParseUrgency("ASAP")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestReferenceTime(t *testing.T) {
	created := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	sched := created.Add(6 * time.Hour)

	trip := Trip{CreatedAt: created}
	if got := trip.ReferenceTime(); !got.Equal(created) {
		t.Errorf("unscheduled trip reference = %v, want created-at", got)
	}
	trip.ScheduledAt = &sched
	if got := trip.ReferenceTime(); !got.Equal(sched) {
		t.Errorf("scheduled trip reference = %v, want scheduled time", got)
	}
}

func TestAgencyMatchable(t *testing.T) {
	a := Agency{
		Active:          true,
		Available:       true,
		Capabilities:    []TransportLevel{LevelBLS, LevelALS},
		AvailableLevels: []TransportLevel{LevelBLS},
	}
	if !a.Matchable(LevelBLS) {
		t.Error("agency should match BLS")
	}
	if a.Matchable(LevelALS) {
		t.Error("ALS is licensed but not staffed, should not match")
	}
	if a.Matchable(LevelCCT) {
		t.Error("CCT is not licensed, should not match")
	}
	a.Available = false
	if a.Matchable(LevelBLS) {
		t.Error("unavailable agency should not match")
	}
}
