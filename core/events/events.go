package events

import (
	"time"

	"github.com/medrelay/dispatch/core/match"
	"github.com/medrelay/dispatch/core/model"
)

// TripCreated is published when a new transport request enters the system.
type TripCreated struct {
	Trip model.Trip
}

// CandidatesFound is published after matching, with the ordered agency list.
// The alert notifier consumes it; delivery itself is outside the engine.
type CandidatesFound struct {
	Trip       model.Trip
	Candidates []match.Candidate
}

// ResponseRecorded is published for each agency reply.
type ResponseRecorded struct {
	Response model.AgencyResponse
}

// ResponseSelected is published when a response wins selection.
type ResponseSelected struct {
	Response model.AgencyResponse
}

// UnitAssigned is published after a successful assignment transaction.
type UnitAssigned struct {
	Assignment model.Assignment
	TripID     string
	UnitID     string
	AgencyID   string
}

// TripClosed is published when a trip reaches a terminal state.
type TripClosed struct {
	TripID string
	Status model.TripStatus
	Reason string
}

// TripExpired is published for each trip cancelled by the stale sweep.
type TripExpired struct {
	TripID    string
	Age       time.Duration
	ExpiredAt time.Time
}
