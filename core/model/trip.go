package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/medrelay/dispatch/core/geo"
)

// TripStatus is the lifecycle state of a transport request.
type TripStatus string

const (
	TripPending    TripStatus = "PENDING"
	TripScheduled  TripStatus = "SCHEDULED"
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
	TripCancelled  TripStatus = "CANCELLED"
)

// Urgency is the clinical urgency of a transport request.
type Urgency string

const (
	UrgencyRoutine  Urgency = "Routine"
	UrgencyUrgent   Urgency = "Urgent"
	UrgencyEmergent Urgency = "Emergent"
)

// ParseUrgency validates a caller-supplied urgency value.
func ParseUrgency(s string) (Urgency, error) {
	switch Urgency(s) {
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergent:
		return Urgency(s), nil
	}
	return "", &ValidationError{Field: "urgency", Reason: fmt.Sprintf("unknown urgency %q", s)}
}

// Trip is a patient transport request from a healthcare facility.
type Trip struct {
	ID              string
	FacilityID      string
	Origin          *geo.Point
	OriginName      string
	DestinationName string
	Level           TransportLevel
	Urgency         Urgency
	ScheduledAt     *time.Time
	Status          TripStatus
	AssignedUnitID  *string
	RequestedBy     string
	CancelReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ReferenceTime is the instant staleness is measured against: the scheduled
// pickup when one exists, otherwise the creation time.
func (t Trip) ReferenceTime() time.Time {
	if t.ScheduledAt != nil {
		return *t.ScheduledAt
	}
	return t.CreatedAt
}

// Terminal reports whether the status has no outgoing transitions.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// ErrInvalidStateTransition is returned when a trip status change is not in
// the transition table. Callers racing on the same trip treat it as "someone
// else already handled this".
var ErrInvalidStateTransition = errors.New("invalid trip state transition")

// allowedTransitions encodes the trip lifecycle. A trip that is already
// IN_PROGRESS can only complete; cancellation is only possible before pickup.
var allowedTransitions = map[TripStatus][]TripStatus{
	TripPending:    {TripScheduled, TripCancelled},
	TripScheduled:  {TripInProgress, TripCancelled},
	TripInProgress: {TripCompleted},
}

// CanTransition reports whether from→to is a legal lifecycle step.
func CanTransition(from, to TripStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidStateTransition (wrapped with the
// offending pair) when from→to is not allowed.
func CheckTransition(from, to TripStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
	}
	return nil
}

// ValidationError reports malformed caller input. It is never retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
