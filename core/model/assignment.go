package model

import "time"

// AssignmentType distinguishes the primary transporting unit from any future
// support roles.
type AssignmentType string

const AssignmentPrimary AssignmentType = "PRIMARY"

// AssignmentStatus is the lifecycle of a unit/trip binding.
type AssignmentStatus string

const (
	AssignmentActive AssignmentStatus = "ACTIVE"
	AssignmentEnded  AssignmentStatus = "ENDED"
)

// Assignment binds a unit to a trip. A unit may have at most one ACTIVE
// assignment at a time.
type Assignment struct {
	ID         string
	UnitID     string
	TripID     string
	Type       AssignmentType
	Status     AssignmentStatus
	StartedAt  time.Time
	EndedAt    *time.Time
	AssignedBy string
}
