// Package storage defines the persistence contract of the dispatch engine.
//
// All multi-step operations run inside RunInTx; the conditional updates
// (UpdateTripStatus, UpdateUnitStatus, MarkSelected, CreateAssignment) are the
// compare-and-set primitives the coordination logic builds its concurrency
// guarantees on. Implementations must make each of them atomic: the Postgres
// store delegates to guarded UPDATE statements inside a serializable
// transaction, the in-memory store to a single store-wide lock.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/medrelay/dispatch/core/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// TripFilter selects trips. Fields combine with AND; the zero value matches
// everything. Filters are explicit structs rather than ad-hoc maps so that
// contradictory predicates cannot be assembled.
type TripFilter struct {
	Statuses []model.TripStatus
	// StaleBefore matches trips whose reference time (scheduled pickup when
	// present, otherwise created-at) is before the given instant.
	StaleBefore *time.Time
	FacilityID  string
	Limit       int
}

// AgencyFilter selects agencies.
type AgencyFilter struct {
	IDs         []string
	ActiveOnly  bool
	OffersLevel model.TransportLevel
	AlertsOnly  bool
}

// UnitFilter selects units.
type UnitFilter struct {
	AgencyID   string
	Status     model.UnitStatus
	ActiveOnly bool
}

// TripStore persists trips.
type TripStore interface {
	CreateTrip(ctx context.Context, t *model.Trip) error
	GetTrip(ctx context.Context, id string) (*model.Trip, error)
	ListTrips(ctx context.Context, f TripFilter) ([]model.Trip, error)
	// UpdateTripStatus transitions a trip from→to only if it is still in the
	// from status. unitID, when non-nil, is written to the assigned-unit
	// column; reason, when non-nil, to the cancellation reason. Returns false
	// without error when the guard did not match.
	UpdateTripStatus(ctx context.Context, id string, from, to model.TripStatus, unitID, reason *string) (bool, error)
}

// AgencyStore persists agencies and their availability flags.
type AgencyStore interface {
	PutAgency(ctx context.Context, a *model.Agency) error
	GetAgency(ctx context.Context, id string) (*model.Agency, error)
	ListAgencies(ctx context.Context, f AgencyFilter) ([]model.Agency, error)
	// SetAgencyAvailability updates the is-available flag and the list of
	// currently staffed levels in one write.
	SetAgencyAvailability(ctx context.Context, id string, available bool, levels []model.TransportLevel) error
	// PreferredAgencyIDs returns the agencies a facility has marked preferred.
	PreferredAgencyIDs(ctx context.Context, facilityID string) ([]string, error)
	SetPreferredAgencies(ctx context.Context, facilityID string, agencyIDs []string) error
}

// UnitStore persists units.
type UnitStore interface {
	PutUnit(ctx context.Context, u *model.Unit) error
	GetUnit(ctx context.Context, id string) (*model.Unit, error)
	ListUnits(ctx context.Context, f UnitFilter) ([]model.Unit, error)
	// UpdateUnitStatus transitions a unit from→to only if it is still in the
	// from status. Returns false without error when the guard did not match.
	UpdateUnitStatus(ctx context.Context, id string, from, to model.UnitStatus) (bool, error)
}

// ResponseStore persists agency responses.
type ResponseStore interface {
	CreateResponse(ctx context.Context, r *model.AgencyResponse) error
	GetResponse(ctx context.Context, id string) (*model.AgencyResponse, error)
	// GetResponseByTripAgency returns the single response an agency has on a
	// trip, or ErrNotFound.
	GetResponseByTripAgency(ctx context.Context, tripID, agencyID string) (*model.AgencyResponse, error)
	ListResponses(ctx context.Context, tripID string) ([]model.AgencyResponse, error)
	// UpdateResponse rewrites answer, notes, unit and timestamp of an
	// existing response row.
	UpdateResponse(ctx context.Context, r *model.AgencyResponse) error
	// MarkSelected sets the selected flag on the given response only if no
	// response for the trip is selected yet. Returns false without error when
	// another response already won.
	MarkSelected(ctx context.Context, tripID, responseID string) (bool, error)
}

// AssignmentStore persists unit/trip bindings.
type AssignmentStore interface {
	// CreateAssignment inserts the assignment unless the unit already has an
	// ACTIVE one, in which case it returns ErrActiveAssignmentExists.
	CreateAssignment(ctx context.Context, a *model.Assignment) error
	ActiveAssignmentForUnit(ctx context.Context, unitID string) (*model.Assignment, error)
	ActiveAssignmentForTrip(ctx context.Context, tripID string) (*model.Assignment, error)
	// EndAssignment moves an ACTIVE assignment to ENDED. Returns false
	// without error when the assignment was not active.
	EndAssignment(ctx context.Context, id string, endedAt time.Time) (bool, error)
}

// ErrActiveAssignmentExists is returned when a unit already has an ACTIVE
// assignment.
var ErrActiveAssignmentExists = errors.New("unit already has an active assignment")

// Store aggregates all record stores with transactional execution.
type Store interface {
	TripStore
	AgencyStore
	UnitStore
	ResponseStore
	AssignmentStore

	// RunInTx executes fn atomically: either every write made through tx is
	// applied, or none is. Implementations must provide at least snapshot
	// isolation; read-committed alone cannot prevent write skew between
	// concurrent assignments.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
