// Package assign commits a winning agency response to a physical unit. The
// five-step reservation (check unit, check trip, create assignment, flip unit
// status, flip trip status) runs as one transaction: either the full triple
// of trip, unit and assignment moves together or nothing changes.
package assign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medrelay/dispatch/core/events"
	"github.com/medrelay/dispatch/core/logger"
	"github.com/medrelay/dispatch/core/metrics"
	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/storage"
)

var (
	// ErrUnitUnavailable is returned when the unit is not AVAILABLE at
	// reservation time.
	ErrUnitUnavailable = errors.New("unit is not available")
	// ErrTripAlreadyAssigned is returned when the trip already has a unit, a
	// concurrent assignment having won the race.
	ErrTripAlreadyAssigned = errors.New("trip already has an assigned unit")
	// ErrResponseNotSelected is returned when the response has not won
	// selection, or is not an ACCEPT.
	ErrResponseNotSelected = errors.New("response is not a selected accept")
)

// Coordinator executes assignment and release transactions.
type Coordinator struct {
	store storage.Store
	bus   *events.Bus
	sink  metrics.Sink
	log   logger.Logger
	now   func() time.Time
}

// New creates a Coordinator. bus may be nil; sink defaults to NopSink; now
// defaults to time.Now.
func New(store storage.Store, bus *events.Bus, sink metrics.Sink, log logger.Logger, now func() time.Time) *Coordinator {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if now == nil {
		now = time.Now
	}
	return &Coordinator{store: store, bus: bus, sink: sink, log: log, now: now}
}

// Assign atomically reserves unitID for the trip behind the selected
// response. On any failed precondition the transaction rolls back: the unit
// stays AVAILABLE, the trip stays unassigned, and the typed error tells the
// caller which check failed so it can re-run matching with fresh data. The
// operation is never retried internally.
func (c *Coordinator) Assign(ctx context.Context, tripID, responseID, unitID string, assignedBy model.Actor) (*model.Assignment, error) {
	start := c.now()
	var (
		asg      *model.Assignment
		agencyID string
		urgency  model.Urgency
	)
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		resp, err := tx.GetResponse(ctx, responseID)
		if err != nil {
			return fmt.Errorf("load response %s: %w", responseID, err)
		}
		if resp.TripID != tripID || !resp.Selected || resp.Answer != model.AnswerAccept {
			return fmt.Errorf("%w: response %s", ErrResponseNotSelected, responseID)
		}
		agencyID = resp.AgencyID

		unit, err := tx.GetUnit(ctx, unitID)
		if err != nil {
			return fmt.Errorf("load unit %s: %w", unitID, err)
		}
		if !unit.Assignable() {
			return fmt.Errorf("%w: unit %s is %s", ErrUnitUnavailable, unitID, unit.Status)
		}
		if unit.AgencyID != resp.AgencyID {
			return &model.ValidationError{Field: "unitId", Reason: "unit does not belong to the responding agency"}
		}

		trip, err := tx.GetTrip(ctx, tripID)
		if err != nil {
			return fmt.Errorf("load trip %s: %w", tripID, err)
		}
		if trip.AssignedUnitID != nil {
			return fmt.Errorf("%w: trip %s", ErrTripAlreadyAssigned, tripID)
		}
		if err := model.CheckTransition(trip.Status, model.TripScheduled); err != nil {
			return err
		}
		urgency = trip.Urgency

		asg = &model.Assignment{
			ID:         uuid.NewString(),
			UnitID:     unitID,
			TripID:     tripID,
			Type:       model.AssignmentPrimary,
			Status:     model.AssignmentActive,
			StartedAt:  c.now().UTC(),
			AssignedBy: assignedBy.ID,
		}
		if err := tx.CreateAssignment(ctx, asg); err != nil {
			if errors.Is(err, storage.ErrActiveAssignmentExists) {
				return fmt.Errorf("%w: unit %s", ErrUnitUnavailable, unitID)
			}
			return fmt.Errorf("create assignment: %w", err)
		}

		ok, err := tx.UpdateUnitStatus(ctx, unitID, model.UnitAvailable, model.UnitInUse)
		if err != nil {
			return fmt.Errorf("reserve unit: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: unit %s changed status", ErrUnitUnavailable, unitID)
		}

		ok, err = tx.UpdateTripStatus(ctx, tripID, trip.Status, model.TripScheduled, &unitID, nil)
		if err != nil {
			return fmt.Errorf("schedule trip: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: trip %s changed status", ErrTripAlreadyAssigned, tripID)
		}

		resp.UnitID = &unitID
		if err := tx.UpdateResponse(ctx, resp); err != nil {
			return fmt.Errorf("record unit on response: %w", err)
		}
		return nil
	})

	outcome := "assigned"
	switch {
	case errors.Is(err, ErrUnitUnavailable):
		outcome = "unit_unavailable"
	case errors.Is(err, ErrTripAlreadyAssigned):
		outcome = "trip_assigned"
	case err != nil:
		outcome = "error"
	}
	_ = c.sink.RecordAssignment(metrics.AssignmentEvent{
		TripID:   tripID,
		UnitID:   unitID,
		AgencyID: agencyID,
		Urgency:  urgency,
		Outcome:  outcome,
		Latency:  c.now().Sub(start),
		Time:     c.now().UTC(),
	})
	if err != nil {
		if c.log != nil {
			c.log.Warnf("assignment failed: trip=%s unit=%s: %v", tripID, unitID, err)
		}
		return nil, err
	}

	if c.bus != nil {
		c.bus.Publish(events.UnitAssigned{Assignment: *asg, TripID: tripID, UnitID: unitID, AgencyID: agencyID})
	}
	if c.log != nil {
		c.log.Infof("unit assigned: trip=%s unit=%s agency=%s by=%s", tripID, unitID, agencyID, assignedBy.ID)
	}
	return asg, nil
}

// Release ends a trip's active assignment as part of cancellation or
// completion. The assignment moves to ENDED, the unit returns from IN_USE to
// AVAILABLE (a unit externally marked OUT_OF_SERVICE keeps that status), and
// the trip moves to the given terminal state with the assigned unit kept for
// audit.
func (c *Coordinator) Release(ctx context.Context, tripID string, to model.TripStatus, reason *string) error {
	if to != model.TripCompleted && to != model.TripCancelled {
		return &model.ValidationError{Field: "status", Reason: fmt.Sprintf("%s is not a terminal state", to)}
	}

	err := c.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		trip, err := tx.GetTrip(ctx, tripID)
		if err != nil {
			return fmt.Errorf("load trip %s: %w", tripID, err)
		}
		if err := model.CheckTransition(trip.Status, to); err != nil {
			return err
		}

		if trip.AssignedUnitID != nil {
			asg, err := tx.ActiveAssignmentForTrip(ctx, tripID)
			switch {
			case err == nil:
				if ok, err := tx.EndAssignment(ctx, asg.ID, c.now().UTC()); err != nil {
					return fmt.Errorf("end assignment: %w", err)
				} else if !ok {
					return fmt.Errorf("end assignment %s: already ended", asg.ID)
				}
				// Tolerate a unit flipped to OUT_OF_SERVICE mid-trip: the
				// guard simply does not match and the status is left alone.
				if _, err := tx.UpdateUnitStatus(ctx, asg.UnitID, model.UnitInUse, model.UnitAvailable); err != nil {
					return fmt.Errorf("release unit: %w", err)
				}
			case errors.Is(err, storage.ErrNotFound):
				// Assigned unit without an active assignment: nothing to end.
			default:
				return fmt.Errorf("load assignment: %w", err)
			}
		}

		ok, err := tx.UpdateTripStatus(ctx, tripID, trip.Status, to, nil, reason)
		if err != nil {
			return fmt.Errorf("close trip: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: trip %s changed status", model.ErrInvalidStateTransition, tripID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_ = c.sink.RecordAssignment(metrics.AssignmentEvent{
		TripID:  tripID,
		Outcome: "released",
		Time:    c.now().UTC(),
	})
	if c.bus != nil {
		r := ""
		if reason != nil {
			r = *reason
		}
		c.bus.Publish(events.TripClosed{TripID: tripID, Status: to, Reason: r})
	}
	if c.log != nil {
		c.log.Infof("trip closed: trip=%s status=%s", tripID, to)
	}
	return nil
}
