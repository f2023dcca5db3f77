// Package collect records agency responses to trips and arbitrates which
// response wins. Selection only decides "who won"; committing a unit is the
// coordinator's job and must follow as a separate step.
package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medrelay/dispatch/core/events"
	"github.com/medrelay/dispatch/core/logger"
	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/storage"
)

var (
	// ErrDuplicateResponse is returned when an agency resubmits the answer it
	// already has on file, or tries to change a response that was selected.
	ErrDuplicateResponse = errors.New("agency already responded to this trip")
	// ErrInvalidTripState is returned when the trip no longer accepts
	// responses.
	ErrInvalidTripState = errors.New("trip does not accept responses")
	// ErrAlreadySelected is returned when another response for the trip has
	// already been selected.
	ErrAlreadySelected = errors.New("another response is already selected")
	// ErrNotAcceptResponse is returned when selecting a DECLINE.
	ErrNotAcceptResponse = errors.New("cannot select a decline response")
)

// Collector records and selects agency responses.
type Collector struct {
	store storage.Store
	bus   *events.Bus
	log   logger.Logger
	now   func() time.Time
}

// New creates a Collector. bus may be nil; now defaults to time.Now.
func New(store storage.Store, bus *events.Bus, log logger.Logger, now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	return &Collector{store: store, bus: bus, log: log, now: now}
}

// RecordResponse stores an agency's reply to a PENDING trip. Each agency has
// one response row per trip: a changed answer (e.g. DECLINE followed by
// ACCEPT) mutates the row in place, an identical resubmission fails with
// ErrDuplicateResponse, and a selected response can no longer change.
func (c *Collector) RecordResponse(ctx context.Context, tripID, agencyID string, answer model.Answer, notes string) (*model.AgencyResponse, error) {
	if answer != model.AnswerAccept && answer != model.AnswerDecline {
		return nil, &model.ValidationError{Field: "answer", Reason: fmt.Sprintf("unknown answer %q", answer)}
	}

	var resp *model.AgencyResponse
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		trip, err := tx.GetTrip(ctx, tripID)
		if err != nil {
			return fmt.Errorf("load trip %s: %w", tripID, err)
		}
		if trip.Status != model.TripPending {
			return fmt.Errorf("%w: trip %s is %s", ErrInvalidTripState, tripID, trip.Status)
		}

		existing, err := tx.GetResponseByTripAgency(ctx, tripID, agencyID)
		switch {
		case err == nil:
			if existing.Selected {
				return fmt.Errorf("%w: response %s is selected", ErrDuplicateResponse, existing.ID)
			}
			if existing.Answer == answer {
				return fmt.Errorf("%w: already answered %s", ErrDuplicateResponse, answer)
			}
			existing.Answer = answer
			existing.Notes = notes
			existing.RespondedAt = c.now().UTC()
			if err := tx.UpdateResponse(ctx, existing); err != nil {
				return fmt.Errorf("update response: %w", err)
			}
			resp = existing
			return nil
		case errors.Is(err, storage.ErrNotFound):
			resp = &model.AgencyResponse{
				ID:          uuid.NewString(),
				TripID:      tripID,
				AgencyID:    agencyID,
				Answer:      answer,
				Notes:       notes,
				RespondedAt: c.now().UTC(),
			}
			if err := tx.CreateResponse(ctx, resp); err != nil {
				return fmt.Errorf("create response: %w", err)
			}
			return nil
		default:
			return fmt.Errorf("load response: %w", err)
		}
	})
	if err != nil {
		return nil, err
	}

	if c.bus != nil {
		c.bus.Publish(events.ResponseRecorded{Response: *resp})
	}
	if c.log != nil {
		c.log.Infof("response recorded: trip=%s agency=%s answer=%s", tripID, agencyID, resp.Answer)
	}
	return resp, nil
}

// SelectResponse marks one ACCEPT response as the winner for a trip. Exactly
// one selection can ever succeed per trip; concurrent callers lose with
// ErrAlreadySelected. Selecting the response that already won is a no-op.
// The caller must invoke the assignment coordinator next; no unit is
// reserved here.
func (c *Collector) SelectResponse(ctx context.Context, tripID, responseID string) (*model.AgencyResponse, error) {
	var resp *model.AgencyResponse
	err := c.store.RunInTx(ctx, func(ctx context.Context, tx storage.Store) error {
		r, err := tx.GetResponse(ctx, responseID)
		if err != nil {
			return fmt.Errorf("load response %s: %w", responseID, err)
		}
		if r.TripID != tripID {
			return &model.ValidationError{Field: "responseId", Reason: "response does not belong to trip"}
		}
		if r.Answer != model.AnswerAccept {
			return fmt.Errorf("%w: response %s", ErrNotAcceptResponse, responseID)
		}
		if r.Selected {
			resp = r
			return nil
		}
		ok, err := tx.MarkSelected(ctx, tripID, responseID)
		if err != nil {
			return fmt.Errorf("mark selected: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: trip %s", ErrAlreadySelected, tripID)
		}
		r.Selected = true
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.bus != nil {
		c.bus.Publish(events.ResponseSelected{Response: *resp})
	}
	if c.log != nil {
		c.log.Infof("response selected: trip=%s response=%s agency=%s", tripID, resp.ID, resp.AgencyID)
	}
	return resp, nil
}
