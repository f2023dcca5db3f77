// Package trip exposes the lifecycle of a transport request: intake,
// cancellation, pickup and dropoff reporting. It stitches together the
// matcher and the assignment coordinator but owns no reservation logic
// itself.
package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medrelay/dispatch/core/assign"
	"github.com/medrelay/dispatch/core/events"
	"github.com/medrelay/dispatch/core/geo"
	"github.com/medrelay/dispatch/core/logger"
	"github.com/medrelay/dispatch/core/match"
	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/storage"
)

// CreateInput carries the intake form for a new transport request.
type CreateInput struct {
	FacilityID      string
	Origin          *geo.Point
	OriginName      string
	DestinationName string
	Level           model.TransportLevel
	Urgency         string
	ScheduledAt     *time.Time
	RequestedBy     string
}

// Service drives trips through their lifecycle.
type Service struct {
	store   storage.Store
	matcher *match.Matcher
	coord   *assign.Coordinator
	bus     *events.Bus
	log     logger.Logger
	levels  []model.TransportLevel
	now     func() time.Time
}

// NewService creates a trip Service. bus may be nil; levels defaults to the
// standard transport levels; now defaults to time.Now.
func NewService(store storage.Store, matcher *match.Matcher, coord *assign.Coordinator, bus *events.Bus, log logger.Logger, levels []model.TransportLevel, now func() time.Time) *Service {
	if len(levels) == 0 {
		levels = model.DefaultLevels()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, matcher: matcher, coord: coord, bus: bus, log: log, levels: levels, now: now}
}

// Create validates the intake form, persists a PENDING trip and runs
// eligibility matching. The candidate list is returned to the caller and
// published so the notifier can alert the agencies; an empty list is not an
// error.
func (s *Service) Create(ctx context.Context, in CreateInput) (*model.Trip, []match.Candidate, error) {
	if in.FacilityID == "" {
		return nil, nil, &model.ValidationError{Field: "facilityId", Reason: "facility is required"}
	}
	if in.DestinationName == "" {
		return nil, nil, &model.ValidationError{Field: "destination", Reason: "destination is required"}
	}
	if !model.ContainsLevel(s.levels, in.Level) {
		return nil, nil, &model.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown transport level %q", in.Level)}
	}
	urgency, err := model.ParseUrgency(in.Urgency)
	if err != nil {
		return nil, nil, err
	}
	if in.ScheduledAt != nil && in.ScheduledAt.Before(s.now()) {
		return nil, nil, &model.ValidationError{Field: "scheduledAt", Reason: "scheduled pickup is in the past"}
	}

	now := s.now().UTC()
	t := &model.Trip{
		ID:              uuid.NewString(),
		FacilityID:      in.FacilityID,
		Origin:          in.Origin,
		OriginName:      in.OriginName,
		DestinationName: in.DestinationName,
		Level:           in.Level,
		Urgency:         urgency,
		ScheduledAt:     in.ScheduledAt,
		Status:          model.TripPending,
		RequestedBy:     in.RequestedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateTrip(ctx, t); err != nil {
		return nil, nil, fmt.Errorf("create trip: %w", err)
	}
	if s.bus != nil {
		s.bus.Publish(events.TripCreated{Trip: *t})
	}

	candidates, err := s.matcher.FindCandidates(ctx, t)
	if err != nil {
		// The trip is already persisted; matching can be retried later.
		if s.log != nil {
			s.log.Errorf("matching failed for trip %s: %v", t.ID, err)
		}
		return t, nil, nil
	}
	if s.bus != nil {
		s.bus.Publish(events.CandidatesFound{Trip: *t, Candidates: candidates})
	}
	if s.log != nil {
		s.log.Infof("trip created: id=%s facility=%s level=%s candidates=%d", t.ID, t.FacilityID, t.Level, len(candidates))
	}
	return t, candidates, nil
}

// Cancel moves a trip to CANCELLED. A PENDING trip cancels directly; a
// SCHEDULED trip goes through the coordinator so its unit is released. Trips
// past pickup cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, tripID string, reason *string) error {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return fmt.Errorf("load trip %s: %w", tripID, err)
	}
	if t.Status == model.TripScheduled {
		return s.coord.Release(ctx, tripID, model.TripCancelled, reason)
	}
	if err := model.CheckTransition(t.Status, model.TripCancelled); err != nil {
		return err
	}
	ok, err := s.store.UpdateTripStatus(ctx, tripID, t.Status, model.TripCancelled, nil, reason)
	if err != nil {
		return fmt.Errorf("cancel trip: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: trip %s changed status", model.ErrInvalidStateTransition, tripID)
	}
	if s.bus != nil {
		r := ""
		if reason != nil {
			r = *reason
		}
		s.bus.Publish(events.TripClosed{TripID: tripID, Status: model.TripCancelled, Reason: r})
	}
	if s.log != nil {
		s.log.Infof("trip cancelled: id=%s", tripID)
	}
	return nil
}

// ReportPickup records that the assigned unit picked the patient up, moving
// the trip from SCHEDULED to IN_PROGRESS.
func (s *Service) ReportPickup(ctx context.Context, tripID string) error {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return fmt.Errorf("load trip %s: %w", tripID, err)
	}
	if err := model.CheckTransition(t.Status, model.TripInProgress); err != nil {
		return err
	}
	ok, err := s.store.UpdateTripStatus(ctx, tripID, t.Status, model.TripInProgress, nil, nil)
	if err != nil {
		return fmt.Errorf("report pickup: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: trip %s changed status", model.ErrInvalidStateTransition, tripID)
	}
	if s.log != nil {
		s.log.Infof("pickup reported: trip=%s", tripID)
	}
	return nil
}

// ReportDropoff completes an IN_PROGRESS trip and releases its unit.
func (s *Service) ReportDropoff(ctx context.Context, tripID string) error {
	return s.coord.Release(ctx, tripID, model.TripCompleted, nil)
}

// Get returns a trip by id.
func (s *Service) Get(ctx context.Context, tripID string) (*model.Trip, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load trip %s: %w", tripID, err)
	}
	return t, nil
}

// List returns trips matching the filter.
func (s *Service) List(ctx context.Context, filter storage.TripFilter) ([]model.Trip, error) {
	return s.store.ListTrips(ctx, filter)
}
