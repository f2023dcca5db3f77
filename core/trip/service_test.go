package trip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/medrelay/dispatch/core/assign"
	"github.com/medrelay/dispatch/core/events"
	"github.com/medrelay/dispatch/core/geo"
	"github.com/medrelay/dispatch/core/match"
	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/storage"
)

func newService(t *testing.T) (*Service, *storage.MemoryStore, *events.Bus) {
	t.Helper()
	store := storage.NewMemoryStore()
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	agency := model.Agency{
		ID:              "a1",
		Name:            "Altoona EMS",
		Location:        &geo.Point{Lat: 40.52, Lng: -78.40},
		ServiceRadiusKm: 150,
		Capabilities:    []model.TransportLevel{model.LevelBLS, model.LevelALS},
		AvailableLevels: []model.TransportLevel{model.LevelBLS, model.LevelALS},
		Active:          true,
		Available:       true,
		AcceptsAlerts:   true,
	}
	if err := store.PutAgency(context.Background(), &agency); err != nil {
		t.Fatalf("put agency: %v", err)
	}

	matcher := match.New(store, 100, nil, nil)
	coord := assign.New(store, bus, nil, nil, nil)
	svc := NewService(store, matcher, coord, bus, nil, nil, nil)
	return svc, store, bus
}

func validInput() CreateInput {
	return CreateInput{
		FacilityID:      "fac-1",
		Origin:          &geo.Point{Lat: 40.50, Lng: -78.39},
		OriginName:      "Memorial Hospital",
		DestinationName: "Rehab Center",
		Level:           model.LevelBLS,
		Urgency:         "Routine",
		RequestedBy:     "coord-7",
	}
}

func TestCreate(t *testing.T) {
	svc, store, bus := newService(t)
	ctx := context.Background()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	trip, candidates, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if trip.ID == "" || trip.Status != model.TripPending || trip.Urgency != model.UrgencyRoutine {
		t.Fatalf("bad trip: %+v", trip)
	}
	if len(candidates) != 1 || candidates[0].Agency.ID != "a1" {
		t.Fatalf("expected agency a1 as candidate, got %+v", candidates)
	}

	stored, err := store.GetTrip(ctx, trip.ID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if stored.Status != model.TripPending {
		t.Fatalf("stored status = %s", stored.Status)
	}

	var created, matched bool
	timeout := time.After(time.Second)
	for !created || !matched {
		select {
		case ev := <-sub:
			switch ev.(type) {
			case events.TripCreated:
				created = true
			case events.CandidatesFound:
				matched = true
			}
		case <-timeout:
			t.Fatalf("missing events: created=%v matched=%v", created, matched)
		}
	}
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing facility", func(in *CreateInput) { in.FacilityID = "" }},
		{"missing destination", func(in *CreateInput) { in.DestinationName = "" }},
		{"unknown level", func(in *CreateInput) { in.Level = "MICU" }},
		{"unknown urgency", func(in *CreateInput) { in.Urgency = "ASAP" }},
		{"scheduled in the past", func(in *CreateInput) { in.ScheduledAt = &past }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, _, err := svc.Create(ctx, in)
			var ve *model.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestCreateNoCandidates(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	if err := store.SetAgencyAvailability(ctx, "a1", false, nil); err != nil {
		t.Fatalf("set availability: %v", err)
	}

	trip, candidates, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if trip == nil || len(candidates) != 0 {
		t.Fatalf("expected trip with zero candidates, got %+v", candidates)
	}
}

// schedule assigns a unit so cancellation and completion paths can be tested.
func schedule(t *testing.T, svc *Service, store *storage.MemoryStore, tripID string) {
	t.Helper()
	ctx := context.Background()
	if err := store.PutUnit(ctx, &model.Unit{ID: "u1", AgencyID: "a1", Level: model.LevelBLS, Status: model.UnitAvailable, Active: true}); err != nil {
		t.Fatalf("put unit: %v", err)
	}
	resp := &model.AgencyResponse{ID: "r1", TripID: tripID, AgencyID: "a1", Answer: model.AnswerAccept}
	if err := store.CreateResponse(ctx, resp); err != nil {
		t.Fatalf("create response: %v", err)
	}
	if ok, err := store.MarkSelected(ctx, tripID, "r1"); err != nil || !ok {
		t.Fatalf("mark selected: ok=%v err=%v", ok, err)
	}
	if _, err := svc.coord.Assign(ctx, tripID, "r1", "u1", model.SystemActor); err != nil {
		t.Fatalf("assign: %v", err)
	}
}

func TestCancelPending(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	trip, _, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	reason := "patient condition changed"
	if err := svc.Cancel(ctx, trip.ID, &reason); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := store.GetTrip(ctx, trip.ID)
	if got.Status != model.TripCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
	if got.CancelReason == nil || *got.CancelReason != reason {
		t.Errorf("cancel reason = %v", got.CancelReason)
	}
}

func TestCancelScheduledReleasesUnit(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	trip, _, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	schedule(t, svc, store, trip.ID)

	reason := "no longer needed"
	if err := svc.Cancel(ctx, trip.ID, &reason); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := store.GetTrip(ctx, trip.ID)
	if got.Status != model.TripCancelled {
		t.Errorf("status = %s, want CANCELLED", got.Status)
	}
	unit, _ := store.GetUnit(ctx, "u1")
	if unit.Status != model.UnitAvailable {
		t.Errorf("unit status = %s, want AVAILABLE", unit.Status)
	}
}

func TestCancelInProgress(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	trip, _, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	schedule(t, svc, store, trip.ID)
	if err := svc.ReportPickup(ctx, trip.ID); err != nil {
		t.Fatalf("pickup: %v", err)
	}

	err = svc.Cancel(ctx, trip.ID, nil)
	if !errors.Is(err, model.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestPickupAndDropoff(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	trip, _, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	schedule(t, svc, store, trip.ID)

	if err := svc.ReportPickup(ctx, trip.ID); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	got, _ := store.GetTrip(ctx, trip.ID)
	if got.Status != model.TripInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", got.Status)
	}

	if err := svc.ReportDropoff(ctx, trip.ID); err != nil {
		t.Fatalf("dropoff: %v", err)
	}
	got, _ = store.GetTrip(ctx, trip.ID)
	if got.Status != model.TripCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	unit, _ := store.GetUnit(ctx, "u1")
	if unit.Status != model.UnitAvailable {
		t.Errorf("unit status = %s, want AVAILABLE", unit.Status)
	}
}

func TestPickupBeforeAssignment(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	trip, _, err := svc.Create(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	err = svc.ReportPickup(ctx, trip.ID)
	if !errors.Is(err, model.ErrInvalidStateTransition) {
		t.Fatalf("expected ErrInvalidStateTransition, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
