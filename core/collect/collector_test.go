package collect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/storage"
)

func setup(t *testing.T) (*Collector, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	trip := &model.Trip{ID: "t1", Status: model.TripPending, Level: model.LevelBLS, CreatedAt: time.Now()}
	if err := store.CreateTrip(context.Background(), trip); err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return New(store, nil, nil, nil), store
}

func TestRecordResponse(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	r, err := c.RecordResponse(ctx, "t1", "agency-a", model.AnswerAccept, "eta 12 min")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if r.ID == "" || r.TripID != "t1" || r.AgencyID != "agency-a" || r.Answer != model.AnswerAccept {
		t.Fatalf("bad response: %+v", r)
	}
}

func TestRecordResponseDuplicate(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	if _, err := c.RecordResponse(ctx, "t1", "agency-a", model.AnswerAccept, ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	_, err := c.RecordResponse(ctx, "t1", "agency-a", model.AnswerAccept, "")
	if !errors.Is(err, ErrDuplicateResponse) {
		t.Fatalf("expected ErrDuplicateResponse, got %v", err)
	}
}

func TestRecordResponseChangeAnswerInPlace(t *testing.T) {
	c, store := setup(t)
	ctx := context.Background()

	first, err := c.RecordResponse(ctx, "t1", "agency-a", model.AnswerDecline, "busy")
	if err != nil {
		t.Fatalf("record decline: %v", err)
	}
	second, err := c.RecordResponse(ctx, "t1", "agency-a", model.AnswerAccept, "freed up")
	if err != nil {
		t.Fatalf("decline then accept should mutate in place: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected the same response row, got %s then %s", first.ID, second.ID)
	}
	all, _ := store.ListResponses(ctx, "t1")
	if len(all) != 1 {
		t.Fatalf("expected one row per agency, got %d", len(all))
	}
	if all[0].Answer != model.AnswerAccept || all[0].Notes != "freed up" {
		t.Fatalf("row not updated: %+v", all[0])
	}
}

func TestRecordResponseInvalidTripState(t *testing.T) {
	c, store := setup(t)
	ctx := context.Background()
	unit := "u1"
	if ok, _ := store.UpdateTripStatus(ctx, "t1", model.TripPending, model.TripScheduled, &unit, nil); !ok {
		t.Fatal("setup transition failed")
	}
	_, err := c.RecordResponse(ctx, "t1", "agency-a", model.AnswerAccept, "")
	if !errors.Is(err, ErrInvalidTripState) {
		t.Fatalf("expected ErrInvalidTripState, got %v", err)
	}
}

func TestRecordResponseUnknownAnswer(t *testing.T) {
	c, _ := setup(t)
	_, err := c.RecordResponse(context.Background(), "t1", "agency-a", "MAYBE", "")
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestSelectResponse(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	accept, err := c.RecordResponse(ctx, "t1", "agency-a", model.AnswerAccept, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	decline, err := c.RecordResponse(ctx, "t1", "agency-b", model.AnswerDecline, "")
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	if _, err := c.SelectResponse(ctx, "t1", decline.ID); !errors.Is(err, ErrNotAcceptResponse) {
		t.Fatalf("expected ErrNotAcceptResponse, got %v", err)
	}

	won, err := c.SelectResponse(ctx, "t1", accept.ID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !won.Selected {
		t.Fatal("winner not marked selected")
	}

	// selecting the winner again is a no-op
	again, err := c.SelectResponse(ctx, "t1", accept.ID)
	if err != nil {
		t.Fatalf("idempotent select failed: %v", err)
	}
	if again.ID != won.ID {
		t.Fatalf("expected same winner, got %s", again.ID)
	}
}

func TestSelectResponseLosesRace(t *testing.T) {
	c, _ := setup(t)
	ctx := context.Background()

	a, _ := c.RecordResponse(ctx, "t1", "agency-a", model.AnswerAccept, "")
	b, _ := c.RecordResponse(ctx, "t1", "agency-b", model.AnswerAccept, "")

	if _, err := c.SelectResponse(ctx, "t1", a.ID); err != nil {
		t.Fatalf("select a: %v", err)
	}
	_, err := c.SelectResponse(ctx, "t1", b.ID)
	if !errors.Is(err, ErrAlreadySelected) {
		t.Fatalf("expected ErrAlreadySelected, got %v", err)
	}
}

// TestSelectResponseConcurrent drives many concurrent selections across the
// responses of one trip and checks that exactly one wins. Run with -race.
func TestSelectResponseConcurrent(t *testing.T) {
	c, store := setup(t)
	ctx := context.Background()

	const agencies = 8
	ids := make([]string, 0, agencies)
	for i := 0; i < agencies; i++ {
		r, err := c.RecordResponse(ctx, "t1", fmt.Sprintf("agency-%d", i), model.AnswerAccept, "")
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		ids = append(ids, r.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, agencies)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := c.SelectResponse(ctx, "t1", id)
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
		} else if !errors.Is(err, ErrAlreadySelected) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 winning selection, got %d", success)
	}

	selected := 0
	all, _ := store.ListResponses(ctx, "t1")
	for _, r := range all {
		if r.Selected {
			selected++
		}
	}
	if selected != 1 {
		t.Fatalf("expected exactly 1 selected row, got %d", selected)
	}
}
