// Package trips exposes a read-only HTTP view of the dispatch board for
// facility dashboards. Mutations go through the dispatch services, not this
// API.
package trips

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/storage"
)

type tripView struct {
	ID              string     `json:"id"`
	FacilityID      string     `json:"facility_id"`
	OriginName      string     `json:"origin_name,omitempty"`
	DestinationName string     `json:"destination_name,omitempty"`
	Level           string     `json:"level"`
	Urgency         string     `json:"urgency"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	Status          string     `json:"status"`
	AssignedUnitID  *string    `json:"assigned_unit_id,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toView(t model.Trip) tripView {
	return tripView{
		ID:              t.ID,
		FacilityID:      t.FacilityID,
		OriginName:      t.OriginName,
		DestinationName: t.DestinationName,
		Level:           string(t.Level),
		Urgency:         string(t.Urgency),
		ScheduledAt:     t.ScheduledAt,
		Status:          string(t.Status),
		AssignedUnitID:  t.AssignedUnitID,
		CancelReason:    t.CancelReason,
		CreatedAt:       t.CreatedAt,
	}
}

// NewListHandler returns an HTTP handler exposing trips via
// GET /api/trips?status=PENDING&facility_id=...&limit=50.
func NewListHandler(store storage.TripStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		f := storage.TripFilter{FacilityID: r.URL.Query().Get("facility_id")}
		if s := r.URL.Query().Get("status"); s != "" {
			for _, part := range strings.Split(s, ",") {
				f.Statuses = append(f.Statuses, model.TripStatus(strings.ToUpper(strings.TrimSpace(part))))
			}
		}
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			f.Limit = n
		}
		trips, err := store.ListTrips(r.Context(), f)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		views := make([]tripView, len(trips))
		for i, t := range trips {
			views[i] = toView(t)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// NewGetHandler returns an HTTP handler exposing a single trip via
// GET /api/trips/{id}.
func NewGetHandler(store storage.TripStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/trips/")
		if id == "" || strings.Contains(id, "/") {
			http.Error(w, "trip id required", http.StatusBadRequest)
			return
		}
		t, err := store.GetTrip(r.Context(), id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "trip not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(toView(*t)); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
