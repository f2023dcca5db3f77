// Package match implements agency eligibility matching for transport
// requests. Matching is a pure read: it never mutates state and never sends
// alerts itself.
package match

import (
	"context"
	"fmt"
	"sort"

	"github.com/medrelay/dispatch/core/geo"
	"github.com/medrelay/dispatch/core/logger"
	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/storage"
)

// Candidate is an agency eligible for a trip, annotated for the caller.
type Candidate struct {
	Agency     model.Agency `json:"agency"`
	DistanceKm *float64     `json:"distance_km,omitempty"`
	Preferred  bool         `json:"preferred"`
}

// Matcher produces ordered candidate lists for trips.
type Matcher struct {
	store    storage.AgencyStore
	radiusKm float64
	levels   []model.TransportLevel
	log      logger.Logger
}

// New creates a Matcher. radiusKm bounds the geographic search; levels is the
// set of transport levels this deployment recognizes.
func New(store storage.AgencyStore, radiusKm float64, levels []model.TransportLevel, log logger.Logger) *Matcher {
	if len(levels) == 0 {
		levels = model.DefaultLevels()
	}
	return &Matcher{store: store, radiusKm: radiusKm, levels: levels, log: log}
}

// FindCandidates returns eligible agencies for the trip: the facility's
// preferred agencies first in alphabetical order, then every other matchable
// agency within the notify radius, ascending by distance. A trip without
// origin coordinates skips all distance filtering. An empty result is not an
// error; the caller decides how to surface "no agencies available".
func (m *Matcher) FindCandidates(ctx context.Context, trip *model.Trip) ([]Candidate, error) {
	if trip.Level == "" {
		return nil, &model.ValidationError{Field: "level", Reason: "transport level is required"}
	}
	if !model.ContainsLevel(m.levels, trip.Level) {
		return nil, &model.ValidationError{Field: "level", Reason: fmt.Sprintf("unknown transport level %q", trip.Level)}
	}

	preferredIDs, err := m.store.PreferredAgencyIDs(ctx, trip.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("load preferred agencies: %w", err)
	}

	var preferred []Candidate
	if len(preferredIDs) > 0 {
		agencies, err := m.store.ListAgencies(ctx, storage.AgencyFilter{IDs: preferredIDs, ActiveOnly: true, AlertsOnly: true})
		if err != nil {
			return nil, fmt.Errorf("load preferred agencies: %w", err)
		}
		for _, a := range agencies {
			preferred = append(preferred, Candidate{Agency: a, DistanceKm: distanceTo(trip, a), Preferred: true})
		}
		sort.Slice(preferred, func(i, j int) bool { return preferred[i].Agency.Name < preferred[j].Agency.Name })
	}

	seen := make(map[string]bool, len(preferred))
	for _, c := range preferred {
		seen[c.Agency.ID] = true
	}

	agencies, err := m.store.ListAgencies(ctx, storage.AgencyFilter{
		ActiveOnly:  true,
		OffersLevel: trip.Level,
		AlertsOnly:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("load agencies: %w", err)
	}

	var nearby []Candidate
	for _, a := range agencies {
		if seen[a.ID] {
			continue
		}
		d := distanceTo(trip, a)
		if trip.Origin != nil {
			if d == nil || *d > m.radiusKm {
				continue
			}
		}
		nearby = append(nearby, Candidate{Agency: a, DistanceKm: d})
	}
	sort.SliceStable(nearby, func(i, j int) bool {
		di, dj := nearby[i].DistanceKm, nearby[j].DistanceKm
		if di == nil || dj == nil {
			// ListAgencies returns alphabetical order; keep it when
			// distances are unknown.
			return false
		}
		return *di < *dj
	})

	candidates := append(preferred, nearby...)
	if m.log != nil {
		m.log.Debugw("matched candidates", map[string]any{
			"trip_id":    trip.ID,
			"level":      trip.Level,
			"preferred":  len(preferred),
			"geographic": len(nearby),
		})
	}
	return candidates, nil
}

func distanceTo(trip *model.Trip, a model.Agency) *float64 {
	if trip.Origin == nil || a.Location == nil {
		return nil
	}
	d := geo.DistanceKm(*trip.Origin, *a.Location)
	return &d
}
