package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/medrelay/dispatch/core/model"
)

// MemoryStore is an in-memory Store used in tests and single-node
// development. A single store-wide mutex makes every operation atomic, and
// RunInTx holds it across a copy-on-write snapshot, which gives transactions
// full serializability.
type MemoryStore struct {
	mu   sync.Mutex
	data *state
}

type state struct {
	trips       map[string]model.Trip
	agencies    map[string]model.Agency
	units       map[string]model.Unit
	responses   map[string]model.AgencyResponse
	assignments map[string]model.Assignment
	preferred   map[string][]string
}

func newState() *state {
	return &state{
		trips:       map[string]model.Trip{},
		agencies:    map[string]model.Agency{},
		units:       map[string]model.Unit{},
		responses:   map[string]model.AgencyResponse{},
		assignments: map[string]model.Assignment{},
		preferred:   map[string][]string{},
	}
}

func (st *state) clone() *state {
	c := newState()
	for k, v := range st.trips {
		c.trips[k] = cloneTrip(v)
	}
	for k, v := range st.agencies {
		c.agencies[k] = v
	}
	for k, v := range st.units {
		c.units[k] = v
	}
	for k, v := range st.responses {
		c.responses[k] = cloneResponse(v)
	}
	for k, v := range st.assignments {
		c.assignments[k] = cloneAssignment(v)
	}
	for k, v := range st.preferred {
		c.preferred[k] = append([]string(nil), v...)
	}
	return c
}

func cloneTrip(t model.Trip) model.Trip {
	if t.AssignedUnitID != nil {
		v := *t.AssignedUnitID
		t.AssignedUnitID = &v
	}
	if t.CancelReason != nil {
		v := *t.CancelReason
		t.CancelReason = &v
	}
	if t.ScheduledAt != nil {
		v := *t.ScheduledAt
		t.ScheduledAt = &v
	}
	if t.Origin != nil {
		v := *t.Origin
		t.Origin = &v
	}
	return t
}

func cloneResponse(r model.AgencyResponse) model.AgencyResponse {
	if r.UnitID != nil {
		v := *r.UnitID
		r.UnitID = &v
	}
	return r
}

func cloneAssignment(a model.Assignment) model.Assignment {
	if a.EndedAt != nil {
		v := *a.EndedAt
		a.EndedAt = &v
	}
	return a
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newState()}
}

// RunInTx snapshots the store, runs fn against the snapshot and swaps it in
// on success. The store mutex is held for the whole transaction.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &MemoryStore{data: s.data.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (s *MemoryStore) CreateTrip(_ context.Context, t *model.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.trips[t.ID] = cloneTrip(*t)
	return nil
}

func (s *MemoryStore) GetTrip(_ context.Context, id string) (*model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	t = cloneTrip(t)
	return &t, nil
}

func (s *MemoryStore) ListTrips(_ context.Context, f TripFilter) ([]model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Trip
	for _, t := range s.data.trips {
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, t.Status) {
			continue
		}
		if f.StaleBefore != nil && !t.ReferenceTime().Before(*f.StaleBefore) {
			continue
		}
		if f.FacilityID != "" && t.FacilityID != f.FacilityID {
			continue
		}
		res = append(res, cloneTrip(t))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func (s *MemoryStore) UpdateTripStatus(_ context.Context, id string, from, to model.TripStatus, unitID, reason *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.data.trips[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	if unitID != nil {
		v := *unitID
		t.AssignedUnitID = &v
	}
	if reason != nil {
		v := *reason
		t.CancelReason = &v
	}
	t.UpdatedAt = time.Now().UTC()
	s.data.trips[id] = t
	return true, nil
}

func (s *MemoryStore) PutAgency(_ context.Context, a *model.Agency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.agencies[a.ID] = *a
	return nil
}

func (s *MemoryStore) GetAgency(_ context.Context, id string) (*model.Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.agencies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (s *MemoryStore) ListAgencies(_ context.Context, f AgencyFilter) ([]model.Agency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Agency
	for _, a := range s.data.agencies {
		if len(f.IDs) > 0 && !containsString(f.IDs, a.ID) {
			continue
		}
		if f.ActiveOnly && !a.Active {
			continue
		}
		if f.OffersLevel != "" && !a.Matchable(f.OffersLevel) {
			continue
		}
		if f.AlertsOnly && !a.AcceptsAlerts {
			continue
		}
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

func (s *MemoryStore) SetAgencyAvailability(_ context.Context, id string, available bool, levels []model.TransportLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.agencies[id]
	if !ok {
		return ErrNotFound
	}
	a.Available = available
	a.AvailableLevels = append([]model.TransportLevel(nil), levels...)
	s.data.agencies[id] = a
	return nil
}

func (s *MemoryStore) PreferredAgencyIDs(_ context.Context, facilityID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.data.preferred[facilityID]...), nil
}

func (s *MemoryStore) SetPreferredAgencies(_ context.Context, facilityID string, agencyIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.preferred[facilityID] = append([]string(nil), agencyIDs...)
	return nil
}

func (s *MemoryStore) PutUnit(_ context.Context, u *model.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.units[u.ID] = *u
	return nil
}

func (s *MemoryStore) GetUnit(_ context.Context, id string) (*model.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.units[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) ListUnits(_ context.Context, f UnitFilter) ([]model.Unit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.Unit
	for _, u := range s.data.units {
		if f.AgencyID != "" && u.AgencyID != f.AgencyID {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.ActiveOnly && !u.Active {
			continue
		}
		res = append(res, u)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (s *MemoryStore) UpdateUnitStatus(_ context.Context, id string, from, to model.UnitStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.units[id]
	if !ok || u.Status != from {
		return false, nil
	}
	u.Status = to
	s.data.units[id] = u
	return true, nil
}

func (s *MemoryStore) CreateResponse(_ context.Context, r *model.AgencyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.responses[r.ID] = cloneResponse(*r)
	return nil
}

func (s *MemoryStore) GetResponse(_ context.Context, id string) (*model.AgencyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data.responses[id]
	if !ok {
		return nil, ErrNotFound
	}
	r = cloneResponse(r)
	return &r, nil
}

func (s *MemoryStore) GetResponseByTripAgency(_ context.Context, tripID, agencyID string) (*model.AgencyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.data.responses {
		if r.TripID == tripID && r.AgencyID == agencyID {
			r = cloneResponse(r)
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListResponses(_ context.Context, tripID string) ([]model.AgencyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res []model.AgencyResponse
	for _, r := range s.data.responses {
		if r.TripID == tripID {
			res = append(res, cloneResponse(r))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].RespondedAt.Before(res[j].RespondedAt) })
	return res, nil
}

func (s *MemoryStore) UpdateResponse(_ context.Context, r *model.AgencyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.responses[r.ID]; !ok {
		return ErrNotFound
	}
	s.data.responses[r.ID] = cloneResponse(*r)
	return nil
}

func (s *MemoryStore) MarkSelected(_ context.Context, tripID, responseID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.data.responses[responseID]
	if !ok || target.TripID != tripID {
		return false, ErrNotFound
	}
	for _, r := range s.data.responses {
		if r.TripID == tripID && r.Selected {
			return false, nil
		}
	}
	target.Selected = true
	s.data.responses[responseID] = target
	return true, nil
}

func (s *MemoryStore) CreateAssignment(_ context.Context, a *model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.data.assignments {
		if existing.UnitID == a.UnitID && existing.Status == model.AssignmentActive {
			return ErrActiveAssignmentExists
		}
	}
	s.data.assignments[a.ID] = cloneAssignment(*a)
	return nil
}

func (s *MemoryStore) ActiveAssignmentForUnit(_ context.Context, unitID string) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.data.assignments {
		if a.UnitID == unitID && a.Status == model.AssignmentActive {
			a = cloneAssignment(a)
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ActiveAssignmentForTrip(_ context.Context, tripID string) (*model.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.data.assignments {
		if a.TripID == tripID && a.Status == model.AssignmentActive {
			a = cloneAssignment(a)
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) EndAssignment(_ context.Context, id string, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.assignments[id]
	if !ok || a.Status != model.AssignmentActive {
		return false, nil
	}
	a.Status = model.AssignmentEnded
	a.EndedAt = &endedAt
	s.data.assignments[id] = a
	return true, nil
}

func containsStatus(set []model.TripStatus, s model.TripStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
