package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/storage"
)

// Store implements storage.Store on a bun handle. The handle is either the
// root *bun.DB or a bun.Tx while inside RunInTx.
type Store struct {
	db bun.IDB
}

// NewStore creates a Store on the given database handle.
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// RunInTx runs fn in a serializable transaction. Nested calls reuse the
// surrounding transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	db, ok := s.db.(*bun.DB)
	if !ok {
		return fn(ctx, s)
	}
	return db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Store{db: tx})
	})
}

func (s *Store) CreateTrip(ctx context.Context, t *model.Trip) error {
	_, err := s.db.NewInsert().Model(tripToRow(t)).Exec(ctx)
	return err
}

func (s *Store) GetTrip(ctx context.Context, id string) (*model.Trip, error) {
	row := new(tripRow)
	err := s.db.NewSelect().Model(row).Where("t.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err)
	}
	t := row.toModel()
	return &t, nil
}

func (s *Store) ListTrips(ctx context.Context, f storage.TripFilter) ([]model.Trip, error) {
	var rows []tripRow
	q := s.db.NewSelect().Model(&rows)
	if len(f.Statuses) > 0 {
		q = q.Where("t.status IN (?)", bun.In(statusesToStrings(f.Statuses)))
	}
	if f.StaleBefore != nil {
		q = q.Where("COALESCE(t.scheduled_at, t.created_at) < ?", *f.StaleBefore)
	}
	if f.FacilityID != "" {
		q = q.Where("t.facility_id = ?", f.FacilityID)
	}
	q = q.Order("created_at ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	trips := make([]model.Trip, len(rows))
	for i := range rows {
		trips[i] = rows[i].toModel()
	}
	return trips, nil
}

func (s *Store) UpdateTripStatus(ctx context.Context, id string, from, to model.TripStatus, unitID, reason *string) (bool, error) {
	q := s.db.NewUpdate().Model((*tripRow)(nil)).
		Set("status = ?", string(to)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ? AND status = ?", id, string(from))
	if unitID != nil {
		q = q.Set("assigned_unit_id = ?", *unitID)
	}
	if reason != nil {
		q = q.Set("cancel_reason = ?", *reason)
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) PutAgency(ctx context.Context, a *model.Agency) error {
	_, err := s.db.NewInsert().Model(agencyToRow(a)).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("lat = EXCLUDED.lat").
		Set("lng = EXCLUDED.lng").
		Set("service_radius_km = EXCLUDED.service_radius_km").
		Set("capabilities = EXCLUDED.capabilities").
		Set("available_levels = EXCLUDED.available_levels").
		Set("active = EXCLUDED.active").
		Set("available = EXCLUDED.available").
		Set("accepts_alerts = EXCLUDED.accepts_alerts").
		Exec(ctx)
	return err
}

func (s *Store) GetAgency(ctx context.Context, id string) (*model.Agency, error) {
	row := new(agencyRow)
	err := s.db.NewSelect().Model(row).Where("a.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err)
	}
	a := row.toModel()
	return &a, nil
}

func (s *Store) ListAgencies(ctx context.Context, f storage.AgencyFilter) ([]model.Agency, error) {
	var rows []agencyRow
	q := s.db.NewSelect().Model(&rows)
	if len(f.IDs) > 0 {
		q = q.Where("a.id IN (?)", bun.In(f.IDs))
	}
	if f.ActiveOnly {
		q = q.Where("a.active")
	}
	if f.OffersLevel != "" {
		// Matchable: active, available, licensed for the level and staffing it.
		q = q.Where("a.active AND a.available").
			Where("? = ANY(a.capabilities)", string(f.OffersLevel)).
			Where("? = ANY(a.available_levels)", string(f.OffersLevel))
	}
	if f.AlertsOnly {
		q = q.Where("a.accepts_alerts")
	}
	if err := q.Order("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	agencies := make([]model.Agency, len(rows))
	for i := range rows {
		agencies[i] = rows[i].toModel()
	}
	return agencies, nil
}

func (s *Store) SetAgencyAvailability(ctx context.Context, id string, available bool, levels []model.TransportLevel) error {
	res, err := s.db.NewUpdate().Model((*agencyRow)(nil)).
		Set("available = ?", available).
		Set("available_levels = ?", pgdialect.Array(levelsToStrings(levels))).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) PreferredAgencyIDs(ctx context.Context, facilityID string) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().Model((*preferredRow)(nil)).
		Column("agency_id").
		Where("facility_id = ?", facilityID).
		Order("position ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) SetPreferredAgencies(ctx context.Context, facilityID string, agencyIDs []string) error {
	if _, err := s.db.NewDelete().Model((*preferredRow)(nil)).
		Where("facility_id = ?", facilityID).Exec(ctx); err != nil {
		return err
	}
	if len(agencyIDs) == 0 {
		return nil
	}
	rows := make([]preferredRow, len(agencyIDs))
	for i, id := range agencyIDs {
		rows[i] = preferredRow{FacilityID: facilityID, AgencyID: id, Position: i}
	}
	_, err := s.db.NewInsert().Model(&rows).Exec(ctx)
	return err
}

func (s *Store) PutUnit(ctx context.Context, u *model.Unit) error {
	_, err := s.db.NewInsert().Model(unitToRow(u)).
		On("CONFLICT (id) DO UPDATE").
		Set("agency_id = EXCLUDED.agency_id").
		Set("call_sign = EXCLUDED.call_sign").
		Set("level = EXCLUDED.level").
		Set("status = EXCLUDED.status").
		Set("active = EXCLUDED.active").
		Exec(ctx)
	return err
}

func (s *Store) GetUnit(ctx context.Context, id string) (*model.Unit, error) {
	row := new(unitRow)
	err := s.db.NewSelect().Model(row).Where("u.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err)
	}
	u := row.toModel()
	return &u, nil
}

func (s *Store) ListUnits(ctx context.Context, f storage.UnitFilter) ([]model.Unit, error) {
	var rows []unitRow
	q := s.db.NewSelect().Model(&rows)
	if f.AgencyID != "" {
		q = q.Where("u.agency_id = ?", f.AgencyID)
	}
	if f.Status != "" {
		q = q.Where("u.status = ?", string(f.Status))
	}
	if f.ActiveOnly {
		q = q.Where("u.active")
	}
	if err := q.Order("call_sign ASC").Scan(ctx); err != nil {
		return nil, err
	}
	units := make([]model.Unit, len(rows))
	for i := range rows {
		units[i] = rows[i].toModel()
	}
	return units, nil
}

func (s *Store) UpdateUnitStatus(ctx context.Context, id string, from, to model.UnitStatus) (bool, error) {
	res, err := s.db.NewUpdate().Model((*unitRow)(nil)).
		Set("status = ?", string(to)).
		Where("id = ? AND status = ?", id, string(from)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) CreateResponse(ctx context.Context, r *model.AgencyResponse) error {
	_, err := s.db.NewInsert().Model(responseToRow(r)).Exec(ctx)
	return err
}

func (s *Store) GetResponse(ctx context.Context, id string) (*model.AgencyResponse, error) {
	row := new(responseRow)
	err := s.db.NewSelect().Model(row).Where("r.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err)
	}
	resp := row.toModel()
	return &resp, nil
}

func (s *Store) GetResponseByTripAgency(ctx context.Context, tripID, agencyID string) (*model.AgencyResponse, error) {
	row := new(responseRow)
	err := s.db.NewSelect().Model(row).
		Where("r.trip_id = ? AND r.agency_id = ?", tripID, agencyID).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err)
	}
	resp := row.toModel()
	return &resp, nil
}

func (s *Store) ListResponses(ctx context.Context, tripID string) ([]model.AgencyResponse, error) {
	var rows []responseRow
	err := s.db.NewSelect().Model(&rows).
		Where("r.trip_id = ?", tripID).
		Order("responded_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	responses := make([]model.AgencyResponse, len(rows))
	for i := range rows {
		responses[i] = rows[i].toModel()
	}
	return responses, nil
}

func (s *Store) UpdateResponse(ctx context.Context, r *model.AgencyResponse) error {
	res, err := s.db.NewUpdate().Model(responseToRow(r)).
		Column("answer", "notes", "unit_id", "responded_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) MarkSelected(ctx context.Context, tripID, responseID string) (bool, error) {
	// The NOT EXISTS guard makes the selection race safe: two concurrent
	// selections serialize on the row locks and only the first finds no
	// selected sibling.
	res, err := s.db.ExecContext(ctx, `
		UPDATE agency_responses SET selected = TRUE
		WHERE id = ? AND trip_id = ? AND NOT selected
		  AND NOT EXISTS (
			SELECT 1 FROM agency_responses r
			WHERE r.trip_id = ? AND r.selected
		  )`, responseID, tripID, tripID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (s *Store) CreateAssignment(ctx context.Context, a *model.Assignment) error {
	// INSERT..SELECT with a NOT EXISTS guard keeps "one ACTIVE assignment per
	// unit" atomic; the partial unique index in the schema backs it up.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (id, unit_id, trip_id, type, status, started_at, ended_at, assigned_by)
		SELECT ?, ?, ?, ?, ?, ?, NULL, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM assignments asg
			WHERE asg.unit_id = ? AND asg.status = ?
		)`,
		a.ID, a.UnitID, a.TripID, string(a.Type), string(a.Status), a.StartedAt, a.AssignedBy,
		a.UnitID, string(model.AssignmentActive))
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unit %s: %w", a.UnitID, storage.ErrActiveAssignmentExists)
	}
	return nil
}

func (s *Store) ActiveAssignmentForUnit(ctx context.Context, unitID string) (*model.Assignment, error) {
	return s.activeAssignment(ctx, "asg.unit_id = ?", unitID)
}

func (s *Store) ActiveAssignmentForTrip(ctx context.Context, tripID string) (*model.Assignment, error) {
	return s.activeAssignment(ctx, "asg.trip_id = ?", tripID)
}

func (s *Store) activeAssignment(ctx context.Context, where string, arg any) (*model.Assignment, error) {
	row := new(assignmentRow)
	err := s.db.NewSelect().Model(row).
		Where(where, arg).
		Where("asg.status = ?", string(model.AssignmentActive)).
		Scan(ctx)
	if err != nil {
		return nil, mapNotFound(err)
	}
	a := row.toModel()
	return &a, nil
}

func (s *Store) EndAssignment(ctx context.Context, id string, endedAt time.Time) (bool, error) {
	res, err := s.db.NewUpdate().Model((*assignmentRow)(nil)).
		Set("status = ?", string(model.AssignmentEnded)).
		Set("ended_at = ?", endedAt).
		Where("id = ? AND status = ?", id, string(model.AssignmentActive)).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func statusesToStrings(statuses []model.TripStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
