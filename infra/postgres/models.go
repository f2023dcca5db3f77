package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/medrelay/dispatch/core/geo"
	"github.com/medrelay/dispatch/core/model"
)

type tripRow struct {
	bun.BaseModel `bun:"table:trips,alias:t"`

	ID              string     `bun:"id,pk"`
	FacilityID      string     `bun:"facility_id"`
	OriginLat       *float64   `bun:"origin_lat"`
	OriginLng       *float64   `bun:"origin_lng"`
	OriginName      string     `bun:"origin_name"`
	DestinationName string     `bun:"destination_name"`
	Level           string     `bun:"level"`
	Urgency         string     `bun:"urgency"`
	ScheduledAt     *time.Time `bun:"scheduled_at"`
	Status          string     `bun:"status"`
	AssignedUnitID  *string    `bun:"assigned_unit_id"`
	RequestedBy     string     `bun:"requested_by"`
	CancelReason    *string    `bun:"cancel_reason"`
	CreatedAt       time.Time  `bun:"created_at"`
	UpdatedAt       time.Time  `bun:"updated_at"`
}

func tripToRow(t *model.Trip) *tripRow {
	r := &tripRow{
		ID:              t.ID,
		FacilityID:      t.FacilityID,
		OriginName:      t.OriginName,
		DestinationName: t.DestinationName,
		Level:           string(t.Level),
		Urgency:         string(t.Urgency),
		ScheduledAt:     t.ScheduledAt,
		Status:          string(t.Status),
		AssignedUnitID:  t.AssignedUnitID,
		RequestedBy:     t.RequestedBy,
		CancelReason:    t.CancelReason,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
	if t.Origin != nil {
		lat, lng := t.Origin.Lat, t.Origin.Lng
		r.OriginLat, r.OriginLng = &lat, &lng
	}
	return r
}

func (r *tripRow) toModel() model.Trip {
	t := model.Trip{
		ID:              r.ID,
		FacilityID:      r.FacilityID,
		OriginName:      r.OriginName,
		DestinationName: r.DestinationName,
		Level:           model.TransportLevel(r.Level),
		Urgency:         model.Urgency(r.Urgency),
		ScheduledAt:     r.ScheduledAt,
		Status:          model.TripStatus(r.Status),
		AssignedUnitID:  r.AssignedUnitID,
		RequestedBy:     r.RequestedBy,
		CancelReason:    r.CancelReason,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.OriginLat != nil && r.OriginLng != nil {
		t.Origin = &geo.Point{Lat: *r.OriginLat, Lng: *r.OriginLng}
	}
	return t
}

type agencyRow struct {
	bun.BaseModel `bun:"table:agencies,alias:a"`

	ID              string   `bun:"id,pk"`
	Name            string   `bun:"name"`
	Lat             *float64 `bun:"lat"`
	Lng             *float64 `bun:"lng"`
	ServiceRadiusKm float64  `bun:"service_radius_km"`
	Capabilities    []string `bun:"capabilities,array"`
	AvailableLevels []string `bun:"available_levels,array"`
	Active          bool     `bun:"active"`
	Available       bool     `bun:"available"`
	AcceptsAlerts   bool     `bun:"accepts_alerts"`
}

func agencyToRow(a *model.Agency) *agencyRow {
	r := &agencyRow{
		ID:              a.ID,
		Name:            a.Name,
		ServiceRadiusKm: a.ServiceRadiusKm,
		Capabilities:    levelsToStrings(a.Capabilities),
		AvailableLevels: levelsToStrings(a.AvailableLevels),
		Active:          a.Active,
		Available:       a.Available,
		AcceptsAlerts:   a.AcceptsAlerts,
	}
	if a.Location != nil {
		lat, lng := a.Location.Lat, a.Location.Lng
		r.Lat, r.Lng = &lat, &lng
	}
	return r
}

func (r *agencyRow) toModel() model.Agency {
	a := model.Agency{
		ID:              r.ID,
		Name:            r.Name,
		ServiceRadiusKm: r.ServiceRadiusKm,
		Capabilities:    stringsToLevels(r.Capabilities),
		AvailableLevels: stringsToLevels(r.AvailableLevels),
		Active:          r.Active,
		Available:       r.Available,
		AcceptsAlerts:   r.AcceptsAlerts,
	}
	if r.Lat != nil && r.Lng != nil {
		a.Location = &geo.Point{Lat: *r.Lat, Lng: *r.Lng}
	}
	return a
}

type unitRow struct {
	bun.BaseModel `bun:"table:units,alias:u"`

	ID       string `bun:"id,pk"`
	AgencyID string `bun:"agency_id"`
	CallSign string `bun:"call_sign"`
	Level    string `bun:"level"`
	Status   string `bun:"status"`
	Active   bool   `bun:"active"`
}

func unitToRow(u *model.Unit) *unitRow {
	return &unitRow{
		ID:       u.ID,
		AgencyID: u.AgencyID,
		CallSign: u.CallSign,
		Level:    string(u.Level),
		Status:   string(u.Status),
		Active:   u.Active,
	}
}

func (r *unitRow) toModel() model.Unit {
	return model.Unit{
		ID:       r.ID,
		AgencyID: r.AgencyID,
		CallSign: r.CallSign,
		Level:    model.TransportLevel(r.Level),
		Status:   model.UnitStatus(r.Status),
		Active:   r.Active,
	}
}

type responseRow struct {
	bun.BaseModel `bun:"table:agency_responses,alias:r"`

	ID          string    `bun:"id,pk"`
	TripID      string    `bun:"trip_id"`
	AgencyID    string    `bun:"agency_id"`
	Answer      string    `bun:"answer"`
	Notes       string    `bun:"notes"`
	Selected    bool      `bun:"selected"`
	UnitID      *string   `bun:"unit_id"`
	RespondedAt time.Time `bun:"responded_at"`
}

func responseToRow(r *model.AgencyResponse) *responseRow {
	return &responseRow{
		ID:          r.ID,
		TripID:      r.TripID,
		AgencyID:    r.AgencyID,
		Answer:      string(r.Answer),
		Notes:       r.Notes,
		Selected:    r.Selected,
		UnitID:      r.UnitID,
		RespondedAt: r.RespondedAt,
	}
}

func (r *responseRow) toModel() model.AgencyResponse {
	return model.AgencyResponse{
		ID:          r.ID,
		TripID:      r.TripID,
		AgencyID:    r.AgencyID,
		Answer:      model.Answer(r.Answer),
		Notes:       r.Notes,
		Selected:    r.Selected,
		UnitID:      r.UnitID,
		RespondedAt: r.RespondedAt,
	}
}

type assignmentRow struct {
	bun.BaseModel `bun:"table:assignments,alias:asg"`

	ID         string     `bun:"id,pk"`
	UnitID     string     `bun:"unit_id"`
	TripID     string     `bun:"trip_id"`
	Type       string     `bun:"type"`
	Status     string     `bun:"status"`
	StartedAt  time.Time  `bun:"started_at"`
	EndedAt    *time.Time `bun:"ended_at"`
	AssignedBy string     `bun:"assigned_by"`
}

func (r *assignmentRow) toModel() model.Assignment {
	return model.Assignment{
		ID:         r.ID,
		UnitID:     r.UnitID,
		TripID:     r.TripID,
		Type:       model.AssignmentType(r.Type),
		Status:     model.AssignmentStatus(r.Status),
		StartedAt:  r.StartedAt,
		EndedAt:    r.EndedAt,
		AssignedBy: r.AssignedBy,
	}
}

type preferredRow struct {
	bun.BaseModel `bun:"table:facility_preferred_agencies,alias:pref"`

	FacilityID string `bun:"facility_id,pk"`
	AgencyID   string `bun:"agency_id,pk"`
	Position   int    `bun:"position"`
}

func levelsToStrings(levels []model.TransportLevel) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = string(l)
	}
	return out
}

func stringsToLevels(ss []string) []model.TransportLevel {
	out := make([]model.TransportLevel, len(ss))
	for i, s := range ss {
		out[i] = model.TransportLevel(s)
	}
	return out
}
