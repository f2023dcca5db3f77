package postgres

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// CreateSchema creates the dispatch tables and indexes if they do not exist.
// Intended for development and integration tests; production deployments run
// migrations out of band.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trips (
			id TEXT PRIMARY KEY,
			facility_id TEXT NOT NULL,
			origin_lat DOUBLE PRECISION,
			origin_lng DOUBLE PRECISION,
			origin_name TEXT NOT NULL DEFAULT '',
			destination_name TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL,
			urgency TEXT NOT NULL,
			scheduled_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			assigned_unit_id TEXT,
			requested_by TEXT NOT NULL DEFAULT '',
			cancel_reason TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS trips_status_idx ON trips (status)`,
		`CREATE INDEX IF NOT EXISTS trips_stale_idx ON trips (COALESCE(scheduled_at, created_at)) WHERE status = 'PENDING'`,
		`CREATE TABLE IF NOT EXISTS agencies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION,
			service_radius_km DOUBLE PRECISION NOT NULL DEFAULT 0,
			capabilities TEXT[] NOT NULL DEFAULT '{}',
			available_levels TEXT[] NOT NULL DEFAULT '{}',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			available BOOLEAN NOT NULL DEFAULT TRUE,
			accepts_alerts BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS units (
			id TEXT PRIMARY KEY,
			agency_id TEXT NOT NULL REFERENCES agencies (id),
			call_sign TEXT NOT NULL DEFAULT '',
			level TEXT NOT NULL,
			status TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS agency_responses (
			id TEXT PRIMARY KEY,
			trip_id TEXT NOT NULL REFERENCES trips (id),
			agency_id TEXT NOT NULL,
			answer TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			selected BOOLEAN NOT NULL DEFAULT FALSE,
			unit_id TEXT,
			responded_at TIMESTAMPTZ NOT NULL,
			UNIQUE (trip_id, agency_id)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS agency_responses_selected_idx
			ON agency_responses (trip_id) WHERE selected`,
		`CREATE TABLE IF NOT EXISTS assignments (
			id TEXT PRIMARY KEY,
			unit_id TEXT NOT NULL REFERENCES units (id),
			trip_id TEXT NOT NULL REFERENCES trips (id),
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			assigned_by TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS assignments_active_unit_idx
			ON assignments (unit_id) WHERE status = 'ACTIVE'`,
		`CREATE TABLE IF NOT EXISTS facility_preferred_agencies (
			facility_id TEXT NOT NULL,
			agency_id TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (facility_id, agency_id)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
