// Package reaper expires transport requests that never received a unit.
// A PENDING trip whose reference time (scheduled pickup, or creation when
// unscheduled) is older than the staleness window is cancelled with a system
// reason so dashboards stop showing it as actionable.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/medrelay/dispatch/core/events"
	"github.com/medrelay/dispatch/core/logger"
	"github.com/medrelay/dispatch/core/metrics"
	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/storage"
)

// Reaper periodically sweeps stale PENDING trips.
type Reaper struct {
	store      storage.Store
	bus        *events.Bus
	sink       metrics.Sink
	log        logger.Logger
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

// New creates a Reaper. bus may be nil; sink defaults to NopSink; now
// defaults to time.Now.
func New(store storage.Store, bus *events.Bus, sink metrics.Sink, log logger.Logger, staleAfter, interval time.Duration, now func() time.Time) *Reaper {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if now == nil {
		now = time.Now
	}
	return &Reaper{store: store, bus: bus, sink: sink, log: log, staleAfter: staleAfter, interval: interval, now: now}
}

// Sweep cancels every stale PENDING trip and returns how many were expired.
// Each trip is cancelled with a compare-and-set on PENDING, so a trip that
// gets assigned or cancelled mid-sweep is silently skipped. Sweeping twice is
// a no-op the second time.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now().UTC()
	cutoff := now.Add(-r.staleAfter)
	trips, err := r.store.ListTrips(ctx, storage.TripFilter{
		Statuses:    []model.TripStatus{model.TripPending},
		StaleBefore: &cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale trips: %w", err)
	}

	expired := 0
	for _, t := range trips {
		age := now.Sub(t.ReferenceTime())
		reason := fmt.Sprintf("expired by system: no unit assigned within %s", r.staleAfter)
		ok, err := r.store.UpdateTripStatus(ctx, t.ID, model.TripPending, model.TripCancelled, nil, &reason)
		if err != nil {
			return expired, fmt.Errorf("expire trip %s: %w", t.ID, err)
		}
		if !ok {
			// Lost the race: the trip moved on while we were sweeping.
			continue
		}
		expired++
		if r.bus != nil {
			r.bus.Publish(events.TripExpired{TripID: t.ID, Age: age, ExpiredAt: now})
		}
		if r.log != nil {
			r.log.Infof("trip expired: id=%s age=%s", t.ID, age.Round(time.Minute))
		}
	}

	_ = r.sink.RecordSweep(metrics.SweepEvent{Expired: expired, Time: now})
	if r.log != nil && expired > 0 {
		r.log.Infof("sweep done: expired=%d scanned=%d", expired, len(trips))
	}
	return expired, nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				if r.log != nil {
					r.log.Errorf("sweep failed: %v", err)
				}
			}
		}
	}
}
