// Package app assembles the dispatch engine from its configuration: storage
// backend, metrics sinks, event bus, matcher, collector, coordinator, reaper
// and the agency notifier.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/uptrace/bun"

	apitrips "github.com/medrelay/dispatch/api/trips"
	"github.com/medrelay/dispatch/config"
	"github.com/medrelay/dispatch/core/assign"
	"github.com/medrelay/dispatch/core/collect"
	"github.com/medrelay/dispatch/core/events"
	"github.com/medrelay/dispatch/core/match"
	coremetrics "github.com/medrelay/dispatch/core/metrics"
	"github.com/medrelay/dispatch/core/model"
	"github.com/medrelay/dispatch/core/reaper"
	"github.com/medrelay/dispatch/core/storage"
	"github.com/medrelay/dispatch/core/trip"
	"github.com/medrelay/dispatch/infra/logger"
	"github.com/medrelay/dispatch/infra/metrics"
	"github.com/medrelay/dispatch/infra/mqtt"
	"github.com/medrelay/dispatch/infra/postgres"
)

// Service orchestrates the dispatch engine components.
type Service struct {
	Trips       *trip.Service
	Collector   *collect.Collector
	Coordinator *assign.Coordinator
	Reaper      *reaper.Reaper
	Store       storage.Store

	cfg      *config.Config
	db       *bun.DB
	bus      *events.Bus
	sink     coremetrics.Sink
	notifier *mqtt.Notifier
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	var (
		store storage.Store
		db    *bun.DB
	)
	switch cfg.Storage.Driver {
	case "postgres":
		var err error
		db, err = postgres.New(cfg.Storage.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgres.CreateSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		store = postgres.NewStore(db)
	default:
		store = storage.NewMemoryStore()
	}

	sink, err := metrics.NewFromConfig(cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	bus := events.NewBus()
	levels := make([]model.TransportLevel, 0, len(cfg.Dispatch.Levels))
	for _, l := range cfg.Dispatch.Levels {
		levels = append(levels, model.TransportLevel(l))
	}

	matcher := match.New(store, cfg.Dispatch.NotifyRadiusKm, levels, logger.New("matcher"))
	collector := collect.New(store, bus, logger.New("collector"), nil)
	coordinator := assign.New(store, bus, sink, logger.New("coordinator"), nil)
	trips := trip.NewService(store, matcher, coordinator, bus, logger.New("trips"), levels, nil)
	sweeper := reaper.New(store, bus, sink, logger.New("reaper"), cfg.Dispatch.StaleAfter(), cfg.Dispatch.SweepInterval(), nil)

	svc := &Service{
		Trips:       trips,
		Collector:   collector,
		Coordinator: coordinator,
		Reaper:      sweeper,
		Store:       store,
		cfg:         cfg,
		db:          db,
		bus:         bus,
		sink:        sink,
		log:         logg,
	}

	if cfg.MQTT.Enabled {
		notifier, err := mqtt.NewNotifier(cfg.MQTT, collector)
		if err != nil {
			return nil, fmt.Errorf("mqtt notifier: %w", err)
		}
		svc.notifier = notifier
	}
	return svc, nil
}

// Run starts the background loops and the HTTP API, blocking until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.Reaper.Run(ctx)
	go s.recordResponses(ctx)
	if s.notifier != nil {
		go s.notifier.Run(ctx, s.bus)
	}
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusAddr); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/api/trips", apitrips.NewListHandler(s.Store))
	mux.Handle("/api/trips/", apitrips.NewGetHandler(s.Store))
	srv := &http.Server{Addr: s.cfg.API.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("api shutdown: %v", err)
		}
	}()
	s.log.Infof("dispatch service listening on %s", s.cfg.API.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// recordResponses forwards recorded agency replies to the metrics sink.
func (s *Service) recordResponses(ctx context.Context) {
	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			rec, ok := ev.(events.ResponseRecorded)
			if !ok {
				continue
			}
			_ = s.sink.RecordResponse(coremetrics.ResponseEvent{
				TripID:   rec.Response.TripID,
				AgencyID: rec.Response.AgencyID,
				Answer:   rec.Response.Answer,
				Time:     rec.Response.RespondedAt,
			})
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.notifier != nil {
		s.notifier.Disconnect()
	}
	s.bus.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
