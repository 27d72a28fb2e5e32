package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/podd/internal/actuator"
	"github.com/dokzlo13/podd/internal/config"
	"github.com/dokzlo13/podd/internal/db"
	"github.com/dokzlo13/podd/internal/hardware"
	"github.com/dokzlo13/podd/internal/ledger"
	"github.com/dokzlo13/podd/internal/pod"
	"github.com/dokzlo13/podd/internal/routine"
	"github.com/dokzlo13/podd/internal/schedule"
	"github.com/dokzlo13/podd/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Store  *storage.Store
	Ledger *ledger.Ledger

	// Hardware backend (sim rig implements driver and both sensors)
	Rig *hardware.SimRig

	// Control core
	Queue     *actuator.Queue
	Registry  *routine.Registry
	Confirm   *routine.ConfirmSignal
	Engine    *routine.Engine
	Schedules *schedule.Store
	Manager   *schedule.Manager
	Appliers  []*schedule.Applier

	// External surface
	Controller *pod.Controller

	// Auxiliary services
	Health    *HealthService
	Telemetry *TelemetryService

	wg sync.WaitGroup
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Config store and ledger share the connection
	s.Store = storage.New(database.DB)
	s.Ledger = ledger.New(database.DB)

	// Hardware backend
	if cfg.Hardware.Driver != "sim" {
		s.Close()
		return nil, fmt.Errorf("unknown hardware driver %q", cfg.Hardware.Driver)
	}
	s.Rig = hardware.NewSimRig(hardware.SimConfig{
		EmptyMM:     cfg.Hardware.Sim.EmptyMM,
		FullMM:      cfg.Hardware.Sim.FullMM,
		DrainRate:   cfg.Hardware.Sim.DrainRate,
		FillRate:    cfg.Hardware.Sim.FillRate,
		NoiseMM:     cfg.Hardware.Sim.NoiseMM,
		FaultChance: cfg.Hardware.Sim.FaultChance,
		SupplyMV:    12000,
	}, cfg.Hardware.StartMM)

	// Actuator command queue - the single serialization point for hardware
	s.Queue = actuator.NewQueue(s.Rig)

	// Routine registry and engine
	s.Registry = routine.NewRegistry()
	s.Confirm = routine.NewConfirmSignal()
	s.Engine = routine.NewEngine(
		s.Registry,
		s.Queue,
		s.Rig,
		s.Rig,
		s.Store,
		s.Ledger,
		s.Confirm,
		routine.Timing{
			Poll:          cfg.Routines.Poll.Duration(),
			ConfirmPoll:   cfg.Routines.ConfirmPoll.Duration(),
			SafetyTimeout: cfg.Routines.SafetyTimeout.Duration(),
			Debounce:      cfg.Routines.Debounce,
		},
	)

	// Schedule store, manager, and one applier per schedule type
	s.Schedules = schedule.NewStore(s.Store)
	s.Schedules.Load()
	s.Manager = schedule.NewManager(s.Schedules, s.Registry, s.Ledger)
	s.Appliers = []*schedule.Applier{
		schedule.NewApplier(schedule.Light, s.Schedules, s.Queue, cfg.Schedules.LightAirInterval.Duration()),
		schedule.NewApplier(schedule.Air, s.Schedules, s.Queue, cfg.Schedules.LightAirInterval.Duration()),
		schedule.NewApplier(schedule.Planter, s.Schedules, s.Queue, cfg.Schedules.PlanterInterval.Duration()),
	}

	// Facade for front ends
	s.Controller = pod.NewController(s.Queue, s.Registry, s.Engine, s.Schedules, s.Manager, s.Confirm)

	// Auxiliary services
	s.Health = NewHealthService(cfg)
	s.Telemetry = NewTelemetryService(cfg, s.Controller)

	return s, nil
}

// Start starts all background tasks.
func (s *Services) Start(ctx context.Context) error {
	s.spawn(func() { s.Queue.Run(ctx) })
	s.spawn(func() { s.Manager.Run(ctx) })
	for _, a := range s.Appliers {
		applier := a
		s.spawn(func() { applier.Run(ctx) })
	}

	s.Health.Start(ctx)
	if err := s.Telemetry.Start(ctx); err != nil {
		// Telemetry is optional; the core keeps running without it.
		log.Warn().Err(err).Msg("Telemetry disabled after connect failure")
	}

	s.spawn(func() { s.runLedgerCleanup(ctx) })

	return nil
}

func (s *Services) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// runLedgerCleanup periodically removes old ledger entries.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.RetentionPeriod()
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}

// Stop waits for background tasks and releases resources. The tasks exit
// through the cancelled application context.
func (s *Services) Stop() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.cfg.GetShutdownTimeout()):
		log.Warn().Msg("Timed out waiting for background tasks")
	}

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Telemetry != nil {
		s.Telemetry.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
