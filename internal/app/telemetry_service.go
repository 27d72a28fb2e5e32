package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/podd/internal/config"
	"github.com/dokzlo13/podd/internal/pod"
	"github.com/dokzlo13/podd/internal/telemetry"
)

// TelemetryService periodically publishes pod snapshots over MQTT.
type TelemetryService struct {
	cfg        *config.Config
	controller *pod.Controller
	publisher  *telemetry.Publisher
}

// NewTelemetryService creates a new TelemetryService.
func NewTelemetryService(cfg *config.Config, controller *pod.Controller) *TelemetryService {
	return &TelemetryService{
		cfg:        cfg,
		controller: controller,
	}
}

// Start connects to the broker and begins the publish loop if enabled.
// A connect failure disables telemetry for this run; it never stops the core.
func (s *TelemetryService) Start(ctx context.Context) error {
	if !s.cfg.Telemetry.Enabled {
		log.Info().Msg("Telemetry is disabled")
		return nil
	}

	publisher, err := telemetry.Connect(
		s.cfg.Telemetry.Broker,
		s.cfg.Telemetry.ClientID,
		s.cfg.Telemetry.TopicPrefix,
	)
	if err != nil {
		return err
	}
	s.publisher = publisher

	go s.run(ctx)
	return nil
}

func (s *TelemetryService) run(ctx context.Context) {
	interval := s.cfg.Telemetry.Interval.Duration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Telemetry publish loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishSnapshot()
		}
	}
}

func (s *TelemetryService) publishSnapshot() {
	now := time.Now().UTC()

	if err := s.publisher.Publish("actuators", map[string]any{
		"timestamp": now,
		"states":    s.controller.ActuatorSnapshot(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish actuator snapshot")
	}

	if err := s.publisher.Publish("routines", map[string]any{
		"timestamp": now,
		"records":   s.controller.Routines(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish routine snapshot")
	}

	if err := s.publisher.Publish("calibration", map[string]any{
		"timestamp":   now,
		"calibration": s.controller.Calibration(),
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to publish calibration snapshot")
	}
}

// Close disconnects from the broker.
func (s *TelemetryService) Close() {
	if s.publisher != nil {
		s.publisher.Close()
	}
}
