// Package telemetry publishes periodic pod snapshots (actuator states,
// routine records, calibration) to an MQTT broker. Telemetry is best-effort:
// broker trouble is logged and never touches the control loops.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout = 10 * time.Second
	publishQoS     = 0
)

// Publisher wraps the MQTT client and topic layout.
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
}

// Connect dials the broker. An empty clientID gets a generated suffix so two
// pods on one broker never collide.
func Connect(broker, clientID, topicPrefix string) (*Publisher, error) {
	if clientID == "" {
		clientID = "podd-" + uuid.NewString()[:8]
	}

	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("telemetry: connect to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("telemetry: connect to %s: %w", broker, err)
	}

	log.Info().Str("broker", broker).Str("client_id", clientID).Msg("Telemetry connected")
	return &Publisher{client: client, topicPrefix: topicPrefix}, nil
}

// Publish serializes payload as JSON and publishes it under
// <prefix>/<subtopic>.
func (p *Publisher) Publish(subtopic string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telemetry: marshal payload: %w", err)
	}

	topic := p.topicPrefix + "/" + subtopic
	token := p.client.Publish(topic, publishQoS, false, data)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("telemetry: publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
