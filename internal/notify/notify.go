// Package notify publishes trip lifecycle events.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/ukydev/freight-ledger/internal/models"
)

// Publisher delivers lifecycle events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event models.TripEvent) error
	Close()
}

// Noop drops every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) Publish(context.Context, models.TripEvent) error { return nil }
func (Noop) Close()                                          {}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Timeout  time.Duration
}

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher sends each event as JSON to "<topic>/<event type>" at QoS 1.
type MQTTPublisher struct {
	client  mqttClient
	topic   string
	timeout time.Duration
}

// NewMQTTPublisher connects to the broker and returns a publisher.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(client, cfg.Topic, cfg.Timeout), nil
}

func newMQTTPublisher(client mqttClient, topic string, timeout time.Duration) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, timeout: timeout}
}

func (p *MQTTPublisher) Publish(ctx context.Context, event models.TripEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := p.client.Publish(p.topic+"/"+string(event.Type), 1, false, payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("mqtt publish %s: timed out", event.Type)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects after giving in-flight messages a moment to drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
