package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig configures the MQTT mirror.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// MQTTMirror publishes each event as a retained message on
// <prefix>/<event path>, so late subscribers get the latest state.
type MQTTMirror struct {
	client mqtt.Client
	prefix string
}

// NewMQTTMirror connects to the broker. Reconnects are handled by paho; when
// the first connection does not complete within ctx the mirror is still
// returned together with the error, and keeps retrying in the background.
func NewMQTTMirror(ctx context.Context, cfg MQTTConfig) (*MQTTMirror, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	mirror := newMQTTMirror(client, cfg.TopicPrefix)
	if err := waitToken(ctx, client.Connect()); err != nil {
		return mirror, fmt.Errorf("connect %s: %w", cfg.Broker, err)
	}
	return mirror, nil
}

func newMQTTMirror(client mqtt.Client, prefix string) *MQTTMirror {
	return &MQTTMirror{client: client, prefix: prefix}
}

func (m *MQTTMirror) Name() string { return "mqtt" }

func (m *MQTTMirror) Topic(evt Event) string {
	if m.prefix == "" {
		return evt.Path()
	}
	return m.prefix + "/" + evt.Path()
}

func (m *MQTTMirror) Write(ctx context.Context, evt Event) error {
	if !m.client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	token := m.client.Publish(m.Topic(evt), 1, true, payload)
	return waitToken(ctx, token)
}

// Close disconnects, giving in-flight publishes a short grace period.
func (m *MQTTMirror) Close() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
