// Package mqtt republishes the engine's authoritative position, velocity,
// heading and visible-satellite cells as retained MQTT messages. The
// bridge lives entirely outside the engine: it only subscribes to the
// engine's observable cells, never the other way around.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/starfail/locationengine/pkg/engine"
	"github.com/starfail/locationengine/pkg/logx"
	"github.com/starfail/locationengine/pkg/model"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Port        int
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         int
	Retain      bool
	Enabled     bool
}

// DefaultConfig targets a local broker with this daemon's client ID and
// topic prefix.
func DefaultConfig() Config {
	return Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "locationengined",
		TopicPrefix: "location",
		QoS:         1,
		Retain:      true,
		Enabled:     false,
	}
}

// Bridge republishes an Engine's cells to an MQTT broker.
type Bridge struct {
	client MQTT.Client
	cfg    Config
	log    *logx.Logger

	connected bool
	conns     []interface{ Disconnect() }
}

// New constructs a Bridge over cfg. Callers must call Connect before
// Subscribe to start republishing.
func New(cfg Config, log *logx.Logger) *Bridge {
	return &Bridge{cfg: cfg, log: log}
}

// Connect establishes the MQTT connection. A disabled bridge is a no-op.
func (b *Bridge) Connect() error {
	if !b.cfg.Enabled {
		b.log.Debug("mqtt bridge disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", b.cfg.Broker, b.cfg.Port))
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		b.connected = true
		b.log.Info("mqtt connected", "broker", b.cfg.Broker, "port", b.cfg.Port)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		b.connected = false
		b.log.Error("mqtt connection lost", "error", err.Error())
	})

	b.client = MQTT.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect failed: %w", token.Error())
	}
	return nil
}

// Disconnect tears down the MQTT connection and every cell subscription
// wired by Subscribe.
func (b *Bridge) Disconnect() {
	for _, c := range b.conns {
		c.Disconnect()
	}
	b.conns = nil
	if b.client != nil && b.connected {
		b.client.Disconnect(250)
		b.connected = false
	}
}

// Subscribe wires e's cells to republish on change. Safe to call once per
// Bridge; a disabled bridge still wires subscriptions but every publish is
// a silent no-op via publish's Enabled/connected gate.
func (b *Bridge) Subscribe(e *engine.Engine) {
	b.conns = append(b.conns,
		e.OnPositionChange(func(u model.Update[model.Position]) {
			b.publish("position", u)
		}),
		e.OnVelocityChange(func(u model.Update[model.Velocity]) {
			b.publish("velocity", u)
		}),
		e.OnHeadingChange(func(u model.Update[model.Heading]) {
			b.publish("heading", u)
		}),
		e.OnSpaceVehiclesChange(func(svs map[model.SvKey]model.SpaceVehicle) {
			b.publish("space_vehicles", svs)
		}),
		e.OnEngineStateChange(func(s engine.EngineState) {
			b.publish("engine_state", s.String())
		}),
	)
}

func (b *Bridge) publish(subtopic string, payload interface{}) {
	if !b.cfg.Enabled || !b.connected {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("mqtt: marshal failed", "subtopic", subtopic, "error", err.Error())
		return
	}
	topic := fmt.Sprintf("%s/%s", b.cfg.TopicPrefix, subtopic)
	token := b.client.Publish(topic, byte(b.cfg.QoS), b.cfg.Retain, data)
	if token.Wait() && token.Error() != nil {
		b.log.Warn("mqtt: publish failed", "topic", topic, "error", token.Error().Error())
		return
	}
	b.log.Debug("mqtt: published", "topic", topic, "size", len(data))
}

// IsConnected reports whether the bridge currently holds a live broker
// connection.
func (b *Bridge) IsConnected() bool {
	return b.connected && b.client != nil && b.client.IsConnected()
}
