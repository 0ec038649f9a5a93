package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const qos = 1

var ErrNotConnected = errors.New("mqtt not connected")

// Config holds MQTT bridge configuration.
type Config struct {
	Broker   string
	Username string
	Password string
	ClientID string

	ConnectTimeout time.Duration
	RetryInterval  time.Duration
}

// Bridge is the controller's connection to the broker.
type Bridge struct {
	client    pahomqtt.Client
	logger    *slog.Logger
	timeout   time.Duration
	onConnect func()
}

// ClientID builds a broker-unique client id for a controller.
func ClientID(controllerID string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "mpct-" + controllerID + "-" + suffix
}

// NewBridge creates an unconnected bridge. onConnect runs after every
// successful (re)connect; subscriptions do not survive a reconnect and must
// be renewed there.
func NewBridge(cfg Config, onConnect func(), logger *slog.Logger) *Bridge {
	b := &Bridge{
		logger:    logger.With("component", "mqtt"),
		timeout:   cfg.ConnectTimeout,
		onConnect: onConnect,
	}
	if b.timeout <= 0 {
		b.timeout = 10 * time.Second
	}
	b.client = pahomqtt.NewClient(b.newClientOptions(cfg))
	return b
}

func (b *Bridge) newClientOptions(cfg Config) *pahomqtt.ClientOptions {
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 5 * time.Second
	}
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retry).
		SetMaxReconnectInterval(time.Minute).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			if b.onConnect != nil {
				b.onConnect()
			}
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		}).
		SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
			b.logger.Info("MQTT reconnecting")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// Connect starts connecting. A broker that is not reachable within the
// connect timeout is only logged: paho keeps retrying in the background and
// onConnect fires once it succeeds.
func (b *Bridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(b.timeout) {
		b.logger.Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Publish sends payload with QoS 1. Delivery is confirmed asynchronously.
func (b *Bridge) Publish(topic string, payload []byte) {
	token := b.client.Publish(topic, qos, false, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// Subscribe registers handler for topic with QoS 1. The handler runs on
// paho's callback goroutine.
func (b *Bridge) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	if !b.client.IsConnectionOpen() {
		return fmt.Errorf("subscribe %s: %w", topic, ErrNotConnected)
	}
	token := b.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT subscribe error", "topic", topic, "err", err)
		} else {
			b.logger.Debug("MQTT subscribed", "topic", topic)
		}
	}()
	return nil
}

// Stop disconnects, allowing in-flight publishes a second to complete.
func (b *Bridge) Stop() {
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}
