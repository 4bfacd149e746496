package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const publishTimeout = 2 * time.Second

// ErrNotConnected is returned by Publish while the broker link is down.
var ErrNotConnected = errors.New("mqtt not connected")

// MQTTPublisher is a Publisher backed by a paho client with automatic
// reconnect. A retained "online"/"offline" status is kept on
// <prefix>/<device>/status, with "offline" as the will.
type MQTTPublisher struct {
	Client      mqtt.Client
	statusTopic string
	connected   atomic.Bool
	log         *slog.Logger
}

// Dial connects to broker (host:port, or a full URL).
func Dial(ctx context.Context, broker, clientID, topicPrefix, deviceID string, log *slog.Logger) (*MQTTPublisher, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &MQTTPublisher{
		statusTopic: fmt.Sprintf("%s/%s/status", topicPrefix, deviceID),
		log:         log,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetWill(p.statusTopic, "offline", 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		p.connected.Store(true)
		c.Publish(p.statusTopic, 1, true, "online")
		log.Info("simtemp: mqtt connected", "broker", broker, "client_id", clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.connected.Store(false)
		log.Warn("simtemp: mqtt connection lost, reconnecting", "broker", broker, "err", err)
	}

	p.Client = mqtt.NewClient(opts)

	token := p.Client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		p.Client.Disconnect(0)
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	p.connected.Store(true)
	return p, nil
}

func brokerURL(broker string) string {
	for _, scheme := range []string{"tcp://", "ssl://", "ws://", "wss://", "mqtt://", "mqtts://"} {
		if len(broker) >= len(scheme) && broker[:len(scheme)] == scheme {
			return broker
		}
	}
	return "tcp://" + broker
}

// Publish sends payload and waits up to two seconds for the broker.
func (p *MQTTPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.connected.Load() {
		return ErrNotConnected
	}
	token := p.Client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish to %s: %w", topic, err)
	}
	return nil
}

// Close publishes the offline status and disconnects.
func (p *MQTTPublisher) Close() {
	if p.connected.Load() {
		p.Client.Publish(p.statusTopic, 1, true, "offline").WaitTimeout(publishTimeout)
	}
	p.Client.Disconnect(250)
	p.connected.Store(false)
}

var _ Publisher = (*MQTTPublisher)(nil)
