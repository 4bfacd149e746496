// Package bridge forwards device samples to MQTT: threshold crossings to
// <prefix>/<device>/alert and, optionally, every sample to
// <prefix>/<device>/telemetry.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/luki/simtemp/internal/sample"
)

// Publisher sends one MQTT message.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Message is the JSON payload for both topics.
type Message struct {
	Device      string  `json:"device"`
	TimestampNS uint64  `json:"timestamp_ns"`
	TempMC      int32   `json:"temp_mC"`
	Celsius     float64 `json:"celsius"`
	Crossed     bool    `json:"crossed"`
	Direction   string  `json:"direction,omitempty"` // "rising" or "falling" on alerts
	ReceivedAt  string  `json:"received_at"`
}

// Options configures a Bridge. TopicPrefix defaults to "simtemp".
type Options struct {
	DeviceID    string
	TopicPrefix string
	QoS         byte
	Telemetry   bool
	Logger      *slog.Logger
}

// Stats are lifetime publish counters.
type Stats struct {
	Alerts    uint64
	Telemetry uint64
	Errors    uint64
}

// Bridge turns a sample stream into MQTT alert and telemetry messages.
type Bridge struct {
	pub  Publisher
	opts Options
	log  *slog.Logger
	now  func() time.Time

	alerts    atomic.Uint64
	telemetry atomic.Uint64
	errors    atomic.Uint64
}

// New returns a bridge publishing through pub.
func New(pub Publisher, opts Options) *Bridge {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "simtemp"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{pub: pub, opts: opts, log: log, now: time.Now}
}

// AlertTopic is <prefix>/<device>/alert.
func (b *Bridge) AlertTopic() string {
	return fmt.Sprintf("%s/%s/alert", b.opts.TopicPrefix, b.opts.DeviceID)
}

// TelemetryTopic is <prefix>/<device>/telemetry.
func (b *Bridge) TelemetryTopic() string {
	return fmt.Sprintf("%s/%s/telemetry", b.opts.TopicPrefix, b.opts.DeviceID)
}

// Run forwards samples until the channel closes or ctx ends. Publish
// failures are logged and counted; they do not stop the bridge.
func (b *Bridge) Run(ctx context.Context, samples <-chan sample.Sample) error {
	var (
		prev    int32
		hasPrev bool
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s, ok := <-samples:
			if !ok {
				return nil
			}
			b.Forward(s, prev, hasPrev)
			prev, hasPrev = s.TempMC, true
		}
	}
}

// Forward publishes one sample. prev is the previously forwarded
// temperature, used to label the direction of a crossing.
func (b *Bridge) Forward(s sample.Sample, prev int32, hasPrev bool) {
	msg := Message{
		Device:      b.opts.DeviceID,
		TimestampNS: s.Timestamp,
		TempMC:      s.TempMC,
		Celsius:     s.Celsius(),
		Crossed:     s.Crossed(),
		ReceivedAt:  b.now().UTC().Format(time.RFC3339Nano),
	}

	if s.Crossed() {
		if hasPrev {
			msg.Direction = "falling"
			if s.TempMC > prev {
				msg.Direction = "rising"
			}
		}
		if b.publish(b.AlertTopic(), msg) {
			b.alerts.Add(1)
			b.log.Info("simtemp: threshold alert published",
				"topic", b.AlertTopic(),
				"temp_mC", s.TempMC,
				"direction", msg.Direction,
			)
		}
	}

	if b.opts.Telemetry {
		msg.Direction = ""
		if b.publish(b.TelemetryTopic(), msg) {
			b.telemetry.Add(1)
		}
	}
}

func (b *Bridge) publish(topic string, msg Message) bool {
	payload, err := json.Marshal(msg)
	if err == nil {
		err = b.pub.Publish(topic, b.opts.QoS, false, payload)
	}
	if err != nil {
		b.errors.Add(1)
		b.log.Warn("simtemp: mqtt publish failed", "topic", topic, "err", err)
		return false
	}
	return true
}

// Stats returns the publish counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Alerts:    b.alerts.Load(),
		Telemetry: b.telemetry.Load(),
		Errors:    b.errors.Load(),
	}
}
