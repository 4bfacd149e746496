package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luki/simtemp/internal/sample"
)

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{topic, payload})
	return nil
}

func (f *fakePublisher) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.msgs {
		out = append(out, m.topic)
	}
	return out
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func crossing(ts uint64, temp int32) sample.Sample {
	return sample.Sample{Timestamp: ts, TempMC: temp, Flags: sample.FlagNew | sample.FlagThresholdCrossed}
}

func TestRunPublishesAlertsOnly(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub, Options{DeviceID: "dev", Logger: quiet})

	in := make(chan sample.Sample, 3)
	in <- sample.Sample{Timestamp: 1, TempMC: 40000, Flags: sample.FlagNew}
	in <- crossing(2, 46000)
	in <- crossing(3, 44000)
	close(in)

	require.NoError(t, b.Run(context.Background(), in))
	require.Equal(t, []string{"simtemp/dev/alert", "simtemp/dev/alert"}, pub.topics())

	var first, second Message
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &first))
	require.NoError(t, json.Unmarshal(pub.msgs[1].payload, &second))
	require.Equal(t, "rising", first.Direction)
	require.Equal(t, "falling", second.Direction)
	require.Equal(t, 46.0, first.Celsius)
	require.Equal(t, uint64(2), b.Stats().Alerts)
}

func TestTelemetry(t *testing.T) {
	pub := &fakePublisher{}
	b := New(pub, Options{DeviceID: "dev", TopicPrefix: "lab", Telemetry: true, Logger: quiet})

	b.Forward(sample.Sample{Timestamp: 1, TempMC: 40000, Flags: sample.FlagNew}, 0, false)
	b.Forward(crossing(2, 46000), 40000, true)

	require.Equal(t, []string{"lab/dev/telemetry", "lab/dev/alert", "lab/dev/telemetry"}, pub.topics())

	var tel Message
	require.NoError(t, json.Unmarshal(pub.msgs[2].payload, &tel))
	require.True(t, tel.Crossed)
	require.Empty(t, tel.Direction)
	require.Equal(t, Stats{Alerts: 1, Telemetry: 2}, b.Stats())
}

func TestPublishErrorsAreCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	b := New(pub, Options{DeviceID: "dev", Telemetry: true, Logger: quiet})

	b.Forward(crossing(1, 50000), 0, false)
	require.Equal(t, Stats{Errors: 2}, b.Stats())
}

func TestRunStopsOnContext(t *testing.T) {
	b := New(&fakePublisher{}, Options{DeviceID: "dev", Logger: quiet})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := b.Run(ctx, make(chan sample.Sample))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBrokerURL(t *testing.T) {
	require.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	require.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}
