// Package metrics exports device activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/luki/simtemp/internal/device"
	"github.com/luki/simtemp/internal/sample"
)

// Read call result labels.
const (
	ResultOK          = "ok"
	ResultWouldBlock  = "would_block"
	ResultUnavailable = "unavailable"
	ResultInvalid     = "invalid"
	ResultCanceled    = "canceled"
	ResultClosed      = "closed"
	ResultError       = "error"
)

// PromObs implements device.Observer.
type PromObs struct {
	samples     prometheus.Counter
	alerts      prometheus.Counter
	overflows   prometheus.Counter
	readCalls   *prometheus.CounterVec
	pollCalls   *prometheus.CounterVec
	queueDepth  prometheus.Gauge
	temperature prometheus.Gauge
}

// NewPromObs registers the device metrics on reg. deviceID is attached as a
// constant label.
func NewPromObs(reg prometheus.Registerer, deviceID string) *PromObs {
	labels := prometheus.Labels{"device": deviceID}

	p := &PromObs{
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "simtemp_samples_total",
			Help:        "Samples successfully enqueued.",
			ConstLabels: labels,
		}),
		alerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "simtemp_alerts_total",
			Help:        "Threshold crossings detected, including dropped samples.",
			ConstLabels: labels,
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "simtemp_overflows_total",
			Help:        "Samples dropped because the queue was full.",
			ConstLabels: labels,
		}),
		readCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "simtemp_read_calls_total",
			Help:        "Read calls by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		pollCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "simtemp_poll_calls_total",
			Help:        "Poll calls by readiness.",
			ConstLabels: labels,
		}, []string{"ready"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "simtemp_queue_depth",
			Help:        "Samples currently queued.",
			ConstLabels: labels,
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "simtemp_temperature_millicelsius",
			Help:        "Most recently generated temperature.",
			ConstLabels: labels,
		}),
	}

	reg.MustRegister(p.samples, p.alerts, p.overflows, p.readCalls, p.pollCalls, p.queueDepth, p.temperature)
	return p
}

// ObserveSample counts a produced sample and updates the gauges.
func (p *PromObs) ObserveSample(s sample.Sample, enqueued bool, depth int) {
	if enqueued {
		p.samples.Inc()
	} else {
		p.overflows.Inc()
	}
	if s.Crossed() {
		p.alerts.Inc()
	}
	p.queueDepth.Set(float64(depth))
	p.temperature.Set(float64(s.TempMC))
}

// ObserveRead counts a read by result label.
func (p *PromObs) ObserveRead(err error) {
	p.readCalls.WithLabelValues(ReadResult(err)).Inc()
}

// ObservePoll counts a readiness check.
func (p *PromObs) ObservePoll(ready bool) {
	if ready {
		p.pollCalls.WithLabelValues("true").Inc()
		return
	}
	p.pollCalls.WithLabelValues("false").Inc()
}

// ReadResult maps a read error to its result label.
func ReadResult(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, device.ErrWouldBlock):
		return ResultWouldBlock
	case errors.Is(err, device.ErrTemporarilyUnavailable):
		return ResultUnavailable
	case errors.Is(err, device.ErrInvalidArgument):
		return ResultInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCanceled
	case errors.Is(err, device.ErrClosed):
		return ResultClosed
	default:
		return ResultError
	}
}

var _ device.Observer = (*PromObs)(nil)
