package calibration

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// MinCalibrationStep is the smallest change worth writing to a valve.
// Offsets are multiples of 0.5, so this admits any real step.
const MinCalibrationStep = 0.49

// Transport publishes a raw MQTT message.
// *mqtt.Client satisfies it.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// TopicResolver maps a device to its calibration set topic.
// *device.Registry satisfies it.
type TopicResolver interface {
	CalibrationTopic(deviceID string) (string, bool)
}

// MetricsSink records published corrections.
// *influxdb.Client satisfies it.
type MetricsSink interface {
	RecordCalibration(deviceID string, oldCalibration, newCalibration float64, at time.Time)
}

// Logger defines the logging interface used by the Publisher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}

// Stats counts publish decisions.
type Stats struct {
	Published uint64 `json:"published"`
	Skipped   uint64 `json:"skipped"`
	Failed    uint64 `json:"failed"`
}

// Publisher decides whether a computed calibration should be sent and
// hands it to the transport.
//
// Safe for concurrent use.
type Publisher struct {
	transport Transport
	topics    TopicResolver
	qos       byte
	metrics   MetricsSink
	logger    Logger
	now       func() time.Time

	published atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher creates a Publisher that writes with the given QoS,
// not retained.
func NewPublisher(transport Transport, topics TopicResolver, qos byte) *Publisher {
	return &Publisher{
		transport: transport,
		topics:    topics,
		qos:       qos,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.logger = logger
}

// SetMetrics sets an optional sink for published corrections.
func (p *Publisher) SetMetrics(sink MetricsSink) {
	p.metrics = sink
}

// ShouldPublish reports whether newCal differs enough from oldCal to be
// written.
func ShouldPublish(newCal, oldCal float64) bool {
	return math.Abs(newCal-oldCal) > MinCalibrationStep
}

// FormatCalibration renders an offset as the valve expects it: the
// shortest decimal form, e.g. "4.5" or "-2".
func FormatCalibration(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Publish sends newCal to the device's valve when it differs from oldCal
// by more than MinCalibrationStep. It reports whether a message was sent.
//
// A cancelled context prevents the publish and returns ctx.Err(). A
// transport failure is wrapped in ErrPublish and not retried.
func (p *Publisher) Publish(ctx context.Context, deviceID string, newCal, oldCal float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if !ShouldPublish(newCal, oldCal) {
		p.skipped.Add(1)
		p.logger.Debug("calibration unchanged",
			"device", deviceID,
			"calibration", oldCal,
			"computed", newCal,
		)
		return false, nil
	}

	topic, ok := p.topics.CalibrationTopic(deviceID)
	if !ok {
		p.failed.Add(1)
		return false, fmt.Errorf("%w: no calibration topic for device %q", ErrPublish, deviceID)
	}

	payload := FormatCalibration(newCal)
	if err := p.transport.Publish(topic, []byte(payload), p.qos, false); err != nil {
		p.failed.Add(1)
		return false, fmt.Errorf("%w: device %s topic %s: %w", ErrPublish, deviceID, topic, err)
	}

	p.published.Add(1)
	p.logger.Info("calibration published",
		"device", deviceID,
		"topic", topic,
		"old", oldCal,
		"new", newCal,
	)

	if p.metrics != nil {
		p.metrics.RecordCalibration(deviceID, oldCal, newCal, p.now())
	}

	return true, nil
}

// Stats returns a snapshot of the publish counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Skipped:   p.skipped.Load(),
		Failed:    p.failed.Load(),
	}
}
