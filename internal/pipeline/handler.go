package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/valve-calibrator/internal/calibration"
	"github.com/nerrad567/valve-calibrator/internal/device"
)

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Router resolves a topic to the device that owns it.
// *device.Registry satisfies it.
type Router interface {
	Resolve(topic string) (device.Route, bool)
}

// CalibrationPublisher sends a new calibration when it differs enough from
// the current one. *calibration.Publisher satisfies it.
type CalibrationPublisher interface {
	Publish(ctx context.Context, deviceID string, newCal, oldCal float64) (bool, error)
}

// StateObserver is notified after every successful state update.
// Implementations must not block.
type StateObserver interface {
	DeviceStateChanged(deviceID string, state device.CoupledState)
}

// sensorPayload and valvePayload use pointers so a missing field can be
// told apart from a zero reading. Unknown fields are ignored.
type sensorPayload struct {
	Temperature *float64 `json:"temperature"`
}

type valvePayload struct {
	LocalTemperature *float64 `json:"local_temperature"`
	LocalCalibration *float64 `json:"local_temperature_calibration"`
}

// Handler processes one message at a time for a device.
//
// Handle may be called concurrently for different devices. Calls for the
// same device must be serialised by the caller, which the Dispatcher does.
type Handler struct {
	router    Router
	store     device.StateStore
	publisher CalibrationPublisher
	observer  StateObserver
	logger    Logger
}

// NewHandler creates a Handler.
func NewHandler(router Router, store device.StateStore, publisher CalibrationPublisher) *Handler {
	return &Handler{
		router:    router,
		store:     store,
		publisher: publisher,
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger for the handler.
func (h *Handler) SetLogger(logger Logger) {
	h.logger = logger
}

// SetObserver sets an observer for state changes.
func (h *Handler) SetObserver(observer StateObserver) {
	h.observer = observer
}

// Handle decodes payload, records it against the owning device and, once
// the device is ready with positive temperatures on both sides, computes
// and publishes a calibration.
//
// A topic that belongs to no device is ignored. Errors wrap ErrDecode,
// device.ErrUnknownDevice or calibration.ErrPublish.
func (h *Handler) Handle(ctx context.Context, topic string, payload []byte) error {
	route, ok := h.router.Resolve(topic)
	if !ok {
		h.logger.Debug("ignoring message for unknown topic", "topic", topic)
		return nil
	}

	state, err := h.update(route, topic, payload)
	if err != nil {
		return err
	}

	if h.observer != nil {
		h.observer.DeviceStateChanged(route.DeviceID, state)
	}

	if !shouldCalibrate(state) {
		return nil
	}

	oldCal := state.Valve.LocalCalibration
	newCal := calibration.Compute(state.Sensor.Temperature, oldCal, state.Valve.LocalTemperature)

	_, err = h.publisher.Publish(ctx, route.DeviceID, newCal, oldCal)
	return err
}

// update decodes the payload for the route's kind and writes it to the store.
func (h *Handler) update(route device.Route, topic string, payload []byte) (device.CoupledState, error) {
	switch route.Kind {
	case device.KindSensor:
		reading, err := decodeSensor(payload)
		if err != nil {
			return device.CoupledState{}, fmt.Errorf("%w: device %s topic %s: %w", ErrDecode, route.DeviceID, topic, err)
		}
		return h.store.UpdateSensor(route.DeviceID, reading)

	case device.KindValve:
		reading, err := decodeValve(payload)
		if err != nil {
			return device.CoupledState{}, fmt.Errorf("%w: device %s topic %s: %w", ErrDecode, route.DeviceID, topic, err)
		}
		return h.store.UpdateValve(route.DeviceID, reading)

	default:
		return device.CoupledState{}, fmt.Errorf("%w: device %s topic %s: unknown route kind %d", ErrDecode, route.DeviceID, topic, route.Kind)
	}
}

// shouldCalibrate reports whether the state holds enough information to
// compute a calibration. Non-positive temperatures are treated as a
// device that has not produced a real reading yet.
func shouldCalibrate(state device.CoupledState) bool {
	return state.Ready() &&
		state.Sensor.Temperature > 0 &&
		state.Valve.LocalTemperature > 0
}

func decodeSensor(payload []byte) (device.TemperatureSensorReading, error) {
	var p sensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return device.TemperatureSensorReading{}, err
	}
	if p.Temperature == nil {
		return device.TemperatureSensorReading{}, fmt.Errorf("missing field %q", "temperature")
	}
	return device.TemperatureSensorReading{Temperature: *p.Temperature}, nil
}

func decodeValve(payload []byte) (device.ValveReading, error) {
	var p valvePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return device.ValveReading{}, err
	}
	if p.LocalTemperature == nil {
		return device.ValveReading{}, fmt.Errorf("missing field %q", "local_temperature")
	}
	if p.LocalCalibration == nil {
		return device.ValveReading{}, fmt.Errorf("missing field %q", "local_temperature_calibration")
	}
	return device.ValveReading{
		LocalTemperature: *p.LocalTemperature,
		LocalCalibration: *p.LocalCalibration,
	}, nil
}
