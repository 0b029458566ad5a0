package device

import (
	"encoding/json"
	"time"
)

// Config pairs a reference temperature sensor with a valve actuator.
// Both fields are topic suffixes below the MQTT base topic.
type Config struct {
	ID                string
	TemperatureSensor string
	ValveActuator     string
}

// Kind identifies which side of a device pair a topic belongs to.
type Kind int

const (
	// KindSensor is the reference temperature sensor.
	KindSensor Kind = iota + 1

	// KindValve is the thermostatic valve actuator.
	KindValve
)

// String returns the lower-case name used in logs.
func (k Kind) String() string {
	switch k {
	case KindSensor:
		return "sensor"
	case KindValve:
		return "valve"
	default:
		return "unknown"
	}
}

// TemperatureSensorReading is the payload of the reference sensor.
type TemperatureSensorReading struct {
	Temperature float64 `json:"temperature"`
}

// ValveReading is the payload of the valve actuator.
type ValveReading struct {
	// LocalTemperature is the temperature the valve displays, which
	// already includes LocalCalibration.
	LocalTemperature float64 `json:"local_temperature"`

	// LocalCalibration is the offset currently applied by the valve.
	LocalCalibration float64 `json:"local_temperature_calibration"`
}

// CoupledState is the latest known reading from each side of a device.
//
// SensorSeen and ValveSeen are set by the first reading of that kind and
// never cleared.
type CoupledState struct {
	Sensor     TemperatureSensorReading `json:"sensor"`
	Valve      ValveReading             `json:"valve"`
	SensorSeen bool                     `json:"sensor_seen"`
	ValveSeen  bool                     `json:"valve_seen"`
	UpdatedAt  time.Time                `json:"updated_at,omitzero"`
}

// Ready reports whether both the sensor and the valve have reported.
func (s CoupledState) Ready() bool {
	return s.SensorSeen && s.ValveSeen
}

// MarshalJSON adds the derived "ready" field.
func (s CoupledState) MarshalJSON() ([]byte, error) {
	type plain CoupledState
	return json.Marshal(struct {
		plain
		Ready bool `json:"ready"`
	}{
		plain: plain(s),
		Ready: s.Ready(),
	})
}
