package device

import (
	"fmt"
	"sort"

	"github.com/nerrad567/valve-calibrator/internal/infrastructure/mqtt"
)

// Route is the result of resolving an inbound topic.
type Route struct {
	DeviceID string
	Kind     Kind
}

// Registry maps MQTT topics to configured devices.
//
// It is immutable after NewRegistry returns and safe for concurrent use
// without locking.
type Registry struct {
	topics  mqtt.Topics
	devices map[string]Config
	ids     []string
	routes  map[string]Route
}

// NewRegistry validates the device list and builds the topic routes.
//
// Every suffix must be non-empty, free of MQTT wildcards, and unique across
// all devices and both kinds. A violation returns ErrInvalidSuffix or
// ErrDuplicateSuffix; every device ID must be non-empty and unique.
func NewRegistry(baseTopic string, devices []Config) (*Registry, error) {
	r := &Registry{
		topics:  mqtt.Topics{Base: baseTopic},
		devices: make(map[string]Config, len(devices)),
		ids:     make([]string, 0, len(devices)),
		routes:  make(map[string]Route, len(devices)*2),
	}

	for _, d := range devices {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: empty id", ErrInvalidDevice)
		}
		if _, exists := r.devices[d.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, d.ID)
		}
		if err := r.addRoute(d.ID, KindSensor, d.TemperatureSensor); err != nil {
			return nil, err
		}
		if err := r.addRoute(d.ID, KindValve, d.ValveActuator); err != nil {
			return nil, err
		}
		r.devices[d.ID] = d
		r.ids = append(r.ids, d.ID)
	}

	sort.Strings(r.ids)
	return r, nil
}

func (r *Registry) addRoute(id string, kind Kind, suffix string) error {
	if suffix == "" {
		return fmt.Errorf("%w: device %s has an empty %s suffix", ErrInvalidSuffix, id, kind)
	}
	if !mqtt.IsWildcardFree(suffix) {
		return fmt.Errorf("%w: device %s %s suffix %q contains a wildcard", ErrInvalidSuffix, id, kind, suffix)
	}

	topic := r.topics.Device(suffix)
	if existing, taken := r.routes[topic]; taken {
		return fmt.Errorf("%w: %q used by %s %s and %s %s",
			ErrDuplicateSuffix, suffix, existing.DeviceID, existing.Kind, id, kind)
	}
	r.routes[topic] = Route{DeviceID: id, Kind: kind}
	return nil
}

// Resolve returns the device and kind that own topic.
func (r *Registry) Resolve(topic string) (Route, bool) {
	route, ok := r.routes[topic]
	return route, ok
}

// ResolveSensor returns the device whose temperature sensor publishes on topic.
func (r *Registry) ResolveSensor(topic string) (string, bool) {
	return r.resolveKind(topic, KindSensor)
}

// ResolveValve returns the device whose valve actuator publishes on topic.
func (r *Registry) ResolveValve(topic string) (string, bool) {
	return r.resolveKind(topic, KindValve)
}

func (r *Registry) resolveKind(topic string, kind Kind) (string, bool) {
	route, ok := r.routes[topic]
	if !ok || route.Kind != kind {
		return "", false
	}
	return route.DeviceID, true
}

// Topics returns every topic to subscribe to, sorted.
func (r *Registry) Topics() []string {
	topics := make([]string, 0, len(r.routes))
	for topic := range r.routes {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Device returns the configuration of a device.
func (r *Registry) Device(id string) (Config, bool) {
	d, ok := r.devices[id]
	return d, ok
}

// CalibrationTopic returns the topic used to write a device's valve calibration.
func (r *Registry) CalibrationTopic(id string) (string, bool) {
	d, ok := r.devices[id]
	if !ok {
		return "", false
	}
	return r.topics.CalibrationSet(d.ValveActuator), true
}

// IDs returns the configured device identifiers, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.ids))
	copy(ids, r.ids)
	return ids
}

// Len returns the number of configured devices.
func (r *Registry) Len() int {
	return len(r.ids)
}
