package device

import (
	"errors"
	"reflect"
	"testing"
)

func testDevices() []Config {
	return []Config{
		{ID: "living_room", TemperatureSensor: "living_room/temp_sensor", ValveActuator: "living_room/thermo_valve"},
		{ID: "bedroom", TemperatureSensor: "bedroom/temp_sensor", ValveActuator: "bedroom/thermo_valve"},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry("zigbee2mqtt", testDevices())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func TestRegistry_Resolve(t *testing.T) {
	reg := newTestRegistry(t)

	tests := []struct {
		name   string
		topic  string
		want   Route
		wantOK bool
	}{
		{
			name:   "sensor topic",
			topic:  "zigbee2mqtt/living_room/temp_sensor",
			want:   Route{DeviceID: "living_room", Kind: KindSensor},
			wantOK: true,
		},
		{
			name:   "valve topic",
			topic:  "zigbee2mqtt/bedroom/thermo_valve",
			want:   Route{DeviceID: "bedroom", Kind: KindValve},
			wantOK: true,
		},
		{
			name:  "calibration echo is not a device topic",
			topic: "zigbee2mqtt/bedroom/thermo_valve/set/local_temperature_calibration",
		},
		{
			name:  "suffix without base",
			topic: "living_room/temp_sensor",
		},
		{
			name:  "topic containing a suffix as substring",
			topic: "zigbee2mqtt/living_room/temp_sensor_2",
		},
		{
			name:  "unrelated topic",
			topic: "zigbee2mqtt/bridge/state",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := reg.Resolve(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("Resolve(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %+v, want %+v", tt.topic, got, tt.want)
			}
		})
	}
}

func TestRegistry_ResolveByKind(t *testing.T) {
	reg := newTestRegistry(t)

	if id, ok := reg.ResolveSensor("zigbee2mqtt/living_room/temp_sensor"); !ok || id != "living_room" {
		t.Errorf("ResolveSensor() = (%q, %v), want (living_room, true)", id, ok)
	}
	if _, ok := reg.ResolveSensor("zigbee2mqtt/living_room/thermo_valve"); ok {
		t.Error("ResolveSensor() matched a valve topic")
	}
	if id, ok := reg.ResolveValve("zigbee2mqtt/living_room/thermo_valve"); !ok || id != "living_room" {
		t.Errorf("ResolveValve() = (%q, %v), want (living_room, true)", id, ok)
	}
	if _, ok := reg.ResolveValve("zigbee2mqtt/living_room/temp_sensor"); ok {
		t.Error("ResolveValve() matched a sensor topic")
	}
}

func TestNewRegistry_Errors(t *testing.T) {
	tests := []struct {
		name    string
		devices []Config
		wantErr error
	}{
		{
			name:    "empty id",
			devices: []Config{{TemperatureSensor: "a", ValveActuator: "b"}},
			wantErr: ErrInvalidDevice,
		},
		{
			name: "duplicate id",
			devices: []Config{
				{ID: "a", TemperatureSensor: "a/t", ValveActuator: "a/v"},
				{ID: "a", TemperatureSensor: "b/t", ValveActuator: "b/v"},
			},
			wantErr: ErrDuplicateDevice,
		},
		{
			name:    "empty sensor suffix",
			devices: []Config{{ID: "a", ValveActuator: "a/v"}},
			wantErr: ErrInvalidSuffix,
		},
		{
			name:    "empty valve suffix",
			devices: []Config{{ID: "a", TemperatureSensor: "a/t"}},
			wantErr: ErrInvalidSuffix,
		},
		{
			name:    "single-level wildcard",
			devices: []Config{{ID: "a", TemperatureSensor: "+/t", ValveActuator: "a/v"}},
			wantErr: ErrInvalidSuffix,
		},
		{
			name:    "multi-level wildcard",
			devices: []Config{{ID: "a", TemperatureSensor: "a/t", ValveActuator: "a/#"}},
			wantErr: ErrInvalidSuffix,
		},
		{
			name:    "sensor and valve share suffix",
			devices: []Config{{ID: "a", TemperatureSensor: "a/x", ValveActuator: "a/x"}},
			wantErr: ErrDuplicateSuffix,
		},
		{
			name: "suffix shared across devices",
			devices: []Config{
				{ID: "a", TemperatureSensor: "shared", ValveActuator: "a/v"},
				{ID: "b", TemperatureSensor: "b/t", ValveActuator: "shared"},
			},
			wantErr: ErrDuplicateSuffix,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry("zigbee2mqtt", tt.devices)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("NewRegistry() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegistry_Topics(t *testing.T) {
	reg := newTestRegistry(t)

	want := []string{
		"zigbee2mqtt/bedroom/temp_sensor",
		"zigbee2mqtt/bedroom/thermo_valve",
		"zigbee2mqtt/living_room/temp_sensor",
		"zigbee2mqtt/living_room/thermo_valve",
	}
	if got := reg.Topics(); !reflect.DeepEqual(got, want) {
		t.Errorf("Topics() = %v, want %v", got, want)
	}

	// Every subscription topic must route back to a device.
	for _, topic := range reg.Topics() {
		if _, ok := reg.Resolve(topic); !ok {
			t.Errorf("subscribed topic %q does not resolve", topic)
		}
	}
}

func TestRegistry_Lookup(t *testing.T) {
	reg := newTestRegistry(t)

	if got := reg.IDs(); !reflect.DeepEqual(got, []string{"bedroom", "living_room"}) {
		t.Errorf("IDs() = %v", got)
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}

	d, ok := reg.Device("bedroom")
	if !ok || d.ValveActuator != "bedroom/thermo_valve" {
		t.Errorf("Device(bedroom) = (%+v, %v)", d, ok)
	}
	if _, ok := reg.Device("garage"); ok {
		t.Error("Device(garage) ok = true, want false")
	}

	topic, ok := reg.CalibrationTopic("living_room")
	if !ok || topic != "zigbee2mqtt/living_room/thermo_valve/set/local_temperature_calibration" {
		t.Errorf("CalibrationTopic(living_room) = (%q, %v)", topic, ok)
	}
	if _, ok := reg.CalibrationTopic("garage"); ok {
		t.Error("CalibrationTopic(garage) ok = true, want false")
	}
}

func TestRegistry_IDsIsCopy(t *testing.T) {
	reg := newTestRegistry(t)
	ids := reg.IDs()
	ids[0] = "mutated"

	if reg.IDs()[0] == "mutated" {
		t.Error("IDs() exposes internal slice")
	}
}

func TestKind_String(t *testing.T) {
	if KindSensor.String() != "sensor" || KindValve.String() != "valve" || Kind(0).String() != "unknown" {
		t.Errorf("unexpected Kind strings: %s %s %s", KindSensor, KindValve, Kind(0))
	}
}
