package mqtt

import "strings"

// Topic constants for the calibrator's own namespace.
const (
	// DefaultStatusTopic carries the retained online/offline status when
	// mqtt.status_topic is not configured.
	DefaultStatusTopic = "valve-calibrator/status"

	// calibrationSetSuffix is appended to a valve topic to write its
	// local temperature calibration.
	calibrationSetSuffix = "set/local_temperature_calibration"
)

// Topics builds device topics under a shared base, e.g. "zigbee2mqtt".
//
// Both subscription and routing go through Device so the joining
// convention is defined once.
type Topics struct {
	Base string
}

// Device returns the full topic for a device suffix.
//
// Example: Topics{Base: "zigbee2mqtt"}.Device("living_room/temp_sensor")
// returns "zigbee2mqtt/living_room/temp_sensor".
func (t Topics) Device(suffix string) string {
	return join(t.Base, suffix)
}

// CalibrationSet returns the topic used to write a valve's calibration.
//
// Example: zigbee2mqtt/living_room/thermo_valve/set/local_temperature_calibration
func (t Topics) CalibrationSet(valveSuffix string) string {
	return join(t.Device(valveSuffix), calibrationSetSuffix)
}

// IsWildcardFree reports whether topic contains no MQTT wildcard characters.
// Only wildcard-free topics may be published to.
func IsWildcardFree(topic string) bool {
	return !strings.ContainsAny(topic, "+#")
}

// join concatenates two topic parts with exactly one separator.
func join(base, suffix string) string {
	base = strings.TrimSuffix(base, "/")
	suffix = strings.TrimPrefix(suffix, "/")
	switch {
	case base == "":
		return suffix
	case suffix == "":
		return base
	}
	return base + "/" + suffix
}
