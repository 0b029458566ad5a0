// Package config loads and validates the valve calibrator configuration.
//
// Values are resolved in three layers: hardcoded defaults, the YAML file,
// then CALIBRATOR_* environment variables. Validate reports every problem
// at once so an operator can fix a broken file in a single pass.
//
// The devices section maps a device identifier to a pair of topic suffixes:
//
//	devices:
//	  living_room:
//	    temperature_sensor: "living_room/temp_sensor"
//	    valve_actuator: "living_room/thermo_valve"
//
// Suffixes are joined to mqtt.base_topic. A suffix may belong to only one
// device and may not contain MQTT wildcards, so every inbound topic maps to
// at most one device.
//
// Credentials (mqtt.auth.password, influxdb.token) should come from the
// environment rather than the file.
package config
