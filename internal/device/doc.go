// Package device holds the calibrator's view of each configured device:
// a reference temperature sensor paired with a thermostatic valve.
//
// The Registry maps inbound MQTT topics to device identifiers. It is built
// once from configuration and is read-only afterwards, so lookups need no
// locking. Matching is by exact topic; a topic belongs to at most one
// device.
//
// The StateStore keeps the latest reading from each side of the pair. A
// device becomes ready once both sides have reported at least once, and
// stays ready for the life of the process.
//
//	reg, err := device.NewRegistry("zigbee2mqtt", configs)
//	store := device.NewMemoryStore(reg.IDs())
//
//	if route, ok := reg.Resolve(topic); ok {
//	    state, err := store.UpdateSensor(route.DeviceID, reading)
//	    if state.Ready() { ... }
//	}
package device
