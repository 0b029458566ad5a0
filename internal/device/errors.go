package device

import "errors"

// Domain errors for the device package.
//
//	if errors.Is(err, device.ErrUnknownDevice) {
//	    // store was built without this device
//	}
var (
	// ErrUnknownDevice is returned when the store has no entry for a device ID.
	// With a store built from the registry this indicates a wiring bug.
	ErrUnknownDevice = errors.New("device: unknown device")

	// ErrInvalidDevice is returned when a device has no identifier.
	ErrInvalidDevice = errors.New("device: invalid device")

	// ErrDuplicateDevice is returned when two devices share an identifier.
	ErrDuplicateDevice = errors.New("device: duplicate device")

	// ErrInvalidSuffix is returned when a topic suffix is empty or contains
	// an MQTT wildcard.
	ErrInvalidSuffix = errors.New("device: invalid topic suffix")

	// ErrDuplicateSuffix is returned when a topic suffix is used more than once.
	ErrDuplicateSuffix = errors.New("device: duplicate topic suffix")
)
