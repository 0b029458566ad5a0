package calibration

import "errors"

// ErrPublish is returned when a calibration could not be handed to the
// transport. The caller does not retry; the next reading recomputes.
var ErrPublish = errors.New("calibration: publish failed")
