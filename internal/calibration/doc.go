// Package calibration computes and publishes valve temperature offsets.
//
// A thermostatic valve measures temperature next to the radiator, so it
// reads high while heating. The valve exposes a local calibration offset
// that it adds to its own reading. Compute derives the offset that makes
// the valve agree with an independent reference sensor:
//
//	raw = sensor - (valveDisplayed - oldCalibration)
//
// The result is rounded to a multiple of 0.5 and clamped to [-5, 5], the
// range the valves accept.
//
// The Publisher only writes a new offset when it differs from the current
// one by at least half a degree, which keeps rounding noise from cycling
// the valve.
package calibration
