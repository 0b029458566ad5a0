package calibration

import "math"

const (
	// MaxCalibration is the largest offset magnitude a valve accepts.
	MaxCalibration = 5.0

	// Fractions up to lowerThreshold round toward zero, fractions above
	// upperThreshold round away from zero, and anything between becomes
	// a half step.
	lowerThreshold = 0.33
	upperThreshold = 0.66

	// fractionResolution is the grid fractions are snapped to before the
	// threshold comparison, so 20.66-20 counts as 0.66 and not one ulp above.
	fractionResolution = 1e6
)

// Compute returns the calibration offset that aligns the valve's displayed
// temperature with the reference sensor.
//
// The result is always a multiple of 0.5 within [-MaxCalibration,
// MaxCalibration]. NaN input yields 0 and infinite input yields the
// bound with the matching sign.
func Compute(sensorTemp, oldCalibration, valveTemp float64) float64 {
	raw := sensorTemp - (valveTemp - oldCalibration)

	switch {
	case math.IsNaN(raw):
		return 0
	case math.IsInf(raw, 0):
		return math.Copysign(MaxCalibration, raw)
	}

	whole, frac := math.Modf(raw)
	frac = math.Round(frac*fractionResolution) / fractionResolution
	return clamp(whole + roundFraction(frac))
}

// roundFraction snaps a fractional part in (-1, 1) to 0, ±0.5 or ±1.
func roundFraction(f float64) float64 {
	a := math.Abs(f)
	switch {
	case a <= lowerThreshold:
		return 0
	case a <= upperThreshold:
		return math.Copysign(0.5, f)
	default:
		return math.Copysign(1, f)
	}
}

func clamp(v float64) float64 {
	switch {
	case v > MaxCalibration:
		return MaxCalibration
	case v < -MaxCalibration:
		return -MaxCalibration
	case v == 0:
		// Normalise -0 so it never formats as "-0".
		return 0
	}
	return v
}
