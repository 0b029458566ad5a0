package influxdb

import (
	"math"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// calibrationMeasurement is the measurement name for published corrections.
const calibrationMeasurement = "valve_calibration"

// RecordCalibration queues a point for a published correction.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Failures surface through the SetOnError callback.
func (c *Client) RecordCalibration(deviceID string, oldCalibration, newCalibration float64, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(calibrationPoint(deviceID, oldCalibration, newCalibration, at))
}

// calibrationPoint builds the point written for one correction.
func calibrationPoint(deviceID string, oldCalibration, newCalibration float64, at time.Time) *write.Point {
	return write.NewPoint(
		calibrationMeasurement,
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"old":   oldCalibration,
			"new":   newCalibration,
			"delta": math.Abs(newCalibration - oldCalibration),
		},
		at,
	)
}
