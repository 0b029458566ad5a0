// Package influxdb records published calibration corrections in InfluxDB.
//
// It wraps influxdb-client-go v2 with a non-blocking, batched write API.
// Each correction becomes one point in the "valve_calibration" measurement,
// tagged by device, so drift per valve can be graphed over time.
//
// The sink is optional. When influxdb.enabled is false, Connect returns
// ErrDisabled and the calibrator runs without it.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordCalibration("living_room", 1, 4.5, time.Now())
package influxdb
