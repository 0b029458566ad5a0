// Package mqtt wraps paho.mqtt.golang for the valve calibrator.
//
// The client connects with auto-reconnect and exponential backoff, tracks
// subscriptions so they are restored after every reconnect, and announces
// itself with a retained online/offline status message backed by a Last
// Will and Testament.
//
// Messages are delivered to handlers in broker order on paho's router
// goroutine. Handlers must hand work off quickly; the calibrator's
// dispatcher enqueues and returns.
//
// Topic layout follows zigbee2mqtt:
//
//	zigbee2mqtt/living_room/temp_sensor                                    (inbound)
//	zigbee2mqtt/living_room/thermo_valve                                   (inbound)
//	zigbee2mqtt/living_room/thermo_valve/set/local_temperature_calibration (outbound)
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.Topics{Base: cfg.MQTT.BaseTopic}
//	err = client.Subscribe(topics.Device("living_room/temp_sensor"), 1, handler)
package mqtt
