package mqtt

import (
	"fmt"
)

// maxPayloadSize caps outbound payloads at 1MB, in line with broker defaults.
const maxPayloadSize = 1 << 20

// Publish sends a message and waits for the broker acknowledgment that the
// QoS level calls for.
//
// QoS 1 (the calibrator default) is at-least-once: a valve may see the same
// calibration twice, which is harmless because the write is idempotent.
// Topics containing wildcards are rejected.
//
//	topic := mqtt.Topics{Base: "zigbee2mqtt"}.CalibrationSet("living_room/thermo_valve")
//	err := client.Publish(topic, []byte("4.5"), 1, false)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !IsWildcardFree(topic) {
		return fmt.Errorf("%w: wildcards not allowed in publish topic %q", ErrInvalidTopic, topic)
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
