//go:build integration

package main

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/valve-calibrator/internal/infrastructure/config"
	"github.com/nerrad567/valve-calibrator/internal/infrastructure/mqtt"
)

// End-to-end run against a live broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./cmd/calibrator/...

func TestIntegration_RunPublishesCalibration(t *testing.T) {
	path := writeConfig(t, `
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "calibrator-int-run"
  base_topic: "calibrator-int"
  qos: 1

api:
  enabled: true
  host: "127.0.0.1"
  port: 0

logging:
  level: debug
  format: text
  output: stdout

devices:
  living_room:
    temperature_sensor: "living_room/temp_sensor"
    valve_actuator: "living_room/thermo_valve"
`)

	probe, err := mqtt.Connect(config.MQTTConfig{
		Broker:      config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: "calibrator-int-probe"},
		QoS:         1,
		Reconnect:   config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
		StatusTopic: "calibrator-int/probe-status",
	})
	if err != nil {
		t.Fatalf("probe Connect() error = %v", err)
	}
	defer probe.Close()

	got := make(chan string, 4)
	setTopic := "calibrator-int/living_room/thermo_valve/set/local_temperature_calibration"
	if err := probe.Subscribe(setTopic, 1, func(_ string, payload []byte) error {
		got <- string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"-c", path}) }()

	// Give run time to subscribe before publishing readings.
	time.Sleep(time.Second)

	probe.Publish("calibrator-int/living_room/temp_sensor", []byte(`{"temperature": 21.6}`), 1, false)
	probe.Publish("calibrator-int/living_room/thermo_valve", []byte(`{"local_temperature": 18, "local_temperature_calibration": 1}`), 1, false)

	select {
	case payload := <-got:
		if payload != "4.5" {
			t.Errorf("calibration payload = %q, want 4.5", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no calibration published")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}
}
