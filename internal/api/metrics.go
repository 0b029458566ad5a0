package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/valve-calibrator/internal/calibration"
	"github.com/nerrad567/valve-calibrator/internal/pipeline"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	WebSocket     WSMetrics          `json:"websocket"`
	MQTT          MQTTMetrics        `json:"mqtt"`
	Dispatcher    *pipeline.Stats    `json:"dispatcher,omitempty"`
	Calibration   *calibration.Stats `json:"calibration,omitempty"`
	Devices       DeviceMetrics      `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// DeviceMetrics counts configured devices and how many have heard from
// both their sensor and their valve.
type DeviceMetrics struct {
	Total int `json:"total"`
	Ready int `json:"ready"`
}

// handleMetrics returns runtime, pipeline and device counters.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Devices: DeviceMetrics{
			Total: len(s.store.Snapshot()),
			Ready: s.store.ReadyCount(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT.Connected = s.mqtt.IsConnected()
	}
	if s.dispatcher != nil {
		stats := s.dispatcher.Stats()
		metrics.Dispatcher = &stats
	}
	if s.publisher != nil {
		stats := s.publisher.Stats()
		metrics.Calibration = &stats
	}

	writeJSON(w, http.StatusOK, metrics)
}
