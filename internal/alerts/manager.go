// Package alerts implements threshold-based anomaly detection over
// ingested measurements.
package alerts

import (
	"strconv"
	"strings"
	"sync"
)

// Alert is a single threshold breach, recorded in append order.
type Alert struct {
	SensorID  string  `json:"sensor_id"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Timestamp string  `json:"timestamp"`
	Message   string  `json:"message"`
}

// Manager tracks per-sensor thresholds and the alerts raised against
// them. A nil *Manager is not valid; use NewManager.
type Manager struct {
	mu         sync.Mutex
	thresholds map[string]float64
	alerts     []Alert
}

// NewManager returns an empty alert manager.
func NewManager() *Manager {
	return &Manager{
		thresholds: make(map[string]float64),
	}
}

// SetThreshold overwrites the threshold for sensorID.
func (m *Manager) SetThreshold(sensorID string, threshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[sensorID] = threshold
}

// Check splits key on ":" into exactly (sensorID, timestamp); a key with
// zero or more than one colon fails the split and is ignored, matching
// the two-value unpack the original ingestion path performs. If value
// does not parse as a number, or no threshold is set for sensorID, or
// value does not strictly exceed the threshold, Check does nothing.
// Otherwise it appends an Alert.
func (m *Manager) Check(key, value string) {
	parts := strings.Split(key, ":")
	if len(parts) != 2 {
		return
	}
	sensorID, timestamp := parts[0], parts[1]

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	threshold, ok := m.thresholds[sensorID]
	if !ok || parsed <= threshold {
		return
	}

	m.alerts = append(m.alerts, Alert{
		SensorID:  sensorID,
		Value:     parsed,
		Threshold: threshold,
		Timestamp: timestamp,
		Message:   "Anomaly detected: value exceeds threshold",
	})
}

// Alerts returns a read-only snapshot of every alert raised so far, in
// append order.
func (m *Manager) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
