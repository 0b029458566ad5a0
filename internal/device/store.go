package device

import (
	"fmt"
	"sync"
	"time"
)

// StateStore holds the coupled state of every configured device.
//
// Entries are fixed at construction. Updates for one device are mutually
// exclusive, and every method returns copies so callers never observe a
// half-applied update.
type StateStore interface {
	// UpdateSensor records a sensor reading and returns the device state
	// as of this write.
	UpdateSensor(id string, reading TemperatureSensorReading) (CoupledState, error)

	// UpdateValve records a valve reading and returns the device state
	// as of this write.
	UpdateValve(id string, reading ValveReading) (CoupledState, error)

	// Get returns the current state of one device.
	Get(id string) (CoupledState, error)

	// Snapshot returns a copy of every device's state.
	Snapshot() map[string]CoupledState
}

// MemoryStore is a StateStore guarded by a single RWMutex.
//
// Writes are short (a struct copy) so one lock over the map is enough;
// readers of the HTTP snapshot do not hold it while encoding.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*CoupledState
	now    func() time.Time
}

var _ StateStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store with an empty entry for each ID.
func NewMemoryStore(ids []string) *MemoryStore {
	states := make(map[string]*CoupledState, len(ids))
	for _, id := range ids {
		states[id] = &CoupledState{}
	}
	return &MemoryStore{
		states: states,
		now:    time.Now,
	}
}

// UpdateSensor records a sensor reading and marks the sensor as seen.
func (s *MemoryStore) UpdateSensor(id string, reading TemperatureSensorReading) (CoupledState, error) {
	return s.update(id, func(st *CoupledState) {
		st.Sensor = reading
		st.SensorSeen = true
	})
}

// UpdateValve records a valve reading and marks the valve as seen.
func (s *MemoryStore) UpdateValve(id string, reading ValveReading) (CoupledState, error) {
	return s.update(id, func(st *CoupledState) {
		st.Valve = reading
		st.ValveSeen = true
	})
}

func (s *MemoryStore) update(id string, apply func(*CoupledState)) (CoupledState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[id]
	if !ok {
		return CoupledState{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	apply(st)
	st.UpdatedAt = s.now()
	return *st, nil
}

// Get returns the current state of one device.
func (s *MemoryStore) Get(id string) (CoupledState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.states[id]
	if !ok {
		return CoupledState{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return *st, nil
}

// Snapshot copies every entry under the read lock.
func (s *MemoryStore) Snapshot() map[string]CoupledState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]CoupledState, len(s.states))
	for id, st := range s.states {
		out[id] = *st
	}
	return out
}

// ReadyCount returns how many devices have heard from both sides.
func (s *MemoryStore) ReadyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, st := range s.states {
		if st.Ready() {
			n++
		}
	}
	return n
}
