// Package registry tracks which capture devices are claimed and what they
// are doing, so a fleet of capture nodes can be inspected centrally. The
// Redis-backed implementation is authoritative in production; the mock is
// for tests.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDeviceNotFound is returned when a device entry does not exist.
var ErrDeviceNotFound = errors.New("device not found")

// DeviceState is the registry's view of a device session.
type DeviceState string

const (
	StateAvailable  DeviceState = "available"
	StateConfigured DeviceState = "configured"
	StateStreaming  DeviceState = "streaming"
	StateError      DeviceState = "error"
	StateClosed     DeviceState = "closed"
)

// Entry is one registered device session.
type Entry struct {
	ID            string      `json:"id"`
	NodeID        string      `json:"node_id"`
	ModelName     string      `json:"model_name"`
	DisplayName   string      `json:"display_name"`
	State         DeviceState `json:"state"`
	Direction     string      `json:"direction"`
	VideoMode     string      `json:"video_mode"`
	DeckEngaged   bool        `json:"deck_engaged"`
	DeckMode      string      `json:"deck_mode"`
	Timecode      string      `json:"timecode"`
	RegisteredAt  time.Time   `json:"registered_at"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`

	// Counters mirrored from the device.
	FramesCaptured uint64 `json:"frames_captured"`
	FramesPlayed   uint64 `json:"frames_played"`
	FramesDropped  uint64 `json:"frames_dropped"`
}

// EntryStats carries the counter subset of an entry update.
type EntryStats struct {
	FramesCaptured uint64
	FramesPlayed   uint64
	FramesDropped  uint64
}

// Registry is the device session store.
type Registry interface {
	// Register adds a device entry, or refreshes it if already present.
	Register(ctx context.Context, entry *Entry) error

	// Unregister removes a device entry.
	Unregister(ctx context.Context, deviceID string) error

	// Get retrieves one entry.
	Get(ctx context.Context, deviceID string) (*Entry, error)

	// List returns every live entry.
	List(ctx context.Context) ([]*Entry, error)

	// UpdateHeartbeat refreshes an entry's TTL and heartbeat timestamp.
	UpdateHeartbeat(ctx context.Context, deviceID string) error

	// UpdateState sets the session state.
	UpdateState(ctx context.Context, deviceID string, state DeviceState) error

	// UpdateStats refreshes the mirrored counters.
	UpdateStats(ctx context.Context, deviceID string, stats *EntryStats) error

	// Close releases registry resources.
	Close() error
}

// MockRegistry is an in-memory Registry for tests.
type MockRegistry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMockRegistry creates an empty in-memory registry.
func NewMockRegistry() *MockRegistry {
	return &MockRegistry{entries: make(map[string]*Entry)}
}

func (m *MockRegistry) Register(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.entries[entry.ID]; ok {
		entry.RegisteredAt = existing.RegisteredAt
	} else {
		entry.RegisteredAt = time.Now()
	}
	entry.LastHeartbeat = time.Now()
	m.entries[entry.ID] = entry
	return nil
}

func (m *MockRegistry) Unregister(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[deviceID]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.entries, deviceID)
	return nil
}

func (m *MockRegistry) Get(ctx context.Context, deviceID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[deviceID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	cp := *entry
	return &cp, nil
}

func (m *MockRegistry) List(ctx context.Context) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		cp := *e
		entries = append(entries, &cp)
	}
	return entries, nil
}

func (m *MockRegistry) UpdateHeartbeat(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	entry.LastHeartbeat = time.Now()
	return nil
}

func (m *MockRegistry) UpdateState(ctx context.Context, deviceID string, state DeviceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	entry.State = state
	entry.LastHeartbeat = time.Now()
	return nil
}

func (m *MockRegistry) UpdateStats(ctx context.Context, deviceID string, stats *EntryStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	entry.FramesCaptured = stats.FramesCaptured
	entry.FramesPlayed = stats.FramesPlayed
	entry.FramesDropped = stats.FramesDropped
	entry.LastHeartbeat = time.Now()
	return nil
}

func (m *MockRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*Entry)
	return nil
}
