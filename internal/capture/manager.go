// Package capture coordinates the capture devices exposed by this node:
// it opens devices found by the browser, tracks them in the fleet
// registry, and serves the control API over HTTP.
package capture

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zsiec/slate/internal/capture/browser"
	"github.com/zsiec/slate/internal/capture/device"
	"github.com/zsiec/slate/internal/capture/profile"
	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
	"github.com/zsiec/slate/internal/registry"
)

// Manager coordinates device discovery, open device sessions and the
// registry announcer for one node.
type Manager struct {
	cfg     *config.Config
	browser *browser.Browser
	reg     registry.Registry
	ann     *registry.Announcer
	logger  logger.Logger

	devices   map[string]*device.Device
	devicesMu sync.RWMutex

	mu      sync.Mutex
	started bool
}

// NewManager creates a capture manager. reg may be nil when the node runs
// without a fleet registry; the announcer is then disabled.
func NewManager(cfg *config.Config, nodeID string, reg registry.Registry, log logger.Logger) *Manager {
	mgrLog := log.WithField("component", "capture_manager")

	m := &Manager{
		cfg:     cfg,
		browser: browser.New(log),
		reg:     reg,
		devices: make(map[string]*device.Device),
		logger:  mgrLog,
	}
	if reg != nil {
		m.ann = registry.NewAnnouncer(reg, nodeID, cfg.Registry, log)
	}
	return m
}

// Browser returns the device browser for attaching hardware.
func (m *Manager) Browser() *browser.Browser {
	return m.browser
}

// Start begins the registry heartbeat loop.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.NewInvalidSequenceError("manager already started")
	}
	if m.ann != nil {
		m.ann.Start()
	}
	m.started = true
	m.logger.Info("Capture manager started")
	return nil
}

// Stop closes every open device and stops the announcer.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m.devicesMu.Lock()
	for id, dev := range m.devices {
		if err := dev.Close(); err != nil {
			m.logger.WithField("device_id", id).WithError(err).Warn("Failed to close device")
		}
		if m.ann != nil {
			m.ann.Untrack(ctx, id)
		}
		delete(m.devices, id)
	}
	m.devicesMu.Unlock()

	if m.ann != nil {
		m.ann.Stop()
	}
	m.started = false
	m.logger.Info("Capture manager stopped")
	return nil
}

// Enumerate lists the attributes of every attached device.
func (m *Manager) Enumerate(ctx context.Context) ([]profile.Attributes, error) {
	return m.browser.Enumerate(ctx)
}

// OpenDevice opens the attached device with the given ID. Opening is
// idempotent; a second open returns the existing session.
func (m *Manager) OpenDevice(id string) (*device.Device, error) {
	m.devicesMu.Lock()
	defer m.devicesMu.Unlock()

	if dev, ok := m.devices[id]; ok {
		return dev, nil
	}

	handle, ok := m.browser.Get(id)
	if !ok {
		return nil, errors.NewNotFoundError("device " + id)
	}

	dev, err := device.Open(handle, m.cfg.Capture, m.cfg.Deck, m.logger)
	if err != nil {
		return nil, err
	}

	m.devices[id] = dev
	if m.ann != nil {
		m.ann.Track(dev)
	}
	return dev, nil
}

// GetDevice returns an open device session.
func (m *Manager) GetDevice(id string) (*device.Device, bool) {
	m.devicesMu.RLock()
	defer m.devicesMu.RUnlock()
	dev, ok := m.devices[id]
	return dev, ok
}

// OpenDeviceIDs returns the IDs of open devices in sorted order.
func (m *Manager) OpenDeviceIDs() []string {
	m.devicesMu.RLock()
	defer m.devicesMu.RUnlock()

	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseDevice closes an open device session and removes it from the
// registry.
func (m *Manager) CloseDevice(ctx context.Context, id string) error {
	m.devicesMu.Lock()
	dev, ok := m.devices[id]
	if ok {
		delete(m.devices, id)
	}
	m.devicesMu.Unlock()

	if !ok {
		return errors.NewNotFoundError("device " + id)
	}

	err := dev.Close()
	if m.ann != nil {
		m.ann.Untrack(ctx, id)
	}
	return err
}

// NodeStats aggregates device statistics for the whole node.
type NodeStats struct {
	DevicesAttached int            `json:"devices_attached"`
	DevicesOpen     int            `json:"devices_open"`
	Devices         []device.Stats `json:"devices"`
	Time            time.Time      `json:"time"`
}

// GetStats snapshots statistics for every open device.
func (m *Manager) GetStats(ctx context.Context) NodeStats {
	attached, _ := m.browser.Enumerate(ctx)

	m.devicesMu.RLock()
	defer m.devicesMu.RUnlock()

	stats := NodeStats{
		DevicesAttached: len(attached),
		DevicesOpen:     len(m.devices),
		Devices:         make([]device.Stats, 0, len(m.devices)),
		Time:            time.Now(),
	}
	for _, id := range sortedKeys(m.devices) {
		stats.Devices = append(stats.Devices, m.devices[id].Stats())
	}
	return stats
}

func sortedKeys(devices map[string]*device.Device) []string {
	ids := make([]string, 0, len(devices))
	for id := range devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
