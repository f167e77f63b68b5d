package registry

import (
	"context"
	"sync"
	"time"

	"github.com/zsiec/slate/internal/capture/device"
	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/logger"
)

// Announcer mirrors the node's open devices into the registry on a
// heartbeat cadence. A node that dies stops announcing and its entries
// expire on their own.
type Announcer struct {
	reg    Registry
	nodeID string
	cfg    config.RegistryConfig

	mu      sync.Mutex
	devices map[string]*device.Device

	cancel context.CancelFunc
	done   chan struct{}

	logger logger.Logger
}

// NewAnnouncer creates an announcer for this node.
func NewAnnouncer(reg Registry, nodeID string, cfg config.RegistryConfig, log logger.Logger) *Announcer {
	return &Announcer{
		reg:     reg,
		nodeID:  nodeID,
		cfg:     cfg,
		devices: make(map[string]*device.Device),
		logger:  log.WithField("component", "registry_announcer"),
	}
}

// Track starts announcing a device.
func (a *Announcer) Track(dev *device.Device) {
	a.mu.Lock()
	a.devices[dev.Attributes().ID()] = dev
	a.mu.Unlock()
}

// Untrack stops announcing a device and removes its registry entry.
func (a *Announcer) Untrack(ctx context.Context, deviceID string) {
	a.mu.Lock()
	delete(a.devices, deviceID)
	a.mu.Unlock()

	if err := a.reg.Unregister(ctx, deviceID); err != nil && err != ErrDeviceNotFound {
		a.logger.WithError(err).WithField("device_id", deviceID).Warn("Unregister failed")
	}
}

// Start launches the heartbeat loop.
func (a *Announcer) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(ctx)
}

// Stop halts the heartbeat loop.
func (a *Announcer) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.done = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *Announcer) run(ctx context.Context) {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	a.announce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.announce(ctx)
		}
	}
}

// Announce pushes the current state of every tracked device immediately.
func (a *Announcer) Announce(ctx context.Context) {
	a.announce(ctx)
}

func (a *Announcer) announce(ctx context.Context) {
	a.mu.Lock()
	devices := make([]*device.Device, 0, len(a.devices))
	for _, d := range a.devices {
		devices = append(devices, d)
	}
	a.mu.Unlock()

	for _, d := range devices {
		hbCtx, cancel := context.WithTimeout(ctx, a.cfg.HeartbeatTimeout)
		entry := a.buildEntry(d)
		if err := a.reg.Register(hbCtx, entry); err != nil {
			a.logger.WithError(err).WithField("device_id", entry.ID).Warn("Heartbeat failed")
		}
		cancel()
	}
}

func (a *Announcer) buildEntry(d *device.Device) *Entry {
	attrs := d.Attributes()
	entry := &Entry{
		ID:          attrs.ID(),
		NodeID:      a.nodeID,
		ModelName:   attrs.ModelName(),
		DisplayName: attrs.DisplayName(),
		State:       StateAvailable,
	}

	if video, dir, ok := d.Configured(); ok {
		entry.State = StateConfigured
		entry.Direction = dir.String()
		entry.VideoMode = video.String()
	}
	if d.Running() {
		entry.State = StateStreaming
	}

	stats := d.Stats()
	entry.FramesCaptured = stats.Engine.Captured
	entry.FramesPlayed = stats.Engine.Played
	entry.FramesDropped = stats.Engine.Dropped

	if ctrl := d.Deck(); ctrl != nil {
		entry.DeckEngaged = true
		entry.DeckMode = ctrl.Mode().String()
		entry.Timecode = ctrl.Position().Timecode.String()
	}
	return entry
}
