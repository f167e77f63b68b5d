// Package browser enumerates attached devices. The browser is an explicit
// object: callers construct one, adapters register hardware with it, and
// Enumerate returns a point-in-time snapshot. Nothing here is global.
package browser

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zsiec/slate/internal/capture/hal"
	"github.com/zsiec/slate/internal/capture/profile"
	"github.com/zsiec/slate/internal/logger"
)

// Browser tracks the devices an adapter has attached.
type Browser struct {
	mu      sync.RWMutex
	devices map[string]hal.DeviceHandle
	logger  logger.Logger
}

// New creates an empty browser.
func New(log logger.Logger) *Browser {
	return &Browser{
		devices: make(map[string]hal.DeviceHandle),
		logger:  log.WithField("component", "device_browser"),
	}
}

// Attach registers a device handle. Called by hardware adapters during
// their own discovery; replacing an existing ID is an error.
func (b *Browser) Attach(h hal.DeviceHandle) error {
	info := h.Info()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.devices[info.ID]; ok {
		return fmt.Errorf("device %s already attached", info.ID)
	}
	b.devices[info.ID] = h
	b.logger.WithFields(map[string]interface{}{
		"device_id": info.ID,
		"model":     info.ModelName,
	}).Info("Device attached")
	return nil
}

// Detach removes a device handle.
func (b *Browser) Detach(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.devices[id]; ok {
		delete(b.devices, id)
		b.logger.WithField("device_id", id).Info("Device detached")
	}
}

// Enumerate returns a snapshot of attached device attributes, ordered by
// ID. Later attach/detach does not mutate a returned snapshot.
func (b *Browser) Enumerate(ctx context.Context) ([]profile.Attributes, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	attrs := make([]profile.Attributes, 0, len(b.devices))
	for _, h := range b.devices {
		attrs = append(attrs, profile.FromInfo(h.Info()))
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].ID() < attrs[j].ID() })
	return attrs, nil
}

// Get resolves a device handle by ID.
func (b *Browser) Get(id string) (hal.DeviceHandle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.devices[id]
	return h, ok
}
