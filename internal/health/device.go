package health

import (
	"context"
	"fmt"

	"github.com/zsiec/slate/internal/capture/browser"
	"github.com/zsiec/slate/internal/capture/deck"
	"github.com/zsiec/slate/internal/capture/device"
)

// BrowserChecker verifies that device enumeration works and at least one
// device is attached.
type BrowserChecker struct {
	browser *browser.Browser
}

// NewBrowserChecker creates a device enumeration checker.
func NewBrowserChecker(b *browser.Browser) *BrowserChecker {
	return &BrowserChecker{browser: b}
}

// Name returns the checker name.
func (c *BrowserChecker) Name() string { return "devices" }

// Check enumerates attached devices.
func (c *BrowserChecker) Check(ctx context.Context) error {
	attrs, err := c.browser.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("device enumeration failed: %w", err)
	}
	if len(attrs) == 0 {
		return &DegradedError{Reason: "no capture devices attached"}
	}
	return nil
}

// DeviceChecker watches one open device for drop pressure and a dead
// deck. A device that drops frames is degraded, not down: frames still
// flow, the consumer is just behind.
type DeviceChecker struct {
	dev *device.Device

	lastDropped uint64
}

// NewDeviceChecker creates a per-device checker.
func NewDeviceChecker(dev *device.Device) *DeviceChecker {
	return &DeviceChecker{dev: dev}
}

// Name returns the checker name.
func (c *DeviceChecker) Name() string {
	return "device:" + c.dev.Attributes().ID()
}

// Check inspects the device's counters and deck link.
func (c *DeviceChecker) Check(ctx context.Context) error {
	stats := c.dev.Stats()

	if ctrl := c.dev.Deck(); ctrl != nil && ctrl.Mode() == deck.ModeDisconnected {
		return fmt.Errorf("deck unresponsive on device %s", stats.Device)
	}

	dropped := stats.Engine.Dropped
	newDrops := dropped - c.lastDropped
	c.lastDropped = dropped
	if newDrops > 0 {
		return &DegradedError{
			Reason: fmt.Sprintf("%d frames dropped since last check", newDrops),
		}
	}
	return nil
}
