// Package profile presents the static attributes of an enumerated device
// as a read-only view. Queries here never touch hardware.
package profile

import (
	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/hal"
)

// Attributes is an immutable snapshot of one device's capabilities.
type Attributes struct {
	info hal.DeviceInfo
}

// FromInfo builds an attribute view over a device description.
func FromInfo(info hal.DeviceInfo) Attributes {
	return Attributes{info: info}
}

// ID returns the stable device identifier.
func (a Attributes) ID() string { return a.info.ID }

// ModelName returns the hardware model name.
func (a Attributes) ModelName() string { return a.info.ModelName }

// DisplayName returns the human readable device name.
func (a Attributes) DisplayName() string { return a.info.DisplayName }

// Capabilities returns the device capability flags.
func (a Attributes) Capabilities() hal.Capability { return a.info.Capabilities }

// Supports checks one capability flag.
func (a Attributes) Supports(c hal.Capability) bool {
	return a.info.Capabilities.Has(c)
}

// SupportedVideoModes returns a copy of the advertised video modes.
func (a Attributes) SupportedVideoModes() []format.VideoSetting {
	modes := make([]format.VideoSetting, len(a.info.VideoModes))
	copy(modes, a.info.VideoModes)
	return modes
}

// SupportedAudioModes returns a copy of the advertised audio modes.
func (a Attributes) SupportedAudioModes() []format.AudioSetting {
	modes := make([]format.AudioSetting, len(a.info.AudioModes))
	copy(modes, a.info.AudioModes)
	return modes
}

// NegotiateVideo resolves a requested video mode against this device.
func (a Attributes) NegotiateVideo(want format.VideoSetting) (format.VideoSetting, error) {
	return format.NegotiateVideo(want, a.info.VideoModes)
}

// NegotiateAudio resolves a requested audio mode against this device.
func (a Attributes) NegotiateAudio(want format.AudioSetting) (format.AudioSetting, error) {
	return format.NegotiateAudio(want, a.info.AudioModes)
}
