// Package metadata carries the per-frame ancillary data attached to a
// buffer at capture time or supplied ahead of playback scheduling.
package metadata

import (
	"time"

	"github.com/zsiec/slate/internal/capture/timecode"
)

// Flags describes per-frame signal properties.
type Flags uint16

const (
	FlagInterlaced  Flags = 1 << 0
	FlagUpperFirst  Flags = 1 << 1
	FlagHDR         Flags = 1 << 2
	FlagVITCPresent Flags = 1 << 3
	FlagLTCPresent  Flags = 1 << 4
	FlagOutOfOrder  Flags = 1 << 5 // set on frames rejected for monotonicity
)

// Has checks if a flag is set.
func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// HDRMetadata holds static HDR mastering display information carried in
// frame ancillary data.
type HDRMetadata struct {
	EOTF                     uint8 // 0=SDR, 2=PQ, 3=HLG
	MaxDisplayLuminance      float64
	MinDisplayLuminance      float64
	MaxContentLightLevel     float64
	MaxFrameAverageLevel     float64
	WhitePointX, WhitePointY float64
}

// FrameMetadata is attached to a frame buffer when the frame is captured,
// or immediately before the frame is scheduled for playback. It is copied
// by value into the buffer and never mutated afterwards; the consumer
// reads back exactly the bits that were attached.
type FrameMetadata struct {
	// Timecode is the frame-accurate label read from hardware or derived
	// from the engine's running counter.
	Timecode timecode.Timecode

	// StreamTimestamp is the hardware stream time of the frame in ticks of
	// TimeScale per second.
	StreamTimestamp int64
	TimeScale       int64

	// Sequence is the engine-assigned monotonic frame number.
	Sequence uint64

	// CaptureTime is the wall-clock time the frame completed.
	CaptureTime time.Time

	Flags Flags

	// HDR is present only when FlagHDR is set.
	HDR *HDRMetadata
}

// WithFlag returns a copy with the given flag set.
func (m FrameMetadata) WithFlag(flag Flags) FrameMetadata {
	m.Flags |= flag
	return m
}

// Duration converts one frame period to wall time at the metadata's
// timescale, given the frame duration in timescale ticks.
func (m FrameMetadata) Duration(frameTicks int64) time.Duration {
	if m.TimeScale <= 0 {
		return 0
	}
	return time.Duration(frameTicks * int64(time.Second) / m.TimeScale)
}
