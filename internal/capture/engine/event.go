package engine

import (
	"time"

	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/timecode"
)

// EventType classifies asynchronous engine events.
type EventType uint8

const (
	EventFrameDropped EventType = iota
	EventOutOfOrder
	EventSignalLost
	EventFormatChanged
)

// String returns the string representation of EventType.
func (t EventType) String() string {
	switch t {
	case EventFrameDropped:
		return "frame_dropped"
	case EventOutOfOrder:
		return "out_of_order"
	case EventSignalLost:
		return "signal_lost"
	case EventFormatChanged:
		return "format_changed"
	default:
		return "unknown"
	}
}

// Event is one asynchronous engine notification. Events never carry frame
// payloads; the frame a dropped event refers to is already recycled.
type Event struct {
	Type     EventType
	Time     time.Time
	Timecode timecode.Timecode
	Message  string

	// Detected is set for EventFormatChanged only.
	Detected *format.VideoSetting
}
