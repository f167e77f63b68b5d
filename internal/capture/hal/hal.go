// Package hal defines the vendor hardware boundary: the opaque device
// handles returned by enumeration and the callback interfaces the driver
// invokes from its frame clock. Everything behind these interfaces is an
// external dependency; the simulated implementation in hal/sim stands in
// for real hardware in tests and development.
package hal

import (
	"context"

	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/timecode"
)

// Capability is a hardware feature flag advertised by a device profile.
type Capability uint32

const (
	CapCapture Capability = 1 << iota
	CapPlayback
	CapDeckControl
	CapHDRMetadata
	CapInputFormatDetection
	CapInternalKeying
)

// Has checks if a capability flag is set.
func (c Capability) Has(flag Capability) bool {
	return c&flag != 0
}

// DeviceInfo is the static description of an enumerated device.
type DeviceInfo struct {
	ID           string
	ModelName    string
	DisplayName  string
	Capabilities Capability
	VideoModes   []format.VideoSetting
	AudioModes   []format.AudioSetting
}

// DeviceHandle is a reference to one piece of enumerated hardware. The
// handle is owned by the enumeration layer; holders keep a reference only
// and must not use it after the device is closed.
type DeviceHandle interface {
	Info() DeviceInfo

	// OpenCapture binds an input stream in the given (already negotiated)
	// modes. The returned source is idle until Start.
	OpenCapture(video format.VideoSetting, audio format.AudioSetting) (CaptureSource, error)

	// OpenPlayback binds an output stream in the given modes.
	OpenPlayback(video format.VideoSetting, audio format.AudioSetting) (PlaybackSink, error)

	// OpenDeckPort opens the RS-422 serial port of the device.
	OpenDeckPort() (DeckPort, error)
}

// Frame is one frame crossing the hardware boundary. For capture the
// payload is only valid for the duration of the callback; the receiver
// must copy it before returning.
type Frame struct {
	Payload    []byte
	StreamTime int64
	TimeScale  int64

	// Timecode carried by the signal, nil when absent.
	Timecode *timecode.Timecode
}

// CaptureCallback receives capture events from the source's frame clock
// goroutine. Implementations must never block: blocking here stalls the
// hardware clock.
type CaptureCallback interface {
	// FrameArrived is invoked once per frame period with the filled frame.
	FrameArrived(f Frame)

	// SignalLost is invoked when the input signal disappears.
	SignalLost()

	// FormatChanged is invoked when the input switches modes mid-stream.
	FormatChanged(detected format.VideoSetting)
}

// CaptureSource is a bound input stream.
type CaptureSource interface {
	// Start registers the callback and begins the frame clock.
	Start(cb CaptureCallback) error

	// Stop halts the frame clock. It does not return until any in-flight
	// callback invocation has completed.
	Stop() error
}

// PlaybackCallback supplies frames to the output clock.
type PlaybackCallback interface {
	// NextFrame is invoked once per output frame period, before the frame
	// deadline. Returning nil emits black/silence for that period. The
	// returned payload must stay valid until the next NextFrame call.
	NextFrame() *Frame
}

// PlaybackSink is a bound output stream.
type PlaybackSink interface {
	Start(cb PlaybackCallback) error
	Stop() error
}

// DeckPort is the RS-422 transaction boundary of a tape transport. The
// protocol is strictly request/response; Transact writes one command
// packet and blocks for the deck's reply or ctx expiry.
type DeckPort interface {
	Transact(ctx context.Context, packet []byte) ([]byte, error)
	Close() error
}
