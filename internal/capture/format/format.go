// Package format defines the immutable audio/video settings negotiated
// between an application and a capture device, together with the shared
// display-mode and pixel-format enumerations.
package format

import (
	"fmt"

	"github.com/zsiec/slate/internal/capture/timecode"
)

// PixelFormat identifies the memory layout of a video frame payload.
type PixelFormat uint8

const (
	PixelFormatUnknown  PixelFormat = iota
	PixelFormat8BitYUV              // UYVY 4:2:2
	PixelFormat10BitYUV             // v210 4:2:2
	PixelFormat8BitBGRA
	PixelFormat10BitRGB
	PixelFormat12BitRGB
)

// String returns the string representation of PixelFormat.
func (p PixelFormat) String() string {
	switch p {
	case PixelFormat8BitYUV:
		return "8BitYUV"
	case PixelFormat10BitYUV:
		return "10BitYUV"
	case PixelFormat8BitBGRA:
		return "8BitBGRA"
	case PixelFormat10BitRGB:
		return "10BitRGB"
	case PixelFormat12BitRGB:
		return "12BitRGB"
	default:
		return "unknown"
	}
}

// BitDepth returns the per-component bit depth.
func (p PixelFormat) BitDepth() int {
	switch p {
	case PixelFormat8BitYUV, PixelFormat8BitBGRA:
		return 8
	case PixelFormat10BitYUV, PixelFormat10BitRGB:
		return 10
	case PixelFormat12BitRGB:
		return 12
	default:
		return 0
	}
}

// FieldDominance describes interlacing of a display mode.
type FieldDominance uint8

const (
	FieldProgressive FieldDominance = iota
	FieldUpperFirst
	FieldLowerFirst
)

// String returns the string representation of FieldDominance.
func (f FieldDominance) String() string {
	switch f {
	case FieldUpperFirst:
		return "upper_first"
	case FieldLowerFirst:
		return "lower_first"
	default:
		return "progressive"
	}
}

// FrameRate is an exact rational frame rate (e.g. 30000/1001 for 29.97).
type FrameRate struct {
	Num int64
	Den int64
}

// Common frame rates.
var (
	Rate2398 = FrameRate{24000, 1001}
	Rate24   = FrameRate{24, 1}
	Rate25   = FrameRate{25, 1}
	Rate2997 = FrameRate{30000, 1001}
	Rate30   = FrameRate{30, 1}
	Rate50   = FrameRate{50, 1}
	Rate5994 = FrameRate{60000, 1001}
	Rate60   = FrameRate{60, 1}
)

// Float returns the frame rate as a float64.
func (r FrameRate) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// Base returns the nominal integer frame-count base used for timecode
// arithmetic (30 for 29.97, 60 for 59.94).
func (r FrameRate) Base() int {
	if r.Den == 0 {
		return 0
	}
	return int((r.Num + r.Den - 1) / r.Den)
}

// IsFractional reports whether the rate is a 1001-denominator NTSC rate.
func (r FrameRate) IsFractional() bool {
	return r.Den == 1001
}

// String returns the string representation of FrameRate.
func (r FrameRate) String() string {
	if r.Den == 1 {
		return fmt.Sprintf("%d", r.Num)
	}
	return fmt.Sprintf("%.2f", r.Float())
}

// VideoSetting describes one video mode. Immutable once negotiated: a
// mismatched layout between negotiation and the pool buffers would corrupt
// playback.
type VideoSetting struct {
	Name           string
	Width          int
	Height         int
	Rate           FrameRate
	PixelFormat    PixelFormat
	FieldDominance FieldDominance
}

// RowBytes returns the byte stride of one row in this setting.
func (v VideoSetting) RowBytes() int {
	switch v.PixelFormat {
	case PixelFormat8BitYUV:
		return v.Width * 2
	case PixelFormat10BitYUV:
		// v210 packs 6 pixels into 16 bytes, padded to 48-pixel groups.
		return ((v.Width + 47) / 48) * 128
	case PixelFormat8BitBGRA:
		return v.Width * 4
	case PixelFormat10BitRGB, PixelFormat12BitRGB:
		return v.Width * 4
	default:
		return 0
	}
}

// FrameBytes returns the payload size of one frame in this setting.
func (v VideoSetting) FrameBytes() int {
	return v.RowBytes() * v.Height
}

// String returns a compact description like "1080p29.97 8BitYUV".
func (v VideoSetting) String() string {
	scan := "p"
	if v.FieldDominance != FieldProgressive {
		scan = "i"
	}
	return fmt.Sprintf("%d%s%s %s", v.Height, scan, v.Rate, v.PixelFormat)
}

// SampleType identifies the PCM representation of captured audio.
type SampleType uint8

const (
	SampleInt16 SampleType = iota
	SampleInt32
)

// AudioSetting describes one audio mode.
type AudioSetting struct {
	SampleRate   int // Hz, 48000 for all SDI audio
	ChannelCount int // 2, 8 or 16
	SampleType   SampleType
}

// BitDepth returns the per-sample bit depth.
func (a AudioSetting) BitDepth() int {
	if a.SampleType == SampleInt32 {
		return 32
	}
	return 16
}

// String returns the string representation of AudioSetting.
func (a AudioSetting) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", a.SampleRate, a.ChannelCount, a.BitDepth())
}

// TimecodeSetting selects the timecode standard and the initial value used
// when the hardware does not carry timecode itself.
type TimecodeSetting struct {
	Standard timecode.Standard
	Start    timecode.Timecode
}
