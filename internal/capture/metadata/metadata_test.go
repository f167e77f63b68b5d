package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zsiec/slate/internal/capture/timecode"
)

func TestFlags(t *testing.T) {
	f := FlagHDR | FlagVITCPresent

	assert.True(t, f.Has(FlagHDR))
	assert.True(t, f.Has(FlagVITCPresent))
	assert.False(t, f.Has(FlagLTCPresent))
}

func TestWithFlagCopies(t *testing.T) {
	m := FrameMetadata{Flags: FlagInterlaced}
	m2 := m.WithFlag(FlagOutOfOrder)

	assert.True(t, m2.Flags.Has(FlagOutOfOrder))
	assert.False(t, m.Flags.Has(FlagOutOfOrder), "original must be unchanged")
}

func TestDuration(t *testing.T) {
	m := FrameMetadata{TimeScale: 30000}
	assert.Equal(t, time.Duration(1001*int64(time.Second)/30000), m.Duration(1001))

	zero := FrameMetadata{}
	assert.Equal(t, time.Duration(0), zero.Duration(1001))
}

func TestValueSemantics(t *testing.T) {
	// Metadata attached to a buffer and read back must be bit-identical.
	orig := FrameMetadata{
		Timecode:        timecode.Timecode{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4, DropFrame: true},
		StreamTimestamp: 90090,
		TimeScale:       30000,
		Sequence:        42,
		CaptureTime:     time.Unix(1700000000, 123),
		Flags:           FlagHDR,
		HDR:             &HDRMetadata{EOTF: 2, MaxDisplayLuminance: 1000},
	}

	copied := orig
	assert.Equal(t, orig, copied)
	assert.Equal(t, "01:02:03;04", copied.Timecode.String())
}
