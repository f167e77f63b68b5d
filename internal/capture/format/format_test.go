package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	slateerrors "github.com/zsiec/slate/internal/errors"
)

var hd1080p2997 = VideoSetting{
	Name:        "1080p29.97",
	Width:       1920,
	Height:      1080,
	Rate:        Rate2997,
	PixelFormat: PixelFormat8BitYUV,
}

func TestFrameRate(t *testing.T) {
	assert.InDelta(t, 29.97, Rate2997.Float(), 0.01)
	assert.Equal(t, 30, Rate2997.Base())
	assert.Equal(t, 25, Rate25.Base())
	assert.Equal(t, 60, Rate5994.Base())
	assert.True(t, Rate2997.IsFractional())
	assert.False(t, Rate25.IsFractional())
	assert.Equal(t, "25", Rate25.String())
}

func TestVideoSettingSizes(t *testing.T) {
	assert.Equal(t, 1920*2, hd1080p2997.RowBytes())
	assert.Equal(t, 1920*2*1080, hd1080p2997.FrameBytes())

	v210 := hd1080p2997
	v210.PixelFormat = PixelFormat10BitYUV
	assert.Equal(t, (1920/48)*128, v210.RowBytes())
}

func TestVideoSettingString(t *testing.T) {
	assert.Equal(t, "1080p29.97 8BitYUV", hd1080p2997.String())

	interlaced := hd1080p2997
	interlaced.FieldDominance = FieldUpperFirst
	assert.Equal(t, "1080i29.97 8BitYUV", interlaced.String())
}

func TestAudioSetting(t *testing.T) {
	a := AudioSetting{SampleRate: 48000, ChannelCount: 8, SampleType: SampleInt32}
	assert.Equal(t, 32, a.BitDepth())
	assert.Equal(t, "48000Hz/8ch/32bit", a.String())
}

func TestNegotiateVideo_ExactMatch(t *testing.T) {
	supported := []VideoSetting{
		{Width: 1280, Height: 720, Rate: Rate5994, PixelFormat: PixelFormat8BitYUV},
		hd1080p2997,
	}

	got, err := NegotiateVideo(hd1080p2997, supported)
	require.NoError(t, err)
	assert.Equal(t, hd1080p2997, got)
}

func TestNegotiateVideo_NameIsAdvisory(t *testing.T) {
	// A differing Name must not defeat the match; only layout fields count.
	renamed := hd1080p2997
	renamed.Name = "HD 1080p NTSC"

	got, err := NegotiateVideo(renamed, []VideoSetting{hd1080p2997})
	require.NoError(t, err)
	assert.Equal(t, hd1080p2997.Name, got.Name)
}

func TestNegotiateVideo_NoPartialMatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*VideoSetting)
	}{
		{"different pixel format", func(v *VideoSetting) { v.PixelFormat = PixelFormat10BitYUV }},
		{"different rate", func(v *VideoSetting) { v.Rate = Rate30 }},
		{"different height", func(v *VideoSetting) { v.Height = 1088 }},
		{"different field dominance", func(v *VideoSetting) { v.FieldDominance = FieldUpperFirst }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requested := hd1080p2997
			tt.mutate(&requested)

			_, err := NegotiateVideo(requested, []VideoSetting{hd1080p2997})
			require.Error(t, err)
			assert.True(t, slateerrors.IsType(err, slateerrors.ErrorTypeUnsupportedFormat))
		})
	}
}

func TestNegotiateAudio(t *testing.T) {
	stereo := AudioSetting{SampleRate: 48000, ChannelCount: 2, SampleType: SampleInt16}
	surround := AudioSetting{SampleRate: 48000, ChannelCount: 8, SampleType: SampleInt32}

	got, err := NegotiateAudio(stereo, []AudioSetting{stereo, surround})
	require.NoError(t, err)
	assert.Equal(t, stereo, got)

	_, err = NegotiateAudio(AudioSetting{SampleRate: 44100, ChannelCount: 2}, []AudioSetting{stereo})
	assert.True(t, slateerrors.IsType(err, slateerrors.ErrorTypeUnsupportedFormat))
}
