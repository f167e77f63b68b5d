package format

import (
	"fmt"

	"github.com/zsiec/slate/internal/errors"
)

// NegotiateVideo returns the supported video setting exactly matching the
// request, or UnsupportedFormat. Matching is field-for-field: fuzzy
// matching would hand the pool a buffer layout the hardware disagrees
// with. Pure function over the provided capability list.
func NegotiateVideo(requested VideoSetting, supported []VideoSetting) (VideoSetting, error) {
	for _, s := range supported {
		if videoEqual(requested, s) {
			return s, nil
		}
	}
	return VideoSetting{}, errors.NewUnsupportedFormatError(
		fmt.Sprintf("video mode %s not offered by device", requested)).
		WithDetails(map[string]interface{}{
			"requested": requested.String(),
			"offered":   len(supported),
		})
}

// NegotiateAudio returns the supported audio setting exactly matching the
// request, or UnsupportedFormat.
func NegotiateAudio(requested AudioSetting, supported []AudioSetting) (AudioSetting, error) {
	for _, s := range supported {
		if s == requested {
			return s, nil
		}
	}
	return AudioSetting{}, errors.NewUnsupportedFormatError(
		fmt.Sprintf("audio mode %s not offered by device", requested))
}

func videoEqual(a, b VideoSetting) bool {
	// Name is advisory; everything that affects buffer layout or timing
	// must agree.
	return a.Width == b.Width &&
		a.Height == b.Height &&
		a.Rate == b.Rate &&
		a.PixelFormat == b.PixelFormat &&
		a.FieldDominance == b.FieldDominance
}
