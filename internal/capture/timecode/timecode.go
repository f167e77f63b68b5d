// Package timecode implements SMPTE timecode values with drop-frame
// arithmetic. A Timecode is a frame-accurate label (HH:MM:SS:FF) carried
// alongside every captured or scheduled frame.
package timecode

import (
	"fmt"
)

// Standard identifies how timecode is carried on the wire.
type Standard uint8

const (
	StandardNone   Standard = iota
	StandardRP188           // ancillary data (HANC)
	StandardVITC            // vertical interval timecode
	StandardSerial          // RS-422 deck timecode
)

// String returns the string representation of Standard.
func (s Standard) String() string {
	switch s {
	case StandardRP188:
		return "rp188"
	case StandardVITC:
		return "vitc"
	case StandardSerial:
		return "serial"
	default:
		return "none"
	}
}

// Timecode is an SMPTE HH:MM:SS:FF label. The zero value is 00:00:00:00
// non-drop. Timecode is a value type; all methods return new values.
type Timecode struct {
	Hours     int
	Minutes   int
	Seconds   int
	Frames    int
	DropFrame bool
}

// String formats the timecode. Drop-frame uses the ";" frame separator per
// SMPTE convention.
func (t Timecode) String() string {
	sep := ":"
	if t.DropFrame {
		sep = ";"
	}
	return fmt.Sprintf("%02d:%02d:%02d%s%02d", t.Hours, t.Minutes, t.Seconds, sep, t.Frames)
}

// Parse reads a timecode in HH:MM:SS:FF form. A ";" before the frame field
// marks drop-frame, matching String. Field ranges are not validated here;
// call Validate with the target frame rate base.
func Parse(s string) (Timecode, error) {
	var t Timecode
	if len(s) != 11 {
		return t, fmt.Errorf("invalid timecode %q", s)
	}
	switch s[8] {
	case ';':
		t.DropFrame = true
	case ':':
	default:
		return t, fmt.Errorf("invalid timecode %q", s)
	}
	n, err := fmt.Sscanf(s[:8], "%02d:%02d:%02d", &t.Hours, &t.Minutes, &t.Seconds)
	if err != nil || n != 3 {
		return t, fmt.Errorf("invalid timecode %q", s)
	}
	if n, err = fmt.Sscanf(s[9:], "%02d", &t.Frames); err != nil || n != 1 {
		return t, fmt.Errorf("invalid timecode %q", s)
	}
	return t, nil
}

// ParseStandard maps the string form back to a Standard.
func ParseStandard(s string) (Standard, error) {
	switch s {
	case "", "none":
		return StandardNone, nil
	case "rp188":
		return StandardRP188, nil
	case "vitc":
		return StandardVITC, nil
	case "serial":
		return StandardSerial, nil
	default:
		return StandardNone, fmt.Errorf("unknown timecode standard %q", s)
	}
}

// Validate checks field ranges against the given nominal frame rate base
// (frames per second, e.g. 24, 25, 30, 60). Drop-frame is only defined for
// base 30 and 60.
func (t Timecode) Validate(base int) error {
	if base <= 0 {
		return fmt.Errorf("invalid timecode base: %d", base)
	}
	if t.Hours < 0 || t.Hours > 23 {
		return fmt.Errorf("hours out of range: %d", t.Hours)
	}
	if t.Minutes < 0 || t.Minutes > 59 {
		return fmt.Errorf("minutes out of range: %d", t.Minutes)
	}
	if t.Seconds < 0 || t.Seconds > 59 {
		return fmt.Errorf("seconds out of range: %d", t.Seconds)
	}
	if t.Frames < 0 || t.Frames >= base {
		return fmt.Errorf("frames out of range: %d (base %d)", t.Frames, base)
	}
	if t.DropFrame {
		if base != 30 && base != 60 {
			return fmt.Errorf("drop-frame undefined for base %d", base)
		}
		// The first two (or four at base 60) frame numbers of each minute
		// do not exist, except every tenth minute.
		if t.Seconds == 0 && t.Minutes%10 != 0 && t.Frames < dropCount(base) {
			return fmt.Errorf("dropped frame number %d at %02d:%02d", t.Frames, t.Minutes, t.Seconds)
		}
	}
	return nil
}

func dropCount(base int) int {
	// 2 frame numbers per minute at 29.97, 4 at 59.94.
	return base / 15
}

// FrameCount converts the timecode to an absolute frame index at the given
// base, accounting for dropped frame numbers.
func (t Timecode) FrameCount(base int) int64 {
	totalMinutes := int64(t.Hours)*60 + int64(t.Minutes)
	n := (int64(t.Hours)*3600+int64(t.Minutes)*60+int64(t.Seconds))*int64(base) + int64(t.Frames)
	if t.DropFrame {
		n -= int64(dropCount(base)) * (totalMinutes - totalMinutes/10)
	}
	return n
}

// FromFrameCount converts an absolute frame index back to a timecode at the
// given base.
func FromFrameCount(n int64, base int, dropFrame bool) Timecode {
	if n < 0 {
		n = 0
	}

	if dropFrame {
		drop := int64(dropCount(base))
		framesPerMin := int64(base)*60 - drop
		framesPerTenMin := framesPerMin*10 + drop

		tenMins := n / framesPerTenMin
		rem := n % framesPerTenMin

		if rem >= drop {
			n += drop*9*tenMins + drop*((rem-drop)/framesPerMin)
		} else {
			n += drop * 9 * tenMins
		}
	}

	b := int64(base)
	return Timecode{
		Hours:     int(n / (b * 3600) % 24),
		Minutes:   int(n / (b * 60) % 60),
		Seconds:   int(n / b % 60),
		Frames:    int(n % b),
		DropFrame: dropFrame,
	}
}

// Next returns the timecode one frame later.
func (t Timecode) Next(base int) Timecode {
	return FromFrameCount(t.FrameCount(base)+1, base, t.DropFrame)
}

// Compare orders two timecodes: -1 if t < o, 0 if equal, 1 if t > o.
// Comparison is field-wise and independent of frame rate.
func (t Timecode) Compare(o Timecode) int {
	a := [4]int{t.Hours, t.Minutes, t.Seconds, t.Frames}
	b := [4]int{o.Hours, o.Minutes, o.Seconds, o.Frames}
	for i := 0; i < 4; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// Before reports whether t is strictly earlier than o.
func (t Timecode) Before(o Timecode) bool {
	return t.Compare(o) < 0
}

// After reports whether t is strictly later than o.
func (t Timecode) After(o Timecode) bool {
	return t.Compare(o) > 0
}
