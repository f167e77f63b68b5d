// Package rs422 implements the Sony 9-pin style serial protocol used for
// tape transport control: packet framing with additive checksum, the
// transport command set, and BCD timecode encoding. The protocol is
// strictly request/response with no pipelining.
package rs422

import (
	"errors"
	"fmt"
	"math"

	"github.com/zsiec/slate/internal/capture/timecode"
)

var (
	ErrTruncated   = errors.New("rs422: truncated packet")
	ErrBadChecksum = errors.New("rs422: checksum mismatch")
	ErrBadBCD      = errors.New("rs422: invalid BCD digit")
)

// Command/response group nibbles (cmd1). On the wire the header byte is
// the group nibble ORed with the data byte count, so PLAY frames as
// 20 01 and SHUTTLE (one speed byte) as 21 13.
const (
	Cmd1Transport = 0x20 // transport and motion commands
	Cmd1Sense     = 0x60 // status and time sense requests
	Cmd1Return    = 0x10 // ACK and NAK
	Cmd1Data      = 0x70 // status and time data responses
)

// Transport command bytes (cmd2).
const (
	CmdStop       = 0x00
	CmdPlay       = 0x01
	CmdRecord     = 0x02
	CmdStandbyOff = 0x04
	CmdStandbyOn  = 0x05
	CmdEject      = 0x0F
	CmdFastFwd    = 0x10
	CmdRewind     = 0x20

	CmdJogFwd     = 0x11
	CmdVarFwd     = 0x12
	CmdShuttleFwd = 0x13
	CmdJogRev     = 0x21
	CmdVarRev     = 0x22
	CmdShuttleRev = 0x23

	CmdTimeSense   = 0x0C
	CmdStatusSense = 0x20

	CmdAck = 0x01
	CmdNak = 0x12

	CmdTimeData = 0x04
)

// Packet is one framed command or response. On the wire: a header byte
// carrying cmd1 in the high nibble and the data count in the low nibble,
// the cmd2 byte, the data bytes, and an additive checksum.
type Packet struct {
	Cmd1 byte
	Cmd2 byte
	Data []byte
}

// Encode frames the packet for the wire.
func (p Packet) Encode() []byte {
	n := len(p.Data)
	out := make([]byte, 0, n+3)
	out = append(out, p.Cmd1|byte(n&0x0F), p.Cmd2)
	out = append(out, p.Data...)

	var sum byte
	for _, b := range out {
		sum += b
	}
	return append(out, sum)
}

// Decode parses and checksum-verifies a wire packet.
func Decode(raw []byte) (Packet, error) {
	if len(raw) < 3 {
		return Packet{}, ErrTruncated
	}

	n := int(raw[0] & 0x0F)
	if len(raw) != n+3 {
		return Packet{}, ErrTruncated
	}

	var sum byte
	for _, b := range raw[:len(raw)-1] {
		sum += b
	}
	if sum != raw[len(raw)-1] {
		return Packet{}, ErrBadChecksum
	}

	p := Packet{
		Cmd1: raw[0] & 0xF0,
		Cmd2: raw[1],
	}
	if n > 0 {
		p.Data = append([]byte(nil), raw[2:2+n]...)
	}
	return p, nil
}

// IsAck reports whether the packet is the deck's ACK response.
func (p Packet) IsAck() bool {
	return p.Cmd1 == Cmd1Return && p.Cmd2 == CmdAck
}

// IsNak reports whether the packet is the deck's NAK response.
func (p Packet) IsNak() bool {
	return p.Cmd1 == Cmd1Return && p.Cmd2 == CmdNak
}

// Ack builds the deck's ACK response.
func Ack() Packet {
	return Packet{Cmd1: Cmd1Return, Cmd2: CmdAck}
}

// Nak builds the deck's NAK response carrying an error bit mask.
func Nak(errMask byte) Packet {
	return Packet{Cmd1: Cmd1Return, Cmd2: CmdNak, Data: []byte{errMask}}
}

// Transport command constructors.

func Stop() Packet    { return Packet{Cmd1: Cmd1Transport, Cmd2: CmdStop} }
func Play() Packet    { return Packet{Cmd1: Cmd1Transport, Cmd2: CmdPlay} }
func Record() Packet  { return Packet{Cmd1: Cmd1Transport, Cmd2: CmdRecord} }
func FastFwd() Packet { return Packet{Cmd1: Cmd1Transport, Cmd2: CmdFastFwd} }
func Rewind() Packet  { return Packet{Cmd1: Cmd1Transport, Cmd2: CmdRewind} }
func Eject() Packet   { return Packet{Cmd1: Cmd1Transport, Cmd2: CmdEject} }

// Shuttle builds a shuttle command. speed is a signed tape-speed multiple;
// the data byte encodes |speed| as N = 32*(2+log10(v)), the deck's
// logarithmic speed scale.
func Shuttle(speed float64) Packet {
	cmd2 := byte(CmdShuttleFwd)
	if speed < 0 {
		cmd2 = CmdShuttleRev
		speed = -speed
	}
	return Packet{Cmd1: Cmd1Transport, Cmd2: cmd2, Data: []byte{speedCode(speed)}}
}

// Jog builds a jog command. offset is a signed frame step; the data byte
// carries the magnitude clamped to one byte.
func Jog(offset int) Packet {
	cmd2 := byte(CmdJogFwd)
	if offset < 0 {
		cmd2 = CmdJogRev
		offset = -offset
	}
	if offset > 0xFF {
		offset = 0xFF
	}
	return Packet{Cmd1: Cmd1Transport, Cmd2: cmd2, Data: []byte{byte(offset)}}
}

func speedCode(v float64) byte {
	if v <= 0.01 {
		return 0
	}
	n := 32 * (2 + math.Log10(v))
	if n < 0 {
		n = 0
	}
	if n > 255 {
		n = 255
	}
	return byte(math.Round(n))
}

// SpeedFromCode inverts speedCode.
func SpeedFromCode(n byte) float64 {
	if n == 0 {
		return 0
	}
	return math.Pow(10, float64(n)/32-2)
}

// Sense request constructors.

func TimeSense() Packet   { return Packet{Cmd1: Cmd1Sense, Cmd2: CmdTimeSense, Data: []byte{0x03}} }
func StatusSense() Packet { return Packet{Cmd1: Cmd1Sense, Cmd2: CmdStatusSense, Data: []byte{0x0F}} }

// Status is the decoded transport status report.
type Status struct {
	CassetteOut bool
	Local       bool
	Standby     bool
	Stopped     bool
	Playing     bool
	Recording   bool
	FastFwd     bool
	Rewinding   bool
	Jogging     bool
	Shuttling   bool
	Reverse     bool
	ServoLock   bool // tape servo locked to reference: timecode is trustworthy
}

// EncodeStatus builds a status response packet.
func EncodeStatus(s Status) Packet {
	data := make([]byte, 3)
	if s.CassetteOut {
		data[0] |= 0x20
	}
	if s.Local {
		data[0] |= 0x01
	}
	if s.Playing {
		data[1] |= 0x01
	}
	if s.Recording {
		data[1] |= 0x02
	}
	if s.FastFwd {
		data[1] |= 0x04
	}
	if s.Rewinding {
		data[1] |= 0x08
	}
	if s.Stopped {
		data[1] |= 0x20
	}
	if s.Standby {
		data[1] |= 0x80
	}
	if s.ServoLock {
		data[2] |= 0x01
	}
	if s.Reverse {
		data[2] |= 0x04
	}
	if s.Jogging {
		data[2] |= 0x10
	}
	if s.Shuttling {
		data[2] |= 0x20
	}
	return Packet{Cmd1: Cmd1Data, Cmd2: CmdStatusSense, Data: data}
}

// DecodeStatus parses a status response packet.
func DecodeStatus(p Packet) (Status, error) {
	if p.Cmd1 != Cmd1Data || p.Cmd2 != CmdStatusSense {
		return Status{}, fmt.Errorf("rs422: not a status response: %02x %02x", p.Cmd1, p.Cmd2)
	}
	if len(p.Data) < 3 {
		return Status{}, ErrTruncated
	}

	return Status{
		CassetteOut: p.Data[0]&0x20 != 0,
		Local:       p.Data[0]&0x01 != 0,
		Playing:     p.Data[1]&0x01 != 0,
		Recording:   p.Data[1]&0x02 != 0,
		FastFwd:     p.Data[1]&0x04 != 0,
		Rewinding:   p.Data[1]&0x08 != 0,
		Stopped:     p.Data[1]&0x20 != 0,
		Standby:     p.Data[1]&0x80 != 0,
		ServoLock:   p.Data[2]&0x01 != 0,
		Reverse:     p.Data[2]&0x04 != 0,
		Jogging:     p.Data[2]&0x10 != 0,
		Shuttling:   p.Data[2]&0x20 != 0,
	}, nil
}

// EncodeTime builds a time-data response carrying the deck timecode as
// four BCD bytes (frames, seconds, minutes, hours). The drop-frame flag
// rides bit 6 of the frames byte, as in VITC.
func EncodeTime(tc timecode.Timecode) Packet {
	f := toBCD(tc.Frames)
	if tc.DropFrame {
		f |= 0x40
	}
	return Packet{
		Cmd1: Cmd1Data,
		Cmd2: CmdTimeData,
		Data: []byte{f, toBCD(tc.Seconds), toBCD(tc.Minutes), toBCD(tc.Hours)},
	}
}

// DecodeTime parses a time-data response.
func DecodeTime(p Packet) (timecode.Timecode, error) {
	if p.Cmd1 != Cmd1Data || p.Cmd2 != CmdTimeData {
		return timecode.Timecode{}, fmt.Errorf("rs422: not a time response: %02x %02x", p.Cmd1, p.Cmd2)
	}
	if len(p.Data) < 4 {
		return timecode.Timecode{}, ErrTruncated
	}

	frames, err := fromBCD(p.Data[0] & 0x3F)
	if err != nil {
		return timecode.Timecode{}, err
	}
	seconds, err := fromBCD(p.Data[1] & 0x7F)
	if err != nil {
		return timecode.Timecode{}, err
	}
	minutes, err := fromBCD(p.Data[2] & 0x7F)
	if err != nil {
		return timecode.Timecode{}, err
	}
	hours, err := fromBCD(p.Data[3] & 0x3F)
	if err != nil {
		return timecode.Timecode{}, err
	}

	return timecode.Timecode{
		Hours:     hours,
		Minutes:   minutes,
		Seconds:   seconds,
		Frames:    frames,
		DropFrame: p.Data[0]&0x40 != 0,
	}, nil
}

func toBCD(v int) byte {
	return byte(v/10)<<4 | byte(v%10)
}

func fromBCD(b byte) (int, error) {
	hi, lo := int(b>>4), int(b&0x0F)
	if hi > 9 || lo > 9 {
		return 0, ErrBadBCD
	}
	return hi*10 + lo, nil
}
