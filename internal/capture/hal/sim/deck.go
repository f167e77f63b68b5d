package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/zsiec/slate/internal/capture/hal"
	"github.com/zsiec/slate/internal/capture/rs422"
	"github.com/zsiec/slate/internal/capture/timecode"
)

// Transport is the simulated tape transport behind the RS-422 port. Tests
// drive and inspect it directly; the port only speaks the wire protocol.
type Transport struct {
	mu sync.Mutex

	status rs422.Status
	tc     timecode.Timecode
	base   int

	// Fault injection.
	unresponsive bool
	nakNext      byte
}

// TransportMode returns a one-word description of the current motion.
func (t *Transport) TransportMode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.status.Playing:
		return "play"
	case t.status.Recording:
		return "record"
	case t.status.FastFwd:
		return "fastfwd"
	case t.status.Rewinding:
		return "rewind"
	case t.status.Shuttling:
		return "shuttle"
	case t.status.Jogging:
		return "jog"
	default:
		return "stop"
	}
}

// Timecode returns the current tape position.
func (t *Transport) Timecode() timecode.Timecode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tc
}

// SetTimecode positions the tape.
func (t *Transport) SetTimecode(tc timecode.Timecode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tc = tc
}

// SetServoLock sets whether the transport reports servo lock. A locked
// servo is what makes the reported timecode trustworthy.
func (t *Transport) SetServoLock(locked bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.ServoLock = locked
}

// SetCassetteOut simulates ejecting or inserting a tape.
func (t *Transport) SetCassetteOut(out bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.CassetteOut = out
}

// SetUnresponsive makes every subsequent transaction hang until its
// context expires, as a powered-off deck would.
func (t *Transport) SetUnresponsive(dead bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unresponsive = dead
}

// NakNext makes the next transaction answer NAK with the given error mask.
func (t *Transport) NakNext(errMask byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nakNext = errMask
}

// Advance moves the tape by n frames in the current motion direction.
func (t *Transport) Advance(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	count := t.tc.FrameCount(t.base)
	if t.status.Reverse {
		count -= int64(n)
		if count < 0 {
			count = 0
		}
	} else {
		count += int64(n)
	}
	t.tc = timecode.FromFrameCount(count, t.base, t.tc.DropFrame)
}

func (t *Transport) clearMotion() {
	t.status.Stopped = false
	t.status.Playing = false
	t.status.Recording = false
	t.status.FastFwd = false
	t.status.Rewinding = false
	t.status.Jogging = false
	t.status.Shuttling = false
	t.status.Reverse = false
	t.status.ServoLock = false
}

// apply executes one decoded command against the transport and returns
// the reply packet.
func (t *Transport) apply(p rs422.Packet) rs422.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nakNext != 0 {
		mask := t.nakNext
		t.nakNext = 0
		return rs422.Nak(mask)
	}

	group := p.Cmd1 & 0xF0
	switch group {
	case rs422.Cmd1Transport:
		return t.applyTransport(p)
	case rs422.Cmd1Sense:
		return t.applySense(p)
	default:
		return rs422.Nak(0x01) // undefined command
	}
}

func (t *Transport) applyTransport(p rs422.Packet) rs422.Packet {
	if t.status.CassetteOut && p.Cmd2 != rs422.CmdStop && p.Cmd2 != rs422.CmdEject {
		return rs422.Nak(0x10) // cassette out
	}

	t.clearMotion()
	switch p.Cmd2 {
	case rs422.CmdStop:
		t.status.Stopped = true
	case rs422.CmdPlay:
		t.status.Playing = true
		t.status.ServoLock = true
	case rs422.CmdRecord:
		t.status.Recording = true
		t.status.ServoLock = true
	case rs422.CmdFastFwd:
		t.status.FastFwd = true
	case rs422.CmdRewind:
		t.status.Rewinding = true
		t.status.Reverse = true
	case rs422.CmdEject:
		t.status.Stopped = true
		t.status.CassetteOut = true
	case rs422.CmdShuttleFwd:
		t.status.Shuttling = true
	case rs422.CmdShuttleRev:
		t.status.Shuttling = true
		t.status.Reverse = true
	case rs422.CmdJogFwd:
		t.status.Jogging = true
	case rs422.CmdJogRev:
		t.status.Jogging = true
		t.status.Reverse = true
	default:
		t.status.Stopped = true
		return rs422.Nak(0x01)
	}
	return rs422.Ack()
}

func (t *Transport) applySense(p rs422.Packet) rs422.Packet {
	switch p.Cmd2 {
	case rs422.CmdStatusSense:
		return rs422.EncodeStatus(t.status)
	case rs422.CmdTimeSense:
		return rs422.EncodeTime(t.tc)
	default:
		return rs422.Nak(0x01)
	}
}

type deckPort struct {
	dev       *Device
	transport Transport

	mu     sync.Mutex
	closed bool
}

func newDeckPort(d *Device) *deckPort {
	p := &deckPort{dev: d}
	p.transport.base = 30
	p.transport.status.Stopped = true
	return p
}

// Transact implements hal.DeckPort.
func (p *deckPort) Transact(ctx context.Context, raw []byte) ([]byte, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("deck port closed")
	}

	p.transport.mu.Lock()
	dead := p.transport.unresponsive
	p.transport.mu.Unlock()
	if dead {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	pkt, err := rs422.Decode(raw)
	if err != nil {
		return rs422.Nak(0x04).Encode(), nil // checksum error
	}

	return p.transport.apply(pkt).Encode(), nil
}

// Close implements hal.DeckPort.
func (p *deckPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ hal.DeckPort = (*deckPort)(nil)
