// Package buffer manages the fixed set of reusable frame buffers shared
// between the hardware goroutine and the consumer. Buffers are owned
// exclusively by whoever holds them; ownership moves through the pool's
// acquire/release protocol and is never shared.
package buffer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/metadata"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
)

// State tracks buffer ownership through its lifecycle.
type State uint32

const (
	// StateFree: owned by the pool, available for acquire.
	StateFree State = iota
	// StateInFlight: owned by the engine/hardware callback, being filled
	// or awaiting its playback deadline.
	StateInFlight
	// StateDelivered: owned by the consumer.
	StateDelivered
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateInFlight:
		return "in_flight"
	case StateDelivered:
		return "delivered"
	default:
		return "unknown"
	}
}

// FrameBuffer is one reusable slot: a fixed payload region plus the format
// and metadata of the frame it currently carries. Allocated once at pool
// creation and reused until device teardown.
type FrameBuffer struct {
	payload []byte
	length  int

	video format.VideoSetting
	meta  metadata.FrameMetadata

	state atomic.Uint32
	slot  int
	pool  *Pool
}

// Slot returns the buffer's fixed slot index within its pool.
func (b *FrameBuffer) Slot() int {
	return b.slot
}

// State returns the current lifecycle state.
func (b *FrameBuffer) State() State {
	return State(b.state.Load())
}

// Payload returns the filled portion of the buffer.
func (b *FrameBuffer) Payload() []byte {
	return b.payload[:b.length]
}

// Capacity returns the slot's fixed payload capacity.
func (b *FrameBuffer) Capacity() int {
	return cap(b.payload)
}

// SetPayload copies data into the slot. The source may be a transient
// hardware region; it is not retained.
func (b *FrameBuffer) SetPayload(data []byte) error {
	b.mustBe(StateInFlight, "SetPayload")
	if len(data) > cap(b.payload) {
		return errors.NewValidationError(
			fmt.Sprintf("payload %d bytes exceeds slot capacity %d", len(data), cap(b.payload)))
	}
	b.length = copy(b.payload[:len(data)], data)
	return nil
}

// Video returns the format the payload was captured or scheduled in.
func (b *FrameBuffer) Video() format.VideoSetting {
	return b.video
}

// SetVideo records the payload format.
func (b *FrameBuffer) SetVideo(v format.VideoSetting) {
	b.mustBe(StateInFlight, "SetVideo")
	b.video = v
}

// AttachMetadata attaches per-frame metadata. The value is copied;
// immutable after attachment.
func (b *FrameBuffer) AttachMetadata(m metadata.FrameMetadata) {
	b.mustBe(StateInFlight, "AttachMetadata")
	b.meta = m
}

// Metadata returns the attached metadata.
func (b *FrameBuffer) Metadata() metadata.FrameMetadata {
	return b.meta
}

// MarkDelivered transfers ownership from the engine to the consumer.
func (b *FrameBuffer) MarkDelivered() {
	if !b.state.CompareAndSwap(uint32(StateInFlight), uint32(StateDelivered)) {
		panic(fmt.Sprintf("buffer: MarkDelivered on slot %d in state %s", b.slot, b.State()))
	}
}

// Release returns the buffer to the pool, wiping its metadata. Valid from
// Delivered (consumer done) and from InFlight (engine dropped the frame
// without delivering it). Releasing a Free buffer is a double release.
func (b *FrameBuffer) Release() {
	prev := State(b.state.Swap(uint32(StateFree)))
	if prev == StateFree {
		panic(fmt.Sprintf("buffer: double release of slot %d", b.slot))
	}

	b.meta = metadata.FrameMetadata{}
	b.length = 0
	b.pool.put(b)
}

func (b *FrameBuffer) mustBe(want State, op string) {
	if b.State() != want {
		panic(fmt.Sprintf("buffer: %s on slot %d in state %s", op, b.slot, b.State()))
	}
}

// Pool is a fixed set of frame slots sized at configuration time to the
// expected pipeline depth.
type Pool struct {
	slots []*FrameBuffer
	free  chan *FrameBuffer

	closed atomic.Bool
	wiped  sync.Once

	acquired    atomic.Uint64
	exhaustions atomic.Uint64

	logger logger.Logger
}

// NewPool allocates depth slots of payloadSize bytes each.
func NewPool(depth, payloadSize int, log logger.Logger) *Pool {
	p := &Pool{
		slots:  make([]*FrameBuffer, depth),
		free:   make(chan *FrameBuffer, depth),
		logger: log.WithField("component", "frame_pool"),
	}

	for i := 0; i < depth; i++ {
		b := &FrameBuffer{
			payload: make([]byte, payloadSize),
			slot:    i,
			pool:    p,
		}
		p.slots[i] = b
		p.free <- b
	}

	p.logger.WithFields(map[string]interface{}{
		"depth":        depth,
		"payload_size": payloadSize,
	}).Debug("Frame pool allocated")

	return p
}

// Depth returns the fixed slot count.
func (p *Pool) Depth() int {
	return len(p.slots)
}

// Acquire blocks until a free slot is available or ctx expires. Consumer
// side only; the hardware goroutine uses TryAcquire.
func (p *Pool) Acquire(ctx context.Context) (*FrameBuffer, error) {
	if p.closed.Load() {
		return nil, errors.NewPoolExhaustedError("pool is closed")
	}

	select {
	case b := <-p.free:
		p.checkout(b)
		return b, nil
	default:
	}

	select {
	case b := <-p.free:
		p.checkout(b)
		return b, nil
	case <-ctx.Done():
		p.exhaustions.Add(1)
		poolExhaustionsTotal.Inc()
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypePoolExhausted,
			"no free frame slot before deadline", http.StatusServiceUnavailable)
	}
}

// TryAcquire returns a free slot without blocking. The hardware goroutine
// must never wait on the pool; a false return is the drop signal.
func (p *Pool) TryAcquire() (*FrameBuffer, bool) {
	if p.closed.Load() {
		return nil, false
	}

	select {
	case b := <-p.free:
		p.checkout(b)
		return b, true
	default:
		p.exhaustions.Add(1)
		poolExhaustionsTotal.Inc()
		return nil, false
	}
}

func (p *Pool) checkout(b *FrameBuffer) {
	if !b.state.CompareAndSwap(uint32(StateFree), uint32(StateInFlight)) {
		panic(fmt.Sprintf("buffer: acquired slot %d in state %s", b.slot, b.State()))
	}
	p.acquired.Add(1)
	poolAcquiresTotal.Inc()
	updateSlotMetrics(p)
}

func (p *Pool) put(b *FrameBuffer) {
	if p.closed.Load() {
		// Device teardown already ran; the slot memory dies with the pool.
		return
	}

	select {
	case p.free <- b:
	default:
		// Every slot is pool-owned; the free channel can only overflow if
		// a buffer was released twice, which Release already panics on.
		panic(fmt.Sprintf("buffer: free list overflow returning slot %d", b.slot))
	}
	updateSlotMetrics(p)
}

// Close marks the pool closed. Outstanding buffers stay valid until
// released; new acquires fail.
func (p *Pool) Close() {
	p.closed.Store(true)
	p.wiped.Do(func() {
		p.logger.WithField("acquired_total", p.acquired.Load()).Debug("Frame pool closed")
	})
}

// FreeSlots returns the number of slots currently free.
func (p *Pool) FreeSlots() int {
	return len(p.free)
}

// Stats returns pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Depth:       len(p.slots),
		Free:        len(p.free),
		Acquired:    p.acquired.Load(),
		Exhaustions: p.exhaustions.Load(),
	}
}

// Stats holds pool counters.
type Stats struct {
	Depth       int    `json:"depth"`
	Free        int    `json:"free"`
	Acquired    uint64 `json:"acquired"`
	Exhaustions uint64 `json:"exhaustions"`
}
