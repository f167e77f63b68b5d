// Package engine implements the capture/playback scheduler. It bridges
// the hardware frame clock to the application: capture frames move from
// the HAL callback through the frame pool to a bounded delivery channel,
// playback frames move from the schedule queue to the output callback.
// The hardware goroutine is never blocked; when the consumer falls
// behind, frames are dropped and accounted instead.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/slate/internal/capture/buffer"
	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/hal"
	"github.com/zsiec/slate/internal/capture/metadata"
	"github.com/zsiec/slate/internal/capture/timecode"
	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
)

// State is the engine lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConfigured
	StateRunning
	StateStopping
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Direction selects capture or playback for a configured engine.
type Direction uint8

const (
	DirectionCapture Direction = iota
	DirectionPlayback
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	if d == DirectionPlayback {
		return "playback"
	}
	return "capture"
}

// Engine schedules one stream in one direction.
type Engine struct {
	cfg config.EngineConfig

	state atomic.Int32
	mu    sync.Mutex // serializes Configure/Start/Stop/halt

	dir   Direction
	video format.VideoSetting
	audio format.AudioSetting
	tcset format.TimecodeSetting

	pool   *buffer.Pool
	source hal.CaptureSource
	sink   hal.PlaybackSink

	delivery chan *buffer.FrameBuffer
	schedule chan *buffer.FrameBuffer
	events   chan Event

	// Hardware goroutine state; only touched from the frame clock while
	// Running and from Configure while stopped.
	seq      uint64
	nextTC   timecode.Timecode
	lastTC   timecode.Timecode
	haveLast bool

	// Playback buffer held until the next output tick; the sink reads the
	// payload after NextFrame returns.
	current *buffer.FrameBuffer

	// Monotonic schedule admission state, guarded by schedMu.
	schedMu       sync.Mutex
	lastScheduled timecode.Timecode
	haveScheduled bool

	eventsDropped atomic.Uint64
	captured      atomic.Uint64
	played        atomic.Uint64
	dropped       atomic.Uint64

	logger logger.Logger
}

// New creates an engine over the given frame pool.
func New(cfg config.EngineConfig, pool *buffer.Pool, log logger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		pool:     pool,
		delivery: make(chan *buffer.FrameBuffer, cfg.DeliveryDepth),
		schedule: make(chan *buffer.FrameBuffer, cfg.ScheduleDepth),
		events:   make(chan Event, cfg.EventDepth),
		logger:   log.WithField("component", "stream_engine"),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Direction reports the configured stream direction. Meaningful once the
// engine leaves Idle.
func (e *Engine) Direction() Direction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir
}

// Frames is the capture delivery channel. Buffers received here are owned
// by the consumer until released.
func (e *Engine) Frames() <-chan *buffer.FrameBuffer {
	return e.delivery
}

// Events is the asynchronous status channel. Runtime failures surface
// here, never across the hardware callback.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// ConfigureCapture binds the engine to an input source. Idle only.
func (e *Engine) ConfigureCapture(video format.VideoSetting, audio format.AudioSetting, tcset format.TimecodeSetting, source hal.CaptureSource) error {
	return e.configure(DirectionCapture, video, audio, tcset, source, nil)
}

// ConfigurePlayback binds the engine to an output sink. Idle only.
func (e *Engine) ConfigurePlayback(video format.VideoSetting, audio format.AudioSetting, tcset format.TimecodeSetting, sink hal.PlaybackSink) error {
	return e.configure(DirectionPlayback, video, audio, tcset, nil, sink)
}

func (e *Engine) configure(dir Direction, video format.VideoSetting, audio format.AudioSetting, tcset format.TimecodeSetting, source hal.CaptureSource, sink hal.PlaybackSink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if st := e.State(); st != StateIdle {
		return errors.NewInvalidSequenceError(
			fmt.Sprintf("configure requires idle engine, state is %s", st))
	}

	e.dir = dir
	e.video = video
	e.audio = audio
	e.tcset = tcset
	e.source = source
	e.sink = sink
	e.seq = 0
	e.nextTC = tcset.Start
	e.haveLast = false
	e.schedMu.Lock()
	e.haveScheduled = false
	e.schedMu.Unlock()

	e.state.Store(int32(StateConfigured))
	engineStateGauge.Set(float64(StateConfigured))

	e.logger.WithFields(map[string]interface{}{
		"direction": dir.String(),
		"video":     video.String(),
		"audio":     audio.String(),
	}).Info("Engine configured")

	return nil
}

// Start begins streaming. Configured only; starting a running engine is
// an ordering violation.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.State()
	if st != StateConfigured {
		return errors.NewInvalidSequenceError(
			fmt.Sprintf("start requires configured engine, state is %s", st))
	}

	var err error
	if e.dir == DirectionCapture {
		err = e.source.Start(e)
	} else {
		err = e.sink.Start(e)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "hardware stream start failed", 500)
	}

	e.state.Store(int32(StateRunning))
	engineStateGauge.Set(float64(StateRunning))
	e.logger.WithField("direction", e.dir.String()).Info("Engine running")
	return nil
}

// Stop halts streaming and returns the engine to Idle. Safe to call from
// the consumer goroutine while the hardware clock is mid-callback: the
// source's Stop waits for the in-flight callback to complete, so no frame
// is torn down while the hardware still owns it. Stopping an engine that
// is not running is a no-op.
func (e *Engine) Stop() error {
	e.halt()
	return nil
}

// halt is the single teardown path, shared by Stop and by runtime
// failures reported from the frame clock.
func (e *Engine) halt() {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.State()
	if st != StateRunning && st != StateStopping {
		return
	}
	e.state.Store(int32(StateStopping))
	engineStateGauge.Set(float64(StateStopping))

	if e.dir == DirectionCapture {
		if err := e.source.Stop(); err != nil {
			e.logger.WithError(err).Warn("Capture source stop failed")
		}
	} else {
		if err := e.sink.Stop(); err != nil {
			e.logger.WithError(err).Warn("Playback sink stop failed")
		}
	}

	// The frame clock is quiesced; undelivered and unplayed frames go
	// back to the pool.
	e.drain()

	e.state.Store(int32(StateIdle))
	engineStateGauge.Set(float64(StateIdle))
	e.logger.Info("Engine stopped")
}

func (e *Engine) drain() {
	for {
		select {
		case buf := <-e.delivery:
			buf.Release()
		default:
			goto schedule
		}
	}
schedule:
	// schedMu is held while the queue is emptied. A Schedule racing with
	// teardown either enqueues before this point and is drained here, or
	// takes the lock afterwards and observes the Stopping state.
	e.schedMu.Lock()
	for {
		select {
		case buf := <-e.schedule:
			buf.Release()
		default:
			e.schedMu.Unlock()
			if e.current != nil {
				e.current.Release()
				e.current = nil
			}
			return
		}
	}
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		State:         e.State(),
		Captured:      e.captured.Load(),
		Played:        e.played.Load(),
		Dropped:       e.dropped.Load(),
		EventsDropped: e.eventsDropped.Load(),
	}
}

// Stats holds engine counters.
type Stats struct {
	State         State  `json:"state"`
	Captured      uint64 `json:"captured"`
	Played        uint64 `json:"played"`
	Dropped       uint64 `json:"dropped"`
	EventsDropped uint64 `json:"events_dropped"`
}

// emit publishes an event without ever blocking; the channel is bounded
// and overflowing events are counted, not waited on.
func (e *Engine) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case e.events <- ev:
	default:
		e.eventsDropped.Add(1)
	}
}

// FrameArrived implements hal.CaptureCallback. Runs on the hardware
// goroutine: every path through here is non-blocking.
func (e *Engine) FrameArrived(f hal.Frame) {
	if e.State() != StateRunning {
		return
	}

	tc := e.frameTimecode(f)

	if e.haveLast && !tc.After(e.lastTC) {
		e.handleOutOfOrder(tc)
		return
	}

	buf, ok := e.pool.TryAcquire()
	if !ok {
		buf, ok = e.reclaimSlot()
		if !ok {
			// Consumer holds every slot outside the delivery queue;
			// nothing to reclaim, the new frame is the casualty.
			e.recordDrop(tc, "pool exhausted")
			return
		}
	}

	if err := buf.SetPayload(f.Payload); err != nil {
		buf.Release()
		e.recordDrop(tc, "payload exceeds slot")
		return
	}
	buf.SetVideo(e.video)

	e.seq++
	buf.AttachMetadata(e.buildMetadata(f, tc))
	buf.MarkDelivered()

	select {
	case e.delivery <- buf:
	default:
		// Delivery queue full with the pool somehow not: reclaim the
		// oldest queued frame and retry once.
		if e.cfg.DropPolicy == "drop_oldest" {
			select {
			case old := <-e.delivery:
				oldTC := old.Metadata().Timecode
				old.Release()
				e.dropped.Add(1)
				framesDroppedTotal.Inc()
				e.emit(Event{Type: EventFrameDropped, Timecode: oldTC, Message: "delivery queue full"})
			default:
			}
			select {
			case e.delivery <- buf:
			default:
				buf.Release()
				e.recordDrop(tc, "delivery queue full")
				return
			}
		} else {
			buf.Release()
			e.recordDrop(tc, "delivery queue full")
			return
		}
	}

	e.lastTC = tc
	e.haveLast = true
	e.nextTC = tc.Next(e.video.Rate.Base())
	e.captured.Add(1)
	framesCapturedTotal.Inc()
}

// reclaimSlot frees a slot under backpressure per the configured policy.
func (e *Engine) reclaimSlot() (*buffer.FrameBuffer, bool) {
	if e.cfg.DropPolicy != "drop_oldest" {
		return nil, false
	}

	select {
	case old := <-e.delivery:
		e.dropped.Add(1)
		framesDroppedTotal.Inc()
		e.emit(Event{Type: EventFrameDropped, Timecode: old.Metadata().Timecode, Message: "consumer behind, dropped oldest"})
		old.Release()
	default:
		return nil, false
	}

	return e.pool.TryAcquire()
}

func (e *Engine) recordDrop(tc timecode.Timecode, reason string) {
	e.dropped.Add(1)
	framesDroppedTotal.Inc()
	e.emit(Event{Type: EventFrameDropped, Timecode: tc, Message: reason})
	// The clock keeps counting even when a frame is lost.
	e.lastTC = tc
	e.haveLast = true
	e.nextTC = tc.Next(e.video.Rate.Base())
}

func (e *Engine) handleOutOfOrder(tc timecode.Timecode) {
	outOfOrderTotal.Inc()
	e.emit(Event{Type: EventOutOfOrder, Timecode: tc,
		Message: fmt.Sprintf("timecode %s not after %s", tc, e.lastTC)})

	if e.cfg.OutOfOrderPolicy == "stop" {
		if e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
			go e.halt()
		}
	}
	// Policy "drop": the frame is simply never delivered.
	e.dropped.Add(1)
	framesDroppedTotal.Inc()
}

// SignalLost implements hal.CaptureCallback.
func (e *Engine) SignalLost() {
	e.emit(Event{Type: EventSignalLost, Message: "input signal lost"})
	e.failAsync()
}

// FormatChanged implements hal.CaptureCallback.
func (e *Engine) FormatChanged(detected format.VideoSetting) {
	e.emit(Event{Type: EventFormatChanged, Detected: &detected,
		Message: fmt.Sprintf("input switched to %s", detected)})
	e.failAsync()
}

// failAsync moves the engine to Stopping from the hardware goroutine and
// finishes teardown elsewhere; halting inline would deadlock against the
// source waiting for this callback to return. The engine does not
// restart itself; that decision belongs to the device owner.
func (e *Engine) failAsync() {
	if e.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		engineStateGauge.Set(float64(StateStopping))
		go e.halt()
	}
}

func (e *Engine) frameTimecode(f hal.Frame) timecode.Timecode {
	if f.Timecode != nil {
		return *f.Timecode
	}
	// No timecode on the wire: derive from the running counter.
	return e.nextTC
}

func (e *Engine) buildMetadata(f hal.Frame, tc timecode.Timecode) metadata.FrameMetadata {
	var flags metadata.Flags
	if e.video.FieldDominance != format.FieldProgressive {
		flags |= metadata.FlagInterlaced
		if e.video.FieldDominance == format.FieldUpperFirst {
			flags |= metadata.FlagUpperFirst
		}
	}
	if f.Timecode != nil && e.tcset.Standard == timecode.StandardVITC {
		flags |= metadata.FlagVITCPresent
	}

	return metadata.FrameMetadata{
		Timecode:        tc,
		StreamTimestamp: f.StreamTime,
		TimeScale:       f.TimeScale,
		Sequence:        e.seq,
		CaptureTime:     time.Now(),
		Flags:           flags,
	}
}

// Schedule queues a filled buffer for playback. The buffer must carry
// metadata with a timecode strictly after the previously scheduled one;
// a non-monotonic timecode fails the call and the caller keeps ownership.
func (e *Engine) Schedule(buf *buffer.FrameBuffer) error {
	tc := buf.Metadata().Timecode

	// The state check happens under schedMu so the enqueue cannot land
	// after halt has drained the queue; halt stores Stopping before it
	// takes the lock, so a late caller is refused instead of stranding
	// the buffer across runs.
	e.schedMu.Lock()
	if st := e.State(); st != StateConfigured && st != StateRunning {
		e.schedMu.Unlock()
		return errors.NewInvalidSequenceError(
			fmt.Sprintf("schedule requires configured engine, state is %s", st))
	}
	if e.dir != DirectionPlayback {
		e.schedMu.Unlock()
		return errors.NewInvalidSequenceError("engine is configured for capture")
	}
	if e.haveScheduled && !tc.After(e.lastScheduled) {
		last := e.lastScheduled
		e.schedMu.Unlock()
		outOfOrderTotal.Inc()
		return errors.NewOutOfOrderError(
			fmt.Sprintf("timecode %s not after %s", tc, last))
	}

	select {
	case e.schedule <- buf:
		e.lastScheduled = tc
		e.haveScheduled = true
		e.schedMu.Unlock()
		return nil
	default:
		e.schedMu.Unlock()
		return errors.NewPoolExhaustedError("playback schedule queue full")
	}
}

// NextFrame implements hal.PlaybackCallback. Runs on the hardware
// goroutine before each output deadline. The previously returned buffer
// is recycled here; the sink reads its payload until this call.
func (e *Engine) NextFrame() *hal.Frame {
	if e.State() != StateRunning {
		return nil
	}

	if e.current != nil {
		e.current.Release()
		e.current = nil
	}

	select {
	case buf := <-e.schedule:
		e.current = buf
		e.played.Add(1)
		framesPlayedTotal.Inc()
		m := buf.Metadata()
		tc := m.Timecode
		return &hal.Frame{
			Payload:    buf.Payload(),
			StreamTime: m.StreamTimestamp,
			TimeScale:  m.TimeScale,
			Timecode:   &tc,
		}
	default:
		// Starved: the hardware emits black for this period.
		e.emit(Event{Type: EventFrameDropped, Message: "playback starved"})
		return nil
	}
}
