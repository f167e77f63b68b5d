// Package device is the application facade over one piece of capture
// hardware: format negotiation, the frame pool, the stream engine and
// optional deck control, bound to a single hal.DeviceHandle with one
// lifecycle. All methods are safe for concurrent use.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/zsiec/slate/internal/capture/buffer"
	"github.com/zsiec/slate/internal/capture/deck"
	"github.com/zsiec/slate/internal/capture/engine"
	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/hal"
	"github.com/zsiec/slate/internal/capture/profile"
	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
)

// Device owns one opened capture/playback device.
type Device struct {
	handle hal.DeviceHandle
	attrs  profile.Attributes

	captureCfg config.CaptureConfig
	deckCfg    config.DeckConfig

	mu         sync.Mutex
	closed     bool
	configured bool
	dir        engine.Direction
	video      format.VideoSetting
	audio      format.AudioSetting
	tcset      format.TimecodeSetting

	pool   *buffer.Pool
	engine *engine.Engine

	deckCtrl *deck.Controller
	deckPort hal.DeckPort

	logger logger.Logger
}

// Open binds a facade to an enumerated device handle.
func Open(handle hal.DeviceHandle, captureCfg config.CaptureConfig, deckCfg config.DeckConfig, log logger.Logger) (*Device, error) {
	attrs := profile.FromInfo(handle.Info())

	pool := buffer.NewPool(captureCfg.Pool.Depth, captureCfg.Pool.PayloadSize, log)
	eng := engine.New(captureCfg.Engine, pool, log)

	devLog := log.WithField("device_id", attrs.ID())
	devLog.WithField("model", attrs.ModelName()).Info("Device opened")

	return &Device{
		handle:     handle,
		attrs:      attrs,
		captureCfg: captureCfg,
		deckCfg:    deckCfg,
		pool:       pool,
		engine:     eng,
		logger:     devLog,
	}, nil
}

// Attributes returns the device's static capability view.
func (d *Device) Attributes() profile.Attributes { return d.attrs }

// ConfigureCapture negotiates the requested modes and binds an input
// stream. Allowed only while no stream is running.
func (d *Device) ConfigureCapture(video format.VideoSetting, audio format.AudioSetting, tcset format.TimecodeSetting) error {
	return d.configure(engine.DirectionCapture, video, audio, tcset)
}

// ConfigurePlayback negotiates the requested modes and binds an output
// stream.
func (d *Device) ConfigurePlayback(video format.VideoSetting, audio format.AudioSetting, tcset format.TimecodeSetting) error {
	return d.configure(engine.DirectionPlayback, video, audio, tcset)
}

func (d *Device) configure(dir engine.Direction, video format.VideoSetting, audio format.AudioSetting, tcset format.TimecodeSetting) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.NewDeviceClosedError()
	}
	if st := d.engine.State(); st != engine.StateIdle {
		return errors.NewInvalidSequenceError(
			fmt.Sprintf("cannot reconfigure while engine is %s", st))
	}

	if dir == engine.DirectionCapture && !d.attrs.Supports(hal.CapCapture) {
		return errors.NewUnsupportedFormatError("device has no capture capability")
	}
	if dir == engine.DirectionPlayback && !d.attrs.Supports(hal.CapPlayback) {
		return errors.NewUnsupportedFormatError("device has no playback capability")
	}

	v, err := d.attrs.NegotiateVideo(video)
	if err != nil {
		return err
	}
	a, err := d.attrs.NegotiateAudio(audio)
	if err != nil {
		return err
	}

	if err := d.bindEngine(dir, v, a, tcset); err != nil {
		return err
	}

	d.dir = dir
	d.video = v
	d.audio = a
	d.tcset = tcset
	d.configured = true

	d.logger.WithFields(map[string]interface{}{
		"direction": dir.String(),
		"video":     v.String(),
	}).Info("Device configured")
	return nil
}

// bindEngine opens a fresh hardware stream and configures the engine
// over it. Called with d.mu held and the engine idle.
func (d *Device) bindEngine(dir engine.Direction, v format.VideoSetting, a format.AudioSetting, tcset format.TimecodeSetting) error {
	if dir == engine.DirectionCapture {
		src, err := d.handle.OpenCapture(v, a)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "opening capture stream failed", 500)
		}
		return d.engine.ConfigureCapture(v, a, tcset, src)
	}

	sink, err := d.handle.OpenPlayback(v, a)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "opening playback stream failed", 500)
	}
	return d.engine.ConfigurePlayback(v, a, tcset, sink)
}

// Start begins streaming. After a stop, Start rebinds the stream with
// the retained negotiated modes; an unconfigured device cannot start.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.NewDeviceClosedError()
	}
	if !d.configured {
		return errors.NewInvalidSequenceError("start requires a configured device")
	}

	// A previous run tore the stream down to Idle; rebind it.
	if d.engine.State() == engine.StateIdle {
		if err := d.bindEngine(d.dir, d.video, d.audio, d.tcset); err != nil {
			return err
		}
	}
	return d.engine.Start()
}

// Stop halts streaming. Stopping an already stopped device is a no-op.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.NewDeviceClosedError()
	}
	return d.engine.Stop()
}

// Configured returns the negotiated video mode and direction, or false
// when the device has never been configured.
func (d *Device) Configured() (format.VideoSetting, engine.Direction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.video, d.dir, d.configured
}

// Running reports whether frames are currently flowing.
func (d *Device) Running() bool {
	return d.engine.State() == engine.StateRunning
}

// Frames is the capture delivery channel.
func (d *Device) Frames() <-chan *buffer.FrameBuffer { return d.engine.Frames() }

// Events is the asynchronous status channel.
func (d *Device) Events() <-chan engine.Event { return d.engine.Events() }

// Stats returns engine and pool counters.
func (d *Device) Stats() Stats {
	return Stats{
		Device: d.attrs.ID(),
		Engine: d.engine.Stats(),
		Pool:   d.pool.Stats(),
	}
}

// Stats aggregates per-device counters.
type Stats struct {
	Device string       `json:"device"`
	Engine engine.Stats `json:"engine"`
	Pool   buffer.Stats `json:"pool"`
}

// AcquireFrame takes a free buffer for playback fill, blocking up to the
// configured acquire timeout.
func (d *Device) AcquireFrame(ctx context.Context) (*buffer.FrameBuffer, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, errors.NewDeviceClosedError()
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, d.captureCfg.Pool.AcquireTimeout)
	defer cancel()
	return d.pool.Acquire(ctx)
}

// Schedule queues a filled buffer for playback.
func (d *Device) Schedule(buf *buffer.FrameBuffer) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return errors.NewDeviceClosedError()
	}
	d.mu.Unlock()
	return d.engine.Schedule(buf)
}

// EngageDeckControl opens the RS-422 port and connects to the deck. The
// returned controller stays valid until DisengageDeckControl or Close.
func (d *Device) EngageDeckControl(ctx context.Context) (*deck.Controller, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.NewDeviceClosedError()
	}
	if !d.attrs.Supports(hal.CapDeckControl) {
		return nil, errors.NewUnsupportedFormatError("device has no deck control port")
	}
	if d.deckCtrl != nil {
		return d.deckCtrl, nil
	}

	port, err := d.handle.OpenDeckPort()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDeckUnresponsive, "opening deck port failed", 503)
	}

	ctrl := deck.NewController(d.deckCfg, port, d.logger)
	if err := ctrl.Connect(ctx); err != nil {
		port.Close()
		return nil, err
	}

	// Recording to tape with no frames flowing would lay down nothing;
	// the engine must be running, and running in the capture direction.
	eng := d.engine
	ctrl.SetRecordGuard(func() error {
		if eng.State() != engine.StateRunning {
			return errors.NewInvalidSequenceError("record requires a running stream")
		}
		if eng.Direction() != engine.DirectionCapture {
			return errors.NewInvalidSequenceError("record requires a capture-direction stream")
		}
		return nil
	})
	ctrl.StartPolling()

	d.deckPort = port
	d.deckCtrl = ctrl
	d.logger.Info("Deck control engaged")
	return ctrl, nil
}

// Deck returns the engaged deck controller, or nil.
func (d *Device) Deck() *deck.Controller {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deckCtrl
}

// DisengageDeckControl releases the deck and closes the RS-422 port.
func (d *Device) DisengageDeckControl() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disengageDeckLocked()
}

func (d *Device) disengageDeckLocked() error {
	if d.deckCtrl == nil {
		return nil
	}
	d.deckCtrl.Close()
	err := d.deckPort.Close()
	d.deckCtrl = nil
	d.deckPort = nil
	d.logger.Info("Deck control disengaged")
	return err
}

// Close stops streaming, releases the deck and shuts the frame pool.
// Every later call on the device fails with a closed-device error.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	if err := d.engine.Stop(); err != nil {
		d.logger.WithError(err).Warn("Engine stop during close failed")
	}
	derr := d.disengageDeckLocked()
	d.pool.Close()

	d.logger.Info("Device closed")
	return derr
}
