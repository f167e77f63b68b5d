// Package sim provides a software device implementing the hal interfaces.
// It synthesizes frames on demand (or on a free-running clock), answers
// RS-422 transactions against a simulated tape transport, and exposes
// fault injection for signal loss, format changes, and a dead deck. It is
// the hardware stand-in for tests and for running without a card.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/hal"
	"github.com/zsiec/slate/internal/capture/timecode"
)

// DefaultVideoModes is the mode list a simulated device advertises.
var DefaultVideoModes = []format.VideoSetting{
	{Name: "1080p29.97", Width: 1920, Height: 1080, Rate: format.Rate2997, PixelFormat: format.PixelFormat8BitYUV, FieldDominance: format.FieldProgressive},
	{Name: "1080p25", Width: 1920, Height: 1080, Rate: format.Rate25, PixelFormat: format.PixelFormat8BitYUV, FieldDominance: format.FieldProgressive},
	{Name: "1080i59.94", Width: 1920, Height: 1080, Rate: format.Rate2997, PixelFormat: format.PixelFormat8BitYUV, FieldDominance: format.FieldUpperFirst},
	{Name: "2160p25", Width: 3840, Height: 2160, Rate: format.Rate25, PixelFormat: format.PixelFormat10BitYUV, FieldDominance: format.FieldProgressive},
	{Name: "720p59.94", Width: 1280, Height: 720, Rate: format.Rate5994, PixelFormat: format.PixelFormat8BitYUV, FieldDominance: format.FieldProgressive},
}

// DefaultAudioModes is the audio mode list a simulated device advertises.
var DefaultAudioModes = []format.AudioSetting{
	{SampleRate: 48000, ChannelCount: 2, SampleType: format.SampleInt16},
	{SampleRate: 48000, ChannelCount: 8, SampleType: format.SampleInt32},
	{SampleRate: 48000, ChannelCount: 16, SampleType: format.SampleInt32},
}

// Option configures a simulated device.
type Option func(*Device)

// WithModelName overrides the advertised model name.
func WithModelName(name string) Option {
	return func(d *Device) { d.info.ModelName = name }
}

// WithCapabilities overrides the advertised capability flags.
func WithCapabilities(caps hal.Capability) Option {
	return func(d *Device) { d.info.Capabilities = caps }
}

// WithVideoModes overrides the advertised video modes.
func WithVideoModes(modes []format.VideoSetting) Option {
	return func(d *Device) { d.info.VideoModes = modes }
}

// WithPayloadBytes sets the synthesized frame payload size. The default
// is a small test pattern; real raster sizes are rarely useful in tests.
func WithPayloadBytes(n int) Option {
	return func(d *Device) { d.payloadBytes = n }
}

// WithFrameInterval enables a free-running frame clock with the given
// period. Without it frames are produced only by explicit TickFrame.
func WithFrameInterval(interval time.Duration) Option {
	return func(d *Device) { d.frameInterval = interval }
}

// WithSignalTimecode makes synthesized frames carry an embedded timecode
// starting at start, as a signal with VITC would.
func WithSignalTimecode(start timecode.Timecode) Option {
	return func(d *Device) {
		d.signalTC = &start
	}
}

// Device is a simulated capture/playback card with a tape deck attached.
type Device struct {
	info          hal.DeviceInfo
	payloadBytes  int
	frameInterval time.Duration
	signalTC      *timecode.Timecode

	mu       sync.Mutex
	capture  *captureSource
	playback *playbackSink
	deck     *deckPort
}

// New creates a simulated device.
func New(opts ...Option) *Device {
	d := &Device{
		info: hal.DeviceInfo{
			ID:           uuid.New().String(),
			ModelName:    "Slate Simulator 4K",
			Capabilities: hal.CapCapture | hal.CapPlayback | hal.CapDeckControl | hal.CapInputFormatDetection,
			VideoModes:   DefaultVideoModes,
			AudioModes:   DefaultAudioModes,
		},
		payloadBytes: 4096,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.info.DisplayName = fmt.Sprintf("%s (%s)", d.info.ModelName, d.info.ID[:8])
	return d
}

// Info implements hal.DeviceHandle.
func (d *Device) Info() hal.DeviceInfo { return d.info }

// OpenCapture implements hal.DeviceHandle.
func (d *Device) OpenCapture(video format.VideoSetting, audio format.AudioSetting) (hal.CaptureSource, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.info.Capabilities.Has(hal.CapCapture) {
		return nil, fmt.Errorf("device %s has no capture capability", d.info.ID)
	}
	if d.capture != nil {
		return nil, fmt.Errorf("capture stream already open on %s", d.info.ID)
	}
	d.capture = newCaptureSource(d, video, audio)
	return d.capture, nil
}

// OpenPlayback implements hal.DeviceHandle.
func (d *Device) OpenPlayback(video format.VideoSetting, audio format.AudioSetting) (hal.PlaybackSink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.info.Capabilities.Has(hal.CapPlayback) {
		return nil, fmt.Errorf("device %s has no playback capability", d.info.ID)
	}
	if d.playback != nil {
		return nil, fmt.Errorf("playback stream already open on %s", d.info.ID)
	}
	d.playback = newPlaybackSink(d, video, audio)
	return d.playback, nil
}

// OpenDeckPort implements hal.DeviceHandle.
func (d *Device) OpenDeckPort() (hal.DeckPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.info.Capabilities.Has(hal.CapDeckControl) {
		return nil, fmt.Errorf("device %s has no deck control capability", d.info.ID)
	}
	if d.deck == nil {
		d.deck = newDeckPort(d)
	}
	return d.deck, nil
}

// TickFrame drives one capture frame period by hand; the caller's
// goroutine plays the role of the hardware frame clock for this tick.
// Returns false if no capture stream is running.
func (d *Device) TickFrame() bool {
	d.mu.Lock()
	src := d.capture
	d.mu.Unlock()
	if src == nil {
		return false
	}
	return src.tick()
}

// SetSignalTimecode rewrites the timecode the signal will carry on the
// next frame. Lets tests inject discontinuities and stale timecodes.
func (d *Device) SetSignalTimecode(tc timecode.Timecode) {
	d.mu.Lock()
	src := d.capture
	d.mu.Unlock()
	if src != nil {
		src.clock.Lock()
		src.tc = &tc
		src.clock.Unlock()
	}
}

// LoseSignal reports input signal loss to a running capture stream.
func (d *Device) LoseSignal() {
	d.mu.Lock()
	src := d.capture
	d.mu.Unlock()
	if src != nil {
		src.loseSignal()
	}
}

// ChangeFormat reports an input mode switch to a running capture stream.
func (d *Device) ChangeFormat(detected format.VideoSetting) {
	d.mu.Lock()
	src := d.capture
	d.mu.Unlock()
	if src != nil {
		src.changeFormat(detected)
	}
}

// TickPlayback drives one output frame period by hand and returns the
// frame the callback supplied, or nil for a black period. Returns false
// if no playback stream is running.
func (d *Device) TickPlayback() (*hal.Frame, bool) {
	d.mu.Lock()
	sink := d.playback
	d.mu.Unlock()
	if sink == nil {
		return nil, false
	}
	return sink.tick()
}

// Deck returns the simulated transport for direct inspection and fault
// injection in tests. Opens the port as a side effect.
func (d *Device) Deck() *Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.deck == nil {
		d.deck = newDeckPort(d)
	}
	return &d.deck.transport
}

func (d *Device) closeCapture(src *captureSource) {
	d.mu.Lock()
	if d.capture == src {
		d.capture = nil
	}
	d.mu.Unlock()
}

func (d *Device) closePlayback(sink *playbackSink) {
	d.mu.Lock()
	if d.playback == sink {
		d.playback = nil
	}
	d.mu.Unlock()
}

type captureSource struct {
	dev   *Device
	video format.VideoSetting
	audio format.AudioSetting

	clock   sync.Mutex // held across every callback invocation
	cb      hal.CaptureCallback
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	seq     int64
	tc      *timecode.Timecode
	payload []byte
}

func newCaptureSource(d *Device, video format.VideoSetting, audio format.AudioSetting) *captureSource {
	src := &captureSource{
		dev:     d,
		video:   video,
		audio:   audio,
		payload: make([]byte, d.payloadBytes),
	}
	if d.signalTC != nil {
		tc := *d.signalTC
		src.tc = &tc
	}
	return src
}

// Start implements hal.CaptureSource.
func (s *captureSource) Start(cb hal.CaptureCallback) error {
	s.clock.Lock()
	defer s.clock.Unlock()
	if s.running {
		return fmt.Errorf("capture source already started")
	}
	s.cb = cb
	s.running = true
	s.stopCh = make(chan struct{})

	if s.dev.frameInterval > 0 {
		s.wg.Add(1)
		go s.freeRun(s.stopCh)
	}
	return nil
}

// Stop implements hal.CaptureSource. Holding the clock mutex here is what
// guarantees no callback is in flight when Stop returns.
func (s *captureSource) Stop() error {
	s.clock.Lock()
	if !s.running {
		s.clock.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.clock.Unlock()

	s.wg.Wait()
	s.dev.closeCapture(s)
	return nil
}

func (s *captureSource) freeRun(stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.dev.frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *captureSource) tick() bool {
	s.clock.Lock()
	defer s.clock.Unlock()
	if !s.running {
		return false
	}

	s.fillPattern()
	f := hal.Frame{
		Payload:    s.payload,
		StreamTime: s.seq * int64(s.video.Rate.Den),
		TimeScale:  int64(s.video.Rate.Num),
	}
	if s.tc != nil {
		tc := *s.tc
		f.Timecode = &tc
	}

	s.cb.FrameArrived(f)

	s.seq++
	if s.tc != nil {
		next := s.tc.Next(s.video.Rate.Base())
		s.tc = &next
	}
	return true
}

// fillPattern writes a deterministic byte pattern keyed on the sequence
// number so tests can verify payload integrity end to end.
func (s *captureSource) fillPattern() {
	b := byte(s.seq)
	for i := range s.payload {
		s.payload[i] = b + byte(i)
	}
}

func (s *captureSource) loseSignal() {
	s.clock.Lock()
	defer s.clock.Unlock()
	if s.running {
		s.cb.SignalLost()
	}
}

func (s *captureSource) changeFormat(detected format.VideoSetting) {
	s.clock.Lock()
	defer s.clock.Unlock()
	if s.running {
		s.cb.FormatChanged(detected)
	}
}

type playbackSink struct {
	dev   *Device
	video format.VideoSetting
	audio format.AudioSetting

	clock   sync.Mutex
	cb      hal.PlaybackCallback
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	seq     int64
}

func newPlaybackSink(d *Device, video format.VideoSetting, audio format.AudioSetting) *playbackSink {
	return &playbackSink{dev: d, video: video, audio: audio}
}

// Start implements hal.PlaybackSink.
func (s *playbackSink) Start(cb hal.PlaybackCallback) error {
	s.clock.Lock()
	defer s.clock.Unlock()
	if s.running {
		return fmt.Errorf("playback sink already started")
	}
	s.cb = cb
	s.running = true
	s.stopCh = make(chan struct{})

	if s.dev.frameInterval > 0 {
		s.wg.Add(1)
		go s.freeRun(s.stopCh)
	}
	return nil
}

// Stop implements hal.PlaybackSink.
func (s *playbackSink) Stop() error {
	s.clock.Lock()
	if !s.running {
		s.clock.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.clock.Unlock()

	s.wg.Wait()
	s.dev.closePlayback(s)
	return nil
}

func (s *playbackSink) freeRun(stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.dev.frameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *playbackSink) tick() (*hal.Frame, bool) {
	s.clock.Lock()
	defer s.clock.Unlock()
	if !s.running {
		return nil, false
	}
	s.seq++
	return s.cb.NextFrame(), true
}

var _ hal.DeviceHandle = (*Device)(nil)
var _ hal.CaptureSource = (*captureSource)(nil)
var _ hal.PlaybackSink = (*playbackSink)(nil)
