package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/slate/internal/capture/engine"
	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/hal"
	"github.com/zsiec/slate/internal/capture/hal/sim"
	"github.com/zsiec/slate/internal/capture/metadata"
	"github.com/zsiec/slate/internal/capture/timecode"
	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
)

const testPayload = 4096

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		Pool: config.PoolConfig{
			Depth:          4,
			PayloadSize:    testPayload,
			AcquireTimeout: 100 * time.Millisecond,
		},
		Engine: config.EngineConfig{
			DropPolicy:       "drop_oldest",
			OutOfOrderPolicy: "drop",
			DeliveryDepth:    8,
			EventDepth:       16,
			ScheduleDepth:    8,
		},
	}
}

func testDeckConfig() config.DeckConfig {
	return config.DeckConfig{
		CommandTimeout:  50 * time.Millisecond,
		MaxRetries:      3,
		StatusPollHz:    100,
		LockWaitTimeout: time.Second,
	}
}

func testTimecodeSetting() format.TimecodeSetting {
	return format.TimecodeSetting{
		Standard: timecode.StandardRP188,
		Start:    timecode.Timecode{Hours: 1},
	}
}

func openTestDevice(t *testing.T, opts ...sim.Option) (*Device, *sim.Device) {
	t.Helper()
	opts = append([]sim.Option{sim.WithPayloadBytes(testPayload)}, opts...)
	hw := sim.New(opts...)
	dev, err := Open(hw, testCaptureConfig(), testDeckConfig(), logger.NewNullLogger())
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev, hw
}

func TestDeviceAttributes(t *testing.T) {
	dev, hw := openTestDevice(t)
	assert.Equal(t, hw.Info().ID, dev.Attributes().ID())
	assert.True(t, dev.Attributes().Supports(hal.CapDeckControl))
}

func TestDeviceCaptureRoundTrip(t *testing.T) {
	dev, hw := openTestDevice(t)

	require.NoError(t, dev.ConfigureCapture(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting()))
	require.NoError(t, dev.Start())
	assert.True(t, dev.Running())

	require.True(t, hw.TickFrame())
	buf := <-dev.Frames()
	assert.Equal(t, "01:00:00:00", buf.Metadata().Timecode.String())
	buf.Release()

	require.NoError(t, dev.Stop())
	assert.False(t, dev.Running())
}

func TestDeviceRestartAfterStop(t *testing.T) {
	dev, hw := openTestDevice(t)

	require.NoError(t, dev.ConfigureCapture(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting()))
	require.NoError(t, dev.Start())
	require.True(t, hw.TickFrame())
	(<-dev.Frames()).Release()
	require.NoError(t, dev.Stop())

	// No reconfiguration needed; the negotiated modes are retained.
	require.NoError(t, dev.Start())
	require.True(t, hw.TickFrame())
	buf := <-dev.Frames()
	buf.Release()
	require.NoError(t, dev.Stop())
}

func TestDeviceStartUnconfigured(t *testing.T) {
	dev, _ := openTestDevice(t)

	err := dev.Start()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidSequence))
}

func TestDeviceDoubleStart(t *testing.T) {
	dev, _ := openTestDevice(t)
	require.NoError(t, dev.ConfigureCapture(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting()))
	require.NoError(t, dev.Start())

	err := dev.Start()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidSequence))
}

func TestDeviceReconfigureWhileRunning(t *testing.T) {
	dev, _ := openTestDevice(t)
	require.NoError(t, dev.ConfigureCapture(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting()))
	require.NoError(t, dev.Start())

	err := dev.ConfigureCapture(sim.DefaultVideoModes[1], sim.DefaultAudioModes[0], testTimecodeSetting())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidSequence))
}

func TestDeviceUnsupportedFormat(t *testing.T) {
	dev, _ := openTestDevice(t)

	exotic := format.VideoSetting{
		Width: 8192, Height: 4320, Rate: format.Rate60,
		PixelFormat: format.PixelFormat12BitRGB,
	}
	err := dev.ConfigureCapture(exotic, sim.DefaultAudioModes[0], testTimecodeSetting())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedFormat))
}

func TestDeviceCaptureCapabilityRequired(t *testing.T) {
	hw := sim.New(sim.WithCapabilities(hal.CapPlayback))
	dev, err := Open(hw, testCaptureConfig(), testDeckConfig(), logger.NewNullLogger())
	require.NoError(t, err)
	defer dev.Close()

	err = dev.ConfigureCapture(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedFormat))
}

func TestDevicePlaybackRoundTrip(t *testing.T) {
	dev, hw := openTestDevice(t)

	require.NoError(t, dev.ConfigurePlayback(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting()))

	buf, err := dev.AcquireFrame(context.Background())
	require.NoError(t, err)
	payload := make([]byte, testPayload)
	payload[0] = 0x42
	require.NoError(t, buf.SetPayload(payload))
	buf.AttachMetadata(metadata.FrameMetadata{Timecode: timecode.Timecode{Hours: 10}})
	require.NoError(t, dev.Schedule(buf))

	require.NoError(t, dev.Start())
	f, ok := hw.TickPlayback()
	require.True(t, ok)
	require.NotNil(t, f)
	assert.Equal(t, byte(0x42), f.Payload[0])
}

func TestDeviceDeckControl(t *testing.T) {
	dev, hw := openTestDevice(t)
	ctx := context.Background()

	ctrl, err := dev.EngageDeckControl(ctx)
	require.NoError(t, err)
	require.NotNil(t, ctrl)

	// Engaging twice yields the same controller.
	again, err := dev.EngageDeckControl(ctx)
	require.NoError(t, err)
	assert.Same(t, ctrl, again)

	require.NoError(t, ctrl.Play(ctx))
	assert.Equal(t, "play", hw.Deck().TransportMode())

	require.NoError(t, dev.DisengageDeckControl())
	assert.Nil(t, dev.Deck())
}

func TestDeviceRecordRequiresRunningStream(t *testing.T) {
	dev, hw := openTestDevice(t)
	ctx := context.Background()

	require.NoError(t, dev.ConfigureCapture(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting()))
	ctrl, err := dev.EngageDeckControl(ctx)
	require.NoError(t, err)

	// No frames flowing: record refused.
	err = ctrl.Record(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidSequence))

	require.NoError(t, dev.Start())
	require.NoError(t, ctrl.Record(ctx))
	assert.Equal(t, "record", hw.Deck().TransportMode())
}

func TestDeviceRecordRequiresCaptureDirection(t *testing.T) {
	dev, hw := openTestDevice(t)
	ctx := context.Background()

	// A playback stream has nothing to lay down on tape.
	require.NoError(t, dev.ConfigurePlayback(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting()))
	require.NoError(t, dev.Start())

	ctrl, err := dev.EngageDeckControl(ctx)
	require.NoError(t, err)

	err = ctrl.Record(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidSequence))
	assert.NotEqual(t, "record", hw.Deck().TransportMode())
}

func TestDeviceDeckCapabilityRequired(t *testing.T) {
	hw := sim.New(sim.WithCapabilities(hal.CapCapture))
	dev, err := Open(hw, testCaptureConfig(), testDeckConfig(), logger.NewNullLogger())
	require.NoError(t, err)
	defer dev.Close()

	_, err = dev.EngageDeckControl(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedFormat))
}

func TestDeviceClose(t *testing.T) {
	dev, hw := openTestDevice(t)

	require.NoError(t, dev.ConfigureCapture(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting()))
	require.NoError(t, dev.Start())
	_, err := dev.EngageDeckControl(context.Background())
	require.NoError(t, err)

	require.NoError(t, dev.Close())
	require.NoError(t, dev.Close()) // idempotent

	assert.False(t, hw.TickFrame())

	err = dev.Start()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDeviceClosed))

	err = dev.ConfigureCapture(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDeviceClosed))

	_, err = dev.AcquireFrame(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDeviceClosed))
}

func TestDeviceSignalLossSurfacesEvent(t *testing.T) {
	dev, hw := openTestDevice(t)
	require.NoError(t, dev.ConfigureCapture(sim.DefaultVideoModes[0], sim.DefaultAudioModes[0], testTimecodeSetting()))
	require.NoError(t, dev.Start())

	hw.LoseSignal()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-dev.Events():
			if ev.Type == engine.EventSignalLost {
				return
			}
		case <-deadline:
			t.Fatal("no signal lost event")
		}
	}
}
