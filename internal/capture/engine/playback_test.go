package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/slate/internal/capture/buffer"
	"github.com/zsiec/slate/internal/capture/format"
	"github.com/zsiec/slate/internal/capture/hal/sim"
	"github.com/zsiec/slate/internal/capture/metadata"
	"github.com/zsiec/slate/internal/capture/timecode"
	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
)

func newPlaybackEngine(t *testing.T, cfg config.EngineConfig) (*Engine, *sim.Device, *buffer.Pool) {
	t.Helper()

	dev := sim.New(sim.WithPayloadBytes(testPayload))
	pool := buffer.NewPool(8, testPayload, logger.NewNullLogger())
	eng := New(cfg, pool, logger.NewNullLogger())

	sink, err := dev.OpenPlayback(testMode(), testAudio())
	require.NoError(t, err)

	tcset := format.TimecodeSetting{Standard: timecode.StandardRP188}
	require.NoError(t, eng.ConfigurePlayback(testMode(), testAudio(), tcset, sink))
	return eng, dev, pool
}

func fillFrame(t *testing.T, pool *buffer.Pool, tc timecode.Timecode, fill byte) *buffer.FrameBuffer {
	t.Helper()
	buf, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	payload := make([]byte, testPayload)
	for i := range payload {
		payload[i] = fill
	}
	require.NoError(t, buf.SetPayload(payload))
	buf.AttachMetadata(metadata.FrameMetadata{
		Timecode:  tc,
		TimeScale: int64(testMode().Rate.Num),
	})
	return buf
}

func TestPlaybackDeliversScheduledFrames(t *testing.T) {
	eng, dev, pool := newPlaybackEngine(t, testEngineConfig())

	base := testMode().Rate.Base()
	tc := timecode.Timecode{Hours: 10}
	require.NoError(t, eng.Schedule(fillFrame(t, pool, tc, 0xAA)))
	require.NoError(t, eng.Schedule(fillFrame(t, pool, tc.Next(base), 0xBB)))

	require.NoError(t, eng.Start())

	f, ok := dev.TickPlayback()
	require.True(t, ok)
	require.NotNil(t, f)
	assert.Equal(t, byte(0xAA), f.Payload[0])
	require.NotNil(t, f.Timecode)
	assert.Equal(t, "10:00:00:00", f.Timecode.String())

	f, ok = dev.TickPlayback()
	require.True(t, ok)
	require.NotNil(t, f)
	assert.Equal(t, byte(0xBB), f.Payload[0])

	assert.Equal(t, uint64(2), eng.Stats().Played)
}

func TestPlaybackRecyclesEmittedFrames(t *testing.T) {
	eng, dev, pool := newPlaybackEngine(t, testEngineConfig())

	base := testMode().Rate.Base()
	tc := timecode.Timecode{Hours: 10}
	require.NoError(t, eng.Schedule(fillFrame(t, pool, tc, 1)))
	require.NoError(t, eng.Schedule(fillFrame(t, pool, tc.Next(base), 2)))
	require.NoError(t, eng.Start())

	free := pool.FreeSlots()
	dev.TickPlayback() // frame 1 held until the next deadline
	assert.Equal(t, free, pool.FreeSlots())

	dev.TickPlayback() // taking frame 2 recycles frame 1
	assert.Equal(t, free+1, pool.FreeSlots())
}

func TestPlaybackRejectsNonMonotonicSchedule(t *testing.T) {
	eng, _, pool := newPlaybackEngine(t, testEngineConfig())

	tc := timecode.Timecode{Hours: 10, Seconds: 1}
	require.NoError(t, eng.Schedule(fillFrame(t, pool, tc, 1)))

	// Same timecode again: rejected, caller still owns the buffer.
	stale := fillFrame(t, pool, tc, 2)
	err := eng.Schedule(stale)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfOrder))
	stale.Release()

	// Earlier timecode: also rejected.
	earlier := fillFrame(t, pool, timecode.Timecode{Hours: 9}, 3)
	err = eng.Schedule(earlier)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfOrder))
	earlier.Release()
}

func TestPlaybackScheduleQueueFull(t *testing.T) {
	cfg := testEngineConfig()
	cfg.ScheduleDepth = 2
	eng, _, pool := newPlaybackEngine(t, cfg)

	base := testMode().Rate.Base()
	tc := timecode.Timecode{Hours: 10}
	require.NoError(t, eng.Schedule(fillFrame(t, pool, tc, 1)))
	tc = tc.Next(base)
	require.NoError(t, eng.Schedule(fillFrame(t, pool, tc, 2)))

	tc = tc.Next(base)
	overflow := fillFrame(t, pool, tc, 3)
	err := eng.Schedule(overflow)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePoolExhausted))
	overflow.Release()
}

func TestPlaybackStarvationEmitsBlack(t *testing.T) {
	eng, dev, _ := newPlaybackEngine(t, testEngineConfig())
	require.NoError(t, eng.Start())

	f, ok := dev.TickPlayback()
	require.True(t, ok)
	assert.Nil(t, f)

	ev := waitForEvent(t, eng, EventFrameDropped)
	assert.Contains(t, ev.Message, "starved")
}

func TestPlaybackScheduleOnCaptureEngine(t *testing.T) {
	eng, _, pool := newPlaybackEngine(t, testEngineConfig())
	_ = eng

	capEng, _, _ := newCaptureEngine(t, 4, testEngineConfig())
	buf := fillFrame(t, pool, timecode.Timecode{Hours: 1}, 1)
	err := capEng.Schedule(buf)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidSequence))
	buf.Release()
}

func TestPlaybackScheduleRacingStopStrandsNothing(t *testing.T) {
	dev := sim.New(sim.WithPayloadBytes(testPayload))
	pool := buffer.NewPool(8, testPayload, logger.NewNullLogger())
	eng := New(testEngineConfig(), pool, logger.NewNullLogger())

	tcset := format.TimecodeSetting{Standard: timecode.StandardRP188}
	base := testMode().Rate.Base()

	for i := 0; i < 50; i++ {
		sink, err := dev.OpenPlayback(testMode(), testAudio())
		require.NoError(t, err)
		require.NoError(t, eng.ConfigurePlayback(testMode(), testAudio(), tcset, sink))
		require.NoError(t, eng.Start())

		done := make(chan struct{})
		go func() {
			defer close(done)
			tc := timecode.Timecode{Hours: 10}
			for {
				buf, ok := pool.TryAcquire()
				if !ok {
					return
				}
				buf.AttachMetadata(metadata.FrameMetadata{Timecode: tc})
				if eng.Schedule(buf) != nil {
					buf.Release()
					return
				}
				tc = tc.Next(base)
			}
		}()

		require.NoError(t, eng.Stop())
		<-done

		// A schedule racing the teardown is either drained by Stop or
		// refused with the caller keeping ownership; either way every
		// slot is back in the pool before the next run.
		require.Equal(t, 8, pool.FreeSlots())
	}
}

func TestPlaybackStopReleasesHeldFrame(t *testing.T) {
	eng, dev, pool := newPlaybackEngine(t, testEngineConfig())

	require.NoError(t, eng.Schedule(fillFrame(t, pool, timecode.Timecode{Hours: 10}, 1)))
	require.NoError(t, eng.Start())

	dev.TickPlayback()
	require.NoError(t, eng.Stop())

	assert.Equal(t, 8, pool.FreeSlots())
}
