package deck

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/slate/internal/capture/hal/sim"
	"github.com/zsiec/slate/internal/capture/timecode"
	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
)

func testDeckConfig() config.DeckConfig {
	return config.DeckConfig{
		CommandTimeout:  50 * time.Millisecond,
		MaxRetries:      3,
		StatusPollHz:    100,
		LockWaitTimeout: time.Second,
	}
}

func newTestController(t *testing.T) (*Controller, *sim.Device) {
	t.Helper()
	dev := sim.New()
	port, err := dev.OpenDeckPort()
	require.NoError(t, err)
	return NewController(testDeckConfig(), port, logger.NewNullLogger()), dev
}

func TestControllerConnect(t *testing.T) {
	ctrl, _ := newTestController(t)

	assert.Equal(t, ModeDisconnected, ctrl.Mode())
	require.NoError(t, ctrl.Connect(context.Background()))
	assert.Equal(t, ModeIdle, ctrl.Mode())
}

func TestControllerCommandsBeforeConnect(t *testing.T) {
	ctrl, _ := newTestController(t)

	err := ctrl.Play(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDeckUnresponsive))
}

func TestControllerTransportModes(t *testing.T) {
	ctrl, dev := newTestController(t)
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))

	tests := []struct {
		name string
		cmd  func() error
		mode Mode
		sim  string
	}{
		{"play", func() error { return ctrl.Play(ctx) }, ModePlaying, "play"},
		{"record", func() error { return ctrl.Record(ctx) }, ModeRecording, "record"},
		{"fastforward", func() error { return ctrl.FastForward(ctx) }, ModeFastForwarding, "fastfwd"},
		{"rewind", func() error { return ctrl.Rewind(ctx) }, ModeRewinding, "rewind"},
		{"shuttle", func() error { return ctrl.Shuttle(ctx, 2.0) }, ModeShuttling, "shuttle"},
		{"jog", func() error { return ctrl.Jog(ctx, -1) }, ModeJogging, "jog"},
		{"stop", func() error { return ctrl.Stop(ctx) }, ModeIdle, "stop"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.cmd())
			assert.Equal(t, tt.mode, ctrl.Mode())
			assert.Equal(t, tt.sim, dev.Deck().TransportMode())
		})
	}
}

func TestControllerRecordGuard(t *testing.T) {
	ctrl, _ := newTestController(t)
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))

	ctrl.SetRecordGuard(func() error {
		return errors.NewInvalidSequenceError("no stream running")
	})

	err := ctrl.Record(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidSequence))
	assert.Equal(t, ModeIdle, ctrl.Mode())

	ctrl.SetRecordGuard(nil)
	require.NoError(t, ctrl.Record(ctx))
	assert.Equal(t, ModeRecording, ctrl.Mode())
}

func TestControllerTimecode(t *testing.T) {
	ctrl, dev := newTestController(t)
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))

	dev.Deck().SetTimecode(timecode.Timecode{Hours: 1, Minutes: 23, Seconds: 45, Frames: 12})
	require.NoError(t, ctrl.Play(ctx))

	pos, err := ctrl.Timecode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "01:23:45:12", pos.Timecode.String())
	assert.True(t, pos.Locked)

	dev.Deck().Advance(30)
	pos, err = ctrl.Timecode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "01:23:46:12", pos.Timecode.String())
}

func TestControllerUnlockedTimecodeIsHint(t *testing.T) {
	ctrl, dev := newTestController(t)
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))

	// Shuttling transport: timecode readable but servo not locked.
	require.NoError(t, ctrl.Shuttle(ctx, 8.0))
	dev.Deck().SetTimecode(timecode.Timecode{Hours: 2})

	pos, err := ctrl.Timecode(ctx)
	require.NoError(t, err)
	assert.False(t, pos.Locked)
	assert.Equal(t, "02:00:00:00", pos.Timecode.String())
}

func TestControllerNakRefusal(t *testing.T) {
	ctrl, dev := newTestController(t)
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))

	dev.Deck().SetCassetteOut(true)
	err := ctrl.Play(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidSequence))
	assert.Equal(t, ModeIdle, ctrl.Mode())
}

func TestControllerUnresponsiveDeck(t *testing.T) {
	ctrl, dev := newTestController(t)
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))

	dev.Deck().SetUnresponsive(true)

	start := time.Now()
	err := ctrl.Play(ctx)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDeckUnresponsive))
	assert.Equal(t, ModeDisconnected, ctrl.Mode())

	// Three attempts at 50ms each.
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)

	// Stays down until reconnected.
	err = ctrl.Stop(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDeckUnresponsive))

	dev.Deck().SetUnresponsive(false)
	require.NoError(t, ctrl.Connect(ctx))
	require.NoError(t, ctrl.Play(ctx))
}

func TestControllerWaitForLock(t *testing.T) {
	ctrl, dev := newTestController(t)
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))

	require.NoError(t, ctrl.Play(ctx))
	dev.Deck().SetServoLock(false)

	go func() {
		time.Sleep(50 * time.Millisecond)
		dev.Deck().SetServoLock(true)
	}()

	require.NoError(t, ctrl.WaitForLock(ctx))
}

func TestControllerWaitForLockTimeout(t *testing.T) {
	ctrl, dev := newTestController(t)
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))

	cfg := testDeckConfig()
	cfg.LockWaitTimeout = 100 * time.Millisecond
	port, err := dev.OpenDeckPort()
	require.NoError(t, err)
	ctrl = NewController(cfg, port, logger.NewNullLogger())
	require.NoError(t, ctrl.Connect(ctx))
	dev.Deck().SetServoLock(false)

	err = ctrl.WaitForLock(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDeckUnresponsive))
}

func TestControllerPolling(t *testing.T) {
	ctrl, dev := newTestController(t)
	ctx := context.Background()
	require.NoError(t, ctrl.Connect(ctx))

	dev.Deck().SetTimecode(timecode.Timecode{Hours: 3})
	require.NoError(t, ctrl.Play(ctx))

	ctrl.StartPolling()
	defer ctrl.StopPolling()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if ctrl.Position().Timecode.Hours == 3 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("poll loop never observed the tape position")
}

func TestControllerPollingStartStopCycles(t *testing.T) {
	ctrl, _ := newTestController(t)
	require.NoError(t, ctrl.Connect(context.Background()))

	// Stopping immediately after starting must let the just-launched
	// loop close its own done channel, even when StopPolling clears the
	// controller fields before the goroutine runs.
	for i := 0; i < 200; i++ {
		ctrl.StartPolling()
		ctrl.StopPolling()
	}
}
