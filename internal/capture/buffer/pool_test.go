package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/slate/internal/capture/metadata"
	"github.com/zsiec/slate/internal/capture/timecode"
	"github.com/zsiec/slate/internal/errors"
	"github.com/zsiec/slate/internal/logger"
)

func newTestPool(t *testing.T, depth int) *Pool {
	t.Helper()
	return NewPool(depth, 1024, logger.NewNullLogger())
}

func TestPoolAcquireRelease(t *testing.T) {
	pool := newTestPool(t, 4)
	assert.Equal(t, 4, pool.Depth())
	assert.Equal(t, 4, pool.FreeSlots())

	buf, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateInFlight, buf.State())
	assert.Equal(t, 3, pool.FreeSlots())

	buf.MarkDelivered()
	assert.Equal(t, StateDelivered, buf.State())

	buf.Release()
	assert.Equal(t, StateFree, buf.State())
	assert.Equal(t, 4, pool.FreeSlots())
}

func TestTryAcquireExhaustion(t *testing.T) {
	pool := newTestPool(t, 2)

	a, ok := pool.TryAcquire()
	require.True(t, ok)
	b, ok := pool.TryAcquire()
	require.True(t, ok)

	_, ok = pool.TryAcquire()
	assert.False(t, ok, "third acquire from a depth-2 pool must fail")
	assert.Equal(t, uint64(1), pool.Stats().Exhaustions)

	a.Release()
	b.Release()
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	pool := newTestPool(t, 1)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan *FrameBuffer)
	go func() {
		b, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		done <- b
	}()

	select {
	case <-done:
		t.Fatal("acquire returned while the only slot was held")
	case <-time.After(20 * time.Millisecond):
	}

	held.MarkDelivered()
	held.Release()

	select {
	case b := <-done:
		b.Release()
	case <-time.After(time.Second):
		t.Fatal("acquire did not observe the released slot")
	}
}

func TestAcquireTimeout(t *testing.T) {
	pool := newTestPool(t, 1)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePoolExhausted))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNoDoubleOwnership(t *testing.T) {
	// For any interleaving of acquire/release, a slot handed out is never
	// handed out again before release.
	pool := newTestPool(t, 4)
	held := make(map[int]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				buf, ok := pool.TryAcquire()
				if !ok {
					continue
				}

				mu.Lock()
				require.False(t, held[buf.Slot()], "slot %d handed out twice", buf.Slot())
				held[buf.Slot()] = true
				mu.Unlock()

				buf.MarkDelivered()

				mu.Lock()
				held[buf.Slot()] = false
				mu.Unlock()
				buf.Release()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, pool.FreeSlots())
}

func TestMetadataRoundTrip(t *testing.T) {
	pool := newTestPool(t, 2)
	buf, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	m := metadata.FrameMetadata{
		Timecode:        timecode.Timecode{Hours: 1, Minutes: 2, Seconds: 3, Frames: 4},
		StreamTimestamp: 3003,
		TimeScale:       30000,
		Sequence:        7,
		Flags:           metadata.FlagVITCPresent,
	}
	buf.AttachMetadata(m)
	require.NoError(t, buf.SetPayload([]byte{0xDE, 0xAD}))

	buf.MarkDelivered()

	// Consumer reads back exactly what was attached
	assert.Equal(t, m, buf.Metadata())
	assert.Equal(t, []byte{0xDE, 0xAD}, buf.Payload())

	buf.Release()
	assert.Equal(t, metadata.FrameMetadata{}, buf.Metadata(), "release wipes metadata")
	assert.Empty(t, buf.Payload())
}

func TestSetPayloadTooLarge(t *testing.T) {
	pool := NewPool(2, 8, logger.NewNullLogger())
	buf, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer buf.Release()

	err = buf.SetPayload(make([]byte, 9))
	assert.Error(t, err)
}

func TestContractViolationsPanic(t *testing.T) {
	pool := newTestPool(t, 2)

	buf, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	buf.MarkDelivered()

	assert.Panics(t, func() { buf.MarkDelivered() }, "delivered twice")
	buf.Release()
	assert.Panics(t, func() { buf.Release() }, "double release")
	assert.Panics(t, func() { buf.AttachMetadata(metadata.FrameMetadata{}) }, "attach while free")
}

func TestDropPathInFlightRelease(t *testing.T) {
	// The engine may return an undelivered in-flight buffer straight to
	// the pool when it drops a frame.
	pool := newTestPool(t, 2)

	buf, ok := pool.TryAcquire()
	require.True(t, ok)
	assert.Equal(t, StateInFlight, buf.State())

	buf.Release()
	assert.Equal(t, StateFree, buf.State())
	assert.Equal(t, 2, pool.FreeSlots())
}

func TestClosedPool(t *testing.T) {
	pool := newTestPool(t, 2)

	buf, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	pool.Close()

	_, err = pool.Acquire(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypePoolExhausted))

	_, ok := pool.TryAcquire()
	assert.False(t, ok)

	// Outstanding buffer can still be released after close
	buf.MarkDelivered()
	buf.Release()
}
