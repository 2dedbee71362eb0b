package sliceplayer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopline-audio/loopline/pkg/frame"
)

var testFormat = frame.Format{SampleRate: 48000, NumChannels: 1}

func clipBuffer(t *testing.T, frames int, value float32) *frame.Buffer {
	t.Helper()
	buf, err := frame.NewBuffer(testFormat, frames)
	require.NoError(t, err)
	buf.SetLen(frames)
	samples := buf.Channel(0)
	for i := range samples {
		samples[i] = value
	}
	return buf
}

func TestPoolAcquireExhaustion(t *testing.T) {
	pool := NewPool(4)
	assert.Equal(t, 4, pool.Available())

	acquired := make([]*Slice, 0, 4)
	for i := 0; i < 4; i++ {
		s, err := pool.Acquire()
		require.NoError(t, err)
		acquired = append(acquired, s)
	}
	assert.Equal(t, 0, pool.Available())

	_, err := pool.Acquire()
	assert.ErrorIs(t, err, ErrNoAvailableSlices)

	// Completing one descriptor makes the next acquire succeed again.
	pool.SliceComplete(acquired[1])
	assert.Equal(t, 1, pool.Available())

	s, err := pool.Acquire()
	require.NoError(t, err)
	assert.Same(t, acquired[1], s)
}

func TestSliceConfigureRequiresAcquire(t *testing.T) {
	pool := NewPool(1)
	buf := clipBuffer(t, 10, 0.5)

	s, err := pool.Acquire()
	require.NoError(t, err)
	require.NoError(t, s.Configure(buf, TimeASAP, pool))
	assert.Equal(t, TimeASAP, s.StartTime())
	assert.Equal(t, 10, s.FrameCount())

	pool.SliceComplete(s)
	assert.Error(t, s.Configure(buf, TimeASAP, pool), "available slices must not be configured")
}

func TestSliceConfigureRejectsNilBuffer(t *testing.T) {
	pool := NewPool(1)
	s, err := pool.Acquire()
	require.NoError(t, err)
	assert.Error(t, s.Configure(nil, TimeASAP, pool))
}

func TestSliceConfigureResetsPlaybackState(t *testing.T) {
	pool := NewPool(1)
	player := NewPlayer(testFormat, 1)
	dst, err := frame.NewBuffer(testFormat, 64)
	require.NoError(t, err)

	s, err := pool.Acquire()
	require.NoError(t, err)
	require.NoError(t, s.Configure(clipBuffer(t, 32, 1), 0, pool))
	require.NoError(t, player.Schedule(s))
	player.Render(0, 64, dst)
	require.Equal(t, 1, pool.Available())

	// The descriptor is reused; the previous playback position must not leak.
	s, err = pool.Acquire()
	require.NoError(t, err)
	require.NoError(t, s.Configure(clipBuffer(t, 32, 0.25), 0, pool))
	assert.Equal(t, 0, s.played)
	assert.Equal(t, 32, s.FrameCount())
}
