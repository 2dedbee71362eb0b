package sliceplayer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopline-audio/loopline/pkg/frame"
)

func renderBuffer(t *testing.T, frames int) *frame.Buffer {
	t.Helper()
	buf, err := frame.NewBuffer(testFormat, frames)
	require.NoError(t, err)
	return buf
}

func requireConstant(t *testing.T, samples []float32, value float32) {
	t.Helper()
	for i, sample := range samples {
		require.Equal(t, value, sample, "sample %d", i)
	}
}

func schedule(t *testing.T, player *Player, pool *Pool, buf *frame.Buffer, startTime int64) *Slice {
	t.Helper()
	s, err := pool.Acquire()
	require.NoError(t, err)
	require.NoError(t, s.Configure(buf, startTime, pool))
	require.NoError(t, player.Schedule(s))
	return s
}

func TestRenderSilentWithoutSlices(t *testing.T) {
	player := NewPlayer(testFormat, 4)
	dst := renderBuffer(t, 64)

	player.Render(0, 64, dst)
	require.Equal(t, 64, dst.Len())
	requireConstant(t, dst.Channel(0), 0)
}

func TestRenderStartsSliceAtScheduledTime(t *testing.T) {
	pool := NewPool(4)
	player := NewPlayer(testFormat, 4)
	dst := renderBuffer(t, 64)

	schedule(t, player, pool, clipBuffer(t, 100, 0.5), 200)

	// Before the start time nothing is emitted and the slice stays active.
	player.Render(100, 64, dst)
	requireConstant(t, dst.Channel(0), 0)
	assert.Equal(t, 3, pool.Available())

	// First callback covering the start time emits the head of the clip.
	player.Render(200, 64, dst)
	requireConstant(t, dst.Channel(0), 0.5)

	// The tail: 36 remaining frames, then silence, then completion.
	player.Render(264, 64, dst)
	samples := dst.Channel(0)
	requireConstant(t, samples[:36], 0.5)
	requireConstant(t, samples[36:], 0)
	assert.Equal(t, 4, pool.Available())
}

func TestRenderStartsSliceMidCallback(t *testing.T) {
	pool := NewPool(4)
	player := NewPlayer(testFormat, 4)
	dst := renderBuffer(t, 64)

	schedule(t, player, pool, clipBuffer(t, 200, 0.5), 232)

	player.Render(200, 64, dst)
	samples := dst.Channel(0)
	requireConstant(t, samples[:32], 0)
	requireConstant(t, samples[32:], 0.5)
}

func TestRenderAnchorsASAPToCurrentCallback(t *testing.T) {
	pool := NewPool(4)
	player := NewPlayer(testFormat, 4)
	dst := renderBuffer(t, 64)

	schedule(t, player, pool, clipBuffer(t, 64, 0.25), TimeASAP)

	player.Render(5000, 64, dst)
	requireConstant(t, dst.Channel(0), 0.25)
	assert.Equal(t, 4, pool.Available(), "exactly one callback long, completes immediately")
}

func TestRenderMixesOverlappingSlices(t *testing.T) {
	pool := NewPool(4)
	player := NewPlayer(testFormat, 4)
	dst := renderBuffer(t, 64)

	schedule(t, player, pool, clipBuffer(t, 128, 0.25), 0)
	schedule(t, player, pool, clipBuffer(t, 128, 0.5), 32)

	player.Render(0, 64, dst)
	samples := dst.Channel(0)
	requireConstant(t, samples[:32], 0.25)
	requireConstant(t, samples[32:], 0.75)
}

func TestRenderSkipsFramesAfterClockJump(t *testing.T) {
	pool := NewPool(4)
	player := NewPlayer(testFormat, 4)
	dst := renderBuffer(t, 64)

	schedule(t, player, pool, clipBuffer(t, 256, 0.5), 0)
	player.Render(0, 64, dst)

	// The clock jumps forward; the skipped span is dropped, not replayed.
	player.Render(192, 64, dst)
	requireConstant(t, dst.Channel(0), 0.5)
	assert.Equal(t, 4, pool.Available())
}

func TestRenderSpreadsMonoClipAcrossStereoOutput(t *testing.T) {
	stereo := frame.Format{SampleRate: 48000, NumChannels: 2}
	pool := NewPool(4)
	player := NewPlayer(stereo, 4)
	dst, err := frame.NewBuffer(stereo, 64)
	require.NoError(t, err)

	schedule(t, player, pool, clipBuffer(t, 64, 0.5), 0)

	player.Render(0, 64, dst)
	requireConstant(t, dst.Channel(0), 0.5)
	requireConstant(t, dst.Channel(1), 0.5)
}

func TestScheduleFailsWhenMailboxFull(t *testing.T) {
	pool := NewPool(2)
	player := NewPlayer(testFormat, 1)

	schedule(t, player, pool, clipBuffer(t, 10, 0.5), 0)

	s, err := pool.Acquire()
	require.NoError(t, err)
	require.NoError(t, s.Configure(clipBuffer(t, 10, 0.5), 0, pool))
	assert.Error(t, player.Schedule(s))
}

func TestResetCompletesPendingAndActiveSlices(t *testing.T) {
	pool := NewPool(4)
	player := NewPlayer(testFormat, 4)
	dst := renderBuffer(t, 64)

	// One slice moved to the active list, one still in the mailbox.
	schedule(t, player, pool, clipBuffer(t, 1000, 0.5), 0)
	player.Render(0, 64, dst)
	schedule(t, player, pool, clipBuffer(t, 1000, 0.5), 0)
	require.Equal(t, 2, pool.Available())

	player.Reset()
	assert.Equal(t, 4, pool.Available())

	// Nothing left to play.
	player.Render(64, 64, dst)
	requireConstant(t, dst.Channel(0), 0)
}
