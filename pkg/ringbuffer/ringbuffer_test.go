package ringbuffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopline-audio/loopline/pkg/frame"
)

var monoFormat = frame.Format{SampleRate: 48000, NumChannels: 1}

// rampBuffer returns a buffer whose samples encode their own absolute
// sample-time, so reads can be validated against the position they claim.
func rampBuffer(t *testing.T, format frame.Format, frames int, sampleTime int64) *frame.Buffer {
	t.Helper()
	buf, err := frame.NewBuffer(format, frames)
	require.NoError(t, err)
	buf.SetLen(frames)
	for ch := 0; ch < format.NumChannels; ch++ {
		samples := buf.Channel(ch)
		for i := range samples {
			samples[i] = rampSample(sampleTime+int64(i), ch)
		}
	}
	return buf
}

func rampSample(sampleTime int64, ch int) float32 {
	return float32(sampleTime%100000) + float32(ch)/10
}

func requireRamp(t *testing.T, buf *frame.Buffer, frames int, sampleTime int64) {
	t.Helper()
	for ch := 0; ch < buf.Format().NumChannels; ch++ {
		samples := buf.Channel(ch)
		require.Len(t, samples, frames)
		for i := range samples {
			require.Equal(t, rampSample(sampleTime+int64(i), ch), samples[i],
				"sample %d of channel %d read at time %d", i, ch, sampleTime)
		}
	}
}

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := New(frame.Format{}, 128)
	assert.Error(t, err)

	_, err = New(monoFormat, 0)
	assert.Error(t, err)
}

func TestCapacityRoundsUpToPowerOfTwo(t *testing.T) {
	rb, err := New(monoFormat, 100)
	require.NoError(t, err)
	assert.Equal(t, 128, rb.Capacity())

	rb, err = New(monoFormat, 128)
	require.NoError(t, err)
	assert.Equal(t, 128, rb.Capacity())
}

func TestWriteReadRoundTrip(t *testing.T) {
	rb, err := New(monoFormat, 100)
	require.NoError(t, err)

	src := rampBuffer(t, monoFormat, 50, 0)
	require.True(t, rb.Write(src, 50, 0))

	startTime, endTime := rb.TimeBounds()
	assert.Equal(t, int64(0), startTime)
	assert.Equal(t, int64(50), endTime)

	dst, err := frame.NewBuffer(monoFormat, 50)
	require.NoError(t, err)
	require.True(t, rb.Read(dst, 50, 0))
	requireRamp(t, dst, 50, 0)
}

func TestReadOutsideBoundsFailsAndLeavesDestinationUntouched(t *testing.T) {
	rb, err := New(monoFormat, 100)
	require.NoError(t, err)
	require.True(t, rb.Write(rampBuffer(t, monoFormat, 50, 0), 50, 0))

	dst, err := frame.NewBuffer(monoFormat, 20)
	require.NoError(t, err)
	dst.SetLen(20)
	sentinel := dst.Channel(0)
	for i := range sentinel {
		sentinel[i] = -1
	}

	// Only [40, 50) of the requested [40, 60) is available.
	require.False(t, rb.Read(dst, 20, 40))
	for i := range sentinel {
		assert.Equal(t, float32(-1), sentinel[i])
	}

	// Entirely before the valid span.
	require.False(t, rb.Read(dst, 20, -30))
}

func TestRoundTripStereo(t *testing.T) {
	stereo := frame.Format{SampleRate: 48000, NumChannels: 2}
	rb, err := New(stereo, 256)
	require.NoError(t, err)

	require.True(t, rb.Write(rampBuffer(t, stereo, 200, 1000), 200, 1000))

	dst, err := frame.NewBuffer(stereo, 64)
	require.NoError(t, err)
	require.True(t, rb.Read(dst, 64, 1100))
	requireRamp(t, dst, 64, 1100)
}

func TestOverrunAdvancesStartMonotonically(t *testing.T) {
	rb, err := New(monoFormat, 128)
	require.NoError(t, err)

	var lastStart int64
	sampleTime := int64(0)
	for i := 0; i < 10; i++ {
		require.True(t, rb.Write(rampBuffer(t, monoFormat, 64, sampleTime), 64, sampleTime))
		startTime, endTime := rb.TimeBounds()
		assert.GreaterOrEqual(t, startTime, lastStart)
		assert.LessOrEqual(t, endTime-startTime, int64(rb.Capacity()))
		assert.Equal(t, sampleTime+64, endTime)
		lastStart = startTime
		sampleTime += 64
	}

	// Oldest frames were silently discarded; recent ones survive intact.
	dst, err := frame.NewBuffer(monoFormat, 64)
	require.NoError(t, err)
	require.False(t, rb.Read(dst, 64, 0))

	startTime, _ := rb.TimeBounds()
	require.True(t, rb.Read(dst, 64, startTime))
	requireRamp(t, dst, 64, startTime)
}

func TestWriteWrapsAroundStoreBoundary(t *testing.T) {
	rb, err := New(monoFormat, 128)
	require.NoError(t, err)

	// Second write straddles the physical end of the 128-frame store.
	require.True(t, rb.Write(rampBuffer(t, monoFormat, 100, 0), 100, 0))
	require.True(t, rb.Write(rampBuffer(t, monoFormat, 100, 100), 100, 100))

	dst, err := frame.NewBuffer(monoFormat, 100)
	require.NoError(t, err)
	require.True(t, rb.Read(dst, 100, 100))
	requireRamp(t, dst, 100, 100)
}

func TestWriteDiscontinuityResetsBounds(t *testing.T) {
	rb, err := New(monoFormat, 256)
	require.NoError(t, err)

	require.True(t, rb.Write(rampBuffer(t, monoFormat, 100, 0), 100, 0))
	// The device dropped a callback: the next span starts 50 frames late.
	require.True(t, rb.Write(rampBuffer(t, monoFormat, 50, 150), 50, 150))

	startTime, endTime := rb.TimeBounds()
	assert.Equal(t, int64(150), startTime)
	assert.Equal(t, int64(200), endTime)

	// Data from before the gap is deterministically gone.
	dst, err := frame.NewBuffer(monoFormat, 50)
	require.NoError(t, err)
	require.False(t, rb.Read(dst, 50, 0))
	require.True(t, rb.Read(dst, 50, 150))
	requireRamp(t, dst, 50, 150)
}

func TestWriteRejectsMalformedRequests(t *testing.T) {
	rb, err := New(monoFormat, 128)
	require.NoError(t, err)

	assert.False(t, rb.Write(nil, 10, 0))

	src := rampBuffer(t, monoFormat, 64, 0)
	assert.False(t, rb.Write(src, 129, 0), "span wider than the whole store")
	assert.False(t, rb.Write(src, 65, 0), "more frames than the source holds")

	stereo, err := frame.NewBuffer(frame.Format{SampleRate: 48000, NumChannels: 2}, 64)
	require.NoError(t, err)
	stereo.SetLen(64)
	assert.False(t, rb.Write(stereo, 64, 0), "channel count mismatch")

	assert.True(t, rb.Write(src, 0, 0), "empty write is a no-op success")
}

func TestReadRejectsMalformedRequests(t *testing.T) {
	rb, err := New(monoFormat, 128)
	require.NoError(t, err)
	require.True(t, rb.Write(rampBuffer(t, monoFormat, 64, 0), 64, 0))

	assert.False(t, rb.Read(nil, 10, 0))

	dst, err := frame.NewBuffer(monoFormat, 32)
	require.NoError(t, err)
	assert.False(t, rb.Read(dst, 64, 0), "more frames than the destination holds")
	assert.True(t, rb.Read(dst, 0, 0), "empty read is a no-op success")
}

// TestSingleProducerSingleConsumer exercises the lock-free contract: one
// goroutine streams contiguous writes while another reads trailing spans.
// Every successful read must return samples consistent with the absolute
// time they were written at; failed reads are legitimate overruns.
func TestSingleProducerSingleConsumer(t *testing.T) {
	rb, err := New(monoFormat, 1024)
	require.NoError(t, err)

	const blockFrames = 64
	const blocks = 4000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		src, err := frame.NewBuffer(monoFormat, blockFrames)
		if err != nil {
			t.Error(err)
			return
		}
		src.SetLen(blockFrames)
		for b := int64(0); b < blocks; b++ {
			sampleTime := b * blockFrames
			samples := src.Channel(0)
			for i := range samples {
				samples[i] = rampSample(sampleTime+int64(i), 0)
			}
			if !rb.Write(src, blockFrames, sampleTime) {
				t.Errorf("write rejected at %d", sampleTime)
				return
			}
		}
	}()

	go func() {
		defer wg.Done()
		dst, err := frame.NewBuffer(monoFormat, blockFrames)
		if err != nil {
			t.Error(err)
			return
		}
		var lastEnd int64
		for lastEnd < blocks*blockFrames {
			startTime, endTime := rb.TimeBounds()
			if endTime == lastEnd || endTime < blockFrames {
				continue
			}
			lastEnd = endTime
			readTime := endTime - blockFrames
			if !rb.Read(dst, blockFrames, readTime) {
				// The writer lapped us between the bounds query and the
				// copy; allowed, as long as it told us so.
				if s, _ := rb.TimeBounds(); s <= readTime && startTime <= readTime {
					t.Errorf("read at %d failed with bounds intact", readTime)
					return
				}
				continue
			}
			samples := dst.Channel(0)
			for i := range samples {
				if samples[i] != rampSample(readTime+int64(i), 0) {
					t.Errorf("torn read at %d offset %d", readTime, i)
					return
				}
			}
		}
	}()

	wg.Wait()
}
