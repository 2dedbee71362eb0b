package recorder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/loopline-audio/loopline/pkg/frame"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testFormat = frame.Format{SampleRate: 8000, NumChannels: 1}

func constantBuffer(t *testing.T, frames int, value float32) *frame.Buffer {
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

func decodeRecording(t *testing.T, path string) ([]int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	pcm, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return pcm.Data, int(dec.SampleRate)
}

func TestRecorderWritesQueuedBuffersToWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tap.wav")
	r, err := New(path, testFormat, 64)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		r.Record(constantBuffer(t, 64, 0.5))
	}
	require.NoError(t, r.Close())
	assert.Zero(t, r.Dropped())

	data, sampleRate := decodeRecording(t, path)
	assert.Equal(t, testFormat.SampleRate, sampleRate)
	require.Len(t, data, 5*64)
	for i, sample := range data {
		require.InDelta(t, 0.5*32767, float64(sample), 1.5, "sample %d", i)
	}
}

func TestRecorderIgnoresRecordsAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tap.wav")
	r, err := New(path, testFormat, 64)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r.Record(constantBuffer(t, 64, 0.5))
	require.NoError(t, r.Close(), "close is idempotent")

	data, _ := decodeRecording(t, path)
	assert.Empty(t, data)
}

func TestRecorderTruncatesOversizedBuffers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tap.wav")
	r, err := New(path, testFormat, 32)
	require.NoError(t, err)

	// A stage handing over more frames than declared loses the tail rather
	// than corrupting the queue.
	r.Record(constantBuffer(t, 64, 0.25))
	require.NoError(t, r.Close())

	data, _ := decodeRecording(t, path)
	assert.Len(t, data, 32)
}

func TestRecorderCreateFailure(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "dir", "tap.wav"), testFormat, 64)
	assert.Error(t, err)
}
