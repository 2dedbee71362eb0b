// Package frame defines the sample format descriptor and the fixed-capacity
// frame buffer used throughout the engine.
//
// All audio inside the engine is 32-bit float linear PCM stored
// non-interleaved, one slice per channel. Interleaving and integer sample
// formats exist only at the edges (device drivers, file decoders, recorders).
package frame

import (
	"errors"
	"time"
)

var (
	errInvalidFormat   = errors.New("invalid sample format")
	errInvalidCapacity = errors.New("non-positive frame capacity")
)

// Format describes a linear PCM sample layout.
type Format struct {
	SampleRate  int
	NumChannels int
}

// Valid reports whether the format describes usable PCM audio.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.NumChannels > 0
}

// Duration converts a frame count to wall-clock time at this sample rate.
func (f Format) Duration(frames int) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Buffer is a fixed-capacity, multi-channel container for one callback's
// worth of frames. The capacity is set once at allocation time; Reset and
// SetLen only move the length, they never reallocate.
type Buffer struct {
	format   Format
	capacity int
	length   int
	data     [][]float32
}

// NewBuffer allocates a buffer holding up to capacityFrames frames of audio
// in the given format.
func NewBuffer(format Format, capacityFrames int) (*Buffer, error) {
	if !format.Valid() {
		return nil, errInvalidFormat
	}
	if capacityFrames <= 0 {
		return nil, errInvalidCapacity
	}

	data := make([][]float32, format.NumChannels)
	for ch := range data {
		data[ch] = make([]float32, capacityFrames)
	}
	return &Buffer{
		format:   format,
		capacity: capacityFrames,
		data:     data,
	}, nil
}

func (b *Buffer) Format() Format { return b.format }

// Capacity returns the fixed frame capacity set at allocation time.
func (b *Buffer) Capacity() int { return b.capacity }

// Len returns the number of valid frames currently in the buffer.
func (b *Buffer) Len() int { return b.length }

// SetLen sets the number of valid frames, clamped to the capacity.
func (b *Buffer) SetLen(frames int) {
	if frames < 0 {
		frames = 0
	}
	if frames > b.capacity {
		frames = b.capacity
	}
	b.length = frames
}

// Channel returns the valid samples of one channel. The returned slice
// aliases the buffer's storage.
func (b *Buffer) Channel(ch int) []float32 {
	return b.data[ch][:b.length]
}

// Reset marks the buffer empty without touching the allocation.
func (b *Buffer) Reset() {
	b.length = 0
}

// Silence zeroes every valid frame in place.
func (b *Buffer) Silence() {
	for ch := range b.data {
		samples := b.data[ch][:b.length]
		for i := range samples {
			samples[i] = 0
		}
	}
}

// CopyFrom copies as many frames as fit from src and sets the length
// accordingly. The formats must already agree; only the channel counts are
// reconciled, extra source channels are dropped and missing ones silenced.
func (b *Buffer) CopyFrom(src *Buffer) int {
	frames := src.Len()
	if frames > b.capacity {
		frames = b.capacity
	}
	b.length = frames
	for ch := range b.data {
		dst := b.data[ch][:frames]
		if ch < len(src.data) {
			copy(dst, src.data[ch][:frames])
		} else {
			for i := range dst {
				dst[i] = 0
			}
		}
	}
	return frames
}
