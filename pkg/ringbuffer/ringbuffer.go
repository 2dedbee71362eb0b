// Package ringbuffer implements a bounded circular buffer of audio frames
// addressed by absolute sample-time rather than by read/write cursors.
//
// It is the sole hand-off mechanism between the capture callback thread and
// the output callback thread. Exactly one writer and one reader may operate
// concurrently; the only synchronisation is the atomically published pair of
// time bounds, so neither side ever blocks, locks or allocates.
package ringbuffer

import (
	"errors"
	"sync/atomic"

	"github.com/loopline-audio/loopline/pkg/frame"
)

var (
	errInvalidFormat   = errors.New("invalid sample format")
	errInvalidCapacity = errors.New("non-positive frame capacity")
)

// RingBuffer stores the most recent frames written to it, indexed by the
// absolute sample-time they were captured at. The valid span is published as
// the half-open interval [startTime, endTime).
type RingBuffer struct {
	format   frame.Format
	capacity int64 // power of two
	mask     int64
	data     [][]float32

	startTime atomic.Int64
	endTime   atomic.Int64
}

// New allocates a ring buffer with room for at least capacityFrames frames.
// The capacity is rounded up to the next power of two so sample-times map to
// store indices with a mask instead of a modulo.
func New(format frame.Format, capacityFrames int) (*RingBuffer, error) {
	if !format.Valid() {
		return nil, errInvalidFormat
	}
	if capacityFrames <= 0 {
		return nil, errInvalidCapacity
	}

	capacity := int64(1)
	for capacity < int64(capacityFrames) {
		capacity <<= 1
	}

	data := make([][]float32, format.NumChannels)
	for ch := range data {
		data[ch] = make([]float32, capacity)
	}
	return &RingBuffer{
		format:   format,
		capacity: capacity,
		mask:     capacity - 1,
		data:     data,
	}, nil
}

func (rb *RingBuffer) Format() frame.Format { return rb.format }

// Capacity returns the frame capacity after power-of-two rounding.
func (rb *RingBuffer) Capacity() int { return int(rb.capacity) }

// TimeBounds returns the currently valid sample-time span [startTime,
// endTime). Intended for the reader to recover from an underrun; the bounds
// may advance concurrently with the call.
func (rb *RingBuffer) TimeBounds() (startTime, endTime int64) {
	return rb.startTime.Load(), rb.endTime.Load()
}

// Write copies frameCount frames from src into the store, beginning at the
// given absolute sample-time. Only the single producer may call it.
//
// A write that does not extend endTime contiguously (the device dropped a
// callback) resets the bounds to the incoming span; everything older is
// discarded. A write that exceeds the remaining capacity silently advances
// startTime past the oldest unread frames. Both are deliberate: the writer
// is a real-time callback and must never fail for reasons the reader can
// recover from.
//
// Write reports false only for malformed requests (nil or undersized source,
// channel mismatch, span wider than the whole buffer).
func (rb *RingBuffer) Write(src *frame.Buffer, frameCount int, sampleTime int64) bool {
	if frameCount == 0 {
		return true
	}
	if src == nil || frameCount < 0 || int64(frameCount) > rb.capacity {
		return false
	}
	if src.Format().NumChannels != rb.format.NumChannels || frameCount > src.Len() {
		return false
	}

	start := rb.startTime.Load()
	end := rb.endTime.Load()
	newEnd := sampleTime + int64(frameCount)

	newStart := start
	if sampleTime != end {
		// Discontinuity (or very first write): the stored frames predate
		// the gap and no longer line up with the new span, so the bounds
		// collapse onto it.
		newStart = sampleTime
	}
	if oldest := newEnd - rb.capacity; newStart < oldest {
		// Overrun: the incoming span wraps onto unread frames.
		newStart = oldest
	}

	// Publish the new start before touching the store so the reader can
	// never validate a span the copy below is about to overwrite.
	if newStart != start {
		rb.startTime.Store(newStart)
	}

	index := sampleTime & rb.mask
	head := int(rb.capacity - index)
	if head > frameCount {
		head = frameCount
	}
	for ch := range rb.data {
		samples := src.Channel(ch)
		copy(rb.data[ch][index:], samples[:head])
		copy(rb.data[ch], samples[head:frameCount])
	}

	rb.endTime.Store(newEnd)
	return true
}

// Read copies frameCount frames beginning at the given absolute sample-time
// into dst. Only the single consumer may call it.
//
// The read succeeds only if the requested span is fully contained in
// [startTime, endTime). On an ordinary miss dst is left untouched and the
// caller substitutes silence. If the writer reclaims part of the span while
// the copy is in flight the destination is silenced instead, so a false
// return always means "no usable audio was delivered".
func (rb *RingBuffer) Read(dst *frame.Buffer, frameCount int, sampleTime int64) bool {
	if frameCount == 0 {
		return true
	}
	if dst == nil || frameCount < 0 || frameCount > dst.Capacity() {
		return false
	}
	if dst.Format().NumChannels != rb.format.NumChannels {
		return false
	}

	start := rb.startTime.Load()
	end := rb.endTime.Load()
	if sampleTime < start || sampleTime+int64(frameCount) > end {
		return false
	}

	dst.SetLen(frameCount)
	index := sampleTime & rb.mask
	head := int(rb.capacity - index)
	if head > frameCount {
		head = frameCount
	}
	for ch := range rb.data {
		samples := dst.Channel(ch)
		copy(samples[:head], rb.data[ch][index:])
		copy(samples[head:], rb.data[ch][:frameCount-head])
	}

	// The writer may have overtaken the span mid-copy; re-validate.
	if rb.startTime.Load() > sampleTime {
		dst.Silence()
		return false
	}
	return true
}
