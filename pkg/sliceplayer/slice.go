// Package sliceplayer provides the fixed pool of reusable scheduled-slice
// descriptors and the generator that renders them into the output timeline.
//
// A slice is a pre-decoded audio clip queued for playback at a specific (or
// immediate) point on the output sample clock. The pool is the only state
// shared between the control thread and the real-time render thread; the
// per-slice availability flag carries the whole ownership handshake.
package sliceplayer

import (
	"errors"
	"sync/atomic"

	"github.com/loopline-audio/loopline/pkg/frame"
)

// TimeASAP schedules a slice to start on the next render callback instead of
// at a fixed sample-time.
const TimeASAP int64 = -1

var (
	// ErrNoAvailableSlices is returned by Acquire when every descriptor in
	// the pool is in flight. Callers surface this as a capacity error; the
	// request is never queued.
	ErrNoAvailableSlices = errors.New("no available slices")

	errSliceNotAcquired = errors.New("slice has not been acquired")
	errNilBuffer        = errors.New("nil slice buffer")
)

// CompletionHandler is invoked by the player, on the real-time render
// thread, once a slice's audio has been fully emitted. Implementations must
// do nothing beyond flag flips: no locks, no allocation, no I/O.
type CompletionHandler interface {
	SliceComplete(slice *Slice)
}

// Slice is one reusable descriptor from the pool. While available it is
// owned by the pool and carries no buffer; once acquired and configured it
// is owned by the player until the completion handler fires.
type Slice struct {
	available atomic.Bool

	startTime  int64
	buffer     *frame.Buffer
	completion CompletionHandler

	// Render-thread state, untouched by the control thread after handoff.
	played int
}

// StartTime returns the scheduled absolute sample-time, or TimeASAP.
func (s *Slice) StartTime() int64 { return s.startTime }

// FrameCount returns the number of frames the slice will emit.
func (s *Slice) FrameCount() int {
	if s.buffer == nil {
		return 0
	}
	return s.buffer.Len()
}

// Configure populates an acquired slice with an owned PCM buffer, a start
// time (or TimeASAP) and the handler to notify on completion. Ownership of
// buf transfers to the slice; the caller must not touch it afterwards.
func (s *Slice) Configure(buf *frame.Buffer, startTime int64, completion CompletionHandler) error {
	if s.available.Load() {
		return errSliceNotAcquired
	}
	if buf == nil {
		return errNilBuffer
	}
	s.clear()
	s.startTime = startTime
	s.buffer = buf
	s.completion = completion
	return nil
}

// clear releases the previous buffer, if any, and zeroes the descriptor
// fields. The availability flag is left alone.
func (s *Slice) clear() {
	s.buffer = nil
	s.completion = nil
	s.startTime = 0
	s.played = 0
}

// Pool is a fixed-size array of slice descriptors allocated once at engine
// construction. Acquire and Configure run on a non-real-time caller thread;
// SliceComplete runs on the render thread. The availability flags are the
// only shared state.
type Pool struct {
	slices []*Slice
}

// NewPool allocates size descriptors, all available.
func NewPool(size int) *Pool {
	slices := make([]*Slice, size)
	for i := range slices {
		slices[i] = &Slice{}
		slices[i].available.Store(true)
	}
	return &Pool{slices: slices}
}

// Acquire scans for the first available descriptor, flips it in-flight and
// returns it. Returns ErrNoAvailableSlices when the pool is exhausted.
func (p *Pool) Acquire() (*Slice, error) {
	for _, s := range p.slices {
		if s.available.CompareAndSwap(true, false) {
			return s, nil
		}
	}
	return nil, ErrNoAvailableSlices
}

// Available returns the number of descriptors not currently in flight.
func (p *Pool) Available() int {
	n := 0
	for _, s := range p.slices {
		if s.available.Load() {
			n++
		}
	}
	return n
}

// SliceComplete returns a slice to the pool. It runs on the real-time
// render thread and therefore only flips the flag; the buffer is released
// the next time the descriptor is configured.
func (p *Pool) SliceComplete(slice *Slice) {
	slice.available.Store(true)
}
