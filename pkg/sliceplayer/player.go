package sliceplayer

import (
	"errors"
	"log/slog"

	"github.com/loopline-audio/loopline/pkg/frame"
)

var errScheduleFull = errors.New("player schedule mailbox full")

// Player renders scheduled slices onto the output sample clock. It stands in
// for a scheduled-sound generator unit: the control thread hands it
// configured slices, the render thread plays them and fires their completion
// handlers.
//
// Handoff uses a buffered channel sized to the slice pool, drained with a
// non-blocking receive inside Render, so the render path never waits on the
// control thread.
type Player struct {
	logger *slog.Logger
	format frame.Format

	mailbox chan *Slice
	active  []*Slice // render-thread owned
}

// NewPlayer creates a player emitting audio in the given format. poolSize
// bounds the number of slices that can be in flight at once.
func NewPlayer(format frame.Format, poolSize int) *Player {
	return &Player{
		logger:  slog.Default().With("component", "sliceplayer"),
		format:  format,
		mailbox: make(chan *Slice, poolSize),
		active:  make([]*Slice, 0, poolSize),
	}
}

func (p *Player) Format() frame.Format { return p.format }

// Schedule hands a configured slice to the render thread. Called from the
// control thread only. The mailbox is sized to the pool, so a full mailbox
// means the caller bypassed the pool discipline.
func (p *Player) Schedule(slice *Slice) error {
	select {
	case p.mailbox <- slice:
		return nil
	default:
		return errScheduleFull
	}
}

// Render fills dst with frameCount frames of mixed slice audio starting at
// the given absolute sample-time. It runs on the real-time output thread:
// no locks, no allocation beyond the initial active list capacity.
func (p *Player) Render(sampleTime int64, frameCount int, dst *frame.Buffer) {
	dst.SetLen(frameCount)
	dst.Silence()

	p.drainMailbox(sampleTime)

	kept := p.active[:0]
	for _, s := range p.active {
		if p.renderSlice(s, sampleTime, frameCount, dst) {
			kept = append(kept, s)
		}
	}
	p.active = kept
}

// drainMailbox moves newly scheduled slices onto the active list, anchoring
// as-soon-as-possible slices to the current render time.
func (p *Player) drainMailbox(sampleTime int64) {
	for {
		select {
		case s := <-p.mailbox:
			if s.startTime == TimeASAP {
				s.startTime = sampleTime
			}
			p.active = append(p.active, s)
		default:
			return
		}
	}
}

// renderSlice mixes the overlap of one slice into dst and reports whether
// the slice remains active. A fully played slice is completed before being
// dropped.
func (p *Player) renderSlice(s *Slice, sampleTime int64, frameCount int, dst *frame.Buffer) bool {
	total := s.buffer.Len()

	// Offset of this callback within the slice's own timeline.
	offset := sampleTime - s.startTime
	if offset+int64(frameCount) <= 0 {
		return true // entirely in the future
	}

	from := int64(s.played)
	if from < offset {
		// The render clock jumped past frames we never emitted; drop them.
		from = offset
	}
	to := offset + int64(frameCount)
	if to > int64(total) {
		to = int64(total)
	}

	if from < to {
		dstOffset := from - offset
		srcChannels := s.buffer.Format().NumChannels
		for ch := 0; ch < dst.Format().NumChannels; ch++ {
			src := s.buffer.Channel(ch % srcChannels)
			out := dst.Channel(ch)
			for i := from; i < to; i++ {
				out[dstOffset+i-from] += src[i]
			}
		}
		s.played = int(to)
	}

	if to >= int64(total) {
		p.complete(s)
		return false
	}
	return true
}

func (p *Player) complete(s *Slice) {
	if s.completion != nil {
		s.completion.SliceComplete(s)
	}
}

// Reset cancels every pending and active slice, firing their completion
// handlers. It must only be called while the output stream is stopped; it
// touches the render thread's state.
func (p *Player) Reset() {
	for {
		select {
		case s := <-p.mailbox:
			p.complete(s)
		default:
			for _, s := range p.active {
				p.complete(s)
			}
			p.active = p.active[:0]
			return
		}
	}
}
