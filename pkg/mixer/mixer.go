// Package mixer implements the fixed two-stage summing mixer that feeds the
// output callback: one bus for the scheduled-slice player, one for the
// ring-buffer passthrough. Each bus is a render callback pulled on the
// real-time output thread.
package mixer

import (
	"errors"
	"math"
	"sync/atomic"

	"github.com/loopline-audio/loopline/internal/hal"
	"github.com/loopline-audio/loopline/pkg/frame"
)

var (
	errNoInputs   = errors.New("mixer needs at least one input bus")
	errNoSuchBus  = errors.New("no such mixer bus")
	errBufferSize = errors.New("render request exceeds mixer buffer capacity")
)

type bus struct {
	render hal.RenderCallback
	gain   atomic.Uint32 // float32 bits; written by the control thread
}

// Mixer pulls every input bus for each output callback and sums the results
// with per-bus gain. Render runs on the real-time output thread; SetGain may
// be called concurrently from the control thread.
type Mixer struct {
	format  frame.Format
	buses   []*bus
	scratch *frame.Buffer
}

// New creates a mixer producing maxFrames-sized callbacks in the given
// format, pulling the supplied inputs in bus order. All buses start at
// unity gain.
func New(format frame.Format, maxFrames int, inputs ...hal.RenderCallback) (*Mixer, error) {
	if len(inputs) == 0 {
		return nil, errNoInputs
	}
	scratch, err := frame.NewBuffer(format, maxFrames)
	if err != nil {
		return nil, err
	}

	buses := make([]*bus, len(inputs))
	for i, render := range inputs {
		buses[i] = &bus{render: render}
		buses[i].gain.Store(math.Float32bits(1))
	}
	return &Mixer{
		format:  format,
		buses:   buses,
		scratch: scratch,
	}, nil
}

func (m *Mixer) Format() frame.Format { return m.format }

// SetGain sets the linear gain of one input bus.
func (m *Mixer) SetGain(busNumber int, gain float32) error {
	if busNumber < 0 || busNumber >= len(m.buses) {
		return errNoSuchBus
	}
	m.buses[busNumber].gain.Store(math.Float32bits(gain))
	return nil
}

// Render pulls every bus for frameCount frames at the given timestamp and
// sums the results into out. A bus that fails or reports silence contributes
// nothing; if every bus was silent the output is flagged silent too.
func (m *Mixer) Render(flags *hal.RenderFlags, ts hal.TimeStamp, frameCount int, out *frame.Buffer) error {
	if frameCount > m.scratch.Capacity() || frameCount > out.Capacity() {
		return errBufferSize
	}

	out.SetLen(frameCount)
	out.Silence()

	audible := false
	for busNumber, b := range m.buses {
		m.scratch.Reset()
		m.scratch.SetLen(frameCount)
		m.scratch.Silence()

		var busFlags hal.RenderFlags
		if err := b.render(&busFlags, ts, busNumber, frameCount, m.scratch); err != nil {
			continue // failed bus contributes silence
		}
		if busFlags&hal.FlagOutputIsSilence != 0 {
			continue
		}

		audible = true
		gain := math.Float32frombits(b.gain.Load())
		for ch := 0; ch < m.format.NumChannels; ch++ {
			src := m.scratch.Channel(ch)
			dst := out.Channel(ch)
			for i := range src {
				dst[i] += src[i] * gain
			}
		}
	}

	if !audible {
		*flags |= hal.FlagOutputIsSilence
	}
	return nil
}
