package engine

import (
	"github.com/loopline-audio/loopline/internal/hal"
	"github.com/loopline-audio/loopline/pkg/frame"
)

// The three real-time callbacks below compose the duplex data path. They run
// on the driver's device threads: the capture callback on the input clock,
// the output and mixer-pull callbacks on the output clock. None of them may
// block, allocate or take a lock; every failure is absorbed as silence or
// dropped data and logged.

// captureCallback runs on the input device thread. It records the first
// input sample-time, renders the captured frames into the scratch buffer and
// writes them into the ring buffer tagged with the device timestamp. Capture
// is best effort: a rejected write is logged, never fatal.
func (e *Engine) captureCallback(_ *hal.RenderFlags, ts hal.TimeStamp, _ int, frameCount int, buf *frame.Buffer) error {
	if e.firstInputSampleTime.Load() == unsetSampleTime {
		e.firstInputSampleTime.Store(ts.SampleTime)
	}

	e.scratch.Reset()
	e.scratch.CopyFrom(buf)

	if tap := e.inputRecorder; tap != nil {
		tap.Record(e.scratch)
	}

	if !e.ring.Write(e.scratch, frameCount, ts.SampleTime) {
		e.logger.Debug("ring buffer write failed", "sampleTime", ts.SampleTime, "frames", frameCount)
	}
	return nil
}

// outputCallback runs on the output device thread. Until the input side has
// produced its first frame it emits silence. On the first callback after
// that, it records the first output sample-time, applies the one-time
// through-latency correction and still emits silence. From then on it
// renders the mixer and passes the result through untouched.
func (e *Engine) outputCallback(flags *hal.RenderFlags, ts hal.TimeStamp, _ int, frameCount int, out *frame.Buffer) error {
	firstInput := e.firstInputSampleTime.Load()
	if firstInput == unsetSampleTime {
		*flags |= hal.FlagOutputIsSilence
		out.SetLen(frameCount)
		out.Silence()
		return nil
	}

	if e.firstOutputSampleTime.Load() == unsetSampleTime {
		e.firstOutputSampleTime.Store(ts.SampleTime)

		// The two device clocks share a host epoch but started at
		// different moments. The output side runs this many frames behind
		// the input side, so the read position must reach back that much
		// further than the hardware minimum alone.
		delta := ts.SampleTime - firstInput
		adjusted := e.throughLatency.Add(delta)
		e.logger.Debug(
			"through latency corrected",
			"firstInputSampleTime", firstInput,
			"firstOutputSampleTime", ts.SampleTime,
			"delta", delta,
			"throughLatency", adjusted,
		)

		*flags |= hal.FlagOutputIsSilence
		out.SetLen(frameCount)
		out.Silence()
		return nil
	}

	if err := e.mix.Render(flags, ts, frameCount, out); err != nil {
		e.logger.Warn("mixer render failed", "sampleTime", ts.SampleTime, "err", err)
		*flags |= hal.FlagOutputIsSilence
		out.SetLen(frameCount)
		out.Silence()
		return nil
	}

	if tap := e.outputRecorder; tap != nil {
		tap.Record(out)
	}
	return nil
}

// mixerPullCallback feeds the mixer's passthrough bus. It translates the
// output sample-time into ring-buffer time by subtracting the through
// latency; on a miss it emits silence and re-derives the latency from the
// ring's current bounds, so a single underrun heals itself instead of
// repeating forever.
func (e *Engine) mixerPullCallback(flags *hal.RenderFlags, ts hal.TimeStamp, _ int, frameCount int, dst *frame.Buffer) error {
	adjusted := ts.SampleTime - e.throughLatency.Load()
	if !e.ring.Read(dst, frameCount, adjusted) {
		*flags |= hal.FlagOutputIsSilence
		dst.SetLen(frameCount)
		dst.Silence()

		startTime, endTime := e.ring.TimeBounds()
		resynced := ts.SampleTime - startTime
		e.throughLatency.Store(resynced)
		e.logger.Debug(
			"ring buffer read missed, resynchronized",
			"requestedSampleTime", adjusted,
			"ringStartTime", startTime,
			"ringEndTime", endTime,
			"throughLatency", resynced,
		)
	}
	return nil
}

// playerRenderCallback feeds the mixer's scheduled-slice bus.
func (e *Engine) playerRenderCallback(_ *hal.RenderFlags, ts hal.TimeStamp, _ int, frameCount int, dst *frame.Buffer) error {
	e.player.Render(ts.SampleTime, frameCount, dst)

	if tap := e.playerRecorder; tap != nil {
		tap.Record(dst)
	}
	return nil
}
