// Package engine wires the capture device, the timestamp-addressed ring
// buffer, the scheduled-slice player and the mixer into a duplex real-time
// audio path, and compensates for the startup skew between the two device
// clocks.
//
// The data path: the capture callback renders device input into a scratch
// frame buffer and writes it into the ring buffer tagged with the device
// sample-time. The output callback, once both directions have produced
// their first frame, renders the mixer; the mixer's passthrough bus reads
// the ring buffer at the output sample-time minus the through latency.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/loopline-audio/loopline/internal/hal"
	"github.com/loopline-audio/loopline/pkg/decoder"
	"github.com/loopline-audio/loopline/pkg/frame"
	"github.com/loopline-audio/loopline/pkg/mixer"
	"github.com/loopline-audio/loopline/pkg/recorder"
	"github.com/loopline-audio/loopline/pkg/ringbuffer"
	"github.com/loopline-audio/loopline/pkg/sliceplayer"
)

const (
	// Sentinel for "this direction has not produced a frame yet".
	unsetSampleTime int64 = -1

	// The ring buffer holds this many device periods of captured audio.
	defaultRingMultiplier = 20

	defaultSliceCount = 16
)

var (
	errFormatMismatch = errors.New("input and output streams opened with different formats")
	errEngineRunning  = errors.New("engine is running")
)

// Config selects the devices and sizes for a duplex engine. The zero value
// asks for both default devices, the driver's preferred period, and the
// stock ring and pool sizes.
type Config struct {
	Format         frame.Format
	InputDeviceID  int
	OutputDeviceID int
	BufferFrames   int
	RingMultiplier int
	SliceCount     int
}

// DefaultConfig returns a config for both default devices in the given
// format.
func DefaultConfig(format frame.Format) Config {
	return Config{
		Format:         format,
		InputDeviceID:  hal.DefaultDevice,
		OutputDeviceID: hal.DefaultDevice,
	}
}

// Engine is the duplex engine. Control methods (Start, StartAt, Stop, Play,
// PlayAt, the recording setters) are callable only from non-real-time
// threads; the three render callbacks run on the driver's device threads.
type Engine struct {
	logger *slog.Logger
	uuid   uuid.UUID

	driver       hal.Driver
	inputStream  hal.Stream
	outputStream hal.Stream

	scratch *frame.Buffer
	ring    *ringbuffer.RingBuffer

	pool   *sliceplayer.Pool
	player *sliceplayer.Player
	mix    *mixer.Mixer

	// Clock synchroniser state. Each field has exactly one writer: the
	// capture thread sets firstInputSampleTime, the output thread sets
	// firstOutputSampleTime and throughLatency. minimumLatency is fixed
	// after construction.
	firstInputSampleTime  atomic.Int64
	firstOutputSampleTime atomic.Int64
	throughLatency        atomic.Int64
	minimumLatency        int64

	// Diagnostic taps; set before Start, nil when unused.
	inputRecorder  *recorder.Recorder
	playerRecorder *recorder.Recorder
	outputRecorder *recorder.Recorder

	mu        sync.Mutex // guards the control surface
	closeOnce sync.Once
}

// New opens both directions on the driver and assembles the processing
// graph. Any device, allocation or format failure is returned synchronously;
// a successfully constructed engine is ready to Start.
func New(driver hal.Driver, cfg Config) (*Engine, error) {
	id := uuid.New()
	e := &Engine{
		logger: slog.Default().With("engine uuid", id),
		uuid:   id,
		driver: driver,
	}

	inputStream, err := driver.OpenInputStream(hal.StreamConfig{
		DeviceID:     cfg.InputDeviceID,
		Format:       cfg.Format,
		BufferFrames: cfg.BufferFrames,
	}, e.captureCallback)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	e.inputStream = inputStream

	outputStream, err := driver.OpenOutputStream(hal.StreamConfig{
		DeviceID:     cfg.OutputDeviceID,
		Format:       cfg.Format,
		BufferFrames: cfg.BufferFrames,
	}, e.outputCallback)
	if err != nil {
		inputStream.Close()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	e.outputStream = outputStream

	if inputStream.Format() != outputStream.Format() {
		e.closeStreams()
		return nil, errFormatMismatch
	}

	inputFormat := inputStream.Format()
	bufferFrames := inputStream.BufferFrames()

	e.scratch, err = frame.NewBuffer(inputFormat, bufferFrames)
	if err != nil {
		e.closeStreams()
		return nil, fmt.Errorf("failed to allocate scratch buffer: %w", err)
	}

	ringMultiplier := cfg.RingMultiplier
	if ringMultiplier <= 0 {
		ringMultiplier = defaultRingMultiplier
	}
	e.ring, err = ringbuffer.New(inputFormat, ringMultiplier*bufferFrames)
	if err != nil {
		e.closeStreams()
		return nil, fmt.Errorf("failed to allocate ring buffer: %w", err)
	}

	sliceCount := cfg.SliceCount
	if sliceCount <= 0 {
		sliceCount = defaultSliceCount
	}
	e.pool = sliceplayer.NewPool(sliceCount)
	e.player = sliceplayer.NewPlayer(outputStream.Format(), sliceCount)

	e.mix, err = mixer.New(outputStream.Format(), outputStream.BufferFrames(),
		e.playerRenderCallback, e.mixerPullCallback)
	if err != nil {
		e.closeStreams()
		return nil, fmt.Errorf("failed to create mixer: %w", err)
	}

	e.minimumLatency = int64(inputStream.SafetyOffset() + inputStream.BufferFrames() +
		outputStream.SafetyOffset() + outputStream.BufferFrames())
	e.throughLatency.Store(e.minimumLatency)
	e.firstInputSampleTime.Store(unsetSampleTime)
	e.firstOutputSampleTime.Store(unsetSampleTime)

	e.logger.Debug(
		"engine assembled",
		"format", inputFormat,
		"bufferFrames", bufferFrames,
		"ringCapacity", e.ring.Capacity(),
		"sliceCount", sliceCount,
		"minimumLatency", e.minimumLatency,
	)
	return e, nil
}

// Start begins both hardware directions. No-op if already running.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isRunning() {
		return nil
	}

	if err := e.inputStream.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	if err := e.outputStream.Start(); err != nil {
		e.inputStream.Stop()
		return fmt.Errorf("failed to start output stream: %w", err)
	}

	e.logger.Info("engine started")
	return nil
}

// StartAt blocks until the given host time, then starts the engine. A time
// in the past starts immediately.
func (e *Engine) StartAt(startTime time.Time) error {
	if delay := time.Until(startTime); delay > 0 {
		time.Sleep(delay)
	}
	return e.Start()
}

// Stop halts both hardware directions, cancels pending slices and rewinds
// the clock synchroniser so a subsequent Start re-measures the device skew.
// No-op if already stopped. The ring buffer and slice pool remain allocated
// and usable.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isRunning() {
		return nil
	}

	errOut := e.outputStream.Stop()
	errIn := e.inputStream.Stop()
	if err := errors.Join(errOut, errIn); err != nil {
		return fmt.Errorf("failed to stop streams: %w", err)
	}

	e.player.Reset()
	e.firstInputSampleTime.Store(unsetSampleTime)
	e.firstOutputSampleTime.Store(unsetSampleTime)
	e.throughLatency.Store(e.minimumLatency)

	e.logger.Info("engine stopped")
	return nil
}

// IsRunning reports whether either hardware direction is running.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isRunning()
}

func (e *Engine) isRunning() bool {
	return e.inputStream.Running() || e.outputStream.Running()
}

// Play decodes the audio file at path and schedules it for playback as soon
// as possible.
func (e *Engine) Play(path string) error {
	return e.PlayAt(path, sliceplayer.TimeASAP)
}

// PlayAt decodes the audio file at path and schedules it to start at the
// given absolute output sample-time. Running out of slice descriptors is
// reported here as an error, never queued.
func (e *Engine) PlayAt(path string, sampleTime int64) error {
	buf, err := decoder.DecodeFile(path)
	if err != nil {
		return fmt.Errorf("failed to decode %q: %w", path, err)
	}
	buf, err = decoder.Convert(buf, e.player.Format())
	if err != nil {
		return fmt.Errorf("failed to convert %q to the player format: %w", path, err)
	}
	return e.PlayBuffer(buf, sampleTime)
}

// PlayBuffer schedules an already decoded PCM buffer in the player format.
// Ownership of buf transfers to the engine.
func (e *Engine) PlayBuffer(buf *frame.Buffer, sampleTime int64) error {
	slice, err := e.pool.Acquire()
	if err != nil {
		return err
	}
	if err := slice.Configure(buf, sampleTime, e.pool); err != nil {
		e.pool.SliceComplete(slice)
		return err
	}
	if err := e.player.Schedule(slice); err != nil {
		e.pool.SliceComplete(slice)
		return err
	}

	e.logger.Debug(
		"scheduled slice",
		"sampleTime", sampleTime,
		"frames", slice.FrameCount(),
		"slicesAvailable", e.pool.Available(),
	)
	return nil
}

// ThroughLatency returns the current input-to-output delay of the
// passthrough path, in frames. Before the clocks have synchronised this is
// the hardware minimum; afterwards it includes the measured startup skew.
func (e *Engine) ThroughLatency() int64 { return e.throughLatency.Load() }

// InputFormat returns the capture-side sample format.
func (e *Engine) InputFormat() frame.Format { return e.inputStream.Format() }

// PlayerFormat returns the format scheduled slices must be decoded to.
func (e *Engine) PlayerFormat() frame.Format { return e.player.Format() }

// OutputFormat returns the playback-side sample format.
func (e *Engine) OutputFormat() frame.Format { return e.outputStream.Format() }

// SetPlayerGain sets the mixer gain of the scheduled-slice bus.
func (e *Engine) SetPlayerGain(gain float32) error { return e.mix.SetGain(0, gain) }

// SetPassthroughGain sets the mixer gain of the capture passthrough bus.
func (e *Engine) SetPassthroughGain(gain float32) error { return e.mix.SetGain(1, gain) }

func (e *Engine) closeStreams() {
	if e.outputStream != nil {
		e.outputStream.Close()
	}
	if e.inputStream != nil {
		e.inputStream.Close()
	}
}

// Close stops the engine and releases both streams and any recorders. The
// driver itself belongs to the caller.
func (e *Engine) Close() error {
	err := e.Stop()
	e.closeOnce.Do(func() {
		e.closeStreams()
		for _, r := range []*recorder.Recorder{e.inputRecorder, e.playerRecorder, e.outputRecorder} {
			if r != nil {
				r.Close()
			}
		}
	})
	return err
}
