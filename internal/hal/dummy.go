package hal

import (
	"sync/atomic"

	"github.com/loopline-audio/loopline/pkg/frame"
)

// DummyDriver is a driver whose streams advance only when the caller ticks
// them, with whatever sample-times the caller chooses. It exists for tests:
// the startup skew between the capture and playback clocks becomes a test
// parameter instead of a hardware accident.
//
// This driver is intended to be used in testing only!
type DummyDriver struct {
	format       frame.Format
	bufferFrames int
	safetyOffset int

	input  *DummyStream
	output *DummyStream
}

// NewDummyDriver creates a driver that reports a single input and a single
// output device, both in the given format with the given period and safety
// offset.
func NewDummyDriver(format frame.Format, bufferFrames, safetyOffset int) *DummyDriver {
	return &DummyDriver{
		format:       format,
		bufferFrames: bufferFrames,
		safetyOffset: safetyOffset,
	}
}

func (d *DummyDriver) devices() []DeviceInfo {
	return []DeviceInfo{
		{ID: 0, Name: "dummy", Format: d.format, IsDefault: true},
	}
}

func (d *DummyDriver) InputDevices() ([]DeviceInfo, error)  { return d.devices(), nil }
func (d *DummyDriver) OutputDevices() ([]DeviceInfo, error) { return d.devices(), nil }

func (d *DummyDriver) OpenInputStream(cfg StreamConfig, cb RenderCallback) (Stream, error) {
	s, err := d.openStream(cfg, cb, true)
	if err != nil {
		return nil, err
	}
	d.input = s
	return s, nil
}

func (d *DummyDriver) OpenOutputStream(cfg StreamConfig, cb RenderCallback) (Stream, error) {
	s, err := d.openStream(cfg, cb, false)
	if err != nil {
		return nil, err
	}
	d.output = s
	return s, nil
}

func (d *DummyDriver) openStream(cfg StreamConfig, cb RenderCallback, capture bool) (*DummyStream, error) {
	if cfg.DeviceID != DefaultDevice && cfg.DeviceID != 0 {
		return nil, ErrNoDeviceWithID
	}
	format := cfg.Format
	if !format.Valid() {
		format = d.format
	}
	bufferFrames := cfg.BufferFrames
	if bufferFrames <= 0 {
		bufferFrames = d.bufferFrames
	}
	buf, err := frame.NewBuffer(format, bufferFrames)
	if err != nil {
		return nil, err
	}
	return &DummyStream{
		capture:      capture,
		format:       format,
		bufferFrames: bufferFrames,
		safetyOffset: d.safetyOffset,
		callback:     cb,
		buf:          buf,
	}, nil
}

// Input returns the most recently opened input stream, for ticking.
func (d *DummyDriver) Input() *DummyStream { return d.input }

// Output returns the most recently opened output stream, for ticking.
func (d *DummyDriver) Output() *DummyStream { return d.output }

func (d *DummyDriver) Close() error { return nil }

// DummyStream is a manually clocked stream. Tick stands in for one hardware
// callback period.
type DummyStream struct {
	capture      bool
	format       frame.Format
	bufferFrames int
	safetyOffset int
	callback     RenderCallback
	buf          *frame.Buffer

	running atomic.Bool
	closed  atomic.Bool

	// Fill produces the captured audio for one input tick. When nil the
	// input stream captures silence.
	Fill func(sampleTime int64, buf *frame.Buffer)

	lastFlags RenderFlags
}

func (s *DummyStream) Start() error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	s.running.Store(true)
	return nil
}

func (s *DummyStream) Stop() error {
	s.running.Store(false)
	return nil
}

func (s *DummyStream) Running() bool { return s.running.Load() }

func (s *DummyStream) Format() frame.Format { return s.format }
func (s *DummyStream) BufferFrames() int    { return s.bufferFrames }
func (s *DummyStream) SafetyOffset() int    { return s.safetyOffset }

func (s *DummyStream) Close() error {
	s.running.Store(false)
	s.closed.Store(true)
	return nil
}

// Tick invokes the stream's callback once for a full period starting at the
// given sample-time. A stopped stream ignores ticks, like hardware that has
// not been started.
func (s *DummyStream) Tick(sampleTime int64) error {
	if !s.running.Load() {
		return nil
	}

	s.buf.Reset()
	s.buf.SetLen(s.bufferFrames)
	bus := 0
	if s.capture {
		s.buf.Silence()
		if s.Fill != nil {
			s.Fill(sampleTime, s.buf)
		}
		bus = 1
	}

	var flags RenderFlags
	err := s.callback(&flags, TimeStamp{SampleTime: sampleTime}, bus, s.bufferFrames, s.buf)
	s.lastFlags = flags
	return err
}

// Buffer exposes the stream's callback buffer; after an output tick it holds
// whatever the engine rendered.
func (s *DummyStream) Buffer() *frame.Buffer { return s.buf }

// LastOutputWasSilence reports whether the engine flagged the previous tick
// as silence.
func (s *DummyStream) LastOutputWasSilence() bool {
	return s.lastFlags&FlagOutputIsSilence != 0
}
