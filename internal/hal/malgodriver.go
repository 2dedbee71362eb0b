package hal

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/loopline-audio/loopline/pkg/frame"
)

// MalgoDriver is the production HAL backend, built on miniaudio via malgo.
// Each stream is a dedicated capture or playback device whose data callback
// runs on miniaudio's real-time thread.
type MalgoDriver struct {
	logger *slog.Logger
	ctx    *malgo.AllocatedContext
	format frame.Format

	// The shared epoch all stream sample clocks are measured against. The
	// per-stream first-callback offset from this epoch is the startup skew
	// the engine's clock synchronisation corrects.
	epoch time.Time
}

// NewMalgoDriver initialises a miniaudio context for the platform's native
// backend. format is the sample format streams default to.
func NewMalgoDriver(format frame.Format) (*MalgoDriver, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("malgo driver: invalid format %+v", format)
	}

	var backends []malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backends = []malgo.Backend{malgo.BackendAlsa}
	case "windows":
		backends = []malgo.Backend{malgo.BackendWasapi}
	case "darwin":
		backends = []malgo.Backend{malgo.BackendCoreaudio}
	}

	logger := slog.Default().With("component", "malgo")
	ctx, err := malgo.InitContext(backends, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize miniaudio context: %w", err)
	}

	return &MalgoDriver{
		logger: logger,
		ctx:    ctx,
		format: format,
		epoch:  time.Now(),
	}, nil
}

func (d *MalgoDriver) InputDevices() ([]DeviceInfo, error) {
	return d.devices(malgo.Capture)
}

func (d *MalgoDriver) OutputDevices() ([]DeviceInfo, error) {
	return d.devices(malgo.Playback)
}

func (d *MalgoDriver) devices(kind malgo.DeviceType) ([]DeviceInfo, error) {
	infos, err := d.ctx.Devices(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		devices = append(devices, DeviceInfo{
			ID:        i,
			Name:      info.Name(),
			Format:    d.format,
			IsDefault: info.IsDefault != 0,
		})
	}
	return devices, nil
}

func (d *MalgoDriver) OpenInputStream(cfg StreamConfig, cb RenderCallback) (Stream, error) {
	return d.openStream(cfg, cb, malgo.Capture)
}

func (d *MalgoDriver) OpenOutputStream(cfg StreamConfig, cb RenderCallback) (Stream, error) {
	return d.openStream(cfg, cb, malgo.Playback)
}

func (d *MalgoDriver) openStream(cfg StreamConfig, cb RenderCallback, kind malgo.DeviceType) (Stream, error) {
	format := cfg.Format
	if !format.Valid() {
		format = d.format
	}
	bufferFrames := cfg.BufferFrames
	if bufferFrames <= 0 {
		bufferFrames = 512
	}

	deviceConfig := malgo.DefaultDeviceConfig(kind)
	deviceConfig.SampleRate = uint32(format.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(bufferFrames)
	deviceConfig.Alsa.NoMMap = 1
	if kind == malgo.Capture {
		deviceConfig.Capture.Format = malgo.FormatF32
		deviceConfig.Capture.Channels = uint32(format.NumChannels)
	} else {
		deviceConfig.Playback.Format = malgo.FormatF32
		deviceConfig.Playback.Channels = uint32(format.NumChannels)
	}

	if cfg.DeviceID != DefaultDevice {
		infos, err := d.ctx.Devices(kind)
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate devices: %w", err)
		}
		if cfg.DeviceID < 0 || cfg.DeviceID >= len(infos) {
			return nil, ErrNoDeviceWithID
		}
		if kind == malgo.Capture {
			deviceConfig.Capture.DeviceID = infos[cfg.DeviceID].ID.Pointer()
		} else {
			deviceConfig.Playback.DeviceID = infos[cfg.DeviceID].ID.Pointer()
		}
	}

	buf, err := frame.NewBuffer(format, bufferFrames)
	if err != nil {
		return nil, err
	}

	direction := "playback"
	if kind == malgo.Capture {
		direction = "capture"
	}
	s := &malgoStream{
		logger:         d.logger.With("direction", direction),
		capture:        kind == malgo.Capture,
		format:         format,
		bufferFrames:   bufferFrames,
		callback:       cb,
		buf:            buf,
		epoch:          d.epoch,
		nextSampleTime: -1,
	}

	device, err := malgo.InitDevice(d.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize device: %w", err)
	}
	s.device = device
	return s, nil
}

func (d *MalgoDriver) Close() error {
	if err := d.ctx.Uninit(); err != nil {
		return fmt.Errorf("failed to uninitialize miniaudio context: %w", err)
	}
	d.ctx.Free()
	return nil
}

type malgoStream struct {
	logger       *slog.Logger
	capture      bool
	format       frame.Format
	bufferFrames int
	callback     RenderCallback
	buf          *frame.Buffer
	device       *malgo.Device

	// Sample clock state, touched only on the device's data thread.
	epoch          time.Time
	nextSampleTime int64

	mu     sync.Mutex
	closed bool
}

// onData is miniaudio's data callback: real-time, one invocation per device
// period. Capture fills inputSamples; playback expects outputSamples filled.
func (s *malgoStream) onData(outputSamples, inputSamples []byte, frameCount uint32) {
	frames := int(frameCount)
	if frames == 0 {
		return
	}

	if s.nextSampleTime < 0 {
		// Anchor this stream's sample clock to the host clock so two
		// streams started at different moments disagree by exactly their
		// startup skew, the way independent hardware clocks do.
		elapsed := time.Since(s.epoch)
		s.nextSampleTime = int64(elapsed * time.Duration(s.format.SampleRate) / time.Second)
	}
	ts := TimeStamp{SampleTime: s.nextSampleTime, HostTime: time.Now()}
	s.nextSampleTime += int64(frames)

	s.buf.Reset()
	s.buf.SetLen(frames)

	var flags RenderFlags
	if s.capture {
		s.deinterleave(inputSamples, frames)
		if err := s.callback(&flags, ts, 1, frames, s.buf); err != nil {
			s.logger.Warn("capture callback failed", "sampleTime", ts.SampleTime, "err", err)
		}
		return
	}

	if err := s.callback(&flags, ts, 0, frames, s.buf); err != nil {
		s.logger.Warn("render callback failed", "sampleTime", ts.SampleTime, "err", err)
		s.buf.Silence()
	}
	s.interleave(outputSamples, frames)
}

func (s *malgoStream) deinterleave(raw []byte, frames int) {
	channels := s.format.NumChannels
	if len(raw) < frames*channels*4 {
		s.buf.Silence()
		return
	}
	samples := unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), frames*channels)
	for ch := 0; ch < channels; ch++ {
		out := s.buf.Channel(ch)
		for i := 0; i < frames; i++ {
			out[i] = samples[i*channels+ch]
		}
	}
}

func (s *malgoStream) interleave(raw []byte, frames int) {
	channels := s.format.NumChannels
	if len(raw) < frames*channels*4 {
		return
	}
	samples := unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), frames*channels)
	for ch := 0; ch < channels; ch++ {
		in := s.buf.Channel(ch)
		for i := 0; i < frames; i++ {
			samples[i*channels+ch] = in[i]
		}
	}
}

func (s *malgoStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	if s.device.IsStarted() {
		return nil
	}
	s.nextSampleTime = -1
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start device: %w", err)
	}
	return nil
}

func (s *malgoStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.device.IsStarted() {
		return nil
	}
	if err := s.device.Stop(); err != nil {
		return fmt.Errorf("failed to stop device: %w", err)
	}
	return nil
}

func (s *malgoStream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.device.IsStarted()
}

func (s *malgoStream) Format() frame.Format { return s.format }
func (s *malgoStream) BufferFrames() int    { return s.bufferFrames }

// SafetyOffset approximates the device's scheduling margin. miniaudio does
// not surface the platform safety offset, so half a period is assumed; an
// underestimate only costs one resync on the first underrun.
func (s *malgoStream) SafetyOffset() int { return s.bufferFrames / 2 }

func (s *malgoStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.device.Uninit()
	return nil
}
