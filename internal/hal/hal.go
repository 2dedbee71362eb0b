// Package hal defines the boundary between the engine and the platform
// audio layer: device enumeration, stream configuration and the real-time
// render callback contract.
//
// Implementations must invoke the callbacks from their own periodic driver
// threads with monotonically increasing sample-times. The capture stream and
// the playback stream are driven by independent hardware clocks; nothing
// about their relative start is guaranteed, which is exactly the skew the
// engine's clock synchronisation corrects.
package hal

import (
	"errors"
	"time"

	"github.com/loopline-audio/loopline/pkg/frame"
)

var (
	// ErrNoDefaultDevice is returned when a driver cannot resolve a default
	// input or output device.
	ErrNoDefaultDevice = errors.New("no default device available")
	// ErrNoDeviceWithID is returned when the configured device ID does not
	// exist on the driver.
	ErrNoDeviceWithID = errors.New("no device with specified ID")
	// ErrStreamClosed is returned by operations on a closed stream.
	ErrStreamClosed = errors.New("stream is closed")
)

// RenderFlags carries per-callback condition bits between the driver and
// the engine.
type RenderFlags uint32

const (
	// FlagOutputIsSilence marks a callback whose output buffer holds only
	// silence, so downstream stages may skip it.
	FlagOutputIsSilence RenderFlags = 1 << iota
)

// TimeStamp identifies the position of a callback on its device's clock.
// SampleTime is an absolute, monotonically increasing frame count since an
// arbitrary per-device epoch; it is not wall-clock time.
type TimeStamp struct {
	SampleTime int64
	HostTime   time.Time
}

// RenderCallback is a real-time entry point invoked by a driver thread.
// For capture streams buf arrives filled with frameCount captured frames;
// for playback streams the callback must leave frameCount frames in buf.
// Implementations must not block, allocate or take locks, and must absorb
// errors rather than propagate them across the callback boundary.
type RenderCallback func(flags *RenderFlags, ts TimeStamp, bus int, frameCount int, buf *frame.Buffer) error

// DeviceInfo describes one hardware endpoint known to a driver.
type DeviceInfo struct {
	ID        int
	Name      string
	Format    frame.Format
	IsDefault bool
}

// DefaultDevice selects the default device, -1 in StreamConfig.DeviceID.
const DefaultDevice = -1

// StreamConfig describes the stream a driver should open.
type StreamConfig struct {
	DeviceID     int // DefaultDevice for the driver's default endpoint
	Format       frame.Format
	BufferFrames int // 0 lets the driver choose
}

// Stream is one open, directional connection to a device.
type Stream interface {
	// Start begins invoking the render callback. Idempotent.
	Start() error
	// Stop halts callback invocation. Idempotent.
	Stop() error
	Running() bool

	Format() frame.Format
	// BufferFrames is the device period: the frame count of one callback.
	BufferFrames() int
	// SafetyOffset is the driver's additional scheduling margin in frames.
	// SafetyOffset + BufferFrames is the direction's minimum latency.
	SafetyOffset() int

	Close() error
}

// Driver abstracts one platform audio backend.
type Driver interface {
	InputDevices() ([]DeviceInfo, error)
	OutputDevices() ([]DeviceInfo, error)

	OpenInputStream(cfg StreamConfig, cb RenderCallback) (Stream, error)
	OpenOutputStream(cfg StreamConfig, cb RenderCallback) (Stream, error)

	Close() error
}
