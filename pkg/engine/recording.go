package engine

import (
	"fmt"

	"github.com/loopline-audio/loopline/pkg/recorder"
)

// Diagnostic recording taps. Each attaches a wav recorder to one processing
// stage; the stage hands the recorder the same buffers it produces and the
// recorder queues them off the real-time path. Taps must be attached while
// the engine is stopped.

// SetInputRecordingPath records the captured audio to a wav file at path.
func (e *Engine) SetInputRecordingPath(path string) error {
	tap, err := e.newTap(path)
	if err != nil {
		return err
	}
	e.inputRecorder = tap
	return nil
}

// SetPlayerRecordingPath records the scheduled-slice bus to a wav file.
func (e *Engine) SetPlayerRecordingPath(path string) error {
	tap, err := e.newTap(path)
	if err != nil {
		return err
	}
	e.playerRecorder = tap
	return nil
}

// SetOutputRecordingPath records the final mixed output to a wav file.
func (e *Engine) SetOutputRecordingPath(path string) error {
	tap, err := e.newTap(path)
	if err != nil {
		return err
	}
	e.outputRecorder = tap
	return nil
}

func (e *Engine) newTap(path string) (*recorder.Recorder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.isRunning() {
		return nil, errEngineRunning
	}
	tap, err := recorder.New(path, e.outputStream.Format(), e.outputStream.BufferFrames())
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder for %q: %w", path, err)
	}
	return tap, nil
}
