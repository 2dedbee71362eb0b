// Package recorder implements the diagnostic wav tap: a processing stage
// hands it the buffers it produces, the recorder copies them into a
// preallocated queue and a writer goroutine encodes them to disk. The
// real-time side only copies and queues; when the queue is full the buffer
// is dropped and counted, never waited for.
package recorder

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/loopline-audio/loopline/pkg/frame"
)

const (
	queueDepth = 64
	bitDepth   = 16
)

// Recorder encodes queued frame buffers to a 16-bit PCM wav file.
type Recorder struct {
	logger *slog.Logger
	uuid   uuid.UUID

	format frame.Format

	free chan *frame.Buffer
	full chan *frame.Buffer

	encoder    *wav.Encoder
	fileHandle *os.File

	dropped   atomic.Int64
	closed    atomic.Bool
	closeOnce sync.Once
	writerWg  sync.WaitGroup
}

// New creates a recorder writing to the wav file at path. maxFrames is the
// largest buffer a stage will hand it, used to preallocate the queue.
func New(path string, format frame.Format, maxFrames int) (*Recorder, error) {
	id := uuid.New()
	logger := slog.Default().With(
		"recorder uuid", id,
		"path", path,
	)

	f, err := os.Create(path)
	if err != nil {
		logger.Error("could not create recording file", "err", err)
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	r := &Recorder{
		logger:     logger,
		uuid:       id,
		format:     format,
		free:       make(chan *frame.Buffer, queueDepth),
		full:       make(chan *frame.Buffer, queueDepth),
		encoder:    wav.NewEncoder(f, format.SampleRate, bitDepth, format.NumChannels, 1),
		fileHandle: f,
	}

	for i := 0; i < queueDepth; i++ {
		buf, err := frame.NewBuffer(format, maxFrames)
		if err != nil {
			f.Close()
			return nil, err
		}
		r.free <- buf
	}

	r.writerWg.Add(1)
	go r.writeLoop()

	logger.Debug("recorder started", "format", format, "maxFrames", maxFrames)
	return r, nil
}

// Record queues a copy of src for encoding. Safe to call from a real-time
// callback: it copies into a preallocated buffer and drops the frame when
// the queue is saturated.
func (r *Recorder) Record(src *frame.Buffer) {
	if r.closed.Load() {
		return
	}
	select {
	case buf := <-r.free:
		buf.Reset()
		buf.CopyFrom(src)
		select {
		case r.full <- buf:
		default:
			// Writer stalled between our two selects; give the buffer back.
			r.free <- buf
			r.dropped.Add(1)
		}
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many buffers were discarded because the writer could
// not keep up.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) writeLoop() {
	defer r.writerWg.Done()

	intBuf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			SampleRate:  r.format.SampleRate,
			NumChannels: r.format.NumChannels,
		},
		SourceBitDepth: bitDepth,
	}

	for buf := range r.full {
		r.encode(intBuf, buf)
		r.free <- buf
	}
}

func (r *Recorder) encode(intBuf *goaudio.IntBuffer, buf *frame.Buffer) {
	const maxInt16 = float32(math.MaxInt16)

	frames := buf.Len()
	channels := r.format.NumChannels
	if need := frames * channels; cap(intBuf.Data) < need {
		intBuf.Data = make([]int, need)
	}
	intBuf.Data = intBuf.Data[:frames*channels]

	for ch := 0; ch < channels; ch++ {
		samples := buf.Channel(ch)
		for i, sample := range samples {
			intBuf.Data[i*channels+ch] = int(sample * maxInt16)
		}
	}

	if err := r.encoder.Write(intBuf); err != nil {
		r.logger.Error("error while writing frames to file", "err", err)
	}
}

// Close drains the queue, finalises the wav header and closes the file.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		close(r.full)
		r.writerWg.Wait()

		if dropped := r.dropped.Load(); dropped > 0 {
			r.logger.Warn("recorder dropped buffers", "dropped", dropped)
		}
		err = r.encoder.Close()
		r.fileHandle.Sync()
		if closeErr := r.fileHandle.Close(); err == nil {
			err = closeErr
		}
	})
	return err
}
