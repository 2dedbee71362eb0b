// Package decoder turns audio files into engine frame buffers and converts
// them to the player's sample format. Supported containers: wav, mp3 and
// ogg/vorbis, selected by file extension.
package decoder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/loopline-audio/loopline/pkg/frame"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no decoder
	// handles.
	ErrUnsupportedFormat = errors.New("unsupported audio file format")

	errInvalidWav = errors.New("not a valid wav file")
	errEmptyClip  = errors.New("audio file contains no frames")
)

// DecodeFile reads the file at path and returns its full contents as a
// frame buffer in the file's native sample format.
func DecodeFile(path string) (*frame.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open audio file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return decodeWav(f)
	case ".mp3":
		return decodeMP3(f)
	case ".ogg", ".oga":
		return decodeVorbis(f)
	default:
		return nil, ErrUnsupportedFormat
	}
}

func decodeWav(f *os.File) (*frame.Buffer, error) {
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errInvalidWav
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("could not read wav data: %w", err)
	}

	format := frame.Format{
		SampleRate:  int(dec.SampleRate),
		NumChannels: int(dec.NumChans),
	}
	channels := format.NumChannels
	frames := len(pcm.Data) / channels
	if frames == 0 {
		return nil, errEmptyClip
	}

	bitDepth := pcm.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	scale := float32(int64(1) << (bitDepth - 1))

	buf, err := frame.NewBuffer(format, frames)
	if err != nil {
		return nil, err
	}
	buf.SetLen(frames)
	for ch := 0; ch < channels; ch++ {
		out := buf.Channel(ch)
		for i := 0; i < frames; i++ {
			out[i] = float32(pcm.Data[i*channels+ch]) / scale
		}
	}
	return buf, nil
}

// decodeMP3 reads an mp3 stream; go-mp3 always yields 16-bit stereo.
func decodeMP3(f *os.File) (*frame.Buffer, error) {
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return nil, fmt.Errorf("could not decode mp3: %w", err)
	}

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("could not read mp3 data: %w", err)
	}

	const channels = 2
	const bytesPerFrame = channels * 2
	frames := len(raw) / bytesPerFrame
	if frames == 0 {
		return nil, errEmptyClip
	}

	format := frame.Format{SampleRate: dec.SampleRate(), NumChannels: channels}
	buf, err := frame.NewBuffer(format, frames)
	if err != nil {
		return nil, err
	}
	buf.SetLen(frames)

	const scale = float32(1 << 15)
	left := buf.Channel(0)
	right := buf.Channel(1)
	for i := 0; i < frames; i++ {
		offset := i * bytesPerFrame
		left[i] = float32(int16(uint16(raw[offset])|uint16(raw[offset+1])<<8)) / scale
		right[i] = float32(int16(uint16(raw[offset+2])|uint16(raw[offset+3])<<8)) / scale
	}
	return buf, nil
}

func decodeVorbis(f *os.File) (*frame.Buffer, error) {
	samples, meta, err := oggvorbis.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("could not decode ogg/vorbis: %w", err)
	}

	channels := meta.Channels
	frames := len(samples) / channels
	if frames == 0 {
		return nil, errEmptyClip
	}

	format := frame.Format{SampleRate: meta.SampleRate, NumChannels: channels}
	buf, err := frame.NewBuffer(format, frames)
	if err != nil {
		return nil, err
	}
	buf.SetLen(frames)
	for ch := 0; ch < channels; ch++ {
		out := buf.Channel(ch)
		for i := 0; i < frames; i++ {
			out[i] = samples[i*channels+ch]
		}
	}
	return buf, nil
}
