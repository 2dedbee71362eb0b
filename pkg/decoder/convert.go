package decoder

import (
	"errors"

	"github.com/oov/audio/resampler"

	"github.com/loopline-audio/loopline/pkg/frame"
)

const resampleQuality = 10

var errInvalidTargetFormat = errors.New("invalid target format")

// Convert returns src rendered in the target format: channels are mixed up
// or down first, then the sample rate is converted. When the formats already
// match, src is returned unchanged.
func Convert(src *frame.Buffer, target frame.Format) (*frame.Buffer, error) {
	if !target.Valid() {
		return nil, errInvalidTargetFormat
	}
	if src.Format() == target {
		return src, nil
	}

	buf := src
	var err error
	if buf.Format().NumChannels != target.NumChannels {
		buf, err = convertChannels(buf, target.NumChannels)
		if err != nil {
			return nil, err
		}
	}
	if buf.Format().SampleRate != target.SampleRate {
		buf, err = resample(buf, target.SampleRate)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// convertChannels mixes stereo down by averaging and spreads mono up by
// duplication. Other channel-count pairs duplicate or drop trailing
// channels.
func convertChannels(src *frame.Buffer, channels int) (*frame.Buffer, error) {
	srcFormat := src.Format()
	frames := src.Len()

	out, err := frame.NewBuffer(frame.Format{
		SampleRate:  srcFormat.SampleRate,
		NumChannels: channels,
	}, frames)
	if err != nil {
		return nil, err
	}
	out.SetLen(frames)

	if srcFormat.NumChannels == 2 && channels == 1 {
		left := src.Channel(0)
		right := src.Channel(1)
		mono := out.Channel(0)
		for i := range mono {
			mono[i] = (left[i] + right[i]) / 2
		}
		return out, nil
	}

	for ch := 0; ch < channels; ch++ {
		copy(out.Channel(ch), src.Channel(ch%srcFormat.NumChannels))
	}
	return out, nil
}

// resample converts the clip to the target sample rate. The resampler is
// streaming, so after the input is consumed it is fed silence until the
// expected frame count has been flushed out.
func resample(src *frame.Buffer, sampleRate int) (*frame.Buffer, error) {
	srcFormat := src.Format()
	channels := srcFormat.NumChannels
	frames := src.Len()
	expected := int(int64(frames) * int64(sampleRate) / int64(srcFormat.SampleRate))
	if expected == 0 {
		return nil, errEmptyClip
	}

	out, err := frame.NewBuffer(frame.Format{
		SampleRate:  sampleRate,
		NumChannels: channels,
	}, expected)
	if err != nil {
		return nil, err
	}
	out.SetLen(expected)

	r := resampler.New(channels, srcFormat.SampleRate, sampleRate, resampleQuality)
	flush := make([]float32, 256)
	for ch := 0; ch < channels; ch++ {
		in := src.Channel(ch)
		dst := out.Channel(ch)
		written := 0
		for written < expected {
			var n int
			if len(in) > 0 {
				var read int
				read, n = r.ProcessFloat32(ch, in, dst[written:])
				in = in[read:]
				if read == 0 && n == 0 {
					break
				}
			} else {
				_, n = r.ProcessFloat32(ch, flush, dst[written:])
				if n == 0 {
					break
				}
			}
			written += n
		}
	}
	return out, nil
}
