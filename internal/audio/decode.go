package audio

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/wav"
)

// ErrFormatMismatch is returned when a decoded WAV does not match the
// expected format.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// DecodeWAV decodes mono 16-bit WAV bytes into float32 samples in [-1, 1].
// When wantRate > 0 the file's sample rate must match.
func DecodeWAV(data []byte, wantRate int) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("audio: empty WAV input")
	}

	r := bytes.NewReader(data)

	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("audio: invalid WAV file")
	}

	if wantRate > 0 && dec.SampleRate != uint32(wantRate) {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, dec.SampleRate, wantRate)
	}

	if dec.NumChans != Channels {
		return nil, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, Channels)
	}

	if dec.BitDepth != BitDepth {
		return nil, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("audio: reading PCM data: %w", err)
	}

	samples := buf.Data
	for i, v := range samples {
		f := float64(v)
		if math.Abs(f) > 1 {
			samples[i] = float32(math.Copysign(1, f))
		}
	}

	return samples, nil
}
