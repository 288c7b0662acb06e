package codec

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth      = 16
	numChannels   = 1
	wavFormatPCM  = 1
	maxPCM16Value = 32767
)

// EncodeWAV renders mono float samples as a 16-bit PCM WAV file. Samples
// outside [-1, 1] are clamped.
func EncodeWAV(samples []float32, rate int) ([]byte, error) {
	ints := make([]int, len(samples))
	for i, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		ints[i] = int(s * maxPCM16Value)
	}

	buf := &writeSeeker{}
	enc := wav.NewEncoder(buf, rate, bitDepth, numChannels, wavFormatPCM)
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: numChannels, SampleRate: rate},
		Data:           ints,
		SourceBitDepth: bitDepth,
	})
	if err != nil {
		return nil, fmt.Errorf("writing wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalizing wav: %w", err)
	}
	return buf.buf, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch the RIFF sizes on Close.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		w.buf = append(w.buf, make([]byte, end-len(w.buf))...)
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
