// Package audio defines the sample buffers passed between the synthesis
// pipeline and the format converter.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// SampleRate is the output rate of the Kokoro model family in Hz.
const SampleRate = 24000

// Kind tags the representation held by Samples.
type Kind int

const (
	// KindFloat32 is a host buffer of float samples in [-1, 1].
	KindFloat32 Kind = iota
	// KindPCM16 is raw little-endian signed 16-bit PCM, as produced by
	// accelerated or remote backends that never materialize float samples.
	KindPCM16
)

func (k Kind) String() string {
	switch k {
	case KindFloat32:
		return "f32le"
	case KindPCM16:
		return "s16le"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Samples is a mono audio buffer in one of the supported representations.
type Samples struct {
	kind Kind
	f32  []float32
	pcm  []byte
}

// Float32 wraps host float samples.
func Float32(s []float32) Samples {
	return Samples{kind: KindFloat32, f32: s}
}

// PCM16 wraps little-endian 16-bit PCM bytes. A trailing odd byte is ignored.
func PCM16(b []byte) Samples {
	return Samples{kind: KindPCM16, pcm: b[:len(b)&^1]}
}

// Kind returns the representation tag.
func (s Samples) Kind() Kind { return s.kind }

// Len returns the number of samples.
func (s Samples) Len() int {
	if s.kind == KindPCM16 {
		return len(s.pcm) / 2
	}
	return len(s.f32)
}

// Raw returns the PCM16 bytes, or nil for float buffers.
func (s Samples) Raw() []byte {
	if s.kind != KindPCM16 {
		return nil
	}
	return s.pcm
}

// Host returns the samples as a float buffer. Float buffers are returned
// as-is; PCM16 is scaled into [-1, 1).
func (s Samples) Host() []float32 {
	if s.kind == KindFloat32 {
		return s.f32
	}
	out := make([]float32, len(s.pcm)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(s.pcm[2*i:]))
		out[i] = float32(v) / 32768
	}
	return out
}

// Concat joins segments in order into one host buffer.
func Concat(segments []Samples) []float32 {
	if len(segments) == 1 {
		return segments[0].Host()
	}
	total := 0
	for _, s := range segments {
		total += s.Len()
	}
	out := make([]float32, 0, total)
	for _, s := range segments {
		out = append(out, s.Host()...)
	}
	return out
}

// DecodeFloat32LE parses little-endian IEEE 754 float samples.
func DecodeFloat32LE(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("f32le payload length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE.
func EncodeFloat32LE(s []float32) []byte {
	b := make([]byte, 4*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint32(b[4*i:], math.Float32bits(v))
	}
	return b
}

// ToPCM16 converts float samples to 16-bit PCM by scaling with 32767 and
// truncating. Out-of-range input wraps, matching a plain integer cast.
func ToPCM16(s []float32) []byte {
	b := make([]byte, 2*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(int32(v*32767))))
	}
	return b
}

// Downmix averages interleaved frames of the given channel count into mono.
// A trailing partial frame is dropped.
func Downmix(s []float32, channels int) []float32 {
	if channels <= 1 {
		return s
	}
	out := make([]float32, len(s)/channels)
	for i := range out {
		var sum float32
		for _, v := range s[i*channels : (i+1)*channels] {
			sum += v
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resampler converts a mono stream between sample rates by linear
// interpolation. State carries over between Process calls, so a stream fed
// in chunks comes out the same as when fed whole.
type Resampler struct {
	step float64 // input samples advanced per output sample
	pos  float64 // next output position in the coming chunk; -1 is the previous chunk's last sample
	last float32
}

// NewResampler returns a resampler from rate from to rate to.
func NewResampler(from, to int) *Resampler {
	return &Resampler{step: float64(from) / float64(to)}
}

// Process resamples the next chunk of the stream.
func (r *Resampler) Process(in []float32) []float32 {
	if len(in) == 0 {
		return nil
	}
	at := func(i int) float32 {
		if i < 0 {
			return r.last
		}
		return in[i]
	}

	end := float64(len(in) - 1)
	out := make([]float32, 0, int((end-r.pos)/r.step)+1)
	for ; r.pos <= end; r.pos += r.step {
		i := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(i))
		v := at(i)
		if frac > 0 {
			v += (at(i+1) - v) * frac
		}
		out = append(out, v)
	}
	r.pos -= float64(len(in))
	r.last = in[len(in)-1]
	return out
}
