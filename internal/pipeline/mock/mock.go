// Package mock implements a deterministic pipeline that renders a tone per
// sentence. It needs no model and is used for development and tests.
package mock

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"

	"github.com/nadzzz/ttsyard/internal/audio"
	"github.com/nadzzz/ttsyard/internal/pipeline"
)

// SamplesPerRune is the number of samples rendered per input character at speed 1.
const SamplesPerRune = 240

// Pipeline renders a sine tone whose length is proportional to the text.
type Pipeline struct {
	lang   string
	closed bool
}

// Load is a pipeline.Loader for the mock backend.
func Load(_ context.Context, langCode string) (pipeline.Pipeline, error) {
	return &Pipeline{lang: langCode}, nil
}

// LangCode returns the language the pipeline was loaded for.
func (p *Pipeline) LangCode() string { return p.lang }

// Device reports "cpu".
func (p *Pipeline) Device() string { return "cpu" }

// Generate yields one segment per sentence of text.
func (p *Pipeline) Generate(ctx context.Context, text, voice string, speed float64) iter.Seq2[pipeline.Segment, error] {
	return func(yield func(pipeline.Segment, error) bool) {
		if p.closed {
			yield(pipeline.Segment{}, fmt.Errorf("mock pipeline closed"))
			return
		}
		if speed <= 0 {
			speed = 1
		}
		for _, sentence := range Sentences(text) {
			if err := ctx.Err(); err != nil {
				yield(pipeline.Segment{}, err)
				return
			}
			n := int(float64(len([]rune(sentence))*SamplesPerRune) / speed)
			seg := pipeline.Segment{
				Graphemes: sentence,
				Phonemes:  strings.ToLower(sentence),
				Audio:     audio.Float32(tone(n, 220+float64(len(voice))*10)),
			}
			if !yield(seg, nil) {
				return
			}
		}
	}
}

// Close marks the pipeline closed.
func (p *Pipeline) Close() error {
	p.closed = true
	return nil
}

// Sentences splits text after '.', '!' and '?' and drops blank pieces.
func Sentences(text string) []string {
	var out []string
	var b strings.Builder
	flush := func() {
		if s := strings.TrimSpace(b.String()); s != "" {
			out = append(out, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			flush()
		}
	}
	flush()
	return out
}

func tone(n int, freq float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(0.5 * math.Sin(2*math.Pi*freq*float64(i)/audio.SampleRate))
	}
	return s
}

var _ pipeline.Pipeline = (*Pipeline)(nil)

