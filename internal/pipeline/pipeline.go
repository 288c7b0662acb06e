// Package pipeline owns the process-wide synthesis pipeline.
//
// A pipeline is bound to one language code. The Manager keeps exactly one
// pipeline loaded at a time and replaces it wholesale when a request asks for
// a different language. All access goes through the Manager's mutex, so a
// request never observes a pipeline that is being torn down.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/nadzzz/ttsyard/internal/audio"
	"github.com/nadzzz/ttsyard/internal/metrics"
	"github.com/nadzzz/ttsyard/internal/voices"
)

// ErrNoAudio is returned when the pipeline finishes without producing a segment.
var ErrNoAudio = errors.New("pipeline produced no audio")

// Segment is one chunk of synthesized audio together with the text it covers.
type Segment struct {
	Graphemes string
	Phonemes  string
	Audio     audio.Samples
}

// Pipeline is a loaded synthesis engine bound to a single language.
type Pipeline interface {
	// LangCode returns the language the pipeline was loaded for.
	LangCode() string

	// Device names where inference runs ("cuda", "mps", "cpu", "remote", ...).
	Device() string

	// Generate produces segments for text in order. Iteration stops at the
	// first error.
	Generate(ctx context.Context, text, voice string, speed float64) iter.Seq2[Segment, error]

	// Close releases the engine.
	Close() error
}

// alive reports false for pipelines that track their own liveness (such as a
// worker process) and have died, so the next request reloads them.
func alive(p Pipeline) bool {
	if a, ok := p.(interface{ Alive() bool }); ok {
		return a.Alive()
	}
	return true
}

// Loader constructs a pipeline for a language code.
type Loader func(ctx context.Context, langCode string) (Pipeline, error)

// Request is the input for Speak.
type Request struct {
	Text     string
	Voice    string
	LangCode string
	Speed    float64
}

// Manager guards the single active pipeline and its cached voice list.
type Manager struct {
	load        Loader
	registry    *voices.Registry
	defaultLang string
	logger      *slog.Logger

	mu       sync.Mutex
	active   Pipeline
	voices   []string
	lastLoad error
}

// NewManager creates a manager. Nothing is loaded until EnsureLoaded,
// Synthesize or Speak is called.
func NewManager(load Loader, registry *voices.Registry, defaultLang string) *Manager {
	return &Manager{
		load:        load,
		registry:    registry,
		defaultLang: defaultLang,
		logger:      slog.With("component", "pipeline"),
	}
}

// EnsureLoaded makes sure the active pipeline is bound to langCode, replacing
// any pipeline loaded for another language.
func (m *Manager) EnsureLoaded(ctx context.Context, langCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked(ctx, langCode)
}

// Synthesize runs the active pipeline and returns the concatenated samples and
// their sample rate. A pipeline is loaded for langCode only if none is loaded;
// reconciling a mismatched language is the caller's job (see Speak).
func (m *Manager) Synthesize(ctx context.Context, text, voice, langCode string, speed float64) ([]float32, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		if err := m.loadLocked(ctx, langCode); err != nil {
			return nil, 0, err
		}
	}
	return m.synthesizeLocked(ctx, text, voice, speed)
}

// Speak reconciles the language and synthesizes in one critical section.
func (m *Manager) Speak(ctx context.Context, req Request) ([]float32, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLocked(ctx, req.LangCode); err != nil {
		return nil, 0, err
	}
	return m.synthesizeLocked(ctx, req.Text, req.Voice, req.Speed)
}

// Stream reconciles the language and hands each segment to fn as it is
// produced. Generation runs under the pipeline lock and queues segments;
// fn runs outside the lock, so a slow consumer never blocks other requests.
// When fn fails, generation is cancelled and its error is returned.
func (m *Manager) Stream(ctx context.Context, req Request, fn func(Segment) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	q := newSegmentQueue()
	go func() { q.finish(m.generate(ctx, req, q.push)) }()

	for {
		seg, ok, err := q.next()
		if !ok {
			return err
		}
		if err := fn(seg); err != nil {
			return err
		}
	}
}

func (m *Manager) generate(ctx context.Context, req Request, emit func(Segment)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLocked(ctx, req.LangCode); err != nil {
		return err
	}
	start := time.Now()
	n := 0
	for seg, err := range m.active.Generate(ctx, req.Text, req.Voice, req.Speed) {
		if err != nil {
			return fmt.Errorf("generating speech: %w", err)
		}
		emit(seg)
		n++
	}
	if n == 0 {
		return ErrNoAudio
	}
	metrics.SynthesisSeconds.Observe(time.Since(start).Seconds())
	return nil
}

// segmentQueue is an unbounded FIFO between the generator and the consumer.
// push never blocks.
type segmentQueue struct {
	mu    sync.Mutex
	items []Segment
	done  bool
	err   error
	wake  chan struct{}
}

func newSegmentQueue() *segmentQueue {
	return &segmentQueue{wake: make(chan struct{}, 1)}
}

func (q *segmentQueue) push(seg Segment) {
	q.mu.Lock()
	q.items = append(q.items, seg)
	q.mu.Unlock()
	q.signal()
}

func (q *segmentQueue) finish(err error) {
	q.mu.Lock()
	q.done, q.err = true, err
	q.mu.Unlock()
	q.signal()
}

func (q *segmentQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// next blocks until a segment is queued or generation has finished. ok is
// false once the queue is drained and finished; err is the generator's result.
func (q *segmentQueue) next() (seg Segment, ok bool, err error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			seg = q.items[0]
			q.items[0] = Segment{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return seg, true, nil
		}
		if q.done {
			err = q.err
			q.mu.Unlock()
			return Segment{}, false, err
		}
		q.mu.Unlock()
		<-q.wake
	}
}

// LoadedLang returns the language of the active pipeline, or "" if none.
func (m *Manager) LoadedLang() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.LangCode()
}

// Voices returns the cached voice list of the active language. When nothing
// has been loaded yet it is populated for the default language.
func (m *Manager) Voices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.voices == nil {
		m.voices = m.registry.VoicesFor(m.defaultLang)
	}
	out := make([]string, len(m.voices))
	copy(out, m.voices)
	return out
}

// Ready reports whether a pipeline is loaded.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// LastError returns the error of the most recent load attempt, if it failed.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLoad
}

// Close tears down the active pipeline.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	err := m.active.Close()
	m.active = nil
	return err
}

func (m *Manager) ensureLocked(ctx context.Context, langCode string) error {
	if m.active != nil && m.voices != nil && m.active.LangCode() == langCode && alive(m.active) {
		return nil
	}
	return m.loadLocked(ctx, langCode)
}

func (m *Manager) loadLocked(ctx context.Context, langCode string) error {
	m.logger.Info("loading pipeline", "lang_code", langCode)
	start := time.Now()

	p, err := m.load(ctx, langCode)
	if err != nil {
		m.lastLoad = err
		metrics.PipelineLoads.WithLabelValues(langCode, "error").Inc()
		m.logger.Error("loading pipeline failed", "lang_code", langCode, "error", err)
		if m.active != nil && !alive(m.active) {
			_ = m.active.Close()
			m.active, m.voices = nil, nil
		}
		return fmt.Errorf("loading pipeline for language %q: %w", langCode, err)
	}

	// The previous pipeline stays in service until its replacement is built.
	if m.active != nil {
		if err := m.active.Close(); err != nil {
			m.logger.Warn("closing previous pipeline", "lang_code", m.active.LangCode(), "error", err)
		}
	}
	m.active = p
	m.voices = m.registry.VoicesFor(langCode)
	m.lastLoad = nil
	metrics.PipelineLoads.WithLabelValues(langCode, "ok").Inc()

	switch p.Device() {
	case "cuda", "mps", "gpu":
		m.logger.Info("using GPU acceleration", "device", p.Device())
	case "cpu":
		m.logger.Warn("GPU not available, using CPU instead")
	default:
		m.logger.Info("pipeline device", "device", p.Device())
	}
	m.logger.Info("pipeline loaded", "lang_code", langCode, "duration", time.Since(start))
	return nil
}

func (m *Manager) synthesizeLocked(ctx context.Context, text, voice string, speed float64) ([]float32, int, error) {
	start := time.Now()
	var segments []audio.Samples
	for seg, err := range m.active.Generate(ctx, text, voice, speed) {
		if err != nil {
			return nil, 0, fmt.Errorf("generating speech: %w", err)
		}
		m.logger.Debug("segment", "index", len(segments), "graphemes", seg.Graphemes, "samples", seg.Audio.Len())
		segments = append(segments, seg.Audio)
	}
	if len(segments) == 0 {
		return nil, 0, ErrNoAudio
	}
	metrics.SynthesisSeconds.Observe(time.Since(start).Seconds())

	// Kokoro always renders at 24 kHz; the rate is not reported per segment.
	return audio.Concat(segments), audio.SampleRate, nil
}
