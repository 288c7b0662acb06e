// Package speech turns an OpenAI-style speech request into encoded audio.
//
// A request moves through validation, language and voice reconciliation,
// format checking, synthesis and encoding. Client mistakes are reported as
// *BadRequestError; every other error is an internal failure.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nadzzz/ttsyard/internal/audio"
	"github.com/nadzzz/ttsyard/internal/codec"
	"github.com/nadzzz/ttsyard/internal/pipeline"
	"github.com/nadzzz/ttsyard/internal/voices"
)

// BadRequestError is a client error reported with HTTP 400.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// IsBadRequest reports whether err is a client error.
func IsBadRequest(err error) bool {
	var br *BadRequestError
	return errors.As(err, &br)
}

// Options configures a Service.
type Options struct {
	Model        string
	DefaultVoice string
	DefaultLang  string

	// Timeout bounds synthesis and encoding. Zero means no limit beyond the
	// request context.
	Timeout time.Duration
}

// Params is a validated request.
type Params struct {
	Model    string
	Text     string
	Voice    string
	LangCode string
	Format   string
	Speed    float64
}

// Result is an encoded utterance ready to be returned to the client.
type Result struct {
	Audio       []byte
	Format      string
	ContentType string
	Filename    string
	Samples     int
}

// Service handles speech requests.
type Service struct {
	manager  *pipeline.Manager
	registry *voices.Registry
	conv     *codec.Converter
	opts     Options
	logger   *slog.Logger
}

// New creates a Service.
func New(manager *pipeline.Manager, registry *voices.Registry, conv *codec.Converter, opts Options) *Service {
	if opts.DefaultVoice == "" {
		opts.DefaultVoice = "af_heart"
	}
	if opts.DefaultLang == "" {
		opts.DefaultLang = voices.DefaultLang
	}
	return &Service{
		manager:  manager,
		registry: registry,
		conv:     conv,
		opts:     opts,
		logger:   slog.With("component", "speech"),
	}
}

// Model returns the configured model identifier.
func (s *Service) Model() string { return s.opts.Model }

// Parse validates a decoded request body. Voice and format are checked
// against the registry before any pipeline work happens.
func (s *Service) Parse(raw map[string]any) (Params, error) {
	p := Params{
		Model:  s.opts.Model,
		Voice:  s.opts.DefaultVoice,
		Format: codec.DefaultFormat,
		Speed:  1.0,
	}

	if m, ok := raw["model"].(string); ok && m != "" {
		p.Model = m
	}
	if v, ok := raw["voice"]; ok && v != nil {
		p.Voice = stringify(v)
	}
	if f, ok := raw["response_format"]; ok && f != nil {
		p.Format = stringify(f)
	}
	if sp, ok := raw["speed"]; ok {
		speed, err := parseSpeed(sp)
		if err != nil {
			return Params{}, err
		}
		p.Speed = speed
	}

	p.LangCode, p.Voice = voices.SplitVoice(p.Voice, s.opts.DefaultLang)

	text, _ := raw["input"].(string)
	if text == "" {
		return Params{}, badRequest("Missing required parameter: input")
	}
	p.Text = text

	if !s.registry.Supports(p.LangCode, p.Voice) {
		return Params{}, badRequest("Voice '%s' not supported for language '%s'. Supported voices: %v",
			p.Voice, p.LangCode, s.registry.VoicesFor(p.LangCode))
	}
	if !codec.IsSupported(p.Format) {
		return Params{}, badRequest("Format '%s' not supported. Supported formats: %v",
			p.Format, codec.SupportedFormats())
	}
	return p, nil
}

// Handle runs a request end to end.
func (s *Service) Handle(ctx context.Context, raw map[string]any) (*Result, error) {
	p, err := s.Parse(raw)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("voice", p.Voice, "lang_code", p.LangCode, "format", p.Format, "speed", p.Speed)
	logger.Info("generating speech", "model", p.Model, "text", preview(p.Text))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	samples, rate, err := s.manager.Speak(ctx, pipeline.Request{
		Text:     p.Text,
		Voice:    p.Voice,
		LangCode: p.LangCode,
		Speed:    p.Speed,
	})
	if err != nil {
		return nil, err
	}

	data, err := s.conv.Encode(ctx, samples, rate, p.Format)
	if err != nil {
		return nil, err
	}
	logger.Info("generated audio", "bytes", len(data), "samples", len(samples))

	return &Result{
		Audio:       data,
		Format:      p.Format,
		ContentType: codec.ContentType(p.Format),
		Filename:    "speech." + p.Format,
		Samples:     len(samples),
	}, nil
}

// Stream validates a request and hands each synthesized segment to fn as
// 16-bit little-endian PCM at audio.SampleRate. It returns the total number
// of samples sent. The requested response format is ignored.
func (s *Service) Stream(ctx context.Context, raw map[string]any, fn func(pcm []byte) error) (int, error) {
	if _, ok := raw["response_format"]; !ok {
		raw["response_format"] = "pcm"
	}
	p, err := s.Parse(raw)
	if err != nil {
		return 0, err
	}
	s.logger.Info("streaming speech", "voice", p.Voice, "lang_code", p.LangCode, "text", preview(p.Text))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	total := 0
	err = s.manager.Stream(ctx, pipeline.Request{
		Text:     p.Text,
		Voice:    p.Voice,
		LangCode: p.LangCode,
		Speed:    p.Speed,
	}, func(seg pipeline.Segment) error {
		total += seg.Audio.Len()
		if seg.Audio.Kind() == audio.KindPCM16 {
			return fn(seg.Audio.Raw())
		}
		return fn(audio.ToPCM16(seg.Audio.Host()))
	})
	return total, err
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout > 0 {
		return context.WithTimeout(ctx, s.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

// parseSpeed accepts a JSON number or a numeric string.
func parseSpeed(v any) (float64, error) {
	switch sp := v.(type) {
	case float64:
		return sp, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(sp), 64)
		if err != nil {
			return 0, fmt.Errorf("could not convert string to float: '%s'", sp)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("invalid speed value: %v", v)
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func preview(text string) string {
	r := []rune(text)
	if len(r) > 50 {
		return string(r[:50]) + "..."
	}
	return text
}
