// Package remote implements a pipeline that forwards synthesis to another
// OpenAI-compatible speech server, such as a Kokoro-FastAPI deployment.
package remote

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/nadzzz/ttsyard/internal/audio"
	"github.com/nadzzz/ttsyard/internal/config"
	"github.com/nadzzz/ttsyard/internal/pipeline"
)

// Pipeline asks the upstream server for raw 24 kHz PCM and yields it as a
// single segment.
type Pipeline struct {
	lang   string
	model  string
	client *openai.Client
}

// NewLoader returns a pipeline.Loader for the upstream server. Loading lists
// the upstream models to make sure the server is reachable.
func NewLoader(cfg config.RemoteConfig) pipeline.Loader {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	client := openai.NewClientWithConfig(clientCfg)

	return func(ctx context.Context, langCode string) (pipeline.Pipeline, error) {
		models, err := client.ListModels(ctx)
		if err != nil {
			return nil, fmt.Errorf("contacting upstream %s: %w", cfg.BaseURL, err)
		}
		slog.Debug("upstream reachable", "component", "remote", "base_url", cfg.BaseURL, "models", len(models.Models))
		return &Pipeline{lang: langCode, model: cfg.Model, client: client}, nil
	}
}

// LangCode returns the language the pipeline is bound to.
func (p *Pipeline) LangCode() string { return p.lang }

// Device reports "remote".
func (p *Pipeline) Device() string { return "remote" }

// Close is a no-op.
func (p *Pipeline) Close() error { return nil }

// Generate requests the whole utterance at once.
func (p *Pipeline) Generate(ctx context.Context, text, voice string, speed float64) iter.Seq2[pipeline.Segment, error] {
	return func(yield func(pipeline.Segment, error) bool) {
		resp, err := p.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
			Model:          openai.SpeechModel(p.model),
			Input:          text,
			Voice:          openai.SpeechVoice(voice),
			ResponseFormat: openai.SpeechResponseFormatPcm,
			Speed:          speed,
		})
		if err != nil {
			yield(pipeline.Segment{}, fmt.Errorf("upstream speech request: %w", err))
			return
		}
		defer resp.Close()

		pcm, err := io.ReadAll(resp)
		if err != nil {
			yield(pipeline.Segment{}, fmt.Errorf("reading upstream audio: %w", err))
			return
		}
		if len(pcm) < 2 {
			return
		}
		yield(pipeline.Segment{Graphemes: text, Audio: audio.PCM16(pcm)}, nil)
	}
}

var _ pipeline.Pipeline = (*Pipeline)(nil)
