// Package codec converts synthesized float samples into the response formats
// offered by the speech endpoint.
package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/nadzzz/ttsyard/internal/audio"
	"github.com/nadzzz/ttsyard/internal/metrics"
)

// Formats lists the supported response formats in the order they are advertised.
var Formats = []string{"mp3", "opus", "aac", "flac", "wav", "pcm"}

// DefaultFormat is used when a request names no format.
const DefaultFormat = "mp3"

// ErrEncoderFailed is returned when the external encoder exits unsuccessfully
// or produces no output.
var ErrEncoderFailed = errors.New("external encoder failed")

// IsSupported reports whether format is one of Formats.
func IsSupported(format string) bool {
	return slices.Contains(Formats, format)
}

// SupportedFormats returns a copy of Formats.
func SupportedFormats() []string {
	return slices.Clone(Formats)
}

// ContentType returns the MIME type sent for format.
func ContentType(format string) string {
	return "audio/" + format
}

// Encoder runs the external transcoder.
type Encoder interface {
	// Pipe feeds a WAV file on stdin and returns the encoded stream for
	// format read from stdout.
	Pipe(ctx context.Context, wav []byte, format string) ([]byte, error)

	// RunExternalEncoder encodes the WAV file at in into the opus file at out.
	RunExternalEncoder(ctx context.Context, in, out string) error
}

// Converter encodes sample buffers.
type Converter struct {
	enc     Encoder
	tempDir string
	logger  *slog.Logger
}

// NewConverter creates a converter. An empty tempDir uses os.TempDir.
func NewConverter(enc Encoder, tempDir string) *Converter {
	return &Converter{
		enc:     enc,
		tempDir: tempDir,
		logger:  slog.With("component", "codec"),
	}
}

// Encode converts samples at rate into format. An unsupported format is
// encoded as mp3.
func (c *Converter) Encode(ctx context.Context, samples []float32, rate int, format string) ([]byte, error) {
	if !IsSupported(format) {
		c.logger.Warn("unsupported format, falling back to mp3", "format", format)
		format = DefaultFormat
	}

	start := time.Now()
	defer func() {
		metrics.EncodeSeconds.WithLabelValues(format).Observe(time.Since(start).Seconds())
	}()

	switch format {
	case "pcm":
		return audio.ToPCM16(samples), nil
	case "wav":
		return EncodeWAV(samples, rate)
	case "opus":
		return c.encodeOpus(ctx, samples, rate)
	default:
		wav, err := EncodeWAV(samples, rate)
		if err != nil {
			return nil, err
		}
		out, err := c.enc.Pipe(ctx, wav, format)
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", format, err)
		}
		return out, nil
	}
}

func (c *Converter) encodeOpus(ctx context.Context, samples []float32, rate int) ([]byte, error) {
	wav, err := EncodeWAV(samples, rate)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(c.tempDir, "ttsyard-opus-")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			c.logger.Warn("removing temp files", "dir", dir, "error", err)
		}
	}()

	in := filepath.Join(dir, "speech.wav")
	out := filepath.Join(dir, "speech.opus")
	if err := os.WriteFile(in, wav, 0o600); err != nil {
		return nil, fmt.Errorf("writing temp wav: %w", err)
	}

	if err := c.enc.RunExternalEncoder(ctx, in, out); err != nil {
		return nil, fmt.Errorf("encoding opus: %w", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: reading opus output: %v", ErrEncoderFailed, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty opus output", ErrEncoderFailed)
	}
	return data, nil
}
