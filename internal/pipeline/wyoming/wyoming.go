// Package wyoming implements a pipeline backed by a Wyoming protocol TTS
// server, such as a Kokoro or Piper container exposing TCP port 10200.
//
// Wyoming protocol format (per event):
//
//	<json_length> <payload_length>\n
//	<json_bytes>\n
//	<payload_bytes>   (if payload_length > 0)
package wyoming

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/nadzzz/ttsyard/internal/audio"
	"github.com/nadzzz/ttsyard/internal/config"
	"github.com/nadzzz/ttsyard/internal/pipeline"
)

const dialTimeout = 10 * time.Second

// Pipeline synthesizes through one Wyoming server. Connections are per request.
type Pipeline struct {
	lang     string
	endpoint string
	logger   *slog.Logger
}

// NewLoader returns a pipeline.Loader that binds each language to its
// configured endpoint and checks the server answers a describe event.
func NewLoader(cfg config.WyomingConfig) pipeline.Loader {
	endpoints := make(map[string]string, len(cfg.Endpoints))
	for lang, ep := range cfg.Endpoints {
		endpoints[lang] = cleanEndpoint(ep)
	}
	fallback := cleanEndpoint(cfg.Endpoint)

	return func(ctx context.Context, langCode string) (pipeline.Pipeline, error) {
		endpoint := endpoints[langCode]
		if endpoint == "" {
			endpoint = fallback
		}
		if endpoint == "" {
			return nil, fmt.Errorf("no wyoming endpoint configured for language %q", langCode)
		}
		p := &Pipeline{
			lang:     langCode,
			endpoint: endpoint,
			logger:   slog.With("component", "wyoming", "lang_code", langCode, "endpoint", endpoint),
		}
		if err := p.describe(ctx); err != nil {
			return nil, err
		}
		return p, nil
	}
}

func cleanEndpoint(ep string) string {
	ep = strings.TrimPrefix(ep, "tcp://")
	ep = strings.TrimPrefix(ep, "http://")
	return ep
}

// LangCode returns the language the pipeline is bound to.
func (p *Pipeline) LangCode() string { return p.lang }

// Device reports "remote"; inference happens on the Wyoming server.
func (p *Pipeline) Device() string { return "remote" }

// Close is a no-op, connections are per request.
func (p *Pipeline) Close() error { return nil }

func (p *Pipeline) dial(ctx context.Context) (net.Conn, *bufio.Reader, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to wyoming server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// Unblock reads when the request is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	return &stoppingConn{Conn: conn, stop: stop}, bufio.NewReader(conn), nil
}

func (p *Pipeline) describe(ctx context.Context) error {
	conn, r, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeEvent(conn, event{Type: "describe"}, nil); err != nil {
		return fmt.Errorf("sending describe event: %w", err)
	}
	for {
		evt, _, err := readEvent(r)
		if err != nil {
			return fmt.Errorf("reading describe response: %w", err)
		}
		if evt.Type == "info" {
			return nil
		}
		p.logger.Debug("skipping event while waiting for info", "type", evt.Type)
	}
}

// Generate yields every audio-chunk the server sends as one segment. Audio at
// another rate or channel count is converted to 24 kHz mono.
func (p *Pipeline) Generate(ctx context.Context, text, voice string, speed float64) iter.Seq2[pipeline.Segment, error] {
	return func(yield func(pipeline.Segment, error) bool) {
		conn, r, err := p.dial(ctx)
		if err != nil {
			yield(pipeline.Segment{}, err)
			return
		}
		defer conn.Close()

		data := map[string]any{
			"text":  text,
			"voice": map[string]any{"name": voice},
		}
		if speed > 0 && speed != 1 {
			// Piper-style servers read length_scale; shorter is faster.
			data["synthesize_options"] = map[string]any{"length_scale": 1 / speed}
		}
		if err := writeEvent(conn, event{Type: "synthesize", Data: data}, nil); err != nil {
			yield(pipeline.Segment{}, fmt.Errorf("sending synthesize event: %w", err))
			return
		}

		width, rate, channels := 2, audio.SampleRate, 1
		var resampler *audio.Resampler
		for {
			evt, payload, err := readEvent(r)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield(pipeline.Segment{}, fmt.Errorf("reading wyoming event: %w", err))
				return
			}

			switch evt.Type {
			case "audio-start":
				if w, ok := evt.Data["width"].(float64); ok {
					width = int(w)
				}
				if v, ok := evt.Data["rate"].(float64); ok && v > 0 {
					rate = int(v)
				}
				if v, ok := evt.Data["channels"].(float64); ok && v > 0 {
					channels = int(v)
				}
				if width != 2 {
					yield(pipeline.Segment{}, fmt.Errorf("unsupported sample width %d", width))
					return
				}
				if rate != audio.SampleRate {
					p.logger.Debug("resampling wyoming audio", "rate", rate, "target", audio.SampleRate)
					resampler = audio.NewResampler(rate, audio.SampleRate)
				}

			case "audio-chunk":
				if len(payload) == 0 {
					continue
				}
				if !yield(pipeline.Segment{Graphemes: text, Audio: normalize(payload, channels, resampler)}, nil) {
					return
				}

			case "audio-stop":
				return

			case "error":
				msg := "unknown error"
				if t, ok := evt.Data["text"].(string); ok {
					msg = t
				}
				yield(pipeline.Segment{}, fmt.Errorf("wyoming error: %s", msg))
				return

			default:
				p.logger.Debug("wyoming unknown event", "type", evt.Type)
			}
		}
	}
}

// normalize converts a chunk to mono at audio.SampleRate. Chunks already in
// that shape pass through as PCM16.
func normalize(pcm []byte, channels int, resampler *audio.Resampler) audio.Samples {
	if channels <= 1 && resampler == nil {
		return audio.PCM16(pcm)
	}
	s := audio.Downmix(audio.PCM16(pcm).Host(), channels)
	if resampler != nil {
		s = resampler.Process(s)
	}
	return audio.Float32(s)
}

type stoppingConn struct {
	net.Conn
	stop func() bool
}

func (c *stoppingConn) Close() error {
	c.stop()
	return c.Conn.Close()
}

// --- Wyoming protocol helpers ---

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// writeEvent sends a Wyoming event over the connection.
func writeEvent(w io.Writer, evt event, payload []byte) error {
	jsonBytes, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	// Header: <json_length> <payload_length>\n
	header := fmt.Sprintf("%d %d\n", len(jsonBytes), len(payload))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := w.Write(append(jsonBytes, '\n')); err != nil {
		return err
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return err
		}
	}
	return nil
}

// Header limits. One second of 16-bit mono audio at 24 kHz is 48 KB.
const (
	maxJSONLen    = 1 << 20
	maxPayloadLen = 16 << 20
)

// readEvent reads a Wyoming event from the connection.
func readEvent(r *bufio.Reader) (*event, []byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header: %w", err)
	}

	parts := strings.Fields(line)
	if len(parts) != 2 {
		return nil, nil, fmt.Errorf("invalid wyoming header: %q", strings.TrimSpace(line))
	}
	jsonLen, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing json_length: %w", err)
	}
	payloadLen, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing payload_length: %w", err)
	}
	if jsonLen < 0 || jsonLen > maxJSONLen {
		return nil, nil, fmt.Errorf("json_length %d out of range", jsonLen)
	}
	if payloadLen < 0 || payloadLen > maxPayloadLen {
		return nil, nil, fmt.Errorf("payload_length %d out of range", payloadLen)
	}

	// JSON plus its trailing newline.
	jsonBuf := make([]byte, jsonLen+1)
	if _, err := io.ReadFull(r, jsonBuf); err != nil {
		return nil, nil, fmt.Errorf("reading json: %w", err)
	}

	var evt event
	if err := json.Unmarshal(jsonBuf[:jsonLen], &evt); err != nil {
		return nil, nil, fmt.Errorf("unmarshalling event: %w", err)
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, nil, fmt.Errorf("reading payload: %w", err)
		}
	}
	return &evt, payload, nil
}

var _ pipeline.Pipeline = (*Pipeline)(nil)
