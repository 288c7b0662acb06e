// Package worker implements a pipeline backed by a long-lived model worker
// process, typically a Python process wrapping the Kokoro KPipeline.
//
// The worker is started once per language and speaks newline-delimited JSON:
//
//	worker -> {"event":"ready","lang_code":"a","device":"cuda"}
//	server -> {"id":"...","text":"...","voice":"af_heart","speed":1.0}
//	worker -> {"id":"...","event":"segment","graphemes":"...","phonemes":"...","encoding":"f32le","audio":"<base64>"}
//	worker -> {"id":"...","event":"done"}
//
// A failed request is answered with {"id":"...","event":"error","error":"..."}.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"

	"github.com/nadzzz/ttsyard/internal/audio"
	"github.com/nadzzz/ttsyard/internal/config"
	"github.com/nadzzz/ttsyard/internal/pipeline"
)

// ErrClosed is returned when a request reaches a worker that has exited or been closed.
var ErrClosed = errors.New("worker closed")

const stderrTail = 8 << 10

type request struct {
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

type response struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	LangCode  string `json:"lang_code,omitempty"`
	Device    string `json:"device,omitempty"`
	Graphemes string `json:"graphemes,omitempty"`
	Phonemes  string `json:"phonemes,omitempty"`
	Encoding  string `json:"encoding,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Worker is a running model worker bound to one language.
type Worker struct {
	lang        string
	device      string
	stopTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	enc    sonic.Encoder
	dec    sonic.Decoder
	stderr *tailBuffer
	exited chan struct{}
	closed bool
}

// NewLoader returns a pipeline.Loader that starts a worker per language.
func NewLoader(cfg config.WorkerConfig, env ...string) pipeline.Loader {
	return func(ctx context.Context, langCode string) (pipeline.Pipeline, error) {
		return Start(ctx, cfg, langCode, env...)
	}
}

// Start launches the worker command for langCode and waits for its ready line.
func Start(ctx context.Context, cfg config.WorkerConfig, langCode string, env ...string) (*Worker, error) {
	args, err := commandArgs(cfg.Command, langCode)
	if err != nil {
		return nil, err
	}

	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), env...)
	stderr := &tailBuffer{max: stderrTail}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	w := &Worker{
		lang:        langCode,
		stopTimeout: cfg.StopTimeout,
		logger:      slog.With("component", "worker", "lang_code", langCode, "pid", cmd.Process.Pid),
		cmd:         cmd,
		stdin:       stdin,
		enc:         sonic.ConfigStd.NewEncoder(stdin),
		dec:         sonic.ConfigStd.NewDecoder(stdout),
		stderr:      stderr,
		exited:      make(chan struct{}),
	}
	go func() {
		_ = cmd.Wait()
		close(w.exited)
	}()

	if err := w.awaitReady(ctx, cfg.StartTimeout); err != nil {
		w.kill()
		return nil, w.withStderr(err)
	}
	w.logger.Info("worker ready", "device", w.device)
	return w, nil
}

func (w *Worker) awaitReady(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ready := make(chan error, 1)
	go func() {
		var resp response
		if err := w.dec.Decode(&resp); err != nil {
			ready <- fmt.Errorf("reading ready line: %w", err)
			return
		}
		switch resp.Event {
		case "ready":
			w.device = resp.Device
			if resp.LangCode != "" && resp.LangCode != w.lang {
				ready <- fmt.Errorf("worker loaded language %q, want %q", resp.LangCode, w.lang)
				return
			}
			ready <- nil
		case "error":
			ready <- fmt.Errorf("worker failed to load: %s", resp.Error)
		default:
			ready <- fmt.Errorf("unexpected worker event %q before ready", resp.Event)
		}
	}()

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker: %w", ctx.Err())
	}
}

// LangCode returns the language the worker was started for.
func (w *Worker) LangCode() string { return w.lang }

// Device returns the device reported by the worker.
func (w *Worker) Device() string {
	if w.device == "" {
		return "unknown"
	}
	return w.device
}

// Alive reports whether the worker process is still usable.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// Generate sends one request and yields the segments the worker streams back.
// Cancelling ctx mid-request kills the worker, since its output can no longer
// be kept in sync.
func (w *Worker) Generate(ctx context.Context, text, voice string, speed float64) iter.Seq2[pipeline.Segment, error] {
	return func(yield func(pipeline.Segment, error) bool) {
		w.mu.Lock()
		defer w.mu.Unlock()

		if w.closed {
			yield(pipeline.Segment{}, ErrClosed)
			return
		}

		id := uuid.NewString()
		if err := w.enc.Encode(request{ID: id, Text: text, Voice: voice, Speed: speed}); err != nil {
			yield(pipeline.Segment{}, w.withStderr(fmt.Errorf("writing request: %w", err)))
			return
		}

		stop := context.AfterFunc(ctx, func() {
			w.logger.Warn("request cancelled, killing worker", "request_id", id)
			_ = w.cmd.Process.Kill()
		})
		defer stop()

		for {
			var resp response
			if err := w.dec.Decode(&resp); err != nil {
				w.closed = true
				if ctxErr := ctx.Err(); ctxErr != nil {
					yield(pipeline.Segment{}, ctxErr)
					return
				}
				yield(pipeline.Segment{}, w.withStderr(fmt.Errorf("reading response: %w", err)))
				return
			}
			if resp.ID != id {
				w.closed = true
				yield(pipeline.Segment{}, fmt.Errorf("worker out of sync (got %q, expected %q)", resp.ID, id))
				return
			}

			switch resp.Event {
			case "segment":
				samples, err := decodeAudio(resp.Encoding, resp.Audio)
				if err != nil {
					yield(pipeline.Segment{}, err)
					w.drain(id)
					return
				}
				seg := pipeline.Segment{Graphemes: resp.Graphemes, Phonemes: resp.Phonemes, Audio: samples}
				if !yield(seg, nil) {
					w.drain(id)
					return
				}
			case "done":
				return
			case "error":
				msg := strings.TrimSpace(resp.Error)
				if msg == "" {
					msg = "unknown worker error"
				}
				yield(pipeline.Segment{}, errors.New(msg))
				return
			default:
				w.logger.Debug("ignoring worker event", "event", resp.Event)
			}
		}
	}
}

// drain consumes the rest of a response stream so the next request starts in sync.
func (w *Worker) drain(id string) {
	for {
		var resp response
		if err := w.dec.Decode(&resp); err != nil {
			w.closed = true
			return
		}
		if resp.ID != id || resp.Event == "done" || resp.Event == "error" {
			return
		}
	}
}

// Close stops the worker: stdin is closed, the process is interrupted and
// killed if it has not exited within the stop timeout.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed && w.stdin == nil {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	stdin := w.stdin
	w.stdin = nil
	w.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	_ = w.cmd.Process.Signal(os.Interrupt)

	timeout := w.stopTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	select {
	case <-w.exited:
	case <-time.After(timeout):
		w.logger.Warn("worker did not exit, killing")
		w.kill()
	}
	return nil
}

func (w *Worker) kill() {
	_ = w.cmd.Process.Kill()
	<-w.exited
}

func (w *Worker) withStderr(err error) error {
	if detail := strings.TrimSpace(w.stderr.String()); detail != "" {
		return fmt.Errorf("%w: %s", err, detail)
	}
	return err
}

func decodeAudio(encoding string, b []byte) (audio.Samples, error) {
	switch encoding {
	case "", "f32le":
		s, err := audio.DecodeFloat32LE(b)
		if err != nil {
			return audio.Samples{}, err
		}
		return audio.Float32(s), nil
	case "s16le":
		return audio.PCM16(b), nil
	default:
		return audio.Samples{}, fmt.Errorf("unsupported audio encoding %q", encoding)
	}
}

// commandArgs expands the {lang} placeholder, or appends --lang-code when
// the command has none.
func commandArgs(command, langCode string) ([]string, error) {
	hasPlaceholder := strings.Contains(command, "{lang}")
	args, err := shellwords.Parse(strings.ReplaceAll(command, "{lang}", langCode))
	if err != nil {
		return nil, fmt.Errorf("parse worker command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("worker command empty")
	}
	if !hasPlaceholder {
		args = append(args, "--lang-code", langCode)
	}
	return args, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

var _ pipeline.Pipeline = (*Worker)(nil)
