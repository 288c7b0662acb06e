package codec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FFmpeg is the Encoder backed by the ffmpeg binary.
type FFmpeg struct {
	Path string
}

// muxers maps response formats to ffmpeg output muxer and codec.
var muxers = map[string][]string{
	"mp3":  {"-f", "mp3", "-c:a", "libmp3lame"},
	"aac":  {"-f", "adts", "-c:a", "aac"},
	"flac": {"-f", "flac", "-c:a", "flac"},
	"opus": {"-f", "ogg", "-c:a", "libopus"},
}

func (f FFmpeg) path() string {
	if f.Path == "" {
		return "ffmpeg"
	}
	return f.Path
}

// Pipe encodes wav into format through stdin and stdout.
func (f FFmpeg) Pipe(ctx context.Context, wav []byte, format string) ([]byte, error) {
	mux, ok := muxers[format]
	if !ok {
		return nil, fmt.Errorf("no ffmpeg muxer for %q", format)
	}
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "wav", "-i", "pipe:0"}
	args = append(args, mux...)
	args = append(args, "pipe:1")

	// #nosec G204 -- binary path comes from operator configuration
	cmd := exec.CommandContext(ctx, f.path(), args...)
	cmd.Stdin = bytes.NewReader(wav)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, encoderError(ctx, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%w: no output for %s", ErrEncoderFailed, format)
	}
	return stdout.Bytes(), nil
}

// RunExternalEncoder converts the WAV file at in into the opus file at out.
func (f FFmpeg) RunExternalEncoder(ctx context.Context, in, out string) error {
	// #nosec G204 -- binary path comes from operator configuration
	cmd := exec.CommandContext(ctx, f.path(), "-hide_banner", "-loglevel", "error",
		"-i", in, "-c:a", "libopus", out, "-y")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return encoderError(ctx, err, stderr.String())
	}
	return nil
}

func encoderError(ctx context.Context, err error, stderr string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if tail := lastLine(stderr); tail != "" {
		return fmt.Errorf("%w: %v: %s", ErrEncoderFailed, err, tail)
	}
	return fmt.Errorf("%w: %v", ErrEncoderFailed, err)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
