package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/ttsyard/internal/config"
	"github.com/nadzzz/ttsyard/internal/pipeline"
)

func upstream(t *testing.T, pcm []byte) (*httptest.Server, chan map[string]any) {
	t.Helper()
	got := make(chan map[string]any, 1)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"kokoro","object":"model","owned_by":"kokoro"}]}`))
	})
	mux.HandleFunc("POST /v1/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		got <- body
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(pcm)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, got
}

func TestGenerateForwardsRequest(t *testing.T) {
	srv, got := upstream(t, []byte{0x00, 0x40, 0x00, 0xc0})
	load := NewLoader(config.RemoteConfig{BaseURL: srv.URL + "/v1", APIKey: "secret", Model: "kokoro"})

	p, err := load(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", p.LangCode())

	var segs []pipeline.Segment
	for seg, err := range p.Generate(context.Background(), "Hello world", "af_bella", 1.5) {
		require.NoError(t, err)
		segs = append(segs, seg)
	}
	require.Len(t, segs, 1)
	assert.Equal(t, []float32{0.5, -0.5}, segs[0].Audio.Host())

	body := <-got
	assert.Equal(t, "kokoro", body["model"])
	assert.Equal(t, "Hello world", body["input"])
	assert.Equal(t, "af_bella", body["voice"])
	assert.Equal(t, "pcm", body["response_format"])
	assert.Equal(t, 1.5, body["speed"])
}

func TestGenerateEmptyAudioYieldsNothing(t *testing.T) {
	srv, _ := upstream(t, nil)
	p, err := NewLoader(config.RemoteConfig{BaseURL: srv.URL + "/v1", APIKey: "secret", Model: "kokoro"})(context.Background(), "a")
	require.NoError(t, err)

	n := 0
	for _, err := range p.Generate(context.Background(), "Hello", "af_bella", 1) {
		require.NoError(t, err)
		n++
	}
	assert.Zero(t, n)
}

func TestLoadFailsWhenUpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewLoader(config.RemoteConfig{BaseURL: srv.URL + "/v1"})(context.Background(), "a")
	assert.ErrorContains(t, err, "contacting upstream")
}
