package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/ttsyard/internal/audio"
	"github.com/nadzzz/ttsyard/internal/codec"
	"github.com/nadzzz/ttsyard/internal/config"
	"github.com/nadzzz/ttsyard/internal/pipeline"
	"github.com/nadzzz/ttsyard/internal/pipeline/mock"
	"github.com/nadzzz/ttsyard/internal/speech"
	"github.com/nadzzz/ttsyard/internal/voices"
)

const modelID = "hexgrad/Kokoro-82M"

type fakeEncoder struct{}

func (fakeEncoder) Pipe(_ context.Context, _ []byte, format string) ([]byte, error) {
	return []byte("encoded-" + format), nil
}

func (fakeEncoder) RunExternalEncoder(_ context.Context, _, out string) error {
	return os.WriteFile(out, []byte("encoded-opus"), 0o600)
}

type fixture struct {
	srv     *httptest.Server
	manager *pipeline.Manager
}

func newFixture(t *testing.T, load pipeline.Loader) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, load, config.ServerConfig{CORS: true, MaxBodyBytes: 1 << 20})
}

func newFixtureWithConfig(t *testing.T, load pipeline.Loader, cfg config.ServerConfig) *fixture {
	t.Helper()
	if load == nil {
		load = mock.Load
	}
	reg := voices.NewRegistry(nil)
	m := pipeline.NewManager(load, reg, voices.DefaultLang)
	t.Cleanup(func() { _ = m.Close() })
	svc := speech.New(m, reg, codec.NewConverter(fakeEncoder{}, t.TempDir()), speech.Options{Model: modelID})

	tr := New(cfg, svc, m)
	srv := httptest.NewServer(tr.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, manager: m}
}

func (f *fixture) post(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(f.srv.URL+"/v1/audio/speech", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func errorOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	return decodeBody[map[string]string](t, resp)["error"]
}

func TestSpeechReturnsAttachment(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, `{"model":"tts-1","input":"Hello world.","voice":"af_bella","response_format":"wav"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=speech.wav", resp.Header.Get("Content-Disposition"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(body[:4]))
}

func TestSpeechDefaultsToMP3(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, `{"input":"Hello"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mp3", resp.Header.Get("Content-Type"))
	assert.Equal(t, "attachment; filename=speech.mp3", resp.Header.Get("Content-Disposition"))
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "encoded-mp3", string(body))
}

func TestSpeechPCMLength(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, `{"input":"Hi there. Bye.","response_format":"pcm","speed":"1.0"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/pcm", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	samples := (len("Hi there.") + len("Bye.")) * mock.SamplesPerRune
	assert.Len(t, body, 2*samples)
}

func TestSpeechLanguagePrefixReloadsPipeline(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.post(t, `{"input":"Hola.","voice":"e.en_male_1","response_format":"pcm"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "e", f.manager.LoadedLang())

	health := decodeBody[map[string]any](t, f.get(t, "/health"))
	assert.Equal(t, []any{"en_female_1", "en_male_1", "en_female_2", "en_male_2"}, health["supported_voices"])
}

func TestSpeechInvalidJSON(t *testing.T) {
	f := newFixture(t, nil)
	for _, body := range []string{"not json", "[1,2]", "null", `"text"`, ""} {
		resp := f.post(t, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "Invalid JSON", errorOf(t, resp), body)
	}
}

func TestSpeechClientErrors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		body string
		want string
	}{
		{`{"voice":"af_heart"}`, "Missing required parameter: input"},
		{`{"input":""}`, "Missing required parameter: input"},
		{`{"input":"x","voice":"zz_nobody"}`, "Voice 'zz_nobody' not supported for language 'a'. Supported voices: ["},
		{`{"input":"x","response_format":"ogg"}`, "Format 'ogg' not supported. Supported formats: [mp3 opus aac flac wav pcm]"},
	}
	for _, tt := range tests {
		resp := f.post(t, tt.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tt.body)
		assert.True(t, strings.HasPrefix(errorOf(t, resp), tt.want), tt.body)
	}
	assert.False(t, f.manager.Ready(), "client errors must not load the pipeline")
}

func TestSpeechInternalErrors(t *testing.T) {
	f := newFixture(t, func(context.Context, string) (pipeline.Pipeline, error) {
		return nil, errors.New("kokoro weights not found")
	})

	resp := f.post(t, `{"input":"Hello"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, errorOf(t, resp), "kokoro weights not found")

	resp = f.post(t, `{"input":"Hello","speed":"fast"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "could not convert string to float: 'fast'", errorOf(t, resp))
}

func TestSpeechBodyTooLarge(t *testing.T) {
	f := newFixtureWithConfig(t, nil, config.ServerConfig{MaxBodyBytes: 64})
	resp := f.post(t, `{"input":"`+strings.Repeat("a", 200)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "Request body too large", errorOf(t, resp))
}

func TestModels(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.get(t, "/v1/models")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{
		"object": "list",
		"data": [{
			"id": "hexgrad/Kokoro-82M",
			"object": "model",
			"created": 1677610602,
			"owned_by": "user",
			"permission": [],
			"root": "hexgrad/Kokoro-82M",
			"parent": null
		}]
	}`, string(body))
}

func TestLanguages(t *testing.T) {
	f := newFixture(t, nil)
	list := decodeBody[struct {
		Object string `json:"object"`
		Data   []struct {
			Code string `json:"code"`
			Name string `json:"name"`
		} `json:"data"`
	}](t, f.get(t, "/v1/languages"))

	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 9)
	var codes []string
	for _, l := range list.Data {
		codes = append(codes, l.Code)
	}
	assert.Equal(t, []string{"a", "b", "e", "f", "h", "i", "p", "j", "z"}, codes)
	assert.Equal(t, "Mandarin Chinese", list.Data[8].Name)
}

func TestHealthBeforeLoad(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var h struct {
		Status             string            `json:"status"`
		Model              string            `json:"model"`
		SupportedLanguages map[string]string `json:"supported_languages"`
		SupportedVoices    []string          `json:"supported_voices"`
		SupportedFormats   []string          `json:"supported_formats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, modelID, h.Model)
	assert.Len(t, h.SupportedLanguages, 9)
	assert.Equal(t, "British English", h.SupportedLanguages["b"])
	assert.Len(t, h.SupportedVoices, 28)
	assert.Equal(t, "af_heart", h.SupportedVoices[0])
	assert.Equal(t, []string{"mp3", "opus", "aac", "flac", "wav", "pcm"}, h.SupportedFormats)
	assert.False(t, f.manager.Ready())
}

func TestRequestIDAndCORS(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get(t, "/v1/models")
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/v1/models", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	req.Header.Set("Origin", "https://example.com")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, "abc-123", resp2.Header.Get("X-Request-ID"))
	assert.Equal(t, "*", resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsAndSwagger(t *testing.T) {
	f := newFixture(t, nil)
	f.post(t, `{"input":"Hello","response_format":"pcm"}`)

	body, _ := io.ReadAll(f.get(t, "/metrics").Body)
	assert.Contains(t, string(body), `ttsyard_speech_requests_total{code="200",format="pcm"}`)

	resp := f.get(t, "/swagger/doc.json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(doc), "/v1/audio/speech")
}

func TestOpenAIClientCompatibility(t *testing.T) {
	f := newFixture(t, nil)
	cfg := openai.DefaultConfig("unused")
	cfg.BaseURL = f.srv.URL + "/v1"
	client := openai.NewClientWithConfig(cfg)
	ctx := context.Background()

	models, err := client.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models.Models, 1)
	assert.Equal(t, modelID, models.Models[0].ID)
	assert.Equal(t, "user", models.Models[0].OwnedBy)

	audio, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(modelID),
		Input:          "Hello world.",
		Voice:          openai.SpeechVoice("af_heart"),
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          1,
	})
	require.NoError(t, err)
	defer audio.Close()
	pcm, err := io.ReadAll(audio)
	require.NoError(t, err)
	assert.Len(t, pcm, 2*len("Hello world.")*mock.SamplesPerRune)

	_, err = client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.SpeechModel(modelID),
		Input: "Hello",
		Voice: openai.SpeechVoice("nobody"),
	})
	assert.Error(t, err)
}

func dialStream(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/audio/speech/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestSpeechStream(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialStream(t, f)

	require.NoError(t, conn.WriteJSON(map[string]any{"input": "One. Three.", "voice": "af_heart"}))

	var frames [][]byte
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if kind == websocket.BinaryMessage {
			frames = append(frames, data)
			continue
		}
		var done struct {
			Done    bool `json:"done"`
			Samples int  `json:"samples"`
		}
		require.NoError(t, json.Unmarshal(data, &done))
		assert.True(t, done.Done)
		assert.Equal(t, (len("One.")+len("Three."))*mock.SamplesPerRune, done.Samples)
		break
	}
	require.Len(t, frames, 2)
	assert.Len(t, frames[0], 2*len("One.")*mock.SamplesPerRune)
	assert.Len(t, frames[1], 2*len("Three.")*mock.SamplesPerRune)
}

func TestSpeechStreamRejectsBadVoice(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialStream(t, f)

	require.NoError(t, conn.WriteJSON(map[string]any{"input": "Hi", "voice": "nobody"}))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Contains(t, string(data), "Voice 'nobody' not supported")
}

func TestStalledStreamDoesNotBlockSpeech(t *testing.T) {
	f := newFixture(t, nil)
	conn := dialStream(t, f)

	text := strings.Repeat(strings.Repeat("a", 1999)+".", 20)
	require.NoError(t, conn.WriteJSON(map[string]any{"input": text, "voice": "af_heart"}))
	kind, _, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)
	// The stream client stops reading here.

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(f.srv.URL+"/v1/audio/speech", "application/json",
		strings.NewReader(`{"input":"hi","response_format":"pcm"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Len(t, body, 2*len("hi")*mock.SamplesPerRune)
}

// slowPipeline takes a while per request and reports when generation starts.
type slowPipeline struct {
	lang    string
	started chan struct{}
	once    sync.Once
}

func (p *slowPipeline) LangCode() string { return p.lang }
func (p *slowPipeline) Device() string   { return "cpu" }
func (p *slowPipeline) Close() error     { return nil }

func (p *slowPipeline) Generate(ctx context.Context, text, _ string, _ float64) iter.Seq2[pipeline.Segment, error] {
	return func(yield func(pipeline.Segment, error) bool) {
		p.once.Do(func() { close(p.started) })
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			yield(pipeline.Segment{}, ctx.Err())
			return
		}
		yield(pipeline.Segment{Graphemes: text, Audio: audio.Float32(make([]float32, 10))}, nil)
	}
}

func TestShutdownDrainsInFlightSpeech(t *testing.T) {
	started := make(chan struct{})
	load := func(_ context.Context, lang string) (pipeline.Pipeline, error) {
		return &slowPipeline{lang: lang, started: started}, nil
	}
	reg := voices.NewRegistry(nil)
	m := pipeline.NewManager(load, reg, voices.DefaultLang)
	svc := speech.New(m, reg, codec.NewConverter(fakeEncoder{}, t.TempDir()), speech.Options{Model: modelID})
	tr := New(config.ServerConfig{MaxBodyBytes: 1 << 20}, svc, m)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- tr.Serve(ctx, lis) }()

	type result struct {
		status int
		body   []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+lis.Addr().String()+"/v1/audio/speech", "application/json",
			strings.NewReader(`{"input":"Hi.","response_format":"pcm"}`))
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		done <- result{status: resp.StatusCode, body: body, err: err}
	}()

	select {
	case <-started:
	case res := <-done:
		t.Fatalf("request finished before synthesis started: %+v", res)
	}
	cancel()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, http.StatusOK, res.status, string(res.body))
	assert.Len(t, res.body, 20)
	assert.NoError(t, <-served)
}
