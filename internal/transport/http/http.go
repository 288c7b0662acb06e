// Package http implements the OpenAI-compatible HTTP API of ttsyard.
//
// It exposes POST /v1/audio/speech and the listing endpoints used by OpenAI
// clients, a WebSocket endpoint for streaming synthesis, Prometheus metrics
// and the Swagger UI.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/nadzzz/ttsyard/internal/codec"
	"github.com/nadzzz/ttsyard/internal/config"
	"github.com/nadzzz/ttsyard/internal/message"
	"github.com/nadzzz/ttsyard/internal/metrics"
	"github.com/nadzzz/ttsyard/internal/speech"
	"github.com/nadzzz/ttsyard/internal/voices"

	_ "github.com/nadzzz/ttsyard/docs" // registers the OpenAPI document
)

// VoiceLister returns the voices of the active language.
type VoiceLister interface {
	Voices() []string
}

// Transport implements transport.Transport for the HTTP API.
type Transport struct {
	cfg      config.ServerConfig
	svc      *speech.Service
	voices   VoiceLister
	upgrader websocket.Upgrader

	mu         sync.Mutex
	server     *http.Server
	cancelBase context.CancelFunc
}

// New creates the HTTP transport.
func New(cfg config.ServerConfig, svc *speech.Service, voices VoiceLister) *Transport {
	return &Transport{
		cfg:    cfg,
		svc:    svc,
		voices: voices,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 32 << 10,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Handler returns the fully wrapped router.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/audio/speech", t.handleSpeech)
	mux.HandleFunc("GET /v1/audio/speech/stream", t.handleSpeechStream)
	mux.HandleFunc("GET /v1/models", t.handleModels)
	mux.HandleFunc("GET /v1/languages", t.handleLanguages)
	mux.HandleFunc("GET /health", t.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// Swagger UI — serves the generated OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	var h http.Handler = mux
	if t.cfg.CORS {
		h = cors.AllowAll().Handler(h)
	}
	return requestID(h)
}

// Listen starts the HTTP server and blocks until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context) error {
	lis, err := net.Listen("tcp", t.cfg.Addr())
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return t.Serve(ctx, lis)
}

// Serve runs the HTTP server on lis. Cancelling ctx stops accepting new
// connections; requests already running keep their context until Shutdown
// has drained them or given up.
func (t *Transport) Serve(ctx context.Context, lis net.Listener) error {
	base, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	server := &http.Server{
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return base },
	}
	t.mu.Lock()
	t.server = server
	t.cancelBase = cancelBase
	t.mu.Unlock()

	slog.Info("http transport listening", "addr", lis.Addr().String())

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		_ = t.Close()
	}()

	if err := server.Serve(lis); err != http.ErrServerClosed {
		cancelBase()
		return fmt.Errorf("http serve: %w", err)
	}
	return nil
}

// Close gracefully shuts down the HTTP server, waiting up to five seconds for
// in-flight requests before cancelling them.
func (t *Transport) Close() error {
	t.mu.Lock()
	server, cancelBase := t.server, t.cancelBase
	t.mu.Unlock()
	if server == nil {
		return nil
	}
	defer cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// handleSpeech synthesizes speech and returns it as a file download.
//
// @Summary     Create speech
// @Description Generates audio from the input text. The voice may carry a language prefix
// @Description such as "e.en_male_1" (per-language lists come from voices.<code> overrides); the response is sent as an attachment named speech.<format>.
// @Tags        audio
// @Accept      json
// @Produce     audio/mpeg
// @Produce     audio/opus
// @Produce     audio/aac
// @Produce     audio/flac
// @Produce     audio/wav
// @Produce     audio/pcm
// @Param       request  body      message.SpeechRequest  true  "Speech request"
// @Success     200      {file}    binary                 "Encoded audio"
// @Failure     400      {object}  message.ErrorResponse  "Invalid JSON, missing input, unsupported voice or format"
// @Failure     500      {object}  message.ErrorResponse  "Synthesis or encoding failed"
// @Router      /v1/audio/speech [post]
func (t *Transport) handleSpeech(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r)

	raw, status, err := t.decodeRequest(w, r)
	if err != nil {
		logger.Error("invalid request body", "error", err)
		writeError(w, status, err.Error())
		metrics.SpeechRequests.WithLabelValues("", strconv.Itoa(status)).Inc()
		return
	}
	logger.Debug("received speech request", "body", raw)

	result, err := t.svc.Handle(r.Context(), raw)
	if err != nil {
		status := http.StatusInternalServerError
		if speech.IsBadRequest(err) {
			status = http.StatusBadRequest
			logger.Warn("rejected speech request", "error", err)
		} else {
			logger.Error("speech request failed", "error", err)
		}
		writeError(w, status, err.Error())
		metrics.SpeechRequests.WithLabelValues(formatLabel(raw), strconv.Itoa(status)).Inc()
		return
	}

	w.Header().Set("Content-Type", result.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+result.Filename)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Audio)
	metrics.SpeechRequests.WithLabelValues(result.Format, "200").Inc()
}

// handleSpeechStream streams synthesized PCM over a WebSocket.
//
// @Summary     Stream speech
// @Description WebSocket endpoint. The client sends one speech request as a JSON text frame; the
// @Description server answers with one binary frame of 16-bit little-endian 24 kHz PCM per segment,
// @Description then a final text frame {"done":true,"samples":N} or {"error":"..."}.
// @Tags        audio
// @Success     101  {string}  string  "Switching Protocols"
// @Router      /v1/audio/speech/stream [get]
func (t *Transport) handleSpeechStream(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r)

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if t.cfg.MaxBodyBytes > 0 {
		conn.SetReadLimit(t.cfg.MaxBodyBytes)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		logger.Warn("reading stream request", "error", err)
		return
	}

	raw, err := decodeObject(data)
	if err != nil {
		_ = conn.WriteJSON(message.ErrorResponse{Error: err.Error()})
		return
	}

	samples, err := t.svc.Stream(r.Context(), raw, func(pcm []byte) error {
		if t.cfg.StreamWriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.StreamWriteTimeout))
		}
		return conn.WriteMessage(websocket.BinaryMessage, pcm)
	})
	if err != nil {
		if speech.IsBadRequest(err) {
			logger.Warn("rejected stream request", "error", err)
		} else {
			logger.Error("stream request failed", "error", err)
		}
		_ = conn.WriteJSON(message.ErrorResponse{Error: err.Error()})
		return
	}

	_ = conn.WriteJSON(message.StreamDone{Done: true, Samples: samples})
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// handleModels lists the served model.
//
// @Summary     List models
// @Tags        models
// @Produce     json
// @Success     200  {object}  message.ModelList
// @Router      /v1/models [get]
func (t *Transport) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, message.NewModelList(t.svc.Model()))
}

// handleLanguages lists the supported language codes.
//
// @Summary     List languages
// @Tags        models
// @Produce     json
// @Success     200  {object}  message.LanguageList
// @Router      /v1/languages [get]
func (t *Transport) handleLanguages(w http.ResponseWriter, r *http.Request) {
	list := message.LanguageList{Object: "list", Data: make([]message.Language, 0, len(voices.Languages))}
	for _, l := range voices.Languages {
		list.Data = append(list.Data, message.Language{Code: l.Code, Name: l.Name})
	}
	writeJSON(w, http.StatusOK, list)
}

// handleHealth reports the service configuration. It never fails.
//
// @Summary     Health check
// @Tags        health
// @Produce     json
// @Success     200  {object}  message.Health
// @Router      /health [get]
func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, message.Health{
		Status:             "ok",
		Model:              t.svc.Model(),
		SupportedLanguages: voices.LanguageMap(),
		SupportedVoices:    t.voices.Voices(),
		SupportedFormats:   codec.SupportedFormats(),
	})
}

// decodeRequest reads a JSON object body. Anything that is not a JSON object
// is reported as "Invalid JSON".
func (t *Transport) decodeRequest(w http.ResponseWriter, r *http.Request) (map[string]any, int, error) {
	body := r.Body
	if t.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, t.cfg.MaxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("Request body too large")
		}
		return nil, http.StatusBadRequest, errors.New("Invalid JSON")
	}
	raw, err := decodeObject(data)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	return raw, http.StatusOK, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, errors.New("Invalid JSON")
	}
	return raw, nil
}

func formatLabel(raw map[string]any) string {
	if f, ok := raw["response_format"].(string); ok && codec.IsSupported(f) {
		return f
	}
	if _, ok := raw["response_format"]; !ok {
		return codec.DefaultFormat
	}
	return "invalid"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, message.ErrorResponse{Error: msg})
}

type ctxKey struct{}

// requestID tags every request with an X-Request-ID, reusing the caller's.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		logger := slog.With("request_id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, logger)))
	})
}

func loggerFrom(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
