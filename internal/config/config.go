// Package config handles loading and validating the ttsyard configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the ttsyard daemon.
type Config struct {
	Server   ServerConfig        `mapstructure:"server"`
	GRPC     GRPCConfig          `mapstructure:"grpc"`
	Model    ModelConfig         `mapstructure:"model"`
	Pipeline PipelineConfig      `mapstructure:"pipeline"`
	Voices   map[string][]string `mapstructure:"voices"`
	Encoder  EncoderConfig       `mapstructure:"encoder"`
	Logging  LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig holds the HTTP API and health server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	HealthPort   int    `mapstructure:"health_port"` // 0 disables the side health server
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
	CORS         bool   `mapstructure:"cors"`

	// StreamWriteTimeout bounds each WebSocket frame write; a client that
	// stops reading is disconnected once it expires.
	StreamWriteTimeout time.Duration `mapstructure:"stream_write_timeout"`
}

// GRPCConfig configures the gRPC health transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ModelConfig describes the model advertised by the API and its defaults.
type ModelConfig struct {
	ID           string `mapstructure:"id"`
	DefaultLang  string `mapstructure:"default_lang"`
	DefaultVoice string `mapstructure:"default_voice"`
	Preload      bool   `mapstructure:"preload"`
}

// PipelineConfig selects and configures the synthesis backend.
type PipelineConfig struct {
	Backend string        `mapstructure:"backend"` // "worker", "wyoming", "remote" or "mock"
	Timeout time.Duration `mapstructure:"timeout"` // 0 means no deadline beyond the request
	Worker  WorkerConfig  `mapstructure:"worker"`
	Wyoming WyomingConfig `mapstructure:"wyoming"`
	Remote  RemoteConfig  `mapstructure:"remote"`
}

// WorkerConfig holds settings for the model worker subprocess.
//
// Command may contain a {lang} placeholder; otherwise "--lang-code <code>"
// is appended when the worker is started.
type WorkerConfig struct {
	Command      string        `mapstructure:"command"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
}

// WyomingConfig holds Wyoming protocol TTS server settings.
//
// Endpoints maps language codes to per-language servers; Endpoint is the
// fallback for codes without an entry.
type WyomingConfig struct {
	Endpoint  string            `mapstructure:"endpoint"`
	Endpoints map[string]string `mapstructure:"endpoints"`
}

// RemoteConfig holds settings for an upstream OpenAI-compatible speech server.
type RemoteConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// EncoderConfig configures the external audio encoder.
type EncoderConfig struct {
	FFmpegPath string `mapstructure:"ffmpeg_path"`
	TempDir    string `mapstructure:"temp_dir"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./ttsyard.yaml, ./configs/ttsyard.yaml, /etc/ttsyard/ttsyard.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8013)
	v.SetDefault("server.health_port", 0)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.cors", true)
	v.SetDefault("server.stream_write_timeout", "10s")
	v.SetDefault("grpc.enabled", false)
	v.SetDefault("grpc.port", 50051)
	v.SetDefault("model.id", "hexgrad/Kokoro-82M")
	v.SetDefault("model.default_lang", "a")
	v.SetDefault("model.default_voice", "af_heart")
	v.SetDefault("model.preload", true)
	v.SetDefault("pipeline.backend", "worker")
	v.SetDefault("pipeline.timeout", time.Duration(0))
	v.SetDefault("pipeline.worker.command", "python3 -u scripts/kokoro_worker.py --lang-code {lang}")
	v.SetDefault("pipeline.worker.start_timeout", 5*time.Minute)
	v.SetDefault("pipeline.worker.stop_timeout", 2*time.Second)
	v.SetDefault("pipeline.wyoming.endpoint", "localhost:10200")
	v.SetDefault("pipeline.remote.base_url", "http://localhost:8880/v1")
	v.SetDefault("pipeline.remote.api_key", "")
	v.SetDefault("pipeline.remote.model", "kokoro")
	v.SetDefault("encoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("encoder.temp_dir", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("ttsyard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ttsyard")
	}

	// Environment variables: TTSYARD_SERVER_PORT, TTSYARD_PIPELINE_BACKEND, etc.
	v.SetEnvPrefix("TTSYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional, env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${KOKORO_API_KEY}")
	cfg.Pipeline.Remote.APIKey = resolveEnvRef(cfg.Pipeline.Remote.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the daemon cannot start with.
func (c *Config) Validate() error {
	switch c.Pipeline.Backend {
	case "worker", "wyoming", "remote", "mock":
	default:
		return fmt.Errorf("unknown pipeline backend %q", c.Pipeline.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Model.DefaultLang == "" {
		return fmt.Errorf("model.default_lang must not be empty")
	}
	if c.Pipeline.Backend == "worker" && strings.TrimSpace(c.Pipeline.Worker.Command) == "" {
		return fmt.Errorf("pipeline.worker.command must not be empty")
	}
	return nil
}

// Addr returns the host:port the HTTP API binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, cfg)))
}

// NewHandler builds the slog handler described by cfg.
func NewHandler(w io.Writer, cfg LoggingConfig) slog.Handler {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}
