package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the flat service configuration. Values come from defaults, then an
// optional YAML file, then environment variables.
type Config struct {
	Port         int    `yaml:"port"`
	LogLevel     string `yaml:"log_level"`
	StoreBackend string `yaml:"store_backend"`
	DatabaseURL  string `yaml:"database_url"`
	SQLitePath   string `yaml:"sqlite_path"`
	NatsURL      string `yaml:"nats_url"`
	NatsKVPrefix string `yaml:"nats_kv_prefix"`

	LLMBaseURL    string        `yaml:"llm_base_url"`
	LLMAPIKey     string        `yaml:"llm_api_key"`
	LLMModel      string        `yaml:"llm_model"`
	LLMAPIVersion string        `yaml:"llm_api_version"`
	LLMTimeout    time.Duration `yaml:"llm_timeout"`

	STTBaseURL    string        `yaml:"stt_base_url"`
	STTAPIKey     string        `yaml:"stt_api_key"`
	STTModel      string        `yaml:"stt_model"`
	STTLanguage   string        `yaml:"stt_language"`
	STTAPIVersion string        `yaml:"stt_api_version"`
	STTTimeout    time.Duration `yaml:"stt_timeout"`

	MinSilence      time.Duration `yaml:"min_silence"`
	SilenceOffsetDB float64       `yaml:"silence_offset_db"`
	KeepSilence     time.Duration `yaml:"keep_silence"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	FFmpegPath      string        `yaml:"ffmpeg_path"`

	BatchFlushInterval  time.Duration `yaml:"batch_flush_interval"`
	BatchFlushThreshold int           `yaml:"batch_flush_threshold"`
	BufferMaxSize       int           `yaml:"buffer_max_size"`

	SlackBotToken     string `yaml:"slack_bot_token"`
	SlackAlertChannel string `yaml:"slack_alert_channel"`
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendNATS     = "nats"
)

func defaults() Config {
	return Config{
		Port:                5000,
		LogLevel:            "info",
		StoreBackend:        BackendMemory,
		SQLitePath:          "./data/mentor.db",
		NatsKVPrefix:        "mentor",
		LLMBaseURL:          "https://api.openai.com/v1",
		LLMModel:            "gpt-4o-mini",
		LLMTimeout:          60 * time.Second,
		STTBaseURL:          "https://api.openai.com/v1",
		STTModel:            "whisper-1",
		STTTimeout:          60 * time.Second,
		MinSilence:          500 * time.Millisecond,
		SilenceOffsetDB:     16,
		KeepSilence:         250 * time.Millisecond,
		MaxUploadBytes:      25 << 20,
		FFmpegPath:          "ffmpeg",
		BatchFlushInterval:  5000 * time.Millisecond,
		BatchFlushThreshold: 100,
		BufferMaxSize:       10000,
	}
}

// Load builds the configuration. path names an optional YAML file; when empty
// MENTOR_CONFIG is consulted.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("MENTOR_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.Port = envInt("MENTOR_PORT", cfg.Port)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.StoreBackend = strings.ToLower(envStr("STORE_BACKEND", cfg.StoreBackend))
	cfg.DatabaseURL = envStr("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = envStr("SQLITE_PATH", cfg.SQLitePath)
	cfg.NatsURL = envStr("NATS_URL", cfg.NatsURL)
	cfg.NatsKVPrefix = envStr("NATS_KV_PREFIX", cfg.NatsKVPrefix)

	cfg.LLMBaseURL = envStr("LLM_BASE_URL", cfg.LLMBaseURL)
	cfg.LLMAPIKey = envStr("LLM_API_KEY", cfg.LLMAPIKey)
	cfg.LLMModel = envStr("LLM_MODEL", cfg.LLMModel)
	cfg.LLMAPIVersion = envStr("LLM_API_VERSION", cfg.LLMAPIVersion)
	cfg.LLMTimeout = envMillis("LLM_TIMEOUT_MS", cfg.LLMTimeout)

	cfg.STTBaseURL = envStr("STT_BASE_URL", cfg.STTBaseURL)
	cfg.STTAPIKey = envStr("STT_API_KEY", cfg.STTAPIKey)
	cfg.STTModel = envStr("STT_MODEL", cfg.STTModel)
	cfg.STTLanguage = envStr("STT_LANGUAGE", cfg.STTLanguage)
	cfg.STTAPIVersion = envStr("STT_API_VERSION", cfg.STTAPIVersion)
	cfg.STTTimeout = envMillis("STT_TIMEOUT_MS", cfg.STTTimeout)

	cfg.MinSilence = envMillis("MIN_SILENCE_MS", cfg.MinSilence)
	cfg.SilenceOffsetDB = envFloat("SILENCE_OFFSET_DB", cfg.SilenceOffsetDB)
	cfg.KeepSilence = envMillis("KEEP_SILENCE_MS", cfg.KeepSilence)
	cfg.MaxUploadBytes = int64(envInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes)))
	cfg.FFmpegPath = envStr("FFMPEG_PATH", cfg.FFmpegPath)

	cfg.BatchFlushInterval = envMillis("BATCH_FLUSH_INTERVAL_MS", cfg.BatchFlushInterval)
	cfg.BatchFlushThreshold = envInt("BATCH_FLUSH_THRESHOLD", cfg.BatchFlushThreshold)
	cfg.BufferMaxSize = envInt("BUFFER_MAX_SIZE", cfg.BufferMaxSize)

	cfg.SlackBotToken = envStr("SLACK_BOT_TOKEN", cfg.SlackBotToken)
	cfg.SlackAlertChannel = envStr("SLACK_ALERT_CHANNEL", cfg.SlackAlertChannel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted sensibly.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("store backend %q requires DATABASE_URL", c.StoreBackend)
		}
	case BackendNATS:
		if c.NatsURL == "" {
			return fmt.Errorf("store backend %q requires NATS_URL", c.StoreBackend)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MinSilence <= 0 {
		return fmt.Errorf("min silence must be positive")
	}
	if c.KeepSilence < 0 {
		return fmt.Errorf("keep silence must not be negative")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envMillis(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
