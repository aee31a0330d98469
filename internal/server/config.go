// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the RelayChat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// AIConfig holds the settings for the AI-augmented room pipeline.
type AIConfig struct {
	OllamaURL        string
	Model            string
	InferenceTimeout time.Duration
	ThinkingInterval time.Duration
	QueueSize        int
}

// Config holds the server configuration settings including transport,
// persistence, and AI pipeline controls.
type Config struct {
	// Addr is the TLS chat listener address.
	Addr string
	// HTTPAddr is the WebSocket gateway address.
	HTTPAddr string

	CertFile string
	KeyFile  string

	CredentialsFile string
	RoomsFile       string

	AllowedOrigins []string
	MaxLineSize    int64
	HistoryLimit   int

	TokenTTL     time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration

	RateLimit RateLimitConfig
	AI        AIConfig
}

func defaultConfig() Config {
	return Config{
		Addr:            ":5000",
		HTTPAddr:        ":8080",
		CertFile:        "server.crt",
		KeyFile:         "server.key",
		CredentialsFile: "data/users.txt",
		RoomsFile:       "data/rooms.txt",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxLineSize:  4096,
		HistoryLimit: 256,
		TokenTTL:     5 * time.Minute,
		IdleTimeout:  20 * time.Second,
		WriteTimeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		AI: AIConfig{
			OllamaURL:        "http://localhost:11434",
			Model:            "llama3",
			InferenceTimeout: 30 * time.Second,
			ThinkingInterval: 5 * time.Second,
			QueueSize:        64,
		},
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = def.HTTPAddr
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = def.MaxLineSize
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = def.TokenTTL
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.AI.OllamaURL == "" {
		cfg.AI.OllamaURL = def.AI.OllamaURL
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = def.AI.Model
	}
	if cfg.AI.InferenceTimeout <= 0 {
		cfg.AI.InferenceTimeout = def.AI.InferenceTimeout
	}
	if cfg.AI.ThinkingInterval <= 0 {
		cfg.AI.ThinkingInterval = def.AI.ThinkingInterval
	}
	if cfg.AI.QueueSize <= 0 {
		cfg.AI.QueueSize = def.AI.QueueSize
	}

	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set or
// fail to parse.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if addr := os.Getenv("CHAT_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if addr := os.Getenv("CHAT_HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if cert := os.Getenv("CHAT_CERT_FILE"); cert != "" {
		cfg.CertFile = cert
	}
	if key := os.Getenv("CHAT_KEY_FILE"); key != "" {
		cfg.KeyFile = key
	}
	if creds := os.Getenv("CHAT_CREDENTIALS_FILE"); creds != "" {
		cfg.CredentialsFile = creds
	}
	if rooms := os.Getenv("CHAT_ROOMS_FILE"); rooms != "" {
		cfg.RoomsFile = rooms
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if maxSize := os.Getenv("MAX_LINE_SIZE"); maxSize != "" {
		cfg.MaxLineSize = parseInt64Value(maxSize, cfg.MaxLineSize)
	}
	if limit := os.Getenv("CHAT_HISTORY_LIMIT"); limit != "" {
		cfg.HistoryLimit = parseIntValue(limit, cfg.HistoryLimit)
	}
	if ttl := os.Getenv("CHAT_TOKEN_TTL"); ttl != "" {
		cfg.TokenTTL = parseDurationValue(ttl, cfg.TokenTTL)
	}
	if idle := os.Getenv("CHAT_IDLE_TIMEOUT"); idle != "" {
		cfg.IdleTimeout = parseDurationValue(idle, cfg.IdleTimeout)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDurationValue(interval, cfg.RateLimit.RefillInterval)
	}
	if url := os.Getenv("OLLAMA_URL"); url != "" {
		cfg.AI.OllamaURL = url
	}
	if model := os.Getenv("OLLAMA_MODEL"); model != "" {
		cfg.AI.Model = model
	}
	if timeout := os.Getenv("OLLAMA_TIMEOUT"); timeout != "" {
		cfg.AI.InferenceTimeout = parseDurationValue(timeout, cfg.AI.InferenceTimeout)
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseDurationValue(value string, defaultValue time.Duration) time.Duration {
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
