package unit

import (
	"testing"
	"time"

	"github.com/Tyrowin/relaychat/internal/server"
)

// TestNewConfigDefaults verifies the baseline configuration values.
func TestNewConfigDefaults(t *testing.T) {
	cfg := server.NewConfig()

	if cfg.Addr != ":5000" {
		t.Errorf("Expected default chat address :5000, got %q", cfg.Addr)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected default gateway address :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.TokenTTL != 5*time.Minute {
		t.Errorf("Expected 5 minute token TTL, got %s", cfg.TokenTTL)
	}
	if cfg.IdleTimeout != 20*time.Second {
		t.Errorf("Expected 20 second idle timeout, got %s", cfg.IdleTimeout)
	}
	if cfg.AI.Model != "llama3" {
		t.Errorf("Expected default model llama3, got %q", cfg.AI.Model)
	}
	if cfg.AI.InferenceTimeout != 30*time.Second {
		t.Errorf("Expected 30 second inference timeout, got %s", cfg.AI.InferenceTimeout)
	}
	if cfg.HistoryLimit <= 0 {
		t.Error("Expected a positive history limit")
	}
}

// TestNewConfigFromEnv verifies environment overrides and that invalid
// values fall back to defaults.
func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("CHAT_ADDR", ":6000")
	t.Setenv("CHAT_TOKEN_TTL", "2m")
	t.Setenv("CHAT_IDLE_TIMEOUT", "45")
	t.Setenv("CHAT_HISTORY_LIMIT", "not-a-number")
	t.Setenv("OLLAMA_MODEL", "llama3.2")
	t.Setenv("RATE_LIMIT_BURST", "-3")

	cfg := server.NewConfigFromEnv()

	if cfg.Addr != ":6000" {
		t.Errorf("Expected chat address :6000, got %q", cfg.Addr)
	}
	if cfg.TokenTTL != 2*time.Minute {
		t.Errorf("Expected 2 minute token TTL, got %s", cfg.TokenTTL)
	}
	if cfg.IdleTimeout != 45*time.Second {
		t.Errorf("Expected 45 second idle timeout from bare seconds, got %s", cfg.IdleTimeout)
	}
	if cfg.AI.Model != "llama3.2" {
		t.Errorf("Expected model llama3.2, got %q", cfg.AI.Model)
	}

	def := server.NewConfig()
	if cfg.HistoryLimit != def.HistoryLimit {
		t.Errorf("Invalid history limit should fall back to default %d, got %d", def.HistoryLimit, cfg.HistoryLimit)
	}
	if cfg.RateLimit.Burst != def.RateLimit.Burst {
		t.Errorf("Negative burst should fall back to default %d, got %d", def.RateLimit.Burst, cfg.RateLimit.Burst)
	}
}
