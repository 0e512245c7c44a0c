package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// App
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("MAX_CONTENT_RUNES", "500")
	t.Setenv("TITLE_MAX_LEN", "64")
	t.Setenv("ASSISTANT_NAME", "Concierge")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Idempotency
	t.Setenv("IDEMPOTENCY_TTL", "48h")

	// Realtime
	t.Setenv("TYPING_TTL", "5s")
	t.Setenv("REGEN_TTL", "90s")

	// Assistant
	t.Setenv("AI_PROVIDER", "OLLAMA") // will lowercase
	t.Setenv("AI_MODEL", "llama3")
	t.Setenv("AI_RATE_MAX", "5")
	t.Setenv("AI_RATE_WINDOW", "30s")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging fields unexpected: %+v", cfg)
	}

	// App
	if cfg.DBPath != "db.sqlite" || cfg.RedisURL != "redis://cache:6379/0" ||
		cfg.MaxContentRunes != 500 || cfg.TitleMaxLen != 64 || cfg.AssistantName != "Concierge" {
		t.Fatalf("app fields unexpected: %+v", cfg)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Idempotency
	if cfg.IdempotencyTTL != 48*time.Hour {
		t.Fatalf("idempotency ttl unexpected: %v", cfg.IdempotencyTTL)
	}

	// Realtime
	if cfg.Realtime.TypingTTL != 5*time.Second || cfg.Realtime.RegenTTL != 90*time.Second {
		t.Fatalf("realtime unexpected: %+v", cfg.Realtime)
	}

	// Assistant
	if cfg.AI.Provider != "ollama" || cfg.AI.Model != "llama3" || cfg.AI.RateMax != 5 || cfg.AI.RateWindow != 30*time.Second {
		t.Fatalf("ai unexpected: %+v", cfg.AI)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		value   string
		message string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT", "PORT", "   ", "PORT"},
		{"non-positive READ_TIMEOUT", "READ_TIMEOUT", "-1s", "timeouts"},
		{"non-positive MAX_HEADER_BYTES", "MAX_HEADER_BYTES", "-5", "MAX_HEADER_BYTES"},
		{"empty DB_PATH", "DB_PATH", "   ", "DB_PATH"},
		{"zero MAX_CONTENT_RUNES", "MAX_CONTENT_RUNES", "0", "MAX_CONTENT_RUNES"},
		{"negative RATE_RPS", "RATE_RPS", "-1", "RATE_RPS"},
		{"zero RATE_BURST", "RATE_BURST", "0", "RATE_BURST"},
		{"negative HSTS_MAX_AGE", "HSTS_MAX_AGE", "-1h", "HSTS_MAX_AGE"},
		{"zero IDEMPOTENCY_TTL", "IDEMPOTENCY_TTL", "0s", "IDEMPOTENCY_TTL"},
		{"zero TYPING_TTL", "TYPING_TTL", "0s", "TYPING_TTL"},
		{"zero REGEN_TTL", "REGEN_TTL", "0s", "REGEN_TTL"},
		{"unknown AI_PROVIDER", "AI_PROVIDER", "cohere", "AI_PROVIDER"},
		{"negative AI_RATE_MAX", "AI_RATE_MAX", "-1", "AI_RATE_MAX"},
		{"zero AI_RATE_WINDOW", "AI_RATE_WINDOW", "0s", "AI_RATE_WINDOW"},
		{"out-of-range sampler", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected validation error for %s=%s", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("error %q does not mention %q", err, tc.message)
			}
		})
	}
}

// --- helpers ---

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":        "/",
		"  ":      "/",
		"api":     "/api",
		"/api/":   "/api",
		"/":       "/",
		"/api/v2": "/api/v2",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("FLAG", "on")
	if !getbool("FLAG", false) {
		t.Fatal("'on' should parse as true")
	}
	t.Setenv("FLAG", "off")
	if getbool("FLAG", true) {
		t.Fatal("'off' should parse as false")
	}
	t.Setenv("FLAG", "maybe")
	if !getbool("FLAG", true) {
		t.Fatal("unparseable values fall back to the default")
	}
}
