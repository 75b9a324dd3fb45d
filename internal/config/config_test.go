package config

import (
	"testing"
	"time"

	"github.com/dunamismax/promptpeek/internal/normalize"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"API_MAX_UPLOAD_BYTES",
		"API_USER_ID_HEADER",
		"POSTGRES_DSN",
		"NORMALIZE_MAX_DIMENSION_PX",
		"NORMALIZE_MAX_OUTPUT_BYTES",
		"RATE_LIMIT_WINDOW",
		"API_IMAGE_URL_EXPIRY",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.API.MaxUploadBytes != 20<<20 {
		t.Fatalf("expected 20 MiB upload cap, got %d", cfg.API.MaxUploadBytes)
	}
	if cfg.API.UserIDHeader != "X-User-ID" {
		t.Fatalf("unexpected user id header %q", cfg.API.UserIDHeader)
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected empty dsn, got %q", cfg.Database.DSN)
	}
	if cfg.Normalize.Options() != normalize.DefaultOptions() {
		t.Fatalf("expected default normalize options, got %+v", cfg.Normalize.Options())
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Fatalf("expected 1m rate limit window, got %s", cfg.RateLimit.Window)
	}
	if cfg.API.ImageURLExpiry != 15*time.Minute {
		t.Fatalf("expected 15m image url expiry, got %s", cfg.API.ImageURLExpiry)
	}
	if cfg.Worker.MaxActiveJobs < 1 {
		t.Fatalf("expected at least one active job slot, got %d", cfg.Worker.MaxActiveJobs)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("NORMALIZE_MAX_DIMENSION_PX", "512")
	t.Setenv("NORMALIZE_MIN_QUALITY", "0.3")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("MINIO_USE_SSL", "1")
	t.Setenv("OTEL_TRACES_SAMPLE_RATIO", "0.25")

	cfg := Load()
	if cfg.API.MaxUploadBytes != 1<<20 {
		t.Fatalf("expected 1 MiB upload cap, got %d", cfg.API.MaxUploadBytes)
	}
	if cfg.Normalize.MaxDimensionPx != 512 {
		t.Fatalf("expected 512px, got %d", cfg.Normalize.MaxDimensionPx)
	}
	if cfg.Normalize.MinQuality != 0.3 {
		t.Fatalf("expected min quality 0.3, got %v", cfg.Normalize.MinQuality)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Window != 30*time.Second {
		t.Fatalf("unexpected rate limit config %+v", cfg.RateLimit)
	}
	if bucket := cfg.RateLimit.BucketConfig(); bucket.Window != 30*time.Second || bucket.Capacity != cfg.RateLimit.Capacity {
		t.Fatalf("unexpected bucket config %+v", bucket)
	}
	if !cfg.Storage.ClientConfig().UseSSL {
		t.Fatal("expected ssl enabled")
	}
	if got := cfg.Tracing.TraceConfig("api"); got.SampleRatio != 0.25 || got.ServiceName != "api" {
		t.Fatalf("unexpected trace config %+v", got)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("REDIS_DB", "two")
	t.Setenv("WEBHOOK_TIMEOUT", "soon")
	t.Setenv("NORMALIZE_QUALITY_STEP", "tenth")

	cfg := Load()
	if cfg.Queue.RedisDB != 0 {
		t.Fatalf("expected fallback redis db 0, got %d", cfg.Queue.RedisDB)
	}
	if cfg.Webhook.Timeout != 10*time.Second {
		t.Fatalf("expected fallback timeout, got %s", cfg.Webhook.Timeout)
	}
	if cfg.Normalize.QualityStep != normalize.DefaultQualityStep {
		t.Fatalf("expected default quality step, got %v", cfg.Normalize.QualityStep)
	}
}
