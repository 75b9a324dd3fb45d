package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dunamismax/promptpeek/internal/normalize"
	"github.com/dunamismax/promptpeek/internal/ratelimit"
	"github.com/dunamismax/promptpeek/internal/storage"
	"github.com/dunamismax/promptpeek/internal/telemetry"
	"github.com/dunamismax/promptpeek/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Normalize NormalizeConfig
	Edge      EdgeConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr            string
	MaxUploadBytes  int64
	UserIDHeader    string
	WebhookURL      string
	ImageURLExpiry  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	TaskTimeout   time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

func (q QueueConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	OutputPrefix   string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

func (s StorageConfig) ClientConfig() storage.Config {
	return storage.Config{
		Endpoint:      s.Endpoint,
		Access:        s.AccessKey,
		Secret:        s.SecretKey,
		Bucket:        s.Bucket,
		UseSSL:        s.UseSSL,
		PublicBaseURL: s.PublicBaseURL,
	}
}

type DatabaseConfig struct {
	// DSN selects the Postgres store. Empty keeps artworks in memory.
	DSN string
}

type NormalizeConfig struct {
	MaxDimensionPx int
	MaxOutputBytes int64
	InitialQuality float64
	QualityStep    float64
	MinQuality     float64
}

func (n NormalizeConfig) Options() normalize.Options {
	return normalize.Options{
		MaxDimensionPx: n.MaxDimensionPx,
		MaxOutputBytes: n.MaxOutputBytes,
		InitialQuality: n.InitialQuality,
		QualityStep:    n.QualityStep,
		MinQuality:     n.MinQuality,
	}
}

type EdgeConfig struct {
	Addr          string
	Root          string
	IndexDocument string
	MetricsAddr   string
}

type RateLimitConfig struct {
	Enabled    bool
	Capacity   int
	Window     time.Duration
	UploadCost int
	KeyPrefix  string
}

func (r RateLimitConfig) BucketConfig() ratelimit.Config {
	return ratelimit.Config{
		Capacity:  r.Capacity,
		Window:    r.Window,
		KeyPrefix: r.KeyPrefix,
	}
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (w WebhookConfig) ClientConfig() webhook.Config {
	return webhook.Config{
		SigningSecret:  w.SigningSecret,
		Timeout:        w.Timeout,
		MaxAttempts:    w.MaxAttempts,
		InitialBackoff: w.InitialBackoff,
		MaxBackoff:     w.MaxBackoff,
	}
}

type TracingConfig struct {
	Version      string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func (t TracingConfig) TraceConfig(serviceName string) telemetry.TraceConfig {
	return telemetry.TraceConfig{
		ServiceName:    serviceName,
		ServiceVersion: t.Version,
		Exporter:       t.Exporter,
		OTLPEndpoint:   t.OTLPEndpoint,
		OTLPInsecure:   t.OTLPInsecure,
		SampleRatio:    t.SampleRatio,
	}
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)
	defaults := normalize.DefaultOptions()

	return Config{
		API: APIConfig{
			Addr:            env("PROMPTPEEK_API_ADDR", ":8080"),
			MaxUploadBytes:  envInt64("API_MAX_UPLOAD_BYTES", 20<<20),
			UserIDHeader:    env("API_USER_ID_HEADER", "X-User-ID"),
			WebhookURL:      env("API_WEBHOOK_URL", ""),
			ImageURLExpiry:  envDuration("API_IMAGE_URL_EXPIRY", 15*time.Minute),
			ReadTimeout:     envDuration("API_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    envDuration("API_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: envDuration("API_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("QUEUE_MAX_RETRY", 5),
			TaskTimeout:   envDuration("QUEUE_TASK_TIMEOUT", 2*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.promptpeek-output"),
			OutputPrefix:   env("WORKER_OUTPUT_PREFIX", "artworks"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:      env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:     env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:     env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:        env("MINIO_BUCKET", "promptpeek-artworks"),
			UseSSL:        envBool("MINIO_USE_SSL", false),
			PublicBaseURL: env("MINIO_PUBLIC_BASE_URL", ""),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Normalize: NormalizeConfig{
			MaxDimensionPx: envInt("NORMALIZE_MAX_DIMENSION_PX", defaults.MaxDimensionPx),
			MaxOutputBytes: envInt64("NORMALIZE_MAX_OUTPUT_BYTES", defaults.MaxOutputBytes),
			InitialQuality: envFloat("NORMALIZE_INITIAL_QUALITY", defaults.InitialQuality),
			QualityStep:    envFloat("NORMALIZE_QUALITY_STEP", defaults.QualityStep),
			MinQuality:     envFloat("NORMALIZE_MIN_QUALITY", defaults.MinQuality),
		},
		Edge: EdgeConfig{
			Addr:          env("PROMPTPEEK_EDGE_ADDR", ":8081"),
			Root:          env("EDGE_ROOT", "./web/dist"),
			IndexDocument: env("EDGE_INDEX_DOCUMENT", "index.html"),
			MetricsAddr:   env("EDGE_METRICS_ADDR", ":9092"),
		},
		RateLimit: RateLimitConfig{
			Enabled:    envBool("RATE_LIMIT_ENABLED", false),
			Capacity:   envInt("RATE_LIMIT_CAPACITY", 60),
			Window:     envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UploadCost: envInt("RATE_LIMIT_UPLOAD_COST", 5),
			KeyPrefix:  env("RATE_LIMIT_KEY_PREFIX", "promptpeek:ratelimit"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Tracing: TracingConfig{
			Version:      env("SERVICE_VERSION", "dev"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
