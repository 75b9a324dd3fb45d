package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/promptpeek/internal/normalize"
	"github.com/dunamismax/promptpeek/internal/queue"
	"github.com/dunamismax/promptpeek/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultUserIDHeader   = "X-User-ID"
	DefaultMaxUploadBytes = 20 << 20
	DefaultImageURLExpiry = 15 * time.Minute
)

type Config struct {
	UserIDHeader   string
	MaxUploadBytes int64
	// WebhookURL receives artwork.ready and artwork.failed events for every
	// upload. Empty disables delivery.
	WebhookURL  string
	RateLimiter RateLimiter
	// UploadCost is the number of rate limit tokens an upload takes.
	UploadCost int
	// ImageURLExpiry bounds the presigned links handed out by the image
	// redirect route.
	ImageURLExpiry time.Duration
}

type Server struct {
	logger         *log.Logger
	artworks       store.ArtworkStore
	queueClient    queueEnqueuer
	storage        objectStorage
	normalizer     imageNormalizer
	metrics        *metrics
	tracer         trace.Tracer
	rateLimiter    RateLimiter
	userIDHeader   string
	maxUploadBytes int64
	uploadCost     int
	imageURLExpiry time.Duration
	webhookURL     string
	mux            *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueNormalizeArtwork(ctx context.Context, payload queue.NormalizeArtworkPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	DeleteObject(ctx context.Context, objectKey string) error
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

type imageNormalizer interface {
	Normalize(ctx context.Context, in normalize.Image) (normalize.Result, error)
}

func NewServer(
	logger *log.Logger,
	cfg Config,
	artworks store.ArtworkStore,
	queueClient queueEnqueuer,
	storage objectStorage,
	normalizer imageNormalizer,
) *Server {
	if storage == nil {
		storage = unavailableObjectStorage{}
	}

	userIDHeader := strings.TrimSpace(cfg.UserIDHeader)
	if userIDHeader == "" {
		userIDHeader = DefaultUserIDHeader
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	imageURLExpiry := cfg.ImageURLExpiry
	if imageURLExpiry <= 0 {
		imageURLExpiry = DefaultImageURLExpiry
	}

	s := &Server{
		logger:         logger,
		artworks:       artworks,
		queueClient:    queueClient,
		storage:        storage,
		normalizer:     normalizer,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("promptpeek/api"),
		rateLimiter:    cfg.RateLimiter,
		userIDHeader:   userIDHeader,
		maxUploadBytes: maxUploadBytes,
		uploadCost:     max(1, cfg.UploadCost),
		imageURLExpiry: imageURLExpiry,
		webhookURL:     strings.TrimSpace(cfg.WebhookURL),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) WriteObject(context.Context, string, []byte, string) error {
	return errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) DeleteObject(context.Context, string) error {
	return errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /v1/normalize", s.handleNormalize)

	s.mux.HandleFunc("POST /v1/artworks", s.requireUser(s.handleCreateArtwork))
	s.mux.HandleFunc("GET /v1/artworks", s.handleListArtworks)
	s.mux.HandleFunc("GET /v1/artworks/{id}", s.handleGetArtwork)
	s.mux.HandleFunc("GET /v1/artworks/{id}/image", s.handleArtworkImage)
	s.mux.HandleFunc("PATCH /v1/artworks/{id}", s.requireUser(s.handleUpdateArtwork))
	s.mux.HandleFunc("DELETE /v1/artworks/{id}", s.requireUser(s.handleDeleteArtwork))

	s.mux.HandleFunc("PUT /v1/artworks/{id}/like", s.requireUser(s.handleReaction(reactionLike, true)))
	s.mux.HandleFunc("DELETE /v1/artworks/{id}/like", s.requireUser(s.handleReaction(reactionLike, false)))
	s.mux.HandleFunc("PUT /v1/artworks/{id}/favorite", s.requireUser(s.handleReaction(reactionFavorite, true)))
	s.mux.HandleFunc("DELETE /v1/artworks/{id}/favorite", s.requireUser(s.handleReaction(reactionFavorite, false)))

	s.mux.HandleFunc("GET /v1/tags", s.handleListTags)
	s.mux.HandleFunc("GET /v1/users/{id}/stats", s.handleUserStats)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) callerID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(s.userIDHeader))
}

func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.callerID(r) == "" {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("%s header is required", s.userIDHeader))
			return
		}
		next(w, r)
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, op, artworkID string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "artwork not found")
	case errors.Is(err, store.ErrForbidden):
		writeError(w, http.StatusForbidden, "artwork belongs to another user")
	default:
		s.logger.Printf("%s failed artwork_id=%s err=%v", op, artworkID, err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
