package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/promptpeek/internal/config"
	"github.com/dunamismax/promptpeek/internal/domain"
	"github.com/dunamismax/promptpeek/internal/normalize"
	"github.com/dunamismax/promptpeek/internal/pipeline"
	"github.com/dunamismax/promptpeek/internal/queue"
	"github.com/dunamismax/promptpeek/internal/storage"
	"github.com/dunamismax/promptpeek/internal/store"
	"github.com/dunamismax/promptpeek/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	objects         objectDeleter
	webhookClient   webhookSender
	artworks        store.ArtworkStore
	logStore        store.NormalizeLogStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type objectDeleter interface {
	DeleteObject(ctx context.Context, objectKey string) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	normalizer *normalize.Normalizer,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	artworks store.ArtworkStore,
	logStore store.NormalizeLogStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if artworks == nil {
		return nil, fmt.Errorf("artwork store is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, normalizer)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline processor: %w", err)
	}

	objectProcessor, err := pipeline.NewProcessor(
		pipeline.ObjectStoreFetcher{Storage: storageClient},
		normalizer,
		pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: workerCfg.OutputPrefix},
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if logStore == nil {
		if artworkAndLogStore, ok := artworks.(store.NormalizeLogStore); ok {
			logStore = artworkAndLogStore
		}
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		objects:         storageClient,
		artworks:        artworks,
		logStore:        logStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("promptpeek/worker"),
	}
	// A nil *webhook.Client must not become a non-nil interface.
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeNormalizeArtwork, s.handleNormalizeArtwork)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleNormalizeArtwork(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.ArtworkStatusFailed

	payload, err := queue.ParseNormalizeArtworkPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %w: %w", err, asynq.SkipRetry)
	}
	sourceType := sourceTypeOf(payload)

	ctx, span := s.tracer.Start(ctx, "worker.normalize_artwork", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("artwork.id", payload.ArtworkID),
		attribute.String("artwork.user_id", payload.UserID),
		attribute.String("artwork.source_type", sourceType),
		attribute.String("artwork.mime_type", payload.MIMEType),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(sourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(sourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		outcome = "cancelled"
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	if _, ok, err := s.artworks.Get(ctx, payload.ArtworkID); err != nil {
		return fmt.Errorf("load artwork: %w", err)
	} else if !ok {
		// Deleted while queued.
		s.logger.Printf("artwork gone artwork_id=%s", payload.ArtworkID)
		s.deleteSource(ctx, payload, sourceType)
		outcome = "skipped"
		span.SetStatus(codes.Ok, "artwork deleted")
		return fmt.Errorf("artwork %s: %w: %w", payload.ArtworkID, store.ErrNotFound, asynq.SkipRetry)
	}

	s.logger.Printf(
		"Working... artwork_id=%s user_id=%s source_type=%s source_key=%s mime=%s",
		payload.ArtworkID,
		payload.UserID,
		sourceType,
		payload.SourceKey,
		payload.MIMEType,
	)

	request := pipeline.Request{
		ArtworkID:  payload.ArtworkID,
		UserID:     payload.UserID,
		SourceType: sourceType,
		SourceKey:  payload.SourceKey,
		MIMEType:   payload.MIMEType,
		FileName:   payload.FileName,
	}

	var result pipeline.Result
	switch sourceType {
	case pipeline.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, request)
	default:
		result, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalize failed")

		permanent := isPermanent(err)
		if !permanent && !finalAttempt(ctx) {
			outcome = "retry"
			return fmt.Errorf("run pipeline: %w", err)
		}

		s.setStatus(ctx, payload.ArtworkID, domain.ArtworkStatusFailed)
		s.deleteSource(ctx, payload, sourceType)
		s.dispatchWebhook(ctx, payload, webhook.EventArtworkFailed, map[string]any{
			"artwork_id":   payload.ArtworkID,
			"user_id":      payload.UserID,
			"status":       domain.ArtworkStatusFailed,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if permanent {
			return fmt.Errorf("run pipeline: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run pipeline: %w", err)
	}

	out := result.Output
	artwork, err := s.artworks.AttachImage(ctx, payload.ArtworkID, domain.ArtworkImage{
		Key:      out.Key,
		URL:      out.URL,
		MIMEType: out.MIMEType,
		Width:    out.Width,
		Height:   out.Height,
		Bytes:    int64(out.Bytes),
	})
	if errors.Is(err, store.ErrNotFound) {
		// Deleted while normalizing; the stored output is orphaned.
		s.deleteObject(ctx, payload.ArtworkID, out.Key, sourceType)
		s.deleteSource(ctx, payload, sourceType)
		outcome = "skipped"
		return fmt.Errorf("attach image: %w: %w", err, asynq.SkipRetry)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attach image failed")
		return fmt.Errorf("attach image: %w", err)
	}

	s.logger.Printf(
		"Normalized artwork_id=%s %dx%d -> %dx%d bytes=%d->%d quality=%.2f passes=%d within_budget=%t",
		payload.ArtworkID,
		result.SourceWidth, result.SourceHeight,
		out.Width, out.Height,
		result.SourceBytes, out.Bytes,
		out.Quality, out.Passes, out.WithinBudget,
	)

	s.deleteSource(ctx, payload, sourceType)
	s.metrics.observeOutput(out)
	s.recordNormalizeLog(ctx, payload, result, time.Since(startedAt))

	// The original is gone, so a failed delivery must not send the task back
	// through the pipeline.
	s.dispatchWebhook(ctx, payload, webhook.EventArtworkReady, map[string]any{
		"artwork_id":   payload.ArtworkID,
		"user_id":      payload.UserID,
		"status":       artwork.Status,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"image":        out,
	})

	outcome = domain.ArtworkStatusReady
	span.SetAttributes(
		attribute.Int("artwork.passes", out.Passes),
		attribute.Float64("artwork.quality", out.Quality),
		attribute.Bool("artwork.within_budget", out.WithinBudget),
	)
	span.SetStatus(codes.Ok, "normalized")
	return nil
}

func sourceTypeOf(payload queue.NormalizeArtworkPayload) string {
	if payload.SourceType == "" {
		return pipeline.SourceTypeObjectStore
	}
	return payload.SourceType
}

func isPermanent(err error) bool {
	return errors.Is(err, normalize.ErrDecode) ||
		errors.Is(err, normalize.ErrEncode) ||
		errors.Is(err, normalize.ErrUnsupportedFormat) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
		errors.Is(err, pipeline.ErrSourceMissing)
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}

func (s *Server) setStatus(ctx context.Context, artworkID, status string) {
	if _, err := s.artworks.SetStatus(ctx, artworkID, status); err != nil {
		s.logger.Printf("artwork status update failed artwork_id=%s status=%s err=%v", artworkID, status, err)
	}
}

func (s *Server) deleteSource(ctx context.Context, payload queue.NormalizeArtworkPayload, sourceType string) {
	s.deleteObject(ctx, payload.ArtworkID, payload.SourceKey, sourceType)
}

func (s *Server) deleteObject(ctx context.Context, artworkID, key, sourceType string) {
	// Local sources belong to the caller.
	if sourceType == pipeline.SourceTypeLocalFile || s.objects == nil {
		return
	}
	if err := s.objects.DeleteObject(ctx, key); err != nil {
		s.logger.Printf("object delete failed artwork_id=%s key=%s err=%v", artworkID, key, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.NormalizeArtworkPayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailuresTotal.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed artwork_id=%s event=%s err=%v", payload.ArtworkID, event, err)
	}
}

func (s *Server) recordNormalizeLog(ctx context.Context, payload queue.NormalizeArtworkPayload, result pipeline.Result, computeDuration time.Duration) {
	out := result.Output
	pixelsProcessed := int64(result.SourceWidth) * int64(result.SourceHeight)
	bytesSaved := max(0, int64(result.SourceBytes-out.Bytes))
	computeTimeMS := max(1, computeDuration.Milliseconds())

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.bytesSavedTotal.Add(float64(bytesSaved))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))

	if s.logStore == nil {
		return
	}

	entry := domain.NormalizeLog{
		ArtworkID:       payload.ArtworkID,
		UserID:          payload.UserID,
		SourceBytes:     int64(result.SourceBytes),
		OutputBytes:     int64(out.Bytes),
		BytesSaved:      bytesSaved,
		PixelsProcessed: pixelsProcessed,
		Passes:          out.Passes,
		Quality:         out.Quality,
		WithinBudget:    out.WithinBudget,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.logStore.CreateNormalizeLog(ctx, entry); err != nil {
		s.logger.Printf("normalize log write failed artwork_id=%s err=%v", payload.ArtworkID, err)
	}
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}
