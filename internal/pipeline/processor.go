package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/promptpeek/internal/normalize"
)

const (
	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"
)

var (
	ErrUnsupportedSourceType = errors.New("unsupported source_type")
	ErrSourceMissing         = errors.New("source object missing")
)

type Request struct {
	ArtworkID  string
	UserID     string
	SourceType string
	SourceKey  string
	MIMEType   string
	FileName   string
}

type Output struct {
	Key          string  `json:"key"`
	URL          string  `json:"url,omitempty"`
	MIMEType     string  `json:"mime_type"`
	Bytes        int     `json:"bytes"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Quality      float64 `json:"quality"`
	Passes       int     `json:"passes"`
	WithinBudget bool    `json:"within_budget"`
}

type Result struct {
	SourceBytes  int
	SourceWidth  int
	SourceHeight int
	Output       Output
}

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, in normalize.Image) (normalize.Result, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, res normalize.Result) (Output, error)
}

type Processor struct {
	fetcher    Fetcher
	normalizer Normalizer
	emitter    Emitter
}

func NewProcessor(fetcher Fetcher, normalizer Normalizer, emitter Emitter) (*Processor, error) {
	if fetcher == nil || normalizer == nil || emitter == nil {
		return nil, errors.New("fetcher, normalizer and emitter are required")
	}
	return &Processor{
		fetcher:    fetcher,
		normalizer: normalizer,
		emitter:    emitter,
	}, nil
}

func NewLocalProcessor(outputDir string, normalizer Normalizer) (*Processor, error) {
	return NewProcessor(LocalFileFetcher{}, normalizer, LocalFileEmitter{OutputDir: outputDir})
}

func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.ArtworkID) == "" {
		return Result{}, errors.New("artwork_id is required")
	}

	sourceBytes, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}

	normalized, err := p.normalizer.Normalize(ctx, normalize.Image{
		Name:     req.FileName,
		MIMEType: req.MIMEType,
		Data:     sourceBytes,
	})
	if err != nil {
		return Result{}, fmt.Errorf("normalize stage artwork=%s: %w", req.ArtworkID, err)
	}

	written, err := p.emitter.Emit(ctx, req, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage artwork=%s: %w", req.ArtworkID, err)
	}

	return Result{
		SourceBytes:  len(sourceBytes),
		SourceWidth:  normalized.SourceWidth,
		SourceHeight: normalized.SourceHeight,
		Output:       written,
	}, nil
}

type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if !strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	data, err := os.ReadFile(req.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("read input file %s: %w", req.SourceKey, err)
	}
	return data, nil
}

type LocalFileEmitter struct {
	OutputDir string
}

func (e LocalFileEmitter) Emit(_ context.Context, req Request, res normalize.Result) (Output, error) {
	if strings.TrimSpace(e.OutputDir) == "" {
		return Output{}, errors.New("output directory is required")
	}

	userDir := filepath.Join(e.OutputDir, sanitizePathToken(req.UserID))
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("create output dir: %w", err)
	}

	fullPath := filepath.Join(userDir, outputFileName(req, res))
	if err := os.WriteFile(fullPath, res.Data, 0o644); err != nil {
		return Output{}, fmt.Errorf("write output file: %w", err)
	}

	return outputFor(fullPath, res), nil
}

func outputFileName(req Request, res normalize.Result) string {
	return sanitizePathToken(req.ArtworkID) + normalize.Extension(res.MIMEType)
}

func outputFor(key string, res normalize.Result) Output {
	return Output{
		Key:          key,
		MIMEType:     normalize.CanonicalMIME(res.MIMEType),
		Bytes:        len(res.Data),
		Width:        res.Width,
		Height:       res.Height,
		Quality:      res.Quality,
		Passes:       res.Passes,
		WithinBudget: res.WithinBudget,
	}
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
