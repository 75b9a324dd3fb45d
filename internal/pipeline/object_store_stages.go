package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/promptpeek/internal/normalize"
)

type ObjectStorage interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	PublicURL(objectKey string) string
}

type ObjectStoreFetcher struct {
	Storage ObjectStorage
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.EqualFold(req.SourceType, SourceTypeLocalFile) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, req.SourceType)
	}

	data, err := f.Storage.ReadObject(ctx, req.SourceKey)
	if err == nil {
		return data, nil
	}
	// A read error alone does not say whether the upload is gone or the
	// store is unreachable.
	if exists, statErr := f.Storage.ObjectExists(ctx, req.SourceKey); statErr == nil && !exists {
		return nil, fmt.Errorf("%w: %s", ErrSourceMissing, req.SourceKey)
	}
	return nil, fmt.Errorf("read source %s: %w", req.SourceKey, err)
}

type ObjectStoreEmitter struct {
	Storage      ObjectStorage
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, res normalize.Result) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := ArtworkObjectKey(e.OutputPrefix, req, res.MIMEType)
	if err := e.Storage.WriteObject(ctx, objectKey, res.Data, normalize.CanonicalMIME(res.MIMEType)); err != nil {
		return Output{}, err
	}

	out := outputFor(objectKey, res)
	out.URL = e.Storage.PublicURL(objectKey)
	return out, nil
}

// ArtworkObjectKey is the storage key of a normalized artwork image:
// {prefix}/{user}/{artwork}{ext}.
func ArtworkObjectKey(prefix string, req Request, mimeType string) string {
	return path.Join(
		defaultOutputPrefix(prefix),
		sanitizePathToken(req.UserID),
		sanitizePathToken(req.ArtworkID)+normalize.Extension(mimeType),
	)
}

func SourceObjectKey(artworkID string) string {
	return path.Join("uploads", sanitizePathToken(artworkID), "source")
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "artworks"
	}
	return prefix
}
