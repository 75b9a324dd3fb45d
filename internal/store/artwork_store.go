package store

import (
	"context"
	"errors"
	"strings"

	"github.com/dunamismax/promptpeek/internal/domain"
)

var (
	ErrNotFound  = errors.New("artwork not found")
	ErrForbidden = errors.New("artwork belongs to another user")
)

type ArtworkStore interface {
	Create(ctx context.Context, artwork domain.Artwork) error
	Get(ctx context.Context, id string) (domain.Artwork, bool, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Artwork, error)
	Update(ctx context.Context, id, userID string, meta domain.ArtworkMeta) (domain.Artwork, error)
	SetStatus(ctx context.Context, id, status string) (domain.Artwork, error)
	AttachImage(ctx context.Context, id string, img domain.ArtworkImage) (domain.Artwork, error)
	// Delete removes an owned artwork with its likes and favorites and returns
	// the removed row so callers can clean up stored objects.
	Delete(ctx context.Context, id, userID string) (domain.Artwork, error)

	Like(ctx context.Context, artworkID, userID string) (int, error)
	Unlike(ctx context.Context, artworkID, userID string) (int, error)
	Favorite(ctx context.Context, artworkID, userID string) (int, error)
	Unfavorite(ctx context.Context, artworkID, userID string) (int, error)
	Reactions(ctx context.Context, artworkID, userID string) (domain.Reactions, error)

	Stats(ctx context.Context, userID string) (domain.UserStats, error)
	Tags(ctx context.Context) ([]string, error)
}

type NormalizeLogStore interface {
	CreateNormalizeLog(ctx context.Context, entry domain.NormalizeLog) error
}

type Store interface {
	ArtworkStore
	NormalizeLogStore
	Close() error
}

func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryStore(), nil
	}
	pg, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
