package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dunamismax/promptpeek/internal/domain"
)

type MemoryStore struct {
	mu        sync.RWMutex
	artworks  map[string]domain.Artwork
	likes     map[string]map[string]struct{}
	favorites map[string]map[string]struct{}
	logs      []domain.NormalizeLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artworks:  make(map[string]domain.Artwork),
		likes:     make(map[string]map[string]struct{}),
		favorites: make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Create(_ context.Context, artwork domain.Artwork) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	artwork.Tags = slices.Clone(artwork.Tags)
	s.artworks[artwork.ID] = artwork
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.Artwork, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artwork, ok := s.artworks[id]
	if !ok {
		return domain.Artwork{}, false, nil
	}
	return s.view(artwork), true, nil
}

func (s *MemoryStore) List(_ context.Context, filter domain.ListFilter) ([]domain.Artwork, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Artwork, 0, len(s.artworks))
	for _, artwork := range s.artworks {
		if !filter.IncludeAll && artwork.Status != domain.ArtworkStatusReady {
			continue
		}
		if filter.UserID != "" && artwork.UserID != filter.UserID {
			continue
		}
		if filter.ModelName != "" && artwork.ModelName != filter.ModelName {
			continue
		}
		if filter.Tag != "" && !slices.Contains(artwork.Tags, filter.Tag) {
			continue
		}
		if filter.FavoritedBy != "" {
			if _, ok := s.favorites[artwork.ID][filter.FavoritedBy]; !ok {
				continue
			}
		}
		if filter.LikedBy != "" {
			if _, ok := s.likes[artwork.ID][filter.LikedBy]; !ok {
				continue
			}
		}
		matched = append(matched, s.view(artwork))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset >= len(matched) {
		return []domain.Artwork{}, nil
	}
	end := min(len(matched), filter.Offset+filter.Limit)
	return matched[filter.Offset:end], nil
}

func (s *MemoryStore) Update(_ context.Context, id, userID string, meta domain.ArtworkMeta) (domain.Artwork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artwork, err := s.owned(id, userID)
	if err != nil {
		return domain.Artwork{}, err
	}
	meta.Apply(&artwork)
	artwork.UpdatedAt = time.Now().UTC()
	s.artworks[id] = artwork
	return s.view(artwork), nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id, status string) (domain.Artwork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artwork, ok := s.artworks[id]
	if !ok {
		return domain.Artwork{}, ErrNotFound
	}
	artwork.Status = status
	artwork.UpdatedAt = time.Now().UTC()
	s.artworks[id] = artwork
	return s.view(artwork), nil
}

func (s *MemoryStore) AttachImage(_ context.Context, id string, img domain.ArtworkImage) (domain.Artwork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artwork, ok := s.artworks[id]
	if !ok {
		return domain.Artwork{}, ErrNotFound
	}
	artwork.ImageKey = img.Key
	artwork.ImageURL = img.URL
	artwork.MIMEType = img.MIMEType
	artwork.ImageWidth = img.Width
	artwork.ImageHeight = img.Height
	artwork.ImageBytes = img.Bytes
	artwork.Status = domain.ArtworkStatusReady
	artwork.UpdatedAt = time.Now().UTC()
	s.artworks[id] = artwork
	return s.view(artwork), nil
}

func (s *MemoryStore) Delete(_ context.Context, id, userID string) (domain.Artwork, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	artwork, err := s.owned(id, userID)
	if err != nil {
		return domain.Artwork{}, err
	}
	out := s.view(artwork)
	delete(s.artworks, id)
	delete(s.likes, id)
	delete(s.favorites, id)
	return out, nil
}

func (s *MemoryStore) Like(_ context.Context, artworkID, userID string) (int, error) {
	return s.react(s.likes, artworkID, userID, true)
}

func (s *MemoryStore) Unlike(_ context.Context, artworkID, userID string) (int, error) {
	return s.react(s.likes, artworkID, userID, false)
}

func (s *MemoryStore) Favorite(_ context.Context, artworkID, userID string) (int, error) {
	return s.react(s.favorites, artworkID, userID, true)
}

func (s *MemoryStore) Unfavorite(_ context.Context, artworkID, userID string) (int, error) {
	return s.react(s.favorites, artworkID, userID, false)
}

func (s *MemoryStore) Reactions(_ context.Context, artworkID, userID string) (domain.Reactions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.artworks[artworkID]; !ok {
		return domain.Reactions{}, ErrNotFound
	}
	_, liked := s.likes[artworkID][userID]
	_, favorited := s.favorites[artworkID][userID]
	return domain.Reactions{Liked: liked, Favorited: favorited}, nil
}

func (s *MemoryStore) Stats(_ context.Context, userID string) (domain.UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.UserStats{UserID: userID}
	for id, artwork := range s.artworks {
		if artwork.UserID == userID {
			stats.Uploads++
			stats.LikesReceived += len(s.likes[id])
			stats.FavoritesReceived += len(s.favorites[id])
		}
		if _, ok := s.likes[id][userID]; ok {
			stats.Likes++
		}
		if _, ok := s.favorites[id][userID]; ok {
			stats.Favorites++
		}
	}
	return stats, nil
}

func (s *MemoryStore) Tags(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, artwork := range s.artworks {
		if artwork.Status != domain.ArtworkStatusReady {
			continue
		}
		for _, tag := range artwork.Tags {
			seen[tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

func (s *MemoryStore) CreateNormalizeLog(_ context.Context, entry domain.NormalizeLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, entry)
	return nil
}

func (s *MemoryStore) NormalizeLogs() []domain.NormalizeLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs)
}

func (s *MemoryStore) react(set map[string]map[string]struct{}, artworkID, userID string, add bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artworks[artworkID]; !ok {
		return 0, ErrNotFound
	}
	users := set[artworkID]
	if add {
		if users == nil {
			users = make(map[string]struct{})
			set[artworkID] = users
		}
		users[userID] = struct{}{}
	} else {
		delete(users, userID)
	}
	return len(users), nil
}

func (s *MemoryStore) owned(id, userID string) (domain.Artwork, error) {
	artwork, ok := s.artworks[id]
	if !ok {
		return domain.Artwork{}, ErrNotFound
	}
	if artwork.UserID != userID {
		return domain.Artwork{}, ErrForbidden
	}
	return artwork, nil
}

// Callers must hold s.mu.
func (s *MemoryStore) view(artwork domain.Artwork) domain.Artwork {
	artwork.Tags = slices.Clone(artwork.Tags)
	if artwork.Tags == nil {
		artwork.Tags = []string{}
	}
	artwork.LikesCount = len(s.likes[artwork.ID])
	artwork.FavoritesCount = len(s.favorites[artwork.ID])
	return artwork
}

func (s *MemoryStore) Close() error {
	return nil
}
