package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	ArtworkStatusProcessing = "processing"
	ArtworkStatusReady      = "ready"
	ArtworkStatusFailed     = "failed"

	MaxTitleRunes = 200
	MaxTags       = 10
)

type Artwork struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Prompt         string    `json:"prompt"`
	NegativePrompt string    `json:"negative_prompt,omitempty"`
	ModelName      string    `json:"model_name,omitempty"`
	Steps          *int      `json:"steps,omitempty"`
	CFGScale       *float64  `json:"cfg_scale,omitempty"`
	Seed           *int64    `json:"seed,omitempty"`
	Width          *int      `json:"width,omitempty"`
	Height         *int      `json:"height,omitempty"`
	Tags           []string  `json:"tags"`
	Status         string    `json:"status"`
	SourceKey      string    `json:"-"`
	ImageKey       string    `json:"-"`
	ImageURL       string    `json:"image_url,omitempty"`
	MIMEType       string    `json:"mime_type,omitempty"`
	ImageWidth     int       `json:"image_width,omitempty"`
	ImageHeight    int       `json:"image_height,omitempty"`
	ImageBytes     int64     `json:"image_bytes,omitempty"`
	LikesCount     int       `json:"likes_count"`
	FavoritesCount int       `json:"favorites_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type ArtworkImage struct {
	Key      string
	URL      string
	MIMEType string
	Width    int
	Height   int
	Bytes    int64
}

type ArtworkMeta struct {
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	ModelName      string   `json:"model_name,omitempty"`
	Steps          *int     `json:"steps,omitempty"`
	CFGScale       *float64 `json:"cfg_scale,omitempty"`
	Seed           *int64   `json:"seed,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

type CreateArtworkRequest struct {
	ArtworkMeta
	FileName string
	MIMEType string
}

type UpdateArtworkRequest struct {
	ArtworkMeta
}

func (m *ArtworkMeta) Clean() {
	m.Title = strings.TrimSpace(m.Title)
	m.Description = strings.TrimSpace(m.Description)
	m.Prompt = strings.TrimSpace(m.Prompt)
	m.NegativePrompt = strings.TrimSpace(m.NegativePrompt)
	m.ModelName = strings.TrimSpace(m.ModelName)
	m.Tags = CleanTags(m.Tags)
}

func (m ArtworkMeta) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return errors.New("title is required")
	}
	if utf8.RuneCountInString(m.Title) > MaxTitleRunes {
		return fmt.Errorf("title must be at most %d characters", MaxTitleRunes)
	}
	if strings.TrimSpace(m.Prompt) == "" {
		return errors.New("prompt is required")
	}
	if m.Steps != nil && *m.Steps <= 0 {
		return errors.New("steps must be positive")
	}
	if m.CFGScale != nil && *m.CFGScale <= 0 {
		return errors.New("cfg_scale must be positive")
	}
	if m.Width != nil && *m.Width <= 0 {
		return errors.New("width must be positive")
	}
	if m.Height != nil && *m.Height <= 0 {
		return errors.New("height must be positive")
	}
	if len(CleanTags(m.Tags)) > MaxTags {
		return fmt.Errorf("at most %d tags are allowed", MaxTags)
	}
	return nil
}

func (r CreateArtworkRequest) Validate() error {
	if err := r.ArtworkMeta.Validate(); err != nil {
		return err
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(r.MIMEType)), "image/") {
		return fmt.Errorf("unsupported file type: %q", r.MIMEType)
	}
	return nil
}

func (m ArtworkMeta) Apply(a *Artwork) {
	a.Title = m.Title
	a.Description = m.Description
	a.Prompt = m.Prompt
	a.NegativePrompt = m.NegativePrompt
	a.ModelName = m.ModelName
	a.Steps = m.Steps
	a.CFGScale = m.CFGScale
	a.Seed = m.Seed
	a.Width = m.Width
	a.Height = m.Height
	a.Tags = CleanTags(m.Tags)
}

// CleanTags lowercases, trims and de-duplicates tags, keeping first-seen order.
func CleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

const (
	DefaultListLimit = 24
	MaxListLimit     = 100
)

type ListFilter struct {
	UserID      string
	FavoritedBy string
	LikedBy     string
	Tag         string
	ModelName   string
	// IncludeAll lists artworks in every status; otherwise only ready ones.
	IncludeAll bool
	Limit      int
	Offset     int
}

func (f ListFilter) Normalize() ListFilter {
	f.UserID = strings.TrimSpace(f.UserID)
	f.FavoritedBy = strings.TrimSpace(f.FavoritedBy)
	f.LikedBy = strings.TrimSpace(f.LikedBy)
	f.Tag = strings.ToLower(strings.TrimSpace(f.Tag))
	f.ModelName = strings.TrimSpace(f.ModelName)
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type Reactions struct {
	Liked     bool `json:"liked"`
	Favorited bool `json:"favorited"`
}

type UserStats struct {
	UserID            string `json:"user_id"`
	Uploads           int    `json:"uploads"`
	LikesReceived     int    `json:"likes_received"`
	FavoritesReceived int    `json:"favorites_received"`
	Likes             int    `json:"likes"`
	Favorites         int    `json:"favorites"`
}
