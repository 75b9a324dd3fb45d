package domain

import "time"

type NormalizeLog struct {
	ArtworkID       string
	UserID          string
	SourceBytes     int64
	OutputBytes     int64
	BytesSaved      int64
	PixelsProcessed int64
	Passes          int
	Quality         float64
	WithinBudget    bool
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
