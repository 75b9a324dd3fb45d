package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/promptpeek/internal/domain"
	"github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS artworks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	prompt TEXT NOT NULL,
	negative_prompt TEXT NOT NULL DEFAULT '',
	model_name TEXT NOT NULL DEFAULT '',
	steps INTEGER,
	cfg_scale DOUBLE PRECISION,
	seed BIGINT,
	width INTEGER,
	height INTEGER,
	tags TEXT[] NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	source_key TEXT NOT NULL DEFAULT '',
	image_key TEXT NOT NULL DEFAULT '',
	image_url TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL DEFAULT '',
	image_width INTEGER NOT NULL DEFAULT 0,
	image_height INTEGER NOT NULL DEFAULT 0,
	image_bytes BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS artworks_user_created_idx ON artworks (user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS artworks_status_created_idx ON artworks (status, created_at DESC);

CREATE TABLE IF NOT EXISTS likes (
	artwork_id TEXT NOT NULL REFERENCES artworks (id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (artwork_id, user_id)
);

CREATE TABLE IF NOT EXISTS favorites (
	artwork_id TEXT NOT NULL REFERENCES artworks (id) ON DELETE CASCADE,
	user_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (artwork_id, user_id)
);
CREATE INDEX IF NOT EXISTS favorites_user_idx ON favorites (user_id);

CREATE TABLE IF NOT EXISTS normalize_logs (
	id BIGSERIAL PRIMARY KEY,
	artwork_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	source_bytes BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	passes INTEGER NOT NULL,
	quality DOUBLE PRECISION NOT NULL,
	within_budget BOOLEAN NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const artworkColumns = `a.id, a.user_id, a.title, a.description, a.prompt, a.negative_prompt, a.model_name,
	a.steps, a.cfg_scale, a.seed, a.width, a.height, a.tags, a.status, a.source_key,
	a.image_key, a.image_url, a.mime_type, a.image_width, a.image_height, a.image_bytes,
	a.created_at, a.updated_at,
	(SELECT count(*) FROM likes l WHERE l.artwork_id = a.id),
	(SELECT count(*) FROM favorites f WHERE f.artwork_id = a.id)`

const foreignKeyViolation = "23503"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure gallery schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, a domain.Artwork) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO artworks (id, user_id, title, description, prompt, negative_prompt, model_name,
			steps, cfg_scale, seed, width, height, tags, status, source_key, image_key, image_url,
			mime_type, image_width, image_height, image_bytes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23)`,
		a.ID,
		a.UserID,
		a.Title,
		a.Description,
		a.Prompt,
		a.NegativePrompt,
		a.ModelName,
		a.Steps,
		a.CFGScale,
		a.Seed,
		a.Width,
		a.Height,
		pq.Array(nonNilTags(a.Tags)),
		a.Status,
		a.SourceKey,
		a.ImageKey,
		a.ImageURL,
		a.MIMEType,
		a.ImageWidth,
		a.ImageHeight,
		a.ImageBytes,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert artwork: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Artwork, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artworkColumns+` FROM artworks a WHERE a.id = $1`, id)
	artwork, err := scanArtwork(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Artwork{}, false, nil
		}
		return domain.Artwork{}, false, fmt.Errorf("query artwork: %w", err)
	}
	return artwork, true, nil
}

func (s *PostgresStore) List(ctx context.Context, filter domain.ListFilter) ([]domain.Artwork, error) {
	query, args := buildListQuery(filter.Normalize())
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artworks: %w", err)
	}
	defer rows.Close()

	artworks := make([]domain.Artwork, 0)
	for rows.Next() {
		artwork, err := scanArtwork(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artwork: %w", err)
		}
		artworks = append(artworks, artwork)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artworks: %w", err)
	}
	return artworks, nil
}

func buildListQuery(filter domain.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if !filter.IncludeAll {
		where = append(where, "a.status = "+arg(domain.ArtworkStatusReady))
	}
	if filter.UserID != "" {
		where = append(where, "a.user_id = "+arg(filter.UserID))
	}
	if filter.ModelName != "" {
		where = append(where, "a.model_name = "+arg(filter.ModelName))
	}
	if filter.Tag != "" {
		where = append(where, arg(filter.Tag)+" = ANY(a.tags)")
	}
	if filter.FavoritedBy != "" {
		where = append(where, "EXISTS (SELECT 1 FROM favorites fb WHERE fb.artwork_id = a.id AND fb.user_id = "+arg(filter.FavoritedBy)+")")
	}
	if filter.LikedBy != "" {
		where = append(where, "EXISTS (SELECT 1 FROM likes lb WHERE lb.artwork_id = a.id AND lb.user_id = "+arg(filter.LikedBy)+")")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(artworkColumns)
	b.WriteString(" FROM artworks a")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY a.created_at DESC, a.id DESC")
	b.WriteString(" LIMIT " + arg(filter.Limit))
	b.WriteString(" OFFSET " + arg(filter.Offset))
	return b.String(), args
}

func (s *PostgresStore) Update(ctx context.Context, id, userID string, meta domain.ArtworkMeta) (domain.Artwork, error) {
	if err := s.checkOwner(ctx, id, userID); err != nil {
		return domain.Artwork{}, err
	}

	_, err := s.db.ExecContext(
		ctx,
		`UPDATE artworks
		 SET title = $1, description = $2, prompt = $3, negative_prompt = $4, model_name = $5,
			steps = $6, cfg_scale = $7, seed = $8, width = $9, height = $10, tags = $11, updated_at = $12
		 WHERE id = $13 AND user_id = $14`,
		meta.Title,
		meta.Description,
		meta.Prompt,
		meta.NegativePrompt,
		meta.ModelName,
		meta.Steps,
		meta.CFGScale,
		meta.Seed,
		meta.Width,
		meta.Height,
		pq.Array(domain.CleanTags(meta.Tags)),
		time.Now().UTC(),
		id,
		userID,
	)
	if err != nil {
		return domain.Artwork{}, fmt.Errorf("update artwork: %w", err)
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresStore) SetStatus(ctx context.Context, id, status string) (domain.Artwork, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE artworks SET status = $1, updated_at = $2 WHERE id = $3`,
		status,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Artwork{}, fmt.Errorf("update artwork status: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return domain.Artwork{}, err
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresStore) AttachImage(ctx context.Context, id string, img domain.ArtworkImage) (domain.Artwork, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE artworks
		 SET image_key = $1, image_url = $2, mime_type = $3, image_width = $4, image_height = $5,
			image_bytes = $6, status = $7, updated_at = $8
		 WHERE id = $9`,
		img.Key,
		img.URL,
		img.MIMEType,
		img.Width,
		img.Height,
		img.Bytes,
		domain.ArtworkStatusReady,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return domain.Artwork{}, fmt.Errorf("attach artwork image: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return domain.Artwork{}, err
	}
	return s.mustGet(ctx, id)
}

func (s *PostgresStore) Delete(ctx context.Context, id, userID string) (domain.Artwork, error) {
	artwork, err := s.mustGet(ctx, id)
	if err != nil {
		return domain.Artwork{}, err
	}
	if artwork.UserID != userID {
		return domain.Artwork{}, ErrForbidden
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM artworks WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
		return domain.Artwork{}, fmt.Errorf("delete artwork: %w", err)
	}
	return artwork, nil
}

func (s *PostgresStore) Like(ctx context.Context, artworkID, userID string) (int, error) {
	return s.react(ctx, "likes", artworkID, userID, true)
}

func (s *PostgresStore) Unlike(ctx context.Context, artworkID, userID string) (int, error) {
	return s.react(ctx, "likes", artworkID, userID, false)
}

func (s *PostgresStore) Favorite(ctx context.Context, artworkID, userID string) (int, error) {
	return s.react(ctx, "favorites", artworkID, userID, true)
}

func (s *PostgresStore) Unfavorite(ctx context.Context, artworkID, userID string) (int, error) {
	return s.react(ctx, "favorites", artworkID, userID, false)
}

// table is always one of the constant reaction table names.
func (s *PostgresStore) react(ctx context.Context, table, artworkID, userID string, add bool) (int, error) {
	if add {
		_, err := s.db.ExecContext(
			ctx,
			`INSERT INTO `+table+` (artwork_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			artworkID,
			userID,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
				return 0, ErrNotFound
			}
			return 0, fmt.Errorf("insert %s row: %w", table, err)
		}
	} else {
		if err := s.checkExists(ctx, artworkID); err != nil {
			return 0, err
		}
		if _, err := s.db.ExecContext(
			ctx,
			`DELETE FROM `+table+` WHERE artwork_id = $1 AND user_id = $2`,
			artworkID,
			userID,
		); err != nil {
			return 0, fmt.Errorf("delete %s row: %w", table, err)
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM `+table+` WHERE artwork_id = $1`, artworkID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return count, nil
}

func (s *PostgresStore) Reactions(ctx context.Context, artworkID, userID string) (domain.Reactions, error) {
	if err := s.checkExists(ctx, artworkID); err != nil {
		return domain.Reactions{}, err
	}

	var r domain.Reactions
	err := s.db.QueryRowContext(
		ctx,
		`SELECT
			EXISTS (SELECT 1 FROM likes WHERE artwork_id = $1 AND user_id = $2),
			EXISTS (SELECT 1 FROM favorites WHERE artwork_id = $1 AND user_id = $2)`,
		artworkID,
		userID,
	).Scan(&r.Liked, &r.Favorited)
	if err != nil {
		return domain.Reactions{}, fmt.Errorf("query reactions: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Stats(ctx context.Context, userID string) (domain.UserStats, error) {
	stats := domain.UserStats{UserID: userID}
	err := s.db.QueryRowContext(
		ctx,
		`SELECT
			(SELECT count(*) FROM artworks WHERE user_id = $1),
			(SELECT count(*) FROM likes l JOIN artworks a ON a.id = l.artwork_id WHERE a.user_id = $1),
			(SELECT count(*) FROM favorites f JOIN artworks a ON a.id = f.artwork_id WHERE a.user_id = $1),
			(SELECT count(*) FROM likes WHERE user_id = $1),
			(SELECT count(*) FROM favorites WHERE user_id = $1)`,
		userID,
	).Scan(&stats.Uploads, &stats.LikesReceived, &stats.FavoritesReceived, &stats.Likes, &stats.Favorites)
	if err != nil {
		return domain.UserStats{}, fmt.Errorf("query user stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Tags(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT DISTINCT unnest(tags) AS tag FROM artworks WHERE status = $1 ORDER BY tag`,
		domain.ArtworkStatusReady,
	)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *PostgresStore) CreateNormalizeLog(ctx context.Context, entry domain.NormalizeLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO normalize_logs (artwork_id, user_id, source_bytes, output_bytes, bytes_saved,
			pixels_processed, passes, quality, within_budget, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ArtworkID,
		entry.UserID,
		entry.SourceBytes,
		entry.OutputBytes,
		entry.BytesSaved,
		entry.PixelsProcessed,
		entry.Passes,
		entry.Quality,
		entry.WithinBudget,
		entry.ComputeTimeMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert normalize log: %w", err)
	}
	return nil
}

func (s *PostgresStore) mustGet(ctx context.Context, id string) (domain.Artwork, error) {
	artwork, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Artwork{}, err
	}
	if !ok {
		return domain.Artwork{}, ErrNotFound
	}
	return artwork, nil
}

func (s *PostgresStore) checkExists(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM artworks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check artwork: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) checkOwner(ctx context.Context, id, userID string) error {
	var owner string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM artworks WHERE id = $1`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check artwork owner: %w", err)
	}
	if owner != userID {
		return ErrForbidden
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtwork(row rowScanner) (domain.Artwork, error) {
	var (
		a        domain.Artwork
		steps    sql.NullInt64
		cfgScale sql.NullFloat64
		seed     sql.NullInt64
		width    sql.NullInt64
		height   sql.NullInt64
		tags     pq.StringArray
	)
	if err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Title,
		&a.Description,
		&a.Prompt,
		&a.NegativePrompt,
		&a.ModelName,
		&steps,
		&cfgScale,
		&seed,
		&width,
		&height,
		&tags,
		&a.Status,
		&a.SourceKey,
		&a.ImageKey,
		&a.ImageURL,
		&a.MIMEType,
		&a.ImageWidth,
		&a.ImageHeight,
		&a.ImageBytes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.LikesCount,
		&a.FavoritesCount,
	); err != nil {
		return domain.Artwork{}, err
	}

	a.Steps = nullIntPtr(steps)
	a.Width = nullIntPtr(width)
	a.Height = nullIntPtr(height)
	if cfgScale.Valid {
		v := cfgScale.Float64
		a.CFGScale = &v
	}
	if seed.Valid {
		v := seed.Int64
		a.Seed = &v
	}
	a.Tags = nonNilTags(tags)
	return a, nil
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
