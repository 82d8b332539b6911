package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/imagearena/api/internal/database"
	"github.com/imagearena/api/internal/models"
)

const (
	pgForeignKeyViolation = "23503"
	pgNumericOutOfRange   = "22003"
)

// Postgres is the catalog and vote store backed by PostgreSQL
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store on top of an open connection pool
func NewPostgres(db *database.Postgres) *Postgres {
	return &Postgres{pool: db.Pool()}
}

// GetPrompt returns a prompt by id
func (s *Postgres) GetPrompt(ctx context.Context, promptID uuid.UUID) (*models.Prompt, error) {
	query := `SELECT id, slug, text, created_at, updated_at FROM prompts WHERE id = $1`

	var p models.Prompt
	err := s.pool.QueryRow(ctx, query, promptID).Scan(&p.ID, &p.Slug, &p.Text, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt: %w", err)
	}
	return &p, nil
}

// GetPromptText returns the localized text of a prompt, if a variant exists
func (s *Postgres) GetPromptText(ctx context.Context, promptID uuid.UUID, language string) (string, bool, error) {
	query := `SELECT text FROM prompt_translations WHERE prompt_id = $1 AND language = $2`

	var text string
	err := s.pool.QueryRow(ctx, query, promptID, language).Scan(&text)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query translation: %w", err)
	}
	return text, true, nil
}

// GetImagesForPrompt returns every image of a prompt ordered by id
func (s *Postgres) GetImagesForPrompt(ctx context.Context, promptID uuid.UUID) ([]models.Image, error) {
	query := `
		SELECT id, prompt_id, model_name, image_path, impression_count, created_at
		FROM images
		WHERE prompt_id = $1
		ORDER BY id
	`

	rows, err := s.pool.Query(ctx, query, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		var img models.Image
		if err := rows.Scan(&img.ID, &img.PromptID, &img.ModelName, &img.ImagePath, &img.ImpressionCount, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read images: %w", err)
	}
	return images, nil
}

// IncrementImpressions applies every increment in one transaction. Each
// update is conditional on the counter still holding the expected value; if
// any of them matches no row the transaction is rolled back and
// ErrStaleCounters is returned.
func (s *Postgres) IncrementImpressions(ctx context.Context, incs []Increment) error {
	if err := validateIncrements(incs); err != nil {
		return err
	}
	if len(incs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, inc := range incs {
		batch.Queue(`
			UPDATE images
			SET impression_count = impression_count + 1
			WHERE id = $1 AND impression_count = $2
		`, inc.ImageID, inc.Expected)
	}

	br := tx.SendBatch(ctx, batch)
	stale := false
	for range incs {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return mapWriteError(err)
		}
		if tag.RowsAffected() != 1 {
			stale = true
		}
	}
	if err := br.Close(); err != nil {
		return mapWriteError(err)
	}
	if stale {
		return ErrStaleCounters
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit impressions: %w", err)
	}
	return nil
}

// CountPrompts returns the number of prompts
func (s *Postgres) CountPrompts(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM prompts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count prompts: %w", err)
	}
	return n, nil
}

// PromptIDAt returns the id of the prompt at offset in id order
func (s *Postgres) PromptIDAt(ctx context.Context, offset int64) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `SELECT id FROM prompts ORDER BY id OFFSET $1 LIMIT 1`, offset).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to pick prompt: %w", err)
	}
	return id, nil
}

// InsertVote appends an immutable vote record
func (s *Postgres) InsertVote(ctx context.Context, vote *models.Vote) error {
	query := `
		INSERT INTO votes (id, prompt_id, chosen_model, shown_models, session_id,
		                   user_ip, user_agent, browser, os, device, country, region, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	c := vote.Client
	_, err := s.pool.Exec(ctx, query,
		vote.ID, vote.PromptID, vote.ChosenModel, vote.ShownModels, nullIfEmpty(vote.SessionID),
		nullIfEmpty(c.IP), nullIfEmpty(c.UserAgent), nullIfEmpty(c.Browser), nullIfEmpty(c.OS),
		nullIfEmpty(c.Device), nullIfEmpty(c.Country), nullIfEmpty(c.Region), vote.CreatedAt,
	)
	if err != nil {
		return mapWriteError(err)
	}
	return nil
}

// LoadTallies reads per-model votes and impressions in one repeatable-read
// snapshot so both sides of the ratio come from the same point in time
func (s *Postgres) LoadTallies(ctx context.Context) (*models.Tallies, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback(ctx)

	t := &models.Tallies{
		Votes:       make(map[string]int64),
		Impressions: make(map[string]int64),
	}

	if err := collectCounts(ctx, tx, `SELECT chosen_model, COUNT(*) FROM votes GROUP BY chosen_model`, t.Votes); err != nil {
		return nil, fmt.Errorf("failed to tally votes: %w", err)
	}
	if err := collectCounts(ctx, tx, `SELECT model_name, COALESCE(SUM(impression_count), 0)::BIGINT FROM images GROUP BY model_name`, t.Impressions); err != nil {
		return nil, fmt.Errorf("failed to tally impressions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to close snapshot: %w", err)
	}
	return t, nil
}

// UpsertPrompt creates a prompt or updates the text of the one with slug
func (s *Postgres) UpsertPrompt(ctx context.Context, slug, text string) (*models.Prompt, error) {
	query := `
		INSERT INTO prompts (id, slug, text)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET text = EXCLUDED.text, updated_at = NOW()
		RETURNING id, slug, text, created_at, updated_at
	`

	var p models.Prompt
	err := s.pool.QueryRow(ctx, query, uuid.New(), slug, text).Scan(&p.ID, &p.Slug, &p.Text, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert prompt: %w", err)
	}
	return &p, nil
}

// UpsertTranslation sets the text of a prompt's variant for language
func (s *Postgres) UpsertTranslation(ctx context.Context, promptID uuid.UUID, language, text string) error {
	query := `
		INSERT INTO prompt_translations (id, prompt_id, language, text)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (prompt_id, language) DO UPDATE SET text = EXCLUDED.text
	`
	if _, err := s.pool.Exec(ctx, query, uuid.New(), promptID, language, text); err != nil {
		return mapWriteError(err)
	}
	return nil
}

// AddImage records an image. It reports false when an image with the same
// path already exists.
func (s *Postgres) AddImage(ctx context.Context, img *models.Image) (bool, error) {
	id := img.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	query := `
		INSERT INTO images (id, prompt_id, model_name, image_path, impression_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (image_path) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query, id, img.PromptID, img.ModelName, img.ImagePath, img.ImpressionCount)
	if err != nil {
		return false, mapWriteError(err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	img.ID = id
	return true, nil
}

// ListPrompts returns every prompt ordered by slug
func (s *Postgres) ListPrompts(ctx context.Context) ([]models.Prompt, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, slug, text, created_at, updated_at FROM prompts ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.Slug, &p.Text, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// ListTranslations returns every localized variant of a prompt
func (s *Postgres) ListTranslations(ctx context.Context, promptID uuid.UUID) ([]models.PromptTranslation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, prompt_id, language, text
		FROM prompt_translations
		WHERE prompt_id = $1
		ORDER BY language
	`, promptID)
	if err != nil {
		return nil, fmt.Errorf("failed to list translations: %w", err)
	}
	defer rows.Close()

	var out []models.PromptTranslation
	for rows.Next() {
		var tr models.PromptTranslation
		if err := rows.Scan(&tr.ID, &tr.PromptID, &tr.Language, &tr.Text); err != nil {
			return nil, fmt.Errorf("failed to scan translation: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// PromptCoverage reports distinct model and image counts per prompt
func (s *Postgres) PromptCoverage(ctx context.Context) ([]Coverage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.id, p.slug, COUNT(DISTINCT i.model_name), COUNT(i.id)
		FROM prompts p
		LEFT JOIN images i ON i.prompt_id = p.id
		GROUP BY p.id, p.slug
		ORDER BY p.slug
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage: %w", err)
	}
	defer rows.Close()

	var out []Coverage
	for rows.Next() {
		var cov Coverage
		if err := rows.Scan(&cov.PromptID, &cov.Slug, &cov.Models, &cov.Images); err != nil {
			return nil, fmt.Errorf("failed to scan coverage: %w", err)
		}
		out = append(out, cov)
	}
	return out, rows.Err()
}

// ResetVotes deletes every vote and zeroes every impression counter
func (s *Postgres) ResetVotes(ctx context.Context) (*ResetResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res := &ResetResult{}
	tag, err := tx.Exec(ctx, `DELETE FROM votes`)
	if err != nil {
		return nil, fmt.Errorf("failed to delete votes: %w", err)
	}
	res.Votes = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `UPDATE images SET impression_count = 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to reset impressions: %w", err)
	}
	res.Images = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reset: %w", err)
	}
	return res, nil
}

// WipeAll deletes every prompt and, by cascade, everything that refers to it
func (s *Postgres) WipeAll(ctx context.Context) (*ResetResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res := &ResetResult{}
	err = tx.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM votes),
		       (SELECT COUNT(*) FROM images),
		       (SELECT COUNT(*) FROM prompt_translations)
	`).Scan(&res.Votes, &res.Images, &res.Translations)
	if err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM prompts`)
	if err != nil {
		return nil, fmt.Errorf("failed to delete prompts: %w", err)
	}
	res.Prompts = tag.RowsAffected()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit wipe: %w", err)
	}
	return res, nil
}

func collectCounts(ctx context.Context, tx pgx.Tx, query string, into map[string]int64) error {
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrNotFound)
		case pgNumericOutOfRange:
			return ErrCounterOverflow
		}
	}
	return err
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
