package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS tracked_items (
    id         TEXT PRIMARY KEY,
    url        TEXT NOT NULL UNIQUE,
    doc        JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, `
CREATE OR REPLACE FUNCTION merge_subscribers(stored JSONB, incoming JSONB) RETURNS JSONB
LANGUAGE sql IMMUTABLE AS $$
    WITH s AS (
        SELECT elem, ord FROM jsonb_array_elements(
            CASE WHEN jsonb_typeof(stored) = 'array' THEN stored ELSE '[]'::jsonb END
        ) WITH ORDINALITY AS t(elem, ord)
    ), i AS (
        SELECT elem, ord FROM jsonb_array_elements(
            CASE WHEN jsonb_typeof(incoming) = 'array' THEN incoming ELSE '[]'::jsonb END
        ) WITH ORDINALITY AS t(elem, ord)
    )
    SELECT COALESCE(jsonb_agg(elem ORDER BY grp, ord), '[]'::jsonb) FROM (
        SELECT elem, 0 AS grp, ord FROM s
        UNION ALL
        SELECT elem, 1 AS grp, ord FROM i
        WHERE NOT EXISTS (
            SELECT 1 FROM s WHERE lower(s.elem->>'email') = lower(i.elem->>'email'))
    ) merged
$$`,
}

// On conflict the stored id and created_at win over the incoming document,
// and stored subscribers are kept with any new incoming ones appended.
const upsertQuery = `
INSERT INTO tracked_items (id, url, doc, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (url) DO UPDATE SET
    doc = EXCLUDED.doc || jsonb_build_object(
        'id', tracked_items.id,
        'created_at', tracked_items.doc->'created_at',
        'subscribers', merge_subscribers(tracked_items.doc->'subscribers', EXCLUDED.doc->'subscribers')),
    updated_at = EXCLUDED.updated_at
RETURNING doc`

// PostgresRepository implements Repository on a pgx pool, storing each item
// as a JSONB document.
type PostgresRepository struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
	now  func() time.Time
}

// NewPostgresRepository connects to dsn and ensures the schema exists.
func NewPostgresRepository(ctx context.Context, dsn string, logger logrus.FieldLogger) (*PostgresRepository, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: create pgx pool: %w", domain.ErrPersistence, err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping database: %w", domain.ErrPersistence, err)
	}

	repo := &PostgresRepository{
		pool: pool,
		log:  logger.WithField("component", "repository"),
		now:  time.Now,
	}
	if err := repo.EnsureSchema(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	repo.log.Info("Connected to postgres")
	return repo, nil
}

// EnsureSchema creates the tracked_items table and its helper function if needed.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: create schema: %w", domain.ErrPersistence, err)
		}
	}
	return nil
}

// Close implements Repository.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// FindAll implements Repository.
func (r *PostgresRepository) FindAll(ctx context.Context) ([]domain.TrackedItem, error) {
	return r.query(ctx, `SELECT doc FROM tracked_items ORDER BY created_at, id`)
}

// FindSimilar implements Repository.
func (r *PostgresRepository) FindSimilar(ctx context.Context, excludeID string, limit int) ([]domain.TrackedItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	return r.query(ctx,
		`SELECT doc FROM tracked_items WHERE id <> $1 ORDER BY created_at, id LIMIT $2`,
		excludeID, limit)
}

// FindByID implements Repository.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*domain.TrackedItem, error) {
	return r.queryOne(ctx, `SELECT doc FROM tracked_items WHERE id = $1`, id)
}

// FindByURL implements Repository.
func (r *PostgresRepository) FindByURL(ctx context.Context, url string) (*domain.TrackedItem, error) {
	return r.queryOne(ctx, `SELECT doc FROM tracked_items WHERE url = $1`, url)
}

// Upsert implements Repository.
func (r *PostgresRepository) Upsert(ctx context.Context, url string, item domain.TrackedItem) (*domain.TrackedItem, error) {
	item = prepareUpsert(url, item, nil, uuid.NewString, r.now)
	doc, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal item: %w", domain.ErrPersistence, err)
	}

	var stored []byte
	err = r.pool.QueryRow(ctx, upsertQuery, item.ID, url, doc, item.CreatedAt, item.UpdatedAt).Scan(&stored)
	if err != nil {
		r.log.WithError(err).WithField("url", url).Error("Failed to upsert item")
		return nil, fmt.Errorf("%w: upsert %s: %w", domain.ErrPersistence, url, err)
	}
	return decodeDoc(stored)
}

// Save implements Repository.
func (r *PostgresRepository) Save(ctx context.Context, item domain.TrackedItem) error {
	doc, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%w: marshal item: %w", domain.ErrPersistence, err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE tracked_items SET doc = $2, updated_at = $3 WHERE id = $1`,
		item.ID, doc, r.now())
	if err != nil {
		r.log.WithError(err).WithField("item_id", item.ID).Error("Failed to save item")
		return fmt.Errorf("%w: save %s: %w", domain.ErrPersistence, item.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %s: %w", item.ID, domain.ErrNotFound)
	}
	return nil
}

// AddSubscriber implements Repository. The row is locked for the duration of
// the read-modify-write so a concurrent upsert cannot interleave.
func (r *PostgresRepository) AddSubscriber(ctx context.Context, id, email string) (*domain.TrackedItem, bool, error) {
	var (
		item  *domain.TrackedItem
		added bool
	)
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var doc []byte
		err := tx.QueryRow(ctx, `SELECT doc FROM tracked_items WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
		if err != nil {
			return err
		}
		if item, err = decodeDoc(doc); err != nil {
			return err
		}
		added = item.AddSubscriber(email)
		if !added {
			return nil
		}
		subscribers, err := json.Marshal(item.Subscribers)
		if err != nil {
			return fmt.Errorf("marshal subscribers: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE tracked_items SET doc = jsonb_set(doc, '{subscribers}', $2::jsonb) WHERE id = $1`,
			id, subscribers)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		r.log.WithError(err).WithField("item_id", id).Error("Failed to add subscriber")
		return nil, false, fmt.Errorf("%w: add subscriber to %s: %w", domain.ErrPersistence, id, err)
	}
	return item, added, nil
}

func (r *PostgresRepository) query(ctx context.Context, sql string, args ...any) ([]domain.TrackedItem, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query items: %w", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var items []domain.TrackedItem
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("%w: scan item: %w", domain.ErrPersistence, err)
		}
		item, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate items: %w", domain.ErrPersistence, err)
	}
	return items, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, sql string, arg string) (*domain.TrackedItem, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx, sql, arg).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("item %s: %w", arg, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrPersistence, arg, err)
	}
	return decodeDoc(doc)
}

func decodeDoc(doc []byte) (*domain.TrackedItem, error) {
	var item domain.TrackedItem
	if err := json.Unmarshal(doc, &item); err != nil {
		return nil, fmt.Errorf("%w: decode item: %w", domain.ErrPersistence, err)
	}
	return &item, nil
}
