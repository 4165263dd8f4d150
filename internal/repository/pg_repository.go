package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/feeddigest/internal/domain"
)

type pgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository returns a Repository backed by PostgreSQL.
func NewPgRepository(pool *pgxpool.Pool) Repository {
	return &pgRepository{pool: pool}
}

// compile-time check that pgRepository implements Repository
var _ Repository = (*pgRepository)(nil)

func (r *pgRepository) FindUser(ctx context.Context, id int64) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find user", err)
	}
	return &u, nil
}

func (r *pgRepository) UpsertUser(ctx context.Context, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (id, name, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
			SET name = CASE WHEN EXCLUDED.name = '' THEN users.name ELSE EXCLUDED.name END
		RETURNING name, created_at`,
		u.ID, u.Name, u.CreatedAt,
	).Scan(&u.Name, &u.CreatedAt)
	if err != nil {
		return storeErr("upsert user", err)
	}
	return nil
}

func (r *pgRepository) FindSource(ctx context.Context, userID int64, key domain.QueueKey) (*domain.Source, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, source_key, name, watermark, created_at
		FROM sources WHERE user_id = $1 AND source_key = $2`, userID, string(key))
	s, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find source", err)
	}
	return s, nil
}

func (r *pgRepository) ListSources(ctx context.Context) ([]*domain.Source, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, source_key, name, watermark, created_at
		FROM sources ORDER BY id ASC`)
	if err != nil {
		return nil, storeErr("list sources", err)
	}
	defer rows.Close()
	return scanSources(rows)
}

func (r *pgRepository) ListSourcesForUser(ctx context.Context, userID int64) ([]*domain.Source, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, source_key, name, watermark, created_at
		FROM sources WHERE user_id = $1 ORDER BY id ASC`, userID)
	if err != nil {
		return nil, storeErr("list user sources", err)
	}
	defer rows.Close()
	return scanSources(rows)
}

func (r *pgRepository) InsertSource(ctx context.Context, s *domain.Source) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO sources (user_id, source_key, name, watermark, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, source_key) DO NOTHING
		RETURNING id`,
		s.UserID, string(s.Key), s.Name, s.Watermark, s.CreatedAt,
	).Scan(&s.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrConflict
	}
	if err != nil {
		return storeErr("insert source", err)
	}
	return nil
}

func (r *pgRepository) DeleteSource(ctx context.Context, userID int64, key domain.QueueKey) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sources WHERE user_id = $1 AND source_key = $2`, userID, string(key))
	if err != nil {
		return storeErr("delete source", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgRepository) CountSubscribers(ctx context.Context, key domain.QueueKey) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sources WHERE source_key = $1`, string(key),
	).Scan(&n); err != nil {
		return 0, storeErr("count subscribers", err)
	}
	return n, nil
}

func (r *pgRepository) UpdateWatermark(ctx context.Context, key domain.QueueKey, ts time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sources SET watermark = $2
		WHERE source_key = $1 AND watermark < $2`, string(key), ts.UTC())
	if err != nil {
		return 0, storeErr("update watermark", err)
	}
	return tag.RowsAffected(), nil
}

func (r *pgRepository) FindProcessedRecord(ctx context.Context, link string) (*domain.ProcessedRecord, error) {
	var rec domain.ProcessedRecord
	err := r.pool.QueryRow(ctx, `
		SELECT link, title, source_name, transcript_url, full_text_url, summary, owner_id, created_at
		FROM processed_records WHERE link = $1`, link,
	).Scan(&rec.Link, &rec.Title, &rec.SourceName,
		&rec.Artifacts.TranscriptURL, &rec.Artifacts.FullTextURL, &rec.Artifacts.Summary,
		&rec.OwnerID, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find processed record", err)
	}
	return &rec, nil
}

func (r *pgRepository) InsertProcessedRecord(ctx context.Context, rec *domain.ProcessedRecord) (bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, storeErr("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_records
			(link, title, source_name, transcript_url, full_text_url, summary, owner_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (link) DO NOTHING`,
		rec.Link, rec.Title, rec.SourceName,
		rec.Artifacts.TranscriptURL, rec.Artifacts.FullTextURL, rec.Artifacts.Summary,
		rec.OwnerID, rec.CreatedAt,
	)
	if err != nil {
		return false, storeErr("insert processed record", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	// The owner's history row lives next to everyone else's so clearing
	// history never has to touch the shared record.
	if _, err := tx.Exec(ctx, `
		INSERT INTO recipient_items (user_id, link, title, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, link) DO NOTHING`,
		rec.OwnerID, rec.Link, rec.Title, rec.CreatedAt,
	); err != nil {
		return false, storeErr("insert owner history", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, storeErr("commit processed record", err)
	}
	return true, nil
}

func (r *pgRepository) InsertRecipientItem(ctx context.Context, ri *domain.RecipientItem) error {
	if ri.CreatedAt.IsZero() {
		ri.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO recipient_items (user_id, link, title, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, link) DO NOTHING`,
		ri.UserID, ri.Link, ri.Title, ri.CreatedAt,
	)
	if err != nil {
		return storeErr("insert recipient item", err)
	}
	return nil
}

func (r *pgRepository) ListRecipientItems(ctx context.Context, userID int64) ([]*domain.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ri.link, ri.title, COALESCE(pr.owner_id = ri.user_id, FALSE), ri.created_at
		FROM recipient_items ri
		LEFT JOIN processed_records pr ON pr.link = ri.link
		WHERE ri.user_id = $1
		ORDER BY ri.created_at DESC`, userID)
	if err != nil {
		return nil, storeErr("list recipient items", err)
	}
	defer rows.Close()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.Link, &e.Title, &e.Owned, &e.CreatedAt); err != nil {
			return nil, storeErr("scan recipient item", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list recipient items", err)
	}
	return entries, nil
}

func (r *pgRepository) DeleteProcessedRecordsForUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM recipient_items WHERE user_id = $1`, userID)
	if err != nil {
		return 0, storeErr("delete recipient items", err)
	}
	return tag.RowsAffected(), nil
}

// ---- helpers ----

func scanSource(row pgx.Row) (*domain.Source, error) {
	var (
		s   domain.Source
		key string
	)
	if err := row.Scan(&s.ID, &s.UserID, &key, &s.Name, &s.Watermark, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Key = domain.QueueKey(key)
	return &s, nil
}

func scanSources(rows pgx.Rows) ([]*domain.Source, error) {
	var result []*domain.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, storeErr("scan source", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list sources", err)
	}
	return result, nil
}

// storeErr marks err as a relational store failure so the worker loops can
// tell an outage from a missing row.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
