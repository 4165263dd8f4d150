package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// sqliteRepository stores timestamps as INTEGER unix nanoseconds. The zero
// time is stored as 0 so a never-advanced watermark survives a round trip.
type sqliteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a Repository backed by a SQLite database opened
// with db.OpenSQLite and migrated with db.Migrate.
func NewSQLiteRepository(conn *sql.DB) Repository {
	return &sqliteRepository{db: conn}
}

// compile-time check that sqliteRepository implements Repository
var _ Repository = (*sqliteRepository)(nil)

func (r *sqliteRepository) FindUser(ctx context.Context, id int64) (*domain.User, error) {
	var (
		u       domain.User
		created int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find user", err)
	}
	u.CreatedAt = fromNanos(created)
	return &u, nil
}

func (r *sqliteRepository) UpsertUser(ctx context.Context, u *domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	var created int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE
			SET name = CASE WHEN excluded.name = '' THEN users.name ELSE excluded.name END
		RETURNING name, created_at`,
		u.ID, u.Name, toNanos(u.CreatedAt),
	).Scan(&u.Name, &created)
	if err != nil {
		return storeErr("upsert user", err)
	}
	u.CreatedAt = fromNanos(created)
	return nil
}

func (r *sqliteRepository) FindSource(ctx context.Context, userID int64, key domain.QueueKey) (*domain.Source, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, source_key, name, watermark, created_at
		FROM sources WHERE user_id = ? AND source_key = ?`, userID, string(key))
	s, err := scanSQLiteSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find source", err)
	}
	return s, nil
}

func (r *sqliteRepository) ListSources(ctx context.Context) ([]*domain.Source, error) {
	return r.querySources(ctx, "list sources", `
		SELECT id, user_id, source_key, name, watermark, created_at
		FROM sources ORDER BY id ASC`)
}

func (r *sqliteRepository) ListSourcesForUser(ctx context.Context, userID int64) ([]*domain.Source, error) {
	return r.querySources(ctx, "list user sources", `
		SELECT id, user_id, source_key, name, watermark, created_at
		FROM sources WHERE user_id = ? ORDER BY id ASC`, userID)
}

func (r *sqliteRepository) querySources(ctx context.Context, op, query string, args ...any) ([]*domain.Source, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	var result []*domain.Source
	for rows.Next() {
		s, err := scanSQLiteSource(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return result, nil
}

func (r *sqliteRepository) InsertSource(ctx context.Context, s *domain.Source) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sources (user_id, source_key, name, watermark, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, source_key) DO NOTHING
		RETURNING id`,
		s.UserID, string(s.Key), s.Name, toNanos(s.Watermark), toNanos(s.CreatedAt),
	).Scan(&s.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrConflict
	}
	if err != nil {
		return storeErr("insert source", err)
	}
	return nil
}

func (r *sqliteRepository) DeleteSource(ctx context.Context, userID int64, key domain.QueueKey) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sources WHERE user_id = ? AND source_key = ?`, userID, string(key))
	if err != nil {
		return storeErr("delete source", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sqliteRepository) CountSubscribers(ctx context.Context, key domain.QueueKey) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sources WHERE source_key = ?`, string(key),
	).Scan(&n); err != nil {
		return 0, storeErr("count subscribers", err)
	}
	return n, nil
}

func (r *sqliteRepository) UpdateWatermark(ctx context.Context, key domain.QueueKey, ts time.Time) (int64, error) {
	wm := toNanos(ts)
	res, err := r.db.ExecContext(ctx, `
		UPDATE sources SET watermark = ?
		WHERE source_key = ? AND watermark < ?`, wm, string(key), wm)
	if err != nil {
		return 0, storeErr("update watermark", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *sqliteRepository) FindProcessedRecord(ctx context.Context, link string) (*domain.ProcessedRecord, error) {
	var (
		rec     domain.ProcessedRecord
		created int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT link, title, source_name, transcript_url, full_text_url, summary, owner_id, created_at
		FROM processed_records WHERE link = ?`, link,
	).Scan(&rec.Link, &rec.Title, &rec.SourceName,
		&rec.Artifacts.TranscriptURL, &rec.Artifacts.FullTextURL, &rec.Artifacts.Summary,
		&rec.OwnerID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("find processed record", err)
	}
	rec.CreatedAt = fromNanos(created)
	return &rec, nil
}

func (r *sqliteRepository) InsertProcessedRecord(ctx context.Context, rec *domain.ProcessedRecord) (bool, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_records
			(link, title, source_name, transcript_url, full_text_url, summary, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (link) DO NOTHING`,
		rec.Link, rec.Title, rec.SourceName,
		rec.Artifacts.TranscriptURL, rec.Artifacts.FullTextURL, rec.Artifacts.Summary,
		rec.OwnerID, toNanos(rec.CreatedAt),
	)
	if err != nil {
		return false, storeErr("insert processed record", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO recipient_items (user_id, link, title, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, link) DO NOTHING`,
		rec.OwnerID, rec.Link, rec.Title, toNanos(rec.CreatedAt),
	); err != nil {
		return false, storeErr("insert owner history", err)
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr("commit processed record", err)
	}
	return true, nil
}

func (r *sqliteRepository) InsertRecipientItem(ctx context.Context, ri *domain.RecipientItem) error {
	if ri.CreatedAt.IsZero() {
		ri.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recipient_items (user_id, link, title, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, link) DO NOTHING`,
		ri.UserID, ri.Link, ri.Title, toNanos(ri.CreatedAt),
	)
	if err != nil {
		return storeErr("insert recipient item", err)
	}
	return nil
}

func (r *sqliteRepository) ListRecipientItems(ctx context.Context, userID int64) ([]*domain.HistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ri.link, ri.title, COALESCE(pr.owner_id = ri.user_id, 0), ri.created_at
		FROM recipient_items ri
		LEFT JOIN processed_records pr ON pr.link = ri.link
		WHERE ri.user_id = ?
		ORDER BY ri.created_at DESC`, userID)
	if err != nil {
		return nil, storeErr("list recipient items", err)
	}
	defer rows.Close()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var (
			e       domain.HistoryEntry
			created int64
		)
		if err := rows.Scan(&e.Link, &e.Title, &e.Owned, &created); err != nil {
			return nil, storeErr("scan recipient item", err)
		}
		e.CreatedAt = fromNanos(created)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list recipient items", err)
	}
	return entries, nil
}

func (r *sqliteRepository) DeleteProcessedRecordsForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recipient_items WHERE user_id = ?`, userID)
	if err != nil {
		return 0, storeErr("delete recipient items", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func scanSQLiteSource(row interface{ Scan(...any) error }) (*domain.Source, error) {
	var (
		s                  domain.Source
		key                string
		watermark, created int64
	)
	if err := row.Scan(&s.ID, &s.UserID, &key, &s.Name, &watermark, &created); err != nil {
		return nil, err
	}
	s.Key = domain.QueueKey(key)
	s.Watermark = fromNanos(watermark)
	s.CreatedAt = fromNanos(created)
	return &s, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
