package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// PostgresStore keeps queues in the queue_entries table, ordered by a
// BIGSERIAL id, with the known keys in queue_keys. Pop deletes the head row
// with FOR UPDATE SKIP LOCKED, so concurrent appends never block it.
type PostgresStore struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresStore shares the application's connection pool. Close is a
// no-op; the pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, name string) *PostgresStore {
	return &PostgresStore{pool: pool, name: name}
}

func (s *PostgresStore) Keys(ctx context.Context) ([]domain.QueueKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT queue_key FROM queue_keys WHERE pool = $1 ORDER BY queue_key`, s.name)
	if err != nil {
		return nil, unavailable("select queue keys", err)
	}
	defer rows.Close()

	var keys []domain.QueueKey
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, unavailable("scan queue key", err)
		}
		keys = append(keys, domain.QueueKey(k))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("select queue keys", err)
	}
	return keys, nil
}

// Snapshot reads every queue in a single statement, so the result is
// consistent across keys.
func (s *PostgresStore) Snapshot(ctx context.Context) (map[domain.QueueKey][]domain.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT k.queue_key, e.payload
		FROM queue_keys k
		LEFT JOIN queue_entries e ON e.pool = k.pool AND e.queue_key = k.queue_key
		WHERE k.pool = $1
		ORDER BY k.queue_key, e.id`, s.name)
	if err != nil {
		return nil, unavailable("snapshot queues", err)
	}
	defer rows.Close()

	out := make(map[domain.QueueKey][]domain.Item)
	for rows.Next() {
		var k string
		var payload []byte
		if err := rows.Scan(&k, &payload); err != nil {
			return nil, unavailable("scan snapshot row", err)
		}
		key := domain.QueueKey(k)
		if _, ok := out[key]; !ok {
			out[key] = []domain.Item{}
		}
		if payload == nil {
			continue
		}
		item, err := decodeItem(payload)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", key, err)
		}
		out[key] = append(out[key], item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("snapshot queues", err)
	}
	return out, nil
}

func (s *PostgresStore) Items(ctx context.Context, key domain.QueueKey) ([]domain.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payload FROM queue_entries
		WHERE pool = $1 AND queue_key = $2
		ORDER BY id`, s.name, string(key))
	if err != nil {
		return nil, unavailable("select queue entries", err)
	}
	defer rows.Close()

	var payloads [][]byte
	for rows.Next() {
		var p []byte
		if err := rows.Scan(&p); err != nil {
			return nil, unavailable("scan queue entry", err)
		}
		payloads = append(payloads, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("select queue entries", err)
	}
	return decodeItems(payloads)
}

func (s *PostgresStore) Exists(ctx context.Context, key domain.QueueKey) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM queue_keys WHERE pool = $1 AND queue_key = $2)`,
		s.name, string(key)).Scan(&ok)
	if err != nil {
		return false, unavailable("queue key exists", err)
	}
	return ok, nil
}

func (s *PostgresStore) Len(ctx context.Context, key domain.QueueKey) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM queue_entries WHERE pool = $1 AND queue_key = $2`,
		s.name, string(key)).Scan(&n)
	if err != nil {
		return 0, unavailable("count queue entries", err)
	}
	return n, nil
}

func (s *PostgresStore) Append(ctx context.Context, key domain.QueueKey, items ...domain.Item) error {
	payloads, err := encodePayloads(items)
	if err != nil {
		return err
	}
	return s.inTx(ctx, "append", func(tx pgx.Tx) error {
		return s.appendTx(ctx, tx, key, payloads)
	})
}

func (s *PostgresStore) Pop(ctx context.Context, key domain.QueueKey) (domain.Item, bool, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		DELETE FROM queue_entries
		WHERE id = (
			SELECT id FROM queue_entries
			WHERE pool = $1 AND queue_key = $2
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING payload`, s.name, string(key)).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, false, nil
	}
	if err != nil {
		return domain.Item{}, false, unavailable("pop queue entry", err)
	}
	item, err := decodeItem(payload)
	if err != nil {
		return domain.Item{}, true, err
	}
	return item, true, nil
}

func (s *PostgresStore) Replace(ctx context.Context, key domain.QueueKey, items []domain.Item) error {
	payloads, err := encodePayloads(items)
	if err != nil {
		return err
	}
	return s.inTx(ctx, "replace", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM queue_entries WHERE pool = $1 AND queue_key = $2`, s.name, string(key)); err != nil {
			return err
		}
		return s.appendTx(ctx, tx, key, payloads)
	})
}

func (s *PostgresStore) Delete(ctx context.Context, key domain.QueueKey) error {
	return s.inTx(ctx, "delete", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM queue_entries WHERE pool = $1 AND queue_key = $2`, s.name, string(key)); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`DELETE FROM queue_keys WHERE pool = $1 AND queue_key = $2`, s.name, string(key))
		return err
	})
}

func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) appendTx(ctx context.Context, tx pgx.Tx, key domain.QueueKey, payloads [][]byte) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO queue_keys (pool, queue_key) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, s.name, string(key)); err != nil {
		return err
	}
	for _, payload := range payloads {
		if _, err := tx.Exec(ctx, `
			INSERT INTO queue_entries (pool, queue_key, payload) VALUES ($1, $2, $3)`,
			s.name, string(key), payload); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin "+op, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return unavailable(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit "+op, err)
	}
	return nil
}

func encodePayloads(items []domain.Item) ([][]byte, error) {
	payloads := make([][]byte, 0, len(items))
	for _, item := range items {
		b, err := encodeItem(item)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, b)
	}
	return payloads, nil
}

// compile-time check that PostgresStore implements Store
var _ Store = (*PostgresStore)(nil)
