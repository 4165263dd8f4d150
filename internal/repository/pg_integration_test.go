//go:build integration

package repository_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/feeddigest/internal/db"
	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/repository"
)

// pgRepo needs a throwaway database: it truncates every relational table.
//
//	FEEDDIGEST_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/repository/...
func pgRepo(t *testing.T) repository.Repository {
	t.Helper()
	url := os.Getenv("FEEDDIGEST_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FEEDDIGEST_TEST_DATABASE_URL not set")
	}
	if err := db.Migrate(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx,
		`TRUNCATE users, sources, processed_records, recipient_items RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return repository.NewPgRepository(pool)
}

func TestPgUpdateWatermarkOnlyMovesForward(t *testing.T) {
	repo := pgRepo(t)
	ctx := context.Background()
	key := "youtube/channel/UCwm"
	seedSource(t, repo, 1, key, time.Unix(1000, 0).UTC())
	seedSource(t, repo, 2, key, time.Unix(2000, 0).UTC())

	moved, err := repo.UpdateWatermark(ctx, domain.QueueKey(key), time.Unix(1500, 0))
	if err != nil {
		t.Fatal(err)
	}
	if moved != 1 {
		t.Fatalf("expected only the older subscription to move, moved %d", moved)
	}
	moved, err = repo.UpdateWatermark(ctx, domain.QueueKey(key), time.Unix(1200, 0))
	if err != nil {
		t.Fatal(err)
	}
	if moved != 0 {
		t.Fatalf("an older timestamp must not move anything, moved %d", moved)
	}

	for user, want := range map[int64]int64{1: 1500, 2: 2000} {
		s, err := repo.FindSource(ctx, user, domain.QueueKey(key))
		if err != nil {
			t.Fatal(err)
		}
		if s.Watermark.Unix() != want {
			t.Errorf("user %d: expected watermark %d, got %d", user, want, s.Watermark.Unix())
		}
	}
}

func TestPgUpdateWatermarkConcurrentWritersKeepMax(t *testing.T) {
	repo := pgRepo(t)
	ctx := context.Background()
	key := domain.QueueKey("youtube/channel/UCrace")
	seedSource(t, repo, 1, string(key), time.Unix(0, 0).UTC())

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(sec int64) {
			defer wg.Done()
			if _, err := repo.UpdateWatermark(ctx, key, time.Unix(sec, 0)); err != nil {
				t.Errorf("update: %v", err)
			}
		}(int64(i * 100))
	}
	wg.Wait()

	s, err := repo.FindSource(ctx, 1, key)
	if err != nil {
		t.Fatal(err)
	}
	if s.Watermark.Unix() != 2000 {
		t.Fatalf("expected the largest timestamp to win, got %d", s.Watermark.Unix())
	}
}

func TestPgClearHistoryKeepsRecords(t *testing.T) {
	repo := pgRepo(t)
	ctx := context.Background()
	rec := &domain.ProcessedRecord{Link: "https://pg/a", Title: "A", OwnerID: 1, CreatedAt: time.Unix(3000, 0).UTC()}
	if _, err := repo.InsertProcessedRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertRecipientItem(ctx, &domain.RecipientItem{UserID: 2, Link: rec.Link, Title: "A"}); err != nil {
		t.Fatal(err)
	}

	entries, err := repo.ListRecipientItems(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].Owned {
		t.Fatalf("expected one owned entry, got %+v", entries)
	}

	removed, err := repo.DeleteProcessedRecordsForUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("expected 1 row removed, got %d", removed)
	}
	if _, err := repo.FindProcessedRecord(ctx, rec.Link); err != nil {
		t.Fatalf("record must survive: %v", err)
	}
	others, err := repo.ListRecipientItems(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(others) != 1 || others[0].Owned {
		t.Fatalf("expected user 2 to keep a non-owned entry, got %+v", others)
	}
}
