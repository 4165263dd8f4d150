package repository

import (
	"context"
	"time"

	"github.com/notifyhub/feeddigest/internal/domain"
)

// UserRepository persists notification recipients.
type UserRepository interface {
	FindUser(ctx context.Context, id int64) (*domain.User, error)
	// UpsertUser inserts the user or refreshes its name.
	UpsertUser(ctx context.Context, u *domain.User) error
}

// SourceRepository persists subscriptions and their watermarks.
type SourceRepository interface {
	FindSource(ctx context.Context, userID int64, key domain.QueueKey) (*domain.Source, error)
	ListSources(ctx context.Context) ([]*domain.Source, error)
	ListSourcesForUser(ctx context.Context, userID int64) ([]*domain.Source, error)
	// InsertSource returns domain.ErrConflict when the user already follows key.
	InsertSource(ctx context.Context, s *domain.Source) error
	DeleteSource(ctx context.Context, userID int64, key domain.QueueKey) error
	CountSubscribers(ctx context.Context, key domain.QueueKey) (int, error)
	// UpdateWatermark raises the watermark of every subscription to key that
	// is older than ts. It never lowers a watermark and returns the number of
	// subscriptions that moved.
	UpdateWatermark(ctx context.Context, key domain.QueueKey, ts time.Time) (int64, error)
}

// RecordRepository persists pipeline results and per-recipient associations.
type RecordRepository interface {
	FindProcessedRecord(ctx context.Context, link string) (*domain.ProcessedRecord, error)
	// InsertProcessedRecord inserts rec if no record exists for its link,
	// together with the owner's history row. created is false when another
	// record already owns the link.
	InsertProcessedRecord(ctx context.Context, rec *domain.ProcessedRecord) (created bool, err error)
	// InsertRecipientItem is idempotent per (user, link).
	InsertRecipientItem(ctx context.Context, ri *domain.RecipientItem) error
	// ListRecipientItems returns the user's history, newest first. Owned
	// marks links whose record was produced for this user.
	ListRecipientItems(ctx context.Context, userID int64) ([]*domain.HistoryEntry, error)
	// DeleteProcessedRecordsForUser clears the user's history. Processed
	// records are shared by every recipient of a link and are never
	// deleted. It returns the number of history rows removed.
	DeleteProcessedRecordsForUser(ctx context.Context, userID int64) (int64, error)
}

// Repository is everything the worker loops and the registration service
// read from the relational store. The pgx implementation is in
// pg_repository.go, the SQLite one in sqlite_repository.go. Tests use the
// hand-written mock in mock_repository.go.
type Repository interface {
	UserRepository
	SourceRepository
	RecordRepository
}
