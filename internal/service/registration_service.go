package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/provider"
	"github.com/notifyhub/feeddigest/internal/queue"
	"github.com/notifyhub/feeddigest/internal/repository"
)

// RegistrationService coordinates the relational store and the queue store
// for everything outside the two worker loops: subscriptions, priority
// submissions and per-user history. HTTP handlers and the CLI depend on this
// service, not on the stores directly.
type RegistrationService struct {
	repo   repository.Repository
	store  queue.Store
	now    func() time.Time
	logger *zap.Logger
}

func NewRegistrationService(repo repository.Repository, store queue.Store, logger *zap.Logger) *RegistrationService {
	return &RegistrationService{
		repo:   repo,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// WithClock replaces the wall clock. Used by tests.
func (s *RegistrationService) WithClock(now func() time.Time) *RegistrationService {
	s.now = now
	return s
}

// AddSource subscribes userID to a feed. The watermark starts at now so only
// items published afterwards are picked up. The source's queue is registered
// right away so the dispatcher sees it before the first poll.
func (s *RegistrationService) AddSource(ctx context.Context, userID int64, req domain.AddSourceRequest) (*domain.Source, error) {
	if userID <= 0 {
		return nil, domain.ErrInvalidRecipient
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	key := domain.QueueKey(strings.TrimSpace(req.Key))
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = key.String()
	}

	if err := s.repo.UpsertUser(ctx, &domain.User{ID: userID, Name: strings.TrimSpace(req.UserName)}); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	src := &domain.Source{
		UserID:    userID,
		Key:       key,
		Name:      name,
		Watermark: s.now(),
	}
	if err := s.repo.InsertSource(ctx, src); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("persist source: %w", err)
	}

	if err := s.store.Append(ctx, key); err != nil {
		// The poller registers the queue on its next pass anyway.
		s.logger.Warn("could not register source queue",
			zap.String("queue", key.String()), zap.Error(err))
	}

	s.logger.Info("source added",
		zap.Int64("user", userID),
		zap.String("queue", key.String()),
	)
	return src, nil
}

// RemoveSource unsubscribes userID. The shared queue is deleted once its last
// subscriber is gone; items still buffered for other users are kept.
func (s *RegistrationService) RemoveSource(ctx context.Context, userID int64, key domain.QueueKey) error {
	if err := s.repo.DeleteSource(ctx, userID, key); err != nil {
		return err
	}

	n, err := s.repo.CountSubscribers(ctx, key)
	if err != nil {
		return fmt.Errorf("count subscribers: %w", err)
	}
	if n == 0 {
		if err := s.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete queue %s: %w", key, err)
		}
	}

	s.logger.Info("source removed",
		zap.Int64("user", userID),
		zap.String("queue", key.String()),
		zap.Int("remaining_subscribers", n),
	)
	return nil
}

func (s *RegistrationService) ListSources(ctx context.Context, userID int64) ([]*domain.Source, error) {
	return s.repo.ListSourcesForUser(ctx, userID)
}

// Submit places a link on the priority lane. Priority items skip the
// watermark check and are drained before any source queue.
func (s *RegistrationService) Submit(ctx context.Context, req domain.SubmitRequest) (domain.Item, error) {
	if err := req.Validate(); err != nil {
		return domain.Item{}, err
	}
	item := req.Item(s.now())
	if err := s.store.Append(ctx, domain.PriorityKey, item); err != nil {
		return domain.Item{}, fmt.Errorf("enqueue submission: %w", err)
	}
	s.logger.Info("priority item submitted",
		zap.Int64("recipient", item.RecipientID),
		zap.String("link", item.Link),
	)
	return item, nil
}

// History lists what userID has received, newest first. Owned marks the
// links whose record was produced for this user.
func (s *RegistrationService) History(ctx context.Context, userID int64) ([]*domain.HistoryEntry, error) {
	return s.repo.ListRecipientItems(ctx, userID)
}

// HistoryItem renders one delivered link again, as the user received it.
// Links outside the user's history are ErrNotFound even when another user
// has the record.
func (s *RegistrationService) HistoryItem(ctx context.Context, userID int64, link string) (provider.Message, error) {
	entries, err := s.repo.ListRecipientItems(ctx, userID)
	if err != nil {
		return provider.Message{}, fmt.Errorf("list history: %w", err)
	}
	var entry *domain.HistoryEntry
	for _, e := range entries {
		if e.Link == link {
			entry = e
			break
		}
	}
	if entry == nil {
		return provider.Message{}, domain.ErrNotFound
	}

	rec, err := s.repo.FindProcessedRecord(ctx, link)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return provider.Message{}, err
		}
		return provider.Message{}, fmt.Errorf("find record: %w", err)
	}
	return provider.NewMessage(domain.Item{Link: link, Title: entry.Title, RecipientID: userID}, rec), nil
}

// ClearHistory forgets everything delivered to userID. Processed records stay
// in place, so a link the user owned is still served from cache to anyone
// who receives it later.
func (s *RegistrationService) ClearHistory(ctx context.Context, userID int64) (int64, error) {
	n, err := s.repo.DeleteProcessedRecordsForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	s.logger.Info("history cleared", zap.Int64("user", userID), zap.Int64("entries", n))
	return n, nil
}

// QueueDepths snapshots the number of buffered items per queue.
func (s *RegistrationService) QueueDepths(ctx context.Context) (map[domain.QueueKey]int, error) {
	return queue.Depths(ctx, s.store)
}
