package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/feed"
	"github.com/notifyhub/feeddigest/internal/pipeline"
	"github.com/notifyhub/feeddigest/internal/queue"
	"github.com/notifyhub/feeddigest/internal/repository"
)

func ts(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func addSource(t *testing.T, repo *repository.MockRepository, userID int64, key domain.QueueKey, wm time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := repo.UpsertUser(ctx, &domain.User{ID: userID}); err != nil {
		t.Fatal(err)
	}
	if err := repo.InsertSource(ctx, &domain.Source{UserID: userID, Key: key, Name: "name-" + string(key), Watermark: wm}); err != nil {
		t.Fatal(err)
	}
}

func watermark(t *testing.T, repo *repository.MockRepository, userID int64, key domain.QueueKey) time.Time {
	t.Helper()
	s, err := repo.FindSource(context.Background(), userID, key)
	if err != nil {
		t.Fatal(err)
	}
	return s.Watermark
}

func queued(t *testing.T, store queue.Store, key domain.QueueKey) []domain.Item {
	t.Helper()
	items, err := store.Items(context.Background(), key)
	if err != nil {
		t.Fatal(err)
	}
	return items
}

// fakeFetcher serves canned entries per source key.
type fakeFetcher struct {
	mu      sync.Mutex
	entries map[domain.QueueKey][]feed.Entry
	errs    map[domain.QueueKey]error
	calls   map[domain.QueueKey]int
	delay   time.Duration
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		entries: make(map[domain.QueueKey][]feed.Entry),
		errs:    make(map[domain.QueueKey]error),
		calls:   make(map[domain.QueueKey]int),
	}
}

func (f *fakeFetcher) Fetch(ctx context.Context, key domain.QueueKey) ([]feed.Entry, error) {
	f.mu.Lock()
	f.calls[key]++
	entries, err := f.entries[key], f.errs[key]
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return entries, err
}

func (f *fakeFetcher) callCount(key domain.QueueKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// fakeProcessor succeeds for every link unless results says otherwise.
type fakeProcessor struct {
	mu      sync.Mutex
	results map[string]pipeline.Result
	calls   []string
	onRun   func(ctx context.Context, item domain.Item)
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{results: make(map[string]pipeline.Result)}
}

func (f *fakeProcessor) Run(ctx context.Context, item domain.Item) pipeline.Result {
	f.mu.Lock()
	f.calls = append(f.calls, item.Link)
	onRun := f.onRun
	res, ok := f.results[item.Link]
	f.mu.Unlock()
	if onRun != nil {
		onRun(ctx, item)
	}
	if ok {
		return res
	}
	return pipeline.Result{
		Outcome: pipeline.Success,
		Artifacts: domain.Artifacts{
			TranscriptURL: "https://telegra.ph/t",
			FullTextURL:   "https://telegra.ph/f",
			Summary:       "summary of " + item.Link,
		},
	}
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sent struct {
	recipient int64
	message   string
}

// fakeNotifier records deliveries; Err makes every send fail.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []sent
	calls int
	Err   error
}

func (f *fakeNotifier) Send(_ context.Context, recipientID int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Err != nil {
		return f.Err
	}
	f.sent = append(f.sent, sent{recipientID, message})
	return nil
}

// flakyStore fails Pop after a number of successful pops.
type flakyStore struct {
	*queue.MemoryStore
	mu       sync.Mutex
	popsLeft int
	popErr   error
}

func (s *flakyStore) Pop(ctx context.Context, key domain.QueueKey) (domain.Item, bool, error) {
	s.mu.Lock()
	if s.popsLeft == 0 {
		s.mu.Unlock()
		return domain.Item{}, false, s.popErr
	}
	s.popsLeft--
	s.mu.Unlock()
	return s.MemoryStore.Pop(ctx, key)
}

var errOutage = errors.New("connection refused")
