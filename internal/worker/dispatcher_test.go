package worker_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/pipeline"
	"github.com/notifyhub/feeddigest/internal/queue"
	"github.com/notifyhub/feeddigest/internal/repository"
	"github.com/notifyhub/feeddigest/internal/retry"
	"github.com/notifyhub/feeddigest/internal/worker"
)

type fixture struct {
	repo     *repository.MockRepository
	store    *queue.MemoryStore
	proc     *fakeProcessor
	notifier *fakeNotifier
	logs     *observer.ObservedLogs
	d        *worker.Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		repo:     repository.NewMockRepository(),
		store:    queue.NewMemoryStore(),
		proc:     newFakeProcessor(),
		notifier: &fakeNotifier{},
		logs:     logs,
	}
	f.d = f.dispatcher(f.store, zap.New(core))
	return f
}

func (f *fixture) dispatcher(store queue.Store, logger *zap.Logger) *worker.Dispatcher {
	return worker.NewDispatcher(f.repo, store, f.proc, f.notifier, nil, worker.DispatcherOptions{
		IdleShort: time.Millisecond,
		IdleLong:  time.Millisecond,
		Notify:    retry.Policy{Retries: 2},
	}, worker.DispatchHooks{}, logger)
}

func (f *fixture) push(t *testing.T, key domain.QueueKey, items ...domain.Item) {
	t.Helper()
	if err := f.store.Append(context.Background(), key, items...); err != nil {
		t.Fatal(err)
	}
}

func item(key domain.QueueKey, link string, recipient int64, published int64) domain.Item {
	return domain.Item{
		SourceKey:   key,
		SourceName:  "name-" + string(key),
		Title:       "title " + link,
		Link:        link,
		PublishedAt: ts(published),
		RecipientID: recipient,
	}
}

func TestDispatchOncePriorityFirst(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.push(t, keyS, item(keyS, "C", 1, 1100))
	f.push(t, domain.PriorityKey, item("A", "A", 1, 5000), item("B", "B", 1, 5001))

	stats, err := f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !equal(stats.Order, []string{"A", "B", "C"}) {
		t.Errorf("expected A, B, C, got %v", stats.Order)
	}
	if stats.Outcomes[domain.OutcomeDelivered] != 3 || len(f.notifier.sent) != 3 {
		t.Errorf("expected 3 deliveries, got %+v / %d", stats.Outcomes, len(f.notifier.sent))
	}
	// Priority items never move a source watermark.
	if got := watermark(t, f.repo, 1, keyS); !got.Equal(ts(1100)) {
		t.Errorf("expected watermark 1100, got %v", got.Unix())
	}
}

func TestDispatchOnceNoContentIsAbandoned(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.push(t, keyS, item(keyS, "D", 1, 1200))
	f.proc.results["D"] = pipeline.Result{Outcome: pipeline.NoContent}

	stats, err := f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Outcomes[domain.OutcomeAbandoned] != 1 {
		t.Errorf("expected D abandoned, got %+v", stats.Outcomes)
	}
	if n, _ := f.store.Len(context.Background(), keyS); n != 0 {
		t.Error("D must be popped")
	}
	if f.repo.RecordCount() != 0 {
		t.Error("no record may be created for D")
	}
	if f.notifier.calls != 0 {
		t.Error("nothing may be sent for D")
	}
	if got := watermark(t, f.repo, 1, keyS); !got.Equal(ts(1000)) {
		t.Errorf("watermark must not advance on account of D, got %v", got.Unix())
	}
}

func TestDispatchOnceTransientFailureIsAbandoned(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.push(t, keyS, item(keyS, "X", 1, 1200), item(keyS, "Y", 1, 1300))
	f.proc.results["Y"] = pipeline.Result{Outcome: pipeline.TransientFailure, Err: errors.New("llm timeout")}

	stats, err := f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Outcomes[domain.OutcomeDelivered] != 1 || stats.Outcomes[domain.OutcomeAbandoned] != 1 {
		t.Errorf("unexpected outcomes %+v", stats.Outcomes)
	}
	if got := watermark(t, f.repo, 1, keyS); !got.Equal(ts(1200)) {
		t.Errorf("expected watermark 1200, got %v", got.Unix())
	}
}

func TestDispatchOnceSharedLinkUsesCache(t *testing.T) {
	f := newFixture(t)
	link := "https://youtu.be/shared"
	f.push(t, domain.PriorityKey,
		domain.Item{Link: link, Title: "first", SourceName: "one", RecipientID: 1, PublishedAt: ts(1)},
		domain.Item{Link: link, Title: "second", SourceName: "two", RecipientID: 2, PublishedAt: ts(2)},
	)

	stats, err := f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if f.proc.callCount() != 1 {
		t.Fatalf("pipeline must run once, ran %d times", f.proc.callCount())
	}
	if stats.Outcomes[domain.OutcomeDelivered] != 1 || stats.Outcomes[domain.OutcomeDeduped] != 1 {
		t.Errorf("unexpected outcomes %+v", stats.Outcomes)
	}
	rec, err := f.repo.FindProcessedRecord(context.Background(), link)
	if err != nil {
		t.Fatal(err)
	}
	if rec.OwnerID != 1 {
		t.Errorf("expected recipient 1 to own the record, got %d", rec.OwnerID)
	}
	if !f.repo.HasAssociation(2, link) {
		t.Error("expected an association for recipient 2")
	}
	if !f.repo.HasAssociation(1, link) {
		t.Error("the owner's history entry is written with the record")
	}
	if len(f.notifier.sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(f.notifier.sent))
	}
	second := f.notifier.sent[1]
	if second.recipient != 2 || !strings.Contains(second.message, "second") || !strings.Contains(second.message, "<b>two</b>") {
		t.Errorf("cached message must be personalized for recipient 2: %+v", second)
	}
	if !strings.Contains(second.message, "summary of "+link) {
		t.Errorf("cached message must carry the cached summary: %q", second.message)
	}
}

func TestDispatchOnceCacheHitSkipsPipeline(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	if _, err := f.repo.InsertProcessedRecord(context.Background(), &domain.ProcessedRecord{
		Link: "cached", OwnerID: 1, Artifacts: domain.Artifacts{Summary: "s"},
	}); err != nil {
		t.Fatal(err)
	}
	f.push(t, keyS, item(keyS, "cached", 1, 1100))

	if _, err := f.d.DispatchOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.proc.callCount() != 0 {
		t.Error("pipeline must not run on a cache hit")
	}
	if len(f.notifier.sent) != 1 {
		t.Error("cache hit must still deliver")
	}
	history, err := f.repo.ListRecipientItems(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || !history[0].Owned {
		t.Errorf("expected a single owned history entry, got %+v", history)
	}
	if got := watermark(t, f.repo, 1, keyS); !got.Equal(ts(1100)) {
		t.Errorf("cache hit counts toward the watermark, got %v", got.Unix())
	}
}

func TestDispatchOnceClearedHistoryKeepsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	link := "https://youtu.be/kept"
	f.push(t, domain.PriorityKey,
		domain.Item{Link: link, Title: "t", RecipientID: 1, PublishedAt: ts(1)},
		domain.Item{Link: link, Title: "t", RecipientID: 2, PublishedAt: ts(2)},
	)
	if _, err := f.d.DispatchOnce(ctx); err != nil {
		t.Fatal(err)
	}

	removed, err := f.repo.DeleteProcessedRecordsForUser(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("expected one history row removed, got %d", removed)
	}
	if f.repo.RecordCount() != 1 {
		t.Fatalf("clearing history must keep the record, got %d records", f.repo.RecordCount())
	}

	// Both users receive the link again: neither may re-run the pipeline.
	f.push(t, domain.PriorityKey,
		domain.Item{Link: link, Title: "t", RecipientID: 2, PublishedAt: ts(3)},
		domain.Item{Link: link, Title: "t", RecipientID: 1, PublishedAt: ts(4)},
	)
	stats, err := f.d.DispatchOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if f.proc.callCount() != 1 {
		t.Errorf("expected one pipeline run overall, got %d", f.proc.callCount())
	}
	if stats.Outcomes[domain.OutcomeDeduped] != 2 {
		t.Errorf("expected two cache hits, got %+v", stats.Outcomes)
	}
	if f.repo.RecordCount() != 1 {
		t.Errorf("expected one record, got %d", f.repo.RecordCount())
	}
	history, err := f.repo.ListRecipientItems(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || !history[0].Owned {
		t.Errorf("expected the owner's entry to come back, got %+v", history)
	}
}

func TestDispatchOnceIdempotentAcrossLanes(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.push(t, domain.PriorityKey, domain.Item{Link: "L", RecipientID: 1, PublishedAt: ts(9000)})
	f.push(t, keyS, item(keyS, "L", 1, 1100))

	for i := 0; i < 2; i++ {
		if _, err := f.d.DispatchOnce(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if f.repo.RecordCount() != 1 {
		t.Errorf("expected one record, got %d", f.repo.RecordCount())
	}
	if f.proc.callCount() != 1 {
		t.Errorf("expected one pipeline run, got %d", f.proc.callCount())
	}
}

func TestDispatchOnceWatermarkIsMonotonic(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.proc.results["n1300"] = pipeline.Result{Outcome: pipeline.NoContent}
	f.push(t, keyS, item(keyS, "n1100", 1, 1100), item(keyS, "n1300", 1, 1300), item(keyS, "n1200", 1, 1200))

	stats, err := f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Watermarks != 1 || f.repo.WatermarkWrites != 1 {
		t.Errorf("expected exactly one watermark write, got stats=%d writes=%d", stats.Watermarks, f.repo.WatermarkWrites)
	}
	if got := watermark(t, f.repo, 1, keyS); !got.Equal(ts(1200)) {
		t.Fatalf("expected watermark 1200, got %v", got.Unix())
	}

	// An older item showing up later is an invariant violation: skipped,
	// logged, and the watermark stays put.
	f.push(t, keyS, item(keyS, "late", 1, 1150))
	stats, err = f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Outcomes[domain.OutcomeSkipped] != 1 {
		t.Errorf("expected the late item skipped, got %+v", stats.Outcomes)
	}
	if got := watermark(t, f.repo, 1, keyS); !got.Equal(ts(1200)) {
		t.Errorf("watermark moved backwards to %v", got.Unix())
	}
	violations := f.logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessageSnippet("not newer than its source watermark")
	if violations.Len() != 1 {
		t.Errorf("expected one invariant violation logged, got %d", violations.Len())
	}
}

func TestDispatchOnceDeliveryFailureConsumesItem(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.notifier.Err = errors.New("telegram 502")
	f.push(t, keyS, item(keyS, "X", 1, 1100))

	stats, err := f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Outcomes[domain.OutcomeDeliveryFailed] != 1 {
		t.Errorf("expected delivery failure, got %+v", stats.Outcomes)
	}
	if f.notifier.calls != 3 {
		t.Errorf("expected 3 send attempts, got %d", f.notifier.calls)
	}
	if n, _ := f.store.Len(context.Background(), keyS); n != 0 {
		t.Error("item must not be re-enqueued")
	}
	if f.repo.RecordCount() != 1 {
		t.Error("the pipeline result is still cached")
	}
}

func TestDispatchOnceSkipsRemovedSubscription(t *testing.T) {
	f := newFixture(t)
	f.push(t, keyS, item(keyS, "orphan", 7, 1100))

	stats, err := f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Outcomes[domain.OutcomeSkipped] != 1 || f.proc.callCount() != 0 || f.notifier.calls != 0 {
		t.Errorf("orphaned item must be skipped silently: %+v", stats.Outcomes)
	}
}

func TestDispatchOnceStoreOutageAbortsPass(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.push(t, keyS, item(keyS, "X", 1, 1100), item(keyS, "Y", 1, 1200))

	flaky := &flakyStore{
		MemoryStore: f.store,
		popsLeft:    2, // one empty priority pop, then X
		popErr:      fmt.Errorf("lpop: %w: %w", domain.ErrStoreUnavailable, errOutage),
	}
	d := f.dispatcher(flaky, zap.NewNop())

	_, err := d.DispatchOnce(context.Background())
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if got := watermark(t, f.repo, 1, keyS); !got.Equal(ts(1000)) {
		t.Errorf("an aborted drain must not advance the watermark, got %v", got.Unix())
	}
	if got := links(queued(t, f.store, keyS)); !equal(got, []string{"Y"}) {
		t.Errorf("unprocessed items stay queued, got %v", got)
	}
}

func TestDispatchOnceRelationalOutageAbortsPass(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.repo.FindRecordErr = fmt.Errorf("find: %w", domain.ErrStoreUnavailable)
	f.push(t, keyS, item(keyS, "X", 1, 1100), item(keyS, "Y", 1, 1200))

	if _, err := f.d.DispatchOnce(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if f.proc.callCount() != 0 {
		t.Error("pipeline must not run without a dedup lookup")
	}
	if got := links(queued(t, f.store, keyS)); !equal(got, []string{"Y"}) {
		t.Errorf("expected Y still queued, got %v", got)
	}
}

func TestDispatchOnceCorruptEntryIsDropped(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.push(t, keyS, item(keyS, "X", 1, 1100))
	d := f.dispatcher(&corruptOnce{MemoryStore: f.store}, zap.NewNop())

	stats, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Outcomes[domain.OutcomeSkipped] != 1 || stats.Outcomes[domain.OutcomeDelivered] != 1 {
		t.Errorf("unexpected outcomes %+v", stats.Outcomes)
	}
}

// corruptOnce yields one undecodable entry, then behaves normally.
type corruptOnce struct {
	*queue.MemoryStore
	pops int
}

func (c *corruptOnce) Pop(ctx context.Context, key domain.QueueKey) (domain.Item, bool, error) {
	c.pops++
	if c.pops == 1 {
		return domain.Item{}, false, fmt.Errorf("decode: %w", queue.ErrCorruptEntry)
	}
	return c.MemoryStore.Pop(ctx, key)
}

func TestDispatchOnceIdle(t *testing.T) {
	f := newFixture(t)
	stats, err := f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Idle != worker.IdleNoQueues {
		t.Errorf("expected IdleNoQueues, got %v", stats.Idle)
	}

	f.push(t, keyS)
	stats, err = f.d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Idle != worker.IdleAllEmpty {
		t.Errorf("expected IdleAllEmpty, got %v", stats.Idle)
	}
}

func TestDispatchOnceShutdownFinishesInFlightItem(t *testing.T) {
	f := newFixture(t)
	addSource(t, f.repo, 1, keyS, ts(1000))
	f.push(t, keyS, item(keyS, "X", 1, 1100), item(keyS, "Y", 1, 1200))

	ctx, cancel := context.WithCancel(context.Background())
	var inflightErr error
	f.proc.onRun = func(runCtx context.Context, _ domain.Item) {
		cancel()
		inflightErr = runCtx.Err()
	}

	_, err := f.d.DispatchOnce(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if inflightErr != nil {
		t.Error("the in-flight item must not see the cancellation")
	}
	if len(f.notifier.sent) != 1 {
		t.Errorf("X must be delivered, got %d sends", len(f.notifier.sent))
	}
	if got := links(queued(t, f.store, keyS)); !equal(got, []string{"Y"}) {
		t.Errorf("no pop after cancellation, got %v", got)
	}
	if got := watermark(t, f.repo, 1, keyS); !got.Equal(ts(1000)) {
		t.Errorf("an interrupted drain must not advance the watermark, got %v", got.Unix())
	}
}

