package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/pipeline"
	"github.com/notifyhub/feeddigest/internal/provider"
	"github.com/notifyhub/feeddigest/internal/queue"
	"github.com/notifyhub/feeddigest/internal/repository"
	"github.com/notifyhub/feeddigest/internal/retry"
)

// Processor runs the content pipeline for one item. *pipeline.Runner
// implements it.
type Processor interface {
	Run(ctx context.Context, item domain.Item) pipeline.Result
}

// Limiter throttles deliveries. *ratelimiter.Limiters implements it.
type Limiter interface {
	Wait(ctx context.Context, recipientID int64) error
}

// DispatchHooks carries the metric callbacks injected by main. Nil fields are no-ops.
type DispatchHooks struct {
	OnItem      func(outcome domain.Outcome, latency time.Duration)
	OnWatermark func(key domain.QueueKey)
	OnDepths    func(depths map[domain.QueueKey]int)
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// IdleShort is slept when the queue store has no keys at all.
	IdleShort time.Duration
	// IdleLong is slept when every queue is empty.
	IdleLong time.Duration
	Notify   retry.Policy
}

// IdleReason tells Run how long to sleep after a pass.
type IdleReason int

const (
	Busy IdleReason = iota
	IdleNoQueues
	IdleAllEmpty
)

// PassStats summarizes one dispatch pass.
type PassStats struct {
	Idle       IdleReason
	Outcomes   map[domain.Outcome]int
	Watermarks int
	// Order lists processed links in pop order.
	Order []string
}

// Dispatcher is the consumer loop. Each pass drains the priority lane, then
// every source queue, one item at a time.
type Dispatcher struct {
	repo     repository.Repository
	store    queue.Store
	proc     Processor
	notifier provider.Notifier
	limiter  Limiter
	opts     DispatcherOptions
	hooks    DispatchHooks
	logger   *zap.Logger
}

// NewDispatcher constructs a dispatcher. limiter may be nil.
func NewDispatcher(
	repo repository.Repository,
	store queue.Store,
	proc Processor,
	notifier provider.Notifier,
	limiter Limiter,
	opts DispatcherOptions,
	hooks DispatchHooks,
	logger *zap.Logger,
) *Dispatcher {
	if hooks.OnItem == nil {
		hooks.OnItem = func(domain.Outcome, time.Duration) {}
	}
	if hooks.OnWatermark == nil {
		hooks.OnWatermark = func(domain.QueueKey) {}
	}
	if hooks.OnDepths == nil {
		hooks.OnDepths = func(map[domain.QueueKey]int) {}
	}
	return &Dispatcher{
		repo:     repo,
		store:    store,
		proc:     proc,
		notifier: notifier,
		limiter:  limiter,
		opts:     opts,
		hooks:    hooks,
		logger:   logger,
	}
}

// Run dispatches until ctx is cancelled. Cancellation stops new pops; the
// item in flight finishes first.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started",
		zap.Duration("idle_short", d.opts.IdleShort),
		zap.Duration("idle_long", d.opts.IdleLong),
	)

	for {
		stats, err := d.DispatchOnce(ctx)
		if ctx.Err() != nil {
			d.logger.Info("dispatcher stopping")
			return
		}

		var wait time.Duration
		switch {
		case err != nil:
			d.logger.Error("dispatch pass aborted", zap.Error(err))
			wait = d.opts.IdleShort
		case stats.Idle == IdleNoQueues:
			wait = d.opts.IdleShort
		case stats.Idle == IdleAllEmpty:
			d.logger.Debug("all queues empty", zap.Duration("sleep", d.opts.IdleLong))
			wait = d.opts.IdleLong
		default:
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.logger.Info("dispatcher stopping")
			return
		case <-timer.C:
		}
	}
}

// DispatchOnce runs a single pass. It returns an error when the queue store
// or the relational store fails, or when ctx is cancelled mid-pass.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (PassStats, error) {
	stats := PassStats{Outcomes: make(map[domain.Outcome]int)}

	depths, err := queue.Depths(ctx, d.store)
	if err != nil {
		return stats, fmt.Errorf("snapshot queues: %w", err)
	}
	d.hooks.OnDepths(depths)
	if len(depths) == 0 {
		stats.Idle = IdleNoQueues
		return stats, nil
	}
	total := 0
	for _, n := range depths {
		total += n
	}
	if total == 0 {
		stats.Idle = IdleAllEmpty
		return stats, nil
	}

	if _, err := d.drain(ctx, domain.PriorityKey, &stats); err != nil {
		return stats, err
	}

	keys, err := d.store.Keys(ctx)
	if err != nil {
		return stats, fmt.Errorf("list queues: %w", err)
	}
	for _, key := range keys {
		if key.IsPriority() {
			continue
		}
		newest, err := d.drain(ctx, key, &stats)
		if err != nil {
			return stats, err
		}
		if newest.IsZero() {
			continue
		}
		moved, err := d.repo.UpdateWatermark(ctx, key, newest)
		if err != nil {
			return stats, fmt.Errorf("advance watermark for %s: %w", key, err)
		}
		if moved > 0 {
			stats.Watermarks++
			d.hooks.OnWatermark(key)
			d.logger.Info("watermark advanced",
				zap.String("queue", key.String()),
				zap.Time("watermark", newest),
				zap.Int64("subscriptions", moved),
			)
		}
	}
	return stats, nil
}

// drain pops key until it is empty and returns the newest publish time among
// items whose content was produced. An interrupted drain returns ctx's error
// so no watermark is written for a partially processed queue.
func (d *Dispatcher) drain(ctx context.Context, key domain.QueueKey, stats *PassStats) (time.Time, error) {
	var newest time.Time
	for {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		item, ok, err := d.store.Pop(ctx, key)
		if errors.Is(err, queue.ErrCorruptEntry) {
			d.logger.Error("dropped undecodable queue entry", zap.String("queue", key.String()), zap.Error(err))
			stats.Outcomes[domain.OutcomeSkipped]++
			d.hooks.OnItem(domain.OutcomeSkipped, 0)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return time.Time{}, ctx.Err()
			}
			return time.Time{}, fmt.Errorf("pop %s: %w", key, err)
		}
		if !ok {
			return newest, nil
		}

		start := time.Now()
		// The popped item is finished even if shutdown starts meanwhile.
		outcome, produced, err := d.process(context.WithoutCancel(ctx), key, item)
		stats.Outcomes[outcome]++
		stats.Order = append(stats.Order, item.Link)
		d.hooks.OnItem(outcome, time.Since(start))
		if err != nil {
			d.logger.Error("store failure while processing; item dropped",
				zap.String("queue", key.String()),
				zap.String("link", item.Link),
				zap.Error(err),
			)
			return time.Time{}, err
		}
		if produced && item.PublishedAt.After(newest) {
			newest = item.PublishedAt
		}
	}
}

// process handles one popped item. produced reports whether content exists
// for the item (cache hit or pipeline success), which is what lets the item
// count toward the source watermark. A non-nil error is a store failure.
func (d *Dispatcher) process(ctx context.Context, key domain.QueueKey, item domain.Item) (outcome domain.Outcome, produced bool, err error) {
	log := d.logger.With(
		zap.String("queue", key.String()),
		zap.String("link", item.Link),
		zap.Int64("recipient", item.RecipientID),
	)

	if !key.IsPriority() {
		src, err := d.repo.FindSource(ctx, item.RecipientID, key)
		if errors.Is(err, domain.ErrNotFound) {
			log.Info("subscription removed since enqueue; skipping item")
			return domain.OutcomeSkipped, false, nil
		}
		if err != nil {
			return domain.OutcomeSkipped, false, fmt.Errorf("find source: %w", err)
		}
		if !src.Watermark.IsZero() && !item.PublishedAt.After(src.Watermark) {
			log.Error("item is not newer than its source watermark; skipping",
				zap.Error(domain.ErrInvariantViolation),
				zap.Time("published_at", item.PublishedAt),
				zap.Time("watermark", src.Watermark),
			)
			return domain.OutcomeSkipped, false, nil
		}
	}

	rec, err := d.repo.FindProcessedRecord(ctx, item.Link)
	switch {
	case err == nil:
		return d.deliverCached(ctx, log, item, rec)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.OutcomeSkipped, false, fmt.Errorf("find processed record: %w", err)
	}

	res := d.proc.Run(ctx, item)
	switch res.Outcome {
	case pipeline.NoContent:
		log.Info("no content for item; abandoned")
		return domain.OutcomeAbandoned, false, nil
	case pipeline.TransientFailure:
		log.Warn("pipeline failed; abandoned", zap.Error(res.Err))
		return domain.OutcomeAbandoned, false, nil
	}

	rec = &domain.ProcessedRecord{
		Link:       item.Link,
		Title:      item.Title,
		SourceName: item.SourceName,
		Artifacts:  res.Artifacts,
		OwnerID:    item.RecipientID,
	}
	created, err := d.repo.InsertProcessedRecord(ctx, rec)
	if err != nil {
		return domain.OutcomeSkipped, true, fmt.Errorf("insert processed record: %w", err)
	}
	if !created {
		// Another run stored this link first; keep ours as an association.
		if err := d.associate(ctx, item); err != nil {
			return domain.OutcomeSkipped, true, err
		}
	}

	if err := d.deliver(ctx, item, provider.NewMessage(item, rec)); err != nil {
		log.Warn("delivery failed; item consumed", zap.Error(err))
		return domain.OutcomeDeliveryFailed, true, nil
	}
	log.Info("item processed and delivered")
	return domain.OutcomeDelivered, true, nil
}

func (d *Dispatcher) deliverCached(ctx context.Context, log *zap.Logger, item domain.Item, rec *domain.ProcessedRecord) (domain.Outcome, bool, error) {
	outcome := domain.OutcomeDeduped
	if err := d.deliver(ctx, item, provider.NewMessage(item, rec)); err != nil {
		log.Warn("delivery of cached item failed; item consumed", zap.Error(err))
		outcome = domain.OutcomeDeliveryFailed
	} else {
		log.Info("delivered from cache", zap.Int64("owner", rec.OwnerID))
	}

	// Idempotent per (user, link). Owners who cleared their history get the
	// entry back here.
	if err := d.associate(ctx, item); err != nil {
		return outcome, true, err
	}
	return outcome, true, nil
}

func (d *Dispatcher) associate(ctx context.Context, item domain.Item) error {
	err := d.repo.InsertRecipientItem(ctx, &domain.RecipientItem{
		UserID: item.RecipientID,
		Link:   item.Link,
		Title:  item.Title,
	})
	if err != nil {
		return fmt.Errorf("insert recipient item: %w", err)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, item domain.Item, msg provider.Message) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, item.RecipientID); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	text := msg.HTML()
	return retry.Do(ctx, d.opts.Notify, func(ctx context.Context) error {
		return d.notifier.Send(ctx, item.RecipientID, text)
	})
}
