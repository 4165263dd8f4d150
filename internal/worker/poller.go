package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/feed"
	"github.com/notifyhub/feeddigest/internal/queue"
	"github.com/notifyhub/feeddigest/internal/repository"
	"github.com/notifyhub/feeddigest/internal/retry"
)

// PollHooks carries the metric callbacks injected by main. Nil fields are no-ops.
type PollHooks struct {
	OnEnqueued     func(n int)
	OnSourceFailed func(key domain.QueueKey)
	OnPass         func(d time.Duration)
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	// Interval is the pass period, measured from the start of one pass to
	// the start of the next.
	Interval time.Duration
	// Lookback drops items published longer ago than this, even if unseen.
	Lookback time.Duration
	Fetch    retry.Policy

	// DevMode caps the number of items enqueued per source per pass.
	DevMode              bool
	DevMaxItemsPerSource int

	// Now defaults to time.Now.
	Now func() time.Time
}

// PollStats summarizes one pass.
type PollStats struct {
	Pass     int
	Sources  int
	Failed   int
	Enqueued int
	Duration time.Duration
}

// Poller is the producer loop. It discovers new items for every registered
// source and appends them to that source's queue. It never touches
// watermarks.
type Poller struct {
	sources repository.SourceRepository
	store   queue.Store
	fetcher feed.Fetcher
	opts    PollerOptions
	hooks   PollHooks
	logger  *zap.Logger

	passes int
}

func NewPoller(
	sources repository.SourceRepository,
	store queue.Store,
	fetcher feed.Fetcher,
	opts PollerOptions,
	hooks PollHooks,
	logger *zap.Logger,
) *Poller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if hooks.OnEnqueued == nil {
		hooks.OnEnqueued = func(int) {}
	}
	if hooks.OnSourceFailed == nil {
		hooks.OnSourceFailed = func(domain.QueueKey) {}
	}
	if hooks.OnPass == nil {
		hooks.OnPass = func(time.Duration) {}
	}
	return &Poller{
		sources: sources,
		store:   store,
		fetcher: fetcher,
		opts:    opts,
		hooks:   hooks,
		logger:  logger,
	}
}

// Run polls every Interval until ctx is cancelled. A pass that overruns the
// interval is logged and the next pass starts immediately.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started",
		zap.Duration("interval", p.opts.Interval),
		zap.Duration("lookback", p.opts.Lookback),
		zap.Bool("dev_mode", p.opts.DevMode),
	)

	for {
		start := time.Now()
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("poll pass failed", zap.Error(err))
		}

		wait := p.nextWait(time.Since(start))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("poller stopping")
			return
		case <-timer.C:
		}
	}
}

func (p *Poller) nextWait(elapsed time.Duration) time.Duration {
	if elapsed > p.opts.Interval {
		p.logger.Warn("poll pass exceeded interval; discovery is falling behind",
			zap.Duration("elapsed", elapsed),
			zap.Duration("interval", p.opts.Interval),
		)
		return 0
	}
	return p.opts.Interval - elapsed
}

// PollOnce runs a single pass over every registered source. Fetch failures
// skip the source; listing sources or appending to the queue store failing
// aborts the pass.
func (p *Poller) PollOnce(ctx context.Context) (PollStats, error) {
	p.passes++
	stats := PollStats{Pass: p.passes}
	start := time.Now()
	log := p.logger.With(zap.Int("pass", p.passes), zap.String("pass_id", uuid.NewString()))
	defer func() {
		stats.Duration = time.Since(start)
		p.hooks.OnPass(stats.Duration)
	}()

	sources, err := p.sources.ListSources(ctx)
	if err != nil {
		return stats, fmt.Errorf("list sources: %w", err)
	}
	stats.Sources = len(sources)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		srcLog := log.With(zap.String("queue", src.Key.String()), zap.Int64("recipient", src.UserID))

		entries, err := retry.DoValue(ctx, p.opts.Fetch, func(ctx context.Context) ([]feed.Entry, error) {
			return p.fetcher.Fetch(ctx, src.Key)
		})
		if err != nil {
			stats.Failed++
			p.hooks.OnSourceFailed(src.Key)
			srcLog.Warn("fetch failed; skipping source this pass", zap.Error(err))
			continue
		}

		items := p.discover(src, entries)
		if len(items) == 0 {
			continue
		}
		if err := p.store.Append(ctx, src.Key, items...); err != nil {
			return stats, fmt.Errorf("append to %s: %w", src.Key, err)
		}
		stats.Enqueued += len(items)
		p.hooks.OnEnqueued(len(items))
		srcLog.Info("enqueued new items", zap.Int("count", len(items)))
	}

	log.Debug("poll pass done",
		zap.Int("sources", stats.Sources),
		zap.Int("failed", stats.Failed),
		zap.Int("enqueued", stats.Enqueued),
	)
	return stats, nil
}

// discover filters entries (newest first) against the source watermark and
// the lookback window, stopping at the first entry that fails either check,
// and returns the survivors oldest first.
func (p *Poller) discover(src *domain.Source, entries []feed.Entry) []domain.Item {
	now := p.opts.Now()
	var fresh []domain.Item
	for _, e := range entries {
		if !e.PublishedAt.After(src.Watermark) {
			break
		}
		if now.Sub(e.PublishedAt) > p.opts.Lookback {
			break
		}
		title := e.Title
		if title == "" {
			title = e.Link
		}
		fresh = append(fresh, domain.Item{
			SourceKey:   src.Key,
			SourceName:  src.Name,
			Title:       title,
			Link:        e.Link,
			PublishedAt: e.PublishedAt,
			RecipientID: src.UserID,
		})
	}

	if p.opts.DevMode && p.opts.DevMaxItemsPerSource > 0 && len(fresh) > p.opts.DevMaxItemsPerSource {
		fresh = fresh[:p.opts.DevMaxItemsPerSource]
	}

	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	return fresh
}

// Passes returns the number of passes started so far.
func (p *Poller) Passes() int { return p.passes }
