package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiters throttles outgoing notifications. Every send takes one token from
// the global bucket and one from the recipient's own bucket, matching the
// chat platform's global and per-chat flood limits.
type Limiters struct {
	global       *rate.Limiter
	perRecipient rate.Limit
	burst        int

	mu         sync.Mutex
	recipients map[int64]*rate.Limiter
}

// New creates Limiters allowing globalPerSec sends overall and
// perRecipientPerSec sends to any single recipient.
func New(globalPerSec, perRecipientPerSec float64) *Limiters {
	burst := int(globalPerSec)
	if burst < 1 {
		burst = 1
	}
	return &Limiters{
		global:       rate.NewLimiter(rate.Limit(globalPerSec), burst),
		perRecipient: rate.Limit(perRecipientPerSec),
		burst:        1,
		recipients:   make(map[int64]*rate.Limiter),
	}
}

// Wait blocks until both the global and the recipient limiter grant a token.
// Returns a non-nil error only if ctx is cancelled while waiting.
func (l *Limiters) Wait(ctx context.Context, recipientID int64) error {
	if err := l.recipient(recipientID).Wait(ctx); err != nil {
		return err
	}
	return l.global.Wait(ctx)
}

func (l *Limiters) recipient(id int64) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.recipients[id]
	if !ok {
		lim = rate.NewLimiter(l.perRecipient, l.burst)
		l.recipients[id] = lim
	}
	return lim
}
