package worker

import (
	"context"
	"sync"
)

// Loop is a long-running component that returns once ctx is cancelled.
type Loop interface {
	Run(ctx context.Context)
}

// Group manages the lifecycle of the poller and the dispatcher.
// The two loops share nothing in memory; they coordinate only through the
// queue store and the relational store.
type Group struct {
	loops []Loop
	wg    sync.WaitGroup
}

func NewGroup(loops ...Loop) *Group {
	return &Group{loops: loops}
}

// Start launches every loop as a goroutine. Cancelling ctx triggers a
// graceful shutdown of all of them.
func (g *Group) Start(ctx context.Context) {
	for _, l := range g.loops {
		g.wg.Add(1)
		go func(l Loop) {
			defer g.wg.Done()
			l.Run(ctx)
		}(l)
	}
}

// Wait blocks until every loop has returned after ctx is cancelled.
// Call this after cancelling the context so the in-flight item finishes.
func (g *Group) Wait() {
	g.wg.Wait()
}

var (
	_ Loop = (*Poller)(nil)
	_ Loop = (*Dispatcher)(nil)
)
