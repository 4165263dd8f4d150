// Package pipeline turns a discovered item into published artifacts:
// retrieve the item's text, edit it into readable paragraphs, summarize it,
// and publish both versions.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/notifyhub/feeddigest/internal/domain"
	"github.com/notifyhub/feeddigest/internal/retry"
)

// Content is the raw text retrieved for an item.
type Content struct {
	Text string
	// Origin is "subtitles" or "transcription".
	Origin string
}

// Retriever fetches an item's raw text. ok is false when the item has no
// retrievable content, which is not an error.
type Retriever interface {
	Retrieve(ctx context.Context, link string) (Content, bool, error)
}

// Transformer edits raw text into structured, readable paragraphs.
type Transformer interface {
	Transform(ctx context.Context, text string) (string, error)
}

// Summarizer condenses edited text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Publisher stores a document and returns its public URL.
type Publisher interface {
	Publish(ctx context.Context, title, body string) (string, error)
}

// Outcome classifies a pipeline run.
type Outcome int

const (
	Success Outcome = iota
	NoContent
	TransientFailure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case NoContent:
		return "no_content"
	case TransientFailure:
		return "transient_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of one run. Artifacts is set only on Success and
// Err only on TransientFailure.
type Result struct {
	Outcome   Outcome
	Artifacts domain.Artifacts
	Err       error
}

// Runner composes the pipeline steps. Network-bound steps go through the
// retry policy; retrieval is attempted once because yt-dlp retries
// internally.
type Runner struct {
	retriever   Retriever
	transformer Transformer
	summarizer  Summarizer
	publisher   Publisher
	policy      retry.Policy
	logger      *zap.Logger
}

func NewRunner(
	retriever Retriever,
	transformer Transformer,
	summarizer Summarizer,
	publisher Publisher,
	policy retry.Policy,
	logger *zap.Logger,
) *Runner {
	return &Runner{
		retriever:   retriever,
		transformer: transformer,
		summarizer:  summarizer,
		publisher:   publisher,
		policy:      policy,
		logger:      logger,
	}
}

// Run executes every step for item. It never panics on step failure; the
// outcome carries the classification the dispatcher acts on.
func (r *Runner) Run(ctx context.Context, item domain.Item) Result {
	log := r.logger.With(zap.String("link", item.Link))

	content, ok, err := r.retriever.Retrieve(ctx, item.Link)
	switch {
	case errors.Is(err, domain.ErrContentUnavailable):
		log.Info("content unavailable", zap.Error(err))
		return Result{Outcome: NoContent}
	case err != nil:
		return Result{Outcome: TransientFailure, Err: fmt.Errorf("retrieve: %w", err)}
	case !ok || content.Text == "":
		return Result{Outcome: NoContent}
	}
	log.Debug("content retrieved", zap.String("origin", content.Origin), zap.Int("chars", len(content.Text)))

	edited, err := retry.DoValue(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.transformer.Transform(ctx, content.Text)
	})
	if err != nil {
		return Result{Outcome: TransientFailure, Err: fmt.Errorf("transform: %w", err)}
	}

	summary, err := retry.DoValue(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.summarizer.Summarize(ctx, edited)
	})
	if err != nil {
		return Result{Outcome: TransientFailure, Err: fmt.Errorf("summarize: %w", err)}
	}

	transcriptURL, err := retry.DoValue(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.publisher.Publish(ctx, item.Title, content.Text)
	})
	if err != nil {
		return Result{Outcome: TransientFailure, Err: fmt.Errorf("publish transcript: %w", err)}
	}

	fullTextURL, err := retry.DoValue(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.publisher.Publish(ctx, item.Title, edited)
	})
	if err != nil {
		return Result{Outcome: TransientFailure, Err: fmt.Errorf("publish full text: %w", err)}
	}

	return Result{
		Outcome: Success,
		Artifacts: domain.Artifacts{
			TranscriptURL: transcriptURL,
			FullTextURL:   fullTextURL,
			Summary:       summary,
		},
	}
}
