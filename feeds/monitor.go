// Package feeds watches social platforms for mentions of the character and
// answers them in persona.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"qawakun/store"
)

// Source is one social platform the monitor polls.
type Source interface {
	// Name identifies the platform in logs and cursor keys.
	Name() string
	// SelfID is the platform account the service posts as.
	SelfID() uint64
	// ListMentions returns mentions newer than the cursor, oldest first,
	// together with the cursor to persist after processing.
	ListMentions(ctx context.Context, cursor string) ([]store.FeedItem, string, error)
	// Publish posts a reply to the given item.
	Publish(ctx context.Context, text, replyTo string) error
}

// Responder produces the in-persona reply for a mention.
type Responder interface {
	Reply(ctx context.Context, identity, userText string) (string, error)
}

// Config tunes the monitor loop. Retries and RetryBackoff govern both the
// mention fetch and the reply publish; the delay doubles after each attempt.
type Config struct {
	Interval     time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// Monitor polls each source on a fixed cadence and replies to new mentions.
// Progress is tracked with a persisted per-feed cursor so restarts never
// replay old mentions.
type Monitor struct {
	sources   []Source
	store     *store.Store
	responder Responder
	cfg       Config
	logger    *slog.Logger

	sleepFn func(context.Context, time.Duration) error
}

// NewMonitor wires the polling loop.
func NewMonitor(sources []Source, st *store.Store, responder Responder, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		sources:   sources,
		store:     st,
		responder: responder,
		cfg:       cfg,
		logger:    logger.With("component", "feeds"),
		sleepFn: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
}

// Run polls until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		m.PollOnce(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce processes new mentions from every source. Failures on one source
// never block the others.
func (m *Monitor) PollOnce(ctx context.Context) {
	for _, src := range m.sources {
		if err := m.pollSource(ctx, src); err != nil {
			m.logger.Error("poll failed", "feed", src.Name(), "err", err)
		}
	}
}

func (m *Monitor) pollSource(ctx context.Context, src Source) error {
	cursor, err := m.store.FeedCursor(src.Name())
	if err != nil {
		return fmt.Errorf("feeds: load cursor: %w", err)
	}
	var (
		items []store.FeedItem
		next  string
	)
	err = m.withRetry(ctx, src.Name(), "list mentions", func() error {
		var listErr error
		items, next, listErr = src.ListMentions(ctx, cursor)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("feeds: list mentions: %w", err)
	}
	for _, item := range items {
		if err := m.handle(ctx, src, item); err != nil {
			m.logger.Error("mention handling failed", "feed", src.Name(), "item", item.ID, "err", err)
		}
		// Advance past the item either way so a poison post cannot wedge
		// the feed.
		if err := m.store.PutFeedCursor(src.Name(), item.ID); err != nil {
			return fmt.Errorf("feeds: persist cursor: %w", err)
		}
	}
	if next != "" && next != cursor {
		if err := m.store.PutFeedCursor(src.Name(), next); err != nil {
			return fmt.Errorf("feeds: persist cursor: %w", err)
		}
	}
	return nil
}

func (m *Monitor) handle(ctx context.Context, src Source, item store.FeedItem) error {
	if item.AuthorID == src.SelfID() {
		return nil
	}
	if IsSpam(item.Text) {
		m.logger.Info("spam dropped", "feed", src.Name(), "item", item.ID, "author", item.Author)
		return nil
	}
	if err := m.store.PutFeedItem(src.Name(), item.ThreadID, item); err != nil {
		return err
	}

	identity := m.identityFor(src, item)
	reply, err := m.responder.Reply(ctx, identity, item.Text)
	if err != nil {
		return fmt.Errorf("feeds: compose reply: %w", err)
	}
	if err := m.withRetry(ctx, src.Name(), "publish", func() error {
		return src.Publish(ctx, reply, item.ID)
	}); err != nil {
		return fmt.Errorf("feeds: publish: %w", err)
	}
	m.logger.Info("replied", "feed", src.Name(), "item", item.ID, "identity", identity)
	return nil
}

// identityFor scopes the conversation transcript. A reply to one of our own
// posts continues the thread's conversation; anything else keys on the
// author so each person gets their own narrative thread.
func (m *Monitor) identityFor(src Source, item store.FeedItem) string {
	if item.ParentID != "" && item.ThreadID != "" {
		parent, err := m.store.FeedItem(src.Name(), item.ThreadID, item.ParentID)
		if err == nil && parent.AuthorID == src.SelfID() {
			return fmt.Sprintf("%s:thread:%s", src.Name(), item.ThreadID)
		}
	}
	return fmt.Sprintf("%s:user:%d", src.Name(), item.AuthorID)
}

// withRetry runs fn up to cfg.Retries times, doubling the backoff between
// attempts.
func (m *Monitor) withRetry(ctx context.Context, feed, op string, fn func() error) error {
	backoff := m.cfg.RetryBackoff
	var lastErr error
	for attempt := 0; attempt < m.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := m.sleepFn(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		m.logger.Warn("attempt failed", "feed", feed, "op", op, "attempt", attempt+1, "err", lastErr)
	}
	if lastErr == nil {
		lastErr = errors.New("feeds: retries exhausted")
	}
	return lastErr
}
