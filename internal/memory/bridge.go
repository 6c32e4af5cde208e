/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wayfarer/internal/models"
	"github.com/friendsincode/wayfarer/internal/telemetry"
)

const persistTimeout = 15 * time.Second

// Bridge routes memory operations to the primary store and falls back to
// the local store when the primary is unconfigured or failing. Bookmarks
// always land in the local store so they survive primary outages.
type Bridge struct {
	primary  Store // nil when no mem0 key is configured
	fallback *FallbackStore
	logger   zerolog.Logger
}

// NewBridge builds the bridge. primary may be nil.
func NewBridge(primary Store, fallback *FallbackStore, logger zerolog.Logger) *Bridge {
	return &Bridge{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "memory_bridge").Logger(),
	}
}

// Persist stores conversation messages, trying the primary first.
func (b *Bridge) Persist(ctx context.Context, userID string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	if b.primary != nil {
		err := b.primary.Add(ctx, userID, messages)
		if err == nil {
			telemetry.MemoryWritesTotal.WithLabelValues("primary").Inc()
			return nil
		}
		b.logger.Warn().Err(err).Msg("primary memory store failed, using fallback")
	}

	if err := b.fallback.Add(ctx, userID, messages); err != nil {
		telemetry.MemoryWritesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("fallback memory store: %w", err)
	}
	telemetry.MemoryWritesTotal.WithLabelValues("fallback").Inc()
	return nil
}

// PersistAsync persists in the background. Failures are logged, never
// surfaced: losing a memory must not disturb the conversation.
func (b *Bridge) PersistAsync(userID string, messages []Message) {
	if len(messages) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := b.Persist(ctx, userID, messages); err != nil {
			b.logger.Error().Err(err).Str("user_id", userID).Msg("failed to persist conversation memory")
		}
	}()
}

// Search queries the primary store, then the fallback on failure.
func (b *Bridge) Search(ctx context.Context, userID, query string, limit int) ([]Result, error) {
	if b.primary != nil {
		results, err := b.primary.Search(ctx, userID, query, limit)
		if err == nil {
			return results, nil
		}
		b.logger.Warn().Err(err).Msg("primary memory search failed, using fallback")
	}
	return b.fallback.Search(ctx, userID, query, limit)
}

// SaveBookmark persists the bookmark row locally and mirrors it into the
// primary memory store when one is configured.
func (b *Bridge) SaveBookmark(ctx context.Context, bookmark *models.Bookmark) error {
	if err := b.fallback.SaveBookmark(ctx, bookmark); err != nil {
		return err
	}

	if b.primary != nil && bookmark.Memory != "" {
		if err := b.primary.Add(ctx, bookmark.UserID, []Message{{Role: "user", Content: bookmark.Memory}}); err != nil {
			b.logger.Warn().Err(err).Msg("failed to mirror bookmark into primary memory")
		}
	}
	return nil
}

// Bookmarks lists a user's bookmarks from the local store.
func (b *Bridge) Bookmarks(ctx context.Context, userID string) ([]models.Bookmark, error) {
	return b.fallback.Bookmarks(ctx, userID)
}
