/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/wayfarer/internal/models"
)

// searchWindow bounds how many recent records a fallback search scans.
const searchWindow = 200

// FallbackStore keeps memories and bookmarks in the local SQL database.
// Search is keyword overlap, not semantic, so scores are comparable only
// within one query.
type FallbackStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewFallbackStore wraps a connected gorm DB.
func NewFallbackStore(db *gorm.DB, logger zerolog.Logger) *FallbackStore {
	return &FallbackStore{
		db:     db,
		logger: logger.With().Str("component", "memory_fallback").Logger(),
	}
}

// Add stores conversation messages locally.
func (s *FallbackStore) Add(ctx context.Context, userID string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	records := make([]models.MemoryRecord, 0, len(messages))
	now := time.Now()
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		records = append(records, models.MemoryRecord{
			ID:        uuid.NewString(),
			UserID:    userID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: now,
		})
	}
	if len(records) == 0 {
		return nil
	}

	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("store memories: %w", err)
	}
	return nil
}

// Search scores recent records by keyword overlap with the query.
func (s *FallbackStore) Search(ctx context.Context, userID, query string, limit int) ([]Result, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var records []models.MemoryRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(searchWindow).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	var results []Result
	for _, r := range records {
		content := strings.ToLower(r.Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		results = append(results, Result{
			Memory: r.Content,
			Score:  float64(matched) / float64(len(terms)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// SaveBookmark persists a bookmark row.
func (s *FallbackStore) SaveBookmark(ctx context.Context, bookmark *models.Bookmark) error {
	if bookmark.ID == "" {
		bookmark.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(bookmark).Error; err != nil {
		return fmt.Errorf("store bookmark: %w", err)
	}
	return nil
}

// Bookmarks lists a user's bookmarks, newest first.
func (s *FallbackStore) Bookmarks(ctx context.Context, userID string) ([]models.Bookmark, error) {
	var bookmarks []models.Bookmark
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&bookmarks).Error
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	return bookmarks, nil
}
