/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package models defines the persisted record types.
package models

import "time"

// Bookmark is a saved place, dish, or tip, stored in the fallback SQL store
// when the primary memory service is unavailable.
type Bookmark struct {
	ID          string `gorm:"primaryKey;size:36"`
	UserID      string `gorm:"index;size:128;not null"`
	Title       string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	Location    string `gorm:"size:255"`
	Category    string `gorm:"size:64;default:general"`
	URL         string `gorm:"size:512"`

	// Memory is the rendered sentence used when listing bookmarks, kept in
	// the same shape the primary memory store produces.
	Memory string `gorm:"type:text"`

	CreatedAt time.Time
}
