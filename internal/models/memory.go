/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// MemoryRecord is a conversation memory kept in the fallback SQL store when
// the primary memory service is unreachable.
type MemoryRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	UserID    string `gorm:"index;size:128;not null"`
	Role      string `gorm:"size:32"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
}
