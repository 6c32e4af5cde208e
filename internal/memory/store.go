/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package memory persists conversation history and bookmarks. A remote
// mem0 service is the primary store; a local SQL store takes over whenever
// the primary is missing or failing.
package memory

import "context"

// Message is one conversation turn to remember.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is a scored memory returned by a search.
type Result struct {
	Memory string  `json:"memory"`
	Score  float64 `json:"score"`
}

// Store is a conversation memory backend.
type Store interface {
	Add(ctx context.Context, userID string, messages []Message) error
	Search(ctx context.Context, userID, query string, limit int) ([]Result, error)
}
