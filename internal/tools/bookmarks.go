/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wayfarer/internal/memory"
	"github.com/friendsincode/wayfarer/internal/models"
)

const maxTitleWords = 8

// locationPattern pulls a trailing place reference out of free text,
// e.g. "that ramen place in Shimokitazawa".
var locationPattern = regexp.MustCompile(`(?i)\b(?:in|at|near)\s+([^,.!?;]+)`)

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"food", []string{"restaurant", "food", "eat", "ate", "dish", "meal", "cafe", "coffee", "ramen", "sushi", "pizza", "drink", "bar", "bakery", "dessert"}},
	{"accommodation", []string{"hotel", "hostel", "ryokan", "airbnb", "stay", "accommodation", "room", "check-in"}},
	{"tip", []string{"tip", "advice", "remember to", "don't forget", "avoid", "recommend", "better to", "pro tip"}},
	{"place", []string{"museum", "park", "temple", "shrine", "beach", "attraction", "place", "visit", "view", "market", "castle", "garden"}},
	{"memory", []string{"memory", "moment", "experience", "saw", "met", "watched", "amazing time"}},
}

var categoryHeadings = map[string]string{
	"food":          "🍜 Food",
	"place":         "🏛️ Places",
	"tip":           "💡 Tips",
	"accommodation": "🏨 Accommodation",
	"memory":        "📸 Memories",
	"general":       "📌 General",
}

var categoryOrder = []string{"food", "place", "accommodation", "tip", "memory", "general"}

// Bookmarks handles the save/list bookmark tool calls.
type Bookmarks struct {
	bridge *memory.Bridge
	logger zerolog.Logger
}

// NewBookmarks wraps the memory bridge.
func NewBookmarks(bridge *memory.Bridge, logger zerolog.Logger) *Bookmarks {
	return &Bookmarks{
		bridge: bridge,
		logger: logger.With().Str("component", "bookmarks").Logger(),
	}
}

// Save classifies free text into a bookmark and persists it.
func (b *Bookmarks) Save(ctx context.Context, userID, content, url string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return "Nothing to bookmark. Tell me what you'd like to remember."
	}

	bookmark := &models.Bookmark{
		UserID:      userID,
		Title:       deriveTitle(content),
		Description: content,
		Location:    deriveLocation(content),
		Category:    classifyBookmark(content),
		URL:         url,
	}
	bookmark.Memory = renderBookmarkMemory(bookmark)

	if err := b.bridge.SaveBookmark(ctx, bookmark); err != nil {
		b.logger.Error().Err(err).Str("user_id", userID).Msg("bookmark save failed")
		return "Failed to save bookmark. Please try again."
	}

	return fmt.Sprintf("✅ Bookmark saved: \"%s\" (%s)", bookmark.Title, bookmark.Category)
}

// List renders the user's bookmarks grouped by category.
func (b *Bookmarks) List(ctx context.Context, userID string) string {
	bookmarks, err := b.bridge.Bookmarks(ctx, userID)
	if err != nil {
		b.logger.Error().Err(err).Str("user_id", userID).Msg("bookmark list failed")
		return "Unable to retrieve your bookmarks right now. Please try again."
	}
	if len(bookmarks) == 0 {
		return "You haven't saved any bookmarks yet. Just tell me when something is worth remembering!"
	}

	grouped := make(map[string][]models.Bookmark)
	for _, bm := range bookmarks {
		category := bm.Category
		if _, ok := categoryHeadings[category]; !ok {
			category = "general"
		}
		grouped[category] = append(grouped[category], bm)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "📚 Your saved bookmarks (%d):\n", len(bookmarks))
	for _, category := range categoryOrder {
		items := grouped[category]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&out, "\n%s\n", categoryHeadings[category])
		for _, bm := range items {
			line := "• " + bm.Title
			if bm.Location != "" {
				line += " (" + bm.Location + ")"
			}
			out.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(out.String(), "\n")
}

func renderBookmarkMemory(bm *models.Bookmark) string {
	s := fmt.Sprintf("User saved bookmark: %q - %s", bm.Title, bm.Description)
	if bm.Location != "" {
		s += fmt.Sprintf(" (Location: %s)", bm.Location)
	}
	if bm.URL != "" {
		s += fmt.Sprintf(" (URL: %s)", bm.URL)
	}
	return s
}

func classifyBookmark(content string) string {
	lower := strings.ToLower(content)

	// Single keywords match whole words only ("street" must not hit "eat");
	// multi-word keywords match as phrases.
	words := make(map[string]bool)
	for _, w := range strings.Fields(lower) {
		words[strings.Trim(w, ".,!?;:\"'()")] = true
	}

	for _, entry := range categoryKeywords {
		for _, keyword := range entry.words {
			if strings.ContainsRune(keyword, ' ') {
				if strings.Contains(lower, keyword) {
					return entry.category
				}
			} else if words[keyword] {
				return entry.category
			}
		}
	}
	return "general"
}

func deriveTitle(content string) string {
	words := strings.Fields(content)
	if len(words) <= maxTitleWords {
		return strings.Join(words, " ")
	}
	title := strings.TrimRight(strings.Join(words[:maxTitleWords], " "), ".,;:")
	return title + "..."
}

func deriveLocation(content string) string {
	m := locationPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
