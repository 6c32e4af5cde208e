/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/wayfarer/internal/models"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Bookmark{}, &models.MemoryRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestMem0AddAndSearch(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		switch r.URL.Path {
		case "/v1/memories/":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{}`))
		case "/v1/memories/search/":
			var req mem0SearchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode search request: %v", err)
			}
			if req.UserID != "u1" || req.Query != "ramen" {
				t.Errorf("unexpected search request: %+v", req)
			}
			json.NewEncoder(w).Encode([]Result{
				{Memory: "User loved the ramen in Fukuoka", Score: 0.91},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store := NewMem0Store(srv.URL, "test-key", zerolog.Nop())

	if err := store.Add(context.Background(), "u1", []Message{{Role: "user", Content: "I love ramen"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if gotAuth != "Token test-key" {
		t.Errorf("auth header: %q", gotAuth)
	}

	results, err := store.Search(context.Background(), "u1", "ramen", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if gotPath != "/v1/memories/search/" {
		t.Errorf("path: %q", gotPath)
	}
	if len(results) != 1 || results[0].Score != 0.91 {
		t.Fatalf("results: %+v", results)
	}
}

func TestMem0ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	store := NewMem0Store(srv.URL, "k", zerolog.Nop())
	if err := store.Add(context.Background(), "u1", []Message{{Role: "user", Content: "x"}}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestFallbackSearchRanksByOverlap(t *testing.T) {
	store := NewFallbackStore(testDB(t), zerolog.Nop())
	ctx := context.Background()

	msgs := []Message{
		{Role: "user", Content: "The ramen shop near Hakata station was amazing"},
		{Role: "user", Content: "Tokyo tower at sunset"},
		{Role: "assistant", Content: "Noted your ramen preference"},
	}
	if err := store.Add(ctx, "u1", msgs); err != nil {
		t.Fatalf("add: %v", err)
	}

	results, err := store.Search(ctx, "u1", "ramen shop", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Score <= results[1].Score {
		t.Fatalf("not ranked: %+v", results)
	}
	if results[0].Memory != "The ramen shop near Hakata station was amazing" {
		t.Fatalf("top result: %q", results[0].Memory)
	}
}

func TestFallbackSearchScopesToUser(t *testing.T) {
	store := NewFallbackStore(testDB(t), zerolog.Nop())
	ctx := context.Background()

	store.Add(ctx, "u1", []Message{{Role: "user", Content: "ramen"}})
	store.Add(ctx, "u2", []Message{{Role: "user", Content: "ramen"}})

	results, err := store.Search(ctx, "u1", "ramen", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

type failingStore struct{}

func (failingStore) Add(context.Context, string, []Message) error {
	return errors.New("service down")
}

func (failingStore) Search(context.Context, string, string, int) ([]Result, error) {
	return nil, errors.New("service down")
}

func TestBridgeFallsBackWhenPrimaryFails(t *testing.T) {
	fallback := NewFallbackStore(testDB(t), zerolog.Nop())
	bridge := NewBridge(failingStore{}, fallback, zerolog.Nop())
	ctx := context.Background()

	if err := bridge.Persist(ctx, "u1", []Message{{Role: "user", Content: "gyoza place in Osaka"}}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	results, err := bridge.Search(ctx, "u1", "gyoza", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("memory not in fallback: %+v", results)
	}
}

func TestBridgeWithoutPrimary(t *testing.T) {
	fallback := NewFallbackStore(testDB(t), zerolog.Nop())
	bridge := NewBridge(nil, fallback, zerolog.Nop())
	ctx := context.Background()

	if err := bridge.Persist(ctx, "u1", []Message{{Role: "user", Content: "note"}}); err != nil {
		t.Fatalf("persist: %v", err)
	}
}

func TestBridgeBookmarksSurvivePrimaryOutage(t *testing.T) {
	fallback := NewFallbackStore(testDB(t), zerolog.Nop())
	bridge := NewBridge(failingStore{}, fallback, zerolog.Nop())
	ctx := context.Background()

	bm := &models.Bookmark{
		UserID:   "u1",
		Title:    "Ichiran Ramen",
		Category: "food",
		Memory:   `User saved bookmark: "Ichiran Ramen" - best tonkotsu`,
	}
	if err := bridge.SaveBookmark(ctx, bm); err != nil {
		t.Fatalf("save bookmark: %v", err)
	}
	if bm.ID == "" {
		t.Fatal("no ID assigned")
	}

	bookmarks, err := bridge.Bookmarks(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bookmarks) != 1 || bookmarks[0].Title != "Ichiran Ramen" {
		t.Fatalf("bookmarks: %+v", bookmarks)
	}
}
