/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the HTTP surface: the voice websocket, health and
// metrics endpoints, and the bookmark test endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/wayfarer/internal/cache"
	"github.com/friendsincode/wayfarer/internal/config"
	"github.com/friendsincode/wayfarer/internal/db"
	"github.com/friendsincode/wayfarer/internal/gateway"
	"github.com/friendsincode/wayfarer/internal/memory"
	"github.com/friendsincode/wayfarer/internal/models"
	"github.com/friendsincode/wayfarer/internal/places"
	"github.com/friendsincode/wayfarer/internal/telemetry"
	"github.com/friendsincode/wayfarer/internal/tools"
	"github.com/friendsincode/wayfarer/internal/upstream"
	"github.com/friendsincode/wayfarer/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	cache     *cache.Cache
	bridge    *memory.Bridge
	bookmarks *tools.Bookmarks
	manager   *gateway.Manager
}

// New constructs the server and wires dependencies.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	// The tracing/metrics response wrappers do not implement http.Hijacker,
	// and the request timeout would kill long-lived sockets, so websocket
	// upgrades bypass all three.
	router.Use(skipForWebsocket(telemetry.TracingMiddleware("wayfarer-api")))
	router.Use(skipForWebsocket(telemetry.MetricsMiddleware))
	router.Use(skipForWebsocket(middleware.Timeout(60 * time.Second)))

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
	}

	if err := srv.initDependencies(ctx); err != nil {
		return nil, err
	}

	srv.configureRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep the header deadline to protect against slowloris; the voice
		// socket and its audio stream manage their own lifetimes, so no
		// full-body read or write deadline.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// skipForWebsocket applies mw to every request except websocket upgrades.
func skipForWebsocket(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

func (s *Server) initDependencies(ctx context.Context) error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Redis cache for the external travel APIs.
	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		apiCache, err := cache.New(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
			s.cache = cache.Disabled(s.logger)
		} else {
			s.cache = apiCache
			s.DeferClose(func() error { return s.cache.Close() })
		}
	} else {
		s.cache = cache.Disabled(s.logger)
	}

	// Travel tools are optional: without a Maps key the guide answers with
	// a configuration notice instead.
	var placesClient *places.Client
	if s.cfg.GoogleMapsAPIKey != "" {
		placesClient, err = places.NewClient(s.cfg.GoogleMapsAPIKey, s.cache, s.logger)
		if err != nil {
			return fmt.Errorf("initialize places client: %w", err)
		}
	} else {
		s.logger.Warn().Msg("no Google Maps API key configured, travel tools disabled")
	}

	var primary memory.Store
	if s.cfg.Mem0APIKey != "" {
		primary = memory.NewMem0Store(s.cfg.Mem0BaseURL, s.cfg.Mem0APIKey, s.logger)
	} else {
		s.logger.Warn().Msg("no mem0 API key configured, using database memory only")
	}
	fallback := memory.NewFallbackStore(database, s.logger)
	s.bridge = memory.NewBridge(primary, fallback, s.logger)

	guide := tools.NewGuide(placesClient, s.logger)
	s.bookmarks = tools.NewBookmarks(s.bridge, s.logger)
	dispatcher := tools.NewDispatcher(s.bridge, guide, s.bookmarks, s.logger)

	gemini, err := upstream.NewGeminiClient(ctx, upstream.GeminiConfig{
		APIKey:          s.cfg.GoogleAPIKey,
		LiveModel:       s.cfg.LiveModel,
		TranscribeModel: s.cfg.TranscribeModel,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("initialize gemini client: %w", err)
	}

	persona, err := config.LoadPersona(s.cfg.PersonaFile)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}

	s.manager = gateway.NewManager(
		s.cfg,
		persona,
		gemini,
		gemini,
		dispatcher,
		s.bridge,
		gateway.NewSessionCounter(s.cfg.MaxSessions),
		gateway.NewAggregator(gateway.DefaultAggregationWindow, gateway.DefaultAggregationTick, s.logger),
		s.logger,
	)

	return nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`, version.Version)
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.router.Get("/ws/voice", s.manager.ServeWS)

	// Exercise the bookmark pipeline without a live voice session.
	s.router.Post("/test/bookmark", s.handleTestBookmark)
	s.router.Post("/test/bookmark/fallback-only", s.handleTestBookmarkFallbackOnly)
	s.router.Get("/test/bookmarks/{userID}", s.handleTestBookmarks)
}

type testBookmarkRequest struct {
	UserID  string `json:"userId"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// handleTestBookmark runs the full save path: classification, fallback
// write, and the mirror into the primary memory store.
func (s *Server) handleTestBookmark(w http.ResponseWriter, r *http.Request) {
	var req testBookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = s.cfg.FallbackUserID
	}

	result := s.bookmarks.Save(r.Context(), req.UserID, req.Content, req.URL)
	writeJSON(w, map[string]string{"result": result})
}

// handleTestBookmarkFallbackOnly writes straight to the database store,
// bypassing the primary memory mirror.
func (s *Server) handleTestBookmarkFallbackOnly(w http.ResponseWriter, r *http.Request) {
	var req testBookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		req.UserID = s.cfg.FallbackUserID
	}

	bm := &models.Bookmark{
		UserID:      req.UserID,
		Title:       req.Content,
		Description: req.Content,
		URL:         req.URL,
	}
	fallback := memory.NewFallbackStore(s.db, s.logger)
	if err := fallback.SaveBookmark(r.Context(), bm); err != nil {
		http.Error(w, "failed to save bookmark", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"id": bm.ID, "status": "saved"})
}

func (s *Server) handleTestBookmarks(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	bookmarks, err := s.bridge.Bookmarks(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to list bookmarks", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"userId": userID, "bookmarks": bookmarks})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
	}
}

// HTTPServer exposes the underlying server for lifecycle control.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}
