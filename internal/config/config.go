/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Database backend selection for the bookmark fallback store.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	// Upstream model service
	GoogleAPIKey    string
	LiveModel       string
	TranscribeModel string

	// Session limits
	MaxSessions int

	// FallbackUserID is assigned to connections that never identify
	// themselves at setup. All anonymous sessions share it, which pools
	// their long-term memory under one identity; supply a userId in the
	// setup event to avoid that.
	FallbackUserID string

	// Persona file (YAML) overriding the built-in system instruction.
	PersonaFile string

	// Places / directions
	GoogleMapsAPIKey string

	// Long-term memory store (mem0)
	Mem0APIKey  string
	Mem0BaseURL string

	// Bookmark fallback store
	DBBackend DatabaseBackend
	DBDSN     string

	// Redis cache for places lookups
	CacheEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("WAYFARER_ENV", "development"),
		HTTPBind:    getEnv("WAYFARER_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("WAYFARER_HTTP_PORT", 9084),

		GoogleAPIKey:    getEnvAny([]string{"WAYFARER_GOOGLE_API_KEY", "GOOGLE_API_KEY", "GEMINI_API_KEY"}, ""),
		LiveModel:       getEnv("WAYFARER_LIVE_MODEL", "gemini-2.5-flash-preview-native-audio-dialog"),
		TranscribeModel: getEnv("WAYFARER_TRANSCRIBE_MODEL", "gemini-2.5-flash-lite"),

		MaxSessions:    getEnvInt("WAYFARER_MAX_SESSIONS", 3),
		FallbackUserID: getEnv("WAYFARER_FALLBACK_USER_ID", "wayfarer_shared_user"),
		PersonaFile:    getEnv("WAYFARER_PERSONA_FILE", ""),

		GoogleMapsAPIKey: getEnvAny([]string{"WAYFARER_GOOGLE_MAPS_API_KEY", "GOOGLE_MAPS_API_KEY"}, ""),

		Mem0APIKey:  getEnvAny([]string{"WAYFARER_MEM0_API_KEY", "MEM0_API_KEY"}, ""),
		Mem0BaseURL: getEnv("WAYFARER_MEM0_BASE_URL", "https://api.mem0.ai"),

		DBBackend: DatabaseBackend(getEnv("WAYFARER_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:     getEnv("WAYFARER_DB_DSN", "wayfarer.db"),

		CacheEnabled:  getEnvBool("WAYFARER_CACHE_ENABLED", false),
		RedisAddr:     getEnv("WAYFARER_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("WAYFARER_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("WAYFARER_REDIS_DB", 0),

		TracingEnabled:    getEnvBool("WAYFARER_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("WAYFARER_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("WAYFARER_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.GoogleAPIKey == "" {
		return nil, fmt.Errorf("WAYFARER_GOOGLE_API_KEY (or GOOGLE_API_KEY) must be provided")
	}

	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("WAYFARER_MAX_SESSIONS must be at least 1, got %d", cfg.MaxSessions)
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
