/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for geocoding and
// place lookups, which are slow and rate-limited upstream.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Default TTL values for different cache types
const (
	DefaultGeocodeTTL    = 24 * time.Hour
	DefaultPlacesTTL     = 1 * time.Hour
	DefaultDirectionsTTL = 30 * time.Minute
)

// Key prefixes for Redis cache
const (
	KeyGeocode    = "wayfarer:cache:geocode:"    // + normalized query
	KeyPlaces     = "wayfarer:cache:places:"     // + kind:location:filter
	KeyDirections = "wayfarer:cache:directions:" // + from|to|mode
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL overrides
	GeocodeTTL    time.Duration
	PlacesTTL     time.Duration
	DirectionsTTL time.Duration

	// Fallback behavior
	DisableOnError bool // If true, disable caching on Redis errors
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		GeocodeTTL:     DefaultGeocodeTTL,
		PlacesTTL:      DefaultPlacesTTL,
		DirectionsTTL:  DefaultDirectionsTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool // Circuit breaker state
}

// New creates a new cache instance. A missing Redis is not an error: the
// cache starts disabled and every lookup is a miss.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Disabled returns a cache that never hits, for running without Redis.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger:   logger.With().Str("component", "cache").Logger(),
		config:   DefaultConfig(),
		disabled: true,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

// handleError handles Redis errors with circuit breaker logic.
func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

// get retrieves a value from cache and unmarshals it.
func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

// set stores a value in cache with TTL.
func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

// deletePattern deletes all keys matching a pattern.
func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	// Use SCAN to find keys (safer than KEYS for production)
	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return nil
}

// Geocode caching methods

// CachedLocation represents a resolved geocoding result.
type CachedLocation struct {
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	FormattedAddress string  `json:"formatted_address"`
}

// GetLocation retrieves a cached geocoding result.
func (c *Cache) GetLocation(ctx context.Context, query string) (*CachedLocation, bool) {
	var loc CachedLocation
	found, err := c.get(ctx, KeyGeocode+query, &loc)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("query", query).Msg("geocode cache hit")
	return &loc, true
}

// SetLocation caches a geocoding result.
func (c *Cache) SetLocation(ctx context.Context, query string, loc *CachedLocation) error {
	c.logger.Debug().Str("query", query).Msg("caching geocode result")
	return c.set(ctx, KeyGeocode+query, loc, c.config.GeocodeTTL)
}

// Place caching methods

// CachedPlace represents a cached place search result.
type CachedPlace struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Rating      float32  `json:"rating"`
	RatingCount int      `json:"rating_count"`
	PriceLevel  int      `json:"price_level"`
	Types       []string `json:"types"`
	Lat         float64  `json:"lat"`
	Lng         float64  `json:"lng"`
	DistanceKm  float64  `json:"distance_km"`
	OpenNow     bool     `json:"open_now"`
	HasHours    bool     `json:"has_hours"`
}

// GetPlaces retrieves cached place results for a search key.
func (c *Cache) GetPlaces(ctx context.Context, key string) ([]CachedPlace, bool) {
	var places []CachedPlace
	found, err := c.get(ctx, KeyPlaces+key, &places)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("key", key).Int("count", len(places)).Msg("places cache hit")
	return places, true
}

// SetPlaces caches place results for a search key.
func (c *Cache) SetPlaces(ctx context.Context, key string, places []CachedPlace) error {
	c.logger.Debug().Str("key", key).Int("count", len(places)).Msg("caching places")
	return c.set(ctx, KeyPlaces+key, places, c.config.PlacesTTL)
}

// Directions caching methods

// CachedRoute represents a cached routing result.
type CachedRoute struct {
	Mode     string   `json:"mode"`
	Summary  string   `json:"summary"`
	Distance string   `json:"distance"`
	Duration string   `json:"duration"`
	Fare     string   `json:"fare,omitempty"`
	Via      string   `json:"via,omitempty"`
	Steps    []string `json:"steps"`
}

// GetRoutes retrieves cached routes for a directions key.
func (c *Cache) GetRoutes(ctx context.Context, key string) ([]CachedRoute, bool) {
	var routes []CachedRoute
	found, err := c.get(ctx, KeyDirections+key, &routes)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("key", key).Int("count", len(routes)).Msg("directions cache hit")
	return routes, true
}

// SetRoutes caches routes for a directions key.
func (c *Cache) SetRoutes(ctx context.Context, key string, routes []CachedRoute) error {
	c.logger.Debug().Str("key", key).Int("count", len(routes)).Msg("caching directions")
	return c.set(ctx, KeyDirections+key, routes, c.config.DirectionsTTL)
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	c.logger.Warn().Msg("flushing all cache data")
	return c.deletePattern(ctx, "wayfarer:cache:*")
}
