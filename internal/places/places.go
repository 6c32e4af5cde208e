/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package places wraps the Google Maps APIs used by the tour guide tools:
// geocoding, nearby search, and directions. All lookups go through the
// Redis cache first.
package places

import (
	"context"
	"fmt"
	"html"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"googlemaps.github.io/maps"

	"github.com/friendsincode/wayfarer/internal/cache"
)

// Travel modes accepted by Directions.
const (
	ModeWalking = "walking"
	ModeDriving = "driving"
	ModeTransit = "transit"
	ModeCycling = "cycling"
)

const (
	maxResults       = 8
	maxDiningResults = 6
)

// earthRadiusKm is used for great-circle distance between coordinates.
const earthRadiusKm = 6371

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// Client resolves place queries against the Google Maps APIs.
type Client struct {
	maps   *maps.Client
	cache  *cache.Cache
	logger zerolog.Logger
}

// NewClient creates a places client. The cache is required; pass
// cache.Disabled for a cacheless setup.
func NewClient(apiKey string, c *cache.Cache, logger zerolog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("maps API key not configured")
	}

	mc, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}

	return &Client{
		maps:   mc,
		cache:  c,
		logger: logger.With().Str("component", "places").Logger(),
	}, nil
}

// Geocode resolves a free-form location to coordinates.
func (c *Client) Geocode(ctx context.Context, query string) (*cache.CachedLocation, error) {
	key := normalize(query)
	if loc, ok := c.cache.GetLocation(ctx, key); ok {
		return loc, nil
	}

	results, err := c.maps.Geocode(ctx, &maps.GeocodingRequest{Address: query})
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", query, err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no geocoding results for %q", query)
	}

	loc := &cache.CachedLocation{
		Lat:              results[0].Geometry.Location.Lat,
		Lng:              results[0].Geometry.Location.Lng,
		FormattedAddress: results[0].FormattedAddress,
	}
	_ = c.cache.SetLocation(ctx, key, loc)
	return loc, nil
}

// NearbyAttractions finds tourist attractions around a location.
func (c *Client) NearbyAttractions(ctx context.Context, location string, radiusKm float64) ([]cache.CachedPlace, error) {
	if radiusKm <= 0 {
		radiusKm = 5
	}
	key := fmt.Sprintf("attractions:%s:%.0f", normalize(location), radiusKm)
	if places, ok := c.cache.GetPlaces(ctx, key); ok {
		return places, nil
	}

	loc, err := c.Geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	resp, err := c.maps.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: loc.Lat, Lng: loc.Lng},
		Radius:   uint(radiusKm * 1000),
		Type:     maps.PlaceTypeTouristAttraction,
	})
	if err != nil {
		return nil, fmt.Errorf("nearby search: %w", err)
	}

	places := convertPlaces(resp.Results, loc, 0, maxResults)
	_ = c.cache.SetPlaces(ctx, key, places)
	return places, nil
}

// DiningRecommendations finds restaurants at a location, optionally
// filtered by cuisine.
func (c *Client) DiningRecommendations(ctx context.Context, location, cuisine string) ([]cache.CachedPlace, error) {
	key := fmt.Sprintf("dining:%s:%s", normalize(location), normalize(cuisine))
	if places, ok := c.cache.GetPlaces(ctx, key); ok {
		return places, nil
	}

	loc, err := c.Geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	keyword := "restaurant"
	if cuisine != "" {
		keyword = cuisine + " restaurant"
	}

	resp, err := c.maps.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: loc.Lat, Lng: loc.Lng},
		Radius:   2000,
		Type:     maps.PlaceTypeRestaurant,
		Keyword:  keyword,
	})
	if err != nil {
		return nil, fmt.Errorf("dining search: %w", err)
	}

	// Only places with a decent rating are worth recommending to a visitor.
	places := convertPlaces(resp.Results, loc, 3.5, maxDiningResults)
	_ = c.cache.SetPlaces(ctx, key, places)
	return places, nil
}

// Directions returns routes between two locations for a single mode.
func (c *Client) Directions(ctx context.Context, from, to, mode string) ([]cache.CachedRoute, error) {
	travelMode, err := travelMode(mode)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s|%s|%s", normalize(from), normalize(to), string(travelMode))
	if routes, ok := c.cache.GetRoutes(ctx, key); ok {
		return routes, nil
	}

	mapsRoutes, _, err := c.maps.Directions(ctx, &maps.DirectionsRequest{
		Origin:      from,
		Destination: to,
		Mode:        travelMode,
	})
	if err != nil {
		return nil, fmt.Errorf("directions %s to %s: %w", from, to, err)
	}
	routes, err := usableRoutes(mapsRoutes, mode, from, to)
	if err != nil {
		// Not cached: an empty result would poison the key for its TTL.
		return nil, err
	}
	_ = c.cache.SetRoutes(ctx, key, routes)
	return routes, nil
}

// usableRoutes converts the API routes and rejects responses where nothing
// usable survives conversion, such as routes whose legs are all empty.
func usableRoutes(mapsRoutes []maps.Route, mode, from, to string) ([]cache.CachedRoute, error) {
	routes := convertRoutes(mapsRoutes, mode)
	if len(routes) == 0 {
		return nil, fmt.Errorf("no route found from %s to %s", from, to)
	}
	return routes, nil
}

// TransportationOptions queries every travel mode between two locations
// and returns the best route per mode. Modes with no route are skipped.
func (c *Client) TransportationOptions(ctx context.Context, from, to string) ([]cache.CachedRoute, error) {
	var options []cache.CachedRoute
	for _, mode := range []string{ModeWalking, ModeDriving, ModeTransit, ModeCycling} {
		routes, err := c.Directions(ctx, from, to, mode)
		if err != nil {
			c.logger.Debug().Err(err).Str("mode", mode).Msg("no route for mode")
			continue
		}
		options = append(options, routes[0])
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("no transportation options from %s to %s", from, to)
	}
	return options, nil
}

func travelMode(mode string) (maps.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeWalking:
		return maps.TravelModeWalking, nil
	case ModeDriving:
		return maps.TravelModeDriving, nil
	case ModeTransit:
		return maps.TravelModeTransit, nil
	case ModeCycling, "bicycling":
		return maps.TravelModeBicycling, nil
	default:
		return "", fmt.Errorf("unknown travel mode %q", mode)
	}
}

func convertPlaces(results []maps.PlacesSearchResult, origin *cache.CachedLocation, minRating float32, limit int) []cache.CachedPlace {
	places := make([]cache.CachedPlace, 0, limit)
	for _, r := range results {
		if len(places) == limit {
			break
		}
		if minRating > 0 && r.Rating < minRating {
			continue
		}
		p := cache.CachedPlace{
			Name:        r.Name,
			Address:     r.Vicinity,
			Rating:      r.Rating,
			RatingCount: r.UserRatingsTotal,
			PriceLevel:  r.PriceLevel,
			Types:       r.Types,
			Lat:         r.Geometry.Location.Lat,
			Lng:         r.Geometry.Location.Lng,
			DistanceKm:  haversineKm(origin.Lat, origin.Lng, r.Geometry.Location.Lat, r.Geometry.Location.Lng),
		}
		if r.OpeningHours != nil {
			p.HasHours = true
			if r.OpeningHours.OpenNow != nil {
				p.OpenNow = *r.OpeningHours.OpenNow
			}
		}
		places = append(places, p)
	}
	return places
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

func convertRoutes(mapsRoutes []maps.Route, mode string) []cache.CachedRoute {
	routes := make([]cache.CachedRoute, 0, len(mapsRoutes))
	for _, r := range mapsRoutes {
		if len(r.Legs) == 0 {
			continue
		}
		leg := r.Legs[0]

		route := cache.CachedRoute{
			Mode:     mode,
			Summary:  r.Summary,
			Distance: leg.Distance.HumanReadable,
			Duration: formatDuration(leg.Duration),
		}
		if r.Fare != nil {
			route.Fare = r.Fare.Text
		}

		var lines []string
		for _, step := range leg.Steps {
			instruction := stripHTML(step.HTMLInstructions)
			if step.Distance.HumanReadable != "" {
				instruction = fmt.Sprintf("%s (%s)", instruction, step.Distance.HumanReadable)
			}
			route.Steps = append(route.Steps, instruction)

			if td := step.TransitDetails; td != nil {
				name := td.Line.ShortName
				if name == "" {
					name = td.Line.Name
				}
				if name != "" {
					lines = append(lines, name)
				}
			}
		}
		route.Via = strings.Join(lines, ", ")
		routes = append(routes, route)
	}
	return routes
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dmin", h, m)
	}
	return fmt.Sprintf("%dmin", m)
}

func stripHTML(s string) string {
	plain := html.UnescapeString(tagPattern.ReplaceAllString(s, " "))
	return strings.Join(strings.Fields(plain), " ")
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
