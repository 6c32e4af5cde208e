/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wayfarer/internal/cache"
	"github.com/friendsincode/wayfarer/internal/places"
)

const maxDirectionSteps = 6

const guideFooter = "\n\n---\n*I'm here to help make your travel experience amazing! Ask me anything else about your destination.*"

// Guide answers the tour guide tool calls using the places client. Every
// method returns a user-facing string; errors are folded into it.
type Guide struct {
	places *places.Client // nil when no maps API key is configured
	logger zerolog.Logger
}

// NewGuide wraps a places client. places may be nil.
func NewGuide(p *places.Client, logger zerolog.Logger) *Guide {
	return &Guide{
		places: p,
		logger: logger.With().Str("component", "guide").Logger(),
	}
}

const noMapsKeyMessage = "Google Maps API key not configured. Please add GOOGLE_MAPS_API_KEY to your environment variables."

// NearbyAttractions lists tourist attractions around a location.
func (g *Guide) NearbyAttractions(ctx context.Context, location string, radiusKm float64) string {
	if g.places == nil {
		return noMapsKeyMessage
	}
	if radiusKm <= 0 {
		radiusKm = 5
	}

	results, err := g.places.NearbyAttractions(ctx, location, radiusKm)
	if err != nil {
		g.logger.Error().Err(err).Str("location", location).Msg("attractions lookup failed")
		return fmt.Sprintf("Unable to get attractions for %s. Please try again later.", location)
	}
	if len(results) == 0 {
		return fmt.Sprintf("No tourist attractions found near %s within %gkm radius.", location, radiusKm)
	}

	lines := make([]string, 0, len(results))
	for i, p := range results {
		lines = append(lines, fmt.Sprintf("%d. %s%s%s - %.1fkm away",
			i+1, p.Name, ratingTag(p.Rating), priceTag(p.PriceLevel, ""), p.DistanceKm))
	}

	content := fmt.Sprintf("Found %d amazing places within %gkm:\n\n%s",
		len(results), radiusKm, strings.Join(lines, "\n"))
	tips := []string{
		"Check opening hours and ticket prices before visiting",
		"Consider visiting popular attractions early morning or late afternoon",
		"Look for combo tickets that include multiple attractions",
		"Download offline maps in case of poor internet connection",
	}
	return formatGuideResponse(fmt.Sprintf("Top Attractions Near %s", location), content, tips)
}

// Directions renders step-by-step directions between two locations.
func (g *Guide) Directions(ctx context.Context, from, to, mode string) string {
	if g.places == nil {
		return noMapsKeyMessage
	}
	if mode == "" {
		mode = places.ModeWalking
	}

	routes, err := g.places.Directions(ctx, from, to, mode)
	if err != nil {
		g.logger.Error().Err(err).Str("from", from).Str("to", to).Msg("directions lookup failed")
		return fmt.Sprintf("Unable to get directions from %s to %s. Please check the locations and try again.", from, to)
	}
	route := routes[0]

	steps := route.Steps
	truncated := 0
	if len(steps) > maxDirectionSteps {
		truncated = len(steps) - maxDirectionSteps
		steps = steps[:maxDirectionSteps]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📍 **Distance:** %s\n", route.Distance)
	fmt.Fprintf(&b, "⏱️ **Duration:** %s\n", route.Duration)
	fmt.Fprintf(&b, "%s **Mode:** %s\n\n", modeEmoji(mode), capitalize(mode))
	b.WriteString("**Step-by-step directions:**\n")
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	if truncated > 0 {
		fmt.Fprintf(&b, "\n... and %d more steps", truncated)
	}

	tips := []string{
		"Check traffic conditions before starting your journey",
		"Keep your phone charged for navigation",
		"Have a backup route in mind",
		"Consider weather conditions that might affect travel time",
	}
	return formatGuideResponse(fmt.Sprintf("Directions from %s to %s", from, to), strings.TrimRight(b.String(), "\n"), tips)
}

// DiningRecommendations lists well-rated restaurants near a location.
func (g *Guide) DiningRecommendations(ctx context.Context, location, cuisine string) string {
	if g.places == nil {
		return noMapsKeyMessage
	}

	results, err := g.places.DiningRecommendations(ctx, location, cuisine)
	if err != nil {
		g.logger.Error().Err(err).Str("location", location).Msg("dining lookup failed")
		return fmt.Sprintf("Unable to get dining recommendations for %s. Please try again later.", location)
	}

	cuisineText := ""
	if cuisine != "" {
		cuisineText = " " + cuisine
	}
	if len(results) == 0 {
		return fmt.Sprintf("No%s restaurants found near %s. Try searching for a different cuisine or location.", cuisineText, location)
	}

	lines := make([]string, 0, len(results))
	for i, p := range results {
		lines = append(lines, fmt.Sprintf("%d. %s%s%s %s - %.1fkm away",
			i+1, p.Name, ratingTag(p.Rating), priceTag(p.PriceLevel, " 💰"), openTag(p), p.DistanceKm))
	}

	content := fmt.Sprintf("Found %d excellent%s restaurants:\n\n%s\n\n**Legend:** ⭐ Rating | 💰 Price level | 🟢 Open now | 🔴 Closed",
		len(results), cuisineText, strings.Join(lines, "\n"))
	tips := []string{
		"Make reservations for popular restaurants, especially on weekends",
		"Check recent reviews and current menu online",
		"Ask about daily specials and local dishes",
		"Consider dietary restrictions and inform the restaurant ahead",
	}

	title := fmt.Sprintf("Dining Recommendations Near %s", location)
	if cuisine != "" {
		title = fmt.Sprintf("Dining Recommendations - %s Near %s", capitalize(cuisine), location)
	}
	return formatGuideResponse(title, content, tips)
}

// TransportationOptions compares travel modes between two locations.
func (g *Guide) TransportationOptions(ctx context.Context, from, to string) string {
	if g.places == nil {
		return noMapsKeyMessage
	}

	options, err := g.places.TransportationOptions(ctx, from, to)
	if err != nil {
		g.logger.Error().Err(err).Str("from", from).Str("to", to).Msg("transportation lookup failed")
		return fmt.Sprintf("No transportation options found from %s to %s. Please check the locations and try again.", from, to)
	}

	lines := make([]string, 0, len(options))
	for _, route := range options {
		via := ""
		if route.Mode == places.ModeTransit && route.Via != "" {
			via = " via " + route.Via
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s (%s)%s",
			modeEmoji(route.Mode), modeName(route.Mode), route.Duration, route.Distance, via))
	}

	content := "Here are all available transportation methods:\n\n" + strings.Join(lines, "\n")
	tips := []string{
		"Compare costs and convenience for your specific needs",
		"Check for any seasonal service changes or disruptions",
		"Consider combining different modes for optimal travel",
		"Book tickets in advance for public transit when possible",
	}
	return formatGuideResponse(fmt.Sprintf("Transportation Options from %s to %s", from, to), content, tips)
}

// formatGuideResponse wraps tool output in the shared banner, pro-tips
// footer, and sign-off that the persona expects to read back.
func formatGuideResponse(title, content string, tips []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌟 %s\n%s\n\n%s", title, strings.Repeat("=", utf8.RuneCountInString(title)+4), content)

	if len(tips) > 0 {
		b.WriteString("\n\n💡 **Pro Tips:**")
		for _, tip := range tips {
			b.WriteString("\n• " + tip)
		}
	}

	b.WriteString(guideFooter)
	return b.String()
}

func ratingTag(rating float32) string {
	if rating == 0 {
		return ""
	}
	return " ⭐ " + strconv.FormatFloat(float64(rating), 'f', -1, 32)
}

// priceTag renders one 💰 per price level; fallback is used when the level
// is unknown (dining shows a single 💰, attractions show nothing).
func priceTag(level int, fallback string) string {
	if level <= 0 {
		return fallback
	}
	return " " + strings.Repeat("💰", level)
}

func openTag(p cache.CachedPlace) string {
	switch {
	case !p.HasHours:
		return ""
	case p.OpenNow:
		return "🟢"
	default:
		return "🔴"
	}
}

func modeEmoji(mode string) string {
	switch mode {
	case places.ModeDriving:
		return "🚗"
	case places.ModeTransit:
		return "🚌"
	case places.ModeCycling:
		return "🚲"
	default:
		return "🚶"
	}
}

func modeName(mode string) string {
	if mode == places.ModeTransit {
		return "Public Transit"
	}
	return capitalize(mode)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
