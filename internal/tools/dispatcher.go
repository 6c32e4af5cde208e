/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package tools maps upstream function calls to local handlers. The
// dispatcher never lets an error or panic escape: a tool failure becomes a
// result string, because a throw here would abort the whole turn.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wayfarer/internal/memory"
	"github.com/friendsincode/wayfarer/internal/telemetry"
	"github.com/friendsincode/wayfarer/internal/upstream"
)

const memorySearchLimit = 10

// Dispatcher routes tool calls by name.
type Dispatcher struct {
	bridge    *memory.Bridge
	guide     *Guide
	bookmarks *Bookmarks
	logger    zerolog.Logger
}

// NewDispatcher wires the tool handlers.
func NewDispatcher(bridge *memory.Bridge, guide *Guide, bookmarks *Bookmarks, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		bridge:    bridge,
		guide:     guide,
		bookmarks: bookmarks,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch executes one tool call for a user. It returns nil for calls the
// upstream model handles itself (search, code execution); everything else
// gets a result, even on failure.
func (d *Dispatcher) Dispatch(ctx context.Context, call upstream.FunctionCall, userID string) (result *upstream.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("tool", call.Name).Interface("panic", r).Msg("tool handler panicked")
			result = &upstream.ToolResult{
				CallID: call.ID,
				Name:   call.Name,
				Result: fmt.Sprintf("Error: %s failed unexpectedly", call.Name),
			}
		}
	}()

	switch call.Name {
	case "googleSearch", "google_search", "codeExecution", "code_execution":
		// Handled entirely by the model, no local response needed.
		return nil
	}

	telemetry.ToolCallsTotal.WithLabelValues(call.Name).Inc()
	d.logger.Info().Str("tool", call.Name).Str("user_id", userID).Msg("dispatching tool call")

	var out string
	switch call.Name {
	case "query_memory":
		out = d.queryMemory(ctx, userID, argString(call.Args, "query"))
	case "get_nearby_attractions":
		out = d.guide.NearbyAttractions(ctx, argString(call.Args, "location"), argFloat(call.Args, "radius"))
	case "get_directions":
		out = d.guide.Directions(ctx, argString(call.Args, "from"), argString(call.Args, "to"), argString(call.Args, "mode"))
	case "get_dining_recommendations":
		out = d.guide.DiningRecommendations(ctx, argString(call.Args, "location"), argString(call.Args, "cuisine"))
	case "get_transportation_options":
		out = d.guide.TransportationOptions(ctx, argString(call.Args, "from"), argString(call.Args, "to"))
	case "save_bookmark":
		out = d.bookmarks.Save(ctx, userID, argString(call.Args, "content"), argString(call.Args, "url"))
	case "get_bookmarks":
		out = d.bookmarks.List(ctx, userID)
	default:
		out = fmt.Sprintf("Unknown function: %s", call.Name)
	}

	return &upstream.ToolResult{CallID: call.ID, Name: call.Name, Result: out}
}

// queryMemory summarizes the most relevant memories for a query.
func (d *Dispatcher) queryMemory(ctx context.Context, userID, query string) string {
	results, err := d.bridge.Search(ctx, userID, query, memorySearchLimit)
	if err != nil {
		d.logger.Error().Err(err).Str("user_id", userID).Msg("memory query failed")
		return "Memory query failed"
	}
	if len(results) == 0 {
		return "No relevant memories found."
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > memorySearchLimit {
		results = results[:memorySearchLimit]
	}

	points := make([]string, 0, len(results))
	for _, r := range results {
		points = append(points, r.Memory)
	}
	return "Memory summary: " + strings.Join(points, "; ")
}

func argString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argFloat(args map[string]any, key string) float64 {
	if args == nil {
		return 0
	}
	switch v := args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}
