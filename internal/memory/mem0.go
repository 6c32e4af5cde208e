/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Mem0Store talks to the hosted mem0 REST API.
type Mem0Store struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  zerolog.Logger
}

// NewMem0Store creates a client for the mem0 API.
func NewMem0Store(baseURL, apiKey string, logger zerolog.Logger) *Mem0Store {
	return &Mem0Store{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With().Str("component", "mem0").Logger(),
	}
}

type mem0AddRequest struct {
	Messages []Message `json:"messages"`
	UserID   string    `json:"user_id"`
}

type mem0SearchRequest struct {
	Query  string `json:"query"`
	UserID string `json:"user_id"`
	Limit  int    `json:"limit,omitempty"`
}

// Add stores conversation messages as memories.
func (s *Mem0Store) Add(ctx context.Context, userID string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	body, err := s.post(ctx, "/v1/memories/", mem0AddRequest{
		Messages: messages,
		UserID:   userID,
	})
	if err != nil {
		return err
	}
	defer body.Close()

	_, _ = io.Copy(io.Discard, body)
	return nil
}

// Search retrieves memories relevant to a query, scored by the service.
func (s *Mem0Store) Search(ctx context.Context, userID, query string, limit int) ([]Result, error) {
	body, err := s.post(ctx, "/v1/memories/search/", mem0SearchRequest{
		Query:  query,
		UserID: userID,
		Limit:  limit,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var results []Result
	if err := json.NewDecoder(body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return results, nil
}

func (s *Mem0Store) post(ctx context.Context, path string, payload any) (io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mem0 %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("mem0 %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return resp.Body, nil
}
