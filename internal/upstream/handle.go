/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package upstream

import (
	"errors"
	"io"
	"sync"

	"github.com/rs/zerolog"
)

// Handle wraps an open Session for the gateway: sends are fire-and-forget
// (transport errors are logged, never surfaced), inbound messages are pumped
// to the onEvent callback, and Close is idempotent and never fails.
type Handle struct {
	session Session
	onEvent func(ServerEvent)
	logger  zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandle wraps session and starts the receive pump. onEvent is invoked
// sequentially, one event at a time, from a single goroutine.
func NewHandle(session Session, onEvent func(ServerEvent), logger zerolog.Logger) *Handle {
	h := &Handle{
		session: session,
		onEvent: onEvent,
		logger:  logger.With().Str("component", "upstream_handle").Logger(),
		done:    make(chan struct{}),
	}
	go h.pump()
	return h
}

func (h *Handle) pump() {
	for {
		events, err := h.session.Receive()
		if err != nil {
			select {
			case <-h.done:
				// Closed locally; the receive error is expected.
			default:
				if !errors.Is(err, io.EOF) {
					h.logger.Warn().Err(err).Msg("upstream receive failed")
				}
			}
			return
		}
		for _, ev := range events {
			h.onEvent(ev)
		}
	}
}

// SendText forwards a user text turn.
func (h *Handle) SendText(text string) {
	if err := h.session.SendText(text); err != nil {
		h.logger.Error().Err(err).Msg("send text failed")
	}
}

// SendAudioChunk forwards a realtime audio fragment.
func (h *Handle) SendAudioChunk(data []byte, mimeType string) {
	if err := h.session.SendAudioChunk(data, mimeType); err != nil {
		h.logger.Error().Err(err).Str("mime_type", mimeType).Msg("send audio chunk failed")
	}
}

// SendInlineMedia forwards a non-audio media chunk (e.g. an image).
func (h *Handle) SendInlineMedia(data []byte, mimeType string) {
	if err := h.session.SendInlineMedia(data, mimeType); err != nil {
		h.logger.Error().Err(err).Str("mime_type", mimeType).Msg("send inline media failed")
	}
}

// SignalAudioStreamEnd marks the end of the user's audio stream.
func (h *Handle) SignalAudioStreamEnd() {
	if err := h.session.SignalAudioStreamEnd(); err != nil {
		h.logger.Error().Err(err).Msg("signal audio stream end failed")
	}
}

// SendToolResult returns a tool response to the model.
func (h *Handle) SendToolResult(result ToolResult) {
	if err := h.session.SendToolResult(result); err != nil {
		h.logger.Error().Err(err).Str("tool", result.Name).Msg("send tool result failed")
	}
}

// Close tears down the underlying session. Safe to call more than once.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		if err := h.session.Close(); err != nil {
			h.logger.Warn().Err(err).Msg("upstream session close failed")
		}
	})
}
