/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"sync"

	"github.com/google/uuid"

	"github.com/friendsincode/wayfarer/internal/memory"
	"github.com/friendsincode/wayfarer/internal/upstream"
)

// Session is the per-connection state. The transport layer owns exactly one
// Session per socket; all fields behind mu are touched by the read loop, the
// upstream event pump, and aggregation cycles.
type Session struct {
	ID           string
	ConnectionID string

	send func(ServerEvent)

	mu       sync.Mutex
	userID   string
	location string
	language string

	handle           *upstream.Handle
	creationInFlight bool
	stopRequested    bool // stop arrived while creation was awaiting its open call

	conversation []memory.Message

	// Assistant audio streaming state for the current turn.
	pendingAudio        [][]byte
	aggregationInFlight bool
	aggregationGen      uint64
	turnBoundary        bool

	// Raw per-turn accumulation for backup transcription.
	hasUserAudio        bool
	userAudio           []byte
	hasAssistantAudio   bool
	assistantAudio      []byte
	accumulateUserAudio bool
}

func newSession(connectionID, fallbackUserID string, send func(ServerEvent)) *Session {
	return &Session{
		ID:                  uuid.NewString(),
		ConnectionID:        connectionID,
		send:                send,
		userID:              fallbackUserID,
		accumulateUserAudio: true,
	}
}

// UserID returns the resolved user identity.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Active reports whether an upstream session is open.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// clearAudioStateLocked resets all per-turn audio state. Callers hold mu.
// Incrementing the generation makes any in-flight aggregation cycle
// abandon its work instead of emitting stale audio.
func (s *Session) clearAudioStateLocked() {
	s.pendingAudio = nil
	s.aggregationInFlight = false
	s.aggregationGen++
	s.turnBoundary = false
	s.hasUserAudio = false
	s.userAudio = nil
	s.hasAssistantAudio = false
	s.assistantAudio = nil
	s.accumulateUserAudio = true
}
