/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import "strings"

// Inbound event types.
const (
	EventSetup         = "setup"
	EventStart         = "start_interaction"
	EventStop          = "stop_interaction"
	EventSessionStatus = "get_session_status"
	EventRealtimeInput = "realtime_input"
	EventText          = "text"
)

// Outbound event types.
const (
	EventConnected          = "connected"
	EventSetupComplete      = "setup_complete"
	EventInteractionStarted = "interaction_started"
	EventInteractionStopped = "interaction_stopped"
	EventStatus             = "session_status"
	EventOutText            = "text"
	EventOutAudio           = "audio"
	EventTranscription      = "transcription"
	EventInterrupted        = "interrupted"
	EventError              = "error"
)

// ErrCodeConnectionLimit tells clients to back off instead of retrying
// immediately.
const ErrCodeConnectionLimit = "CONNECTION_LIMIT_REACHED"

// ClientEvent is the envelope for every inbound client message.
type ClientEvent struct {
	Type string `json:"type"`

	Setup *SetupPayload `json:"setup,omitempty"`

	Location *LocationPayload `json:"location,omitempty"`
	Language string           `json:"language,omitempty"`

	Text string `json:"text,omitempty"`

	Audio          string         `json:"audio,omitempty"` // base64 PCM
	Media          *MediaChunk    `json:"media,omitempty"`
	AudioStreamEnd bool           `json:"audioStreamEnd,omitempty"`
	RealtimeInput  *RealtimeInput `json:"realtime_input,omitempty"`
}

// SetupPayload carries the optional identity and location for a connection.
type SetupPayload struct {
	UserID   string `json:"userId,omitempty"`
	Location string `json:"location,omitempty"`
}

// LocationPayload is the structured location a client may send on start.
type LocationPayload struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// String renders the location as "City, State, Country" with empty parts
// dropped.
func (l *LocationPayload) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.State, l.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// RealtimeInput carries streamed media chunks.
type RealtimeInput struct {
	MediaChunks []MediaChunk `json:"media_chunks"`
}

// MediaChunk is one base64-encoded media fragment.
type MediaChunk struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// ServerEvent is the envelope for every outbound message.
type ServerEvent struct {
	Type string `json:"type"`

	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Status    string `json:"status,omitempty"`
	Location  string `json:"location,omitempty"`

	Text  string `json:"text,omitempty"`
	Audio string `json:"audio,omitempty"` // base64 WAV

	Speaker  string `json:"speaker,omitempty"`
	Finished bool   `json:"finished,omitempty"`

	ActiveSessions int  `json:"activeSessions,omitempty"`
	MaxSessions    int  `json:"maxSessions,omitempty"`
	SessionActive  bool `json:"sessionActive,omitempty"`

	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

func errorEvent(message, code string) ServerEvent {
	return ServerEvent{Type: EventError, Message: message, Code: code}
}

func textEvent(text string) ServerEvent {
	return ServerEvent{Type: EventOutText, Text: text}
}

func audioEvent(base64WAV string) ServerEvent {
	return ServerEvent{Type: EventOutAudio, Audio: base64WAV}
}
