/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package upstream is the boundary to the hosted conversational model
// service. The gateway core only sees the Client/Session interfaces and the
// ServerEvent tagged union; the Gemini Live implementation lives behind them.
package upstream

import "context"

// Config carries the per-session context merged into the live connection.
type Config struct {
	SystemInstruction string
	Location          string
	Language          string
}

// Client opens live sessions against the model service.
type Client interface {
	Open(ctx context.Context, cfg Config) (Session, error)
}

// Session is one open live connection. Receive blocks until the next batch
// of decoded events or a terminal error; all other methods are sends.
type Session interface {
	SendText(text string) error
	SendAudioChunk(data []byte, mimeType string) error
	SendInlineMedia(data []byte, mimeType string) error
	SignalAudioStreamEnd() error
	SendToolResult(result ToolResult) error
	Receive() ([]ServerEvent, error)
	Close() error
}

// Transcriber produces a transcript for a WAV-encoded utterance.
type Transcriber interface {
	Transcribe(ctx context.Context, wavData []byte) (string, error)
}

// EventKind discriminates the ServerEvent union.
type EventKind int

const (
	// KindInterrupted: the model was cut off mid-reply; pending audio is stale.
	KindInterrupted EventKind = iota
	// KindAudioChunk: a raw PCM response fragment for aggregation.
	KindAudioChunk
	// KindText: a text part of the model turn.
	KindText
	// KindInlineAudio: pre-encoded audio embedded in the model turn,
	// forwarded to the client without aggregation.
	KindInlineAudio
	// KindTranscription: an input or output speech transcription.
	KindTranscription
	// KindTurnComplete: the model finished its turn.
	KindTurnComplete
	// KindToolCall: the model requested one or more local tool executions.
	KindToolCall
	// KindSetupComplete: the live session finished its handshake.
	KindSetupComplete
)

func (k EventKind) String() string {
	switch k {
	case KindInterrupted:
		return "interrupted"
	case KindAudioChunk:
		return "audio_chunk"
	case KindText:
		return "text"
	case KindInlineAudio:
		return "inline_audio"
	case KindTranscription:
		return "transcription"
	case KindTurnComplete:
		return "turn_complete"
	case KindToolCall:
		return "tool_call"
	case KindSetupComplete:
		return "setup_complete"
	default:
		return "unknown"
	}
}

// Speaker identifies which side of the conversation a transcription covers.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ServerEvent is one decoded upstream message aspect. A single wire message
// may decode to several events; the decoder preserves their order and places
// an interruption first so consumers can short-circuit.
type ServerEvent struct {
	Kind EventKind

	// KindAudioChunk / KindInlineAudio
	Audio    []byte
	MIMEType string

	// KindText / KindTranscription
	Text string

	// KindTranscription
	Speaker  Speaker
	Finished bool

	// KindToolCall
	Calls []FunctionCall
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult answers a FunctionCall through the session's tool channel.
type ToolResult struct {
	CallID string
	Name   string
	Result string
}
