/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package upstream

import (
	"testing"

	"google.golang.org/genai"
)

func TestDecodeInterruptedShadowsRestOfMessage(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			Interrupted: true,
			ModelTurn: &genai.Content{
				Parts: []*genai.Part{{Text: "stale reply"}},
			},
			TurnComplete: true,
		},
	}

	events := decodeLiveMessage(msg)
	if len(events) != 1 || events[0].Kind != KindInterrupted {
		t.Fatalf("got %v, want single interrupted event", events)
	}
}

func TestDecodeSplitsAudioByMIMEType(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			ModelTurn: &genai.Content{
				Parts: []*genai.Part{
					{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1}}},
					{InlineData: &genai.Blob{MIMEType: "audio/ogg", Data: []byte{2}}},
					{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{3}}},
				},
			},
		},
	}

	events := decodeLiveMessage(msg)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Kind != KindAudioChunk {
		t.Errorf("pcm part decoded as %v", events[0].Kind)
	}
	if events[1].Kind != KindInlineAudio {
		t.Errorf("ogg part decoded as %v", events[1].Kind)
	}
}

func TestDecodeTurnCompleteOrderedLast(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			OutputTranscription: &genai.Transcription{Text: "hello there", Finished: true},
			ModelTurn: &genai.Content{
				Parts: []*genai.Part{
					{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1}}},
				},
			},
			TurnComplete: true,
		},
	}

	events := decodeLiveMessage(msg)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if last := events[len(events)-1]; last.Kind != KindTurnComplete {
		t.Fatalf("last event is %v, want turn complete", last.Kind)
	}
	if events[0].Kind != KindTranscription || events[0].Speaker != SpeakerAssistant || !events[0].Finished {
		t.Fatalf("transcription decoded wrong: %+v", events[0])
	}
}

func TestDecodeToolCall(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ToolCall: &genai.LiveServerToolCall{
			FunctionCalls: []*genai.FunctionCall{
				{ID: "call-1", Name: "get_directions", Args: map[string]any{"from": "a", "to": "b"}},
			},
		},
	}

	events := decodeLiveMessage(msg)
	if len(events) != 1 || events[0].Kind != KindToolCall {
		t.Fatalf("got %v, want tool call event", events)
	}
	if events[0].Calls[0].Name != "get_directions" {
		t.Fatalf("call name: %q", events[0].Calls[0].Name)
	}
}

func TestDecodeNilMessage(t *testing.T) {
	if events := decodeLiveMessage(nil); events != nil {
		t.Fatalf("got %v, want nil", events)
	}
}
