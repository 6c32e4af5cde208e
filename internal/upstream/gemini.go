/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package upstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// GeminiConfig selects the models the adapter talks to.
type GeminiConfig struct {
	APIKey          string
	LiveModel       string
	TranscribeModel string
}

// GeminiClient implements Client and Transcriber against the Gemini API.
type GeminiClient struct {
	client *genai.Client
	cfg    GeminiConfig
	logger zerolog.Logger
}

// NewGeminiClient constructs the API client. No connection is opened until Open.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger zerolog.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "gemini").Logger(),
	}, nil
}

// Open connects a live session with audio responses, input/output
// transcription, and the tool surface enabled.
func (c *GeminiClient) Open(ctx context.Context, cfg Config) (Session, error) {
	instruction := cfg.SystemInstruction
	if cfg.Location != "" {
		instruction += locationContext(cfg.Location)
	}
	if cfg.Language != "" {
		instruction += fmt.Sprintf("\n\nRespond in %s unless the user asks otherwise.", cfg.Language)
	}

	liveCfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: instruction}},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		Tools:                    liveTools(),
	}

	session, err := c.client.Live.Connect(ctx, c.cfg.LiveModel, liveCfg)
	if err != nil {
		return nil, fmt.Errorf("connect live session: %w", err)
	}

	c.logger.Info().Str("model", c.cfg.LiveModel).Msg("live session opened")
	return &geminiSession{session: session}, nil
}

const transcribePrompt = `Generate a transcript of the speech.
Please do not include any other text in the response.
If you cannot hear the speech, please only say '<Not recognizable>'.`

// Transcribe runs a one-shot transcription of a WAV utterance.
func (c *GeminiClient) Transcribe(ctx context.Context, wavData []byte) (string, error) {
	if len(wavData) == 0 {
		return "", fmt.Errorf("no audio data")
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{
			{Text: transcribePrompt},
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: wavData}},
		},
	}}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.TranscribeModel, contents, nil)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("empty transcription response")
	}
	return text, nil
}

func locationContext(location string) string {
	return fmt.Sprintf(`

CURRENT USER LOCATION: %s

LOCATION-SPECIFIC GUIDANCE:
- Use Google Search to find current events, attractions, and activities in this area
- When you need more specific location details, ask the user politely and explain why
- Consider local customs, languages, and cultural norms for this region
- Suggest optimal times to visit attractions based on the current season
- Recommend authentic local experiences and dining options`, location)
}

// liveTools declares the model-side tool surface: the built-in search and
// code execution capabilities plus the locally dispatched functions.
func liveTools() []*genai.Tool {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}

	return []*genai.Tool{
		{GoogleSearch: &genai.GoogleSearch{}},
		{CodeExecution: &genai.ToolCodeExecution{}},
		{FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        "query_memory",
				Description: "Query the memory database to retrieve relevant past interactions with the user.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"query": str("The query string to search the memory."),
					},
					Required: []string{"query"},
				},
			},
			{
				Name:        "get_nearby_attractions",
				Description: "Get nearby tourist attractions and points of interest",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"location": str("The location to search attractions near"),
						"radius":   {Type: genai.TypeNumber, Description: "Search radius in kilometers (default: 5)"},
					},
					Required: []string{"location"},
				},
			},
			{
				Name:        "get_directions",
				Description: "Get directions between two locations",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"from": str("Starting location"),
						"to":   str("Destination location"),
						"mode": {
							Type:        genai.TypeString,
							Description: "Transportation mode: walking, driving, transit, cycling",
							Enum:        []string{"walking", "driving", "transit", "cycling"},
						},
					},
					Required: []string{"from", "to"},
				},
			},
			{
				Name:        "get_dining_recommendations",
				Description: "Get restaurant and dining recommendations for a location",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"location": str("The location to search restaurants in"),
						"cuisine":  str("Specific cuisine type (optional)"),
					},
					Required: []string{"location"},
				},
			},
			{
				Name:        "get_transportation_options",
				Description: "Get various transportation options between two locations",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"from": str("Starting location"),
						"to":   str("Destination location"),
					},
					Required: []string{"from", "to"},
				},
			},
			{
				Name:        "save_bookmark",
				Description: "Save a place, dish, tip, or memory the user wants to remember",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"content": str("What the user wants to remember, in their own words"),
						"url":     str("Related URL (optional)"),
					},
					Required: []string{"content"},
				},
			},
			{
				Name:        "get_bookmarks",
				Description: "List everything the user has bookmarked so far",
				Parameters: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{},
				},
			},
		}},
	}
}

// geminiSession adapts *genai.Session to the Session interface, decoding
// wire messages into the ServerEvent union at the boundary.
type geminiSession struct {
	session *genai.Session
}

func (s *geminiSession) SendText(text string) error {
	return s.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: text}},
		}},
		TurnComplete: genai.Ptr(true),
	})
}

func (s *geminiSession) SendAudioChunk(data []byte, mimeType string) error {
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (s *geminiSession) SendInlineMedia(data []byte, mimeType string) error {
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (s *geminiSession) SignalAudioStreamEnd() error {
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
}

func (s *geminiSession) SendToolResult(result ToolResult) error {
	return s.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       result.CallID,
			Name:     result.Name,
			Response: map[string]any{"result": result.Result},
		}},
	})
}

func (s *geminiSession) Receive() ([]ServerEvent, error) {
	msg, err := s.session.Receive()
	if err != nil {
		return nil, err
	}
	return decodeLiveMessage(msg), nil
}

func (s *geminiSession) Close() error {
	return s.session.Close()
}

// decodeLiveMessage flattens one wire message into ordered events. An
// interruption is decoded alone: everything else in that message refers to
// the reply that was just cut off.
func decodeLiveMessage(msg *genai.LiveServerMessage) []ServerEvent {
	if msg == nil {
		return nil
	}

	var events []ServerEvent

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			return []ServerEvent{{Kind: KindInterrupted}}
		}

		if tr := sc.InputTranscription; tr != nil && tr.Text != "" {
			events = append(events, ServerEvent{
				Kind:     KindTranscription,
				Speaker:  SpeakerUser,
				Text:     tr.Text,
				Finished: tr.Finished,
			})
		}
		if tr := sc.OutputTranscription; tr != nil && tr.Text != "" {
			events = append(events, ServerEvent{
				Kind:     KindTranscription,
				Speaker:  SpeakerAssistant,
				Text:     tr.Text,
				Finished: tr.Finished,
			})
		}

		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					events = append(events, ServerEvent{Kind: KindText, Text: part.Text})
				}
				if blob := part.InlineData; blob != nil && strings.HasPrefix(blob.MIMEType, "audio/") {
					kind := KindInlineAudio
					// Raw PCM fragments go through aggregation; anything
					// already containerized plays directly.
					if strings.HasPrefix(blob.MIMEType, "audio/pcm") {
						kind = KindAudioChunk
					}
					events = append(events, ServerEvent{
						Kind:     kind,
						Audio:    blob.Data,
						MIMEType: blob.MIMEType,
					})
				}
			}
		}
	}

	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		calls := make([]FunctionCall, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		events = append(events, ServerEvent{Kind: KindToolCall, Calls: calls})
	}

	if msg.SetupComplete != nil {
		events = append(events, ServerEvent{Kind: KindSetupComplete})
	}

	if sc := msg.ServerContent; sc != nil && sc.TurnComplete {
		events = append(events, ServerEvent{Kind: KindTurnComplete})
	}

	return events
}
