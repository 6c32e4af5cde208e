/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gateway bridges browser websocket traffic to the upstream model
// service: one session per connection, a global cap on open upstream
// sessions, audio turn aggregation, and tool-call dispatch.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wayfarer/internal/audio"
	"github.com/friendsincode/wayfarer/internal/config"
	"github.com/friendsincode/wayfarer/internal/memory"
	"github.com/friendsincode/wayfarer/internal/telemetry"
	"github.com/friendsincode/wayfarer/internal/tools"
	"github.com/friendsincode/wayfarer/internal/upstream"
)

const (
	openTimeout     = 30 * time.Second
	toolCallTimeout = 30 * time.Second
)

var (
	errCapacity         = errors.New("connection limit reached")
	errCreationInFlight = errors.New("session creation in progress")
	errCreationFailed   = errors.New("upstream session creation failed")
	errAlreadyActive    = errors.New("interaction already active")
	errConnectionGone   = errors.New("connection closed during session creation")
)

// Manager owns all connection sessions and the global capacity counter.
type Manager struct {
	cfg         *config.Config
	persona     config.Persona
	client      upstream.Client
	transcriber upstream.Transcriber
	dispatcher  *tools.Dispatcher
	bridge      *memory.Bridge
	counter     *SessionCounter
	aggregator  *Aggregator
	logger      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // by connection id
}

// NewManager wires the gateway core.
func NewManager(
	cfg *config.Config,
	persona config.Persona,
	client upstream.Client,
	transcriber upstream.Transcriber,
	dispatcher *tools.Dispatcher,
	bridge *memory.Bridge,
	counter *SessionCounter,
	aggregator *Aggregator,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		cfg:         cfg,
		persona:     persona,
		client:      client,
		transcriber: transcriber,
		dispatcher:  dispatcher,
		bridge:      bridge,
		counter:     counter,
		aggregator:  aggregator,
		logger:      logger.With().Str("component", "gateway").Logger(),
		sessions:    make(map[string]*Session),
	}
}

// HandleConnect allocates session state for a new connection. No upstream
// session is opened yet, so an idle tab consumes no quota.
func (m *Manager) HandleConnect(connectionID string, send func(ServerEvent)) *Session {
	sess := newSession(connectionID, m.cfg.FallbackUserID, send)

	m.mu.Lock()
	m.sessions[connectionID] = sess
	m.mu.Unlock()

	m.logger.Info().
		Str("connection_id", connectionID).
		Str("session_id", sess.ID).
		Msg("client connected")

	send(ServerEvent{
		Type:      EventConnected,
		SessionID: sess.ID,
		UserID:    sess.UserID(),
		Status:    "pending",
	})
	return sess
}

// HandleDisconnect tears down a connection's session and audits the
// global counter.
func (m *Manager) HandleDisconnect(sess *Session) {
	m.mu.Lock()
	delete(m.sessions, sess.ConnectionID)
	m.mu.Unlock()

	sess.mu.Lock()
	handle := sess.handle
	sess.handle = nil
	sess.clearAudioStateLocked()
	sess.mu.Unlock()

	if handle != nil {
		handle.Close()
		m.counter.Release()
	}

	m.logger.Info().
		Str("connection_id", sess.ConnectionID).
		Str("session_id", sess.ID).
		Msg("client disconnected")

	m.auditCounter()
}

// HandleSetup resolves the connection's identity. Idempotent; no upstream
// call is made.
func (m *Manager) HandleSetup(sess *Session, setup *SetupPayload) {
	sess.mu.Lock()
	if setup != nil {
		if setup.UserID != "" {
			sess.userID = setup.UserID
		}
		if setup.Location != "" {
			sess.location = setup.Location
		}
	}
	userID, location := sess.userID, sess.location
	sess.mu.Unlock()

	m.logger.Info().
		Str("session_id", sess.ID).
		Str("user_id", userID).
		Str("location", location).
		Msg("session setup")

	sess.send(ServerEvent{
		Type:     EventSetupComplete,
		UserID:   userID,
		Location: location,
		Status:   "waiting_for_interaction",
	})
}

// HandleStart explicitly opens the upstream session.
func (m *Manager) HandleStart(sess *Session, location *LocationPayload, language string) {
	sess.mu.Lock()
	if loc := location.String(); loc != "" {
		sess.location = loc
	}
	if language != "" {
		sess.language = language
	}
	sess.mu.Unlock()

	switch err := m.startUpstream(sess); {
	case err == nil:
	case errors.Is(err, errAlreadyActive):
		sess.send(ServerEvent{Type: EventInteractionStarted, Status: "already_active"})
	case errors.Is(err, errCreationInFlight):
		sess.send(ServerEvent{Type: EventInteractionStarted, Status: "creation_in_progress"})
	}
	// Capacity and creation failures already emitted an error event; a
	// connection gone mid-creation has nobody left to notify.
}

// HandleStop closes the upstream session if one exists.
func (m *Manager) HandleStop(sess *Session) {
	sess.mu.Lock()
	handle := sess.handle
	if handle == nil {
		// A creation still awaiting its open call must not resurrect the
		// interaction after this stop.
		if sess.creationInFlight {
			sess.stopRequested = true
		}
		sess.mu.Unlock()
		sess.send(ServerEvent{Type: EventInteractionStopped, Status: "not_active"})
		return
	}
	sess.handle = nil
	sess.clearAudioStateLocked()
	sess.mu.Unlock()

	handle.Close()
	m.counter.Release()

	m.logger.Info().Str("session_id", sess.ID).Msg("interaction stopped")
	sess.send(ServerEvent{Type: EventInteractionStopped, Status: "stopped"})
}

// HandleStatus reports the global and per-connection session state.
func (m *Manager) HandleStatus(sess *Session) {
	sess.send(ServerEvent{
		Type:           EventStatus,
		SessionID:      sess.ID,
		UserID:         sess.UserID(),
		SessionActive:  sess.Active(),
		ActiveSessions: m.counter.Active(),
		MaxSessions:    m.counter.Max(),
	})
}

// HandleText forwards a text turn, opening the upstream session on demand.
func (m *Manager) HandleText(sess *Session, text string) {
	if text == "" {
		return
	}
	if !m.ensureUpstream(sess) {
		return
	}

	sess.mu.Lock()
	sess.conversation = append(sess.conversation, memory.Message{Role: "user", Content: text})
	handle := sess.handle
	sess.mu.Unlock()

	if handle != nil {
		handle.SendText(text)
	}
}

// HandleRealtimeInput forwards streamed media, opening the upstream
// session on demand.
func (m *Manager) HandleRealtimeInput(sess *Session, ev *ClientEvent) {
	if !m.ensureUpstream(sess) {
		return
	}

	sess.mu.Lock()
	handle := sess.handle
	sess.mu.Unlock()
	if handle == nil {
		return
	}

	if ev.AudioStreamEnd {
		handle.SignalAudioStreamEnd()
	}
	if ev.Audio != "" {
		m.forwardChunk(sess, handle, MediaChunk{MIMEType: "audio/pcm", Data: ev.Audio})
	}
	if ev.Media != nil {
		m.forwardChunk(sess, handle, *ev.Media)
	}
	if ev.RealtimeInput != nil {
		for _, chunk := range ev.RealtimeInput.MediaChunks {
			m.forwardChunk(sess, handle, chunk)
		}
	}
}

// forwardChunk sends one media chunk upstream and accumulates raw user
// audio for backup transcription.
func (m *Manager) forwardChunk(sess *Session, handle *upstream.Handle, chunk MediaChunk) {
	switch {
	case chunk.MIMEType == "audio/pcm" || chunk.MIMEType == "audio/webm":
		data := audio.DecodeBase64(chunk.Data)
		if data == nil {
			m.logger.Warn().Str("session_id", sess.ID).Msg("dropping undecodable audio chunk")
			return
		}

		mime := chunk.MIMEType
		if mime == "audio/pcm" {
			mime = fmt.Sprintf("audio/pcm;rate=%d", audio.InputSampleRate)
		}
		handle.SendAudioChunk(data, mime)

		sess.mu.Lock()
		if sess.accumulateUserAudio {
			sess.hasUserAudio = true
			sess.userAudio = append(sess.userAudio, data...)
		}
		sess.mu.Unlock()

	case strings.HasPrefix(chunk.MIMEType, "image/"):
		data := audio.DecodeBase64(chunk.Data)
		if data == nil {
			return
		}
		sess.mu.Lock()
		sess.conversation = append(sess.conversation, memory.Message{Role: "user", Content: "[Image shared by user]"})
		sess.mu.Unlock()
		handle.SendInlineMedia(data, chunk.MIMEType)

	default:
		m.logger.Debug().Str("mime_type", chunk.MIMEType).Msg("ignoring unsupported media chunk")
	}
}

// ensureUpstream opens the session on demand for realtime/text input.
// Racing inputs during creation are dropped (at-most-once).
func (m *Manager) ensureUpstream(sess *Session) bool {
	if sess.Active() {
		return true
	}
	err := m.startUpstream(sess)
	if err == nil || errors.Is(err, errAlreadyActive) {
		return true
	}
	return false
}

// startUpstream reserves capacity and opens the upstream session. Capacity
// is reserved synchronously before the slow open call so that concurrent
// starts across connections are throttled correctly; the reservation is
// released on failure.
func (m *Manager) startUpstream(sess *Session) error {
	sess.mu.Lock()
	if sess.handle != nil {
		sess.mu.Unlock()
		return errAlreadyActive
	}
	if sess.creationInFlight {
		sess.mu.Unlock()
		return errCreationInFlight
	}
	if !m.counter.TryAcquire() {
		sess.mu.Unlock()
		telemetry.UpstreamSessionsRejected.Inc()
		m.logger.Warn().
			Str("session_id", sess.ID).
			Int("active", m.counter.Active()).
			Int("max", m.counter.Max()).
			Msg("session rejected, capacity reached")
		sess.send(errorEvent(
			fmt.Sprintf("All %d assistant sessions are in use. Please try again in a moment.", m.counter.Max()),
			ErrCodeConnectionLimit,
		))
		return errCapacity
	}
	sess.creationInFlight = true
	sess.stopRequested = false
	location, language := sess.location, sess.language
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	upSession, err := m.client.Open(ctx, upstream.Config{
		SystemInstruction: m.persona.SystemInstruction,
		Location:          location,
		Language:          language,
	})

	sess.mu.Lock()
	sess.creationInFlight = false
	if err != nil {
		sess.mu.Unlock()
		m.counter.Release()
		m.logger.Error().Err(err).Str("session_id", sess.ID).Msg("failed to open upstream session")
		sess.send(errorEvent("Failed to start AI session. Please try again.", ""))
		return errCreationFailed
	}

	// The open call may have outlived the connection: a disconnect removed
	// the session from the registry, or a stop arrived mid-creation. Either
	// way the fresh upstream session must be discarded, not installed, or
	// its capacity slot leaks forever.
	m.mu.Lock()
	live := m.sessions[sess.ConnectionID] == sess
	m.mu.Unlock()
	if !live || sess.stopRequested {
		sess.stopRequested = false
		sess.mu.Unlock()
		if cerr := upSession.Close(); cerr != nil {
			m.logger.Warn().Err(cerr).Str("session_id", sess.ID).Msg("closing orphaned upstream session")
		}
		m.counter.Release()
		m.logger.Info().Str("session_id", sess.ID).Msg("discarded upstream session for closed connection")
		return errConnectionGone
	}

	sess.handle = upstream.NewHandle(upSession, func(ev upstream.ServerEvent) {
		m.handleUpstreamEvent(sess, ev)
	}, m.logger.With().Str("session_id", sess.ID).Logger())
	sess.mu.Unlock()

	m.logger.Info().
		Str("session_id", sess.ID).
		Str("location", location).
		Msg("upstream session opened")

	sess.send(ServerEvent{Type: EventInteractionStarted, Status: "active", SessionID: sess.ID})
	sess.send(textEvent(m.welcome(location)))
	return nil
}

func (m *Manager) welcome(location string) string {
	if location != "" {
		return fmt.Sprintf(m.persona.GreetingWithLocation, location)
	}
	return m.persona.Greeting
}

// handleUpstreamEvent routes one decoded upstream event.
func (m *Manager) handleUpstreamEvent(sess *Session, ev upstream.ServerEvent) {
	switch ev.Kind {
	case upstream.KindInterrupted:
		sess.mu.Lock()
		sess.pendingAudio = nil
		sess.aggregationInFlight = false
		sess.aggregationGen++
		sess.turnBoundary = false
		sess.mu.Unlock()
		sess.send(ServerEvent{Type: EventInterrupted})

	case upstream.KindAudioChunk:
		sess.mu.Lock()
		sess.hasAssistantAudio = true
		sess.assistantAudio = append(sess.assistantAudio, ev.Audio...)
		sess.mu.Unlock()
		m.aggregator.push(sess, ev.Audio)

	case upstream.KindText:
		sess.mu.Lock()
		sess.conversation = append(sess.conversation, memory.Message{Role: "assistant", Content: ev.Text})
		sess.mu.Unlock()
		sess.send(textEvent(ev.Text))

	case upstream.KindInlineAudio:
		// Already containerized audio bypasses aggregation.
		sess.send(audioEvent(audio.EncodeBase64(ev.Audio)))

	case upstream.KindTranscription:
		sess.send(ServerEvent{
			Type:     EventTranscription,
			Speaker:  string(ev.Speaker),
			Text:     ev.Text,
			Finished: ev.Finished,
		})

	case upstream.KindTurnComplete:
		m.handleTurnComplete(sess)

	case upstream.KindToolCall:
		m.handleToolCalls(sess, ev.Calls)

	case upstream.KindSetupComplete:
		m.logger.Debug().Str("session_id", sess.ID).Msg("upstream session setup complete")
	}
}

// handleToolCalls dispatches each call and returns non-nil results
// upstream. A nil result means the model handles the call itself.
func (m *Manager) handleToolCalls(sess *Session, calls []upstream.FunctionCall) {
	ctx, cancel := context.WithTimeout(context.Background(), toolCallTimeout)
	defer cancel()

	sess.mu.Lock()
	handle := sess.handle
	sess.mu.Unlock()

	for _, call := range calls {
		result := m.dispatcher.Dispatch(ctx, call, sess.UserID())
		if result != nil && handle != nil {
			handle.SendToolResult(*result)
		}
	}
}

// handleTurnComplete recovers both utterances of the finished turn,
// persists them fire-and-forget, and resets all per-turn state. The reset
// always runs, whatever transcription did.
func (m *Manager) handleTurnComplete(sess *Session) {
	sess.mu.Lock()
	// Let a waiting aggregation cycle flush before the reset below.
	sess.turnBoundary = true
	userAudio := sess.userAudio
	hasUser := sess.hasUserAudio && len(userAudio) > 0
	assistantAudio := sess.assistantAudio
	hasAssistant := sess.hasAssistantAudio && len(assistantAudio) > 0
	turnLog := sess.conversation
	sess.conversation = nil
	userID := sess.userID
	sess.mu.Unlock()

	var userText, assistantText string
	if hasUser {
		userText = m.transcribe(sess, userAudio, audio.InputSampleRate, "User")
	}
	if hasAssistant {
		assistantText = m.transcribe(sess, assistantAudio, audio.OutputSampleRate, "Assistant")
		if assistantText != "" && !isTranscriptionSentinel(assistantText) {
			sess.send(textEvent(assistantText))
		}
	}

	messages := turnLog
	if userText != "" && assistantText != "" {
		messages = append(messages,
			memory.Message{Role: "user", Content: userText},
			memory.Message{Role: "assistant", Content: assistantText},
		)
	}
	if hasBothRoles(messages) {
		m.bridge.PersistAsync(userID, messages)
		m.logger.Debug().Str("session_id", sess.ID).Int("messages", len(messages)).Msg("turn persisted")
	} else {
		m.logger.Debug().Str("session_id", sess.ID).Msg("skipping memory update, incomplete turn")
	}

	sess.mu.Lock()
	sess.hasUserAudio = false
	sess.userAudio = nil
	sess.hasAssistantAudio = false
	sess.assistantAudio = nil
	sess.accumulateUserAudio = true
	// A cycle that is still flushing owns the pending queue; it clears the
	// queue and flags itself once it drains.
	if !sess.aggregationInFlight {
		sess.pendingAudio = nil
		sess.turnBoundary = false
	}
	sess.mu.Unlock()
}

// transcribe converts raw PCM to WAV and runs the backup transcription,
// substituting sentinels so turn completion proceeds uniformly.
func (m *Manager) transcribe(sess *Session, pcm []byte, sampleRate int, speaker string) string {
	wav, err := audio.PCMToWAV(pcm, sampleRate)
	if err != nil {
		m.logger.Error().Err(err).Str("session_id", sess.ID).Msg("failed to encode turn audio")
		return speaker + " audio could not be processed."
	}

	ctx, cancel := context.WithTimeout(context.Background(), toolCallTimeout)
	defer cancel()

	text, err := m.transcriber.Transcribe(ctx, wav)
	if err != nil {
		m.logger.Error().Err(err).Str("session_id", sess.ID).Msg("transcription failed")
		return speaker + " audio processing error."
	}
	return text
}

func isTranscriptionSentinel(text string) bool {
	return text == "<Not recognizable>" ||
		text == "User audio could not be processed." ||
		text == "Assistant audio could not be processed." ||
		text == "User audio processing error." ||
		text == "Assistant audio processing error."
}

func hasBothRoles(messages []memory.Message) bool {
	var user, assistant bool
	for _, msg := range messages {
		switch msg.Role {
		case "user":
			user = true
		case "assistant":
			assistant = true
		}
	}
	return user && assistant
}

// auditCounter compares the counter against the actual number of live
// handles. Drift means a missed increment or decrement path; log it, do
// not mask it by resetting.
func (m *Manager) auditCounter() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	live := 0
	for _, sess := range sessions {
		if sess.Active() {
			live++
		}
	}

	if active := m.counter.Active(); active != live {
		m.logger.Error().
			Int("counter", active).
			Int("live_handles", live).
			Msg("session counter drift detected")
	}
}
