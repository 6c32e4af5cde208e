/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/wayfarer/internal/audio"
	"github.com/friendsincode/wayfarer/internal/config"
	"github.com/friendsincode/wayfarer/internal/memory"
	"github.com/friendsincode/wayfarer/internal/models"
	"github.com/friendsincode/wayfarer/internal/tools"
	"github.com/friendsincode/wayfarer/internal/upstream"
)

// fakeUpstreamSession records sends and blocks Receive until closed.
type fakeUpstreamSession struct {
	mu      sync.Mutex
	texts   []string
	chunks  [][]byte
	results []upstream.ToolResult

	closed  chan struct{}
	closeMu sync.Once
}

func newFakeUpstreamSession() *fakeUpstreamSession {
	return &fakeUpstreamSession{closed: make(chan struct{})}
}

func (f *fakeUpstreamSession) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeUpstreamSession) SendAudioChunk(data []byte, mimeType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, data)
	return nil
}

func (f *fakeUpstreamSession) SendInlineMedia(data []byte, mimeType string) error { return nil }
func (f *fakeUpstreamSession) SignalAudioStreamEnd() error                        { return nil }

func (f *fakeUpstreamSession) SendToolResult(result upstream.ToolResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeUpstreamSession) Receive() ([]upstream.ServerEvent, error) {
	<-f.closed
	return nil, errors.New("use of closed network connection")
}

func (f *fakeUpstreamSession) Close() error {
	f.closeMu.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeUpstreamSession) waitClosed(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(timeout):
		t.Fatal("upstream session never closed")
	}
}

func (f *fakeUpstreamSession) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// fakeUpstreamClient scripts Open behavior.
type fakeUpstreamClient struct {
	opens   int32
	failure error
	gate    chan struct{} // when set, Open blocks until the gate closes

	mu       sync.Mutex
	sessions []*fakeUpstreamSession
}

func (c *fakeUpstreamClient) Open(ctx context.Context, cfg upstream.Config) (upstream.Session, error) {
	atomic.AddInt32(&c.opens, 1)
	if c.gate != nil {
		<-c.gate
	}
	if c.failure != nil {
		return nil, c.failure
	}
	sess := newFakeUpstreamSession()
	c.mu.Lock()
	c.sessions = append(c.sessions, sess)
	c.mu.Unlock()
	return sess, nil
}

func (c *fakeUpstreamClient) openCount() int {
	return int(atomic.LoadInt32(&c.opens))
}

func (c *fakeUpstreamClient) lastSession() *fakeUpstreamSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sessions) == 0 {
		return nil
	}
	return c.sessions[len(c.sessions)-1]
}

type fakeTranscriber struct {
	text string
	err  error
}

func (t fakeTranscriber) Transcribe(ctx context.Context, wavData []byte) (string, error) {
	return t.text, t.err
}

// eventSink collects outbound events.
type eventSink struct {
	mu     sync.Mutex
	events []ServerEvent
}

func (s *eventSink) send(ev ServerEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) byType(eventType string) []ServerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ServerEvent
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (s *eventSink) waitFor(t *testing.T, eventType string, timeout time.Duration) ServerEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if evs := s.byType(eventType); len(evs) > 0 {
			return evs[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %q event within %v", eventType, timeout)
	return ServerEvent{}
}

func testManager(t *testing.T, client upstream.Client, transcriber upstream.Transcriber, maxSessions int) *Manager {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Bookmark{}, &models.MemoryRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bridge := memory.NewBridge(nil, memory.NewFallbackStore(db, zerolog.Nop()), zerolog.Nop())
	dispatcher := tools.NewDispatcher(bridge, tools.NewGuide(nil, zerolog.Nop()), tools.NewBookmarks(bridge, zerolog.Nop()), zerolog.Nop())

	cfg := &config.Config{
		MaxSessions:    maxSessions,
		FallbackUserID: "wayfarer_shared_user",
	}

	return NewManager(
		cfg,
		config.DefaultPersona(),
		client,
		transcriber,
		dispatcher,
		bridge,
		NewSessionCounter(maxSessions),
		NewAggregator(150*time.Millisecond, 5*time.Millisecond, zerolog.Nop()),
		zerolog.Nop(),
	)
}

func connect(m *Manager, id string) (*Session, *eventSink) {
	sink := &eventSink{}
	sess := m.HandleConnect(id, sink.send)
	return sess, sink
}

func TestConnectEmitsPendingAck(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")

	ev := sink.waitFor(t, EventConnected, time.Second)
	if ev.SessionID != sess.ID || ev.Status != "pending" {
		t.Fatalf("connected ack: %+v", ev)
	}
	if m.counter.Active() != 0 {
		t.Fatal("connect must not consume quota")
	}
}

func TestSetupResolvesUserID(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")

	m.HandleSetup(sess, &SetupPayload{UserID: "traveler-7", Location: "Lisbon"})
	ev := sink.waitFor(t, EventSetupComplete, time.Second)
	if ev.UserID != "traveler-7" || ev.Location != "Lisbon" {
		t.Fatalf("setup ack: %+v", ev)
	}

	// Without a client-supplied identity the fallback applies.
	sess2, sink2 := connect(m, "c2")
	m.HandleSetup(sess2, &SetupPayload{})
	ev2 := sink2.waitFor(t, EventSetupComplete, time.Second)
	if ev2.UserID != "wayfarer_shared_user" {
		t.Fatalf("fallback user: %+v", ev2)
	}
}

func TestStartOpensUpstreamAndGreets(t *testing.T) {
	client := &fakeUpstreamClient{}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")

	m.HandleStart(sess, &LocationPayload{City: "Porto", Country: "Portugal"}, "")

	started := sink.waitFor(t, EventInteractionStarted, time.Second)
	if started.Status != "active" {
		t.Fatalf("start status: %+v", started)
	}
	greeting := sink.waitFor(t, EventOutText, time.Second)
	if !strings.Contains(greeting.Text, "Porto, Portugal") {
		t.Fatalf("greeting not location-aware: %q", greeting.Text)
	}
	if client.openCount() != 1 || m.counter.Active() != 1 {
		t.Fatalf("opens=%d active=%d", client.openCount(), m.counter.Active())
	}
}

func TestCapacityRejection(t *testing.T) {
	client := &fakeUpstreamClient{}
	m := testManager(t, client, fakeTranscriber{}, 3)

	for _, id := range []string{"c1", "c2", "c3"} {
		sess, _ := connect(m, id)
		m.HandleStart(sess, nil, "")
	}
	if m.counter.Active() != 3 {
		t.Fatalf("active: %d", m.counter.Active())
	}

	sess4, sink4 := connect(m, "c4")
	m.HandleStart(sess4, nil, "")

	ev := sink4.waitFor(t, EventError, time.Second)
	if ev.Code != ErrCodeConnectionLimit {
		t.Fatalf("error code: %q", ev.Code)
	}
	if m.counter.Active() != 3 {
		t.Fatalf("counter moved on rejection: %d", m.counter.Active())
	}
	if client.openCount() != 3 {
		t.Fatalf("rejected start reached upstream: %d opens", client.openCount())
	}
}

func TestStopReleasesCapacity(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{}, 1)
	sess, sink := connect(m, "c1")

	m.HandleStart(sess, nil, "")
	if m.counter.Active() != 1 {
		t.Fatal("session not counted")
	}

	m.HandleStop(sess)
	ev := sink.byType(EventInteractionStopped)
	if len(ev) != 1 || ev[0].Status != "stopped" {
		t.Fatalf("stop ack: %+v", ev)
	}
	if m.counter.Active() != 0 {
		t.Fatal("capacity not released")
	}

	// Freed slot is immediately reusable by another connection.
	sess2, sink2 := connect(m, "c2")
	m.HandleStart(sess2, nil, "")
	if sink2.waitFor(t, EventInteractionStarted, time.Second).Status != "active" {
		t.Fatal("freed capacity not usable")
	}
}

func TestIdempotentStop(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")

	m.HandleStop(sess)
	m.HandleStop(sess)

	stops := sink.byType(EventInteractionStopped)
	if len(stops) != 2 {
		t.Fatalf("got %d stop acks", len(stops))
	}
	for _, ev := range stops {
		if ev.Status != "not_active" {
			t.Fatalf("stop status: %+v", ev)
		}
	}
	if m.counter.Active() != 0 {
		t.Fatal("counter changed by no-op stop")
	}
}

func TestNoDoubleCreate(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeUpstreamClient{gate: gate}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func() {
			defer wg.Done()
			m.HandleStart(sess, nil, "")
		}()
	}

	// Let both starts reach the creation path, then open the gate.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	if client.openCount() != 1 {
		t.Fatalf("opens: %d, want 1", client.openCount())
	}
	if m.counter.Active() != 1 {
		t.Fatalf("counter: %d, want 1", m.counter.Active())
	}

	starts := sink.byType(EventInteractionStarted)
	var inProgress bool
	for _, ev := range starts {
		if ev.Status == "creation_in_progress" {
			inProgress = true
		}
	}
	if !inProgress {
		t.Fatalf("racing start not short-circuited: %+v", starts)
	}
}

func TestStartWhileActiveShortCircuits(t *testing.T) {
	client := &fakeUpstreamClient{}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")

	m.HandleStart(sess, nil, "")
	m.HandleStart(sess, nil, "")

	if client.openCount() != 1 {
		t.Fatalf("opens: %d", client.openCount())
	}
	starts := sink.byType(EventInteractionStarted)
	if len(starts) != 2 || starts[1].Status != "already_active" {
		t.Fatalf("second start: %+v", starts)
	}
}

func TestCreationFailureReleasesCapacity(t *testing.T) {
	client := &fakeUpstreamClient{failure: errors.New("upstream down")}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")

	m.HandleStart(sess, nil, "")

	ev := sink.waitFor(t, EventError, time.Second)
	if ev.Code == ErrCodeConnectionLimit {
		t.Fatalf("wrong error class: %+v", ev)
	}
	if m.counter.Active() != 0 {
		t.Fatal("failed creation leaked a slot")
	}
	if sess.Active() {
		t.Fatal("session marked active after failure")
	}
}

func waitForOpens(t *testing.T, client *fakeUpstreamClient, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if client.openCount() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("opens = %d, want %d", client.openCount(), want)
}

func TestDisconnectDuringCreationReleasesCapacity(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeUpstreamClient{gate: gate}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, _ := connect(m, "c1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.HandleStart(sess, nil, "")
	}()

	// Disconnect while the open call is still blocked.
	waitForOpens(t, client, 1)
	m.HandleDisconnect(sess)
	close(gate)
	wg.Wait()

	if m.counter.Active() != 0 {
		t.Fatalf("counter after disconnect with creation in flight: %d, want 0", m.counter.Active())
	}
	if sess.Active() {
		t.Fatal("handle installed on a disconnected session")
	}
	client.lastSession().waitClosed(t, time.Second)
}

func TestStopDuringCreationDiscardsSession(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeUpstreamClient{gate: gate}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.HandleStart(sess, nil, "")
	}()

	waitForOpens(t, client, 1)
	m.HandleStop(sess)
	close(gate)
	wg.Wait()

	if m.counter.Active() != 0 {
		t.Fatalf("counter after stop with creation in flight: %d, want 0", m.counter.Active())
	}
	if sess.Active() {
		t.Fatal("interaction resurrected after stop")
	}
	client.lastSession().waitClosed(t, time.Second)

	for _, ev := range sink.byType(EventInteractionStarted) {
		if ev.Status == "active" {
			t.Fatal("stopped session reported active")
		}
	}

	// The freed slot and the cleared stop flag allow a fresh start.
	m.HandleStart(sess, nil, "")
	if !sess.Active() || m.counter.Active() != 1 {
		t.Fatalf("restart after discarded creation: active=%v counter=%d", sess.Active(), m.counter.Active())
	}
}

func TestOnDemandCreationFromText(t *testing.T) {
	client := &fakeUpstreamClient{}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, _ := connect(m, "c1")

	m.HandleText(sess, "what should I see in Kyoto?")

	if client.openCount() != 1 {
		t.Fatalf("opens: %d", client.openCount())
	}
	up := client.lastSession()
	texts := up.sentTexts()
	if len(texts) != 1 || texts[0] != "what should I see in Kyoto?" {
		t.Fatalf("text not forwarded after creation: %v", texts)
	}
}

func TestOnDemandCreationFailureDropsInput(t *testing.T) {
	client := &fakeUpstreamClient{failure: errors.New("upstream down")}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")

	m.HandleText(sess, "hello?")

	if len(sink.byType(EventError)) == 0 {
		t.Fatal("creation failure not surfaced")
	}
	if m.counter.Active() != 0 {
		t.Fatal("slot leaked")
	}
}

func TestRealtimeAudioForwardedAndAccumulated(t *testing.T) {
	client := &fakeUpstreamClient{}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, _ := connect(m, "c1")

	pcm := []byte{1, 2, 3, 4}
	m.HandleRealtimeInput(sess, &ClientEvent{
		Type: EventRealtimeInput,
		RealtimeInput: &RealtimeInput{MediaChunks: []MediaChunk{
			{MIMEType: "audio/pcm", Data: audio.EncodeBase64(pcm)},
		}},
	})

	up := client.lastSession()
	up.mu.Lock()
	chunks := len(up.chunks)
	up.mu.Unlock()
	if chunks != 1 {
		t.Fatalf("chunks forwarded: %d", chunks)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.hasUserAudio || len(sess.userAudio) != 4 {
		t.Fatalf("user audio not accumulated: %v", sess.userAudio)
	}
}

func TestAggregationCompleteness(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{err: errors.New("no transcription")}, 3)
	sess, sink := connect(m, "c1")
	m.HandleStart(sess, nil, "")

	f1, f2, f3 := []byte{1, 1}, []byte{2, 2}, []byte{3, 3}
	for _, f := range [][]byte{f1, f2, f3} {
		m.handleUpstreamEvent(sess, upstream.ServerEvent{Kind: upstream.KindAudioChunk, Audio: f})
	}
	m.handleUpstreamEvent(sess, upstream.ServerEvent{Kind: upstream.KindTurnComplete})

	ev := sink.waitFor(t, EventOutAudio, time.Second)

	want, err := audio.PCMToWAVBase64([]byte{1, 1, 2, 2, 3, 3}, audio.OutputSampleRate)
	if err != nil {
		t.Fatalf("encode reference: %v", err)
	}
	if ev.Audio != want {
		t.Fatal("emitted audio is not the ordered concatenation of fragments")
	}
	if got := len(sink.byType(EventOutAudio)); got != 1 {
		t.Fatalf("audio emitted %d times, want once", got)
	}
}

func TestAggregationTimeoutFallback(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")
	m.HandleStart(sess, nil, "")

	// No turn-complete signal: the bounded window must still flush.
	m.handleUpstreamEvent(sess, upstream.ServerEvent{Kind: upstream.KindAudioChunk, Audio: []byte{9, 9}})
	sink.waitFor(t, EventOutAudio, time.Second)
}

func TestInterruptionClearsState(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")
	m.HandleStart(sess, nil, "")

	m.handleUpstreamEvent(sess, upstream.ServerEvent{Kind: upstream.KindAudioChunk, Audio: []byte{1}})
	m.handleUpstreamEvent(sess, upstream.ServerEvent{Kind: upstream.KindInterrupted})

	sess.mu.Lock()
	pending, inFlight := len(sess.pendingAudio), sess.aggregationInFlight
	sess.mu.Unlock()
	if pending != 0 || inFlight {
		t.Fatalf("state after interrupt: pending=%d inFlight=%v", pending, inFlight)
	}
	if len(sink.byType(EventInterrupted)) != 1 {
		t.Fatal("client not told about interruption")
	}

	// The discarded fragments must never be played back.
	time.Sleep(250 * time.Millisecond)
	if len(sink.byType(EventOutAudio)) != 0 {
		t.Fatal("interrupted audio was emitted")
	}
}

func TestTurnResetAfterFailedTranscription(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{err: errors.New("model unavailable")}, 3)
	sess, _ := connect(m, "c1")
	m.HandleStart(sess, nil, "")

	m.HandleRealtimeInput(sess, &ClientEvent{
		Type:  EventRealtimeInput,
		Audio: audio.EncodeBase64([]byte{5, 5, 5, 5}),
	})
	m.handleUpstreamEvent(sess, upstream.ServerEvent{Kind: upstream.KindAudioChunk, Audio: []byte{6, 6}})
	m.handleUpstreamEvent(sess, upstream.ServerEvent{Kind: upstream.KindTurnComplete})

	// The aggregation cycle may still be flushing; wait for quiescence.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		sess.mu.Lock()
		done := !sess.aggregationInFlight
		sess.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.hasUserAudio || sess.userAudio != nil || sess.hasAssistantAudio || sess.assistantAudio != nil {
		t.Fatal("turn buffers not reset after failed transcription")
	}
	if !sess.accumulateUserAudio {
		t.Fatal("user audio accumulation not re-enabled")
	}
}

func TestToolCallRoundTrip(t *testing.T) {
	client := &fakeUpstreamClient{}
	m := testManager(t, client, fakeTranscriber{}, 3)
	sess, _ := connect(m, "c1")
	m.HandleStart(sess, nil, "")

	m.handleUpstreamEvent(sess, upstream.ServerEvent{
		Kind: upstream.KindToolCall,
		Calls: []upstream.FunctionCall{
			{ID: "call-1", Name: "get_bookmarks"},
			{ID: "call-2", Name: "googleSearch"},
		},
	})

	up := client.lastSession()
	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.results) != 1 {
		t.Fatalf("tool results sent: %d, want 1 (built-ins need no response)", len(up.results))
	}
	if up.results[0].CallID != "call-1" || up.results[0].Result == "" {
		t.Fatalf("tool result: %+v", up.results[0])
	}
}

func TestDisconnectAuditsAndReleases(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{}, 3)
	sess, _ := connect(m, "c1")
	m.HandleStart(sess, nil, "")

	m.HandleDisconnect(sess)
	if m.counter.Active() != 0 {
		t.Fatal("disconnect did not release capacity")
	}

	m.mu.Lock()
	_, present := m.sessions["c1"]
	m.mu.Unlock()
	if present {
		t.Fatal("session record not removed")
	}
}

func TestSessionStatusReport(t *testing.T) {
	m := testManager(t, &fakeUpstreamClient{}, fakeTranscriber{}, 3)
	sess, sink := connect(m, "c1")
	m.HandleStart(sess, nil, "")
	m.HandleStatus(sess)

	ev := sink.waitFor(t, EventStatus, time.Second)
	if !ev.SessionActive || ev.ActiveSessions != 1 || ev.MaxSessions != 3 {
		t.Fatalf("status: %+v", ev)
	}
}
