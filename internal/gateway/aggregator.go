/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/wayfarer/internal/audio"
	"github.com/friendsincode/wayfarer/internal/telemetry"
)

const (
	// DefaultAggregationWindow bounds how long a cycle waits for the turn
	// boundary before flushing whatever has arrived. It is a safety
	// fallback; the explicit turn-complete signal is the primary boundary.
	DefaultAggregationWindow = 2 * time.Second
	DefaultAggregationTick   = 100 * time.Millisecond
)

// Aggregator batches streamed assistant audio fragments into one playable
// WAV per turn. At most one cycle runs per connection at a time.
type Aggregator struct {
	window time.Duration
	tick   time.Duration
	logger zerolog.Logger
}

// NewAggregator creates an aggregator. Zero durations get the defaults.
func NewAggregator(window, tick time.Duration, logger zerolog.Logger) *Aggregator {
	if window <= 0 {
		window = DefaultAggregationWindow
	}
	if tick <= 0 {
		tick = DefaultAggregationTick
	}
	return &Aggregator{
		window: window,
		tick:   tick,
		logger: logger.With().Str("component", "aggregator").Logger(),
	}
}

// push queues one fragment and starts a cycle if none is running.
func (a *Aggregator) push(sess *Session, fragment []byte) {
	sess.mu.Lock()
	sess.pendingAudio = append(sess.pendingAudio, fragment)
	startCycle := !sess.aggregationInFlight
	if startCycle {
		sess.aggregationInFlight = true
	}
	gen := sess.aggregationGen
	sess.mu.Unlock()

	if startCycle {
		go a.cycle(sess, gen)
	}
}

// cycle waits for the turn boundary (or the window deadline), then drains
// the queue and emits one combined audio event. If the session's
// aggregation generation changes mid-cycle (interruption, stop, turn
// reset) the cycle abandons silently; whoever bumped the generation
// already cleaned up the state.
func (a *Aggregator) cycle(sess *Session, gen uint64) {
	deadline := time.Now().Add(a.window)
	for time.Now().Before(deadline) {
		time.Sleep(a.tick)

		sess.mu.Lock()
		if sess.aggregationGen != gen {
			sess.mu.Unlock()
			return
		}
		boundary := sess.turnBoundary
		sess.mu.Unlock()

		if boundary {
			break
		}
	}

	sess.mu.Lock()
	if sess.aggregationGen != gen {
		sess.mu.Unlock()
		return
	}
	fragments := sess.pendingAudio
	sess.pendingAudio = nil
	sess.turnBoundary = false
	sess.aggregationInFlight = false
	sess.mu.Unlock()

	if len(fragments) == 0 {
		return
	}

	combined := audio.Concat(fragments)
	wavBase64, err := audio.PCMToWAVBase64(combined, audio.OutputSampleRate)
	if err != nil {
		a.logger.Error().Err(err).Str("session_id", sess.ID).Msg("failed to encode aggregated audio")
		return
	}

	telemetry.AudioAggregationsTotal.Inc()
	a.logger.Debug().
		Str("session_id", sess.ID).
		Int("fragments", len(fragments)).
		Int("bytes", len(combined)).
		Msg("emitting aggregated audio turn")
	sess.send(audioEvent(wavBase64))
}
