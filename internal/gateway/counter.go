/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"sync"

	"github.com/friendsincode/wayfarer/internal/telemetry"
)

// SessionCounter bounds the number of simultaneously open upstream
// sessions across all connections. Capacity is reserved before the slow
// open call and released on failure or teardown.
type SessionCounter struct {
	mu     sync.Mutex
	active int
	max    int
}

// NewSessionCounter creates a counter with the given capacity.
func NewSessionCounter(max int) *SessionCounter {
	return &SessionCounter{max: max}
}

// TryAcquire reserves one slot. It returns false when the cap is reached.
func (c *SessionCounter) TryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active >= c.max {
		return false
	}
	c.active++
	telemetry.UpstreamSessionsActive.Set(float64(c.active))
	return true
}

// Release frees one slot, floored at zero.
func (c *SessionCounter) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active > 0 {
		c.active--
	}
	telemetry.UpstreamSessionsActive.Set(float64(c.active))
}

// Active reports the current reservation count.
func (c *SessionCounter) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Max reports the capacity.
func (c *SessionCounter) Max() int {
	return c.max
}
