// Copyright 2026 The AuthzEngine Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's position.
type BreakerState string

const (
	// BreakerClosed passes requests through and counts failures.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects requests until the open timeout elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen probes the backend with live requests.
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig tunes the circuit breaker guarding the cache backend.
type BreakerConfig struct {
	// FailureThreshold consecutive failures trip the breaker open.
	FailureThreshold int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// HalfOpenSuccesses consecutive successful probes close the breaker.
	HalfOpenSuccesses int
}

// Breaker is a consecutive-failure circuit breaker. A tripped breaker makes
// every cache call fail fast with ErrUnavailable, and the orchestrator
// proceeds as if every lookup missed, so decisions stay correct while the
// backend is down.
type Breaker struct {
	cfg BreakerConfig
	log *slog.Logger
	now func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenSuccesses <= 0 {
		cfg.HalfOpenSuccesses = 2
	}
	return &Breaker{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		state: BreakerClosed,
	}
}

// Allow reports whether a request may reach the backend. In the open state
// it flips to half-open once the timeout has elapsed, admitting probes.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
			b.transition(BreakerHalfOpen)
			return true
		}
		return false
	}
	return true
}

// RecordSuccess notes a successful backend call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenSuccesses {
			b.transition(BreakerClosed)
		}
	}
}

// RecordFailure notes a failed backend call. In half-open any failure
// reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
	}
}

// State returns the current position for health reporting.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition moves the state machine. Callers hold b.mu.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == BreakerOpen {
		b.openedAt = b.now()
	}
	if b.log != nil && from != to {
		b.log.Warn("cache circuit breaker state change",
			slog.String("from", string(from)),
			slog.String("to", string(to)))
	}
}
