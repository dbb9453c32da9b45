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

package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/authzengine/authzengine/internal/observability/logger"
)

// deliveryTimeout bounds how long one event may occupy the dispatcher.
const deliveryTimeout = 15 * time.Second

// Subscriber receives events off the bus. Handle errors are logged and
// isolated; one subscriber failing never affects another or the publisher.
type Subscriber interface {
	Name() string
	Handle(ctx context.Context, event Event) error
}

// Bus fans mutation events out to subscribers asynchronously. Publish
// enqueues and returns; a single dispatcher goroutine delivers in order.
// When the queue is full the publisher delivers inline instead of dropping,
// because a lost invalidation would leave stale decisions live until their
// TTL.
type Bus struct {
	log *slog.Logger

	mu          sync.RWMutex
	subscribers []Subscriber

	queue  chan Event
	done   chan struct{}
	closed sync.Once
}

// NewBus creates a bus with the given queue capacity and starts its
// dispatcher.
func NewBus(queueSize int, log *slog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 256
	}
	b := &Bus{
		log:   log,
		queue: make(chan Event, queueSize),
		done:  make(chan struct{}),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a subscriber for all subsequent events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, s)
}

// Publish enqueues the event for asynchronous delivery. Call only after the
// mutation that produced the event has committed.
func (b *Bus) Publish(ctx context.Context, event Event) {
	select {
	case b.queue <- event:
	default:
		// Queue saturated. Deliver inline rather than lose the eviction.
		b.log.Warn("event queue full, delivering inline",
			logger.EventKind(string(event.Kind)),
			logger.TenantID(event.TenantID))
		b.deliver(event)
	}
}

// Close drains the queue and stops the dispatcher. Pending events are
// delivered before Close returns.
func (b *Bus) Close() {
	b.closed.Do(func() {
		close(b.queue)
		<-b.done
	})
}

func (b *Bus) dispatch() {
	defer close(b.done)
	for event := range b.queue {
		b.deliver(event)
	}
}

func (b *Bus) deliver(event Event) {
	b.mu.RLock()
	subscribers := make([]Subscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	// Delivery runs detached from the publisher's request context, which
	// is usually finished by the time the event is handled.
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	for _, s := range subscribers {
		if err := b.handleOne(ctx, s, event); err != nil {
			b.log.Error("event subscriber failed",
				slog.String("subscriber", s.Name()),
				logger.EventKind(string(event.Kind)),
				logger.TenantID(event.TenantID),
				logger.Error(err))
		}
	}
}

// handleOne isolates a single subscriber call, converting panics to errors
// so a broken subscriber cannot take down the dispatcher.
func (b *Bus) handleOne(ctx context.Context, s Subscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.Handle(ctx, event)
}
