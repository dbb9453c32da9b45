package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSubscriber appends every delivered event and optionally signals
// or blocks to let tests control dispatcher timing.
type recordingSubscriber struct {
	name    string
	mu      sync.Mutex
	events  []Event
	started chan struct{}
	release chan struct{}
	blockOn string
}

func newRecordingSubscriber(name string) *recordingSubscriber {
	return &recordingSubscriber{name: name}
}

func (s *recordingSubscriber) Name() string { return s.name }

func (s *recordingSubscriber) Handle(_ context.Context, event Event) error {
	if s.blockOn != "" && event.EntityID == s.blockOn {
		if s.started != nil {
			close(s.started)
		}
		<-s.release
	}
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

func (s *recordingSubscriber) entityIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(s.events))
	for i, e := range s.events {
		ids[i] = e.EntityID
	}
	return ids
}

type failingSubscriber struct{ calls int }

func (s *failingSubscriber) Name() string { return "failing" }

func (s *failingSubscriber) Handle(context.Context, Event) error {
	s.calls++
	return errors.New("handler broken")
}

type panickingSubscriber struct{ calls int }

func (s *panickingSubscriber) Name() string { return "panicking" }

func (s *panickingSubscriber) Handle(context.Context, Event) error {
	s.calls++
	panic("handler exploded")
}

func event(kind Kind, entityID string) Event {
	return Event{
		Kind:      kind,
		TenantID:  "t1",
		EntityID:  entityID,
		Timestamp: time.Now().UTC(),
	}
}

// TestPurpose: Validates publish enqueues and the dispatcher delivers every event in order.
// Scope: Unit Test
// Expected: Close drains the queue; afterwards the subscriber holds all events in publish order.
// Test Case ID: BUS-01
func TestEvents_Bus_DeliversInOrder(t *testing.T) {
	bus := NewBus(16, testLogger())
	sub := newRecordingSubscriber("recorder")
	bus.Subscribe(sub)

	ctx := context.Background()
	bus.Publish(ctx, event(KindRoleAssigned, "e1"))
	bus.Publish(ctx, event(KindRoleRevoked, "e2"))
	bus.Publish(ctx, event(KindPolicyChanged, "e3"))
	bus.Close()

	assert.Equal(t, []string{"e1", "e2", "e3"}, sub.entityIDs())
}

// TestPurpose: Validates one subscriber's error does not stop delivery to the others.
// Scope: Unit Test
// Expected: The failing subscriber is called, the recorder still receives every event.
// Test Case ID: BUS-02
func TestEvents_Bus_IsolatesFailingSubscriber(t *testing.T) {
	bus := NewBus(16, testLogger())
	failing := &failingSubscriber{}
	sub := newRecordingSubscriber("recorder")
	bus.Subscribe(failing)
	bus.Subscribe(sub)

	ctx := context.Background()
	bus.Publish(ctx, event(KindRoleAssigned, "e1"))
	bus.Publish(ctx, event(KindRoleAssigned, "e2"))
	bus.Close()

	assert.Equal(t, 2, failing.calls)
	assert.Equal(t, []string{"e1", "e2"}, sub.entityIDs())
}

// TestPurpose: Validates a panicking subscriber is recovered and the dispatcher keeps running.
// Scope: Unit Test
// Expected: The panic is converted to a logged error; later subscribers and later events are delivered.
// Test Case ID: BUS-03
func TestEvents_Bus_RecoversSubscriberPanic(t *testing.T) {
	bus := NewBus(16, testLogger())
	panicking := &panickingSubscriber{}
	sub := newRecordingSubscriber("recorder")
	bus.Subscribe(panicking)
	bus.Subscribe(sub)

	ctx := context.Background()
	bus.Publish(ctx, event(KindRoleAssigned, "e1"))
	bus.Publish(ctx, event(KindRoleAssigned, "e2"))
	bus.Close()

	assert.Equal(t, 2, panicking.calls)
	assert.Equal(t, []string{"e1", "e2"}, sub.entityIDs())
}

// TestPurpose: Validates a saturated queue falls back to inline delivery instead of dropping.
// Scope: Unit Test
// Expected: With the dispatcher blocked and the queue full, publish delivers the overflow event
// itself, so every event still arrives exactly once.
// Test Case ID: BUS-04
func TestEvents_Bus_FullQueueDeliversInline(t *testing.T) {
	bus := NewBus(1, testLogger())
	sub := newRecordingSubscriber("recorder")
	sub.blockOn = "e1"
	sub.started = make(chan struct{})
	sub.release = make(chan struct{})
	bus.Subscribe(sub)

	ctx := context.Background()
	bus.Publish(ctx, event(KindRoleAssigned, "e1"))

	// Wait until the dispatcher is inside Handle(e1); the single queue
	// slot is now free for e2 and e3 must overflow.
	select {
	case <-sub.started:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher never picked up the first event")
	}

	bus.Publish(ctx, event(KindRoleAssigned, "e2"))
	bus.Publish(ctx, event(KindRoleAssigned, "e3"))

	// The overflow event was handled inline by Publish, before the
	// dispatcher finished the first one.
	require.Equal(t, []string{"e3"}, sub.entityIDs())

	close(sub.release)
	bus.Close()

	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, sub.entityIDs())
}

// TestPurpose: Validates subscribing after publishing affects only subsequent events.
// Scope: Unit Test
// Expected: A late subscriber receives only events published after Subscribe.
// Test Case ID: BUS-05
func TestEvents_Bus_LateSubscriber(t *testing.T) {
	bus := NewBus(16, testLogger())
	early := newRecordingSubscriber("early")
	bus.Subscribe(early)

	ctx := context.Background()
	bus.Publish(ctx, event(KindRoleAssigned, "e1"))
	bus.Close()

	late := newRecordingSubscriber("late")
	bus.Subscribe(late)

	assert.Equal(t, []string{"e1"}, early.entityIDs())
	assert.Empty(t, late.entityIDs())
}
