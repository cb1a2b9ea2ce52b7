// ABOUTME: In-memory fan-out broadcaster for chat state change notifications
// ABOUTME: Publishes Change records to all subscribers so clients can re-render

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ChangeKind classifies what part of the state moved.
type ChangeKind string

const (
	// ChangeConversations — the conversation list or current id changed
	ChangeConversations ChangeKind = "conversations"
	// ChangeMessages — a message was appended or mutated
	ChangeMessages ChangeKind = "messages"
	// ChangeStream — streaming started, progressed, or finished
	ChangeStream ChangeKind = "stream"
	// ChangeFilter — the search filter view changed
	ChangeFilter ChangeKind = "filter"
)

// Change describes one state transition. ConversationID is empty for
// changes that are not scoped to a single conversation.
type Change struct {
	Kind           ChangeKind
	ConversationID string
}

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides in-memory pub/sub for state changes. Subscribers
// receive every Change as it is committed. This replaces framework
// reactivity: nothing here depends on how a client re-renders.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Change),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber. Returns a channel that receives changes
// and a subscription ID for later unsubscription. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends a change to all subscribers.
// Non-blocking: changes are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(change Change) {
	b.mu.RLock()
	targets := make([]chan Change, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- change:
			// Sent
		default:
			// Subscriber channel full — drop change for this subscriber
			b.logger.Debug("dropped change for slow subscriber", "kind", change.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.subscribers[subID]
	if !exists {
		return
	}

	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
