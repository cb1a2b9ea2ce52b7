// ABOUTME: Data types and snapshot store interface for skycast persistence
// ABOUTME: Defines Conversation, Message structs and the versioned snapshot contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// MessageStatus tracks delivery progress of a message.
//
// User messages move sent → delivered once the relay stream is established,
// or → failed on a transport error. Agent messages move sending → delivered
// when their stream completes, or → failed when it errors.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
)

// Message is a single chat message. Content is append-only for agent
// messages while their stream is active; everything else is immutable
// after creation except Status.
type Message struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	Sender    Sender        `json:"sender"`
	Status    MessageStatus `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// Conversation owns an ordered message sequence. Messages have no existence
// outside their conversation.
//
// Placeholder marks a freshly created conversation that has never received a
// message or a rename. Creating a "new" conversation while a placeholder
// exists reuses it instead of allocating another.
type Conversation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Placeholder bool      `json:"placeholder"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}

// Snapshot is the full persisted chat state: every conversation (newest
// first) plus the identity of the current one ("" when none).
type Snapshot struct {
	Conversations []*Conversation `json:"conversations"`
	CurrentID     string          `json:"currentConversationId"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{CurrentID: s.CurrentID}
	out.Conversations = make([]*Conversation, len(s.Conversations))
	for i, c := range s.Conversations {
		out.Conversations[i] = c.Clone()
	}
	return out
}

// SnapshotStore persists chat state as whole-snapshot replacements.
// Mutations in the conversation layer are serialized, so writers never
// overlap; readers always observe a consistent snapshot.
type SnapshotStore interface {
	// LoadSnapshot returns the persisted state, already migrated to the
	// current snapshot version. A fresh store returns an empty snapshot.
	LoadSnapshot(ctx context.Context) (*Snapshot, error)

	// SaveSnapshot atomically replaces the persisted state.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	Close() error
}
