// ABOUTME: The chat state container: conversations, current selection, send state machine
// ABOUTME: All mutations are serialized through one lock and persisted as whole snapshots

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/skycast/internal/relay"
	"github.com/2389/skycast/internal/store"
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// ErrNoConversation is returned by operations that need a current conversation.
var ErrNoConversation = errors.New("no current conversation")

const (
	// placeholderTitle is the default title of a freshly created conversation.
	placeholderTitle = "New Chat"

	// titleWordLimit caps how many words of the first message become the title.
	titleWordLimit = 6
)

// Streamer is what the store needs from the relay layer.
type Streamer interface {
	Stream(ctx context.Context, message string) <-chan relay.Event
}

// Store is the conversation state container. It owns the conversation
// collection exclusively; "current conversation" is an id reference into
// that collection, kept consistent under every mutation.
//
// Every mutation goes through s.mu, re-reads the latest state, and verifies
// its target conversation still exists before applying — a conversation
// deleted mid-stream silently absorbs any late updates.
type Store struct {
	mu       sync.Mutex
	logger   *slog.Logger
	streamer Streamer
	persist  store.SnapshotStore

	conversations []*store.Conversation // newest first
	currentID     string

	// Transient search filter over the current conversation's messages
	filtered     []store.Message
	filterActive bool

	// In-flight send bookkeeping. streamingMsgID is the agent message
	// currently receiving chunks; cancelStream aborts its upstream request.
	isLoading       bool
	streamingMsgID  string
	streamingConvID string
	cancelStream    context.CancelFunc

	broadcaster *Broadcaster
}

// State is a consistent read-only view of the store.
type State struct {
	Conversations      []*store.Conversation
	CurrentID          string
	IsLoading          bool
	StreamingMessageID string
}

// New creates a store, loading persisted state if a snapshot store is given.
// The snapshot store has already migrated old data by the time it loads.
func New(ctx context.Context, persist store.SnapshotStore, streamer Streamer, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		logger:      logger.With("component", "conversation"),
		streamer:    streamer,
		persist:     persist,
		broadcaster: NewBroadcaster(logger),
	}

	if persist != nil {
		snap, err := persist.LoadSnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading chat state: %w", err)
		}
		s.conversations = snap.Conversations
		// A dangling current reference degrades to "no current conversation"
		if snap.CurrentID != "" && s.findLocked(snap.CurrentID) != nil {
			s.currentID = snap.CurrentID
		}
		s.logger.Info("chat state loaded", "conversations", len(s.conversations))
	}

	return s, nil
}

// Subscribe registers for change notifications. See Broadcaster.Subscribe.
func (s *Store) Subscribe(ctx context.Context) (<-chan Change, string) {
	return s.broadcaster.Subscribe(ctx)
}

// Unsubscribe removes a change subscription.
func (s *Store) Unsubscribe(subID string) {
	s.broadcaster.Unsubscribe(subID)
}

// Close aborts any in-flight stream and shuts down change notification.
func (s *Store) Close() {
	s.mu.Lock()
	if s.cancelStream != nil {
		s.cancelStream()
	}
	s.mu.Unlock()
	s.broadcaster.Close()
}

// State returns a deep-copied consistent view of the whole store.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := State{
		CurrentID:          s.currentID,
		IsLoading:          s.isLoading,
		StreamingMessageID: s.streamingMsgID,
	}
	out.Conversations = make([]*store.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out.Conversations[i] = c.Clone()
	}
	return out
}

// Current returns a copy of the current conversation, or nil.
func (s *Store) Current() *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.currentLocked()
	if conv == nil {
		return nil
	}
	return conv.Clone()
}

// Get returns a copy of the conversation with the given id.
func (s *Store) Get(id string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(id)
	if conv == nil {
		return nil, store.ErrNotFound
	}
	return conv.Clone(), nil
}

// Messages returns the visible message list for the current conversation:
// the filtered view while a search filter is active, the full list otherwise.
func (s *Store) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filterActive {
		out := make([]store.Message, len(s.filtered))
		copy(out, s.filtered)
		return out
	}

	conv := s.currentLocked()
	if conv == nil {
		return nil
	}
	out := make([]store.Message, len(conv.Messages))
	copy(out, conv.Messages)
	return out
}

// NewConversation creates a conversation and makes it current. If an unused
// placeholder already exists it is reused instead — repeated "new chat"
// actions must not accumulate empty conversations.
func (s *Store) NewConversation(ctx context.Context) *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newConversationLocked(ctx).Clone()
}

// Switch makes the conversation with the given id current. Unknown ids are
// a silent no-op. Switching away from a streaming conversation cancels the
// in-flight upstream request.
func (s *Store) Switch(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchLocked(ctx, id)
}

// Resolve is the URL-state entry point: switch to the referenced
// conversation if it exists, otherwise create a fresh one. Returns the
// resulting current conversation so callers can rewrite their reference.
func (s *Store) Resolve(ctx context.Context, id string) *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" && s.switchLocked(ctx, id) {
		return s.currentLocked().Clone()
	}
	return s.newConversationLocked(ctx).Clone()
}

// Delete removes a conversation. If it was current, the most recently
// created remaining conversation is promoted; with none left, current
// becomes none. An in-flight stream into the deleted conversation is
// cancelled.
func (s *Store) Delete(ctx context.Context, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, c := range s.conversations {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}

	if s.streamingConvID == id && s.cancelStream != nil {
		s.cancelStream()
	}

	s.conversations = append(s.conversations[:idx], s.conversations[idx+1:]...)

	if s.currentID == id {
		if len(s.conversations) > 0 {
			s.currentID = s.conversations[0].ID
		} else {
			s.currentID = ""
		}
	}

	s.clearFilterLocked()
	s.persistLocked()
	s.broadcaster.Publish(Change{Kind: ChangeConversations})
	s.logger.Debug("conversation deleted", "conversation_id", id)
	return true
}

// Rename sets a conversation's title. Empty titles (after trimming) are a
// no-op. Renaming clears the placeholder flag: a named conversation is no
// longer eligible for reuse.
func (s *Store) Rename(ctx context.Context, id, title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(id)
	if conv == nil {
		return false
	}

	conv.Title = title
	conv.Placeholder = false
	conv.UpdatedAt = time.Now().UTC()

	s.persistLocked()
	s.broadcaster.Publish(Change{Kind: ChangeConversations, ConversationID: id})
	return true
}

// SearchMessages filters the current conversation's messages by
// case-insensitive substring match into the transient filtered view.
// An empty query clears the filter, restoring the full list.
func (s *Store) SearchMessages(query string) []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(query) == "" {
		s.clearFilterLocked()
		s.broadcaster.Publish(Change{Kind: ChangeFilter})
		return nil
	}

	s.filterActive = true
	s.filtered = nil

	conv := s.currentLocked()
	if conv != nil {
		needle := strings.ToLower(query)
		for _, msg := range conv.Messages {
			if strings.Contains(strings.ToLower(msg.Content), needle) {
				s.filtered = append(s.filtered, msg)
			}
		}
	}

	s.broadcaster.Publish(Change{Kind: ChangeFilter})

	out := make([]store.Message, len(s.filtered))
	copy(out, s.filtered)
	return out
}

// SearchConversations returns conversations whose title or any message
// content matches the query, case-insensitively. Read-only; does not touch
// the message filter.
func (s *Store) SearchConversations(query string) []*store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(query)
	var out []*store.Conversation
	for _, conv := range s.conversations {
		if conversationMatches(conv, needle) {
			out = append(out, conv.Clone())
		}
	}
	return out
}

func conversationMatches(conv *store.Conversation, needle string) bool {
	if strings.Contains(strings.ToLower(conv.Title), needle) {
		return true
	}
	for _, msg := range conv.Messages {
		if strings.Contains(strings.ToLower(msg.Content), needle) {
			return true
		}
	}
	return false
}

// Send drives one full send: append the user message and an empty agent
// placeholder, stream the relay response into the placeholder, and settle
// terminal state. If no conversation is current one is created (reusing a
// placeholder when present).
//
// observe, when non-nil, is called with each relay event after its state
// change has been committed, letting callers forward the live stream.
//
// Send blocks until the stream reaches its logical end; failures surface as
// state changes (error text in the agent message, failed status on the user
// message), never as a panic or an unhandled error.
func (s *Store) Send(ctx context.Context, content string, observe func(relay.Event)) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	conv := s.currentLocked()
	if conv == nil {
		conv = s.newConversationLocked(ctx)
	}
	convID := conv.ID

	now := time.Now().UTC()
	userMsg := store.Message{
		ID:        uuid.New().String(),
		Content:   content,
		Sender:    store.SenderUser,
		Status:    store.StatusSent,
		Timestamp: now,
	}
	agentMsg := store.Message{
		ID:        uuid.New().String(),
		Sender:    store.SenderAgent,
		Status:    store.StatusSending,
		Timestamp: now,
	}

	// Both messages land atomically: the agent placeholder exists before
	// the first chunk can arrive.
	conv.Messages = append(conv.Messages, userMsg, agentMsg)
	if conv.Placeholder {
		conv.Title = deriveTitle(content)
		conv.Placeholder = false
	}
	conv.UpdatedAt = now

	streamCtx, cancel := context.WithCancel(ctx)
	s.isLoading = true
	s.streamingMsgID = agentMsg.ID
	s.streamingConvID = convID
	s.cancelStream = cancel

	s.persistLocked()
	s.mu.Unlock()

	s.broadcaster.Publish(Change{Kind: ChangeMessages, ConversationID: convID})
	s.broadcaster.Publish(Change{Kind: ChangeStream, ConversationID: convID})

	defer cancel()

	receivedChunk := false
	for ev := range s.streamer.Stream(streamCtx, content) {
		switch ev.Type {
		case relay.EventStart:
			// Dispatch succeeded; the user message is on its way.
			s.updateMessage(convID, userMsg.ID, func(m *store.Message) {
				m.Status = store.StatusDelivered
			})

		case relay.EventChunk:
			receivedChunk = true
			s.updateMessage(convID, agentMsg.ID, func(m *store.Message) {
				m.Content += ev.Content
			})

		case relay.EventComplete:
			s.updateMessage(convID, agentMsg.ID, func(m *store.Message) {
				m.Status = store.StatusDelivered
			})
			s.finishStream(agentMsg.ID)

		case relay.EventError:
			errText := ev.Content
			s.updateMessage(convID, agentMsg.ID, func(m *store.Message) {
				m.Content = errText
				m.Status = store.StatusFailed
			})
			if !receivedChunk {
				// Transport-level failure, before any streaming: the user
				// message never made it either.
				s.updateMessage(convID, userMsg.ID, func(m *store.Message) {
					m.Status = store.StatusFailed
				})
			}
			s.finishStream(agentMsg.ID)
		}

		if observe != nil {
			observe(ev)
		}
	}

	// The channel can close without a terminal event when the stream was
	// cancelled (conversation switched away or deleted mid-stream).
	s.finishStream(agentMsg.ID)
	return nil
}

// updateMessage applies fn to one message, guarded by the conversation
// still existing. Late updates into a deleted conversation are no-ops.
func (s *Store) updateMessage(convID, msgID string, fn func(*store.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.findLocked(convID)
	if conv == nil {
		s.logger.Warn("conversation no longer exists, skipping update", "conversation_id", convID)
		return
	}

	for i := range conv.Messages {
		if conv.Messages[i].ID == msgID {
			fn(&conv.Messages[i])
			conv.UpdatedAt = time.Now().UTC()
			s.persistLocked()
			s.broadcaster.Publish(Change{Kind: ChangeMessages, ConversationID: convID})
			return
		}
	}
}

// finishStream clears the loading/streaming flags if they still belong to
// the given agent message. A newer send's flags are left alone.
func (s *Store) finishStream(msgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.streamingMsgID != msgID {
		return
	}

	s.isLoading = false
	s.streamingMsgID = ""
	s.streamingConvID = ""
	s.cancelStream = nil
	s.broadcaster.Publish(Change{Kind: ChangeStream})
}

// IsLoading reports whether a send is in flight.
func (s *Store) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isLoading
}

// StreamingMessageID returns the id of the agent message currently
// receiving chunks, or "".
func (s *Store) StreamingMessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingMsgID
}

// --- internal helpers (caller holds s.mu) ---

func (s *Store) findLocked(id string) *store.Conversation {
	for _, c := range s.conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (s *Store) currentLocked() *store.Conversation {
	if s.currentID == "" {
		return nil
	}
	return s.findLocked(s.currentID)
}

func (s *Store) newConversationLocked(ctx context.Context) *store.Conversation {
	// Reuse an existing unused placeholder instead of stacking empty chats
	for _, c := range s.conversations {
		if c.Placeholder && len(c.Messages) == 0 {
			s.currentID = c.ID
			s.clearFilterLocked()
			s.broadcaster.Publish(Change{Kind: ChangeConversations, ConversationID: c.ID})
			return c
		}
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:          uuid.New().String(),
		Title:       placeholderTitle,
		Placeholder: true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.conversations = append([]*store.Conversation{conv}, s.conversations...)
	s.currentID = conv.ID
	s.clearFilterLocked()

	s.persistLocked()
	s.broadcaster.Publish(Change{Kind: ChangeConversations, ConversationID: conv.ID})
	s.logger.Debug("conversation created", "conversation_id", conv.ID)
	return conv
}

func (s *Store) switchLocked(ctx context.Context, id string) bool {
	if s.findLocked(id) == nil {
		s.logger.Debug("switch to unknown conversation ignored", "conversation_id", id)
		return false
	}

	// Switching away abandons the in-flight stream entirely, not just its
	// visual indication.
	if s.streamingConvID != "" && s.streamingConvID != id && s.cancelStream != nil {
		s.cancelStream()
	}

	s.currentID = id
	s.clearFilterLocked()
	s.isLoading = false
	s.streamingMsgID = ""

	s.persistLocked()
	s.broadcaster.Publish(Change{Kind: ChangeConversations, ConversationID: id})
	return true
}

func (s *Store) clearFilterLocked() {
	s.filtered = nil
	s.filterActive = false
}

// persistLocked writes the current snapshot. Uses its own timeout context so
// persistence survives request cancellation; failures are logged, never
// propagated — a write miss must not corrupt in-memory state.
func (s *Store) persistLocked() {
	if s.persist == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap := &store.Snapshot{
		Conversations: s.conversations,
		CurrentID:     s.currentID,
	}
	if err := s.persist.SaveSnapshot(saveCtx, snap); err != nil {
		s.logger.Error("failed to persist snapshot", "error", err)
	}
}

// deriveTitle builds a conversation title from the first user message:
// up to titleWordLimit words, with an ellipsis marker beyond that.
func deriveTitle(content string) string {
	words := strings.Fields(content)
	if len(words) <= titleWordLimit {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:titleWordLimit], " ") + "..."
}
