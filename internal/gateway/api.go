// ABOUTME: HTTP API handlers: the streaming chat endpoints and the
// ABOUTME: conversation command surface mirroring the store's operations

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/2389/skycast/internal/conversation"
	"github.com/2389/skycast/internal/relay"
	"github.com/2389/skycast/internal/store"
)

// ChatRequest is the JSON request body for POST /api/chat and POST /api/send.
type ChatRequest struct {
	Message string `json:"message"`
}

// RenameRequest is the JSON request body for POST /api/conversations/{id}/rename.
type RenameRequest struct {
	Title string `json:"title"`
}

// ConversationSummary is the JSON shape for conversation listings.
type ConversationSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Placeholder  bool   `json:"placeholder"`
	MessageCount int    `json:"messageCount"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// StateResponse is the JSON response for GET /api/state.
type StateResponse struct {
	Conversations      []*store.Conversation `json:"conversations"`
	CurrentID          string                `json:"currentConversationId"`
	IsLoading          bool                  `json:"isLoading"`
	StreamingMessageID string                `json:"streamingMessageId,omitempty"`
}

// handleChat handles POST /api/chat: the pure relay endpoint. The message is
// forwarded to the hosted agent and its response streamed back as
// data-framed JSON records. No conversation state is touched.
//
// Once streaming has begun the HTTP status is already committed, so upstream
// failures arrive in-band as a single error record rather than a status code.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseChatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	setStreamHeaders(w)

	for ev := range g.relay.Stream(r.Context(), req.Message) {
		g.writeStreamEvent(w, flusher, ev)
	}
}

// handleSend handles POST /api/send: the store-driven send. It runs the full
// conversation lifecycle (placeholder titling, message statuses, persistence)
// while streaming the same data-framed records as /api/chat.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseChatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Resolve the target conversation up front so its id can travel in a
	// header before the stream commits the response.
	conv := g.chat.Current()
	if conv == nil {
		conv = g.chat.NewConversation(r.Context())
	}
	w.Header().Set("X-Conversation-ID", conv.ID)
	setStreamHeaders(w)

	err = g.chat.Send(r.Context(), req.Message, func(ev relay.Event) {
		g.writeStreamEvent(w, flusher, ev)
	})
	if err != nil {
		// Only pre-stream validation can fail; the response is still clean.
		g.logger.Warn("send rejected", "error", err)
	}
}

// handleConversations handles the conversation collection:
// GET lists all conversations (newest first), POST creates one.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		state := g.chat.State()
		out := make([]ConversationSummary, 0, len(state.Conversations))
		for _, c := range state.Conversations {
			out = append(out, summarize(c))
		}
		g.sendJSON(w, http.StatusOK, out)

	case http.MethodPost:
		conv := g.chat.NewConversation(r.Context())
		g.sendJSON(w, http.StatusCreated, conv)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleConversationRoutes dispatches /api/conversations/{id}[/action].
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id required")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch action {
	case "":
		g.handleConversation(w, r, id)
	case "select":
		g.handleSelect(w, r, id)
	case "rename":
		g.handleRename(w, r, id)
	case "messages":
		g.handleMessages(w, r, id)
	case "export":
		g.handleExport(w, r, id)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// handleConversation handles GET (fetch) and DELETE on a single conversation.
func (g *Gateway) handleConversation(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		conv, err := g.chat.Get(id)
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.sendJSON(w, http.StatusOK, conv)

	case http.MethodDelete:
		if !g.chat.Delete(r.Context(), id) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSelect handles POST /api/conversations/{id}/select.
func (g *Gateway) handleSelect(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !g.chat.Switch(r.Context(), id) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, g.chat.Current())
}

// handleRename handles POST /api/conversations/{id}/rename.
func (g *Gateway) handleRename(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	if !g.chat.Rename(r.Context(), id, req.Title) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMessages handles GET /api/conversations/{id}/messages. An optional
// ?q= applies the store's message filter; filtering is a property of the
// current conversation, so q on any other id is rejected.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query != "" {
		cur := g.chat.Current()
		if cur == nil || cur.ID != id {
			g.sendJSONError(w, http.StatusBadRequest, "message search applies to the current conversation")
			return
		}
		matches := g.chat.SearchMessages(query)
		if matches == nil {
			matches = []store.Message{}
		}
		g.sendJSON(w, http.StatusOK, matches)
		return
	}

	conv, err := g.chat.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	g.sendJSON(w, http.StatusOK, conv.Messages)
}

// exportContentTypes maps export formats to response content types.
var exportContentTypes = map[conversation.ExportFormat]string{
	conversation.FormatText:     "text/plain; charset=utf-8",
	conversation.FormatJSON:     "application/json",
	conversation.FormatMarkdown: "text/markdown; charset=utf-8",
	conversation.FormatHTML:     "text/html; charset=utf-8",
}

// handleExport handles GET /api/conversations/{id}/export?format=.
func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	format := conversation.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = conversation.FormatText
	}

	conv, err := g.chat.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}

	data, filename, err := conversation.Export(conv, format)
	if errors.Is(err, conversation.ErrUnknownFormat) {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		g.logger.Error("export failed", "error", err, "conversation_id", id)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", exportContentTypes[format])
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(data)
}

// handleSearch handles GET /api/search?q=: conversations whose title or
// message content matches the query.
func (g *Gateway) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		g.sendJSONError(w, http.StatusBadRequest, "q is required")
		return
	}

	matches := g.chat.SearchConversations(query)
	out := make([]ConversationSummary, 0, len(matches))
	for _, c := range matches {
		out = append(out, summarize(c))
	}
	g.sendJSON(w, http.StatusOK, out)
}

// handleState handles GET /api/state: the full store view in one response.
func (g *Gateway) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	state := g.chat.State()
	if state.Conversations == nil {
		state.Conversations = []*store.Conversation{}
	}
	g.sendJSON(w, http.StatusOK, StateResponse{
		Conversations:      state.Conversations,
		CurrentID:          state.CurrentID,
		IsLoading:          state.IsLoading,
		StreamingMessageID: state.StreamingMessageID,
	})
}

// setStreamHeaders prepares the response for data-framed streaming.
func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeStreamEvent writes one relay event as a data-framed JSON record.
func (g *Gateway) writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, ev relay.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error("failed to marshal stream event", "error", err)
		return
	}

	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// sendJSON writes a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseChatRequest parses and validates a ChatRequest from the given reader.
func parseChatRequest(r io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is required")
	}
	return &req, nil
}

func summarize(c *store.Conversation) ConversationSummary {
	return ConversationSummary{
		ID:           c.ID,
		Title:        c.Title,
		Placeholder:  c.Placeholder,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.Format(time.RFC3339),
	}
}
