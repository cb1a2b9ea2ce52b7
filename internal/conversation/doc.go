// Package conversation holds the chat state and its command set.
//
// The Store is the single owner of all conversations: every command
// (create, switch, delete, rename, search, send) takes its lock, applies
// the change, persists the whole snapshot, and publishes a Change through
// the Broadcaster so connected clients can re-render.
//
// Send runs the full message lifecycle: it appends the user message and an
// empty agent placeholder, streams relay events into the placeholder, and
// settles delivery status when the stream ends. Streaming mutations re-check
// that their conversation still exists, so deleting or switching away from
// a conversation mid-stream is always safe.
package conversation
