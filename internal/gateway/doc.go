// Package gateway is the skycast HTTP server.
//
// It exposes two streaming endpoints — /api/chat (pure relay, no state) and
// /api/send (the full conversation lifecycle) — plus a REST surface over the
// conversation store's commands. Streaming responses are framed as
// "data: <json>\n\n" records over text/plain, matching what the browser
// client consumes.
package gateway
