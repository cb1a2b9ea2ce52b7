// Package upstream talks to the hosted weather agent.
//
// The agent exposes a single streaming endpoint: a POST with the full run
// payload (messages, runId, threadId, resourceId, sampling parameters)
// answered by a newline-delimited body where each line is
//
//	<prefix>:<json>
//
// Prefix "0" lines carry the text tokens shown to the user; every other
// prefix is agent-internal metadata and is decoded but dropped. The agent is
// treated as an opaque black box — nothing here interprets its reasoning.
//
// Client opens the connection; Decoder turns the raw body into a sequence of
// text tokens, tolerating malformed lines and partial reads.
package upstream
