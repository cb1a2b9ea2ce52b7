// Package store persists skycast chat state.
//
// State is modeled as a versioned snapshot: the full conversation list
// (newest first) plus the id of the current conversation. The conversation
// layer serializes all mutations and saves the whole snapshot after each
// one, so the store never sees partial updates.
//
// The SQLite implementation tracks the snapshot version with
// PRAGMA user_version and upgrades old databases one explicit step at a
// time. See sqlite.go for the version history.
package store
