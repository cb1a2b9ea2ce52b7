// ABOUTME: Tests for the SQLite snapshot store
// ABOUTME: Covers save/load round trips and version migrations (dedupe, placeholder flag)

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(now time.Time) *Snapshot {
	return &Snapshot{
		CurrentID: "conv-1",
		Conversations: []*Conversation{
			{
				ID:        "conv-1",
				Title:     "what's the weather in Oslo",
				CreatedAt: now,
				UpdatedAt: now,
				Messages: []Message{
					{ID: "m1", Content: "what's the weather in Oslo", Sender: SenderUser, Status: StatusDelivered, Timestamp: now},
					{ID: "m2", Content: "Sunny, 21C.", Sender: SenderAgent, Status: StatusDelivered, Timestamp: now},
				},
			},
			{
				ID:          "conv-2",
				Title:       "New Chat",
				Placeholder: true,
				CreatedAt:   now.Add(-time.Hour),
				UpdatedAt:   now.Add(-time.Hour),
			},
		},
	}
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.SaveSnapshot(ctx, sampleSnapshot(now)))

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, "conv-1", loaded.CurrentID)
	require.Len(t, loaded.Conversations, 2)

	first := loaded.Conversations[0]
	assert.Equal(t, "conv-1", first.ID)
	assert.Equal(t, "what's the weather in Oslo", first.Title)
	assert.False(t, first.Placeholder)
	require.Len(t, first.Messages, 2)
	assert.Equal(t, SenderUser, first.Messages[0].Sender)
	assert.Equal(t, "Sunny, 21C.", first.Messages[1].Content)
	assert.Equal(t, StatusDelivered, first.Messages[1].Status)

	second := loaded.Conversations[1]
	assert.True(t, second.Placeholder)
	assert.Empty(t, second.Messages)
}

func TestSQLiteStore_SaveReplacesPreviousSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.SaveSnapshot(ctx, sampleSnapshot(now)))

	// Second save with fewer conversations fully replaces the first.
	require.NoError(t, s.SaveSnapshot(ctx, &Snapshot{
		CurrentID: "conv-3",
		Conversations: []*Conversation{
			{ID: "conv-3", Title: "only one", CreatedAt: now, UpdatedAt: now},
		},
	}))

	loaded, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "conv-3", loaded.CurrentID)
	require.Len(t, loaded.Conversations, 1)
	assert.Equal(t, "only one", loaded.Conversations[0].Title)
}

func TestSQLiteStore_EmptyStore(t *testing.T) {
	s := newTestStore(t)

	loaded, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded.Conversations)
	assert.Empty(t, loaded.CurrentID)
}

func TestSQLiteStore_FreshDatabaseAtCurrentVersion(t *testing.T) {
	s := newTestStore(t)

	v, err := s.version()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

// createLegacyV1Database writes a database with the v1 schema and no
// user_version, the shape produced before snapshot versioning existed.
func createLegacyV1Database(t *testing.T, path string, seed func(db *sql.DB)) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			position INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
		CREATE TABLE chat_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	require.NoError(t, err)

	seed(db)
}

func TestSQLiteStore_MigrationDedupesConversations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	createLegacyV1Database(t, dbPath, func(db *sql.DB) {
		insert := func(id, title string, createdAt time.Time, pos int) {
			_, err := db.Exec(
				`INSERT INTO conversations (id, title, position, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
				id, title, pos, createdAt, createdAt,
			)
			require.NoError(t, err)
		}
		// Twin "New Chat" rows created 300ms apart: the known duplication bug.
		insert("dup-1", "New Chat", base, 0)
		insert("dup-2", "New Chat", base.Add(300*time.Millisecond), 1)
		// Same title but created much later: a genuine separate conversation.
		insert("later", "New Chat", base.Add(time.Hour), 2)
		// Unrelated conversation.
		insert("other", "weather in Lisbon", base, 3)

		_, err := db.Exec(
			`INSERT INTO messages (id, conversation_id, seq, sender, content, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			"m-dup", "dup-2", 0, "user", "orphan", "sent", base,
		)
		require.NoError(t, err)
	})

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)

	ids := make([]string, len(loaded.Conversations))
	for i, c := range loaded.Conversations {
		ids[i] = c.ID
	}
	assert.ElementsMatch(t, []string{"dup-1", "later", "other"}, ids)

	v, err := s.version()
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestSQLiteStore_MigrationBackfillsPlaceholderFlag(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	createLegacyV1Database(t, dbPath, func(db *sql.DB) {
		_, err := db.Exec(
			`INSERT INTO conversations (id, title, position, created_at, updated_at) VALUES
			 ('empty-new', 'New Chat', 0, ?, ?),
			 ('used-new', 'New Chat', 1, ?, ?),
			 ('titled', 'weather in Oslo', 2, ?, ?)`,
			base, base, base.Add(time.Hour), base.Add(time.Hour), base.Add(2*time.Hour), base.Add(2*time.Hour),
		)
		require.NoError(t, err)

		// used-new has a message, so it is not a reusable placeholder even
		// though it kept the default title.
		_, err = db.Exec(
			`INSERT INTO messages (id, conversation_id, seq, sender, content, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			"m1", "used-new", 0, "user", "hello", "sent", base,
		)
		require.NoError(t, err)
	})

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	loaded, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)

	flags := make(map[string]bool)
	for _, c := range loaded.Conversations {
		flags[c.ID] = c.Placeholder
	}
	assert.True(t, flags["empty-new"])
	assert.False(t, flags["used-new"])
	assert.False(t, flags["titled"])
}

func TestSQLiteStore_MigrationIsOneShot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "legacy.db")
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	createLegacyV1Database(t, dbPath, func(db *sql.DB) {
		_, err := db.Exec(
			`INSERT INTO conversations (id, title, position, created_at, updated_at) VALUES ('c1', 'New Chat', 0, ?, ?)`,
			base, base,
		)
		require.NoError(t, err)
	})

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	s.Close()

	// Reopening an already-migrated database must not re-run upgrades.
	s2, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	loaded, err := s2.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded.Conversations, 1)
}
