// ABOUTME: SQLite implementation of the SnapshotStore interface using modernc.org/sqlite
// ABOUTME: Versioned snapshot schema with an explicit upgrade function per version bump

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// schemaVersion is the current snapshot format version, tracked via
// PRAGMA user_version.
//
//	v1: initial schema (conversations, messages, chat_state)
//	v2: dedupe of conversations duplicated by the old creation bug
//	v3: explicit placeholder flag on conversations
const schemaVersion = 3

// SQLiteStore implements SnapshotStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist, and existing
// databases are migrated up to the current snapshot version.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	fresh, err := s.isFresh()
	if err != nil {
		db.Close()
		return nil, err
	}

	if fresh {
		if err := s.createSchema(); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	} else if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isFresh reports whether the database has no snapshot schema yet.
func (s *SQLiteStore) isFresh() (bool, error) {
	var name string
	err := s.db.QueryRow(
		`SELECT name FROM sqlite_master WHERE type='table' AND name='conversations'`,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("inspecting schema: %w", err)
	}
	return false, nil
}

// createSchema creates the database tables at the current snapshot version
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			placeholder INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_position
			ON conversations(position);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_seq
			ON messages(conversation_id, seq);

		CREATE TABLE IF NOT EXISTS chat_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.setVersion(schemaVersion)
}

func (s *SQLiteStore) version() (int, error) {
	var v int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading user_version: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) setVersion(v int) error {
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		return fmt.Errorf("setting user_version: %w", err)
	}
	return nil
}

// runMigrations upgrades an existing database one version at a time.
// Each bump has its own upgrade function; a heuristic cleanup pass on every
// load is exactly what this replaces.
func (s *SQLiteStore) runMigrations() error {
	version, err := s.version()
	if err != nil {
		return err
	}

	// Databases written before versioning carry user_version 0 but have the
	// v1 schema.
	if version == 0 {
		version = 1
	}

	upgrades := map[int]func() error{
		1: s.upgradeToV2,
		2: s.upgradeToV3,
	}

	for version < schemaVersion {
		upgrade, ok := upgrades[version]
		if !ok {
			return fmt.Errorf("no upgrade path from snapshot version %d", version)
		}
		if err := upgrade(); err != nil {
			return fmt.Errorf("upgrading snapshot v%d -> v%d: %w", version, version+1, err)
		}
		version++
		if err := s.setVersion(version); err != nil {
			return err
		}
		s.logger.Info("snapshot migrated", "version", version)
	}

	return nil
}

// upgradeToV2 removes conversations duplicated by the old double-creation
// bug: same title, created within one second of each other. The first
// occurrence (by insertion order) wins.
func (s *SQLiteStore) upgradeToV2() error {
	rows, err := s.db.Query(`SELECT id, title, created_at FROM conversations ORDER BY rowid`)
	if err != nil {
		return err
	}
	defer rows.Close()

	type seen struct {
		title     string
		createdAt time.Time
	}
	var kept []seen
	var doomed []string

	for rows.Next() {
		var id, title string
		var createdAt time.Time
		if err := rows.Scan(&id, &title, &createdAt); err != nil {
			return err
		}

		duplicate := false
		for _, k := range kept {
			if k.title == title && absDuration(k.createdAt.Sub(createdAt)) < time.Second {
				duplicate = true
				break
			}
		}
		if duplicate {
			doomed = append(doomed, id)
		} else {
			kept = append(kept, seen{title: title, createdAt: createdAt})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range doomed {
		// Messages go first: v1 databases predate ON DELETE CASCADE.
		if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
			return err
		}
		if _, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
			return err
		}
		s.logger.Info("removed duplicate conversation", "id", id)
	}

	return nil
}

// upgradeToV3 introduces the explicit placeholder flag, backfilling it for
// conversations that still look like untouched placeholders.
func (s *SQLiteStore) upgradeToV3() error {
	if _, err := s.db.Exec(
		`ALTER TABLE conversations ADD COLUMN placeholder INTEGER NOT NULL DEFAULT 0`,
	); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		UPDATE conversations SET placeholder = 1
		WHERE title = 'New Chat'
		  AND NOT EXISTS (SELECT 1 FROM messages WHERE conversation_id = conversations.id)
	`)
	return err
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

const currentIDKey = "current_conversation_id"

// SaveSnapshot atomically replaces the persisted chat state.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return fmt.Errorf("clearing messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clearing conversations: %w", err)
	}

	for pos, conv := range snap.Conversations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (id, title, placeholder, position, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			conv.ID, conv.Title, conv.Placeholder, pos, conv.CreatedAt, conv.UpdatedAt,
		); err != nil {
			return fmt.Errorf("inserting conversation %s: %w", conv.ID, err)
		}

		for seq, msg := range conv.Messages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO messages (id, conversation_id, seq, sender, content, status, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				msg.ID, conv.ID, seq, msg.Sender, msg.Content, msg.Status, msg.Timestamp,
			); err != nil {
				return fmt.Errorf("inserting message %s: %w", msg.ID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_state (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		currentIDKey, snap.CurrentID,
	); err != nil {
		return fmt.Errorf("saving current conversation id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved", "conversations", len(snap.Conversations))
	return nil
}

// LoadSnapshot reads the full persisted chat state.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, placeholder, created_at, updated_at
		FROM conversations ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("loading conversations: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Conversation)
	for rows.Next() {
		conv := &Conversation{}
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Placeholder, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		snap.Conversations = append(snap.Conversations, conv)
		byID[conv.ID] = conv
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	msgRows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender, content, status, created_at
		FROM messages ORDER BY conversation_id, seq
	`)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer msgRows.Close()

	for msgRows.Next() {
		var msg Message
		var convID string
		if err := msgRows.Scan(&msg.ID, &convID, &msg.Sender, &msg.Content, &msg.Status, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if conv, ok := byID[convID]; ok {
			conv.Messages = append(conv.Messages, msg)
		}
	}
	if err := msgRows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM chat_state WHERE key = ?`, currentIDKey,
	).Scan(&snap.CurrentID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("loading current conversation id: %w", err)
	}

	return snap, nil
}
