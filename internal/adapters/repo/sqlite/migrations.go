package sqlite

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS messages (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		room_id TEXT NOT NULL,
		role TEXT NOT NULL,
		parts TEXT NOT NULL,
		turn_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, seq);
	CREATE TABLE IF NOT EXISTS boards (
		room_id TEXT PRIMARY KEY,
		nodes TEXT NOT NULL DEFAULT '[]',
		suggestions TEXT NOT NULL DEFAULT 'null',
		last_updated TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE TABLE IF NOT EXISTS session_states (
		room_id TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_session_states_phase ON session_states(phase);`,
	// Message ids are client supplied, so they are only unique within a room.
	`CREATE TABLE messages_v3 (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		room_id TEXT NOT NULL,
		role TEXT NOT NULL,
		parts TEXT NOT NULL,
		turn_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL DEFAULT '',
		UNIQUE(room_id, id)
	);
	INSERT INTO messages_v3 (seq, id, room_id, role, parts, turn_id, created_at)
		SELECT seq, id, room_id, role, parts, turn_id, created_at FROM messages;
	DROP TABLE messages;
	ALTER TABLE messages_v3 RENAME TO messages;
	CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, seq);`,
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration v%d: %w", i+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", i+1, err)
		}
	}

	return nil
}
