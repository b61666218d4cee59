// Package sqlite persists rooms, messages, boards and session state in a
// single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

type Store struct {
	db *sql.DB
}

var _ ports.RoomStore = (*Store)(nil)

// Open creates or opens the database at path and brings the schema up to date.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping backs the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) GetRoom(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	var (
		room             domain.Room
		created, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, title, created_at, updated_at FROM rooms WHERE id = ?`, string(id),
	).Scan(&room.ID, &room.OwnerID, &room.Title, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Room{}, fmt.Errorf("room %s: %w", id, domain.ErrRoomNotFound)
		}
		return domain.Room{}, fmt.Errorf("query room: %w", err)
	}

	room.CreatedAt = parseTime(created)
	room.UpdatedAt = parseTime(updated)
	return room, nil
}

func (s *Store) SaveRoom(ctx context.Context, room domain.Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, owner_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			title = excluded.title,
			updated_at = excluded.updated_at`,
		string(room.ID), string(room.OwnerID), room.Title, formatTime(room.CreatedAt), formatTime(room.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert room: %w", err)
	}
	return nil
}

// GetBoard reports ErrRoomNotFound when the room has no board yet.
func (s *Store) GetBoard(ctx context.Context, roomID domain.RoomID) (domain.Board, error) {
	var (
		nodes, suggestions, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT nodes, suggestions, last_updated FROM boards WHERE room_id = ?`, string(roomID),
	).Scan(&nodes, &suggestions, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Board{}, fmt.Errorf("board of %s: %w", roomID, domain.ErrRoomNotFound)
		}
		return domain.Board{}, fmt.Errorf("query board: %w", err)
	}

	board := domain.Board{RoomID: roomID, LastUpdated: parseTime(updated)}
	if err := json.Unmarshal([]byte(nodes), &board.Nodes); err != nil {
		return domain.Board{}, fmt.Errorf("decode board nodes: %w", err)
	}
	if err := json.Unmarshal([]byte(suggestions), &board.Suggestions); err != nil {
		return domain.Board{}, fmt.Errorf("decode board suggestions: %w", err)
	}
	if board.Nodes == nil {
		board.Nodes = []domain.BoardNode{}
	}
	return board, nil
}

func (s *Store) SaveBoard(ctx context.Context, board domain.Board) error {
	nodes := board.Nodes
	if nodes == nil {
		nodes = []domain.BoardNode{}
	}
	encodedNodes, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("encode board nodes: %w", err)
	}
	encodedSuggestions, err := json.Marshal(board.Suggestions)
	if err != nil {
		return fmt.Errorf("encode board suggestions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO boards (room_id, nodes, suggestions, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			nodes = excluded.nodes,
			suggestions = excluded.suggestions,
			last_updated = excluded.last_updated`,
		string(board.RoomID), string(encodedNodes), string(encodedSuggestions), formatTime(board.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("upsert board: %w", err)
	}
	return nil
}

// ListMessages returns a room's messages in append order.
func (s *Store) ListMessages(ctx context.Context, roomID domain.RoomID) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, parts, turn_id, created_at FROM messages WHERE room_id = ? ORDER BY seq`, string(roomID),
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var (
			msg            domain.Message
			parts, created string
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &parts, &msg.TurnID, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
			return nil, fmt.Errorf("decode message %s parts: %w", msg.ID, err)
		}
		msg.RoomID = roomID
		msg.CreatedAt = parseTime(created)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// AppendMessage ignores a message whose id is already stored for its room.
func (s *Store) AppendMessage(ctx context.Context, message domain.Message) error {
	parts, err := json.Marshal(message.Parts)
	if err != nil {
		return fmt.Errorf("encode message parts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, role, parts, turn_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, id) DO NOTHING`,
		string(message.ID), string(message.RoomID), string(message.Role), string(parts), message.TurnID, formatTime(message.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) GetSessionState(ctx context.Context, roomID domain.RoomID) (domain.ManagedSessionState, error) {
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM session_states WHERE room_id = ?`, string(roomID),
	).Scan(&state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ManagedSessionState{}, fmt.Errorf("session of %s: %w", roomID, domain.ErrSessionNotFound)
		}
		return domain.ManagedSessionState{}, fmt.Errorf("query session state: %w", err)
	}

	var decoded domain.ManagedSessionState
	if err := json.Unmarshal([]byte(state), &decoded); err != nil {
		return domain.ManagedSessionState{}, fmt.Errorf("decode session state: %w", err)
	}
	decoded.RoomID = roomID
	return decoded, nil
}

func (s *Store) SaveSessionState(ctx context.Context, state domain.ManagedSessionState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_states (room_id, phase, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			phase = excluded.phase,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		string(state.RoomID), string(state.Phase), string(encoded), formatTime(state.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session state: %w", err)
	}
	return nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}
