// Package store is the durable local store for the sync engine. It is the
// only component that persists anything; everything else rehydrates from
// it on startup. Three collections: queued outbound moves, cached per-game
// state snapshots, and guest identity records.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const dbFile = "boardsync.db"

// Default capacity bounds. Eviction past these caps is silent by contract:
// a full queue means the client has been offline far too long.
const (
	DefaultMoveQueueCap = 100
	DefaultStateCap     = 10
)

// Store wraps the SQLite connection. Each exported method is atomic: it
// runs in a single statement or transaction, so a concurrent reader never
// observes a partial write. Cross-call sequences are not transactional.
type Store struct {
	conn *sql.DB

	// write serialization; SQLite handles reader concurrency via WAL
	mu sync.Mutex

	// now is swappable in tests
	now func() time.Time

	MoveQueueCap int
	StateCap     int
}

// Open opens (creating if necessary) the store database in baseDir.
func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	conn, err := sql.Open("sqlite", filepath.Join(baseDir, dbFile))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return NewFromConn(conn)
}

// NewFromConn builds a Store around an existing connection and ensures the
// schema exists. Tests use this with an in-memory database.
func NewFromConn(conn *sql.DB) (*Store, error) {
	s := &Store{
		conn:         conn,
		now:          func() time.Time { return time.Now().UTC() },
		MoveQueueCap: DefaultMoveQueueCap,
		StateCap:     DefaultStateCap,
	}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.conn.Close()
}

// SetNow overrides the timestamp source. Test hook.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

func (s *Store) init() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS moves_queue (
			id              TEXT PRIMARY KEY,
			game_id         TEXT NOT NULL,
			player_id       TEXT NOT NULL,
			move            JSON NOT NULL,
			sequence_number INTEGER NOT NULL,
			timestamp       DATETIME NOT NULL,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			conflict_count  INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_moves_queue_game ON moves_queue(game_id);
		CREATE INDEX IF NOT EXISTS idx_moves_queue_seq ON moves_queue(game_id, sequence_number);
		CREATE INDEX IF NOT EXISTS idx_moves_queue_time ON moves_queue(timestamp);

		CREATE TABLE IF NOT EXISTS game_states (
			game_id        TEXT PRIMARY KEY,
			state          JSON NOT NULL,
			server_version INTEGER NOT NULL DEFAULT 0,
			local_changes  INTEGER NOT NULL DEFAULT 0,
			last_updated   DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_game_states_updated ON game_states(last_updated);

		CREATE TABLE IF NOT EXISTS guest_sessions (
			guest_id     TEXT PRIMARY KEY,
			game_id      TEXT NOT NULL,
			display_name TEXT NOT NULL,
			created_at   DATETIME NOT NULL,
			game_history JSON NOT NULL DEFAULT '[]'
		);
		CREATE INDEX IF NOT EXISTS idx_guest_sessions_game ON guest_sessions(game_id);
		CREATE INDEX IF NOT EXISTS idx_guest_sessions_created ON guest_sessions(created_at);
	`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// withWriteLock serializes multi-statement writes through a transaction.
func (s *Store) withWriteLock(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
