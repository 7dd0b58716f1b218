package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// CacheState upserts the snapshot for a game. A global cap bounds the
// number of distinct cached games; the least-recently-updated snapshot is
// evicted to make room. Caching a server-confirmed snapshot clears the
// local-changes flag.
func (s *Store) CacheState(gameID string, state json.RawMessage, serverVersion int64) error {
	return s.withWriteLock(func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM game_states WHERE game_id = ?`, gameID).Scan(&exists); err != nil {
			return fmt.Errorf("check cached state: %w", err)
		}
		if exists == 0 {
			var count int
			if err := tx.QueryRow(`SELECT COUNT(*) FROM game_states`).Scan(&count); err != nil {
				return fmt.Errorf("count cached states: %w", err)
			}
			if over := count - s.StateCap + 1; over > 0 {
				res, err := tx.Exec(`
					DELETE FROM game_states WHERE game_id IN (
						SELECT game_id FROM game_states ORDER BY last_updated ASC LIMIT ?
					)`, over)
				if err != nil {
					return fmt.Errorf("evict cached states: %w", err)
				}
				if n, _ := res.RowsAffected(); n > 0 {
					slog.Debug("state cache at capacity, evicted least recent", "evicted", n)
				}
			}
		}

		_, err := tx.Exec(`
			INSERT INTO game_states (game_id, state, server_version, local_changes, last_updated)
			VALUES (?, ?, ?, 0, ?)
			ON CONFLICT(game_id) DO UPDATE SET
				state = excluded.state,
				server_version = excluded.server_version,
				local_changes = 0,
				last_updated = excluded.last_updated`,
			gameID, string(state), serverVersion, s.now().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("cache state: %w", err)
		}
		return nil
	})
}

// SetLocalChanges flips the dirty flag for a cached state. Setting it on a
// game with no cached snapshot is a no-op.
func (s *Store) SetLocalChanges(gameID string, dirty bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	val := 0
	if dirty {
		val = 1
	}
	_, err := s.conn.Exec(`UPDATE game_states SET local_changes = ? WHERE game_id = ?`, val, gameID)
	return err
}

// GetCachedState returns the cached snapshot for a game, or nil when none
// exists.
func (s *Store) GetCachedState(gameID string) (*CachedGameState, error) {
	var cs CachedGameState
	var stateStr, ts string
	var dirty int

	err := s.conn.QueryRow(`
		SELECT game_id, state, server_version, local_changes, last_updated
		FROM game_states WHERE game_id = ?`, gameID).
		Scan(&cs.GameID, &stateStr, &cs.ServerVersion, &dirty, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached state: %w", err)
	}

	cs.State = json.RawMessage(stateStr)
	cs.LocalChanges = dirty != 0
	cs.LastUpdated, err = parseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("parse last_updated: %w", err)
	}
	return &cs, nil
}

// CountCachedStates returns the number of cached snapshots.
func (s *Store) CountCachedStates() (int, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(*) FROM game_states`).Scan(&n)
	return n, err
}
