package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// EnqueueMove appends a move to the game's queue and returns the stored
// record. When the queue is at capacity the oldest entries by timestamp
// are evicted first; eviction is silent, not an error.
func (s *Store) EnqueueMove(gameID string, move json.RawMessage, playerID string, sequenceNumber int64) (QueuedMove, error) {
	id, err := generateMoveID()
	if err != nil {
		return QueuedMove{}, fmt.Errorf("generate move id: %w", err)
	}

	qm := QueuedMove{
		ID:             id,
		GameID:         gameID,
		PlayerID:       playerID,
		Move:           move,
		SequenceNumber: sequenceNumber,
		Timestamp:      s.now(),
	}

	err = s.withWriteLock(func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM moves_queue WHERE game_id = ?`, gameID).Scan(&count); err != nil {
			return fmt.Errorf("count queue: %w", err)
		}
		if over := count - s.MoveQueueCap + 1; over > 0 {
			res, err := tx.Exec(`
				DELETE FROM moves_queue WHERE id IN (
					SELECT id FROM moves_queue WHERE game_id = ?
					ORDER BY timestamp ASC, sequence_number ASC LIMIT ?
				)`, gameID, over)
			if err != nil {
				return fmt.Errorf("evict oldest: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				slog.Warn("move queue at capacity, evicted oldest", "game", gameID, "evicted", n)
			}
		}

		_, err := tx.Exec(`
			INSERT INTO moves_queue (id, game_id, player_id, move, sequence_number, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			qm.ID, qm.GameID, qm.PlayerID, string(qm.Move), qm.SequenceNumber,
			qm.Timestamp.Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert move: %w", err)
		}
		return nil
	})
	if err != nil {
		return QueuedMove{}, err
	}
	return qm, nil
}

// ListQueuedMoves returns the game's queued moves sorted by sequence
// number ascending, which equals enqueue order.
func (s *Store) ListQueuedMoves(gameID string) ([]QueuedMove, error) {
	rows, err := s.conn.Query(`
		SELECT id, game_id, player_id, move, sequence_number, timestamp, retry_count, conflict_count
		FROM moves_queue WHERE game_id = ?
		ORDER BY sequence_number ASC`, gameID)
	if err != nil {
		return nil, fmt.Errorf("query moves: %w", err)
	}
	defer rows.Close()

	var moves []QueuedMove
	for rows.Next() {
		var m QueuedMove
		var moveStr, ts string
		if err := rows.Scan(&m.ID, &m.GameID, &m.PlayerID, &moveStr, &m.SequenceNumber, &ts, &m.RetryCount, &m.ConflictCount); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		m.Move = json.RawMessage(moveStr)
		m.Timestamp, err = parseTimestamp(ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp id=%s: %w", m.ID, err)
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// RemoveQueuedMove deletes a queued move. Removing an already removed move
// is a no-op.
func (s *Store) RemoveQueuedMove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`DELETE FROM moves_queue WHERE id = ?`, id)
	return err
}

// IncrementRetryCount bumps the transient-failure counter for a move.
// No-op when the move no longer exists.
func (s *Store) IncrementRetryCount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`UPDATE moves_queue SET retry_count = retry_count + 1 WHERE id = ?`, id)
	return err
}

// IncrementConflictCount bumps the ordering-conflict counter for a move.
// Ordering conflicts (HTTP 409) are accounted separately from transient
// failures so they never consume the permanent-failure budget.
func (s *Store) IncrementConflictCount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`UPDATE moves_queue SET conflict_count = conflict_count + 1 WHERE id = ?`, id)
	return err
}

// MaxSequence returns the highest queued sequence number for a game, or 0
// when the queue is empty. Used to reseed the in-memory counter on
// startup.
func (s *Store) MaxSequence(gameID string) (int64, error) {
	var max sql.NullInt64
	err := s.conn.QueryRow(`SELECT MAX(sequence_number) FROM moves_queue WHERE game_id = ?`, gameID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", err)
	}
	return max.Int64, nil
}

// ClearQueue drops every queued move for the game.
func (s *Store) ClearQueue(gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`DELETE FROM moves_queue WHERE game_id = ?`, gameID)
	return err
}

// GamesWithQueuedMoves returns the distinct game IDs with a non-empty
// queue. Drives the periodic drain loop.
func (s *Store) GamesWithQueuedMoves() ([]string, error) {
	rows, err := s.conn.Query(`SELECT DISTINCT game_id FROM moves_queue`)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	var games []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// QueueStats computes queue-pressure statistics for a game.
func (s *Store) QueueStats(gameID string) (QueueStats, error) {
	var st QueueStats
	var avg sql.NullFloat64
	var oldest sql.NullString
	var size sql.NullInt64

	err := s.conn.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN retry_count = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN retry_count > 0 THEN 1 ELSE 0 END), 0),
		       AVG(retry_count),
		       MIN(timestamp),
		       SUM(LENGTH(move) + LENGTH(id) + LENGTH(game_id) + LENGTH(player_id))
		FROM moves_queue WHERE game_id = ?`, gameID).
		Scan(&st.TotalMoves, &st.PendingMoves, &st.FailedMoves, &avg, &oldest, &size)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}

	if avg.Valid {
		st.AverageRetryCount = avg.Float64
	}
	if oldest.Valid {
		if ts, err := parseTimestamp(oldest.String); err == nil {
			st.OldestQueuedMove = ts
		}
	}
	if size.Valid {
		st.EstimatedSizeBytes = size.Int64
	}
	return st, nil
}

// parseTimestamp tries the timestamp formats SQLite may hand back.
func parseTimestamp(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
