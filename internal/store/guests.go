package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateGuestSession creates an ephemeral identity record for an
// unauthenticated participant.
func (s *Store) CreateGuestSession(gameID, displayName string) (GuestSession, error) {
	id, err := generateGuestID()
	if err != nil {
		return GuestSession{}, fmt.Errorf("generate guest id: %w", err)
	}

	gs := GuestSession{
		GuestID:     id,
		GameID:      gameID,
		DisplayName: displayName,
		CreatedAt:   s.now(),
		GameHistory: []string{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.Exec(`
		INSERT INTO guest_sessions (guest_id, game_id, display_name, created_at, game_history)
		VALUES (?, ?, ?, ?, '[]')`,
		gs.GuestID, gs.GameID, gs.DisplayName, gs.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return GuestSession{}, fmt.Errorf("insert guest session: %w", err)
	}
	return gs, nil
}

// GetGuestSession returns a guest session by ID, or nil when none exists.
func (s *Store) GetGuestSession(guestID string) (*GuestSession, error) {
	row := s.conn.QueryRow(`
		SELECT guest_id, game_id, display_name, created_at, game_history
		FROM guest_sessions WHERE guest_id = ?`, guestID)
	return scanGuest(row)
}

// FindGuestByGame returns the most recently created guest session for a
// game, or nil. Lets a reconnecting client recover its identity.
func (s *Store) FindGuestByGame(gameID string) (*GuestSession, error) {
	row := s.conn.QueryRow(`
		SELECT guest_id, game_id, display_name, created_at, game_history
		FROM guest_sessions WHERE game_id = ?
		ORDER BY created_at DESC LIMIT 1`, gameID)
	return scanGuest(row)
}

// ListGuestSessions returns all guest sessions, most recent first.
func (s *Store) ListGuestSessions() ([]GuestSession, error) {
	rows, err := s.conn.Query(`
		SELECT guest_id, game_id, display_name, created_at, game_history
		FROM guest_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query guest sessions: %w", err)
	}
	defer rows.Close()

	var sessions []GuestSession
	for rows.Next() {
		gs, err := scanGuestRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *gs)
	}
	return sessions, rows.Err()
}

// AppendGameHistory appends an entry to a guest's history. The history is
// append-only; there is no way to rewrite it.
func (s *Store) AppendGameHistory(guestID, entry string) error {
	return s.withWriteLock(func(tx *sql.Tx) error {
		var historyStr string
		err := tx.QueryRow(`SELECT game_history FROM guest_sessions WHERE guest_id = ?`, guestID).Scan(&historyStr)
		if err == sql.ErrNoRows {
			return fmt.Errorf("guest session %s not found", guestID)
		}
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}

		var history []string
		if err := json.Unmarshal([]byte(historyStr), &history); err != nil {
			return fmt.Errorf("unmarshal history: %w", err)
		}
		history = append(history, entry)

		data, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("marshal history: %w", err)
		}
		if _, err := tx.Exec(`UPDATE guest_sessions SET game_history = ? WHERE guest_id = ?`, string(data), guestID); err != nil {
			return fmt.Errorf("write history: %w", err)
		}
		return nil
	})
}

// DeleteGuestSession removes a guest session. Idempotent.
func (s *Store) DeleteGuestSession(guestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(`DELETE FROM guest_sessions WHERE guest_id = ?`, guestID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuest(row *sql.Row) (*GuestSession, error) {
	gs, err := scanGuestRows(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return gs, err
}

func scanGuestRows(row rowScanner) (*GuestSession, error) {
	var gs GuestSession
	var ts, historyStr string
	if err := row.Scan(&gs.GuestID, &gs.GameID, &gs.DisplayName, &ts, &historyStr); err != nil {
		return nil, err
	}

	var err error
	gs.CreatedAt, err = parseTimestamp(ts)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(historyStr), &gs.GameHistory); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	return &gs, nil
}
