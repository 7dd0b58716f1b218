// Package stream subscribes to the server's per-game push channel and
// delivers typed authoritative events: heartbeats, opponent moves,
// full-state resyncs and connection lifecycle markers.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marlow/boardsync/internal/game"
)

// Kind identifies an inbound authoritative event.
type Kind string

const (
	KindHeartbeat    Kind = "heartbeat"
	KindOpponentMove Kind = "opponent_move"
	KindStateSync    Kind = "state_sync"
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
)

// Message is the wire envelope for inbound events.
type Message struct {
	Kind    Kind            `json:"kind"`
	GameID  string          `json:"game_id"`
	Seq     int64           `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OpponentMovePayload carries an accepted opponent move together with the
// resulting authoritative state.
type OpponentMovePayload struct {
	Move          json.RawMessage `json:"move"`
	State         game.Snapshot   `json:"state"`
	ServerVersion int64           `json:"server_version"`
}

// StateSyncPayload is a full authoritative snapshot.
type StateSyncPayload struct {
	State         game.Snapshot `json:"state"`
	ServerVersion int64         `json:"server_version"`
}

const (
	pingInterval = 25 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Subscription is an open push channel for one game. Messages are
// delivered on Messages until the connection drops or Close is called,
// after which the channel is closed.
type Subscription struct {
	gameID string
	conn   *websocket.Conn
	msgs   chan Message

	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	writeMu sync.Mutex
}

// Dial opens the push channel for a game. baseURL is the server's HTTP
// base; the scheme is rewritten for websockets.
func Dial(baseURL, gameID string) (*Subscription, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/games/" + gameID + "/stream"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	s := &Subscription{
		gameID: gameID,
		conn:   conn,
		msgs:   make(chan Message, 32),
		done:   make(chan struct{}),
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// Messages returns the inbound event channel. It closes when the
// subscription ends.
func (s *Subscription) Messages() <-chan Message {
	return s.msgs
}

// RequestResync asks the server for a fresh full-state snapshot, which
// arrives as a state_sync message.
func (s *Subscription) RequestResync() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(Message{Kind: "resync", GameID: s.gameID})
}

func (s *Subscription) readLoop() {
	defer func() {
		s.Close()
		close(s.msgs)
	}()

	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			if !s.isClosed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("stream read ended", "game", s.gameID, "err", err)
			}
			return
		}
		select {
		case s.msgs <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				slog.Debug("stream ping failed", "game", s.gameID, "err", err)
				s.Close()
				return
			}
		}
	}
}

func (s *Subscription) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close terminates the subscription. Idempotent.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	s.conn.Close()
}
