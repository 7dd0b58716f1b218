package store

import (
	"encoding/json"
	"time"
)

// QueuedMove is a locally made move awaiting server confirmation.
type QueuedMove struct {
	ID             string
	GameID         string
	PlayerID       string
	Move           json.RawMessage
	SequenceNumber int64
	Timestamp      time.Time
	RetryCount     int
	ConflictCount  int
}

// CachedGameState is the last accepted snapshot for a game. LocalChanges
// is set while any locally queued move is unconfirmed and cleared only
// when a server-confirmed snapshot is applied.
type CachedGameState struct {
	GameID        string
	State         json.RawMessage
	ServerVersion int64
	LocalChanges  bool
	LastUpdated   time.Time
}

// GuestSession is identity continuity for an unauthenticated participant.
type GuestSession struct {
	GuestID     string
	GameID      string
	DisplayName string
	CreatedAt   time.Time
	GameHistory []string
}

// QueueStats summarises queue pressure for one game. Consumed by the UI
// layer; never used for control flow.
type QueueStats struct {
	TotalMoves         int
	PendingMoves       int
	FailedMoves        int
	AverageRetryCount  float64
	OldestQueuedMove   time.Time
	EstimatedSizeBytes int64
}
