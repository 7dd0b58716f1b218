package events

import (
	"encoding/json"
	"time"
)

// Type identifies a lifecycle event on the merged sync stream.
type Type string

// Canonical event types
const (
	MoveQueued         Type = "move_queued"
	MoveSent           Type = "move_sent"
	MoveFailed         Type = "move_failed"
	SyncStarted        Type = "sync_started"
	SyncCompleted      Type = "sync_completed"
	SyncFailed         Type = "sync_failed"
	ConflictDetected   Type = "conflict_detected"
	ConflictResolved   Type = "conflict_resolved"
	ConnectionLost     Type = "connection_lost"
	ConnectionRestored Type = "connection_restored"
	ConnectionQuality  Type = "connection_quality"
	GuestCreated       Type = "guest_created"
	ResyncRequested    Type = "resync_requested"
)

// AllTypes returns all valid event types.
func AllTypes() map[Type]bool {
	return map[Type]bool{
		MoveQueued:         true,
		MoveSent:           true,
		MoveFailed:         true,
		SyncStarted:        true,
		SyncCompleted:      true,
		SyncFailed:         true,
		ConflictDetected:   true,
		ConflictResolved:   true,
		ConnectionLost:     true,
		ConnectionRestored: true,
		ConnectionQuality:  true,
		GuestCreated:       true,
		ResyncRequested:    true,
	}
}

// IsValidType checks if the given event type string is valid.
func IsValidType(t string) bool {
	return AllTypes()[Type(t)]
}

// Event is a single entry on a component's lifecycle stream. GameID is
// empty for events that are not scoped to a single game (connection
// changes).
type Event struct {
	Type    Type
	GameID  string
	Time    time.Time
	Payload any
}

// QueueSnapshot summarises queue pressure for a game at event time.
type QueueSnapshot struct {
	TotalMoves         int
	PendingMoves       int
	FailedMoves        int
	AverageRetryCount  float64
	OldestQueuedMove   time.Time
	EstimatedSizeBytes int64
}

// MovePayload accompanies move_queued and move_sent.
type MovePayload struct {
	MoveID         string
	PlayerID       string
	SequenceNumber int64
	Stats          QueueSnapshot
}

// MoveFailedPayload accompanies move_failed.
type MoveFailedPayload struct {
	MoveID         string
	SequenceNumber int64
	Reason         string
}

// SyncPayload accompanies sync_started, sync_completed and sync_failed.
type SyncPayload struct {
	Sent      int
	Remaining int
	Reason    string
}

// ConflictPayload accompanies conflict_detected.
type ConflictPayload struct {
	ServerSequence int64
	LocalSequence  int64
	QueuedMoves    int
}

// ResolutionPayload accompanies conflict_resolved.
type ResolutionPayload struct {
	Strategy         string
	DiscardedMoves   int
	RollbackRequired bool
}

// ConnectionPayload accompanies connection_lost, connection_restored and
// connection_quality.
type ConnectionPayload struct {
	Online          bool
	Quality         string
	PreviousQuality string
	Latency         time.Duration
}

// GuestPayload accompanies guest_created.
type GuestPayload struct {
	GuestID     string
	DisplayName string
}

// ResyncPayload accompanies resync_requested.
type ResyncPayload struct {
	Reason string
}

// AuthoritativeState is republished by the coordinator when a resolved or
// accepted server snapshot replaces the local prediction.
type AuthoritativeState struct {
	State         json.RawMessage
	ServerVersion int64
}
