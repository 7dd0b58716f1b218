// Package queue owns the per-game sequence counter and the outbound move
// queue. It guarantees every locally made move is eventually delivered to
// the server exactly once, in the order it was made, or is explicitly
// abandoned with a reported reason.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marlow/boardsync/internal/events"
	"github.com/marlow/boardsync/internal/retry"
	"github.com/marlow/boardsync/internal/store"
	"github.com/marlow/boardsync/internal/syncclient"
)

const (
	// DefaultBatchSize bounds how many moves one batch sends.
	DefaultBatchSize = 5
	// DefaultDrainInterval is the fallback sync period for non-empty queues.
	DefaultDrainInterval = 10 * time.Second
	// DefaultMaxOrderingConflicts is how many consecutive 409s the head of
	// a queue may take before the manager escalates to a forced resync.
	DefaultMaxOrderingConflicts = 5
)

// Sender submits a single move to the server. Satisfied by
// *syncclient.Client.
type Sender interface {
	SubmitMove(req *syncclient.MoveRequest) (*syncclient.MoveResponse, error)
}

// Gate reports whether the link is stable enough to attempt a send.
// Satisfied by *netmon.Monitor.
type Gate interface {
	IsStable() bool
}

// Manager is the offline queue manager.
type Manager struct {
	store  *store.Store
	sender Sender
	gate   Gate
	clock  retry.Clock
	stream *events.Stream

	Policy               retry.Policy
	BatchSize            int
	DrainInterval        time.Duration
	MaxOrderingConflicts int

	// ResyncFunc is invoked when repeated ordering conflicts stall the
	// queue; the coordinator points it at a forced resync.
	ResyncFunc func(gameID, reason string)

	mu          sync.Mutex
	seq         map[string]int64
	inFlight    map[string]bool
	retryTimers map[string]retry.Timer
	ticker      retry.Ticker
	destroyed   bool
	done        chan struct{}
}

// New creates a queue manager around the given store, sender and gate.
func New(st *store.Store, sender Sender, gate Gate, clock retry.Clock) *Manager {
	return &Manager{
		store:                st,
		sender:               sender,
		gate:                 gate,
		clock:                clock,
		stream:               events.NewStream(),
		Policy:               retry.MovePolicy(),
		BatchSize:            DefaultBatchSize,
		DrainInterval:        DefaultDrainInterval,
		MaxOrderingConflicts: DefaultMaxOrderingConflicts,
		seq:                  make(map[string]int64),
		inFlight:             make(map[string]bool),
		retryTimers:          make(map[string]retry.Timer),
		done:                 make(chan struct{}),
	}
}

// Events exposes the manager's lifecycle stream.
func (m *Manager) Events() *events.Stream {
	return m.stream
}

// Start begins the periodic drain loop. Queued moves drain eventually even
// when no new moves are made.
func (m *Manager) Start() {
	m.mu.Lock()
	m.ticker = m.clock.NewTicker(m.DrainInterval)
	ticker := m.ticker
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C():
				games, err := m.store.GamesWithQueuedMoves()
				if err != nil {
					slog.Warn("drain: list games", "err", err)
					continue
				}
				for _, g := range games {
					go m.SyncQueue(g)
				}
			}
		}
	}()
}

// QueueMove assigns the next sequence number, persists the move, and
// attempts an immediate non-blocking sync when the link is stable. The
// periodic drain loop is the fallback path, not the primary one.
func (m *Manager) QueueMove(gameID string, move json.RawMessage, playerID string) (store.QueuedMove, error) {
	seq, err := m.nextSequence(gameID)
	if err != nil {
		return store.QueuedMove{}, err
	}

	qm, err := m.store.EnqueueMove(gameID, move, playerID, seq)
	if err != nil {
		return store.QueuedMove{}, fmt.Errorf("enqueue move: %w", err)
	}

	m.stream.Publish(events.Event{
		Type:   events.MoveQueued,
		GameID: gameID,
		Payload: events.MovePayload{
			MoveID:         qm.ID,
			PlayerID:       playerID,
			SequenceNumber: seq,
			Stats:          m.statsSnapshot(gameID),
		},
	})

	if m.gate.IsStable() {
		go m.SyncQueue(gameID)
	}
	return qm, nil
}

// nextSequence returns the next per-game sequence number. The in-memory
// counter is the single authority; it is seeded once from the persisted
// queue's maximum so a reload cannot reuse a number.
func (m *Manager) nextSequence(gameID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.seq[gameID]; !ok {
		max, err := m.store.MaxSequence(gameID)
		if err != nil {
			return 0, fmt.Errorf("seed sequence: %w", err)
		}
		m.seq[gameID] = max
	}
	m.seq[gameID]++
	return m.seq[gameID], nil
}

// SyncQueue drains the game's queue in batches. At most one sync per game
// is in flight at any time; a second call while one runs is a no-op.
func (m *Manager) SyncQueue(gameID string) error {
	m.mu.Lock()
	if m.destroyed || m.inFlight[gameID] {
		m.mu.Unlock()
		return nil
	}
	m.inFlight[gameID] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.inFlight, gameID)
		m.mu.Unlock()
	}()

	if !m.gate.IsStable() {
		slog.Debug("sync skipped, link not stable", "game", gameID)
		return nil
	}

	moves, err := m.store.ListQueuedMoves(gameID)
	if err != nil {
		return fmt.Errorf("list queued moves: %w", err)
	}
	if len(moves) == 0 {
		return nil
	}

	m.stream.Publish(events.Event{
		Type:    events.SyncStarted,
		GameID:  gameID,
		Payload: events.SyncPayload{Remaining: len(moves)},
	})

	sent := 0
	stopped := false
	for start := 0; start < len(moves) && !stopped; start += m.BatchSize {
		// A mid-cycle degradation abandons the remaining batches; they stay
		// queued for the next attempt.
		if start > 0 && !m.gate.IsStable() {
			slog.Debug("link degraded mid-sync, abandoning cycle", "game", gameID, "sent", sent)
			break
		}

		end := min(start+m.BatchSize, len(moves))
		for _, mv := range moves[start:end] {
			ok, cont := m.sendMove(mv)
			if ok {
				sent++
			}
			if !cont {
				stopped = true
				break
			}
		}
	}

	m.stream.Publish(events.Event{
		Type:   events.SyncCompleted,
		GameID: gameID,
		Payload: events.SyncPayload{
			Sent:      sent,
			Remaining: m.statsSnapshot(gameID).TotalMoves,
		},
	})
	return nil
}

// sendMove submits one move and applies the response taxonomy. Returns
// (sent, continueCycle). Moves behind a conflicted or transiently failed
// head must not be sent out of order, so those outcomes stop the cycle.
func (m *Manager) sendMove(mv store.QueuedMove) (bool, bool) {
	_, err := m.sender.SubmitMove(&syncclient.MoveRequest{
		GameID:         mv.GameID,
		Move:           mv.Move,
		PlayerID:       mv.PlayerID,
		SequenceNumber: mv.SequenceNumber,
		Timestamp:      mv.Timestamp,
	})

	switch {
	case err == nil:
		if err := m.store.RemoveQueuedMove(mv.ID); err != nil {
			slog.Warn("remove sent move", "id", mv.ID, "err", err)
		}
		m.stream.Publish(events.Event{
			Type:   events.MoveSent,
			GameID: mv.GameID,
			Payload: events.MovePayload{
				MoveID:         mv.ID,
				PlayerID:       mv.PlayerID,
				SequenceNumber: mv.SequenceNumber,
				Stats:          m.statsSnapshot(mv.GameID),
			},
		})
		return true, true

	case errors.Is(err, syncclient.ErrInvalidMove):
		// Semantically invalid: permanent discard, surfaced as rejection.
		if err := m.store.RemoveQueuedMove(mv.ID); err != nil {
			slog.Warn("remove invalid move", "id", mv.ID, "err", err)
		}
		slog.Info("move rejected by server", "game", mv.GameID, "seq", mv.SequenceNumber)
		m.stream.Publish(events.Event{
			Type:   events.MoveFailed,
			GameID: mv.GameID,
			Payload: events.MoveFailedPayload{
				MoveID:         mv.ID,
				SequenceNumber: mv.SequenceNumber,
				Reason:         "move rejected",
			},
		})
		return false, true

	case errors.Is(err, syncclient.ErrConflict):
		// Ordering conflict: the move may resolve once earlier moves land,
		// so it stays queued and never consumes the transient budget.
		if err := m.store.IncrementConflictCount(mv.ID); err != nil {
			slog.Warn("increment conflict count", "id", mv.ID, "err", err)
		}
		conflicts := mv.ConflictCount + 1
		if conflicts >= m.MaxOrderingConflicts {
			slog.Warn("ordering conflicts stalled the queue, requesting resync",
				"game", mv.GameID, "seq", mv.SequenceNumber, "conflicts", conflicts)
			m.stream.Publish(events.Event{
				Type:    events.SyncFailed,
				GameID:  mv.GameID,
				Payload: events.SyncPayload{Reason: "ordering stalled"},
			})
			if m.ResyncFunc != nil {
				m.ResyncFunc(mv.GameID, "ordering stalled")
			}
			return false, false
		}
		m.scheduleRetry(mv.GameID, m.Policy.Delay(conflicts-1))
		return false, false

	default:
		// Transient failure: bounded backoff, then permanent drop.
		if err := m.store.IncrementRetryCount(mv.ID); err != nil {
			slog.Warn("increment retry count", "id", mv.ID, "err", err)
		}
		attempts := mv.RetryCount + 1
		if m.Policy.Exhausted(attempts) {
			if err := m.store.RemoveQueuedMove(mv.ID); err != nil {
				slog.Warn("remove failed move", "id", mv.ID, "err", err)
			}
			slog.Warn("move dropped after max retries",
				"game", mv.GameID, "seq", mv.SequenceNumber, "attempts", attempts)
			m.stream.Publish(events.Event{
				Type:   events.MoveFailed,
				GameID: mv.GameID,
				Payload: events.MoveFailedPayload{
					MoveID:         mv.ID,
					SequenceNumber: mv.SequenceNumber,
					Reason:         "max retries exceeded",
				},
			})
			return false, false
		}
		slog.Debug("transient send failure, retrying later",
			"game", mv.GameID, "seq", mv.SequenceNumber, "attempt", attempts, "err", err)
		m.scheduleRetry(mv.GameID, m.Policy.Delay(attempts-1))
		return false, false
	}
}

// scheduleRetry arms a delayed SyncQueue for the game. One pending retry
// per game is enough: a sync cycle stops at the first failure.
func (m *Manager) scheduleRetry(gameID string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed || m.retryTimers[gameID] != nil {
		return
	}
	m.retryTimers[gameID] = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.retryTimers, gameID)
		dead := m.destroyed
		m.mu.Unlock()
		if !dead {
			m.SyncQueue(gameID)
		}
	})
}

// GetQueueStats returns queue-pressure statistics for the UI.
func (m *Manager) GetQueueStats(gameID string) (store.QueueStats, error) {
	return m.store.QueueStats(gameID)
}

// ClearQueue drops all queued moves and resets the sequence counter. Used
// when a game is abandoned or restarted, never during normal play.
func (m *Manager) ClearQueue(gameID string) error {
	if err := m.store.ClearQueue(gameID); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	m.mu.Lock()
	m.seq[gameID] = 0
	if t := m.retryTimers[gameID]; t != nil {
		t.Stop()
		delete(m.retryTimers, gameID)
	}
	m.mu.Unlock()
	return nil
}

// Destroy stops the drain loop and all pending retries and drops all
// subscribers. Outstanding sends finish but their callbacks see the
// destroyed flag and do nothing.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	if m.ticker != nil {
		m.ticker.Stop()
	}
	for g, t := range m.retryTimers {
		t.Stop()
		delete(m.retryTimers, g)
	}
	m.inFlight = make(map[string]bool)
	close(m.done)
	m.mu.Unlock()

	m.stream.Close()
}

func (m *Manager) statsSnapshot(gameID string) events.QueueSnapshot {
	st, err := m.store.QueueStats(gameID)
	if err != nil {
		slog.Debug("queue stats", "game", gameID, "err", err)
		return events.QueueSnapshot{}
	}
	return events.QueueSnapshot{
		TotalMoves:         st.TotalMoves,
		PendingMoves:       st.PendingMoves,
		FailedMoves:        st.FailedMoves,
		AverageRetryCount:  st.AverageRetryCount,
		OldestQueuedMove:   st.OldestQueuedMove,
		EstimatedSizeBytes: st.EstimatedSizeBytes,
	}
}
