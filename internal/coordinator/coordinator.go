// Package coordinator composes the store, connection monitor, queue
// manager and conflict resolver, consumes the inbound authoritative
// stream, and fans a single merged lifecycle event stream out to the UI.
package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marlow/boardsync/internal/events"
	"github.com/marlow/boardsync/internal/game"
	"github.com/marlow/boardsync/internal/netmon"
	"github.com/marlow/boardsync/internal/queue"
	"github.com/marlow/boardsync/internal/resolve"
	"github.com/marlow/boardsync/internal/store"
	"github.com/marlow/boardsync/internal/stream"
)

// GameState is the per-game connection state machine.
type GameState string

const (
	StateDisconnected GameState = "disconnected"
	StateConnecting   GameState = "connecting"
	StateConnected    GameState = "connected"
	StateReconnecting GameState = "reconnecting"
)

// Channel is an open per-game authoritative push channel. Satisfied by
// *stream.Subscription.
type Channel interface {
	Messages() <-chan stream.Message
	RequestResync() error
	Close()
}

// Dialer opens the push channel for a game.
type Dialer func(gameID string) (Channel, error)

// Coordinator is the orchestration layer the UI talks to.
type Coordinator struct {
	store    *store.Store
	monitor  *netmon.Monitor
	queue    *queue.Manager
	resolver *resolve.Resolver
	rules    game.Rules
	dial     Dialer
	stream   *events.Stream

	mu        sync.Mutex
	games     map[string]*gameSession
	unsubs    []func()
	destroyed bool
}

type gameSession struct {
	gameID   string
	state    GameState
	channel  Channel
	local    game.Snapshot
	localSeq int64
}

// New wires the components together. The coordinator owns their
// lifecycles from here on: Destroy cascades.
func New(st *store.Store, mon *netmon.Monitor, qm *queue.Manager, res *resolve.Resolver, rules game.Rules, dial Dialer) *Coordinator {
	c := &Coordinator{
		store:    st,
		monitor:  mon,
		queue:    qm,
		resolver: res,
		rules:    rules,
		dial:     dial,
		stream:   events.NewStream(),
		games:    make(map[string]*gameSession),
	}

	qm.ResyncFunc = func(gameID, reason string) {
		c.ForceResync(gameID, reason)
	}

	c.unsubs = append(c.unsubs,
		mon.Events().Subscribe(c.onConnectionEvent),
		qm.Events().Subscribe(c.stream.Publish),
	)
	return c
}

// Subscribe attaches a handler to the merged event stream and returns an
// unsubscribe function.
func (c *Coordinator) Subscribe(h events.Handler) func() {
	return c.stream.Subscribe(h)
}

// onConnectionEvent republishes monitor events and drives the per-game
// state machines.
func (c *Coordinator) onConnectionEvent(ev events.Event) {
	c.mu.Lock()
	switch ev.Type {
	case events.ConnectionLost:
		for _, sess := range c.games {
			if sess.state == StateConnected {
				sess.state = StateReconnecting
			}
		}
	case events.ConnectionRestored:
		for _, sess := range c.games {
			if sess.state == StateReconnecting {
				sess.state = StateConnected
			}
		}
	}
	c.mu.Unlock()

	c.stream.Publish(ev)
}

// JoinGame opens the authoritative channel for a game. Any cached local
// state is replayed first (optimistic rehydration); the first real
// snapshot reconciles it through the resolver if needed.
func (c *Coordinator) JoinGame(gameID string) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return errors.New("coordinator destroyed")
	}
	if _, ok := c.games[gameID]; ok {
		c.mu.Unlock()
		return nil
	}
	sess := &gameSession{gameID: gameID, state: StateConnecting}
	c.games[gameID] = sess
	c.mu.Unlock()

	if cached, err := c.store.GetCachedState(gameID); err != nil {
		slog.Warn("read cached state", "game", gameID, "err", err)
	} else if cached != nil {
		var snap game.Snapshot
		if err := json.Unmarshal(cached.State, &snap); err != nil {
			slog.Warn("cached state unreadable", "game", gameID, "err", err)
		} else {
			c.mu.Lock()
			sess.local = snap
			c.mu.Unlock()
			slog.Info("rehydrated cached state", "game", gameID, "version", cached.ServerVersion)
		}
	}

	ch, err := c.dial(gameID)
	if err != nil {
		c.mu.Lock()
		sess.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("join game %s: %w", gameID, err)
	}

	c.mu.Lock()
	sess.channel = ch
	sess.state = StateConnected
	c.mu.Unlock()

	go c.consume(sess, ch)
	return nil
}

// consume drains a game's push channel until it closes.
func (c *Coordinator) consume(sess *gameSession, ch Channel) {
	for msg := range ch.Messages() {
		switch msg.Kind {
		case stream.KindHeartbeat:
			slog.Debug("heartbeat", "game", sess.gameID)
		case stream.KindOpponentMove:
			var p stream.OpponentMovePayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				slog.Warn("bad opponent move payload", "game", sess.gameID, "err", err)
				continue
			}
			c.handleAuthoritative(sess, p.State, msg.Seq, p.ServerVersion)
		case stream.KindStateSync:
			var p stream.StateSyncPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				slog.Warn("bad state sync payload", "game", sess.gameID, "err", err)
				continue
			}
			c.handleAuthoritative(sess, p.State, msg.Seq, p.ServerVersion)
		case stream.KindDisconnected:
			c.mu.Lock()
			sess.state = StateReconnecting
			c.mu.Unlock()
		case stream.KindConnected:
			c.mu.Lock()
			sess.state = StateConnected
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	if !c.destroyed && sess.state == StateConnected {
		sess.state = StateReconnecting
	}
	c.mu.Unlock()
}

// handleAuthoritative reconciles a server snapshot with the local
// prediction, resolving divergence when local unconfirmed moves exist.
func (c *Coordinator) handleAuthoritative(sess *gameSession, server game.Snapshot, serverSeq, version int64) {
	queued, err := c.store.ListQueuedMoves(sess.gameID)
	if err != nil {
		slog.Warn("list queued moves", "game", sess.gameID, "err", err)
		return
	}

	dirty := len(queued) > 0
	if !dirty {
		if cached, err := c.store.GetCachedState(sess.gameID); err == nil && cached != nil {
			dirty = cached.LocalChanges
		}
	}

	c.mu.Lock()
	local := sess.local
	localSeq := sess.localSeq
	c.mu.Unlock()

	if dirty && resolve.Detect(server, local, serverSeq, localSeq) {
		c.stream.Publish(events.Event{
			Type:   events.ConflictDetected,
			GameID: sess.gameID,
			Payload: events.ConflictPayload{
				ServerSequence: serverSeq,
				LocalSequence:  localSeq,
				QueuedMoves:    len(queued),
			},
		})

		res, err := c.resolver.Resolve(resolve.Conflict{
			GameID:      sess.gameID,
			Server:      server,
			Local:       local,
			ServerSeq:   serverSeq,
			LocalSeq:    localSeq,
			QueuedMoves: queued,
		})
		if err != nil {
			if errors.Is(err, resolve.ErrResolutionInProgress) {
				slog.Debug("resolution already running", "game", sess.gameID)
			} else {
				slog.Warn("conflict resolution failed", "game", sess.gameID, "err", err)
			}
			return
		}

		for _, id := range res.DiscardedMoveIDs {
			if err := c.store.RemoveQueuedMove(id); err != nil {
				slog.Warn("purge conflicting move", "id", id, "err", err)
			}
		}

		c.applyAccepted(sess, res.State, version, len(queued)-len(res.DiscardedMoveIDs) > 0)

		c.stream.Publish(events.Event{
			Type:   events.ConflictResolved,
			GameID: sess.gameID,
			Payload: events.ResolutionPayload{
				Strategy:         string(res.Strategy),
				DiscardedMoves:   len(res.DiscardedMoveIDs),
				RollbackRequired: res.RollbackRequired,
			},
		})
		return
	}

	c.applyAccepted(sess, server, version, len(queued) > 0)
}

// applyAccepted caches an accepted snapshot and tracks whether local
// unconfirmed changes remain.
func (c *Coordinator) applyAccepted(sess *gameSession, snap game.Snapshot, version int64, stillDirty bool) {
	c.mu.Lock()
	sess.local = snap
	c.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("marshal snapshot", "game", sess.gameID, "err", err)
		return
	}
	if err := c.store.CacheState(sess.gameID, data, version); err != nil {
		slog.Warn("cache state", "game", sess.gameID, "err", err)
		return
	}
	if stillDirty {
		if err := c.store.SetLocalChanges(sess.gameID, true); err != nil {
			slog.Warn("set local changes", "game", sess.gameID, "err", err)
		}
	}

	c.stream.Publish(events.Event{
		Type:    events.SyncCompleted,
		GameID:  sess.gameID,
		Payload: events.SyncPayload{},
	})
}

// QueueMove applies the move optimistically to the local prediction and
// hands it to the queue manager for delivery.
func (c *Coordinator) QueueMove(gameID string, move game.Move, playerID string) (store.QueuedMove, error) {
	c.mu.Lock()
	sess, ok := c.games[gameID]
	if !ok {
		// Playing offline before joining is fine; the queue persists.
		sess = &gameSession{gameID: gameID, state: StateDisconnected}
		c.games[gameID] = sess
	}
	if c.rules != nil && len(sess.local.Board) > 0 && c.rules.IsLegal(sess.local.Board, move) {
		if next, err := c.rules.Apply(sess.local.Board, move); err == nil {
			sess.local.Board = next
		} else {
			slog.Warn("optimistic apply failed", "game", gameID, "err", err)
		}
	}
	c.mu.Unlock()

	qm, err := c.queue.QueueMove(gameID, move, playerID)
	if err != nil {
		return store.QueuedMove{}, err
	}

	c.mu.Lock()
	sess.localSeq = qm.SequenceNumber
	c.mu.Unlock()

	if err := c.store.SetLocalChanges(gameID, true); err != nil {
		slog.Debug("set local changes", "game", gameID, "err", err)
	}
	return qm, nil
}

// ForceSyncQueue triggers an immediate sync attempt for a game.
func (c *Coordinator) ForceSyncQueue(gameID string) error {
	return c.queue.SyncQueue(gameID)
}

// ClearQueue abandons all queued moves for a game.
func (c *Coordinator) ClearQueue(gameID string) error {
	return c.queue.ClearQueue(gameID)
}

// TestConnection performs a single synchronous probe.
func (c *Coordinator) TestConnection() netmon.PingResult {
	return c.monitor.Probe()
}

// ForceResync requests a fresh authoritative snapshot for a game.
func (c *Coordinator) ForceResync(gameID, reason string) {
	c.stream.Publish(events.Event{
		Type:    events.ResyncRequested,
		GameID:  gameID,
		Payload: events.ResyncPayload{Reason: reason},
	})

	c.mu.Lock()
	sess := c.games[gameID]
	var ch Channel
	if sess != nil {
		ch = sess.channel
	}
	c.mu.Unlock()

	if ch == nil {
		slog.Debug("resync requested with no open channel", "game", gameID)
		return
	}
	if err := ch.RequestResync(); err != nil {
		slog.Warn("request resync", "game", gameID, "err", err)
	}
}

// State returns the game's connection state.
func (c *Coordinator) State(gameID string) GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.games[gameID]; ok {
		return sess.state
	}
	return StateDisconnected
}

// EnsureGuest returns the game's existing guest identity or creates one.
func (c *Coordinator) EnsureGuest(gameID, displayName string) (store.GuestSession, error) {
	if existing, err := c.store.FindGuestByGame(gameID); err != nil {
		return store.GuestSession{}, err
	} else if existing != nil {
		return *existing, nil
	}

	gs, err := c.store.CreateGuestSession(gameID, displayName)
	if err != nil {
		return store.GuestSession{}, err
	}
	c.stream.Publish(events.Event{
		Type:    events.GuestCreated,
		GameID:  gameID,
		Payload: events.GuestPayload{GuestID: gs.GuestID, DisplayName: gs.DisplayName},
	})
	return gs, nil
}

// RecordGameJoined appends a game to a guest's history.
func (c *Coordinator) RecordGameJoined(guestID, gameID string) error {
	return c.store.AppendGameHistory(guestID, gameID)
}

// LeaveGame closes the game's channel and forgets its session. Queued
// moves stay persisted.
func (c *Coordinator) LeaveGame(gameID string) {
	c.mu.Lock()
	sess, ok := c.games[gameID]
	if ok {
		delete(c.games, gameID)
	}
	c.mu.Unlock()

	if ok && sess.channel != nil {
		sess.channel.Close()
	}
}

// Destroy tears down the coordinator and the components it composes.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	sessions := make([]*gameSession, 0, len(c.games))
	for _, sess := range c.games {
		sessions = append(sessions, sess)
	}
	c.games = make(map[string]*gameSession)
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	for _, sess := range sessions {
		if sess.channel != nil {
			sess.channel.Close()
		}
	}

	c.queue.Destroy()
	c.monitor.Destroy()
	c.stream.Close()
}
