// Package resolve computes a resolved game state when the locally
// predicted state diverges from a server-confirmed snapshot, and decides
// which queued moves must be discarded.
package resolve

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/marlow/boardsync/internal/game"
	"github.com/marlow/boardsync/internal/store"
)

// Strategy selects how divergence is resolved. Configured once per
// deployment.
type Strategy string

const (
	// ServerAuthority: the server snapshot wins unconditionally and every
	// unconfirmed local move is purged. The only strategy that requires the
	// UI to roll back its prediction.
	ServerAuthority Strategy = "server_authority"
	// ClientPrediction: replay queued moves on top of the server snapshot,
	// discarding from the first illegal move onward.
	ClientPrediction Strategy = "client_prediction"
	// Merge: like client prediction, but auxiliary fields (clocks and the
	// like) are merged by recency before replay.
	Merge Strategy = "merge"
)

// DefaultStrategy is server authority.
const DefaultStrategy = ServerAuthority

// ErrResolutionInProgress is returned when a second resolution is
// requested for a game whose resolution is still running. Callers wait
// for the in-flight result event instead of retrying.
var ErrResolutionInProgress = errors.New("resolution already in progress")

// IsValidStrategy reports whether s names a known strategy.
func IsValidStrategy(s string) bool {
	switch Strategy(s) {
	case ServerAuthority, ClientPrediction, Merge:
		return true
	}
	return false
}

// Conflict is a detected divergence between the server-confirmed and
// locally predicted states. Transient: built on demand, discarded after
// resolution.
type Conflict struct {
	GameID      string
	Server      game.Snapshot
	Local       game.Snapshot
	ServerSeq   int64
	LocalSeq    int64
	QueuedMoves []store.QueuedMove
}

// Resolution is the outcome of resolving a conflict.
type Resolution struct {
	State            game.Snapshot
	DiscardedMoveIDs []string
	RollbackRequired bool
	Strategy         Strategy
}

// Resolver applies one of the three strategies. At most one resolution
// runs per game at any time.
type Resolver struct {
	rules    game.Rules
	strategy Strategy

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates a resolver using the given rules collaborator and strategy.
// An unknown strategy falls back to server authority.
func New(rules game.Rules, strategy Strategy) *Resolver {
	if !IsValidStrategy(string(strategy)) {
		strategy = DefaultStrategy
	}
	return &Resolver{
		rules:    rules,
		strategy: strategy,
		inFlight: make(map[string]bool),
	}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() Strategy {
	return r.strategy
}

// Detect reports whether the two snapshots genuinely diverge. Matching
// boards are never a conflict, even when sequence numbers differ.
func Detect(server, local game.Snapshot, serverSeq, localSeq int64) bool {
	return !game.BoardsEqual(server.Board, local.Board)
}

// Resolve computes the resolved state for a conflict. A concurrent call
// for the same game fails fast with ErrResolutionInProgress: the running
// resolution will itself emit a fresh state that supersedes the request.
func (r *Resolver) Resolve(c Conflict) (Resolution, error) {
	r.mu.Lock()
	if r.inFlight[c.GameID] {
		r.mu.Unlock()
		return Resolution{}, fmt.Errorf("%w: game %s", ErrResolutionInProgress, c.GameID)
	}
	r.inFlight[c.GameID] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.inFlight, c.GameID)
		r.mu.Unlock()
	}()

	switch r.strategy {
	case ClientPrediction:
		return r.resolvePrediction(c, c.Server)
	case Merge:
		return r.resolveMerge(c)
	default:
		return r.resolveServerAuthority(c), nil
	}
}

// resolveServerAuthority discards every queued move not already reflected
// in the server state. No replay.
func (r *Resolver) resolveServerAuthority(c Conflict) Resolution {
	res := Resolution{
		State:            c.Server.Clone(),
		RollbackRequired: true,
		Strategy:         ServerAuthority,
	}
	for _, mv := range c.QueuedMoves {
		res.DiscardedMoveIDs = append(res.DiscardedMoveIDs, mv.ID)
	}
	slog.Info("conflict resolved by server authority",
		"game", c.GameID, "discarded", len(res.DiscardedMoveIDs))
	return res
}

// resolvePrediction replays queued moves in sequence order on top of the
// base, validating each against the evolving state. The first illegal
// move and everything after it are discarded; moves before it stay queued
// for resend since the server has not acknowledged them yet.
func (r *Resolver) resolvePrediction(c Conflict, base game.Snapshot) (Resolution, error) {
	res := Resolution{
		State:    base.Clone(),
		Strategy: r.strategy,
	}

	board := res.State.Board
	for i, mv := range c.QueuedMoves {
		if !r.rules.IsLegal(board, mv.Move) {
			for _, rest := range c.QueuedMoves[i:] {
				res.DiscardedMoveIDs = append(res.DiscardedMoveIDs, rest.ID)
			}
			slog.Info("replay stopped at illegal move",
				"game", c.GameID, "seq", mv.SequenceNumber, "discarded", len(res.DiscardedMoveIDs))
			break
		}
		next, err := r.rules.Apply(board, mv.Move)
		if err != nil {
			return Resolution{}, fmt.Errorf("replay move seq=%d: %w", mv.SequenceNumber, err)
		}
		board = next
	}

	res.State.Board = board
	return res, nil
}

// resolveMerge merges auxiliary fields by recency into the server base,
// then replays. Falls back to server authority if replay errors.
func (r *Resolver) resolveMerge(c Conflict) (Resolution, error) {
	base := c.Server.Clone()
	for key, localField := range c.Local.Aux {
		serverField, ok := base.Aux[key]
		if !ok || localField.UpdatedAt.After(serverField.UpdatedAt) {
			if base.Aux == nil {
				base.Aux = make(map[string]game.AuxField)
			}
			base.Aux[key] = localField
		}
	}

	res, err := r.resolvePrediction(c, base)
	if err != nil {
		slog.Warn("merge replay failed, falling back to server authority",
			"game", c.GameID, "err", err)
		return r.resolveServerAuthority(c), nil
	}
	res.Strategy = Merge
	return res, nil
}
