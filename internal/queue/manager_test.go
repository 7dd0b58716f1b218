package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marlow/boardsync/internal/events"
	"github.com/marlow/boardsync/internal/retry"
	"github.com/marlow/boardsync/internal/store"
	"github.com/marlow/boardsync/internal/syncclient"
)

type fakeGate struct {
	mu        sync.Mutex
	stable    bool
	stableFor int // when > 0, only that many IsStable calls report stable
	calls     int
}

func (g *fakeGate) IsStable() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.stableFor > 0 {
		return g.calls <= g.stableFor
	}
	return g.stable
}

type fakeSender struct {
	mu      sync.Mutex
	reqs    []*syncclient.MoveRequest
	respond func(req *syncclient.MoveRequest) (*syncclient.MoveResponse, error)
}

func (s *fakeSender) SubmitMove(req *syncclient.MoveRequest) (*syncclient.MoveResponse, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	respond := s.respond
	s.mu.Unlock()
	if respond != nil {
		return respond(req)
	}
	return &syncclient.MoveResponse{ServerSequence: req.SequenceNumber}, nil
}

func (s *fakeSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func setupManager(t *testing.T) (*Manager, *store.Store, *fakeSender, *fakeGate, *retry.FakeClock) {
	t.Helper()
	conn, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	st, err := store.NewFromConn(conn)
	if err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sender := &fakeSender{}
	gate := &fakeGate{}
	clock := retry.NewFakeClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))
	m := New(st, sender, gate, clock)
	t.Cleanup(m.Destroy)
	return m, st, sender, gate, clock
}

func collect(m *Manager) *[]events.Event {
	var got []events.Event
	m.Events().Subscribe(func(ev events.Event) { got = append(got, ev) })
	return &got
}

func typesOf(evs []events.Event, typ events.Type) []events.Event {
	var out []events.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestQueueMoveAssignsSequence(t *testing.T) {
	m, st, _, _, _ := setupManager(t)
	got := collect(m)

	for i := 1; i <= 3; i++ {
		qm, err := m.QueueMove("game-1", json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)), "guest-a")
		if err != nil {
			t.Fatalf("QueueMove failed: %v", err)
		}
		if qm.SequenceNumber != int64(i) {
			t.Errorf("sequence: got %d, want %d", qm.SequenceNumber, i)
		}
	}

	moves, err := st.ListQueuedMoves("game-1")
	if err != nil {
		t.Fatalf("ListQueuedMoves failed: %v", err)
	}
	if len(moves) != 3 {
		t.Fatalf("queued moves: got %d, want 3", len(moves))
	}

	queued := typesOf(*got, events.MoveQueued)
	if len(queued) != 3 {
		t.Fatalf("move_queued events: got %d, want 3", len(queued))
	}
	p := queued[2].Payload.(events.MovePayload)
	if p.SequenceNumber != 3 || p.Stats.TotalMoves != 3 {
		t.Errorf("final queued payload: %+v", p)
	}
}

func TestSequenceCountersAreIndependentPerGame(t *testing.T) {
	m, _, _, _, _ := setupManager(t)

	a, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a")
	if err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}
	b, err := m.QueueMove("game-2", json.RawMessage(`{}`), "guest-b")
	if err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}

	if a.SequenceNumber != 1 || b.SequenceNumber != 1 {
		t.Errorf("sequences: game-1=%d game-2=%d, both want 1", a.SequenceNumber, b.SequenceNumber)
	}
}

func TestSequenceSeedsFromPersistedQueue(t *testing.T) {
	m, st, _, _, _ := setupManager(t)

	// a move persisted by a previous process
	if _, err := st.EnqueueMove("game-1", json.RawMessage(`{}`), "guest-a", 7); err != nil {
		t.Fatalf("EnqueueMove failed: %v", err)
	}

	qm, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a")
	if err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}
	if qm.SequenceNumber != 8 {
		t.Errorf("sequence after reload: got %d, want 8", qm.SequenceNumber)
	}
}

func TestSyncQueueDrainsInOrder(t *testing.T) {
	m, st, sender, gate, _ := setupManager(t)
	got := collect(m)

	for i := 0; i < 3; i++ {
		if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
			t.Fatalf("QueueMove failed: %v", err)
		}
	}

	gate.stable = true
	if err := m.SyncQueue("game-1"); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}

	if sender.calls() != 3 {
		t.Fatalf("submit calls: got %d, want 3", sender.calls())
	}
	for i, req := range sender.reqs {
		if req.SequenceNumber != int64(i+1) {
			t.Errorf("send %d: sequence %d, want %d", i, req.SequenceNumber, i+1)
		}
	}

	moves, err := st.ListQueuedMoves("game-1")
	if err != nil {
		t.Fatalf("ListQueuedMoves failed: %v", err)
	}
	if len(moves) != 0 {
		t.Errorf("queue not drained: %d moves left", len(moves))
	}

	if n := len(typesOf(*got, events.SyncStarted)); n != 1 {
		t.Errorf("sync_started events: got %d, want 1", n)
	}
	if n := len(typesOf(*got, events.MoveSent)); n != 3 {
		t.Errorf("move_sent events: got %d, want 3", n)
	}
	completed := typesOf(*got, events.SyncCompleted)
	if len(completed) != 1 {
		t.Fatalf("sync_completed events: got %d, want 1", len(completed))
	}
	sp := completed[0].Payload.(events.SyncPayload)
	if sp.Sent != 3 || sp.Remaining != 0 {
		t.Errorf("sync_completed payload: %+v", sp)
	}
}

func TestSyncQueueSkipsWhenLinkUnstable(t *testing.T) {
	m, _, sender, _, _ := setupManager(t)

	if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}

	if err := m.SyncQueue("game-1"); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}
	if sender.calls() != 0 {
		t.Errorf("sent over unstable link: %d calls", sender.calls())
	}
}

func TestLinkDegradationMidCycleAbandonsRemainingBatches(t *testing.T) {
	m, st, sender, gate, _ := setupManager(t)

	for i := 0; i < 7; i++ {
		if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
			t.Fatalf("QueueMove failed: %v", err)
		}
	}

	// stable at cycle entry, degraded by the second batch
	gate.calls = 0
	gate.stableFor = 1
	if err := m.SyncQueue("game-1"); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}

	if sender.calls() != 5 {
		t.Errorf("sends before degradation: got %d, want one batch of 5", sender.calls())
	}
	moves, err := st.ListQueuedMoves("game-1")
	if err != nil {
		t.Fatalf("ListQueuedMoves failed: %v", err)
	}
	if len(moves) != 2 {
		t.Errorf("remaining moves: got %d, want 2", len(moves))
	}
}

func TestInvalidMoveDiscardedAndCycleContinues(t *testing.T) {
	m, st, sender, gate, _ := setupManager(t)
	got := collect(m)

	first, err := m.QueueMove("game-1", json.RawMessage(`{"bad":true}`), "guest-a")
	if err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}
	if _, err := m.QueueMove("game-1", json.RawMessage(`{"ok":true}`), "guest-a"); err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}

	sender.respond = func(req *syncclient.MoveRequest) (*syncclient.MoveResponse, error) {
		if req.SequenceNumber == first.SequenceNumber {
			return nil, fmt.Errorf("%w: illegal", syncclient.ErrInvalidMove)
		}
		return &syncclient.MoveResponse{}, nil
	}

	gate.stable = true
	if err := m.SyncQueue("game-1"); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}

	moves, err := st.ListQueuedMoves("game-1")
	if err != nil {
		t.Fatalf("ListQueuedMoves failed: %v", err)
	}
	if len(moves) != 0 {
		t.Errorf("queue not empty: %d moves", len(moves))
	}

	failed := typesOf(*got, events.MoveFailed)
	if len(failed) != 1 {
		t.Fatalf("move_failed events: got %d, want 1", len(failed))
	}
	fp := failed[0].Payload.(events.MoveFailedPayload)
	if fp.Reason != "move rejected" || fp.MoveID != first.ID {
		t.Errorf("move_failed payload: %+v", fp)
	}
	if n := len(typesOf(*got, events.MoveSent)); n != 1 {
		t.Errorf("move_sent events: got %d, want 1", n)
	}
}

func TestConflictKeepsMoveQueuedAndStopsCycle(t *testing.T) {
	m, st, sender, gate, clock := setupManager(t)

	if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}
	if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}

	conflicted := true
	sender.respond = func(req *syncclient.MoveRequest) (*syncclient.MoveResponse, error) {
		if conflicted && req.SequenceNumber == 1 {
			return nil, fmt.Errorf("%w: out of order", syncclient.ErrConflict)
		}
		return &syncclient.MoveResponse{}, nil
	}

	gate.stable = true
	if err := m.SyncQueue("game-1"); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}

	// the conflicted head stopped the cycle; nothing overtook it
	if sender.calls() != 1 {
		t.Fatalf("submit calls: got %d, want 1", sender.calls())
	}
	moves, err := st.ListQueuedMoves("game-1")
	if err != nil {
		t.Fatalf("ListQueuedMoves failed: %v", err)
	}
	if len(moves) != 2 {
		t.Fatalf("queued moves: got %d, want 2", len(moves))
	}
	if moves[0].ConflictCount != 1 {
		t.Errorf("conflict count: got %d, want 1", moves[0].ConflictCount)
	}
	if moves[0].RetryCount != 0 {
		t.Errorf("conflict consumed retry budget: retry_count=%d", moves[0].RetryCount)
	}

	// the scheduled retry drains once the conflict clears
	conflicted = false
	clock.Advance(time.Second)
	moves, err = st.ListQueuedMoves("game-1")
	if err != nil {
		t.Fatalf("ListQueuedMoves failed: %v", err)
	}
	if len(moves) != 0 {
		t.Errorf("queue not drained after retry: %d moves", len(moves))
	}
}

func TestRepeatedConflictsEscalateToResync(t *testing.T) {
	m, _, sender, gate, clock := setupManager(t)
	got := collect(m)
	m.MaxOrderingConflicts = 2

	var resyncGame, resyncReason string
	m.ResyncFunc = func(gameID, reason string) {
		resyncGame, resyncReason = gameID, reason
	}

	if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}
	sender.respond = func(*syncclient.MoveRequest) (*syncclient.MoveResponse, error) {
		return nil, fmt.Errorf("%w: stuck", syncclient.ErrConflict)
	}

	gate.stable = true
	if err := m.SyncQueue("game-1"); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}
	if resyncGame != "" {
		t.Fatal("resync requested before the conflict cap")
	}

	clock.Advance(time.Second) // retry hits the cap

	if resyncGame != "game-1" || resyncReason != "ordering stalled" {
		t.Errorf("resync: game=%q reason=%q", resyncGame, resyncReason)
	}
	failed := typesOf(*got, events.SyncFailed)
	if len(failed) != 1 {
		t.Fatalf("sync_failed events: got %d, want 1", len(failed))
	}
	sp := failed[0].Payload.(events.SyncPayload)
	if sp.Reason != "ordering stalled" {
		t.Errorf("sync_failed reason: %q", sp.Reason)
	}
}

func TestTransientFailuresRetryThenDrop(t *testing.T) {
	m, st, sender, gate, clock := setupManager(t)
	got := collect(m)

	qm, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a")
	if err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}
	sender.respond = func(*syncclient.MoveRequest) (*syncclient.MoveResponse, error) {
		return nil, fmt.Errorf("HTTP 500: boom")
	}

	gate.stable = true
	if err := m.SyncQueue("game-1"); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}
	if sender.calls() != 1 {
		t.Fatalf("submit calls: got %d, want 1", sender.calls())
	}

	clock.Advance(time.Second) // attempt 2
	if sender.calls() != 2 {
		t.Fatalf("submit calls after first backoff: got %d, want 2", sender.calls())
	}
	clock.Advance(5 * time.Second) // attempt 3, budget spent
	if sender.calls() != 3 {
		t.Fatalf("submit calls after second backoff: got %d, want 3", sender.calls())
	}

	moves, err := st.ListQueuedMoves("game-1")
	if err != nil {
		t.Fatalf("ListQueuedMoves failed: %v", err)
	}
	if len(moves) != 0 {
		t.Errorf("dropped move still queued: %d moves", len(moves))
	}

	failed := typesOf(*got, events.MoveFailed)
	if len(failed) != 1 {
		t.Fatalf("move_failed events: got %d, want 1", len(failed))
	}
	fp := failed[0].Payload.(events.MoveFailedPayload)
	if fp.Reason != "max retries exceeded" || fp.MoveID != qm.ID {
		t.Errorf("move_failed payload: %+v", fp)
	}

	// no further retries pending
	clock.Advance(time.Minute)
	if sender.calls() != 3 {
		t.Errorf("submits after drop: %d extra", sender.calls()-3)
	}
}

func TestOnlyOneSyncPerGameInFlight(t *testing.T) {
	m, _, sender, gate, _ := setupManager(t)

	if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	sender.respond = func(*syncclient.MoveRequest) (*syncclient.MoveResponse, error) {
		close(entered)
		<-release
		return &syncclient.MoveResponse{}, nil
	}

	gate.stable = true
	done := make(chan struct{})
	go func() {
		m.SyncQueue("game-1")
		close(done)
	}()
	<-entered

	// second call while the first is mid-send must be a no-op
	if err := m.SyncQueue("game-1"); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}
	if sender.calls() != 1 {
		t.Errorf("concurrent sync duplicated sends: %d calls", sender.calls())
	}

	close(release)
	<-done
}

func TestClearQueueResetsSequence(t *testing.T) {
	m, st, _, _, _ := setupManager(t)

	for i := 0; i < 3; i++ {
		if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
			t.Fatalf("QueueMove failed: %v", err)
		}
	}

	if err := m.ClearQueue("game-1"); err != nil {
		t.Fatalf("ClearQueue failed: %v", err)
	}
	moves, err := st.ListQueuedMoves("game-1")
	if err != nil {
		t.Fatalf("ListQueuedMoves failed: %v", err)
	}
	if len(moves) != 0 {
		t.Fatalf("queue not cleared: %d moves", len(moves))
	}

	qm, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a")
	if err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}
	if qm.SequenceNumber != 1 {
		t.Errorf("sequence after clear: got %d, want 1", qm.SequenceNumber)
	}
}

func TestDrainLoopSyncsNonEmptyQueues(t *testing.T) {
	m, st, sender, gate, clock := setupManager(t)

	if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}

	gate.stable = true
	m.Start()
	clock.Advance(m.DrainInterval)

	// the drain goroutine syncs asynchronously
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		moves, err := st.ListQueuedMoves("game-1")
		if err != nil {
			t.Fatalf("ListQueuedMoves failed: %v", err)
		}
		if len(moves) == 0 {
			if sender.calls() != 1 {
				t.Errorf("submit calls: got %d, want 1", sender.calls())
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("drain loop never synced the queue")
}

func TestDestroyStopsSyncing(t *testing.T) {
	m, _, sender, gate, _ := setupManager(t)

	if _, err := m.QueueMove("game-1", json.RawMessage(`{}`), "guest-a"); err != nil {
		t.Fatalf("QueueMove failed: %v", err)
	}

	m.Destroy()
	gate.stable = true
	if err := m.SyncQueue("game-1"); err != nil {
		t.Fatalf("SyncQueue failed: %v", err)
	}
	if sender.calls() != 0 {
		t.Errorf("destroyed manager sent %d moves", sender.calls())
	}
}
