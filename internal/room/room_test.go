package room_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/quillshare/collab-engine/internal/docstore"
	"github.com/quillshare/collab-engine/internal/ot"
	"github.com/quillshare/collab-engine/internal/presence"
	"github.com/quillshare/collab-engine/internal/resolve"
	"github.com/quillshare/collab-engine/internal/room"
	"github.com/quillshare/collab-engine/internal/ws"
	"github.com/stretchr/testify/require"
)

// fakeSub records every message the room sends to one participant.
type fakeSub struct {
	mu   sync.Mutex
	msgs []ws.Message
}

func (f *fakeSub) Send(msg ws.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.msgs = append(f.msgs, msg)

	return nil
}

func (f *fakeSub) messages() []ws.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]ws.Message, len(f.msgs))
	copy(out, f.msgs)

	return out
}

// appliedOps returns the operations this subscriber saw broadcast.
func (f *fakeSub) appliedOps(t *testing.T) []ot.Operation {
	t.Helper()

	var out []ot.Operation

	for _, msg := range f.messages() {
		if msg.Type != ws.MessageTypeOperationApplied {
			continue
		}

		payload, ok := msg.Payload.(ws.OperationAppliedPayload)
		if !ok {
			t.Fatalf("unexpected payload type %T", msg.Payload)
		}

		out = append(out, fromWire(t, payload.Operation))
	}

	return out
}

func fromWire(t *testing.T, w ws.WireOperation) ot.Operation {
	t.Helper()

	kind, err := ot.ParseKind(w.Kind)
	if err != nil {
		t.Fatalf("parse kind: %v", err)
	}

	return ot.Operation{
		ID:       w.ID,
		Kind:     kind,
		Position: w.Position,
		Length:   w.Length,
		Content:  w.Content,
		Author:   w.Author,
		Revision: w.Revision,
	}
}

// newTestRoom creates a room over a memory store seeded with content.
func newTestRoom(t *testing.T, content string, window int) (*room.Room, *docstore.MemoryStore) {
	t.Helper()

	store := docstore.NewMemoryStore()
	require.NoError(t, store.CreateFile(context.Background(), "f1", content))

	r := room.New(room.Config{
		ID:            "p1:f1",
		ProjectID:     "p1",
		FileID:        "f1",
		Content:       content,
		Store:         store,
		HistoryWindow: window,
	})
	t.Cleanup(r.Close)

	return r, store
}

func join(t *testing.T, r *room.Room, id string) *fakeSub {
	t.Helper()

	sub := &fakeSub{}

	_, err := r.Join(presence.Presence{ParticipantID: id, DisplayName: id}, sub)
	require.NoError(t, err)

	return sub
}

func TestRoom_JoinReturnsSyncState(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "hello", 64)

	sub := &fakeSub{}

	snapshot, err := r.Join(presence.Presence{ParticipantID: "alice", DisplayName: "Alice"}, sub)
	require.NoError(t, err)

	if snapshot.Content != "hello" {
		t.Errorf("expected content hello, got %q", snapshot.Content)
	}

	if snapshot.Revision != 0 {
		t.Errorf("expected revision 0, got %d", snapshot.Revision)
	}

	if len(snapshot.Participants) != 1 || snapshot.Participants[0].ParticipantID != "alice" {
		t.Errorf("expected alice in participants, got %+v", snapshot.Participants)
	}
}

func TestRoom_JoinBroadcastsToOthers(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "", 64)

	aliceSub := join(t, r, "alice")
	join(t, r, "bob")

	msgs := aliceSub.messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message for alice, got %d", len(msgs))
	}

	payload, ok := msgs[0].Payload.(ws.PresenceDeltaPayload)
	if !ok || payload.Action != ws.PresenceActionJoin || payload.Participant.ParticipantID != "bob" {
		t.Errorf("expected bob join delta, got %+v", msgs[0])
	}
}

func TestRoom_RejoinIsIdempotent(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "doc", 64)

	otherSub := join(t, r, "alice")
	join(t, r, "bob")

	// Bob re-syncs by joining again.
	sub := &fakeSub{}

	snapshot, err := r.Join(presence.Presence{ParticipantID: "bob", DisplayName: "bob"}, sub)
	require.NoError(t, err)

	if len(snapshot.Participants) != 2 {
		t.Errorf("expected 2 participants after rejoin, got %d", len(snapshot.Participants))
	}

	// Only the original join delta was broadcast.
	count := 0

	for _, msg := range otherSub.messages() {
		if msg.Type == ws.MessageTypePresenceDelta {
			count++
		}
	}

	if count != 1 {
		t.Errorf("expected 1 presence delta for alice, got %d", count)
	}
}

func TestRoom_ProcessOperation_AppliesAndPersists(t *testing.T) {
	t.Parallel()

	r, store := newTestRoom(t, "ello", 64)
	join(t, r, "alice")

	op := ot.NewInsert("h", 0, "alice")
	op.BaseRevision = 0

	applied, err := r.ProcessOperation("alice", op)
	require.NoError(t, err)

	if applied.Revision != 1 {
		t.Errorf("expected revision 1, got %d", applied.Revision)
	}

	if applied.ID == "" {
		t.Error("expected an assigned operation ID")
	}

	content, err := store.ReadContent(context.Background(), "f1")
	require.NoError(t, err)

	if content != "hello" {
		t.Errorf("expected persisted content hello, got %q", content)
	}
}

func TestRoom_ProcessOperation_NotInRoom(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "doc", 64)

	_, err := r.ProcessOperation("stranger", ot.NewInsert("x", 0, "stranger"))
	if !errors.Is(err, room.ErrNotInRoom) {
		t.Errorf("expected ErrNotInRoom, got %v", err)
	}
}

func TestRoom_ConcurrentInserts_Scenario(t *testing.T) {
	t.Parallel()

	// Document "ab": X inserts "X" at 1 (base 0), then Y inserts "Y" at 1
	// (still base 0, submitted after X applied). Y's insert must shift
	// past X's.
	r, store := newTestRoom(t, "ab", 64)
	join(t, r, "X")
	ySub := join(t, r, "Y")

	opX := ot.NewInsert("X", 1, "X")
	opX.BaseRevision = 0

	applied, err := r.ProcessOperation("X", opX)
	require.NoError(t, err)

	if applied.Revision != 1 {
		t.Errorf("expected revision 1, got %d", applied.Revision)
	}

	opY := ot.NewInsert("Y", 1, "Y")
	opY.BaseRevision = 0

	applied, err = r.ProcessOperation("Y", opY)
	require.NoError(t, err)

	if applied.Revision != 2 {
		t.Errorf("expected revision 2, got %d", applied.Revision)
	}

	if applied.Position != 2 {
		t.Errorf("expected Y's insert shifted to 2, got %d", applied.Position)
	}

	content, err := store.ReadContent(context.Background(), "f1")
	require.NoError(t, err)

	if content != "aXYb" {
		t.Errorf("expected aXYb, got %q", content)
	}

	// Y saw X's operation but not its own.
	ops := ySub.appliedOps(t)
	if len(ops) != 1 || ops[0].Author != "X" {
		t.Errorf("expected Y to see only X's op, got %+v", ops)
	}
}

func TestRoom_DeleteInsertRace_Scenario(t *testing.T) {
	t.Parallel()

	// "hello world": A deletes [0,5), B concurrently appends "! ". B's
	// insert position shifts back by the deleted length.
	r, store := newTestRoom(t, "hello world", 64)
	join(t, r, "A")
	join(t, r, "B")

	del := ot.NewDelete(0, 5, "A")
	del.BaseRevision = 0

	_, err := r.ProcessOperation("A", del)
	require.NoError(t, err)

	ins := ot.NewInsert("! ", 11, "B")
	ins.BaseRevision = 0

	applied, err := r.ProcessOperation("B", ins)
	require.NoError(t, err)

	if applied.Position != 6 {
		t.Errorf("expected insert shifted to 6, got %d", applied.Position)
	}

	content, err := store.ReadContent(context.Background(), "f1")
	require.NoError(t, err)

	if content != " world! " {
		t.Errorf("expected %q, got %q", " world! ", content)
	}
}

func TestRoom_StaleBeyondWindow_Unresolvable(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "", 2)
	join(t, r, "alice")

	for i := 0; i < 5; i++ {
		op := ot.NewInsert("x", i, "alice")
		op.BaseRevision = i

		_, err := r.ProcessOperation("alice", op)
		require.NoError(t, err)
	}

	late := ot.NewInsert("y", 0, "alice")
	late.BaseRevision = 0

	_, err := r.ProcessOperation("alice", late)
	if !errors.Is(err, room.ErrConflictUnresolvable) {
		t.Errorf("expected ErrConflictUnresolvable, got %v", err)
	}
}

func TestRoom_FutureBaseRevision_Unresolvable(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "", 64)
	join(t, r, "alice")

	op := ot.NewInsert("x", 0, "alice")
	op.BaseRevision = 10

	_, err := r.ProcessOperation("alice", op)
	if !errors.Is(err, room.ErrConflictUnresolvable) {
		t.Errorf("expected ErrConflictUnresolvable, got %v", err)
	}
}

// failingStore reads normally but refuses all writes.
type failingStore struct {
	*docstore.MemoryStore
}

func (f *failingStore) WriteContent(context.Context, string, string) error {
	return errors.New("store is down")
}

func TestRoom_StorageFailure_NoRevisionAdvance(t *testing.T) {
	t.Parallel()

	mem := docstore.NewMemoryStore()
	require.NoError(t, mem.CreateFile(context.Background(), "f1", "doc"))

	r := room.New(room.Config{
		ID:          "p1:f1",
		ProjectID:   "p1",
		FileID:      "f1",
		Content:     "doc",
		Store:       &failingStore{MemoryStore: mem},
		RetryBudget: 2,
	})
	t.Cleanup(r.Close)

	join(t, r, "alice")

	_, err := r.ProcessOperation("alice", ot.NewInsert("x", 0, "alice"))
	if !errors.Is(err, room.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}

	rev, err := r.Revision()
	require.NoError(t, err)

	if rev != 0 {
		t.Errorf("expected revision to stay 0, got %d", rev)
	}

	// Second failure exhausts the budget and degrades the room.
	_, err = r.ProcessOperation("alice", ot.NewInsert("x", 0, "alice"))
	if !errors.Is(err, room.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}

	state, err := r.State()
	require.NoError(t, err)

	if state != room.StateDegraded {
		t.Errorf("expected degraded state, got %v", state)
	}

	// Degraded rooms reject operations but still serve sync.
	_, err = r.ProcessOperation("alice", ot.NewInsert("x", 0, "alice"))
	if !errors.Is(err, room.ErrRoomDegraded) {
		t.Errorf("expected ErrRoomDegraded, got %v", err)
	}

	snapshot, err := r.SyncState("alice")
	require.NoError(t, err)

	if snapshot.Content != "doc" || snapshot.Revision != 0 {
		t.Errorf("expected pristine sync state, got %+v", snapshot)
	}
}

func TestRoom_UpdatePresence(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "", 64)

	aliceSub := join(t, r, "alice")
	join(t, r, "bob")

	cursor := 4
	typing := true

	merged, err := r.UpdatePresence("bob", presence.Update{
		CursorPosition: &cursor,
		IsTyping:       &typing,
	})
	require.NoError(t, err)

	if merged.CursorPosition != 4 || !merged.IsTyping {
		t.Errorf("unexpected merged presence: %+v", merged)
	}

	var delta *ws.PresenceDeltaPayload

	for _, msg := range aliceSub.messages() {
		if msg.Type != ws.MessageTypePresenceDelta {
			continue
		}

		payload := msg.Payload.(ws.PresenceDeltaPayload)
		if payload.Action == ws.PresenceActionUpdate {
			delta = &payload
		}
	}

	if delta == nil {
		t.Fatal("expected alice to receive an update delta")
	}

	if delta.Participant.ParticipantID != "bob" || delta.Participant.CursorPosition != 4 {
		t.Errorf("unexpected delta: %+v", delta)
	}

	_, err = r.UpdatePresence("stranger", presence.Update{})
	if !errors.Is(err, room.ErrNotInRoom) {
		t.Errorf("expected ErrNotInRoom, got %v", err)
	}
}

func TestRoom_IdempotentResync(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "ab", 64)
	join(t, r, "alice")

	op := ot.NewInsert("c", 2, "alice")
	op.BaseRevision = 0

	applied, err := r.ProcessOperation("alice", op)
	require.NoError(t, err)

	first, err := r.SyncState("alice")
	require.NoError(t, err)

	second, err := r.SyncState("alice")
	require.NoError(t, err)

	if first.Content != second.Content || first.Revision != second.Revision {
		t.Errorf("sync states diverged: %+v vs %+v", first, second)
	}

	if first.Revision != applied.Revision || first.Content != "abc" {
		t.Errorf("sync state inconsistent with last applied op: %+v", first)
	}

	_, err = r.SyncState("stranger")
	if !errors.Is(err, room.ErrNotInRoom) {
		t.Errorf("expected ErrNotInRoom, got %v", err)
	}
}

func TestRoom_Leave(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "", 64)

	aliceSub := join(t, r, "alice")
	join(t, r, "bob")

	remaining, err := r.Leave("bob")
	require.NoError(t, err)

	if remaining != 1 {
		t.Errorf("expected 1 remaining, got %d", remaining)
	}

	var sawLeave bool

	for _, msg := range aliceSub.messages() {
		if msg.Type != ws.MessageTypePresenceDelta {
			continue
		}

		if payload := msg.Payload.(ws.PresenceDeltaPayload); payload.Action == ws.PresenceActionLeave {
			sawLeave = true
		}
	}

	if !sawLeave {
		t.Error("expected alice to receive a leave delta")
	}

	// Departed participants can no longer submit.
	_, err = r.ProcessOperation("bob", ot.NewInsert("x", 0, "bob"))
	if !errors.Is(err, room.ErrNotInRoom) {
		t.Errorf("expected ErrNotInRoom, got %v", err)
	}
}

func TestRoom_PruneStale(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "", 64)

	join(t, r, "alice")
	join(t, r, "bob")

	// Everyone is fresh: nothing pruned.
	removed, err := r.PruneStale(time.Now().Add(-time.Minute))
	require.NoError(t, err)

	if len(removed) != 0 {
		t.Errorf("expected nothing pruned, got %v", removed)
	}

	// A cutoff in the future treats everyone as stale.
	removed, err = r.PruneStale(time.Now().Add(time.Minute))
	require.NoError(t, err)

	if len(removed) != 2 {
		t.Errorf("expected both pruned, got %v", removed)
	}

	n, err := r.Participants()
	require.NoError(t, err)

	if n != 0 {
		t.Errorf("expected empty room, got %d participants", n)
	}
}

func TestRoom_Resolve_MergeStrategy(t *testing.T) {
	t.Parallel()

	r, store := newTestRoom(t, "", 64)
	join(t, r, "alice")

	batch := []ot.Operation{
		ot.NewInsert("a", 0, "alice"),
		ot.NewInsert("b", 1, "alice"),
	}

	res, err := r.Resolve(resolve.StrategyMerge, batch)
	require.NoError(t, err)

	if res.Strategy != resolve.StrategyMerge {
		t.Errorf("expected merge strategy, got %q", res.Strategy)
	}

	if len(res.MergedOperations) != 1 || res.MergedOperations[0].Revision != 1 {
		t.Errorf("expected single op at revision 1, got %+v", res.MergedOperations)
	}

	content, err := store.ReadContent(context.Background(), "f1")
	require.NoError(t, err)

	if content != "ab" {
		t.Errorf("expected ab, got %q", content)
	}

	state, err := r.State()
	require.NoError(t, err)

	if state != room.StateActive {
		t.Errorf("expected room back to active, got %v", state)
	}
}

func TestRoom_Resolve_UnknownStrategy(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "", 64)

	_, err := r.Resolve("coin-flip", nil)
	if err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestRoom_ClosedRoomRejectsCommands(t *testing.T) {
	t.Parallel()

	r, _ := newTestRoom(t, "", 64)
	r.Close()

	_, err := r.Join(presence.Presence{ParticipantID: "alice"}, &fakeSub{})
	if !errors.Is(err, room.ErrRoomClosed) {
		t.Errorf("expected ErrRoomClosed, got %v", err)
	}
}

// TestRoom_Convergence is the core property: N participants firing
// concurrent operations, every participant's replayed view ends up
// byte-identical to the authoritative document.
func TestRoom_Convergence(t *testing.T) {
	t.Parallel()

	const (
		participants  = 4
		opsPerAuthor  = 25
		initialDoc    = "seed"
		historyWindow = 1024
	)

	r, _ := newTestRoom(t, initialDoc, historyWindow)

	ids := []string{"p0", "p1", "p2", "p3"}
	subs := make(map[string]*fakeSub, participants)
	acked := make(map[string][]ot.Operation, participants)

	var mu sync.Mutex

	for _, id := range ids {
		subs[id] = join(t, r, id)
	}

	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)

		go func(author string) {
			defer wg.Done()

			for n := 0; n < opsPerAuthor; n++ {
				// All ops claim base revision 0: maximal staleness.
				op := ot.NewInsert(author[1:], 0, author)
				op.BaseRevision = 0

				applied, err := r.ProcessOperation(author, op)
				if err != nil {
					t.Errorf("process operation: %v", err)

					return
				}

				mu.Lock()
				acked[author] = append(acked[author], applied)
				mu.Unlock()
			}
		}(id)
	}

	wg.Wait()

	snapshot, err := r.SyncState("p0")
	require.NoError(t, err)

	total := participants * opsPerAuthor
	if snapshot.Revision != total {
		t.Fatalf("expected revision %d, got %d", total, snapshot.Revision)
	}

	// Each participant reconstructs the document from its own acks plus
	// the broadcasts it received, ordered by revision.
	for _, id := range ids {
		all := append([]ot.Operation{}, acked[id]...)
		all = append(all, subs[id].appliedOps(t)...)

		sort.Slice(all, func(i, j int) bool {
			return all[i].Revision < all[j].Revision
		})

		if len(all) != total {
			t.Fatalf("%s: expected %d ops, got %d", id, total, len(all))
		}

		// Revisions are gapless and start at 1.
		for i, op := range all {
			if op.Revision != i+1 {
				t.Fatalf("%s: expected revision %d at index %d, got %d", id, i+1, i, op.Revision)
			}
		}

		doc, err := ot.ApplyAll(initialDoc, all)
		require.NoError(t, err)

		if doc != snapshot.Content {
			t.Errorf("%s: view diverged from authoritative document", id)
		}
	}
}
