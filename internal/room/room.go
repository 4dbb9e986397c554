// Package room implements the serialization boundary of the engine: one
// logical document-editing session per project file. Each room runs a
// single actor goroutine that drains a bounded command queue, so exactly
// one operation is applied to the document at any instant — the invariant
// that makes transform-then-apply safe without further locking.
package room

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quillshare/collab-engine/internal/docstore"
	"github.com/quillshare/collab-engine/internal/ot"
	"github.com/quillshare/collab-engine/internal/presence"
	"github.com/quillshare/collab-engine/internal/resolve"
	"github.com/quillshare/collab-engine/internal/ws"
)

// Common errors.
var (
	// ErrNotInRoom is returned for operation or presence messages from a
	// participant that has not joined the room.
	ErrNotInRoom = errors.New("participant not in room")

	// ErrConflictUnresolvable is returned when an operation's base revision
	// falls outside the transformable window; the client must re-sync.
	ErrConflictUnresolvable = errors.New("conflict unresolvable, re-sync required")

	// ErrStorageUnavailable is returned when persisting an operation
	// failed. The operation is not applied and the revision is unchanged.
	ErrStorageUnavailable = errors.New("document storage unavailable")

	// ErrRoomDegraded is returned when the room has exhausted its storage
	// retry budget. It still serves sync reads but rejects new operations.
	ErrRoomDegraded = errors.New("room degraded, rejecting operations")

	// ErrRoomClosed is returned when the room's actor has shut down.
	ErrRoomClosed = errors.New("room closed")
)

// Subscriber is an opaque send capability for one participant. Send must
// not block: the room calls it directly from its actor loop. ws.Client
// satisfies this with its buffered outbound queue.
type Subscriber interface {
	Send(msg ws.Message) error
}

// State is the room lifecycle state.
type State int

const (
	// StateActive accepts and applies operations.
	StateActive State = iota
	// StateResolving runs a conflict resolution; queued commands wait.
	StateResolving
	// StateDegraded rejects operations after persistent storage failures
	// but still serves sync reads.
	StateDegraded
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateResolving:
		return "resolving"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// SyncState is the full-state snapshot pushed to a joining or re-syncing
// participant.
type SyncState struct {
	RoomID       string
	Content      string
	Revision     int
	Participants []presence.Presence
}

// Config holds configuration for creating a room.
type Config struct {
	ID        string
	ProjectID string
	FileID    string
	Content   string // initial document content, read from storage
	Revision  int    // revision matching Content

	Store docstore.Store

	HistoryWindow int           // ops retained for stale-op transforms
	RetryBudget   int           // consecutive storage failures before degrading
	QueueSize     int           // bound of the inbound command queue
	WriteTimeout  time.Duration // per persistence call
}

// Room is one collaborative editing session. All mutable state below cmds
// is confined to the actor goroutine.
type Room struct {
	id        string
	projectID string
	fileID    string

	cmds chan func()
	done chan struct{}

	closeOnce sync.Once

	// Actor-confined state.
	content      string
	history      *ot.History
	tracker      *presence.Tracker
	subs         map[string]Subscriber
	state        State
	failures     int
	lastActivity time.Time

	store        docstore.Store
	retryBudget  int
	writeTimeout time.Duration
}

// New creates a room and starts its actor goroutine.
func New(cfg Config) *Room {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 256
	}

	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}

	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	history := ot.NewHistory(cfg.HistoryWindow)
	history.SetRevision(cfg.Revision)

	r := &Room{
		id:           cfg.ID,
		projectID:    cfg.ProjectID,
		fileID:       cfg.FileID,
		cmds:         make(chan func(), cfg.QueueSize),
		done:         make(chan struct{}),
		content:      cfg.Content,
		history:      history,
		tracker:      presence.NewTracker(),
		subs:         make(map[string]Subscriber),
		state:        StateActive,
		lastActivity: time.Now(),
		store:        cfg.Store,
		retryBudget:  cfg.RetryBudget,
		writeTimeout: cfg.WriteTimeout,
	}

	go r.run()

	return r
}

// run drains the command queue until the room is closed.
func (r *Room) run() {
	for {
		select {
		case fn := <-r.cmds:
			fn()
		case <-r.done:
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it to finish.
func (r *Room) do(fn func()) error {
	ran := make(chan struct{})

	wrapped := func() {
		fn()
		close(ran)
	}

	select {
	case r.cmds <- wrapped:
	case <-r.done:
		return ErrRoomClosed
	}

	select {
	case <-ran:
		return nil
	case <-r.done:
		// The command may still have executed just before shutdown.
		select {
		case <-ran:
			return nil
		default:
			return ErrRoomClosed
		}
	}
}

// ID returns the room identifier.
func (r *Room) ID() string { return r.id }

// ProjectID returns the project this room belongs to.
func (r *Room) ProjectID() string { return r.projectID }

// FileID returns the file this room edits.
func (r *Room) FileID() string { return r.fileID }

// Join registers a participant's presence and send capability and returns
// the full-state sync snapshot. Joining twice is idempotent: the presence
// entry is refreshed, not duplicated, and no second join delta is sent.
func (r *Room) Join(p presence.Presence, sub Subscriber) (SyncState, error) {
	var snapshot SyncState

	err := r.do(func() {
		now := time.Now()
		_, rejoin := r.subs[p.ParticipantID]

		r.subs[p.ParticipantID] = sub

		if rejoin {
			r.tracker.Touch(p.ParticipantID, now)
		} else {
			p.LastSeenAt = now
			r.tracker.Upsert(p)
			r.broadcast(p.ParticipantID, ws.Message{
				Type: ws.MessageTypePresenceDelta,
				Payload: ws.PresenceDeltaPayload{
					RoomID:      r.id,
					Participant: p,
					Action:      ws.PresenceActionJoin,
				},
			})
		}

		r.lastActivity = now
		snapshot = r.snapshot()
	})

	return snapshot, err
}

// Leave removes a participant and reports how many remain. Unknown
// participants are ignored.
func (r *Room) Leave(participantID string) (int, error) {
	remaining := 0

	err := r.do(func() {
		remaining = r.tracker.Len()

		if _, ok := r.subs[participantID]; !ok {
			return
		}

		p, _ := r.tracker.Get(participantID)
		delete(r.subs, participantID)
		r.tracker.Remove(participantID)
		r.lastActivity = time.Now()
		remaining = r.tracker.Len()

		r.broadcast(participantID, ws.Message{
			Type: ws.MessageTypePresenceDelta,
			Payload: ws.PresenceDeltaPayload{
				RoomID:      r.id,
				Participant: p,
				Action:      ws.PresenceActionLeave,
			},
		})
	})

	return remaining, err
}

// ProcessOperation accepts an edit from a participant. A stale operation
// is transformed against everything applied since its base revision, then
// applied, persisted, assigned the next revision, and broadcast to every
// other participant. On any failure the document and revision are
// unchanged and the author receives no acknowledgment.
func (r *Room) ProcessOperation(participantID string, op ot.Operation) (ot.Operation, error) {
	var (
		applied ot.Operation
		opErr   error
	)

	err := r.do(func() {
		applied, opErr = r.processOperation(participantID, op)
	})
	if err != nil {
		return ot.Operation{}, err
	}

	return applied, opErr
}

// processOperation runs on the actor goroutine.
func (r *Room) processOperation(participantID string, op ot.Operation) (ot.Operation, error) {
	if _, ok := r.subs[participantID]; !ok {
		return ot.Operation{}, ErrNotInRoom
	}

	if r.state == StateDegraded {
		return ot.Operation{}, ErrRoomDegraded
	}

	op.Author = participantID
	if op.ID == "" {
		op.ID = uuid.New().String()
	}

	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}

	since, err := r.history.Since(op.BaseRevision)
	if err != nil {
		return ot.Operation{}, fmt.Errorf("%w: %v", ErrConflictUnresolvable, err)
	}

	for _, prev := range since {
		op = ot.Transform(op, prev)
	}

	newContent, err := ot.Apply(r.content, op)
	if err != nil {
		return ot.Operation{}, err
	}

	if err := r.persist(newContent); err != nil {
		return ot.Operation{}, err
	}

	now := time.Now()
	r.content = newContent
	op = r.history.Assign(op)
	r.tracker.Touch(participantID, now)
	r.lastActivity = now

	r.broadcast(participantID, ws.Message{
		Type: ws.MessageTypeOperationApplied,
		Payload: ws.OperationAppliedPayload{
			RoomID:      r.id,
			Operation:   ws.ToWire(op),
			NewRevision: op.Revision,
		},
	})

	return op, nil
}

// persist writes the new content through the storage collaborator,
// tracking consecutive failures against the retry budget.
func (r *Room) persist(content string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.store.WriteContent(ctx, r.fileID, content); err != nil {
		r.failures++
		if r.failures >= r.retryBudget {
			r.state = StateDegraded

			log.Printf("room %s: storage failed %d times, degrading: %v", r.id, r.failures, err)
		}

		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	r.failures = 0

	return nil
}

// UpdatePresence merges a partial presence update, stamps LastSeenAt, and
// broadcasts the delta to the rest of the room.
func (r *Room) UpdatePresence(participantID string, u presence.Update) (presence.Presence, error) {
	var (
		merged presence.Presence
		opErr  error
	)

	err := r.do(func() {
		p, ok := r.tracker.Apply(participantID, u, time.Now())
		if !ok {
			opErr = ErrNotInRoom

			return
		}

		merged = p
		r.lastActivity = time.Now()

		r.broadcast(participantID, ws.Message{
			Type: ws.MessageTypePresenceDelta,
			Payload: ws.PresenceDeltaPayload{
				RoomID:      r.id,
				Participant: p,
				Action:      ws.PresenceActionUpdate,
			},
		})
	})
	if err != nil {
		return presence.Presence{}, err
	}

	return merged, opErr
}

// SyncState returns the current full-state snapshot for a participant.
// This is the resynchronization primitive; it works even when the room is
// degraded.
func (r *Room) SyncState(participantID string) (SyncState, error) {
	var (
		snapshot SyncState
		opErr    error
	)

	err := r.do(func() {
		if _, ok := r.subs[participantID]; !ok {
			opErr = ErrNotInRoom

			return
		}

		snapshot = r.snapshot()
	})
	if err != nil {
		return SyncState{}, err
	}

	return snapshot, opErr
}

// Resolve reconciles a batch of concurrent operations with the named
// strategy and applies the merged outcome. The room is in StateResolving
// for the duration; commands arriving meanwhile queue behind it.
func (r *Room) Resolve(strategy resolve.Strategy, batch []ot.Operation) (resolve.Resolution, error) {
	resolver, err := resolve.ForStrategy(strategy)
	if err != nil {
		return resolve.Resolution{}, err
	}

	var (
		res   resolve.Resolution
		opErr error
	)

	err = r.do(func() {
		if r.state == StateDegraded {
			opErr = ErrRoomDegraded

			return
		}

		r.state = StateResolving
		defer func() { r.state = StateActive }()

		res = resolver.Resolve(batch)

		newContent, aerr := ot.ApplyAll(r.content, res.MergedOperations)
		if aerr != nil {
			opErr = aerr

			return
		}

		if perr := r.persist(newContent); perr != nil {
			opErr = perr

			return
		}

		r.content = newContent
		r.lastActivity = time.Now()

		for i, op := range res.MergedOperations {
			op = r.history.Assign(op)
			res.MergedOperations[i] = op

			r.broadcast(op.Author, ws.Message{
				Type: ws.MessageTypeOperationApplied,
				Payload: ws.OperationAppliedPayload{
					RoomID:      r.id,
					Operation:   ws.ToWire(op),
					NewRevision: op.Revision,
				},
			})
		}
	})
	if err != nil {
		return resolve.Resolution{}, err
	}

	return res, opErr
}

// PruneStale removes participants whose presence has not been refreshed
// since cutoff, notifying the rest of the room. Returns the removed IDs.
func (r *Room) PruneStale(cutoff time.Time) ([]string, error) {
	var removed []string

	err := r.do(func() {
		for _, id := range r.tracker.Stale(cutoff) {
			p, _ := r.tracker.Get(id)
			delete(r.subs, id)
			r.tracker.Remove(id)
			removed = append(removed, id)

			r.broadcast(id, ws.Message{
				Type: ws.MessageTypePresenceDelta,
				Payload: ws.PresenceDeltaPayload{
					RoomID:      r.id,
					Participant: p,
					Action:      ws.PresenceActionLeave,
				},
			})
		}
	})

	return removed, err
}

// Participants returns the number of present participants.
func (r *Room) Participants() (int, error) {
	n := 0
	err := r.do(func() { n = r.tracker.Len() })

	return n, err
}

// Revision returns the current document revision.
func (r *Room) Revision() (int, error) {
	rev := 0
	err := r.do(func() { rev = r.history.Revision() })

	return rev, err
}

// State returns the room's lifecycle state.
func (r *Room) State() (State, error) {
	var s State
	err := r.do(func() { s = r.state })

	return s, err
}

// LastActivity returns the time of the last join, leave, operation, or
// presence change.
func (r *Room) LastActivity() (time.Time, error) {
	var t time.Time
	err := r.do(func() { t = r.lastActivity })

	return t, err
}

// Close shuts down the actor. Pending commands fail with ErrRoomClosed.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}

// snapshot builds the sync payload. Actor goroutine only.
func (r *Room) snapshot() SyncState {
	return SyncState{
		RoomID:       r.id,
		Content:      r.content,
		Revision:     r.history.Revision(),
		Participants: r.tracker.List(),
	}
}

// broadcast fans a message out to every participant except exclude.
// Subscribers are non-blocking by contract; a failed send is logged and
// the participant is expected to re-sync.
func (r *Room) broadcast(exclude string, msg ws.Message) {
	for id, sub := range r.subs {
		if id == exclude {
			continue
		}

		if err := sub.Send(msg); err != nil {
			log.Printf("room %s: send to %s failed: %v", r.id, id, err)
		}
	}
}
