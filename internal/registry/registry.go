// Package registry is the session registry: it owns the mapping from
// project files to live rooms, creates rooms on first join after the
// access check passes, routes connections to their room, and evicts idle
// sessions on a background sweep.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/quillshare/collab-engine/internal/auth"
	"github.com/quillshare/collab-engine/internal/docstore"
	"github.com/quillshare/collab-engine/internal/presence"
	"github.com/quillshare/collab-engine/internal/room"
)

// RoomID derives the canonical room identifier for a project file.
func RoomID(projectID, fileID string) string {
	return projectID + ":" + fileID
}

// binding records which room a connection's participant has joined.
type binding struct {
	roomID        string
	participantID string
}

// Config holds configuration for the registry.
type Config struct {
	Auth  auth.Authorizer
	Store docstore.Store

	HistoryWindow int
	RetryBudget   int
	QueueSize     int
	WriteTimeout  time.Duration

	// IdleThreshold is how long a room may go without activity before the
	// sweep evicts it.
	IdleThreshold time.Duration

	// SweepInterval is how often Run performs a sweep.
	SweepInterval time.Duration

	// PresenceTimeout is how long a participant's presence may go
	// unrefreshed before the sweep prunes it. It backstops the connection
	// read deadline, so it should be a small multiple of the heartbeat
	// interval.
	PresenceTimeout time.Duration
}

// Registry manages the set of live rooms.
type Registry struct {
	authz auth.Authorizer
	store docstore.Store

	historyWindow   int
	retryBudget     int
	queueSize       int
	writeTimeout    time.Duration
	idleThreshold   time.Duration
	sweepInterval   time.Duration
	presenceTimeout time.Duration

	mu       sync.RWMutex
	rooms    map[string]*room.Room
	bindings map[string]binding
	closed   bool
}

// RoomInfo is a point-in-time view of one live room.
type RoomInfo struct {
	RoomID       string `json:"roomId"`
	ProjectID    string `json:"projectId"`
	FileID       string `json:"fileId"`
	Participants int    `json:"participants"`
	Revision     int    `json:"revision"`
	State        string `json:"state"`
}

// New creates a registry.
func New(cfg Config) *Registry {
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = 30 * time.Minute
	}

	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}

	if cfg.PresenceTimeout <= 0 {
		cfg.PresenceTimeout = time.Minute
	}

	return &Registry{
		authz:           cfg.Auth,
		store:           cfg.Store,
		historyWindow:   cfg.HistoryWindow,
		retryBudget:     cfg.RetryBudget,
		queueSize:       cfg.QueueSize,
		writeTimeout:    cfg.WriteTimeout,
		idleThreshold:   cfg.IdleThreshold,
		sweepInterval:   cfg.SweepInterval,
		presenceTimeout: cfg.PresenceTimeout,
		rooms:           make(map[string]*room.Room),
		bindings:        make(map[string]binding),
	}
}

// JoinRoom admits a participant into the room for a project file, creating
// the room on first join. The access check runs before any room state is
// touched: a denied participant never causes a room to exist. The
// connection is bound to the room so a dropped connection can be cleaned
// up without knowing which room it was in.
func (r *Registry) JoinRoom(ctx context.Context, connectionID string, p presence.Presence, projectID, fileID string, sub room.Subscriber) (*room.Room, room.SyncState, error) {
	ok, err := r.authz.CheckAccess(ctx, p.ParticipantID, projectID)
	if err != nil {
		return nil, room.SyncState{}, fmt.Errorf("access check: %w", err)
	}

	if !ok {
		return nil, room.SyncState{}, auth.ErrAccessDenied
	}

	var (
		rm       *room.Room
		snapshot room.SyncState
	)

	// A room can be evicted between lookup and join when its last
	// participant leaves; one retry recreates it.
	for attempt := 0; attempt < 2; attempt++ {
		rm, err = r.roomFor(ctx, projectID, fileID)
		if err != nil {
			return nil, room.SyncState{}, err
		}

		snapshot, err = rm.Join(p, sub)
		if err == nil {
			break
		}

		if !errors.Is(err, room.ErrRoomClosed) {
			return nil, room.SyncState{}, err
		}

		r.dropRoom(rm)
	}

	if err != nil {
		return nil, room.SyncState{}, err
	}

	r.mu.Lock()
	if prev, ok := r.bindings[connectionID]; ok && prev.roomID != rm.ID() {
		// The connection switched files; detach it from the old room.
		if old, exists := r.rooms[prev.roomID]; exists {
			defer r.leaveQuietly(old, prev.participantID)
		}
	}

	r.bindings[connectionID] = binding{roomID: rm.ID(), participantID: p.ParticipantID}
	r.mu.Unlock()

	return rm, snapshot, nil
}

// roomFor returns the live room for a project file, creating it if needed.
func (r *Registry) roomFor(ctx context.Context, projectID, fileID string) (*room.Room, error) {
	id := RoomID(projectID, fileID)

	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()

	if ok {
		return rm, nil
	}

	content, err := r.store.ReadContent(ctx, fileID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, room.ErrRoomClosed
	}

	// Another join may have created the room while we read the file.
	if rm, ok = r.rooms[id]; ok {
		return rm, nil
	}

	rm = room.New(room.Config{
		ID:            id,
		ProjectID:     projectID,
		FileID:        fileID,
		Content:       content,
		Store:         r.store,
		HistoryWindow: r.historyWindow,
		RetryBudget:   r.retryBudget,
		QueueSize:     r.queueSize,
		WriteTimeout:  r.writeTimeout,
	})
	r.rooms[id] = rm

	log.Printf("registry: created room %s", id)

	return rm, nil
}

// GetRoom returns a live room by ID, or nil if none exists.
func (r *Registry) GetRoom(roomID string) *room.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.rooms[roomID]
}

// LeaveRoom removes a participant from a room. Unknown rooms are a no-op.
func (r *Registry) LeaveRoom(roomID, participantID string) {
	rm := r.GetRoom(roomID)
	if rm == nil {
		return
	}

	r.leaveQuietly(rm, participantID)
}

// LeaveConnection detaches a connection from whatever room it had joined.
// Called when a connection drops for any reason.
func (r *Registry) LeaveConnection(connectionID string) {
	r.mu.Lock()
	b, ok := r.bindings[connectionID]
	delete(r.bindings, connectionID)
	rm := r.rooms[b.roomID]
	r.mu.Unlock()

	if !ok || rm == nil {
		return
	}

	r.leaveQuietly(rm, b.participantID)
}

// leaveQuietly removes the participant and tears the room down when it
// just became empty.
func (r *Registry) leaveQuietly(rm *room.Room, participantID string) {
	remaining, err := rm.Leave(participantID)
	if err != nil {
		log.Printf("registry: leave %s from room %s: %v", participantID, rm.ID(), err)

		return
	}

	if remaining == 0 {
		r.dropRoom(rm)

		log.Printf("registry: closed empty room %s", rm.ID())
	}
}

// dropRoom closes a room and removes it from the table if still present.
// A room that picked up a participant in the meantime is left alone.
func (r *Registry) dropRoom(rm *room.Room) {
	if n, err := rm.Participants(); err == nil && n > 0 {
		return
	}

	rm.Close()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[rm.ID()] == rm {
		delete(r.rooms, rm.ID())
	}
}

// Rooms returns a snapshot of every live room.
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	rooms := make([]*room.Room, 0, len(r.rooms))

	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	infos := make([]RoomInfo, 0, len(rooms))

	for _, rm := range rooms {
		n, err := rm.Participants()
		if err != nil {
			continue
		}

		rev, err := rm.Revision()
		if err != nil {
			continue
		}

		state, err := rm.State()
		if err != nil {
			continue
		}

		infos = append(infos, RoomInfo{
			RoomID:       rm.ID(),
			ProjectID:    rm.ProjectID(),
			FileID:       rm.FileID(),
			Participants: n,
			Revision:     rev,
			State:        state.String(),
		})
	}

	return infos
}

// Run sweeps idle rooms until the context is canceled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep prunes participants whose presence outlived the heartbeat-based
// timeout, then evicts rooms that are empty or idle past the threshold.
// Returns the evicted room IDs.
func (r *Registry) Sweep(now time.Time) []string {
	cutoff := now.Add(-r.idleThreshold)
	presenceCutoff := now.Add(-r.presenceTimeout)

	r.mu.RLock()
	rooms := make(map[string]*room.Room, len(r.rooms))

	for id, rm := range r.rooms {
		rooms[id] = rm
	}
	r.mu.RUnlock()

	var evict []string

	for id, rm := range rooms {
		if pruned, err := rm.PruneStale(presenceCutoff); err == nil && len(pruned) > 0 {
			log.Printf("registry: pruned %d stale participants from room %s", len(pruned), id)
		}

		n, err := rm.Participants()
		if err != nil {
			evict = append(evict, id)

			continue
		}

		last, err := rm.LastActivity()
		if err != nil {
			evict = append(evict, id)

			continue
		}

		// Empty rooms get one sweep interval of grace so a room created
		// moments ago is not torn down under a joining participant.
		if last.Before(cutoff) || (n == 0 && last.Before(now.Add(-r.sweepInterval))) {
			evict = append(evict, id)
		}
	}

	if len(evict) == 0 {
		return nil
	}

	r.mu.Lock()
	for _, id := range evict {
		if rm, ok := r.rooms[id]; ok {
			rm.Close()
			delete(r.rooms, id)
		}
	}

	for conn, b := range r.bindings {
		for _, id := range evict {
			if b.roomID == id {
				delete(r.bindings, conn)
			}
		}
	}
	r.mu.Unlock()

	log.Printf("registry: evicted %d idle rooms", len(evict))

	return evict
}

// Close shuts down every room. The registry accepts no further joins.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.closed = true

	for id, rm := range r.rooms {
		rm.Close()
		delete(r.rooms, id)
	}
}
