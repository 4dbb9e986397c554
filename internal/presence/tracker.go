package presence

import (
	"sort"
	"time"
)

// Tracker holds the presence set for one room.
type Tracker struct {
	members map[string]Presence
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		members: make(map[string]Presence),
	}
}

// Get returns a participant's presence.
func (t *Tracker) Get(participantID string) (Presence, bool) {
	p, ok := t.members[participantID]

	return p, ok
}

// Upsert inserts or fully replaces a presence entry.
func (t *Tracker) Upsert(p Presence) {
	t.members[p.ParticipantID] = p
}

// Apply merges an update's non-nil fields into the participant's presence
// and stamps LastSeenAt. It reports false if the participant is unknown.
func (t *Tracker) Apply(participantID string, u Update, now time.Time) (Presence, bool) {
	p, ok := t.members[participantID]
	if !ok {
		return Presence{}, false
	}

	if u.CursorPosition != nil {
		p.CursorPosition = *u.CursorPosition
	}

	if u.Selection != nil {
		p.Selection = u.Selection
	}

	if u.IsTyping != nil {
		p.IsTyping = *u.IsTyping
	}

	p.LastSeenAt = now
	t.members[participantID] = p

	return p, true
}

// Touch stamps LastSeenAt without changing any other field.
func (t *Tracker) Touch(participantID string, now time.Time) {
	if p, ok := t.members[participantID]; ok {
		p.LastSeenAt = now
		t.members[participantID] = p
	}
}

// Remove deletes a participant's presence, reporting whether it existed.
func (t *Tracker) Remove(participantID string) bool {
	_, ok := t.members[participantID]
	delete(t.members, participantID)

	return ok
}

// List returns all presences ordered by participant ID, so broadcasts and
// sync payloads are deterministic.
func (t *Tracker) List() []Presence {
	out := make([]Presence, 0, len(t.members))
	for _, p := range t.members {
		out = append(out, p)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ParticipantID < out[j].ParticipantID
	})

	return out
}

// Len returns the number of tracked participants.
func (t *Tracker) Len() int {
	return len(t.members)
}

// Stale returns the IDs of participants whose LastSeenAt is before cutoff.
func (t *Tracker) Stale(cutoff time.Time) []string {
	var out []string

	for id, p := range t.members {
		if p.LastSeenAt.Before(cutoff) {
			out = append(out, id)
		}
	}

	sort.Strings(out)

	return out
}
