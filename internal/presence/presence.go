// Package presence tracks transient per-participant metadata — cursor,
// selection, typing state — distinct from document content. The tracker is
// pure data with no locking: it is owned by a single room actor.
package presence

import "time"

// Range is a half-open selection span in rune offsets.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Presence is one participant's view state within a room. Only the owning
// participant's messages mutate it; everyone else sees it via broadcasts.
type Presence struct {
	ParticipantID  string    `json:"participantId"`
	DisplayName    string    `json:"displayName"`
	CursorPosition int       `json:"cursorPosition"`
	Selection      *Range    `json:"selection,omitempty"`
	IsTyping       bool      `json:"isTyping"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
}

// Update carries the partial fields of a presence message. Nil fields are
// left untouched by Tracker.Apply.
type Update struct {
	CursorPosition *int   `json:"cursorPosition,omitempty"`
	Selection      *Range `json:"selection,omitempty"`
	IsTyping       *bool  `json:"isTyping,omitempty"`
}
