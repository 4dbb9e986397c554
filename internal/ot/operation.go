package ot

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// Kind identifies the type of edit an operation performs.
type Kind int

const (
	Insert Kind = iota
	Delete
	Replace
)

// String returns the wire name of the kind.
func (k Kind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Replace:
		return "replace"
	default:
		return "unknown"
	}
}

// ParseKind converts a wire name back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "insert":
		return Insert, nil
	case "delete":
		return Delete, nil
	case "replace":
		return Replace, nil
	default:
		return 0, fmt.Errorf("unknown operation kind %q", s)
	}
}

// Operation is a single atomic edit to a document.
//
// Position and Length are measured in runes, not bytes. BaseRevision is the
// revision the author saw when producing the edit; Revision is assigned by
// the room once the operation is accepted (zero until then).
type Operation struct {
	ID           string
	Kind         Kind
	Position     int
	Length       int    // Delete/Replace: number of runes removed
	Content      string // Insert/Replace: text added
	Author       string
	BaseRevision int
	Revision     int
	Timestamp    time.Time
}

// NewInsert creates an insert of content at position.
func NewInsert(content string, position int, author string) Operation {
	return Operation{
		Kind:      Insert,
		Position:  position,
		Content:   content,
		Author:    author,
		Timestamp: time.Now(),
	}
}

// NewDelete creates a delete of length runes starting at position.
func NewDelete(position, length int, author string) Operation {
	return Operation{
		Kind:      Delete,
		Position:  position,
		Length:    length,
		Author:    author,
		Timestamp: time.Now(),
	}
}

// NewReplace creates a replace of length runes at position with content.
func NewReplace(position, length int, content, author string) Operation {
	return Operation{
		Kind:      Replace,
		Position:  position,
		Length:    length,
		Content:   content,
		Author:    author,
		Timestamp: time.Now(),
	}
}

// ContentLen returns the rune length of the operation's inserted text.
func (o Operation) ContentLen() int {
	return utf8.RuneCountInString(o.Content)
}

// End returns the first position past the operation's removal span.
// For inserts this equals Position.
func (o Operation) End() int {
	return o.Position + o.Length
}

// IsNoop reports whether the operation no longer has any effect.
// Transforms can annihilate an operation (e.g. deleting already-deleted
// text), leaving a zero-span, zero-content edit behind.
func (o Operation) IsNoop() bool {
	return o.Length == 0 && o.Content == ""
}
