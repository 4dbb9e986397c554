// Package auth is the authorization collaborator: the engine asks it once
// at join time whether a participant may access a project, and never
// inspects roles beyond that answer.
package auth

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrAccessDenied  = errors.New("access denied")
	ErrGrantNotFound = errors.New("grant not found")
)

// Level is a participant's access level within a project.
type Level int

const (
	// LevelViewer can join rooms and read documents.
	LevelViewer Level = iota
	// LevelEditor can additionally submit operations.
	LevelEditor
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelViewer:
		return "viewer"
	case LevelEditor:
		return "editor"
	default:
		return "unknown"
	}
}

// Authorizer answers project-access checks.
type Authorizer interface {
	// CheckAccess reports whether the participant may access the project.
	CheckAccess(ctx context.Context, participantID, projectID string) (bool, error)
}

// Store is an Authorizer whose grants can be managed at runtime.
type Store interface {
	Authorizer

	// Grant gives a participant a level on a project, replacing any
	// existing grant.
	Grant(participantID, projectID string, level Level) error

	// Revoke removes a participant's grant on a project.
	// Returns ErrGrantNotFound if no grant exists.
	Revoke(participantID, projectID string) error
}

// AllowAll grants every participant access to every project. Useful for
// development and tests.
type AllowAll struct{}

// CheckAccess implements Authorizer.
func (AllowAll) CheckAccess(context.Context, string, string) (bool, error) {
	return true, nil
}
