// Package docstore is the document-storage collaborator: the single source
// of truth for file contents outside of in-memory room state. The engine
// reads once at join and writes once per accepted operation.
package docstore

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileExists   = errors.New("file already exists")
)

// Store persists whole file contents.
type Store interface {
	// ReadContent returns the current content of a file.
	// Returns ErrFileNotFound if the file does not exist.
	ReadContent(ctx context.Context, fileID string) (string, error)

	// WriteContent replaces the content of an existing file.
	// Returns ErrFileNotFound if the file does not exist.
	WriteContent(ctx context.Context, fileID, content string) error

	// Exists checks whether a file exists.
	Exists(ctx context.Context, fileID string) (bool, error)

	// CreateFile creates a file with initial content.
	// Returns ErrFileExists if the file already exists.
	CreateFile(ctx context.Context, fileID, content string) error
}
