package ot

import "errors"

// ErrRevisionTooOld is returned when a base revision falls outside the
// retained history window and the operation can no longer be transformed.
var ErrRevisionTooOld = errors.New("base revision too old, history unavailable")

// ErrFutureRevision is returned when a base revision is ahead of the
// document — the client claims to have seen operations that do not exist.
var ErrFutureRevision = errors.New("base revision is ahead of the document")

// History is the bounded per-room log of accepted operations, kept so that
// stale operations can be transformed against everything applied since
// their base revision.
//
// History is not safe for concurrent use: it is owned by a single room
// actor, which serializes all access.
type History struct {
	revision int
	window   int
	ops      []Operation
}

// NewHistory creates a history retaining at most window operations.
func NewHistory(window int) *History {
	return &History{
		window: window,
		ops:    make([]Operation, 0, window),
	}
}

// Revision returns the revision of the last assigned operation.
func (h *History) Revision() int {
	return h.revision
}

// SetRevision seeds the revision counter, e.g. when a room is rebuilt from
// persisted content. The retained ops are discarded.
func (h *History) SetRevision(rev int) {
	h.revision = rev
	h.ops = h.ops[:0]
}

// Assign stamps the next revision onto op and records it.
func (h *History) Assign(op Operation) Operation {
	h.revision++
	op.Revision = h.revision

	h.ops = append(h.ops, op)
	if len(h.ops) > h.window {
		h.ops = h.ops[1:]
	}

	return op
}

// Since returns all retained operations with revision greater than rev, in
// revision order. ErrRevisionTooOld is returned when operations after rev
// have already been pruned; ErrFutureRevision when rev exceeds the current
// revision.
func (h *History) Since(rev int) ([]Operation, error) {
	if rev > h.revision {
		return nil, ErrFutureRevision
	}

	if rev == h.revision {
		return nil, nil
	}

	if len(h.ops) == 0 || h.ops[0].Revision > rev+1 {
		return nil, ErrRevisionTooOld
	}

	var out []Operation

	for _, op := range h.ops {
		if op.Revision > rev {
			out = append(out, op)
		}
	}

	return out, nil
}
