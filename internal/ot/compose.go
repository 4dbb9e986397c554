package ot

// Compose folds a sequence of operations into a single equivalent operation.
// It reports false when the sequence cannot be composed losslessly — mixed
// authors, or edits whose spans do not line up into one contiguous edit.
// Used for history compaction and by the merge conflict strategy.
func Compose(ops []Operation) (Operation, bool) {
	if len(ops) == 0 {
		return Operation{}, false
	}

	acc := ops[0]

	for _, next := range ops[1:] {
		if next.Author != acc.Author {
			return Operation{}, false
		}

		merged, ok := composePair(acc, next)
		if !ok {
			return Operation{}, false
		}

		merged.Timestamp = next.Timestamp
		acc = merged
	}

	return acc, true
}

// composePair merges two consecutive same-author operations when their
// spans are contiguous.
func composePair(a, b Operation) (Operation, bool) {
	switch {
	case a.Kind == Insert && b.Kind == Insert:
		return composeInsertInsert(a, b)
	case a.Kind == Delete && b.Kind == Delete:
		return composeDeleteDelete(a, b)
	case a.Kind == Insert && b.Kind == Delete:
		return composeInsertDelete(a, b)
	default:
		return Operation{}, false
	}
}

// composeInsertInsert merges b into a when b lands inside or adjacent to
// the text a inserted (continuous typing).
func composeInsertInsert(a, b Operation) (Operation, bool) {
	offset := b.Position - a.Position
	if offset < 0 || offset > a.ContentLen() {
		return Operation{}, false
	}

	runes := []rune(a.Content)
	a.Content = string(runes[:offset]) + b.Content + string(runes[offset:])

	return a, true
}

// composeDeleteDelete merges runs of forward deletes (same position) and
// backspaces (b ends where a starts).
func composeDeleteDelete(a, b Operation) (Operation, bool) {
	switch {
	case b.Position == a.Position:
		a.Length += b.Length

		return a, true
	case b.End() == a.Position:
		a.Position = b.Position
		a.Length += b.Length

		return a, true
	default:
		return Operation{}, false
	}
}

// composeInsertDelete cancels the part of an insert that a following delete
// removed, provided the delete falls entirely within the inserted text.
func composeInsertDelete(a, b Operation) (Operation, bool) {
	offset := b.Position - a.Position
	if offset < 0 || offset+b.Length > a.ContentLen() {
		return Operation{}, false
	}

	runes := []rune(a.Content)
	a.Content = string(runes[:offset]) + string(runes[offset+b.Length:])

	return a, true
}
