package ot

// Transform rewrites op so that applying it after applied has the effect op
// intended when it was authored, before applied changed the document.
//
// The engine only needs this one direction: the room resolves operations
// sequentially, transforming each incoming stale operation against the ops
// already applied since its base revision.
func Transform(op, applied Operation) Operation {
	if op.IsNoop() || applied.IsNoop() {
		return op
	}

	switch applied.Kind {
	case Insert:
		return transformAgainstInsert(op, applied)
	case Delete:
		return transformAgainstDelete(op, applied.Position, applied.Length)
	case Replace:
		// An insert at or past the end of the replaced span was authored
		// after that text; it stays after the replacement, sliding by the
		// span's net length change. A zero-length replace has no span and
		// behaves like a plain insert below.
		if op.Kind == Insert && applied.Length > 0 && op.Position >= applied.End() {
			op.Position += applied.ContentLen() - applied.Length

			return op
		}

		// Otherwise a replace is a delete followed by an insert at the
		// same position.
		op = transformAgainstDelete(op, applied.Position, applied.Length)
		ins := applied
		ins.Kind = Insert
		ins.Length = 0

		return transformAgainstInsert(op, ins)
	default:
		return op
	}
}

// transformAgainstInsert adjusts op for an insert that already happened.
func transformAgainstInsert(op, ins Operation) Operation {
	shift := ins.ContentLen()

	if op.Kind == Insert {
		switch {
		case ins.Position < op.Position:
			op.Position += shift
		case ins.Position == op.Position && op.Author >= ins.Author:
			// Same-position concurrent inserts: the lexicographically
			// larger author shifts right. Equal authors shift too, so a
			// participant's later edit lands after its earlier one.
			op.Position += shift
		}

		return op
	}

	// op removes a span [Position, End).
	switch {
	case ins.Position < op.Position:
		// Insert before the span: whole span slides right.
		op.Position += shift
	case ins.Position == op.Position:
		// Insert at the span's left edge. A plain delete slides past it; a
		// replace carries its own text at this position, so the same author
		// tie-break as concurrent inserts decides which text comes first.
		if op.Kind == Replace && op.Author < ins.Author {
			op.Length += shift
			op.Content += ins.Content
		} else {
			op.Position += shift
		}
	case ins.Position >= op.End():
		// Insert past the span: untouched.
	default:
		// Insert landed strictly inside the span. Widen the span to cover
		// the inserted text and re-emit it, so the original characters are
		// still removed but the concurrent insert survives. The author
		// tie-break fixes the order of the two surviving texts.
		op.Kind = Replace
		op.Length += shift

		if ins.Author < op.Author {
			op.Content = ins.Content + op.Content
		} else {
			op.Content += ins.Content
		}
	}

	return op
}

// transformAgainstDelete adjusts op for a deletion of length runes at pos.
// Positions past the deleted span slide left; positions inside it collapse
// to the deletion start.
func transformAgainstDelete(op Operation, pos, length int) Operation {
	collapse := func(x int) int {
		switch {
		case x <= pos:
			return x
		case x >= pos+length:
			return x - length
		default:
			return pos
		}
	}

	if op.Kind == Insert {
		op.Position = collapse(op.Position)

		return op
	}

	start := collapse(op.Position)
	end := collapse(op.End())
	op.Position = start
	op.Length = end - start

	// A replace whose whole span was already deleted degenerates to a pure
	// insert of its replacement text; a delete in the same situation is a
	// noop (IsNoop reports true for it).
	return op
}
