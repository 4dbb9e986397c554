package ot

import "errors"

// ErrInvalidPosition is returned when an operation targets a position or
// span outside the document.
var ErrInvalidPosition = errors.New("invalid position")

// Apply splices an operation into the document and returns the new content.
// The document is treated as a sequence of runes. Noop operations return
// the document unchanged.
func Apply(doc string, op Operation) (string, error) {
	if op.IsNoop() {
		return doc, nil
	}

	runes := []rune(doc)

	switch op.Kind {
	case Insert:
		return applyInsert(runes, op)
	case Delete:
		return applyDelete(runes, op)
	case Replace:
		return applyReplace(runes, op)
	default:
		return "", errors.New("unknown operation kind")
	}
}

// ApplyAll applies a sequence of operations in order.
func ApplyAll(doc string, ops []Operation) (string, error) {
	var err error

	for _, op := range ops {
		doc, err = Apply(doc, op)
		if err != nil {
			return "", err
		}
	}

	return doc, nil
}

func applyInsert(runes []rune, op Operation) (string, error) {
	if op.Position < 0 || op.Position > len(runes) {
		return "", ErrInvalidPosition
	}

	content := []rune(op.Content)

	out := make([]rune, 0, len(runes)+len(content))
	out = append(out, runes[:op.Position]...)
	out = append(out, content...)
	out = append(out, runes[op.Position:]...)

	return string(out), nil
}

func applyDelete(runes []rune, op Operation) (string, error) {
	if op.Position < 0 || op.Length < 0 || op.End() > len(runes) {
		return "", ErrInvalidPosition
	}

	out := make([]rune, 0, len(runes)-op.Length)
	out = append(out, runes[:op.Position]...)
	out = append(out, runes[op.End():]...)

	return string(out), nil
}

func applyReplace(runes []rune, op Operation) (string, error) {
	if op.Position < 0 || op.Length < 0 || op.End() > len(runes) {
		return "", ErrInvalidPosition
	}

	content := []rune(op.Content)

	out := make([]rune, 0, len(runes)-op.Length+len(content))
	out = append(out, runes[:op.Position]...)
	out = append(out, content...)
	out = append(out, runes[op.End():]...)

	return string(out), nil
}
