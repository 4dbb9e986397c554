// Package resolve reconciles batches of concurrent operations that could
// not be linearly transformed — e.g. a burst submitted before the author
// received any acknowledgment. Resolvers never mutate room state; the room
// applies the returned resolution itself.
package resolve

import (
	"fmt"

	"github.com/quillshare/collab-engine/internal/ot"
)

// Strategy names a conflict-resolution algorithm on the wire.
type Strategy string

const (
	StrategyOperationalTransform Strategy = "operational-transform"
	StrategyLastWriteWins        Strategy = "last-write-wins"
	StrategyMerge                Strategy = "merge"
)

// Resolution is the outcome of reconciling a batch.
type Resolution struct {
	Strategy         Strategy
	MergedOperations []ot.Operation
	ConflictCount    int // operations rewritten or discarded
}

// Resolver collapses a batch of concurrent operations into an ordered
// sequence that can be applied as-is.
type Resolver interface {
	Resolve(batch []ot.Operation) Resolution
}

// ForStrategy returns the resolver for a wire strategy name.
func ForStrategy(s Strategy) (Resolver, error) {
	switch s {
	case StrategyOperationalTransform:
		return OperationalTransform{}, nil
	case StrategyLastWriteWins:
		return LastWriteWins{}, nil
	case StrategyMerge:
		return Merge{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict strategy %q", s)
	}
}

// OperationalTransform transforms each operation pairwise against the ones
// accepted before it, in submission order. Deterministic; the default.
type OperationalTransform struct{}

// Resolve implements Resolver.
func (OperationalTransform) Resolve(batch []ot.Operation) Resolution {
	merged := make([]ot.Operation, 0, len(batch))
	conflicts := 0

	for _, op := range batch {
		rewritten := op
		for _, prev := range merged {
			rewritten = ot.Transform(rewritten, prev)
		}

		if rewritten.IsNoop() {
			conflicts++

			continue
		}

		if rewritten != op {
			conflicts++
		}

		merged = append(merged, rewritten)
	}

	return Resolution{
		Strategy:         StrategyOperationalTransform,
		MergedOperations: merged,
		ConflictCount:    conflicts,
	}
}

// LastWriteWins keeps only the operation with the latest timestamp. Meant
// for advisory merges, not correctness-critical documents.
type LastWriteWins struct{}

// Resolve implements Resolver.
func (LastWriteWins) Resolve(batch []ot.Operation) Resolution {
	if len(batch) == 0 {
		return Resolution{Strategy: StrategyLastWriteWins}
	}

	winner := batch[0]
	for _, op := range batch[1:] {
		if !op.Timestamp.Before(winner.Timestamp) {
			winner = op
		}
	}

	return Resolution{
		Strategy:         StrategyLastWriteWins,
		MergedOperations: []ot.Operation{winner},
		ConflictCount:    len(batch) - 1,
	}
}

// Merge tries to compose the batch into a single operation and falls back
// to operational transform when the batch is not composable.
type Merge struct{}

// Resolve implements Resolver.
func (Merge) Resolve(batch []ot.Operation) Resolution {
	if composed, ok := ot.Compose(batch); ok {
		return Resolution{
			Strategy:         StrategyMerge,
			MergedOperations: []ot.Operation{composed},
			ConflictCount:    0,
		}
	}

	return OperationalTransform{}.Resolve(batch)
}
