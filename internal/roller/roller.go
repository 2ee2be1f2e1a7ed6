// Package roller draws one outcome from an ordered weighted table.
//
// Every weighted choice in the economy goes through Roll so that documented
// drop rates hold at every call site: draw u uniformly in [0, total) and
// return the first entry whose cumulative weight exceeds u.
package roller

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Entry pairs an outcome with its weight. Order matters.
type Entry[T any] struct {
	Value  T
	Weight float64
}

// Source yields uniform floats in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Roll selects one value from table. An empty table or a non-positive total
// weight returns fallback; callers treat that as degraded but safe.
func Roll[T any](table []Entry[T], src Source, fallback T) T {
	total := Total(table)
	if total <= 0 {
		return fallback
	}
	u := src.Float64() * total

	var acc float64
	last := -1
	for i, e := range table {
		if !(e.Weight > 0) || math.IsInf(e.Weight, 1) {
			continue
		}
		acc += e.Weight
		last = i
		if acc > u {
			return e.Value
		}
	}
	// Float accumulation can land exactly on total; the draw belongs to the
	// last weighted entry.
	return table[last].Value
}

// Total sums the positive weights of table.
func Total[T any](table []Entry[T]) float64 {
	var total float64
	for _, e := range table {
		if e.Weight > 0 && !math.IsInf(e.Weight, 1) {
			total += e.Weight
		}
	}
	return total
}

// Probability returns the declared chance of table[i].
func Probability[T any](table []Entry[T], i int) float64 {
	total := Total(table)
	if total <= 0 || i < 0 || i >= len(table) || !(table[i].Weight > 0) || math.IsInf(table[i].Weight, 1) {
		return 0
	}
	return table[i].Weight / total
}

var ErrEmptyTable = errors.New("weighted table has no positive weight")

// Validate rejects tables that would only ever yield the fallback or that
// carry non-positive weights or a total that overflows.
func Validate[T any](table []Entry[T]) error {
	for i, e := range table {
		if !(e.Weight > 0) || math.IsInf(e.Weight, 1) {
			return fmt.Errorf("entry %d: weight %v must be positive and finite", i, e.Weight)
		}
	}
	total := Total(table)
	if total <= 0 {
		return ErrEmptyTable
	}
	if math.IsInf(total, 0) {
		return fmt.Errorf("weights overflow: total is %v", total)
	}
	return nil
}

// NewSource returns a deterministic source for seed.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// LockedSource makes a Source safe for concurrent use.
type LockedSource struct {
	mu  sync.Mutex
	src Source
}

func (s *LockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Float64()
}

// Default returns a concurrency-safe source seeded from the clock.
func Default() *LockedSource {
	return &LockedSource{src: NewSource(uint64(time.Now().UnixNano()))}
}
