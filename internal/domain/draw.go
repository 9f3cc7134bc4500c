package domain

import (
	"fmt"
)

// DrawPositions is the number of finishing positions in a draw.
const DrawPositions = 10

// DrawResult is the finalized finishing order: DrawResult[p-1] is the car
// number that finished in position p.
type DrawResult []int

// Validate checks that d is a permutation of 1..10. Any other shape is a
// *DataIntegrityError and no bet may be evaluated against it.
func (d DrawResult) Validate() error {
	if len(d) != DrawPositions {
		return &DataIntegrityError{Reason: fmt.Sprintf("draw result has %d values, want %d", len(d), DrawPositions)}
	}
	var seen [DrawPositions + 1]bool
	for i, n := range d {
		if n < 1 || n > DrawPositions {
			return &DataIntegrityError{Reason: fmt.Sprintf("draw result position %d holds %d, outside 1..%d", i+1, n, DrawPositions)}
		}
		if seen[n] {
			return &DataIntegrityError{Reason: fmt.Sprintf("draw result repeats %d", n)}
		}
		seen[n] = true
	}
	return nil
}

// At returns the number at 1-based position p. The caller validates p.
func (d DrawResult) At(p int) int {
	return d[p-1]
}

// Sum returns champion + runner-up.
func (d DrawResult) Sum() int {
	return d[0] + d[1]
}

// Ints converts to []int64, the shape stored in the periods table.
func (d DrawResult) Ints() []int64 {
	out := make([]int64, len(d))
	for i, n := range d {
		out[i] = int64(n)
	}
	return out
}

// DrawResultFromInts is the inverse of Ints.
func DrawResultFromInts(v []int64) DrawResult {
	if len(v) == 0 {
		return nil
	}
	out := make(DrawResult, len(v))
	for i, n := range v {
		out[i] = int(n)
	}
	return out
}
