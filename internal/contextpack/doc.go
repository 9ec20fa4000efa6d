// Package contextpack selects supporting material for the synthesis step: the
// current book, other library books grouped by shelf, and ranked recent notes,
// all under an estimated token budget.
//
// Pack is pure and deterministic. It holds no state and is safe for concurrent
// use.
package contextpack
