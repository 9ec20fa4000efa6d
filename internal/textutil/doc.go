// Package textutil provides the string helpers shared by the session pipeline:
// whitespace collapsing, rune-safe truncation with an ellipsis marker, and
// quote normalization for de-duplication.
//
// All lengths are measured in runes so multi-byte text never splits inside a
// code point.
package textutil
