package textutil

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeQuote returns the display form of a quote: NFKC-normalized with
// whitespace collapsed.
func NormalizeQuote(value string) string {
	return CollapseWhitespace(norm.NFKC.String(value))
}

// FoldKey returns a case-folded comparison key for a normalized quote.
func FoldKey(value string) string {
	return cases.Fold().String(NormalizeQuote(value))
}
