package textutil_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"marginalia/internal/textutil"
)

func TestTruncateAddsEllipsisAtLimit(t *testing.T) {
	input := strings.Repeat("x", 4001)
	got := textutil.Truncate(input, 4000)
	if n := utf8.RuneCountInString(got); n != 4000 {
		t.Fatalf("expected 4000 runes, got %d", n)
	}
	if !strings.HasSuffix(got, textutil.Ellipsis) {
		t.Fatalf("expected ellipsis suffix, got %q", got[len(got)-8:])
	}
}

func TestTruncateLeavesShortValues(t *testing.T) {
	if got := textutil.Truncate("hello", 5); got != "hello" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func TestCollapseAndTruncate(t *testing.T) {
	got := textutil.CollapseAndTruncate("  a \n\t b   c ", 100)
	if got != "a b c" {
		t.Fatalf("unexpected collapse result %q", got)
	}
	got = textutil.CollapseAndTruncate("one   two three", 6)
	if got != "one t…" {
		t.Fatalf("unexpected truncated result %q", got)
	}
}

func TestClipIsRuneSafe(t *testing.T) {
	got := textutil.Clip("héllo wörld", 4)
	if got != "héll" {
		t.Fatalf("unexpected clip %q", got)
	}
}

func TestFoldKeyMatchesCaseAndSpacingVariants(t *testing.T) {
	a := textutil.FoldKey("All  happy families\nare alike")
	b := textutil.FoldKey("all happy Families are alike")
	if a != b {
		t.Fatalf("expected equal fold keys, got %q and %q", a, b)
	}
	if textutil.NormalizeQuote("  ﬁne  day ") != "fine day" {
		t.Fatalf("expected NFKC ligature expansion, got %q", textutil.NormalizeQuote("  ﬁne  day "))
	}
}
