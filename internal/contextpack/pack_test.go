package contextpack_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"marginalia/internal/contextpack"
	"marginalia/internal/listening"
	"marginalia/internal/textutil"
)

var base = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func fixture() contextpack.Input {
	current := listening.Book{ID: "cur", Title: "The Lighthouse", Author: "V. Woolf", Description: strings.Repeat("d", 900), Status: listening.BookCurrentlyReading, UpdatedAt: base}
	library := []listening.Book{
		current,
		{ID: "b1", Title: "Orlando", Author: "V. Woolf", Status: listening.BookRead, UpdatedAt: base.Add(time.Hour)},
		{ID: "b2", Title: "Middlemarch", Author: "G. Eliot", Status: listening.BookCurrentlyReading, UpdatedAt: base.Add(2 * time.Hour)},
		{ID: "b3", Title: "Dune", Author: "F. Herbert", Status: listening.BookWantToRead, UpdatedAt: base.Add(3 * time.Hour)},
		{ID: "b4", Title: "Emma", Author: "J. Austen", Status: listening.BookRead, UpdatedAt: base.Add(3 * time.Hour)},
		{ID: "b5", Title: "Anna Karenina", Author: "L. Tolstoy", Status: listening.BookRead, UpdatedAt: base.Add(3 * time.Hour)},
	}
	var notes []listening.Note
	for i := 0; i < 10; i++ {
		notes = append(notes, listening.Note{
			ID:        fmt.Sprintf("cur-%02d", i),
			BookID:    "cur",
			Type:      listening.NoteTypeNote,
			Content:   strings.Repeat("c", 50+i*70),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		notes = append(notes, listening.Note{
			ID:        fmt.Sprintf("b1-%02d", i),
			BookID:    "b1",
			Type:      listening.NoteTypeQuote,
			Content:   strings.Repeat("q", 40+i*20),
			UpdatedAt: base.Add(time.Duration(i)*time.Minute + 30*time.Second),
		})
	}
	notes = append(notes, listening.Note{ID: "blank", BookID: "b2", Content: "   ", UpdatedAt: base.Add(time.Hour)})
	return contextpack.Input{Book: current, Library: library, Notes: notes}
}

func estimatedUsage(result contextpack.Result) int {
	total := contextpack.EstimateTokens(result.Book.Description)
	for _, group := range [][]contextpack.BookEntry{result.CurrentlyReading, result.WantToRead, result.Read} {
		for _, book := range group {
			total += contextpack.EstimateTokens(book.Title + book.Author)
		}
	}
	for _, note := range result.RecentNotes {
		total += contextpack.EstimateTokens(fmt.Sprintf("[%s] (%s) %s", note.BookTitle, note.Type, note.Content))
	}
	return total
}

func TestPackNeverExceedsBudget(t *testing.T) {
	input := fixture()
	for budget := 1; budget <= 2000; budget += 7 {
		result := contextpack.Pack(input, contextpack.Options{TokenBudget: budget})
		usage := estimatedUsage(result)
		if usage > budget {
			t.Fatalf("budget %d exceeded: usage %d", budget, usage)
		}
		if result.Summary.TokensUsed != usage {
			t.Fatalf("budget %d: summary reports %d tokens, recomputed %d", budget, result.Summary.TokensUsed, usage)
		}
	}
}

func TestPackNotesIncludedIsMonotonic(t *testing.T) {
	input := fixture()
	previous := -1
	for budget := 1; budget <= 3000; budget++ {
		result := contextpack.Pack(input, contextpack.Options{TokenBudget: budget})
		if result.Summary.NotesIncluded < previous {
			t.Fatalf("notes included dropped from %d to %d at budget %d", previous, result.Summary.NotesIncluded, budget)
		}
		previous = result.Summary.NotesIncluded
	}
}

func TestPackCapsAndRanking(t *testing.T) {
	result := contextpack.Pack(fixture(), contextpack.Options{})
	if result.Summary.Budget != contextpack.DefaultTokenBudget {
		t.Fatalf("expected default budget, got %d", result.Summary.Budget)
	}
	perBook := map[string]int{}
	for _, note := range result.RecentNotes {
		perBook[note.BookID]++
		if textutil.RuneLen(note.Content) > contextpack.MaxNoteChars {
			t.Fatalf("note %s longer than %d chars", note.ID, contextpack.MaxNoteChars)
		}
	}
	if perBook["cur"] != 6 || perBook["b1"] != 3 {
		t.Fatalf("unexpected per-book counts %v", perBook)
	}
	if result.RecentNotes[0].ID != "cur-09" {
		t.Fatalf("expected newest current-book note first, got %s", result.RecentNotes[0].ID)
	}
	if result.Summary.NotesConsidered != 21 || result.Summary.NotesIncluded != 9 {
		t.Fatalf("unexpected summary %+v", result.Summary)
	}
	if result.Summary.Strategy != "recency+current-book-bonus" {
		t.Fatalf("unexpected strategy %q", result.Summary.Strategy)
	}
	if n := textutil.RuneLen(result.Book.Description); n != contextpack.MaxDescriptionChars {
		t.Fatalf("expected description clipped to %d, got %d", contextpack.MaxDescriptionChars, n)
	}
}

func TestPackBookOrdering(t *testing.T) {
	result := contextpack.Pack(fixture(), contextpack.Options{})
	if len(result.CurrentlyReading) != 1 || result.CurrentlyReading[0].ID != "b2" {
		t.Fatalf("current book must be excluded from shelves: %+v", result.CurrentlyReading)
	}
	var read []string
	for _, book := range result.Read {
		read = append(read, book.ID)
	}
	if strings.Join(read, ",") != "b4,b5,b1" {
		t.Fatalf("unexpected read ordering %v", read)
	}
	if result.Summary.CurrentlyReading != 1 || result.Summary.WantToRead != 1 || result.Summary.Read != 3 {
		t.Fatalf("unexpected shelf counts %+v", result.Summary)
	}
}

func TestPackRedactsPrivateDescription(t *testing.T) {
	input := fixture()
	input.Book.Private = true
	result := contextpack.Pack(input, contextpack.Options{})
	if result.Book.Description != "" || !result.Book.DescriptionRedacted {
		t.Fatalf("expected redacted description, got %q", result.Book.Description)
	}
	if result.Summary.Redactions != 1 {
		t.Fatalf("expected one redaction, got %d", result.Summary.Redactions)
	}
}

func TestPackBestEffortBooks(t *testing.T) {
	input := contextpack.Input{
		Book: listening.Book{ID: "cur", Title: "Cur"},
		Library: []listening.Book{
			{ID: "long", Title: strings.Repeat("t", 40), Status: listening.BookCurrentlyReading, UpdatedAt: base.Add(time.Hour)},
			{ID: "short", Title: "Ab", Status: listening.BookCurrentlyReading, UpdatedAt: base},
		},
	}
	result := contextpack.Pack(input, contextpack.Options{TokenBudget: 3})
	if len(result.CurrentlyReading) != 1 || result.CurrentlyReading[0].ID != "short" {
		t.Fatalf("expected later book to be packed after a skip, got %+v", result.CurrentlyReading)
	}
}

func TestPackShrinksNoteToFit(t *testing.T) {
	input := contextpack.Input{
		Book:  listening.Book{ID: "cur", Title: "Cur"},
		Notes: []listening.Note{{ID: "n", BookID: "cur", Type: listening.NoteTypeNote, Content: strings.Repeat("x", 500), UpdatedAt: base}},
	}
	result := contextpack.Pack(input, contextpack.Options{TokenBudget: 10})
	if len(result.RecentNotes) != 1 {
		t.Fatalf("expected one shrunk note, got %d", len(result.RecentNotes))
	}
	// "[Cur] (note) " is 13 chars; 10 tokens allow 40 chars in total
	if got := textutil.RuneLen(result.RecentNotes[0].Content); got != 27 {
		t.Fatalf("expected 27 content chars, got %d", got)
	}
	if result.Summary.TokensUsed != 10 {
		t.Fatalf("expected full budget used, got %d", result.Summary.TokensUsed)
	}
}

func TestPackContinuesPastUnfittableNote(t *testing.T) {
	input := contextpack.Input{
		Book: listening.Book{ID: "cur", Title: strings.Repeat("L", 80)},
		Library: []listening.Book{
			{ID: "b", Title: "B", Status: listening.BookRead, UpdatedAt: base},
		},
		Notes: []listening.Note{
			{ID: "long-title", BookID: "cur", Type: listening.NoteTypeNote, Content: "first", UpdatedAt: base.Add(time.Hour)},
			{ID: "short-title", BookID: "b", Type: listening.NoteTypeNote, Content: "short", UpdatedAt: base},
		},
	}
	result := contextpack.Pack(input, contextpack.Options{TokenBudget: 10})
	if len(result.RecentNotes) != 1 || result.RecentNotes[0].ID != "short-title" {
		t.Fatalf("expected the short-title note after the abandoned one, got %+v", result.RecentNotes)
	}
	// "[B] (note) short" is 16 chars
	if result.RecentNotes[0].Content != "short" {
		t.Fatalf("expected full content, got %q", result.RecentNotes[0].Content)
	}
}

func TestPackKeepsRoomForDescription(t *testing.T) {
	current := listening.Book{ID: "cur", Title: "Cur", Description: strings.Repeat("d", 120)}
	input := contextpack.Input{
		Book: current,
		Library: []listening.Book{
			current,
			{ID: "now", Title: "Now", Author: "A", Status: listening.BookCurrentlyReading, UpdatedAt: base},
		},
	}
	for i := 0; i < 40; i++ {
		book := "cur"
		if i%2 == 1 {
			book = fmt.Sprintf("other-%02d", i)
		}
		input.Notes = append(input.Notes, listening.Note{
			ID:        fmt.Sprintf("n-%02d", i),
			BookID:    book,
			Type:      listening.NoteTypeNote,
			Content:   strings.Repeat("n", 600),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	result := contextpack.Pack(input, contextpack.Options{TokenBudget: 600})
	if result.Book.Description == "" {
		t.Fatal("expected the description to survive a full note window")
	}
	if len(result.CurrentlyReading) != 1 || result.CurrentlyReading[0].ID != "now" {
		t.Fatalf("expected the currently-reading shelf to be kept, got %+v", result.CurrentlyReading)
	}
	if result.Summary.TokensUsed > 600 {
		t.Fatalf("budget exceeded: %d", result.Summary.TokensUsed)
	}
}

func TestPackPricesBookAsOneEstimate(t *testing.T) {
	input := contextpack.Input{
		Book: listening.Book{ID: "cur", Title: "Cur"},
		Library: []listening.Book{
			{ID: "b", Title: "Abcde", Author: "Fgh", Status: listening.BookRead, UpdatedAt: base},
		},
	}
	// 8 chars together cost 2 tokens; rounded separately they would cost 3
	result := contextpack.Pack(input, contextpack.Options{TokenBudget: 2})
	if len(result.Read) != 1 {
		t.Fatalf("expected the book to fit, got %+v", result.Read)
	}
	if result.Summary.TokensUsed != 2 {
		t.Fatalf("expected 2 tokens used, got %d", result.Summary.TokensUsed)
	}
}

func TestPackIsDeterministic(t *testing.T) {
	input := fixture()
	first := contextpack.Render(contextpack.Pack(input, contextpack.Options{TokenBudget: 700}))
	for i := 0; i < 5; i++ {
		if again := contextpack.Render(contextpack.Pack(input, contextpack.Options{TokenBudget: 700})); again != first {
			t.Fatal("pack output is not deterministic")
		}
	}
	if !strings.Contains(first, "Current book: The Lighthouse by V. Woolf") {
		t.Fatalf("render missing current book line:\n%s", first)
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2, "ééééé": 2}
	for text, want := range cases {
		if got := contextpack.EstimateTokens(text); got != want {
			t.Fatalf("EstimateTokens(%q) = %d, want %d", text, got, want)
		}
	}
}
