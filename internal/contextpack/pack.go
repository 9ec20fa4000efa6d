package contextpack

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"marginalia/internal/listening"
	"marginalia/internal/textutil"
)

// Limits applied while packing.
const (
	DefaultTokenBudget   = 4000
	MaxDescriptionChars  = 800
	MaxNoteChars         = 600
	CurrentBookNoteLimit = 6
	OtherBookNoteLimit   = 3
	ReserveDivisor       = 10
	CurrentBookBonus     = 0.5
	Strategy             = "recency+current-book-bonus"
	untitled             = "Untitled"
)

// Input is the material available for one packing run.
type Input struct {
	Book    listening.Book
	Library []listening.Book
	Notes   []listening.Note
}

// Options tunes Pack.
type Options struct {
	TokenBudget int
}

// CurrentBook describes the book being read.
type CurrentBook struct {
	ID                  string `json:"id"`
	Title               string `json:"title"`
	Author              string `json:"author,omitempty"`
	Description         string `json:"description,omitempty"`
	DescriptionRedacted bool   `json:"descriptionRedacted,omitempty"`
}

// BookEntry is a library book included for context.
type BookEntry struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
}

// NoteEntry is a ranked note included for context.
type NoteEntry struct {
	ID        string  `json:"id"`
	BookID    string  `json:"bookId"`
	BookTitle string  `json:"bookTitle"`
	Type      string  `json:"type"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
}

// Summary reports how the budget was spent.
type Summary struct {
	Budget           int    `json:"budget"`
	TokensUsed       int    `json:"tokensUsed"`
	CurrentlyReading int    `json:"currentlyReading"`
	WantToRead       int    `json:"wantToRead"`
	Read             int    `json:"read"`
	NotesConsidered  int    `json:"notesConsidered"`
	NotesIncluded    int    `json:"notesIncluded"`
	Redactions       int    `json:"redactions"`
	Strategy         string `json:"strategy"`
}

// Result is the packed context handed to synthesis.
type Result struct {
	Book             CurrentBook `json:"book"`
	CurrentlyReading []BookEntry `json:"currentlyReading"`
	WantToRead       []BookEntry `json:"wantToRead"`
	Read             []BookEntry `json:"read"`
	RecentNotes      []NoteEntry `json:"recentNotes"`
	Summary          Summary     `json:"summary"`
}

type budget struct {
	total     int
	remaining int
}

func (b *budget) take(cost int) bool {
	if cost > b.remaining {
		return false
	}
	b.remaining -= cost
	return true
}

func (b *budget) used() int { return b.total - b.remaining }

// Pack selects context for input under the token budget. Notes are packed
// first, then the current book's description, then library books. While notes
// are packed, up to a tenth of the budget is held back for the description and
// the currently-reading shelf; the budget left to notes never shrinks as the
// total grows.
func Pack(input Input, opts Options) Result {
	total := opts.TokenBudget
	if total <= 0 {
		total = DefaultTokenBudget
	}
	b := &budget{total: total, remaining: total}

	result := Result{
		Book: CurrentBook{
			ID:     input.Book.ID,
			Title:  input.Book.Title,
			Author: input.Book.Author,
		},
		CurrentlyReading: []BookEntry{},
		WantToRead:       []BookEntry{},
		Read:             []BookEntry{},
		Summary: Summary{
			Budget:          total,
			NotesConsidered: len(input.Notes),
			Strategy:        Strategy,
		},
	}

	groups := shelves(input)
	description := strings.TrimSpace(input.Book.Description)
	if input.Book.Private {
		description = ""
	} else {
		description = textutil.Truncate(description, MaxDescriptionChars)
	}

	reserve := min(reservedCost(description, groups[0].books), total/ReserveDivisor)
	b.remaining -= reserve
	result.RecentNotes = packNotes(input, b)
	b.remaining += reserve

	if input.Book.Private && strings.TrimSpace(input.Book.Description) != "" {
		result.Book.DescriptionRedacted = true
		result.Summary.Redactions++
	} else if description != "" && b.take(EstimateTokens(description)) {
		result.Book.Description = description
	}

	for _, group := range groups {
		for _, book := range group.books {
			if !b.take(bookCost(book)) {
				continue
			}
			entry := BookEntry{ID: book.ID, Title: book.Title, Author: book.Author}
			switch group.status {
			case listening.BookCurrentlyReading:
				result.CurrentlyReading = append(result.CurrentlyReading, entry)
			case listening.BookWantToRead:
				result.WantToRead = append(result.WantToRead, entry)
			case listening.BookRead:
				result.Read = append(result.Read, entry)
			}
		}
	}

	result.Summary.TokensUsed = b.used()
	result.Summary.CurrentlyReading = len(result.CurrentlyReading)
	result.Summary.WantToRead = len(result.WantToRead)
	result.Summary.Read = len(result.Read)
	result.Summary.NotesIncluded = len(result.RecentNotes)
	return result
}

type shelf struct {
	status listening.BookStatus
	books  []listening.Book
}

func shelves(input Input) []shelf {
	groups := []shelf{
		{status: listening.BookCurrentlyReading},
		{status: listening.BookWantToRead},
		{status: listening.BookRead},
	}
	index := map[listening.BookStatus]int{
		listening.BookCurrentlyReading: 0,
		listening.BookWantToRead:       1,
		listening.BookRead:             2,
	}
	for _, book := range input.Library {
		if book.ID == input.Book.ID {
			continue
		}
		if i, ok := index[book.Status]; ok {
			groups[i].books = append(groups[i].books, book)
		}
	}
	for i := range groups {
		books := groups[i].books
		sort.SliceStable(books, func(a, c int) bool {
			if !books[a].UpdatedAt.Equal(books[c].UpdatedAt) {
				return books[a].UpdatedAt.After(books[c].UpdatedAt)
			}
			return books[a].ID < books[c].ID
		})
	}
	return groups
}

type rankedNote struct {
	note  listening.Note
	score float64
}

// rankNotes scores notes by normalized recency plus a bonus for the current
// book and returns them best first.
func rankNotes(notes []listening.Note, currentBookID string) []rankedNote {
	if len(notes) == 0 {
		return nil
	}
	oldest, newest := notes[0].UpdatedAt, notes[0].UpdatedAt
	for _, note := range notes[1:] {
		if note.UpdatedAt.Before(oldest) {
			oldest = note.UpdatedAt
		}
		if note.UpdatedAt.After(newest) {
			newest = note.UpdatedAt
		}
	}
	span := newest.Sub(oldest)

	ranked := make([]rankedNote, 0, len(notes))
	for _, note := range notes {
		score := recency(note.UpdatedAt, oldest, span)
		if note.BookID == currentBookID {
			score += CurrentBookBonus
		}
		ranked = append(ranked, rankedNote{note: note, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		if !ranked[i].note.UpdatedAt.Equal(ranked[j].note.UpdatedAt) {
			return ranked[i].note.UpdatedAt.After(ranked[j].note.UpdatedAt)
		}
		return ranked[i].note.ID < ranked[j].note.ID
	})
	return ranked
}

func recency(at, oldest time.Time, span time.Duration) float64 {
	if span <= 0 {
		return 1
	}
	return float64(at.Sub(oldest)) / float64(span)
}

// packNotes walks the ranked notes, enforcing per-book caps and shrinking each
// admitted note to the longest content prefix that still fits. A note that
// cannot fit even one character is abandoned; the walk ends once the budget is
// spent.
func packNotes(input Input, b *budget) []NoteEntry {
	titles := make(map[string]string, len(input.Library)+1)
	for _, book := range input.Library {
		titles[book.ID] = book.Title
	}
	titles[input.Book.ID] = input.Book.Title

	perBook := make(map[string]int)
	entries := []NoteEntry{}
	for _, candidate := range rankNotes(input.Notes, input.Book.ID) {
		if b.remaining <= 0 {
			break
		}
		note := candidate.note
		content := textutil.Clip(strings.TrimSpace(note.Content), MaxNoteChars)
		if content == "" {
			continue
		}
		limit := OtherBookNoteLimit
		if note.BookID == input.Book.ID {
			limit = CurrentBookNoteLimit
		}
		if perBook[note.BookID] >= limit {
			continue
		}

		title := titles[note.BookID]
		if strings.TrimSpace(title) == "" {
			title = untitled
		}
		noteType := string(note.Type)
		if noteType == "" {
			noteType = string(listening.NoteTypeNote)
		}
		prefixChars := textutil.RuneLen(formatNote(title, noteType, ""))
		fit := min(textutil.RuneLen(content), b.remaining*CharsPerToken-prefixChars)
		if fit < 1 {
			continue
		}
		content = textutil.Clip(content, fit)
		if !b.take(tokensForChars(prefixChars + fit)) {
			continue
		}
		perBook[note.BookID]++
		entries = append(entries, NoteEntry{
			ID:        note.ID,
			BookID:    note.BookID,
			BookTitle: title,
			Type:      noteType,
			Content:   content,
			Score:     candidate.score,
		})
	}
	return entries
}

// reservedCost is what the description and the currently-reading shelf would
// take in full.
func reservedCost(description string, currentlyReading []listening.Book) int {
	cost := EstimateTokens(description)
	for _, book := range currentlyReading {
		cost += bookCost(book)
	}
	return cost
}

// bookCost prices a shelf entry as one estimate over title and author.
func bookCost(book listening.Book) int {
	return EstimateTokens(book.Title + book.Author)
}

func formatNote(title, noteType, content string) string {
	return fmt.Sprintf("[%s] (%s) %s", title, noteType, content)
}
