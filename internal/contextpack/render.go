package contextpack

import (
	"strings"
)

// Render formats a packed result as plain text for a synthesis prompt.
// Sections with nothing selected are omitted.
func Render(result Result) string {
	var b strings.Builder
	b.WriteString("Current book: ")
	b.WriteString(bookLine(result.Book.Title, result.Book.Author))
	b.WriteString("\n")
	if result.Book.Description != "" {
		b.WriteString("Description: ")
		b.WriteString(result.Book.Description)
		b.WriteString("\n")
	}
	writeShelf(&b, "Also reading", result.CurrentlyReading)
	writeShelf(&b, "Wants to read", result.WantToRead)
	writeShelf(&b, "Has read", result.Read)
	if len(result.RecentNotes) > 0 {
		b.WriteString("\nRecent notes:\n")
		for _, note := range result.RecentNotes {
			b.WriteString("- ")
			b.WriteString(formatNote(note.BookTitle, note.Type, note.Content))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeShelf(b *strings.Builder, heading string, books []BookEntry) {
	if len(books) == 0 {
		return
	}
	b.WriteString("\n")
	b.WriteString(heading)
	b.WriteString(":\n")
	for _, book := range books {
		b.WriteString("- ")
		b.WriteString(bookLine(book.Title, book.Author))
		b.WriteString("\n")
	}
}

func bookLine(title, author string) string {
	if title == "" {
		title = untitled
	}
	if author == "" {
		return title
	}
	return title + " by " + author
}
