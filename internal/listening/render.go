package listening

import (
	"fmt"
	"strings"
	"time"
)

const noteTimeLayout = "2006-01-02 15:04 MST"

// renderRawNote builds the raw transcript note body: a fixed header block
// followed by the transcript text.
func renderRawNote(session *Session, endedAt time.Time, provider, transcript string) string {
	var durationMs int64
	if session.DurationMs != nil {
		durationMs = *session.DurationMs
	}
	var b strings.Builder
	b.WriteString("## Listening session transcript\n\n")
	fmt.Fprintf(&b, "- Recorded: %s\n", session.StartedAt.UTC().Format(noteTimeLayout))
	fmt.Fprintf(&b, "- Ended: %s\n", endedAt.UTC().Format(noteTimeLayout))
	fmt.Fprintf(&b, "- Duration: %s\n", FormatDuration(durationMs))
	fmt.Fprintf(&b, "- Provider: %s\n\n", provider)
	b.WriteString(transcript)
	return b.String()
}

// FormatDuration renders milliseconds as M:SS. Minutes are not wrapped into hours.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	seconds := ms / 1000
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

type noteSection struct {
	heading string
	items   []SynthesisItem
	limit   int
}

// renderSynthesisNote combines the non-quote synthesis lists into one
// sectioned markdown note. It returns "" when no section has content.
func renderSynthesisNote(synthesis *Synthesis) string {
	sections := []noteSection{
		{heading: "Insights", items: synthesis.Insights, limit: MaxItemsPerSection},
		{heading: "Open questions", items: synthesis.OpenQuestions, limit: MaxItemsPerSection},
		{heading: "Follow-up questions", items: synthesis.FollowUpQuestions, limit: MaxItemsPerSection},
		{heading: "Context", items: synthesis.ContextExpansions, limit: MaxContextExpansions},
	}
	blocks := make([]string, 0, len(sections))
	for _, section := range sections {
		lines := make([]string, 0, section.limit)
		for _, item := range capItems(section.items, section.limit) {
			if line := renderItem(item); line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) == 0 {
			continue
		}
		blocks = append(blocks, "## "+section.heading+"\n\n"+strings.Join(lines, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func renderItem(item SynthesisItem) string {
	title := strings.TrimSpace(item.Title)
	content := strings.TrimSpace(item.Content)
	switch {
	case title != "" && content != "":
		return fmt.Sprintf("- **%s**: %s", title, content)
	case content != "":
		return "- " + content
	case title != "":
		return "- " + title
	default:
		return ""
	}
}

// renderQuoteNote formats a quote as a blockquote with an optional attribution line.
func renderQuoteNote(quote Quote) string {
	body := "> " + quote.Text
	if quote.Attribution != "" {
		body += "\n\n— " + quote.Attribution
	}
	return body
}

func capItems[T any](items []T, limit int) []T {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}
