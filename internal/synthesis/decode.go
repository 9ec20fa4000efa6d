package synthesis

import (
	"encoding/json"
	"strings"

	"marginalia/internal/listening"
	"marginalia/internal/services/llm"
	"marginalia/internal/textutil"
)

const (
	maxTitleChars   = 120
	maxContentChars = 1200
	maxQuoteChars   = 1200
)

// item accepts either an object or a bare string.
type item struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (i *item) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		i.Content = text
		return nil
	}
	type plain item
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*i = item(decoded)
	return nil
}

type quote struct {
	Text        string `json:"text"`
	Attribution string `json:"attribution"`
}

func (q *quote) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		q.Text = text
		return nil
	}
	type plain quote
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*q = quote(decoded)
	return nil
}

type payload struct {
	Insights          []item  `json:"insights"`
	OpenQuestions     []item  `json:"openQuestions"`
	Quotes            []quote `json:"quotes"`
	FollowUpQuestions []item  `json:"followUpQuestions"`
	ContextExpansions []item  `json:"contextExpansions"`
}

// Decode parses a model response into a Synthesis.
func Decode(content string) (*listening.Synthesis, error) {
	var parsed payload
	if err := llm.DecodeLLMJSON(content, &parsed); err != nil {
		return nil, err
	}
	return &listening.Synthesis{
		Insights:          cleanItems(parsed.Insights),
		OpenQuestions:     cleanItems(parsed.OpenQuestions),
		Quotes:            cleanQuotes(parsed.Quotes),
		FollowUpQuestions: cleanItems(parsed.FollowUpQuestions),
		ContextExpansions: cleanItems(parsed.ContextExpansions),
	}, nil
}

func cleanItems(items []item) []listening.SynthesisItem {
	var out []listening.SynthesisItem
	for _, it := range items {
		title := textutil.CollapseAndTruncate(it.Title, maxTitleChars)
		content := textutil.Truncate(strings.TrimSpace(it.Content), maxContentChars)
		if content == "" && title == "" {
			continue
		}
		if content == "" {
			content, title = title, ""
		}
		out = append(out, listening.SynthesisItem{Title: title, Content: content})
	}
	return out
}

func cleanQuotes(quotes []quote) []listening.Quote {
	var out []listening.Quote
	for _, q := range quotes {
		text := textutil.Truncate(textutil.NormalizeQuote(q.Text), maxQuoteChars)
		if text == "" {
			continue
		}
		out = append(out, listening.Quote{
			Text:        strings.Trim(text, `"“”`),
			Attribution: textutil.CollapseWhitespace(q.Attribution),
		})
	}
	return out
}
