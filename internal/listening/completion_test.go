package listening_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"marginalia/internal/listening"
)

func sampleSynthesis() *listening.Synthesis {
	return &listening.Synthesis{
		Provider: "openrouter:gpt",
		Insights: []listening.SynthesisItem{
			{Title: "Memory", Content: "The narrator distrusts their own recollection."},
			{Title: "  ", Content: "untitled insight"},
		},
		OpenQuestions:     []listening.SynthesisItem{{Title: "Why the lighthouse?", Content: "It keeps returning."}},
		FollowUpQuestions: []listening.SynthesisItem{{Title: "Reread", Content: "Chapter three opening."}},
		Quotes: []listening.Quote{
			{Text: "All  that is gold\ndoes not glitter", Attribution: "Tolkien"},
			{Text: "ALL THAT IS GOLD DOES NOT GLITTER"},
			{Text: "Not all those who wander are lost"},
		},
	}
}

func TestCompleteFromRecordingIsRejected(t *testing.T) {
	h := newHarness(t)
	session := h.start(t, "book-1")
	_, err := h.svc.Complete(context.Background(), listening.CompleteRequest{
		UserID:     "user-1",
		SessionID:  session.ID,
		Transcript: "some words",
		Synthesis:  sampleSynthesis(),
	})
	var transition *listening.TransitionError
	if !errors.As(err, &transition) {
		t.Fatalf("expected TransitionError, got %v", err)
	}
	if transition.From != listening.StatusRecording || transition.To != listening.StatusComplete {
		t.Fatalf("unexpected transition %+v", transition)
	}
	if h.store.updates != 0 {
		t.Fatalf("expected no session writes, got %d", h.store.updates)
	}
	if len(h.store.notes) != 0 || len(h.store.transcripts) != 0 || len(h.store.artifacts) != 0 {
		t.Fatal("expected no records written for a rejected completion")
	}
}

func TestCompleteRejectsEmptyTranscript(t *testing.T) {
	h := newHarness(t)
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)
	_, err := h.svc.Complete(context.Background(), listening.CompleteRequest{UserID: "user-1", SessionID: session.ID, Transcript: " \n\t "})
	if !errors.Is(err, listening.ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestCompleteWritesRecords(t *testing.T) {
	h := newHarness(t)
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)

	result, err := h.svc.Complete(context.Background(), listening.CompleteRequest{
		UserID:           "user-1",
		SessionID:        session.ID,
		Transcript:       "  I keep thinking about the lighthouse.  ",
		Synthesis:        sampleSynthesis(),
		EstimatedCostUSD: floatPtr(0.0123),
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if result.RawNoteID == "" {
		t.Fatal("expected raw note id")
	}
	// combined note plus two distinct quotes
	if len(result.SynthesizedNoteIDs) != 3 {
		t.Fatalf("expected 3 synthesized notes, got %d", len(result.SynthesizedNoteIDs))
	}

	stored := h.store.session(session.ID)
	if stored.Status != listening.StatusComplete {
		t.Fatalf("expected complete, got %s", stored.Status)
	}
	if stored.TranscriptProvider != listening.DefaultProvider {
		t.Fatalf("expected default provider, got %q", stored.TranscriptProvider)
	}
	if stored.TranscriptChars == nil || *stored.TranscriptChars != len("I keep thinking about the lighthouse.") {
		t.Fatalf("unexpected transcript chars %v", stored.TranscriptChars)
	}
	if stored.EstimatedCostUSD == nil || *stored.EstimatedCostUSD != 0.0123 {
		t.Fatalf("unexpected cost %v", stored.EstimatedCostUSD)
	}
	if stored.EndedAt == nil {
		t.Fatal("expected endedAt")
	}

	raw, _ := h.store.GetNote(context.Background(), result.RawNoteID)
	for _, want := range []string{"- Duration: 1:35", "- Provider: unknown", "I keep thinking about the lighthouse."} {
		if !strings.Contains(raw.Content, want) {
			t.Fatalf("raw note missing %q:\n%s", want, raw.Content)
		}
	}

	quotes := h.store.notesOfType(listening.NoteTypeQuote)
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quote notes, got %d", len(quotes))
	}
	var sawAttribution bool
	for _, q := range quotes {
		if q.Content == "> All that is gold does not glitter\n\n— Tolkien" {
			sawAttribution = true
		}
	}
	if !sawAttribution {
		t.Fatal("expected normalized quote with attribution")
	}

	combined, _ := h.store.GetNote(context.Background(), result.SynthesizedNoteIDs[0])
	for _, heading := range []string{"## Insights", "## Open questions", "## Follow-up questions"} {
		if !strings.Contains(combined.Content, heading) {
			t.Fatalf("combined note missing %q:\n%s", heading, combined.Content)
		}
	}
	if strings.Contains(combined.Content, "## Context") {
		t.Fatal("empty context section should be omitted")
	}

	if len(h.store.transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(h.store.transcripts))
	}
	// untitled insight is skipped; 3 raw quotes become 3 artifacts
	if len(h.store.artifacts) != 6 {
		t.Fatalf("expected 6 artifacts, got %d", len(h.store.artifacts))
	}
	for _, a := range h.store.artifacts {
		if a.Provider != "openrouter:gpt" {
			t.Fatalf("unexpected artifact provider %q", a.Provider)
		}
		if a.Kind == listening.ArtifactQuote && a.Title == "" {
			t.Fatal("quote artifacts need a title")
		}
	}
}

func TestCompleteTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)

	req := listening.CompleteRequest{
		UserID:             "user-1",
		SessionID:          session.ID,
		Transcript:         "first pass",
		TranscriptProvider: "elevenlabs",
		Synthesis:          sampleSynthesis(),
	}
	first, err := h.svc.Complete(ctx, req)
	if err != nil {
		t.Fatalf("first Complete failed: %v", err)
	}
	transcripts, artifacts, notes := len(h.store.transcripts), len(h.store.artifacts), len(h.store.notes)

	req.Transcript = "second pass"
	req.TranscriptProvider = ""
	second, err := h.svc.Complete(ctx, req)
	if err != nil {
		t.Fatalf("second Complete failed: %v", err)
	}
	if len(h.store.transcripts) != transcripts || len(h.store.artifacts) != artifacts || len(h.store.notes) != notes {
		t.Fatalf("second completion wrote new records: transcripts %d->%d artifacts %d->%d notes %d->%d",
			transcripts, len(h.store.transcripts), artifacts, len(h.store.artifacts), notes, len(h.store.notes))
	}
	if first.RawNoteID != second.RawNoteID {
		t.Fatalf("raw note id changed: %s -> %s", first.RawNoteID, second.RawNoteID)
	}
	if strings.Join(first.SynthesizedNoteIDs, ",") != strings.Join(second.SynthesizedNoteIDs, ",") {
		t.Fatal("synthesized note ids changed on re-completion")
	}
	raw, _ := h.store.GetNote(ctx, second.RawNoteID)
	if !strings.HasSuffix(raw.Content, "second pass") || strings.Contains(raw.Content, "first pass") {
		t.Fatalf("raw note should hold only the latest transcript:\n%s", raw.Content)
	}
	if !strings.Contains(raw.Content, "- Provider: elevenlabs") {
		t.Fatal("expected prior provider to be reused")
	}
}

func TestCompleteRespectsExistingNoteCap(t *testing.T) {
	h := newHarness(t)
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)

	stored := h.store.session(session.ID)
	for i := 0; i < 13; i++ {
		stored.SynthesizedNoteIDs = append(stored.SynthesizedNoteIDs, fmt.Sprintf("pre-%02d", i))
	}
	h.store.put(stored)

	result, err := h.svc.Complete(context.Background(), listening.CompleteRequest{
		UserID:     "user-1",
		SessionID:  session.ID,
		Transcript: "words",
		Synthesis: &listening.Synthesis{
			Insights: []listening.SynthesisItem{{Title: "New", Content: "insight"}},
			Quotes:   []listening.Quote{{Text: "a new quote"}},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if len(result.SynthesizedNoteIDs) != 13 {
		t.Fatalf("expected 13 ids, got %d", len(result.SynthesizedNoteIDs))
	}
	if got := len(h.store.notesOfType(listening.NoteTypeQuote)); got != 0 {
		t.Fatalf("expected no new quote notes, got %d", got)
	}
}

func TestCompleteCapsSynthesizedNotes(t *testing.T) {
	h := newHarness(t)
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)

	synthesis := &listening.Synthesis{}
	for i := 0; i < 20; i++ {
		synthesis.Quotes = append(synthesis.Quotes, listening.Quote{Text: fmt.Sprintf("quote number %d", i)})
		synthesis.Insights = append(synthesis.Insights, listening.SynthesisItem{Title: fmt.Sprintf("i%d", i), Content: "c"})
		synthesis.ContextExpansions = append(synthesis.ContextExpansions, listening.SynthesisItem{Title: fmt.Sprintf("x%d", i), Content: "c"})
	}
	result, err := h.svc.Complete(context.Background(), listening.CompleteRequest{UserID: "user-1", SessionID: session.ID, Transcript: "t", Synthesis: synthesis})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if n := len(result.SynthesizedNoteIDs); n > listening.MaxSynthesizedNotes || n != 7 {
		t.Fatalf("expected 7 synthesized notes, got %d", n)
	}
	combined, _ := h.store.GetNote(context.Background(), result.SynthesizedNoteIDs[0])
	if strings.Count(combined.Content, "\n- ") != 6+4 {
		t.Fatalf("expected 10 list items in combined note:\n%s", combined.Content)
	}
	counts := map[listening.ArtifactKind]int{}
	for _, a := range h.store.artifacts {
		counts[a.Kind]++
	}
	if counts[listening.ArtifactInsight] != 6 || counts[listening.ArtifactQuote] != 6 || counts[listening.ArtifactContextExpansion] != 4 {
		t.Fatalf("unexpected artifact counts %v", counts)
	}
}

func TestCompleteRawNoteOwnershipChecked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)

	foreign := &listening.Note{ID: "foreign", UserID: "user-2", BookID: "book-other", Type: listening.NoteTypeNote}
	if err := h.store.InsertNote(ctx, foreign); err != nil {
		t.Fatalf("InsertNote failed: %v", err)
	}
	stored := h.store.session(session.ID)
	stored.RawNoteID = "foreign"
	h.store.put(stored)

	_, err := h.svc.Complete(ctx, listening.CompleteRequest{UserID: "user-1", SessionID: session.ID, Transcript: "x"})
	if !errors.Is(err, listening.ErrRawNoteAccessDenied) {
		t.Fatalf("expected ErrRawNoteAccessDenied, got %v", err)
	}
	if h.store.session(session.ID).Status != listening.StatusTranscribing {
		t.Fatal("session must not change when the raw note is foreign")
	}
}

func TestCompleteRetriedWriteReusesNotes(t *testing.T) {
	h := newHarness(t)
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)
	h.store.conflicts = 1

	result, err := h.svc.Complete(context.Background(), listening.CompleteRequest{
		UserID:     "user-1",
		SessionID:  session.ID,
		Transcript: "t",
		Synthesis:  sampleSynthesis(),
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	// raw note + combined note + two quotes, none duplicated by the retry
	if len(h.store.notes) != 4 {
		t.Fatalf("expected 4 notes, got %d", len(h.store.notes))
	}
	if len(result.SynthesizedNoteIDs) != 3 {
		t.Fatalf("expected 3 synthesized ids, got %d", len(result.SynthesizedNoteIDs))
	}
}

// racingStore runs a competing completion right before the first session
// write it sees, so that write loses the version check.
type racingStore struct {
	*memStore
	race  func()
	raced bool
}

func (r *racingStore) UpdateSession(ctx context.Context, session *listening.Session) error {
	if !r.raced && session.Status == listening.StatusComplete {
		r.raced = true
		r.race()
	}
	return r.memStore.UpdateSession(ctx, session)
}

func TestConcurrentCompletionsLeaveNoOrphanNotes(t *testing.T) {
	h := newHarness(t)
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)

	racing := &racingStore{memStore: h.store}
	svc := listening.NewService(racing, listening.WithIDGenerator(sequentialIDs()))
	req := listening.CompleteRequest{
		UserID:     "user-1",
		SessionID:  session.ID,
		Transcript: "spoken thoughts",
		Synthesis:  sampleSynthesis(),
	}
	var inner listening.CompleteResult
	racing.race = func() {
		var err error
		inner, err = svc.Complete(context.Background(), req)
		if err != nil {
			t.Errorf("competing Complete failed: %v", err)
		}
	}

	outer, err := svc.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if outer.RawNoteID != inner.RawNoteID {
		t.Fatalf("raw note ids diverged: %q vs %q", outer.RawNoteID, inner.RawNoteID)
	}
	if strings.Join(outer.SynthesizedNoteIDs, ",") != strings.Join(inner.SynthesizedNoteIDs, ",") {
		t.Fatalf("synthesized ids diverged: %v vs %v", outer.SynthesizedNoteIDs, inner.SynthesizedNoteIDs)
	}

	stored := h.store.session(session.ID)
	referenced := map[string]bool{stored.RawNoteID: true}
	for _, id := range stored.SynthesizedNoteIDs {
		referenced[id] = true
	}
	if len(h.store.notes) != len(referenced) {
		t.Fatalf("expected %d notes, store has %d", len(referenced), len(h.store.notes))
	}
	for id := range h.store.notes {
		if !referenced[id] {
			t.Fatalf("note %s is not referenced by the session", id)
		}
	}
	if len(h.store.transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(h.store.transcripts))
	}
}

func TestFailedCompletionDiscardsInsertedNotes(t *testing.T) {
	h := newHarness(t)
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)
	h.store.conflicts = 3

	_, err := h.svc.Complete(context.Background(), listening.CompleteRequest{
		UserID:     "user-1",
		SessionID:  session.ID,
		Transcript: "t",
		Synthesis:  sampleSynthesis(),
	})
	if !errors.Is(err, listening.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
	if len(h.store.notes) != 0 {
		t.Fatalf("expected inserted notes to be discarded, %d remain", len(h.store.notes))
	}
}

func TestDistinctQuotes(t *testing.T) {
	quotes := []listening.Quote{
		{Text: "  Call me   Ishmael. "},
		{Text: "call me ishmael."},
		{Text: ""},
		{Text: "ﬁne ligatures"},
		{Text: "fine ligatures"},
		{Text: "third"},
	}
	got := listening.DistinctQuotes(quotes, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(got))
	}
	if got[0].Text != "Call me Ishmael." || got[1].Text != "fine ligatures" {
		t.Fatalf("unexpected quotes %+v", got)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := map[int64]string{0: "0:00", 59_999: "0:59", 95_400: "1:35", 3_600_000: "60:00", -10: "0:00"}
	for ms, want := range cases {
		if got := listening.FormatDuration(ms); got != want {
			t.Fatalf("FormatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestCompleteRecordsSynthesisTelemetry(t *testing.T) {
	h := newHarness(t)
	session := h.start(t, "book-1")
	h.transcribing(t, session.ID)

	latency := int64(-20)
	degraded := true
	result, err := h.svc.Complete(context.Background(), listening.CompleteRequest{
		UserID:             "user-1",
		SessionID:          session.ID,
		Transcript:         "A thought about chapter two.",
		SynthesisLatencyMs: &latency,
		DegradedMode:       &degraded,
		Synthesis:          &listening.Synthesis{Provider: "demo/model"},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	got := result.Session
	if got.SynthesisProvider != "demo/model" {
		t.Fatalf("expected synthesis provider from payload, got %q", got.SynthesisProvider)
	}
	if got.SynthesisLatencyMs == nil || *got.SynthesisLatencyMs != 0 {
		t.Fatalf("expected latency clamped to 0, got %v", got.SynthesisLatencyMs)
	}
	if got.DegradedMode == nil || !*got.DegradedMode {
		t.Fatal("expected degraded mode recorded")
	}
}
