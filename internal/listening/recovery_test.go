package listening_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"marginalia/internal/listening"
)

func seedSession(h *harness, id string, status listening.Status, age time.Duration, retries int) {
	now := h.clock.Now()
	h.store.put(&listening.Session{
		ID:         id,
		UserID:     "user-1",
		BookID:     "book-" + id,
		Status:     status,
		StartedAt:  now.Add(-time.Hour),
		RetryCount: retries,
		Version:    1,
		CreatedAt:  now.Add(-time.Hour),
		UpdatedAt:  now.Add(-age),
	})
}

func TestListStuckSessionsFiltersAndOrders(t *testing.T) {
	h := newHarness(t)
	seedSession(h, "fresh", listening.StatusTranscribing, 5*time.Minute, 0)
	seedSession(h, "old-transcribing", listening.StatusTranscribing, 40*time.Minute, 0)
	seedSession(h, "older-synth", listening.StatusSynthesizing, 90*time.Minute, 2)
	seedSession(h, "exhausted", listening.StatusSynthesizing, 120*time.Minute, 3)
	seedSession(h, "recording", listening.StatusRecording, 120*time.Minute, 0)
	seedSession(h, "review", listening.StatusReview, 120*time.Minute, 0)

	stuck, err := h.svc.ListStuckSessions(context.Background(), listening.StuckQuery{})
	if err != nil {
		t.Fatalf("ListStuckSessions failed: %v", err)
	}
	if len(stuck) != 2 {
		t.Fatalf("expected 2 stuck sessions, got %d", len(stuck))
	}
	if stuck[0].ID != "older-synth" || stuck[1].ID != "old-transcribing" {
		t.Fatalf("unexpected order: %s, %s", stuck[0].ID, stuck[1].ID)
	}

	all, err := h.svc.ListStuckSessions(context.Background(), listening.StuckQuery{MaxRetries: -1})
	if err != nil {
		t.Fatalf("ListStuckSessions failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != "exhausted" {
		t.Fatalf("expected exhausted session first when the retry filter is off, got %d", len(all))
	}

	tight, err := h.svc.ListStuckSessions(context.Background(), listening.StuckQuery{Threshold: time.Minute})
	if err != nil {
		t.Fatalf("ListStuckSessions failed: %v", err)
	}
	if len(tight) != 3 {
		t.Fatalf("expected fresh session with a one-minute threshold, got %d", len(tight))
	}
}

func TestListStuckSessionsLimit(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 30; i++ {
		seedSession(h, fmt.Sprintf("s%02d", i), listening.StatusTranscribing, time.Duration(30+i)*time.Minute, 0)
	}
	stuck, err := h.svc.ListStuckSessions(context.Background(), listening.StuckQuery{})
	if err != nil {
		t.Fatalf("ListStuckSessions failed: %v", err)
	}
	if len(stuck) != listening.DefaultBatchLimit {
		t.Fatalf("expected %d sessions, got %d", listening.DefaultBatchLimit, len(stuck))
	}
	if stuck[0].ID != "s29" {
		t.Fatalf("expected oldest first, got %s", stuck[0].ID)
	}
}

func TestRecoverStuckSchedulesProcessing(t *testing.T) {
	h := newHarness(t)
	seedSession(h, "a", listening.StatusTranscribing, 30*time.Minute, 0)
	seedSession(h, "b", listening.StatusSynthesizing, 20*time.Minute, 1)
	seedSession(h, "c", listening.StatusSynthesizing, 20*time.Minute, 3)

	result, err := h.svc.RecoverStuck(context.Background())
	if err != nil {
		t.Fatalf("RecoverStuck failed: %v", err)
	}
	if result.Recovered != 2 {
		t.Fatalf("expected 2 recovered, got %d", result.Recovered)
	}
	if len(h.scheduler.calls) != 2 {
		t.Fatalf("expected 2 scheduled calls, got %d", len(h.scheduler.calls))
	}
	for _, call := range h.scheduler.calls {
		if call.delay != 0 || call.op != listening.OpProcessSession {
			t.Fatalf("unexpected scheduled call %+v", call)
		}
	}
	if h.scheduler.calls[0].payload != "a" {
		t.Fatalf("expected oldest session first, got %s", h.scheduler.calls[0].payload)
	}
	// the sweep itself never consumes retries or changes status
	for _, id := range []string{"a", "b", "c"} {
		stored := h.store.session(id)
		if stored.Status.IsTerminal() {
			t.Fatalf("session %s was moved to %s", id, stored.Status)
		}
	}
	if h.store.session("a").RetryCount != 0 {
		t.Fatal("sweep must not increment retries")
	}
}

func TestIncrementRetry(t *testing.T) {
	h := newHarness(t)
	seedSession(h, "a", listening.StatusTranscribing, 30*time.Minute, 1)

	updated, err := h.svc.IncrementRetry(context.Background(), "a")
	if err != nil {
		t.Fatalf("IncrementRetry failed: %v", err)
	}
	if updated.RetryCount != 2 || updated.LastRetryAt == nil || !updated.LastRetryAt.Equal(h.clock.Now()) {
		t.Fatalf("unexpected retry bookkeeping %+v", updated)
	}
	if updated.Status != listening.StatusTranscribing {
		t.Fatalf("status changed to %s", updated.Status)
	}
	// a freshly retried session is no longer stale
	stuck, err := h.svc.ListStuckSessions(context.Background(), listening.StuckQuery{})
	if err != nil {
		t.Fatalf("ListStuckSessions failed: %v", err)
	}
	if len(stuck) != 0 {
		t.Fatalf("expected no stuck sessions, got %d", len(stuck))
	}

	if _, err := h.svc.IncrementRetry(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing session")
	}
}

func TestRecoverStuckWithoutScheduler(t *testing.T) {
	svc := listening.NewService(newMemStore())
	if _, err := svc.RecoverStuck(context.Background()); err == nil {
		t.Fatal("expected configuration error without a scheduler")
	}
}
