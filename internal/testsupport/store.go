package testsupport

import (
	"context"
	"testing"
	"time"

	"marginalia/internal/config"
	"marginalia/internal/listening"
	"marginalia/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedBook stores a currently-reading book owned by userID.
func SeedBook(t testing.TB, st *store.Store, id, userID, title string) *listening.Book {
	t.Helper()

	book := &listening.Book{
		ID:        id,
		UserID:    userID,
		Title:     title,
		Status:    listening.BookCurrentlyReading,
		UpdatedAt: time.Now().UTC(),
	}
	if err := st.UpsertBook(context.Background(), book); err != nil {
		t.Fatalf("store.UpsertBook: %v", err)
	}
	return book
}
