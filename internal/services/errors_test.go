package services_test

import (
	"errors"
	"strings"
	"testing"

	"marginalia/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "transcribe", "deepgram", "request failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"transcribe", "deepgram", "request failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

type classified struct{ kind string }

func (c classified) Error() string     { return "classified" }
func (c classified) ErrorKind() string { return c.kind }

func TestErrorKindMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"validation", services.Wrap(services.ErrValidation, "complete", "", "empty", nil), services.KindValidation},
		{"not found", services.Wrap(services.ErrNotFound, "", "lookup", "", nil), services.KindNotFound},
		{"external", services.Wrap(services.ErrExternalTool, "synthesize", "", "", errors.New("x")), services.KindExternal},
		{"plain", errors.New("io"), services.KindTransient},
		{"classifier", classified{kind: services.KindConflict}, services.KindConflict},
		{"nil", nil, ""},
	}
	for _, tc := range cases {
		if got := services.ErrorKind(tc.err); got != tc.want {
			t.Fatalf("%s: expected kind %q, got %q", tc.name, tc.want, got)
		}
	}
}
