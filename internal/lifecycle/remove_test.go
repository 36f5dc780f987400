package lifecycle

import (
	"context"
	"errors"
	"sort"
	"testing"

	apperrors "github.com/eklundh/strandr/pkg/errors"
)

func TestRemoveDocument(t *testing.T) {
	f := newFakeEngine()
	f.docs["1975"] = map[string]any{"original_file": "1975", "word_count": 3}
	mgr := newTestManager(t, f)

	if err := mgr.RemoveDocument(context.Background(), "vivill", "1975"); err != nil {
		t.Fatalf("RemoveDocument() error: %v", err)
	}

	want := []string{
		"vivill/1975",
		"vivill_terms/1975-0",
		"vivill_terms/1975-1",
		"vivill_terms/1975-2",
	}
	got := append([]string(nil), f.deleted...)
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("deleted %d records, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("deleted[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRemoveDocumentMissing(t *testing.T) {
	f := newFakeEngine()
	mgr := newTestManager(t, f)

	err := mgr.RemoveDocument(context.Background(), "vivill", "nope")
	if !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Fatalf("RemoveDocument() error = %v, want ErrDocumentNotFound", err)
	}
	if len(f.deleted) != 0 {
		t.Errorf("deleted %v, want nothing", f.deleted)
	}
}

func TestRemoveByFile(t *testing.T) {
	f := newFakeEngine()
	f.docs["1975"] = map[string]any{"original_file": "valmanifest", "word_count": 2}
	f.docs["1979"] = map[string]any{"original_file": "valmanifest", "word_count": 1}
	f.docs["1982"] = map[string]any{"original_file": "other", "word_count": 5}
	mgr := newTestManager(t, f)

	n, err := mgr.RemoveByFile(context.Background(), "vivill", "valmanifest")
	if err != nil {
		t.Fatalf("RemoveByFile() error: %v", err)
	}
	if n != 2 {
		t.Fatalf("RemoveByFile() = %d documents, want 2", n)
	}

	got := map[string]bool{}
	for _, d := range f.deleted {
		got[d] = true
	}
	for _, want := range []string{
		"vivill/1975", "vivill_terms/1975-0", "vivill_terms/1975-1",
		"vivill/1979", "vivill_terms/1979-0",
	} {
		if !got[want] {
			t.Errorf("missing delete of %s, got %v", want, f.deleted)
		}
	}
	for _, d := range f.deleted {
		if d == "vivill/1982" {
			t.Errorf("deleted unrelated document 1982")
		}
	}
	if len(f.deleted) != 5 {
		t.Errorf("deleted %d records, want 5", len(f.deleted))
	}
}

func TestRemoveByFileNoMatch(t *testing.T) {
	f := newFakeEngine()
	f.docs["1975"] = map[string]any{"original_file": "valmanifest", "word_count": 2}
	mgr := newTestManager(t, f)

	n, err := mgr.RemoveByFile(context.Background(), "vivill", "absent")
	if err != nil {
		t.Fatalf("RemoveByFile() error: %v", err)
	}
	if n != 0 || len(f.deleted) != 0 {
		t.Errorf("removed %d documents and %v deletes, want none", n, f.deleted)
	}
}
