package store

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	jobs := []Job{
		{Path: "/in/a.mp4", Worker: "w1", Outcome: OutcomeCompleted, SettledAt: base},
		{Path: "/in/b.mp4", Worker: "w2", Outcome: OutcomeFailed, Detail: "conversion exit=1", SettledAt: base.Add(time.Minute)},
		{Path: "/in/c.mp4", Worker: "w1", Outcome: OutcomeRequeued, SettledAt: base.Add(2 * time.Minute)},
	}
	for _, j := range jobs {
		if err := s.Record(j); err != nil {
			t.Fatalf("record %s: %v", j.Path, err)
		}
	}

	got, err := s.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(got))
	}
	// Newest first.
	if got[0].Path != "/in/c.mp4" || got[2].Path != "/in/a.mp4" {
		t.Errorf("unexpected order: %q .. %q", got[0].Path, got[2].Path)
	}
	if got[1].Detail != "conversion exit=1" {
		t.Errorf("detail = %q", got[1].Detail)
	}
	if !got[2].SettledAt.Equal(base) {
		t.Errorf("settled_at = %v, want %v", got[2].SettledAt, base)
	}
}

func TestRecentLimit(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.Record(Job{Path: "/in/x.mp4", Worker: "w", Outcome: OutcomeCompleted}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(got))
	}
}

func TestRecentEmpty(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no jobs, got %d", len(got))
	}
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)

	for _, outcome := range []string{
		OutcomeCompleted, OutcomeCompleted, OutcomeFailed, OutcomeRequeued,
	} {
		if err := s.Record(Job{Path: "/in/x.mp4", Worker: "w", Outcome: outcome}); err != nil {
			t.Fatal(err)
		}
	}

	counts, err := s.Counts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[OutcomeCompleted] != 2 || counts[OutcomeFailed] != 1 || counts[OutcomeRequeued] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRecordDefaultsTimestamp(t *testing.T) {
	s := newTestStore(t)

	if err := s.Record(Job{Path: "/in/a.mp4", Worker: "w", Outcome: OutcomeCompleted}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Recent(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SettledAt.IsZero() {
		t.Fatalf("expected a defaulted timestamp, got %+v", got)
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open with nested path: %v", err)
	}
	s.Close()
}
