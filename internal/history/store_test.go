package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T, max int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "shots.db"), max)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAddList(t *testing.T) {
	s := openTestStore(t, 0)
	start := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		shot := Shot{ID: fmt.Sprintf("shot-%d", i), Start: start.Add(time.Duration(i) * time.Hour), Duration: 28, Weight: 36}
		if err := s.Add(shot); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	shots, err := s.List(0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(shots) != 3 {
		t.Fatalf("expected 3 shots, got %d", len(shots))
	}
	if shots[0].ID != "shot-2" || shots[2].ID != "shot-0" {
		t.Errorf("expected newest first, got %s..%s", shots[0].ID, shots[2].ID)
	}
	if !shots[2].Start.Equal(start) {
		t.Errorf("start not preserved: %v", shots[2].Start)
	}
}

func TestStoreListLimit(t *testing.T) {
	s := openTestStore(t, 0)
	for i := 0; i < 5; i++ {
		s.Add(Shot{ID: fmt.Sprintf("%d", i)})
	}

	shots, err := s.List(2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(shots) != 2 || shots[0].ID != "4" || shots[1].ID != "3" {
		t.Errorf("unexpected shots %+v", shots)
	}
}

func TestStoreEmpty(t *testing.T) {
	s := openTestStore(t, 0)
	shots, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if shots == nil || len(shots) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", shots)
	}
}

func TestStorePrunesOldest(t *testing.T) {
	s := openTestStore(t, 3)
	for i := 0; i < 5; i++ {
		if err := s.Add(Shot{ID: fmt.Sprintf("%d", i)}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	shots, _ := s.List(0)
	if len(shots) != 3 {
		t.Fatalf("expected 3 shots after pruning, got %d", len(shots))
	}
	if shots[0].ID != "4" || shots[2].ID != "2" {
		t.Errorf("expected shots 4..2, got %s..%s", shots[0].ID, shots[2].ID)
	}
}

func TestStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shots.db")
	s, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Add(Shot{ID: "a", Aborted: true, Reason: "interlock"})
	s.Close()

	s, err = Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	shots, _ := s.List(0)
	if len(shots) != 1 || shots[0].ID != "a" || !shots[0].Aborted || shots[0].Reason != "interlock" {
		t.Errorf("unexpected shots after reopen: %+v", shots)
	}
}
