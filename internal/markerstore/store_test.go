package markerstore

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "markers.sqlite"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutListKeepsInsertOrder(t *testing.T) {
	s := newTestStore(t)

	err := s.Put("cafes", []Record{
		{ID: "b", Lng: 2.35, Lat: 48.85, Category: "cafe"},
		{ID: "a", Lng: 2.36, Lat: 48.86},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put("other", []Record{{ID: "x"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Updating an existing marker keeps its position.
	if err := s.Put("cafes", []Record{{ID: "b", Lng: 1, Lat: 1, Label: "moved"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.List("cafes")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("unexpected order %+v", got)
	}
	if got[0].Lng != 1 || got[0].Label != "moved" || got[0].Category != "" {
		t.Errorf("expected b updated, got %+v", got[0])
	}

	n, err := s.Count("cafes")
	if err != nil || n != 2 {
		t.Errorf("expected count 2, got %d (%v)", n, err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("m", []Record{{ID: "a"}, {ID: "b"}, {ID: "c"}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := s.Delete("m", "b")
	if err != nil || !ok {
		t.Fatalf("expected delete of b, got %v (%v)", ok, err)
	}
	ok, err = s.Delete("m", "b")
	if err != nil || ok {
		t.Errorf("expected second delete to miss, got %v (%v)", ok, err)
	}

	n, err := s.DeleteAll("m")
	if err != nil || n != 2 {
		t.Errorf("expected 2 deleted, got %d (%v)", n, err)
	}
	got, err := s.List("m")
	if err != nil || len(got) != 0 {
		t.Errorf("expected empty map, got %v (%v)", got, err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "markers.sqlite")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Put("m", []Record{{ID: "a", Lng: 10, Lat: 20}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Close()

	s, err = NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.List("m")
	if err != nil || len(got) != 1 || got[0].Lat != 20 {
		t.Fatalf("unexpected records %+v (%v)", got, err)
	}
}
