package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"schedcal/internal/model"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s := NewFileStore(filepath.Join(t.TempDir(), "schedule.json"))
	doc, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(doc.Events)+len(doc.Weekly)+len(doc.Exception) != 0 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}

func TestFileStore_SaveLoad(t *testing.T) {
	t.Parallel()

	s := NewFileStore(filepath.Join(t.TempDir(), "data", "schedule.json"))
	doc := model.NewDocument()
	doc.Weekly["w1"] = model.Weekly{Name: "Shift", Value: 5.0, Color: "#fff", Days: []string{"monday"}, Start: "08:00", End: "10:00"}
	doc.Exception["x1"] = model.Exception{Name: "Holiday", Dates: []model.EventDate{{Start: "2026-12-25T00:00", End: "2026-12-25T23:59"}}}

	if err := s.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Weekly["w1"].Start != "08:00" || got.Weekly["w1"].Value != 5.0 {
		t.Fatalf("weekly not round-tripped: %+v", got.Weekly["w1"])
	}
	if got.Exception["x1"].Dates[0].Start != "2026-12-25T00:00" {
		t.Fatalf("exception not round-tripped: %+v", got.Exception["x1"])
	}
}

func TestFileStore_CanceledContext(t *testing.T) {
	t.Parallel()

	s := NewFileStore(filepath.Join(t.TempDir(), "schedule.json"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Save(ctx, model.NewDocument()); err == nil {
		t.Fatal("expected error for canceled context")
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatalf("file written despite canceled context: %v", err)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "schedule.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}
