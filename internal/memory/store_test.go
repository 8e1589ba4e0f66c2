package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"fieldservice/internal/core"
	"fieldservice/internal/ports"
	"fieldservice/internal/ports/porttest"
)

func TestStore(t *testing.T) {
	porttest.RunStoreTests(t, func(t *testing.T) ports.Store { return New() })
}

func TestNewFromFilesSeedsAndDedupe(t *testing.T) {
	dir := t.TempDir()
	s := NewFromFiles(dir)
	pubs, _ := s.ListPublishers(context.Background())
	if len(pubs) != 0 {
		t.Fatalf("expected no publishers when seed file is missing")
	}

	seed := "# congregation\nAnna Rossi\n\nBruno Bianchi|irregular\nCarla Verdi|ACTIVE|PIONEER\nAnna Rossi\nDario|RETIRED\n"
	if err := os.WriteFile(filepath.Join(dir, "seed_publishers.txt"), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	s = NewFromFiles(dir)
	pubs, _ = s.ListPublishers(context.Background())
	if len(pubs) != 4 {
		t.Fatalf("expected 4 publishers, got %d", len(pubs))
	}
	want := []struct {
		name   string
		status core.Status
		typ    core.ReportType
	}{
		{"Anna Rossi", core.StatusActive, core.TypePublisher},
		{"Bruno Bianchi", core.StatusIrregular, core.TypePublisher},
		{"Carla Verdi", core.StatusActive, core.TypePioneer},
		{"Dario", core.StatusActive, core.TypePublisher},
	}
	for i, w := range want {
		if pubs[i].Name != w.name || pubs[i].Status != w.status || pubs[i].Type != w.typ {
			t.Errorf("publisher %d = %+v, want %+v", i, pubs[i], w)
		}
		if pubs[i].ID != core.StableID(w.name) {
			t.Errorf("publisher %d has unstable id", i)
		}
	}
}
