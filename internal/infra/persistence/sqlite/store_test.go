package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"drawerstore/pkg/domain"
)

const capturesTable = "captures"

func sampleRows() []domain.CaptureRecord {
	return []domain.CaptureRecord{
		{Date: "d1", Session: "session-002", Capturer: "ana", Museum: "NHM", Order: "Coleoptera", Family: "Carabidae", Genus: "Carabus", Species: "violaceus", Directory: "captures/session-002/b.jpg"},
		{Date: "d2", Session: "session-001", Capturer: "ana", Museum: "NHM", Order: "Coleoptera", Family: "Carabidae", Genus: "Carabus", Species: "nemoralis", Directory: "captures/session-001/a.jpg"},
		{Date: "d3", Session: "session-001", Capturer: "bo", Museum: "MfN", Order: "Lepidoptera", Family: "Papilionidae", Genus: "Papilio", Species: "machaon", Directory: "captures/session-001/c.jpg"},
	}
}

func TestCatalogRebuildAndSearch(t *testing.T) {
	ctx := context.Background()
	cat, err := Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = cat.Close() })

	if err := cat.Rebuild(ctx, sampleRows()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	all, err := cat.Search(ctx, Query{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(all) != 3 || all[0].Directory != "captures/session-001/a.jpg" || all[2].Session != "session-002" {
		t.Fatalf("unexpected ordering %+v", all)
	}
	carabus, err := cat.Search(ctx, Query{Genus: "carabus"})
	if err != nil || len(carabus) != 2 {
		t.Fatalf("genus search: %v %+v", err, carabus)
	}
	one, err := cat.Search(ctx, Query{Genus: "CARABUS", Session: "session-002"})
	if err != nil || len(one) != 1 || one[0].Species != "violaceus" {
		t.Fatalf("combined search: %v %+v", err, one)
	}
	limited, err := cat.Search(ctx, Query{Limit: 1})
	if err != nil || len(limited) != 1 {
		t.Fatalf("limit: %v %+v", err, limited)
	}
}

func TestCatalogRebuildReplacesContents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "catalog.db")
	cat, err := Open(ctx, path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := cat.Rebuild(ctx, sampleRows()); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if err := cat.Rebuild(ctx, sampleRows()[:1]); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n, err := cat.Count(ctx); err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
	_ = cat.Close()

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	if n, err := reopened.Count(ctx); err != nil || n != 1 {
		t.Fatalf("count after reopen = %d, %v", n, err)
	}
	var tableName string
	if err := reopened.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name= ?", capturesTable).Scan(&tableName); err != nil {
		t.Fatalf("lookup captures table: %v", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}
