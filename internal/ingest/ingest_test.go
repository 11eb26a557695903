package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/diego-ramazzini/muniagent/config"
)

type fakeDocs struct {
	names    []string
	kinds    map[string]string
	contents map[string]string
}

func (f *fakeDocs) UpsertDocument(_ context.Context, filename, kind, content string, _ []float32) error {
	if f.contents == nil {
		f.contents = map[string]string{}
		f.kinds = map[string]string{}
	}
	f.names = append(f.names, filename)
	f.kinds[filename] = kind
	f.contents[filename] = content
	return nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

func TestIngestDir_TextFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "iusi.txt"), []byte("El IUSI se paga trimestralmente."), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ignorado.csv"), []byte("a,b"), 0o644); err != nil {
		t.Fatal(err)
	}

	docs := &fakeDocs{}
	in := New(config.IngestConfig{}, docs, fakeEmbedder{}, nil)
	n, err := in.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stored document, got %d", n)
	}
	if docs.names[0] != "iusi.txt" {
		t.Fatalf("expected iusi.txt, got %q", docs.names[0])
	}
	if !strings.Contains(docs.contents["iusi.txt"], "IUSI") {
		t.Fatalf("expected content stored, got %q", docs.contents["iusi.txt"])
	}
	if docs.kinds["iusi.txt"] != "text" {
		t.Fatalf("expected kind text, got %q", docs.kinds["iusi.txt"])
	}
}

func TestIngestDir_BadPDFSkipped(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "roto.pdf"), []byte("no es un pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bueno.txt"), []byte("texto válido"), 0o644); err != nil {
		t.Fatal(err)
	}

	docs := &fakeDocs{}
	in := New(config.IngestConfig{}, docs, fakeEmbedder{}, nil)
	n, err := in.IngestDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("IngestDir: %v", err)
	}
	if n != 1 || docs.names[0] != "bueno.txt" {
		t.Fatalf("bad pdf must be skipped, got %d stored: %v", n, docs.names)
	}
}

func TestIsDue(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Minute)
	old := now.Add(-25 * time.Hour)

	cases := []struct {
		name string
		spec string
		last *time.Time
		want bool
	}{
		{"empty schedule never due", "", nil, false},
		{"daily never run", "@daily", nil, true},
		{"daily recent", "@daily", &recent, false},
		{"daily stale", "@daily", &old, true},
		{"hourly recent", "@hourly", &recent, false},
		{"cron never run", "0 3 * * *", nil, true},
		{"cron stale", "0 3 * * *", &old, true},
		{"invalid degrades to daily", "no-cron", &recent, false},
	}
	for _, tc := range cases {
		if got := isDue(tc.spec, tc.last); got != tc.want {
			t.Errorf("%s: isDue(%q) = %v, want %v", tc.name, tc.spec, got, tc.want)
		}
	}
}
