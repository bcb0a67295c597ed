package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"videoInsight/config"
	"videoInsight/core"
)

func TestSplitTextOverlapCoverage(t *testing.T) {
	// Build text where every 10-char window is unique and identifiable.
	var b strings.Builder
	for b.Len() < 12000 {
		b.WriteString(strings.Repeat("x", 10))
		b.WriteString("|")
	}
	text := b.String()[:12000]

	chunks := SplitText(text, 5000, 1000)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks for 12000 chars, got %d", len(chunks))
	}

	// Consecutive chunks share exactly the overlap region.
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1][len(chunks[i-1])-1000:]
		if !strings.HasPrefix(chunks[i], tail) {
			t.Errorf("chunk %d does not start with chunk %d's overlap tail", i, i-1)
		}
	}

	// Stripping the overlaps reconstructs the original text exactly.
	rebuilt := chunks[0]
	for i := 1; i < len(chunks); i++ {
		rebuilt += chunks[i][1000:]
	}
	if rebuilt != text {
		t.Error("overlap-stripped chunks do not reconstruct the input")
	}

	// Any fact shorter than the overlap appears whole in some chunk.
	for pos := 0; pos+1000 <= len(text); pos += 500 {
		fact := text[pos : pos+1000]
		found := false
		for _, c := range chunks {
			if strings.Contains(c, fact) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("window at %d split across every chunk boundary", pos)
		}
	}
}

func TestSplitTextEdgeCases(t *testing.T) {
	if got := SplitText("", 5000, 1000); got != nil {
		t.Errorf("empty text should yield no chunks, got %v", got)
	}
	if got := SplitText("short", 5000, 1000); len(got) != 1 || got[0] != "short" {
		t.Errorf("short text should be a single chunk, got %v", got)
	}

	// Degenerate overlap falls back instead of looping forever.
	text := strings.Repeat("a", 300)
	chunks := SplitText(text, 100, 100)
	if len(chunks) == 0 {
		t.Fatal("degenerate overlap produced no chunks")
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total < len(text) {
		t.Errorf("chunks cover %d of %d chars", total, len(text))
	}
}

func TestMemoryStoreSearchRanksByTopic(t *testing.T) {
	store, existing, err := openMemoryStore(t.TempDir(), "vid", NewLocalEmbedder())
	if err != nil {
		t.Fatalf("openMemoryStore failed: %v", err)
	}
	if existing {
		t.Fatal("fresh store reported existing content")
	}

	ctx := context.Background()
	added, err := store.Add(ctx, []core.Chunk{
		{ContentID: "vid", Index: 0, Content: "cats sleep most of the day and hunt at night"},
		{ContentID: "vid", Index: 1, Content: "quantum computers factor integers with qubits"},
		{ContentID: "vid", Index: 2, Content: "the recipe calls for flour eggs and butter"},
	})
	if err != nil || added != 3 {
		t.Fatalf("Add returned (%d, %v)", added, err)
	}

	hits, err := store.Search(ctx, "when do cats hunt", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Chunk.Index != 0 {
		t.Errorf("top hit is chunk %d, want the cats chunk", hits[0].Chunk.Index)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("hits not ordered by score: %.3f then %.3f", hits[0].Score, hits[1].Score)
	}
}

func TestMemoryStorePersistAndReopen(t *testing.T) {
	dataDir := t.TempDir()
	ctx := context.Background()

	store, _, err := openMemoryStore(dataDir, "vid", NewLocalEmbedder())
	if err != nil {
		t.Fatalf("openMemoryStore failed: %v", err)
	}
	store.Add(ctx, []core.Chunk{
		{ContentID: "vid", Index: 0, Content: "first part of the transcript"},
		{ContentID: "vid", Index: 1, Content: "second part of the transcript"},
	})
	if err := store.Persist(); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	reopened, existing, err := openMemoryStore(dataDir, "vid", NewLocalEmbedder())
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !existing {
		t.Fatal("persisted store not recognized on reopen")
	}
	if n, _ := reopened.Count(ctx); n != 2 {
		t.Errorf("reopened store holds %d chunks, want 2", n)
	}
	chunk, ok, err := reopened.ChunkAt(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("ChunkAt(1) = (%v, %v)", ok, err)
	}
	if chunk.Content != "second part of the transcript" {
		t.Errorf("unexpected chunk content: %q", chunk.Content)
	}
	if _, ok, _ := reopened.ChunkAt(ctx, 9); ok {
		t.Error("ChunkAt past the end must report absent")
	}
}

func TestMemoryStoreCorruptFileRebuilds(t *testing.T) {
	dataDir := t.TempDir()
	storeDir := filepath.Join(dataDir, "stores")
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(storeDir, "vid.json"), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}

	store, existing, err := openMemoryStore(dataDir, "vid", NewLocalEmbedder())
	if err != nil {
		t.Fatalf("corrupt store file must not fail open: %v", err)
	}
	if existing {
		t.Error("corrupt store file must count as absent")
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("rebuilt store holds %d chunks", n)
	}
}

func TestFactoryDefaultsToMemory(t *testing.T) {
	t.Setenv("STORE", "")
	cfg := &config.Config{DataDir: t.TempDir()}
	f := NewFactory(cfg, NewLocalEmbedder())

	store, existing, err := f.Open(context.Background(), "vid")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if existing {
		t.Error("fresh content reported existing")
	}
	if _, ok := store.(*MemoryVectorStore); !ok {
		t.Errorf("default backend is %T, want memory", store)
	}
}
