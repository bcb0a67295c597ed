package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestSegmentCacheCombineInOrder(t *testing.T) {
	cache := NewSegmentCache(t.TempDir())

	// Save out of order; combination must still follow segment numbers.
	if _, err := cache.SaveSegment("abc", 2, 20000, 30000, "foo"); err != nil {
		t.Fatalf("SaveSegment failed: %v", err)
	}
	if _, err := cache.SaveSegment("abc", 0, 0, 10000, "hello "); err != nil {
		t.Fatalf("SaveSegment failed: %v", err)
	}
	if _, err := cache.SaveSegment("abc", 1, 10000, 20000, "world "); err != nil {
		t.Fatalf("SaveSegment failed: %v", err)
	}

	combined, ok := cache.CombineTranscripts("abc")
	if !ok {
		t.Fatal("CombineTranscripts reported no cached segments")
	}
	if combined != "hello  world  foo" {
		t.Errorf("unexpected combined transcript: %q", combined)
	}

	if !cache.IsFullyCached("abc", 3) {
		t.Error("expected abc to be fully cached for 3 segments")
	}
	if cache.IsFullyCached("abc", 4) {
		t.Error("abc must not count as fully cached for 4 segments")
	}
}

func TestSegmentCacheMissingContent(t *testing.T) {
	cache := NewSegmentCache(t.TempDir())

	if _, ok := cache.CombineTranscripts("nothing"); ok {
		t.Error("expected absent transcript for unknown content id")
	}
	if cache.IsFullyCached("nothing", 1) {
		t.Error("unknown content id must not be fully cached")
	}
	if segs := cache.CachedSegments("nothing"); len(segs) != 0 {
		t.Errorf("expected no segments, got %d", len(segs))
	}
}

func TestSegmentCacheSaveIsIdempotent(t *testing.T) {
	cache := NewSegmentCache(t.TempDir())

	for i := 0; i < 3; i++ {
		if _, err := cache.SaveSegment("vid", 0, 0, 5000, "same text"); err != nil {
			t.Fatalf("SaveSegment failed: %v", err)
		}
	}

	segs := cache.CachedSegments("vid")
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment after repeated saves, got %d", len(segs))
	}
	if segs[0].Transcript != "same text" {
		t.Errorf("unexpected transcript: %q", segs[0].Transcript)
	}
}

func TestSegmentCacheConcurrentSaves(t *testing.T) {
	cache := NewSegmentCache(t.TempDir())

	// The transcriber saves segments from its worker pool; the shared
	// metadata index must record every one of them.
	const total = 16
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := cache.SaveSegment("vid", n, n*10000, (n+1)*10000, fmt.Sprintf("part %d", n)); err != nil {
				t.Errorf("SaveSegment(%d) failed: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	segs := cache.CachedSegments("vid")
	if len(segs) != total {
		t.Fatalf("index recorded %d of %d concurrently saved segments", len(segs), total)
	}
	for i, s := range segs {
		if s.Number != i {
			t.Errorf("segment %d recorded as %d", i, s.Number)
		}
	}
	if !cache.IsFullyCached("vid", total) {
		t.Error("all segments saved, cache must report fully cached")
	}
}

func TestSegmentCachePartialAndCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	cache := NewSegmentCache(dir)

	cache.SaveSegment("vid", 0, 0, 5000, "alpha")
	cache.SaveSegment("vid", 2, 10000, 15000, "gamma")

	// Partial cache combines only what exists; no placeholders here.
	combined, ok := cache.CombineTranscripts("vid")
	if !ok || combined != "alpha gamma" {
		t.Errorf("unexpected partial combination: %q ok=%v", combined, ok)
	}
	if cache.IsFullyCached("vid", 3) {
		t.Error("partial cache must not report fully cached")
	}

	// A corrupt segment file degrades to a miss, not an error.
	if err := os.WriteFile(filepath.Join(dir, "vid_segment_2.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	segs := cache.CachedSegments("vid")
	if len(segs) != 1 || segs[0].Number != 0 {
		t.Errorf("expected only segment 0 to survive corruption, got %+v", segs)
	}
}
