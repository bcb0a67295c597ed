package processors

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"videoInsight/core"
)

// fakeSegmenter reports a fixed duration and materializes empty chunk
// files, recording which spans it was asked to extract.
type fakeSegmenter struct {
	durationMS int
	dir        string

	mu       sync.Mutex
	extracts []int
}

func (f *fakeSegmenter) DurationMS(string) (int, error) {
	return f.durationMS, nil
}

func (f *fakeSegmenter) Extract(audioPath, contentID string, span SegmentSpan) (string, error) {
	f.mu.Lock()
	f.extracts = append(f.extracts, span.Number)
	f.mu.Unlock()

	path := filepath.Join(f.dir, fmt.Sprintf("%s_chunk_%d.mp3", contentID, span.Number))
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		return "", err
	}
	return path, nil
}

var chunkNumberRe = regexp.MustCompile(`_chunk_(\d+)\.mp3$`)

// scriptedASR answers "segment N" for chunk N, with optional per-segment
// failures and jittered latency to shake out ordering assumptions.
type scriptedASR struct {
	fail   map[int]bool
	jitter bool

	mu    sync.Mutex
	calls []int
}

func (s *scriptedASR) Transcribe(ctx context.Context, audioPath string) (string, error) {
	m := chunkNumberRe.FindStringSubmatch(audioPath)
	if m == nil {
		return "", fmt.Errorf("unexpected chunk path %q", audioPath)
	}
	n, _ := strconv.Atoi(m[1])

	s.mu.Lock()
	s.calls = append(s.calls, n)
	s.mu.Unlock()

	if s.jitter {
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
	}
	if s.fail[n] {
		return "", fmt.Errorf("scripted failure for segment %d", n)
	}
	return fmt.Sprintf("segment %d", n), nil
}

func (s *scriptedASR) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestService(t *testing.T, durationMS int, asr *scriptedASR) (*TranscribeService, *fakeSegmenter) {
	t.Helper()
	seg := &fakeSegmenter{durationMS: durationMS, dir: t.TempDir()}
	return &TranscribeService{
		ASR:               asr,
		Cache:             core.NewSegmentCache(t.TempDir()),
		Segmenter:         seg,
		SegmentMS:         10 * 60 * 1000,
		MaxConcurrent:     3,
		SequentialBelowMS: 20 * 60 * 1000,
	}, seg
}

func TestRunOrdersConcurrentSegments(t *testing.T) {
	// 35 minutes: four segments, above the sequential threshold.
	asr := &scriptedASR{jitter: true}
	svc, _ := newTestService(t, 35*60*1000, asr)

	res, err := svc.Run(context.Background(), "audio.mp3", "vid1", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := "segment 0 segment 1 segment 2 segment 3"
	if res.Transcript != want {
		t.Errorf("transcript out of order: %q", res.Transcript)
	}
	if len(res.Segments) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(res.Segments))
	}
	for i, s := range res.Segments {
		if s != fmt.Sprintf("segment %d", i) {
			t.Errorf("segment %d holds %q", i, s)
		}
	}
}

func TestRunSequentialForShortAudio(t *testing.T) {
	// 15 minutes stays on the sequential path: two segments.
	asr := &scriptedASR{}
	svc, seg := newTestService(t, 15*60*1000, asr)

	res, err := svc.Run(context.Background(), "audio.mp3", "vid2", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Transcript != "segment 0 segment 1" {
		t.Errorf("unexpected transcript: %q", res.Transcript)
	}
	if got := seg.extracts; len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("sequential path must extract in order, got %v", got)
	}
}

func TestRunFullyCachedMakesNoCalls(t *testing.T) {
	asr := &scriptedASR{}
	svc, seg := newTestService(t, 25*60*1000, asr)

	for i := 0; i < 3; i++ {
		if _, err := svc.Cache.SaveSegment("vid3", i, i*600000, (i+1)*600000, fmt.Sprintf("cached %d", i)); err != nil {
			t.Fatalf("SaveSegment failed: %v", err)
		}
	}

	res, err := svc.Run(context.Background(), "audio.mp3", "vid3", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if asr.callCount() != 0 {
		t.Errorf("fully cached run made %d transcription calls", asr.callCount())
	}
	if len(seg.extracts) != 0 {
		t.Errorf("fully cached run extracted %v", seg.extracts)
	}
	if res.Transcript != "cached 0 cached 1 cached 2" {
		t.Errorf("unexpected cached transcript: %q", res.Transcript)
	}
}

func TestRunResumesFromPartialCache(t *testing.T) {
	asr := &scriptedASR{jitter: true}
	svc, _ := newTestService(t, 35*60*1000, asr)

	svc.Cache.SaveSegment("vid4", 0, 0, 600000, "cached 0")
	svc.Cache.SaveSegment("vid4", 2, 1200000, 1800000, "cached 2")

	res, err := svc.Run(context.Background(), "audio.mp3", "vid4", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Transcript != "cached 0 segment 1 cached 2 segment 3" {
		t.Errorf("unexpected resumed transcript: %q", res.Transcript)
	}

	asr.mu.Lock()
	calls := append([]int(nil), asr.calls...)
	asr.mu.Unlock()
	for _, n := range calls {
		if n == 0 || n == 2 {
			t.Errorf("cached segment %d was re-transcribed", n)
		}
	}
	if len(calls) != 2 {
		t.Errorf("expected 2 transcription calls, got %v", calls)
	}
}

func TestRunFailedSegmentGetsPlaceholder(t *testing.T) {
	asr := &scriptedASR{fail: map[int]bool{2: true}}
	svc, _ := newTestService(t, 35*60*1000, asr)

	res, err := svc.Run(context.Background(), "audio.mp3", "vid5", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(res.Transcript, "[Transcription failed for segment 2]") {
		t.Errorf("transcript missing failure placeholder: %q", res.Transcript)
	}
	if strings.Count(res.Transcript, "[Transcription failed") != 1 {
		t.Errorf("expected exactly one placeholder: %q", res.Transcript)
	}

	// The failure must not be cached, so a retry can repair it.
	for _, s := range svc.Cache.CachedSegments("vid5") {
		if s.Number == 2 {
			t.Error("failed segment 2 was written to the cache")
		}
	}
	if svc.Cache.IsFullyCached("vid5", 4) {
		t.Error("run with a failed segment must not be fully cached")
	}
}

func TestPlaceholderNeverCachedThenRetried(t *testing.T) {
	asr := &scriptedASR{fail: map[int]bool{1: true}}
	svc, _ := newTestService(t, 25*60*1000, asr)

	if _, err := svc.Run(context.Background(), "audio.mp3", "vid6", nil); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}

	// Second run with a healthy backend fills the gap from the real call.
	asr.fail = nil
	res, err := svc.Run(context.Background(), "audio.mp3", "vid6", nil)
	if err != nil {
		t.Fatalf("second Run failed: %v", err)
	}
	if res.Transcript != "segment 0 segment 1 segment 2" {
		t.Errorf("retry did not repair the failed segment: %q", res.Transcript)
	}
}
