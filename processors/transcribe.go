package processors

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"videoInsight/core"
)

// ASRClient is the transcription capability: audio file in, text out.
type ASRClient interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// WhisperASR transcribes through an OpenAI-compatible audio endpoint.
type WhisperASR struct {
	cli   *openai.Client
	model string
}

func NewWhisperASR(cli *openai.Client, model string) *WhisperASR {
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperASR{cli: cli, model: model}
}

func (w *WhisperASR) Transcribe(ctx context.Context, audioPath string) (string, error) {
	// A hung call would otherwise hold its concurrency slot forever.
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	resp, err := w.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// MockASR produces deterministic placeholder text; used when no API is
// configured so the rest of the pipeline stays exercisable.
type MockASR struct{}

func (MockASR) Transcribe(ctx context.Context, audioPath string) (string, error) {
	dur, err := ProbeDurationMS(audioPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Placeholder transcript covering %.0f seconds of audio.", float64(dur)/1000.0), nil
}

// semaphore is a counting semaphore bounding in-flight transcription calls.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(capacity int) *semaphore {
	return &semaphore{ch: make(chan struct{}, capacity)}
}

func (s *semaphore) acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *semaphore) release() {
	<-s.ch
}

// TranscribeService turns a local audio file into a complete, ordered
// transcript: cache-first, bounded concurrency, placeholder on per-segment
// failure. The final transcript never silently drops a segment.
type TranscribeService struct {
	ASR       ASRClient
	Cache     *core.SegmentCache
	Segmenter AudioSegmenter

	SegmentMS     int
	MaxConcurrent int
	// Content at or below this duration uses the plain sequential path.
	SequentialBelowMS int
}

// TranscribeResult carries the joined transcript plus the segments that
// make it up, in segment order, for incremental indexing.
type TranscribeResult struct {
	Transcript  string
	Segments    []string
	ProcessedMB float64
}

func placeholderFor(segment int) string {
	return fmt.Sprintf("[Transcription failed for segment %d]", segment)
}

// Run produces the full transcript for contentID. Completion order of
// concurrent segments never affects output order; each task owns exactly
// one result slot.
func (t *TranscribeService) Run(ctx context.Context, audioPath, contentID string, progress core.Progress) (*TranscribeResult, error) {
	progress = core.EnsureProgress(progress)

	durationMS, err := t.Segmenter.DurationMS(audioPath)
	if err != nil {
		return nil, fmt.Errorf("probe audio duration: %w", err)
	}
	spans := PlanSegments(durationMS, t.SegmentMS)
	total := len(spans)
	if total == 0 {
		return nil, fmt.Errorf("audio has no duration: %w", core.ErrCorruptAudio)
	}

	// Fully cached content costs zero external calls.
	if t.Cache.IsFullyCached(contentID, total) {
		combined, _ := t.Cache.CombineTranscripts(contentID)
		progress("Transcription", 100, "Using cached transcription", 0)
		segs := make([]string, 0, total)
		for _, s := range t.Cache.CachedSegments(contentID) {
			segs = append(segs, s.Transcript)
		}
		return &TranscribeResult{Transcript: combined, Segments: segs}, nil
	}

	results := make([]string, total)
	sizes := make([]float64, total)
	cached := make(map[int]bool)
	for _, seg := range t.Cache.CachedSegments(contentID) {
		if seg.Number >= 0 && seg.Number < total {
			results[seg.Number] = seg.Transcript
			cached[seg.Number] = true
		}
	}

	if durationMS <= t.SequentialBelowMS {
		t.runSequential(ctx, audioPath, contentID, spans, cached, results, sizes, progress)
	} else {
		t.runConcurrent(ctx, audioPath, contentID, spans, cached, results, sizes, progress)
	}

	transcript := joinSegments(results)
	var totalMB float64
	for _, mb := range sizes {
		totalMB += mb
	}
	progress("Transcription", 100, "Transcription complete", 0)
	return &TranscribeResult{Transcript: transcript, Segments: results, ProcessedMB: totalMB}, nil
}

func (t *TranscribeService) runSequential(ctx context.Context, audioPath, contentID string, spans []SegmentSpan, cached map[int]bool, results []string, sizes []float64, progress core.Progress) {
	total := len(spans)
	for _, span := range spans {
		if cached[span.Number] {
			progress("Transcription", pct(span.Number+1, total), fmt.Sprintf("Using cached chunk %d/%d", span.Number+1, total), -1)
			continue
		}
		progress("Transcription", pct2(span.Number, total), fmt.Sprintf("Processing chunk %d/%d", span.Number+1, total), -1)
		text, mb := t.transcribeSpan(ctx, audioPath, contentID, span)
		results[span.Number] = text
		sizes[span.Number] = mb
		progress("Transcription", pct(span.Number+1, total), fmt.Sprintf("Completed chunk %d/%d", span.Number+1, total), -1)
	}
}

func (t *TranscribeService) runConcurrent(ctx context.Context, audioPath, contentID string, spans []SegmentSpan, cached map[int]bool, results []string, sizes []float64, progress core.Progress) {
	total := len(spans)
	sem := newSemaphore(t.MaxConcurrent)
	var wg sync.WaitGroup

	for _, span := range spans {
		if cached[span.Number] {
			progress("Transcription", pct(span.Number+1, total), fmt.Sprintf("Using cached chunk %d/%d", span.Number+1, total), -1)
			continue
		}

		// Acquire before materializing the segment so at most
		// MaxConcurrent encoded chunks exist on disk at once.
		if err := sem.acquire(ctx); err != nil {
			results[span.Number] = placeholderFor(span.Number)
			continue
		}
		progress("Transcription", pct2(span.Number, total), fmt.Sprintf("Processing chunk %d/%d", span.Number+1, total), -1)

		wg.Add(1)
		go func(span SegmentSpan) {
			defer wg.Done()
			defer sem.release()
			text, mb := t.transcribeSpan(ctx, audioPath, contentID, span)
			// Each task writes exactly one disjoint index; no lock needed.
			results[span.Number] = text
			sizes[span.Number] = mb
			progress("Transcription", pct(span.Number+1, total), fmt.Sprintf("Completed chunk %d/%d", span.Number+1, total), -1)
		}(span)
	}

	wg.Wait()
}

// transcribeSpan extracts, transcribes and caches one segment. Failures
// come back as the placeholder text and are never written to the cache.
func (t *TranscribeService) transcribeSpan(ctx context.Context, audioPath, contentID string, span SegmentSpan) (string, float64) {
	chunkPath, err := t.Segmenter.Extract(audioPath, contentID, span)
	if err != nil {
		log.Printf("segment %d extraction failed: %v", span.Number, err)
		return placeholderFor(span.Number), 0
	}
	defer os.Remove(chunkPath)

	mb := FileSizeMB(chunkPath)
	text, err := t.ASR.Transcribe(ctx, chunkPath)
	if err != nil {
		log.Printf("segment %d transcription failed: %v", span.Number, err)
		return placeholderFor(span.Number), mb
	}

	if _, err := t.Cache.SaveSegment(contentID, span.Number, span.StartMS, span.EndMS, text); err != nil {
		// Cache trouble must not fail the segment.
		log.Printf("failed to cache segment %d: %v", span.Number, err)
	}
	return text, mb
}

func joinSegments(parts []string) string {
	return strings.Join(parts, " ")
}

func pct(done, total int) float64 {
	return float64(done) / float64(total) * 100
}

func pct2(started, total int) float64 {
	return (float64(started) + 0.5) / float64(total) * 100
}
