package processors

import (
	"context"
	"fmt"
	"log"
	"strings"

	"videoInsight/core"
	"videoInsight/storage"
)

const (
	// Above this chunk count the map-reduce path is always taken.
	directSummaryMaxChunks = 5
	// Character ceiling for any single text sent to the model, roughly
	// 3000 tokens.
	safeCharLimit    = 12000
	mapTokenBudget   = 100
	summaryBatchSize = 5
)

// summaryProfile fixes the knobs that scale with the requested length.
type summaryProfile struct {
	k          int
	maxTokens  int
	sampleSize int
}

func profileFor(length core.SummaryLength) summaryProfile {
	switch length {
	case core.SummaryBrief:
		return summaryProfile{k: 3, maxTokens: 250, sampleSize: 10}
	case core.SummaryDetailed:
		return summaryProfile{k: 5, maxTokens: 500, sampleSize: 20}
	default: // Moderate
		return summaryProfile{k: 4, maxTokens: 350, sampleSize: 15}
	}
}

// reduceTokens is the reduce-call output budget per length; Detailed gets
// more room than its direct-path budget.
func reduceTokens(length core.SummaryLength) int {
	switch length {
	case core.SummaryBrief:
		return 250
	case core.SummaryDetailed:
		return 600
	default:
		return 400
	}
}

// SummarizeService produces a single coherent summary of indexed content,
// choosing between one direct completion for small content and sampled
// map-reduce for anything that could blow the context window.
type SummarizeService struct {
	Completer Completer
}

const directSummaryPrompt = `Summarize the following video transcript in a clear, concise way. Focus on the main ideas, important moments, and relevant discussion points.

Transcript:
%s

Summary:`

const mapPrompt = `Briefly summarize this section of a video transcript in 2-3 sentences:
%s

Very brief summary:`

const reducePrompt = `Below are summaries from different parts of a video. Create a coherent overall summary that captures the main points and narrative of the entire video:

%s

Overall video summary:`

// Summarize picks the path by chunk count and context budget. Once on the
// map-reduce path it never fails: total reduce failure degrades to a
// deterministic fallback string.
func (s *SummarizeService) Summarize(ctx context.Context, store storage.VectorStore, model string, length core.SummaryLength) (string, error) {
	totalChunks, err := store.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("count chunks: %w", err)
	}
	if totalChunks == 0 {
		return "", fmt.Errorf("no indexed content to summarize")
	}

	profile := profileFor(length)

	if totalChunks <= directSummaryMaxChunks {
		hits, err := store.Search(ctx, "summary", profile.k)
		if err != nil {
			return "", fmt.Errorf("retrieve chunks: %w", err)
		}
		contextText := joinHitContents(hits)

		// Even a small chunk count can overflow the window; fall through
		// to map-reduce when the direct context would not fit.
		if estimateTokens(contextText) <= maxContextTokens {
			summary, err := s.Completer.Complete(ctx, model, fmt.Sprintf(directSummaryPrompt, contextText), 0.3, profile.maxTokens)
			if err != nil {
				return "", err
			}
			return strings.Join(strings.Fields(summary), " "), nil
		}
	}

	return s.mapReduce(ctx, store, model, length, totalChunks, profile), nil
}

func (s *SummarizeService) mapReduce(ctx context.Context, store storage.VectorStore, model string, length core.SummaryLength, totalChunks int, profile summaryProfile) string {
	sampled := s.sampleChunks(ctx, store, totalChunks, profile.sampleSize)
	if len(sampled) == 0 {
		// Sampling by position came up dry; fall back to a generic query.
		hits, err := store.Search(ctx, "summary", minInt(profile.sampleSize, totalChunks))
		if err == nil {
			for _, h := range hits {
				sampled = append(sampled, h.Chunk)
			}
		}
	}

	// Map: summarize each sampled chunk independently under a tight
	// output budget; one shorter retry on failure, then skip the chunk.
	// Partial coverage is acceptable, total failure is not.
	chunkSummaries := make([]string, 0, len(sampled))
	for _, chunk := range sampled {
		content := chunk.Content
		if len(content) > safeCharLimit {
			content = content[:safeCharLimit] + "..."
		}

		summary, err := s.Completer.Complete(ctx, model, fmt.Sprintf(mapPrompt, content), 0.3, mapTokenBudget)
		if err != nil {
			shorter := chunk.Content
			if len(shorter) > safeCharLimit/2 {
				shorter = shorter[:safeCharLimit/2] + "..."
			}
			summary, err = s.Completer.Complete(ctx, model, fmt.Sprintf(mapPrompt, shorter), 0.3, mapTokenBudget)
			if err != nil {
				log.Printf("skipping chunk %d in map step: %v", chunk.Index, err)
				continue
			}
		}
		chunkSummaries = append(chunkSummaries, strings.TrimSpace(summary))
	}

	// Pre-combine in fixed-size batches when the reduce input is large.
	if len(chunkSummaries) > 20 {
		var batched []string
		for i := 0; i < len(chunkSummaries); i += summaryBatchSize {
			end := minInt(i+summaryBatchSize, len(chunkSummaries))
			batched = append(batched, strings.Join(chunkSummaries[i:end], " "))
		}
		chunkSummaries = batched
	}

	combined := strings.Join(chunkSummaries, " ")

	// Reduce input still too big: keep the beginning, a slice of the
	// middle and the end, then hard-truncate as the last resort.
	if len(combined) > safeCharLimit && len(chunkSummaries) >= 3 {
		third := len(chunkSummaries) / 3
		selected := append([]string{}, chunkSummaries[:third]...)
		middle := chunkSummaries[third : 2*third]
		if len(middle) > 3 {
			middle = middle[:3]
		}
		selected = append(selected, middle...)
		selected = append(selected, chunkSummaries[2*third:]...)
		combined = strings.Join(selected, " ")
	}
	if len(combined) > safeCharLimit {
		combined = combined[:safeCharLimit]
	}

	final, err := s.Completer.Complete(ctx, model, fmt.Sprintf(reducePrompt, combined), 0.3, reduceTokens(length))
	if err != nil {
		// This path must never throw to the caller.
		excerpt := combined
		if len(excerpt) > 2000 {
			excerpt = excerpt[:2000]
		}
		return fmt.Sprintf("This video is extremely long and contains too much content for a complete summary. Here are key points from parts of the video: %s...", excerpt)
	}
	return strings.TrimSpace(final)
}

// sampleChunks picks sampleSize chunk positions evenly spaced across the
// full range, or every chunk when there are fewer than sampleSize.
func (s *SummarizeService) sampleChunks(ctx context.Context, store storage.VectorStore, totalChunks, sampleSize int) []core.Chunk {
	var positions []int
	if totalChunks <= sampleSize {
		for i := 0; i < totalChunks; i++ {
			positions = append(positions, i)
		}
	} else {
		step := totalChunks / sampleSize
		if step < 1 {
			step = 1
		}
		for i := 0; i < totalChunks && len(positions) < sampleSize; i += step {
			positions = append(positions, i)
		}
	}

	var chunks []core.Chunk
	for _, pos := range positions {
		chunk, ok, err := store.ChunkAt(ctx, pos)
		if err != nil {
			log.Printf("fetch chunk %d failed: %v", pos, err)
			continue
		}
		if ok {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
