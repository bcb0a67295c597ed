package storage

import (
	"context"
	"fmt"
	"log"

	"videoInsight/core"
)

const (
	// DefaultChunkSize and DefaultChunkOverlap size the retrieval windows.
	// The overlap is large enough that a fact cut at one chunk boundary
	// appears whole in a neighboring chunk.
	DefaultChunkSize    = 5000
	DefaultChunkOverlap = 1000
)

// SplitText cuts text into chunks of at most chunkSize characters with the
// given overlap between consecutive chunks.
func SplitText(text string, chunkSize, overlap int) []string {
	if text == "" {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	step := chunkSize - overlap
	var chunks []string
	for start := 0; start < len(text); start += step {
		end := start + chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}

// Indexer builds the per-content vector store from transcripts.
type Indexer struct {
	Factory   *Factory
	ChunkSize int
	Overlap   int
}

func NewIndexer(factory *Factory) *Indexer {
	return &Indexer{Factory: factory, ChunkSize: DefaultChunkSize, Overlap: DefaultChunkOverlap}
}

// Index opens or builds the store for contentID. An existing store is
// returned untouched: repeat ingestion of the same content costs nothing.
func (ix *Indexer) Index(ctx context.Context, contentID, transcript string) (VectorStore, bool, error) {
	store, existing, err := ix.Factory.Open(ctx, contentID)
	if err != nil {
		return nil, false, err
	}
	if existing {
		return store, true, nil
	}

	chunks := ix.toChunks(contentID, 0, transcript)
	if _, err := store.Add(ctx, chunks); err != nil {
		return nil, false, fmt.Errorf("index transcript: %w", err)
	}
	if err := store.Persist(); err != nil {
		return nil, false, err
	}
	return store, false, nil
}

// IndexSegments chunks and embeds segment by segment, persisting after each
// increment so a crash mid-indexing keeps prior progress. Used for long
// transcripts instead of materializing one giant string of chunks.
func (ix *Indexer) IndexSegments(ctx context.Context, contentID string, segments []string, progress core.Progress) (VectorStore, bool, error) {
	progress = core.EnsureProgress(progress)

	store, existing, err := ix.Factory.Open(ctx, contentID)
	if err != nil {
		return nil, false, err
	}
	if existing {
		progress("Indexing", 100, "Using existing index", 0)
		return store, true, nil
	}

	nextIndex := 0
	for i, segment := range segments {
		chunks := ix.toChunks(contentID, nextIndex, segment)
		nextIndex += len(chunks)

		if _, err := store.Add(ctx, chunks); err != nil {
			return nil, false, fmt.Errorf("index segment %d: %w", i, err)
		}
		if err := store.Persist(); err != nil {
			log.Printf("persist after segment %d failed: %v", i, err)
		}
		progress("Indexing", float64(i+1)/float64(len(segments))*100, fmt.Sprintf("Indexed segment %d/%d", i+1, len(segments)), -1)
	}
	return store, false, nil
}

func (ix *Indexer) toChunks(contentID string, startIndex int, text string) []core.Chunk {
	parts := SplitText(text, ix.ChunkSize, ix.Overlap)
	chunks := make([]core.Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = core.Chunk{ContentID: contentID, Index: startIndex + i, Content: p}
	}
	return chunks
}
