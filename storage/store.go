package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"videoInsight/config"
	"videoInsight/core"
)

// VectorStore holds the indexed chunks of one piece of content. A store is
// created on first ingestion and reopened, not rebuilt, afterwards.
type VectorStore interface {
	Add(ctx context.Context, chunks []core.Chunk) (int, error)
	// Search returns hits ordered by relevance; scores are cosine-style,
	// higher is better.
	Search(ctx context.Context, query string, topK int) ([]core.Hit, error)
	Count(ctx context.Context) (int, error)
	// ChunkAt fetches a chunk by its position in the transcript, for the
	// summarizer's evenly-spaced sampling.
	ChunkAt(ctx context.Context, index int) (core.Chunk, bool, error)
	Persist() error
	Close() error
}

// Embedder is the embedding capability used by every backend.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ---------------- OpenAI embedder ----------------

type OpenAIEmbedder struct {
	cli   *openai.Client
	model string
}

func NewOpenAIEmbedder(cli *openai.Client, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-ada-002"
	}
	return &OpenAIEmbedder{cli: cli, model: model}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %v", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

// ---------------- Local embedder (offline fallback) ----------------

// LocalEmbedder hashes terms into a fixed-dimension bag-of-words vector.
// Crude, but keeps search working without any API configured.
type LocalEmbedder struct {
	Dim int
}

func NewLocalEmbedder() *LocalEmbedder { return &LocalEmbedder{Dim: 256} }

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.Dim)
	for _, term := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(term))
		vec[int(h.Sum32())%e.Dim]++
	}
	return vec, nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// ---------------- Memory implementation (default, disk-persisted) ----------------

type MemoryVectorStore struct {
	contentID string
	path      string
	embedder  Embedder

	chunks  []core.Chunk
	vectors [][]float32
}

type memoryStoreFile struct {
	ContentID string       `json:"content_id"`
	Chunks    []core.Chunk `json:"chunks"`
	Vectors   [][]float32  `json:"vectors"`
}

func openMemoryStore(dataDir, contentID string, embedder Embedder) (*MemoryVectorStore, bool, error) {
	dir := filepath.Join(dataDir, "stores")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, false, fmt.Errorf("create store dir: %w", err)
	}
	s := &MemoryVectorStore{
		contentID: contentID,
		path:      filepath.Join(dir, contentID+".json"),
		embedder:  embedder,
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return s, false, nil
	}
	var file memoryStoreFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Printf("corrupt store file for %s, rebuilding: %v", contentID, err)
		return s, false, nil
	}
	s.chunks = file.Chunks
	s.vectors = file.Vectors
	return s, len(s.chunks) > 0, nil
}

func (s *MemoryVectorStore) Add(ctx context.Context, chunks []core.Chunk) (int, error) {
	added := 0
	for _, c := range chunks {
		vec, err := s.embedder.Embed(ctx, strings.ToLower(c.Content))
		if err != nil {
			log.Printf("embed chunk %d failed: %v", c.Index, err)
			continue
		}
		s.chunks = append(s.chunks, c)
		s.vectors = append(s.vectors, vec)
		added++
	}
	return added, nil
}

func (s *MemoryVectorStore) Search(ctx context.Context, query string, topK int) ([]core.Hit, error) {
	if len(s.chunks) == 0 {
		return nil, nil
	}
	qv, err := s.embedder.Embed(ctx, strings.ToLower(query))
	if err != nil {
		return nil, err
	}

	type scored struct {
		i     int
		score float64
	}
	scores := make([]scored, 0, len(s.chunks))
	for i, v := range s.vectors {
		scores = append(scores, scored{i, cosine(qv, v)})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	if topK <= 0 || topK > len(scores) {
		topK = len(scores)
	}
	hits := make([]core.Hit, 0, topK)
	for _, sc := range scores[:topK] {
		hits = append(hits, core.Hit{Chunk: s.chunks[sc.i], Score: sc.score})
	}
	return hits, nil
}

func (s *MemoryVectorStore) Count(ctx context.Context) (int, error) {
	return len(s.chunks), nil
}

func (s *MemoryVectorStore) ChunkAt(ctx context.Context, index int) (core.Chunk, bool, error) {
	for _, c := range s.chunks {
		if c.Index == index {
			return c, true, nil
		}
	}
	return core.Chunk{}, false, nil
}

func (s *MemoryVectorStore) Persist() error {
	data, err := json.Marshal(memoryStoreFile{
		ContentID: s.contentID,
		Chunks:    s.chunks,
		Vectors:   s.vectors,
	})
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("persist store: %w", err)
	}
	return nil
}

func (s *MemoryVectorStore) Close() error { return nil }

// ---------------- Factory ----------------

// Factory opens per-content stores on the backend selected by the STORE
// environment variable (memory, pgvector, milvus). A backend that cannot
// be reached falls back to the memory store rather than failing startup.
type Factory struct {
	cfg      *config.Config
	embedder Embedder
}

func NewFactory(cfg *config.Config, embedder Embedder) *Factory {
	return &Factory{cfg: cfg, embedder: embedder}
}

// Open returns the store for contentID and whether it already holds
// indexed chunks from a previous ingestion.
func (f *Factory) Open(ctx context.Context, contentID string) (VectorStore, bool, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("STORE")))
	switch backend {
	case "pgvector":
		s, existing, err := openPgVectorStore(ctx, f.cfg, contentID, f.embedder)
		if err == nil {
			return s, existing, nil
		}
		log.Printf("Warning: failed to open pgvector store (%v), falling back to memory store", err)
	case "milvus":
		s, existing, err := openMilvusStore(ctx, contentID, f.embedder)
		if err == nil {
			return s, existing, nil
		}
		log.Printf("Warning: failed to open Milvus store (%v), falling back to memory store", err)
	}
	return openMemoryStore(f.cfg.DataDir, contentID, f.embedder)
}
