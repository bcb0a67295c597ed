package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"videoInsight/core"
)

// MilvusVectorStore keeps chunks in a shared Milvus collection, scoped by
// content_id in every expression.
type MilvusVectorStore struct {
	mc        client.Client
	coll      string
	dim       int
	contentID string
	embedder  Embedder
}

func openMilvusStore(ctx context.Context, contentID string, embedder Embedder) (*MilvusVectorStore, bool, error) {
	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		addr = "localhost:19530"
	}
	coll := os.Getenv("MILVUS_COLLECTION")
	if coll == "" {
		coll = "transcript_chunks"
	}

	mc, err := client.NewClient(ctx, client.Config{
		Address:  addr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, false, fmt.Errorf("connect milvus: %w", err)
	}

	s := &MilvusVectorStore{mc: mc, coll: coll, dim: embeddingDim, contentID: contentID, embedder: embedder}
	if err := s.ensureSchemaAndIndex(ctx); err != nil {
		mc.Close()
		return nil, false, err
	}

	count, err := s.Count(ctx)
	if err != nil {
		log.Printf("Warning: failed to count existing chunks: %v", err)
		count = 0
	}
	return s, count > 0, nil
}

func (s *MilvusVectorStore) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema().WithName(s.coll)
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("content_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(128))
		schema.WithField(entity.NewField().WithName("chunk_index").WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("content").WithDataType(entity.FieldTypeVarChar).WithMaxLength(8192))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))

		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusVectorStore) expr() string {
	return fmt.Sprintf("content_id == \"%s\"", strings.ReplaceAll(s.contentID, "\"", "\\\""))
}

func (s *MilvusVectorStore) Add(ctx context.Context, chunks []core.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	contentIDs := make([]string, 0, len(chunks))
	indexes := make([]int64, 0, len(chunks))
	contents := make([]string, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))

	for _, c := range chunks {
		v, err := s.embedder.Embed(ctx, c.Content)
		if err != nil {
			log.Printf("embed chunk %d failed: %v", c.Index, err)
			continue
		}
		contentIDs = append(contentIDs, s.contentID)
		indexes = append(indexes, int64(c.Index))
		contents = append(contents, c.Content)
		vectors = append(vectors, v)
	}
	if len(vectors) == 0 {
		return 0, nil
	}

	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("content_id", contentIDs),
		entity.NewColumnInt64("chunk_index", indexes),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return 0, fmt.Errorf("milvus insert: %w", err)
	}
	return len(vectors), nil
}

func (s *MilvusVectorStore) Search(ctx context.Context, query string, topK int) ([]core.Hit, error) {
	v, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	sp, _ := entity.NewIndexHNSWSearchParam(74)
	res, err := s.mc.Search(ctx, s.coll, []string{}, s.expr(),
		[]string{"chunk_index", "content"},
		[]entity.Vector{entity.FloatVector(v)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("milvus search: %w", err)
	}

	var hits []core.Hit
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			var index int64
			var content string
			if c, ok := cols["chunk_index"].(*entity.ColumnInt64); ok {
				if data := c.Data(); i < len(data) {
					index = data[i]
				}
			}
			if c, ok := cols["content"].(*entity.ColumnVarChar); ok {
				if data := c.Data(); i < len(data) {
					content = data[i]
				}
			}
			hits = append(hits, core.Hit{
				Chunk: core.Chunk{ContentID: s.contentID, Index: int(index), Content: content},
				Score: float64(r.Scores[i]),
			})
		}
	}
	return hits, nil
}

func (s *MilvusVectorStore) Count(ctx context.Context) (int, error) {
	rs, err := s.mc.Query(ctx, s.coll, []string{}, s.expr(), []string{"chunk_index"})
	if err != nil {
		return 0, fmt.Errorf("milvus query: %w", err)
	}
	for _, col := range rs {
		if col.Name() == "chunk_index" {
			return col.Len(), nil
		}
	}
	return 0, nil
}

func (s *MilvusVectorStore) ChunkAt(ctx context.Context, index int) (core.Chunk, bool, error) {
	expr := fmt.Sprintf("%s && chunk_index == %d", s.expr(), index)
	rs, err := s.mc.Query(ctx, s.coll, []string{}, expr, []string{"content"})
	if err != nil {
		return core.Chunk{}, false, fmt.Errorf("milvus query: %w", err)
	}
	for _, col := range rs {
		if c, ok := col.(*entity.ColumnVarChar); ok && c.Name() == "content" && c.Len() > 0 {
			content, err := c.ValueByIdx(0)
			if err != nil {
				return core.Chunk{}, false, err
			}
			return core.Chunk{ContentID: s.contentID, Index: index, Content: content}, true, nil
		}
	}
	return core.Chunk{}, false, nil
}

// Persist is a no-op: Milvus owns durability.
func (s *MilvusVectorStore) Persist() error { return nil }

func (s *MilvusVectorStore) Close() error { return s.mc.Close() }
