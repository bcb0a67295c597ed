package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"videoInsight/config"
	"videoInsight/core"
)

const embeddingDim = 1536

// PgVectorStore keeps chunks in PostgreSQL with pgvector cosine search.
// All rows are scoped by content_id, so different videos never contend.
type PgVectorStore struct {
	conn      *pgx.Conn
	contentID string
	embedder  Embedder
}

func openPgVectorStore(ctx context.Context, cfg *config.Config, contentID string, embedder Embedder) (*PgVectorStore, bool, error) {
	conn, err := pgx.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, false, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, false, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PgVectorStore{conn: conn, contentID: contentID, embedder: embedder}
	if err := s.ensureTable(ctx); err != nil {
		conn.Close(ctx)
		return nil, false, err
	}

	count, err := s.Count(ctx)
	if err != nil {
		conn.Close(ctx)
		return nil, false, err
	}
	return s, count > 0, nil
}

func (s *PgVectorStore) ensureTable(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS transcript_chunks (
			id SERIAL PRIMARY KEY,
			content_id VARCHAR(255) NOT NULL,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(content_id, chunk_index)
		);
	`, embeddingDim)
	if _, err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create transcript_chunks table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_transcript_chunks_content_id ON transcript_chunks(content_id);",
		"CREATE INDEX IF NOT EXISTS idx_transcript_chunks_content_chunk ON transcript_chunks(content_id, chunk_index);",
	}
	for _, indexQuery := range indexes {
		if _, err := s.conn.Exec(ctx, indexQuery); err != nil {
			log.Printf("Warning: failed to create index: %v", err)
		}
	}
	return nil
}

func (s *PgVectorStore) Add(ctx context.Context, chunks []core.Chunk) (int, error) {
	added := 0
	for _, c := range chunks {
		vec, err := s.embedder.Embed(ctx, c.Content)
		if err != nil {
			log.Printf("embed chunk %d failed: %v", c.Index, err)
			continue
		}
		_, err = s.conn.Exec(ctx, `
			INSERT INTO transcript_chunks (content_id, chunk_index, content, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (content_id, chunk_index)
			DO UPDATE SET content = EXCLUDED.content, embedding = EXCLUDED.embedding
		`, s.contentID, c.Index, c.Content, pgvector.NewVector(vec))
		if err != nil {
			return added, fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
		added++
	}
	return added, nil
}

func (s *PgVectorStore) Search(ctx context.Context, query string, topK int) ([]core.Hit, error) {
	qv, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	rows, err := s.conn.Query(ctx, `
		SELECT chunk_index, content, 1 - (embedding <=> $1) AS score
		FROM transcript_chunks
		WHERE content_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(qv), s.contentID, topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var hits []core.Hit
	for rows.Next() {
		var index int
		var content string
		var score float64
		if err := rows.Scan(&index, &content, &score); err != nil {
			return nil, err
		}
		hits = append(hits, core.Hit{
			Chunk: core.Chunk{ContentID: s.contentID, Index: index, Content: content},
			Score: score,
		})
	}
	return hits, rows.Err()
}

func (s *PgVectorStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRow(ctx, "SELECT COUNT(*) FROM transcript_chunks WHERE content_id = $1", s.contentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

func (s *PgVectorStore) ChunkAt(ctx context.Context, index int) (core.Chunk, bool, error) {
	var content string
	err := s.conn.QueryRow(ctx,
		"SELECT content FROM transcript_chunks WHERE content_id = $1 AND chunk_index = $2",
		s.contentID, index).Scan(&content)
	if err == pgx.ErrNoRows {
		return core.Chunk{}, false, nil
	}
	if err != nil {
		return core.Chunk{}, false, err
	}
	return core.Chunk{ContentID: s.contentID, Index: index, Content: content}, true, nil
}

// Persist is a no-op: every insert is already durable in PostgreSQL.
func (s *PgVectorStore) Persist() error { return nil }

func (s *PgVectorStore) Close() error {
	return s.conn.Close(context.Background())
}
