package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"docqa/types"
)

var ErrNotFound = errors.New("document not found")

// DBStorer is the durable read/write contract for documents and their
// passages. SaveDocument writes a document and all of its chunks atomically.
type DBStorer interface {
	Init(context.Context) error
	SaveDocument(context.Context, types.Document) error
	GetDocumentByID(context.Context, string) (*types.Document, error)
	DeleteDocument(ctx context.Context, sessionID, docID string) error
	ListDocuments(context.Context) ([]types.Document, error)
	Close() error
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool: pool,
	}, nil
}

func (p *PostgresStore) Init(ctx context.Context) error {
	query := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		doc_id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		session_id TEXT NOT NULL,
		upload_time TIMESTAMP WITH TIME ZONE NOT NULL,
		chunk_count INTEGER NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id UUID PRIMARY KEY,
		doc_id TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
		chunk_index INT NOT NULL,
		content TEXT NOT NULL,
		embedding vector
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(doc_id);
	`
	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) SaveDocument(ctx context.Context, doc types.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (doc_id, filename, session_id, upload_time, chunk_count, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)`,
		doc.ID, doc.Filename, doc.SessionID, doc.UploadTime, len(doc.Chunks), string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, c := range doc.Chunks {
		var emb any
		if len(c.Embedding) > 0 {
			emb = pgvector.NewVector(c.Embedding)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO chunks (id, doc_id, chunk_index, content, embedding) VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), doc.ID, c.Index, c.Content, emb,
		)
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, docID string) (*types.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT doc_id, filename, session_id, upload_time, metadata FROM documents WHERE doc_id = $1`, docID)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT doc_id, chunk_index, content, embedding FROM chunks WHERE doc_id = $1 ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		doc.Chunks = append(doc.Chunks, c)
	}
	return &doc, rows.Err()
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, sessionID, docID string) error {
	tag, err := p.pool.Exec(ctx, "DELETE FROM documents WHERE doc_id = $1 AND session_id = $2", docID, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT doc_id, filename, session_id, upload_time, metadata FROM documents ORDER BY upload_time, doc_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	pos := make(map[string]int)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		pos[doc.ID] = len(docs)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chunkRows, err := p.pool.Query(ctx,
		`SELECT doc_id, chunk_index, content, embedding FROM chunks ORDER BY doc_id, chunk_index`)
	if err != nil {
		return nil, err
	}
	defer chunkRows.Close()

	for chunkRows.Next() {
		c, err := scanChunk(chunkRows)
		if err != nil {
			return nil, err
		}
		if i, ok := pos[c.DocID]; ok {
			docs[i].Chunks = append(docs[i].Chunks, c)
		}
	}
	return docs, chunkRows.Err()
}

func scanDocument(row pgx.Row) (types.Document, error) {
	var (
		doc  types.Document
		meta []byte
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.SessionID, &doc.UploadTime, &meta); err != nil {
		return doc, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return doc, fmt.Errorf("decode metadata for %s: %w", doc.ID, err)
		}
	}
	return doc, nil
}

func scanChunk(row pgx.Row) (types.Chunk, error) {
	var (
		c   types.Chunk
		vec *pgvector.Vector
	)
	if err := row.Scan(&c.DocID, &c.Index, &c.Content, &vec); err != nil {
		return c, err
	}
	if vec != nil {
		c.Embedding = vec.Slice()
	}
	return c, nil
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		slog.Info("[STORE] postgres connection pool is closed")
	}
	return nil
}
