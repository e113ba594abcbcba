package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"docqa/types"
)

// Fixed width so upload times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	doc_id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	session_id TEXT NOT NULL,
	upload_time TEXT NOT NULL,
	chunk_count INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id);

CREATE TABLE IF NOT EXISTS chunks (
	doc_id TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB,
	PRIMARY KEY (doc_id, chunk_index)
);
`

// SQLiteStore is the default durable store. Embeddings are kept as
// little-endian float32 blobs.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the database at path. ":memory:" gives a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	memory := path == ":memory:"
	dsn := path
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	} else {
		dsn += "?_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc types.Document) error {
	meta, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (doc_id, filename, session_id, upload_time, chunk_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.SessionID, doc.UploadTime.UTC().Format(timeLayout), len(doc.Chunks), string(meta),
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (doc_id, chunk_index, content, embedding) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range doc.Chunks {
		if _, err := stmt.ExecContext(ctx, doc.ID, c.Index, c.Content, encodeVector(c.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetDocumentByID(ctx context.Context, docID string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc_id, filename, session_id, upload_time, metadata FROM documents WHERE doc_id = ?`, docID)
	doc, err := scanSQLiteDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, chunk_index, content, embedding FROM chunks WHERE doc_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanSQLiteChunk(rows)
		if err != nil {
			return nil, err
		}
		doc.Chunks = append(doc.Chunks, c)
	}
	return &doc, rows.Err()
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, sessionID, docID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ? AND session_id = ?`, docID, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]types.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, filename, session_id, upload_time, metadata FROM documents ORDER BY upload_time, doc_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []types.Document
	pos := make(map[string]int)
	for rows.Next() {
		doc, err := scanSQLiteDocument(rows)
		if err != nil {
			return nil, err
		}
		pos[doc.ID] = len(docs)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	chunkRows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, chunk_index, content, embedding FROM chunks ORDER BY doc_id, chunk_index`)
	if err != nil {
		return nil, err
	}
	defer chunkRows.Close()
	for chunkRows.Next() {
		c, err := scanSQLiteChunk(chunkRows)
		if err != nil {
			return nil, err
		}
		if i, ok := pos[c.DocID]; ok {
			docs[i].Chunks = append(docs[i].Chunks, c)
		}
	}
	return docs, chunkRows.Err()
}

func (s *SQLiteStore) Close() error {
	slog.Info("[STORE] sqlite database is closed", "path", s.path)
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDocument(row rowScanner) (types.Document, error) {
	var (
		doc      types.Document
		uploaded string
		meta     string
	)
	if err := row.Scan(&doc.ID, &doc.Filename, &doc.SessionID, &uploaded, &meta); err != nil {
		return doc, err
	}
	t, err := time.Parse(timeLayout, uploaded)
	if err != nil {
		return doc, fmt.Errorf("parse upload time for %s: %w", doc.ID, err)
	}
	doc.UploadTime = t
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return doc, fmt.Errorf("decode metadata for %s: %w", doc.ID, err)
		}
	}
	return doc, nil
}

func scanSQLiteChunk(row rowScanner) (types.Chunk, error) {
	var (
		c    types.Chunk
		blob []byte
	)
	if err := row.Scan(&c.DocID, &c.Index, &c.Content, &blob); err != nil {
		return c, err
	}
	c.Embedding = decodeVector(blob)
	return c, nil
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
