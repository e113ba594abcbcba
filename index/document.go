package index

import (
	"context"
	"fmt"
	"strconv"

	chromem "github.com/philippgille/chromem-go"

	"docqa/model"
)

// Match is a per-document search result.
type Match struct {
	Entry
	Distance float32
}

// DocumentIndices keeps one chromem collection per document id, built from
// that document's passage embeddings only.
type DocumentIndices struct {
	db        *chromem.DB
	embedFunc chromem.EmbeddingFunc
}

func NewDocumentIndices(embedder model.Embedder) *DocumentIndices {
	return &DocumentIndices{
		db:        chromem.NewDB(),
		embedFunc: toChromemFunc(embedder),
	}
}

// Add builds the index for docID, replacing any previous one.
func (d *DocumentIndices) Add(ctx context.Context, docID, docName string, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("index: %d passages for %d vectors", len(texts), len(vectors))
	}
	if d.db.GetCollection(docID, d.embedFunc) != nil {
		if err := d.db.DeleteCollection(docID); err != nil {
			return fmt.Errorf("drop index for %s: %w", docID, err)
		}
	}

	col, err := d.db.CreateCollection(docID, map[string]string{"doc_name": docName}, d.embedFunc)
	if err != nil {
		return fmt.Errorf("create index for %s: %w", docID, err)
	}

	docs := make([]chromem.Document, len(texts))
	for i, text := range texts {
		emb := make([]float32, len(vectors[i]))
		copy(emb, vectors[i])
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   text,
			Embedding: emb,
			Metadata: map[string]string{
				"doc_id":      docID,
				"doc_name":    docName,
				"chunk_index": strconv.Itoa(i),
			},
		}
	}
	if len(docs) == 0 {
		return nil
	}
	if err := col.AddDocuments(ctx, docs, 1); err != nil {
		_ = d.db.DeleteCollection(docID)
		return fmt.Errorf("index passages for %s: %w", docID, err)
	}
	return nil
}

// Remove drops the index for docID. Unknown ids are not an error.
func (d *DocumentIndices) Remove(docID string) error {
	if d.db.GetCollection(docID, d.embedFunc) == nil {
		return nil
	}
	return d.db.DeleteCollection(docID)
}

func (d *DocumentIndices) Has(docID string) bool {
	return d.db.GetCollection(docID, d.embedFunc) != nil
}

// Len returns the number of per-document indices.
func (d *DocumentIndices) Len() int {
	return len(d.db.ListCollections())
}

// Search queries one document's index. Distances are squared L2 over unit
// vectors, comparable with the combined index.
func (d *DocumentIndices) Search(ctx context.Context, docID string, query []float32, k int) ([]Match, error) {
	col := d.db.GetCollection(docID, d.embedFunc)
	if col == nil || k <= 0 {
		return nil, nil
	}
	n := min(k, col.Count())
	if n == 0 {
		return nil, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	results, err := col.QueryEmbedding(ctx, q, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query index for %s: %w", docID, err)
	}

	out := make([]Match, 0, len(results))
	for _, r := range results {
		pos, _ := strconv.Atoi(r.Metadata["chunk_index"])
		out = append(out, Match{
			Entry: Entry{
				DocID:      r.Metadata["doc_id"],
				DocName:    r.Metadata["doc_name"],
				ChunkIndex: pos,
				Text:       r.Content,
			},
			Distance: 2 - 2*r.Similarity,
		})
	}
	return out, nil
}

func toChromemFunc(e model.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return model.EmbedOne(ctx, e, text)
	}
}
