package index

import (
	"fmt"
)

// Entry is the provenance of one indexed passage.
type Entry struct {
	DocID      string
	DocName    string
	ChunkIndex int
	Text       string
}

// Combined spans every passage of every document in a session. Position i in
// the flat index corresponds to Entries[i].
type Combined struct {
	flat    *FlatL2
	entries []Entry
}

func NewCombined(entries []Entry, vectors [][]float32) (*Combined, error) {
	if len(entries) != len(vectors) {
		return nil, fmt.Errorf("index: %d entries for %d vectors", len(entries), len(vectors))
	}
	flat, err := NewFlatL2(vectors)
	if err != nil {
		return nil, err
	}
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Combined{flat: flat, entries: cp}, nil
}

func (c *Combined) Len() int { return len(c.entries) }

// Entries returns a copy of the provenance array in index order.
func (c *Combined) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup maps an index position back to its passage. Positions outside the
// index, including NoMatch, report false.
func (c *Combined) Lookup(pos int) (Entry, bool) {
	if pos < 0 || pos >= len(c.entries) {
		return Entry{}, false
	}
	return c.entries[pos], true
}

func (c *Combined) Search(query []float32, k int) ([]Hit, error) {
	return c.flat.Search(query, k)
}
