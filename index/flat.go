// Package index holds the nearest-neighbor structures used for retrieval: an
// exact flat L2 index, the session-wide combined index with passage
// provenance, and per-document indices.
package index

import (
	"fmt"
	"math"
	"sort"
)

// NoMatch is the position reported for result slots that could not be
// filled. Callers must filter it before dereferencing.
const NoMatch = -1

type Hit struct {
	Position int
	Distance float32
}

// FlatL2 is a brute force index over squared Euclidean distance. It is built
// once from a batch of vectors and never updated in place.
type FlatL2 struct {
	dim     int
	vectors [][]float32
}

// NewFlatL2 builds an index over vectors. All vectors must share one dimension.
func NewFlatL2(vectors [][]float32) (*FlatL2, error) {
	idx := &FlatL2{}
	if len(vectors) == 0 {
		return idx, nil
	}
	idx.dim = len(vectors[0])
	if idx.dim == 0 {
		return nil, fmt.Errorf("index: zero-dimension vector")
	}
	idx.vectors = make([][]float32, len(vectors))
	for i, v := range vectors {
		if len(v) != idx.dim {
			return nil, fmt.Errorf("index: vector %d has dimension %d, want %d", i, len(v), idx.dim)
		}
		cp := make([]float32, len(v))
		copy(cp, v)
		idx.vectors[i] = cp
	}
	return idx, nil
}

func (f *FlatL2) Len() int { return len(f.vectors) }
func (f *FlatL2) Dim() int { return f.dim }

// Search returns exactly k hits ordered by non-decreasing distance. Ties keep
// insertion order. When k exceeds Len the tail is padded with NoMatch hits at
// math.MaxFloat32.
func (f *FlatL2) Search(query []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(f.vectors) > 0 && len(query) != f.dim {
		return nil, fmt.Errorf("index: query has dimension %d, want %d", len(query), f.dim)
	}

	hits := make([]Hit, len(f.vectors))
	for i, v := range f.vectors {
		hits[i] = Hit{Position: i, Distance: squaredL2(query, v)}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].Distance < hits[b].Distance
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	for len(hits) < k {
		hits = append(hits, Hit{Position: NoMatch, Distance: math.MaxFloat32})
	}
	return hits, nil
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
