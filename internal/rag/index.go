package rag

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/solverai/companion/internal/domain"
)

// Persisted index layout: a flat similarity-search structure plus the
// id -> chunk docstore, rewritten together on every mutation and read
// together on load.
const (
	indexFile    = "index.json"
	docstoreFile = "docstore.json"
)

// VectorIndex is a similarity-searchable store of (id, vector, chunk)
// entries using exact squared Euclidean distance over a flat list.
// All access is guarded by a single RWMutex; callers never touch vectors
// directly, only Add/Delete/Search.
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	ids       []string
	vectors   [][]float32
	chunks    map[string]domain.Chunk
	positions map[string]int
}

// persistedIndex is the on-disk form of the flat search structure.
type persistedIndex struct {
	Dimension int         `json:"dimension"`
	IDs       []string    `json:"ids"`
	Vectors   [][]float32 `json:"vectors"`
}

// NewVectorIndex creates an empty, uninitialized index.
func NewVectorIndex() *VectorIndex {
	return &VectorIndex{
		chunks:    make(map[string]domain.Chunk),
		positions: make(map[string]int),
	}
}

// Len reports the number of stored entries.
func (ix *VectorIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

// Add appends entries. Ids must be unique against existing entries; a
// duplicate id is a caller error, not deduplicated silently.
func (ix *VectorIndex) Add(ids []string, vectors [][]float32, chunks []domain.Chunk) error {
	if len(ids) != len(vectors) || len(ids) != len(chunks) {
		return fmt.Errorf("ids, vectors and chunks length mismatch: %d/%d/%d",
			len(ids), len(vectors), len(chunks))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Validate the whole batch, including duplicates within it, before
	// touching any state; a rejected Add leaves the index unchanged.
	dimension := ix.dimension
	batch := make(map[string]bool, len(ids))
	for i, id := range ids {
		if _, exists := ix.positions[id]; exists || batch[id] {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateChunkID, id)
		}
		batch[id] = true
		if dimension == 0 {
			dimension = len(vectors[i])
		}
		if len(vectors[i]) != dimension {
			return fmt.Errorf("vector dimension mismatch: got %d, index has %d",
				len(vectors[i]), dimension)
		}
	}
	ix.dimension = dimension

	for i, id := range ids {
		ix.positions[id] = len(ix.ids)
		ix.ids = append(ix.ids, id)
		ix.vectors = append(ix.vectors, vectors[i])
		ix.chunks[id] = chunks[i]
	}
	return nil
}

// Search returns up to k chunks ranked by ascending squared Euclidean
// distance to the query vector, ties broken by insertion order. An
// uninitialized (empty) index returns no results, never an error.
func (ix *VectorIndex) Search(query []float32, k int) []domain.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.ids) == 0 || k <= 0 {
		return nil
	}

	order := make([]int, len(ix.ids))
	dists := make([]float32, len(ix.ids))
	for i := range ix.ids {
		order[i] = i
		dists[i] = squaredL2(ix.vectors[i], query)
	}
	sort.SliceStable(order, func(a, b int) bool {
		return dists[order[a]] < dists[order[b]]
	})

	if k > len(order) {
		k = len(order)
	}
	results := make([]domain.Chunk, 0, k)
	for _, pos := range order[:k] {
		results = append(results, ix.chunks[ix.ids[pos]])
	}
	return results
}

// Delete removes matching entries. Unknown ids are ignored, so the
// operation is idempotent. Returns the number of entries removed.
func (ix *VectorIndex) Delete(ids []string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	doomed := make(map[string]bool, len(ids))
	removed := 0
	for _, id := range ids {
		if _, exists := ix.positions[id]; exists && !doomed[id] {
			doomed[id] = true
			removed++
		}
	}
	if removed == 0 {
		return 0
	}

	keptIDs := make([]string, 0, len(ix.ids)-removed)
	keptVectors := make([][]float32, 0, len(ix.vectors)-removed)
	for i, id := range ix.ids {
		if doomed[id] {
			delete(ix.chunks, id)
			delete(ix.positions, id)
			continue
		}
		ix.positions[id] = len(keptIDs)
		keptIDs = append(keptIDs, id)
		keptVectors = append(keptVectors, ix.vectors[i])
	}
	ix.ids = keptIDs
	ix.vectors = keptVectors
	return removed
}

// Snapshot returns a copy of every stored chunk keyed by id, for
// metadata scans that must not hold the lock.
func (ix *VectorIndex) Snapshot() map[string]domain.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make(map[string]domain.Chunk, len(ix.chunks))
	for id, chunk := range ix.chunks {
		out[id] = chunk
	}
	return out
}

// Persist serializes the full index state to dir, rewriting the flat
// search structure and the docstore together.
func (ix *VectorIndex) Persist(dir string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	idx := persistedIndex{
		Dimension: ix.dimension,
		IDs:       ix.ids,
		Vectors:   ix.vectors,
	}
	idxData, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	storeData, err := json.Marshal(ix.chunks)
	if err != nil {
		return fmt.Errorf("marshal docstore: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, indexFile), idxData, 0644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, docstoreFile), storeData, 0644); err != nil {
		return fmt.Errorf("write docstore: %w", err)
	}
	return nil
}

// Load replaces the index state from dir. A missing directory or index
// file leaves the index uninitialized (empty) rather than failing.
func (ix *VectorIndex) Load(dir string) error {
	idxData, err := os.ReadFile(filepath.Join(dir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}
	storeData, err := os.ReadFile(filepath.Join(dir, docstoreFile))
	if err != nil {
		return fmt.Errorf("read docstore: %w", err)
	}

	var idx persistedIndex
	if err := json.Unmarshal(idxData, &idx); err != nil {
		return fmt.Errorf("unmarshal index: %w", err)
	}
	chunks := make(map[string]domain.Chunk)
	if err := json.Unmarshal(storeData, &chunks); err != nil {
		return fmt.Errorf("unmarshal docstore: %w", err)
	}
	if len(idx.IDs) != len(idx.Vectors) {
		return fmt.Errorf("corrupt index: %d ids, %d vectors", len(idx.IDs), len(idx.Vectors))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.dimension = idx.Dimension
	ix.ids = idx.IDs
	ix.vectors = idx.Vectors
	ix.chunks = chunks
	ix.positions = make(map[string]int, len(idx.IDs))
	for i, id := range idx.IDs {
		ix.positions[id] = i
	}
	return nil
}

func squaredL2(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
