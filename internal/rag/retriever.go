package rag

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/solverai/companion/internal/domain"
	"github.com/solverai/companion/internal/embedding"
)

// Retriever owns the vector-index lifecycle: ingestion, deletion and
// query-time retrieval. It composes the chunker, the embedder and the
// index, and guarantees chunk-id consistency across reingests.
//
// A single mutex serializes mutating operations (ingest, remove) so that
// concurrent reingest or delete of the same document cannot interleave
// index mutation and persistence; retrieval only takes the index's read
// lock.
type Retriever struct {
	mu        sync.Mutex
	chunker   *Chunker
	embedder  embedding.Embedder
	index     *VectorIndex
	indexPath string
	logger    *zap.Logger
}

// NewRetriever creates a retriever backed by the index persisted at
// indexPath. A missing directory starts with an uninitialized index.
func NewRetriever(chunker *Chunker, embedder embedding.Embedder, indexPath string, logger *zap.Logger) (*Retriever, error) {
	index := NewVectorIndex()
	if err := index.Load(indexPath); err != nil {
		return nil, fmt.Errorf("load vector index: %w", err)
	}
	if n := index.Len(); n > 0 {
		logger.Info("Loaded existing vector index",
			zap.String("path", indexPath),
			zap.Int("entries", n),
		)
	}
	return &Retriever{
		chunker:   chunker,
		embedder:  embedder,
		index:     index,
		indexPath: indexPath,
		logger:    logger,
	}, nil
}

// ChunkID builds the deterministic id for a chunk of a document.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_%d", documentID, index)
}

// IngestFile loads, chunks, embeds and indexes a file under documentID,
// then persists the index. Returns the number of chunks added; zero
// chunks is not an error and leaves the index untouched. Load, chunk or
// embed failures propagate to the caller, which is responsible for
// marking the document status.
func (r *Retriever) IngestFile(ctx context.Context, path, documentID string) (int, error) {
	text, err := LoadText(path)
	if err != nil {
		return 0, err
	}

	segments := r.chunker.Split(text)
	if len(segments) == 0 {
		r.logger.Warn("No text chunks found in document",
			zap.String("document_id", documentID),
			zap.String("path", path),
		)
		return 0, nil
	}

	vectors, err := r.embedder.EmbedBatch(ctx, segments)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	ids := make([]string, len(segments))
	chunks := make([]domain.Chunk, len(segments))
	for i, seg := range segments {
		ids[i] = ChunkID(documentID, i)
		chunks[i] = domain.Chunk{
			Text:       seg,
			DocumentID: documentID,
			ChunkIndex: i,
			Source:     path,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.index.Add(ids, vectors, chunks); err != nil {
		return 0, fmt.Errorf("index chunks: %w", err)
	}
	if err := r.index.Persist(r.indexPath); err != nil {
		return 0, fmt.Errorf("persist index: %w", err)
	}

	r.logger.Info("Ingested document",
		zap.String("document_id", documentID),
		zap.String("path", path),
		zap.Int("chunks", len(ids)),
	)
	return len(ids), nil
}

// Retrieve embeds the query and returns up to k chunks ranked by
// similarity. When documentIDs is non-empty, results are filtered to
// those documents while preserving rank order; the index is asked for
// 2k candidates to leave room for the filter. An uninitialized index
// yields an empty result, never an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, documentIDs []string) ([]domain.Chunk, error) {
	if r.index.Len() == 0 || k <= 0 {
		return nil, nil
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates := r.index.Search(vector, 2*k)

	if len(documentIDs) == 0 {
		if len(candidates) > k {
			candidates = candidates[:k]
		}
		return candidates, nil
	}

	scope := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		scope[id] = true
	}

	var filtered []domain.Chunk
	for _, chunk := range candidates {
		if scope[chunk.DocumentID] {
			filtered = append(filtered, chunk)
			if len(filtered) == k {
				break
			}
		}
	}
	return filtered, nil
}

// RemoveDocument deletes every index entry whose metadata names
// documentID, persists the index and returns the removed count.
// Unknown documents remove nothing; the operation is idempotent.
func (r *Retriever) RemoveDocument(ctx context.Context, documentID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var doomed []string
	for id, chunk := range r.index.Snapshot() {
		if chunk.DocumentID == documentID {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	removed := r.index.Delete(doomed)
	if err := r.index.Persist(r.indexPath); err != nil {
		return removed, fmt.Errorf("persist index: %w", err)
	}

	r.logger.Info("Removed document from index",
		zap.String("document_id", documentID),
		zap.Int("chunks_removed", removed),
	)
	return removed, nil
}
