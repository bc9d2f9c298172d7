package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solverai/companion/internal/domain"
	"github.com/solverai/companion/internal/embedding"
	"github.com/solverai/companion/internal/rag"
	"github.com/solverai/companion/internal/repository"
)

// failingEmbedder simulates an embedding provider outage.
type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("embedding provider down")
}

func (failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("embedding provider down")
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newTestDocumentRepo(t *testing.T) *repository.DocumentRepository {
	t.Helper()
	db, err := repository.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repository.NewDocumentRepository(db)
}

func newTestIngestService(t *testing.T, embedder embedding.Embedder) *IngestService {
	t.Helper()
	indexPath := filepath.Join(t.TempDir(), "vector_db")
	retriever, err := rag.NewRetriever(rag.NewChunker(1000, 0), embedder, indexPath, zap.NewNop())
	require.NoError(t, err)
	return NewIngestService(newTestDocumentRepo(t), retriever, t.TempDir(), zap.NewNop())
}

func TestUploadTxtDocument(t *testing.T) {
	s := newTestIngestService(t, fixedEmbedder{})
	content := "hello document content"

	doc, err := s.Upload(context.Background(), "notes.txt", "text/plain", strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusReady, doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.Equal(t, int64(len(content)), doc.SizeBytes)
	assert.Equal(t, "notes.txt", doc.OriginalFilename)
	require.NotNil(t, doc.IngestedAt)

	// The stored file lives under the document id.
	assert.True(t, strings.HasPrefix(doc.StoredFilename, doc.ID+"_"))
	_, err = os.Stat(doc.StoragePath)
	require.NoError(t, err)

	stored, err := s.Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusReady, stored.Status)
	assert.Equal(t, 1, stored.ChunkCount)
}

func TestUploadUnsupportedFormat(t *testing.T) {
	s := newTestIngestService(t, fixedEmbedder{})

	_, err := s.Upload(context.Background(), "report.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		strings.NewReader("binary"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	// Rejected uploads leave no document behind.
	docs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestUploadSanitizesFilename(t *testing.T) {
	s := newTestIngestService(t, fixedEmbedder{})

	doc, err := s.Upload(context.Background(), "my file (1).txt", "text/plain",
		strings.NewReader("some text"))
	require.NoError(t, err)
	assert.Equal(t, doc.ID+"_my_file__1_.txt", doc.StoredFilename)
	assert.Equal(t, "my file (1).txt", doc.OriginalFilename)
}

func TestUploadEmptyFile(t *testing.T) {
	s := newTestIngestService(t, fixedEmbedder{})

	doc, err := s.Upload(context.Background(), "blank.txt", "text/plain",
		strings.NewReader("   \n\n  "))
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusReady, doc.Status)
	assert.Equal(t, 0, doc.ChunkCount)
}

func TestUploadEmbeddingFailureMarksError(t *testing.T) {
	s := newTestIngestService(t, failingEmbedder{})

	doc, err := s.Upload(context.Background(), "notes.txt", "text/plain",
		strings.NewReader("some content"))
	require.Error(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, domain.DocumentStatusError, doc.Status)
	assert.NotEmpty(t, doc.Error)

	stored, getErr := s.Get(doc.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.DocumentStatusError, stored.Status)
}

func TestReingest(t *testing.T) {
	s := newTestIngestService(t, fixedEmbedder{})
	ctx := context.Background()

	doc, err := s.Upload(ctx, "notes.txt", "text/plain", strings.NewReader("some content here"))
	require.NoError(t, err)

	reingested, err := s.Reingest(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusReady, reingested.Status)
	assert.Equal(t, doc.ChunkCount, reingested.ChunkCount)

	// No entries from the first pass survive: deleting the document
	// removes exactly one ingestion's worth of chunks.
	removed, err := s.Delete(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, reingested.ChunkCount, removed)
}

func TestReingestUnknownDocument(t *testing.T) {
	s := newTestIngestService(t, fixedEmbedder{})

	_, err := s.Reingest(context.Background(), "no-such-doc")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReingestMissingStoredFile(t *testing.T) {
	s := newTestIngestService(t, fixedEmbedder{})
	ctx := context.Background()

	doc, err := s.Upload(ctx, "notes.txt", "text/plain", strings.NewReader("some content"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(doc.StoragePath))

	_, err = s.Reingest(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestDeleteDocument(t *testing.T) {
	s := newTestIngestService(t, fixedEmbedder{})
	ctx := context.Background()

	doc, err := s.Upload(ctx, "notes.txt", "text/plain", strings.NewReader("some content"))
	require.NoError(t, err)

	removed, err := s.Delete(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ChunkCount, removed)

	_, err = os.Stat(doc.StoragePath)
	assert.True(t, os.IsNotExist(err))

	_, err = s.Get(doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Delete(ctx, doc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListDocuments(t *testing.T) {
	s := newTestIngestService(t, fixedEmbedder{})
	ctx := context.Background()

	_, err := s.Upload(ctx, "one.txt", "text/plain", strings.NewReader("first"))
	require.NoError(t, err)
	_, err = s.Upload(ctx, "two.txt", "text/plain", strings.NewReader("second"))
	require.NoError(t, err)

	docs, err := s.List()
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}
