package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solverai/companion/internal/domain"
	"github.com/solverai/companion/internal/rag"
	"github.com/solverai/companion/internal/repository"
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// IngestService owns uploaded document storage and drives the document
// status machine around the retriever's ingest/remove primitives:
// pending -> processing -> ready|error, with reingest re-entering
// processing from either terminal state.
type IngestService struct {
	documents  *repository.DocumentRepository
	retriever  *rag.Retriever
	storageDir string
	logger     *zap.Logger
}

// NewIngestService creates a new ingest service.
func NewIngestService(
	documents *repository.DocumentRepository,
	retriever *rag.Retriever,
	storageDir string,
	logger *zap.Logger,
) *IngestService {
	return &IngestService{
		documents:  documents,
		retriever:  retriever,
		storageDir: storageDir,
		logger:     logger,
	}
}

// supportedUpload gates uploads by extension or content type before
// anything is written.
func supportedUpload(filename, contentType string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".txt":
		return true
	}
	return contentType == "application/pdf" || contentType == "text/plain"
}

// Upload stores the file, creates the document row and ingests it
// synchronously. The returned document reflects the final status; a
// non-nil error accompanies status "error".
func (s *IngestService) Upload(ctx context.Context, filename, contentType string, content io.Reader) (*domain.Document, error) {
	if !supportedUpload(filename, contentType) {
		return nil, domain.ErrUnsupportedFormat
	}

	if err := os.MkdirAll(s.storageDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}

	docID := uuid.New().String()
	storedName := docID + "_" + unsafeFilenameChars.ReplaceAllString(filename, "_")
	storagePath := filepath.Join(s.storageDir, storedName)

	doc := &domain.Document{
		ID:               docID,
		OriginalFilename: filename,
		StoredFilename:   storedName,
		StoragePath:      storagePath,
		ContentType:      contentType,
		Status:           domain.DocumentStatusPending,
	}
	if err := s.documents.Create(doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	dst, err := os.Create(storagePath)
	if err != nil {
		return s.markError(doc, fmt.Errorf("create storage file: %w", err))
	}
	written, err := io.Copy(dst, content)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return s.markError(doc, fmt.Errorf("save upload: %w", err))
	}
	doc.SizeBytes = written

	doc.Status = domain.DocumentStatusProcessing
	if err := s.documents.Update(doc); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}

	return s.ingest(ctx, doc)
}

// Reingest reprocesses a stored document under the same id: prior index
// entries are removed first, so no chunks from the previous ingestion
// survive.
func (s *IngestService) Reingest(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := s.documents.Get(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	if _, err := os.Stat(doc.StoragePath); err != nil {
		return nil, fmt.Errorf("%w: stored file missing, re-upload required", domain.ErrInvalidRequest)
	}

	doc.Status = domain.DocumentStatusProcessing
	if err := s.documents.Update(doc); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}

	if _, err := s.retriever.RemoveDocument(ctx, documentID); err != nil {
		return s.markError(doc, err)
	}
	return s.ingest(ctx, doc)
}

// ingest runs the retriever and records the resulting status transition.
func (s *IngestService) ingest(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	chunks, err := s.retriever.IngestFile(ctx, doc.StoragePath, doc.ID)
	if err != nil {
		return s.markError(doc, err)
	}

	now := time.Now().UTC()
	doc.Status = domain.DocumentStatusReady
	doc.ChunkCount = chunks
	doc.Error = ""
	doc.IngestedAt = &now
	if err := s.documents.Update(doc); err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return doc, nil
}

// markError commits the error status and propagates the cause.
func (s *IngestService) markError(doc *domain.Document, cause error) (*domain.Document, error) {
	doc.Status = domain.DocumentStatusError
	doc.Error = cause.Error()
	if err := s.documents.Update(doc); err != nil {
		s.logger.Error("Failed to record document error",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}
	s.logger.Error("Document ingestion failed",
		zap.String("document_id", doc.ID),
		zap.Error(cause),
	)
	return doc, cause
}

// Delete removes a document from the index, disk and database, from any
// status. Returns the number of index entries removed.
func (s *IngestService) Delete(ctx context.Context, documentID string) (int, error) {
	doc, err := s.documents.Get(documentID)
	if err != nil {
		return 0, err
	}
	if doc == nil {
		return 0, domain.ErrNotFound
	}

	removed, err := s.retriever.RemoveDocument(ctx, documentID)
	if err != nil {
		return removed, err
	}

	if doc.StoragePath != "" {
		if err := os.Remove(doc.StoragePath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove stored file",
				zap.String("path", doc.StoragePath),
				zap.Error(err),
			)
		}
	}

	if err := s.documents.Delete(documentID); err != nil {
		return removed, err
	}
	return removed, nil
}

// Get returns a document by id.
func (s *IngestService) Get(documentID string) (*domain.Document, error) {
	doc, err := s.documents.Get(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

// List returns all documents, newest first.
func (s *IngestService) List() ([]*domain.Document, error) {
	return s.documents.List()
}
