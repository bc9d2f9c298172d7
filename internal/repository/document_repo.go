package repository

import (
	"database/sql"
	"time"

	"github.com/solverai/companion/internal/domain"
)

// DocumentRepository handles document metadata persistence
type DocumentRepository struct {
	db *DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document row
func (r *DocumentRepository) Create(doc *domain.Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.DocumentStatusPending
	}

	_, err := r.db.Exec(`
		INSERT INTO documents (id, original_filename, stored_filename, storage_path,
			content_type, size_bytes, status, chunk_count, error, created_at, updated_at, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.OriginalFilename, doc.StoredFilename, doc.StoragePath,
		doc.ContentType, doc.SizeBytes, doc.Status, doc.ChunkCount,
		nullString(doc.Error), doc.CreatedAt, doc.UpdatedAt, doc.IngestedAt)

	return err
}

// Get retrieves a document by ID, nil when absent
func (r *DocumentRepository) Get(id string) (*domain.Document, error) {
	row := r.db.QueryRow(`
		SELECT id, original_filename, stored_filename, storage_path, content_type,
			size_bytes, status, chunk_count, error, created_at, updated_at, ingested_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// List retrieves all documents, newest first
func (r *DocumentRepository) List() ([]*domain.Document, error) {
	rows, err := r.db.Query(`
		SELECT id, original_filename, stored_filename, storage_path, content_type,
			size_bytes, status, chunk_count, error, created_at, updated_at, ingested_at
		FROM documents ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Update rewrites a document's mutable ingestion fields
func (r *DocumentRepository) Update(doc *domain.Document) error {
	doc.UpdatedAt = time.Now().UTC()

	res, err := r.db.Exec(`
		UPDATE documents
		SET status = ?, chunk_count = ?, error = ?, size_bytes = ?,
			storage_path = ?, updated_at = ?, ingested_at = ?
		WHERE id = ?
	`, doc.Status, doc.ChunkCount, nullString(doc.Error), doc.SizeBytes,
		doc.StoragePath, doc.UpdatedAt, doc.IngestedAt, doc.ID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a document row
func (r *DocumentRepository) Delete(id string) error {
	res, err := r.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*domain.Document, error) {
	doc := &domain.Document{}
	var contentType, errMsg sql.NullString
	var sizeBytes sql.NullInt64
	var ingestedAt sql.NullTime

	err := row.Scan(&doc.ID, &doc.OriginalFilename, &doc.StoredFilename,
		&doc.StoragePath, &contentType, &sizeBytes, &doc.Status,
		&doc.ChunkCount, &errMsg, &doc.CreatedAt, &doc.UpdatedAt, &ingestedAt)
	if err != nil {
		return nil, err
	}

	if contentType.Valid {
		doc.ContentType = contentType.String
	}
	if sizeBytes.Valid {
		doc.SizeBytes = sizeBytes.Int64
	}
	if errMsg.Valid {
		doc.Error = errMsg.String
	}
	if ingestedAt.Valid {
		t := ingestedAt.Time
		doc.IngestedAt = &t
	}

	return doc, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
