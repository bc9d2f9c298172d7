package domain

import "time"

// Document status constants
const (
	DocumentStatusPending    = "pending"
	DocumentStatusProcessing = "processing"
	DocumentStatusReady      = "ready"
	DocumentStatusError      = "error"
)

// Document represents an uploaded file tracked through ingestion.
type Document struct {
	ID               string     `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	StoredFilename   string     `json:"stored_filename"`
	StoragePath      string     `json:"-"`
	ContentType      string     `json:"content_type,omitempty"`
	SizeBytes        int64      `json:"size_bytes,omitempty"`
	Status           string     `json:"status"`
	ChunkCount       int        `json:"chunk_count"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	IngestedAt       *time.Time `json:"ingested_at,omitempty"`
}

// Chunk is a bounded text segment derived from a document, individually
// embedded and indexed. Chunks are not persisted as rows; identity is
// "{document_id}_{index}".
type Chunk struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	Source     string `json:"source"`
}
