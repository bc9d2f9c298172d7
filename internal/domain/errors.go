package domain

import "errors"

var (
	// ErrNotFound indicates resource not found
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidRequest indicates invalid request
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUnsupportedFormat indicates an ingestion file type outside txt/pdf.
	// Raised before any index mutation.
	ErrUnsupportedFormat = errors.New("unsupported file format, only PDF and TXT are supported")
	// ErrDuplicateChunkID indicates an index add with an id that already exists
	ErrDuplicateChunkID = errors.New("duplicate chunk id")
	// ErrNoProvider indicates the primary provider is unreachable and no
	// fallback credential is configured. Generation cannot proceed.
	ErrNoProvider = errors.New("no LLM provider available: primary unreachable and no fallback configured")
)
