package processing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zombor/invoice-checker/internal/invoice"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFile   = errors.New("unsupported file type")
	ErrFileTooLarge      = errors.New("file is too large")
	ErrEmptyBatch        = errors.New("at least one document is required")
	ErrAlreadyBatched    = errors.New("document already belongs to a batch")
	ErrDuplicateDocument = errors.New("document listed twice")
	ErrExtraction        = errors.New("extraction failed")
)

// MaxFileSize is the largest upload we send to a model
const MaxFileSize = 50 << 20

// Document is one uploaded invoice with what was extracted from it and the
// verdict on that extraction
type Document struct {
	ID           string          `json:"id"`
	OriginalName string          `json:"original_name"`
	Filename     string          `json:"filename"` // storage path
	ContentType  string          `json:"content_type"`
	Record       json.RawMessage `json:"record,omitempty"`
	Raw          string          `json:"raw,omitempty"` // model text when no record could be parsed
	Verdict      invoice.Verdict `json:"verdict"`
	BatchID      string          `json:"batch_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Batch groups documents that were scanned or reviewed together
type Batch struct {
	ID          string    `json:"id"`
	DocumentIDs []string  `json:"document_ids"`
	Valid       int       `json:"valid"`
	Invalid     int       `json:"invalid"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// claim joins doc to the batch and counts its verdict. A document already in
// a batch is refused.
func (b *Batch) claim(doc *Document) error {
	if doc.BatchID != "" {
		return fmt.Errorf("%w: %s is in batch %s", ErrAlreadyBatched, doc.ID, doc.BatchID)
	}
	doc.BatchID = b.ID
	doc.UpdatedAt = b.UpdatedAt
	if doc.Verdict.IsValid {
		b.Valid++
	} else {
		b.Invalid++
	}
	return nil
}
