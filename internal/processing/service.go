package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/invoice-checker/internal/invoice"
	"github.com/zombor/invoice-checker/internal/scanning"
)

// IDGenerator generates unique IDs for documents and batches
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Service handles invoice documents from upload to verdict
type Service struct {
	db          DB
	extractor   scanning.Extractor
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
	cache       VerdictCache
	publisher   Publisher
}

// Option configures optional Service collaborators
type Option func(*Service)

// WithCache routes validation through a verdict cache
func WithCache(cache VerdictCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithPublisher announces every new verdict
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates a Service with uuid ids and the system clock
func NewService(db DB, extractor scanning.Extractor, storage Storage, opts ...Option) *Service {
	return NewServiceWithDeps(db, extractor, storage, uuidGenerator{}, systemClock{}, opts...)
}

// NewServiceWithDeps creates a Service with custom dependencies for testing
func NewServiceWithDeps(db DB, extractor scanning.Extractor, storage Storage, idGen IDGenerator, timeSrc TimeSource, opts ...Option) *Service {
	s := &Service{
		db:          db,
		extractor:   extractor,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// SanitizeFilename strips a file name down to letters, digits, spaces,
// hyphens and underscores, keeping the extension. Phone cameras produce
// long names; the base is cut to 50 characters.
func SanitizeFilename(filename string) string {
	filename = filepath.Base(filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filename, filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaceRuns.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	const maxLen = 50
	if len(base) > maxLen {
		base = strings.TrimSpace(base[:maxLen])
	}
	if base == "" {
		base = "invoice"
	}
	return base + ext
}

// contentTypeFor falls back to a generic type for unknown extensions
func contentTypeFor(filename string) (string, bool) {
	if ct, ok := scanning.ContentTypeFor(filename); ok {
		return ct, true
	}
	return "application/octet-stream", false
}

// checkUpload resolves the content type of an upload and rejects files the
// extractors cannot read
func checkUpload(filename string, size int, contentType string) (string, error) {
	if size > MaxFileSize {
		return "", fmt.Errorf("%w: %.2fMB, maximum is %dMB", ErrFileTooLarge, float64(size)/(1<<20), MaxFileSize>>20)
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" || ct == "application/octet-stream" {
		ct, _ = contentTypeFor(filename)
	}
	if !scanning.Supported(ct) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFile, ct)
	}
	return ct, nil
}

// ProcessInvoice stores an upload, extracts it, validates the extraction and
// saves the resulting document
func (s *Service) ProcessInvoice(ctx context.Context, filename string, data []byte, contentType string) (*Document, error) {
	ct, err := checkUpload(filename, len(data), contentType)
	if err != nil {
		return nil, err
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, SanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	extraction, err := s.extractor.Extract(ctx, data, ct)
	switch {
	case errors.Is(err, scanning.ErrNoJSON):
		slog.Warn("No JSON in model response, keeping raw text", "filename", filename)
	case err != nil:
		slog.Error("Failed to extract invoice",
			"filename", filename,
			"content_type", ct,
			"file_size", len(data),
			"error", err,
		)
		s.removeFile(savedPath)
		return nil, fmt.Errorf("%w: %w", ErrExtraction, err)
	}
	if extraction == nil {
		extraction = &scanning.Extraction{}
	}

	doc := &Document{
		ID:           id,
		OriginalName: filepath.Base(filename),
		Filename:     savedPath,
		ContentType:  ct,
		Record:       extraction.Record,
		Raw:          extraction.Raw,
		Verdict:      s.validate(ctx, extraction.Record),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.db.SaveDocument(doc); err != nil {
		s.removeFile(savedPath)
		return nil, fmt.Errorf("saving document to database: %w", err)
	}

	slog.Info("Processed invoice",
		"id", doc.ID,
		"filename", doc.OriginalName,
		"valid", doc.Verdict.IsValid,
		"errors", doc.Verdict.TotalErrors,
	)
	s.publish(ctx, EventProcessed, doc)
	return doc, nil
}

func (s *Service) removeFile(path string) {
	if err := s.storage.Delete(path); err != nil {
		slog.Warn("Failed to delete file", "filename", path, "error", err)
	}
}

// ValidateRecord validates extracted JSON that did not come from an upload
func (s *Service) ValidateRecord(ctx context.Context, data []byte) invoice.Verdict {
	return s.validate(ctx, data)
}

// validate runs the validator through the cache when one is configured.
// Cache failures are logged and never change the verdict.
func (s *Service) validate(ctx context.Context, record []byte) invoice.Verdict {
	if s.cache == nil {
		return invoice.ValidateJSON(record)
	}

	key := cacheKey(record)
	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("Verdict cache lookup failed", "error", err)
	}
	if ok {
		return cached
	}

	verdict := invoice.ValidateJSON(record)
	if err := s.cache.Set(ctx, key, verdict); err != nil {
		slog.Warn("Verdict cache store failed", "error", err)
	}
	return verdict
}

func (s *Service) publish(ctx context.Context, kind string, doc *Document) {
	if s.publisher == nil {
		return
	}
	ev := Event{
		Type:       kind,
		DocumentID: doc.ID,
		BatchID:    doc.BatchID,
		Filename:   doc.OriginalName,
		Verdict:    doc.Verdict,
		At:         s.timeSource.Now(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("Failed to publish verdict", "id", doc.ID, "error", err)
	}
}

// Revalidate recomputes the verdict of a stored document
func (s *Service) Revalidate(ctx context.Context, id string) (*Document, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}

	// the record never changes after upload; only the verdict is written back
	doc, err = s.db.UpdateVerdict(id, s.validate(ctx, doc.Record), s.timeSource.Now())
	if err != nil {
		return nil, fmt.Errorf("saving verdict: %w", err)
	}

	s.publish(ctx, EventRevalidated, doc)
	return doc, nil
}

// GetDocument retrieves a document by ID
func (s *Service) GetDocument(id string) (*Document, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns all documents
func (s *Service) ListDocuments() ([]*Document, error) {
	docs, err := s.db.ListDocuments()
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document and its file. A document that belongs
// to a batch cannot be deleted.
func (s *Service) DeleteDocument(id string) error {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return fmt.Errorf("getting document for deletion: %w", err)
	}
	if doc.BatchID != "" {
		return fmt.Errorf("%w: %s is in batch %s", ErrAlreadyBatched, id, doc.BatchID)
	}

	s.removeFile(doc.Filename)

	if err := s.db.DeleteDocument(id); err != nil {
		return fmt.Errorf("deleting document from database: %w", err)
	}
	return nil
}

// GetDocumentFile returns the uploaded file of a document and its type
func (s *Service) GetDocumentFile(id string) ([]byte, string, error) {
	doc, err := s.db.GetDocument(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting document: %w", err)
	}

	data, err := s.storage.Get(doc.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting document file: %w", err)
	}
	return data, doc.ContentType, nil
}

// CreateBatch groups existing documents that are not yet in a batch
func (s *Service) CreateBatch(documentIDs []string) (*Batch, error) {
	if len(documentIDs) == 0 {
		return nil, ErrEmptyBatch
	}

	now := s.timeSource.Now()
	batch := &Batch{
		ID:          s.idGenerator.Generate(),
		DocumentIDs: documentIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	seen := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDocument, id)
		}
		seen[id] = true
	}

	if err := s.db.AssignBatch(batch); err != nil {
		return nil, fmt.Errorf("assigning batch: %w", err)
	}
	return batch, nil
}

// GetBatch retrieves a batch by ID
func (s *Service) GetBatch(id string) (*Batch, error) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return nil, fmt.Errorf("getting batch: %w", err)
	}
	return batch, nil
}

// GetBatchWithDocuments retrieves a batch along with its documents
func (s *Service) GetBatchWithDocuments(id string) (*Batch, []*Document, error) {
	batch, err := s.db.GetBatch(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting batch: %w", err)
	}

	docs := make([]*Document, 0, len(batch.DocumentIDs))
	for _, docID := range batch.DocumentIDs {
		doc, err := s.db.GetDocument(docID)
		if err != nil {
			return nil, nil, fmt.Errorf("getting document %s: %w", docID, err)
		}
		docs = append(docs, doc)
	}
	return batch, docs, nil
}

// ListBatches returns all batches
func (s *Service) ListBatches() ([]*Batch, error) {
	batches, err := s.db.ListBatches()
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	return batches, nil
}
