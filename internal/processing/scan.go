package processing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-checker/internal/invoice"
)

// ScanResult is the outcome of scanning a directory. Batch is nil when no
// file could be processed.
type ScanResult struct {
	Batch     *Batch      `json:"batch,omitempty"`
	Documents []*Document `json:"documents"`
	Failed    []string    `json:"failed,omitempty"`
	Skipped   []string    `json:"skipped,omitempty"`
}

type scanFile struct {
	path        string
	name        string
	contentType string
}

// listInvoiceFiles returns the supported files in dir in name order
func listInvoiceFiles(dir string) ([]scanFile, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var (
		files   []scanFile
		skipped []string
	)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		ct, ok := contentTypeFor(name)
		if !ok {
			slog.Warn("Skipping unsupported file", "filename", name)
			skipped = append(skipped, name)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			slog.Warn("Skipping unreadable file", "filename", name, "error", err)
			skipped = append(skipped, name)
			continue
		}
		if info.Size() > MaxFileSize {
			slog.Warn("Skipping file that is too large", "filename", name, "size", info.Size())
			skipped = append(skipped, name)
			continue
		}
		files = append(files, scanFile{path: filepath.Join(dir, name), name: name, contentType: ct})
	}
	return files, skipped, nil
}

// ScanDirectory processes every supported invoice in dir with at most
// workers extractions in flight, then groups the processed documents into a
// batch. A failing file is logged and recorded in Failed; it does not stop
// the others.
func (s *Service) ScanDirectory(ctx context.Context, dir string, workers int) (*ScanResult, error) {
	files, skipped, err := listInvoiceFiles(dir)
	if err != nil {
		return nil, err
	}
	result := &ScanResult{Documents: []*Document{}, Skipped: skipped}
	if len(files) == 0 {
		slog.Warn("No invoice files found", "dir", dir)
		return result, nil
	}
	if workers < 1 {
		workers = 1
	}
	slog.Info("Scanning invoices", "dir", dir, "files", len(files), "workers", workers)

	docs := make([]*Document, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		g.Go(func() error {
			data, err := os.ReadFile(f.path)
			if err != nil {
				slog.Error("Failed to read invoice", "filename", f.name, "error", err)
				return nil
			}
			doc, err := s.ProcessInvoice(gctx, f.name, data, f.contentType)
			if err != nil {
				slog.Error("Failed to process invoice", "filename", f.name, "error", err)
				return nil
			}
			docs[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	ids := make([]string, 0, len(docs))
	for i, doc := range docs {
		if doc == nil {
			result.Failed = append(result.Failed, files[i].name)
			continue
		}
		ids = append(ids, doc.ID)
	}
	if len(ids) == 0 {
		return result, nil
	}

	batch, err := s.CreateBatch(ids)
	if err != nil {
		return nil, fmt.Errorf("creating batch: %w", err)
	}
	result.Batch = batch

	// reload so documents carry their batch id
	for _, id := range ids {
		doc, err := s.db.GetDocument(id)
		if err != nil {
			return nil, fmt.Errorf("getting document %s: %w", id, err)
		}
		result.Documents = append(result.Documents, doc)
	}
	return result, nil
}

// Result is the per-file output written by WriteResult
type Result struct {
	Source  string          `json:"source"`
	Record  json.RawMessage `json:"record,omitempty"`
	Raw     string          `json:"raw,omitempty"`
	Verdict invoice.Verdict `json:"verdict"`
}

// WriteResult writes <name>.json for a document into dir, keeping the source
// extension so a.pdf and a.png do not share a result, and returns the path
// written
func WriteResult(dir string, doc *Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}

	data, err := json.MarshalIndent(Result{
		Source:  doc.OriginalName,
		Record:  doc.Record,
		Raw:     doc.Raw,
		Verdict: doc.Verdict,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}

	name := filepath.Base(doc.OriginalName)
	ext := filepath.Ext(name)
	if strings.TrimSuffix(name, ext) == "" || name == "." || name == string(filepath.Separator) {
		name = doc.ID + ext
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}
