package processing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
)

// maxRecordBody bounds the JSON accepted by /api/validate
const maxRecordBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedFile):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ErrEmptyBatch), errors.Is(err, ErrAlreadyBatched):
		return http.StatusConflict
	case errors.Is(err, ErrDuplicateDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrExtraction):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeServiceError answers with the status of err. Internal failures are
// logged and reported generically instead of with message.
func writeServiceError(w http.ResponseWriter, err error, message string) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Internal error", "error", err)
		message = "Internal server error"
	}
	writeError(w, code, message)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.ListDocuments()
	if err != nil {
		slog.Error("Error listing documents", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxFileSize+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB.")
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file")
		return
	}

	doc, err := s.service.ProcessInvoice(r.Context(), header.Filename, data, header.Header.Get("Content-Type"))
	if err != nil {
		slog.Error("Error processing invoice", "filename", header.Filename, "error", err)
		writeServiceError(w, err, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.GetDocument(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Invoice not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleGetDocumentFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetDocumentFile(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "File not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteDocument(r.PathValue("id")); err != nil {
		slog.Error("Error deleting document", "id", r.PathValue("id"), "error", err)
		writeServiceError(w, err, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	doc, err := s.service.Revalidate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleValidate validates a JSON body directly. Bodies that are not a
// JSON object still get a verdict rather than an HTTP error.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "Record is too large")
		return
	}
	writeJSON(w, http.StatusOK, s.service.ValidateRecord(r.Context(), body))
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.service.ListBatches()
	if err != nil {
		slog.Error("Error listing batches", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentIDs []string `json:"document_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	batch, err := s.service.CreateBatch(req.DocumentIDs)
	if err != nil {
		slog.Error("Error creating batch", "error", err)
		if errors.Is(err, ErrNotFound) {
			// an unknown id is a mistake in the request, not a missing route
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeServiceError(w, err, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, batch)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, docs, err := s.service.GetBatchWithDocuments(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "Batch not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batch":     batch,
		"documents": docs,
	})
}
