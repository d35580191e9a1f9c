package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/zombor/cufe-tracker/internal/extraction"
	"github.com/zombor/cufe-tracker/internal/scanning"
)

const (
	maxMemory   = int64(64 << 20) // parts beyond this spill to temp files
	maxFileSize = int64(50 << 20)
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// jsonError writes an error response with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, scanning.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, scanning.ErrUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// serviceError logs unexpected failures and writes the mapped response
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, "Internal server error", code)
		return
	}
	jsonError(w, err.Error(), code)
}

// readFile reads one multipart file, enforcing the per-file size limit
func readFile(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxFileSize {
		return nil, fmt.Errorf("%w: %s is too large, maximum size is 50MB", ErrInvalidInput, fh.Filename)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
	}
	return data, nil
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCreateSession starts a new session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.CreateSession()
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// handleListSessions returns every session
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions()
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleGetSession returns a single session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleDeleteSession deletes a session and its documents
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(r.PathValue("id")); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// batchResponse reports a decoded batch alongside the updated session
type batchResponse struct {
	Session   *Session `json:"session"`
	Total     int      `json:"totalFiles"`
	Processed int      `json:"processedFiles"`
	Completed bool     `json:"completed"`
	Warning   string   `json:"warning,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// handleUploadDocuments decodes a batch of uploaded documents. Partial
// batches answer 206; transport failures answer 502/504 with whatever
// results were saved.
func (s *Server) handleUploadDocuments(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		jsonError(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	uploads := make([]scanning.Upload, 0, len(files))
	for _, fh := range files {
		data, err := readFile(fh)
		if err != nil {
			serviceError(w, r, err)
			return
		}
		uploads = append(uploads, scanning.Upload{
			FileName:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	sess, batch, err := s.service.ProcessDocuments(r.Context(), r.PathValue("id"), uploads)
	if err != nil && sess == nil {
		serviceError(w, r, err)
		return
	}

	resp := batchResponse{Session: sess, Total: len(uploads)}
	if batch != nil {
		resp.Total = batch.Total
		resp.Processed = batch.Processed
		resp.Completed = batch.Completed
		resp.Warning = batch.Warning
	}

	code := http.StatusOK
	switch {
	case err != nil:
		resp.Error = err.Error()
		code = statusFor(err)
	case !resp.Completed:
		code = http.StatusPartialContent
	}
	writeJSON(w, code, resp)
}

// handleRemoveDocuments removes the documents named by repeated ?name=
// parameters, or every document when none is given
func (s *Server) handleRemoveDocuments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	names := r.URL.Query()["name"]

	var (
		sess *Session
		err  error
	)
	if len(names) == 0 {
		sess, err = s.service.ClearRecords(id)
	} else {
		sess, err = s.service.RemoveRecords(id, names)
	}
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleProcessOCR transcribes documents of the session
func (s *Server) handleProcessOCR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileNames []string `json:"file_names"`
		Lang      string   `json:"lang"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			jsonError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	sess, err := s.service.ProcessOCR(r.Context(), r.PathValue("id"), req.FileNames, req.Lang)
	if err != nil {
		if sess == nil {
			serviceError(w, r, err)
			return
		}
		writeJSON(w, statusFor(err), map[string]any{"session": sess, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

// formFile reads the single "file" part of a multipart request
func formFile(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return "", nil, fmt.Errorf("%w: error parsing form", ErrInvalidInput)
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: no file provided", ErrInvalidInput)
	}
	f.Close()
	data, err := readFile(header)
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

// handleImportReference loads the reference ledger
func (s *Server) handleImportReference(w http.ResponseWriter, r *http.Request) {
	name, data, err := formFile(r)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	sess, err := s.service.ImportReference(r.PathValue("id"), name, data)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reference_file": sess.ReferenceFile,
		"headers":        sess.Reference.Headers,
		"rows":           len(sess.Reference.Rows),
	})
}

// handleClearReference drops the reference ledger
func (s *Server) handleClearReference(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.ClearReference(r.PathValue("id")); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListPatterns returns the pattern set
func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	set, err := s.service.Patterns(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, set)
}

// patternRequest reads the field from the path and the pattern from the body
func patternRequest(r *http.Request) (extraction.Field, extraction.Pattern, error) {
	field, err := extraction.ParseField(r.PathValue("field"))
	if err != nil {
		return "", extraction.Pattern{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	var p extraction.Pattern
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		return "", extraction.Pattern{}, fmt.Errorf("%w: invalid request body", ErrInvalidInput)
	}
	return field, p, nil
}

// handleAddPattern appends a pattern to a field's list
func (s *Server) handleAddPattern(w http.ResponseWriter, r *http.Request) {
	field, p, err := patternRequest(r)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	created, err := s.service.AddPattern(r.PathValue("id"), field, p)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleUpdatePattern replaces a pattern in place
func (s *Server) handleUpdatePattern(w http.ResponseWriter, r *http.Request) {
	field, p, err := patternRequest(r)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	updated, err := s.service.UpdatePattern(r.PathValue("id"), field, r.PathValue("patternID"), p)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleRemovePattern deletes a pattern
func (s *Server) handleRemovePattern(w http.ResponseWriter, r *http.Request) {
	field, err := extraction.ParseField(r.PathValue("field"))
	if err != nil {
		serviceError(w, r, fmt.Errorf("%w: %w", ErrInvalidInput, err))
		return
	}
	if err := s.service.RemovePattern(r.PathValue("id"), field, r.PathValue("patternID")); err != nil {
		serviceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImportPatterns merges the patterns of an uploaded workbook
func (s *Server) handleImportPatterns(w http.ResponseWriter, r *http.Request) {
	name, data, err := formFile(r)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	added, err := s.service.ImportPatterns(r.PathValue("id"), name, data)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": added})
}

// handleExportPatterns downloads the pattern workbook
func (s *Server) handleExportPatterns(w http.ResponseWriter, r *http.Request) {
	s.writeExport(w, r, "patterns")
}

// handleReconciliation returns the classification of the session's records
func (s *Server) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.Reconcile(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleReview returns the OCR review rows
func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.Review(r.PathValue("id"))
	if err != nil {
		serviceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleExport downloads a result workbook
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	s.writeExport(w, r, r.PathValue("kind"))
}

func (s *Server) writeExport(w http.ResponseWriter, r *http.Request, kind string) {
	exp, err := s.service.Export(r.PathValue("id"), kind)
	if err != nil {
		serviceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", exp.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.FileName))
	w.Write(exp.Data)
}
