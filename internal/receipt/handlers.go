package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/zombor/spend-tracker/internal/expense"
	"github.com/zombor/spend-tracker/internal/pipeline"
)

// maxFormSize allows high-resolution phone photos
const maxFormSize = int64(50 << 20)

const tooLargeMessage = "File is too large. Maximum size is 50MB. Please compress or resize your image."

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

// pipelineStatus maps user-visible pipeline errors to HTTP status codes
func pipelineStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrDuplicateScan):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNoOwner):
		return http.StatusUnauthorized
	case errors.Is(err, pipeline.ErrCommitFailed):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrScanCanceled):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrNoItems), errors.Is(err, ErrInvalidPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func pipelineMessage(err error) string {
	switch {
	case errors.Is(err, pipeline.ErrDuplicateScan):
		return pipeline.ErrDuplicateScan.Error()
	case errors.Is(err, pipeline.ErrNoOwner):
		return "Sign in to save expenses."
	case errors.Is(err, pipeline.ErrCommitFailed):
		return "Your expenses could not be saved. Please try again."
	case errors.Is(err, pipeline.ErrScanCanceled):
		return pipeline.ErrScanCanceled.Error()
	case errors.Is(err, ErrNoItems), errors.Is(err, ErrInvalidPath):
		return err.Error()
	default:
		return "Internal server error"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScanReceipt handles receipt upload and scanning
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize+(1<<20))
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		message := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			message = tooLargeMessage
		}
		writeError(w, http.StatusBadRequest, message)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		message := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			message = "No file was selected. Please choose a file to upload."
		}
		writeError(w, http.StatusBadRequest, message)
		return
	}
	defer f.Close()

	if header.Size > maxFormSize {
		writeError(w, http.StatusBadRequest, tooLargeMessage)
		return
	}

	mode, err := pipeline.ParseMode(r.FormValue("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	single := false
	if v := r.FormValue("single"); v != "" {
		single, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "single must be true or false")
			return
		}
	}

	var modified time.Time
	if v := r.FormValue("last_modified"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "last_modified must be unix milliseconds")
			return
		}
		modified = time.UnixMilli(ms)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
		return
	}

	result, err := s.service.ScanReceipt(r.Context(), OwnerFromContext(r.Context()), Upload{
		Filename:    header.Filename,
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
		Modified:    modified,
		Mode:        mode,
		Single:      single,
	})
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		body := map[string]any{"error": pipelineMessage(err)}
		if result != nil && len(result.Expenses) > 0 {
			body["expenses"] = result.Expenses
		}
		writeJSON(w, pipelineStatus(err), body)
		return
	}

	code := http.StatusOK
	if result.Committed {
		code = http.StatusCreated
	}
	writeJSON(w, code, result)
}

// handleScanStatus reports an in-flight scan
func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	status, ok := s.service.ScanStatus(r.PathValue("fingerprint"))
	if !ok {
		writeError(w, http.StatusNotFound, "Scan not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// handleCancelScan closes an in-flight scan
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	if !s.service.CancelScan(r.PathValue("fingerprint")) {
		writeError(w, http.StatusNotFound, "Scan not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCommitExpenses saves reviewed items from a manual scan
func (s *Server) handleCommitExpenses(w http.ResponseWriter, r *http.Request) {
	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	expenses, err := s.service.CommitItems(r.Context(), OwnerFromContext(r.Context()), req)
	if err != nil {
		slog.Error("Error committing expenses", "items", len(req.Items), "error", err)
		body := map[string]any{"error": pipelineMessage(err)}
		if len(expenses) > 0 {
			body["expenses"] = expenses
		}
		writeJSON(w, pipelineStatus(err), body)
		return
	}
	writeJSON(w, http.StatusCreated, expenses)
}

// handleListExpenses returns the caller's expenses
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := s.service.ListExpenses(r.Context(), OwnerFromContext(r.Context()))
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, expenses)
}

// handleGetExpense returns a single expense
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	e, err := s.service.GetExpense(r.Context(), OwnerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		s.expenseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleDeleteExpense deletes an expense
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteExpense(r.Context(), OwnerFromContext(r.Context()), r.PathValue("id")); err != nil {
		s.expenseError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile returns the receipt image an expense came from
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.Context(), OwnerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNoReceiptFile) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		s.expenseError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Categories())
}

func (s *Server) expenseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, expense.ErrNotFound):
		writeError(w, http.StatusNotFound, "Expense not found")
	case errors.Is(err, fs.ErrNotExist):
		writeError(w, http.StatusNotFound, "File not found")
	default:
		slog.Error("Error handling expense", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}
