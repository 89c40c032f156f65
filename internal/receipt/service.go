package receipt

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

	"github.com/zombor/spend-tracker/internal/category"
	"github.com/zombor/spend-tracker/internal/expense"
	"github.com/zombor/spend-tracker/internal/intake"
	"github.com/zombor/spend-tracker/internal/pipeline"
)

var (
	// ErrNoItems is returned when a manual commit carries no items
	ErrNoItems = errors.New("at least one item is required")
	// ErrNoReceiptFile is returned for expenses entered without an image
	ErrNoReceiptFile = errors.New("expense has no receipt file")
)

// Pipeline runs scans and commits expenses
type Pipeline interface {
	Process(ctx context.Context, req pipeline.Request, obs intake.Observer) (*pipeline.Outcome, error)
	Commit(ctx context.Context, ownerID string, items []expense.LineItem, meta pipeline.CommitMeta) ([]*expense.Expense, error)
	Normalize(items []expense.LineItem) []expense.LineItem
	Status(fingerprint string) (intake.Status, bool)
	Cancel(fingerprint string) bool
}

// IDGenerator generates unique IDs for stored receipt files
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles receipt uploads and the expenses committed from them
type Service struct {
	store       expense.Store
	pipeline    Pipeline
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source
func NewService(store expense.Store, p Pipeline, storage Storage) *Service {
	return NewServiceWithDeps(store, p, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(store expense.Store, p Pipeline, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		store:       store,
		pipeline:    p,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Phone cameras produce very long names
	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	return base + ext
}

// contentTypeFor returns the declared content type, or one derived from the
// file extension when none was declared
func contentTypeFor(filename, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func scanObserver(filename string) intake.Observer {
	return intake.ObserverFuncs{
		Progress: func(p intake.Progress) {
			slog.Debug("Scan progress", "fingerprint", p.Fingerprint, "percent", p.Percent, "message", p.Message)
		},
		Error: func(fingerprint string, err error) {
			slog.Warn("Scan attempt failed", "fingerprint", fingerprint, "filename", filename, "error", err)
		},
	}
}

// ScanReceipt stores an uploaded receipt and runs it through the pipeline.
// The stored file is removed again unless the scan produced expenses or is
// waiting for a manual commit. A partially committed scan returns both the
// result and the error.
func (s *Service) ScanReceipt(ctx context.Context, ownerID string, up Upload) (*ScanResult, error) {
	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	contentType := contentTypeFor(up.Filename, up.ContentType)
	savedName, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(up.Filename)), up.Data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	modified := up.Modified
	if modified.IsZero() {
		modified = now
	}

	outcome, err := s.pipeline.Process(ctx, pipeline.Request{
		File: pipeline.File{
			Name:        up.Filename,
			Size:        int64(len(up.Data)),
			Modified:    modified,
			ContentType: contentType,
			Data:        up.Data,
		},
		Mode:        up.Mode,
		Single:      up.Single,
		OwnerID:     ownerID,
		ReceiptFile: savedName,
	}, scanObserver(up.Filename))
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", up.Filename,
			"content_type", contentType,
			"file_size", len(up.Data),
			"error", err,
		)
		if outcome == nil || len(outcome.Expenses) == 0 {
			s.discardFile(savedName)
			savedName = ""
		}
		if outcome == nil {
			return nil, fmt.Errorf("scanning receipt: %w", err)
		}
		return &ScanResult{Outcome: outcome, ReceiptFile: savedName}, fmt.Errorf("scanning receipt: %w", err)
	}

	return &ScanResult{Outcome: outcome, ReceiptFile: savedName}, nil
}

// CommitItems saves items the user reviewed after a manual scan
func (s *Service) CommitItems(ctx context.Context, ownerID string, req CommitRequest) ([]*expense.Expense, error) {
	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	if req.ReceiptFile != "" && req.ReceiptFile != filepath.Base(req.ReceiptFile) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, req.ReceiptFile)
	}

	items := s.pipeline.Normalize(req.Items)
	expenses, err := s.pipeline.Commit(ctx, ownerID, items, pipeline.CommitMeta{
		ScanID:      req.ScanID,
		Source:      string(pipeline.Manual),
		ReceiptFile: req.ReceiptFile,
	})
	if err != nil {
		return expenses, fmt.Errorf("committing items: %w", err)
	}
	return expenses, nil
}

// GetExpense retrieves an expense owned by ownerID
func (s *Service) GetExpense(ctx context.Context, ownerID, id string) (*expense.Expense, error) {
	e, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	if e.OwnerID != ownerID {
		return nil, fmt.Errorf("getting expense: %w", expense.ErrNotFound)
	}
	return e, nil
}

// ListExpenses returns all expenses owned by ownerID
func (s *Service) ListExpenses(ctx context.Context, ownerID string) ([]*expense.Expense, error) {
	expenses, err := s.store.ListExpenses(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	if expenses == nil {
		expenses = []*expense.Expense{}
	}
	return expenses, nil
}

// DeleteExpense removes an expense. Its receipt file is removed once no
// other expense refers to it.
func (s *Service) DeleteExpense(ctx context.Context, ownerID, id string) error {
	e, err := s.GetExpense(ctx, ownerID, id)
	if err != nil {
		return err
	}

	if err := s.store.DeleteExpense(ctx, id); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}

	if e.ReceiptFile == "" {
		return nil
	}
	remaining, err := s.store.ListExpenses(ctx, ownerID)
	if err != nil {
		slog.Warn("Failed to check receipt file references", "filename", e.ReceiptFile, "error", err)
		return nil
	}
	for _, other := range remaining {
		if other.ReceiptFile == e.ReceiptFile {
			return nil
		}
	}
	s.discardFile(e.ReceiptFile)
	return nil
}

// GetReceiptFile retrieves the receipt image an expense was scanned from
func (s *Service) GetReceiptFile(ctx context.Context, ownerID, id string) ([]byte, string, error) {
	e, err := s.GetExpense(ctx, ownerID, id)
	if err != nil {
		return nil, "", err
	}
	if e.ReceiptFile == "" {
		return nil, "", ErrNoReceiptFile
	}

	data, err := s.storage.Get(e.ReceiptFile)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}
	return data, contentTypeFor(e.ReceiptFile, ""), nil
}

// ScanStatus reports an in-flight scan
func (s *Service) ScanStatus(fingerprint string) (intake.Status, bool) {
	return s.pipeline.Status(fingerprint)
}

// CancelScan closes an in-flight scan
func (s *Service) CancelScan(fingerprint string) bool {
	return s.pipeline.Cancel(fingerprint)
}

// Categories returns the canonical expense categories
func (s *Service) Categories() []category.Category {
	return category.All()
}

func (s *Service) discardFile(name string) {
	if err := s.storage.Delete(name); err != nil {
		slog.Warn("Failed to delete file", "filename", name, "error", err)
	}
}
