package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/spend-tracker/internal/expense"
	"github.com/zombor/spend-tracker/internal/intake"
	"github.com/zombor/spend-tracker/internal/scanning"
)

var (
	// ErrDuplicateScan is returned when the same file is already being scanned
	ErrDuplicateScan = errors.New("scan already in progress for this file")
	// ErrScanCanceled is returned when the caller closed the scan before it finished
	ErrScanCanceled = errors.New("scan canceled")
	// ErrNoOwner is returned when a commit has no authenticated owner
	ErrNoOwner = errors.New("no authenticated owner")
	// ErrCommitFailed wraps storage failures while saving expenses
	ErrCommitFailed = errors.New("saving expenses failed")
)

// BasicInfoNotice is reported when only the placeholder item could be recorded
const BasicInfoNotice = "Only basic information could be extracted from this receipt."

// SyntheticSource marks expenses recorded from the placeholder item
const SyntheticSource = "synthetic"

const (
	DefaultMaxAttempts  = 2
	DefaultRetryBackoff = 3 * time.Second
	DefaultScanTimeout  = 28 * time.Second
)

// Mode selects whether extracted items are saved straight away
type Mode string

const (
	Auto   Mode = "auto"
	Manual Mode = "manual"
)

// ParseMode maps a request value onto a Mode, defaulting to Auto
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Auto):
		return Auto, nil
	case string(Manual):
		return Manual, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// File is an uploaded receipt
type File struct {
	Name        string
	Size        int64
	Modified    time.Time
	ContentType string
	Data        []byte
}

// Request is one user-initiated scan
type Request struct {
	File    File
	Mode    Mode
	Single  bool // keep only the most expensive item
	OwnerID string

	// ReceiptFile is where the original upload was stored
	ReceiptFile string
}

// Outcome describes a finished scan
type Outcome struct {
	ScanID      string             `json:"scanId"`
	Fingerprint string             `json:"fingerprint"`
	Items       []expense.LineItem `json:"items"`
	Expenses    []*expense.Expense `json:"expenses,omitempty"`
	Strategy    string             `json:"strategy"`
	Attempts    int                `json:"attempts"`
	Synthetic   bool               `json:"synthetic"`
	Committed   bool               `json:"committed"`
	Notice      string             `json:"notice,omitempty"`
}

// CommitMeta carries bookkeeping stored with each committed expense
type CommitMeta struct {
	ScanID      string
	Source      string
	ReceiptFile string
}

// Extractor produces line items from a receipt
type Extractor interface {
	Extract(ctx context.Context, doc scanning.Document, progress scanning.ProgressFunc) scanning.Result
}

// IDGenerator generates unique IDs for scans and expenses
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

type systemTime struct{}

func (systemTime) Now() time.Time {
	return time.Now()
}

// Config tunes retries and the scan watchdog. Zero values take the defaults.
type Config struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	ScanTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	return c
}

// Controller runs scans end to end: intake, extraction, normalization and commit
type Controller struct {
	extractor   Extractor
	normalizer  *expense.Normalizer
	store       expense.Store
	registry    *intake.Registry
	cfg         Config
	idGenerator IDGenerator
	timeSource  TimeSource
	logger      *slog.Logger

	mu    sync.Mutex
	scans map[string]*intake.Scan
}

// NewController creates a Controller with uuid IDs and the system clock
func NewController(extractor Extractor, normalizer *expense.Normalizer, store expense.Store, registry *intake.Registry, cfg Config, logger *slog.Logger) *Controller {
	return NewControllerWithDeps(extractor, normalizer, store, registry, cfg, logger, uuidGenerator{}, systemTime{})
}

// NewControllerWithDeps creates a Controller with custom dependencies for testing
func NewControllerWithDeps(extractor Extractor, normalizer *expense.Normalizer, store expense.Store, registry *intake.Registry, cfg Config, logger *slog.Logger, idGen IDGenerator, timeSrc TimeSource) *Controller {
	if normalizer == nil {
		normalizer = expense.NewNormalizer(nil, timeSrc.Now)
	}
	if registry == nil {
		registry = intake.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		extractor:   extractor,
		normalizer:  normalizer,
		store:       store,
		registry:    registry,
		cfg:         cfg.withDefaults(),
		idGenerator: idGen,
		timeSource:  timeSrc,
		logger:      logger,
		scans:       make(map[string]*intake.Scan),
	}
}

// Process scans a receipt. Failed extractions are retried up to
// MaxAttempts with a fixed backoff; when every attempt fails the
// placeholder item is used and Outcome.Notice says so. Only storage
// failures, duplicates and cancellation are returned as errors.
func (c *Controller) Process(ctx context.Context, req Request, obs intake.Observer) (*Outcome, error) {
	if req.Mode == "" {
		req.Mode = Auto
	}
	if req.Mode == Auto && strings.TrimSpace(req.OwnerID) == "" {
		return nil, ErrNoOwner
	}

	fp := intake.Fingerprint(req.File.Name, req.File.Size, req.File.Modified)
	scan := intake.NewScan(fp, c.registry, obs, c.logger)
	if !scan.Start() {
		return nil, ErrDuplicateScan
	}
	c.track(scan)
	defer c.untrack(scan)
	// Backstop for panics and early returns; a no-op once the scan finished
	defer scan.Cancel()

	outcome := &Outcome{ScanID: c.idGenerator.Generate(), Fingerprint: fp}
	logger := c.logger.With("scan_id", outcome.ScanID, "fingerprint", fp)
	doc := scanning.Document{
		Fingerprint: fp,
		Name:        req.File.Name,
		Data:        req.File.Data,
		ContentType: req.File.ContentType,
	}

	result, err := c.extract(ctx, scan, doc, outcome, logger)
	if err != nil {
		return nil, err
	}

	today := c.timeSource.Now()
	var items []expense.LineItem
	if result.Usable() {
		items = c.normalizer.Normalize(result.Items)
		outcome.Strategy = result.Strategy
	}
	if len(items) == 0 {
		logger.Warn("no usable items after retries, recording placeholder", "attempts", outcome.Attempts, "reason", result.Reason)
		items = []expense.LineItem{expense.SyntheticItem(today)}
		outcome.Synthetic = true
		outcome.Strategy = SyntheticSource
		outcome.Notice = BasicInfoNotice
	}
	if req.Single {
		items = []expense.LineItem{expense.SelectMainItem(items, today)}
	}
	outcome.Items = items

	if req.Mode == Manual {
		if !scan.Complete(intake.Completion{Items: items, Notice: outcome.Notice}) {
			return nil, ErrScanCanceled
		}
		return outcome, nil
	}

	if scan.Canceled() {
		return nil, ErrScanCanceled
	}
	scan.UpdateProgress(95, "Saving expenses")

	expenses, err := c.Commit(ctx, req.OwnerID, items, CommitMeta{
		ScanID:      outcome.ScanID,
		Source:      outcome.Strategy,
		ReceiptFile: req.ReceiptFile,
	})
	if err != nil {
		outcome.Expenses = expenses
		scan.Fail(err)
		return outcome, err
	}

	outcome.Expenses = expenses
	outcome.Committed = true
	if !scan.Complete(intake.Completion{Items: items, Expenses: expenses, Notice: outcome.Notice}) {
		logger.Warn("scan canceled while saving, expenses kept", "expenses", len(expenses))
	}
	logger.Info("scan committed", "expenses", len(expenses), "strategy", outcome.Strategy, "attempts", outcome.Attempts)
	return outcome, nil
}

// extract runs the extractor until it yields usable items or attempts run out.
// The returned result is unusable when every attempt failed.
func (c *Controller) extract(ctx context.Context, scan *intake.Scan, doc scanning.Document, outcome *Outcome, logger *slog.Logger) (scanning.Result, error) {
	for {
		outcome.Attempts++
		scan.ArmTimeout(c.cfg.ScanTimeout)

		result := c.extractor.Extract(ctx, doc, scan.UpdateProgress)
		if scan.Canceled() || ctx.Err() != nil {
			logger.Info("discarding result of canceled scan")
			return scanning.Result{}, ErrScanCanceled
		}
		if !scan.Active() {
			result = scanning.Result{Outcome: scanning.TimedOut, Reason: "scan deadline exceeded", Strategy: result.Strategy}
		}
		if result.Usable() {
			return result, nil
		}

		logger.Warn("extraction attempt failed", "attempt", outcome.Attempts, "outcome", result.Outcome, "reason", result.Reason)
		if outcome.Attempts >= c.cfg.MaxAttempts {
			return result, nil
		}

		if scan.State() == intake.Scanning {
			scan.Fail(fmt.Errorf("attempt %d: %s", outcome.Attempts, result.Reason))
		}

		select {
		case <-ctx.Done():
			return scanning.Result{}, ErrScanCanceled
		case <-time.After(c.cfg.RetryBackoff):
		}

		if !scan.Start() {
			if scan.Canceled() {
				return scanning.Result{}, ErrScanCanceled
			}
			return scanning.Result{}, ErrDuplicateScan
		}
	}
}

// Commit saves items as expenses owned by ownerID. A store that stops part
// way returns the saved expenses together with the error.
func (c *Controller) Commit(ctx context.Context, ownerID string, items []expense.LineItem, meta CommitMeta) ([]*expense.Expense, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrNoOwner
	}
	if len(items) == 0 {
		return []*expense.Expense{}, nil
	}

	now := c.timeSource.Now()
	expenses := make([]*expense.Expense, 0, len(items))
	for _, item := range items {
		expenses = append(expenses, &expense.Expense{
			ID:            c.idGenerator.Generate(),
			OwnerID:       ownerID,
			Description:   item.Description,
			Amount:        item.Amount,
			Date:          item.Date,
			Category:      item.Category,
			PaymentMethod: item.PaymentMethod,
			Source:        meta.Source,
			ScanID:        meta.ScanID,
			ReceiptFile:   meta.ReceiptFile,
			CreatedAt:     now,
		})
	}

	inserted, err := c.store.InsertExpenses(ctx, expenses)
	if err != nil {
		var partial *expense.PartialInsertError
		if errors.As(err, &partial) {
			c.logger.Error("expenses partially saved", "saved", len(partial.Inserted), "total", len(expenses), "error", err)
			return partial.Inserted, fmt.Errorf("%w: saved %d of %d: %w", ErrCommitFailed, len(partial.Inserted), len(expenses), err)
		}
		c.logger.Error("saving expenses", "count", len(expenses), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}
	return inserted, nil
}

// Normalize applies the normalization used by Process to caller-supplied items
func (c *Controller) Normalize(items []expense.LineItem) []expense.LineItem {
	return c.normalizer.Normalize(items)
}

// Status returns the state of an in-flight scan
func (c *Controller) Status(fingerprint string) (intake.Status, bool) {
	c.mu.Lock()
	scan, ok := c.scans[fingerprint]
	c.mu.Unlock()
	if !ok {
		return intake.Status{}, false
	}
	return scan.Status(), true
}

// Cancel closes an in-flight scan. Its fingerprint is released at once and
// any result that arrives afterwards is discarded.
func (c *Controller) Cancel(fingerprint string) bool {
	c.mu.Lock()
	scan, ok := c.scans[fingerprint]
	c.mu.Unlock()
	if !ok {
		return false
	}
	scan.Cancel()
	return true
}

func (c *Controller) track(scan *intake.Scan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scans[scan.Fingerprint()] = scan
}

func (c *Controller) untrack(scan *intake.Scan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scans[scan.Fingerprint()] == scan {
		delete(c.scans, scan.Fingerprint())
	}
}
