package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/spend-tracker/internal/expense"
)

// Outcome tags the result of one extraction strategy
type Outcome string

const (
	Success  Outcome = "success"
	Empty    Outcome = "empty"
	Failed   Outcome = "failed"
	TimedOut Outcome = "timed_out"
)

// Document is the receipt handed to each strategy in turn
type Document struct {
	Fingerprint string
	Name        string
	Data        []byte
	ContentType string

	// RawText is receipt text already produced by an earlier strategy
	RawText string
}

// Result is what a strategy returns. Strategies never return errors;
// failures are reported through Outcome and Reason.
type Result struct {
	Outcome  Outcome
	Items    []expense.LineItem
	Reason   string
	RawText  string
	Strategy string
}

// Succeeded reports a completed extraction
func (r Result) Succeeded() bool {
	return r.Outcome == Success
}

// IsTimeout reports an attempt abandoned at its deadline
func (r Result) IsTimeout() bool {
	return r.Outcome == TimedOut
}

// Usable reports whether the items can be used as they are: a success with
// items, or a timeout that still captured partial items.
func (r Result) Usable() bool {
	return len(r.Items) > 0 && (r.Outcome == Success || r.Outcome == TimedOut)
}

// Strategy is one way of extracting line items from a receipt
type Strategy interface {
	Name() string
	Run(ctx context.Context, doc Document) Result
}

// HeuristicStrategy parses receipt text with line heuristics. It only fails
// when every configured TextReader fails.
type HeuristicStrategy struct {
	parser  *Parser
	readers []TextReader
	logger  *slog.Logger
}

// NewHeuristicStrategy creates the fallback strategy. Readers are tried in
// order until one produces text.
func NewHeuristicStrategy(parser *Parser, readers []TextReader, logger *slog.Logger) *HeuristicStrategy {
	if parser == nil {
		parser = NewParser(nil, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeuristicStrategy{parser: parser, readers: readers, logger: logger}
}

func (h *HeuristicStrategy) Name() string {
	return "heuristic"
}

func (h *HeuristicStrategy) Run(ctx context.Context, doc Document) Result {
	text := doc.RawText
	if strings.TrimSpace(text) == "" {
		var err error
		text, err = h.readText(ctx, doc)
		if err != nil {
			return Result{Outcome: Failed, Reason: err.Error()}
		}
	}

	parsed := h.parser.Parse(text)
	h.logger.Debug("heuristic parse", "fingerprint", doc.Fingerprint, "items", len(parsed.Items), "total", parsed.Total.String())
	return Result{Outcome: Success, Items: parsed.Items, RawText: text}
}

func (h *HeuristicStrategy) readText(ctx context.Context, doc Document) (string, error) {
	var errs []error
	for _, r := range h.readers {
		text, err := r.ReadText(ctx, doc.Data, doc.ContentType)
		if err != nil {
			h.logger.Warn("text reader failed", "fingerprint", doc.Fingerprint, "reader", fmt.Sprintf("%T", r), "error", err)
			errs = append(errs, err)
			continue
		}
		if strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	if len(errs) > 0 && len(errs) == len(h.readers) {
		return "", fmt.Errorf("reading receipt text: %w", errors.Join(errs...))
	}
	return "", nil
}
