package scanning

import (
	"context"
	"fmt"

	"github.com/zombor/spend-tracker/internal/expense"
)

// ReceiptData is what a remote model extracted from a receipt. Items keep
// the model's own category labels; normalization happens later.
type ReceiptData struct {
	Items   []expense.LineItem `json:"items"`
	RawText string             `json:"rawText,omitempty"`

	// Partial is set when the response was cut short and only the
	// complete leading items could be recovered.
	Partial bool `json:"-"`
}

// Scanner defines the interface for remote receipt scanning
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts line items
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}

// TextReader produces plain text from a receipt image for heuristic parsing
type TextReader interface {
	ReadText(ctx context.Context, imageData []byte, contentType string) (string, error)
}

// ResponseError is returned when a model answered but the answer could not
// be parsed. Raw keeps the answer so it can be parsed heuristically.
type ResponseError struct {
	Raw string
	Err error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %v", e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
