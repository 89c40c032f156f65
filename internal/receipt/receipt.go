package receipt

import (
	"time"

	"github.com/zombor/spend-tracker/internal/expense"
	"github.com/zombor/spend-tracker/internal/pipeline"
)

// Upload is a receipt file submitted for scanning
type Upload struct {
	Filename    string
	Data        []byte
	ContentType string
	Modified    time.Time // client-reported last modified time; zero uses the upload time
	Mode        pipeline.Mode
	Single      bool
}

// ScanResult is returned to the caller after a scan
type ScanResult struct {
	*pipeline.Outcome
	ReceiptFile string `json:"receiptFile,omitempty"`
}

// CommitRequest commits items reviewed by the user after a manual scan
type CommitRequest struct {
	Items       []expense.LineItem `json:"items"`
	ScanID      string             `json:"scan_id"`
	ReceiptFile string             `json:"receipt_file"`
}
