package expense

import "time"

// LineItem is one candidate expense extracted from a receipt
type LineItem struct {
	Description   string `json:"description"`
	Amount        Money  `json:"amount"`
	Date          string `json:"date"` // YYYY-MM-DD
	Category      string `json:"category"`
	PaymentMethod string `json:"paymentMethod"`
}

// Expense is the durable record written to storage
type Expense struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Description   string    `json:"description"`
	Amount        Money     `json:"amount"`
	Date          string    `json:"date"`
	Category      string    `json:"category"`
	PaymentMethod string    `json:"paymentMethod"`
	Source        string    `json:"source,omitempty"`      // strategy that produced the item
	ScanID        string    `json:"scanId,omitempty"`      // scan the item came from
	ReceiptFile   string    `json:"receiptFile,omitempty"` // stored receipt image
	CreatedAt     time.Time `json:"createdAt"`
}

// Item returns the line item view of an expense
func (e *Expense) Item() LineItem {
	return LineItem{
		Description:   e.Description,
		Amount:        e.Amount,
		Date:          e.Date,
		Category:      e.Category,
		PaymentMethod: e.PaymentMethod,
	}
}
