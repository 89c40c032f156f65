package expense

import (
	"strings"
	"time"

	"github.com/zombor/spend-tracker/internal/category"
)

const (
	// MinReceiptYear and MaxReceiptYear bound plausible receipt dates. Anything
	// outside is treated as an OCR misread ("2123") and replaced with today.
	MinReceiptYear = 2020
	MaxReceiptYear = 2030

	DefaultPaymentMethod = "Card"
	SyntheticDescription = "Store Purchase"
	UnknownDescription   = "Unknown Expense"

	isoDate = "2006-01-02"
)

var dateLayouts = []string{
	isoDate,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02.01.2006",
	"01/02/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// NormalizeDate returns raw as YYYY-MM-DD, or today when raw is missing,
// unparseable, or outside [MinReceiptYear, MaxReceiptYear].
func NormalizeDate(raw string, today time.Time) string {
	fallback := today.Format(isoDate)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		if t.Year() < MinReceiptYear || t.Year() > MaxReceiptYear {
			return fallback
		}
		return t.Format(isoDate)
	}
	return fallback
}

// NormalizePaymentMethod folds free-text payment labels onto a short list
func NormalizePaymentMethod(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case lower == "":
		return DefaultPaymentMethod
	case strings.Contains(lower, "cash"):
		return "Cash"
	case strings.Contains(lower, "debit"):
		return "Debit Card"
	case strings.Contains(lower, "credit"), strings.Contains(lower, "visa"),
		strings.Contains(lower, "mastercard"), strings.Contains(lower, "amex"):
		return "Credit Card"
	case strings.Contains(lower, "apple pay"), strings.Contains(lower, "google pay"),
		strings.Contains(lower, "paypal"), strings.Contains(lower, "mobile"):
		return "Mobile Payment"
	default:
		return DefaultPaymentMethod
	}
}

// Deduplicate collapses items with the same description, keeping the
// highest amount at the position of the first occurrence.
func Deduplicate(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	seen := make(map[string]int, len(items))
	for _, item := range items {
		key := strings.ToLower(strings.Join(strings.Fields(item.Description), " "))
		if idx, ok := seen[key]; ok {
			if item.Amount.GreaterThan(out[idx].Amount) {
				out[idx] = item
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, item)
	}
	return out
}

// SyntheticItem is the placeholder recorded when nothing usable was extracted
func SyntheticItem(today time.Time) LineItem {
	return LineItem{
		Description:   SyntheticDescription,
		Amount:        Money{},
		Date:          today.Format(isoDate),
		Category:      string(category.Other),
		PaymentMethod: DefaultPaymentMethod,
	}
}

// SelectMainItem picks the most expensive item, first one wins on ties.
// An empty list yields the synthetic item.
func SelectMainItem(items []LineItem, today time.Time) LineItem {
	if len(items) == 0 {
		return SyntheticItem(today)
	}
	main := items[0]
	for _, item := range items[1:] {
		if item.Amount.GreaterThan(main.Amount) {
			main = item
		}
	}
	return main
}

// Normalizer applies the same cleanup to items from every extraction strategy
type Normalizer struct {
	taxonomy *category.Taxonomy
	now      func() time.Time
}

// NewNormalizer creates a Normalizer. A nil taxonomy uses the built-in tables
// and a nil clock uses time.Now.
func NewNormalizer(taxonomy *category.Taxonomy, now func() time.Time) *Normalizer {
	if taxonomy == nil {
		taxonomy = category.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{taxonomy: taxonomy, now: now}
}

// Today returns the normalizer's current date
func (n *Normalizer) Today() time.Time {
	return n.now()
}

// Item normalizes a single line item
func (n *Normalizer) Item(item LineItem) LineItem {
	today := n.now()

	description := strings.Join(strings.Fields(item.Description), " ")
	if description == "" {
		description = UnknownDescription
	}

	return LineItem{
		Description:   description,
		Amount:        NormalizeAmount(item.Amount),
		Date:          NormalizeDate(item.Date, today),
		Category:      string(n.taxonomy.Normalize(item.Category)),
		PaymentMethod: NormalizePaymentMethod(item.PaymentMethod),
	}
}

// Normalize cleans every item and removes duplicates
func (n *Normalizer) Normalize(items []LineItem) []LineItem {
	out := make([]LineItem, 0, len(items))
	for _, item := range items {
		out = append(out, n.Item(item))
	}
	return Deduplicate(out)
}
