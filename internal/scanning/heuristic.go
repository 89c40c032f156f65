package scanning

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zombor/spend-tracker/internal/category"
	"github.com/zombor/spend-tracker/internal/expense"
)

var (
	// skipLine matches lines that never describe a purchased item
	skipLine = regexp.MustCompile(`(?i)^\s*(sub\s*-?\s*total|grand\s*total|total|tax|vat|gst|hst|change|cash\s*back|balance|amount\s*due|tender(ed)?|payment|paid|gratuity|tel|phone|fax|www|https?|thank\s*you|cashier|store\s*#|receipt|invoice|order\s*#|auth)\b`)
	// tenderLine matches payment labels: payment words alone, or followed by
	// an amount or a masked card number
	tenderLine = regexp.MustCompile(`(?i)^\s*((cash|credit|debit|card|visa|mastercard|amex|discover|tip)\b[\s:]*)+([^A-Za-z]*$|[#*\d]|[xX]{2,})`)
	// contactLine matches phone numbers, emails and web addresses
	contactLine = regexp.MustCompile(`(?i)(\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}|[\w.+-]+@[\w-]+\.\w+|www\.|https?://|\.com\b)`)

	trailingAmount = regexp.MustCompile(`^(.*?)\s*[$€£]?\s*(\d+\.\d{2})\s*[A-Za-z*]?$`)
	embeddedAmount = regexp.MustCompile(`[$€£]?\s*(\d+\.\d{2})`)
	unitPrice      = regexp.MustCompile(`\b\d+\s*@\s*[$€£]?\s*\d+[.,]\d{2}\b`)
	priceToken     = regexp.MustCompile(`[$€£]?\b\d+[.,]\d{2}\b`)

	quantityPrefix  = regexp.MustCompile(`^\s*(\d+\s*[xX@*]\s+|\d+[xX@*]|\(\d+\)\s*)`)
	skuToken        = regexp.MustCompile(`\b\d{5,}\b`)
	leadingSymbols  = regexp.MustCompile(`^[^\p{L}\p{N}]+`)
	trailingSymbols = regexp.MustCompile(`[^\p{L}\p{N}%)]+$`)
	spaces          = regexp.MustCompile(`\s+`)

	nonProduct = regexp.MustCompile(`(?i)\b(sub\s*total|total|loyalty|cashier|member(ship)?|savings|you saved|discount|coupon|points|rewards?|receipt|thank|welcome|approved|change due|balance)\b`)

	totalLine = regexp.MustCompile(`(?i)\b(grand\s*total|total|amount\s*due|balance\s*due)\b[^\d]*(\d+[.,]\d{2})`)
	subLine   = regexp.MustCompile(`(?i)\bsub\s*-?\s*total\b`)
	isoDate   = regexp.MustCompile(`\b(\d{4})[/-](\d{1,2})[/-](\d{1,2})\b`)
	usDate    = regexp.MustCompile(`\b(\d{1,2})[/-](\d{1,2})[/-](\d{2,4})\b`)
	payment   = regexp.MustCompile(`(?i)\b(cash|debit|credit|visa|mastercard|amex|apple pay|google pay|paypal)\b`)
)

const (
	minDescriptionLen = 2
	maxDescriptionLen = 50
	minLineLen        = 3
)

// ParsedText is everything the heuristic parser found in receipt text
type ParsedText struct {
	Items         []expense.LineItem
	Total         expense.Money
	Date          string
	PaymentMethod string
	Category      category.Category
}

// Parser turns plain receipt text into line items
type Parser struct {
	taxonomy *category.Taxonomy
	now      func() time.Time
}

// NewParser creates a Parser. Nil arguments use the built-in taxonomy and time.Now.
func NewParser(taxonomy *category.Taxonomy, now func() time.Time) *Parser {
	if taxonomy == nil {
		taxonomy = category.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Parser{taxonomy: taxonomy, now: now}
}

// Parse extracts items line by line. It always returns at least one item:
// when no line qualifies, a "Store Purchase" item carrying the detected
// total stands in.
func (p *Parser) Parse(text string) ParsedText {
	lines := splitLines(text)

	parsed := ParsedText{
		Total:         detectTotal(lines),
		Date:          detectDate(lines),
		PaymentMethod: detectPayment(lines),
		Category:      category.Other,
	}
	if c, ok := p.taxonomy.Guess(text); ok {
		parsed.Category = c
	}

	// Casers hold state and are not safe to share between goroutines
	titler := cases.Title(language.English)

	for _, line := range lines {
		if skipItemLine(line) {
			continue
		}

		description, amount, ok := splitAmount(line)
		if !ok {
			continue
		}

		description = cleanDescription(description)
		if !plausibleDescription(description) {
			continue
		}
		description = titler.String(description)

		itemCategory := parsed.Category
		if c, ok := p.taxonomy.Guess(description); ok {
			itemCategory = c
		}

		parsed.Items = append(parsed.Items, expense.LineItem{
			Description:   description,
			Amount:        expense.NormalizeAmount(amount),
			Date:          parsed.Date,
			Category:      string(itemCategory),
			PaymentMethod: parsed.PaymentMethod,
		})
	}

	if len(parsed.Items) == 0 {
		parsed.Items = []expense.LineItem{p.fallbackItem(parsed)}
	}
	return parsed
}

func (p *Parser) fallbackItem(parsed ParsedText) expense.LineItem {
	item := expense.SyntheticItem(p.now())
	item.Amount = parsed.Total
	item.Category = string(parsed.Category)
	if parsed.Date != "" {
		item.Date = parsed.Date
	}
	if parsed.PaymentMethod != "" {
		item.PaymentMethod = parsed.PaymentMethod
	}
	return item
}

func splitLines(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(spaces.ReplaceAllString(line, " "))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func skipItemLine(line string) bool {
	return utf8.RuneCountInString(line) < minLineLen ||
		!hasLetter(line) ||
		skipLine.MatchString(line) ||
		tenderLine.MatchString(line) ||
		contactLine.MatchString(line)
}

// splitAmount separates a line into the text before the price and the price.
// Prices at the end of the line win over prices embedded in the middle.
func splitAmount(line string) (string, string, bool) {
	if m := trailingAmount.FindStringSubmatch(line); m != nil {
		return m[1], m[2], true
	}
	loc := embeddedAmount.FindStringSubmatchIndex(line)
	if loc == nil {
		return "", "", false
	}
	return line[:loc[0]], line[loc[2]:loc[3]], true
}

func cleanDescription(s string) string {
	s = unitPrice.ReplaceAllString(s, "")
	s = priceToken.ReplaceAllString(s, "")
	s = quantityPrefix.ReplaceAllString(s, "")
	s = skuToken.ReplaceAllString(s, "")
	s = leadingSymbols.ReplaceAllString(s, "")
	s = trailingSymbols.ReplaceAllString(s, "")
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

func plausibleDescription(s string) bool {
	n := utf8.RuneCountInString(s)
	if n < minDescriptionLen || n > maxDescriptionLen {
		return false
	}
	return hasLetter(s) && !nonProduct.MatchString(s)
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// detectTotal returns the largest total-like amount, ignoring subtotals
func detectTotal(lines []string) expense.Money {
	var best expense.Money
	for _, line := range lines {
		if subLine.MatchString(line) {
			continue
		}
		m := totalLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if amount := expense.NormalizeAmount(m[2]); amount.GreaterThan(best) {
			best = amount
		}
	}
	return best
}

// detectDate returns the first date found as YYYY-MM-DD, reading slashed
// dates month first. Range checks happen during normalization.
func detectDate(lines []string) string {
	for _, line := range lines {
		if m := isoDate.FindStringSubmatch(line); m != nil {
			return formatDate(m[1], m[2], m[3])
		}
		if m := usDate.FindStringSubmatch(line); m != nil {
			year := m[3]
			if len(year) == 2 {
				year = "20" + year
			}
			return formatDate(year, m[1], m[2])
		}
	}
	return ""
}

func formatDate(year, month, day string) string {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

func detectPayment(lines []string) string {
	for _, line := range lines {
		if m := payment.FindString(line); m != "" {
			return expense.NormalizePaymentMethod(m)
		}
	}
	return ""
}
