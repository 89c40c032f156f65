package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zombor/spend-tracker/internal/expense"
)

var errNoJSON = errors.New("no JSON found in response")

// modelReply accepts the shapes models actually return: the requested
// {"items": [...]} envelope or a single flattened item.
type modelReply struct {
	Items         []expense.LineItem `json:"items"`
	RawText       string             `json:"rawText"`
	Description   string             `json:"description"`
	Amount        expense.Money      `json:"amount"`
	Date          string             `json:"date"`
	Category      string             `json:"category"`
	PaymentMethod string             `json:"paymentMethod"`
}

// parseReceiptJSON parses a model response. A response cut off mid-array
// still yields the items that were complete, flagged as Partial.
func parseReceiptJSON(text string) (*ReceiptData, error) {
	text = stripCodeFence(text)

	start := strings.IndexAny(text, "{[")
	if start == -1 {
		return nil, errNoJSON
	}
	text = text[start:]

	if text[0] == '[' {
		var items []expense.LineItem
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return salvage(text, err)
		}
		return &ReceiptData{Items: items}, nil
	}

	end := strings.LastIndex(text, "}")
	if end == -1 {
		return salvage(text, errors.New("unterminated JSON object"))
	}

	var reply modelReply
	if err := json.Unmarshal([]byte(text[:end+1]), &reply); err != nil {
		return salvage(text, err)
	}

	data := &ReceiptData{Items: reply.Items, RawText: reply.RawText}
	if len(data.Items) == 0 && reply.Description != "" {
		data.Items = []expense.LineItem{{
			Description:   reply.Description,
			Amount:        reply.Amount,
			Date:          reply.Date,
			Category:      reply.Category,
			PaymentMethod: reply.PaymentMethod,
		}}
	}
	return data, nil
}

// salvage decodes complete objects from the first array in text
func salvage(text string, cause error) (*ReceiptData, error) {
	items := salvageItems(text)
	if len(items) == 0 {
		return nil, fmt.Errorf("unmarshaling json: %w", cause)
	}
	return &ReceiptData{Items: items, Partial: true}, nil
}

func salvageItems(text string) []expense.LineItem {
	start := strings.Index(text, "[")
	if start == -1 {
		return nil
	}

	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if _, err := dec.Token(); err != nil {
		return nil
	}

	var items []expense.LineItem
	for dec.More() {
		var item expense.LineItem
		if err := dec.Decode(&item); err != nil {
			break
		}
		items = append(items, item)
	}
	return items
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
