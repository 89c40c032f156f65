package expense

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when an expense does not exist
var ErrNotFound = errors.New("expense not found")

// Store defines the interface for expense persistence
type Store interface {
	// InsertExpenses writes a batch of expenses and returns the rows written.
	// Implementations either write the whole batch or report what was written
	// through a *PartialInsertError.
	InsertExpenses(ctx context.Context, expenses []*Expense) ([]*Expense, error)

	// GetExpense retrieves an expense by ID
	GetExpense(ctx context.Context, id string) (*Expense, error)

	// ListExpenses returns all expenses owned by ownerID
	ListExpenses(ctx context.Context, ownerID string) ([]*Expense, error)

	// DeleteExpense removes an expense
	DeleteExpense(ctx context.Context, id string) error

	// Close releases the underlying connection
	Close() error
}

// RawCache keeps raw remote responses for diagnostic replay
type RawCache interface {
	SaveRaw(ctx context.Context, key string, raw []byte) error
}

// PartialInsertError reports a batch insert that stopped part way
type PartialInsertError struct {
	Inserted []*Expense
	Err      error
}

func (e *PartialInsertError) Error() string {
	return fmt.Sprintf("inserted %d expenses before failure: %v", len(e.Inserted), e.Err)
}

func (e *PartialInsertError) Unwrap() error {
	return e.Err
}
