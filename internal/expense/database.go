package expense

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	expenseBucketName = "expenses"
	rawBucketName     = "scan_results"
)

// BoltDB implements the Store interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(expenseBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(rawBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// InsertExpenses saves the whole batch in a single transaction
func (b *BoltDB) InsertExpenses(ctx context.Context, expenses []*Expense) ([]*Expense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		for _, e := range expenses {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("marshaling expense: %w", err)
			}
			if err := bucket.Put([]byte(e.ID), data); err != nil {
				return fmt.Errorf("writing expense %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// GetExpense retrieves an expense by ID
func (b *BoltDB) GetExpense(ctx context.Context, id string) (*Expense, error) {
	var e *Expense
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListExpenses returns every expense belonging to ownerID
func (b *BoltDB) ListExpenses(ctx context.Context, ownerID string) ([]*Expense, error) {
	expenses := make([]*Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var e Expense
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			if e.OwnerID == ownerID {
				expenses = append(expenses, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// DeleteExpense removes an expense from the database
func (b *BoltDB) DeleteExpense(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// SaveRaw stores a raw scanner response under key
func (b *BoltDB) SaveRaw(ctx context.Context, key string, raw []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(rawBucketName)).Put([]byte(key), raw)
	})
}

// Raw returns a cached raw response, or nil when absent
func (b *BoltDB) Raw(key string) ([]byte, error) {
	var raw []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket([]byte(rawBucketName)).Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	return raw, err
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
