package expense

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	expenseCollection = "expenses"
	rawCollection     = "scan_results"
)

// MongoStore implements the Store interface using MongoDB
type MongoStore struct {
	client   *mongo.Client
	expenses *mongo.Collection
	raw      *mongo.Collection
}

// expenseDocument is the stored shape of an Expense
type expenseDocument struct {
	ID            string    `bson:"_id"`
	OwnerID       string    `bson:"owner_id"`
	Description   string    `bson:"description"`
	Amount        string    `bson:"amount"`
	Date          string    `bson:"date"`
	Category      string    `bson:"category"`
	PaymentMethod string    `bson:"payment_method"`
	Source        string    `bson:"source,omitempty"`
	ScanID        string    `bson:"scan_id,omitempty"`
	ReceiptFile   string    `bson:"receipt_file,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}

func toDocument(e *Expense) expenseDocument {
	return expenseDocument{
		ID:            e.ID,
		OwnerID:       e.OwnerID,
		Description:   e.Description,
		Amount:        e.Amount.String(),
		Date:          e.Date,
		Category:      e.Category,
		PaymentMethod: e.PaymentMethod,
		Source:        e.Source,
		ScanID:        e.ScanID,
		ReceiptFile:   e.ReceiptFile,
		CreatedAt:     e.CreatedAt,
	}
}

func (d expenseDocument) expense() *Expense {
	return &Expense{
		ID:            d.ID,
		OwnerID:       d.OwnerID,
		Description:   d.Description,
		Amount:        NormalizeAmount(d.Amount),
		Date:          d.Date,
		Category:      d.Category,
		PaymentMethod: d.PaymentMethod,
		Source:        d.Source,
		ScanID:        d.ScanID,
		ReceiptFile:   d.ReceiptFile,
		CreatedAt:     d.CreatedAt,
	}
}

// NewMongoStore connects to MongoDB and verifies the connection
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	db := client.Database(dbName)
	expenses := db.Collection(expenseCollection)

	_, err = expenses.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("creating owner index: %w", err)
	}

	return &MongoStore{
		client:   client,
		expenses: expenses,
		raw:      db.Collection(rawCollection),
	}, nil
}

// InsertExpenses writes the batch with an ordered InsertMany
func (m *MongoStore) InsertExpenses(ctx context.Context, expenses []*Expense) ([]*Expense, error) {
	docs := make([]interface{}, 0, len(expenses))
	for _, e := range expenses {
		docs = append(docs, toDocument(e))
	}

	if _, err := m.expenses.InsertMany(ctx, docs); err != nil {
		return nil, insertError(expenses, err)
	}
	return expenses, nil
}

// insertError maps an ordered bulk write failure onto the prefix that was written
func insertError(expenses []*Expense, err error) error {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || len(bwe.WriteErrors) == 0 {
		return fmt.Errorf("inserting expenses: %w", err)
	}

	first := len(expenses)
	for _, we := range bwe.WriteErrors {
		if we.Index < first {
			first = we.Index
		}
	}
	if first <= 0 {
		return fmt.Errorf("inserting expenses: %w", err)
	}
	return &PartialInsertError{Inserted: expenses[:first], Err: err}
}

// GetExpense retrieves an expense by ID
func (m *MongoStore) GetExpense(ctx context.Context, id string) (*Expense, error) {
	var doc expenseDocument
	err := m.expenses.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("finding expense: %w", err)
	}
	return doc.expense(), nil
}

// ListExpenses returns every expense belonging to ownerID, oldest first
func (m *MongoStore) ListExpenses(ctx context.Context, ownerID string) ([]*Expense, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := m.expenses.Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}

	var docs []expenseDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding expenses: %w", err)
	}

	expenses := make([]*Expense, 0, len(docs))
	for _, d := range docs {
		expenses = append(expenses, d.expense())
	}
	return expenses, nil
}

// DeleteExpense removes an expense
func (m *MongoStore) DeleteExpense(ctx context.Context, id string) error {
	res, err := m.expenses.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SaveRaw upserts a raw scanner response under key
func (m *MongoStore) SaveRaw(ctx context.Context, key string, raw []byte) error {
	_, err := m.raw.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"raw": string(raw), "saved_at": time.Now()}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("saving raw result: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
