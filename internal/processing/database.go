package processing

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/invoice-checker/internal/invoice"
)

const (
	documentBucket = "documents"
	batchBucket    = "batches"
)

// DB defines the interface for database operations
type DB interface {
	// SaveDocument inserts or replaces a document
	SaveDocument(doc *Document) error

	// GetDocument returns ErrNotFound when no document has the id
	GetDocument(id string) (*Document, error)

	ListDocuments() ([]*Document, error)

	DeleteDocument(id string) error

	// UpdateVerdict replaces the verdict of a stored document and leaves
	// everything else, its batch included, as stored
	UpdateVerdict(id string, verdict invoice.Verdict, at time.Time) (*Document, error)

	// AssignBatch saves batch and sets the batch id of each of its documents
	// in one transaction. Nothing is written when a document is missing
	// (ErrNotFound) or already batched (ErrAlreadyBatched).
	AssignBatch(batch *Batch) error

	// GetBatch returns ErrNotFound when no batch has the id
	GetBatch(id string) (*Batch, error)

	ListBatches() ([]*Batch, error)

	Close() error
}

// BoltDB implements DB with a single bbolt file
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens the database at path, creating its buckets if needed
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{documentBucket, batchBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) put(bucket, id string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putIn(tx.Bucket([]byte(bucket)), bucket, id, v)
	})
}

func (b *BoltDB) get(bucket, id string, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		return getIn(tx.Bucket([]byte(bucket)), bucket, id, v)
	})
}

func putIn(bucket *bbolt.Bucket, name, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	return bucket.Put([]byte(id), data)
}

func getIn(bucket *bbolt.Bucket, name, id string, v any) error {
	data := bucket.Get([]byte(id))
	if data == nil {
		return fmt.Errorf("%w: %s %s", ErrNotFound, name, id)
	}
	return json.Unmarshal(data, v)
}

// list decodes every value in a bucket, in key order
func list[T any](b *BoltDB, bucket string) ([]*T, error) {
	items := make([]*T, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).ForEach(func(k, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling %s %s: %w", bucket, k, err)
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (b *BoltDB) SaveDocument(doc *Document) error {
	return b.put(documentBucket, doc.ID, doc)
}

func (b *BoltDB) GetDocument(id string) (*Document, error) {
	var doc Document
	if err := b.get(documentBucket, id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (b *BoltDB) ListDocuments() ([]*Document, error) {
	return list[Document](b, documentBucket)
}

// DeleteDocument removes a document. Deleting a missing id is not an error.
func (b *BoltDB) DeleteDocument(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(documentBucket)).Delete([]byte(id))
	})
}

func (b *BoltDB) UpdateVerdict(id string, verdict invoice.Verdict, at time.Time) (*Document, error) {
	var doc Document
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(documentBucket))
		if err := getIn(bucket, documentBucket, id, &doc); err != nil {
			return err
		}
		doc.Verdict = verdict
		doc.UpdatedAt = at
		return putIn(bucket, documentBucket, id, &doc)
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (b *BoltDB) AssignBatch(batch *Batch) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket([]byte(documentBucket))
		batch.Valid, batch.Invalid = 0, 0
		for _, id := range batch.DocumentIDs {
			var doc Document
			if err := getIn(docs, documentBucket, id, &doc); err != nil {
				return err
			}
			if err := batch.claim(&doc); err != nil {
				return err
			}
			if err := putIn(docs, documentBucket, id, &doc); err != nil {
				return err
			}
		}
		return putIn(tx.Bucket([]byte(batchBucket)), batchBucket, batch.ID, batch)
	})
}

func (b *BoltDB) GetBatch(id string) (*Batch, error) {
	var batch Batch
	if err := b.get(batchBucket, id, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (b *BoltDB) ListBatches() ([]*Batch, error) {
	return list[Batch](b, batchBucket)
}

// Close closes the database file
func (b *BoltDB) Close() error {
	return b.db.Close()
}
