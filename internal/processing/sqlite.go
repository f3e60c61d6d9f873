package processing

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zombor/invoice-checker/internal/invoice"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	batch_id TEXT,
	is_valid INTEGER NOT NULL DEFAULT 0,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	body TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS documents_batch_id ON documents(batch_id);
`

// SQLiteDB implements DB on a SQLite file. Documents are stored as JSON
// with the batch id and verdict pulled out into columns for ad hoc queries.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens or creates the database at path
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensuring data dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one writer at a time; batch scans save from several goroutines
	db.SetMaxOpenConns(1)

	if err := ensureWAL(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

func ensureWAL(db *sql.DB) error {
	const (
		maxAttempts = 5
		delay       = 200 * time.Millisecond
	)
	for i := 0; i < maxAttempts; i++ {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			if strings.Contains(err.Error(), "database is locked") {
				time.Sleep(delay)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("database is locked after retries")
}

func (s *SQLiteDB) SaveDocument(doc *Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	_, err = s.db.Exec(`
INSERT INTO documents (id, batch_id, is_valid, body) VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET batch_id = excluded.batch_id, is_valid = excluded.is_valid, body = excluded.body`,
		doc.ID, nullable(doc.BatchID), doc.Verdict.IsValid, string(body))
	if err != nil {
		return fmt.Errorf("saving document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetDocument(id string) (*Document, error) {
	var doc Document
	if err := getBody(s.db, "documents", id, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *SQLiteDB) ListDocuments() ([]*Document, error) {
	return listBodies[Document](s, "documents")
}

func (s *SQLiteDB) DeleteDocument(id string) error {
	if _, err := s.db.Exec(`DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteDB) UpdateVerdict(id string, verdict invoice.Verdict, at time.Time) (*Document, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var doc Document
	if err := getBody(tx, "documents", id, &doc); err != nil {
		return nil, err
	}
	doc.Verdict = verdict
	doc.UpdatedAt = at
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}
	if _, err := tx.Exec(`UPDATE documents SET is_valid = ?, body = ? WHERE id = ?`,
		verdict.IsValid, string(body), id); err != nil {
		return nil, fmt.Errorf("updating document %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing verdict: %w", err)
	}
	return &doc, nil
}

func (s *SQLiteDB) AssignBatch(batch *Batch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	batch.Valid, batch.Invalid = 0, 0
	for _, id := range batch.DocumentIDs {
		var doc Document
		if err := getBody(tx, "documents", id, &doc); err != nil {
			return err
		}
		if err := batch.claim(&doc); err != nil {
			return err
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshaling document: %w", err)
		}
		res, err := tx.Exec(`UPDATE documents SET batch_id = ?, body = ? WHERE id = ? AND batch_id IS NULL`,
			batch.ID, string(body), id)
		if err != nil {
			return fmt.Errorf("updating document %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return fmt.Errorf("%w: %s", ErrAlreadyBatched, id)
		}
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshaling batch: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO batches (id, body) VALUES (?, ?)`, batch.ID, string(body)); err != nil {
		return fmt.Errorf("saving batch %s: %w", batch.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch %s: %w", batch.ID, err)
	}
	return nil
}

func (s *SQLiteDB) GetBatch(id string) (*Batch, error) {
	var batch Batch
	if err := getBody(s.db, "batches", id, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (s *SQLiteDB) ListBatches() ([]*Batch, error) {
	return listBodies[Batch](s, "batches")
}

// Close closes the database
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// queryer is a *sql.DB or a *sql.Tx
type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

// table is always one of our constants, never user input
func getBody(q queryer, table, id string, v any) error {
	var body string
	err := q.QueryRow(`SELECT body FROM `+table+` WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, table, id)
	}
	if err != nil {
		return fmt.Errorf("querying %s %s: %w", table, id, err)
	}
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("unmarshaling %s %s: %w", table, id, err)
	}
	return nil
}

func listBodies[T any](s *SQLiteDB, table string) ([]*T, error) {
	rows, err := s.db.Query(`SELECT body FROM ` + table + ` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	defer rows.Close()

	items := make([]*T, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		var item T
		if err := json.Unmarshal([]byte(body), &item); err != nil {
			return nil, fmt.Errorf("unmarshaling %s: %w", table, err)
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing %s: %w", table, err)
	}
	return items, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
