// Package documents persists ingested document records. Documents are the
// only entity with durable row state; run and quarantine state is derived
// from the event ledger.
package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no document exists for the given id.
var ErrNotFound = errors.New("document not found")

// Ingestion statuses. ACCEPTED documents are eligible for processing runs;
// QUARANTINED documents wait for reprocess or manual resolution.
const (
	IngestionAccepted    = "ACCEPTED"
	IngestionQuarantined = "QUARANTINED"
	IngestionRejected    = "REJECTED"
)

// Document is an ingested source file and its quality assessment.
type Document struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Filename        string    `json:"filename"`
	ContentType     string    `json:"content_type"`
	SizeBytes       int64     `json:"size_bytes"`
	StoragePath     string    `json:"storage_path"`
	Language        string    `json:"language"`
	IngestionStatus string    `json:"ingestion_status"`
	QualityTier     string    `json:"quality_tier,omitempty"`
	QualityScore    *float64  `json:"quality_score,omitempty"`
	ReasonCodes     []string  `json:"quarantine_reason_codes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store is the document persistence contract.
type Store interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	UpdateIngestion(ctx context.Context, id, status, qualityTier string, qualityScore *float64, reasonCodes []string) error
	List(ctx context.Context, limit int) ([]*Document, error)
	Close() error
}

// SQLiteStore keeps document rows in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the document database at path and runs the
// schema migration. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open document db: %w", err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing connection and runs the schema migration.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS documents (
        id TEXT PRIMARY KEY,
        tenant_id TEXT NOT NULL DEFAULT 'default',
        filename TEXT NOT NULL,
        content_type TEXT NOT NULL,
        size_bytes INTEGER NOT NULL,
        storage_path TEXT NOT NULL DEFAULT '',
        language TEXT NOT NULL DEFAULT 'en',
        ingestion_status TEXT NOT NULL DEFAULT 'ACCEPTED',
        quality_tier TEXT,
        quality_score REAL,
        reason_codes JSON,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents (tenant_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Create inserts a new document row. A missing ID gets a fresh uuid; a
// missing tenant and language fall back to defaults.
func (s *SQLiteStore) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.TenantID == "" {
		doc.TenantID = "default"
	}
	if doc.Language == "" {
		doc.Language = "en"
	}
	if doc.IngestionStatus == "" {
		doc.IngestionStatus = IngestionAccepted
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	codes, err := marshalReasonCodes(doc.ReasonCodes)
	if err != nil {
		return err
	}
	query := `
        INSERT INTO documents
            (id, tenant_id, filename, content_type, size_bytes, storage_path, language,
             ingestion_status, quality_tier, quality_score, reason_codes, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = s.db.ExecContext(ctx, query,
		doc.ID, doc.TenantID, doc.Filename, doc.ContentType, doc.SizeBytes,
		doc.StoragePath, doc.Language, doc.IngestionStatus,
		nullString(doc.QualityTier), doc.QualityScore, codes,
		doc.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

// Get returns the document with the given id or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Document, error) {
	query := `
        SELECT id, tenant_id, filename, content_type, size_bytes, storage_path, language,
               ingestion_status, quality_tier, quality_score, reason_codes, created_at
        FROM documents
        WHERE id = ?
    `
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, err
}

// UpdateIngestion records the outcome of ingestion quality checks. Empty
// status or tier and nil score leave the existing values untouched.
func (s *SQLiteStore) UpdateIngestion(ctx context.Context, id, status, qualityTier string, qualityScore *float64, reasonCodes []string) error {
	codes, err := marshalReasonCodes(reasonCodes)
	if err != nil {
		return err
	}
	query := `
        UPDATE documents SET
            ingestion_status = COALESCE(NULLIF(?, ''), ingestion_status),
            quality_tier = COALESCE(NULLIF(?, ''), quality_tier),
            quality_score = COALESCE(?, quality_score),
            reason_codes = COALESCE(?, reason_codes)
        WHERE id = ?
    `
	res, err := s.db.ExecContext(ctx, query, status, qualityTier, qualityScore, codes, id)
	if err != nil {
		return fmt.Errorf("update document %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// List returns the most recently created documents.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
        SELECT id, tenant_id, filename, content_type, size_bytes, storage_path, language,
               ingestion_status, quality_tier, quality_score, reason_codes, created_at
        FROM documents
        ORDER BY created_at DESC, id
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		doc       Document
		tier      sql.NullString
		score     sql.NullFloat64
		codesJSON sql.NullString
		createdAt string
	)
	err := row.Scan(&doc.ID, &doc.TenantID, &doc.Filename, &doc.ContentType,
		&doc.SizeBytes, &doc.StoragePath, &doc.Language, &doc.IngestionStatus,
		&tier, &score, &codesJSON, &createdAt)
	if err != nil {
		return nil, err
	}
	doc.QualityTier = tier.String
	if score.Valid {
		doc.QualityScore = &score.Float64
	}
	if codesJSON.Valid && codesJSON.String != "" {
		if err := json.Unmarshal([]byte(codesJSON.String), &doc.ReasonCodes); err != nil {
			return nil, fmt.Errorf("decode reason codes for %s: %w", doc.ID, err)
		}
	}
	doc.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", doc.ID, err)
	}
	return &doc, nil
}

func marshalReasonCodes(codes []string) (any, error) {
	if codes == nil {
		return nil, nil
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("encode reason codes: %w", err)
	}
	return string(raw), nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
