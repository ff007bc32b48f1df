package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/graphvault/graphvault/pkg/graph"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteBackend implements Backend using SQLite.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a new SQLite-backed snapshot backend.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return b, nil
}

// NewSQLiteBackendFromDB wraps an existing database connection.
// The caller retains ownership of the connection; Close is a no-op in the
// sense that it closes the shared handle, so share with care.
func NewSQLiteBackendFromDB(db *sql.DB) (*SQLiteBackend, error) {
	b := &SQLiteBackend{db: db}
	if err := b.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		version INTEGER NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL,
		metadata TEXT,
		tags TEXT,
		size INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_version ON snapshots(version);
	CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at);
	`

	_, err := b.db.Exec(schema)
	return err
}

// Save persists a record, overwriting any record with the same id.
func (b *SQLiteBackend) Save(ctx context.Context, rec *Record) error {
	dataJSON, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot data: %w", err)
	}

	var metadataJSON []byte
	if rec.Metadata != nil {
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	var tagsJSON []byte
	if rec.Tags != nil {
		tagsJSON, err = json.Marshal(rec.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
	}

	query := `
		INSERT OR REPLACE INTO snapshots (id, version, created_at, data, metadata, tags, size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		rec.ID,
		rec.Version,
		rec.Timestamp,
		dataJSON,
		metadataJSON,
		tagsJSON,
		rec.Size,
	)

	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// Load retrieves a record by id, or (nil, nil) when absent.
func (b *SQLiteBackend) Load(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT id, version, created_at, data, metadata, tags, size
		FROM snapshots
		WHERE id = ?
	`

	rec, err := scanRecord(b.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil // Not found, no error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return rec, nil
}

// List returns all records ordered by version.
func (b *SQLiteBackend) List(ctx context.Context) ([]*Record, error) {
	query := `
		SELECT id, version, created_at, data, metadata, tags, size
		FROM snapshots
		ORDER BY version
	`

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return recs, nil
}

// Delete removes a record, reporting whether it existed.
func (b *SQLiteBackend) Delete(ctx context.Context, id string) (bool, error) {
	result, err := b.db.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete snapshot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// Clear removes all records.
func (b *SQLiteBackend) Clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, "DELETE FROM snapshots")
	if err != nil {
		return fmt.Errorf("failed to clear snapshots: %w", err)
	}
	return nil
}

// Close releases database resources.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var createdAt time.Time
	var dataJSON, metadataJSON, tagsJSON []byte

	err := row.Scan(
		&rec.ID,
		&rec.Version,
		&createdAt,
		&dataJSON,
		&metadataJSON,
		&tagsJSON,
		&rec.Size,
	)
	if err != nil {
		return nil, err
	}

	rec.Timestamp = createdAt
	rec.Data = graph.NewData()
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot data: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &rec.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}

	return &rec, nil
}

// Compile-time interface check
var _ Backend = (*SQLiteBackend)(nil)
