package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS entities (
		type TEXT NOT NULL,
		id TEXT NOT NULL,
		bundle TEXT NOT NULL,
		revision_id TEXT,
		uuid TEXT NOT NULL,
		fields TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (type, id)
	);
	CREATE INDEX IF NOT EXISTS idx_entities_uuid ON entities(uuid);

	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
`

// SQLiteStorage implements Storage on a SQLite database. Entity fields are
// stored as JSON documents; Save rewrites all rows in one transaction.
type SQLiteStorage struct {
	conn   *sql.DB
	dbPath string
}

// NewSQLiteStorage opens or creates the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := conn.Exec(sqliteSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{conn: conn, dbPath: dbPath}, nil
}

// Load reads every entity, sequence and metadata row.
func (s *SQLiteStorage) Load() (*StoreData, error) {
	store := NewStoreData()

	rows, err := s.conn.Query(`SELECT type, id, bundle, revision_id, uuid, fields, created_at, updated_at
		FROM entities ORDER BY type, CAST(id AS INTEGER), id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			row              EntityRow
			revision         sql.NullString
			fields           string
			created, updated string
		)
		if err := rows.Scan(&row.Type, &row.ID, &row.Bundle, &revision, &row.UUID, &fields, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		row.RevisionID = revision.String
		if err := json.Unmarshal([]byte(fields), &row.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of %s %s: %w", row.Type, row.ID, err)
		}
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		row.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		store.Entities = append(store.Entities, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read entities: %w", err)
	}

	seqRows, err := s.conn.Query(`SELECT name, value FROM sequences`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sequences: %w", err)
	}
	defer func() { _ = seqRows.Close() }()
	for seqRows.Next() {
		var name string
		var value int64
		if err := seqRows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan sequence: %w", err)
		}
		store.Sequences[name] = value
	}
	if err := seqRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sequences: %w", err)
	}

	var created string
	err = s.conn.QueryRow(`SELECT value FROM metadata WHERE key = 'created_at'`).Scan(&created)
	if err == nil {
		store.Metadata.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	} else if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	return store, nil
}

// Save replaces the database content with data in a single transaction.
func (s *SQLiteStorage) Save(data *StoreData) (err error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, stmt := range []string{`DELETE FROM entities`, `DELETE FROM sequences`} {
		if _, err = tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to clear table: %w", err)
		}
	}

	insert, err := tx.Prepare(`INSERT INTO entities
		(type, id, bundle, revision_id, uuid, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = insert.Close() }()

	for _, row := range data.Entities {
		fields, mErr := json.Marshal(row.Fields)
		if mErr != nil {
			err = mErr
			return fmt.Errorf("failed to encode fields of %s %s: %w", row.Type, row.ID, err)
		}
		var revision sql.NullString
		if row.RevisionID != "" {
			revision = sql.NullString{String: row.RevisionID, Valid: true}
		}
		if _, err = insert.Exec(row.Type, row.ID, row.Bundle, revision, row.UUID, string(fields),
			row.CreatedAt.Format(time.RFC3339Nano), row.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to insert %s %s: %w", row.Type, row.ID, err)
		}
	}

	for name, value := range data.Sequences {
		if _, err = tx.Exec(`INSERT INTO sequences (name, value) VALUES (?, ?)`, name, value); err != nil {
			return fmt.Errorf("failed to write sequence %s: %w", name, err)
		}
	}

	now := time.Now()
	data.Metadata.UpdatedAt = now
	if data.Metadata.CreatedAt.IsZero() {
		data.Metadata.CreatedAt = now
	}
	meta := map[string]string{
		"version":    data.Metadata.Version,
		"created_at": data.Metadata.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": now.Format(time.RFC3339Nano),
	}
	for key, value := range meta {
		if _, err = tx.Exec(`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, key, value); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
