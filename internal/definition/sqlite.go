package definition

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/emr-interpretation-server/internal/domain"
)

// SQLiteStore persists observation definitions in SQLite. Used for embedded
// and development deployments.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite definition store. It creates the
// database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, dbPath: dbPath}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS observation_definitions (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		status TEXT NOT NULL,
		description TEXT DEFAULT '',
		category TEXT,
		code TEXT,
		permitted_unit TEXT,
		qualified_ranges TEXT NOT NULL DEFAULT '[]',
		components TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_definitions_status ON observation_definitions(status);
	`

	_, err := db.Exec(schema)
	return err
}

// Save inserts or updates a definition keyed by slug.
func (s *SQLiteStore) Save(ctx context.Context, def *ObservationDefinition) error {
	now := time.Now().UTC()
	if def.ID == "" {
		def.ID = uuid.New().String()
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	category, code, unit, ranges, components, err := marshalDefinition(def)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO observation_definitions (
			id, slug, title, status, description, category, code,
			permitted_unit, qualified_ranges, components, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			description = excluded.description,
			category = excluded.category,
			code = excluded.code,
			permitted_unit = excluded.permitted_unit,
			qualified_ranges = excluded.qualified_ranges,
			components = excluded.components,
			updated_at = excluded.updated_at
	`,
		def.ID, def.Slug, def.Title, def.Status, def.Description,
		category, code, unit, ranges, components, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving definition %q: %w", def.Slug, err)
	}
	return nil
}

// Get loads a definition by slug.
func (s *SQLiteStore) Get(ctx context.Context, slug string) (*ObservationDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, title, status, description, category, code,
		       permitted_unit, qualified_ranges, components, created_at, updated_at
		FROM observation_definitions
		WHERE slug = ?
	`, slug)

	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("definition %q: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading definition %q: %w", slug, err)
	}
	return def, nil
}

// List returns all definitions ordered by slug.
func (s *SQLiteStore) List(ctx context.Context) ([]*ObservationDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, title, status, description, category, code,
		       permitted_unit, qualified_ranges, components, created_at, updated_at
		FROM observation_definitions
		ORDER BY slug
	`)
	if err != nil {
		return nil, fmt.Errorf("listing definitions: %w", err)
	}
	defer rows.Close()

	var defs []*ObservationDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// Delete removes a definition by slug.
func (s *SQLiteStore) Delete(ctx context.Context, slug string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM observation_definitions WHERE slug = ?", slug)
	if err != nil {
		return fmt.Errorf("deleting definition %q: %w", slug, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("definition %q: %w", slug, domain.ErrNotFound)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanDefinition scans a row into an ObservationDefinition.
func scanDefinition(s scanner) (*ObservationDefinition, error) {
	def := &ObservationDefinition{}
	var category, code, unit sql.NullString
	var ranges, components string

	err := s.Scan(
		&def.ID, &def.Slug, &def.Title, &def.Status, &def.Description,
		&category, &code, &unit, &ranges, &components,
		&def.CreatedAt, &def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalCoding(category, &def.Category); err != nil {
		return nil, err
	}
	if err := unmarshalCoding(code, &def.Code); err != nil {
		return nil, err
	}
	if err := unmarshalCoding(unit, &def.PermittedUnit); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ranges), &def.QualifiedRanges); err != nil {
		return nil, fmt.Errorf("decoding qualified ranges: %w", err)
	}
	if err := json.Unmarshal([]byte(components), &def.Components); err != nil {
		return nil, fmt.Errorf("decoding components: %w", err)
	}
	return def, nil
}

// marshalDefinition encodes the JSON columns of a definition.
func marshalDefinition(def *ObservationDefinition) (category, code, unit, ranges, components any, err error) {
	category, err = marshalCoding(def.Category)
	if err != nil {
		return
	}
	code, err = marshalCoding(def.Code)
	if err != nil {
		return
	}
	unit, err = marshalCoding(def.PermittedUnit)
	if err != nil {
		return
	}

	rangesJSON, err := json.Marshal(def.QualifiedRanges)
	if err != nil {
		err = fmt.Errorf("encoding qualified ranges: %w", err)
		return
	}
	if def.QualifiedRanges == nil {
		rangesJSON = []byte("[]")
	}
	componentsJSON, err := json.Marshal(def.Components)
	if err != nil {
		err = fmt.Errorf("encoding components: %w", err)
		return
	}
	if def.Components == nil {
		componentsJSON = []byte("[]")
	}
	return category, code, unit, string(rangesJSON), string(componentsJSON), nil
}

func marshalCoding(coding *domain.Coding) (any, error) {
	if coding == nil {
		return nil, nil
	}
	data, err := json.Marshal(coding)
	if err != nil {
		return nil, fmt.Errorf("encoding coding: %w", err)
	}
	return string(data), nil
}

func unmarshalCoding(value sql.NullString, target **domain.Coding) error {
	if !value.Valid || value.String == "" {
		return nil
	}
	coding := &domain.Coding{}
	if err := json.Unmarshal([]byte(value.String), coding); err != nil {
		return fmt.Errorf("decoding coding: %w", err)
	}
	*target = coding
	return nil
}
