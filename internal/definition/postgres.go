package definition

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/emr-interpretation-server/internal/domain"
)

// PostgresStore persists observation definitions in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL definition store. It expects
// the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Save inserts or updates a definition keyed by slug.
func (s *PostgresStore) Save(ctx context.Context, def *ObservationDefinition) error {
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			category = EXCLUDED.category,
			code = EXCLUDED.code,
			permitted_unit = EXCLUDED.permitted_unit,
			qualified_ranges = EXCLUDED.qualified_ranges,
			components = EXCLUDED.components,
			updated_at = EXCLUDED.updated_at
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
func (s *PostgresStore) Get(ctx context.Context, slug string) (*ObservationDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, title, status, description, category, code,
		       permitted_unit, qualified_ranges, components, created_at, updated_at
		FROM observation_definitions
		WHERE slug = $1
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
func (s *PostgresStore) List(ctx context.Context) ([]*ObservationDefinition, error) {
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
func (s *PostgresStore) Delete(ctx context.Context, slug string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM observation_definitions WHERE slug = $1", slug)
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
