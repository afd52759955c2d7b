package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// RegistryRepository manages registered post types, taxonomies and terms
type RegistryRepository struct {
	db *DB
}

func NewRegistryRepository(db *DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// RegisterPostType adds or updates a post type. New types are appended after
// the existing ones.
func (r *RegistryRepository) RegisterPostType(ctx context.Context, name string, public bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO post_types (name, public, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM post_types))
		ON CONFLICT (name) DO UPDATE SET public = excluded.public
	`, name, public)
	if err != nil {
		return fmt.Errorf("failed to register post type %s: %w", name, err)
	}
	return nil
}

// RegisterTaxonomy adds or updates a taxonomy and attaches it to the given post types
func (r *RegistryRepository) RegisterTaxonomy(ctx context.Context, name string, showUI bool, postTypes ...string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO taxonomies (name, show_ui) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET show_ui = excluded.show_ui
	`, name, showUI); err != nil {
		return fmt.Errorf("failed to register taxonomy %s: %w", name, err)
	}

	for _, postType := range postTypes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO taxonomy_post_types (taxonomy, post_type) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			name, postType); err != nil {
			return fmt.Errorf("failed to attach taxonomy %s to %s: %w", name, postType, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit taxonomy: %w", err)
	}
	return nil
}

// EnsureTerm returns the ID of the term with the given name in taxonomy,
// creating it when it does not exist yet
func (r *RegistryRepository) EnsureTerm(ctx context.Context, taxonomy, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("term name is empty")
	}
	slug := slugify(name)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var termID int64
	err = tx.QueryRowContext(ctx, `
		SELECT t.term_id FROM terms AS t
		JOIN term_taxonomy AS tt ON tt.term_id = t.term_id
		WHERE tt.taxonomy = ? AND t.slug = ?
	`, taxonomy, slug).Scan(&termID)

	switch {
	case err == sql.ErrNoRows:
		if err := tx.QueryRowContext(ctx,
			`INSERT INTO terms (name, slug) VALUES (?, ?) RETURNING term_id`,
			name, slug).Scan(&termID); err != nil {
			return 0, fmt.Errorf("failed to create term %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO term_taxonomy (term_id, taxonomy) VALUES (?, ?)`,
			termID, taxonomy); err != nil {
			return 0, fmt.Errorf("failed to attach term %s to %s: %w", name, taxonomy, err)
		}
	case err != nil:
		return 0, fmt.Errorf("failed to find term %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit term: %w", err)
	}
	return termID, nil
}

func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r > 127:
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
