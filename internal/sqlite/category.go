package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ametzler/tabvault/internal/domain/archive"
	"github.com/ametzler/tabvault/internal/sortkey"
)

// CategoryRepository implements archive.CategoryRepository for SQLite
type CategoryRepository struct {
	q      dbtx
	notify func(table string)
}

// NewCategoryRepository creates a new CategoryRepository
func NewCategoryRepository(q dbtx, notify func(table string)) *CategoryRepository {
	return &CategoryRepository{q: q, notify: notify}
}

// Create inserts a new category
func (r *CategoryRepository) Create(ctx context.Context, cat *archive.Category) error {
	query := `
		INSERT INTO categories (id, name, color, rule, sortkey)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.q.ExecContext(ctx, query,
		cat.ID,
		cat.Name,
		cat.Color,
		nullableString(cat.Rule),
		cat.SortKey.High,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return archive.ErrConflict
		}
		return fmt.Errorf("failed to create category: %w", err)
	}

	r.notify(archive.TableCategories)
	return nil
}

// Get retrieves a category by id
func (r *CategoryRepository) Get(ctx context.Context, id string) (*archive.Category, error) {
	query := `SELECT id, name, color, rule, sortkey FROM categories WHERE id = ?`

	cat, err := scanCategory(r.q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, archive.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return cat, nil
}

// Update rewrites a category's name, color and rule
func (r *CategoryRepository) Update(ctx context.Context, cat *archive.Category) error {
	query := `UPDATE categories SET name = ?, color = ?, rule = ? WHERE id = ?`

	result, err := r.q.ExecContext(ctx, query,
		cat.Name,
		cat.Color,
		nullableString(cat.Rule),
		cat.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update category: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return archive.ErrNotFound
	}

	r.notify(archive.TableCategories)
	return nil
}

// Delete removes a category. Member tabs survive; only their membership
// links go away (cascaded at the constraint layer).
func (r *CategoryRepository) Delete(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return archive.ErrNotFound
	}

	r.notify(archive.TableCategories)
	r.notify(archive.TableTabs)
	return nil
}

// List returns all categories
func (r *CategoryRepository) List(ctx context.Context) ([]archive.Category, error) {
	return r.list(ctx, `SELECT id, name, color, rule, sortkey FROM categories`)
}

// ListWithRules returns the categories that carry an auto-catch rule
func (r *CategoryRepository) ListWithRules(ctx context.Context) ([]archive.Category, error) {
	return r.list(ctx, `SELECT id, name, color, rule, sortkey FROM categories WHERE rule IS NOT NULL`)
}

func (r *CategoryRepository) list(ctx context.Context, query string) ([]archive.Category, error) {
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var cats []archive.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		cats = append(cats, *cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	return cats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCategory(row rowScanner) (*archive.Category, error) {
	var cat archive.Category
	var rule sql.NullString
	var key int64
	if err := row.Scan(&cat.ID, &cat.Name, &cat.Color, &rule, &key); err != nil {
		return nil, err
	}
	if rule.Valid {
		cat.Rule = rule.String
	}
	cat.SortKey = sortkey.Scalar(key)
	return &cat, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
