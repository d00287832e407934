package repository

import (
	"context"
	"database/sql"
)

// CategoryRepo handles categories.
type CategoryRepo struct {
	db *sql.DB
}

func NewCategoryRepo(db *sql.DB) *CategoryRepo {
	return &CategoryRepo{db: db}
}

func (r *CategoryRepo) Upsert(ctx context.Context, c Category) error {
	if c.Kind == "" {
		c.Kind = "expense"
	}
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO categories(id, slug, parent_id, name, kind, icon, sort_order)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 slug=excluded.slug,
	 parent_id=excluded.parent_id,
	 name=excluded.name,
	 kind=excluded.kind,
	 icon=excluded.icon,
	 sort_order=excluded.sort_order;
	`, c.ID, c.Slug, c.ParentID, c.Name, c.Kind, c.Icon, c.SortOrder)
	return err
}

func (r *CategoryRepo) List(ctx context.Context) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, slug, parent_id, name, kind, icon, sort_order FROM categories ORDER BY sort_order, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetBySlug returns nil when the slug is unknown.
func (r *CategoryRepo) GetBySlug(ctx context.Context, slug string) (*Category, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, slug, parent_id, name, kind, icon, sort_order FROM categories WHERE slug = ?`, slug)
	c, err := scanCategory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCategory(row scanner) (Category, error) {
	var c Category
	var parent, icon sql.NullString
	if err := row.Scan(&c.ID, &c.Slug, &parent, &c.Name, &c.Kind, &icon, &c.SortOrder); err != nil {
		return Category{}, err
	}
	if parent.Valid {
		c.ParentID = &parent.String
	}
	if icon.Valid {
		c.Icon = &icon.String
	}
	return c, nil
}
