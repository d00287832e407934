package database

import (
	"context"
	"database/sql"

	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/model"
)

type defaultCategory struct {
	slug, name, kind string
}

var defaultCategories = []defaultCategory{
	{model.CategorySalary, "Salary", "income"},
	{model.CategoryIncome, "Income", "income"},
	{"groceries", "Groceries", "expense"},
	{"dining", "Eating Out", "expense"},
	{"transport", "Transport", "expense"},
	{"shopping", "Shopping", "expense"},
	{"bills", "Bills & Utilities", "expense"},
	{"subscriptions", "Subscriptions", "expense"},
	{"entertainment", "Entertainment", "expense"},
	{"health", "Health", "expense"},
	{"travel", "Travel", "expense"},
	{"cash", "Cash", "expense"},
	{model.CategoryTransfer, "Transfers", "transfer"},
	{model.CategoryGeneral, "General", "expense"},
}

// SeedDefaults ensures the category catalog exists. IDs derive from slugs so
// every device agrees on them. It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	catRepo := repository.NewCategoryRepo(db)
	for idx, c := range defaultCategories {
		cat := repository.Category{
			ID:        model.CategoryID(c.slug),
			Slug:      c.slug,
			Name:      c.name,
			Kind:      c.kind,
			SortOrder: idx,
		}
		if err := catRepo.Upsert(ctx, cat); err != nil {
			return err
		}
	}
	return nil
}
