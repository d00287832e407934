package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jask/budgetcore/internal/categorizer"
	"github.com/jask/budgetcore/internal/model"
)

// ManualDraft is a transaction typed in by the user. Amount is signed minor units.
type ManualDraft struct {
	UserID      string
	Title       string
	Description string
	Amount      int64
	Currency    string
	Date        time.Time
	CategoryID  string
	Account     string
	AccountName string
}

type ManualService struct {
	Categorizer *categorizer.Categorizer
	Queue       Enqueuer
}

// Add validates d, fills in a category when none was picked and queues it.
func (s *ManualService) Add(ctx context.Context, d ManualDraft) (model.Transaction, error) {
	title := strings.Join(strings.Fields(d.Title), " ")
	switch {
	case d.UserID == "":
		return model.Transaction{}, errors.New("manual: user id required")
	case title == "":
		return model.Transaction{}, errors.New("manual: title required")
	case d.Amount == 0:
		return model.Transaction{}, errors.New("manual: amount must not be zero")
	}
	if d.Currency == "" {
		d.Currency = "EUR"
	}
	if d.Date.IsZero() {
		d.Date = time.Now()
	}

	tx := model.Transaction{
		ID:          uuid.NewString(),
		UserID:      d.UserID,
		Title:       title,
		Subtitle:    d.Description,
		Amount:      d.Amount,
		Kind:        model.KindForAmount(d.Amount),
		CategoryID:  d.CategoryID,
		Date:        d.Date.UTC().Format(time.RFC3339),
		Currency:    strings.ToUpper(d.Currency),
		Account:     d.Account,
		AccountName: d.AccountName,
		Source:      model.SourceManual,
		DisplayName: title,
	}
	if tx.CategoryID == "" && s.Categorizer != nil {
		id, err := s.Categorizer.CategorizeTransaction(ctx, tx.Title, d.Description, tx.IsExpense())
		if err != nil {
			return model.Transaction{}, fmt.Errorf("categorize: %w", err)
		}
		tx.CategoryID = id
	}
	if _, err := s.Queue.Enqueue(ctx, tx); err != nil {
		return model.Transaction{}, err
	}
	return tx, nil
}
