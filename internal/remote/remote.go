// Package remote defines the document store the client syncs with.
package remote

import (
	"context"
	"time"

	"github.com/jask/budgetcore/internal/model"
)

// TransactionQuery filters a user's remote transactions. Zero values mean no filter.
type TransactionQuery struct {
	UserID        string
	ImportBatchID string
	From          time.Time
	To            time.Time
	Cursor        string
	Limit         int32
	Descending    bool
}

// TransactionPage is one page of a listing. NextCursor is empty on the last page.
type TransactionPage struct {
	Items      []model.Transaction
	NextCursor string
}

// TransactionReader reads transactions.
type TransactionReader interface {
	ListTransactions(ctx context.Context, q TransactionQuery) (TransactionPage, error)
	CountTransactions(ctx context.Context, userID string) (int, error)
}

// TransactionWriter mutates transactions.
type TransactionWriter interface {
	// CreateTransaction fails with ErrDuplicateID when the ID is taken.
	CreateTransaction(ctx context.Context, tx model.Transaction) error
	UpdateTransaction(ctx context.Context, tx model.Transaction) error
	// DeleteTransaction fails with ErrNotFound when nothing was deleted.
	DeleteTransaction(ctx context.Context, userID, id string) error
}

// TransactionStore is the full transaction collection.
type TransactionStore interface {
	TransactionReader
	TransactionWriter
}

// BalanceStore holds one AccountBalanceDoc per (user, account key).
type BalanceStore interface {
	GetBalance(ctx context.Context, id string) (*model.AccountBalanceDoc, error)
	PutBalance(ctx context.Context, doc model.AccountBalanceDoc) error
	DeleteBalance(ctx context.Context, id string) error
	ListBalances(ctx context.Context, userID string) ([]model.AccountBalanceDoc, error)
}

// VoteStore holds crowd-sourced merchant votes.
type VoteStore interface {
	ListVotes(ctx context.Context) ([]model.MerchantVote, error)
	// IncrementVote adds one vote for the pair, creating it when absent.
	IncrementVote(ctx context.Context, vote model.MerchantVote) error
}

// Store bundles every collection the client needs.
type Store interface {
	TransactionStore
	BalanceStore
	VoteStore
}
