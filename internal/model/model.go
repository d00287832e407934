package model

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the direction of a transaction.
type Kind string

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

// Source records where a transaction came from.
type Source string

const (
	SourceManual        Source = "manual"
	SourceRevolutImport Source = "revolut_import"
	SourceAIBImport     Source = "aib_import"
	SourceOtherImport   Source = "other_import"
)

// ErrAnalyticsProtected is returned when a user tries to re-include a transfer in analytics.
var ErrAnalyticsProtected = errors.New("transaction is analytics protected")

// Transaction is the durable, user-owned record stored remotely.
type Transaction struct {
	ID                   string `json:"id" dynamodbav:"id"`
	UserID               string `json:"user_id" dynamodbav:"user_id"`
	Title                string `json:"title" dynamodbav:"title"`
	Subtitle             string `json:"subtitle,omitempty" dynamodbav:"subtitle,omitempty"`
	Amount               int64  `json:"amount" dynamodbav:"amount"`
	Kind                 Kind   `json:"kind" dynamodbav:"kind"`
	CategoryID           string `json:"category_id,omitempty" dynamodbav:"category_id,omitempty"`
	Date                 string `json:"date" dynamodbav:"date"`
	Currency             string `json:"currency" dynamodbav:"currency"`
	Account              string `json:"account,omitempty" dynamodbav:"account,omitempty"`
	AccountName          string `json:"account_name,omitempty" dynamodbav:"account_name,omitempty"`
	MatchedTransferID    string `json:"matched_transfer_id,omitempty" dynamodbav:"matched_transfer_id,omitempty"`
	ExcludeFromAnalytics bool   `json:"exclude_from_analytics" dynamodbav:"exclude_from_analytics"`
	IsAnalyticsProtected bool   `json:"is_analytics_protected" dynamodbav:"is_analytics_protected"`
	HideMerchantIcon     bool   `json:"hide_merchant_icon" dynamodbav:"hide_merchant_icon"`
	Source               Source `json:"source" dynamodbav:"source"`
	DisplayName          string `json:"display_name,omitempty" dynamodbav:"display_name,omitempty"`
	ImportBatchID        string `json:"import_batch_id,omitempty" dynamodbav:"import_batch_id,omitempty"`
}

// KindForAmount maps the sign of an amount in minor units to a Kind.
func KindForAmount(amount int64) Kind {
	if amount < 0 {
		return KindExpense
	}
	return KindIncome
}

// IsExpense reports whether the transaction is money going out.
func (t Transaction) IsExpense() bool {
	if t.Kind != "" {
		return t.Kind == KindExpense
	}
	return t.Amount < 0
}

// Time parses the stored ISO-8601 date.
func (t Transaction) Time() (time.Time, error) {
	return time.Parse(time.RFC3339, t.Date)
}

// SetExcludeFromAnalytics applies a user edit. Transfers keep the flag on.
func (t *Transaction) SetExcludeFromAnalytics(exclude bool) error {
	if !exclude && t.IsAnalyticsProtected {
		return ErrAnalyticsProtected
	}
	t.ExcludeFromAnalytics = exclude
	return nil
}

// MarkTransfer links t to its counterpart and flags it as protected.
func (t *Transaction) MarkTransfer(counterpartID string) {
	t.MatchedTransferID = counterpartID
	t.IsAnalyticsProtected = true
	t.ExcludeFromAnalytics = true
}

// ClearTransferMatch drops the match together with the system-owned flags.
func (t *Transaction) ClearTransferMatch() {
	t.MatchedTransferID = ""
	if t.IsAnalyticsProtected {
		t.IsAnalyticsProtected = false
		t.ExcludeFromAnalytics = false
	}
}

// AccountBalanceDoc is the remote balance of one logical account.
type AccountBalanceDoc struct {
	ID                       string     `json:"id" dynamodbav:"id"`
	UserID                   string     `json:"user_id" dynamodbav:"user_id"`
	AccountKey               string     `json:"account_key" dynamodbav:"account_key"`
	AccountName              string     `json:"account_name" dynamodbav:"account_name"`
	AccountType              string     `json:"account_type" dynamodbav:"account_type"`
	Provider                 string     `json:"provider" dynamodbav:"provider"`
	Currency                 string     `json:"currency" dynamodbav:"currency"`
	Balance                  int64      `json:"balance" dynamodbav:"balance"`
	LastUpdated              time.Time  `json:"last_updated" dynamodbav:"last_updated"`
	PreviousBalance          *int64     `json:"previous_balance,omitempty" dynamodbav:"previous_balance,omitempty"`
	PreviousBalanceTimestamp *time.Time `json:"previous_balance_timestamp,omitempty" dynamodbav:"previous_balance_timestamp,omitempty"`
	ImportBatchID            string     `json:"import_batch_id,omitempty" dynamodbav:"import_batch_id,omitempty"`
}

// MerchantVote is one crowd-sourced (merchant, category) tally.
type MerchantVote struct {
	ID           string    `json:"id" dynamodbav:"id"`
	MerchantKey  string    `json:"merchant_key" dynamodbav:"merchant_key"`
	MerchantName string    `json:"merchant_name" dynamodbav:"merchant_name"`
	CategoryID   string    `json:"category_id" dynamodbav:"category_id"`
	Votes        int64     `json:"votes" dynamodbav:"votes"`
	LastVoted    time.Time `json:"last_voted" dynamodbav:"last_voted"`
	UserID       string    `json:"user_id,omitempty" dynamodbav:"user_id,omitempty"`
}

// VoteID is the identity of a (merchant key, category) tally.
func VoteID(merchantKey, categoryID string) string {
	return merchantKey + "#" + categoryID
}

// CategoryID derives the stable category id for a slug.
func CategoryID(slug string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("cat:"+strings.ToLower(strings.TrimSpace(slug)))).String()
}

// Category slugs the importer and categorizer rely on.
const (
	CategoryGeneral  = "general"
	CategoryIncome   = "income"
	CategorySalary   = "salary"
	CategoryTransfer = "transfers"
)

// DeleteKind selects what a delete operation removes.
type DeleteKind string

const (
	DeleteTransactions DeleteKind = "transactions"
	DeleteAccount      DeleteKind = "account"
)

// DeleteStatus is the persisted state of a delete operation.
type DeleteStatus string

const (
	DeletePending    DeleteStatus = "pending"
	DeleteInProgress DeleteStatus = "in-progress"
	DeleteCompleted  DeleteStatus = "completed"
	DeleteFailed     DeleteStatus = "failed"
)

// DeleteOperation is the single local record driving the delete queue.
type DeleteOperation struct {
	UserID        string       `json:"user_id"`
	Kind          DeleteKind   `json:"kind"`
	Status        DeleteStatus `json:"status"`
	TotalDeleted  int          `json:"total_deleted"`
	TotalToDelete int          `json:"total_to_delete"`
	LastError     *string      `json:"last_error,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Blocking reports whether the operation should keep syncs away from its user.
func (op *DeleteOperation) Blocking() bool {
	return op != nil && (op.Status == DeletePending || op.Status == DeleteInProgress)
}
