package importer

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jask/budgetcore/internal/model"
)

// ConvertedTransaction is a durable transaction that still remembers the row
// it came from.
type ConvertedTransaction struct {
	model.Transaction
	Row     int
	At      time.Time
	State   string
	Balance *int64
	Info    AccountInfo
}

// TransactionID derives the ID of an imported row. occurrence separates
// identical rows within one file.
func TransactionID(userID, accountKey string, at time.Time, amount int64, description string, occurrence int) string {
	name := strings.Join([]string{
		userID, accountKey, at.UTC().Format(time.RFC3339), fmt.Sprintf("%d", amount),
		strings.ToLower(strings.TrimSpace(description)), fmt.Sprintf("%d", occurrence),
	}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// Convert builds durable transactions for userID tagged with batchID. IDs are
// stable, so importing the same file twice yields the same IDs.
func Convert(rows []ResolvedRow, userID, batchID string) []ConvertedTransaction {
	seen := map[string]int{}
	out := make([]ConvertedTransaction, 0, len(rows))
	for _, r := range rows {
		at := r.StartedAt
		title := cleanTitle(r.Description)
		dupKey := fmt.Sprintf("%s|%d|%d|%s", r.Account.Key, at.Unix(), r.Amount, strings.ToLower(title))
		occurrence := seen[dupKey]
		seen[dupKey]++

		tx := model.Transaction{
			ID:               TransactionID(userID, r.Account.Key, at, r.Amount, title, occurrence),
			UserID:           userID,
			Title:            title,
			Subtitle:         r.Account.Name,
			Amount:           r.Amount,
			Kind:             model.KindForAmount(r.Amount),
			Date:             at.UTC().Format(time.RFC3339),
			Currency:         r.Currency,
			Account:          r.Account.Key,
			AccountName:      r.Account.Name,
			HideMerchantIcon: r.Account.Type != AccountCurrent,
			Source:           sourceFor(r.Provider),
			DisplayName:      title,
			ImportBatchID:    batchID,
		}
		out = append(out, ConvertedTransaction{
			Transaction: tx,
			Row:         r.Row,
			At:          r.EffectiveAt(),
			State:       r.State,
			Balance:     r.Balance,
			Info:        r.Account,
		})
	}
	return out
}

// Transactions strips the row context.
func Transactions(txs []ConvertedTransaction) []model.Transaction {
	out := make([]model.Transaction, len(txs))
	for i, t := range txs {
		out[i] = t.Transaction
	}
	return out
}

func sourceFor(p Provider) model.Source {
	switch p {
	case ProviderRevolut:
		return model.SourceRevolutImport
	case ProviderAIB:
		return model.SourceAIBImport
	default:
		return model.SourceOtherImport
	}
}

func cleanTitle(desc string) string {
	title := strings.Join(strings.Fields(desc), " ")
	if title == "" {
		return "Unknown"
	}
	return title
}
