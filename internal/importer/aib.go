package importer

import (
	"fmt"
	"strings"
)

var aibRequired = []string{
	"posted account", "posted transactions date", "description1",
	"debit amount", "credit amount", "balance",
}

var aibDateLayouts = []string{"02/01/2006", "2/1/2006"}

const aibDefaultCurrency = "EUR"

// AIB exports only posted rows, so every parsed row is completed.
func parseAIBRow(p *Parser, rec []string, cols columns) (ParsedTransaction, error) {
	posted, err := parseTime(cols.get(rec, "posted transactions date"), p.Location, aibDateLayouts...)
	if err != nil {
		return ParsedTransaction{}, fmt.Errorf("posted date: %w", err)
	}
	debit, err := parseOptionalMinor(cols.get(rec, "debit amount"))
	if err != nil {
		return ParsedTransaction{}, fmt.Errorf("debit amount: %w", err)
	}
	credit, err := parseOptionalMinor(cols.get(rec, "credit amount"))
	if err != nil {
		return ParsedTransaction{}, fmt.Errorf("credit amount: %w", err)
	}
	if debit == nil && credit == nil {
		return ParsedTransaction{}, fmt.Errorf("amount: no debit or credit")
	}
	var amount int64
	if credit != nil {
		amount += abs(*credit)
	}
	if debit != nil {
		amount -= abs(*debit)
	}
	balance, err := parseOptionalMinor(cols.get(rec, "balance"))
	if err != nil {
		return ParsedTransaction{}, fmt.Errorf("balance: %w", err)
	}

	var parts []string
	for _, c := range []string{"description1", "description2", "description3"} {
		if v := cols.get(rec, c); v != "" {
			parts = append(parts, v)
		}
	}
	currency := strings.ToUpper(cols.get(rec, "posted currency"))
	if currency == "" {
		currency = aibDefaultCurrency
	}

	completed := posted
	return ParsedTransaction{
		Type:        cols.get(rec, "transaction type"),
		Description: strings.Join(parts, " "),
		Amount:      amount,
		Currency:    currency,
		StartedAt:   posted,
		CompletedAt: &completed,
		State:       StateCompleted,
		Balance:     balance,
		AccountRef:  cols.get(rec, "posted account"),
	}, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
