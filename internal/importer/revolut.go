package importer

import (
	"fmt"
	"strings"
)

var revolutRequired = []string{
	"type", "product", "started date", "completed date", "description",
	"amount", "fee", "currency", "state", "balance",
}

var revolutDateLayouts = []string{"2006-01-02 15:04:05", "2006-01-02"}

// States that never reach the account and are not imported.
var revolutSkippedStates = map[string]bool{
	"REVERTED": true,
	"DECLINED": true,
	"FAILED":   true,
}

func parseRevolutRow(p *Parser, rec []string, cols columns) (ParsedTransaction, error) {
	state := strings.ToUpper(cols.get(rec, "state"))
	if revolutSkippedStates[state] {
		return ParsedTransaction{}, fmt.Errorf("state %s not importable", state)
	}

	started, err := parseTime(cols.get(rec, "started date"), p.Location, revolutDateLayouts...)
	if err != nil {
		return ParsedTransaction{}, fmt.Errorf("started date: %w", err)
	}
	tx := ParsedTransaction{
		Type:        cols.get(rec, "type"),
		Product:     cols.get(rec, "product"),
		Description: cols.get(rec, "description"),
		Currency:    strings.ToUpper(cols.get(rec, "currency")),
		StartedAt:   started,
		State:       state,
	}
	if raw := cols.get(rec, "completed date"); raw != "" {
		completed, err := parseTime(raw, p.Location, revolutDateLayouts...)
		if err != nil {
			return ParsedTransaction{}, fmt.Errorf("completed date: %w", err)
		}
		tx.CompletedAt = &completed
	}

	amount, err := parseMinor(cols.get(rec, "amount"))
	if err != nil {
		return ParsedTransaction{}, fmt.Errorf("amount: %w", err)
	}
	fee, err := parseOptionalMinor(cols.get(rec, "fee"))
	if err != nil {
		return ParsedTransaction{}, fmt.Errorf("fee: %w", err)
	}
	if fee != nil {
		tx.Fee = *fee
	}
	tx.Amount = amount - tx.Fee

	tx.Balance, err = parseOptionalMinor(cols.get(rec, "balance"))
	if err != nil {
		return ParsedTransaction{}, fmt.Errorf("balance: %w", err)
	}
	if tx.Currency == "" {
		return ParsedTransaction{}, fmt.Errorf("missing currency")
	}
	return tx, nil
}
