package testdata

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math/rand"
	"time"
)

// RevolutHeader is the column order of a Revolut statement export.
var RevolutHeader = []string{"Type", "Product", "Started Date", "Completed Date", "Description", "Amount", "Fee", "Currency", "State", "Balance"}

// AIBHeader is the column order of an AIB transaction export.
var AIBHeader = []string{"Posted Account", "Posted Transactions Date", "Description1", "Description2", "Description3", "Debit Amount", "Credit Amount", "Balance", "Posted Currency", "Transaction Type"}

// RevolutRow is one statement line. Empty Completed and Balance are written as blanks.
type RevolutRow struct {
	Type        string
	Product     string
	Started     string
	Completed   string
	Description string
	Amount      string
	Fee         string
	Currency    string
	State       string
	Balance     string
}

// AIBRow is one AIB export line.
type AIBRow struct {
	Account      string
	Date         string
	Description1 string
	Description2 string
	Description3 string
	Debit        string
	Credit       string
	Balance      string
	Currency     string
	Type         string
}

// RevolutCSV renders rows as a Revolut export.
func RevolutCSV(rows ...RevolutRow) string {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		fee := r.Fee
		if fee == "" {
			fee = "0.00"
		}
		currency := r.Currency
		if currency == "" {
			currency = "EUR"
		}
		records = append(records, []string{r.Type, r.Product, r.Started, r.Completed, r.Description, r.Amount, fee, currency, r.State, r.Balance})
	}
	return render(RevolutHeader, records)
}

// AIBCSV renders rows as an AIB export.
func AIBCSV(rows ...AIBRow) string {
	records := make([][]string, 0, len(rows))
	for _, r := range rows {
		currency := r.Currency
		if currency == "" {
			currency = "EUR"
		}
		records = append(records, []string{r.Account, r.Date, r.Description1, r.Description2, r.Description3, r.Debit, r.Credit, r.Balance, currency, r.Type})
	}
	return render(AIBHeader, records)
}

// RandomRevolut builds n completed card payments with a running balance,
// starting at start and one hour apart.
func RandomRevolut(rng *rand.Rand, n int, start time.Time) string {
	merchants := []string{"Tesco", "Spotify", "Uber", "Centra", "Amazon", "Salary ACME"}
	balance := int64(500000)
	rows := make([]RevolutRow, 0, n)
	for i := 0; i < n; i++ {
		desc := merchants[rng.Intn(len(merchants))]
		amount := -int64(rng.Intn(20000) + 100)
		typ := "CARD_PAYMENT"
		if desc == "Salary ACME" {
			amount = 250000
			typ = "TOPUP"
		}
		balance += amount
		at := start.Add(time.Duration(i) * time.Hour).Format("2006-01-02 15:04:05")
		rows = append(rows, RevolutRow{
			Type: typ, Product: "Current", Started: at, Completed: at, Description: desc,
			Amount: minor(amount), State: "COMPLETED", Balance: minor(balance),
		})
	}
	return RevolutCSV(rows...)
}

func minor(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func render(header []string, records [][]string) string {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	_ = w.WriteAll(records)
	return buf.String()
}
