package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/budgetcore/internal/testdata"
)

func TestDetectProvider(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want Provider
	}{
		{"revolut", testdata.RevolutCSV(), ProviderRevolut},
		{"aib", testdata.AIBCSV(), ProviderAIB},
		{"revolut with bom and padding", "\ufeff Type , Product,Started Date,Completed Date,Description,Amount,Fee,Currency,State,Balance\n", ProviderRevolut},
		{"aib without optional columns", "Posted Account,Posted Transactions Date,Description1,Debit Amount,Credit Amount,Balance\n", ProviderAIB},
		{"renamed column", "Type,Product,Start Date,Completed Date,Description,Amount,Fee,Currency,State,Balance\n", ProviderUnknown},
		{"missing column", "Type,Product,Started Date,Completed Date,Description,Amount,Currency,State,Balance\n", ProviderUnknown},
		{"empty", "", ProviderUnknown},
		{"other bank", "Date,Amount,Description\n2026-01-01,1.00,x\n", ProviderUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectProvider(tc.raw))
		})
	}
}

func TestParseUnknownProvider(t *testing.T) {
	_, err := Parse("Date,Amount\n2026-01-01,1\n")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = ParseAs(ProviderAIB, testdata.RevolutCSV())
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestParseRevolut(t *testing.T) {
	raw := testdata.RevolutCSV(
		testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "2026-02-01 10:00:00", Completed: "2026-02-02 09:00:00", Description: "Tesco, Dublin", Amount: "-1,234.50", Fee: "0.50", State: "COMPLETED", Balance: "100.00"},
		testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "2026-02-03", Description: "Spotify", Amount: "-9.99", State: "PENDING"},
		testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "2026-02-03 10:00:00", Description: "Declined", Amount: "-5", State: "DECLINED"},
		testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "yesterday", Description: "Bad date", Amount: "-5", State: "COMPLETED"},
		testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "2026-02-03 10:00:00", Description: "Bad amount", Amount: "abc", State: "COMPLETED"},
		testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "2026-02-03 10:00:00", Description: "Bad balance", Amount: "-1", State: "COMPLETED", Balance: "n/a"},
	)
	raw += "TOPUP,Current,2026-02-04 10:00:00\n\n"

	res, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ProviderRevolut, res.Provider)
	assert.Equal(t, 7, res.TotalRows)
	assert.Equal(t, res.TotalRows, len(res.Transactions)+res.Skipped)
	require.Len(t, res.Transactions, 2)
	require.Len(t, res.SkippedDetails, 5)

	first := res.Transactions[0]
	assert.Equal(t, 1, first.Row)
	assert.Equal(t, "Tesco, Dublin", first.Description)
	assert.Equal(t, int64(-123500), first.Amount)
	assert.Equal(t, int64(50), first.Fee)
	require.NotNil(t, first.Balance)
	assert.Equal(t, int64(10000), *first.Balance)
	require.NotNil(t, first.CompletedAt)
	assert.Equal(t, time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC), first.EffectiveAt())

	pending := res.Transactions[1]
	assert.Equal(t, StatePending, pending.State)
	assert.Nil(t, pending.Balance)
	assert.Nil(t, pending.CompletedAt)

	assert.Equal(t, 3, res.SkippedDetails[0].Row)
	assert.Contains(t, res.SkippedDetails[0].Reason, "state DECLINED not importable")
	assert.Contains(t, res.SkippedDetails[1].Reason, "started date")
	assert.Contains(t, res.SkippedDetails[2].Reason, "amount")
	assert.Contains(t, res.SkippedDetails[3].Reason, "balance")
	assert.Contains(t, res.SkippedDetails[4].Reason, "expected 10 columns")
}

func TestParseAIB(t *testing.T) {
	raw := testdata.AIBCSV(
		testdata.AIBRow{Account: "93-11-22 12345678", Date: "05/03/2026", Description1: "VDP-TESCO", Description2: "STORE 12", Debit: "42.10", Balance: "957.90", Type: "Debit"},
		testdata.AIBRow{Account: "93-11-22 12345678", Date: "6/3/2026", Description1: "SALARY ACME", Credit: "2,500.00", Balance: "3,457.90", Type: "Credit"},
		testdata.AIBRow{Account: "93-11-22 12345678", Date: "2026-03-07", Description1: "WRONG DATE", Debit: "1.00"},
		testdata.AIBRow{Account: "93-11-22 12345678", Date: "07/03/2026", Description1: "NO AMOUNT"},
	)

	res, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, ProviderAIB, res.Provider)
	assert.Equal(t, 4, res.TotalRows)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Transactions, 2)

	debit := res.Transactions[0]
	assert.Equal(t, int64(-4210), debit.Amount)
	assert.Equal(t, "VDP-TESCO STORE 12", debit.Description)
	assert.Equal(t, "EUR", debit.Currency)
	assert.Equal(t, StateCompleted, debit.State)
	assert.Equal(t, "93-11-22 12345678", debit.AccountRef)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), debit.StartedAt)

	credit := res.Transactions[1]
	assert.Equal(t, int64(250000), credit.Amount)
	require.NotNil(t, credit.Balance)
	assert.Equal(t, int64(345790), *credit.Balance)
}

func TestParserLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Dublin")
	require.NoError(t, err)
	raw := testdata.RevolutCSV(testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "2026-07-01 12:00:00", Description: "x", Amount: "-1", State: "PENDING"})

	res, err := NewParser(loc).Parse(raw)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, time.Date(2026, 7, 1, 11, 0, 0, 0, time.UTC), res.Transactions[0].StartedAt.UTC())
}

func TestParseMinor(t *testing.T) {
	cases := map[string]int64{
		"0":         0,
		"12":        1200,
		"-12.5":     -1250,
		"+1,000.01": 100001,
		".5":        50,
		"1.005":     101,
		"-0.994":    -99,
	}
	for in, want := range cases {
		got, err := parseMinor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "-", "1.2.3", "€5", "1e3"} {
		_, err := parseMinor(bad)
		assert.Error(t, err, bad)
	}
}
