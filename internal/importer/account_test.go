package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveAccountInfo(t *testing.T) {
	cases := []struct {
		name  string
		clues AccountClues
		want  AccountInfo
	}{
		{
			name:  "revolut current",
			clues: AccountClues{Provider: ProviderRevolut, Product: "Current", Currency: "eur", Description: "Tesco"},
			want:  AccountInfo{Key: "revolut:current:EUR:main", Name: "Main", Type: AccountCurrent},
		},
		{
			name:  "pocket deposit names the pocket",
			clues: AccountClues{Provider: ProviderRevolut, Product: "Pocket", Currency: "EUR", Description: "To pocket EUR Holiday from EUR Main"},
			want:  AccountInfo{Key: "revolut:pocket:EUR:holiday", Name: "Holiday", Type: AccountPocket},
		},
		{
			name:  "pocket withdrawal",
			clues: AccountClues{Provider: ProviderRevolut, Product: "Pocket", Currency: "EUR", Description: "Pocket withdrawal EUR Summer Trip"},
			want:  AccountInfo{Key: "revolut:pocket:EUR:summer-trip", Name: "Summer Trip", Type: AccountPocket},
		},
		{
			name:  "from pocket",
			clues: AccountClues{Provider: ProviderRevolut, Product: "Pocket", Currency: "EUR", Description: "From pocket EUR Holiday to EUR Main"},
			want:  AccountInfo{Key: "revolut:pocket:EUR:holiday", Name: "Holiday", Type: AccountPocket},
		},
		{
			name:  "pocket falls back to hint",
			clues: AccountClues{Provider: ProviderRevolut, Product: "Pocket", Currency: "EUR", Description: "Interest", PocketNameHint: "Holiday"},
			want:  AccountInfo{Key: "revolut:pocket:EUR:holiday", Name: "Holiday", Type: AccountPocket},
		},
		{
			name:  "pocket without any name",
			clues: AccountClues{Provider: ProviderRevolut, Product: "Pocket", Currency: "EUR", Description: "Interest"},
			want:  AccountInfo{Key: "revolut:pocket:EUR:pocket", Name: "Pocket", Type: AccountPocket},
		},
		{
			name:  "vault deposit",
			clues: AccountClues{Provider: ProviderRevolut, Product: "Savings", Currency: "EUR", Description: "To EUR Rainy Day vault"},
			want:  AccountInfo{Key: "revolut:savings:EUR:rainy-day", Name: "Rainy Day", Type: AccountSavings},
		},
		{
			name:  "vault withdrawal",
			clues: AccountClues{Provider: ProviderRevolut, Product: "Savings", Currency: "GBP", Description: "From vault GBP Rainy Day"},
			want:  AccountInfo{Key: "revolut:savings:GBP:rainy-day", Name: "Rainy Day", Type: AccountSavings},
		},
		{
			name:  "vault falls back to hint then default",
			clues: AccountClues{Provider: ProviderRevolut, Product: "Savings", Currency: "EUR", Description: "Interest earned"},
			want:  AccountInfo{Key: "revolut:savings:EUR:savings", Name: "Savings", Type: AccountSavings},
		},
		{
			name:  "aib current",
			clues: AccountClues{Provider: ProviderAIB, Currency: "EUR", AccountRef: "93-11-22 12345678"},
			want:  AccountInfo{Key: "aib:current:EUR:account-5678", Name: "Account ••5678", Type: AccountCurrent},
		},
		{
			name:  "aib savings product",
			clues: AccountClues{Provider: ProviderAIB, Product: "Online Savings", Currency: "EUR", AccountRef: "1234"},
			want:  AccountInfo{Key: "aib:savings:EUR:account-1234", Name: "Account ••1234", Type: AccountSavings},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveAccountInfo(tc.clues))
		})
	}
}

func TestBuildAccountHints(t *testing.T) {
	rows := []ParsedTransaction{
		{Product: "Pocket", Currency: "EUR", Description: "Pocket interest"},
		{Product: "Pocket", Currency: "EUR", Description: "To pocket EUR Holiday from EUR Main"},
		{Product: "Pocket", Currency: "GBP", Description: "Pocket interest"},
		{Product: "Pocket", Currency: "EUR", Description: "Pocket interest"},
		{Product: "Pocket", Currency: "EUR", Description: "To pocket EUR Car from EUR Main"},
		{Product: "Pocket", Currency: "EUR", Description: "Pocket fee"},
	}
	hints := BuildAccountHints(rows)
	assert.Equal(t, "Holiday", hints[0].PocketName, "borrows the first later name")
	assert.Equal(t, "Holiday", hints[1].PocketName)
	assert.Equal(t, "", hints[2].PocketName, "hints do not cross currencies")
	assert.Equal(t, "Holiday", hints[3].PocketName)
	assert.Equal(t, "Car", hints[5].PocketName)

	for i := range rows {
		rows[i].Provider = ProviderRevolut
	}
	resolved := ResolveBatch(rows)
	assert.Equal(t, "revolut:pocket:EUR:holiday", resolved[0].Account.Key)
	assert.Equal(t, "revolut:pocket:EUR:car", resolved[4].Account.Key)
	assert.Equal(t, "Pocket", resolved[2].Account.Name)
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "rainy-day", Slug("  Rainy   Day! "))
	assert.Equal(t, "account-1234", Slug("Account ••1234"))
	assert.Equal(t, "", Slug("--"))
}
