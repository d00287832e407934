package importer

import (
	"regexp"
	"strings"
	"unicode"
)

// AccountType classifies a logical account.
type AccountType string

const (
	AccountCurrent AccountType = "current"
	AccountSavings AccountType = "savings"
	AccountPocket  AccountType = "pocket"
)

// AccountClues is the text a row offers about which account it belongs to.
type AccountClues struct {
	Description    string
	Product        string
	Currency       string
	Provider       Provider
	PocketNameHint string
	VaultNameHint  string
	AccountRef     string
}

// AccountInfo is the stable identity of a logical account.
type AccountInfo struct {
	Key  string
	Name string
	Type AccountType
}

var (
	pocketTransferRe   = regexp.MustCompile(`(?i)^(?:to|from) pocket [a-z]{3} (.+?)(?: (?:from|to) [a-z]{3} .+)?$`)
	pocketWithdrawalRe = regexp.MustCompile(`(?i)^pocket withdrawal [a-z]{3} (.+)$`)
	vaultNamedRe       = regexp.MustCompile(`(?i)^(?:to|from) [a-z]{3} (.+?) vault$`)
	vaultFromRe        = regexp.MustCompile(`(?i)^(?:to|from) vault [a-z]{3} (.+)$`)
)

// PocketName extracts a pocket name from a Revolut transfer description.
func PocketName(desc string) string {
	desc = strings.TrimSpace(desc)
	for _, re := range []*regexp.Regexp{pocketTransferRe, pocketWithdrawalRe} {
		if m := re.FindStringSubmatch(desc); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// VaultName extracts a savings vault name from a Revolut transfer description.
func VaultName(desc string) string {
	desc = strings.TrimSpace(desc)
	for _, re := range []*regexp.Regexp{vaultFromRe, vaultNamedRe} {
		if m := re.FindStringSubmatch(desc); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// ResolveAccountInfo maps row clues to an account. It is pure.
func ResolveAccountInfo(c AccountClues) AccountInfo {
	provider := Provider(strings.ToLower(string(c.Provider)))
	product := strings.ToLower(strings.TrimSpace(c.Product))
	currency := strings.ToUpper(strings.TrimSpace(c.Currency))

	var info AccountInfo
	switch {
	case provider == ProviderAIB:
		info.Type = AccountCurrent
		if strings.Contains(product, "savings") {
			info.Type = AccountSavings
		}
		info.Name = "Account"
		if last4 := lastDigits(c.AccountRef, 4); last4 != "" {
			info.Name = "Account ••" + last4
		}
	case product == "pocket":
		info.Type = AccountPocket
		info.Name = firstNonEmpty(PocketName(c.Description), c.PocketNameHint, "Pocket")
	case product == "savings" || product == "vault":
		info.Type = AccountSavings
		info.Name = firstNonEmpty(VaultName(c.Description), c.VaultNameHint, "Savings")
	default:
		info.Type = AccountCurrent
		info.Name = "Main"
	}
	info.Key = AccountKey(provider, info.Type, currency, info.Name)
	return info
}

// AccountKey builds provider:type:currency:slug(name).
func AccountKey(provider Provider, typ AccountType, currency, name string) string {
	return strings.Join([]string{string(provider), string(typ), strings.ToUpper(currency), Slug(name)}, ":")
}

// Slug lower-cases s and joins its alphanumeric runs with dashes.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
			continue
		}
		dash = true
	}
	return b.String()
}

// AccountHint carries sub-account names learned from other rows in the batch.
type AccountHint struct {
	PocketName string
	VaultName  string
}

// BuildAccountHints scans rows in order keeping the last pocket and vault name
// seen per currency. Rows before the first named row borrow the first name
// seen later in the batch for their currency.
func BuildAccountHints(rows []ParsedTransaction) []AccountHint {
	hints := make([]AccountHint, len(rows))

	nextPocket := make([]string, len(rows))
	nextVault := make([]string, len(rows))
	laterPocket := map[string]string{}
	laterVault := map[string]string{}
	for i := len(rows) - 1; i >= 0; i-- {
		cur := strings.ToUpper(rows[i].Currency)
		if n := PocketName(rows[i].Description); n != "" {
			laterPocket[cur] = n
		}
		if n := VaultName(rows[i].Description); n != "" {
			laterVault[cur] = n
		}
		nextPocket[i] = laterPocket[cur]
		nextVault[i] = laterVault[cur]
	}

	lastPocket := map[string]string{}
	lastVault := map[string]string{}
	for i, row := range rows {
		cur := strings.ToUpper(row.Currency)
		if n := PocketName(row.Description); n != "" {
			lastPocket[cur] = n
		}
		if n := VaultName(row.Description); n != "" {
			lastVault[cur] = n
		}
		hints[i] = AccountHint{
			PocketName: firstNonEmpty(lastPocket[cur], nextPocket[i]),
			VaultName:  firstNonEmpty(lastVault[cur], nextVault[i]),
		}
	}
	return hints
}

// ResolvedRow is a parsed row with its account.
type ResolvedRow struct {
	ParsedTransaction
	Account AccountInfo
}

// ResolveBatch runs the hint prepass and resolves every row.
func ResolveBatch(rows []ParsedTransaction) []ResolvedRow {
	hints := BuildAccountHints(rows)
	out := make([]ResolvedRow, len(rows))
	for i, row := range rows {
		out[i] = ResolvedRow{
			ParsedTransaction: row,
			Account: ResolveAccountInfo(AccountClues{
				Description:    row.Description,
				Product:        row.Product,
				Currency:       row.Currency,
				Provider:       row.Provider,
				PocketNameHint: hints[i].PocketName,
				VaultNameHint:  hints[i].VaultName,
				AccountRef:     row.AccountRef,
			}),
		}
	}
	return out
}

func lastDigits(s string, n int) string {
	var digits []rune
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) > n {
		digits = digits[len(digits)-n:]
	}
	return string(digits)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
