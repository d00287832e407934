// Package importer turns bank CSV exports into budget transactions.
package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Provider identifies the bank that produced an export.
type Provider string

const (
	ProviderRevolut Provider = "revolut"
	ProviderAIB     Provider = "aib"
	ProviderUnknown Provider = "unknown"
)

// Transaction states as exported by the providers.
const (
	StateCompleted = "COMPLETED"
	StatePending   = "PENDING"
)

// ErrUnknownProvider means the header matched no supported export format.
var ErrUnknownProvider = errors.New("unknown csv provider")

// ParsedTransaction is one provider row in normalized form.
type ParsedTransaction struct {
	Provider    Provider
	Row         int
	Type        string
	Product     string
	Description string
	Amount      int64
	Fee         int64
	Currency    string
	StartedAt   time.Time
	CompletedAt *time.Time
	State       string
	Balance     *int64
	AccountRef  string
	Raw         []string
}

// EffectiveAt is the time the row settled, or when it started if it has not.
func (p ParsedTransaction) EffectiveAt() time.Time {
	if p.CompletedAt != nil {
		return *p.CompletedAt
	}
	return p.StartedAt
}

// ParseError records why a data row was skipped.
type ParseError struct {
	Row    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// ParseResult holds every data row, either parsed or skipped.
type ParseResult struct {
	Provider       Provider
	Transactions   []ParsedTransaction
	TotalRows      int
	Skipped        int
	SkippedDetails []*ParseError
}

func (r *ParseResult) skip(row int, format string, args ...interface{}) {
	r.Skipped++
	r.SkippedDetails = append(r.SkippedDetails, &ParseError{Row: row, Reason: fmt.Sprintf(format, args...)})
}

type rowParser func(p *Parser, rec []string, cols columns) (ParsedTransaction, error)

type providerFormat struct {
	provider Provider
	required []string
	parse    rowParser
}

var formats = []providerFormat{
	{provider: ProviderRevolut, required: revolutRequired, parse: parseRevolutRow},
	{provider: ProviderAIB, required: aibRequired, parse: parseAIBRow},
}

// columns maps a normalized header name to its index.
type columns map[string]int

func (c columns) get(rec []string, name string) string {
	idx, ok := c[name]
	if !ok || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func (c columns) hasAll(names []string) bool {
	for _, n := range names {
		if _, ok := c[n]; !ok {
			return false
		}
	}
	return true
}

// Parser parses exports with dates interpreted in Location.
type Parser struct {
	Location *time.Location
}

// NewParser returns a parser for loc. A nil loc means UTC.
func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{Location: loc}
}

var defaultParser = NewParser(time.UTC)

// DetectProvider inspects the header row. A header missing any required column
// of a format never matches that format.
func DetectProvider(raw string) Provider {
	_, cols, _, err := readHeader(raw)
	if err != nil {
		return ProviderUnknown
	}
	return detect(cols)
}

func detect(cols columns) Provider {
	for _, f := range formats {
		if cols.hasAll(f.required) {
			return f.provider
		}
	}
	return ProviderUnknown
}

// Parse detects the provider and parses with UTC dates.
func Parse(raw string) (ParseResult, error) { return defaultParser.Parse(raw) }

// ParseAs parses raw as the given provider with UTC dates.
func ParseAs(provider Provider, raw string) (ParseResult, error) {
	return defaultParser.ParseAs(provider, raw)
}

// Parse detects the provider and parses every data row.
func (p *Parser) Parse(raw string) (ParseResult, error) {
	return p.ParseAs(DetectProvider(raw), raw)
}

// ParseAs parses raw as provider. Malformed rows are skipped and recorded; the
// only error is ErrUnknownProvider.
func (p *Parser) ParseAs(provider Provider, raw string) (ParseResult, error) {
	var format *providerFormat
	for i := range formats {
		if formats[i].provider == provider {
			format = &formats[i]
		}
	}
	if format == nil {
		return ParseResult{Provider: ProviderUnknown}, ErrUnknownProvider
	}

	r, cols, width, err := readHeader(raw)
	if err != nil || !cols.hasAll(format.required) {
		return ParseResult{Provider: ProviderUnknown}, ErrUnknownProvider
	}

	res := ParseResult{Provider: provider}
	row := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		row++
		res.TotalRows++
		if err != nil {
			res.skip(row, "malformed csv: %v", err)
			continue
		}
		if len(rec) != width {
			res.skip(row, "expected %d columns, got %d", width, len(rec))
			continue
		}
		tx, err := format.parse(p, rec, cols)
		if err != nil {
			res.skip(row, "%v", err)
			continue
		}
		tx.Provider = provider
		tx.Row = row
		tx.Raw = rec
		res.Transactions = append(res.Transactions, tx)
	}
	return res, nil
}

const bom = "\ufeff"

func readHeader(raw string) (*csv.Reader, columns, int, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(raw, bom)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, nil, 0, err
	}
	cols := make(columns, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if _, dup := cols[name]; !dup && name != "" {
			cols[name] = i
		}
	}
	return r, cols, len(header), nil
}

// ParseAmount converts user input such as "-12.50" to minor units, using the
// same rules as the CSV amount columns.
func ParseAmount(s string) (int64, error) { return parseMinor(s) }

// parseMinor converts a decimal amount such as "-1,234.5" to minor units.
func parseMinor(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, errors.New("empty amount")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
		}
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	round := false
	if len(frac) > 2 {
		round = frac[2] >= '5'
		frac = frac[:2]
	}
	for len(frac) < 2 {
		frac += "0"
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)
	v := units*100 + cents
	if round {
		v++
	}
	if neg {
		v = -v
	}
	return v, nil
}

// parseOptionalMinor returns nil for a blank cell.
func parseOptionalMinor(s string) (*int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := parseMinor(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseTime(s string, loc *time.Location, layouts ...string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
