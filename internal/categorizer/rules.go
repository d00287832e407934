package categorizer

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule maps a case-insensitive substring to a category slug.
type Rule struct {
	Match    string `yaml:"match"`
	Category string `yaml:"category"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRules is the built-in keyword table. Order matters: the first match wins.
var DefaultRules = []Rule{
	{"tesco", "groceries"},
	{"lidl", "groceries"},
	{"aldi", "groceries"},
	{"dunnes", "groceries"},
	{"supervalu", "groceries"},
	{"centra", "groceries"},
	{"sainsbury", "groceries"},
	{"mcdonald", "dining"},
	{"burger king", "dining"},
	{"deliveroo", "dining"},
	{"just eat", "dining"},
	{"starbucks", "dining"},
	{"costa", "dining"},
	{"restaurant", "dining"},
	{"coffee", "dining"},
	{"uber eats", "dining"},
	{"uber", "transport"},
	{"bolt.eu", "transport"},
	{"freenow", "transport"},
	{"irish rail", "transport"},
	{"dublin bus", "transport"},
	{"leap card", "transport"},
	{"circle k", "transport"},
	{"applegreen", "transport"},
	{"parking", "transport"},
	{"ryanair", "travel"},
	{"aer lingus", "travel"},
	{"booking.com", "travel"},
	{"airbnb", "travel"},
	{"hotel", "travel"},
	{"netflix", "subscriptions"},
	{"spotify", "subscriptions"},
	{"disney plus", "subscriptions"},
	{"icloud", "subscriptions"},
	{"patreon", "subscriptions"},
	{"amazon", "shopping"},
	{"ebay", "shopping"},
	{"penneys", "shopping"},
	{"primark", "shopping"},
	{"ikea", "shopping"},
	{"argos", "shopping"},
	{"zara", "shopping"},
	{"electric ireland", "bills"},
	{"bord gais", "bills"},
	{"airtricity", "bills"},
	{"vodafone", "bills"},
	{"virgin media", "bills"},
	{"insurance", "bills"},
	{"landlord", "bills"},
	{"cinema", "entertainment"},
	{"ticketmaster", "entertainment"},
	{"steam", "entertainment"},
	{"pharmacy", "health"},
	{"boots", "health"},
	{"dental", "health"},
	{"gym", "health"},
	{"atm withdrawal", "cash"},
	{"cash withdrawal", "cash"},
}

// LoadRules reads extra keyword rules from a YAML file of the form
//
//	rules:
//	  - match: "corner shop"
//	    category: groceries
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	out := make([]Rule, 0, len(f.Rules))
	for i, r := range f.Rules {
		r.Match = strings.ToLower(strings.TrimSpace(r.Match))
		r.Category = strings.ToLower(strings.TrimSpace(r.Category))
		if r.Match == "" || r.Category == "" {
			return nil, fmt.Errorf("rule %d: match and category are required", i+1)
		}
		out = append(out, r)
	}
	return out, nil
}

var (
	salaryKeywords = []string{"salary", "payroll", "wages"}
	incomeKeywords = []string{"payment", "refund", "interest"}
)

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
