package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jask/budgetcore/internal/config"
	"github.com/jask/budgetcore/internal/tui"
)

var configCmd = &cobra.Command{
	Use:   "config KEY=VALUE...",
	Short: "Persist settings such as user.id or remote.driver to the config file",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		updated, err := applySettings(cfg, args)
		if err != nil {
			return err
		}
		if err := config.Save(updated); err != nil {
			return err
		}
		cfg = updated

		fields := make([]tui.Field, 0, len(args))
		for _, arg := range args {
			key, value, _ := strings.Cut(arg, "=")
			fields = append(fields, tui.Field{Label: key, Value: value, Level: "ok"})
		}
		fmt.Println(tui.Summary("Config", fields...))
		return nil
	},
}

// settings maps the keys the config command may write to their fields.
var settings = map[string]func(c *config.Config) *string{
	"database.path":             func(c *config.Config) *string { return &c.Database.Path },
	"user.id":                   func(c *config.Config) *string { return &c.User.ID },
	"remote.driver":             func(c *config.Config) *string { return &c.Remote.Driver },
	"remote.region":             func(c *config.Config) *string { return &c.Remote.Region },
	"remote.endpoint":           func(c *config.Config) *string { return &c.Remote.Endpoint },
	"remote.transactions_table": func(c *config.Config) *string { return &c.Remote.TransactionsTable },
	"remote.balances_table":     func(c *config.Config) *string { return &c.Remote.BalancesTable },
	"remote.votes_table":        func(c *config.Config) *string { return &c.Remote.VotesTable },
	"scheduler.driver":          func(c *config.Config) *string { return &c.Scheduler.Driver },
	"scheduler.queue_url":       func(c *config.Config) *string { return &c.Scheduler.QueueURL },
	"import.timezone":           func(c *config.Config) *string { return &c.Import.Timezone },
	"import.rules_file":         func(c *config.Config) *string { return &c.Import.RulesFile },
	"log.level":                 func(c *config.Config) *string { return &c.Log.Level },
}

// applySettings returns base with every KEY=VALUE pair applied.
func applySettings(base config.Config, pairs []string) (config.Config, error) {
	c := base
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return base, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		field, known := settings[strings.ToLower(strings.TrimSpace(key))]
		if !known {
			return base, fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(settingKeys(), ", "))
		}
		*field(&c) = strings.TrimSpace(value)
	}
	return c, nil
}

func settingKeys() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
