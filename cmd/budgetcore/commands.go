package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jask/budgetcore/internal/deletequeue"
	"github.com/jask/budgetcore/internal/importer"
	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/service"
	"github.com/jask/budgetcore/internal/syncqueue"
	"github.com/jask/budgetcore/internal/tui"
)

// withApp builds the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// runJob runs job behind the progress view when --progress is set, and prints
// its summary either way.
func runJob(ctx context.Context, title string, job tui.Job) error {
	if showProgress {
		summary, err := tui.RunProgress(ctx, title, job)
		if summary != "" {
			fmt.Println(summary)
		}
		return err
	}
	log := logger.FromContext(ctx)
	summary, err := job(ctx, func(u tui.Update) {
		log.Debug().Int("done", u.Done).Int("total", u.Total).Str("detail", u.Detail).Msg(title)
	})
	if summary != "" {
		fmt.Println(summary)
	}
	return err
}

func syncJob(a *app) tui.Job {
	return func(ctx context.Context, report func(tui.Update)) (string, error) {
		// Leaving mid-run hands the remaining items to the worker.
		stop := context.AfterFunc(ctx, func() {
			if err := a.sync.NotifyBackgrounded(context.WithoutCancel(ctx)); err != nil {
				log := logger.FromContext(ctx)
				log.Warn().Err(err).Msg("notify backgrounded sync")
			}
		})
		defer stop()
		res, err := a.sync.Start(ctx, func(p syncqueue.Progress) {
			report(tui.Update{Done: p.Processed, Total: p.Total, Detail: p.UserID})
		})
		return syncSummary(res), err
	}
}

func syncSummary(res syncqueue.Result) string {
	return tui.Summary("Sync",
		tui.Field{Label: "Uploaded", Value: strconv.Itoa(res.Succeeded), Level: "ok"},
		tui.Field{Label: "Requeued", Value: strconv.Itoa(res.Requeued), Level: levelIf(res.Requeued > 0, "warn")},
		tui.Field{Label: "Failed", Value: strconv.Itoa(res.Failed), Level: levelIf(res.Failed > 0, "error")},
	)
}

func levelIf(cond bool, level string) string {
	if cond {
		return level
	}
	return ""
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a Revolut or AIB CSV export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		syncAfter, _ := cmd.Flags().GetBool("sync")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open csv: %w", err)
			}
			defer f.Close()

			res, err := a.importSvc.ImportCSV(ctx, service.ImportRequest{
				UserID:   cfg.User.ID,
				Filename: filepath.Base(args[0]),
				Reader:   f,
				Provider: importer.Provider(provider),
			})
			if errors.Is(err, importer.ErrUnknownProvider) {
				return fmt.Errorf("%w: pass --provider revolut or --provider aib", err)
			}
			if err != nil {
				return err
			}

			fields := []tui.Field{
				{Label: "Batch", Value: res.BatchID},
				{Label: "Provider", Value: string(res.Provider)},
				{Label: "Rows", Value: strconv.Itoa(res.TotalRows)},
				{Label: "Parsed", Value: strconv.Itoa(res.Parsed), Level: "ok"},
				{Label: "Skipped", Value: strconv.Itoa(res.Skipped), Level: levelIf(res.Skipped > 0, "warn")},
				{Label: "Queued", Value: strconv.Itoa(res.Queued)},
				{Label: "Transfers", Value: strconv.Itoa(res.Transfers)},
				{Label: "Balances", Value: strconv.Itoa(res.Balances.Created + res.Balances.Updated)},
				{Label: "Duplicates", Value: strconv.Itoa(len(res.Duplicates)), Level: levelIf(len(res.Duplicates) > 0, "warn")},
			}
			for _, pe := range res.SkippedDetails {
				fields = append(fields, tui.Field{Label: "  skipped", Value: pe.Error(), Level: "warn"})
			}
			for _, d := range res.Duplicates {
				fields = append(fields, tui.Field{
					Label: "  duplicate",
					Value: fmt.Sprintf("%s ~ %s (%.0f%%)", d.Imported.Title, d.Existing.Title, d.Similarity*100),
					Level: "warn",
				})
			}
			for _, e := range res.Errors {
				fields = append(fields, tui.Field{Label: "  error", Value: e.Error(), Level: "error"})
			}
			fmt.Println(tui.Summary("Import "+filepath.Base(args[0]), fields...))

			if !syncAfter {
				return nil
			}
			return runJob(ctx, "Syncing", syncJob(a))
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload queued transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return runJob(ctx, "Syncing", syncJob(a))
		})
	},
}

var deleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every remote transaction of the configured user",
	RunE: func(cmd *cobra.Command, args []string) error {
		account, _ := cmd.Flags().GetBool("account")
		retry, _ := cmd.Flags().GetBool("retry")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			switch {
			case retry:
				ok, err := a.deletes.Retry(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("no failed delete operation to retry")
				}
			case account:
				if _, err := a.deletes.QueueAccountDeletion(ctx, cfg.User.ID); err != nil {
					return err
				}
			default:
				if _, err := a.deletes.QueueDeleteAll(ctx, cfg.User.ID); err != nil {
					return err
				}
			}
			return runJob(ctx, "Deleting", func(ctx context.Context, report func(tui.Update)) (string, error) {
				res, err := a.deletes.Start(ctx, func(r deletequeue.Result) {
					report(tui.Update{Done: r.Deleted + r.Failed, Total: r.Total})
				})
				return tui.Summary("Delete",
					tui.Field{Label: "Deleted", Value: fmt.Sprintf("%d of %d", res.Deleted, res.Total), Level: "ok"},
					tui.Field{Label: "Failed", Value: strconv.Itoa(res.Failed), Level: levelIf(res.Failed > 0, "error")},
				), err
			})
		})
	},
}

var undoCmd = &cobra.Command{
	Use:   "undo <batch>",
	Short: "Undo an import batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			res, err := a.importSvc.UndoImport(ctx, cfg.User.ID, args[0])
			if err != nil {
				return err
			}
			fields := []tui.Field{
				{Label: "Dequeued", Value: strconv.Itoa(res.Dequeued)},
				{Label: "Deleted", Value: strconv.Itoa(res.Deleted)},
				{Label: "Balances restored", Value: strconv.Itoa(res.Balances.Restored)},
				{Label: "Balances removed", Value: strconv.Itoa(res.Balances.Deleted)},
			}
			for _, e := range res.Errors {
				fields = append(fields, tui.Field{Label: "  error", Value: e.Error(), Level: "error"})
			}
			title := "Undo " + args[0]
			if res.Partial() {
				title += " (partial)"
			}
			fmt.Println(tui.Summary(title, fields...))
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue state and unread notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			stats, err := a.sync.Stats(ctx)
			if err != nil {
				return err
			}
			fields := []tui.Field{
				{Label: "Pending", Value: strconv.Itoa(stats.Pending)},
				{Label: "Syncing", Value: strconv.Itoa(stats.Syncing)},
				{Label: "Completed", Value: strconv.Itoa(stats.Completed), Level: "ok"},
				{Label: "Failed", Value: strconv.Itoa(stats.Failed), Level: levelIf(stats.Failed > 0, "error")},
			}
			op, err := a.deletes.Status(ctx)
			if err != nil {
				return err
			}
			if op != nil {
				value := fmt.Sprintf("%s %s (%d of %d)", op.Kind, op.Status, op.TotalDeleted, op.TotalToDelete)
				level := ""
				if op.LastError != nil {
					value += ": " + *op.LastError
					level = "error"
				}
				fields = append(fields, tui.Field{Label: "Delete", Value: value, Level: level})
			}
			fmt.Println(tui.Summary("Queue", fields...))

			unread, err := a.center.List(ctx, true)
			if err != nil {
				return err
			}
			if len(unread) == 0 {
				return nil
			}
			notes := make([]tui.Field, 0, len(unread))
			for _, n := range unread {
				notes = append(notes, tui.Field{Label: n.CreatedAt.Local().Format("2006-01-02 15:04"), Value: n.Title + ": " + n.Body})
				if err := a.center.MarkRead(ctx, n.ID); err != nil {
					return err
				}
			}
			fmt.Println(tui.Summary("Notifications", notes...))
			return nil
		})
	},
}

var importsCmd = &cobra.Command{
	Use:   "imports",
	Short: "List recent imports",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			recs, err := a.imports.ListByUser(ctx, cfg.User.ID, limit)
			if err != nil {
				return err
			}
			fields := make([]tui.Field, 0, len(recs))
			for _, r := range recs {
				level := "ok"
				if r.UndoneAt != nil {
					level = "warn"
				}
				fields = append(fields, tui.Field{
					Label: r.BatchID,
					Value: fmt.Sprintf("%s %s %s %d/%d queued=%d %s", r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Provider, r.Filename, r.Parsed, r.TotalRows, r.Queued, r.Status),
					Level: level,
				})
			}
			fmt.Println(tui.Summary("Imports", fields...))
			return nil
		})
	},
}

var learnCmd = &cobra.Command{
	Use:   "learn <title> <category>",
	Short: "Vote for a merchant's category",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			cat, err := a.categories.GetBySlug(ctx, args[1])
			if err != nil {
				return err
			}
			if cat == nil {
				return fmt.Errorf("unknown category %q", args[1])
			}
			if err := a.categorizer.LearnMerchantCategory(ctx, args[0], cat.ID, cfg.User.ID); err != nil {
				return err
			}
			fmt.Println(tui.Summary("Learned", tui.Field{Label: args[0], Value: cat.Name, Level: "ok"}))
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add <title> <amount>",
	Short: "Queue a manually entered transaction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		slug, _ := cmd.Flags().GetString("category")
		currency, _ := cmd.Flags().GetString("currency")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			amount, err := importer.ParseAmount(args[1])
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[1], err)
			}
			draft := service.ManualDraft{UserID: cfg.User.ID, Title: args[0], Amount: amount, Currency: currency}
			if date != "" {
				draft.Date, err = time.ParseInLocation("2006-01-02", date, cfg.Location())
				if err != nil {
					return fmt.Errorf("date %q: %w", date, err)
				}
			}
			if slug != "" {
				cat, err := a.categories.GetBySlug(ctx, slug)
				if err != nil {
					return err
				}
				if cat == nil {
					return fmt.Errorf("unknown category %q", slug)
				}
				draft.CategoryID = cat.ID
			}
			tx, err := a.manual.Add(ctx, draft)
			if err != nil {
				return err
			}
			fmt.Println(tui.Summary("Queued", tui.Field{Label: tx.ID, Value: tx.Title + " " + args[1], Level: "ok"}))
			return nil
		})
	},
}

var healCmd = &cobra.Command{
	Use:   "heal",
	Short: "Clear one-sided transfer matches in remote transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.maintenance.HealTransfers(ctx, cfg.User.ID)
			if err != nil {
				return err
			}
			fmt.Println(tui.Summary("Heal", tui.Field{Label: "Repaired", Value: strconv.Itoa(n), Level: "ok"}))
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe local queues, imports and notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		prune, _ := cmd.Flags().GetDuration("prune")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if prune > 0 {
				n, err := a.maintenance.Prune(ctx, prune)
				if err != nil {
					return err
				}
				fmt.Println(tui.Summary("Prune", tui.Field{Label: "Removed", Value: strconv.Itoa(n), Level: "ok"}))
				return nil
			}
			if !yes {
				return errors.New("reset deletes all local queue data; pass --yes to confirm")
			}
			if err := a.maintenance.Reset(ctx); err != nil {
				return err
			}
			fmt.Println(tui.Summary("Reset", tui.Field{Label: "Local data", Value: "cleared", Level: "ok"}))
			return nil
		})
	},
}

func init() {
	importCmd.Flags().String("provider", "", "Skip detection: revolut or aib")
	importCmd.Flags().Bool("sync", false, "Run the sync queue after importing")

	deleteAllCmd.Flags().Bool("account", false, "Also remove balances (account deletion)")
	deleteAllCmd.Flags().Bool("retry", false, "Retry a failed delete operation")

	importsCmd.Flags().Int("limit", 20, "Number of imports to list")

	addCmd.Flags().String("date", "", "Transaction date (YYYY-MM-DD), default today")
	addCmd.Flags().String("category", "", "Category slug, default is categorized automatically")
	addCmd.Flags().String("currency", "EUR", "ISO currency code")

	resetCmd.Flags().Bool("yes", false, "Confirm the reset")
	resetCmd.Flags().Duration("prune", 0, "Only remove completed queue items older than this")
}
