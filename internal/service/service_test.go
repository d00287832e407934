package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jask/budgetcore/internal/balance"
	"github.com/jask/budgetcore/internal/categorizer"
	"github.com/jask/budgetcore/internal/database"
	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/importer"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
	"github.com/jask/budgetcore/internal/remote/memory"
	"github.com/jask/budgetcore/internal/syncqueue"
	"github.com/jask/budgetcore/internal/testdata"
)

type fixture struct {
	db     *sql.DB
	remote *memory.Store
	queue  *syncqueue.Queue
	svc    *ImportService
	cat    *categorizer.Categorizer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	migrations, err := filepath.Abs("../database/migrations")
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(dbPath, migrations))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.SeedDefaults(ctx, db))

	mem := memory.New()
	cfg := syncqueue.Config{BatchSize: 2, MaxAttempts: 5}
	queue := syncqueue.New(db, mem, cfg)
	cat := &categorizer.Categorizer{
		Categories: repository.NewCategoryRepo(db),
		Votes:      mem,
		Cache:      repository.NewVoteCacheRepo(db),
	}
	return &fixture{
		db:     db,
		remote: mem,
		queue:  queue,
		cat:    cat,
		svc: &ImportService{
			Parser:         importer.NewParser(time.UTC),
			Categorizer:    cat,
			Balances:       &balance.Service{Store: mem},
			Remote:         mem,
			Queue:          queue,
			Imports:        repository.NewImportRepo(db),
			TransferWindow: importer.DefaultTransferWindow,
		},
	}
}

func statement() string {
	return testdata.RevolutCSV(
		testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "2026-03-01 10:00:00", Completed: "2026-03-01 10:05:00", Description: "Tesco Stores 3312", Amount: "-25.50", State: "COMPLETED", Balance: "974.50"},
		testdata.RevolutRow{Type: "TRANSFER", Product: "Current", Started: "2026-03-02 09:00:00", Completed: "2026-03-02 09:00:00", Description: "To pocket EUR Holiday from EUR Main", Amount: "-100.00", State: "COMPLETED", Balance: "874.50"},
		testdata.RevolutRow{Type: "TRANSFER", Product: "Pocket", Started: "2026-03-02 09:00:01", Completed: "2026-03-02 09:00:01", Description: "To pocket EUR Holiday from EUR Main", Amount: "100.00", State: "COMPLETED", Balance: "100.00"},
		testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "2026-03-03 12:00:00", Description: "Netflix", Amount: "-12.99", State: "DECLINED"},
		testdata.RevolutRow{Type: "CARD_PAYMENT", Product: "Current", Started: "2026-03-04 08:00:00", Description: "Spotify", Amount: "-9.99", State: "PENDING"},
	)
}

func TestImportCSV(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	res, err := f.svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Filename: "revolut.csv", Reader: strings.NewReader(statement())})
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, importer.ProviderRevolut, res.Provider)
	assert.Equal(t, 5, res.TotalRows)
	assert.Equal(t, 4, res.Parsed)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.SkippedDetails, 1)
	assert.Contains(t, res.SkippedDetails[0].Reason, "DECLINED")
	assert.Equal(t, 4, res.Queued)
	assert.Equal(t, 2, res.Transfers)
	assert.Equal(t, 2, res.Balances.Created)

	items, err := f.queue.Items.ListByStatus(ctx, repository.StatusPending)
	require.NoError(t, err)
	require.Len(t, items, 4)
	byTitle := map[string]model.Transaction{}
	for _, it := range items {
		assert.Equal(t, res.BatchID, it.ImportBatchID)
		byTitle[it.Transaction.Title+"|"+it.Transaction.AccountName] = it.Transaction
	}
	assert.Equal(t, model.CategoryID("groceries"), byTitle["Tesco Stores 3312|Main"].CategoryID)
	assert.Equal(t, model.CategoryID("subscriptions"), byTitle["Spotify|Main"].CategoryID)

	debit := byTitle["To pocket EUR Holiday from EUR Main|Main"]
	credit := byTitle["To pocket EUR Holiday from EUR Main|Holiday"]
	assert.Equal(t, credit.ID, debit.MatchedTransferID)
	assert.Equal(t, debit.ID, credit.MatchedTransferID)
	assert.Equal(t, model.CategoryID(model.CategoryTransfer), debit.CategoryID)
	assert.True(t, credit.IsAnalyticsProtected)
	assert.True(t, credit.HideMerchantIcon)

	main, err := f.remote.GetBalance(ctx, balance.DocID("u1", "revolut:current:EUR:main"))
	require.NoError(t, err)
	require.NotNil(t, main)
	assert.Equal(t, int64(87450-999), main.Balance)
	pocket, err := f.remote.GetBalance(ctx, balance.DocID("u1", "revolut:pocket:EUR:holiday"))
	require.NoError(t, err)
	require.NotNil(t, pocket)
	assert.Equal(t, int64(10000), pocket.Balance)

	rec, err := f.svc.Imports.Get(ctx, res.BatchID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, repository.ImportImported, rec.Status)
	assert.Equal(t, "revolut.csv", rec.Filename)

	t.Run("re-import yields the same ids", func(t *testing.T) {
		again, err := f.svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Filename: "revolut.csv", Reader: strings.NewReader(statement())})
		require.NoError(t, err)
		assert.Equal(t, 0, again.Queued)
		assert.NotEqual(t, res.BatchID, again.BatchID)
	})
}

func TestImportCSVUnknownProvider(t *testing.T) {
	f := setup(t)
	_, err := f.svc.ImportCSV(context.Background(), ImportRequest{UserID: "u1", Reader: strings.NewReader("Date,Money\n2026-01-01,5\n")})
	assert.ErrorIs(t, err, importer.ErrUnknownProvider)
}

func TestImportCSVReportsPossibleDuplicates(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	raw := testdata.AIBCSV(testdata.AIBRow{Account: "93-11-22 12345678", Date: "05/03/2026", Description1: "DUNNES STORES", Debit: "42.10", Balance: "1000.00"})
	// Same purchase already uploaded by a manual entry with a slightly different title.
	require.NoError(t, f.remote.CreateTransaction(ctx, model.Transaction{
		ID: "manual-1", UserID: "u1", Title: "DUNNES STORE", Amount: -4210, Account: "aib:current:EUR:account-5678",
		Date: "2026-03-06T12:00:00Z", Currency: "EUR",
	}))

	res, err := f.svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Filename: "aib.csv", Reader: strings.NewReader(raw)})
	require.NoError(t, err)
	require.Len(t, res.Duplicates, 1)
	assert.Equal(t, "manual-1", res.Duplicates[0].Existing.ID)
	assert.Greater(t, res.Duplicates[0].Similarity, 0.6)
	assert.Equal(t, 1, res.Queued, "duplicates are reported, not dropped")
}

func TestUndoImport(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	res, err := f.svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Filename: "revolut.csv", Reader: strings.NewReader(statement())})
	require.NoError(t, err)

	sync, err := f.queue.Start(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 4, sync.Succeeded)

	undo, err := f.svc.UndoImport(ctx, "u1", res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 4, undo.Deleted)
	assert.Equal(t, 2, undo.Balances.Deleted)
	assert.False(t, undo.Partial())

	n, err := f.remote.CountTransactions(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
	docs, err := f.remote.ListBalances(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, docs)

	rec, err := f.svc.Imports.Get(ctx, res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, repository.ImportUndone, rec.Status)
	assert.NotNil(t, rec.UndoneAt)

	t.Run("twice", func(t *testing.T) {
		_, err := f.svc.UndoImport(ctx, "u1", res.BatchID)
		assert.ErrorIs(t, err, ErrAlreadyUndone)
	})

	t.Run("other user", func(t *testing.T) {
		_, err := f.svc.UndoImport(ctx, "u2", res.BatchID)
		assert.ErrorIs(t, err, ErrImportNotFound)
	})
}

func TestUndoImportBeforeSync(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	// Existing balance from an earlier import, replaced by this one.
	require.NoError(t, f.remote.PutBalance(ctx, model.AccountBalanceDoc{
		ID: balance.DocID("u1", "revolut:current:EUR:main"), UserID: "u1", AccountKey: "revolut:current:EUR:main", Balance: 5000,
	}))

	res, err := f.svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Filename: "revolut.csv", Reader: strings.NewReader(statement())})
	require.NoError(t, err)

	undo, err := f.svc.UndoImport(ctx, "u1", res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 4, undo.Dequeued)
	assert.Equal(t, 0, undo.Deleted)
	assert.Equal(t, 1, undo.Balances.Restored)

	main, err := f.remote.GetBalance(ctx, balance.DocID("u1", "revolut:current:EUR:main"))
	require.NoError(t, err)
	require.NotNil(t, main)
	assert.Equal(t, int64(5000), main.Balance)
	assert.Nil(t, main.PreviousBalance)
}

func TestUndoImportWithoutSnapshotIsPartial(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.svc.Balances = nil

	res, err := f.svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Filename: "revolut.csv", Reader: strings.NewReader(statement())})
	require.NoError(t, err)

	f.svc.Balances = &balance.Service{Store: f.remote}
	undo, err := f.svc.UndoImport(ctx, "u1", res.BatchID)
	require.NoError(t, err)
	assert.True(t, undo.Partial())
	assert.ErrorIs(t, undo.Errors[0], balance.ErrUndoNoSnapshot)
}

func TestManualAdd(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	svc := &ManualService{Categorizer: f.cat, Queue: f.queue}

	tx, err := svc.Add(ctx, ManualDraft{UserID: "u1", Title: "  Lidl   Rathmines ", Amount: -1845, Date: time.Date(2026, 3, 5, 18, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, "Lidl Rathmines", tx.Title)
	assert.Equal(t, model.SourceManual, tx.Source)
	assert.Equal(t, model.KindExpense, tx.Kind)
	assert.Equal(t, model.CategoryID("groceries"), tx.CategoryID)
	assert.Equal(t, "EUR", tx.Currency)
	assert.Equal(t, "2026-03-05T18:00:00Z", tx.Date)

	item, err := f.queue.Items.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.NotNil(t, item)

	t.Run("keeps a chosen category", func(t *testing.T) {
		tx, err := svc.Add(ctx, ManualDraft{UserID: "u1", Title: "Lidl", Amount: -100, CategoryID: model.CategoryID("general")})
		require.NoError(t, err)
		assert.Equal(t, model.CategoryID("general"), tx.CategoryID)
	})

	t.Run("validation", func(t *testing.T) {
		_, err := svc.Add(ctx, ManualDraft{UserID: "u1", Title: "Lidl"})
		assert.Error(t, err)
		_, err = svc.Add(ctx, ManualDraft{UserID: "u1", Amount: 5})
		assert.Error(t, err)
	})
}

func TestMaintenance(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	m := &MaintenanceService{DB: f.db, Remote: f.remote}

	t.Run("heal transfers", func(t *testing.T) {
		require.NoError(t, f.remote.CreateTransaction(ctx, model.Transaction{ID: "a", UserID: "u1", Amount: -100, Date: "2026-03-01T09:00:00Z", MatchedTransferID: "gone", IsAnalyticsProtected: true, ExcludeFromAnalytics: true}))
		n, err := m.HealTransfers(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		page, err := f.remote.ListTransactions(ctx, remote.TransactionQuery{UserID: "u1"})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Empty(t, page.Items[0].MatchedTransferID)
		assert.False(t, page.Items[0].ExcludeFromAnalytics)
	})

	t.Run("prune and reset", func(t *testing.T) {
		_, err := f.svc.ImportCSV(ctx, ImportRequest{UserID: "u1", Filename: "revolut.csv", Reader: strings.NewReader(statement())})
		require.NoError(t, err)
		_, err = f.queue.Start(ctx, nil)
		require.NoError(t, err)

		n, err := m.Prune(ctx, -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 4, n)

		require.NoError(t, m.Reset(ctx))
		imports, err := f.svc.Imports.ListByUser(ctx, "u1", 0)
		require.NoError(t, err)
		assert.Empty(t, imports)

		cats, err := repository.NewCategoryRepo(f.db).List(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, cats)
	})
}
