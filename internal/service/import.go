package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jask/budgetcore/internal/balance"
	"github.com/jask/budgetcore/internal/categorizer"
	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/importer"
	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/metrics"
	"github.com/jask/budgetcore/internal/model"
	"github.com/jask/budgetcore/internal/remote"
)

var (
	// ErrImportNotFound is returned by UndoImport for an unknown batch.
	ErrImportNotFound = errors.New("import not found")
	// ErrAlreadyUndone is returned when the batch was undone before.
	ErrAlreadyUndone = errors.New("import already undone")
)

// Enqueuer is the sync queue as seen by the services.
type Enqueuer interface {
	Enqueue(ctx context.Context, txs ...model.Transaction) (int, error)
	RemoveBatch(ctx context.Context, batchID string) (int, error)
}

// ImportService turns a bank export into queued transactions.
type ImportService struct {
	Parser         *importer.Parser
	Categorizer    *categorizer.Categorizer
	Balances       *balance.Service
	Remote         remote.TransactionStore
	Queue          Enqueuer
	Imports        *repository.ImportRepo
	TransferWindow time.Duration

	newBatchID func() string
	now        func() time.Time
}

type ImportRequest struct {
	UserID   string
	Filename string
	Reader   io.Reader
	// Provider skips detection when set.
	Provider importer.Provider
}

// ImportResult reports a finished import. Errors holds problems that did not
// stop the import (categorization, balances, duplicate lookup).
type ImportResult struct {
	BatchID        string
	Provider       importer.Provider
	TotalRows      int
	Parsed         int
	Skipped        int
	SkippedDetails []*importer.ParseError
	Queued         int
	Transfers      int
	Balances       balance.ApplyResult
	Duplicates     []PossibleDuplicate
	Errors         []error
}

// ImportCSV runs the whole pipeline. ErrUnknownProvider comes back unwrapped so
// the caller can ask for a provider and retry.
func (s *ImportService) ImportCSV(ctx context.Context, req ImportRequest) (ImportResult, error) {
	if req.UserID == "" {
		return ImportResult{}, errors.New("import: user id required")
	}
	raw, err := io.ReadAll(req.Reader)
	if err != nil {
		return ImportResult{}, fmt.Errorf("read %s: %w", req.Filename, err)
	}

	parser := s.Parser
	if parser == nil {
		parser = importer.NewParser(time.UTC)
	}
	var parsed importer.ParseResult
	if req.Provider != "" && req.Provider != importer.ProviderUnknown {
		parsed, err = parser.ParseAs(req.Provider, string(raw))
	} else {
		parsed, err = parser.Parse(string(raw))
	}
	if err != nil {
		return ImportResult{}, err
	}

	batchID := s.batchID()
	log := logger.FromContext(ctx)
	log = log.With().Str("batch", batchID).Str("user", req.UserID).Str("provider", string(parsed.Provider)).Logger()
	ctx = logger.WithContext(ctx, log)

	res := ImportResult{
		BatchID:        batchID,
		Provider:       parsed.Provider,
		TotalRows:      parsed.TotalRows,
		Parsed:         len(parsed.Transactions),
		Skipped:        parsed.Skipped,
		SkippedDetails: parsed.SkippedDetails,
	}
	metrics.ObserveImport("parsed", res.Parsed)
	metrics.ObserveImport("skipped", res.Skipped)

	converted := importer.Convert(importer.ResolveBatch(parsed.Transactions), req.UserID, batchID)
	converted = importer.MarkTransfers(converted, s.TransferWindow)
	transferCategory := model.CategoryID(model.CategoryTransfer)
	for i := range converted {
		if converted[i].MatchedTransferID != "" {
			converted[i].CategoryID = transferCategory
			res.Transfers++
		}
	}

	txs := importer.Transactions(converted)
	if s.Categorizer != nil {
		categorized, err := s.Categorizer.BatchCategorizeTransactions(ctx, txs)
		if err != nil {
			log.Warn().Err(err).Msg("categorize batch")
			res.Errors = append(res.Errors, fmt.Errorf("categorize: %w", err))
		} else {
			txs = categorized
		}
	}

	dups, err := findDuplicates(ctx, s.Remote, req.UserID, txs)
	if err != nil {
		log.Warn().Err(err).Msg("duplicate lookup")
		res.Errors = append(res.Errors, fmt.Errorf("duplicate lookup: %w", err))
	}
	res.Duplicates = dups

	if s.Balances != nil {
		applied, err := s.Balances.ApplyImport(ctx, req.UserID, batchID, balance.ComputeFinalBalances(balanceRows(converted)))
		if err != nil {
			log.Warn().Err(err).Msg("apply balances")
			res.Errors = append(res.Errors, fmt.Errorf("balances: %w", err))
		}
		res.Balances = applied
		res.Errors = append(res.Errors, applied.Errors...)
	}

	queued, err := s.Queue.Enqueue(ctx, txs...)
	if err != nil {
		return res, err
	}
	res.Queued = queued
	metrics.ObserveImport("queued", queued)

	if s.Imports != nil {
		if err := s.Imports.Insert(ctx, repository.ImportRecord{
			BatchID:   batchID,
			UserID:    req.UserID,
			Provider:  string(parsed.Provider),
			Filename:  req.Filename,
			TotalRows: res.TotalRows,
			Parsed:    res.Parsed,
			Skipped:   res.Skipped,
			Queued:    res.Queued,
			Status:    repository.ImportImported,
			CreatedAt: s.clock(),
		}); err != nil {
			return res, fmt.Errorf("record import: %w", err)
		}
	}

	log.Info().Int("rows", res.TotalRows).Int("parsed", res.Parsed).Int("skipped", res.Skipped).
		Int("queued", res.Queued).Int("transfers", res.Transfers).Int("duplicates", len(res.Duplicates)).Msg("import finished")
	return res, nil
}

func balanceRows(txs []importer.ConvertedTransaction) []balance.Row {
	rows := make([]balance.Row, len(txs))
	for i, t := range txs {
		rows[i] = balance.Row{
			AccountKey:  t.Info.Key,
			AccountName: t.Info.Name,
			AccountType: string(t.Info.Type),
			Provider:    string(providerOf(t.Source)),
			Currency:    t.Currency,
			At:          t.At,
			State:       t.State,
			Amount:      t.Amount,
			Balance:     t.Balance,
		}
	}
	return rows
}

func providerOf(src model.Source) importer.Provider {
	switch src {
	case model.SourceRevolutImport:
		return importer.ProviderRevolut
	case model.SourceAIBImport:
		return importer.ProviderAIB
	default:
		return importer.ProviderUnknown
	}
}

func (s *ImportService) batchID() string {
	if s.newBatchID != nil {
		return s.newBatchID()
	}
	return uuid.NewString()
}

func (s *ImportService) clock() time.Time {
	if s.now != nil {
		return s.now().UTC()
	}
	return time.Now().UTC()
}
