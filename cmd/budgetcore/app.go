package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jask/budgetcore/internal/balance"
	"github.com/jask/budgetcore/internal/categorizer"
	"github.com/jask/budgetcore/internal/config"
	"github.com/jask/budgetcore/internal/database"
	"github.com/jask/budgetcore/internal/database/repository"
	"github.com/jask/budgetcore/internal/deletequeue"
	"github.com/jask/budgetcore/internal/importer"
	"github.com/jask/budgetcore/internal/logger"
	"github.com/jask/budgetcore/internal/remote"
	"github.com/jask/budgetcore/internal/remote/dynamodb"
	"github.com/jask/budgetcore/internal/remote/memory"
	"github.com/jask/budgetcore/internal/scheduler"
	"github.com/jask/budgetcore/internal/service"
	"github.com/jask/budgetcore/internal/syncqueue"
)

// app holds everything a command needs, built once per invocation.
type app struct {
	cfg    config.Config
	db     *sql.DB
	remote remote.Store

	sched       scheduler.Scheduler
	local       *scheduler.LocalScheduler
	center      *scheduler.Center
	sync        *syncqueue.Queue
	deletes     *deletequeue.Queue
	categorizer *categorizer.Categorizer
	categories  *repository.CategoryRepo
	imports     *repository.ImportRepo
	importSvc   *service.ImportService
	manual      *service.ManualService
	maintenance *service.MaintenanceService
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := logger.FromContext(ctx)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	db, err := openDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.SeedDefaults(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}

	a := &app{cfg: cfg, db: db}
	if err := a.connect(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	a.center = scheduler.NewCenter(repository.NewNotificationRepo(db), a.sched)

	a.sync = syncqueue.New(db, a.remote, syncqueue.Config{
		BatchSize:        cfg.Sync.BatchSize,
		BatchDelay:       cfg.Sync.BatchDelay,
		MaxAttempts:      cfg.Sync.MaxAttempts,
		RateLimitBackoff: cfg.Sync.RateLimitBackoff,
		PurgeAfter:       cfg.Sync.PurgeAfter,
		LeaseTimeout:     cfg.Sync.LeaseTimeout,
	})
	a.sync.Notifier = a.center
	a.sync.Scheduler = a.sched

	delCfg := deletequeue.DefaultConfig()
	delCfg.BatchSize = cfg.Delete.BatchSize
	delCfg.ItemDelay = cfg.Delete.ItemDelay
	delCfg.BatchDelay = cfg.Delete.BatchDelay
	delCfg.RateLimitBackoff = cfg.Delete.RateLimitBackoff
	delCfg.PollInterval = cfg.Delete.PollInterval
	delCfg.TaskInterval = cfg.Worker.Interval
	delCfg.LeaseTimeout = cfg.Delete.LeaseTimeout
	a.deletes = deletequeue.New(db, a.sync, a.remote, a.remote, delCfg)
	a.deletes.Notifier = a.center
	a.deletes.Scheduler = a.sched

	var rules []categorizer.Rule
	if cfg.Import.RulesFile != "" {
		rules, err = categorizer.LoadRules(cfg.Import.RulesFile)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load rules: %w", err)
		}
	}
	a.categories = repository.NewCategoryRepo(db)
	a.categorizer = &categorizer.Categorizer{
		Categories: a.categories,
		Votes:      a.remote,
		Cache:      repository.NewVoteCacheRepo(db),
		Rules:      rules,
	}

	a.imports = repository.NewImportRepo(db)
	a.importSvc = &service.ImportService{
		Parser:         importer.NewParser(cfg.Location()),
		Categorizer:    a.categorizer,
		Balances:       &balance.Service{Store: a.remote},
		Remote:         a.remote,
		Queue:          a.sync,
		Imports:        a.imports,
		TransferWindow: cfg.Import.TransferWindow,
	}
	a.manual = &service.ManualService{Categorizer: a.categorizer, Queue: a.sync}
	a.maintenance = &service.MaintenanceService{DB: db, Remote: a.remote}

	if n, err := a.sync.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("recover sync queue")
	} else if n > 0 {
		log.Info().Int("items", n).Msg("reverted interrupted sync items")
	}
	if reset, err := a.deletes.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("recover delete queue")
	} else if reset {
		log.Info().Msg("delete operation abandoned by a dead run is pending again")
	}
	return a, nil
}

// openDB migrates and opens the local store. Without a migrations directory the
// embedded migrations run over the opened handle.
func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.MigrationsPath != "" {
		if err := database.RunMigrations(cfg.Path, cfg.MigrationsPath); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	db, err := database.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.MigrationsPath == "" {
		if err := database.RunMigrationsWithDB(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, nil
}

// connect builds the remote store and scheduler for the configured drivers.
func (a *app) connect(ctx context.Context) error {
	cfg := a.cfg

	var awsCfg aws.Config
	if cfg.Remote.Driver == "dynamodb" || cfg.Scheduler.Driver == "sqs" {
		var err error
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Remote.Region))
		if err != nil {
			return fmt.Errorf("unable to load AWS SDK config: %w", err)
		}
	}

	switch cfg.Remote.Driver {
	case "memory":
		a.remote = memory.New()
	default:
		client := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if cfg.Remote.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Remote.Endpoint)
			}
		})
		store, err := dynamodb.New(client, cfg.Remote.TransactionsTable, cfg.Remote.BalancesTable, cfg.Remote.VotesTable)
		if err != nil {
			return err
		}
		a.remote = store
	}

	a.local = scheduler.NewLocalScheduler(cfg.Scheduler.BackgroundAvailable)
	switch cfg.Scheduler.Driver {
	case "sqs":
		a.sched = scheduler.NewSQSScheduler(sqs.NewFromConfig(awsCfg), cfg.Scheduler.QueueURL, cfg.Scheduler.BackgroundAvailable)
	default:
		a.sched = a.local
	}
	return nil
}

func (a *app) Close() error {
	return a.db.Close()
}
