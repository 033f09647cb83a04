package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/dvloznov/ledger-reconciler/internal/audit"
	"github.com/dvloznov/ledger-reconciler/internal/config"
	"github.com/dvloznov/ledger-reconciler/internal/drive"
	"github.com/dvloznov/ledger-reconciler/internal/locking"
	"github.com/dvloznov/ledger-reconciler/internal/logger"
	"github.com/dvloznov/ledger-reconciler/internal/match"
	"github.com/dvloznov/ledger-reconciler/internal/reconcile"
	"github.com/dvloznov/ledger-reconciler/internal/sheets"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runReconcile(log)
	case "discover":
		runDiscover(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Ledger Reconciler CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  reconciler <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run       Run one reconciliation pass over all bank partitions")
	fmt.Println("  discover  Refresh the bank partition map from Drive")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'reconciler <command> -h' for more information on a command.")
}

func runReconcile(log zerolog.Logger) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	force := fs.Bool("force", false, "Re-evaluate matched movements, replacing existing matches")
	configDir := fs.String("config", "", "Directory containing reconciler.yaml")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Loading configuration failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	sheetsClient, err := sheets.NewClient(ctx, logger.WithComponent(log, "sheets"), opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Creating sheets client failed")
	}

	partitions, err := drive.NewPartitionCache(ctx, logger.WithComponent(log, "drive"), cfg.DriveRootFolderID, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Creating partition cache failed")
	}
	if _, err := partitions.Refresh(ctx); err != nil {
		log.Fatal().Err(err).Msg("Discovering bank partitions failed")
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	locks := locking.NewRedisLockManager(rdb)

	var recorder reconcile.RunRecorder
	if cfg.BigQueryProject != "" {
		bq, err := audit.NewRecorder(ctx, cfg.BigQueryProject, cfg.BigQueryDataset, logger.WithComponent(log, "audit"))
		if err != nil {
			log.Fatal().Err(err).Msg("Creating run recorder failed")
		}
		defer bq.Close()
		recorder = bq
	}

	reconciler := reconcile.New(
		reconcile.Config{
			LedgerSpreadsheetID: cfg.LedgerSpreadsheetID,
			Ranges: reconcile.LedgerRanges{
				Issued:   cfg.IssuedRange,
				Received: cfg.ReceivedRange,
				Payments: cfg.PaymentsRange,
			},
			AcquireTimeout: cfg.LockAcquireTimeout,
			LockTTL:        cfg.LockTTL,
			MovementLimit:  cfg.MovementLimit,
		},
		locks,
		partitions,
		sheetsClient,
		sheetsClient,
		sheetsClient,
		match.New(match.DefaultConfig()),
		recorder,
		logger.WithComponent(log, "reconcile"),
	)

	outcome, err := reconciler.ReconcileAll(ctx, reconcile.Options{Force: *force})
	if err != nil {
		log.Fatal().Err(err).Msg("Reconciliation failed")
	}

	out, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Encoding outcome failed")
	}
	fmt.Println(string(out))

	if outcome.Skipped {
		os.Exit(2)
	}
}

func runDiscover(log zerolog.Logger) {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	configDir := fs.String("config", "", "Directory containing reconciler.yaml")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Loading configuration failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	partitions, err := drive.NewPartitionCache(ctx, logger.WithComponent(log, "drive"), cfg.DriveRootFolderID, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("Creating partition cache failed")
	}

	discovered, err := partitions.Refresh(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Discovering bank partitions failed")
	}

	for bank, sheetID := range discovered {
		fmt.Printf("%s\t%s\n", bank, sheetID)
	}
	fmt.Printf("\n%d bank partition(s) discovered.\n", len(discovered))
}
