package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/DQYXACML/tracecodex"
	"github.com/DQYXACML/tracecodex/config"
	"github.com/DQYXACML/tracecodex/database"
	"github.com/DQYXACML/tracecodex/flags"
)

var errBadTxHash = errors.New("tx-hash must be a 32 byte hex hash")

func parseTxHash(s string) (common.Hash, error) {
	b := common.FromHex(s)
	if len(b) != common.HashLength {
		return common.Hash{}, errBadTxHash
	}
	return common.BytesToHash(b), nil
}

func runInspect(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		log.Error("failed to load config", "error", err)
		return err
	}
	txHash, err := parseTxHash(cfg.Trace.TxHash)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx.Context, cfg.Chain.RequestTimeout)
	defer cancel()

	inspector, err := tracecodex.NewInspector(runCtx, &cfg)
	if err != nil {
		return err
	}
	defer inspector.Close()

	report, err := inspector.Inspect(runCtx, txHash)
	if err != nil {
		return err
	}
	if ctx.Bool(summaryFlag.Name) {
		report.Facts = nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runMigrations(ctx *cli.Context) error {
	log.Info("Running migrations...")
	db, err := database.NewDB(ctx.Context, config.NewDBConfig(ctx))
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("fail to close database", "err", err)
		}
	}()
	return db.ExecuteSQLMigration(ctx.String(flags.MigrationsFlag.Name))
}

func runImportContexts(ctx *cli.Context) error {
	path := ctx.String(flags.ContextsFileFlag.Name)
	if path == "" {
		return errors.New("contexts-file is required")
	}
	contexts, err := config.LoadContextsFile(path)
	if err != nil {
		return err
	}

	db, err := database.NewDB(ctx.Context, config.NewDBConfig(ctx))
	if err != nil {
		log.Error("failed to connect to database", "err", err)
		return err
	}
	defer db.Close()

	added, err := tracecodex.ImportContexts(db, contexts)
	if err != nil {
		return err
	}
	log.Info("Contexts imported", "file", path, "added", added)
	return nil
}

var summaryFlag = &cli.BoolFlag{
	Name:  "summary",
	Usage: "Omit per-step facts from the report",
}

func NewCli() *cli.App {
	return &cli.App{
		Version:              "v0.0.1",
		Description:          "Reconstructs the execution context of every step of an EVM transaction trace",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:        "inspect",
				Description: "Trace a transaction and print the facts of each step",
				Flags:       append([]cli.Flag{summaryFlag}, flags.Flags...),
				Action:      runInspect,
			},
			{
				Name:        "migrate",
				Description: "Runs the database migrations",
				Flags:       flags.DBFlags,
				Action:      runMigrations,
			},
			{
				Name:        "import-contexts",
				Description: "Stores the contexts of a contexts file in the database",
				Flags:       append([]cli.Flag{flags.ContextsFileFlag}, flags.DBFlags...),
				Action:      runImportContexts,
			},
			{
				Name:        "version",
				Description: "print version",
				Action: func(ctx *cli.Context) error {
					cli.ShowVersion(ctx)
					return nil
				},
			},
		},
	}
}
