package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/joelkehle/challenge-pipeline/internal/cli"
	"github.com/joelkehle/challenge-pipeline/internal/config"
)

func main() {
	cli.Main("pipeline-runs", run)
}

func run(ctx context.Context) error {
	fs := flag.NewFlagSet("pipeline-runs", flag.ContinueOnError)
	configPath := cli.ConfigFlag(fs)
	outputDir := fs.String("output-dir", "", "Output directory holding the run ledger")
	limit := fs.Int("limit", 20, "Number of recent runs to list")
	runID := fs.String("run", "", "Show stages and evaluation outcomes for one run")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return &cli.UsageError{Err: err}
	}
	if *limit <= 0 {
		return cli.Usagef("-limit must be positive")
	}
	set := cli.Visited(fs)
	env, err := cli.Setup(ctx, "pipeline-runs", *configPath, func(cfg *config.Config) error {
		if set["output-dir"] {
			cfg.OutputDir = *outputDir
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer env.Close()
	if env.Ledger == nil {
		return &cli.UsageError{Err: errors.New("run ledger is disabled or could not be opened")}
	}

	if *runID != "" {
		return cli.ShowRun(ctx, os.Stdout, env.Ledger, *runID)
	}
	return cli.ListRuns(ctx, os.Stdout, env.Ledger, *limit)
}
