package main

import (
	"context"
	"flag"
	"os"

	"github.com/joelkehle/challenge-pipeline/internal/cli"
	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/pipeline"
)

func main() {
	cli.Main("export-pdf", run)
}

func run(ctx context.Context) error {
	fs := flag.NewFlagSet("export-pdf", flag.ContinueOnError)
	var (
		configPath = cli.ConfigFlag(fs)
		outputDir  = fs.String("output-dir", "", "Directory holding evaluations.json")
		title      = fs.String("title", "", "Report title")
		paper      = fs.String("paper", "", "Paper size: letter or a4")
		chromePath = fs.String("chrome-path", "", "Chromium executable (default: auto-detect)")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return &cli.UsageError{Err: err}
	}
	set := cli.Visited(fs)
	env, err := cli.Setup(ctx, "export-pdf", *configPath, func(cfg *config.Config) error {
		if set["output-dir"] {
			cfg.OutputDir = *outputDir
		}
		if set["title"] {
			cfg.Report.Title = *title
		}
		if set["paper"] {
			cfg.Report.Paper = *paper
		}
		if set["chrome-path"] {
			cfg.Report.ChromePath = *chromePath
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer env.Close()

	// Run on its own, a failed render is an error rather than a skip.
	stage := pipeline.ExportPDFStage(env.Config, env.Deps())
	stage.Skippable = false
	return env.RunStages(ctx, []pipeline.Stage{stage}, "{}")
}
