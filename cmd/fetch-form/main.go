package main

import (
	"context"
	"flag"
	"os"

	"github.com/joelkehle/challenge-pipeline/internal/cli"
	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/fetch"
	"github.com/joelkehle/challenge-pipeline/internal/pipeline"
)

func main() {
	cli.Main("fetch-form", run)
}

func run(ctx context.Context) error {
	fs := flag.NewFlagSet("fetch-form", flag.ContinueOnError)
	var (
		configPath = cli.ConfigFlag(fs)
		dest       = fs.String("out", "", "Destination path (default: the configured spreadsheet path)")
		target     fetch.Target
	)
	fs.StringVar(&target.ShareLink, "share-link", "", "Sharing link to the workbook")
	fs.StringVar(&target.User, "user", "", "OneDrive owner (with -path)")
	fs.StringVar(&target.FilePath, "path", "", "Drive-relative workbook path")
	fs.StringVar(&target.SiteHost, "site-host", "", "SharePoint host name (with -site-path and -path)")
	fs.StringVar(&target.SitePath, "site-path", "", "SharePoint site path, e.g. /sites/Team")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return &cli.UsageError{Err: err}
	}
	set := cli.Visited(fs)
	env, err := cli.Setup(ctx, "fetch-form", *configPath, func(cfg *config.Config) error {
		if set["out"] {
			cfg.Ingest.Excel = *dest
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer env.Close()

	stage, err := pipeline.FetchStage(env.Config, target, env.Deps())
	if err != nil {
		return &pipeline.StageError{Stage: pipeline.StageFetch, Err: err}
	}
	return env.RunStages(ctx, []pipeline.Stage{stage}, "{}")
}
