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
	cli.Main("ingest-form", run)
}

func run(ctx context.Context) error {
	fs := flag.NewFlagSet("ingest-form", flag.ContinueOnError)
	var (
		configPath = cli.ConfigFlag(fs)
		outputDir  = fs.String("output-dir", "", "Directory for submissions.json")
		output     = fs.String("output", "", "Write submissions to this path instead of the output directory")
		pretty     = cli.PrettyFlag(fs)
		ingestOpts = cli.RegisterIngestFlags(fs)
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return &cli.UsageError{Err: err}
	}
	set := cli.Visited(fs)
	env, err := cli.Setup(ctx, "ingest-form", *configPath, func(cfg *config.Config) error {
		if set["output-dir"] {
			cfg.OutputDir = *outputDir
		}
		cli.ApplyPretty(cfg, set, pretty)
		ingestOpts.Apply(cfg, set)
		return nil
	})
	if err != nil {
		return err
	}
	defer env.Close()

	return env.RunStages(ctx, []pipeline.Stage{pipeline.IngestStageTo(env.Config, *output, env.Deps())}, "{}")
}
