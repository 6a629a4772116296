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
	cli.Main("aggregate-meta", run)
}

func run(ctx context.Context) error {
	fs := flag.NewFlagSet("aggregate-meta", flag.ContinueOnError)
	configPath := cli.ConfigFlag(fs)
	outputDir := fs.String("output-dir", "", "Directory holding submissions.json and evaluations.json")
	pretty := cli.PrettyFlag(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return &cli.UsageError{Err: err}
	}
	set := cli.Visited(fs)
	env, err := cli.Setup(ctx, "aggregate-meta", *configPath, func(cfg *config.Config) error {
		if set["output-dir"] {
			cfg.OutputDir = *outputDir
		}
		cli.ApplyPretty(cfg, set, pretty)
		return nil
	})
	if err != nil {
		return err
	}
	defer env.Close()

	return env.RunStages(ctx, []pipeline.Stage{pipeline.AggregateStage(env.Config, env.Deps())}, "{}")
}
