package main

import (
	"context"
	"flag"
	"os"

	"github.com/joelkehle/challenge-pipeline/internal/cli"
	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/llm"
	"github.com/joelkehle/challenge-pipeline/internal/pipeline"
)

func main() {
	cli.Main("build-front-facing", run)
}

func run(ctx context.Context) error {
	fs := flag.NewFlagSet("build-front-facing", flag.ContinueOnError)
	var (
		configPath = cli.ConfigFlag(fs)
		outputDir  = fs.String("output-dir", "", "Directory holding the input artifacts")
		pretty     = cli.PrettyFlag(fs)
		opts       pipeline.Options
	)
	fs.BoolVar(&opts.FrontPlus, "front-plus", false, "Allow LLM title and clean-up enrichment")
	fs.BoolVar(&opts.FrontTitle, "llm-title", false, "Generate project titles (needs -front-plus)")
	fs.BoolVar(&opts.FrontClean, "llm-clean", false, "Clean up descriptions (needs -front-plus)")
	fs.BoolVar(&opts.WithKeywords, "with-keywords", false, "Extract keywords and write keywords_agg.json")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return &cli.UsageError{Err: err}
	}
	set := cli.Visited(fs)
	env, err := cli.Setup(ctx, "build-front-facing", *configPath, func(cfg *config.Config) error {
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

	deps := env.Deps()
	enrich := opts.Enrich()
	var exec *llm.Executor
	if enrich.Any() {
		if exec, err = pipeline.NewExecutor(ctx, env.Config, deps); err != nil {
			return &pipeline.StageError{Stage: pipeline.StageFrontFacing, Err: err}
		}
	}
	return env.RunStages(ctx, []pipeline.Stage{pipeline.FrontFacingStage(env.Config, exec, enrich, deps)}, opts.JSON())
}
