package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joelkehle/challenge-pipeline/internal/cli"
	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/pipeline"
)

func main() {
	cli.Main("evaluate-submissions", run)
}

func run(ctx context.Context) error {
	fs := flag.NewFlagSet("evaluate-submissions", flag.ContinueOnError)
	var (
		configPath  = cli.ConfigFlag(fs)
		outputDir   = fs.String("output-dir", "", "Directory holding submissions.json and evaluations.json")
		pretty      = cli.PrettyFlag(fs)
		provider    = fs.String("provider", "", "LLM provider: anthropic or gemini")
		model       = fs.String("model", "", "Model name (default depends on provider)")
		concurrency = fs.Int("concurrency", 0, "Parallel LLM calls")
		overwrite   = fs.Bool("overwrite", false, "Re-evaluate submissions that already have a successful evaluation")
		limit       = fs.Int("limit", 0, "Evaluate at most this many submissions (0 = all)")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return &cli.UsageError{Err: err}
	}
	if *limit < 0 {
		return cli.Usagef("-limit must not be negative")
	}
	set := cli.Visited(fs)
	env, err := cli.Setup(ctx, "evaluate-submissions", *configPath, func(cfg *config.Config) error {
		if set["output-dir"] {
			cfg.OutputDir = *outputDir
		}
		cli.ApplyPretty(cfg, set, pretty)
		if set["provider"] {
			cfg.LLM.Provider = *provider
		}
		if set["model"] {
			cfg.LLM.Model = *model
		}
		if set["concurrency"] {
			cfg.LLM.Concurrency = *concurrency
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer env.Close()

	deps := env.Deps()
	exec, err := pipeline.NewExecutor(ctx, env.Config, deps)
	if err != nil {
		return &pipeline.StageError{Stage: pipeline.StageEvaluate, Err: err}
	}
	options := fmt.Sprintf(`{"overwrite":%t,"limit":%d}`, *overwrite, *limit)
	return env.RunStages(ctx, []pipeline.Stage{pipeline.EvaluateStage(env.Config, exec, *overwrite, *limit, deps)}, options)
}
