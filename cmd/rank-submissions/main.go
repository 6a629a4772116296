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
	cli.Main("rank-submissions", run)
}

func run(ctx context.Context) error {
	fs := flag.NewFlagSet("rank-submissions", flag.ContinueOnError)
	var (
		configPath = cli.ConfigFlag(fs)
		outputDir  = fs.String("output-dir", "", "Directory holding front_facing.json")
		pretty     = cli.PrettyFlag(fs)
		startMonth = fs.String("start-month", "", "Earliest month to rank, YYYY-MM")
		topN       = fs.Int("top-n", 0, "Winners kept per month")
		scoreField = fs.String("score-field", "", "Score used for ordering (default overall_verdict)")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return &cli.UsageError{Err: err}
	}
	set := cli.Visited(fs)
	env, err := cli.Setup(ctx, "rank-submissions", *configPath, func(cfg *config.Config) error {
		if set["output-dir"] {
			cfg.OutputDir = *outputDir
		}
		cli.ApplyPretty(cfg, set, pretty)
		if set["start-month"] {
			cfg.Rank.StartMonth = *startMonth
		}
		if set["top-n"] {
			cfg.Rank.TopN = *topN
		}
		if set["score-field"] {
			cfg.Rank.ScoreField = *scoreField
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer env.Close()

	return env.RunStages(ctx, []pipeline.Stage{pipeline.RankStage(env.Config, env.Deps())}, "{}")
}
