package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/cli"
	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/fetch"
	"github.com/joelkehle/challenge-pipeline/internal/pipeline"
)

func main() {
	cli.Main("challenge-pipeline", run)
}

func run(ctx context.Context) error {
	fs := flag.NewFlagSet("challenge-pipeline", flag.ContinueOnError)
	var (
		configPath = cli.ConfigFlag(fs)
		outputDir  = fs.String("output-dir", "", "Directory for all generated artifacts")
		pretty     = cli.PrettyFlag(fs)
		ingestOpts = cli.RegisterIngestFlags(fs)
		startMonth = fs.String("start-month", "", "Earliest month to rank, YYYY-MM")
		topN       = fs.Int("top-n", 0, "Winners kept per month")
		schedule   = fs.String("schedule", "", "Cron expression; when set the pipeline runs on that schedule until interrupted")

		opts pipeline.Options
	)
	fs.BoolVar(&opts.SkipLLM, "skip-llm", false, "Reuse existing evaluations instead of calling the LLM")
	fs.BoolVar(&opts.ExportPDF, "export-pdf", false, "Render evaluations.pdf after ranking")
	fs.BoolVar(&opts.FrontPlus, "front-plus", false, "Allow LLM title and clean-up enrichment of the front-facing records")
	fs.BoolVar(&opts.FrontTitle, "front-llm-title", false, "Generate project titles (needs -front-plus)")
	fs.BoolVar(&opts.FrontClean, "front-llm-clean", false, "Clean up descriptions (needs -front-plus)")
	fs.BoolVar(&opts.WithKeywords, "with-keywords", false, "Extract keywords and write keywords_agg.json")
	fs.BoolVar(&opts.Overwrite, "overwrite", false, "Re-evaluate submissions that already have a successful evaluation")
	fs.IntVar(&opts.Limit, "limit", 0, "Evaluate at most this many submissions (0 = all)")
	fs.StringVar(&opts.Fetch.ShareLink, "fetch-share-link", "", "Download the workbook from this sharing link first")
	fs.StringVar(&opts.Fetch.User, "fetch-user", "", "Download from this user's OneDrive (with -fetch-path)")
	fs.StringVar(&opts.Fetch.FilePath, "fetch-path", "", "Drive-relative workbook path")
	fs.StringVar(&opts.Fetch.SiteHost, "fetch-site-host", "", "SharePoint host name (with -fetch-site-path and -fetch-path)")
	fs.StringVar(&opts.Fetch.SitePath, "fetch-site-path", "", "SharePoint site path, e.g. /sites/Team")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return &cli.UsageError{Err: err}
	}
	if opts.Limit < 0 {
		return cli.Usagef("-limit must not be negative")
	}

	var sched cron.Schedule
	if *schedule != "" {
		s, err := cron.ParseStandard(*schedule)
		if err != nil {
			return cli.Usagef("invalid -schedule %q: %v", *schedule, err)
		}
		sched = s
	}

	set := cli.Visited(fs)
	env, err := cli.Setup(ctx, "challenge-pipeline", *configPath, func(cfg *config.Config) error {
		if set["output-dir"] {
			cfg.OutputDir = *outputDir
		}
		cli.ApplyPretty(cfg, set, pretty)
		ingestOpts.Apply(cfg, set)
		if set["start-month"] {
			cfg.Rank.StartMonth = *startMonth
		}
		if set["top-n"] {
			cfg.Rank.TopN = *topN
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer env.Close()

	once := func(ctx context.Context) error {
		stages, err := pipeline.Plan(ctx, env.Config, opts, env.Deps())
		if err != nil {
			return err
		}
		return env.RunStages(ctx, stages, opts.JSON())
	}

	if sched == nil {
		return once(ctx)
	}
	return scheduled(ctx, env.Log, sched, opts.Fetch, once)
}

// scheduled runs fn on sched until ctx is done. Overlapping ticks are
// skipped and a failed run is logged without stopping the schedule.
func scheduled(ctx context.Context, log *zap.Logger, sched cron.Schedule, target fetch.Target, fn func(context.Context) error) error {
	if target.IsZero() {
		log.Warn("pipeline scheduled without a fetch target; every run re-reads the same workbook")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(zap.NewStdLog(log)))))
	c.Schedule(sched, cron.FuncJob(func() {
		if err := fn(ctx); err != nil {
			log.Error("pipeline scheduled run failed", zap.Error(err))
			return
		}
		log.Info("pipeline scheduled run complete")
	}))
	log.Info("pipeline scheduler started", zap.Time("next", sched.Next(time.Now())))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	log.Info("pipeline scheduler stopped")
	return nil
}
