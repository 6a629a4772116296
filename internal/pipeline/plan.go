package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/evaluate"
	"github.com/joelkehle/challenge-pipeline/internal/fetch"
	"github.com/joelkehle/challenge-pipeline/internal/frontfacing"
	"github.com/joelkehle/challenge-pipeline/internal/ingest"
	"github.com/joelkehle/challenge-pipeline/internal/llm"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
	"github.com/joelkehle/challenge-pipeline/internal/meta"
	"github.com/joelkehle/challenge-pipeline/internal/rank"
	"github.com/joelkehle/challenge-pipeline/internal/report"
	"github.com/joelkehle/challenge-pipeline/internal/telemetry"
)

const (
	StageFetch       = "fetch"
	StageIngest      = "ingest"
	StageEvaluate    = "evaluate"
	StageAggregate   = "aggregate"
	StageFrontFacing = "front-facing"
	StageRank        = "rank"
	StageExportPDF   = "export-pdf"
)

// Options selects the optional parts of a run. Spreadsheet location, top-n
// and start month live in the config.
type Options struct {
	SkipLLM      bool         `json:"skip_llm,omitempty"`
	ExportPDF    bool         `json:"export_pdf,omitempty"`
	FrontPlus    bool         `json:"front_plus,omitempty"`
	FrontTitle   bool         `json:"front_llm_title,omitempty"`
	FrontClean   bool         `json:"front_llm_clean,omitempty"`
	WithKeywords bool         `json:"with_keywords,omitempty"`
	Fetch        fetch.Target `json:"-"`
	Overwrite    bool         `json:"overwrite,omitempty"`
	Limit        int          `json:"limit,omitempty"`
}

// Enrich reports the front-facing enrichment a run will perform.
func (o Options) Enrich() frontfacing.EnrichOptions {
	if o.SkipLLM {
		return frontfacing.EnrichOptions{}
	}
	return frontfacing.EnrichOptions{
		Title:    o.FrontPlus && o.FrontTitle,
		Clean:    o.FrontPlus && o.FrontClean,
		Keywords: o.WithKeywords,
	}
}

// JSON renders the options for the run ledger.
func (o Options) JSON() string {
	blob, err := json.Marshal(o)
	if err != nil {
		return "{}"
	}
	return string(blob)
}

// Fetcher downloads the workbook. *fetch.Client satisfies it.
type Fetcher interface {
	Download(ctx context.Context, target fetch.Target, dest string) (int64, error)
}

// Deps carries the collaborators stages are built from. Nil fields get the
// production implementation.
type Deps struct {
	Logger    *zap.Logger
	Metrics   *telemetry.Metrics
	NewCaller func(ctx context.Context, cfg *config.Config) (llm.Caller, error)
	Fetcher   Fetcher
	Renderer  report.Renderer
}

func (d Deps) withDefaults() Deps {
	d.Logger = logging.OrNop(d.Logger)
	if d.NewCaller == nil {
		d.NewCaller = llm.NewCaller
	}
	return d
}

// Plan builds the ordered stage list: [fetch] → ingest → [evaluate] →
// aggregate → front-facing → rank → [export-pdf]. Credentials for every
// enabled remote stage are checked here, before any stage runs.
func Plan(ctx context.Context, cfg *config.Config, opts Options, deps Deps) ([]Stage, error) {
	deps = deps.withDefaults()
	var stages []Stage

	if !opts.Fetch.IsZero() {
		s, err := FetchStage(cfg, opts.Fetch, deps)
		if err != nil {
			return nil, &StageError{Stage: StageFetch, Err: err}
		}
		stages = append(stages, s)
	}
	stages = append(stages, IngestStage(cfg, deps))

	enrich := opts.Enrich()
	if opts.SkipLLM && (opts.FrontTitle || opts.FrontClean || opts.WithKeywords) {
		deps.Logger.Warn("pipeline LLM enrichment disabled by skip-llm")
	}
	var exec *llm.Executor
	if !opts.SkipLLM {
		var err error
		exec, err = NewExecutor(ctx, cfg, deps)
		if err != nil {
			return nil, &StageError{Stage: StageEvaluate, Err: err}
		}
		stages = append(stages, EvaluateStage(cfg, exec, opts.Overwrite, opts.Limit, deps))
	} else {
		deps.Logger.Info("pipeline skipping evaluation, using existing evaluations", zap.String("path", cfg.Path(artifact.EvaluationsFile)))
	}

	stages = append(stages,
		AggregateStage(cfg, deps),
		FrontFacingStage(cfg, exec, enrich, deps),
		RankStage(cfg, deps),
	)
	if opts.ExportPDF {
		stages = append(stages, ExportPDFStage(cfg, deps))
	}
	return stages, nil
}

// NewExecutor builds the LLM executor from config, failing with an auth error
// when the provider key is missing.
func NewExecutor(ctx context.Context, cfg *config.Config, deps Deps) (*llm.Executor, error) {
	deps = deps.withDefaults()
	caller, err := deps.NewCaller(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return llm.NewExecutor(caller, llm.Options{
		MaxAttempts: cfg.LLM.MaxAttempts,
		Timeout:     cfg.LLM.Timeout,
		Logger:      deps.Logger,
		Metrics:     deps.Metrics,
	}), nil
}

func FetchStage(cfg *config.Config, target fetch.Target, deps Deps) (Stage, error) {
	deps = deps.withDefaults()
	if err := target.Validate(); err != nil {
		return Stage{}, err
	}
	fetcher := deps.Fetcher
	if fetcher == nil {
		if err := cfg.RequireGraph(); err != nil {
			return Stage{}, err
		}
		c, err := fetch.New(fetch.Options{
			BaseURL:      cfg.Graph.BaseURL,
			LoginURL:     cfg.Graph.LoginURL,
			TenantID:     cfg.Credentials.TenantID,
			ClientID:     cfg.Credentials.ClientID,
			ClientSecret: cfg.Credentials.ClientSecret,
			Timeout:      cfg.Graph.Timeout,
			MaxAttempts:  cfg.Graph.MaxAttempts,
			Logger:       deps.Logger,
		})
		if err != nil {
			return Stage{}, err
		}
		fetcher = c
	}
	return Stage{
		Name: StageFetch,
		Run: func(ctx context.Context, rec *Record) error {
			n, err := fetcher.Download(ctx, target, cfg.Ingest.Excel)
			if n > 0 {
				rec.Items = 1
			}
			return err
		},
	}, nil
}

func IngestStage(cfg *config.Config, deps Deps) Stage {
	return IngestStageTo(cfg, "", deps)
}

// IngestStageTo writes the submissions to output instead of the output
// directory. An empty output keeps the default.
func IngestStageTo(cfg *config.Config, output string, deps Deps) Stage {
	deps = deps.withDefaults()
	return Stage{
		Name: StageIngest,
		Run: func(ctx context.Context, rec *Record) error {
			opts, err := ingest.OptionsFromConfig(cfg, deps.Logger)
			if err != nil {
				return err
			}
			if output != "" {
				opts.Output = output
			}
			res, err := ingest.Run(ctx, opts)
			rec.Items = len(res.Submissions)
			deps.Metrics.ItemsWritten(StageIngest, rec.Items)
			return err
		},
	}
}

func EvaluateStage(cfg *config.Config, exec *llm.Executor, overwrite bool, limit int, deps Deps) Stage {
	deps = deps.withDefaults()
	return Stage{
		Name: StageEvaluate,
		Run: func(ctx context.Context, rec *Record) error {
			ev := evaluate.New(exec, evaluate.Options{
				SubmissionsPath: cfg.Path(artifact.SubmissionsFile),
				OutputPath:      cfg.Path(artifact.EvaluationsFile),
				Overwrite:       overwrite,
				Limit:           limit,
				Concurrency:     cfg.LLM.Concurrency,
				Model:           llm.ModelFor(cfg),
				Pretty:          cfg.Pretty,
				Logger:          deps.Logger,
				Metrics:         deps.Metrics,
			})
			res, err := ev.Run(ctx)
			rec.Items = len(res.Evaluations)
			rec.Evaluations = res.Outcomes
			return err
		},
	}
}

func AggregateStage(cfg *config.Config, deps Deps) Stage {
	deps = deps.withDefaults()
	return Stage{
		Name: StageAggregate,
		Run: func(_ context.Context, rec *Record) error {
			agg, err := meta.Run(meta.Options{
				SubmissionsPath: cfg.Path(artifact.SubmissionsFile),
				EvaluationsPath: cfg.Path(artifact.EvaluationsFile),
				OutputPath:      cfg.Path(artifact.MetaFile),
				DateFormat:      cfg.Ingest.DateFormat,
				Pretty:          cfg.Pretty,
				Logger:          deps.Logger,
			})
			rec.Items = agg.Counts.ResponsesEvaluated
			return err
		},
	}
}

// FrontFacingStage enriches only when exec is non-nil and enrich asks for
// something.
func FrontFacingStage(cfg *config.Config, exec *llm.Executor, enrich frontfacing.EnrichOptions, deps Deps) Stage {
	deps = deps.withDefaults()
	return Stage{
		Name: StageFrontFacing,
		Run: func(ctx context.Context, rec *Record) error {
			var enricher *frontfacing.Enricher
			if exec != nil && enrich.Any() {
				enrich.Concurrency = cfg.LLM.Concurrency
				enrich.Logger = deps.Logger
				enrich.Metrics = deps.Metrics
				enricher = frontfacing.NewEnricher(exec, enrich)
			}
			res, err := frontfacing.Run(ctx, frontfacing.Options{
				SubmissionsPath: cfg.Path(artifact.SubmissionsFile),
				EvaluationsPath: cfg.Path(artifact.EvaluationsFile),
				OutputPath:      cfg.Path(artifact.FrontFacingFile),
				KeywordsAggPath: cfg.Path(artifact.KeywordsAggFile),
				Pretty:          cfg.Pretty,
				Logger:          deps.Logger,
			}, enricher)
			rec.Items = len(res.Entries)
			deps.Metrics.ItemsWritten(StageFrontFacing, rec.Items)
			return err
		},
	}
}

func RankStage(cfg *config.Config, deps Deps) Stage {
	deps = deps.withDefaults()
	return Stage{
		Name: StageRank,
		Run: func(_ context.Context, rec *Record) error {
			ranked, err := rank.Run(rank.RunOptions{
				Options: rank.Options{
					StartMonth: cfg.Rank.StartMonth,
					TopN:       cfg.Rank.TopN,
					ScoreField: cfg.Rank.ScoreField,
					DateFormat: cfg.Ingest.DateFormat,
				},
				InputPath:  cfg.Path(artifact.FrontFacingFile),
				OutputPath: cfg.Path(artifact.RankedFile),
				Pretty:     cfg.Pretty,
				Logger:     deps.Logger,
			})
			rec.Items = len(ranked.YearToDate)
			return err
		},
	}
}

// ExportPDFStage is skippable: a missing browser must not fail the run.
func ExportPDFStage(cfg *config.Config, deps Deps) Stage {
	deps = deps.withDefaults()
	renderer := deps.Renderer
	if renderer == nil {
		renderer = report.NewChromiumRenderer(cfg.Report.ChromePath, cfg.Report.Paper, cfg.Report.Timeout)
	}
	return Stage{
		Name:      StageExportPDF,
		Skippable: true,
		Run: func(ctx context.Context, rec *Record) error {
			res, err := report.NewExporter(renderer).Run(ctx, report.Options{
				EvaluationsPath: cfg.Path(artifact.EvaluationsFile),
				OutputPath:      cfg.Path(artifact.EvaluationsPDF),
				Title:           cfg.Report.Title,
				Logger:          deps.Logger,
			})
			rec.Items = res.Pages
			if err != nil {
				return fmt.Errorf("export pdf: %w", err)
			}
			return nil
		},
	}
}
