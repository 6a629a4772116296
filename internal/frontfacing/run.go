package frontfacing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
)

type Options struct {
	SubmissionsPath string
	EvaluationsPath string
	OutputPath      string
	// KeywordsAggPath receives the keyword aggregate when keywords are
	// enriched.
	KeywordsAggPath string
	Pretty          bool
	Logger          *zap.Logger
}

type Result struct {
	Entries  []challenge.FrontFacingEntry
	Skipped  Skipped
	Enriched EnrichStats
	Keywords []challenge.KeywordAggregate
}

// Run builds the front-facing list and, when enricher is non-nil, adds the
// fields it was configured for.
func Run(ctx context.Context, opts Options, enricher *Enricher) (Result, error) {
	log := logging.OrNop(opts.Logger)
	subs, err := artifact.ReadSubmissions(opts.SubmissionsPath)
	if err != nil {
		return Result{}, err
	}
	evals, err := artifact.ReadEvaluations(opts.EvaluationsPath)
	if err != nil {
		return Result{}, err
	}
	entries, skipped, orphaned := Build(subs, evals)
	for _, id := range orphaned {
		log.Warn("front-facing skipped orphaned evaluation", zap.String("submission_id", id))
	}
	if skipped.Duplicate > 0 {
		log.Warn("front-facing ignored duplicate evaluations", zap.Int("count", skipped.Duplicate))
	}
	res := Result{Entries: entries, Skipped: skipped}

	if enricher != nil && enricher.opts.Any() {
		stats, err := enricher.Enrich(ctx, entries, subs)
		if err != nil {
			return res, err
		}
		res.Enriched = stats
	}

	out := entries
	if out == nil {
		out = []challenge.FrontFacingEntry{}
	}
	if err := artifact.Write(opts.OutputPath, out, opts.Pretty); err != nil {
		return res, fmt.Errorf("write front-facing: %w", err)
	}
	if enricher != nil && enricher.opts.Keywords && opts.KeywordsAggPath != "" {
		res.Keywords = AggregateKeywords(entries)
		if err := artifact.Write(opts.KeywordsAggPath, res.Keywords, opts.Pretty); err != nil {
			return res, fmt.Errorf("write keyword aggregate: %w", err)
		}
	}
	log.Info("front-facing wrote entries",
		zap.String("path", opts.OutputPath),
		zap.Int("entries", len(entries)),
		zap.Int("skipped", skipped.Total()),
		zap.Int("orphaned", skipped.Orphaned),
		zap.Int("title_failed", res.Enriched.TitleFailed),
		zap.Int("clean_failed", res.Enriched.CleanFailed),
		zap.Int("keywords_failed", res.Enriched.KeywordsFailed))
	return res, nil
}
