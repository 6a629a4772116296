// Package rank builds the monthly leaderboard from the front-facing list.
package rank

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
)

type Options struct {
	// StartMonth (YYYY-MM) drops earlier months. Empty means the earliest
	// month present.
	StartMonth string
	TopN       int
	// ScoreField is the criterion entries are ranked by.
	ScoreField string
	// DateFormat is the strftime format completion times were written in.
	DateFormat string
}

type Skipped struct {
	BadTimestamp int
	NoScore      int
	BeforeStart  int
	Duplicate    int
	// BadTimestampIDs names the entries whose completion time did not parse.
	BadTimestampIDs []string
}

// Build groups entries by calendar month of completion time and keeps the
// TopN per month, sorted by score descending with ties broken by ascending
// submission id.
func Build(entries []challenge.FrontFacingEntry, opts Options) (challenge.RankedSubmissions, Skipped, error) {
	if opts.TopN < 1 {
		opts.TopN = 1
	}
	if opts.ScoreField == "" {
		opts.ScoreField = challenge.CriterionOverall
	}
	if !challenge.IsCriterion(opts.ScoreField) {
		return challenge.RankedSubmissions{}, Skipped{}, fmt.Errorf("score field %q is not a criterion", opts.ScoreField)
	}
	start := strings.TrimSpace(opts.StartMonth)
	if start != "" {
		t, err := challenge.ParseMonth(start)
		if err != nil {
			return challenge.RankedSubmissions{}, Skipped{}, err
		}
		start = t.Format("2006-01")
	}

	type ranked struct {
		entry challenge.FrontFacingEntry
		month string
		score int
	}
	var (
		skipped  Skipped
		eligible []ranked
		earliest string
		seen     = map[string]bool{}
	)
	for _, e := range entries {
		id := challenge.NormalizeID(e.SubmissionID)
		if seen[id] {
			skipped.Duplicate++
			continue
		}
		seen[id] = true
		month, err := challenge.MonthOf(e.CompletionTime, opts.DateFormat)
		if err != nil {
			skipped.BadTimestamp++
			skipped.BadTimestampIDs = append(skipped.BadTimestampIDs, e.SubmissionID)
			continue
		}
		score, ok := e.ScoreFor(opts.ScoreField)
		if !ok {
			skipped.NoScore++
			continue
		}
		if start != "" && month < start {
			skipped.BeforeStart++
			continue
		}
		if earliest == "" || month < earliest {
			earliest = month
		}
		eligible = append(eligible, ranked{entry: e, month: month, score: score})
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].score != eligible[j].score {
			return eligible[i].score > eligible[j].score
		}
		return challenge.CompareIDs(eligible[i].entry.SubmissionID, eligible[j].entry.SubmissionID) < 0
	})

	if start == "" {
		start = earliest
	}
	out := challenge.RankedSubmissions{
		StartMonth: start,
		TopN:       opts.TopN,
		ScoreField: opts.ScoreField,
		Monthly:    map[string][]challenge.FrontFacingEntry{},
		YearToDate: make([]challenge.FrontFacingEntry, 0, len(eligible)),
	}
	for _, r := range eligible {
		out.YearToDate = append(out.YearToDate, r.entry)
		if len(out.Monthly[r.month]) < opts.TopN {
			out.Monthly[r.month] = append(out.Monthly[r.month], r.entry)
		}
	}
	return out, skipped, nil
}

// Months returns the keys of r.Monthly in calendar order.
func Months(r challenge.RankedSubmissions) []string {
	months := make([]string, 0, len(r.Monthly))
	for m := range r.Monthly {
		months = append(months, m)
	}
	sort.Strings(months)
	return months
}

type RunOptions struct {
	Options
	InputPath  string
	OutputPath string
	Pretty     bool
	Logger     *zap.Logger
}

func Run(opts RunOptions) (challenge.RankedSubmissions, error) {
	log := logging.OrNop(opts.Logger)
	entries, err := artifact.ReadFrontFacing(opts.InputPath)
	if err != nil {
		return challenge.RankedSubmissions{}, err
	}
	ranked, skipped, err := Build(entries, opts.Options)
	if err != nil {
		return ranked, err
	}
	if len(skipped.BadTimestampIDs) > 0 {
		log.Warn("rank skipped entries with unreadable completion time",
			zap.Strings("submission_ids", skipped.BadTimestampIDs),
			zap.String("date_format", opts.DateFormat))
	}
	if skipped.Duplicate > 0 {
		log.Warn("rank skipped duplicate submission ids", zap.Int("count", skipped.Duplicate))
	}
	if err := artifact.Write(opts.OutputPath, ranked, opts.Pretty); err != nil {
		return ranked, fmt.Errorf("write ranked submissions: %w", err)
	}
	log.Info("rank wrote monthly leaderboard",
		zap.String("path", opts.OutputPath),
		zap.Strings("months", Months(ranked)),
		zap.Int("year_to_date", len(ranked.YearToDate)),
		zap.Int("skipped_bad_timestamp", skipped.BadTimestamp),
		zap.Int("skipped_no_score", skipped.NoScore),
		zap.Int("skipped_before_start", skipped.BeforeStart),
		zap.Int("skipped_duplicate", skipped.Duplicate))
	return ranked, nil
}
