// Package meta derives the summary statistics written to meta.json.
package meta

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
)

const SchemaVersion = "1.1"

type Counts struct {
	SubmissionsTotal    int `json:"submissions_total"`
	ResponsesEvaluated  int `json:"responses_evaluated"`
	EvaluationsFailed   int `json:"evaluations_failed"`
	EvaluationsOrphaned int `json:"evaluations_orphaned"`

	// EvaluationsDuplicate counts extra records for an already-seen
	// submission id. They are excluded from every statistic.
	EvaluationsDuplicate int `json:"evaluations_duplicate"`
}

type TeamCount struct {
	Team  string `json:"team"`
	Count int    `json:"count"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type LinkPresence struct {
	HasDemoLink int `json:"has_demo_link"`
	NoDemoLink  int `json:"no_demo_link"`
}

type Distributions struct {
	OverallVerdictHistogram map[string]int `json:"overall_verdict_histogram"`
	BySubmitterType         map[string]int `json:"by_submitter_type"`
	ByTeam                  []TeamCount    `json:"by_team"`
	ByDay                   []DayCount     `json:"by_day"`
	LinkPresence            LinkPresence   `json:"link_presence"`
}

// Aggregate is the meta.json document. It is rebuilt from scratch on every
// run.
type Aggregate struct {
	SchemaVersion         string             `json:"schema_version"`
	GeneratedAt           string             `json:"generated_at"`
	Counts                Counts             `json:"counts"`
	Averages              map[string]float64 `json:"averages"`
	ScoreTotals           map[string]int     `json:"score_totals"`
	Distributions         Distributions      `json:"distributions"`
	OrphanedSubmissionIDs []string           `json:"orphaned_submission_ids"`

	// UndatedSubmissionIDs are evaluated submissions missing from by_day
	// because their timestamp did not parse.
	UndatedSubmissionIDs []string `json:"undated_submission_ids,omitempty"`
}

const overallMeanKey = "overall_mean"

// Build computes the aggregate. Evaluations whose submission id does not
// resolve are excluded from every statistic and listed as orphans. Failed
// evaluations are counted but contribute no scores. Only one evaluation per
// submission is counted. dateFormat is the strftime format timestamps were
// written in.
func Build(subs []challenge.Submission, evals []challenge.Evaluation, now time.Time, dateFormat string) Aggregate {
	index := challenge.IndexSubmissions(subs)
	agg := Aggregate{
		SchemaVersion: SchemaVersion,
		GeneratedAt:   now.UTC().Format(time.RFC3339),
		Counts:        Counts{SubmissionsTotal: len(subs)},
		Averages:      map[string]float64{},
		ScoreTotals:   map[string]int{},
		Distributions: Distributions{
			OverallVerdictHistogram: map[string]int{},
			BySubmitterType:         map[string]int{},
			ByTeam:                  []TeamCount{},
			ByDay:                   []DayCount{},
		},
		OrphanedSubmissionIDs: []string{},
	}
	for n := challenge.MinScore; n <= challenge.MaxScore; n++ {
		agg.Distributions.OverallVerdictHistogram[strconv.Itoa(n)] = 0
	}

	evals, dups := challenge.DedupeEvaluations(evals)
	agg.Counts.EvaluationsDuplicate = len(dups)

	counts := map[string]int{}
	teams := map[string]int{}
	days := map[string]int{}
	for _, ev := range evals {
		id := challenge.NormalizeID(ev.SubmissionID)
		sub, ok := index[id]
		if !ok {
			agg.Counts.EvaluationsOrphaned++
			agg.OrphanedSubmissionIDs = append(agg.OrphanedSubmissionIDs, ev.SubmissionID)
			continue
		}
		if !ev.OK() {
			agg.Counts.EvaluationsFailed++
			continue
		}
		scored := false
		for _, c := range challenge.Criteria {
			if v, ok := ev.Score(c); ok {
				agg.ScoreTotals[c] += v
				counts[c]++
				scored = true
			}
		}
		if !scored {
			agg.Counts.EvaluationsFailed++
			continue
		}
		agg.Counts.ResponsesEvaluated++
		if v, ok := ev.Score(challenge.CriterionOverall); ok {
			agg.Distributions.OverallVerdictHistogram[strconv.Itoa(v)]++
		}
		if t := sub.Get(challenge.FieldSubmitterType); t != "" {
			agg.Distributions.BySubmitterType[t]++
		}
		if t := sub.Get(challenge.FieldTeam); t != "" {
			teams[t]++
		}
		if sub.DemoLink() != "" {
			agg.Distributions.LinkPresence.HasDemoLink++
		} else {
			agg.Distributions.LinkPresence.NoDemoLink++
		}
		ts := ev.Timestamp()
		if ts == "" {
			ts = sub.Timestamp()
		}
		if t, err := challenge.ParseTimestamp(ts, dateFormat); err == nil {
			days[t.Format("2006-01-02")]++
		} else {
			agg.UndatedSubmissionIDs = append(agg.UndatedSubmissionIDs, sub.ID)
		}
	}

	var sum float64
	for _, c := range challenge.Criteria {
		avg := 0.0
		if counts[c] > 0 {
			avg = float64(agg.ScoreTotals[c]) / float64(counts[c])
		}
		agg.Averages[c] = round3(avg)
		if _, ok := agg.ScoreTotals[c]; !ok {
			agg.ScoreTotals[c] = 0
		}
		if c != challenge.CriterionOverall {
			sum += agg.Averages[c]
		}
	}
	agg.Averages[overallMeanKey] = round3(sum / float64(len(challenge.Criteria)-1))

	for t, n := range teams {
		agg.Distributions.ByTeam = append(agg.Distributions.ByTeam, TeamCount{Team: t, Count: n})
	}
	sort.Slice(agg.Distributions.ByTeam, func(i, j int) bool {
		a, b := agg.Distributions.ByTeam[i], agg.Distributions.ByTeam[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Team < b.Team
	})
	for d, n := range days {
		agg.Distributions.ByDay = append(agg.Distributions.ByDay, DayCount{Date: d, Count: n})
	}
	sort.Slice(agg.Distributions.ByDay, func(i, j int) bool {
		return agg.Distributions.ByDay[i].Date < agg.Distributions.ByDay[j].Date
	})
	return agg
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

type Options struct {
	SubmissionsPath string
	EvaluationsPath string
	OutputPath      string
	// DateFormat is the strftime format ingestion wrote timestamps in.
	DateFormat string
	Pretty     bool
	Logger     *zap.Logger
	Now        func() time.Time
}

// Run reads both artifacts, builds the aggregate and writes it. Orphaned
// evaluations are logged.
func Run(opts Options) (Aggregate, error) {
	log := logging.OrNop(opts.Logger)
	subs, err := artifact.ReadSubmissions(opts.SubmissionsPath)
	if err != nil {
		return Aggregate{}, err
	}
	evals, err := artifact.ReadEvaluations(opts.EvaluationsPath)
	if err != nil {
		return Aggregate{}, err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	agg := Build(subs, evals, now(), opts.DateFormat)
	for _, id := range agg.OrphanedSubmissionIDs {
		log.Warn("aggregate skipped orphaned evaluation", zap.String("submission_id", id))
	}
	if agg.Counts.EvaluationsDuplicate > 0 {
		log.Warn("aggregate ignored duplicate evaluations", zap.Int("count", agg.Counts.EvaluationsDuplicate))
	}
	if len(agg.UndatedSubmissionIDs) > 0 {
		log.Warn("aggregate left submissions out of by_day, timestamp unreadable",
			zap.Strings("submission_ids", agg.UndatedSubmissionIDs),
			zap.String("date_format", opts.DateFormat))
	}
	if err := artifact.Write(opts.OutputPath, agg, opts.Pretty); err != nil {
		return agg, fmt.Errorf("write meta: %w", err)
	}
	log.Info("aggregate wrote meta",
		zap.String("path", opts.OutputPath),
		zap.Int("responses_evaluated", agg.Counts.ResponsesEvaluated),
		zap.Int("evaluations_failed", agg.Counts.EvaluationsFailed),
		zap.Int("evaluations_orphaned", agg.Counts.EvaluationsOrphaned),
		zap.Int("evaluations_duplicate", agg.Counts.EvaluationsDuplicate))
	return agg, nil
}
