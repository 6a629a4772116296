// Package frontfacing builds the public list of evaluated submissions and
// its optional model-written enrichments.
package frontfacing

import (
	"sort"
	"strings"

	"github.com/joelkehle/challenge-pipeline/internal/challenge"
)

// Skipped counts evaluations left out of the front-facing list.
type Skipped struct {
	Failed    int
	Orphaned  int
	Empty     int
	NoScore   int
	Duplicate int
}

func (s Skipped) Total() int {
	return s.Failed + s.Orphaned + s.Empty + s.NoScore + s.Duplicate
}

// Build projects successful evaluations onto front-facing entries, sorted by
// overall score descending, then name, then submission id. A submission
// appears at most once.
func Build(subs []challenge.Submission, evals []challenge.Evaluation) ([]challenge.FrontFacingEntry, Skipped, []string) {
	index := challenge.IndexSubmissions(subs)
	var (
		entries  []challenge.FrontFacingEntry
		skipped  Skipped
		orphaned []string
	)
	evals, dups := challenge.DedupeEvaluations(evals)
	skipped.Duplicate = len(dups)
	for _, ev := range evals {
		id := challenge.NormalizeID(ev.SubmissionID)
		sub, ok := index[id]
		if !ok {
			skipped.Orphaned++
			orphaned = append(orphaned, ev.SubmissionID)
			continue
		}
		if !ev.OK() {
			skipped.Failed++
			continue
		}
		name := ev.Name()
		if name == "" {
			name = sub.Get(challenge.FieldName)
		}
		rephrased := strings.TrimSpace(ev.RephrasedSubmission)
		if name == "" && rephrased == "" {
			skipped.Empty++
			continue
		}
		overall, ok := ev.Score(challenge.CriterionOverall)
		if !ok {
			skipped.NoScore++
			continue
		}
		completed := ev.Timestamp()
		if completed == "" {
			completed = sub.Timestamp()
		}
		email := sub.Get(challenge.FieldEmail)
		if ev.Metadata != nil && strings.TrimSpace(ev.Metadata.Email) != "" {
			email = strings.TrimSpace(ev.Metadata.Email)
		}
		scores := make(map[string]int, len(ev.Scores))
		for _, c := range challenge.Criteria {
			if v, ok := ev.Score(c); ok {
				scores[c] = v
			}
		}
		entries = append(entries, challenge.FrontFacingEntry{
			Name:                name,
			RephrasedSubmission: rephrased,
			SubmissionID:        id,
			CompletionTime:      completed,
			Email:               email,
			SubmitterType:       sub.Get(challenge.FieldSubmitterType),
			TeamOrDepartment:    sub.Get(challenge.FieldTeam),
			OverallScore:        overall,
			Scores:              scores,
		})
	}
	SortEntries(entries)
	return entries, skipped, orphaned
}

// SortEntries orders by overall score descending, then case-insensitive
// name, then submission id.
func SortEntries(entries []challenge.FrontFacingEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
		if an != bn {
			return an < bn
		}
		return challenge.CompareIDs(a.SubmissionID, b.SubmissionID) < 0
	})
}

// AggregateKeywords counts each keyword term across entries, sorted by count
// descending, weight sum descending, then term.
func AggregateKeywords(entries []challenge.FrontFacingEntry) []challenge.KeywordAggregate {
	byTerm := map[string]*challenge.KeywordAggregate{}
	var order []string
	for _, e := range entries {
		for _, kw := range e.Keywords {
			term := strings.TrimSpace(kw.Term)
			if term == "" {
				continue
			}
			agg, ok := byTerm[term]
			if !ok {
				agg = &challenge.KeywordAggregate{Term: term}
				byTerm[term] = agg
				order = append(order, term)
			}
			agg.Count++
			agg.WeightSum += kw.Weight
		}
	}
	out := make([]challenge.KeywordAggregate, 0, len(order))
	for _, t := range order {
		out = append(out, *byTerm[t])
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if a.WeightSum != b.WeightSum {
			return a.WeightSum > b.WeightSum
		}
		return a.Term < b.Term
	})
	return out
}
