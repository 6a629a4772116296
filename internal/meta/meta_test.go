package meta

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
)

var fixedNow = time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

func sub(id, team, kind, completed, demo string) challenge.Submission {
	s := challenge.NewSubmission(id)
	s.Set(challenge.FieldName, "Person "+id)
	if team != "" {
		s.Set(challenge.FieldTeam, team)
	}
	if kind != "" {
		s.Set(challenge.FieldSubmitterType, kind)
	}
	s.Set(challenge.FieldCompletionTime, completed)
	if demo != "" {
		s.Set(challenge.FieldDemoLink, demo)
	}
	return s
}

func okEval(id string, overall, other int, ts string) challenge.Evaluation {
	scores := map[string]int{}
	for _, c := range challenge.Criteria {
		scores[c] = other
	}
	scores[challenge.CriterionOverall] = overall
	return challenge.Evaluation{
		SubmissionID: id,
		Status:       challenge.StatusOK,
		Metadata:     &challenge.SubmissionMetadata{SubmissionID: id, TimestampUTC: ts},
		Scores:       scores,
	}
}

func TestTotalsExcludeOrphansAndFailures(t *testing.T) {
	subs := []challenge.Submission{
		sub("1", "Acquisitions", "Individual", "2025-03-04T10:00:00", "https://demo"),
		sub("2", "Risk", "Team", "2025-03-04T12:00:00", ""),
		sub("3", "Acquisitions", "Team", "2025-03-06T09:00:00", ""),
	}
	evals := []challenge.Evaluation{
		okEval("1", 5, 4, "2025-03-04T10:00:00"),
		okEval("2.0", 3, 2, "2025-03-04T12:00:00"),
		{SubmissionID: "3", Status: challenge.StatusFailed, Error: "schema_error"},
		okEval("42", 5, 5, "2025-03-01T00:00:00"),
	}
	agg := Build(subs, evals, fixedNow, "")

	want := Counts{SubmissionsTotal: 3, ResponsesEvaluated: 2, EvaluationsFailed: 1, EvaluationsOrphaned: 1}
	if diff := cmp.Diff(want, agg.Counts); diff != "" {
		t.Fatalf("counts (-want +got):\n%s", diff)
	}
	if agg.ScoreTotals[challenge.CriterionOverall] != 8 || agg.ScoreTotals["feasibility"] != 6 {
		t.Fatalf("totals=%v", agg.ScoreTotals)
	}
	if agg.Averages[challenge.CriterionOverall] != 4 || agg.Averages["specificity"] != 3 {
		t.Fatalf("averages=%v", agg.Averages)
	}
	if agg.Averages[overallMeanKey] != 3 {
		t.Fatalf("overall_mean=%v", agg.Averages[overallMeanKey])
	}
	if diff := cmp.Diff([]string{"42"}, agg.OrphanedSubmissionIDs); diff != "" {
		t.Fatalf("orphans (-want +got):\n%s", diff)
	}

	d := agg.Distributions
	if d.OverallVerdictHistogram["5"] != 1 || d.OverallVerdictHistogram["3"] != 1 || d.OverallVerdictHistogram["1"] != 0 {
		t.Fatalf("histogram=%v", d.OverallVerdictHistogram)
	}
	wantTeams := []TeamCount{{Team: "Acquisitions", Count: 1}, {Team: "Risk", Count: 1}}
	if diff := cmp.Diff(wantTeams, d.ByTeam); diff != "" {
		t.Fatalf("by_team (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]DayCount{{Date: "2025-03-04", Count: 2}}, d.ByDay); diff != "" {
		t.Fatalf("by_day (-want +got):\n%s", diff)
	}
	if d.LinkPresence != (LinkPresence{HasDemoLink: 1, NoDemoLink: 1}) {
		t.Fatalf("link presence=%+v", d.LinkPresence)
	}
	if d.BySubmitterType["Individual"] != 1 || d.BySubmitterType["Team"] != 1 {
		t.Fatalf("by type=%v", d.BySubmitterType)
	}
	if agg.GeneratedAt != "2025-05-01T09:00:00Z" {
		t.Fatalf("generated_at=%q", agg.GeneratedAt)
	}
}

func TestByTeamSortedCountDescThenName(t *testing.T) {
	subs := []challenge.Submission{
		sub("1", "Zeta", "", "2025-03-01T00:00:00", ""),
		sub("2", "Alpha", "", "2025-03-01T00:00:00", ""),
		sub("3", "Zeta", "", "2025-03-02T00:00:00", ""),
		sub("4", "Beta", "", "2025-03-02T00:00:00", ""),
	}
	var evals []challenge.Evaluation
	for _, s := range subs {
		evals = append(evals, okEval(s.ID, 3, 3, s.Timestamp()))
	}
	agg := Build(subs, evals, fixedNow, "")
	want := []TeamCount{{"Zeta", 2}, {"Alpha", 1}, {"Beta", 1}}
	if diff := cmp.Diff(want, agg.Distributions.ByTeam); diff != "" {
		t.Fatalf("by_team (-want +got):\n%s", diff)
	}
}

func TestDuplicateEvaluationsCountOnce(t *testing.T) {
	subs := []challenge.Submission{sub("1", "Risk", "Team", "2025-03-04T10:00:00", "")}
	evals := []challenge.Evaluation{
		okEval("1", 5, 5, "2025-03-04T10:00:00"),
		okEval("1.0", 5, 5, "2025-03-04T10:00:00"),
	}
	agg := Build(subs, evals, fixedNow, "")
	want := Counts{SubmissionsTotal: 1, ResponsesEvaluated: 1, EvaluationsDuplicate: 1}
	if diff := cmp.Diff(want, agg.Counts); diff != "" {
		t.Fatalf("counts (-want +got):\n%s", diff)
	}
	if agg.ScoreTotals[challenge.CriterionOverall] != 5 || agg.Distributions.OverallVerdictHistogram["5"] != 1 {
		t.Fatalf("totals=%v histogram=%v", agg.ScoreTotals, agg.Distributions.OverallVerdictHistogram)
	}
}

func TestByDayUsesConfiguredDateFormat(t *testing.T) {
	subs := []challenge.Submission{
		sub("1", "", "", "14/03/2025 09:30", ""),
		sub("2", "", "", "sometime", ""),
	}
	evals := []challenge.Evaluation{okEval("1", 4, 4, "14/03/2025 09:30"), okEval("2", 4, 4, "")}
	agg := Build(subs, evals, fixedNow, "%d/%m/%Y %H:%M")
	if diff := cmp.Diff([]DayCount{{Date: "2025-03-14", Count: 1}}, agg.Distributions.ByDay); diff != "" {
		t.Fatalf("by_day (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"2"}, agg.UndatedSubmissionIDs); diff != "" {
		t.Fatalf("undated (-want +got):\n%s", diff)
	}
}

func TestEmptyInputYieldsZeros(t *testing.T) {
	agg := Build(nil, nil, fixedNow, "")
	if agg.Counts != (Counts{}) {
		t.Fatalf("counts=%+v", agg.Counts)
	}
	for _, c := range challenge.Criteria {
		if agg.Averages[c] != 0 || agg.ScoreTotals[c] != 0 {
			t.Fatalf("criterion %s not zero", c)
		}
	}
	if len(agg.Distributions.OverallVerdictHistogram) != 5 {
		t.Fatalf("histogram must list every score: %v", agg.Distributions.OverallVerdictHistogram)
	}
}

func TestRunWritesMeta(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		SubmissionsPath: filepath.Join(dir, artifact.SubmissionsFile),
		EvaluationsPath: filepath.Join(dir, artifact.EvaluationsFile),
		OutputPath:      filepath.Join(dir, artifact.MetaFile),
		Now:             func() time.Time { return fixedNow },
	}
	if _, err := Run(opts); !failure.Is(err, failure.KindParse) {
		t.Fatalf("missing inputs should be parse errors, got %v", err)
	}
	subs := []challenge.Submission{sub("1", "Risk", "Team", "2025-03-04T10:00:00", "")}
	if err := artifact.Write(opts.SubmissionsPath, subs, false); err != nil {
		t.Fatal(err)
	}
	if err := artifact.Write(opts.EvaluationsPath, []challenge.Evaluation{okEval("1", 4, 4, "")}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := Run(opts); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var got Aggregate
	if err := artifact.Read(opts.OutputPath, &got); err != nil {
		t.Fatal(err)
	}
	if got.Counts.ResponsesEvaluated != 1 || got.SchemaVersion != SchemaVersion {
		t.Fatalf("meta=%+v", got)
	}
	if len(got.Distributions.ByDay) != 1 || got.Distributions.ByDay[0].Date != "2025-03-04" {
		t.Fatalf("by_day should fall back to submission timestamp: %+v", got.Distributions.ByDay)
	}
}
