package challenge

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCoerceScore(t *testing.T) {
	for _, tc := range []struct {
		in      any
		want    int
		wantErr bool
	}{
		{in: "4", want: 4},
		{in: float64(5), want: 5},
		{in: json.Number("2"), want: 2},
		{in: " Excellent ", want: 5},
		{in: "very low", want: 1},
		{in: "3.0", want: 3},
		{in: nil, wantErr: true},
		{in: "", wantErr: true},
		{in: "6", wantErr: true},
		{in: "2.5", wantErr: true},
		{in: "stellar", wantErr: true},
		{in: true, wantErr: true},
	} {
		got, err := CoerceScore(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("CoerceScore(%v) expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("CoerceScore(%v)=%d,%v want %d", tc.in, got, err, tc.want)
		}
	}
}

func TestCriterionLabel(t *testing.T) {
	if got := CriterionLabel("technical_complexity_vs_value"); got != "Technical Complexity Vs Value" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeAndCompareIDs(t *testing.T) {
	if NormalizeID(" 7.0 ") != "7" {
		t.Fatal("expected 7.0 to normalise to 7")
	}
	if NormalizeID("A-12") != "A-12" {
		t.Fatal("non-numeric ids must pass through")
	}
	if CompareIDs("2", "10") >= 0 {
		t.Fatal("numeric ids must compare numerically")
	}
	if CompareIDs("b", "a") <= 0 {
		t.Fatal("string ids compare lexically")
	}
	if CompareIDs("9", "a") >= 0 {
		t.Fatal("numeric ids sort before non-numeric ids")
	}
}

func TestMonthOf(t *testing.T) {
	for in, want := range map[string]string{
		"2025-03-14T09:30:00":       "2025-03",
		"2025-11-01 08:00:00":       "2025-11",
		"2025-12-31T23:59:59+00:00": "2025-12",
		"2026-01-05":                "2026-01",
	} {
		got, err := MonthOf(in, "")
		if err != nil || got != want {
			t.Fatalf("MonthOf(%q)=%q,%v want %q", in, got, err, want)
		}
	}
	if _, err := MonthOf("last tuesday", ""); err == nil {
		t.Fatal("expected error for free text")
	}
}

func TestMonthOfConfiguredFormat(t *testing.T) {
	got, err := MonthOf("14/03/2025 09:30", "%d/%m/%Y %H:%M")
	if err != nil || got != "2025-03" {
		t.Fatalf("MonthOf=%q,%v want 2025-03", got, err)
	}
	if got, err := MonthOf("2025-04-01T08:00:00", "%d/%m/%Y %H:%M"); err != nil || got != "2025-04" {
		t.Fatalf("ISO fallback: MonthOf=%q,%v", got, err)
	}
	if _, err := MonthOf("14/03/2025 09:30", ""); err == nil {
		t.Fatal("day-first text must not parse without its format")
	}
}

func TestCheckDateFormat(t *testing.T) {
	for format, ok := range map[string]bool{
		"%Y-%m-%dT%H:%M:%S": true,
		"%d/%m/%Y %H:%M":    true,
		"%Y-%m-%d":          true,
		"%H:%M":             false,
		"%s":                false,
	} {
		err := CheckDateFormat(format)
		if ok != (err == nil) {
			t.Fatalf("CheckDateFormat(%q)=%v want ok=%t", format, err, ok)
		}
	}
}

func TestDedupeEvaluations(t *testing.T) {
	evals := []Evaluation{
		{SubmissionID: "1", Status: StatusFailed, Error: "timeout"},
		{SubmissionID: "2", Status: StatusOK, RephrasedSubmission: "first"},
		{SubmissionID: "1.0", Status: StatusOK, RephrasedSubmission: "retry"},
		{SubmissionID: "2", Status: StatusOK, RephrasedSubmission: "second"},
	}
	kept, dropped := DedupeEvaluations(evals)
	if len(kept) != 2 {
		t.Fatalf("kept=%+v", kept)
	}
	if !kept[0].OK() || kept[0].RephrasedSubmission != "retry" {
		t.Fatalf("an ok record should replace a failed one, got %+v", kept[0])
	}
	if kept[1].RephrasedSubmission != "first" {
		t.Fatalf("the first ok record should win, got %+v", kept[1])
	}
	if diff := cmp.Diff([]string{"1", "2"}, dropped); diff != "" {
		t.Fatalf("dropped (-want +got):\n%s", diff)
	}
}

func TestSubmissionJSONKeepsColumnOrder(t *testing.T) {
	s := NewSubmission("3")
	s.Set(FieldName, "Ada")
	s.Set(FieldEmail, "ada@example.com")
	s.Set("What did you build?", "A bot")

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"3","name":"Ada","email":"ada@example.com","What did you build?":"A bot"}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}

	var back Submission
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{FieldName, FieldEmail, "What did you build?"}, back.Keys()); diff != "" {
		t.Fatalf("key order mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmissionUnmarshalScalars(t *testing.T) {
	var s Submission
	in := `{"id": 12.0, "name": "Grace", "votes": 4, "flag": true, "empty": null}`
	if err := json.Unmarshal([]byte(in), &s); err != nil {
		t.Fatal(err)
	}
	if s.ID != "12" {
		t.Fatalf("id=%q want 12", s.ID)
	}
	if s.Get("votes") != "4" || s.Get("flag") != "true" {
		t.Fatalf("unexpected scalars: %+v", s.Fields)
	}
	if _, ok := s.Fields["empty"]; ok {
		t.Fatal("null fields must be dropped")
	}
}

func TestSubmissionDemoLinkFallback(t *testing.T) {
	s := NewSubmission("1")
	s.Set("Optional: Upload a screenshot or paste a link to a demo", "https://demo")
	if s.DemoLink() != "https://demo" {
		t.Fatalf("got %q", s.DemoLink())
	}
}

func TestEvaluationCommentary(t *testing.T) {
	ev := Evaluation{
		RephrasedSubmission:   "Automates rent roll checks.",
		Reasoning:             map[string]string{"feasibility": "Uses existing exports."},
		ImplementationRoadmap: "Pilot in Q3.",
	}
	got := ev.Commentary()
	for _, part := range []string{"Automates rent roll checks.", "Feasibility: Uses existing exports.", "Pilot in Q3."} {
		if !strings.Contains(got, part) {
			t.Fatalf("commentary missing %q: %q", part, got)
		}
	}
}
