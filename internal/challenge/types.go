// Package challenge holds the records that flow between pipeline stages:
// submissions, evaluations, front-facing entries and their shared helpers.
package challenge

import (
	"strings"
)

// Well-known submission fields, named after the rename mapping in
// config/rename.json. Records without a mapping keep their question text.
const (
	FieldID             = "id"
	FieldName           = "name"
	FieldEmail          = "email"
	FieldStartTime      = "start_time"
	FieldCompletionTime = "completion_time"
	FieldSubmitterType  = "submitter_type"
	FieldTeam           = "team_or_department"
	FieldWhatBuilt      = "what_built"
	FieldChallenge      = "challenge_addressed"
	FieldOutcome        = "outcome"
	FieldCrossTeamUse   = "cross_team_use"
	FieldSurprise       = "surprise"
	FieldDemoLink       = "demo_link_or_screenshot"
)

// demoLinkFallbacks are the raw form labels seen when no rename was applied.
var demoLinkFallbacks = []string{
	"Optional:\u00a0Upload a screenshot or paste a link to a demo",
	"Optional: Upload a screenshot or paste a link to a demo",
}

type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

type SubmissionMetadata struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	SubmissionID string `json:"submission_id"`
	TimestampUTC string `json:"timestamp_utc"`
}

// Evaluation is the tagged result of grading one submission: either the
// success payload (Status ok) or a failure reason (Status failed).
type Evaluation struct {
	SubmissionID          string              `json:"submission_id"`
	Status                Status              `json:"status"`
	Metadata              *SubmissionMetadata `json:"submission_metadata,omitempty"`
	RephrasedSubmission   string              `json:"rephrased_submission,omitempty"`
	Reasoning             map[string]string   `json:"reasoning,omitempty"`
	Scores                map[string]int      `json:"scores,omitempty"`
	ImplementationRoadmap string              `json:"implementation_roadmap,omitempty"`
	Model                 string              `json:"model,omitempty"`
	EvaluatedAt           string              `json:"evaluated_at,omitempty"`
	Attempts              int                 `json:"attempts,omitempty"`
	Error                 string              `json:"error,omitempty"`
	ErrorKind             string              `json:"error_kind,omitempty"`
}

func (e Evaluation) OK() bool { return e.Status == StatusOK }

func (e Evaluation) Score(criterion string) (int, bool) {
	v, ok := e.Scores[criterion]
	if !ok || v < MinScore || v > MaxScore {
		return 0, false
	}
	return v, true
}

func (e Evaluation) Name() string {
	if e.Metadata == nil {
		return ""
	}
	return strings.TrimSpace(e.Metadata.Name)
}

func (e Evaluation) Timestamp() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata.TimestampUTC
}

// Commentary joins the free-text parts of an evaluation.
func (e Evaluation) Commentary() string {
	parts := []string{}
	if s := strings.TrimSpace(e.RephrasedSubmission); s != "" {
		parts = append(parts, s)
	}
	for _, c := range Criteria {
		if s := strings.TrimSpace(e.Reasoning[c]); s != "" {
			parts = append(parts, CriterionLabel(c)+": "+s)
		}
	}
	if s := strings.TrimSpace(e.ImplementationRoadmap); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

// DedupeEvaluations keeps one evaluation per normalised submission id. The
// first ok record wins; a failed record is replaced by a later ok one. The
// ids of discarded records are returned.
func DedupeEvaluations(evals []Evaluation) ([]Evaluation, []string) {
	pos := make(map[string]int, len(evals))
	out := make([]Evaluation, 0, len(evals))
	var dropped []string
	for _, ev := range evals {
		id := NormalizeID(ev.SubmissionID)
		i, seen := pos[id]
		if !seen {
			pos[id] = len(out)
			out = append(out, ev)
			continue
		}
		if !out[i].OK() && ev.OK() {
			dropped = append(dropped, out[i].SubmissionID)
			out[i] = ev
			continue
		}
		dropped = append(dropped, ev.SubmissionID)
	}
	return out, dropped
}

type CleanedFields struct {
	WhatBuilt          string `json:"what_built"`
	ChallengeAddressed string `json:"challenge_addressed"`
	Outcome            string `json:"outcome"`
	CrossTeamUse       string `json:"cross_team_use"`
	Surprise           string `json:"surprise"`
	Optional           string `json:"optional"`
}

type Keyword struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// FrontFacingEntry is the public projection of one successful evaluation.
type FrontFacingEntry struct {
	Name                string         `json:"name"`
	Title               string         `json:"title,omitempty"`
	RephrasedSubmission string         `json:"rephrased_submission,omitempty"`
	SubmissionID        string         `json:"submission_id"`
	CompletionTime      string         `json:"completion_time,omitempty"`
	Email               string         `json:"email,omitempty"`
	SubmitterType       string         `json:"submitter_type,omitempty"`
	TeamOrDepartment    string         `json:"team_or_department,omitempty"`
	OverallScore        int            `json:"overall_score"`
	Scores              map[string]int `json:"scores,omitempty"`
	Cleaned             *CleanedFields `json:"cleaned,omitempty"`
	Keywords            []Keyword      `json:"keywords,omitempty"`
}

// ScoreFor returns the entry's score for criterion. The overall verdict falls
// back to OverallScore for entries written without a scores map.
func (f FrontFacingEntry) ScoreFor(criterion string) (int, bool) {
	if v, ok := f.Scores[criterion]; ok && v >= MinScore && v <= MaxScore {
		return v, true
	}
	if criterion == CriterionOverall && f.OverallScore >= MinScore && f.OverallScore <= MaxScore {
		return f.OverallScore, true
	}
	return 0, false
}

type KeywordAggregate struct {
	Term      string  `json:"term"`
	Count     int     `json:"count"`
	WeightSum float64 `json:"weight_sum"`
}

// RankedSubmissions is the monthly leaderboard written by the rank stage.
type RankedSubmissions struct {
	StartMonth string                        `json:"start_month"`
	TopN       int                           `json:"top_n"`
	ScoreField string                        `json:"score_field"`
	Monthly    map[string][]FrontFacingEntry `json:"monthly"`
	YearToDate []FrontFacingEntry            `json:"year_to_date"`
}
