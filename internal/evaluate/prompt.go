package evaluate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joelkehle/challenge-pipeline/internal/challenge"
)

const systemPrompt = "You are an AI Proposal Evaluator for an asset management firm's internal innovation challenge.\n\n" +
	"Critically assess each submission for clarity, relevance and potential impact on the firm's strategy. " +
	"Be blunt, objective and concise. Do not praise generic ideas or use vague language. " +
	"Always comment on every criterion, even if information is missing.\n\n" +
	"Word limit: maximum 120 words of reasoning in total, each criterion at most 25 words.\n\n" +
	"Criteria:\n" +
	"specificity: Is the idea narrow and task-focused? Does it clearly define what AI is doing?\n" +
	"strategic_alignment: Does it directly support asset management functions (acquisitions, underwriting, risk, client service)?\n" +
	"value_roi: Does it deliver measurable business value (cost savings, better decisions, faster workflows)? Can other departments use it?\n" +
	"feasibility: Can it realistically be built with current data, infrastructure or Microsoft/Power Automate tools?\n" +
	"non_technical_usability: Would analysts and portfolio managers easily understand and use it?\n" +
	"novelty_creativity: Is the idea distinctive or a generic AI application?\n" +
	"technical_complexity_vs_value: Does the added value justify the implementation effort?\n" +
	"overall_verdict: In 1-2 sentences, bluntly summarize how valuable or irrelevant the idea is to the firm.\n\n" +
	"Return ONLY JSON conforming to the provided schema. Scores MUST be integers 1..5 (no words), 5 = best."

const responseSchema = `{
  "rephrased_submission": "string, at most 1200 characters",
  "reasoning": {
    "specificity": "string", "strategic_alignment": "string", "value_roi": "string",
    "feasibility": "string", "non_technical_usability": "string", "novelty_creativity": "string",
    "technical_complexity_vs_value": "string", "overall_verdict": "string"
  },
  "scores": {
    "specificity": 1, "strategic_alignment": 1, "value_roi": 1, "feasibility": 1,
    "non_technical_usability": 1, "novelty_creativity": 1, "technical_complexity_vs_value": 1,
    "overall_verdict": 1
  },
  "implementation_roadmap": "string, at most 2000 characters"
}`

type submissionPayload struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	StartTime        string `json:"start_time"`
	CompletionTime   string `json:"completion_time"`
	SubmitterType    string `json:"submitter_type"`
	TeamOrDepartment string `json:"team_or_department"`
	WhatBuilt        string `json:"what_built"`
	ChallengeAddress string `json:"challenge_addressed"`
	Outcome          string `json:"outcome"`
	CrossTeamUse     string `json:"cross_team_use"`
	Surprise         string `json:"surprise"`
	DemoLinks        string `json:"demo_links"`
}

func buildPrompt(sub challenge.Submission) (string, error) {
	payload := submissionPayload{
		ID:               sub.ID,
		Name:             sub.Get(challenge.FieldName),
		Email:            sub.Get(challenge.FieldEmail),
		StartTime:        sub.Get(challenge.FieldStartTime),
		CompletionTime:   sub.Get(challenge.FieldCompletionTime),
		SubmitterType:    sub.Get(challenge.FieldSubmitterType),
		TeamOrDepartment: sub.Get(challenge.FieldTeam),
		WhatBuilt:        sub.Get(challenge.FieldWhatBuilt),
		ChallengeAddress: sub.Get(challenge.FieldChallenge),
		Outcome:          sub.Get(challenge.FieldOutcome),
		CrossTeamUse:     sub.Get(challenge.FieldCrossTeamUse),
		Surprise:         sub.Get(challenge.FieldSurprise),
		DemoLinks:        sub.DemoLink(),
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode submission %s: %w", sub.ID, err)
	}
	return "Submission JSON:\n" + string(blob) + "\n\nSchema:\n" + responseSchema, nil
}

// modelResponse is the shape the model is asked for. Scores stay untyped so
// numeric strings and rating words can be coerced during validation.
type modelResponse struct {
	RephrasedSubmission   string            `json:"rephrased_submission"`
	Reasoning             map[string]string `json:"reasoning"`
	Scores                map[string]any    `json:"scores"`
	ImplementationRoadmap string            `json:"implementation_roadmap"`

	coerced map[string]int
}

// validate checks every required field and coerces the scores.
func (r *modelResponse) validate() error {
	var problems []string
	if strings.TrimSpace(r.RephrasedSubmission) == "" {
		problems = append(problems, "rephrased_submission is required")
	}
	if strings.TrimSpace(r.ImplementationRoadmap) == "" {
		problems = append(problems, "implementation_roadmap is required")
	}
	coerced := make(map[string]int, len(challenge.Criteria))
	for _, c := range challenge.Criteria {
		if strings.TrimSpace(r.Reasoning[c]) == "" {
			problems = append(problems, "reasoning."+c+" is required")
		}
		v, ok := r.Scores[c]
		if !ok {
			problems = append(problems, "scores."+c+" is required")
			continue
		}
		n, err := challenge.CoerceScore(v)
		if err != nil {
			problems = append(problems, "scores."+c+": "+err.Error())
			continue
		}
		coerced[c] = n
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	r.coerced = coerced
	return nil
}

