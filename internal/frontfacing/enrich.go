package frontfacing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
	"github.com/joelkehle/challenge-pipeline/internal/llm"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
	"github.com/joelkehle/challenge-pipeline/internal/telemetry"
)

const (
	maxTitleWords = 8
	maxTitleChars = 120
	minKeywords   = 3
	maxKeywords   = 16
)

const (
	titleSystem   = "Return only a JSON object with a single title field."
	cleanSystem   = "Return only valid JSON per schema."
	keywordSystem = "Extract 5-12 concise, domain-specific keywords (1-3 words each) that capture the core idea.\n" +
		"Avoid generic or filler words (e.g. 'using', 'data', 'system', 'improve').\n" +
		"Prefer terms meaningful for an asset management firm (workflows, tools, domains).\n" +
		"Return ONLY JSON of the form {\"keywords\": [{\"term\": \"...\", \"weight\": 1.0}]}."
)

type EnrichOptions struct {
	Title       bool
	Clean       bool
	Keywords    bool
	Concurrency int
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
}

func (o EnrichOptions) Any() bool { return o.Title || o.Clean || o.Keywords }

// Enricher adds model-written fields to front-facing entries. Each field is
// independent: a failure leaves only that field out.
type Enricher struct {
	exec *llm.Executor
	opts EnrichOptions
	log  *zap.Logger
}

func NewEnricher(exec *llm.Executor, opts EnrichOptions) *Enricher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Enricher{exec: exec, opts: opts, log: logging.OrNop(opts.Logger)}
}

// EnrichStats counts enrichment failures per field.
type EnrichStats struct {
	TitleFailed    int
	CleanFailed    int
	KeywordsFailed int
}

// Enrich fills the requested fields in place, preserving entry order. Only an
// auth failure or cancellation aborts.
func (e *Enricher) Enrich(ctx context.Context, entries []challenge.FrontFacingEntry, subs []challenge.Submission) (EnrichStats, error) {
	index := challenge.IndexSubmissions(subs)
	failed := make([][3]bool, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i := range entries {
		i := i
		g.Go(func() error {
			entry := &entries[i]
			if e.opts.Title {
				title, err := e.title(gctx, *entry)
				if err := e.settle(gctx, "title", entry.SubmissionID, err); err != nil {
					return err
				}
				if err == nil {
					entry.Title = title
				} else {
					failed[i][0] = true
				}
			}
			if e.opts.Clean {
				sub, ok := index[entry.SubmissionID]
				var cleaned *challenge.CleanedFields
				var err error
				if !ok {
					err = failure.NotFound("clean", fmt.Errorf("submission %s not found", entry.SubmissionID))
				} else {
					cleaned, err = e.clean(gctx, sub)
				}
				if err := e.settle(gctx, "clean", entry.SubmissionID, err); err != nil {
					return err
				}
				if err == nil {
					entry.Cleaned = cleaned
				} else {
					failed[i][1] = true
				}
			}
			if e.opts.Keywords {
				kws, err := e.keywords(gctx, *entry)
				if err := e.settle(gctx, "keywords", entry.SubmissionID, err); err != nil {
					return err
				}
				if err == nil {
					entry.Keywords = kws
				} else {
					failed[i][2] = true
				}
			}
			return nil
		})
	}
	err := g.Wait()

	var stats EnrichStats
	for _, f := range failed {
		if f[0] {
			stats.TitleFailed++
		}
		if f[1] {
			stats.CleanFailed++
		}
		if f[2] {
			stats.KeywordsFailed++
		}
	}
	return stats, err
}

// settle logs a per-field failure and returns non-nil only when the whole
// pass must stop.
func (e *Enricher) settle(ctx context.Context, field, id string, err error) error {
	if err == nil {
		return nil
	}
	if failure.Is(err, failure.KindAuth) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.opts.Metrics.ItemFailed("front-facing")
	e.log.Warn("front-facing enrichment omitted",
		zap.String("field", field),
		zap.String("submission_id", id),
		zap.Error(err))
	return nil
}

type titleResponse struct {
	Title string `json:"title"`
}

func (e *Enricher) title(ctx context.Context, entry challenge.FrontFacingEntry) (string, error) {
	prompt := "Create a concise, specific project title (max 8 words).\n" +
		"No quotes, no emojis, no trailing punctuation.\n" +
		"Focus on the core task or workflow.\n" +
		"Return JSON {\"title\": \"...\"}.\n\n" +
		"Name: " + entry.Name + "\n" +
		"Rephrased submission: " + entry.RephrasedSubmission
	var resp titleResponse
	validate := func() error {
		t := normalizeTitle(resp.Title)
		if t == "" {
			return errors.New("title is required")
		}
		if n := len(strings.Fields(t)); n > maxTitleWords {
			return fmt.Errorf("title has %d words, at most %d allowed", n, maxTitleWords)
		}
		return nil
	}
	if _, err := e.exec.Run(ctx, "title", titleSystem, prompt, &resp, validate); err != nil {
		return "", err
	}
	return normalizeTitle(resp.Title), nil
}

// normalizeTitle keeps the first line, strips wrapping quotes and trailing
// punctuation, and caps the length.
func normalizeTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` ")
	s = strings.TrimRight(s, ".!?;:, ")
	if r := []rune(s); len(r) > maxTitleChars {
		s = strings.TrimSpace(string(r[:maxTitleChars]))
	}
	return s
}

type cleanResponse struct {
	WhatBuilt          *string `json:"what_built"`
	ChallengeAddressed *string `json:"challenge_addressed"`
	Outcome            *string `json:"outcome"`
	CrossTeamUse       *string `json:"cross_team_use"`
	Surprise           *string `json:"surprise"`
	Optional           *string `json:"optional"`
}

func (r cleanResponse) missing() []string {
	var out []string
	for _, f := range []struct {
		key string
		v   *string
	}{
		{"what_built", r.WhatBuilt},
		{"challenge_addressed", r.ChallengeAddressed},
		{"outcome", r.Outcome},
		{"cross_team_use", r.CrossTeamUse},
		{"surprise", r.Surprise},
		{"optional", r.Optional},
	} {
		if f.v == nil {
			out = append(out, f.key)
		}
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func (e *Enricher) clean(ctx context.Context, sub challenge.Submission) (*challenge.CleanedFields, error) {
	fields := map[string]string{
		"what_built":          sub.Get(challenge.FieldWhatBuilt),
		"challenge_addressed": sub.Get(challenge.FieldChallenge),
		"outcome":             sub.Get(challenge.FieldOutcome),
		"cross_team_use":      sub.Get(challenge.FieldCrossTeamUse),
		"surprise":            sub.Get(challenge.FieldSurprise),
		"optional":            sub.DemoLink(),
	}
	blob, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	prompt := "Clean and standardize each field into clear, concise text (1-3 sentences each).\n" +
		"Preserve meaning, remove filler and redundant phrasing.\n" +
		"If a field is empty, return an empty string for that key.\n" +
		"Return ONLY JSON with EXACT keys: what_built, challenge_addressed, outcome, cross_team_use, surprise, optional.\n\n" +
		"Input JSON:\n" + string(blob)
	var resp cleanResponse
	validate := func() error {
		if m := resp.missing(); len(m) > 0 {
			return fmt.Errorf("missing keys: %s", strings.Join(m, ", "))
		}
		return nil
	}
	if _, err := e.exec.Run(ctx, "clean", cleanSystem, prompt, &resp, validate); err != nil {
		return nil, err
	}
	return &challenge.CleanedFields{
		WhatBuilt:          deref(resp.WhatBuilt),
		ChallengeAddressed: deref(resp.ChallengeAddressed),
		Outcome:            deref(resp.Outcome),
		CrossTeamUse:       deref(resp.CrossTeamUse),
		Surprise:           deref(resp.Surprise),
		Optional:           deref(resp.Optional),
	}, nil
}

type keywordResponse struct {
	Keywords []json.RawMessage `json:"keywords"`

	parsed []challenge.Keyword
}

// normalize accepts {"term","weight"} objects or bare strings. Weight
// defaults to 1.
func (r *keywordResponse) normalize() error {
	r.parsed = nil
	for _, raw := range r.Keywords {
		var term string
		if err := json.Unmarshal(raw, &term); err == nil {
			if term = strings.TrimSpace(term); term != "" {
				r.parsed = append(r.parsed, challenge.Keyword{Term: term, Weight: 1})
			}
			continue
		}
		var obj struct {
			Term   string   `json:"term"`
			Weight *float64 `json:"weight"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			continue
		}
		term = strings.TrimSpace(obj.Term)
		if term == "" {
			continue
		}
		w := 1.0
		if obj.Weight != nil {
			w = *obj.Weight
		}
		r.parsed = append(r.parsed, challenge.Keyword{Term: term, Weight: w})
	}
	if len(r.parsed) < minKeywords {
		return fmt.Errorf("need at least %d keywords, got %d", minKeywords, len(r.parsed))
	}
	if len(r.parsed) > maxKeywords {
		r.parsed = r.parsed[:maxKeywords]
	}
	return nil
}

func (e *Enricher) keywords(ctx context.Context, entry challenge.FrontFacingEntry) ([]challenge.Keyword, error) {
	if entry.RephrasedSubmission == "" {
		return nil, failure.Schemaf("keywords", "no rephrased submission to extract from")
	}
	blob, err := json.Marshal(map[string]string{
		"id":                   entry.SubmissionID,
		"name":                 entry.Name,
		"rephrased_submission": entry.RephrasedSubmission,
	})
	if err != nil {
		return nil, err
	}
	var resp keywordResponse
	if _, err := e.exec.Run(ctx, "keywords", keywordSystem, string(blob), &resp, resp.normalize); err != nil {
		return nil, err
	}
	return resp.parsed, nil
}
