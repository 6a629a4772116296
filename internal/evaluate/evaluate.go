// Package evaluate grades submissions with a language model and writes the
// evaluations artifact.
package evaluate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/challenge-pipeline/internal/artifact"
	"github.com/joelkehle/challenge-pipeline/internal/challenge"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
	"github.com/joelkehle/challenge-pipeline/internal/llm"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
	"github.com/joelkehle/challenge-pipeline/internal/telemetry"
)

const purpose = "evaluate"

type Options struct {
	SubmissionsPath string
	OutputPath      string
	// Overwrite re-evaluates submissions that already have an ok record.
	Overwrite bool
	// Limit, when positive, only considers the first Limit submissions.
	Limit       int
	Concurrency int
	Model       string
	Pretty      bool
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
	Now         func() time.Time
}

// Outcome is the per-submission summary kept in the run ledger.
type Outcome struct {
	SubmissionID string
	Status       challenge.Status
	Reused       bool
	Attempts     int
	Error        string
}

type Result struct {
	Evaluations    []challenge.Evaluation
	Outcomes       []Outcome
	Evaluated      int
	Reused         int
	Failed         int
	DroppedOrphans int
}

type Evaluator struct {
	exec *llm.Executor
	opts Options
	log  *zap.Logger
}

func New(exec *llm.Executor, opts Options) *Evaluator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Evaluator{exec: exec, opts: opts, log: logging.OrNop(opts.Logger)}
}

// Run evaluates the submissions file and writes the evaluations file. Prior
// ok records are kept unless Overwrite is set; prior failures are retried;
// prior records whose submission no longer exists are dropped.
func (e *Evaluator) Run(ctx context.Context) (Result, error) {
	subs, err := artifact.ReadSubmissions(e.opts.SubmissionsPath)
	if err != nil {
		return Result{}, err
	}
	prior, err := artifact.ReadEvaluationsIfExists(e.opts.OutputPath)
	if err != nil {
		return Result{}, err
	}
	res, err := e.Evaluate(ctx, subs, prior)
	if err != nil {
		return res, err
	}
	evals := res.Evaluations
	if evals == nil {
		evals = []challenge.Evaluation{}
	}
	if err := artifact.Write(e.opts.OutputPath, evals, e.opts.Pretty); err != nil {
		return res, fmt.Errorf("write evaluations: %w", err)
	}
	e.opts.Metrics.ItemsWritten(purpose, len(evals))
	e.log.Info("evaluate wrote evaluations",
		zap.String("path", e.opts.OutputPath),
		zap.Int("records", len(evals)),
		zap.Int("evaluated", res.Evaluated),
		zap.Int("reused", res.Reused),
		zap.Int("failed", res.Failed),
		zap.Int("dropped_orphans", res.DroppedOrphans))
	return res, nil
}

type slot struct {
	eval     challenge.Evaluation
	present  bool
	reused   bool
	evaluate bool
}

// Evaluate merges prior records with fresh evaluations. Output order follows
// subs. An auth failure aborts the whole pass; any other item failure becomes
// a failed record.
func (e *Evaluator) Evaluate(ctx context.Context, subs []challenge.Submission, prior []challenge.Evaluation) (Result, error) {
	var res Result
	index := challenge.IndexSubmissions(subs)
	priorByID := make(map[string]challenge.Evaluation, len(prior))
	for _, p := range prior {
		id := challenge.NormalizeID(p.SubmissionID)
		if _, ok := index[id]; !ok {
			res.DroppedOrphans++
			e.log.Warn("evaluate dropped orphaned evaluation", zap.String("submission_id", p.SubmissionID))
			continue
		}
		priorByID[id] = p
	}

	slots := make([]slot, len(subs))
	for i, sub := range subs {
		id := challenge.NormalizeID(sub.ID)
		p, hasPrior := priorByID[id]
		inScope := e.opts.Limit <= 0 || i < e.opts.Limit
		switch {
		case hasPrior && p.OK() && !e.opts.Overwrite:
			slots[i] = slot{eval: p, present: true, reused: true}
		case inScope:
			slots[i] = slot{evaluate: true, present: true}
		case hasPrior:
			slots[i] = slot{eval: p, present: true, reused: true}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i := range slots {
		if !slots[i].evaluate {
			continue
		}
		i := i
		sub := subs[i]
		g.Go(func() error {
			ev, err := e.EvaluateOne(gctx, sub)
			if err != nil {
				return err
			}
			slots[i].eval = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	for _, s := range slots {
		if !s.present {
			continue
		}
		res.Evaluations = append(res.Evaluations, s.eval)
		res.Outcomes = append(res.Outcomes, Outcome{
			SubmissionID: s.eval.SubmissionID,
			Status:       s.eval.Status,
			Reused:       s.reused,
			Attempts:     s.eval.Attempts,
			Error:        s.eval.Error,
		})
		switch {
		case s.reused:
			res.Reused++
		case s.eval.OK():
			res.Evaluated++
		}
		if !s.eval.OK() && !s.reused {
			res.Failed++
		}
	}
	return res, nil
}

// EvaluateOne grades a single submission. The returned error is non-nil only
// for failures that make every other item pointless (bad credentials or a
// cancelled context); everything else is reported in the record.
func (e *Evaluator) EvaluateOne(ctx context.Context, sub challenge.Submission) (challenge.Evaluation, error) {
	id := challenge.NormalizeID(sub.ID)
	meta := &challenge.SubmissionMetadata{
		Name:         sub.Get(challenge.FieldName),
		Email:        sub.Get(challenge.FieldEmail),
		SubmissionID: id,
		TimestampUTC: sub.Timestamp(),
	}
	ev := challenge.Evaluation{
		SubmissionID: id,
		Metadata:     meta,
		Model:        e.opts.Model,
		EvaluatedAt:  e.opts.Now().UTC().Format(time.RFC3339),
	}

	prompt, err := buildPrompt(sub)
	if err != nil {
		return e.failed(ev, failure.Parse(purpose, err).For(id), 0), nil
	}
	var resp modelResponse
	stats, err := e.exec.Run(ctx, purpose, systemPrompt, prompt, &resp, resp.validate)
	if err != nil {
		if failure.Is(err, failure.KindAuth) {
			return ev, err
		}
		if ctx.Err() != nil {
			return ev, ctx.Err()
		}
		return e.failed(ev, err, stats.Attempts), nil
	}

	ev.Status = challenge.StatusOK
	ev.Attempts = stats.Attempts
	ev.RephrasedSubmission = strings.TrimSpace(resp.RephrasedSubmission)
	ev.ImplementationRoadmap = strings.TrimSpace(resp.ImplementationRoadmap)
	ev.Scores = resp.coerced
	ev.Reasoning = make(map[string]string, len(challenge.Criteria))
	for _, c := range challenge.Criteria {
		ev.Reasoning[c] = strings.TrimSpace(resp.Reasoning[c])
	}
	e.log.Debug("evaluate submission ok",
		zap.String("submission_id", id),
		zap.Int("attempts", stats.Attempts),
		zap.Int("overall", ev.Scores[challenge.CriterionOverall]))
	return ev, nil
}

func (e *Evaluator) failed(ev challenge.Evaluation, err error, attempts int) challenge.Evaluation {
	ev.Status = challenge.StatusFailed
	ev.Attempts = attempts
	ev.Error = err.Error()
	ev.ErrorKind = string(failure.KindOf(err))
	e.opts.Metrics.ItemFailed(purpose)
	e.log.Warn("evaluate submission failed",
		zap.String("submission_id", ev.SubmissionID),
		zap.Int("attempts", attempts),
		zap.Error(err))
	return ev
}
