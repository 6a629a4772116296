// Package pipeline runs the stages in order, records each one in the run
// ledger and stops at the first failure of a stage that is not skippable.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/evaluate"
	"github.com/joelkehle/challenge-pipeline/internal/ledger"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
	"github.com/joelkehle/challenge-pipeline/internal/telemetry"
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Record is what a stage reports back for the ledger.
type Record struct {
	Items       int
	Evaluations []evaluate.Outcome
}

type Stage struct {
	Name string
	// Skippable stages log their failure and let the pipeline continue.
	Skippable bool
	Run       func(ctx context.Context, rec *Record) error
}

type StageProgressFn func(stage, message string)

type StageSummary struct {
	Name     string
	Status   string
	Duration time.Duration
	Items    int
	Err      error
}

type Summary struct {
	RunID  string
	Stages []StageSummary
}

type Runner struct {
	ledger   *ledger.Ledger
	metrics  *telemetry.Metrics
	log      *zap.Logger
	progress StageProgressFn
	now      func() time.Time
}

type RunnerOptions struct {
	// Ledger may be nil.
	Ledger   *ledger.Ledger
	Metrics  *telemetry.Metrics
	Logger   *zap.Logger
	Progress StageProgressFn
}

func NewRunner(opts RunnerOptions) *Runner {
	return &Runner{
		ledger:   opts.Ledger,
		metrics:  opts.Metrics,
		log:      logging.OrNop(opts.Logger),
		progress: opts.Progress,
		now:      time.Now,
	}
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}

// Run executes stages in order. The returned error, when non-nil, is a
// *StageError naming the stage that halted the run.
func (r *Runner) Run(ctx context.Context, stages []Stage, options string) (Summary, error) {
	var sum Summary
	if r.ledger != nil {
		id, err := r.ledger.StartRun(ctx, options)
		if err != nil {
			r.log.Warn("pipeline ledger unavailable", zap.Error(err))
		}
		sum.RunID = id
	}

	ctx, span := telemetry.StartSpan(ctx, "pipeline.run", attribute.String("run_id", sum.RunID))
	runErr := r.run(ctx, stages, &sum)
	telemetry.EndSpan(span, runErr)

	r.metrics.RunFinished(r.now())
	if sum.RunID != "" {
		failedStage := ""
		var se *StageError
		if errors.As(runErr, &se) {
			failedStage = se.Stage
		}
		if err := r.ledger.FinishRun(context.WithoutCancel(ctx), sum.RunID, failedStage, runErr); err != nil {
			r.log.Warn("pipeline ledger finish failed", zap.Error(err))
		}
	}
	return sum, runErr
}

func (r *Runner) run(ctx context.Context, stages []Stage, sum *Summary) error {
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return &StageError{Stage: stage.Name, Err: err}
		}
		emit(r.progress, stage.Name, fmt.Sprintf("[%d/%d] %s", i+1, len(stages), stage.Name))

		started := r.now()
		var rec Record
		stageCtx, span := telemetry.StartSpan(ctx, "stage."+stage.Name)
		err := stage.Run(stageCtx, &rec)
		telemetry.EndSpan(span, err)
		elapsed := r.now().Sub(started)
		r.metrics.StageFinished(stage.Name, elapsed, err)

		status := ledger.StatusSucceeded
		switch {
		case err != nil && stage.Skippable:
			status = ledger.StatusSkipped
		case err != nil:
			status = ledger.StatusFailed
		}
		sum.Stages = append(sum.Stages, StageSummary{Name: stage.Name, Status: status, Duration: elapsed, Items: rec.Items, Err: err})
		r.record(ctx, sum.RunID, i, stage.Name, status, started, elapsed, rec, err)

		if err != nil {
			if stage.Skippable {
				r.log.Warn("pipeline stage skipped after failure", zap.String("stage", stage.Name), zap.Error(err))
				emit(r.progress, stage.Name, fmt.Sprintf("%s skipped: %v", stage.Name, err))
				continue
			}
			r.log.Error("pipeline stage failed", zap.String("stage", stage.Name), zap.Error(err))
			return &StageError{Stage: stage.Name, Err: err}
		}
		r.log.Info("pipeline stage complete",
			zap.String("stage", stage.Name),
			zap.Int("items", rec.Items),
			zap.Duration("elapsed", elapsed.Round(time.Millisecond)))
		emit(r.progress, stage.Name, fmt.Sprintf("%s complete in %s", stage.Name, elapsed.Round(time.Millisecond)))
	}
	return nil
}

func (r *Runner) record(ctx context.Context, runID string, pos int, name, status string, started time.Time, elapsed time.Duration, rec Record, err error) {
	if runID == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)
	res := ledger.StageResult{
		RunID:      runID,
		Position:   pos,
		Stage:      name,
		Status:     status,
		StartedAt:  started.UTC().Format(time.RFC3339Nano),
		DurationMS: elapsed.Milliseconds(),
		Items:      rec.Items,
	}
	if err != nil {
		res.Error = err.Error()
	}
	if lerr := r.ledger.RecordStage(ctx, res); lerr != nil {
		r.log.Warn("pipeline ledger stage write failed", zap.String("stage", name), zap.Error(lerr))
	}
	if len(rec.Evaluations) == 0 {
		return
	}
	outcomes := make([]ledger.EvaluationOutcome, 0, len(rec.Evaluations))
	for _, o := range rec.Evaluations {
		outcomes = append(outcomes, ledger.EvaluationOutcome{
			RunID:        runID,
			SubmissionID: o.SubmissionID,
			Status:       string(o.Status),
			Reused:       o.Reused,
			Attempts:     o.Attempts,
			Error:        o.Error,
		})
	}
	if lerr := r.ledger.RecordEvaluations(ctx, outcomes); lerr != nil {
		r.log.Warn("pipeline ledger evaluation write failed", zap.Error(lerr))
	}
}
