package cli

import (
	"context"
	"io"

	"github.com/joelkehle/challenge-pipeline/internal/ledger"
)

// ListRuns prints the most recent runs recorded in l.
func ListRuns(ctx context.Context, w io.Writer, l *ledger.Ledger, limit int) error {
	runs, err := l.LatestRuns(ctx, limit)
	if err != nil {
		return err
	}
	return ledger.PrintRuns(w, runs)
}

// ShowRun prints one run with its stage results and evaluation outcomes.
func ShowRun(ctx context.Context, w io.Writer, l *ledger.Ledger, runID string) error {
	run, err := l.Run(ctx, runID)
	if err != nil {
		return err
	}
	stages, err := l.Stages(ctx, runID)
	if err != nil {
		return err
	}
	outcomes, err := l.Evaluations(ctx, runID)
	if err != nil {
		return err
	}
	return ledger.PrintRun(w, run, stages, outcomes)
}
