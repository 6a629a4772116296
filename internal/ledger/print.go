package ledger

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// PrintRuns writes one line per run, newest first as given.
func PrintRuns(w io.Writer, runs []Run) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tFINISHED\tSTATUS\tFAILED STAGE")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.StartedAt, orDash(r.FinishedAt), r.Status, orDash(r.FailedStage))
	}
	return tw.Flush()
}

// PrintRun writes a run's header, its stages in order and the evaluation
// outcomes recorded for it.
func PrintRun(w io.Writer, run Run, stages []StageResult, outcomes []EvaluationOutcome) error {
	fmt.Fprintf(w, "run %s  %s\n", run.RunID, run.Status)
	fmt.Fprintf(w, "started %s  finished %s\n", run.StartedAt, orDash(run.FinishedAt))
	if run.Options != "" {
		fmt.Fprintf(w, "options %s\n", run.Options)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "error %s\n", run.Error)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nSTAGE\tSTATUS\tITEMS\tDURATION\tERROR")
	for _, s := range stages {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%dms\t%s\n", s.Stage, s.Status, s.Items, s.DurationMS, orDash(oneLine(s.Error)))
	}
	if len(outcomes) > 0 {
		fmt.Fprintln(tw, "\nSUBMISSION\tSTATUS\tREUSED\tATTEMPTS\tERROR")
		for _, o := range outcomes {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", o.SubmissionID, o.Status, o.Reused, o.Attempts, orDash(oneLine(o.Error)))
		}
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
