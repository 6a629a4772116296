package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joelkehle/challenge-pipeline/internal/failure"
	"github.com/joelkehle/challenge-pipeline/internal/ledger"
)

func TestListAndShowRuns(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer l.Close()

	runID, err := l.StartRun(ctx, `{"skip_llm":false}`)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.RecordStage(ctx, ledger.StageResult{RunID: runID, Position: 0, Stage: "evaluate", Status: ledger.StatusFailed, StartedAt: "t0", Items: 2, Error: "llm: 401\nunauthorized"}); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordEvaluations(ctx, []ledger.EvaluationOutcome{
		{RunID: runID, SubmissionID: "7", Status: "failed", Attempts: 3, Error: "auth_error"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := l.FinishRun(ctx, runID, "evaluate", errors.New("llm: 401")); err != nil {
		t.Fatal(err)
	}

	var list bytes.Buffer
	if err := ListRuns(ctx, &list, l, 10); err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(list.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "RUN") {
		t.Fatalf("list output:\n%s", list.String())
	}
	if !strings.Contains(lines[1], runID) || !strings.Contains(lines[1], "failed") || !strings.Contains(lines[1], "evaluate") {
		t.Fatalf("run line %q", lines[1])
	}

	var show bytes.Buffer
	if err := ShowRun(ctx, &show, l, runID); err != nil {
		t.Fatalf("ShowRun: %v", err)
	}
	out := show.String()
	for _, want := range []string{"run " + runID, "error llm: 401", "llm: 401 unauthorized", "auth_error", `options {"skip_llm":false}`} {
		if !strings.Contains(out, want) {
			t.Fatalf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestShowUnknownRun(t *testing.T) {
	l, err := ledger.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer l.Close()

	err = ShowRun(context.Background(), &bytes.Buffer{}, l, "missing")
	if !failure.Is(err, failure.KindNotFound) {
		t.Fatalf("err=%v, want not found", err)
	}
	if ExitCode(err) != ExitFailure {
		t.Fatalf("ExitCode=%d", ExitCode(err))
	}
}
