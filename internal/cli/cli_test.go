package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
	"github.com/joelkehle/challenge-pipeline/internal/fetch"
	"github.com/joelkehle/challenge-pipeline/internal/pipeline"
)

func TestExitCode(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, ExitOK},
		{"auth", &pipeline.StageError{Stage: "evaluate", Err: failure.Auth("llm", errors.New("401"))}, ExitAuth},
		{"usage", Usagef("bad flag"), ExitUsage},
		{"invalid target", fmt.Errorf("plan: %w", fetch.ErrInvalidTarget), ExitUsage},
		{"stage failure", &pipeline.StageError{Stage: "aggregate", Err: failure.Schemaf("aggregate", "bad")}, ExitFailure},
		{"plain", errors.New("boom"), ExitFailure},
	} {
		if got := ExitCode(tc.err); got != tc.want {
			t.Fatalf("%s: ExitCode=%d want %d", tc.name, got, tc.want)
		}
	}
}

func TestSetupAppliesOverridesAndOpensLedger(t *testing.T) {
	t.Setenv("CHALLENGE_CONFIG", "")
	dir := t.TempDir()
	env, err := Setup(context.Background(), "test", "", func(cfg *config.Config) error {
		cfg.OutputDir = dir
		cfg.MetricsFile = filepath.Join(dir, "pipeline.prom")
		cfg.Rank.TopN = 4
		return nil
	})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer env.Close()

	if env.Config.Rank.TopN != 4 || env.Ledger == nil {
		t.Fatalf("env=%+v", env)
	}
	ran := false
	stage := pipeline.Stage{Name: "rank", Run: func(context.Context, *pipeline.Record) error {
		ran = true
		return nil
	}}
	if err := env.RunStages(context.Background(), []pipeline.Stage{stage}, "{}"); err != nil {
		t.Fatalf("RunStages: %v", err)
	}
	if !ran {
		t.Fatal("stage did not run")
	}
	if _, err := os.Stat(env.Config.MetricsFile); err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
	runs, err := env.Ledger.LatestRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs=%+v err=%v", runs, err)
	}
}

func TestSetupRejectsInvalidOverride(t *testing.T) {
	t.Setenv("CHALLENGE_CONFIG", "")
	_, err := Setup(context.Background(), "test", "", func(cfg *config.Config) error {
		cfg.Report.Paper = "tabloid"
		return nil
	})
	if ExitCode(err) != ExitUsage {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestSetupWithLedgerOff(t *testing.T) {
	t.Setenv("CHALLENGE_CONFIG", "")
	env, err := Setup(context.Background(), "test", "", func(cfg *config.Config) error {
		cfg.OutputDir = t.TempDir()
		cfg.LedgerPath = "off"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer env.Close()
	if env.Ledger != nil {
		t.Fatal("ledger should be disabled")
	}
}

func TestVisited(t *testing.T) {
	fs := flag.NewFlagSet("x", flag.ContinueOnError)
	fs.Int("top-n", 1, "")
	fs.String("start-month", "", "")
	if err := fs.Parse([]string{"-top-n", "1"}); err != nil {
		t.Fatal(err)
	}
	set := Visited(fs)
	if !set["top-n"] || set["start-month"] {
		t.Fatalf("set=%v", set)
	}
}
