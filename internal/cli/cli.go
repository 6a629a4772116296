// Package cli holds the start-up and exit handling every command shares:
// config loaded once, one logger, optional tracing, metrics and run ledger.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/config"
	"github.com/joelkehle/challenge-pipeline/internal/failure"
	"github.com/joelkehle/challenge-pipeline/internal/fetch"
	"github.com/joelkehle/challenge-pipeline/internal/ledger"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
	"github.com/joelkehle/challenge-pipeline/internal/pipeline"
	"github.com/joelkehle/challenge-pipeline/internal/telemetry"
)

const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitAuth    = 3
)

// UsageError marks bad flags or configuration.
type UsageError struct{ Err error }

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	var ue *UsageError
	switch {
	case err == nil:
		return ExitOK
	case failure.Is(err, failure.KindAuth):
		return ExitAuth
	case errors.As(err, &ue), errors.Is(err, fetch.ErrInvalidTarget):
		return ExitUsage
	default:
		return ExitFailure
	}
}

// Env is what a command runs with.
type Env struct {
	Config  *config.Config
	Log     *zap.Logger
	Metrics *telemetry.Metrics
	Ledger  *ledger.Ledger

	closers []func(context.Context) error
}

// ConfigFlag registers the -config flag on fs.
func ConfigFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "YAML config file (default $CHALLENGE_CONFIG)")
}

// Setup loads configuration, lets apply override it from flags, then builds
// the logger, tracing, metrics and ledger.
func Setup(ctx context.Context, service, configPath string, apply func(*config.Config) error) (*Env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, &UsageError{Err: fmt.Errorf("load config: %w", err)}
	}
	if apply != nil {
		if err := apply(cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, &UsageError{Err: err}
		}
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	env := &Env{Config: cfg, Log: log.With(zap.String("service", service)), Metrics: telemetry.NewMetrics()}

	shutdown, err := telemetry.SetupTracing(ctx, service)
	if err != nil {
		env.Log.Warn("tracing disabled", zap.Error(err))
	} else {
		env.closers = append(env.closers, shutdown)
	}

	if !strings.EqualFold(cfg.LedgerPath, "off") {
		l, err := ledger.Open(cfg.LedgerFile())
		if err != nil {
			env.Log.Warn("run ledger disabled", zap.String("path", cfg.LedgerFile()), zap.Error(err))
		} else {
			env.Ledger = l
			env.closers = append(env.closers, func(context.Context) error { return l.Close() })
		}
	}
	return env, nil
}

// Runner returns a pipeline runner bound to the env's ledger and metrics.
func (e *Env) Runner() *pipeline.Runner {
	return pipeline.NewRunner(pipeline.RunnerOptions{
		Ledger:  e.Ledger,
		Metrics: e.Metrics,
		Logger:  e.Log,
	})
}

// Deps returns the production stage collaborators.
func (e *Env) Deps() pipeline.Deps {
	return pipeline.Deps{Logger: e.Log, Metrics: e.Metrics}
}

// RunStages runs stages once and writes the metrics textfile afterwards.
func (e *Env) RunStages(ctx context.Context, stages []pipeline.Stage, options string) error {
	_, err := e.Runner().Run(ctx, stages, options)
	if werr := e.Metrics.WriteTextfile(e.Config.MetricsFile); werr != nil {
		e.Log.Warn("metrics textfile not written", zap.String("path", e.Config.MetricsFile), zap.Error(werr))
	}
	return err
}

func (e *Env) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i](ctx)
	}
	_ = e.Log.Sync()
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Main runs fn and exits with the mapped status. Errors before the logger
// exists go to stderr.
func Main(service string, fn func(ctx context.Context) error) {
	ctx, cancel := SignalContext()
	err := fn(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", service, err)
	}
	os.Exit(ExitCode(err))
}

// Visited reports which flags were set on the command line, so config values
// are only overridden when asked.
func Visited(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}
