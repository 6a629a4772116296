package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/joelkehle/challenge-pipeline/internal/failure"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
	"github.com/joelkehle/challenge-pipeline/internal/telemetry"
)

type failureClass int

const (
	failureNone failureClass = iota
	failureTimeout
	failureRateLimit
	failureServer
	failureAuth
	failureClient
)

func (c failureClass) retryable() bool {
	return c == failureTimeout || c == failureRateLimit || c == failureServer
}

// Attempts reports how much work one Run took.
type Attempts struct {
	Attempts         int
	ContentRetries   int
	TransportRetries int
}

type Options struct {
	MaxAttempts int
	Timeout     time.Duration
	Logger      *zap.Logger
	Metrics     *telemetry.Metrics
}

// Executor runs a prompt until the reply decodes and validates, or attempts
// run out.
type Executor struct {
	caller      Caller
	provider    string
	maxAttempts int
	timeout     time.Duration
	logger      *zap.Logger
	metrics     *telemetry.Metrics
	sleep       func(context.Context, time.Duration) error
	newBackOff  func() backoff.BackOff
}

func NewExecutor(caller Caller, opts Options) *Executor {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	return &Executor{
		caller:      caller,
		provider:    ProviderName(caller),
		maxAttempts: opts.MaxAttempts,
		timeout:     opts.Timeout,
		logger:      logging.OrNop(opts.Logger),
		metrics:     opts.Metrics,
		sleep:       sleepContext,
		newBackOff:  defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 16 * time.Second
	b.Multiplier = 2
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run sends prompt under the given system prompt, decodes the reply into out
// and calls validate. Content failures are retried with corrective feedback;
// transient transport failures are retried after a backoff delay. The
// returned error is classified with the failure package.
func (e *Executor) Run(ctx context.Context, purpose, system, prompt string, out any, validate func() error) (Attempts, error) {
	ctx, span := telemetry.StartSpan(ctx, "llm."+purpose, attribute.String("llm.provider", e.provider))
	var runErr error
	defer func() { telemetry.EndSpan(span, runErr) }()

	var stats Attempts
	runErr = e.run(ctx, purpose, system, prompt, out, validate, &stats)
	span.SetAttributes(attribute.Int("llm.attempts", stats.Attempts))
	outcome := "ok"
	if runErr != nil {
		outcome = string(failure.KindOf(runErr))
	}
	e.metrics.LLMCall(e.provider, purpose, outcome)
	return stats, runErr
}

func (e *Executor) run(ctx context.Context, purpose, system, prompt string, out any, validate func() error, stats *Attempts) error {
	bo := e.newBackOff()
	feedback := ""
	var lastContentErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		stats.Attempts = attempt
		last := attempt == e.maxAttempts
		fullPrompt := prompt + "\n\nRespond with only valid JSON matching the schema."
		if feedback != "" {
			fullPrompt += "\n\n" + feedback
		}

		raw, err := e.call(ctx, system, fullPrompt)
		if err != nil {
			if ctx.Err() != nil {
				return failure.Network(purpose, ctx.Err())
			}
			class := classifyTransportError(err)
			if class.retryable() && !last {
				delay := bo.NextBackOff()
				stats.TransportRetries++
				e.metrics.LLMRetry(purpose, "transport")
				e.logger.Warn("llm transport retry",
					zap.String("purpose", purpose),
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay),
					zap.Error(err))
				if err := e.sleep(ctx, delay); err != nil {
					return failure.Network(purpose, err)
				}
				continue
			}
			if class == failureAuth {
				return failure.Auth(purpose, err)
			}
			return failure.Network(purpose, fmt.Errorf("transport failure: %w", err))
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			lastContentErr = failure.Parsef(purpose, "empty response")
			feedback = "Your previous response was empty. Respond with valid JSON."
		} else if err := decodeInto(stripCodeFences(raw), out); err != nil {
			lastContentErr = failure.Parse(purpose, fmt.Errorf("json parse: %w", err))
			feedback = "Your previous response was not valid JSON. Respond with only valid JSON."
		} else if err := validate(); err != nil {
			lastContentErr = failure.Schema(purpose, err)
			feedback = fmt.Sprintf("Your response failed validation: %s. Fix these issues.", err)
		} else {
			return nil
		}
		if last {
			break
		}
		stats.ContentRetries++
		e.metrics.LLMRetry(purpose, "content")
		e.logger.Debug("llm content retry",
			zap.String("purpose", purpose),
			zap.Int("attempt", attempt),
			zap.Error(lastContentErr))
	}
	return lastContentErr
}

func (e *Executor) call(ctx context.Context, system, prompt string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.caller.GenerateJSON(ctx, system, prompt)
}

// decodeInto zeroes out before decoding so nothing from a rejected attempt
// survives into the next one.
func decodeInto(raw string, out any) error {
	if v := reflect.ValueOf(out); v.Kind() == reflect.Pointer && !v.IsNil() {
		v.Elem().Set(reflect.Zero(v.Elem().Type()))
	}
	return json.Unmarshal([]byte(raw), out)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	return s
}

func classifyTransportError(err error) failureClass {
	if err == nil {
		return failureNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.StatusCode)
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted"):
		return failureRateLimit
	case strings.Contains(msg, "status code: 5") || strings.Contains(msg, "status=5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "api key not valid") || strings.Contains(msg, "unauthenticated"):
		return failureAuth
	case strings.Contains(msg, "status code: 4") || strings.Contains(msg, "status=4"):
		return failureClient
	default:
		return failureServer
	}
}

func classifyStatus(code int) failureClass {
	switch {
	case code == 429:
		return failureRateLimit
	case code == 401 || code == 403:
		return failureAuth
	case code >= 500:
		return failureServer
	case code >= 400:
		return failureClient
	default:
		return failureServer
	}
}
