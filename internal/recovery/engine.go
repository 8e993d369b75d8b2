package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrAttemptTimeout marks an attempt that lost the race against its
// per-attempt timer. Treated identically to an operation error for retry
// purposes.
var ErrAttemptTimeout = errors.New("operation attempt timed out")

// Operation is the protected unit of work. The context carries the
// per-attempt deadline; well-behaved operations honor it, but the engine
// races a timer regardless so a stuck operation cannot stall the caller.
type Operation func(ctx context.Context) (any, error)

// FallbackProvider is an alternate path for a named service, tried from the
// second attempt onward before the next backoff delay elapses.
type FallbackProvider func(ctx context.Context) (any, error)

// Options parameterize one protected execution.
type Options struct {
	ServiceName   string
	Priority      Tier
	OperationType string
	// IsCrisisUser forces emergency-bypass degradation on exhaustion even
	// for operations running below the critical tier.
	IsCrisisUser bool
}

// Attempt records one try (primary or fallback) inside a recovery context.
type Attempt struct {
	Number    int
	Strategy  string // "primary" or "fallback"
	StartedAt time.Time
	Duration  time.Duration
	Success   bool
	Err       string
}

// Trace is the per-execution recovery context: the resolved policy plus the
// ordered attempt history. Created at operation start, discarded when the
// operation resolves.
type Trace struct {
	ServiceName   string
	Priority      Tier
	OperationType string
	Policy        Policy
	Attempts      []Attempt
}

// MetricsRecorder receives per-attempt and bypass signals. Implemented by
// the services metrics layer; nil disables recording.
type MetricsRecorder interface {
	RecordRecoveryAttempt(tier, strategy string, success bool)
	RecordEmergencyBypass(operationType string)
}

// Engine executes operations under the tier policy table: retries with
// exponential backoff, races each attempt against a timeout, consults fallback
// providers, and degrades crisis-tier exhaustion to the emergency bypass.
type Engine struct {
	mu        sync.RWMutex
	fallbacks map[string]FallbackProvider
	logger    *slog.Logger
	metrics   MetricsRecorder

	// sleep is swapped out in tests to keep backoff assertions fast.
	sleep func(time.Duration)
}

// NewEngine creates a recovery engine. Fallback providers are registered
// separately at bootstrap.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		fallbacks: make(map[string]FallbackProvider),
		logger:    logger,
		sleep:     time.Sleep,
	}
}

// SetMetrics attaches a metrics recorder. Must be called before the engine
// starts serving traffic.
func (e *Engine) SetMetrics(m MetricsRecorder) {
	e.metrics = m
}

// RegisterFallback installs the fallback provider for a service name,
// replacing any previous one.
func (e *Engine) RegisterFallback(serviceName string, fp FallbackProvider) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallbacks[serviceName] = fp
}

func (e *Engine) fallbackFor(serviceName string) (FallbackProvider, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fp, ok := e.fallbacks[serviceName]
	return fp, ok
}

// Execute runs op under the policy for opts.Priority. It returns either the
// operation result, a fallback result, the emergency bypass payload (crisis
// tiers and crisis users only), or — for non-crisis tiers — the original
// error from the final attempt. Once invoked it runs to resolution: attempt
// deadlines derive from the policy, not from a caller context, so in-flight
// retries cannot be cancelled out from under a person in crisis.
func (e *Engine) Execute(op Operation, opts Options) (any, error) {
	pol := PolicyFor(opts.Priority)
	trace := &Trace{
		ServiceName:   opts.ServiceName,
		Priority:      opts.Priority,
		OperationType: opts.OperationType,
		Policy:        pol,
	}
	log := e.logger.With(
		"service", opts.ServiceName,
		"tier", string(opts.Priority),
		"operation", opts.OperationType,
	)

	var lastErr error
	for attempt := 1; attempt <= pol.MaxRetries; attempt++ {
		result, err := e.runAttempt(op, pol.Timeout, trace, attempt, "primary")
		if err == nil {
			if attempt > 1 {
				log.Info("operation recovered", "attempt", attempt)
			}
			return result, nil
		}
		lastErr = err
		log.Warn("attempt failed", "attempt", attempt, "max_retries", pol.MaxRetries, "error", err.Error())

		if attempt >= 2 && pol.FallbackEnabled {
			if fp, ok := e.fallbackFor(opts.ServiceName); ok {
				result, ferr := e.runAttempt(Operation(fp), pol.Timeout, trace, attempt, "fallback")
				if ferr == nil {
					log.Info("fallback provider succeeded", "attempt", attempt)
					return result, nil
				}
				log.Warn("fallback provider failed", "attempt", attempt, "error", ferr.Error())
			}
		}

		if attempt < pol.MaxRetries {
			e.sleep(pol.DelayForAttempt(attempt))
		}
	}

	if pol.EmergencyBypassEnabled || opts.IsCrisisUser {
		log.Error("retries exhausted, degrading to emergency bypass",
			"attempts", len(trace.Attempts), "error", lastErr.Error())
		if e.metrics != nil {
			e.metrics.RecordEmergencyBypass(opts.OperationType)
		}
		return BypassFor(opts.OperationType), nil
	}

	log.Error("retries exhausted", "attempts", len(trace.Attempts), "error", lastErr.Error())
	return nil, lastErr
}

// runAttempt races one try against the policy timeout. A timed-out attempt
// leaves its goroutine to finish in the background; the buffered channel
// keeps it from leaking.
func (e *Engine) runAttempt(op Operation, timeout time.Duration, trace *Trace, number int, strategy string) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	ch := make(chan outcome, 1)
	start := time.Now()

	go func() {
		value, err := op(ctx)
		ch <- outcome{value, err}
	}()

	var value any
	var err error
	select {
	case o := <-ch:
		value, err = o.value, o.err
	case <-ctx.Done():
		err = fmt.Errorf("%s attempt %d exceeded %s: %w", strategy, number, timeout, ErrAttemptTimeout)
	}

	rec := Attempt{
		Number:    number,
		Strategy:  strategy,
		StartedAt: start,
		Duration:  time.Since(start),
		Success:   err == nil,
	}
	if err != nil {
		rec.Err = err.Error()
	}
	trace.Attempts = append(trace.Attempts, rec)

	if e.metrics != nil {
		e.metrics.RecordRecoveryAttempt(string(trace.Priority), strategy, err == nil)
	}
	return value, err
}
