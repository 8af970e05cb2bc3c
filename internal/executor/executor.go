package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"codeberg.org/mutker/sensorctl/internal/metrics"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConcurrency = 8
	maxRetryDelay         = 30 * time.Second
)

// Executor runs batches of sensor operations on a bounded pool. Each
// operation has its own deadline; a sensor call that never returns costs
// a goroutine but not a pool slot.
type Executor struct {
	lookup         Lookup
	maxConcurrency int64
	sem            *semaphore.Weighted
	breakers       *Breakers
	recorder       metrics.Recorder
	log            logger.Logger
	now            func() time.Time

	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

type Option func(*Executor)

// WithMaxConcurrency bounds the number of operations running at once.
func WithMaxConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxConcurrency = int64(n)
		}
	}
}

// WithBreakers shares a breaker set, typically between several executors.
func WithBreakers(b *Breakers) Option {
	return func(e *Executor) {
		e.breakers = b
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func New(lookup Lookup, opts ...Option) *Executor {
	e := &Executor{
		lookup:         lookup,
		maxConcurrency: defaultMaxConcurrency,
		recorder:       metrics.Noop(),
		log:            logger.Nop(),
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.breakers == nil {
		e.breakers = NewBreakers(DefaultBreakerConfig())
	}

	e.sem = semaphore.NewWeighted(e.maxConcurrency)
	e.base, e.cancel = context.WithCancel(context.Background())

	return e
}

// RunBatch runs every request concurrently and returns exactly one result
// per request, in request order. Individual sensor failures are reported in
// the results; only malformed requests, unknown sensors or a shut down
// executor fail the call.
func (e *Executor) RunBatch(ctx context.Context, reqs []Request, policy Policy) ([]Result, error) {
	errFactory := errors.New()

	if err := policy.Validate(); err != nil {
		return nil, err
	}

	entries := make([]sensor.Entry, len(reqs))
	for i, req := range reqs {
		if req.Sensor == "" || !req.Kind.IsValid() || req.Timeout < 0 {
			return nil, errFactory.WithData(errors.ErrInvalidParams, struct {
				Index  int
				Sensor string
				Kind   sensor.Kind
			}{
				Index:  i,
				Sensor: req.Sensor,
				Kind:   req.Kind,
			})
		}

		entry, err := e.lookup.Lookup(req.Sensor)
		if err != nil {
			return nil, err
		}
		entries[i] = entry
	}

	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return nil, errFactory.New(errors.ErrShuttingDown)
	}
	e.inflight.Add(1)
	e.mu.Unlock()
	defer e.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.base, cancel)
	defer stop()

	results := make([]Result, len(reqs))

	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.execute(ctx, reqs[i], entries[i], policy)
		}(i)
	}
	wg.Wait()

	return results, nil
}

func (e *Executor) execute(ctx context.Context, req Request, entry sensor.Entry, policy Policy) Result {
	res := Result{
		Sensor:    req.Sensor,
		Kind:      req.Kind,
		StartedAt: e.now(),
	}

	if !e.breakers.Allow(req.Sensor) {
		res.Status = StatusSkipped
		res.Error = &ErrorDetail{
			Kind:    errors.ErrCircuitOpen,
			Message: "circuit breaker open for " + req.Sensor,
		}

		return e.finish(res)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.breakers.Cancel(req.Sensor)
		res.Status = StatusTimeout
		res.Error = &ErrorDetail{
			Kind:    errors.ErrTimeout,
			Message: "cancelled while waiting for a worker slot",
		}

		return e.finish(res)
	}
	defer e.sem.Release(1)

	timeout := policy.Timeout
	if entry.Config.Timeout > 0 {
		timeout = entry.Config.Timeout
	}
	if req.Timeout > 0 {
		timeout = req.Timeout
	}

	params := mergeParams(entry.Config.Params, req.Params)

	retry := func() error {
		res.Attempts++
		e.attempt(ctx, entry, req.Kind, params, timeout, &res)
		if res.Status == StatusFailure {
			return errRetryable
		}

		return nil
	}
	notify := func(_ error, delay time.Duration) {
		e.log.Debug().
			Str("sensor", req.Sensor).
			Int("attempt", res.Attempts).
			Dur("backoff", delay).
			Msg("Retrying failed operation")
	}
	// The outcome lives in res; the returned error only ends the loop.
	_ = backoff.RetryNotify(retry, retryBackOff(ctx, policy), notify)

	if state := e.breakers.Record(req.Sensor, res.Status == StatusSuccess); state == BreakerOpen {
		e.log.Warn().
			Str("sensor", req.Sensor).
			Str("last_status", string(res.Status)).
			Msg("Circuit breaker open")
	}

	return e.finish(res)
}

type callResult struct {
	payload any
	health  *sensor.HealthStatus
	err     error
	code    errors.ErrorCode
}

// attempt makes one call into the sensor and fills res with its outcome.
func (e *Executor) attempt(
	ctx context.Context,
	entry sensor.Entry,
	kind sensor.Kind,
	params sensor.Params,
	timeout time.Duration,
	res *Result,
) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Buffered so an abandoned call can still deliver and exit.
	ch := make(chan callResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- callResult{
					err:  fmt.Errorf("sensor panicked: %v", r),
					code: ErrSensorPanic,
				}
			}
		}()

		ch <- invoke(callCtx, entry.Sensor, kind, params)
	}()

	res.Payload = nil
	res.Health = nil
	res.Error = nil

	select {
	case out := <-ch:
		switch {
		case out.err == nil:
			res.Status = StatusSuccess
			res.Payload = out.payload
			res.Health = out.health
		case callCtx.Err() != nil:
			res.Status = StatusTimeout
			res.Error = &ErrorDetail{Kind: errors.ErrTimeout, Message: out.err.Error()}
		default:
			code := out.code
			if code == "" {
				code = errors.ErrOperationFailed
			}
			res.Status = StatusFailure
			res.Payload = out.payload
			res.Error = &ErrorDetail{Kind: code, Message: out.err.Error()}
		}
	case <-callCtx.Done():
		res.Status = StatusTimeout
		res.Error = &ErrorDetail{
			Kind:    errors.ErrTimeout,
			Message: fmt.Sprintf("%s %s exceeded %s", entry.Name, kind, timeout),
		}
	}
}

func invoke(ctx context.Context, s sensor.Sensor, kind sensor.Kind, params sensor.Params) callResult {
	if kind == sensor.KindHealthCheck {
		status, err := s.CheckHealth(ctx)
		if err != nil {
			return callResult{err: err}
		}

		return callResult{health: &status}
	}

	payload, err := s.CollectData(ctx, params)

	return callResult{payload: payload, err: err}
}

func (e *Executor) finish(res Result) Result {
	res.EndedAt = e.now()
	res.Duration = res.EndedAt.Sub(res.StartedAt)

	e.recorder.Record(metrics.Outcome(res.Status), res.Duration)

	event := e.log.Debug()
	if res.Status == StatusTimeout {
		event = e.log.Warn()
	}
	event.
		Str("sensor", res.Sensor).
		Str("kind", string(res.Kind)).
		Str("status", string(res.Status)).
		Int("attempts", res.Attempts).
		Dur("duration", res.Duration).
		Msg("Operation finished")

	return res
}

// Breakers returns the breaker set used by this executor.
func (e *Executor) Breakers() *Breakers {
	return e.breakers
}

// Shutdown stops accepting batches and waits for in-flight ones. When ctx
// ends first, every remaining operation is cancelled and recorded as a
// timeout; Shutdown still waits for those batches to return.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn().Msg("Grace period expired, cancelling in-flight operations")
		e.cancel()
		<-done
		err = errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}

	e.cancel()

	return err
}

func mergeParams(base, override sensor.Params) sensor.Params {
	if len(base) == 0 {
		return override.Clone()
	}

	out := base.Clone()
	for k, v := range override {
		out[k] = v
	}

	return out
}

var errRetryable = errors.New().New(errors.ErrOperationFailed)

// retryBackOff waits policy.Backoff before the first retry and doubles the
// delay for each one after it.
func retryBackOff(ctx context.Context, policy Policy) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Backoff
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.Retries)), ctx)
}
