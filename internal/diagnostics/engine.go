package diagnostics

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/executor"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"codeberg.org/mutker/sensorctl/internal/report"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	"github.com/google/uuid"
)

const defaultTimeBucket = time.Minute

// Runner executes a batch of operations.
type Runner interface {
	RunBatch(ctx context.Context, reqs []executor.Request, policy executor.Policy) ([]executor.Result, error)
}

// SensorLister lists the registered device sensors.
type SensorLister interface {
	List() []string
}

// Engine orchestrates diagnostics runs across the network, system and
// sensor domains through a single executor batch per run.
type Engine struct {
	runner     Runner
	sensors    SensorLister
	aggregator *report.Aggregator
	policy     executor.Policy
	timeBucket time.Duration
	log        logger.Logger
	now        func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
	latest *report.DiagnosticsReport
}

type EngineOption func(*Engine)

func WithPolicy(p executor.Policy) EngineOption {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithTimeBucket sets the window within which identical params derive the
// same correlation id.
func WithTimeBucket(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeBucket = d
		}
	}
}

func WithEngineLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(runner Runner, sensors SensorLister, aggregator *report.Aggregator, opts ...EngineOption) *Engine {
	e := &Engine{
		runner:     runner,
		sensors:    sensors,
		aggregator: aggregator,
		policy:     executor.DefaultPolicy(),
		timeBucket: defaultTimeBucket,
		log:        logger.Nop(),
		now:        time.Now,
		active:     make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Run executes one diagnostics run and returns its report. Individual test
// and sensor failures are part of the report; only invalid params, a
// duplicate in-flight correlation id or an unknown sensor fail the call.
func (e *Engine) Run(ctx context.Context, params Params) (*report.DiagnosticsReport, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	id := params.CorrelationID
	if id == "" {
		derived, err := e.deriveID(params)
		if err != nil {
			return nil, err
		}
		id = derived
	}

	if err := e.acquire(id); err != nil {
		return nil, err
	}
	defer e.release(id)

	reqs, domainOf := e.plan(params)

	policy := e.policy
	if params.Policy != nil {
		policy = *params.Policy
	}

	e.log.Info().
		Str("correlation_id", id).
		Int("operations", len(reqs)).
		Msg("Starting diagnostics run")

	started := e.now()

	results, err := e.runner.RunBatch(ctx, reqs, policy)
	if err != nil {
		return nil, err
	}

	ended := e.now()

	domains := make(map[string][]executor.Result)
	if params.IncludeNetwork {
		domains[DomainNetwork] = []executor.Result{}
	}
	if params.IncludeSystem {
		domains[DomainSystem] = []executor.Result{}
	}
	if params.IncludeSensors {
		domains[DomainSensors] = []executor.Result{}
	}
	for _, res := range results {
		domain := domainOf[res.Key()]
		domains[domain] = append(domains[domain], res)
	}

	rep := e.aggregator.BuildDiagnosticsReport(report.DiagnosticsInput{
		CorrelationID:   id,
		StartedAt:       started,
		EndedAt:         ended,
		Domains:         domains,
		Scores:          ComponentScores(domains),
		Recommendations: Recommend(domains),
	})

	e.mu.Lock()
	e.latest = rep
	e.mu.Unlock()

	e.log.Info().
		Str("correlation_id", id).
		Str("overall_status", string(rep.OverallStatus)).
		Int("operations", rep.Summary.Total).
		Dur("duration", rep.Duration).
		Msg("Diagnostics run finished")

	return rep, nil
}

// Collect runs a collect operation on the named sensors, or on every
// registered sensor when names is empty.
func (e *Engine) Collect(ctx context.Context, names []string, params sensor.Params) ([]executor.Result, error) {
	if len(names) == 0 {
		names = e.sensors.List()
	}

	reqs := make([]executor.Request, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		reqs = append(reqs, executor.Request{Sensor: name, Kind: sensor.KindCollect, Params: params.Clone()})
	}

	return e.runner.RunBatch(ctx, reqs, e.policy)
}

// Latest returns the most recent completed report, or nil.
func (e *Engine) Latest() *report.DiagnosticsReport {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.latest
}

func (e *Engine) acquire(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.active[id]; busy {
		return errors.New().WithData(errors.ErrRunInProgress, id)
	}
	e.active[id] = struct{}{}

	return nil
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, id)
}

// plan builds one request per selected test and sensor operation, dropping
// duplicates, and remembers which domain each request belongs to.
func (e *Engine) plan(params Params) ([]executor.Request, map[executor.Key]string) {
	var reqs []executor.Request
	domainOf := make(map[executor.Key]string)

	add := func(domain string, req executor.Request) {
		if _, dup := domainOf[req.Key()]; dup {
			return
		}
		domainOf[req.Key()] = domain
		reqs = append(reqs, req)
	}

	if params.IncludeNetwork {
		np := params.Network
		for _, test := range np.Tests {
			p := sensor.Params{"target_host": np.TargetHost}
			if np.Count > 0 {
				p["count"] = np.Count
			}
			if np.Timeout > 0 {
				p["timeout"] = np.Timeout
			}
			if len(np.Ports) > 0 {
				p["ports"] = append([]int(nil), np.Ports...)
			}
			add(DomainNetwork, executor.Request{
				Sensor: ProbeName(DomainNetwork, test),
				Kind:   sensor.KindCollect,
				Params: p,
			})
		}
	}

	if params.IncludeSystem {
		sp := params.System
		for _, test := range sp.Tests {
			add(DomainSystem, executor.Request{
				Sensor: ProbeName(DomainSystem, test),
				Kind:   sensor.KindCollect,
				Params: sensor.Params{
					"cpu_threshold":    sp.CPUThreshold,
					"memory_threshold": sp.MemoryThreshold,
					"disk_threshold":   sp.DiskThreshold,
				},
			})
		}
	}

	if params.IncludeSensors {
		names := params.Sensors.Names
		if len(names) == 0 {
			names = e.sensors.List()
		}

		ops := params.Sensors.Operations
		if len(ops) == 0 {
			ops = []sensor.Kind{sensor.KindHealthCheck, sensor.KindCollect}
		}

		for _, name := range names {
			for _, kind := range ops {
				add(DomainSensors, executor.Request{
					Sensor: name,
					Kind:   kind,
					Params: params.Sensors.Params.Clone(),
				})
			}
		}
	}

	return reqs, domainOf
}

// deriveID hashes the params together with the start of the current time
// bucket, so identical requests within a bucket share an id.
func (e *Engine) deriveID(params Params) (string, error) {
	params.CorrelationID = ""

	canonical, err := json.Marshal(params)
	if err != nil {
		return "", errors.New().Wrap(ErrCorrelationID, err)
	}

	bucket := e.now().Truncate(e.timeBucket).Unix()
	name := append(canonical, []byte("@"+strconv.FormatInt(bucket, 10))...)

	return uuid.NewSHA1(uuid.NameSpaceURL, name).String(), nil
}
