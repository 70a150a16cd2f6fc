// Package scheduler runs evaluation passes over the chains of a finalized graph.
//
// A pass over a chain:
//  1. runs the one-time Setup hook of every member (no-op after the first call)
//  2. asks the chain head for its active task list and validates it
//  3. resets the members' outputs
//  4. evaluates every task on a worker-owned derivative buffer: each member
//     computes its value and direct partials, then the chain rule composes
//     those partials into root derivatives
//  5. commits elementwise outputs in place and merges rank-0 reductions in
//     task-list order
//
// Tasks write disjoint output elements, so workers never share mutable state
// except through the per-position reduction partials.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/born-ml/cvgraph/internal/derivs"
	"github.com/born-ml/cvgraph/internal/graph"
	"github.com/born-ml/cvgraph/internal/parallel"
	"github.com/born-ml/cvgraph/internal/telemetry"
	"github.com/born-ml/cvgraph/internal/value"
)

// Config controls pass execution.
type Config struct {
	Parallel    parallel.Config
	Derivatives bool
}

// DefaultConfig evaluates derivatives with the default parallel settings.
func DefaultConfig() Config {
	return Config{Parallel: parallel.DefaultConfig(), Derivatives: true}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics records pass statistics in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler evaluates a finalized graph.
type Scheduler struct {
	g   *graph.Graph
	cfg Config

	logger  *slog.Logger
	metrics *telemetry.Metrics
	tracer  trace.Tracer

	passDuration metric.Float64Histogram
	taskCounter  metric.Int64Counter

	states []*chainState
	step   int
}

// chainState holds the per-chain scratch reused across passes.
type chainState struct {
	pool       sync.Pool
	reductions []*reduction
	byStream   []int
	cache      map[*value.Value]*reduction
	merge      *derivs.Buffer
}

// reduction collects the per-task contributions to a rank-0 output.
type reduction struct {
	out  *value.Value
	vals []float64
	rows []value.Row
}

// worker is the state owned by one goroutine during a pass.
type worker struct {
	buf    *derivs.Buffer
	slots  []int
	derivs []float64
}

// New creates a scheduler for a finalized graph.
func New(g *graph.Graph, cfg Config, opts ...Option) (*Scheduler, error) {
	if !g.Finalized() {
		return nil, graph.ErrNotFinalized
	}
	s := &Scheduler{
		g:      g,
		cfg:    cfg,
		logger: g.Logger(),
		tracer: telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}

	meter := telemetry.Meter()
	var initErrors []string
	var err error
	s.passDuration, err = meter.Float64Histogram("cvgraph.pass.duration",
		metric.WithDescription("Time spent in one chain pass"),
		metric.WithUnit("s"),
	)
	if err != nil {
		initErrors = append(initErrors, "pass_duration: "+err.Error())
	}
	s.taskCounter, err = meter.Int64Counter("cvgraph.tasks",
		metric.WithDescription("Number of evaluated tasks"),
	)
	if err != nil {
		initErrors = append(initErrors, "tasks: "+err.Error())
	}
	if len(initErrors) > 0 {
		s.logger.Warn("failed to initialize some pass instruments (observability degraded)",
			slog.Any("errors", initErrors))
	}

	for _, c := range g.Chains() {
		s.states = append(s.states, s.newChainState(c))
	}
	return s, nil
}

func (s *Scheduler) newChainState(c *graph.Chain) *chainState {
	st := &chainState{
		merge: derivs.New(1, s.g.NumSlots()),
		cache: make(map[*value.Value]*reduction),
	}
	nstreams := len(c.Streams())
	st.pool.New = func() any {
		b := derivs.New(nstreams, s.g.NumSlots())
		b.SetReserved(c.Reserved())
		b.EnableDerivatives(s.cfg.Derivatives)
		return &worker{buf: b}
	}
	return st
}

// Step returns the number of completed Calculate calls.
func (s *Scheduler) Step() int { return s.step }

// Graph returns the graph being evaluated.
func (s *Scheduler) Graph() *graph.Graph { return s.g }

// Calculate runs one pass over every chain in evaluation order.
func (s *Scheduler) Calculate(ctx context.Context) error {
	passID := uuid.NewString()
	logger := telemetry.WithPassID(s.logger, passID)
	ctx = telemetry.WithLogger(ctx, logger)

	ctx, span := s.tracer.Start(ctx, "cvgraph.Calculate",
		trace.WithAttributes(
			attribute.String("pass.id", passID),
			attribute.Int("pass.step", s.step),
			attribute.Int("graph.chains", len(s.g.Chains())),
		),
	)
	defer span.End()

	for _, c := range s.g.Chains() {
		tasks, err := s.BuildTaskList(c)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "task list")
			return err
		}
		if err := s.RunPass(ctx, c, tasks); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "pass aborted")
			return err
		}
	}
	s.step++
	logger.Debug("calculation complete", slog.Int("step", s.step))
	return nil
}

// BuildTaskList runs the pending one-time setup of the chain members and
// returns the active tasks of the chain head.
func (s *Scheduler) BuildTaskList(c *graph.Chain) ([]int, error) {
	for _, op := range c.Operations() {
		if err := op.Setup(); err != nil {
			return nil, fmt.Errorf("setup %s: %w", op.Base().Label(), err)
		}
	}
	tasks, err := c.Head().BuildTaskList()
	if err != nil {
		return nil, fmt.Errorf("task list %s: %w", c.Head().Base().Label(), err)
	}
	return tasks, nil
}

// RunPass evaluates tasks over chain c. The task list is validated before any
// task runs; an invariant violation aborts the pass. A started pass is not
// cancelled by ctx.
func (s *Scheduler) RunPass(ctx context.Context, c *graph.Chain, tasks []int) (err error) {
	head := c.Head().Base().Label()
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		s.metrics.ObservePass(head, len(tasks), elapsed, err)
		attrs := metric.WithAttributes(attribute.String("chain", head))
		if s.passDuration != nil {
			s.passDuration.Record(ctx, elapsed.Seconds(), attrs)
		}
		if s.taskCounter != nil && err == nil {
			s.taskCounter.Add(ctx, int64(len(tasks)), attrs)
		}
	}()

	_, span := s.tracer.Start(ctx, "cvgraph.RunPass",
		trace.WithAttributes(
			attribute.String("chain.head", head),
			attribute.Int("chain.operations", len(c.Operations())),
			attribute.Int("pass.tasks", len(tasks)),
		),
	)
	defer span.End()

	if err := s.validate(c, tasks); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	st := s.states[c.Index()]
	n := c.TaskCount()
	st.reductions = st.reductions[:0]
	st.byStream = st.byStream[:0]
	for _, v := range c.Streams() {
		v.Reset()
		if v.Size() != n {
			st.byStream = append(st.byStream, len(st.reductions))
			st.reductions = append(st.reductions, st.prepareReduction(v, len(tasks)))
		} else {
			st.byStream = append(st.byStream, -1)
		}
	}
	tasks = append([]int(nil), tasks...)

	var mu sync.Mutex
	var used []*worker
	acquire := func() *worker {
		w := st.pool.Get().(*worker)
		mu.Lock()
		used = append(used, w)
		mu.Unlock()
		return w
	}
	defer func() {
		for _, w := range used {
			st.pool.Put(w)
		}
	}()

	err = parallel.ForEach(context.WithoutCancel(ctx), len(tasks), acquire,
		func(w *worker, pos int) error {
			if err := s.runTask(c, tasks[pos], w.buf); err != nil {
				return err
			}
			s.commit(c, st, w, pos)
			return nil
		}, s.cfg.Parallel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
		logger := telemetry.FromContext(ctx)
		logger.Error("pass aborted", slog.String("chain", head), slog.Any("error", err))
		return err
	}
	s.mergeReductions(st)
	return nil
}

// validate rejects task lists with indices outside [0, TaskCount) or repeats.
func (s *Scheduler) validate(c *graph.Chain, tasks []int) error {
	head := c.Head().Base().Label()
	n := c.TaskCount()
	for _, v := range c.Streams() {
		if v.Size() != n && v.Rank() != 0 {
			return &graph.InvariantError{Operation: v.Owner(), Task: -1,
				Details: fmt.Sprintf("output %s has %d elements for %d tasks", v.Name(), v.Size(), n)}
		}
	}
	seen := make([]bool, n)
	for _, t := range tasks {
		if t < 0 || t >= n {
			return &graph.InvariantError{Operation: head, Task: t,
				Details: "task index outside declared task range 0.." + strconv.Itoa(n-1)}
		}
		if seen[t] {
			return &graph.InvariantError{Operation: head, Task: t, Details: "task listed twice"}
		}
		seen[t] = true
	}
	return nil
}

func (st *chainState) prepareReduction(v *value.Value, ntasks int) *reduction {
	r, ok := st.cache[v]
	if !ok {
		r = &reduction{out: v}
		st.cache[v] = r
	}
	if cap(r.vals) < ntasks {
		r.vals = make([]float64, ntasks)
		r.rows = make([]value.Row, ntasks)
	}
	r.vals = r.vals[:ntasks]
	r.rows = r.rows[:ntasks]
	return r
}

// NewBuffer returns a derivative buffer sized for chain c.
func (s *Scheduler) NewBuffer(c *graph.Chain) *derivs.Buffer {
	b := derivs.New(len(c.Streams()), s.g.NumSlots())
	b.SetReserved(c.Reserved())
	b.EnableDerivatives(s.cfg.Derivatives)
	return b
}

// RunTask evaluates task on buf for every member of c without committing
// anything. buf is reset first.
func (s *Scheduler) RunTask(c *graph.Chain, task int, buf *derivs.Buffer) error {
	return s.runTask(c, task, buf)
}

func (s *Scheduler) runTask(c *graph.Chain, task int, buf *derivs.Buffer) error {
	buf.Reset(task)
	for _, op := range c.Operations() {
		from := len(buf.Locals())
		op.PerformTask(task, buf)
		op.Base().ApplyChainRule(buf, from)
		if err := buf.Err(); err != nil {
			return &graph.InvariantError{Operation: op.Base().Label(), Task: task,
				Details: "task evaluation failed", Err: err}
		}
	}
	return nil
}

// commit stores the buffer contents of one task.
func (s *Scheduler) commit(c *graph.Chain, st *chainState, w *worker, pos int) {
	task := w.buf.Task()
	for stream, v := range c.Streams() {
		if k := st.byStream[stream]; k >= 0 {
			r := st.reductions[k]
			r.vals[pos] = w.buf.Value(stream)
			row := &r.rows[pos]
			row.Slots, row.Derivs = w.buf.CopyRow(stream, row.Slots[:0], row.Derivs[:0])
			continue
		}
		v.Set(task, w.buf.Value(stream))
		if v.HasDerivatives() && s.cfg.Derivatives {
			w.slots, w.derivs = w.buf.CopyRow(stream, w.slots[:0], w.derivs[:0])
			v.SetRow(task, w.slots, w.derivs)
		}
	}
}

// mergeReductions sums the per-task contributions in task-list order.
func (s *Scheduler) mergeReductions(st *chainState) {
	for _, r := range st.reductions {
		st.merge.Reset(0)
		st.merge.EnableDerivatives(s.cfg.Derivatives)
		sum := 0.0
		for pos, x := range r.vals {
			sum += x
			row := r.rows[pos]
			for k, slot := range row.Slots {
				st.merge.AddDerivative(0, slot, row.Derivs[k])
			}
		}
		r.out.Set(0, sum)
		if r.out.HasDerivatives() && s.cfg.Derivatives {
			slots, ders := st.merge.CopyRow(0, nil, nil)
			r.out.SetRow(0, slots, ders)
		}
	}
}
