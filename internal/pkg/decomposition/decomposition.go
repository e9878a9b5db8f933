/*
decomposition.go Scenario and year decomposition of a built plan. Investment binaries are the
first stage; every subproblem sees them fixed by a master problem that collects integer
optimality cuts and no-good feasibility cuts until the bounds meet.
*/

package decomposition

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/gridplan/internal/pkg/builder"
	"github.com/ohowland/gridplan/internal/pkg/metrics"
	"github.com/ohowland/gridplan/internal/pkg/msg"
	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
	"github.com/ohowland/gridplan/internal/pkg/solver"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Strategy selects how the plan is split into subproblems.
type Strategy int

const (
	None Strategy = iota
	ByScenario
	ByYear
)

func (s Strategy) String() string {
	switch s {
	case None:
		return "none"
	case ByScenario:
		return "scenario"
	case ByYear:
		return "year"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy reads a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "scenario", "byscenario":
		return ByScenario, nil
	case "year", "byyear":
		return ByYear, nil
	}
	return None, fmt.Errorf("unknown decomposition strategy %q", s)
}

// Config holds the convergence settings. Every field must be set explicitly.
type Config struct {
	Tolerance     float64 `json:"Tolerance"`
	MaxIterations int     `json:"MaxIterations"`
	Workers       int     `json:"Workers"`
}

// Validate rejects unset or invalid settings.
func (c Config) Validate() error {
	var missing []string
	if c.Tolerance <= 0 {
		missing = append(missing, "Tolerance")
	}
	if c.MaxIterations < 1 {
		missing = append(missing, "MaxIterations")
	}
	if c.Workers < 1 {
		missing = append(missing, "Workers")
	}
	if len(missing) > 0 {
		return fmt.Errorf("decomposition config: %s must be positive", strings.Join(missing, ", "))
	}
	return nil
}

// ConvergenceWarning is returned with a valid Outcome when the iteration cap is reached
// before the gap closes.
type ConvergenceWarning struct {
	Iterations int
	Lower      float64
	Upper      float64
	Gap        float64
}

func (w *ConvergenceWarning) Error() string {
	return fmt.Sprintf("decomposition stopped after %d iterations: gap %.4g (lower %g, upper %g)",
		w.Iterations, w.Gap, w.Lower, w.Upper)
}

// IsConvergenceWarning reports whether err only signals a non-converged outcome.
func IsConvergenceWarning(err error) bool {
	var w *ConvergenceWarning
	return errors.As(err, &w)
}

// Outcome is the best plan found. Values are indexed like the plan's problem and are nil
// when no feasible plan was found.
type Outcome struct {
	Status      solver.Status
	Values      []float64
	Objective   float64
	Lower       float64
	Upper       float64
	Iterations  int
	Subproblems int
}

// Progress is published on msg.Progress after every iteration.
type Progress struct {
	Run        uuid.UUID
	Strategy   Strategy
	Iteration  int
	Lower      float64
	Upper      float64
	Gap        float64
	Infeasible int
}

// Coordinator runs decompositions with one solver.
type Coordinator struct {
	pid       uuid.UUID
	config    Config
	solver    solver.Solver
	options   solver.Options
	publisher *msg.PubSub
	metrics   *metrics.Collector
	tracer    trace.Tracer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSolverOptions sets the options passed on every solve.
func WithSolverOptions(o solver.Options) Option {
	return func(c *Coordinator) {
		c.options = o
	}
}

// WithPublisher publishes Progress and the final Outcome on p.
func WithPublisher(p *msg.PubSub) Option {
	return func(c *Coordinator) {
		c.publisher = p
	}
}

// WithMetrics records iterations and solve times on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New returns a Coordinator. The config is validated by the first decomposing run, since a
// monolithic solve does not use it.
func New(cfg Config, s solver.Solver, opts ...Option) (*Coordinator, error) {
	if s == nil {
		return nil, errors.New("decomposition: nil solver")
	}
	c := &Coordinator{
		pid:    uuid.New(),
		config: cfg,
		solver: s,
		tracer: otel.Tracer("github.com/ohowland/gridplan/decomposition"),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// PID is the coordinator's identifier, used as the sender of published messages.
func (c *Coordinator) PID() uuid.UUID {
	return c.pid
}

// Decompose solves pl with the given strategy. Strategy None solves the full problem at once.
// When the iteration cap is reached the best Outcome is returned together with a
// *ConvergenceWarning. Infeasible or unbounded plans are reported through Outcome.Status.
func (c *Coordinator) Decompose(ctx context.Context, pl *builder.Plan, strategy Strategy) (Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "Decompose", trace.WithAttributes(
		attribute.String("strategy", strategy.String()),
		attribute.String("problem", pl.Problem.Name),
	))
	defer span.End()

	s := pl.Problem.Summary()
	c.metrics.SetProblemSize(s.Vars, s.Binaries, s.Constraints, s.Nonzeros)

	var out Outcome
	var err error
	if strategy == None {
		out, err = c.monolithic(ctx, pl.Problem)
	} else if err = c.config.Validate(); err != nil {
		out = Outcome{Status: solver.Error}
	} else {
		out, err = c.iterate(ctx, pl.Problem, strategy)
	}
	if err == nil || IsConvergenceWarning(err) {
		c.publish(msg.Result, out)
	}
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func (c *Coordinator) monolithic(ctx context.Context, p *opt.Problem) (Outcome, error) {
	r, err := c.solve(ctx, "monolithic", p)
	if err != nil {
		return Outcome{Status: solver.Error}, err
	}
	out := Outcome{Status: r.Status, Iterations: 1, Subproblems: 1}
	if r.Feasible() {
		out.Values = r.Values
		out.Objective = r.Objective
		out.Lower = r.Objective
		out.Upper = r.Objective
	}
	log.Printf("[Decomposition] monolithic solve: %s, objective %g\n", r.Status, out.Objective)
	return out, nil
}

func (c *Coordinator) solve(ctx context.Context, role string, p *opt.Problem) (solver.Result, error) {
	ctx, span := c.tracer.Start(ctx, "Solve", trace.WithAttributes(
		attribute.String("role", role),
		attribute.Int("vars", p.NumVars()),
		attribute.Int("constraints", p.NumConstraints()),
	))
	defer span.End()

	start := time.Now()
	r, err := c.solver.Solve(ctx, p, c.options)
	c.metrics.ObserveSolve(role, time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		return r, fmt.Errorf("%s %s: %w", role, p.Name, err)
	}
	span.SetAttributes(attribute.String("status", r.Status.String()))
	return r, nil
}

func (c *Coordinator) publish(topic msg.Topic, payload interface{}) {
	if c.publisher != nil {
		c.publisher.Publish(topic, payload)
	}
}

// gap is the relative distance between the bounds.
func gap(lower, upper float64) float64 {
	if math.IsInf(upper, 1) {
		return math.Inf(1)
	}
	return (upper - lower) / math.Max(1, math.Abs(upper))
}
