/*
metrics.go Prometheus collectors for problem assembly and decomposition runs.
*/

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the planning metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	Iterations    *prometheus.CounterVec
	LowerBound    *prometheus.GaugeVec
	UpperBound    *prometheus.GaugeVec
	Gap           *prometheus.GaugeVec
	SolveDuration *prometheus.HistogramVec
	ProblemSize   *prometheus.GaugeVec
}

// New registers the collectors against reg, or the default registry when reg is nil.
// Registering twice against one registry returns the existing collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	iterations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gridplan_decomposition_iterations_total",
		Help: "Decomposition iterations, labeled by strategy.",
	}, []string{"strategy"}), "gridplan_decomposition_iterations_total")
	if err != nil {
		return nil, err
	}

	bounds := make([]*prometheus.GaugeVec, 3)
	for i, o := range []prometheus.GaugeOpts{
		{Name: "gridplan_decomposition_lower_bound", Help: "Best master problem bound."},
		{Name: "gridplan_decomposition_upper_bound", Help: "Objective of the best feasible plan."},
		{Name: "gridplan_decomposition_gap", Help: "Relative gap between the bounds."},
	} {
		bounds[i], err = registerGaugeVec(reg, prometheus.NewGaugeVec(o, []string{"strategy"}), o.Name)
		if err != nil {
			return nil, err
		}
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gridplan_solve_duration_seconds",
		Help:    "Solver wall time in seconds, labeled by role (monolithic, master, subproblem).",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 60, 300},
	}, []string{"role"}), "gridplan_solve_duration_seconds")
	if err != nil {
		return nil, err
	}

	size, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridplan_problem_size",
		Help: "Size of the last built problem, labeled by quantity (vars, binaries, constraints, nonzeros).",
	}, []string{"quantity"}), "gridplan_problem_size")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:      gatherer,
		Iterations:    iterations,
		LowerBound:    bounds[0],
		UpperBound:    bounds[1],
		Gap:           bounds[2],
		SolveDuration: durations,
		ProblemSize:   size,
	}, nil
}

// Handler exposes a /metrics handler for the collector's registry.
func (c *Collector) Handler() http.Handler {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveIteration records one decomposition iteration. A nil collector is a no-op.
func (c *Collector) ObserveIteration(strategy string, lower, upper, gap float64) {
	if c == nil {
		return
	}
	c.Iterations.WithLabelValues(strategy).Inc()
	c.LowerBound.WithLabelValues(strategy).Set(lower)
	c.UpperBound.WithLabelValues(strategy).Set(upper)
	c.Gap.WithLabelValues(strategy).Set(gap)
}

// ObserveSolve records the wall time of one solver call.
func (c *Collector) ObserveSolve(role string, seconds float64) {
	if c == nil {
		return
	}
	c.SolveDuration.WithLabelValues(role).Observe(seconds)
}

// SetProblemSize publishes the dimensions of a built problem.
func (c *Collector) SetProblemSize(vars, binaries, constraints, nonzeros int) {
	if c == nil {
		return
	}
	c.ProblemSize.WithLabelValues("vars").Set(float64(vars))
	c.ProblemSize.WithLabelValues("binaries").Set(float64(binaries))
	c.ProblemSize.WithLabelValues("constraints").Set(float64(constraints))
	c.ProblemSize.WithLabelValues("nonzeros").Set(float64(nonzeros))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
