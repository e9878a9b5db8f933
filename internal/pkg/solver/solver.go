/*
solver.go The narrow boundary between problem construction and MILP solvers. Adapters register
under a name and are selected by configuration.
*/

package solver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
)

// Status is the termination state reported by a solver.
type Status int

const (
	Optimal Status = iota
	Infeasible
	Unbounded
	// IterationLimit means a node, iteration or time limit stopped the search. Values hold
	// the best feasible point found, if any.
	IterationLimit
	Error
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case Unbounded:
		return "unbounded"
	case IterationLimit:
		return "iteration limit"
	}
	return "error"
}

// Options are common solver settings. Passthrough is handed to the adapter uninterpreted.
type Options struct {
	TimeLimit   time.Duration     `json:"TimeLimit"`
	MIPGap      float64           `json:"MIPGap"`
	Passthrough map[string]string `json:"Passthrough"`
}

// Result is the outcome of one solve. Values are indexed like the problem variables. Duals
// are nil when the adapter does not report them.
type Result struct {
	Status    Status
	Values    []float64
	Objective float64
	Duals     []float64
}

// Feasible reports whether r carries a usable point.
func (r Result) Feasible() bool {
	return r.Values != nil && (r.Status == Optimal || r.Status == IterationLimit)
}

// Solver solves an optimization problem.
type Solver interface {
	Solve(ctx context.Context, p *opt.Problem, o Options) (Result, error)
}

// Factory creates a solver instance.
type Factory func() Solver

var (
	mux      = &sync.Mutex{}
	adapters = make(map[string]Factory)
)

// Register makes an adapter available under name.
func Register(name string, f Factory) {
	mux.Lock()
	defer mux.Unlock()
	if _, ok := adapters[name]; ok {
		panic("solver: Register called twice for " + name)
	}
	adapters[name] = f
}

// New returns a solver by registered name.
func New(name string) (Solver, error) {
	mux.Lock()
	defer mux.Unlock()
	f, ok := adapters[name]
	if !ok {
		return nil, fmt.Errorf("solver %q not registered, have %v", name, registered())
	}
	return f(), nil
}

func registered() []string {
	names := make([]string, 0, len(adapters))
	for k := range adapters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
