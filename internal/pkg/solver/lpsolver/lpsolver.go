/*
lpsolver.go Reference MILP adapter: a dense bounded simplex on gonum matrices for relaxations
and a depth-first branch and bound over binary variables. Intended for small problems and tests.
*/

package lpsolver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
	"github.com/ohowland/gridplan/internal/pkg/solver"
)

// Name is the registered adapter name.
const Name = "lp"

func init() {
	solver.Register(Name, func() solver.Solver { return New() })
}

// Solver is the branch and bound adapter. Passthrough keys "node_limit" and "tolerance"
// override NodeLimit and Tolerance per solve.
type Solver struct {
	NodeLimit int
	Tolerance float64
}

// New returns a Solver with default limits.
func New() *Solver {
	return &Solver{NodeLimit: 100000, Tolerance: 1e-9}
}

type node struct {
	lower []float64
	upper []float64
}

const integralityTol = 1e-6

// Solve runs branch and bound on p. Nodes are explored depth first, rounding toward the
// nearer integer first; a new incumbent must improve strictly, so among equal-cost optima the
// first one found is kept.
func (s *Solver) Solve(ctx context.Context, p *opt.Problem, o solver.Options) (solver.Result, error) {
	nodeLimit, tol, err := s.settings(o)
	if err != nil {
		return solver.Result{Status: solver.Error}, err
	}
	var deadline time.Time
	if o.TimeLimit > 0 {
		deadline = time.Now().Add(o.TimeLimit)
	}

	root := node{make([]float64, p.NumVars()), make([]float64, p.NumVars())}
	for i, b := range p.Bounds() {
		root.lower[i], root.upper[i] = b[0], b[1]
	}
	ints := p.Integers()

	best := solver.Result{Status: solver.Infeasible, Objective: math.Inf(1)}
	stack := []node{root}
	nodes := 0
	limited := false

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return solver.Result{Status: solver.Error}, err
		}
		if (nodeLimit > 0 && nodes >= nodeLimit) || (!deadline.IsZero() && time.Now().After(deadline)) {
			limited = true
			break
		}
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		r, err := solveLP(ctx, p, nd.lower, nd.upper, tol, deadline)
		if errors.Is(err, errTimeLimit) || errors.Is(err, errPivotLimit) {
			log.Printf("[LP Solver] %s: node %d: %v\n", p.Name, nodes, err)
			limited = true
			break
		}
		if err != nil {
			return solver.Result{Status: solver.Error}, fmt.Errorf("node %d: %w", nodes, err)
		}
		switch r.status {
		case solver.Infeasible:
			continue
		case solver.Unbounded:
			return solver.Result{Status: solver.Unbounded}, nil
		}
		if r.objective >= cutoff(best.Objective, o.MIPGap) {
			continue
		}

		j := mostFractional(r.x, ints)
		if j < 0 {
			for _, i := range ints {
				r.x[i] = math.Round(r.x[i])
			}
			best = solver.Result{Status: solver.Optimal, Values: r.x, Objective: p.Evaluate(r.x)}
			continue
		}

		floor := math.Floor(r.x[j])
		down := node{nd.lower, append([]float64(nil), nd.upper...)}
		down.upper[j] = floor
		up := node{append([]float64(nil), nd.lower...), nd.upper}
		up.lower[j] = floor + 1
		if r.x[j]-floor >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}

	if limited {
		log.Printf("[LP Solver] %s: stopped after %d nodes\n", p.Name, nodes)
		best.Status = solver.IterationLimit
		if best.Values == nil {
			best.Objective = math.NaN()
		}
		return best, nil
	}
	if best.Values == nil {
		best.Objective = math.NaN()
	}
	return best, nil
}

// cutoff is the objective a node must beat to be explored.
func cutoff(incumbent, gap float64) float64 {
	if math.IsInf(incumbent, 1) {
		return incumbent
	}
	return incumbent - math.Max(1e-9, gap*math.Abs(incumbent))
}

// mostFractional returns the integer variable farthest from integrality, -1 when all are
// integral. Ties go to the lowest index.
func mostFractional(x []float64, ints []int) int {
	j, worst := -1, integralityTol
	for _, i := range ints {
		if f := math.Abs(x[i] - math.Round(x[i])); f > worst {
			j, worst = i, f
		}
	}
	return j
}

func (s *Solver) settings(o solver.Options) (int, float64, error) {
	nodeLimit, tol := s.NodeLimit, s.Tolerance
	for k, v := range o.Passthrough {
		switch k {
		case "node_limit":
			n, err := strconv.Atoi(v)
			if err != nil {
				return 0, 0, fmt.Errorf("node_limit %q: %w", v, err)
			}
			nodeLimit = n
		case "tolerance":
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return 0, 0, fmt.Errorf("tolerance %q: %w", v, err)
			}
			tol = f
		default:
			log.Printf("[LP Solver] ignoring option %s\n", k)
		}
	}
	return nodeLimit, tol, nil
}
