package decomposition

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"

	"github.com/ohowland/gridplan/internal/pkg/msg"
	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
	"github.com/ohowland/gridplan/internal/pkg/solver"
	"golang.org/x/sync/errgroup"
)

// group is one subproblem: the operational part of a scenario or year with every first stage
// variable present.
type group struct {
	name   string
	sub    *opt.Problem
	origin []int
	first  map[int]int
	lower  float64
	theta  int
}

type subResult struct {
	index  int
	result solver.Result
}

func (c *Coordinator) iterate(ctx context.Context, p *opt.Problem, strategy Strategy) (Outcome, error) {
	for _, i := range p.FirstStage() {
		if v := p.Var(i); v.Kind != opt.Binary {
			return Outcome{Status: solver.Error}, fmt.Errorf("first stage variable %s is not binary", v.Name)
		}
	}
	groups, err := partition(p, strategy)
	if err != nil {
		return Outcome{Status: solver.Error}, err
	}
	log.Printf("[Decomposition] %s: %d subproblems, %d first stage variables\n",
		strategy, len(groups), len(p.FirstStage()))

	relaxed := make([]*opt.Problem, len(groups))
	for i, g := range groups {
		relaxed[i] = g.sub.Relax()
	}
	bounds, err := c.fanOut(ctx, "subproblem", relaxed)
	if err != nil {
		return Outcome{Status: solver.Error}, err
	}
	for i, r := range bounds {
		switch r.Status {
		case solver.Optimal:
			groups[i].lower = r.Objective
		case solver.Infeasible, solver.Unbounded:
			log.Printf("[Decomposition] relaxation of %s is %s\n", groups[i].name, r.Status)
			return Outcome{Status: r.Status, Subproblems: len(groups)}, nil
		default:
			return Outcome{Status: solver.Error}, fmt.Errorf("relaxation of %s: %s", groups[i].name, r.Status)
		}
	}

	m := newMaster(p, groups)
	best := Outcome{
		Status:      solver.IterationLimit,
		Lower:       math.Inf(-1),
		Upper:       math.Inf(1),
		Subproblems: len(groups),
	}

	for it := 1; it <= c.config.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return best, err
		}
		best.Iterations = it

		mr, err := c.solve(ctx, "master", m.problem)
		if err != nil {
			return best, err
		}
		if !mr.Feasible() {
			if mr.Status == solver.Infeasible && best.Values == nil {
				log.Printf("[Decomposition] master infeasible at iteration %d\n", it)
				best.Status = solver.Infeasible
				return best, nil
			}
			return best, fmt.Errorf("master problem at iteration %d: %s", it, mr.Status)
		}
		best.Lower = math.Max(best.Lower, mr.Objective)

		x := m.assignment(mr.Values)
		fixed := make([]*opt.Problem, len(groups))
		for i, g := range groups {
			values := make(map[int]float64, len(g.first))
			for full, local := range g.first {
				values[local] = x[full]
			}
			fixed[i] = g.sub.Fix(values)
		}
		results, err := c.fanOut(ctx, "subproblem", fixed)
		if err != nil {
			return best, err
		}

		infeasible := 0
		for i, r := range results {
			switch r.Status {
			case solver.Optimal:
			case solver.Infeasible:
				infeasible++
			case solver.Unbounded:
				best.Status = solver.Unbounded
				return best, nil
			default:
				return best, fmt.Errorf("subproblem %s: %s", groups[i].name, r.Status)
			}
		}

		if infeasible > 0 {
			m.noGood(x)
		} else {
			values := make([]float64, p.NumVars())
			for full, v := range x {
				values[full] = v
			}
			for i, g := range groups {
				for local, full := range g.origin {
					if _, first := g.first[full]; !first {
						values[full] = results[i].Values[local]
					}
				}
			}
			if total := p.Evaluate(values); total < best.Upper {
				best.Upper = total
				best.Objective = total
				best.Values = values
			}
			for i, g := range groups {
				q := results[i].Objective
				if q > mr.Values[g.theta]+1e-9*math.Max(1, math.Abs(q)) {
					m.optimalityCut(g, x, q)
				}
			}
		}

		gp := gap(best.Lower, best.Upper)
		log.Printf("[Decomposition] iteration %d: lower %g upper %g gap %.4g (%d infeasible)\n",
			it, best.Lower, best.Upper, gp, infeasible)
		c.metrics.ObserveIteration(strategy.String(), best.Lower, best.Upper, gp)
		c.publish(msg.Progress, Progress{
			Run:        p.PID(),
			Strategy:   strategy,
			Iteration:  it,
			Lower:      best.Lower,
			Upper:      best.Upper,
			Gap:        gp,
			Infeasible: infeasible,
		})

		if best.Values != nil && gp <= c.config.Tolerance {
			best.Status = solver.Optimal
			return best, nil
		}
	}

	w := &ConvergenceWarning{
		Iterations: best.Iterations,
		Lower:      best.Lower,
		Upper:      best.Upper,
		Gap:        gap(best.Lower, best.Upper),
	}
	log.Printf("[Decomposition] %v\n", w)
	return best, w
}

// fanOut solves problems on at most Workers goroutines. Results are collected by a single
// receiver and returned in input order.
func (c *Coordinator) fanOut(ctx context.Context, role string, problems []*opt.Problem) ([]solver.Result, error) {
	results := make([]solver.Result, len(problems))
	done := make(chan subResult)
	collected := make(chan struct{})
	go func() {
		for r := range done {
			results[r.index] = r.result
		}
		close(collected)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)
	for i, p := range problems {
		i, p := i, p
		g.Go(func() error {
			r, err := c.solve(gctx, role, p)
			if err != nil {
				return err
			}
			done <- subResult{i, r}
			return nil
		})
	}
	err := g.Wait()
	close(done)
	<-collected
	return results, err
}

// partition splits the operational variables of p by scenario or year. A row whose
// operational variables fall into two groups cannot be split.
func partition(p *opt.Problem, s Strategy) ([]*group, error) {
	key := func(sl opt.Slot) int {
		if s == ByYear {
			return sl.Year
		}
		return sl.Scenario
	}

	ids := make(map[int]bool)
	for _, v := range p.Vars() {
		if !v.Slot.FirstStage() {
			ids[key(v.Slot)] = true
		}
	}
	for _, row := range p.Constraints() {
		owner := 0
		for _, t := range row.Terms {
			sl := p.Var(t.Var).Slot
			if sl.FirstStage() {
				continue
			}
			if k := key(sl); owner == 0 {
				owner = k
			} else if k != owner {
				return nil, fmt.Errorf("row %s links %s %d and %d", row.Name, s, owner, k)
			}
		}
	}

	sorted := make([]int, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Ints(sorted)

	groups := make([]*group, 0, len(sorted))
	for _, id := range sorted {
		id := id
		name := fmt.Sprintf("%s%d", s, id)
		sub, origin := p.Restrict(p.Name+"/"+name, func(sl opt.Slot) bool { return key(sl) == id })
		g := &group{name: name, sub: sub, origin: origin, first: make(map[int]int)}
		for local, full := range origin {
			if p.Var(full).Slot.FirstStage() {
				g.first[full] = local
			}
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// master holds the first stage variables, their rows, one value function variable per group
// and the cuts collected so far.
type master struct {
	problem *opt.Problem
	first   []int
	index   map[int]int
	cuts    int
}

func newMaster(p *opt.Problem, groups []*group) *master {
	m := &master{
		problem: opt.NewProblem(p.Name + "/master"),
		first:   p.FirstStage(),
		index:   make(map[int]int),
	}
	cost := p.CostCoefficients()
	for _, i := range m.first {
		j := m.problem.AddVariable(p.Var(i))
		m.problem.AddObjective(j, cost[i])
		m.index[i] = j
	}
	m.problem.AddObjectiveConstant(p.ObjectiveConstant())

	for _, row := range p.Constraints() {
		terms := make([]opt.Term, 0, len(row.Terms))
		for _, t := range row.Terms {
			j, ok := m.index[t.Var]
			if !ok {
				terms = nil
				break
			}
			terms = append(terms, opt.Term{Var: j, Coef: t.Coef})
		}
		if terms == nil && len(row.Terms) > 0 {
			continue
		}
		row.Terms = terms
		m.problem.AddConstraint(row)
	}

	for _, g := range groups {
		g.theta = m.problem.AddVariable(opt.Var{
			Name:  fmt.Sprintf("theta[%s]", g.name),
			Lower: g.lower,
			Upper: math.Inf(1),
		})
		m.problem.AddObjective(g.theta, 1)
	}
	return m
}

// assignment rounds the master's first stage values, keyed by full problem index.
func (m *master) assignment(values []float64) map[int]float64 {
	x := make(map[int]float64, len(m.first))
	for _, i := range m.first {
		x[i] = math.Round(values[m.index[i]])
	}
	return x
}

// signed returns the terms of sum_{i in S} x_i - sum_{i not in S} x_i scaled by coef, and |S|.
func (m *master) signed(x map[int]float64, coef float64) ([]opt.Term, int) {
	terms := make([]opt.Term, 0, len(m.first)+1)
	ones := 0
	for _, i := range m.first {
		c := -coef
		if x[i] > 0.5 {
			c = coef
			ones++
		}
		terms = append(terms, opt.Term{Var: m.index[i], Coef: c})
	}
	return terms, ones
}

// noGood excludes the assignment x.
func (m *master) noGood(x map[int]float64) {
	terms, ones := m.signed(x, 1)
	m.cuts++
	m.problem.AddConstraint(opt.Constraint{
		Name:  fmt.Sprintf("nogood#%d", m.cuts),
		Terms: terms,
		Sense: opt.LE,
		RHS:   float64(ones) - 1,
	})
}

// optimalityCut adds theta_g >= (q-L)(sum_S x - sum_notS x - |S| + 1) + L, which is tight at
// x and no stronger than L elsewhere.
func (m *master) optimalityCut(g *group, x map[int]float64, q float64) {
	d := q - g.lower
	terms, ones := m.signed(x, -d)
	terms = append(terms, opt.Term{Var: g.theta, Coef: 1})
	m.cuts++
	m.problem.AddConstraint(opt.Constraint{
		Name:  fmt.Sprintf("optcut[%s]#%d", g.name, m.cuts),
		Terms: terms,
		Sense: opt.GE,
		RHS:   d*(1-float64(ones)) + g.lower,
	})
}
