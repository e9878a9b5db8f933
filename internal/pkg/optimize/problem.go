/*
problem.go Solver-agnostic mixed-integer linear problem. The problem is always minimized.
Variables and constraints carry the planning slot they belong to, so decomposition can split a
problem without knowing how it was built.
*/

package optimize

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Kind is the domain of a variable.
type Kind int

const (
	Continuous Kind = iota
	Binary
)

// Sense is the relation of a constraint row to its right-hand side.
type Sense int

const (
	LE Sense = iota
	GE
	EQ
)

func (s Sense) String() string {
	switch s {
	case LE:
		return "<="
	case GE:
		return ">="
	}
	return "="
}

// Slot locates a variable or constraint in the planning horizon. The zero Slot marks first
// stage (investment) items; a zero Hour marks items spanning every hour of a year.
type Slot struct {
	Scenario int
	Year     int
	Hour     int
}

// FirstStage reports whether s is the zero Slot.
func (s Slot) FirstStage() bool {
	return s == Slot{}
}

// Var is a decision variable.
type Var struct {
	Index int
	Name  string
	Kind  Kind
	Lower float64
	Upper float64
	Slot  Slot
}

// Term is one coefficient of a linear expression.
type Term struct {
	Var  int
	Coef float64
}

// Constraint is a linear row: sum(Terms) Sense RHS.
type Constraint struct {
	Index int
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
	Slot  Slot
}

// Problem is a minimization problem over Vars subject to Constraints.
type Problem struct {
	pid        uuid.UUID
	Name       string
	vars       []Var
	byName     map[string]int
	obj        []float64
	objConst   float64
	cons       []Constraint
	consByName map[string]int
}

// NewProblem returns an empty problem.
func NewProblem(name string) *Problem {
	return &Problem{
		pid:        uuid.New(),
		Name:       name,
		byName:     make(map[string]int),
		consByName: make(map[string]int),
	}
}

// PID returns the problem identifier.
func (p *Problem) PID() uuid.UUID {
	return p.pid
}

// AddVariable appends v and returns its index. Names must be unique.
func (p *Problem) AddVariable(v Var) int {
	if _, ok := p.byName[v.Name]; ok {
		panic(fmt.Sprintf("duplicate variable %q", v.Name))
	}
	if v.Kind == Binary {
		v.Lower = math.Max(v.Lower, 0)
		v.Upper = math.Min(v.Upper, 1)
	}
	v.Index = len(p.vars)
	p.vars = append(p.vars, v)
	p.obj = append(p.obj, 0)
	p.byName[v.Name] = v.Index
	return v.Index
}

// AddConstraint appends c and returns its row index. Names must be unique.
func (p *Problem) AddConstraint(c Constraint) int {
	if _, ok := p.consByName[c.Name]; ok {
		panic(fmt.Sprintf("duplicate constraint %q", c.Name))
	}
	for _, t := range c.Terms {
		if t.Var < 0 || t.Var >= len(p.vars) {
			panic(fmt.Sprintf("constraint %q: variable %d out of range", c.Name, t.Var))
		}
	}
	c.Index = len(p.cons)
	c.Terms = append([]Term(nil), c.Terms...)
	p.cons = append(p.cons, c)
	p.consByName[c.Name] = c.Index
	return c.Index
}

// AddTerm adds coef*x[v] to the left-hand side of row.
func (p *Problem) AddTerm(row, v int, coef float64) {
	p.cons[row].Terms = append(p.cons[row].Terms, Term{v, coef})
}

// AddObjective adds coef*x[v] to the objective.
func (p *Problem) AddObjective(v int, coef float64) {
	p.obj[v] += coef
}

// AddObjectiveConstant adds a constant to the objective.
func (p *Problem) AddObjectiveConstant(c float64) {
	p.objConst += c
}

// SetBounds overwrites the bounds of v.
func (p *Problem) SetBounds(v int, lower, upper float64) {
	p.vars[v].Lower = lower
	p.vars[v].Upper = upper
}

// Lookup returns the index of the named variable.
func (p *Problem) Lookup(name string) (int, bool) {
	i, ok := p.byName[name]
	return i, ok
}

// Row returns the index of the named constraint.
func (p *Problem) Row(name string) (int, bool) {
	i, ok := p.consByName[name]
	return i, ok
}

func (p *Problem) Var(i int) Var {
	return p.vars[i]
}

func (p *Problem) Constraint(i int) Constraint {
	return p.cons[i]
}

func (p *Problem) NumVars() int {
	return len(p.vars)
}

func (p *Problem) NumConstraints() int {
	return len(p.cons)
}

// Vars returns a copy of the variables.
func (p *Problem) Vars() []Var {
	return append([]Var(nil), p.vars...)
}

// Constraints returns the constraint rows. Terms are shared with the problem.
func (p *Problem) Constraints() []Constraint {
	return append([]Constraint(nil), p.cons...)
}

// CostCoefficients returns the objective coefficient per variable.
func (p *Problem) CostCoefficients() []float64 {
	return append([]float64(nil), p.obj...)
}

// ObjectiveConstant returns the constant objective offset.
func (p *Problem) ObjectiveConstant() float64 {
	return p.objConst
}

// Bounds returns [lower, upper] per variable.
func (p *Problem) Bounds() [][2]float64 {
	b := make([][2]float64, len(p.vars))
	for i, v := range p.vars {
		b[i] = [2]float64{v.Lower, v.Upper}
	}
	return b
}

// Integers returns the indices of binary variables.
func (p *Problem) Integers() []int {
	var out []int
	for _, v := range p.vars {
		if v.Kind == Binary {
			out = append(out, v.Index)
		}
	}
	return out
}

// FirstStage returns the indices of first stage variables.
func (p *Problem) FirstStage() []int {
	var out []int
	for _, v := range p.vars {
		if v.Slot.FirstStage() {
			out = append(out, v.Index)
		}
	}
	return out
}

// Evaluate returns the objective value at x.
func (p *Problem) Evaluate(x []float64) float64 {
	z := p.objConst
	for i, c := range p.obj {
		z += c * x[i]
	}
	return z
}

// Violations lists every bound, integrality and row violated by more than tol at x.
func (p *Problem) Violations(x []float64, tol float64) []string {
	var out []string
	for _, v := range p.vars {
		xi := x[v.Index]
		if xi < v.Lower-tol || xi > v.Upper+tol {
			out = append(out, fmt.Sprintf("%s=%g outside [%g,%g]", v.Name, xi, v.Lower, v.Upper))
		}
		if v.Kind == Binary && math.Abs(xi-math.Round(xi)) > tol {
			out = append(out, fmt.Sprintf("%s=%g not integral", v.Name, xi))
		}
	}
	for _, c := range p.cons {
		lhs := 0.0
		for _, t := range c.Terms {
			lhs += t.Coef * x[t.Var]
		}
		bad := false
		switch c.Sense {
		case LE:
			bad = lhs > c.RHS+tol
		case GE:
			bad = lhs < c.RHS-tol
		case EQ:
			bad = math.Abs(lhs-c.RHS) > tol
		}
		if bad {
			out = append(out, fmt.Sprintf("%s: %g %s %g", c.Name, lhs, c.Sense, c.RHS))
		}
	}
	return out
}

// Clone returns an independent copy with a new PID.
func (p *Problem) Clone() *Problem {
	c := NewProblem(p.Name)
	c.vars = append([]Var(nil), p.vars...)
	c.obj = append([]float64(nil), p.obj...)
	c.objConst = p.objConst
	c.cons = make([]Constraint, len(p.cons))
	for i, row := range p.cons {
		row.Terms = append([]Term(nil), row.Terms...)
		c.cons[i] = row
	}
	for k, v := range p.byName {
		c.byName[k] = v
	}
	for k, v := range p.consByName {
		c.consByName[k] = v
	}
	return c
}

// Relax returns a copy with every binary variable made continuous in [0,1].
func (p *Problem) Relax() *Problem {
	c := p.Clone()
	for i := range c.vars {
		c.vars[i].Kind = Continuous
	}
	return c
}

// Fix returns a copy with the given variables fixed to their values.
func (p *Problem) Fix(values map[int]float64) *Problem {
	c := p.Clone()
	for i, v := range values {
		c.vars[i].Lower = v
		c.vars[i].Upper = v
	}
	return c
}

// Restrict returns the subproblem of items whose slot satisfies keep, together with every
// first stage variable. First stage objective coefficients and rows touching only first stage
// variables are dropped. The returned slice maps subproblem variable indices to p.
func (p *Problem) Restrict(name string, keep func(Slot) bool) (*Problem, []int) {
	sub := NewProblem(name)
	index := make(map[int]int)
	var origin []int
	for _, v := range p.vars {
		first := v.Slot.FirstStage()
		if !first && !keep(v.Slot) {
			continue
		}
		index[v.Index] = sub.AddVariable(v)
		origin = append(origin, v.Index)
		if !first {
			sub.obj[index[v.Index]] = p.obj[v.Index]
		}
	}
	for _, c := range p.cons {
		onlyFirst := true
		complete := true
		terms := make([]Term, 0, len(c.Terms))
		for _, t := range c.Terms {
			j, ok := index[t.Var]
			if !ok {
				complete = false
				break
			}
			if !p.vars[t.Var].Slot.FirstStage() {
				onlyFirst = false
			}
			terms = append(terms, Term{j, t.Coef})
		}
		if !complete || onlyFirst {
			continue
		}
		c.Terms = terms
		sub.AddConstraint(c)
	}
	return sub, origin
}

// Summary counts variables and rows by kind.
type Summary struct {
	Vars        int
	Binaries    int
	Constraints int
	Nonzeros    int
}

func (p *Problem) Summary() Summary {
	s := Summary{Vars: len(p.vars), Constraints: len(p.cons)}
	s.Binaries = len(p.Integers())
	for _, c := range p.cons {
		s.Nonzeros += len(c.Terms)
	}
	return s
}

// Names returns the variable names in sorted order.
func (p *Problem) Names() []string {
	names := make([]string, 0, len(p.byName))
	for k := range p.byName {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
