/*
builder.go Construction of the expansion planning problem from one or more multinetwork models.
The builder emits variables, constraints and the objective into an opt.Problem; it never
solves. Formulation specific flow equations live behind the emitter contract in dc.go and
distflow.go.
*/

package builder

import (
	"fmt"
	"log"
	"math"

	"github.com/ohowland/gridplan/internal/pkg/candidate"
	"github.com/ohowland/gridplan/internal/pkg/coupling"
	"github.com/ohowland/gridplan/internal/pkg/multinetwork"
	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
)

// Formulation selects the linearized power flow model.
type Formulation int

const (
	// MeshedLinearDC is the angle based DC approximation for meshed transmission grids.
	MeshedLinearDC Formulation = iota
	// RadialLinearDistFlow is the linearized DistFlow model for radial distribution grids.
	RadialLinearDistFlow
)

func (f Formulation) String() string {
	switch f {
	case MeshedLinearDC:
		return "MeshedLinearDC"
	case RadialLinearDistFlow:
		return "RadialLinearDistFlow"
	}
	return fmt.Sprintf("Formulation(%d)", int(f))
}

// ParseFormulation maps a configuration name to a Formulation.
func ParseFormulation(s string) (Formulation, error) {
	switch s {
	case "MeshedLinearDC", "dc":
		return MeshedLinearDC, nil
	case "RadialLinearDistFlow", "distflow":
		return RadialLinearDistFlow, nil
	}
	return 0, fmt.Errorf("unknown formulation %q", s)
}

// ProblemType selects which flexibility resources are dispatched.
type ProblemType int

const (
	// FlexTNEP dispatches load shifting, voluntary reduction and curtailment.
	FlexTNEP ProblemType = iota
	// StorageTNEP plans grid and storage candidates; loads can only be curtailed.
	StorageTNEP
)

func (t ProblemType) String() string {
	if t == StorageTNEP {
		return "StorageTNEP"
	}
	return "FlexTNEP"
}

// ParseProblemType maps a configuration name to a ProblemType.
func ParseProblemType(s string) (ProblemType, error) {
	switch s {
	case "", "FlexTNEP":
		return FlexTNEP, nil
	case "StorageTNEP":
		return StorageTNEP, nil
	}
	return 0, fmt.Errorf("unknown problem type %q", s)
}

// Options tune problem construction.
type Options struct {
	ProblemType ProblemType
	// AngleBound limits bus voltage angles to [-AngleBound, AngleBound] radians.
	AngleBound float64
	// ConverterLosses applies each converter's LossB to the power it transfers.
	ConverterLosses bool
	// CurtailmentCost prices involuntary curtailment for loads without their own cost.
	CurtailmentCost float64
	// VMin and VMax are the voltage magnitude limits of buses that carry none.
	VMin float64
	VMax float64
}

func (o Options) withDefaults() Options {
	if o.AngleBound <= 0 {
		o.AngleBound = math.Pi / 3
	}
	if o.VMin <= 0 {
		o.VMin = 0.9
	}
	if o.VMax <= 0 {
		o.VMax = 1.1
	}
	return o
}

// Investment is one built-by indicator of the plan.
type Investment struct {
	Var       int
	Namespace string
	Candidate candidate.ID
	Year      int
	// Cost is the scaled cost charged when the candidate is first built in Year.
	Cost float64
}

// Plan is a constructed problem with the index needed to read its solution.
type Plan struct {
	Problem      *opt.Problem
	Investments  []Investment
	Models       map[string]*multinetwork.Model
	Formulations map[string]Formulation
	Exchanges    []coupling.Exchange

	owners []owner
}

type owner struct {
	namespace string
	key       multinetwork.Key
	local     string
	year      int
	all       bool
}

// Build constructs the planning problem of a single model. Variables carry no namespace.
func Build(m *multinetwork.Model, f Formulation, o Options) (*Plan, error) {
	b := newBuilder(m.Name, o)
	if err := b.add("", m, f); err != nil {
		return nil, err
	}
	b.finish()
	return b.plan, nil
}

// BuildCoupled constructs the joint problem of a transmission model and its distribution
// models. Transmission variables live in namespace "t", distribution variables in the link
// namespaces.
func BuildCoupled(c *coupling.Coupled, tForm, dForm Formulation, o Options) (*Plan, error) {
	b := newBuilder(c.Transmission.Name, o)
	if err := b.add(coupling.TransmissionNamespace, c.Transmission, tForm); err != nil {
		return nil, err
	}
	for _, l := range c.Links {
		if err := b.add(l.Namespace, l.Distribution, dForm); err != nil {
			return nil, err
		}
	}
	ex, err := c.Bind(b.p, coupling.Balances{Active: BalanceRow, Reactive: ReactiveBalanceRow})
	if err != nil {
		return nil, err
	}
	b.plan.Exchanges = ex
	// exchanges are written onto the distribution snapshots
	b.pad()
	for _, e := range ex {
		b.plan.owners[e.P] = owner{namespace: e.Namespace, key: e.Key, local: coupling.ExchangeLocal(e.TBus)}
		if e.Q >= 0 {
			b.plan.owners[e.Q] = owner{namespace: e.Namespace, key: e.Key, local: coupling.ReactiveExchangeLocal(e.TBus)}
		}
	}
	b.finish()
	return b.plan, nil
}

// BalanceRow names the active power balance row of an AC bus.
func BalanceRow(ns string, k multinetwork.Key, bus int) string {
	return fmt.Sprintf("%sbalance[%d]@%s", prefix(ns), bus, k)
}

// ReactiveBalanceRow names the reactive power balance row of an AC bus. Only formulations with
// reactive power emit it.
func ReactiveBalanceRow(ns string, k multinetwork.Key, bus int) string {
	return fmt.Sprintf("%sqbalance[%d]@%s", prefix(ns), bus, k)
}

func prefix(ns string) string {
	if ns == "" {
		return ""
	}
	return ns + "/"
}

// Attach writes values onto the snapshots of the plan's models. Investment indicators are
// written onto every snapshot of their year.
func (pl *Plan) Attach(values []float64) error {
	if len(values) != pl.Problem.NumVars() {
		return fmt.Errorf("%d values for %d variables", len(values), pl.Problem.NumVars())
	}
	for i, o := range pl.owners {
		m, ok := pl.Models[o.namespace]
		if !ok {
			continue
		}
		if !o.all {
			s, _ := m.Snapshot(o.key)
			s.Solution[o.local] = values[i]
			continue
		}
		for _, k := range m.Keys() {
			if k.Year == o.year {
				s, _ := m.Snapshot(k)
				s.Solution[o.local] = values[i]
			}
		}
	}
	return nil
}

// Built returns the investments that are first built in their year at values.
func (pl *Plan) Built(values []float64) []Investment {
	var out []Investment
	prev := make(map[string]float64)
	for _, inv := range pl.Investments {
		key := inv.Namespace + "/" + inv.Candidate.String()
		if values[inv.Var] > 0.5 && prev[key] <= 0.5 {
			out = append(out, inv)
		}
		prev[key] = values[inv.Var]
	}
	return out
}

// InvestmentCost returns the investment part of the objective at values.
func (pl *Plan) InvestmentCost(values []float64) float64 {
	total := 0.0
	for _, inv := range pl.Built(values) {
		total += inv.Cost
	}
	return total
}

type builder struct {
	p    *opt.Problem
	opts Options
	plan *Plan
}

func newBuilder(name string, o Options) *builder {
	p := opt.NewProblem(name)
	return &builder{
		p:    p,
		opts: o.withDefaults(),
		plan: &Plan{
			Problem:      p,
			Models:       make(map[string]*multinetwork.Model),
			Formulations: make(map[string]Formulation),
		},
	}
}

func (b *builder) add(ns string, m *multinetwork.Model, f Formulation) error {
	if _, ok := b.plan.Models[ns]; ok {
		return fmt.Errorf("namespace %q used twice", ns)
	}
	e, err := emitterFor(f)
	if err != nil {
		return err
	}
	b.plan.Models[ns] = m
	b.plan.Formulations[ns] = f

	z := b.investments(ns, m)
	for s := 1; s <= m.Scenarios(); s++ {
		for y := 1; y <= m.Years(); y++ {
			yr := newYearRows()
			for h := 1; h <= m.Hours(); h++ {
				k := multinetwork.Key{Scenario: s, Year: y, Hour: h}
				snap, ok := m.Snapshot(k)
				if !ok {
					return fmt.Errorf("%s: no snapshot at %s", m.Name, k)
				}
				sv := b.newSnapshot(ns, m, snap, z, e.reactive())
				if err := sv.operation(yr); err != nil {
					return err
				}
				if err := e.variables(sv); err != nil {
					return err
				}
				e.constraints(sv)
				sv.balance()
			}
			b.closeYear(ns, m, s, y, yr)
		}
	}
	log.Printf("[Builder] %s: %s over %d snapshots\n", m.Name, f, m.Len())
	return nil
}

func (b *builder) finish() {
	// every variable needs an owner entry so Attach can index by variable
	for len(b.plan.owners) < b.p.NumVars() {
		b.plan.owners = append(b.plan.owners, owner{namespace: "\x00"})
	}
	s := b.p.Summary()
	log.Printf("[Builder] %s: %d variables (%d binary), %d constraints, %d nonzeros\n",
		b.p.Name, s.Vars, s.Binaries, s.Constraints, s.Nonzeros)
}

// variable adds an operational variable of snapshot k.
func (b *builder) variable(ns string, k multinetwork.Key, local string, lower, upper float64) int {
	b.pad()
	v := b.p.AddVariable(opt.Var{
		Name:  fmt.Sprintf("%s%s@%s", prefix(ns), local, k),
		Lower: lower,
		Upper: upper,
		Slot:  slot(k),
	})
	b.plan.owners = append(b.plan.owners, owner{namespace: ns, key: k, local: local})
	return v
}

func (b *builder) pad() {
	for len(b.plan.owners) < b.p.NumVars() {
		b.plan.owners = append(b.plan.owners, owner{namespace: "\x00"})
	}
}

func slot(k multinetwork.Key) opt.Slot {
	return opt.Slot{Scenario: k.Scenario, Year: k.Year, Hour: k.Hour}
}

// row adds a constraint, dropping zero terms.
func (b *builder) row(name string, s opt.Slot, sense opt.Sense, rhs float64, terms ...opt.Term) int {
	kept := make([]opt.Term, 0, len(terms))
	for _, t := range terms {
		if t.Coef != 0 {
			kept = append(kept, t)
		}
	}
	return b.p.AddConstraint(opt.Constraint{Name: name, Terms: kept, Sense: sense, RHS: rhs, Slot: s})
}
