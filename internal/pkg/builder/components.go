package builder

import (
	"fmt"
	"math"
	"sort"

	"github.com/ohowland/gridplan/internal/pkg/candidate"
	"github.com/ohowland/gridplan/internal/pkg/multinetwork"
	"github.com/ohowland/gridplan/internal/pkg/network"
	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
)

// emitter is the contract shared by the flow formulations. variables adds the branch flow
// and bus state variables of one snapshot and registers their bus injections; constraints
// adds the flow equations and limits.
type emitter interface {
	reactive() bool
	variables(sv *snapshotVars) error
	constraints(sv *snapshotVars)
}

func emitterFor(f Formulation) (emitter, error) {
	switch f {
	case MeshedLinearDC:
		return dcEmitter{}, nil
	case RadialLinearDistFlow:
		return &distFlowEmitter{checked: make(map[string]bool)}, nil
	}
	return nil, fmt.Errorf("unsupported formulation %s", f)
}

// branchFlow is one AC branch of a snapshot with its flow variables. z is -1 for existing
// branches.
type branchFlow struct {
	branch network.Branch
	name   string
	p      int
	q      int
	z      int
}

// snapshotVars collects the variables and bus injections of one snapshot.
type snapshotVars struct {
	b        *builder
	ns       string
	m        *multinetwork.Model
	k        multinetwork.Key
	net      *network.Network
	z        map[candidate.ID][]int
	prob     float64
	withQ    bool
	p        map[int][]opt.Term
	q        map[int][]opt.Term
	pd       map[int]float64
	qd       map[int]float64
	dc       map[int][]opt.Term
	bus      map[int]int
	branches []branchFlow
}

func (b *builder) newSnapshot(ns string, m *multinetwork.Model, snap *multinetwork.Snapshot, z map[candidate.ID][]int, reactive bool) *snapshotVars {
	return &snapshotVars{
		b:     b,
		ns:    ns,
		m:     m,
		k:     snap.Key,
		net:   snap.Network,
		z:     z,
		prob:  m.Dimensions.Probability(snap.Key.Scenario),
		withQ: reactive,
		p:     make(map[int][]opt.Term),
		q:     make(map[int][]opt.Term),
		pd:    make(map[int]float64),
		qd:    make(map[int]float64),
		dc:    make(map[int][]opt.Term),
		bus:   make(map[int]int),
	}
}

func (sv *snapshotVars) v(local string, lower, upper float64) int {
	return sv.b.variable(sv.ns, sv.k, local, lower, upper)
}

func (sv *snapshotVars) name(format string, args ...interface{}) string {
	return fmt.Sprintf("%s%s@%s", prefix(sv.ns), fmt.Sprintf(format, args...), sv.k)
}

func (sv *snapshotVars) row(name string, sense opt.Sense, rhs float64, terms ...opt.Term) {
	sv.b.row(name, slot(sv.k), sense, rhs, terms...)
}

func (sv *snapshotVars) cost(v int, c float64) {
	if c != 0 {
		sv.b.p.AddObjective(v, sv.prob*c)
	}
}

func (sv *snapshotVars) injectP(bus, v int, coef float64) {
	sv.p[bus] = append(sv.p[bus], opt.Term{Var: v, Coef: coef})
}

func (sv *snapshotVars) injectQ(bus, v int, coef float64) {
	if sv.withQ {
		sv.q[bus] = append(sv.q[bus], opt.Term{Var: v, Coef: coef})
	}
}

func (sv *snapshotVars) injectDC(bus, v int, coef float64) {
	sv.dc[bus] = append(sv.dc[bus], opt.Term{Var: v, Coef: coef})
}

// built returns the investment indicator of a candidate in the snapshot's year.
func (sv *snapshotVars) built(kind network.CandidateKind, id int) (int, bool) {
	vars, ok := sv.z[candidate.ID{Kind: kind, Index: id}]
	if !ok {
		return 0, false
	}
	return vars[sv.k.Year-1], true
}

// capped adds v - limit*z <= 0.
func (sv *snapshotVars) capped(name string, v, z int, limit float64) {
	sv.row(name, opt.LE, 0, opt.Term{Var: v, Coef: 1}, opt.Term{Var: z, Coef: -limit})
}

func bound(rate float64) (float64, float64) {
	if rate <= 0 {
		return math.Inf(-1), math.Inf(1)
	}
	return -rate, rate
}

// operation adds the formulation independent variables of a snapshot: generation, demand,
// flexibility, storage and the DC grid.
func (sv *snapshotVars) operation(yr *yearRows) error {
	for _, g := range sv.net.Gens {
		pg := sv.v(fmt.Sprintf("pg[%d]", g.ID), g.PMin, g.PMax)
		sv.cost(pg, g.Cost+g.EmissionCost)
		sv.injectP(g.Bus, pg, 1)
		if sv.withQ {
			qg := sv.v(fmt.Sprintf("qg[%d]", g.ID), g.QMin, g.QMax)
			sv.injectQ(g.Bus, qg, 1)
		}
	}
	for _, l := range sv.net.Loads {
		if err := sv.load(l, yr); err != nil {
			return err
		}
	}
	for _, s := range sv.net.Storage {
		sv.storage("storage", s, -1, yr)
	}
	for _, s := range sv.net.NeStorage {
		z, ok := sv.built(network.KindStorage, s.ID)
		if !ok {
			continue
		}
		sv.storage("ne_storage", s.Storage, z, yr)
	}
	return sv.dcGrid()
}

func (sv *snapshotVars) load(l network.Load, yr *yearRows) error {
	sv.pd[l.Bus] += l.PD
	sv.qd[l.Bus] += l.QD
	ratio := 0.0
	if l.PD != 0 {
		ratio = l.QD / l.PD
	}

	curt := sv.v(fmt.Sprintf("pcurt[%d]", l.ID), 0, math.Max(l.PD, 0))
	curtCost := l.CostCurtailment
	if curtCost == 0 {
		curtCost = sv.b.opts.CurtailmentCost
	}
	sv.cost(curt, curtCost)
	sv.injectP(l.Bus, curt, 1)
	sv.injectQ(l.Bus, curt, ratio)

	if sv.b.opts.ProblemType != FlexTNEP || !l.HasFlexibility() {
		return nil
	}
	z := -1
	if l.FlexCandidate != nil && !l.Flexible {
		var ok bool
		if z, ok = sv.built(network.KindFlexLoad, l.ID); !ok {
			return nil
		}
	}
	pd := math.Max(l.PD, 0)
	up := sv.v(fmt.Sprintf("pshift_up[%d]", l.ID), 0, l.ShiftUpMax*pd)
	down := sv.v(fmt.Sprintf("pshift_down[%d]", l.ID), 0, l.ShiftDownMax*pd)
	red := sv.v(fmt.Sprintf("pred[%d]", l.ID), 0, l.ReductionMax*pd)
	if z >= 0 {
		sv.capped(sv.name("flex_up[%d]", l.ID), up, z, l.ShiftUpMax*pd)
		sv.capped(sv.name("flex_down[%d]", l.ID), down, z, l.ShiftDownMax*pd)
		sv.capped(sv.name("flex_red[%d]", l.ID), red, z, l.ReductionMax*pd)
	}
	sv.cost(up, l.CostShiftUp)
	sv.cost(down, l.CostShiftDown)
	sv.cost(red, l.CostReduction)

	sv.injectP(l.Bus, up, -1)
	sv.injectP(l.Bus, down, 1)
	sv.injectP(l.Bus, red, 1)
	sv.injectQ(l.Bus, up, -ratio)
	sv.injectQ(l.Bus, down, ratio)
	sv.injectQ(l.Bus, red, ratio)

	// served demand stays non-negative
	sv.row(sv.name("served[%d]", l.ID), opt.LE, pd,
		opt.Term{Var: curt, Coef: 1}, opt.Term{Var: red, Coef: 1},
		opt.Term{Var: down, Coef: 1}, opt.Term{Var: up, Coef: -1})

	yr.flex(l, up, down, red)
	return nil
}

// storage adds charge, discharge and energy of one device. z is -1 for existing devices.
// Candidate devices scale every rating and every external energy term with z.
func (sv *snapshotVars) storage(table string, s network.Storage, z int, yr *yearRows) {
	sc := sv.v(fmt.Sprintf("%s_charge[%d]", table, s.ID), 0, s.ChargeRating)
	sd := sv.v(fmt.Sprintf("%s_discharge[%d]", table, s.ID), 0, s.DischargeRating)
	se := sv.v(fmt.Sprintf("%s_energy[%d]", table, s.ID), 0, s.EnergyRating)
	sv.injectP(s.Bus, sd, 1)
	sv.injectP(s.Bus, sc, -1)

	if z >= 0 {
		sv.capped(sv.name("%s_charge_cap[%d]", table, s.ID), sc, z, s.ChargeRating)
		sv.capped(sv.name("%s_discharge_cap[%d]", table, s.ID), sd, z, s.DischargeRating)
		sv.capped(sv.name("%s_energy_cap[%d]", table, s.ID), se, z, s.EnergyRating)
	}

	// se[h] = (1-self)*se[h-1] + etaC*sc - sd/etaD + inflow - outflow, se[0] = EnergyInit
	external := s.Inflow - s.Outflow
	terms := []opt.Term{
		{Var: se, Coef: 1},
		{Var: sc, Coef: -s.ChargeEfficiency},
		{Var: sd, Coef: 1 / s.DischargeEfficiency},
	}
	key := fmt.Sprintf("%s[%d]", table, s.ID)
	if prev, ok := yr.energy[key]; ok {
		terms = append(terms, opt.Term{Var: prev, Coef: -(1 - s.SelfDischarge)})
	} else {
		external += (1 - s.SelfDischarge) * s.EnergyInit
	}
	rhs := external
	if z >= 0 {
		terms = append(terms, opt.Term{Var: z, Coef: -external})
		rhs = 0
	}
	sv.row(sv.name("%s_state[%d]", table, s.ID), opt.EQ, rhs, terms...)
	yr.energy[key] = se

	if sv.k.Hour == sv.m.Hours() {
		if z >= 0 {
			sv.row(sv.name("%s_final[%d]", table, s.ID), opt.GE, 0,
				opt.Term{Var: se, Coef: 1}, opt.Term{Var: z, Coef: -s.EnergyInit})
		} else {
			sv.row(sv.name("%s_final[%d]", table, s.ID), opt.GE, s.EnergyInit, opt.Term{Var: se, Coef: 1})
		}
	}
}

// dcGrid adds DC branch flows as a transport model and converter transfers in both
// directions.
func (sv *snapshotVars) dcGrid() error {
	for _, br := range sv.net.DCBranches {
		lo, hi := bound(br.Rate)
		f := sv.v(fmt.Sprintf("pdc[%d]", br.ID), lo, hi)
		sv.injectDC(br.From, f, -1)
		sv.injectDC(br.To, f, 1)
	}
	for _, br := range sv.net.NeDCBranches {
		z, ok := sv.built(network.KindDCBranch, br.ID)
		if !ok {
			continue
		}
		if br.Rate <= 0 {
			return fmt.Errorf("%s: candidate dc branch %d needs a positive rate", sv.m.Name, br.ID)
		}
		f := sv.v(fmt.Sprintf("ne_pdc[%d]", br.ID), -br.Rate, br.Rate)
		sv.capped(sv.name("ne_pdc_to[%d]", br.ID), f, z, br.Rate)
		sv.row(sv.name("ne_pdc_fr[%d]", br.ID), opt.GE, 0,
			opt.Term{Var: f, Coef: 1}, opt.Term{Var: z, Coef: br.Rate})
		sv.injectDC(br.From, f, -1)
		sv.injectDC(br.To, f, 1)
	}
	for _, c := range sv.net.Converters {
		sv.converter("pconv", c, -1)
	}
	for _, c := range sv.net.NeConverters {
		z, ok := sv.built(network.KindConverter, c.ID)
		if !ok {
			continue
		}
		if c.Rate <= 0 {
			return fmt.Errorf("%s: candidate converter %d needs a positive rate", sv.m.Name, c.ID)
		}
		sv.converter("ne_pconv", c.Converter, z)
	}
	return nil
}

func (sv *snapshotVars) converter(table string, c network.Converter, z int) {
	hi := math.Inf(1)
	if c.Rate > 0 {
		hi = c.Rate
	}
	toDC := sv.v(fmt.Sprintf("%s_ac_dc[%d]", table, c.ID), 0, hi)
	toAC := sv.v(fmt.Sprintf("%s_dc_ac[%d]", table, c.ID), 0, hi)
	if z >= 0 {
		sv.capped(sv.name("%s_ac_dc_cap[%d]", table, c.ID), toDC, z, c.Rate)
		sv.capped(sv.name("%s_dc_ac_cap[%d]", table, c.ID), toAC, z, c.Rate)
	}
	eff := 1.0
	if sv.b.opts.ConverterLosses {
		eff = 1 - c.LossB
	}
	sv.injectP(c.ACBus, toDC, -1)
	sv.injectP(c.ACBus, toAC, eff)
	sv.injectDC(c.DCBus, toDC, eff)
	sv.injectDC(c.DCBus, toAC, -1)
}

// balance adds the nodal balance rows of the snapshot.
func (sv *snapshotVars) balance() {
	for _, bus := range sv.net.Buses {
		sv.b.p.AddConstraint(opt.Constraint{
			Name:  BalanceRow(sv.ns, sv.k, bus.ID),
			Terms: sv.p[bus.ID],
			Sense: opt.EQ,
			RHS:   sv.pd[bus.ID],
			Slot:  slot(sv.k),
		})
		if sv.withQ {
			sv.b.p.AddConstraint(opt.Constraint{
				Name:  ReactiveBalanceRow(sv.ns, sv.k, bus.ID),
				Terms: sv.q[bus.ID],
				Sense: opt.EQ,
				RHS:   sv.qd[bus.ID],
				Slot:  slot(sv.k),
			})
		}
	}
	for _, bus := range sv.net.DCBuses {
		if len(sv.dc[bus.ID]) == 0 {
			continue
		}
		sv.row(sv.name("dcbalance[%d]", bus.ID), opt.EQ, 0, sv.dc[bus.ID]...)
	}
}

// yearRows gathers the rows spanning all hours of one scenario year.
type yearRows struct {
	energy map[string]int
	loads  []network.Load
	up     map[int][]opt.Term
	down   map[int][]opt.Term
	red    map[int][]opt.Term
}

func newYearRows() *yearRows {
	return &yearRows{
		energy: make(map[string]int),
		up:     make(map[int][]opt.Term),
		down:   make(map[int][]opt.Term),
		red:    make(map[int][]opt.Term),
	}
}

func (yr *yearRows) flex(l network.Load, up, down, red int) {
	if _, ok := yr.up[l.ID]; !ok {
		yr.loads = append(yr.loads, l)
	}
	yr.up[l.ID] = append(yr.up[l.ID], opt.Term{Var: up, Coef: 1})
	yr.down[l.ID] = append(yr.down[l.ID], opt.Term{Var: down, Coef: 1})
	yr.red[l.ID] = append(yr.red[l.ID], opt.Term{Var: red, Coef: 1})
}

// closeYear adds the shifted energy balance and the reduction energy cap of each flexible
// load.
func (b *builder) closeYear(ns string, m *multinetwork.Model, s, y int, yr *yearRows) {
	sort.Slice(yr.loads, func(i, j int) bool { return yr.loads[i].ID < yr.loads[j].ID })
	sl := opt.Slot{Scenario: s, Year: y}
	for _, l := range yr.loads {
		terms := append([]opt.Term(nil), yr.up[l.ID]...)
		for _, t := range yr.down[l.ID] {
			terms = append(terms, opt.Term{Var: t.Var, Coef: -1})
		}
		b.row(fmt.Sprintf("%sshift_balance[%d]@s%dy%d", prefix(ns), l.ID, s, y), sl, opt.EQ, 0, terms...)
		if l.ReductionEnergyMax > 0 {
			b.row(fmt.Sprintf("%sreduction_energy[%d]@s%dy%d", prefix(ns), l.ID, s, y), sl, opt.LE,
				l.ReductionEnergyMax, yr.red[l.ID]...)
		}
	}
}
