package builder

import (
	"math"
	"testing"

	"github.com/ohowland/gridplan/internal/pkg/coupling"
	"github.com/ohowland/gridplan/internal/pkg/multinetwork"
	"github.com/ohowland/gridplan/internal/pkg/network"
	"github.com/ohowland/gridplan/internal/pkg/solver"
	"gotest.tools/v3/assert"
)

func feeder() *network.Network {
	return &network.Network{
		Name: "feeder",
		Buses: []network.Bus{
			{ID: 1, Ref: true, VRef: 1, VMin: 0.95, VMax: 1.05},
			{ID: 2, VMin: 0.9, VMax: 1.1},
			{ID: 3, VMin: 0.9, VMax: 1.1},
		},
		Branches: []network.Branch{
			{ID: 1, From: 1, To: 2, R: 0.01, X: 0.02, Rate: 2},
			{ID: 2, From: 2, To: 3, R: 0.01, X: 0.02, Rate: 2},
		},
		Gens:  []network.Gen{{ID: 1, Bus: 1, PMax: 5, QMin: -5, QMax: 5, Cost: 1}},
		Loads: []network.Load{{ID: 1, Bus: 3, PD: 1, QD: 0.2, CostCurtailment: 1000}},
	}
}

func TestDistFlowVoltageDrop(t *testing.T) {
	m := makeModel(t, feeder(), dims(t, 1, 1, 1), nil)
	pl, err := Build(m, RadialLinearDistFlow, Options{})
	assert.NilError(t, err)

	r := solve(t, pl)
	assert.Equal(t, r.Status, solver.Optimal)
	assert.Assert(t, math.Abs(r.Objective-1) < eps, "objective %v", r.Objective)

	assert.NilError(t, pl.Attach(r.Values))
	snap, _ := m.Snapshot(multinetwork.Key{Scenario: 1, Year: 1, Hour: 1})
	// each branch drops 2*(0.01*1 + 0.02*0.2)
	assert.Assert(t, math.Abs(snap.Solution["w[2]"]-0.972) < eps, "w2 %v", snap.Solution["w[2]"])
	assert.Assert(t, math.Abs(snap.Solution["w[3]"]-0.944) < eps, "w3 %v", snap.Solution["w[3]"])
	assert.Assert(t, math.Abs(snap.Solution["q[2]"]-0.2) < eps)
}

func TestDistFlowRejectsLoops(t *testing.T) {
	n := feeder()
	n.Branches = append(n.Branches, network.Branch{ID: 3, From: 3, To: 1, R: 0.01, X: 0.02, Rate: 2})
	m := makeModel(t, n, dims(t, 1, 1, 1), nil)

	_, err := Build(m, RadialLinearDistFlow, Options{})
	assert.ErrorContains(t, err, "not radial")
}

func TestDistFlowCandidateFeeder(t *testing.T) {
	n := feeder()
	n.Branches = n.Branches[:1]
	n.NeBranches = []network.NeBranch{{
		Branch:     network.Branch{ID: 1, From: 2, To: 3, R: 0.01, X: 0.02, Rate: 2},
		Investment: network.Investment{Cost: 50},
	}}
	m := makeModel(t, n, dims(t, 2, 1, 1), nil)

	pl, err := Build(m, RadialLinearDistFlow, Options{})
	assert.NilError(t, err)
	r := solve(t, pl)
	assert.Equal(t, r.Status, solver.Optimal)
	// the lateral is cheaper than two hours of curtailment
	assert.Assert(t, math.Abs(r.Objective-52) < eps, "objective %v", r.Objective)
}

func coupledPair(t *testing.T, qd float64) (*multinetwork.Model, *multinetwork.Model) {
	tn := &network.Network{
		Name:     "transmission",
		Buses:    []network.Bus{{ID: 1, Ref: true}, {ID: 2}},
		Branches: []network.Branch{{ID: 1, From: 1, To: 2, X: 0.1, Rate: 1}},
		Gens:     []network.Gen{{ID: 1, Bus: 1, PMax: 5, Cost: 2}},
	}
	dn := &network.Network{
		Name:     "distribution",
		TBus:     2,
		Buses:    []network.Bus{{ID: 1, Ref: true}, {ID: 2}},
		Branches: []network.Branch{{ID: 1, From: 1, To: 2, R: 0.01, X: 0.01, Rate: 1}},
		Loads:    []network.Load{{ID: 1, Bus: 2, PD: 0.5, QD: qd, CostCurtailment: 1000}},
	}
	return makeModel(t, tn, dims(t, 1, 1, 1), nil), makeModel(t, dn, dims(t, 1, 1, 1), nil)
}

func TestBuildCoupled(t *testing.T) {
	tm, dm := coupledPair(t, 0)
	c, err := coupling.Couple(tm, []*multinetwork.Model{dm})
	assert.NilError(t, err)

	pl, err := BuildCoupled(c, MeshedLinearDC, RadialLinearDistFlow, Options{})
	assert.NilError(t, err)
	assert.Equal(t, len(pl.Exchanges), 1)
	_, ok := pl.Problem.Lookup("t/pg[1]@s1y1h1")
	assert.Assert(t, ok)
	_, ok = pl.Problem.Lookup("d1/w[2]@s1y1h1")
	assert.Assert(t, ok)

	r := solve(t, pl)
	assert.Equal(t, r.Status, solver.Optimal)
	assert.Assert(t, math.Abs(r.Objective-1) < eps, "objective %v", r.Objective)
	assert.Assert(t, math.Abs(r.Values[pl.Exchanges[0].P]-0.5) < eps)

	assert.NilError(t, pl.Attach(r.Values))
	snap, _ := dm.Snapshot(multinetwork.Key{Scenario: 1, Year: 1, Hour: 1})
	assert.Assert(t, math.Abs(snap.Solution["p[1]"]-0.5) < eps)
	assert.Assert(t, math.Abs(snap.Solution["pexch[2]"]-0.5) < eps, "pexch %v", snap.Solution["pexch[2]"])
	_, ok = snap.Solution["qexch[2]"]
	assert.Assert(t, ok)
}

func TestBuildCoupledReactiveLoad(t *testing.T) {
	tm, dm := coupledPair(t, 0.1)
	c, err := coupling.Couple(tm, []*multinetwork.Model{dm}, coupling.WithExchangeLimit(2))
	assert.NilError(t, err)

	pl, err := BuildCoupled(c, MeshedLinearDC, RadialLinearDistFlow, Options{})
	assert.NilError(t, err)
	assert.Equal(t, len(pl.Exchanges), 1)
	ex := pl.Exchanges[0]
	assert.Assert(t, ex.Q >= 0)
	q, ok := pl.Problem.Lookup(coupling.ReactiveExchangeName("d1", 2, ex.Key))
	assert.Assert(t, ok)
	assert.Equal(t, ex.Q, q)
	assert.Equal(t, pl.Problem.Var(q).Upper, 2.0)

	r := solve(t, pl)
	assert.Equal(t, r.Status, solver.Optimal)
	// the reactive load is served over the boundary instead of being curtailed
	assert.Assert(t, math.Abs(r.Objective-1) < eps, "objective %v", r.Objective)
	assert.Assert(t, math.Abs(r.Values[ex.Q]-0.1) < eps, "qexch %v", r.Values[ex.Q])

	assert.NilError(t, pl.Attach(r.Values))
	snap, _ := dm.Snapshot(ex.Key)
	assert.Assert(t, math.Abs(snap.Solution["qexch[2]"]-0.1) < eps)
	assert.Assert(t, math.Abs(snap.Solution["q[1]"]-0.1) < eps, "q1 %v", snap.Solution["q[1]"])
}
