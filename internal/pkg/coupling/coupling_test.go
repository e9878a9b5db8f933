package coupling

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ohowland/gridplan/internal/pkg/dimension"
	"github.com/ohowland/gridplan/internal/pkg/multinetwork"
	"github.com/ohowland/gridplan/internal/pkg/network"
	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
	"gotest.tools/v3/assert"
)

func registry(t *testing.T, hours int) *dimension.Registry {
	t.Helper()
	r := dimension.NewRegistry()
	assert.NilError(t, r.Add(dimension.Hour, hours, nil))
	assert.NilError(t, r.Add(dimension.Year, 1, nil))
	assert.NilError(t, r.AddEntries(dimension.Scenario, map[int]dimension.Metadata{
		1: {dimension.ProbabilityKey: 1.0},
	}, nil))
	return r
}

func model(t *testing.T, n *network.Network, hours int) *multinetwork.Model {
	t.Helper()
	n.Dimensions = registry(t, hours)
	m, err := multinetwork.Make(n, nil)
	assert.NilError(t, err)
	return m
}

func transmission(t *testing.T) *multinetwork.Model {
	return model(t, &network.Network{
		Name:     "transmission",
		Buses:    []network.Bus{{ID: 1, Ref: true}, {ID: 2}, {ID: 3}},
		Branches: []network.Branch{{ID: 1, From: 1, To: 2, X: 0.1}, {ID: 2, From: 1, To: 3, X: 0.1}},
	}, 2)
}

func feeder(t *testing.T, name string, tbus, hours int) *multinetwork.Model {
	return model(t, &network.Network{
		Name:     name,
		TBus:     tbus,
		Buses:    []network.Bus{{ID: 1, Ref: true}, {ID: 2}},
		Branches: []network.Branch{{ID: 1, From: 1, To: 2, R: 0.01, X: 0.01}},
	}, hours)
}

func assertCouplingError(t *testing.T, err error, contains string) {
	t.Helper()
	var cerr *Error
	assert.Assert(t, errors.As(err, &cerr), "got %v", err)
	assert.ErrorContains(t, err, contains)
}

func TestCouple(t *testing.T) {
	c, err := Couple(transmission(t), []*multinetwork.Model{
		feeder(t, "north", 2, 2),
		feeder(t, "south", 3, 2),
	})
	assert.NilError(t, err)
	assert.Equal(t, len(c.Links), 2)
	assert.Equal(t, c.Links[0].Namespace, "d1")
	assert.Equal(t, c.Links[1].Namespace, "d2")
	assert.Equal(t, c.Links[1].TBus, 3)
	assert.Equal(t, c.Links[0].Root, 1)
}

func TestCoupleMissingBoundaryBus(t *testing.T) {
	_, err := Couple(transmission(t), []*multinetwork.Model{feeder(t, "north", 0, 2)})
	assertCouplingError(t, err, "missing boundary bus reference")
}

func TestCoupleUnknownBus(t *testing.T) {
	_, err := Couple(transmission(t), []*multinetwork.Model{feeder(t, "north", 9, 2)})
	assertCouplingError(t, err, "no such bus")
}

func TestCoupleSharedBus(t *testing.T) {
	ds := []*multinetwork.Model{feeder(t, "north", 2, 2), feeder(t, "east", 2, 2)}

	_, err := Couple(transmission(t), ds)
	assertCouplingError(t, err, `bus already used by "north"`)

	c, err := Couple(transmission(t), ds, AllowSharedBus())
	assert.NilError(t, err)
	assert.Equal(t, len(c.Links), 2)
}

func TestCoupleDimensionMismatch(t *testing.T) {
	_, err := Couple(transmission(t), []*multinetwork.Model{feeder(t, "north", 2, 3)})
	assertCouplingError(t, err, "dimensions differ")
}

func TestCoupleNoRoot(t *testing.T) {
	d := model(t, &network.Network{
		Name:  "floating",
		TBus:  2,
		Buses: []network.Bus{{ID: 1}, {ID: 2}},
	}, 2)
	_, err := Couple(transmission(t), []*multinetwork.Model{d})
	assertCouplingError(t, err, "no root")
}

func balanceRow(ns string, k multinetwork.Key, bus int) string {
	return fmt.Sprintf("%s/balance[%d]@%s", ns, bus, k)
}

func TestBind(t *testing.T) {
	tm := transmission(t)
	c, err := Couple(tm, []*multinetwork.Model{feeder(t, "north", 2, 2)}, WithExchangeLimit(4))
	assert.NilError(t, err)

	p := opt.NewProblem("bind")
	for _, k := range tm.Keys() {
		p.AddConstraint(opt.Constraint{Name: balanceRow(TransmissionNamespace, k, 2), Sense: opt.EQ})
		p.AddConstraint(opt.Constraint{Name: balanceRow("d1", k, 1), Sense: opt.EQ})
	}

	exchanges, err := c.Bind(p, Balances{Active: balanceRow})
	assert.NilError(t, err)
	assert.Equal(t, len(exchanges), 2)

	k := multinetwork.Key{Scenario: 1, Year: 1, Hour: 2}
	v, ok := p.Lookup(ExchangeName("d1", 2, k))
	assert.Assert(t, ok)
	assert.Equal(t, exchanges[1], Exchange{Namespace: "d1", TBus: 2, Key: k, P: v, Q: -1})
	assert.Equal(t, p.Var(v).Lower, -4.0)
	assert.Equal(t, p.Var(v).Upper, 4.0)
	assert.Equal(t, p.Var(v).Slot, opt.Slot{Scenario: 1, Year: 1, Hour: 2})

	tRow, _ := p.Row(balanceRow(TransmissionNamespace, k, 2))
	dRow, _ := p.Row(balanceRow("d1", k, 1))
	assert.DeepEqual(t, p.Constraint(tRow).Terms, []opt.Term{{Var: v, Coef: -1}})
	assert.DeepEqual(t, p.Constraint(dRow).Terms, []opt.Term{{Var: v, Coef: 1}})
}

func TestBindMissingBalance(t *testing.T) {
	tm := transmission(t)
	c, err := Couple(tm, []*multinetwork.Model{feeder(t, "north", 2, 2)})
	assert.NilError(t, err)

	_, err = c.Bind(opt.NewProblem("empty"), Balances{Active: balanceRow})
	assertCouplingError(t, err, "no transmission balance")
}

func qbalanceRow(ns string, k multinetwork.Key, bus int) string {
	return fmt.Sprintf("%s/qbalance[%d]@%s", ns, bus, k)
}

func TestBindReactive(t *testing.T) {
	tm := transmission(t)
	c, err := Couple(tm, []*multinetwork.Model{feeder(t, "north", 2, 2)}, WithExchangeLimit(4))
	assert.NilError(t, err)

	// the distribution root carries a reactive balance, the transmission side does not
	p := opt.NewProblem("bind")
	for _, k := range tm.Keys() {
		p.AddConstraint(opt.Constraint{Name: balanceRow(TransmissionNamespace, k, 2), Sense: opt.EQ})
		p.AddConstraint(opt.Constraint{Name: balanceRow("d1", k, 1), Sense: opt.EQ})
		p.AddConstraint(opt.Constraint{Name: qbalanceRow("d1", k, 1), Sense: opt.EQ, RHS: 0.1})
	}

	exchanges, err := c.Bind(p, Balances{Active: balanceRow, Reactive: qbalanceRow})
	assert.NilError(t, err)
	assert.Equal(t, len(exchanges), 2)

	k := multinetwork.Key{Scenario: 1, Year: 1, Hour: 1}
	q, ok := p.Lookup(ReactiveExchangeName("d1", 2, k))
	assert.Assert(t, ok)
	assert.Equal(t, exchanges[0].Q, q)
	assert.Equal(t, p.Var(q).Lower, -4.0)
	assert.Equal(t, p.Var(q).Upper, 4.0)

	dq, _ := p.Row(qbalanceRow("d1", k, 1))
	assert.DeepEqual(t, p.Constraint(dq).Terms, []opt.Term{{Var: q, Coef: 1}})
	tRow, _ := p.Row(balanceRow(TransmissionNamespace, k, 2))
	assert.DeepEqual(t, p.Constraint(tRow).Terms, []opt.Term{{Var: exchanges[0].P, Coef: -1}})
}

func TestCoupleEmptyDistribution(t *testing.T) {
	_, err := Couple(transmission(t), []*multinetwork.Model{feeder(t, "north", 2, 2), nil})
	assertCouplingError(t, err, "distribution 2")
	assertCouplingError(t, err, "empty distribution model")

	_, err = Couple(transmission(t), []*multinetwork.Model{{}})
	assertCouplingError(t, err, "empty distribution model")
}
