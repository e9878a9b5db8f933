package network

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func loadCase(t *testing.T) *Network {
	t.Helper()
	n, err := LoadCase("testdata/case3.json")
	assert.NilError(t, err)
	return n
}

func TestLoadCase(t *testing.T) {
	n := loadCase(t)
	assert.Equal(t, n.Name, "case3")
	assert.Equal(t, len(n.Buses), 3)
	assert.Equal(t, n.NeBranches[0].CostIn(1), 100.0)
	assert.Equal(t, n.NeBranches[0].CostIn(2), 90.0)
	assert.Equal(t, n.NeBranches[0].CostIn(3), 100.0)

	ref, ok := n.RefBus()
	assert.Assert(t, ok)
	assert.Equal(t, ref.ID, 1)
}

func TestFormatVersionGate(t *testing.T) {
	assert.NilError(t, CheckFormat("1.0.0"))
	assert.NilError(t, CheckFormat("1.9"))
	assert.ErrorContains(t, CheckFormat("2.0.0"), "not in")
	assert.ErrorContains(t, CheckFormat(""), "missing FormatVersion")
	assert.Assert(t, CheckFormat("one") != nil)
}

func TestValidateUnknownBus(t *testing.T) {
	n := loadCase(t)
	n.Gens[0].Bus = 42
	err := n.Validate()

	var vErr *ValidationError
	assert.Assert(t, errors.As(err, &vErr))
	assert.Equal(t, vErr.Component, "gen")
	assert.Equal(t, vErr.ID, 1)
}

func TestValidateDuplicateBranch(t *testing.T) {
	n := loadCase(t)
	n.Branches[1].ID = 1
	assert.ErrorContains(t, n.Validate(), "duplicate id")
}

func TestCloneIsDeep(t *testing.T) {
	n := loadCase(t)
	c := n.Clone()
	c.Loads[0].PD = 9
	c.NeBranches[0].YearCosts[0] = 1
	c.Loads[0].FlexCandidate.Cost = 1

	assert.Equal(t, n.Loads[0].PD, 1.2)
	assert.Equal(t, n.NeBranches[0].YearCosts[0], 100.0)
	assert.Equal(t, n.Loads[0].FlexCandidate.Cost, 20.0)
}

func TestCandidateRows(t *testing.T) {
	n := loadCase(t)
	rows := n.CandidateRows()
	assert.Equal(t, len(rows), 3)

	kinds := map[CandidateKind]int{}
	for _, r := range rows {
		kinds[r.Kind] = r.ID
	}
	assert.Equal(t, kinds[KindACBranch], 1)
	assert.Equal(t, kinds[KindStorage], 1)
	assert.Equal(t, kinds[KindFlexLoad], 1)

	// cost differences do not change the parameter fingerprint
	c := n.Clone()
	c.NeBranches[0].Cost = 7
	c.NeBranches[0].YearCosts = []float64{1, 2}
	assert.DeepEqual(t, c.CandidateRows()[0].Params, rows[0].Params)
}

func TestSetCandidateCost(t *testing.T) {
	n := loadCase(t)
	assert.Assert(t, n.SetCandidateCost(KindStorage, 1, 75))
	assert.Equal(t, n.NeStorage[0].Cost, 75.0)
	assert.Assert(t, !n.SetCandidateCost(KindDCBranch, 1, 75))
}

func TestScaleCosts(t *testing.T) {
	n := loadCase(t)
	n.ScaleCosts(ScaleOptions{HoursPerYear: 8760, ModelledHours: 24, Horizon: 10})

	assert.Equal(t, n.Gens[0].Cost, 365.0)
	assert.Equal(t, n.Loads[0].CostCurtailment, 365000.0)
	// lifetime 40 within a 10 year horizon keeps a quarter of the cost
	assert.Equal(t, n.NeBranches[0].Cost, 25.0)
	assert.Equal(t, n.NeBranches[0].YearCosts[1], 22.5)
	// no lifetime, no annualization
	assert.Equal(t, n.NeStorage[0].Cost, 50.0)
}
