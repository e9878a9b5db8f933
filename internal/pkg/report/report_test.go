package report

import (
	"context"
	"strings"
	"testing"

	"github.com/ohowland/gridplan/internal/pkg/builder"
	"github.com/ohowland/gridplan/internal/pkg/dimension"
	"github.com/ohowland/gridplan/internal/pkg/multinetwork"
	"github.com/ohowland/gridplan/internal/pkg/network"
	"github.com/ohowland/gridplan/internal/pkg/solver"
	"github.com/ohowland/gridplan/internal/pkg/solver/lpsolver"
	"github.com/shopspring/decimal"
	"gotest.tools/v3/assert"
)

func solvedPlan(t *testing.T) (*builder.Plan, []float64) {
	t.Helper()
	r := dimension.NewRegistry()
	assert.NilError(t, r.Add(dimension.Hour, 2, nil))
	assert.NilError(t, r.Add(dimension.Year, 1, nil))
	assert.NilError(t, r.AddEntries(dimension.Scenario, map[int]dimension.Metadata{
		1: {dimension.ProbabilityKey: 0.25},
		2: {dimension.ProbabilityKey: 0.75},
	}, nil))
	n := &network.Network{
		Name:       "twobus",
		Dimensions: r,
		Buses:      []network.Bus{{ID: 1, Ref: true}, {ID: 2}},
		Branches:   []network.Branch{{ID: 1, From: 1, To: 2, X: 0.1, Rate: 1}},
		NeBranches: []network.NeBranch{{
			Branch:     network.Branch{ID: 1, From: 1, To: 2, X: 0.1, Rate: 1},
			Investment: network.Investment{Cost: 100},
		}},
		Gens:  []network.Gen{{ID: 1, Bus: 1, PMax: 5, Cost: 1}},
		Loads: []network.Load{{ID: 1, Bus: 2, PD: 1.5, CostCurtailment: 1000}},
	}
	m, err := multinetwork.Make(n, nil)
	assert.NilError(t, err)
	pl, err := builder.Build(m, builder.MeshedLinearDC, builder.Options{})
	assert.NilError(t, err)
	res, err := lpsolver.New().Solve(context.Background(), pl.Problem, solver.Options{})
	assert.NilError(t, err)
	assert.Equal(t, res.Status, solver.Optimal)
	return pl, res.Values
}

func TestSummarize(t *testing.T) {
	pl, values := solvedPlan(t)
	s := Summarize(pl, values)

	assert.Assert(t, s.Investment.Equal(decimal.NewFromInt(100)), "investment %s", s.Investment)
	assert.Assert(t, s.Operation.Equal(decimal.NewFromInt(3)), "operation %s", s.Operation)
	assert.Assert(t, s.Objective.Equal(decimal.NewFromInt(103)), "objective %s", s.Objective)
	assert.Assert(t, s.ByScenario[1].Equal(decimal.RequireFromString("0.75")))
	assert.Assert(t, s.ByScenario[2].Equal(decimal.RequireFromString("2.25")))
	assert.Equal(t, len(s.Built), 1)
	assert.Equal(t, s.Built[0].Candidate, "ne_branch[1]")
}

func TestWrite(t *testing.T) {
	pl, values := solvedPlan(t)
	var sb strings.Builder
	assert.NilError(t, Summarize(pl, values).Write(&sb))
	out := sb.String()
	assert.Assert(t, strings.Contains(out, "objective   103.00"), out)
	assert.Assert(t, strings.Contains(out, "scenario 2 operation 2.25"), out)
}
