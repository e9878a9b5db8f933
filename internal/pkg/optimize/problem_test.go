package optimize

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

func smallProblem() *Problem {
	p := NewProblem("small")
	z := p.AddVariable(Var{Name: "z", Kind: Binary, Upper: 1})
	x1 := p.AddVariable(Var{Name: "x[1]", Upper: 5, Slot: Slot{1, 1, 1}})
	x2 := p.AddVariable(Var{Name: "x[2]", Upper: 5, Slot: Slot{2, 1, 1}})
	p.AddObjective(z, 10)
	p.AddObjective(x1, 1)
	p.AddObjective(x2, 2)
	p.AddConstraint(Constraint{Name: "link1", Terms: []Term{{x1, 1}, {z, -5}}, Sense: LE, Slot: Slot{1, 1, 1}})
	p.AddConstraint(Constraint{Name: "demand2", Terms: []Term{{x2, 1}}, Sense: GE, RHS: 2, Slot: Slot{2, 1, 1}})
	p.AddConstraint(Constraint{Name: "budget", Terms: []Term{{z, 1}}, Sense: LE, RHS: 1})
	return p
}

func TestAddVariable(t *testing.T) {
	p := smallProblem()
	assert.Equal(t, p.NumVars(), 3)
	i, ok := p.Lookup("x[2]")
	assert.Assert(t, ok)
	assert.Equal(t, i, 2)
	assert.DeepEqual(t, p.Integers(), []int{0})
	assert.DeepEqual(t, p.FirstStage(), []int{0})
	assert.DeepEqual(t, p.CostCoefficients(), []float64{10, 1, 2})
	assert.Equal(t, p.Bounds()[1], [2]float64{0, 5})
}

func TestDuplicateNamePanics(t *testing.T) {
	p := smallProblem()
	defer func() {
		assert.Assert(t, recover() != nil)
	}()
	p.AddVariable(Var{Name: "z"})
}

func TestEvaluateAndViolations(t *testing.T) {
	p := smallProblem()
	x := []float64{1, 3, 2}
	assert.Equal(t, p.Evaluate(x), 17.0)
	assert.Equal(t, len(p.Violations(x, 1e-9)), 0)

	bad := []float64{0.5, 3, 1}
	v := p.Violations(bad, 1e-9)
	joined := strings.Join(v, ";")
	assert.Assert(t, strings.Contains(joined, "not integral"))
	assert.Assert(t, strings.Contains(joined, "link1"))
	assert.Assert(t, strings.Contains(joined, "demand2"))
}

func TestAddTerm(t *testing.T) {
	p := smallProblem()
	row, ok := p.Row("demand2")
	assert.Assert(t, ok)
	p.AddTerm(row, 1, 1)
	assert.Equal(t, len(p.Constraint(row).Terms), 2)
}

func TestFixAndRelaxCopy(t *testing.T) {
	p := smallProblem()
	f := p.Fix(map[int]float64{0: 1})
	assert.Equal(t, f.Var(0).Lower, 1.0)
	assert.Equal(t, p.Var(0).Lower, 0.0)
	assert.Assert(t, f.PID() != p.PID())

	r := p.Relax()
	assert.Equal(t, len(r.Integers()), 0)
	assert.Equal(t, len(p.Integers()), 1)
}

func TestRestrict(t *testing.T) {
	p := smallProblem()
	sub, origin := p.Restrict("s2", func(s Slot) bool { return s.Scenario == 2 })

	assert.DeepEqual(t, origin, []int{0, 2})
	assert.Equal(t, sub.NumConstraints(), 1)
	assert.Equal(t, sub.Constraint(0).Name, "demand2")
	// first stage cost stays with the master
	assert.DeepEqual(t, sub.CostCoefficients(), []float64{0, 2})
}

func TestWriteLP(t *testing.T) {
	p := smallProblem()
	p.AddVariable(Var{Name: "free", Lower: math.Inf(-1), Upper: math.Inf(1), Slot: Slot{1, 1, 1}})

	var buf bytes.Buffer
	assert.NilError(t, p.WriteLP(&buf))
	out := buf.String()
	assert.Assert(t, strings.HasPrefix(out, "\\ small\nMinimize\n"))
	assert.Assert(t, strings.Contains(out, "x(1)"))
	assert.Assert(t, strings.Contains(out, " free free\n"))
	assert.Assert(t, strings.Contains(out, "Binaries\n z\n"))
	assert.Assert(t, strings.HasSuffix(out, "End\n"))
}
