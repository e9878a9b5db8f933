package lpsolver

import (
	"context"
	"errors"
	"math"
	"time"

	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
	"github.com/ohowland/gridplan/internal/pkg/solver"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// zeroTol treats accumulated coefficients below it as structural zeros.
	zeroTol  = 1e-12
	pivotTol = 1e-9
	feasTol  = 1e-7
	// blandAfter is the run of degenerate pivots after which pricing switches to Bland's rule.
	blandAfter = 20
	// checkEvery pivots the context and deadline are checked.
	checkEvery = 16
)

var (
	errUnbounded  = errors.New("lpsolver: unbounded")
	errTimeLimit  = errors.New("lpsolver: time limit reached")
	errPivotLimit = errors.New("lpsolver: pivot limit reached")
)

// column is one structural column: x[v] = offset[v] + sign*x' with 0 <= x' <= upper.
type column struct {
	v     int
	sign  float64
	upper float64
}

type lpResult struct {
	status    solver.Status
	x         []float64
	objective float64
}

// solveLP solves the continuous relaxation of p under the given bounds with a bounded variable
// primal simplex. Every constraint is one tableau row: LE and GE rows carry a slack, and an
// artificial column is added only where no slack can start basic. Cancellation and the
// deadline are checked while pivoting.
func solveLP(ctx context.Context, p *opt.Problem, lower, upper []float64, tol float64, deadline time.Time) (lpResult, error) {
	nv := p.NumVars()
	obj := p.CostCoefficients()
	offset := make([]float64, nv)
	colsOf := make([][]int, nv)
	var cols []column

	for j := 0; j < nv; j++ {
		lo, hi := lower[j], upper[j]
		switch {
		case lo > hi+1e-9:
			return lpResult{status: solver.Infeasible}, nil
		case !math.IsInf(lo, 0) && !math.IsInf(hi, 0) && hi-lo <= 1e-9:
			offset[j] = lo
		case !math.IsInf(lo, -1):
			offset[j] = lo
			cols = append(cols, column{j, 1, hi - lo})
			colsOf[j] = []int{len(cols) - 1}
		case !math.IsInf(hi, 1):
			offset[j] = hi
			cols = append(cols, column{j, -1, math.Inf(1)})
			colsOf[j] = []int{len(cols) - 1}
		default:
			cols = append(cols, column{j, 1, math.Inf(1)}, column{j, -1, math.Inf(1)})
			colsOf[j] = []int{len(cols) - 2, len(cols) - 1}
		}
	}

	cons := p.Constraints()
	m, ns := len(cons), len(cols)
	coefs := make([][]float64, m)
	rhs := make([]float64, m)
	slack := make([]float64, m)
	needsArtificial := make([]bool, m)
	nslack, nart := 0, 0
	for i, c := range cons {
		coef := make([]float64, ns)
		b := c.RHS
		for _, t := range c.Terms {
			b -= t.Coef * offset[t.Var]
			for _, k := range colsOf[t.Var] {
				coef[k] += t.Coef * cols[k].sign
			}
		}
		for k, a := range coef {
			if math.Abs(a) < zeroTol {
				coef[k] = 0
			}
		}
		switch c.Sense {
		case opt.LE:
			slack[i] = 1
		case opt.GE:
			slack[i] = -1
		}
		if slack[i] != 0 {
			nslack++
		}
		// rows are signed so b >= 0; at b == 0 the slack prefers +1 to start basic
		if b < 0 || (b == 0 && slack[i] < 0) {
			floats.Scale(-1, coef)
			b, slack[i] = -b, -slack[i]
		}
		coefs[i], rhs[i] = coef, b
		if slack[i] <= 0 {
			needsArtificial[i] = true
			nart++
		}
	}

	n := ns + nslack + nart
	t := newTableau(m, n)
	cost := make([]float64, n)
	for k, col := range cols {
		t.upper[k] = col.upper
		cost[k] = obj[col.v] * col.sign
	}
	artificial := make([]bool, n)
	s, a := ns, ns+nslack
	for i := range coefs {
		copy(t.a.RawRowView(i), coefs[i])
		t.beta[i] = rhs[i]
		if slack[i] != 0 {
			t.a.Set(i, s, slack[i])
			if slack[i] > 0 {
				t.setBasic(i, s)
			}
			s++
		}
		if needsArtificial[i] {
			t.a.Set(i, a, 1)
			artificial[a] = true
			t.setBasic(i, a)
			a++
		}
	}

	if nart > 0 {
		phase1 := make([]float64, n)
		scale := 1.0
		for j, art := range artificial {
			if art {
				phase1[j] = 1
			}
		}
		for _, b := range rhs {
			scale = math.Max(scale, b)
		}
		t.price(phase1)
		if err := t.run(ctx, deadline, tol); err != nil {
			return lpResult{status: solver.Error}, err
		}
		infeasibility := 0.0
		for i, j := range t.basis {
			if artificial[j] {
				infeasibility += t.beta[i]
			}
		}
		if infeasibility > feasTol*scale {
			return lpResult{status: solver.Infeasible}, nil
		}
		// artificials are pinned at zero; basic ones left over mark redundant rows
		for j, art := range artificial {
			if art {
				t.upper[j] = 0
				if r := t.pos[j]; r >= 0 {
					t.beta[r] = 0
				}
			}
		}
	}

	t.price(cost)
	if err := t.run(ctx, deadline, tol); err != nil {
		if errors.Is(err, errUnbounded) {
			return lpResult{status: solver.Unbounded}, nil
		}
		return lpResult{status: solver.Error}, err
	}

	x := append([]float64(nil), offset...)
	for k, col := range cols {
		x[col.v] += col.sign * t.value(k)
	}
	return lpResult{status: solver.Optimal, x: x, objective: p.Evaluate(x)}, nil
}

// tableau holds B^-1 A for the current basis. Nonbasic columns sit at zero or at their upper
// bound; beta holds the values of the basic ones.
type tableau struct {
	m, n    int
	a       *mat.Dense
	d       []float64
	beta    []float64
	basis   []int
	pos     []int
	upper   []float64
	atUpper []bool
	limit   int
}

func newTableau(m, n int) *tableau {
	t := &tableau{
		m:       m,
		n:       n,
		d:       make([]float64, n),
		beta:    make([]float64, m),
		basis:   make([]int, m),
		pos:     make([]int, n),
		upper:   make([]float64, n),
		atUpper: make([]bool, n),
		limit:   50*(m+n) + 1000,
	}
	if m > 0 && n > 0 {
		t.a = mat.NewDense(m, n, nil)
	}
	for j := range t.pos {
		t.pos[j] = -1
		t.upper[j] = math.Inf(1)
	}
	return t
}

func (t *tableau) setBasic(r, j int) {
	t.basis[r] = j
	t.pos[j] = r
}

func (t *tableau) value(j int) float64 {
	if r := t.pos[j]; r >= 0 {
		return t.beta[r]
	}
	if t.atUpper[j] {
		return t.upper[j]
	}
	return 0
}

// price sets the reduced costs of cost under the current basis.
func (t *tableau) price(cost []float64) {
	copy(t.d, cost)
	for i, j := range t.basis {
		if cb := cost[j]; cb != 0 {
			floats.AddScaled(t.d, -cb, t.a.RawRowView(i))
		}
	}
}

// run pivots until no reduced cost improves the objective by more than tol.
func (t *tableau) run(ctx context.Context, deadline time.Time, tol float64) error {
	degenerate := 0
	for it := 0; ; it++ {
		if it%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				return errTimeLimit
			}
		}
		if it > t.limit {
			return errPivotLimit
		}
		bland := degenerate >= blandAfter
		e, dir := t.entering(tol, bland)
		if e < 0 {
			return nil
		}
		theta, r, toUpper := t.ratio(e, dir, bland)
		if math.IsInf(theta, 1) {
			return errUnbounded
		}
		if theta <= zeroTol {
			degenerate++
		} else {
			degenerate = 0
		}
		t.move(e, dir, theta, r, toUpper)
	}
}

// entering picks the nonbasic column with the steepest improving reduced cost, or the lowest
// index one under Bland's rule. dir is +1 when the column increases from zero and -1 when it
// decreases from its upper bound.
func (t *tableau) entering(tol float64, bland bool) (int, float64) {
	best, dir, score := -1, 0.0, tol
	for j := 0; j < t.n; j++ {
		if t.pos[j] >= 0 || t.upper[j] <= 0 {
			continue
		}
		g, s := -t.d[j], 1.0
		if t.atUpper[j] {
			g, s = t.d[j], -1
		}
		if g <= score {
			continue
		}
		if bland {
			return j, s
		}
		best, dir, score = j, s, g
	}
	return best, dir
}

// ratio returns the step length of column e along dir and the row that blocks it. A row of -1
// means the column reaches its own opposite bound first.
func (t *tableau) ratio(e int, dir float64, bland bool) (float64, int, bool) {
	theta, r, toUpper := t.upper[e], -1, false
	size := 0.0
	for i := 0; i < t.m; i++ {
		alpha := t.a.At(i, e) * dir
		var lim float64
		up := false
		switch {
		case alpha > pivotTol:
			lim = t.beta[i] / alpha
		case alpha < -pivotTol:
			u := t.upper[t.basis[i]]
			if math.IsInf(u, 1) {
				continue
			}
			lim, up = (u-t.beta[i])/-alpha, true
		default:
			continue
		}
		if lim < 0 {
			lim = 0
		}
		abs := math.Abs(alpha)
		tie := r >= 0 && lim <= theta+zeroTol
		if tie {
			if bland {
				tie = t.basis[i] < t.basis[r]
			} else {
				tie = abs > size
			}
		}
		if lim < theta-zeroTol || tie {
			theta, r, toUpper, size = lim, i, up, abs
		}
	}
	return theta, r, toUpper
}

// move steps column e by theta along dir and pivots it into row r, or flips its bound when r
// is -1.
func (t *tableau) move(e int, dir, theta float64, r int, toUpper bool) {
	if theta > 0 {
		for i := 0; i < t.m; i++ {
			if alpha := t.a.At(i, e); alpha != 0 {
				t.beta[i] -= dir * alpha * theta
				t.clamp(i)
			}
		}
	}
	if r < 0 {
		t.atUpper[e] = !t.atUpper[e]
		return
	}
	v := dir * theta
	if t.atUpper[e] {
		v += t.upper[e]
	}
	leave := t.basis[r]
	t.pos[leave] = -1
	t.atUpper[leave] = toUpper
	t.atUpper[e] = false
	t.pivot(r, e)
	t.beta[r] = v
}

// clamp removes drift of a basic value past its bounds.
func (t *tableau) clamp(i int) {
	if t.beta[i] < 0 && t.beta[i] > -feasTol {
		t.beta[i] = 0
	}
	if u := t.upper[t.basis[i]]; t.beta[i] > u && t.beta[i] < u+feasTol {
		t.beta[i] = u
	}
}

func (t *tableau) pivot(r, e int) {
	pr := t.a.RawRowView(r)
	floats.Scale(1/pr[e], pr)
	pr[e] = 1
	for i := 0; i < t.m; i++ {
		if i == r {
			continue
		}
		row := t.a.RawRowView(i)
		if f := row[e]; f != 0 {
			floats.AddScaled(row, -f, pr)
			row[e] = 0
		}
	}
	if f := t.d[e]; f != 0 {
		floats.AddScaled(t.d, -f, pr)
		t.d[e] = 0
	}
	t.setBasic(r, e)
}
