package builder

import (
	"fmt"

	"github.com/ohowland/gridplan/internal/pkg/candidate"
	"github.com/ohowland/gridplan/internal/pkg/multinetwork"
	"github.com/ohowland/gridplan/internal/pkg/network"
	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
)

// investments adds one built-by indicator per candidate and year. z[y] is 1 when the
// candidate exists in year y; z[y] >= z[y-1] keeps built candidates built, and years before
// the candidate is available are fixed to 0. The first build in year y is charged
// sf(y)*cost(y), expressed on the indicators as sf(y)*cost(y)*(z[y] - z[y-1]).
func (b *builder) investments(ns string, m *multinetwork.Model) map[candidate.ID][]int {
	t := m.Tracker
	years := m.Years()
	z := make(map[candidate.ID][]int)

	for _, c := range t.Candidates() {
		if c.ID.Kind == network.KindFlexLoad && b.opts.ProblemType == StorageTNEP {
			continue
		}
		local := fmt.Sprintf("z_%s[%d]", c.ID.Kind, c.ID.Index)
		vars := make([]int, years)
		for y := 1; y <= years; y++ {
			ub := 0.0
			if t.Active(c.ID, y) {
				ub = 1
			}
			b.pad()
			vars[y-1] = b.p.AddVariable(opt.Var{
				Name:  fmt.Sprintf("%s%s@y%d", prefix(ns), local, y),
				Kind:  opt.Binary,
				Upper: ub,
			})
			b.plan.owners = append(b.plan.owners, owner{namespace: ns, local: local, year: y, all: true})
			if y > 1 {
				b.row(fmt.Sprintf("%syearlink_%s[%d]@y%d", prefix(ns), c.ID.Kind, c.ID.Index, y),
					opt.Slot{}, opt.GE, 0,
					opt.Term{Var: vars[y-1], Coef: 1}, opt.Term{Var: vars[y-2], Coef: -1})
			}
		}
		for y := 1; y <= years; y++ {
			cost := m.Dimensions.ScaleFactor(y) * t.Cost(c.ID, y)
			b.p.AddObjective(vars[y-1], cost)
			if y > 1 {
				b.p.AddObjective(vars[y-2], -cost)
			}
			b.plan.Investments = append(b.plan.Investments, Investment{
				Var:       vars[y-1],
				Namespace: ns,
				Candidate: c.ID,
				Year:      y,
				Cost:      cost,
			})
		}
		z[c.ID] = vars
	}
	return z
}
