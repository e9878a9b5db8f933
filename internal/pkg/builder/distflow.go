package builder

import (
	"fmt"
	"math"

	"github.com/ohowland/gridplan/internal/pkg/network"
	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
)

// distFlowEmitter is the lossless linearized DistFlow model of a radial network. Bus state
// is the squared voltage magnitude w; along a branch from i to j,
// w_j = w_i - 2(r p + x q). Apparent power limits use an octagon approximation.
type distFlowEmitter struct {
	checked map[string]bool
}

func (*distFlowEmitter) reactive() bool {
	return true
}

func (e *distFlowEmitter) variables(sv *snapshotVars) error {
	if !e.checked[sv.m.Name] {
		if err := radial(sv.net); err != nil {
			return fmt.Errorf("%s: %w", sv.m.Name, err)
		}
		e.checked[sv.m.Name] = true
	}
	ref, ok := sv.net.RefBus()
	if !ok {
		return fmt.Errorf("%s: no root bus", sv.m.Name)
	}
	for _, bus := range sv.net.Buses {
		lo, hi := sv.voltageLimits(bus)
		if bus.ID == ref.ID {
			vref := bus.VRef
			if vref == 0 {
				vref = 1
			}
			lo, hi = vref*vref, vref*vref
		}
		sv.bus[bus.ID] = sv.v(fmt.Sprintf("w[%d]", bus.ID), lo, hi)
	}

	for _, br := range sv.net.Branches {
		lo, hi := bound(br.Rate)
		p := sv.v(fmt.Sprintf("p[%d]", br.ID), lo, hi)
		q := sv.v(fmt.Sprintf("q[%d]", br.ID), lo, hi)
		sv.branches = append(sv.branches, branchFlow{branch: br, name: fmt.Sprintf("branch[%d]", br.ID), p: p, q: q, z: -1})
		sv.flow(br, p, q)
	}
	for _, br := range sv.net.NeBranches {
		z, ok := sv.built(network.KindACBranch, br.ID)
		if !ok {
			continue
		}
		if br.Rate <= 0 {
			return fmt.Errorf("%s: candidate branch %d needs a positive rate", sv.m.Name, br.ID)
		}
		p := sv.v(fmt.Sprintf("ne_p[%d]", br.ID), -br.Rate, br.Rate)
		q := sv.v(fmt.Sprintf("ne_q[%d]", br.ID), -br.Rate, br.Rate)
		sv.branches = append(sv.branches, branchFlow{branch: br.Branch, name: fmt.Sprintf("ne_branch[%d]", br.ID), p: p, q: q, z: z})
		sv.flow(br.Branch, p, q)
	}
	return nil
}

func (sv *snapshotVars) flow(br network.Branch, p, q int) {
	sv.injectP(br.From, p, -1)
	sv.injectP(br.To, p, 1)
	sv.injectQ(br.From, q, -1)
	sv.injectQ(br.To, q, 1)
}

func (sv *snapshotVars) voltageLimits(bus network.Bus) (float64, float64) {
	vmin, vmax := bus.VMin, bus.VMax
	if vmax <= 0 {
		vmin, vmax = sv.b.opts.VMin, sv.b.opts.VMax
	}
	return vmin * vmin, vmax * vmax
}

func (*distFlowEmitter) constraints(sv *snapshotVars) {
	for _, bf := range sv.branches {
		br := bf.branch
		drop := []opt.Term{
			{Var: sv.bus[br.To], Coef: 1},
			{Var: sv.bus[br.From], Coef: -1},
			{Var: bf.p, Coef: 2 * br.R},
			{Var: bf.q, Coef: 2 * br.X},
		}

		if bf.z < 0 {
			sv.row(sv.name("vdrop_%s", bf.name), opt.EQ, 0, drop...)
			if br.Rate > 0 {
				sv.octagon(bf, br.Rate*math.Sqrt2, -1)
			}
			continue
		}

		from, _ := sv.net.Bus(br.From)
		to, _ := sv.net.Bus(br.To)
		loF, hiF := sv.voltageLimits(from)
		loT, hiT := sv.voltageLimits(to)
		bigM := math.Max(hiF, hiT) - math.Min(loF, loT)
		sv.row(sv.name("vdrop_ub_%s", bf.name), opt.LE, bigM, append(drop, opt.Term{Var: bf.z, Coef: bigM})...)
		sv.row(sv.name("vdrop_lb_%s", bf.name), opt.GE, -bigM, append(drop, opt.Term{Var: bf.z, Coef: -bigM})...)

		for _, v := range []struct {
			tag string
			x   int
		}{{"p", bf.p}, {"q", bf.q}} {
			sv.capped(sv.name("rate_%s_to_%s", v.tag, bf.name), v.x, bf.z, br.Rate)
			sv.row(sv.name("rate_%s_fr_%s", v.tag, bf.name), opt.GE, 0,
				opt.Term{Var: v.x, Coef: 1}, opt.Term{Var: bf.z, Coef: br.Rate})
		}
		sv.octagon(bf, br.Rate*math.Sqrt2, bf.z)
	}
}

// octagon adds |p| + |q| <= limit, scaled by z when z >= 0.
func (sv *snapshotVars) octagon(bf branchFlow, limit float64, z int) {
	signs := [][2]float64{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	for i, s := range signs {
		terms := []opt.Term{{Var: bf.p, Coef: s[0]}, {Var: bf.q, Coef: s[1]}}
		rhs := limit
		if z >= 0 {
			terms = append(terms, opt.Term{Var: z, Coef: -limit})
			rhs = 0
		}
		sv.row(sv.name("oct%d_%s", i, bf.name), opt.LE, rhs, terms...)
	}
}

// radial checks that the existing branches form a forest.
func radial(n *network.Network) error {
	parent := make(map[int]int)
	var find func(int) int
	find = func(i int) int {
		if p, ok := parent[i]; ok && p != i {
			parent[i] = find(p)
			return parent[i]
		}
		parent[i] = i
		return i
	}
	for _, br := range n.Branches {
		a, b := find(br.From), find(br.To)
		if a == b {
			return fmt.Errorf("not radial: branch %d closes a loop", br.ID)
		}
		parent[a] = b
	}
	return nil
}
