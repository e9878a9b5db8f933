package builder

import (
	"fmt"
	"math"

	"github.com/ohowland/gridplan/internal/pkg/network"
	opt "github.com/ohowland/gridplan/internal/pkg/optimize"
)

// dcEmitter is the angle based linear DC power flow: p = (theta_from - theta_to) / x.
type dcEmitter struct{}

func (dcEmitter) reactive() bool {
	return false
}

func (dcEmitter) variables(sv *snapshotVars) error {
	ref, ok := sv.net.RefBus()
	if !ok {
		return fmt.Errorf("%s: no reference bus", sv.m.Name)
	}
	a := sv.b.opts.AngleBound
	for _, bus := range sv.net.Buses {
		lo, hi := -a, a
		if bus.ID == ref.ID {
			lo, hi = 0, 0
		}
		sv.bus[bus.ID] = sv.v(fmt.Sprintf("va[%d]", bus.ID), lo, hi)
	}

	for _, br := range sv.net.Branches {
		if br.X == 0 {
			return fmt.Errorf("%s: branch %d has zero reactance", sv.m.Name, br.ID)
		}
		lo, hi := bound(br.Rate)
		f := sv.v(fmt.Sprintf("p[%d]", br.ID), lo, hi)
		sv.branches = append(sv.branches, branchFlow{branch: br, name: fmt.Sprintf("branch[%d]", br.ID), p: f, q: -1, z: -1})
		sv.injectP(br.From, f, -1)
		sv.injectP(br.To, f, 1)
	}
	for _, br := range sv.net.NeBranches {
		z, ok := sv.built(network.KindACBranch, br.ID)
		if !ok {
			continue
		}
		if br.X == 0 || br.Rate <= 0 {
			return fmt.Errorf("%s: candidate branch %d needs a reactance and a positive rate", sv.m.Name, br.ID)
		}
		f := sv.v(fmt.Sprintf("ne_p[%d]", br.ID), -br.Rate, br.Rate)
		sv.branches = append(sv.branches, branchFlow{branch: br.Branch, name: fmt.Sprintf("ne_branch[%d]", br.ID), p: f, q: -1, z: z})
		sv.injectP(br.From, f, -1)
		sv.injectP(br.To, f, 1)
	}
	return nil
}

// constraints adds Ohm's law for every branch. Candidate branches relax it by
// M = 2*AngleBound/|x| when not built and carry no flow.
func (dcEmitter) constraints(sv *snapshotVars) {
	for _, bf := range sv.branches {
		br := bf.branch
		terms := []opt.Term{
			{Var: bf.p, Coef: 1},
			{Var: sv.bus[br.From], Coef: -1 / br.X},
			{Var: sv.bus[br.To], Coef: 1 / br.X},
		}
		if bf.z < 0 {
			sv.row(sv.name("ohm_%s", bf.name), opt.EQ, 0, terms...)
			continue
		}
		bigM := 2 * sv.b.opts.AngleBound / math.Abs(br.X)
		sv.row(sv.name("ohm_ub_%s", bf.name), opt.LE, bigM, append(terms, opt.Term{Var: bf.z, Coef: bigM})...)
		sv.row(sv.name("ohm_lb_%s", bf.name), opt.GE, -bigM, append(terms, opt.Term{Var: bf.z, Coef: -bigM})...)
		sv.capped(sv.name("rate_to_%s", bf.name), bf.p, bf.z, br.Rate)
		sv.row(sv.name("rate_fr_%s", bf.name), opt.GE, 0,
			opt.Term{Var: bf.p, Coef: 1}, opt.Term{Var: bf.z, Coef: br.Rate})
	}
}
