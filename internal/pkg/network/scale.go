package network

import "math"

// ScaleOptions parametrize ScaleCosts.
type ScaleOptions struct {
	// HoursPerYear is the number of hours one planning year represents.
	HoursPerYear float64
	// ModelledHours is the number of hours per year present in the model.
	ModelledHours int
	// Horizon is the planning horizon in years used to annualize candidate costs.
	Horizon int
}

// ScaleCosts rescales costs in place. Operational costs are weighted so the modelled hours
// stand for a full year; candidate costs are reduced to the share of their lifetime that
// falls within the planning horizon.
func (n *Network) ScaleCosts(o ScaleOptions) {
	if o.ModelledHours > 0 && o.HoursPerYear > 0 {
		w := o.HoursPerYear / float64(o.ModelledHours)
		for i := range n.Gens {
			n.Gens[i].Cost *= w
			n.Gens[i].EmissionCost *= w
		}
		for i := range n.Loads {
			l := &n.Loads[i]
			l.CostShiftUp *= w
			l.CostShiftDown *= w
			l.CostReduction *= w
			l.CostCurtailment *= w
		}
	}
	if o.Horizon <= 0 {
		return
	}
	share := func(inv *Investment) {
		if inv.Lifetime <= 0 {
			return
		}
		f := math.Min(1, float64(o.Horizon)/float64(inv.Lifetime))
		inv.Cost *= f
		for i := range inv.YearCosts {
			inv.YearCosts[i] *= f
		}
	}
	for i := range n.NeBranches {
		share(&n.NeBranches[i].Investment)
	}
	for i := range n.NeDCBranches {
		share(&n.NeDCBranches[i].Investment)
	}
	for i := range n.NeConverters {
		share(&n.NeConverters[i].Investment)
	}
	for i := range n.NeStorage {
		share(&n.NeStorage[i].Investment)
	}
	for i := range n.Loads {
		if n.Loads[i].FlexCandidate != nil {
			share(n.Loads[i].FlexCandidate)
		}
	}
}
