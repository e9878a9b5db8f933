package network

// CandidateKind names a class of investment candidate.
type CandidateKind string

// Candidate classes.
const (
	KindACBranch  CandidateKind = "ne_branch"
	KindDCBranch  CandidateKind = "ne_branchdc"
	KindConverter CandidateKind = "ne_convdc"
	KindStorage   CandidateKind = "ne_storage"
	KindFlexLoad  CandidateKind = "flex_load"
)

// CandidateRow is one candidate as it appears in a network table.
type CandidateRow struct {
	Kind       CandidateKind
	ID         int
	Row        int
	Investment Investment
	// Params holds the candidate record with every cost field cleared, so two rows with
	// equal Params differ at most in cost.
	Params interface{}
}

// CandidateRows lists every investment candidate in table order.
func (n *Network) CandidateRows() []CandidateRow {
	var rows []CandidateRow
	for i, b := range n.NeBranches {
		p := b
		p.Investment = p.Investment.withoutCost()
		rows = append(rows, CandidateRow{KindACBranch, b.ID, i, b.Investment, p})
	}
	for i, b := range n.NeDCBranches {
		p := b
		p.Investment = p.Investment.withoutCost()
		rows = append(rows, CandidateRow{KindDCBranch, b.ID, i, b.Investment, p})
	}
	for i, c := range n.NeConverters {
		p := c
		p.Investment = p.Investment.withoutCost()
		rows = append(rows, CandidateRow{KindConverter, c.ID, i, c.Investment, p})
	}
	for i, s := range n.NeStorage {
		p := s
		p.Investment = p.Investment.withoutCost()
		rows = append(rows, CandidateRow{KindStorage, s.ID, i, s.Investment, p})
	}
	for i, l := range n.Loads {
		if l.FlexCandidate == nil {
			continue
		}
		p := l
		inv := l.FlexCandidate.withoutCost()
		p.FlexCandidate = &inv
		p.CostShiftUp, p.CostShiftDown, p.CostReduction, p.CostCurtailment = 0, 0, 0, 0
		p.PD, p.QD = 0, 0
		rows = append(rows, CandidateRow{KindFlexLoad, l.ID, i, *l.FlexCandidate, p})
	}
	return rows
}

// SetCandidateCost overwrites the investment cost of one candidate.
func (n *Network) SetCandidateCost(kind CandidateKind, id int, cost float64) bool {
	switch kind {
	case KindACBranch:
		for i := range n.NeBranches {
			if n.NeBranches[i].ID == id {
				n.NeBranches[i].Cost = cost
				return true
			}
		}
	case KindDCBranch:
		for i := range n.NeDCBranches {
			if n.NeDCBranches[i].ID == id {
				n.NeDCBranches[i].Cost = cost
				return true
			}
		}
	case KindConverter:
		for i := range n.NeConverters {
			if n.NeConverters[i].ID == id {
				n.NeConverters[i].Cost = cost
				return true
			}
		}
	case KindStorage:
		for i := range n.NeStorage {
			if n.NeStorage[i].ID == id {
				n.NeStorage[i].Cost = cost
				return true
			}
		}
	case KindFlexLoad:
		for i := range n.Loads {
			if n.Loads[i].ID == id && n.Loads[i].FlexCandidate != nil {
				n.Loads[i].FlexCandidate.Cost = cost
				return true
			}
		}
	}
	return false
}

func (i Investment) withoutCost() Investment {
	i.Cost = 0
	i.YearCosts = nil
	return i
}
