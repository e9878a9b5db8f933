/*
report.go Cost rollups of a solved plan. Amounts are decimals rounded to cents so that totals
printed, stored and compared across runs agree.
*/

package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/ohowland/gridplan/internal/pkg/builder"
	"github.com/shopspring/decimal"
)

// Places is the number of decimal places kept in every amount.
const Places = 2

// Line is one investment decision.
type Line struct {
	Namespace string          `json:"Namespace"`
	Candidate string          `json:"Candidate"`
	Year      int             `json:"Year"`
	Cost      decimal.Decimal `json:"Cost"`
}

// Summary splits the objective of a plan into investment and operation.
type Summary struct {
	Objective  decimal.Decimal         `json:"Objective"`
	Investment decimal.Decimal         `json:"Investment"`
	Operation  decimal.Decimal         `json:"Operation"`
	ByYear     map[int]decimal.Decimal `json:"ByYear"`
	// ByScenario holds the probability weighted operational cost of each scenario.
	ByScenario map[int]decimal.Decimal `json:"ByScenario"`
	Built      []Line                  `json:"Built"`
}

// Summarize rolls up the costs of pl at values.
func Summarize(pl *builder.Plan, values []float64) Summary {
	s := Summary{
		Investment: decimal.Zero,
		ByYear:     make(map[int]decimal.Decimal),
		ByScenario: make(map[int]decimal.Decimal),
	}
	for _, inv := range pl.Built(values) {
		cost := round(inv.Cost)
		s.Built = append(s.Built, Line{
			Namespace: inv.Namespace,
			Candidate: inv.Candidate.String(),
			Year:      inv.Year,
			Cost:      cost,
		})
		s.Investment = s.Investment.Add(cost)
		s.ByYear[inv.Year] = s.ByYear[inv.Year].Add(cost)
	}

	p := pl.Problem
	cost := p.CostCoefficients()
	weighted := make(map[int]float64)
	for _, v := range p.Vars() {
		if !v.Slot.FirstStage() && cost[v.Index] != 0 {
			weighted[v.Slot.Scenario] += cost[v.Index] * values[v.Index]
		}
	}
	s.Operation = decimal.Zero
	for sc, c := range weighted {
		s.ByScenario[sc] = round(c)
		s.Operation = s.Operation.Add(s.ByScenario[sc])
	}
	s.Objective = round(p.Evaluate(values))
	return s
}

// Write prints s as a plain text table.
func (s Summary) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "objective   %s\ninvestment  %s\noperation   %s\n",
		s.Objective.StringFixed(Places), s.Investment.StringFixed(Places), s.Operation.StringFixed(Places)); err != nil {
		return err
	}
	for _, l := range s.Built {
		ns := l.Namespace
		if ns == "" {
			ns = "-"
		}
		if _, err := fmt.Fprintf(w, "  build %-4s %-20s year %d  %s\n", ns, l.Candidate, l.Year, l.Cost.StringFixed(Places)); err != nil {
			return err
		}
	}
	scenarios := make([]int, 0, len(s.ByScenario))
	for sc := range s.ByScenario {
		scenarios = append(scenarios, sc)
	}
	sort.Ints(scenarios)
	for _, sc := range scenarios {
		if _, err := fmt.Fprintf(w, "  scenario %d operation %s\n", sc, s.ByScenario[sc].StringFixed(Places)); err != nil {
			return err
		}
	}
	return nil
}

func round(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(Places)
}
