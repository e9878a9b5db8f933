/*
candidate.go Lifecycle tracking of investment candidates across planning years. A candidate
available in some year stays available, in the same table row and with the same non-cost
parameters, in every later year. The tracker checks this once when a model is assembled.
*/

package candidate

import (
	"fmt"
	"reflect"

	"github.com/ohowland/gridplan/internal/pkg/network"
)

// ID identifies a candidate by class and table id.
type ID struct {
	Kind  network.CandidateKind
	Index int
}

func (id ID) String() string {
	return fmt.Sprintf("%s[%d]", id.Kind, id.Index)
}

// Candidate is one tracked investment candidate.
type Candidate struct {
	ID        ID
	Row       int
	FirstYear int
	// Costs holds the investment cost per year, Costs[y-1] for year y. Years before
	// FirstYear hold 0.
	Costs  []float64
	Params interface{}
}

// ConsistencyError reports a candidate that breaks the year-monotonic lifecycle.
type ConsistencyError struct {
	Candidate ID
	Year      int
	Reason    string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("candidate %s in year %d: %s", e.Candidate, e.Year, e.Reason)
}

// Tracker answers lifecycle questions for the candidates of one network.
type Tracker struct {
	years int
	byID  map[ID]*Candidate
	order []ID
}

// NewTracker validates the candidate tables of the per-year networks, years[y-1] being the
// network of year y.
func NewTracker(years []*network.Network) (*Tracker, error) {
	t := &Tracker{years: len(years), byID: make(map[ID]*Candidate)}
	present := make(map[ID][]bool)

	for i, n := range years {
		y := i + 1
		for _, row := range n.CandidateRows() {
			id := ID{row.Kind, row.ID}
			first := row.Investment.FirstYear
			if first < 1 {
				first = 1
			}
			if y < first {
				continue
			}

			c, seen := t.byID[id]
			if !seen {
				c = &Candidate{
					ID:        id,
					Row:       row.Row,
					FirstYear: y,
					Costs:     make([]float64, len(years)),
					Params:    row.Params,
				}
				t.byID[id] = c
				t.order = append(t.order, id)
				present[id] = make([]bool, len(years))
			} else {
				if present[id][i] {
					return nil, &ConsistencyError{id, y, "listed twice"}
				}
				if c.Row != row.Row {
					return nil, &ConsistencyError{id, y, fmt.Sprintf("moved from row %d to row %d", c.Row, row.Row)}
				}
				if !reflect.DeepEqual(c.Params, row.Params) {
					return nil, &ConsistencyError{id, y, "parameters differ from first available year"}
				}
			}
			present[id][i] = true
			c.Costs[i] = row.Investment.CostIn(y)
		}
	}

	for _, id := range t.order {
		c := t.byID[id]
		for y := c.FirstYear; y <= t.years; y++ {
			if !present[id][y-1] {
				return nil, &ConsistencyError{id, y, fmt.Sprintf("available from year %d but missing", c.FirstYear)}
			}
		}
	}
	return t, nil
}

// Years returns the number of planning years.
func (t *Tracker) Years() int {
	return t.years
}

// Candidates returns the tracked candidates in order of first appearance.
func (t *Tracker) Candidates() []*Candidate {
	out := make([]*Candidate, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Get returns a candidate by id.
func (t *Tracker) Get(id ID) (*Candidate, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Active reports whether the candidate may be built in year y. Once true it stays true for
// all later years of the horizon.
func (t *Tracker) Active(id ID, year int) bool {
	c, ok := t.byID[id]
	return ok && year >= c.FirstYear && year <= t.years
}

// Cost returns the investment cost of the candidate in year y, 0 when it is not active.
func (t *Tracker) Cost(id ID, year int) float64 {
	if !t.Active(id, year) {
		return 0
	}
	return t.byID[id].Costs[year-1]
}
