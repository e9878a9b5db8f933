/*
timeseries.go Time series input and the binder that writes series values into network
snapshots. Series names address one field of one component: "<component>/<id>/<field>",
e.g. "load/3/pd" or "gen/1/pmax".
*/

package timeseries

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"
	"strconv"
	"strings"

	"github.com/ohowland/gridplan/internal/pkg/network"
)

// Series maps a series name to its ordered values.
type Series map[string][]float64

// Ref is a parsed series name.
type Ref struct {
	Component string
	ID        int
	Field     string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%d/%s", r.Component, r.ID, r.Field)
}

// RefError reports a series name that does not resolve to a network field.
type RefError struct {
	Series string
	Reason string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("series %q: %s", e.Series, e.Reason)
}

var fields = map[string][]string{
	"load":       {"pd", "qd"},
	"gen":        {"pmax", "pmin", "cost"},
	"branch":     {"rate"},
	"storage":    {"inflow", "outflow"},
	"ne_storage": {"inflow", "outflow"},
}

// ParseRef splits a series name into its parts.
func ParseRef(name string) (Ref, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return Ref{}, &RefError{name, "want <component>/<id>/<field>"}
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return Ref{}, &RefError{name, "id is not an integer"}
	}
	allowed, ok := fields[parts[0]]
	if !ok {
		return Ref{}, &RefError{name, fmt.Sprintf("unknown component %q", parts[0])}
	}
	for _, f := range allowed {
		if f == parts[2] {
			return Ref{parts[0], id, parts[2]}, nil
		}
	}
	return Ref{}, &RefError{name, fmt.Sprintf("unknown field %q for %s", parts[2], parts[0])}
}

// Names returns the series names in sorted order.
func (s Series) Names() []string {
	names := make([]string, 0, len(s))
	for k := range s {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Load reads series from a JSON object of name to value array.
func Load(path string) (Series, error) {
	jsonSeries, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := Series{}
	if err := json.Unmarshal(jsonSeries, &s); err != nil {
		return nil, fmt.Errorf("series %s: %w", path, err)
	}
	return s, nil
}

// Binder writes series values into network copies.
type Binder struct {
	hours int
	refs  []boundRef
}

type boundRef struct {
	ref    Ref
	values []float64
}

// NewBinder resolves every series against n. Values are looked up by hour when a series
// has hours entries, and by absolute slot otherwise.
func NewBinder(n *network.Network, s Series, hours int) (*Binder, error) {
	b := &Binder{hours: hours}
	for _, name := range s.Names() {
		ref, err := ParseRef(name)
		if err != nil {
			return nil, err
		}
		if !exists(n, ref) {
			return nil, &RefError{name, fmt.Sprintf("no %s with id %d", ref.Component, ref.ID)}
		}
		b.refs = append(b.refs, boundRef{ref, s[name]})
	}
	return b, nil
}

// Apply overwrites the time-indexed fields of n for one slot. slot is the 0-based position
// of the snapshot in scenario, year, hour order.
func (b *Binder) Apply(n *network.Network, slot, hour int) {
	for _, br := range b.refs {
		var v float64
		switch {
		case len(br.values) == b.hours:
			v = br.values[hour-1]
		case slot < len(br.values):
			v = br.values[slot]
		default:
			continue
		}
		set(n, br.ref, v)
	}
}

func exists(n *network.Network, r Ref) bool {
	switch r.Component {
	case "load":
		for _, l := range n.Loads {
			if l.ID == r.ID {
				return true
			}
		}
	case "gen":
		for _, g := range n.Gens {
			if g.ID == r.ID {
				return true
			}
		}
	case "branch":
		for _, br := range n.Branches {
			if br.ID == r.ID {
				return true
			}
		}
	case "storage":
		for _, s := range n.Storage {
			if s.ID == r.ID {
				return true
			}
		}
	case "ne_storage":
		for _, s := range n.NeStorage {
			if s.ID == r.ID {
				return true
			}
		}
	}
	return false
}

func set(n *network.Network, r Ref, v float64) {
	switch r.Component {
	case "load":
		for i := range n.Loads {
			if n.Loads[i].ID != r.ID {
				continue
			}
			if r.Field == "pd" {
				n.Loads[i].PD = v
			} else {
				n.Loads[i].QD = v
			}
		}
	case "gen":
		for i := range n.Gens {
			if n.Gens[i].ID != r.ID {
				continue
			}
			switch r.Field {
			case "pmax":
				n.Gens[i].PMax = v
			case "pmin":
				n.Gens[i].PMin = v
			case "cost":
				n.Gens[i].Cost = v
			}
		}
	case "branch":
		for i := range n.Branches {
			if n.Branches[i].ID == r.ID {
				n.Branches[i].Rate = v
			}
		}
	case "storage":
		for i := range n.Storage {
			if n.Storage[i].ID == r.ID {
				setFlow(&n.Storage[i], r.Field, v)
			}
		}
	case "ne_storage":
		for i := range n.NeStorage {
			if n.NeStorage[i].ID == r.ID {
				setFlow(&n.NeStorage[i].Storage, r.Field, v)
			}
		}
	}
}

func setFlow(s *network.Storage, field string, v float64) {
	if field == "inflow" {
		s.Inflow = v
	} else {
		s.Outflow = v
	}
}
