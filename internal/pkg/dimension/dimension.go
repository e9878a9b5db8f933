/*
dimension.go Planning dimensions attached to single-network data. A model is indexed along
hour, year and scenario; every coordinate is 1-based.
*/

package dimension

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Name identifies a planning dimension.
type Name string

// Supported planning dimensions.
const (
	Hour     Name = "hour"
	Year     Name = "year"
	Scenario Name = "scenario"
)

// Metadata keys with a defined meaning.
const (
	ProbabilityKey = "probability"
	ScaleFactorKey = "scale_factor"
	MonteCarloKey  = "mc"
)

// ProbabilityTolerance bounds the deviation of the scenario probability sum from 1.
const ProbabilityTolerance = 1e-9

// Metadata holds free-form dimension or entry attributes.
type Metadata map[string]interface{}

// Dimension describes one planning axis.
type Dimension struct {
	Name        Name
	Cardinality int
	Meta        Metadata
	// Entries holds per-coordinate metadata, Entries[i] belongs to coordinate i+1.
	// It is nil when the dimension was declared by cardinality only.
	Entries []Metadata
}

// Error reports a malformed or conflicting dimension declaration.
type Error struct {
	Dimension Name
	Reason    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("dimension %q: %s", e.Dimension, e.Reason)
}

// Registry holds the dimensions declared on a network.
type Registry struct {
	dims map[Name]*Dimension
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{dims: make(map[Name]*Dimension)}
}

// Add declares a dimension by cardinality. Scenarios cannot be declared this way since
// they require per-scenario probabilities; use AddEntries.
func (r *Registry) Add(name Name, cardinality int, meta Metadata) error {
	if name == Scenario {
		return &Error{name, "scenario dimension requires per-scenario entries with a probability"}
	}
	return r.add(&Dimension{Name: name, Cardinality: cardinality, Meta: copyMeta(meta)})
}

// AddEntries declares a dimension from a mapping of coordinate to entry metadata.
// Coordinates must be exactly 1..len(entries).
func (r *Registry) AddEntries(name Name, entries map[int]Metadata, meta Metadata) error {
	n := len(entries)
	list := make([]Metadata, n)
	for k, v := range entries {
		if k < 1 || k > n {
			return &Error{name, fmt.Sprintf("entry %d outside 1..%d", k, n)}
		}
		list[k-1] = copyMeta(v)
	}
	return r.add(&Dimension{Name: name, Cardinality: n, Meta: copyMeta(meta), Entries: list})
}

func (r *Registry) add(d *Dimension) error {
	switch d.Name {
	case Hour, Year, Scenario:
	default:
		return &Error{d.Name, "unknown dimension"}
	}
	if d.Cardinality < 1 {
		return &Error{d.Name, fmt.Sprintf("cardinality must be positive, got %d", d.Cardinality)}
	}
	if prev, ok := r.dims[d.Name]; ok && prev.Cardinality != d.Cardinality {
		return &Error{d.Name, fmt.Sprintf("already declared with cardinality %d, got %d", prev.Cardinality, d.Cardinality)}
	}

	var err error
	switch d.Name {
	case Scenario:
		err = validateScenario(d)
	case Year:
		err = validateYear(d)
	}
	if err != nil {
		return err
	}

	if r.dims == nil {
		r.dims = make(map[Name]*Dimension)
	}
	r.dims[d.Name] = d
	return nil
}

func validateScenario(d *Dimension) error {
	if d.Entries == nil {
		return &Error{d.Name, "missing per-scenario entries"}
	}
	sum := 0.0
	for i, e := range d.Entries {
		raw, ok := e[ProbabilityKey]
		if !ok {
			return &Error{d.Name, fmt.Sprintf("scenario %d: missing %q", i+1, ProbabilityKey)}
		}
		p, ok := toFloat(raw)
		if !ok {
			return &Error{d.Name, fmt.Sprintf("scenario %d: %q is not numeric", i+1, ProbabilityKey)}
		}
		if p < 0 || math.IsNaN(p) {
			return &Error{d.Name, fmt.Sprintf("scenario %d: negative probability %v", i+1, p)}
		}
		sum += p
	}
	if math.Abs(sum-1) > ProbabilityTolerance {
		return &Error{d.Name, fmt.Sprintf("probabilities sum to %v, want 1", sum)}
	}
	if raw, ok := d.Meta[MonteCarloKey]; ok {
		if _, ok := raw.(bool); !ok {
			return &Error{d.Name, fmt.Sprintf("%q must be a boolean", MonteCarloKey)}
		}
	}
	return nil
}

func validateYear(d *Dimension) error {
	check := func(where string, m Metadata) error {
		raw, ok := m[ScaleFactorKey]
		if !ok {
			return nil
		}
		f, ok := toFloat(raw)
		if !ok {
			return &Error{d.Name, fmt.Sprintf("%s: %q is not numeric", where, ScaleFactorKey)}
		}
		if f <= 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return &Error{d.Name, fmt.Sprintf("%s: %q must be positive and finite, got %v", where, ScaleFactorKey, f)}
		}
		return nil
	}
	if err := check("metadata", d.Meta); err != nil {
		return err
	}
	for i, e := range d.Entries {
		if err := check(fmt.Sprintf("year %d", i+1), e); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the named dimension.
func (r *Registry) Get(name Name) (*Dimension, bool) {
	if r == nil {
		return nil, false
	}
	d, ok := r.dims[name]
	return d, ok
}

// Has reports whether the named dimension was declared.
func (r *Registry) Has(name Name) bool {
	_, ok := r.Get(name)
	return ok
}

// Cardinality returns the size of the named dimension, 0 if undeclared.
func (r *Registry) Cardinality(name Name) int {
	if d, ok := r.Get(name); ok {
		return d.Cardinality
	}
	return 0
}

// Names returns the declared dimension names in sorted order.
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.dims))
	for n := range r.dims {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Probability returns the probability of scenario s.
func (r *Registry) Probability(s int) float64 {
	d, ok := r.Get(Scenario)
	if !ok || s < 1 || s > len(d.Entries) {
		return 0
	}
	p, _ := toFloat(d.Entries[s-1][ProbabilityKey])
	return p
}

// ScaleFactor returns the investment cost scale factor of year y. A per-year entry takes
// precedence over the dimension-level value; the default is 1.
func (r *Registry) ScaleFactor(y int) float64 {
	d, ok := r.Get(Year)
	if !ok {
		return 1
	}
	if y >= 1 && y <= len(d.Entries) {
		if f, ok := toFloat(d.Entries[y-1][ScaleFactorKey]); ok {
			return f
		}
	}
	if f, ok := toFloat(d.Meta[ScaleFactorKey]); ok {
		return f
	}
	return 1
}

// MonteCarlo reports whether scenarios were declared as Monte-Carlo samples.
func (r *Registry) MonteCarlo() bool {
	d, ok := r.Get(Scenario)
	if !ok {
		return false
	}
	mc, _ := d.Meta[MonteCarloKey].(bool)
	return mc
}

// SameShape reports whether both registries declare the same cardinality for every
// planning dimension.
func (r *Registry) SameShape(o *Registry) bool {
	for _, n := range []Name{Hour, Year, Scenario} {
		if r.Cardinality(n) != o.Cardinality(n) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the registry.
func (r *Registry) Clone() *Registry {
	c := NewRegistry()
	if r == nil {
		return c
	}
	for n, d := range r.dims {
		cp := &Dimension{Name: d.Name, Cardinality: d.Cardinality, Meta: copyMeta(d.Meta)}
		if d.Entries != nil {
			cp.Entries = make([]Metadata, len(d.Entries))
			for i, e := range d.Entries {
				cp.Entries[i] = copyMeta(e)
			}
		}
		c.dims[n] = cp
	}
	return c
}

func copyMeta(m Metadata) Metadata {
	if m == nil {
		return nil
	}
	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
