/*
multinetwork.go Assembly of a multinetwork model: one network snapshot per (scenario, year, hour)
key. Hour-indexed fields come from the time series, year-indexed candidate costs come from the
candidate tracker.
*/

package multinetwork

import (
	"fmt"
	"log"

	"github.com/ohowland/gridplan/internal/pkg/candidate"
	"github.com/ohowland/gridplan/internal/pkg/dimension"
	"github.com/ohowland/gridplan/internal/pkg/network"
	"github.com/ohowland/gridplan/internal/pkg/timeseries"
	"golang.org/x/sync/errgroup"
)

// Key is the composite snapshot coordinate. All coordinates are 1-based.
type Key struct {
	Scenario int
	Year     int
	Hour     int
}

func (k Key) String() string {
	return fmt.Sprintf("s%dy%dh%d", k.Scenario, k.Year, k.Hour)
}

// Snapshot is one network copy of the model. Only Solution is written after assembly.
type Snapshot struct {
	Key      Key
	Network  *network.Network
	Solution map[string]float64
}

// Model is an assembled multinetwork.
type Model struct {
	Name       string
	TBus       int
	Dimensions *dimension.Registry
	Tracker    *candidate.Tracker

	keys      []Key
	snapshots map[Key]*Snapshot
}

// MismatchError reports a series whose length fits no dimension layout.
type MismatchError struct {
	Series string
	Length int
	Want   []int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("series %q has %d values, want one of %v", e.Series, e.Length, e.Want)
}

// MissingDimensionError reports a dimension that must be registered before assembly.
type MissingDimensionError struct {
	Dimension dimension.Name
}

func (e *MissingDimensionError) Error() string {
	return fmt.Sprintf("dimension %q is not registered", e.Dimension)
}

type settings struct {
	yearNetworks []*network.Network
	workers      int
}

// Option configures Make.
type Option func(*settings)

// WithYearNetworks supplies one static network per planning year. Year networks carry the
// candidate tables and costs of their year; hour series still bind against the static network.
func WithYearNetworks(nets []*network.Network) Option {
	return func(s *settings) {
		s.yearNetworks = nets
	}
}

// WithWorkers bounds the number of snapshots built concurrently.
func WithWorkers(n int) Option {
	return func(s *settings) {
		s.workers = n
	}
}

// Make assembles the model of static over the dimensions registered on static.Dimensions.
func Make(static *network.Network, series timeseries.Series, opts ...Option) (*Model, error) {
	cfg := settings{workers: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	dims := static.Dimensions
	for _, name := range []dimension.Name{dimension.Hour, dimension.Year, dimension.Scenario} {
		if dims == nil || !dims.Has(name) {
			return nil, &MissingDimensionError{name}
		}
	}
	hours := dims.Cardinality(dimension.Hour)
	years := dims.Cardinality(dimension.Year)
	scenarios := dims.Cardinality(dimension.Scenario)
	total := hours * years * scenarios

	for _, name := range series.Names() {
		if l := len(series[name]); l != hours && l != total {
			return nil, &MismatchError{Series: name, Length: l, Want: []int{hours, total}}
		}
	}
	binder, err := timeseries.NewBinder(static, series, hours)
	if err != nil {
		return nil, err
	}

	yearNets := cfg.yearNetworks
	if yearNets == nil {
		yearNets = make([]*network.Network, years)
		for i := range yearNets {
			yearNets[i] = static
		}
	}
	if len(yearNets) != years {
		return nil, fmt.Errorf("%d year networks for %d years", len(yearNets), years)
	}
	tracker, err := candidate.NewTracker(yearNets)
	if err != nil {
		return nil, err
	}

	m := &Model{
		Name:       static.Name,
		TBus:       static.TBus,
		Dimensions: dims.Clone(),
		Tracker:    tracker,
		keys:       make([]Key, 0, total),
		snapshots:  make(map[Key]*Snapshot, total),
	}
	for s := 1; s <= scenarios; s++ {
		for y := 1; y <= years; y++ {
			for h := 1; h <= hours; h++ {
				m.keys = append(m.keys, Key{s, y, h})
			}
		}
	}

	built := make([]*Snapshot, len(m.keys))
	var g errgroup.Group
	if cfg.workers > 0 {
		g.SetLimit(cfg.workers)
	}
	for i, k := range m.keys {
		i, k := i, k
		g.Go(func() error {
			n := yearNets[k.Year-1].Clone()
			n.Dimensions = m.Dimensions
			binder.Apply(n, i, k.Hour)
			// candidates not yet available in the year carry no cost
			for _, c := range tracker.Candidates() {
				n.SetCandidateCost(c.ID.Kind, c.ID.Index, tracker.Cost(c.ID, k.Year))
			}
			built[i] = &Snapshot{Key: k, Network: n, Solution: map[string]float64{}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, snap := range built {
		m.snapshots[snap.Key] = snap
	}

	log.Printf("[Assembler] %s: %d snapshots (%d scenarios x %d years x %d hours), %d candidates\n",
		m.Name, len(m.keys), scenarios, years, hours, len(tracker.Candidates()))
	return m, nil
}

// Keys returns the snapshot keys in scenario, year, hour order.
func (m *Model) Keys() []Key {
	return append([]Key(nil), m.keys...)
}

// Snapshot returns the snapshot at k.
func (m *Model) Snapshot(k Key) (*Snapshot, bool) {
	s, ok := m.snapshots[k]
	return s, ok
}

// Len returns the number of snapshots.
func (m *Model) Len() int {
	return len(m.keys)
}

func (m *Model) Hours() int {
	return m.Dimensions.Cardinality(dimension.Hour)
}

func (m *Model) Years() int {
	return m.Dimensions.Cardinality(dimension.Year)
}

func (m *Model) Scenarios() int {
	return m.Dimensions.Cardinality(dimension.Scenario)
}

// Slot returns the 0-based position of k in key order.
func (m *Model) Slot(k Key) int {
	return ((k.Scenario-1)*m.Years()+(k.Year-1))*m.Hours() + (k.Hour - 1)
}
