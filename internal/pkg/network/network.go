/*
network.go Static description of a single electrical network. All electrical quantities are
per-unit on BaseMVA; costs are per per-unit hour for operation and absolute for investments.
*/

package network

import (
	"fmt"

	"github.com/ohowland/gridplan/internal/pkg/dimension"
)

// Network is the static single-network data record. Snapshots of a multinetwork are deep
// copies of a Network with time-indexed fields overwritten.
type Network struct {
	Name          string  `json:"Name"`
	FormatVersion string  `json:"FormatVersion"`
	BaseMVA       float64 `json:"BaseMVA"`
	// TBus is the transmission bus a distribution network attaches to, 0 when unset.
	TBus int `json:"TBus,omitempty"`

	Buses        []Bus         `json:"Buses"`
	Branches     []Branch      `json:"Branches"`
	NeBranches   []NeBranch    `json:"NeBranches"`
	DCBuses      []DCBus       `json:"DCBuses"`
	DCBranches   []DCBranch    `json:"DCBranches"`
	NeDCBranches []NeDCBranch  `json:"NeDCBranches"`
	Converters   []Converter   `json:"Converters"`
	NeConverters []NeConverter `json:"NeConverters"`
	Gens         []Gen         `json:"Gens"`
	Loads        []Load        `json:"Loads"`
	Storage      []Storage     `json:"Storage"`
	NeStorage    []NeStorage   `json:"NeStorage"`

	Dimensions *dimension.Registry `json:"-"`
}

// Bus is an AC bus.
type Bus struct {
	ID   int     `json:"ID"`
	Name string  `json:"Name"`
	Ref  bool    `json:"Ref"`
	VMin float64 `json:"VMin"`
	VMax float64 `json:"VMax"`
	VRef float64 `json:"VRef,omitempty"`
}

// Branch is an existing AC line or transformer.
type Branch struct {
	ID   int     `json:"ID"`
	From int     `json:"From"`
	To   int     `json:"To"`
	R    float64 `json:"R"`
	X    float64 `json:"X"`
	Rate float64 `json:"Rate"`
}

// Investment carries the lifecycle and cost fields shared by every candidate.
type Investment struct {
	Cost float64 `json:"Cost"`
	// YearCosts overrides Cost per planning year, YearCosts[y-1] applies to year y.
	YearCosts []float64 `json:"YearCosts,omitempty"`
	FirstYear int       `json:"FirstYear,omitempty"`
	Lifetime  int       `json:"Lifetime,omitempty"`
}

// NeBranch is a candidate AC branch.
type NeBranch struct {
	Branch
	Investment
}

// DCBus is a bus of a DC grid.
type DCBus struct {
	ID   int    `json:"ID"`
	Name string `json:"Name"`
}

// DCBranch is an existing DC line, modelled as a transport link.
type DCBranch struct {
	ID   int     `json:"ID"`
	From int     `json:"From"`
	To   int     `json:"To"`
	Rate float64 `json:"Rate"`
}

// NeDCBranch is a candidate DC line.
type NeDCBranch struct {
	DCBranch
	Investment
}

// Converter connects an AC bus to a DC bus.
type Converter struct {
	ID    int     `json:"ID"`
	ACBus int     `json:"ACBus"`
	DCBus int     `json:"DCBus"`
	Rate  float64 `json:"Rate"`
	// LossB is the linear loss fraction applied when converter losses are modelled.
	LossB float64 `json:"LossB"`
}

// NeConverter is a candidate converter.
type NeConverter struct {
	Converter
	Investment
}

// Gen is a dispatchable generator.
type Gen struct {
	ID           int     `json:"ID"`
	Bus          int     `json:"Bus"`
	PMin         float64 `json:"PMin"`
	PMax         float64 `json:"PMax"`
	QMin         float64 `json:"QMin"`
	QMax         float64 `json:"QMax"`
	Cost         float64 `json:"Cost"`
	EmissionCost float64 `json:"EmissionCost"`
}

// Load is a demand with optional flexibility.
type Load struct {
	ID  int     `json:"ID"`
	Bus int     `json:"Bus"`
	PD  float64 `json:"PD"`
	QD  float64 `json:"QD"`

	// Flexible marks flexibility that already exists. FlexCandidate marks flexibility
	// that is available only after investment.
	Flexible      bool        `json:"Flexible"`
	FlexCandidate *Investment `json:"FlexCandidate,omitempty"`

	// Shift and reduction limits as fractions of PD.
	ShiftUpMax   float64 `json:"ShiftUpMax"`
	ShiftDownMax float64 `json:"ShiftDownMax"`
	ReductionMax float64 `json:"ReductionMax"`
	// ReductionEnergyMax caps voluntary reduction over the hours of one year, 0 for no cap.
	ReductionEnergyMax float64 `json:"ReductionEnergyMax"`

	CostShiftUp     float64 `json:"CostShiftUp"`
	CostShiftDown   float64 `json:"CostShiftDown"`
	CostReduction   float64 `json:"CostReduction"`
	CostCurtailment float64 `json:"CostCurtailment"`
}

// HasFlexibility reports whether the load can shift or reduce demand in some year.
func (l Load) HasFlexibility() bool {
	return l.Flexible || l.FlexCandidate != nil
}

// Storage is an existing storage device.
type Storage struct {
	ID                  int     `json:"ID"`
	Bus                 int     `json:"Bus"`
	EnergyRating        float64 `json:"EnergyRating"`
	ChargeRating        float64 `json:"ChargeRating"`
	DischargeRating     float64 `json:"DischargeRating"`
	ChargeEfficiency    float64 `json:"ChargeEfficiency"`
	DischargeEfficiency float64 `json:"DischargeEfficiency"`
	SelfDischarge       float64 `json:"SelfDischarge"`
	EnergyInit          float64 `json:"EnergyInit"`
	// Inflow and Outflow are external energy exchanges per hour, e.g. natural inflow
	// and dissipation of a hydro reservoir.
	Inflow  float64 `json:"Inflow"`
	Outflow float64 `json:"Outflow"`
}

// NeStorage is a candidate storage device.
type NeStorage struct {
	Storage
	Investment
}

// ValidationError reports a referential or value error in network data.
type ValidationError struct {
	Network   string
	Component string
	ID        int
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("network %q: %s %d: %s", e.Network, e.Component, e.ID, e.Reason)
}

// HasBus reports whether an AC bus with the given id exists.
func (n *Network) HasBus(id int) bool {
	_, ok := n.Bus(id)
	return ok
}

// Bus returns the AC bus with the given id.
func (n *Network) Bus(id int) (Bus, bool) {
	for _, b := range n.Buses {
		if b.ID == id {
			return b, true
		}
	}
	return Bus{}, false
}

// RefBus returns the reference bus.
func (n *Network) RefBus() (Bus, bool) {
	for _, b := range n.Buses {
		if b.Ref {
			return b, true
		}
	}
	return Bus{}, false
}

// Validate checks identifiers and references.
func (n *Network) Validate() error {
	fail := func(component string, id int, format string, args ...interface{}) error {
		return &ValidationError{n.Name, component, id, fmt.Sprintf(format, args...)}
	}

	buses := make(map[int]bool)
	refs := 0
	for _, b := range n.Buses {
		if buses[b.ID] {
			return fail("bus", b.ID, "duplicate id")
		}
		buses[b.ID] = true
		if b.Ref {
			refs++
		}
		if b.VMax < b.VMin {
			return fail("bus", b.ID, "VMax %v below VMin %v", b.VMax, b.VMin)
		}
	}
	if refs > 1 {
		return fail("bus", 0, "%d reference buses, want at most 1", refs)
	}
	dcBuses := make(map[int]bool)
	for _, b := range n.DCBuses {
		if dcBuses[b.ID] {
			return fail("dcbus", b.ID, "duplicate id")
		}
		dcBuses[b.ID] = true
	}

	checkBranch := func(component string, br Branch) error {
		if !buses[br.From] || !buses[br.To] {
			return fail(component, br.ID, "unknown endpoint %d-%d", br.From, br.To)
		}
		if br.X == 0 && br.R == 0 {
			return fail(component, br.ID, "zero impedance")
		}
		return nil
	}
	ids := make(map[string]map[int]bool)
	unique := func(component string, id int) error {
		if ids[component] == nil {
			ids[component] = make(map[int]bool)
		}
		if ids[component][id] {
			return fail(component, id, "duplicate id")
		}
		ids[component][id] = true
		return nil
	}

	for _, br := range n.Branches {
		if err := unique("branch", br.ID); err != nil {
			return err
		}
		if err := checkBranch("branch", br); err != nil {
			return err
		}
	}
	for _, br := range n.NeBranches {
		if err := unique("ne_branch", br.ID); err != nil {
			return err
		}
		if err := checkBranch("ne_branch", br.Branch); err != nil {
			return err
		}
	}
	checkDC := func(component string, br DCBranch) error {
		if err := unique(component, br.ID); err != nil {
			return err
		}
		if !dcBuses[br.From] || !dcBuses[br.To] {
			return fail(component, br.ID, "unknown dc endpoint %d-%d", br.From, br.To)
		}
		return nil
	}
	for _, br := range n.DCBranches {
		if err := checkDC("branchdc", br); err != nil {
			return err
		}
	}
	for _, br := range n.NeDCBranches {
		if err := checkDC("ne_branchdc", br.DCBranch); err != nil {
			return err
		}
	}
	checkConv := func(component string, c Converter) error {
		if err := unique(component, c.ID); err != nil {
			return err
		}
		if !buses[c.ACBus] || !dcBuses[c.DCBus] {
			return fail(component, c.ID, "unknown ac bus %d or dc bus %d", c.ACBus, c.DCBus)
		}
		if c.LossB < 0 || c.LossB >= 1 {
			return fail(component, c.ID, "loss fraction %v outside [0,1)", c.LossB)
		}
		return nil
	}
	for _, c := range n.Converters {
		if err := checkConv("convdc", c); err != nil {
			return err
		}
	}
	for _, c := range n.NeConverters {
		if err := checkConv("ne_convdc", c.Converter); err != nil {
			return err
		}
	}
	for _, g := range n.Gens {
		if err := unique("gen", g.ID); err != nil {
			return err
		}
		if !buses[g.Bus] {
			return fail("gen", g.ID, "unknown bus %d", g.Bus)
		}
		if g.PMax < g.PMin {
			return fail("gen", g.ID, "PMax %v below PMin %v", g.PMax, g.PMin)
		}
	}
	for _, l := range n.Loads {
		if err := unique("load", l.ID); err != nil {
			return err
		}
		if !buses[l.Bus] {
			return fail("load", l.ID, "unknown bus %d", l.Bus)
		}
	}
	checkStorage := func(component string, s Storage) error {
		if err := unique(component, s.ID); err != nil {
			return err
		}
		if !buses[s.Bus] {
			return fail(component, s.ID, "unknown bus %d", s.Bus)
		}
		if s.ChargeEfficiency <= 0 || s.DischargeEfficiency <= 0 {
			return fail(component, s.ID, "efficiencies must be positive")
		}
		if s.EnergyInit > s.EnergyRating {
			return fail(component, s.ID, "initial energy %v above rating %v", s.EnergyInit, s.EnergyRating)
		}
		return nil
	}
	for _, s := range n.Storage {
		if err := checkStorage("storage", s); err != nil {
			return err
		}
	}
	for _, s := range n.NeStorage {
		if err := checkStorage("ne_storage", s.Storage); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy of the network. The dimension registry is shared.
func (n *Network) Clone() *Network {
	c := *n
	c.Buses = append([]Bus(nil), n.Buses...)
	c.Branches = append([]Branch(nil), n.Branches...)
	c.NeBranches = make([]NeBranch, len(n.NeBranches))
	for i, b := range n.NeBranches {
		b.Investment = b.Investment.clone()
		c.NeBranches[i] = b
	}
	c.DCBuses = append([]DCBus(nil), n.DCBuses...)
	c.DCBranches = append([]DCBranch(nil), n.DCBranches...)
	c.NeDCBranches = make([]NeDCBranch, len(n.NeDCBranches))
	for i, b := range n.NeDCBranches {
		b.Investment = b.Investment.clone()
		c.NeDCBranches[i] = b
	}
	c.Converters = append([]Converter(nil), n.Converters...)
	c.NeConverters = make([]NeConverter, len(n.NeConverters))
	for i, cv := range n.NeConverters {
		cv.Investment = cv.Investment.clone()
		c.NeConverters[i] = cv
	}
	c.Gens = append([]Gen(nil), n.Gens...)
	c.Loads = make([]Load, len(n.Loads))
	for i, l := range n.Loads {
		if l.FlexCandidate != nil {
			inv := l.FlexCandidate.clone()
			l.FlexCandidate = &inv
		}
		c.Loads[i] = l
	}
	c.Storage = append([]Storage(nil), n.Storage...)
	c.NeStorage = make([]NeStorage, len(n.NeStorage))
	for i, s := range n.NeStorage {
		s.Investment = s.Investment.clone()
		c.NeStorage[i] = s
	}
	return &c
}

func (i Investment) clone() Investment {
	if i.YearCosts != nil {
		i.YearCosts = append([]float64(nil), i.YearCosts...)
	}
	return i
}

// CostIn returns the investment cost for year y.
func (i Investment) CostIn(y int) float64 {
	if y >= 1 && y <= len(i.YearCosts) {
		return i.YearCosts[y-1]
	}
	return i.Cost
}
