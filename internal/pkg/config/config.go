/*
config.go Run configuration. A run names its case files, planning dimensions, formulation,
decomposition and solver settings, and the optional storage and streaming endpoints, each of
which has its own JSON config file.
*/

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/ohowland/gridplan/internal/pkg/builder"
	"github.com/ohowland/gridplan/internal/pkg/decomposition"
	"github.com/ohowland/gridplan/internal/pkg/dimension"
	"github.com/ohowland/gridplan/internal/pkg/network"
	"github.com/ohowland/gridplan/internal/pkg/solver"
)

// Series sources.
const (
	SourceFile   = "file"
	SourceSQL    = "sql"
	SourceInflux = "influx"
)

// Dimensions declares the planning dimensions shared by every network of a run.
type Dimensions struct {
	Hours int `json:"Hours"`
	Years int `json:"Years"`
	// ScaleFactors holds one investment cost factor per year. Empty means 1 for every year.
	ScaleFactors  []float64 `json:"ScaleFactors"`
	Probabilities []float64 `json:"Probabilities"`
	MonteCarlo    bool      `json:"MonteCarlo"`
}

// Registry declares d on a new dimension registry.
func (d Dimensions) Registry() (*dimension.Registry, error) {
	r := dimension.NewRegistry()
	if err := r.Add(dimension.Hour, d.Hours, nil); err != nil {
		return nil, err
	}
	if len(d.ScaleFactors) > 0 {
		if len(d.ScaleFactors) != d.Years {
			return nil, fmt.Errorf("%d scale factors for %d years", len(d.ScaleFactors), d.Years)
		}
		years := make(map[int]dimension.Metadata, d.Years)
		for i, f := range d.ScaleFactors {
			years[i+1] = dimension.Metadata{dimension.ScaleFactorKey: f}
		}
		if err := r.AddEntries(dimension.Year, years, nil); err != nil {
			return nil, err
		}
	} else if err := r.Add(dimension.Year, d.Years, nil); err != nil {
		return nil, err
	}
	scenarios := make(map[int]dimension.Metadata, len(d.Probabilities))
	for i, p := range d.Probabilities {
		scenarios[i+1] = dimension.Metadata{dimension.ProbabilityKey: p}
	}
	if err := r.AddEntries(dimension.Scenario, scenarios, dimension.Metadata{dimension.MonteCarloKey: d.MonteCarlo}); err != nil {
		return nil, err
	}
	return r, nil
}

// Case locates the files of one network.
type Case struct {
	Network string `json:"Network"`
	Series  string `json:"Series"`
	// YearNetworks optionally gives one case file per planning year.
	YearNetworks []string `json:"YearNetworks"`
}

func (c *Case) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Network = abs(c.Network)
	c.Series = abs(c.Series)
	for i := range c.YearNetworks {
		c.YearNetworks[i] = abs(c.YearNetworks[i])
	}
}

// BuilderOptions mirror builder.Options in configuration form.
type BuilderOptions struct {
	AngleBound      float64 `json:"AngleBound"`
	ConverterLosses bool    `json:"ConverterLosses"`
	CurtailmentCost float64 `json:"CurtailmentCost"`
	VMin            float64 `json:"VMin"`
	VMax            float64 `json:"VMax"`
}

// Run is one planning run.
type Run struct {
	Name         string     `json:"Name"`
	Dimensions   Dimensions `json:"Dimensions"`
	Transmission Case       `json:"Transmission"`
	Distribution []Case     `json:"Distribution"`

	Formulation             string                `json:"Formulation"`
	DistributionFormulation string                `json:"DistributionFormulation"`
	ProblemType             string                `json:"ProblemType"`
	Builder                 BuilderOptions        `json:"Builder"`
	Scale                   *network.ScaleOptions `json:"Scale"`
	ExchangeLimit           float64               `json:"ExchangeLimit"`
	AllowSharedBus          bool                  `json:"AllowSharedBus"`
	AssemblyWorkers         int                   `json:"AssemblyWorkers"`

	Strategy      string               `json:"Strategy"`
	Decomposition decomposition.Config `json:"Decomposition"`
	Solver        string               `json:"Solver"`
	SolverOptions solver.Options       `json:"SolverOptions"`
	LPFile        string               `json:"LPFile"`

	SeriesSource string `json:"SeriesSource"`
	SQLConfig    string `json:"SQLConfig"`
	InfluxConfig string `json:"InfluxConfig"`
	MongoConfig  string `json:"MongoConfig"`
	NatsConfig   string `json:"NatsConfig"`
}

// Load reads and validates a run file. Relative paths inside it are resolved against the
// file's directory.
func Load(path string) (Run, error) {
	jsonConfig, err := ioutil.ReadFile(path)
	if err != nil {
		return Run{}, err
	}
	r, err := Parse(jsonConfig)
	if err != nil {
		return Run{}, fmt.Errorf("config %s: %w", path, err)
	}
	r.resolve(filepath.Dir(path))
	return r, nil
}

// Parse decodes and validates a run. Paths are left as written.
func Parse(jsonConfig []byte) (Run, error) {
	r := Run{}
	if err := json.Unmarshal(jsonConfig, &r); err != nil {
		return Run{}, err
	}
	if err := r.Validate(); err != nil {
		return Run{}, err
	}
	return r, nil
}

func (r *Run) resolve(dir string) {
	r.Transmission.resolve(dir)
	for i := range r.Distribution {
		r.Distribution[i].resolve(dir)
	}
	for _, p := range []*string{&r.LPFile, &r.SQLConfig, &r.InfluxConfig, &r.MongoConfig, &r.NatsConfig} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
}

// Validate checks that r names everything a run needs. Decomposition settings are required
// whenever a strategy other than none is selected.
func (r Run) Validate() error {
	if r.Transmission.Network == "" {
		return errors.New("missing Transmission.Network")
	}
	if _, err := r.Dimensions.Registry(); err != nil {
		return err
	}
	if _, err := builder.ParseFormulation(r.Formulation); err != nil {
		return err
	}
	if len(r.Distribution) > 0 {
		if _, err := builder.ParseFormulation(r.DistributionFormulation); err != nil {
			return err
		}
	}
	if _, err := builder.ParseProblemType(r.ProblemType); err != nil {
		return err
	}
	s, err := decomposition.ParseStrategy(r.Strategy)
	if err != nil {
		return err
	}
	if s != decomposition.None {
		if err := r.Decomposition.Validate(); err != nil {
			return err
		}
	}
	switch r.SeriesSource {
	case "", SourceFile:
	case SourceSQL:
		if r.SQLConfig == "" {
			return errors.New("SeriesSource sql needs SQLConfig")
		}
	case SourceInflux:
		if r.InfluxConfig == "" {
			return errors.New("SeriesSource influx needs InfluxConfig")
		}
	default:
		return fmt.Errorf("unknown SeriesSource %q", r.SeriesSource)
	}
	return nil
}

// Options returns the builder options of r.
func (r Run) Options() (builder.Options, error) {
	t, err := builder.ParseProblemType(r.ProblemType)
	if err != nil {
		return builder.Options{}, err
	}
	return builder.Options{
		ProblemType:     t,
		AngleBound:      r.Builder.AngleBound,
		ConverterLosses: r.Builder.ConverterLosses,
		CurtailmentCost: r.Builder.CurtailmentCost,
		VMin:            r.Builder.VMin,
		VMax:            r.Builder.VMax,
	}, nil
}
