/*
planner.go A planning run from configuration to report: series are loaded, the networks are
assembled into multinetworks and coupled, the problem is built, decomposed and summarized.
*/

package planner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/ohowland/gridplan/internal/pkg/builder"
	"github.com/ohowland/gridplan/internal/pkg/config"
	"github.com/ohowland/gridplan/internal/pkg/coupling"
	"github.com/ohowland/gridplan/internal/pkg/datastreams/influx"
	"github.com/ohowland/gridplan/internal/pkg/datastreams/sqldb"
	"github.com/ohowland/gridplan/internal/pkg/decomposition"
	"github.com/ohowland/gridplan/internal/pkg/dimension"
	"github.com/ohowland/gridplan/internal/pkg/metrics"
	"github.com/ohowland/gridplan/internal/pkg/msg"
	"github.com/ohowland/gridplan/internal/pkg/multinetwork"
	"github.com/ohowland/gridplan/internal/pkg/network"
	"github.com/ohowland/gridplan/internal/pkg/report"
	"github.com/ohowland/gridplan/internal/pkg/solver"
	"github.com/ohowland/gridplan/internal/pkg/solver/lpsolver"
	"github.com/ohowland/gridplan/internal/pkg/timeseries"
)

// Result is a finished run. Warning is set when decomposition stopped at its iteration cap.
type Result struct {
	Run     uuid.UUID
	Name    string
	Plan    *builder.Plan `json:"-"`
	Outcome decomposition.Outcome
	Summary report.Summary
	Warning *decomposition.ConvergenceWarning
}

// SeriesSource loads the series of one network by name.
type SeriesSource interface {
	Series(ctx context.Context, network string) (timeseries.Series, error)
}

// Planner runs configured plans.
type Planner struct {
	publisher *msg.PubSub
	metrics   *metrics.Collector
	source    SeriesSource
}

// Option configures a Planner.
type Option func(*Planner)

// WithPublisher publishes decomposition progress and results on p.
func WithPublisher(p *msg.PubSub) Option {
	return func(pl *Planner) {
		pl.publisher = p
	}
}

// WithMetrics records run metrics on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(pl *Planner) {
		pl.metrics = m
	}
}

// WithSeriesSource overrides the series source named by the run configuration.
func WithSeriesSource(s SeriesSource) Option {
	return func(pl *Planner) {
		pl.source = s
	}
}

// New returns a Planner.
func New(opts ...Option) *Planner {
	p := &Planner{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run executes cfg. An infeasible plan is not an error; check Outcome.Status.
func (p *Planner) Run(ctx context.Context, cfg config.Run) (Result, error) {
	pl, err := p.Build(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	res := Result{Run: pl.Problem.PID(), Name: cfg.Name, Plan: pl}

	if cfg.LPFile != "" {
		if err := writeLP(cfg.LPFile, pl); err != nil {
			return res, err
		}
	}

	name := cfg.Solver
	if name == "" {
		name = lpsolver.Name
	}
	s, err := solver.New(name)
	if err != nil {
		return res, err
	}
	strategy, err := decomposition.ParseStrategy(cfg.Strategy)
	if err != nil {
		return res, err
	}
	opts := []decomposition.Option{
		decomposition.WithSolverOptions(cfg.SolverOptions),
		decomposition.WithMetrics(p.metrics),
	}
	if p.publisher != nil {
		opts = append(opts, decomposition.WithPublisher(p.publisher))
	}
	coord, err := decomposition.New(cfg.Decomposition, s, opts...)
	if err != nil {
		return res, err
	}

	out, err := coord.Decompose(ctx, pl, strategy)
	res.Outcome = out
	if w, ok := err.(*decomposition.ConvergenceWarning); ok {
		log.Printf("[Planner] %s: %v\n", cfg.Name, w)
		res.Warning = w
	} else if err != nil {
		return res, err
	}
	if out.Values == nil {
		log.Printf("[Planner] %s: no plan (%s)\n", cfg.Name, out.Status)
		return res, nil
	}
	if err := pl.Attach(out.Values); err != nil {
		return res, err
	}
	res.Summary = report.Summarize(pl, out.Values)
	log.Printf("[Planner] %s: %s, objective %s\n", cfg.Name, out.Status, res.Summary.Objective.StringFixed(report.Places))
	return res, nil
}

// Build assembles every network of cfg and constructs the problem without solving it.
func (p *Planner) Build(ctx context.Context, cfg config.Run) (*builder.Plan, error) {
	reg, err := cfg.Dimensions.Registry()
	if err != nil {
		return nil, err
	}
	source := p.source
	if source == nil {
		if source, err = seriesSource(cfg); err != nil {
			return nil, err
		}
	}
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	tForm, err := builder.ParseFormulation(cfg.Formulation)
	if err != nil {
		return nil, err
	}

	t, err := assemble(ctx, cfg, cfg.Transmission, reg, source)
	if err != nil {
		return nil, err
	}
	if len(cfg.Distribution) == 0 {
		return builder.Build(t, tForm, opts)
	}

	dForm, err := builder.ParseFormulation(cfg.DistributionFormulation)
	if err != nil {
		return nil, err
	}
	ds := make([]*multinetwork.Model, 0, len(cfg.Distribution))
	for _, c := range cfg.Distribution {
		d, err := assemble(ctx, cfg, c, reg, source)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}
	var copts []coupling.Option
	if cfg.AllowSharedBus {
		copts = append(copts, coupling.AllowSharedBus())
	}
	if cfg.ExchangeLimit > 0 {
		copts = append(copts, coupling.WithExchangeLimit(cfg.ExchangeLimit))
	}
	coupled, err := coupling.Couple(t, ds, copts...)
	if err != nil {
		return nil, err
	}
	return builder.BuildCoupled(coupled, tForm, dForm, opts)
}

func assemble(ctx context.Context, cfg config.Run, c config.Case, reg *dimension.Registry, source SeriesSource) (*multinetwork.Model, error) {
	n, err := loadNetwork(c.Network, cfg.Scale)
	if err != nil {
		return nil, err
	}
	n.Dimensions = reg

	if source == nil {
		source = fileSource(c.Series)
	}
	series, err := source.Series(ctx, n.Name)
	if err != nil {
		return nil, fmt.Errorf("series of %s: %w", n.Name, err)
	}

	var opts []multinetwork.Option
	if len(c.YearNetworks) > 0 {
		nets := make([]*network.Network, len(c.YearNetworks))
		for i, path := range c.YearNetworks {
			if nets[i], err = loadNetwork(path, cfg.Scale); err != nil {
				return nil, err
			}
		}
		opts = append(opts, multinetwork.WithYearNetworks(nets))
	}
	if cfg.AssemblyWorkers > 0 {
		opts = append(opts, multinetwork.WithWorkers(cfg.AssemblyWorkers))
	}
	return multinetwork.Make(n, series, opts...)
}

func loadNetwork(path string, scale *network.ScaleOptions) (*network.Network, error) {
	n, err := network.LoadCase(path)
	if err != nil {
		return nil, err
	}
	if scale != nil {
		n.ScaleCosts(*scale)
	}
	return n, nil
}

// fileSource is the path of a series file. An empty path has no series.
type fileSource string

func (f fileSource) Series(ctx context.Context, network string) (timeseries.Series, error) {
	if f == "" {
		return timeseries.Series{}, nil
	}
	return timeseries.Load(string(f))
}

// seriesSource returns the shared source of cfg, or nil when each case names its own file.
func seriesSource(cfg config.Run) (SeriesSource, error) {
	switch cfg.SeriesSource {
	case config.SourceSQL:
		return sqldb.New(cfg.SQLConfig)
	case config.SourceInflux:
		return influx.New(cfg.InfluxConfig)
	}
	return nil, nil
}

func writeLP(path string, pl *builder.Plan) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pl.Problem.WriteLP(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Printf("[Planner] wrote %s\n", path)
	return f.Close()
}
