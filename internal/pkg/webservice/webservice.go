package webservice

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"log"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/ohowland/gridplan/internal/pkg/config"
	"github.com/ohowland/gridplan/internal/pkg/decomposition"
	"github.com/ohowland/gridplan/internal/pkg/metrics"
	"github.com/ohowland/gridplan/internal/pkg/msg"
	"github.com/ohowland/gridplan/internal/pkg/planner"
	"github.com/ohowland/gridplan/internal/pkg/report"
)

// Run states.
const (
	Running  = "running"
	Finished = "finished"
	Failed   = "failed"
)

// DefaultRetention is how long finished runs stay queryable unless configured otherwise.
const DefaultRetention = 24 * time.Hour

// Config is the service configuration file. RetentionMinutes below zero keeps finished runs
// for the life of the process.
type Config struct {
	Port             string `json:"Port"`
	RetentionMinutes int    `json:"RetentionMinutes"`
}

// Retention returns the configured retention of finished runs.
func (c Config) Retention() time.Duration {
	switch {
	case c.RetentionMinutes < 0:
		return 0
	case c.RetentionMinutes == 0:
		return DefaultRetention
	}
	return time.Duration(c.RetentionMinutes) * time.Minute
}

// LoadConfig reads a service configuration file.
func LoadConfig(configPath string) (Config, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	return cfg, nil
}

// Runner executes one planning run and publishes its progress on pub.
type Runner func(ctx context.Context, cfg config.Run, pub *msg.PubSub) (planner.Result, error)

// PlannerRunner runs plans with the planner package, recording on m.
func PlannerRunner(m *metrics.Collector) Runner {
	return func(ctx context.Context, cfg config.Run, pub *msg.PubSub) (planner.Result, error) {
		return planner.New(planner.WithPublisher(pub), planner.WithMetrics(m)).Run(ctx, cfg)
	}
}

// Status is the JSON view of a run. Bounds are omitted while they are infinite.
type Status struct {
	ID         uuid.UUID       `json:"ID"`
	Name       string          `json:"Name"`
	State      string          `json:"State"`
	Error      string          `json:"Error,omitempty"`
	Outcome    string          `json:"Outcome,omitempty"`
	Iterations int             `json:"Iterations"`
	Lower      *float64        `json:"Lower,omitempty"`
	Upper      *float64        `json:"Upper,omitempty"`
	Warning    string          `json:"Warning,omitempty"`
	Summary    *report.Summary `json:"Summary,omitempty"`
}

// ProgressUpdate is one websocket message of a run's progress stream.
type ProgressUpdate struct {
	Iteration  int      `json:"Iteration"`
	Lower      *float64 `json:"Lower,omitempty"`
	Upper      *float64 `json:"Upper,omitempty"`
	Gap        *float64 `json:"Gap,omitempty"`
	Infeasible int      `json:"Infeasible"`
}

type run struct {
	status   Status
	progress []ProgressUpdate
	pub      *msg.PubSub
	cancel   context.CancelFunc
	finished time.Time
}

// App serves planning runs over HTTP. Finished runs are dropped once they are older than the
// retention.
type App struct {
	mux       *sync.Mutex
	pid       uuid.UUID
	runner    Runner
	metrics   *metrics.Collector
	runs      map[uuid.UUID]*run
	wg        *sync.WaitGroup
	retention time.Duration
	now       func() time.Time
}

// Option configures an App.
type Option func(*App)

// WithRetention keeps finished runs for d. Zero keeps them for the life of the App.
func WithRetention(d time.Duration) Option {
	return func(app *App) {
		app.retention = d
	}
}

// New returns an App that executes plans with runner.
func New(runner Runner, m *metrics.Collector, opts ...Option) *App {
	app := &App{
		mux:       &sync.Mutex{},
		pid:       uuid.New(),
		runner:    runner,
		metrics:   m,
		runs:      make(map[uuid.UUID]*run),
		wg:        &sync.WaitGroup{},
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, o := range opts {
		o(app)
	}
	return app
}

// evict drops finished runs past the retention. The caller holds app.mux.
func (app *App) evict() {
	if app.retention <= 0 {
		return
	}
	now := app.now()
	for id, rn := range app.runs {
		if rn.status.State != Running && now.Sub(rn.finished) > app.retention {
			delete(app.runs, id)
			log.Printf("[Webservice] run %s evicted\n", id)
		}
	}
}

func (app *App) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", app.BaseHandler)
	r.HandleFunc("/plans", app.ListHandler).Methods("GET")
	r.HandleFunc("/plans", app.SubmitHandler).Methods("POST")
	r.HandleFunc("/plans/{pid}", app.PlanHandler).Methods("GET")
	r.HandleFunc("/plans/{pid}", app.CancelHandler).Methods("DELETE")
	r.HandleFunc("/plans/{pid}/progress", app.ProgressHandler).Methods("GET")
	r.Handle("/metrics", app.metrics.Handler())
	return r
}

// Wait blocks until every submitted run has finished.
func (app *App) Wait() {
	app.wg.Wait()
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Println("[Webservice] malformed JSON:", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		log.Println("[Webservice]", err)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, struct {
		Error string `json:"Error"`
	}{err.Error()})
}

func (app *App) BaseHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
}

// SubmitHandler starts the run posted as a JSON run configuration.
func (app *App) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := config.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	rn := &run{
		status: Status{ID: id, Name: cfg.Name, State: Running},
		pub:    msg.NewPublisher(id),
		cancel: cancel,
	}
	progress, err := rn.pub.Subscribe(app.pid, msg.Progress)
	if err != nil {
		cancel()
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	app.mux.Lock()
	app.evict()
	app.runs[id] = rn
	status := rn.status
	app.mux.Unlock()

	app.wg.Add(2)
	go app.record(rn, progress)
	go app.execute(ctx, rn, cfg)

	log.Printf("[Webservice] run %s (%s) submitted\n", id, cfg.Name)
	w.Header().Set("Location", "/plans/"+id.String())
	writeJSON(w, http.StatusAccepted, status)
}

func (app *App) execute(ctx context.Context, rn *run, cfg config.Run) {
	defer app.wg.Done()
	defer rn.cancel()
	start := time.Now()
	res, err := app.runner(ctx, cfg, rn.pub)
	rn.pub.Close()

	app.mux.Lock()
	defer app.mux.Unlock()
	rn.finished = app.now()
	if err != nil {
		rn.status.State = Failed
		rn.status.Error = err.Error()
		log.Printf("[Webservice] run %s failed: %v\n", rn.status.ID, err)
		return
	}
	rn.status.State = Finished
	rn.status.Outcome = res.Outcome.Status.String()
	rn.status.Iterations = res.Outcome.Iterations
	rn.status.Lower = finite(res.Outcome.Lower)
	rn.status.Upper = finite(res.Outcome.Upper)
	if res.Warning != nil {
		rn.status.Warning = res.Warning.Error()
	}
	if res.Outcome.Values != nil {
		summary := res.Summary
		rn.status.Summary = &summary
	}
	log.Printf("[Webservice] run %s finished in %s: %s\n", rn.status.ID, time.Since(start).Round(time.Millisecond), rn.status.Outcome)
}

func (app *App) record(rn *run, progress <-chan msg.Msg) {
	defer app.wg.Done()
	for m := range progress {
		p, ok := m.Payload().(decomposition.Progress)
		if !ok {
			continue
		}
		app.mux.Lock()
		rn.progress = append(rn.progress, update(p))
		if rn.status.State == Running {
			rn.status.Iterations = p.Iteration
			rn.status.Lower = finite(p.Lower)
			rn.status.Upper = finite(p.Upper)
		}
		app.mux.Unlock()
	}
}

func update(p decomposition.Progress) ProgressUpdate {
	return ProgressUpdate{
		Iteration:  p.Iteration,
		Lower:      finite(p.Lower),
		Upper:      finite(p.Upper),
		Gap:        finite(p.Gap),
		Infeasible: p.Infeasible,
	}
}

func finite(f float64) *float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

func (app *App) lookup(w http.ResponseWriter, r *http.Request) (*run, bool) {
	pid, err := uuid.Parse(mux.Vars(r)["pid"])
	if err != nil {
		log.Println("[Webservice] malformed UUID:", err)
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	app.mux.Lock()
	app.evict()
	rn, ok := app.runs[pid]
	app.mux.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}
	return rn, true
}

func (app *App) ListHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	app.mux.Lock()
	app.evict()
	list := make([]Status, 0, len(app.runs))
	for _, rn := range app.runs {
		list = append(list, rn.status)
	}
	app.mux.Unlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name || (list[i].Name == list[j].Name && list[i].ID.String() < list[j].ID.String())
	})
	writeJSON(w, http.StatusOK, list)
}

func (app *App) PlanHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	rn, ok := app.lookup(w, r)
	if !ok {
		return
	}
	app.mux.Lock()
	status := rn.status
	app.mux.Unlock()
	writeJSON(w, http.StatusOK, status)
}

// CancelHandler cancels a running plan. The run ends as failed with the context error.
func (app *App) CancelHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	rn, ok := app.lookup(w, r)
	if !ok {
		return
	}
	rn.cancel()
	w.WriteHeader(http.StatusAccepted)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ProgressHandler streams the progress of a run over a websocket: first the iterations
// recorded so far, then every new one until the run ends.
func (app *App) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	rn, ok := app.lookup(w, r)
	if !ok {
		return
	}
	// subscribe before the history is read so no iteration falls between the two
	sub := uuid.New()
	live, err := rn.pub.Subscribe(sub, msg.Progress)
	if err == nil {
		defer rn.pub.Unsubscribe(sub)
	}
	app.mux.Lock()
	history := append([]ProgressUpdate(nil), rn.progress...)
	app.mux.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[Webservice] websocket:", err)
		return
	}
	defer conn.Close()

	last := 0
	for _, u := range history {
		if err := conn.WriteJSON(u); err != nil {
			return
		}
		last = u.Iteration
	}
	if live != nil {
		for m := range live {
			p, ok := m.Payload().(decomposition.Progress)
			if !ok || p.Iteration <= last {
				continue
			}
			if err := conn.WriteJSON(update(p)); err != nil {
				return
			}
			last = p.Iteration
		}
	}
	deadline := time.Now().Add(time.Second)
	closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run ended")
	if err := conn.WriteControl(websocket.CloseMessage, closing, deadline); err != nil {
		log.Println("[Webservice] websocket close:", err)
	}
}
