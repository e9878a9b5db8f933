package webservice

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ohowland/gridplan/internal/pkg/config"
	"github.com/ohowland/gridplan/internal/pkg/decomposition"
	"github.com/ohowland/gridplan/internal/pkg/metrics"
	"github.com/ohowland/gridplan/internal/pkg/msg"
	"github.com/ohowland/gridplan/internal/pkg/planner"
	"github.com/ohowland/gridplan/internal/pkg/report"
	"github.com/ohowland/gridplan/internal/pkg/solver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gotest.tools/v3/assert"
)

const runConfig = `{
  "Name": "two-bus",
  "Dimensions": {"Hours": 1, "Years": 1, "Probabilities": [1]},
  "Transmission": {"Network": "case.json"},
  "Formulation": "dc"
}`

// stagedRunner reports one iteration, waits for release, then reports a second one and
// finishes with an optimal plan of cost 12.
func stagedRunner(release <-chan struct{}) Runner {
	return func(ctx context.Context, cfg config.Run, pub *msg.PubSub) (planner.Result, error) {
		pub.Publish(msg.Progress, decomposition.Progress{Iteration: 1, Lower: 10, Upper: math.Inf(1), Gap: math.Inf(1)})
		select {
		case <-release:
		case <-ctx.Done():
			return planner.Result{}, ctx.Err()
		}
		pub.Publish(msg.Progress, decomposition.Progress{Iteration: 2, Lower: 12, Upper: 12})
		return planner.Result{
			Name: cfg.Name,
			Outcome: decomposition.Outcome{
				Status:     solver.Optimal,
				Values:     []float64{1},
				Objective:  12,
				Lower:      12,
				Upper:      12,
				Iterations: 2,
			},
			Summary: report.Summary{Objective: decimal.NewFromInt(12)},
		}, nil
	}
}

func released() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func submit(t *testing.T, app *App) Status {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "http://example.com/plans", bytes.NewBufferString(runConfig))
	app.Router().ServeHTTP(w, r)
	assert.Equal(t, w.Code, http.StatusAccepted, w.Body.String())

	status := Status{}
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, w.Header().Get("Location"), "/plans/"+status.ID.String())
	return status
}

func get(t *testing.T, app *App, path string) (*httptest.ResponseRecorder, Status) {
	t.Helper()
	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest("GET", "http://example.com"+path, nil))
	status := Status{}
	if w.Code == http.StatusOK {
		assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &status))
	}
	return w, status
}

func TestBase(t *testing.T) {
	app := New(stagedRunner(released()), nil)
	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest("GET", "http://example.com/", nil))
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Header().Get("Content-Type"), "application/json; charset=UTF-8")
}

func TestSubmitInvalidConfig(t *testing.T) {
	app := New(stagedRunner(released()), nil)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "http://example.com/plans", bytes.NewBufferString(`{"Name": "x"}`))
	app.Router().ServeHTTP(w, r)
	assert.Equal(t, w.Code, http.StatusBadRequest)
	assert.Assert(t, strings.Contains(w.Body.String(), "missing Transmission.Network"))
}

func TestSubmitAndPoll(t *testing.T) {
	app := New(stagedRunner(released()), nil)
	submitted := submit(t, app)
	assert.Equal(t, submitted.State, Running)
	assert.Equal(t, submitted.Name, "two-bus")
	app.Wait()

	w, status := get(t, app, "/plans/"+submitted.ID.String())
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, status.State, Finished)
	assert.Equal(t, status.Outcome, "optimal")
	assert.Equal(t, status.Iterations, 2)
	assert.Equal(t, *status.Lower, 12.0)
	assert.Assert(t, status.Summary != nil)
	assert.Assert(t, status.Summary.Objective.Equal(decimal.NewFromInt(12)))

	w = httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest("GET", "http://example.com/plans", nil))
	var list []Status
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, len(list), 1)
	assert.Equal(t, list[0].ID, submitted.ID)
}

func TestUnknownPlan(t *testing.T) {
	app := New(stagedRunner(released()), nil)
	w, _ := get(t, app, "/plans/"+uuid.New().String())
	assert.Equal(t, w.Code, http.StatusNotFound)

	w, _ = get(t, app, "/plans/not-a-uuid")
	assert.Equal(t, w.Code, http.StatusBadRequest)
}

func TestCancel(t *testing.T) {
	app := New(stagedRunner(make(chan struct{})), nil)
	submitted := submit(t, app)

	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest("DELETE", "http://example.com/plans/"+submitted.ID.String(), nil))
	assert.Equal(t, w.Code, http.StatusAccepted)
	app.Wait()

	_, status := get(t, app, "/plans/"+submitted.ID.String())
	assert.Equal(t, status.State, Failed)
	assert.Equal(t, status.Error, context.Canceled.Error())
}

func TestProgressStream(t *testing.T) {
	release := make(chan struct{})
	app := New(stagedRunner(release), nil)
	srv := httptest.NewServer(app.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/plans", "application/json", bytes.NewBufferString(runConfig))
	assert.NilError(t, err)
	body, err := ioutil.ReadAll(resp.Body)
	resp.Body.Close()
	assert.NilError(t, err)
	submitted := Status{}
	assert.NilError(t, json.Unmarshal(body, &submitted))

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, status := get(t, app, "/plans/"+submitted.ID.String())
		if status.Iterations == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first iteration not recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/plans/" + submitted.ID.String() + "/progress"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NilError(t, err)
	defer conn.Close()

	first := ProgressUpdate{}
	assert.NilError(t, conn.ReadJSON(&first))
	assert.Equal(t, first.Iteration, 1)
	assert.Equal(t, *first.Lower, 10.0)
	assert.Assert(t, first.Upper == nil)

	close(release)
	second := ProgressUpdate{}
	assert.NilError(t, conn.ReadJSON(&second))
	assert.Equal(t, second.Iteration, 2)
	assert.Equal(t, *second.Upper, 12.0)

	_, _, err = conn.ReadMessage()
	assert.Assert(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	app.Wait()
}

func TestFinishedRunsExpire(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	app := New(stagedRunner(released()), nil, WithRetention(time.Hour))
	app.now = func() time.Time { return now }

	old := submit(t, app)
	app.Wait()
	now = now.Add(30 * time.Minute)
	w, _ := get(t, app, "/plans/"+old.ID.String())
	assert.Equal(t, w.Code, http.StatusOK)

	now = now.Add(time.Hour)
	fresh := submit(t, app)
	app.Wait()

	w, _ = get(t, app, "/plans/"+old.ID.String())
	assert.Equal(t, w.Code, http.StatusNotFound)
	w, status := get(t, app, "/plans/"+fresh.ID.String())
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, status.State, Finished)

	w = httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest("GET", "http://example.com/plans", nil))
	var list []Status
	assert.NilError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, len(list), 1)
	assert.Equal(t, list[0].ID, fresh.ID)
}

func TestRunningRunsAreKept(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	release := make(chan struct{})
	app := New(stagedRunner(release), nil, WithRetention(time.Minute))
	app.now = func() time.Time { return now }

	submitted := submit(t, app)
	now = now.Add(time.Hour)
	w, status := get(t, app, "/plans/"+submitted.ID.String())
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, status.State, Running)

	close(release)
	app.Wait()
}

func TestRetentionConfig(t *testing.T) {
	assert.Equal(t, Config{}.Retention(), DefaultRetention)
	assert.Equal(t, Config{RetentionMinutes: 90}.Retention(), 90*time.Minute)
	assert.Equal(t, Config{RetentionMinutes: -1}.Retention(), time.Duration(0))
}

func TestMetricsEndpoint(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	assert.NilError(t, err)
	m.SetProblemSize(3, 1, 2, 5)

	app := New(stagedRunner(released()), m)
	w := httptest.NewRecorder()
	app.Router().ServeHTTP(w, httptest.NewRequest("GET", "http://example.com/metrics", nil))
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Assert(t, strings.Contains(w.Body.String(), `gridplan_problem_size{quantity="vars"} 3`))
}
