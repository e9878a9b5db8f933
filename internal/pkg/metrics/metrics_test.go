package metrics

import (
	"io/ioutil"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gotest.tools/v3/assert"
)

func TestObserveIteration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	assert.NilError(t, err)

	c.ObserveIteration("scenario", 10, 12, 0.2)
	c.ObserveIteration("scenario", 11, 12, 0.1)

	assert.Equal(t, testutil.ToFloat64(c.Iterations.WithLabelValues("scenario")), 2.0)
	assert.Equal(t, testutil.ToFloat64(c.LowerBound.WithLabelValues("scenario")), 11.0)
	assert.Equal(t, testutil.ToFloat64(c.Gap.WithLabelValues("scenario")), 0.1)
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(reg)
	assert.NilError(t, err)
	b, err := New(reg)
	assert.NilError(t, err)

	a.ObserveIteration("year", 1, 2, 0.5)
	assert.Equal(t, testutil.ToFloat64(b.Iterations.WithLabelValues("year")), 1.0)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.ObserveIteration("none", 0, 0, 0)
	c.ObserveSolve("master", 1)
	c.SetProblemSize(1, 2, 3, 4)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	assert.NilError(t, err)
	c.SetProblemSize(10, 2, 7, 30)
	c.ObserveSolve("master", 0.02)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := ioutil.ReadAll(rec.Body)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(body), `gridplan_problem_size{quantity="constraints"} 7`))
	assert.Assert(t, strings.Contains(string(body), `gridplan_solve_duration_seconds_count{role="master"} 1`))
}
