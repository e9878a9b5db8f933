package sqldb

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"
)

func TestGetConfig(t *testing.T) {
	h, err := New("./testdata/mysql.json")
	assert.NilError(t, err)

	assert.Equal(t, h.config.Port, 3306)
	assert.Equal(t, h.config.Server, "localhost")
	assert.Equal(t, h.config.Table, "series")
	assert.Equal(t, h.DSN(), "gridplan:gridplan@tcp(localhost:3306)/gridplan")
	assert.Equal(t, h.query(), "SELECT series, step, value FROM series WHERE network = ? ORDER BY series, step")
}

func TestPostgresConfig(t *testing.T) {
	h, err := New("./testdata/postgres.json")
	assert.NilError(t, err)

	assert.Equal(t, h.DSN(), "host=localhost port=5432 user=postgres password=postgres dbname=gridplan sslmode=disable")
	assert.Equal(t, h.query(), "SELECT series, step, value FROM hourly_series WHERE network = $1 ORDER BY series, step")
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New("./testdata/sqlite.json")
	assert.ErrorContains(t, err, `unsupported driver "sqlite3"`)
}

func TestCollect(t *testing.T) {
	s, err := Collect([]Point{
		{"load/1/pd", 2, 0.9},
		{"load/1/pd", 1, 0.8},
		{"gen/1/pmax", 1, 2},
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, s["load/1/pd"], []float64{0.8, 0.9})
	assert.DeepEqual(t, s["gen/1/pmax"], []float64{2})
}

func TestCollectGap(t *testing.T) {
	_, err := Collect([]Point{{"load/1/pd", 1, 0.8}, {"load/1/pd", 3, 0.9}})
	assert.ErrorContains(t, err, "step 3 outside 1..2")

	_, err = Collect([]Point{{"load/1/pd", 1, 0.8}, {"load/1/pd", 1, 0.9}})
	assert.ErrorContains(t, err, "stored twice")
}

func TestSeriesFromDatabase(t *testing.T) {
	h, err := New("./testdata/mysql.json")
	assert.NilError(t, err)
	db, err := h.DB()
	assert.NilError(t, err)
	defer db.Close()
	if err := db.Ping(); err != nil {
		t.Skip("no database available:", err)
	}

	s, err := h.Series(context.Background(), "case3")
	assert.NilError(t, err)
	for name, values := range s {
		assert.Assert(t, len(values) > 0, name)
	}
}
