package influx

import (
	"context"
	"strings"
	"testing"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"gotest.tools/v3/assert"
)

func TestGetConfig(t *testing.T) {
	h, err := New("./testdata/influx.json")
	assert.NilError(t, err)
	assert.Equal(t, h.config.Bucket, "planning")
	assert.Equal(t, h.config.Measurement, "series")

	q := h.Query("case3")
	assert.Assert(t, strings.HasPrefix(q, `from(bucket: "planning")`), q)
	assert.Assert(t, strings.Contains(q, "range(start: 2030-01-01T00:00:00Z, stop: 2030-01-02T00:00:00Z)"), q)
	assert.Assert(t, strings.Contains(q, `r.network == "case3"`), q)
}

func TestMissingBucket(t *testing.T) {
	_, err := New("./testdata/nobucket.json")
	assert.ErrorContains(t, err, "URL and Bucket are required")
}

func TestToFloat(t *testing.T) {
	v, err := toFloat(int64(3))
	assert.NilError(t, err)
	assert.Equal(t, v, 3.0)

	_, err = toFloat("high")
	assert.ErrorContains(t, err, "not numeric")
}

func TestSeriesFromServer(t *testing.T) {
	h, err := New("./testdata/influx.json")
	assert.NilError(t, err)

	client := influxdb2.NewClient(h.config.URL, h.config.Token)
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok, err := client.Ping(ctx); !ok || err != nil {
		t.Skip("no influxdb available")
	}

	_, err = h.Series(context.Background(), "case3")
	assert.NilError(t, err)
}
