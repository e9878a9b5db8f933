/*
influx.go Time series source backed by InfluxDB 2. Points of one measurement carry the network
and series name as tags; the step is the point's position in time order.
*/

package influx

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"

	"github.com/google/uuid"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/ohowland/gridplan/internal/pkg/timeseries"
)

// Handler reads series from one bucket.
type Handler struct {
	pid    uuid.UUID
	config config
}

type config struct {
	URL         string `json:"URL"`
	Token       string `json:"Token"`
	Org         string `json:"Org"`
	Bucket      string `json:"Bucket"`
	Measurement string `json:"Measurement"`
	// Start and Stop bound the queried range, as Flux durations or RFC3339 times.
	Start string `json:"Start"`
	Stop  string `json:"Stop"`
}

// PID returns the handler identifier.
func (h Handler) PID() uuid.UUID {
	return h.pid
}

// New reads the handler config at configPath.
func New(configPath string) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}
	if cfg.URL == "" || cfg.Bucket == "" {
		return Handler{}, fmt.Errorf("influx: URL and Bucket are required")
	}
	if cfg.Measurement == "" {
		cfg.Measurement = "series"
	}
	if cfg.Start == "" {
		cfg.Start = "0"
	}

	pid, _ := uuid.NewUUID()
	return Handler{pid: pid, config: cfg}, nil
}

// Query returns the Flux query selecting the points of network.
func (h Handler) Query(network string) string {
	c := h.config
	rng := fmt.Sprintf("start: %s", c.Start)
	if c.Stop != "" {
		rng += fmt.Sprintf(", stop: %s", c.Stop)
	}
	return fmt.Sprintf(`from(bucket: %q)
  |> range(%s)
  |> filter(fn: (r) => r._measurement == %q and r.network == %q and r._field == "value")
  |> group(columns: ["series"])
  |> sort(columns: ["_time"])`, c.Bucket, rng, c.Measurement, network)
}

// Series loads every series stored for network.
func (h Handler) Series(ctx context.Context, network string) (timeseries.Series, error) {
	client := influxdb2.NewClient(h.config.URL, h.config.Token)
	defer client.Close()

	result, err := client.QueryAPI(h.config.Org).Query(ctx, h.Query(network))
	if err != nil {
		return nil, fmt.Errorf("influx: %w", err)
	}
	defer result.Close()

	s := timeseries.Series{}
	points := 0
	for result.Next() {
		rec := result.Record()
		name, ok := rec.ValueByKey("series").(string)
		if !ok {
			return nil, fmt.Errorf("influx: point at %s has no series tag", rec.Time())
		}
		v, err := toFloat(rec.Value())
		if err != nil {
			return nil, fmt.Errorf("influx: series %s at %s: %w", name, rec.Time(), err)
		}
		s[name] = append(s[name], v)
		points++
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("influx: %w", err)
	}
	log.Printf("[Influx Series] %s: %d series, %d points\n", network, len(s), points)
	return s, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("value %v of type %T is not numeric", v, v)
}
