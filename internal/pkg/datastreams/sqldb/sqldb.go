/*
sqldb.go Time series source backed by MySQL or PostgreSQL. Rows are (network, series, step,
value) with 1-based steps; every series of a network must cover the same contiguous steps.
*/

package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/gridplan/internal/pkg/timeseries"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Handler reads series for planning runs.
type Handler struct {
	pid    uuid.UUID
	config config
}

type config struct {
	Driver   string `json:"Driver"`
	Server   string `json:"Server"`
	Port     int    `json:"Port"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	Database string `json:"Database"`
	Table    string `json:"Table"`
	// Timeout bounds one query, in seconds.
	Timeout int `json:"Timeout"`
}

// PID returns the handler identifier.
func (h Handler) PID() uuid.UUID {
	return h.pid
}

// New reads the handler config at configPath. Driver is "mysql" or "postgres".
func New(configPath string) (Handler, error) {
	jsonConfig, err := ioutil.ReadFile(configPath)
	if err != nil {
		return Handler{}, err
	}
	cfg := config{}
	if err := json.Unmarshal(jsonConfig, &cfg); err != nil {
		return Handler{}, err
	}
	if cfg.Driver != "mysql" && cfg.Driver != "postgres" {
		return Handler{}, fmt.Errorf("sqldb: unsupported driver %q", cfg.Driver)
	}
	if cfg.Table == "" {
		cfg.Table = "series"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30
	}

	pid, _ := uuid.NewUUID()
	return Handler{pid: pid, config: cfg}, nil
}

// DSN returns the driver specific data source name.
func (h Handler) DSN() string {
	c := h.config
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Server, c.Port, c.Username, c.Password, c.Database)
	}
	return fmt.Sprintf("%v:%v@tcp(%v:%v)/%v", c.Username, c.Password, c.Server, c.Port, c.Database)
}

// DB opens a connection pool.
func (h Handler) DB() (*sql.DB, error) {
	return sql.Open(h.config.Driver, h.DSN())
}

func (h Handler) query() string {
	placeholder := "?"
	if h.config.Driver == "postgres" {
		placeholder = "$1"
	}
	return fmt.Sprintf(`SELECT series, step, value FROM %s WHERE network = %s ORDER BY series, step`,
		h.config.Table, placeholder)
}

// Series loads every series stored for network.
func (h Handler) Series(ctx context.Context, network string) (timeseries.Series, error) {
	db, err := h.DB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(h.config.Timeout)*time.Second)
	defer cancel()
	rows, err := db.QueryContext(ctx, h.query(), network)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query %s: %w", h.config.Table, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Series, &p.Step, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s, err := Collect(points)
	if err != nil {
		return nil, fmt.Errorf("sqldb: network %s: %w", network, err)
	}
	log.Printf("[SQL Series] %s: %d series, %d points\n", network, len(s), len(points))
	return s, nil
}

// Point is one stored value.
type Point struct {
	Series string
	Step   int
	Value  float64
}

// Collect assembles points into series. Steps of a series must be exactly 1..n in any order.
func Collect(points []Point) (timeseries.Series, error) {
	steps := make(map[string]map[int]float64)
	for _, p := range points {
		if steps[p.Series] == nil {
			steps[p.Series] = make(map[int]float64)
		}
		if _, dup := steps[p.Series][p.Step]; dup {
			return nil, fmt.Errorf("series %s: step %d stored twice", p.Series, p.Step)
		}
		steps[p.Series][p.Step] = p.Value
	}

	s := make(timeseries.Series, len(steps))
	for name, byStep := range steps {
		values := make([]float64, len(byStep))
		for step, v := range byStep {
			if step < 1 || step > len(byStep) {
				return nil, fmt.Errorf("series %s: step %d outside 1..%d", name, step, len(byStep))
			}
			values[step-1] = v
		}
		s[name] = values
	}
	return s, nil
}
