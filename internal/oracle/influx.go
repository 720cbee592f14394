package oracle

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
)

// Influx queries an InfluxDB 1.x server with one statement per sensor, all
// sent in a single request.
type Influx struct {
	Client      client.Client
	Database    string
	Measurement string
	Field       string
	Logger      *zap.Logger
}

// NewInflux accepts the server address with or without the /query suffix.
func NewInflux(endpoint, db string, timeout time.Duration, log *zap.Logger) (*Influx, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c, err := client.NewHTTPClient(client.HTTPConfig{Addr: serverAddr(endpoint), Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("influx client: %w", err)
	}
	return &Influx{
		Client:      c,
		Database:    db,
		Measurement: "fixed_stations_01",
		Field:       "pm25",
		Logger:      log,
	}, nil
}

func serverAddr(endpoint string) string {
	addr := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	return strings.TrimSuffix(addr, "/query")
}

// ctxQuerier lets a cancelled cycle abort an in-flight query.
type ctxQuerier interface {
	QueryCtx(ctx context.Context, q client.Query) (*client.Response, error)
}

func (c *Influx) Close() error { return c.Client.Close() }

func (c *Influx) Query(ctx context.Context, roster []domain.Sensor, window time.Duration) (domain.Partition, error) {
	if len(roster) == 0 {
		return domain.Partition{}, nil
	}

	start := time.Now()
	q := client.NewQuery(c.Statements(roster, window), c.Database, "")
	var (
		resp *client.Response
		err  error
	)
	if qc, ok := c.Client.(ctxQuerier); ok {
		resp, err = qc.QueryCtx(ctx, q)
	} else {
		resp, err = c.Client.Query(q)
	}
	if err != nil {
		return domain.Partition{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp == nil {
		return domain.Partition{}, fmt.Errorf("%w: empty response", ErrUnavailable)
	}
	if err := resp.Error(); err != nil {
		return domain.Partition{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	seen := make(map[string]struct{})
	for _, r := range resp.Results {
		for _, s := range r.Series {
			col := indexOf(s.Columns, "name", 1)
			for _, row := range s.Values {
				if col < len(row) {
					if name, ok := row[col].(string); ok && name != "" {
						seen[name] = struct{}{}
					}
				}
			}
		}
	}

	p := Split(roster, seen)
	c.Logger.Debug("oracle_query_done",
		zap.Int("total", len(roster)),
		zap.Int("available", len(p.Available)),
		zap.Int("unavailable", len(p.Unavailable)),
		zap.Float64("latency_ms", time.Since(start).Seconds()*1000),
	)
	return p, nil
}

// Statements renders the InfluxQL sent for roster, one SELECT per sensor.
func (c *Influx) Statements(roster []domain.Sensor, window time.Duration) string {
	minutes := int(math.Ceil(window.Minutes()))
	var b strings.Builder
	for _, s := range roster {
		fmt.Fprintf(&b,
			`SELECT "name", last(%q) FROM %q WHERE ("name" = '%s') AND time >= now() - %dm and time <= now() GROUP BY time(30s) fill(none);`,
			c.Field, c.Measurement, quoteLiteral(s.SourceKey()), minutes)
	}
	return b.String()
}

func quoteLiteral(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `'`, `\'`)
}

func indexOf(cols []string, name string, fallback int) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return fallback
}
