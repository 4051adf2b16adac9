package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/fleetctl/core/metrics"
	"github.com/kilianp07/fleetctl/infra/logger"
)

// InfluxConfig holds the connection settings of the InfluxDB sink.
type InfluxConfig struct {
	URL       string `json:"url"`
	Token     string `json:"token"`
	Org       string `json:"org"`
	Bucket    string `json:"bucket"`
	TimeoutMS int    `json:"timeout_ms"`
}

func (c InfluxConfig) timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// InfluxSink writes control loop events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	timeout  time.Duration
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: cfg.timeout()}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		timeout:  cfg.timeout(),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), sink.timeout)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordCommand writes a command_sent point.
func (s *InfluxSink) RecordCommand(ev coremetrics.CommandEvent) error {
	p := write.NewPointWithMeasurement("command_sent").
		AddTag("channel", ev.Channel).
		AddTag("success", boolTag(ev.Success))
	if ev.UnitID > 0 {
		p = p.AddTag("unit_id", strconv.Itoa(ev.UnitID))
	}
	p = p.AddField("payload", ev.Payload).
		AddField("latency_ms", round3(ev.Latency.Seconds()*1000))
	if ev.Error != "" {
		p = p.AddField("error", ev.Error)
	}
	return s.write(p.SetTime(ev.Time))
}

// RecordTick writes a scheduler_tick point.
func (s *InfluxSink) RecordTick(ev coremetrics.TickEvent) error {
	p := write.NewPointWithMeasurement("scheduler_tick").
		AddTag("outcome", ev.Outcome).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordCoverage writes a map_coverage point.
func (s *InfluxSink) RecordCoverage(ev coremetrics.CoverageEvent) error {
	p := write.NewPointWithMeasurement("map_coverage").
		AddField("covered", ev.Covered).
		AddField("total", ev.Total).
		AddField("ratio", round3(ev.Ratio())).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordState writes a scheduler_state point.
func (s *InfluxSink) RecordState(ev coremetrics.StateEvent) error {
	p := write.NewPointWithMeasurement("scheduler_state").
		AddTag("to", ev.To).
		AddField("from", ev.From).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordMarker writes a navigation_marker point.
func (s *InfluxSink) RecordMarker(ev coremetrics.MarkerEvent) error {
	p := write.NewPointWithMeasurement("navigation_marker").
		AddField("previous", ev.Previous).
		AddField("current", ev.Current).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the client resources.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
