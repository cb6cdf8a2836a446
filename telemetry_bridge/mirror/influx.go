package mirror

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"

	"telemetry-bridge/telemetry_bridge/bridge"
	"telemetry-bridge/utils"
)

type InfluxConfig struct {
	Host          string
	Token         string
	Database      string
	Measurement   string
	Tags          map[string]string
	BatchSize     int
	FlushInterval time.Duration
}

// InfluxMirror writes one point per packet; every finite field becomes a
// point field.
type InfluxMirror struct {
	client  *influxdb3.Client
	cfg     InfluxConfig
	batcher *Batcher[bridge.Packet]
}

func NewInfluxMirror(cfg InfluxConfig, log *utils.Logger) (*InfluxMirror, error) {
	if cfg.Measurement == "" {
		cfg.Measurement = "telemetry"
	}
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     cfg.Host,
		Token:    cfg.Token,
		Database: cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("influxdb client: %w", err)
	}
	m := &InfluxMirror{client: client, cfg: cfg}
	m.batcher = NewBatcher("influxdb", cfg.BatchSize, cfg.FlushInterval, m.write, log)
	m.batcher.Start()
	return m, nil
}

func (m *InfluxMirror) Mirror(p bridge.Packet) { m.batcher.Add(p) }

func (m *InfluxMirror) Dropped() uint64 { return m.batcher.Dropped() }

func (m *InfluxMirror) Close() error {
	_ = m.batcher.Close()
	return m.client.Close()
}

func (m *InfluxMirror) write(ctx context.Context, pkts []bridge.Packet) error {
	points := make([]*influxdb3.Point, 0, len(pkts))
	for _, p := range pkts {
		fields := pointFields(p)
		if len(fields) == 0 {
			continue
		}
		points = append(points, influxdb3.NewPoint(m.cfg.Measurement, m.cfg.Tags, fields, packetTime(p.Timestamp)))
	}
	if len(points) == 0 {
		return nil
	}
	if err := m.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("write %d points: %w", len(points), err)
	}
	return nil
}

// line protocol has no representation for NaN or Inf
func pointFields(p bridge.Packet) map[string]any {
	out := make(map[string]any, len(p.Fields))
	for k, v := range p.Fields {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[k] = v
	}
	return out
}

func packetTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}
