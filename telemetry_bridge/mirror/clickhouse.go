package mirror

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"telemetry-bridge/telemetry_bridge/bridge"
	"telemetry-bridge/utils"
)

type ClickHouseConfig struct {
	Addr          string
	Database      string
	Username      string
	Password      string
	Table         string
	BatchSize     int
	FlushInterval time.Duration
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseMirror stores packets in long format: one row per field.
type ClickHouseMirror struct {
	conn    driver.Conn
	table   string
	batcher *Batcher[bridge.Packet]
}

type signalRow struct {
	Timestamp time.Time
	Name      string
	Value     float64
}

func NewClickHouseMirror(ctx context.Context, cfg ClickHouseConfig, log *utils.Logger) (*ClickHouseMirror, error) {
	if cfg.Table == "" {
		cfg.Table = "telemetry_signals"
	}
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", cfg.Table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	if err := conn.Exec(ctx, createTableSQL(cfg.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("clickhouse create table: %w", err)
	}

	m := &ClickHouseMirror{conn: conn, table: cfg.Table}
	m.batcher = NewBatcher("clickhouse", cfg.BatchSize, cfg.FlushInterval, m.write, log)
	m.batcher.Start()
	return m, nil
}

func createTableSQL(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			name LowCardinality(String),
			value Float64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(timestamp)
		ORDER BY (name, timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
	`, table)
}

func (m *ClickHouseMirror) Mirror(p bridge.Packet) { m.batcher.Add(p) }

func (m *ClickHouseMirror) Dropped() uint64 { return m.batcher.Dropped() }

func (m *ClickHouseMirror) Close() error {
	_ = m.batcher.Close()
	return m.conn.Close()
}

func (m *ClickHouseMirror) write(ctx context.Context, pkts []bridge.Packet) error {
	rows := packetRows(pkts)
	if len(rows) == 0 {
		return nil
	}
	batch, err := m.conn.PrepareBatch(ctx, "INSERT INTO "+m.table)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.Timestamp, r.Name, r.Value); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append row %s: %w", r.Name, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send %d rows: %w", len(rows), err)
	}
	return nil
}

// packetRows flattens packets into rows ordered by packet, then name.
func packetRows(pkts []bridge.Packet) []signalRow {
	var rows []signalRow
	for _, p := range pkts {
		ts := packetTime(p.Timestamp)
		names := make([]string, 0, len(p.Fields))
		for name := range p.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			rows = append(rows, signalRow{Timestamp: ts, Name: name, Value: p.Fields[name]})
		}
	}
	return rows
}
