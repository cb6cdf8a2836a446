package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"telemetry-bridge/telemetry_bridge/bridge"
	"telemetry-bridge/telemetry_bridge/mirror"
	"telemetry-bridge/utils"
)

type Config struct {
	Serial      SerialConfig     `yaml:"serial"`
	UDP         UDPConfig        `yaml:"udp"`
	SignalTable string           `yaml:"signal_table"`
	Timing      TimingConfig     `yaml:"timing"`
	Remote      RemoteConfig     `yaml:"remote"`
	Local       LocalConfig      `yaml:"local"`
	Snapshot    string           `yaml:"snapshot_policy"`
	Codec       string           `yaml:"codec"`
	Log         LogConfig        `yaml:"log"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	CANEcho     string           `yaml:"can_echo"`
	Influx      InfluxConfig     `yaml:"influxdb"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
}

type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	ChunkQueue  int           `yaml:"chunk_queue"`
}

type UDPConfig struct {
	Addr string `yaml:"addr"`
}

type TimingConfig struct {
	SendPeriod      time.Duration `yaml:"send_period"`
	HeartbeatPeriod time.Duration `yaml:"heartbeat_period"`
	AliveTimeout    time.Duration `yaml:"alive_timeout"`
	DiagWindow      time.Duration `yaml:"diag_window"`
	ServiceInterval time.Duration `yaml:"service_interval"`
}

type RemoteConfig struct {
	SystemID         uint8 `yaml:"system_id"`
	ComponentID      uint8 `yaml:"component_id"`
	SurfaceHeartbeat *bool `yaml:"surface_heartbeat"`
}

type LocalConfig struct {
	SystemID    uint8 `yaml:"system_id"`
	ComponentID uint8 `yaml:"component_id"`
	Type        uint8 `yaml:"type"`
	Autopilot   uint8 `yaml:"autopilot"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Stdout *bool  `yaml:"stdout"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type InfluxConfig struct {
	Host          string            `yaml:"host"`
	Token         string            `yaml:"token"`
	Database      string            `yaml:"database"`
	Measurement   string            `yaml:"measurement"`
	Tags          map[string]string `yaml:"tags"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval time.Duration     `yaml:"flush_interval"`
}

type ClickHouseConfig struct {
	Addr          string        `yaml:"addr"`
	Database      string        `yaml:"database"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// LoadConfig reads a YAML config file. An empty path yields a zero config
// that applyDefaults fills in.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	def := bridge.DefaultConfig()

	if c.Serial.Baud == 0 {
		c.Serial.Baud = def.BaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = 20 * time.Millisecond
	}
	if c.Serial.ChunkQueue == 0 {
		c.Serial.ChunkQueue = 64
	}
	if c.UDP.Addr == "" {
		c.UDP.Addr = "127.0.0.1:9870"
	}
	if c.Timing.SendPeriod == 0 {
		c.Timing.SendPeriod = def.SendPeriod
	}
	if c.Timing.HeartbeatPeriod == 0 {
		c.Timing.HeartbeatPeriod = def.HeartbeatPeriod
	}
	if c.Timing.AliveTimeout == 0 {
		c.Timing.AliveTimeout = def.AliveTimeout
	}
	if c.Timing.DiagWindow == 0 {
		c.Timing.DiagWindow = def.DiagWindow
	}
	if c.Timing.ServiceInterval == 0 {
		c.Timing.ServiceInterval = 5 * time.Millisecond
	}
	if c.Remote.SystemID == 0 {
		c.Remote.SystemID = def.RemoteSystemID
	}
	if c.Remote.SurfaceHeartbeat == nil {
		v := def.SurfaceRemoteHeartbeat
		c.Remote.SurfaceHeartbeat = &v
	}
	if c.Local.SystemID == 0 {
		c.Local.SystemID = def.LocalSystemID
	}
	if c.Local.ComponentID == 0 {
		c.Local.ComponentID = def.LocalComponentID
	}
	if c.Local.Type == 0 {
		c.Local.Type = def.Heartbeat.Type
	}
	if c.Local.Autopilot == 0 {
		c.Local.Autopilot = def.Heartbeat.Autopilot
	}
	if c.Snapshot == "" {
		c.Snapshot = string(bridge.PolicyHold)
	}
	if c.Codec == "" {
		c.Codec = "msgpack"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = "telemetry_bridge.log"
	}
	if c.Log.Stdout == nil {
		v := true
		c.Log.Stdout = &v
	}
	if c.Influx.Measurement == "" {
		c.Influx.Measurement = "telemetry"
	}
	if c.ClickHouse.Table == "" {
		c.ClickHouse.Table = "telemetry_signals"
	}
}

func (c *Config) validate() error {
	if c.Serial.Port == "" {
		return fmt.Errorf("serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be positive, got %d", c.Serial.Baud)
	}
	if c.Serial.ReadTimeout > time.Second {
		return fmt.Errorf("serial.read_timeout %s is too long for the control loop", c.Serial.ReadTimeout)
	}
	if c.SignalTable == "" {
		return fmt.Errorf("signal_table is required")
	}
	for name, d := range map[string]time.Duration{
		"timing.send_period":      c.Timing.SendPeriod,
		"timing.heartbeat_period": c.Timing.HeartbeatPeriod,
		"timing.alive_timeout":    c.Timing.AliveTimeout,
		"timing.diag_window":      c.Timing.DiagWindow,
		"timing.service_interval": c.Timing.ServiceInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if _, err := bridge.ParseSnapshotPolicy(c.Snapshot); err != nil {
		return err
	}
	if c.Codec != "msgpack" && c.Codec != "cbor" {
		return fmt.Errorf("codec must be msgpack or cbor, got %q", c.Codec)
	}
	if _, err := utils.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Influx.Host != "" && c.Influx.Database == "" {
		return fmt.Errorf("influxdb.database is required when influxdb.host is set")
	}
	return nil
}

type flagValues struct {
	config    string
	port      string
	baud      int
	udp       string
	table     string
	send      time.Duration
	heartbeat time.Duration
	alive     time.Duration
	policy    string
	codec     string
	logLevel  string
	logFile   string
	metrics   string
	canEcho   string
}

func newFlagSet(v *flagValues) *pflag.FlagSet {
	fs := pflag.NewFlagSet("telemetry_bridge", pflag.ContinueOnError)
	fs.StringVarP(&v.config, "config", "c", "", "YAML config file")
	fs.StringVarP(&v.port, "port", "p", "", "serial port, e.g. /dev/ttyUSB0")
	fs.IntVarP(&v.baud, "baud", "b", 115200, "serial baud rate")
	fs.StringVar(&v.udp, "udp", "127.0.0.1:9870", "snapshot destination host:port")
	fs.StringVarP(&v.table, "signals", "s", "", "signal table (.dbc or .csv)")
	fs.DurationVar(&v.send, "send-period", 20*time.Millisecond, "snapshot send period")
	fs.DurationVar(&v.heartbeat, "heartbeat-period", time.Second, "outbound heartbeat period")
	fs.DurationVar(&v.alive, "alive-timeout", 2*time.Second, "remote heartbeat liveness timeout")
	fs.StringVar(&v.policy, "snapshot-policy", "hold", "hold|clear")
	fs.StringVar(&v.codec, "codec", "msgpack", "msgpack|cbor")
	fs.StringVar(&v.logLevel, "log", "info", "trace|debug|info|warn|error|critical")
	fs.StringVar(&v.logFile, "log-file", "telemetry_bridge.log", "log file path")
	fs.StringVar(&v.metrics, "metrics-addr", "", "serve Prometheus metrics on this address")
	fs.StringVar(&v.canEcho, "can-echo", "", "re-emit tunneled frames on this SocketCAN interface")
	return fs
}

// applyFlags overrides file values with every flag set on the command line.
func (c *Config) applyFlags(fs *pflag.FlagSet, v *flagValues) {
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("port", func() { c.Serial.Port = v.port })
	set("baud", func() { c.Serial.Baud = v.baud })
	set("udp", func() { c.UDP.Addr = v.udp })
	set("signals", func() { c.SignalTable = v.table })
	set("send-period", func() { c.Timing.SendPeriod = v.send })
	set("heartbeat-period", func() { c.Timing.HeartbeatPeriod = v.heartbeat })
	set("alive-timeout", func() { c.Timing.AliveTimeout = v.alive })
	set("snapshot-policy", func() { c.Snapshot = v.policy })
	set("codec", func() { c.Codec = v.codec })
	set("log", func() { c.Log.Level = v.logLevel })
	set("log-file", func() { c.Log.File = v.logFile })
	set("metrics-addr", func() { c.Metrics.Addr = v.metrics })
	set("can-echo", func() { c.CANEcho = v.canEcho })
}

func (c *Config) bridgeConfig() bridge.Config {
	bc := bridge.DefaultConfig()
	bc.SendPeriod = c.Timing.SendPeriod
	bc.HeartbeatPeriod = c.Timing.HeartbeatPeriod
	bc.AliveTimeout = c.Timing.AliveTimeout
	bc.DiagWindow = c.Timing.DiagWindow
	bc.BaudRate = c.Serial.Baud
	bc.SnapshotPolicy = bridge.SnapshotPolicy(c.Snapshot)
	bc.RemoteSystemID = c.Remote.SystemID
	bc.RemoteComponentID = c.Remote.ComponentID
	bc.SurfaceRemoteHeartbeat = *c.Remote.SurfaceHeartbeat
	bc.LocalSystemID = c.Local.SystemID
	bc.LocalComponentID = c.Local.ComponentID
	bc.Heartbeat.Type = c.Local.Type
	bc.Heartbeat.Autopilot = c.Local.Autopilot
	return bc
}

func (c *Config) influxConfig() mirror.InfluxConfig {
	return mirror.InfluxConfig{
		Host:          c.Influx.Host,
		Token:         c.Influx.Token,
		Database:      c.Influx.Database,
		Measurement:   c.Influx.Measurement,
		Tags:          c.Influx.Tags,
		BatchSize:     c.Influx.BatchSize,
		FlushInterval: c.Influx.FlushInterval,
	}
}

func (c *Config) clickHouseConfig() mirror.ClickHouseConfig {
	return mirror.ClickHouseConfig{
		Addr:          c.ClickHouse.Addr,
		Database:      c.ClickHouse.Database,
		Username:      c.ClickHouse.Username,
		Password:      c.ClickHouse.Password,
		Table:         c.ClickHouse.Table,
		BatchSize:     c.ClickHouse.BatchSize,
		FlushInterval: c.ClickHouse.FlushInterval,
	}
}
