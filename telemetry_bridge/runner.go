package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telemetry-bridge/canmap"
	"telemetry-bridge/telemetry_bridge/bridge"
	"telemetry-bridge/telemetry_bridge/mirror"
	"telemetry-bridge/utils"
)

type closableMirror interface {
	bridge.Mirror
	Close() error
}

type Runner struct {
	cfg     *Config
	log     *utils.Logger
	table   *canmap.CANMap
	link    SerialLink
	udp     net.Conn
	echo    canmap.CANWriter
	mirrors []closableMirror
	reg     *prometheus.Registry
	metrics *http.Server
	bridge  *bridge.Bridge
}

func NewRunner(ctx context.Context, cfg *Config, log *utils.Logger) (*Runner, error) {
	port, err := utils.OpenSerial(cfg.Serial.Port, cfg.Serial.Baud, cfg.Serial.ReadTimeout)
	if err != nil {
		return nil, err
	}
	r, err := newRunner(ctx, cfg, log, port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return r, nil
}

func newRunner(ctx context.Context, cfg *Config, log *utils.Logger, link SerialLink) (*Runner, error) {
	table, err := canmap.Load(cfg.SignalTable)
	if err != nil {
		return nil, fmt.Errorf("load signal table: %w", err)
	}
	codec, err := bridge.NewPacketCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:   cfg,
		log:   log,
		table: table,
		link:  link,
		reg:   prometheus.NewRegistry(),
	}

	r.udp, err = net.Dial("udp", cfg.UDP.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", cfg.UDP.Addr, err)
	}

	if cfg.CANEcho != "" {
		echo, err := canmap.NewSocketCANWriter(ctx, cfg.CANEcho)
		if err != nil {
			r.closeOutputs()
			return nil, err
		}
		r.echo = echo
	}
	if cfg.Influx.Host != "" {
		m, err := mirror.NewInfluxMirror(cfg.influxConfig(), log.With("mirror", "influxdb"))
		if err != nil {
			r.closeOutputs()
			return nil, err
		}
		r.mirrors = append(r.mirrors, m)
	}
	if cfg.ClickHouse.Addr != "" {
		m, err := mirror.NewClickHouseMirror(ctx, cfg.clickHouseConfig(), log.With("mirror", "clickhouse"))
		if err != nil {
			r.closeOutputs()
			return nil, err
		}
		r.mirrors = append(r.mirrors, m)
	}

	mirrors := make([]bridge.Mirror, len(r.mirrors))
	for i, m := range r.mirrors {
		mirrors[i] = m
	}
	r.bridge = bridge.New(cfg.bridgeConfig(), table, bridge.Outputs{
		Datagram: r.udp,
		Serial:   link,
		Codec:    codec,
		Echo:     r.echo,
		Mirrors:  mirrors,
		Metrics:  bridge.NewMetrics(r.reg),
	}, log)

	return r, nil
}

func (r *Runner) Close() {
	r.closeOutputs()
	if r.link != nil {
		_ = r.link.Close()
	}
}

// closeOutputs releases everything except the serial link.
func (r *Runner) closeOutputs() {
	if r.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = r.metrics.Shutdown(ctx)
		cancel()
	}
	for _, m := range r.mirrors {
		if err := m.Close(); err != nil {
			r.log.Warn("mirror close", "err", err)
		}
	}
	if r.echo != nil {
		_ = r.echo.Close()
	}
	if r.udp != nil {
		_ = r.udp.Close()
	}
}

func (r *Runner) serveMetrics() {
	if r.cfg.Metrics.Addr == "" {
		return
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
	r.metrics = &http.Server{Addr: r.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := r.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("metrics server", "addr", r.cfg.Metrics.Addr, "err", err)
		}
	}()
	r.log.Info("metrics listening", "addr", r.cfg.Metrics.Addr)
}

// Run drives the bridge until ctx is cancelled or the serial link fails.
// A dedicated goroutine performs the blocking reads; everything else runs
// on this goroutine.
func (r *Runner) Run(ctx context.Context) error {
	r.serveMetrics()

	r.log.Info("bridge running",
		"port", r.cfg.Serial.Port,
		"baud", r.cfg.Serial.Baud,
		"udp", r.cfg.UDP.Addr,
		"signals", r.table.Source,
		"frames", r.table.Len(),
		"codec", r.cfg.Codec,
		"snapshot_policy", r.cfg.Snapshot)

	readCtx, stopReader := context.WithCancel(ctx)
	defer stopReader()

	chunks := make(chan []byte, r.cfg.Serial.ChunkQueue)
	errs := make(chan error, 1)
	go readLoop(readCtx, r.link, chunks, errs)

	ticker := time.NewTicker(r.cfg.Timing.ServiceInterval)
	defer ticker.Stop()

	r.bridge.Start(time.Now())
	for {
		select {
		case <-ctx.Done():
			r.logSummary()
			return ctx.Err()

		case err := <-errs:
			r.logSummary()
			return fmt.Errorf("serial read: %w", err)

		case chunk := <-chunks:
			now := time.Now()
			r.bridge.Ingest(ctx, chunk, now)
			r.bridge.Service(now)

		case now := <-ticker.C:
			r.bridge.Service(now)
		}
	}
}

func (r *Runner) logSummary() {
	st := r.bridge.ParserStats()
	r.log.Info("bridge stopped",
		"envelopes", st.Envelopes,
		"bad_crc", st.BadCRC,
		"bad_length", st.BadLength,
		"unknown", st.Unknown)
}
