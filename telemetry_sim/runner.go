package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.einride.tech/can"

	"telemetry-bridge/canmap"
	"telemetry-bridge/utils"
)

type RunnerConfig struct {
	Port         string
	Baud         int
	MapPath      string
	ScenarioPath string
	// CANIface, when set, also transmits every generated frame on a
	// local SocketCAN interface.
	CANIface string
	Loop     bool
}

type Runner struct {
	cfg    RunnerConfig
	log    *utils.Logger
	scen   Scenario
	gen    *Generator
	out    io.Writer
	closer io.Closer
	can    canmap.CANWriter
}

func NewRunner(ctx context.Context, cfg RunnerConfig, log *utils.Logger) (*Runner, error) {
	table, err := canmap.Load(cfg.MapPath)
	if err != nil {
		return nil, fmt.Errorf("load signal table: %w", err)
	}

	scen, err := LoadScenario(cfg.ScenarioPath)
	if err != nil {
		return nil, fmt.Errorf("load scenario: %w", err)
	}

	var (
		out    io.Writer = os.Stdout
		closer io.Closer
	)
	if cfg.Port != "" && cfg.Port != "-" {
		port, err := utils.OpenSerial(cfg.Port, cfg.Baud, 0)
		if err != nil {
			return nil, err
		}
		out, closer = port, port
	}

	r, err := newRunner(scen, table, out, log)
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, err
	}
	r.cfg = cfg
	r.closer = closer

	if cfg.CANIface != "" {
		w, err := canmap.NewSocketCANWriter(ctx, cfg.CANIface)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.can = w
		r.gen.OnFrame = func(f can.Frame) {
			if err := w.WriteFrame(ctx, f); err != nil {
				log.Warn("socketcan write failed", "iface", cfg.CANIface, "err", err)
			}
		}
	}
	return r, nil
}

func newRunner(scen Scenario, table *canmap.CANMap, out io.Writer, log *utils.Logger) (*Runner, error) {
	r := &Runner{log: log, scen: scen, out: out}
	gen, err := NewGenerator(&r.scen, table)
	if err != nil {
		return nil, err
	}
	r.gen = gen
	return r, nil
}

func (r *Runner) Close() {
	if r.can != nil {
		_ = r.can.Close()
	}
	if r.closer != nil {
		_ = r.closer.Close()
	}
}

func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("starting simulation",
		"scenario", r.scen.Meta.Name,
		"duration_s", r.scen.Timing.DurationS,
		"frames", len(r.scen.Frames),
		"real_time", r.scen.Timing.RealTime,
		"mavlink_v2", r.scen.Link.V2)

	for {
		var err error
		if r.scen.Timing.RealTime {
			err = r.runRealTime(ctx)
		} else {
			err = r.runFast(ctx)
		}
		if err != nil || !r.cfg.Loop {
			r.logSummary()
			return err
		}
		gen, err := NewGenerator(&r.scen, r.gen.table)
		if err != nil {
			return err
		}
		gen.OnFrame = r.gen.OnFrame
		r.gen = gen
		r.log.Debug("restarting scenario")
	}
}

func (r *Runner) step() time.Duration {
	return time.Duration(r.scen.Timing.StepMS) * time.Millisecond
}

func (r *Runner) endAfter() time.Duration {
	return time.Duration(r.scen.Timing.DurationS * float64(time.Second))
}

func (r *Runner) runRealTime(ctx context.Context) error {
	start := time.Now()
	ticker := time.NewTicker(r.step())
	defer ticker.Stop()

	var buf []byte
	if err := r.emit(&buf, 0); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			r.log.Warn("context canceled; stopping simulation")
			return ctx.Err()
		case now := <-ticker.C:
			elapsed := now.Sub(start)
			if elapsed > r.endAfter() {
				return nil
			}
			if err := r.emit(&buf, elapsed); err != nil {
				return err
			}
		}
	}
}

// runFast steps simulated time as fast as the output accepts bytes.
func (r *Runner) runFast(ctx context.Context) error {
	var buf []byte
	for elapsed := time.Duration(0); elapsed <= r.endAfter(); elapsed += r.step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.emit(&buf, elapsed); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) emit(buf *[]byte, elapsed time.Duration) error {
	out, err := r.gen.Step((*buf)[:0], elapsed)
	*buf = out
	if err != nil {
		r.log.Error("generate failed", "t", elapsed.Seconds(), "err", err)
		return err
	}
	if len(out) == 0 {
		return nil
	}
	if _, err := r.out.Write(out); err != nil {
		r.log.Critical("write failed", "t", elapsed.Seconds(), "err", err)
		return fmt.Errorf("write: %w", err)
	}
	r.log.Trace("tx", "t", elapsed.Seconds(), "bytes", len(out))
	return nil
}

func (r *Runner) logSummary() {
	s := r.gen.Stats()
	r.log.Info("simulation complete",
		"can_frames", s.Frames,
		"heartbeats", s.Heartbeats,
		"radio_status", s.Radio,
		"corrupted", s.Corrupted,
		"bytes", s.Bytes)
}
