package main

import (
	"fmt"
	"math/rand/v2"
	"time"

	"go.einride.tech/can"

	"telemetry-bridge/canmap"
	"telemetry-bridge/mavlink"
)

type scheduledFrame struct {
	sched  *FrameSchedule
	def    *canmap.FrameDef
	period time.Duration
	next   time.Duration
}

// GeneratorStats counts what the generator has produced so far.
type GeneratorStats struct {
	Frames     uint64
	Heartbeats uint64
	Radio      uint64
	Corrupted  uint64
	Bytes      uint64
}

// Generator turns a scenario into a MAVLink byte stream. It is driven by
// Step with a monotonically increasing elapsed time and does no I/O.
type Generator struct {
	scen   *Scenario
	table  *canmap.CANMap
	enc    *mavlink.Encoder
	frames []*scheduledFrame
	rng    *rand.Rand

	hbPeriod    time.Duration
	nextHB      time.Duration
	radioPeriod time.Duration
	nextRadio   time.Duration

	// OnFrame, when set, sees every CAN frame before it is tunneled.
	OnFrame func(can.Frame)

	stats GeneratorStats
}

func NewGenerator(scen *Scenario, table *canmap.CANMap) (*Generator, error) {
	step := time.Duration(scen.Timing.StepMS) * time.Millisecond

	g := &Generator{
		scen:  scen,
		table: table,
		enc:   mavlink.NewEncoder(scen.Link.SystemID, scen.Link.ComponentID),
	}
	g.enc.V2 = scen.Link.V2

	for i := range scen.Frames {
		fs := &scen.Frames[i]
		def, err := table.FrameByName(fs.Name)
		if err != nil {
			return nil, fmt.Errorf("frame %s: %w", fs.Name, err)
		}
		if def.ID > 0xFFFF {
			return nil, fmt.Errorf("frame %s: id 0x%X does not fit a 16-bit tunnel id", def.Name, def.ID)
		}
		periodMS := fs.PeriodMS
		if periodMS == 0 {
			periodMS = def.CycleMS
		}
		if periodMS <= 0 {
			return nil, fmt.Errorf("frame %s has no period and invalid cycle_ms %d", def.Name, def.CycleMS)
		}
		g.frames = append(g.frames, &scheduledFrame{
			sched:  fs,
			def:    def,
			period: max(time.Duration(periodMS)*time.Millisecond, step),
		})
	}

	if scen.Heartbeat.PeriodMS > 0 {
		g.hbPeriod = time.Duration(scen.Heartbeat.PeriodMS) * time.Millisecond
	}
	if scen.Radio.PeriodMS > 0 {
		g.radioPeriod = time.Duration(scen.Radio.PeriodMS) * time.Millisecond
	}

	seed := scen.Noise.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	g.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	return g, nil
}

func (g *Generator) Stats() GeneratorStats { return g.stats }

// Step appends every message due at elapsed to buf and returns it.
func (g *Generator) Step(buf []byte, elapsed time.Duration) ([]byte, error) {
	t := elapsed.Seconds()

	if g.hbPeriod > 0 && elapsed >= g.nextHB {
		g.nextHB = advance(g.nextHB, g.hbPeriod, elapsed)
		if !g.scen.Heartbeat.suppressed(t) {
			hb := g.scen.Heartbeat
			msg, err := g.enc.EncodeHeartbeat(mavlink.Heartbeat{
				CustomMode:     hb.CustomMode,
				Type:           hb.Type,
				Autopilot:      hb.Autopilot,
				BaseMode:       hb.BaseMode,
				SystemStatus:   hb.SystemStatus,
				MavlinkVersion: 3,
			})
			if err != nil {
				return buf, err
			}
			buf = g.emit(buf, msg)
			g.stats.Heartbeats++
		}
	}

	if g.radioPeriod > 0 && elapsed >= g.nextRadio {
		g.nextRadio = advance(g.nextRadio, g.radioPeriod, elapsed)
		r := g.scen.Radio
		msg, err := g.enc.EncodeRadioStatus(mavlink.RadioStatus{
			RxErrors: r.RxErrors,
			Fixed:    r.Fixed,
			RSSI:     r.RSSI,
			RemRSSI:  r.RemRSSI,
			TxBuf:    r.TxBuf,
			Noise:    r.Noise,
			RemNoise: r.RemNoise,
		})
		if err != nil {
			return buf, err
		}
		buf = g.emit(buf, msg)
		g.stats.Radio++
	}

	for _, f := range g.frames {
		if elapsed < f.next {
			continue
		}
		f.next = advance(f.next, f.period, elapsed)

		values := EvalSignals(g.scen, f.sched, t)
		frame, err := g.table.EncodeEinrideFrame(f.def.Name, values)
		if err != nil {
			return buf, fmt.Errorf("encode %s at t=%.3f: %w", f.def.Name, t, err)
		}
		if g.OnFrame != nil {
			g.OnFrame(frame)
		}

		gf := mavlink.GenericCANFrame{
			Timestamp: uint32(elapsed.Milliseconds()),
			ID:        uint16(frame.ID),
		}
		copy(gf.Data[:], frame.Data[:frame.Length])
		msg, err := g.enc.EncodeGenericCANFrame(gf)
		if err != nil {
			return buf, err
		}
		buf = g.emit(buf, msg)
		g.stats.Frames++
	}
	return buf, nil
}

func (g *Generator) emit(buf, msg []byte) []byte {
	if p := g.scen.Noise.CorruptProb; p > 0 && g.rng.Float64() < p {
		i := g.rng.IntN(len(msg))
		msg[i] ^= 1 << g.rng.IntN(8)
		g.stats.Corrupted++
	}
	g.stats.Bytes += uint64(len(msg))
	return append(buf, msg...)
}

// advance moves a deadline past elapsed without replaying missed periods.
func advance(next, period, elapsed time.Duration) time.Duration {
	for next <= elapsed {
		next += period
	}
	return next
}
