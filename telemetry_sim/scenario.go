package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario describes a replayable stream of tunneled CAN frames plus the
// link traffic (heartbeats, radio status) a real vehicle radio would add.
type Scenario struct {
	Meta      ScenarioMeta      `yaml:"meta"`
	Timing    ScenarioTiming    `yaml:"timing"`
	Link      LinkIdentity      `yaml:"link"`
	Frames    []FrameSchedule   `yaml:"frames"`
	Heartbeat HeartbeatSchedule `yaml:"heartbeat"`
	Radio     RadioSchedule     `yaml:"radio"`
	Noise     NoiseConfig       `yaml:"noise"`
}

type ScenarioMeta struct {
	Name        string `yaml:"name"`
	Version     int    `yaml:"version"`
	Description string `yaml:"description"`
}

type ScenarioTiming struct {
	DurationS float64 `yaml:"duration_s"`
	// StepMS is the simulation resolution; frame periods are rounded up to it.
	StepMS   int  `yaml:"step_ms"`
	RealTime bool `yaml:"real_time"`
}

// LinkIdentity is the MAVLink identity the simulated vehicle sends under.
type LinkIdentity struct {
	SystemID    uint8 `yaml:"system_id"`
	ComponentID uint8 `yaml:"component_id"`
	V2          bool  `yaml:"mavlink_v2"`
}

// FrameSchedule emits one signal-table frame every PeriodMS. A zero period
// uses the frame's cycle time from the table.
type FrameSchedule struct {
	Name     string             `yaml:"name"`
	PeriodMS int                `yaml:"period_ms"`
	Defaults map[string]float64 `yaml:"defaults"`
	Segments []Segment          `yaml:"segments"`
}

// Segment overrides signal values on [T0, T1). T1 < 0 runs to the end of
// the scenario. Signals listed in RampTo move linearly from their Values
// entry (or the frame default) to the RampTo value across the segment.
type Segment struct {
	T0      float64            `yaml:"t0"`
	T1      float64            `yaml:"t1"`
	Values  map[string]float64 `yaml:"values"`
	RampTo  map[string]float64 `yaml:"ramp_to"`
	Comment string             `yaml:"comment"`
}

// Window is a closed-open time range in scenario seconds.
type Window struct {
	T0 float64 `yaml:"t0"`
	T1 float64 `yaml:"t1"`
}

func (w Window) contains(t float64) bool { return t >= w.T0 && t < w.T1 }

type HeartbeatSchedule struct {
	// PeriodMS defaults to 1000; negative disables heartbeats.
	PeriodMS     int    `yaml:"period_ms"`
	Type         uint8  `yaml:"type"`
	Autopilot    uint8  `yaml:"autopilot"`
	BaseMode     uint8  `yaml:"base_mode"`
	SystemStatus uint8  `yaml:"system_status"`
	CustomMode   uint32 `yaml:"custom_mode"`
	// Gaps suppress heartbeats to exercise the receiver's liveness timeout.
	Gaps []Window `yaml:"gaps"`
}

// RadioSchedule emits RADIO_STATUS every PeriodMS; zero disables it.
type RadioSchedule struct {
	PeriodMS int    `yaml:"period_ms"`
	RSSI     uint8  `yaml:"rssi"`
	RemRSSI  uint8  `yaml:"remrssi"`
	Noise    uint8  `yaml:"noise"`
	RemNoise uint8  `yaml:"remnoise"`
	TxBuf    uint8  `yaml:"txbuf"`
	RxErrors uint16 `yaml:"rxerrors"`
	Fixed    uint16 `yaml:"fixed"`
}

// NoiseConfig corrupts a fraction of emitted messages by flipping one bit.
// Seed 0 picks a random seed per run.
type NoiseConfig struct {
	CorruptProb float64 `yaml:"corrupt_prob"`
	Seed        uint64  `yaml:"seed"`
}

// LoadScenario reads a YAML scenario. JSON files load through the same
// decoder since JSON is valid YAML.
func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read file: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	var scen Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&scen); err != nil && !errors.Is(err, io.EOF) {
		return Scenario{}, fmt.Errorf("unmarshal: %w", err)
	}
	scen.applyDefaults()
	if err := scen.validate(); err != nil {
		return Scenario{}, err
	}
	return scen, nil
}

func (s *Scenario) applyDefaults() {
	if s.Timing.StepMS == 0 {
		s.Timing.StepMS = 10
	}
	if s.Link.SystemID == 0 {
		s.Link.SystemID = 1
	}
	if s.Link.ComponentID == 0 {
		s.Link.ComponentID = 1
	}
	if s.Heartbeat.PeriodMS == 0 {
		s.Heartbeat.PeriodMS = 1000
	}
}

func (s *Scenario) validate() error {
	if s.Timing.DurationS <= 0 {
		return fmt.Errorf("invalid duration_s: %f", s.Timing.DurationS)
	}
	if s.Timing.StepMS < 0 {
		return fmt.Errorf("invalid step_ms: %d", s.Timing.StepMS)
	}
	if len(s.Frames) == 0 {
		return errors.New("scenario has no frames")
	}
	for i, f := range s.Frames {
		if f.Name == "" {
			return fmt.Errorf("frames[%d]: missing name", i)
		}
		if f.PeriodMS < 0 {
			return fmt.Errorf("frame %s: invalid period_ms %d", f.Name, f.PeriodMS)
		}
		for j, seg := range f.Segments {
			if seg.T1 >= 0 && seg.T1 < seg.T0 {
				return fmt.Errorf("frame %s segment %d: t1 %.3f before t0 %.3f", f.Name, j, seg.T1, seg.T0)
			}
		}
	}
	if s.Radio.PeriodMS < 0 {
		return fmt.Errorf("invalid radio period_ms: %d", s.Radio.PeriodMS)
	}
	if s.Noise.CorruptProb < 0 || s.Noise.CorruptProb > 1 {
		return fmt.Errorf("invalid corrupt_prob: %f", s.Noise.CorruptProb)
	}
	return nil
}

// EvalSignals returns the physical signal values of frame f at scenario
// time t. The first segment covering t wins.
func EvalSignals(scen *Scenario, f *FrameSchedule, t float64) map[string]float64 {
	values := make(map[string]float64, len(f.Defaults))
	for k, v := range f.Defaults {
		values[k] = v
	}

	for _, seg := range f.Segments {
		t1 := seg.T1
		if t1 < 0 {
			t1 = scen.Timing.DurationS
		}
		if t < seg.T0 || t >= t1 {
			continue
		}

		for k, v := range seg.Values {
			values[k] = v
		}
		if span := t1 - seg.T0; span > 0 {
			frac := (t - seg.T0) / span
			for k, end := range seg.RampTo {
				start := values[k]
				values[k] = start + (end-start)*frac
			}
		}
		break
	}
	return values
}

func (h *HeartbeatSchedule) suppressed(t float64) bool {
	for _, g := range h.Gaps {
		if g.contains(t) {
			return true
		}
	}
	return false
}
