package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

const testScenario = `
meta:
  name: unit
timing:
  duration_s: 10
frames:
  - name: MOTOR
    defaults: { rpm: 100, torque: 1 }
    segments:
      - t0: 2
        t1: 4
        values: { rpm: 1000 }
      - t0: 4
        t1: -1
        values: { rpm: 0 }
        ramp_to: { rpm: 600 }
heartbeat:
  gaps:
    - { t0: 3, t1: 5 }
`

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParseScenarioDefaults(t *testing.T) {
	scen, err := ParseScenario([]byte(testScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	if scen.Timing.StepMS != 10 {
		t.Fatalf("expected default step 10ms, got %d", scen.Timing.StepMS)
	}
	if scen.Link.SystemID != 1 || scen.Link.ComponentID != 1 {
		t.Fatalf("unexpected link identity: %+v", scen.Link)
	}
	if scen.Heartbeat.PeriodMS != 1000 {
		t.Fatalf("expected default heartbeat period 1000, got %d", scen.Heartbeat.PeriodMS)
	}
	if scen.Radio.PeriodMS != 0 {
		t.Fatalf("radio should stay disabled, got %d", scen.Radio.PeriodMS)
	}
}

func TestEvalSignals(t *testing.T) {
	scen, err := ParseScenario([]byte(testScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	f := &scen.Frames[0]

	cases := []struct {
		t   float64
		rpm float64
	}{
		{0, 100},
		{1.99, 100},
		{2, 1000},
		{3.5, 1000},
		{4, 0},
		{7, 300},
		{9.5, 550},
	}
	for _, c := range cases {
		v := EvalSignals(&scen, f, c.t)
		if !near(v["rpm"], c.rpm) {
			t.Fatalf("t=%.2f: expected rpm %.2f, got %.4f", c.t, c.rpm, v["rpm"])
		}
		if v["torque"] != 1 {
			t.Fatalf("t=%.2f: default torque lost: %v", c.t, v)
		}
	}

	// defaults must not be mutated by segment overrides
	if f.Defaults["rpm"] != 100 {
		t.Fatalf("defaults mutated: %v", f.Defaults)
	}
}

func TestHeartbeatGaps(t *testing.T) {
	scen, err := ParseScenario([]byte(testScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	if scen.Heartbeat.suppressed(2.9) || !scen.Heartbeat.suppressed(3) || scen.Heartbeat.suppressed(5) {
		t.Fatalf("gap window [3,5) not honored")
	}
}

func TestParseScenarioErrors(t *testing.T) {
	cases := map[string]string{
		"no duration":   "frames: [{name: MOTOR}]\n",
		"no frames":     "timing: {duration_s: 1}\n",
		"unnamed frame": "timing: {duration_s: 1}\nframes: [{period_ms: 10}]\n",
		"bad segment":   "timing: {duration_s: 1}\nframes: [{name: A, segments: [{t0: 2, t1: 1}]}]\n",
		"bad noise":     "timing: {duration_s: 1}\nframes: [{name: A}]\nnoise: {corrupt_prob: 1.5}\n",
		"unknown field": "timing: {duration_s: 1, speed: 3}\nframes: [{name: A}]\n",
		"empty":         "",
	}
	for name, content := range cases {
		if _, err := ParseScenario([]byte(content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadScenarioJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scen.json")
	data := `{"meta": {"name": "json"}, "timing": {"duration_s": 2, "real_time": true}, "frames": [{"name": "BMS", "period_ms": 100}]}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	scen, err := LoadScenario(path)
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if scen.Meta.Name != "json" || !scen.Timing.RealTime || scen.Frames[0].PeriodMS != 100 {
		t.Fatalf("unexpected scenario: %+v", scen)
	}
}

func TestBundledScenarioLoads(t *testing.T) {
	scen, err := LoadScenario("scenarios/motor_sweep.yaml")
	if err != nil {
		t.Fatalf("LoadScenario: %v", err)
	}
	if len(scen.Frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(scen.Frames))
	}
}
