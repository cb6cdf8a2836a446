package main

import (
	"math"
	"strings"
	"testing"
	"time"

	"go.einride.tech/can"

	"telemetry-bridge/canmap"
	"telemetry-bridge/mavlink"
)

const simCSV = `frame_id,frame_name,cycle_ms,dlc,signal_name,start_bit,bit_length,endianness,signed,factor,offset
0x100,MOTOR,10,8,rpm,0,16,little,false,0.5,0
0x100,MOTOR,10,8,torque,16,16,little,true,0.1,0
0x101,BMS,100,4,voltage,0,16,little,false,0.01,0
0x18FF0001,J1939,100,8,load,0,8,little,false,1,0
`

func loadSimTable(t *testing.T) *canmap.CANMap {
	t.Helper()
	m, err := canmap.ReadCANMap(strings.NewReader(simCSV))
	if err != nil {
		t.Fatalf("ReadCANMap: %v", err)
	}
	return m
}

func simScenario(t *testing.T, doc string) *Scenario {
	t.Helper()
	scen, err := ParseScenario([]byte(doc))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	return &scen
}

// runSteps drives g from 0 to end and parses everything it produced.
func runSteps(t *testing.T, g *Generator, end, step time.Duration) ([]*mavlink.Envelope, mavlink.Stats) {
	t.Helper()
	p := mavlink.NewParser()
	var envs []*mavlink.Envelope
	var buf []byte
	for el := time.Duration(0); el <= end; el += step {
		var err error
		buf, err = g.Step(buf[:0], el)
		if err != nil {
			t.Fatalf("Step(%s): %v", el, err)
		}
		envs = append(envs, p.Parse(buf)...)
	}
	return envs, p.Stats()
}

func countKinds(envs []*mavlink.Envelope) map[mavlink.MessageKind]int {
	out := map[mavlink.MessageKind]int{}
	for _, e := range envs {
		out[e.Kind]++
	}
	return out
}

func TestGeneratorSchedules(t *testing.T) {
	scen := simScenario(t, `
timing: {duration_s: 1}
frames:
  - name: MOTOR
    defaults: {rpm: 1000, torque: -5}
  - name: BMS
    period_ms: 50
    defaults: {voltage: 48}
radio: {period_ms: 500, rssi: 200, noise: 50}
`)
	g, err := NewGenerator(scen, loadSimTable(t))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}

	envs, stats := runSteps(t, g, 990*time.Millisecond, 10*time.Millisecond)
	if stats.Errors() != 0 {
		t.Fatalf("clean stream produced parse errors: %+v", stats)
	}

	kinds := countKinds(envs)
	if kinds[mavlink.KindHeartbeat] != 1 || kinds[mavlink.KindRadioStatus] != 2 {
		t.Fatalf("unexpected link traffic: %v", kinds)
	}
	// MOTOR every 10ms (100) plus BMS every 50ms (20)
	if kinds[mavlink.KindGenericCANFrame] != 120 {
		t.Fatalf("expected 120 CAN frames, got %d", kinds[mavlink.KindGenericCANFrame])
	}

	table := loadSimTable(t)
	for _, e := range envs {
		if e.SystemID != 1 || e.ComponentID != 1 {
			t.Fatalf("unexpected identity %d/%d", e.SystemID, e.ComponentID)
		}
		if e.Kind != mavlink.KindGenericCANFrame {
			continue
		}
		gf, err := mavlink.DecodeGenericCANFrame(e.Payload)
		if err != nil {
			t.Fatalf("DecodeGenericCANFrame: %v", err)
		}
		if gf.ID != 0x100 {
			continue
		}
		d, err := table.DecodeFrame(uint32(gf.ID), gf.Data[:])
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if d.Values["rpm"] != 1000 || math.Abs(d.Values["torque"]+5) > 1e-9 {
			t.Fatalf("unexpected values %v", d.Values)
		}
	}

	s := g.Stats()
	if s.Frames != 120 || s.Heartbeats != 1 || s.Radio != 2 || s.Corrupted != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestGeneratorTimestampsAndGaps(t *testing.T) {
	scen := simScenario(t, `
timing: {duration_s: 5}
frames:
  - name: BMS
    period_ms: 1000
heartbeat:
  period_ms: 1000
  gaps: [{t0: 1.5, t1: 3.5}]
`)
	g, err := NewGenerator(scen, loadSimTable(t))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	envs, _ := runSteps(t, g, 4*time.Second, 100*time.Millisecond)

	var stamps []uint32
	for _, e := range envs {
		if e.Kind == mavlink.KindGenericCANFrame {
			gf, _ := mavlink.DecodeGenericCANFrame(e.Payload)
			stamps = append(stamps, gf.Timestamp)
		}
	}
	want := []uint32{0, 1000, 2000, 3000, 4000}
	if len(stamps) != len(want) {
		t.Fatalf("expected %v, got %v", want, stamps)
	}
	for i := range want {
		if stamps[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, stamps)
		}
	}

	// heartbeats at 0, 1 and 4; 2 and 3 fall in the gap
	if n := countKinds(envs)[mavlink.KindHeartbeat]; n != 3 {
		t.Fatalf("expected 3 heartbeats, got %d", n)
	}
}

func TestGeneratorNoiseIsDeterministic(t *testing.T) {
	doc := `
timing: {duration_s: 1}
frames: [{name: MOTOR, defaults: {rpm: 10}}]
noise: {corrupt_prob: 0.2, seed: 7}
`
	run := func() ([]byte, GeneratorStats) {
		g, err := NewGenerator(simScenario(t, doc), loadSimTable(t))
		if err != nil {
			t.Fatalf("NewGenerator: %v", err)
		}
		var all []byte
		for el := time.Duration(0); el <= time.Second; el += 10 * time.Millisecond {
			all, err = g.Step(all, el)
			if err != nil {
				t.Fatalf("Step: %v", err)
			}
		}
		return all, g.Stats()
	}

	a, sa := run()
	b, sb := run()
	if string(a) != string(b) || sa != sb {
		t.Fatalf("same seed produced different streams")
	}
	if sa.Corrupted == 0 {
		t.Fatalf("expected some corrupted messages")
	}

	p := mavlink.NewParser()
	envs := p.Parse(a)
	if uint64(len(envs)) >= sa.Frames+sa.Heartbeats {
		t.Fatalf("corruption went undetected: %d envelopes from %d messages", len(envs), sa.Frames+sa.Heartbeats)
	}
	if p.Stats().Errors()+p.Stats().Unknown == 0 {
		t.Fatalf("expected parser to count corrupted frames")
	}
}

func TestGeneratorRejectsWideID(t *testing.T) {
	scen := simScenario(t, "timing: {duration_s: 1}\nframes: [{name: J1939}]\n")
	if _, err := NewGenerator(scen, loadSimTable(t)); err == nil {
		t.Fatalf("expected error for 29-bit id")
	}
	scen = simScenario(t, "timing: {duration_s: 1}\nframes: [{name: NOPE}]\n")
	if _, err := NewGenerator(scen, loadSimTable(t)); err == nil {
		t.Fatalf("expected error for unknown frame")
	}
}

func TestGeneratorOnFrameAndV2(t *testing.T) {
	scen := simScenario(t, `
timing: {duration_s: 1}
link: {system_id: 3, component_id: 9, mavlink_v2: true}
frames: [{name: BMS, defaults: {voltage: 12.5}}]
heartbeat: {period_ms: -1}
`)
	g, err := NewGenerator(scen, loadSimTable(t))
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	var seen []can.Frame
	g.OnFrame = func(f can.Frame) { seen = append(seen, f) }

	envs, _ := runSteps(t, g, 250*time.Millisecond, 10*time.Millisecond)
	if len(seen) != 3 || len(envs) != 3 {
		t.Fatalf("expected 3 frames, got %d seen / %d envelopes", len(seen), len(envs))
	}
	if seen[0].ID != 0x101 || seen[0].Length != 4 {
		t.Fatalf("unexpected frame %+v", seen[0])
	}
	for _, e := range envs {
		if e.Version != 2 || e.SystemID != 3 || e.ComponentID != 9 {
			t.Fatalf("unexpected envelope %+v", e)
		}
	}
}
