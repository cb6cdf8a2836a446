package canmap

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func testMap(t *testing.T) *CANMap {
	t.Helper()
	m, err := ParseDBC("bus.dbc", []byte(testDBC))
	if err != nil {
		t.Fatalf("ParseDBC: %v", err)
	}
	return m
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestDecodeFrameKnownPayload(t *testing.T) {
	m := testMap(t)

	// rpm raw 2000 -> 1000 rpm, temp raw -15 -> -55 degC, current 12.5 as float32
	bits := math.Float32bits(12.5)
	data := []byte{
		0xD0, 0x07,
		0xF1,
		0x00,
		byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24),
	}

	dec, err := m.DecodeFrame(256, data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if len(dec.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", dec.Failed)
	}
	want := map[string]float64{"rpm": 1000, "temp": -55, "current": 12.5}
	if len(dec.Values) != len(want) {
		t.Fatalf("expected %d values, got %v", len(want), dec.Values)
	}
	for k, v := range want {
		if !near(dec.Values[k], v) {
			t.Fatalf("%s: got %v want %v", k, dec.Values[k], v)
		}
	}
}

func TestDecodeBigEndian(t *testing.T) {
	m := testMap(t)

	// 0xFF38 = -200 raw -> -2.00 deg
	dec, err := m.DecodeFrame(512, []byte{0xFF, 0x38, 0, 0, 0, 0, 0, 0})
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !near(dec.Values["angle"], -2.0) {
		t.Fatalf("angle: got %v want -2.0", dec.Values["angle"])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := testMap(t)

	cases := []map[string]float64{
		{"rpm": 0, "temp": -40, "current": 0},
		{"rpm": 16383.5, "temp": 87, "current": -3.25},
		{"rpm": 1234.5, "temp": -128 - 40, "current": 1e6},
	}
	for _, in := range cases {
		payload, id, err := m.EncodeFrame("MOTOR", in)
		if err != nil {
			t.Fatalf("EncodeFrame: %v", err)
		}
		dec, err := m.DecodeFrame(id, payload)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		for k, v := range in {
			if !near(dec.Values[k], v) {
				t.Fatalf("%s: got %v want %v", k, dec.Values[k], v)
			}
		}
	}

	payload, id, err := m.EncodeFrame("STEER", map[string]float64{"angle": 12.34})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if len(payload) != 2 {
		t.Fatalf("expected DLC-sized payload, got %d bytes", len(payload))
	}
	dec, _ := m.DecodeFrame(id, payload)
	if !near(dec.Values["angle"], 12.34) {
		t.Fatalf("angle: got %v", dec.Values["angle"])
	}
}

func TestDecodeUnknownFrame(t *testing.T) {
	m := testMap(t)

	dec, err := m.DecodeFrame(0x3FF, make([]byte, 8))
	if !errors.Is(err, ErrUnknownFrame) {
		t.Fatalf("expected ErrUnknownFrame, got %v", err)
	}
	if dec.Values != nil {
		t.Fatalf("expected no values, got %v", dec.Values)
	}
}

func TestDecodeSkipsMalformedSignal(t *testing.T) {
	fd := &FrameDef{
		ID: 0x10, Name: "MIXED", DLC: 8,
		Signals: []SignalDef{
			{Name: "ok", StartBit: 0, BitLength: 8, Factor: 2},
			{Name: "too_long", StartBit: 8, BitLength: 0, Factor: 1},
			{Name: "past_end", StartBit: 60, BitLength: 8, Factor: 1},
			{Name: "bad_float", StartBit: 16, BitLength: 16, Unit: "FLOAT32_IEEE"},
			{Name: "tail", StartBit: 56, BitLength: 8, Factor: 1, Offset: -1},
		},
	}

	dec := fd.Decode([]byte{3, 0, 0, 0, 0, 0, 0, 9})
	if len(dec.Values) != 2 || dec.Values["ok"] != 6 || dec.Values["tail"] != 8 {
		t.Fatalf("unexpected values: %v", dec.Values)
	}
	if len(dec.Failed) != 3 {
		t.Fatalf("expected 3 failures, got %v", dec.Failed)
	}
	for _, f := range dec.Failed {
		if f.Frame != "MIXED" || !strings.Contains(f.Error(), f.Signal) {
			t.Fatalf("unexpected failure record: %v", f)
		}
	}
}

func TestDecodeShortPayload(t *testing.T) {
	m := testMap(t)

	dec, err := m.DecodeFrame(256, []byte{0xD0, 0x07, 0xF1})
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if _, ok := dec.Values["current"]; ok {
		t.Fatalf("current must not decode from a 3-byte payload")
	}
	if !near(dec.Values["rpm"], 1000) || len(dec.Failed) != 1 {
		t.Fatalf("unexpected result: %+v", dec)
	}
}

func TestDecodeMultiplexed(t *testing.T) {
	fd := &FrameDef{
		ID: 0x20, Name: "MUX", DLC: 8,
		Signals: []SignalDef{
			{Name: "page", StartBit: 0, BitLength: 8, Factor: 1, MuxSwitch: true},
			{Name: "a", StartBit: 8, BitLength: 8, Factor: 1, Multiplexed: true, MuxValue: 0},
			{Name: "b", StartBit: 8, BitLength: 8, Factor: 1, Multiplexed: true, MuxValue: 1},
			{Name: "always", StartBit: 16, BitLength: 8, Factor: 1},
		},
	}

	dec := fd.Decode([]byte{1, 42, 7, 0, 0, 0, 0, 0})
	if _, ok := dec.Values["a"]; ok {
		t.Fatalf("signal a belongs to page 0: %v", dec.Values)
	}
	if dec.Values["b"] != 42 || dec.Values["page"] != 1 || dec.Values["always"] != 7 {
		t.Fatalf("unexpected values: %v", dec.Values)
	}

	payload, err := fd.Encode(map[string]float64{"page": 0, "a": 5, "b": 9, "always": 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if payload[1] != 5 {
		t.Fatalf("expected page 0 signal a in byte 1, got %d", payload[1])
	}
}

func TestEncodeClamps(t *testing.T) {
	fd := &FrameDef{
		ID: 0x30, Name: "CLAMP", DLC: 1,
		Signals: []SignalDef{{Name: "pct", StartBit: 0, BitLength: 8, Factor: 1, Min: 0, Max: 100}},
	}
	payload, err := fd.Encode(map[string]float64{"pct": 250})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if payload[0] != 100 {
		t.Fatalf("expected clamp to 100, got %d", payload[0])
	}
}

func TestRawFrame(t *testing.T) {
	f := RawFrame(0x1ABCDE, []byte{1, 2, 3})
	if !f.IsExtended || f.Length != 3 || f.Data[2] != 3 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}
