package bridge

import (
	"math"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestPacketCodecs(t *testing.T) {
	for _, name := range []string{"msgpack", "cbor"} {
		t.Run(name, func(t *testing.T) {
			codec, err := NewPacketCodec(name)
			if err != nil {
				t.Fatalf("NewPacketCodec: %v", err)
			}
			if codec.Name() != name {
				t.Fatalf("codec name %q", codec.Name())
			}
			in := Packet{
				Timestamp: 1700000000.5,
				Fields: map[string]float64{
					"MOTOR/rpm":    1000,
					"link/alive":   0,
					"link/latency": math.NaN(),
				},
			}
			data, err := codec.Marshal(in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var out Packet
			if err := codec.Unmarshal(data, &out); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if out.Timestamp != in.Timestamp || out.Fields["MOTOR/rpm"] != 1000 {
				t.Fatalf("unexpected packet %+v", out)
			}
			if !math.IsNaN(out.Fields["link/latency"]) {
				t.Fatalf("NaN not preserved: %v", out.Fields["link/latency"])
			}
		})
	}

	if _, err := NewPacketCodec("json"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func TestMsgpackTopLevelKeys(t *testing.T) {
	data, err := MsgpackCodec{}.Marshal(Packet{Timestamp: 1, Fields: map[string]float64{"a/b": 2}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var generic map[string]any
	if err := msgpack.Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(generic) != 2 {
		t.Fatalf("expected timestamp and fields only, got %v", generic)
	}
	if _, ok := generic["timestamp"].(float64); !ok {
		t.Fatalf("timestamp is %T", generic["timestamp"])
	}
	if _, ok := generic["fields"].(map[string]any); !ok {
		t.Fatalf("fields is %T", generic["fields"])
	}
}

func TestSnapshotStore(t *testing.T) {
	s := NewSnapshotStore()
	s.Set("MOTOR/rpm", 1, t0)
	s.Merge(map[string]float64{"MOTOR/rpm": 2, "radio/rssi": -40}, t0.Add(1))

	if s.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", s.Len())
	}
	e, _ := s.Get("MOTOR/rpm")
	if e.Value != 2 || !e.ObservedAt.Equal(t0.Add(1)) {
		t.Fatalf("last write did not win: %+v", e)
	}
	f := s.Fields()
	f["MOTOR/rpm"] = 99
	if e, _ := s.Get("MOTOR/rpm"); e.Value != 2 {
		t.Fatalf("Fields returned a live view")
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Clear left %d entries", s.Len())
	}
}

func TestParseSnapshotPolicy(t *testing.T) {
	if p, err := ParseSnapshotPolicy(""); err != nil || p != PolicyHold {
		t.Fatalf("default policy %q, %v", p, err)
	}
	if p, err := ParseSnapshotPolicy("clear"); err != nil || p != PolicyClear {
		t.Fatalf("clear policy %q, %v", p, err)
	}
	if _, err := ParseSnapshotPolicy("sometimes"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDiagnosticsUtilization(t *testing.T) {
	d := NewDiagnostics(0, 115200)
	d.Start(t0)
	d.RxBytes(1152)
	d.TxBytes(576)
	if !d.Sample(t0.Add(1e9)) {
		t.Fatalf("sample not taken")
	}
	f := d.Fields()
	if f["link/rx_speed"] != 1152 || f["link/tx_speed"] != 576 {
		t.Fatalf("unexpected speeds %v", f)
	}
	if !near(f["link/rx_util"], 10) || !near(f["link/tx_util"], 5) {
		t.Fatalf("unexpected utilization %v", f)
	}
	if d.Sample(t0.Add(1e9)) {
		t.Fatalf("zero-length sample accepted")
	}
}
