package canmap

import (
	"sort"
	"strings"
)

// ByteOrder selects how a signal's bits are laid out in the payload.
type ByteOrder int

const (
	LittleEndian ByteOrder = iota // Intel
	BigEndian                     // Motorola
)

func (o ByteOrder) String() string {
	if o == BigEndian {
		return "big"
	}
	return "little"
}

// Float32Tag in a signal unit marks a 32-bit raw value that carries an
// IEEE-754 binary32 float instead of a scaled integer.
const Float32Tag = "FLOAT32_IEEE"

type SignalDef struct {
	Name      string
	StartBit  int
	BitLength int
	ByteOrder ByteOrder
	Signed    bool
	Factor    float64
	Offset    float64
	Min       float64
	Max       float64
	Default   float64
	Unit      string
	Comment   string

	// Multiplexing. A frame has at most one switch signal; multiplexed
	// signals are only present when the switch equals MuxValue.
	MuxSwitch   bool
	Multiplexed bool
	MuxValue    uint64
}

// IsFloat32 reports whether the raw bits are reinterpreted as a float.
func (s SignalDef) IsFloat32() bool {
	return strings.Contains(strings.ToUpper(s.Unit), Float32Tag)
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// SignalNames returns the signal names in table order.
func (fd *FrameDef) SignalNames() []string {
	out := make([]string, 0, len(fd.Signals))
	for _, s := range fd.Signals {
		out = append(out, s.Name)
	}
	return out
}

// CANMap is the signal table. It is built once by a loader and then only
// read, so it can be shared without locking.
type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
	Source string
}

func newCANMap(source string) *CANMap {
	return &CANMap{
		ByID:   map[uint32]*FrameDef{},
		ByName: map[string]*FrameDef{},
		Source: source,
	}
}

func (m *CANMap) add(fd *FrameDef) {
	m.ByID[fd.ID] = fd
	m.ByName[fd.Name] = fd
}

func (m *CANMap) sortSignals() {
	for _, fd := range m.ByID {
		sort.SliceStable(fd.Signals, func(i, j int) bool { return fd.Signals[i].StartBit < fd.Signals[j].StartBit })
	}
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of frames in the table.
func (m *CANMap) Len() int { return len(m.ByID) }
