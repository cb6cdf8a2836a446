package canmap

import (
	"fmt"
	"os"

	"go.einride.tech/can/pkg/dbc"
)

// independentSignals is the pseudo message Vector tools use to park
// signals that belong to no frame.
const independentSignals = "VECTOR__INDEPENDENT_SIG_MSG"

// LoadDBC reads a DBC database. Syntax validation is left to the einride
// parser; this only maps message and signal definitions into the table.
func LoadDBC(path string) (*CANMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDBC(path, data)
}

func ParseDBC(filename string, data []byte) (*CANMap, error) {
	p := dbc.NewParser(filename, data)
	if err := p.Parse(); err != nil {
		return nil, fmt.Errorf("parse dbc: %w", err)
	}

	m := newCANMap(filename)
	for _, def := range p.Defs() {
		msg, ok := def.(*dbc.MessageDef)
		if !ok || string(msg.Name) == independentSignals {
			continue
		}

		fd := &FrameDef{
			ID:        msg.MessageID.ToCAN(),
			Name:      string(msg.Name),
			DLC:       int(msg.Size),
			Direction: string(msg.Transmitter),
			Signals:   make([]SignalDef, 0, len(msg.Signals)),
		}
		if fd.DLC <= 0 || fd.DLC > 8 {
			return nil, fmt.Errorf("frame %s (0x%X): unsupported size %d", fd.Name, fd.ID, fd.DLC)
		}
		if _, dup := m.ByID[fd.ID]; dup {
			return nil, fmt.Errorf("frame %s: duplicate id 0x%X", fd.Name, fd.ID)
		}

		for _, s := range msg.Signals {
			order := LittleEndian
			if s.IsBigEndian {
				order = BigEndian
			}
			fd.Signals = append(fd.Signals, SignalDef{
				Name:        string(s.Name),
				StartBit:    int(s.StartBit),
				BitLength:   int(s.Size),
				ByteOrder:   order,
				Signed:      s.IsSigned,
				Factor:      s.Factor,
				Offset:      s.Offset,
				Min:         s.Minimum,
				Max:         s.Maximum,
				Unit:        s.Unit,
				MuxSwitch:   s.IsMultiplexerSwitch,
				Multiplexed: s.IsMultiplexed,
				MuxValue:    s.MultiplexerSwitch,
			})
		}
		m.add(fd)
	}

	m.sortSignals()
	return m, nil
}
