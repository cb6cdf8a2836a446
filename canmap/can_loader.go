package canmap

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Load reads a signal table, choosing the parser from the file extension:
// ".dbc" files go through the DBC parser, everything else is read as CSV.
func Load(path string) (*CANMap, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dbc":
		return LoadDBC(path)
	default:
		return LoadCANMap(path)
	}
}

var requiredColumns = []string{
	"frame_id", "frame_name", "dlc",
	"signal_name", "start_bit", "bit_length", "factor", "offset",
}

// LoadCANMap reads the CSV signal map: one row per signal, frames are
// grouped by frame_id. Optional columns: direction, cycle_ms, endianness,
// signed, min, max, default, unit, comment.
func LoadCANMap(csvPath string) (*CANMap, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ReadCANMap(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", csvPath, err)
	}
	m.Source = csvPath
	return m, nil
}

func ReadCANMap(r io.Reader) (*CANMap, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, k := range requiredColumns {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("can map missing required column: %q", k)
		}
	}

	col := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	m := newCANMap("")

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		frameID, err := parseHexOrDecUint32(col(rec, "frame_id"))
		if err != nil {
			return nil, fmt.Errorf("invalid frame_id %q: %w", col(rec, "frame_id"), err)
		}
		frameName := col(rec, "frame_name")
		dlc := mustInt(col(rec, "dlc"))

		order, err := parseByteOrder(col(rec, "endianness"))
		if err != nil {
			return nil, fmt.Errorf("frame %s signal %s: %w", frameName, col(rec, "signal_name"), err)
		}

		sig := SignalDef{
			Name:      col(rec, "signal_name"),
			StartBit:  mustInt(col(rec, "start_bit")),
			BitLength: mustInt(col(rec, "bit_length")),
			ByteOrder: order,
			Signed:    mustBool(col(rec, "signed")),
			Factor:    mustFloat(col(rec, "factor")),
			Offset:    mustFloat(col(rec, "offset")),
			Min:       mustFloat(col(rec, "min")),
			Max:       mustFloat(col(rec, "max")),
			Default:   mustFloat(col(rec, "default")),
			Unit:      col(rec, "unit"),
			Comment:   col(rec, "comment"),
		}

		if sig.BitLength <= 0 || sig.BitLength > 64 {
			return nil, fmt.Errorf("frame %s signal %s: invalid bit_length %d", frameName, sig.Name, sig.BitLength)
		}
		if dlc <= 0 || dlc > 8 {
			return nil, fmt.Errorf("frame %s (0x%X): invalid dlc %d", frameName, frameID, dlc)
		}

		fd, ok := m.ByID[frameID]
		if !ok {
			fd = &FrameDef{
				ID:        frameID,
				Name:      frameName,
				DLC:       dlc,
				Direction: col(rec, "direction"),
				CycleMS:   mustInt(col(rec, "cycle_ms")),
			}
			m.add(fd)
		}
		if fd.DLC != dlc {
			return nil, fmt.Errorf("frame %s (0x%X) has inconsistent DLC (%d vs %d)", frameName, frameID, fd.DLC, dlc)
		}

		fd.Signals = append(fd.Signals, sig)
	}

	m.sortSignals()
	return m, nil
}

func (m *CANMap) FrameByName(name string) (*FrameDef, error) {
	fd, ok := m.ByName[name]
	if !ok {
		return nil, fmt.Errorf("unknown frame %q (available: %v)", name, m.FrameNames())
	}
	return fd, nil
}

func (m *CANMap) FrameByID(id uint32) (*FrameDef, error) {
	fd, ok := m.ByID[id]
	if !ok {
		return nil, &UnknownFrameError{ID: id}
	}
	return fd, nil
}

func parseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "little", "intel":
		return LittleEndian, nil
	case "big", "motorola":
		return BigEndian, nil
	default:
		return LittleEndian, fmt.Errorf("unsupported endianness %q", s)
	}
}

func parseHexOrDecUint32(s string) (uint32, error) {
	ss := strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(ss, "0x") || strings.HasPrefix(ss, "0X") {
		base = 16
		ss = ss[2:]
	}
	u, err := strconv.ParseUint(ss, base, 32)
	if err != nil {
		return 0, err
	}
	return uint32(u), nil
}

func mustInt(s string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(s))
	return v
}

func mustFloat(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

func mustBool(s string) bool {
	ss := strings.TrimSpace(strings.ToLower(s))
	return ss == "true" || ss == "1" || ss == "yes"
}
