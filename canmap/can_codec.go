package canmap

import (
	"errors"
	"fmt"
	"math"

	"go.einride.tech/can"
)

// ErrUnknownFrame is matched by errors.Is for ids missing from the table.
var ErrUnknownFrame = errors.New("unknown frame id")

type UnknownFrameError struct {
	ID uint32
}

func (e *UnknownFrameError) Error() string {
	return fmt.Sprintf("unknown frame id 0x%X", e.ID)
}

func (e *UnknownFrameError) Unwrap() error { return ErrUnknownFrame }

// SignalError records a single signal that could not be extracted.
type SignalError struct {
	Frame  string
	Signal string
	Err    error
}

func (e SignalError) Error() string {
	return fmt.Sprintf("frame %s signal %s: %v", e.Frame, e.Signal, e.Err)
}

func (e SignalError) Unwrap() error { return e.Err }

// Decoded is the result of decoding one frame. Values holds every signal
// that could be extracted; Failed lists the ones that could not.
type Decoded struct {
	Frame  *FrameDef
	Values map[string]float64
	Failed []SignalError
}

// QualifiedName joins frame and signal names the way snapshots key them.
func QualifiedName(frame, signal string) string {
	return frame + "/" + signal
}

func (m *CANMap) DecodeFrame(frameID uint32, data []byte) (Decoded, error) {
	fd, err := m.FrameByID(frameID)
	if err != nil {
		return Decoded{}, err
	}
	return fd.Decode(data), nil
}

// Decode extracts all signals from data. A signal that does not fit the
// payload is skipped and reported; the remaining signals still decode.
func (fd *FrameDef) Decode(data []byte) Decoded {
	var d can.Data
	n := copy(d[:], data)

	out := Decoded{
		Frame:  fd,
		Values: make(map[string]float64, len(fd.Signals)),
	}

	var (
		muxValue uint64
		hasMux   bool
	)
	for _, s := range fd.Signals {
		if !s.MuxSwitch {
			continue
		}
		v, err := s.extractRaw(&d, n)
		if err != nil {
			out.Failed = append(out.Failed, SignalError{Frame: fd.Name, Signal: s.Name, Err: err})
			continue
		}
		muxValue, hasMux = uint64(v), true
	}

	for _, s := range fd.Signals {
		if s.MuxSwitch && !hasMux {
			continue
		}
		if s.Multiplexed && (!hasMux || s.MuxValue != muxValue) {
			continue
		}
		v, err := s.decode(&d, n)
		if err != nil {
			out.Failed = append(out.Failed, SignalError{Frame: fd.Name, Signal: s.Name, Err: err})
			continue
		}
		out.Values[s.Name] = v
	}
	return out
}

func (s SignalDef) extractRaw(d *can.Data, n int) (int64, error) {
	if err := checkSpan(s, n); err != nil {
		return 0, err
	}
	start, length := uint8(s.StartBit), uint8(s.BitLength)
	switch {
	case s.Signed && s.ByteOrder == BigEndian:
		return d.SignedBitsBigEndian(start, length), nil
	case s.Signed:
		return d.SignedBitsLittleEndian(start, length), nil
	case s.ByteOrder == BigEndian:
		return int64(d.UnsignedBitsBigEndian(start, length)), nil
	default:
		return int64(d.UnsignedBitsLittleEndian(start, length)), nil
	}
}

func (s SignalDef) decode(d *can.Data, n int) (float64, error) {
	if s.IsFloat32() {
		if err := checkSpan(s, n); err != nil {
			return 0, err
		}
		var bits uint64
		if s.ByteOrder == BigEndian {
			bits = d.UnsignedBitsBigEndian(uint8(s.StartBit), 32)
		} else {
			bits = d.UnsignedBitsLittleEndian(uint8(s.StartBit), 32)
		}
		return float64(math.Float32frombits(uint32(bits))), nil
	}

	raw, err := s.extractRaw(d, n)
	if err != nil {
		return 0, err
	}
	if !s.Signed && s.BitLength == 64 {
		// full-width unsigned values do not fit int64
		return float64(uint64(raw))*s.Factor + s.Offset, nil
	}
	return float64(raw)*s.Factor + s.Offset, nil
}

// EncodeFrame packs physical values into a payload of the frame's DLC.
// Missing values fall back to the signal default.
func (m *CANMap) EncodeFrame(frameName string, values map[string]float64) ([]byte, uint32, error) {
	fd, err := m.FrameByName(frameName)
	if err != nil {
		return nil, 0, err
	}
	payload, err := fd.Encode(values)
	if err != nil {
		return nil, 0, err
	}
	return payload, fd.ID, nil
}

func (fd *FrameDef) Encode(values map[string]float64) ([]byte, error) {
	if fd.DLC <= 0 || fd.DLC > 8 {
		return nil, fmt.Errorf("frame %s has invalid DLC %d", fd.Name, fd.DLC)
	}

	var (
		d        can.Data
		muxValue uint64
		hasMux   bool
	)
	for _, s := range fd.Signals {
		if s.MuxSwitch {
			muxValue, hasMux = uint64(math.Round(valueOrDefault(values, s))), true
		}
	}

	for _, s := range fd.Signals {
		if s.MuxSwitch && !hasMux {
			continue
		}
		if s.Multiplexed && (!hasMux || s.MuxValue != muxValue) {
			continue
		}
		if err := checkSpan(s, fd.DLC); err != nil {
			return nil, SignalError{Frame: fd.Name, Signal: s.Name, Err: err}
		}
		v := clamp(valueOrDefault(values, s), s.Min, s.Max)
		start, length := uint8(s.StartBit), uint8(s.BitLength)

		var u uint64
		if s.IsFloat32() {
			u = uint64(math.Float32bits(float32(v)))
		} else {
			factor := s.Factor
			if factor == 0 {
				factor = 1
			}
			raw := int64(math.Round((v - s.Offset) / factor))
			raw = clampRaw(raw, s.BitLength, s.Signed)
			u = rawToUnsigned(raw, s.BitLength)
		}

		if s.ByteOrder == BigEndian {
			d.SetUnsignedBitsBigEndian(start, length, u)
		} else {
			d.SetUnsignedBitsLittleEndian(start, length, u)
		}
	}

	out := make([]byte, fd.DLC)
	copy(out, d[:fd.DLC])
	return out, nil
}

// EncodeEinrideFrame produces a can.Frame ready to transmit.
func (m *CANMap) EncodeEinrideFrame(frameName string, values map[string]float64) (can.Frame, error) {
	payload, id, err := m.EncodeFrame(frameName, values)
	if err != nil {
		return can.Frame{}, err
	}

	var f can.Frame
	f.ID = id
	f.Length = uint8(len(payload))
	f.IsExtended = id > 0x7FF
	copy(f.Data[:], payload)
	return f, nil
}

func valueOrDefault(values map[string]float64, s SignalDef) float64 {
	if v, ok := values[s.Name]; ok {
		return v
	}
	return s.Default
}
