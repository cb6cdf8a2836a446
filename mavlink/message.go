// Package mavlink implements the subset of MAVLink framing spoken by the
// telemetry radio link: a byte-at-a-time frame parser, the frame encoder
// and payload codecs for the handful of messages the bridge handles.
package mavlink

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindHeartbeat
	KindRadioStatus
	KindGenericCANFrame
	KindDebugFrame
)

func (k MessageKind) String() string {
	switch k {
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindRadioStatus:
		return "RADIO_STATUS"
	case KindGenericCANFrame:
		return "GENERIC_CAN_FRAME"
	case KindDebugFrame:
		return "DEBUG_FRAME"
	default:
		return "UNKNOWN"
	}
}

const (
	MsgIDHeartbeat       uint32 = 0
	MsgIDRadioStatus     uint32 = 109
	MsgIDGenericCANFrame uint32 = 200
	MsgIDDebugFrame      uint32 = 201
)

type messageInfo struct {
	kind     MessageKind
	length   int
	crcExtra byte
}

var messages = map[uint32]messageInfo{
	MsgIDHeartbeat:       {KindHeartbeat, 9, 50},
	MsgIDRadioStatus:     {KindRadioStatus, 9, 185},
	MsgIDGenericCANFrame: {KindGenericCANFrame, 14, 26},
	MsgIDDebugFrame:      {KindDebugFrame, 51, 44},
}

// KindOf maps a message id to its kind; unsupported ids are KindUnknown.
func KindOf(msgID uint32) MessageKind {
	return messages[msgID].kind
}

// Envelope is one complete, checksum-verified frame.
type Envelope struct {
	Version     int
	Seq         uint8
	SystemID    uint8
	ComponentID uint8
	MessageID   uint32
	Kind        MessageKind
	Payload     []byte
}

// Heartbeat announces system liveness and mode.
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func DecodeHeartbeat(p []byte) (Heartbeat, error) {
	if len(p) < 9 {
		return Heartbeat{}, fmt.Errorf("heartbeat payload: %d bytes, want 9", len(p))
	}
	return Heartbeat{
		CustomMode:     binary.LittleEndian.Uint32(p[0:4]),
		Type:           p[4],
		Autopilot:      p[5],
		BaseMode:       p[6],
		SystemStatus:   p[7],
		MavlinkVersion: p[8],
	}, nil
}

func (h Heartbeat) Marshal() []byte {
	p := make([]byte, 9)
	binary.LittleEndian.PutUint32(p[0:4], h.CustomMode)
	p[4] = h.Type
	p[5] = h.Autopilot
	p[6] = h.BaseMode
	p[7] = h.SystemStatus
	p[8] = h.MavlinkVersion
	return p
}

// RadioField names one RADIO_STATUS field for presence checks.
type RadioField uint8

const (
	FieldRxErrors RadioField = 1 << iota
	FieldFixed
	FieldRSSI
	FieldRemRSSI
	FieldTxBuf
	FieldNoise
	FieldRemNoise
)

// RadioStatus carries raw link-quality telemetry from the radio modem.
// Fields the payload was too short to carry are reported absent by Has.
type RadioStatus struct {
	RxErrors uint16
	Fixed    uint16
	RSSI     uint8
	RemRSSI  uint8
	TxBuf    uint8
	Noise    uint8
	RemNoise uint8

	present RadioField
}

func (r RadioStatus) Has(f RadioField) bool { return r.present&f != 0 }

// DecodeRadioStatus decodes as many fields as the payload holds.
func DecodeRadioStatus(p []byte) RadioStatus {
	var r RadioStatus
	if len(p) >= 2 {
		r.RxErrors = binary.LittleEndian.Uint16(p[0:2])
		r.present |= FieldRxErrors
	}
	if len(p) >= 4 {
		r.Fixed = binary.LittleEndian.Uint16(p[2:4])
		r.present |= FieldFixed
	}
	u8 := []struct {
		dst *uint8
		f   RadioField
	}{
		{&r.RSSI, FieldRSSI},
		{&r.RemRSSI, FieldRemRSSI},
		{&r.TxBuf, FieldTxBuf},
		{&r.Noise, FieldNoise},
		{&r.RemNoise, FieldRemNoise},
	}
	for i, f := range u8 {
		if len(p) > 4+i {
			*f.dst = p[4+i]
			r.present |= f.f
		}
	}
	return r
}

func (r RadioStatus) Marshal() []byte {
	p := make([]byte, 9)
	binary.LittleEndian.PutUint16(p[0:2], r.RxErrors)
	binary.LittleEndian.PutUint16(p[2:4], r.Fixed)
	p[4] = r.RSSI
	p[5] = r.RemRSSI
	p[6] = r.TxBuf
	p[7] = r.Noise
	p[8] = r.RemNoise
	return p
}

// GenericCANFrame tunnels one bus frame over the radio link.
type GenericCANFrame struct {
	Timestamp uint32
	ID        uint16
	Data      [8]byte
}

func DecodeGenericCANFrame(p []byte) (GenericCANFrame, error) {
	if len(p) < 14 {
		return GenericCANFrame{}, fmt.Errorf("generic can frame payload: %d bytes, want 14", len(p))
	}
	var f GenericCANFrame
	f.Timestamp = binary.LittleEndian.Uint32(p[0:4])
	f.ID = binary.LittleEndian.Uint16(p[4:6])
	copy(f.Data[:], p[6:14])
	return f, nil
}

func (f GenericCANFrame) Marshal() []byte {
	p := make([]byte, 14)
	binary.LittleEndian.PutUint32(p[0:4], f.Timestamp)
	binary.LittleEndian.PutUint16(p[4:6], f.ID)
	copy(p[6:], f.Data[:])
	return p
}

// DebugFrame carries a status code and a short text from the firmware.
type DebugFrame struct {
	Status uint8
	Text   string
}

func DecodeDebugFrame(p []byte) (DebugFrame, error) {
	if len(p) < 1 {
		return DebugFrame{}, fmt.Errorf("debug frame payload is empty")
	}
	text := p[1:]
	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}
	return DebugFrame{Status: p[0], Text: string(text)}, nil
}

func (d DebugFrame) Marshal() []byte {
	p := make([]byte, 51)
	p[0] = d.Status
	copy(p[1:], d.Text)
	return p
}
