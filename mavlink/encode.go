package mavlink

import "fmt"

// Encoder frames outbound messages under one local identity, advancing
// the sequence number for every frame it produces.
type Encoder struct {
	SystemID    uint8
	ComponentID uint8
	// V2 selects MAVLink 2 framing with trailing-zero payload truncation.
	V2 bool

	seq uint8
}

func NewEncoder(systemID, componentID uint8) *Encoder {
	return &Encoder{SystemID: systemID, ComponentID: componentID}
}

// Encode frames payload as message msgID. The payload must have the
// message's full wire length.
func (e *Encoder) Encode(msgID uint32, payload []byte) ([]byte, error) {
	info, ok := messages[msgID]
	if !ok {
		return nil, fmt.Errorf("encode message %d: unsupported message id", msgID)
	}
	if len(payload) != info.length {
		return nil, fmt.Errorf("encode %s: payload is %d bytes, want %d", info.kind, len(payload), info.length)
	}

	var frame []byte
	var hdrLen int
	if e.V2 {
		n := len(payload)
		for n > 1 && payload[n-1] == 0 {
			n--
		}
		payload = payload[:n]
		frame = make([]byte, 0, 1+headerLenV2+n+2)
		frame = append(frame, STXv2, byte(n), 0, 0, e.seq, e.SystemID, e.ComponentID,
			byte(msgID), byte(msgID>>8), byte(msgID>>16))
		hdrLen = headerLenV2
	} else {
		frame = make([]byte, 0, 1+headerLenV1+len(payload)+2)
		frame = append(frame, STXv1, byte(len(payload)), e.seq, e.SystemID, e.ComponentID, byte(msgID))
		hdrLen = headerLenV1
	}
	frame = append(frame, payload...)
	crc := Checksum(frame[1:1+hdrLen+len(payload)], info.crcExtra)
	frame = append(frame, byte(crc), byte(crc>>8))
	e.seq++
	return frame, nil
}

func (e *Encoder) EncodeHeartbeat(h Heartbeat) ([]byte, error) {
	return e.Encode(MsgIDHeartbeat, h.Marshal())
}

func (e *Encoder) EncodeRadioStatus(r RadioStatus) ([]byte, error) {
	return e.Encode(MsgIDRadioStatus, r.Marshal())
}

func (e *Encoder) EncodeGenericCANFrame(f GenericCANFrame) ([]byte, error) {
	return e.Encode(MsgIDGenericCANFrame, f.Marshal())
}

func (e *Encoder) EncodeDebugFrame(d DebugFrame) ([]byte, error) {
	return e.Encode(MsgIDDebugFrame, d.Marshal())
}
