package bridge

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Packet is one outbound snapshot datagram. Timestamp is wall-clock
// seconds since the Unix epoch.
type Packet struct {
	Timestamp float64            `msgpack:"timestamp" cbor:"timestamp"`
	Fields    map[string]float64 `msgpack:"fields" cbor:"fields"`
}

// PacketCodec serializes packets into a self-describing binary map.
type PacketCodec interface {
	Name() string
	Marshal(p Packet) ([]byte, error)
	Unmarshal(data []byte, p *Packet) error
}

type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Marshal(p Packet) ([]byte, error) {
	return msgpack.Marshal(p)
}

func (MsgpackCodec) Unmarshal(data []byte, p *Packet) error {
	return msgpack.Unmarshal(data, p)
}

type CBORCodec struct {
	enc cbor.EncMode
}

func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	return &CBORCodec{enc: enc}, nil
}

func (c *CBORCodec) Name() string { return "cbor" }

func (c *CBORCodec) Marshal(p Packet) ([]byte, error) {
	return c.enc.Marshal(p)
}

func (c *CBORCodec) Unmarshal(data []byte, p *Packet) error {
	return cbor.Unmarshal(data, p)
}

func NewPacketCodec(name string) (PacketCodec, error) {
	switch name {
	case "", "msgpack":
		return MsgpackCodec{}, nil
	case "cbor":
		return NewCBORCodec()
	}
	return nil, fmt.Errorf("unknown packet codec %q (want msgpack or cbor)", name)
}

// Mirror receives a copy of every packet that was transmitted. Mirror
// implementations must not block the caller.
type Mirror interface {
	Mirror(p Packet)
}
