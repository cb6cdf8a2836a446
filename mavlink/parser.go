package mavlink

const (
	STXv1 byte = 0xFE
	STXv2 byte = 0xFD

	headerLenV1  = 5 // len, seq, sysid, compid, msgid
	headerLenV2  = 9 // len, incompat, compat, seq, sysid, compid, msgid[3]
	signatureLen = 13

	incompatSigned byte = 0x01
)

type parseState int

const (
	stateSeek parseState = iota
	stateHeader
	statePayload
	stateChecksum
	stateSignature
)

// Stats are cumulative parser counters. Envelopes counts emitted frames;
// the remaining fields count discarded ones by cause.
type Stats struct {
	Envelopes uint64
	BadCRC    uint64
	BadLength uint64
	BadHeader uint64
	Unknown   uint64
}

// Errors is the number of frames discarded for framing inconsistencies.
// Frames with unsupported message ids are reported separately as Unknown.
func (s Stats) Errors() uint64 {
	return s.BadCRC + s.BadLength + s.BadHeader
}

// Parser reassembles envelopes from a byte stream. It never fails: any
// inconsistent frame is discarded and scanning resumes at the next start
// marker. A Parser is not safe for concurrent use.
type Parser struct {
	state   parseState
	version int

	hdr     [headerLenV2]byte
	hdrN    int
	hdrNeed int

	info    messageInfo
	msgID   uint32
	payload [255]byte
	payN    int
	payNeed int
	crc     [2]byte
	crcN    int
	sigLeft int
	pending *Envelope
	stats   Stats
}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Stats() Stats { return p.stats }

// Parse feeds every byte of buf and returns the envelopes completed along
// the way. It is exactly equivalent to calling Feed for each byte.
func (p *Parser) Parse(buf []byte) []*Envelope {
	var out []*Envelope
	for _, b := range buf {
		if env := p.Feed(b); env != nil {
			out = append(out, env)
		}
	}
	return out
}

// Feed advances the state machine by one byte. It returns a complete
// envelope when b finishes a valid frame and nil otherwise.
func (p *Parser) Feed(b byte) *Envelope {
	switch p.state {
	case stateSeek:
		p.begin(b)
		return nil

	case stateHeader:
		p.hdr[p.hdrN] = b
		p.hdrN++
		if p.hdrN < p.hdrNeed {
			return nil
		}
		p.headerDone(b)
		return nil

	case statePayload:
		p.payload[p.payN] = b
		p.payN++
		if p.payN == p.payNeed {
			p.state = stateChecksum
		}
		return nil

	case stateChecksum:
		p.crc[p.crcN] = b
		p.crcN++
		if p.crcN < 2 {
			return nil
		}
		return p.checksumDone(b)

	case stateSignature:
		p.sigLeft--
		if p.sigLeft > 0 {
			return nil
		}
		env := p.pending
		p.reset()
		return env
	}
	p.reset()
	return nil
}

func (p *Parser) begin(b byte) {
	switch b {
	case STXv1:
		p.version, p.hdrNeed = 1, headerLenV1
	case STXv2:
		p.version, p.hdrNeed = 2, headerLenV2
	default:
		return
	}
	p.hdrN, p.payN, p.crcN = 0, 0, 0
	p.pending = nil
	p.state = stateHeader
}

// discard drops the frame in progress. If the byte that exposed the
// inconsistency is a start marker it opens the next frame.
func (p *Parser) discard(b byte) {
	p.reset()
	p.begin(b)
}

func (p *Parser) reset() {
	p.state = stateSeek
	p.hdrN, p.payN, p.crcN, p.sigLeft = 0, 0, 0, 0
	p.pending = nil
}

func (p *Parser) headerDone(last byte) {
	length := int(p.hdr[0])
	if p.version == 1 {
		p.msgID = uint32(p.hdr[4])
	} else {
		if p.hdr[1]&^incompatSigned != 0 {
			p.stats.BadHeader++
			p.discard(last)
			return
		}
		p.msgID = uint32(p.hdr[6]) | uint32(p.hdr[7])<<8 | uint32(p.hdr[8])<<16
	}
	info, ok := messages[p.msgID]
	if !ok {
		p.stats.Unknown++
		p.discard(last)
		return
	}
	// v2 strips trailing zero bytes from the payload; v1 never does.
	if length > info.length || (p.version == 1 && length != info.length) {
		p.stats.BadLength++
		p.discard(last)
		return
	}
	p.info = info
	p.payNeed = length
	if length == 0 {
		p.state = stateChecksum
	} else {
		p.state = statePayload
	}
}

func (p *Parser) checksumDone(last byte) *Envelope {
	got := uint16(p.crc[0]) | uint16(p.crc[1])<<8
	crc := crcUpdate(crcInit, p.hdr[:p.hdrNeed])
	crc = crcUpdate(crc, p.payload[:p.payN])
	crc = crcAccumulate(p.info.crcExtra, crc)
	if crc != got {
		p.stats.BadCRC++
		p.discard(last)
		return nil
	}

	payload := make([]byte, p.info.length)
	copy(payload, p.payload[:p.payN])
	env := &Envelope{
		Version:   p.version,
		MessageID: p.msgID,
		Kind:      p.info.kind,
		Payload:   payload,
	}
	if p.version == 1 {
		env.Seq, env.SystemID, env.ComponentID = p.hdr[1], p.hdr[2], p.hdr[3]
	} else {
		env.Seq, env.SystemID, env.ComponentID = p.hdr[3], p.hdr[4], p.hdr[5]
	}
	p.stats.Envelopes++

	if p.version == 2 && p.hdr[1]&incompatSigned != 0 {
		p.pending = env
		p.sigLeft = signatureLen
		p.state = stateSignature
		return nil
	}
	p.reset()
	return env
}
