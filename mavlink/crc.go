package mavlink

// CRC-16/MCRF4XX (the X.25 variant MAVLink calls crc_accumulate):
// poly 0x1021 reflected, init 0xFFFF, no final xor.
const crcInit uint16 = 0xFFFF

func crcAccumulate(b byte, crc uint16) uint16 {
	tmp := b ^ byte(crc&0xFF)
	tmp ^= tmp << 4
	return (crc >> 8) ^ (uint16(tmp) << 8) ^ (uint16(tmp) << 3) ^ (uint16(tmp) >> 4)
}

func crcUpdate(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = crcAccumulate(b, crc)
	}
	return crc
}

// Checksum computes the frame checksum over everything after the start
// marker, followed by the message's CRC_EXTRA seed byte.
func Checksum(headerAndPayload []byte, crcExtra byte) uint16 {
	crc := crcUpdate(crcInit, headerAndPayload)
	return crcAccumulate(crcExtra, crc)
}
