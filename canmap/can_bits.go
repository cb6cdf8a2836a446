package canmap

import (
	"errors"
	"fmt"
	"math"
)

var (
	errBitLength  = errors.New("invalid bit length")
	errBitRange   = errors.New("bit range exceeds payload")
	errFloatWidth = errors.New(Float32Tag + " signal must be 32 bits wide")
)

// checkSpan validates that the signal fits inside a payload of dlc bytes.
// Motorola start bits address the MSB in the sawtooth numbering used by
// DBC files, so the check runs on the linear MSB-first position.
func checkSpan(s SignalDef, dlc int) error {
	if s.BitLength <= 0 || s.BitLength > 64 {
		return fmt.Errorf("%w: %d", errBitLength, s.BitLength)
	}
	if s.IsFloat32() && s.BitLength != 32 {
		return errFloatWidth
	}
	if s.StartBit < 0 || s.StartBit >= 64 {
		return fmt.Errorf("%w: start bit %d", errBitRange, s.StartBit)
	}
	limit := dlc * 8
	last := s.StartBit + s.BitLength
	if s.ByteOrder == BigEndian {
		last = (s.StartBit/8)*8 + (7 - s.StartBit%8) + s.BitLength
	}
	if last > limit {
		return fmt.Errorf("%w: bits up to %d, payload has %d", errBitRange, last, limit)
	}
	return nil
}

func rawToUnsigned(raw int64, bitLen int) uint64 {
	if raw >= 0 {
		return uint64(raw)
	}
	fullMask := uint64(math.MaxUint64)
	if bitLen < 64 {
		fullMask = uint64(1)<<bitLen - 1
	}
	u := uint64(-raw)
	return (^u + 1) & fullMask
}

func clamp(v, lo, hi float64) float64 {
	if lo == 0 && hi == 0 {
		return v
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampRaw(raw int64, bitLen int, signed bool) int64 {
	if bitLen <= 0 || bitLen > 63 {
		return raw
	}
	if !signed {
		max := int64((1 << bitLen) - 1)
		if raw < 0 {
			return 0
		}
		if raw > max {
			return max
		}
		return raw
	}
	min := -int64(1 << (bitLen - 1))
	max := int64((1 << (bitLen - 1)) - 1)
	if raw < min {
		return min
	}
	if raw > max {
		return max
	}
	return raw
}
