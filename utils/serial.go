package utils

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// OpenSerial opens path as an 8N1 port. Reads return after readTimeout
// with n == 0 when no data arrived.
func OpenSerial(path string, baud int, readTimeout time.Duration) (serial.Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", path, err)
	}
	if readTimeout > 0 {
		if err := port.SetReadTimeout(readTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", path, err)
		}
	}
	return port, nil
}
