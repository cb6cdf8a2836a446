package main

import (
	"context"
	"io"
)

// SerialLink is the full-duplex byte stream to the radio modem. Read must
// return within the configured timeout, with n == 0 when nothing arrived.
type SerialLink interface {
	io.Reader
	io.Writer
	io.Closer
}

// readLoop forwards copies of every chunk read from link, in order. It
// returns on the first read error or when ctx is done.
func readLoop(ctx context.Context, link io.Reader, chunks chan<- []byte, errs chan<- error) {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := link.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				errs <- err
			}
			return
		}
		if n == 0 {
			continue
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return
		}
	}
}
