package bridge

import "time"

const diagPrefix = "diag/"

// Diagnostics accumulates per-window counters and byte throughput. Only
// values from closed windows and completed samples are ever exposed.
type Diagnostics struct {
	window time.Duration
	baud   int

	windowStart  time.Time
	framesSeen   uint64
	envelopes    uint64
	decodeErrors uint64
	parseErrors  uint64

	closed          bool
	framesPerSec    float64
	envelopesPerSec float64
	lastDecodeErrs  uint64
	lastParseErrs   uint64

	sampleStart time.Time
	rxBytes     uint64
	txBytes     uint64

	sampled bool
	rxSpeed float64
	txSpeed float64
}

func NewDiagnostics(window time.Duration, baud int) *Diagnostics {
	return &Diagnostics{window: window, baud: baud}
}

func (d *Diagnostics) Start(now time.Time) {
	d.windowStart = now
	d.sampleStart = now
}

func (d *Diagnostics) FrameDecoded()        { d.framesSeen++ }
func (d *Diagnostics) EnvelopeSeen()        { d.envelopes++ }
func (d *Diagnostics) DecodeError()         { d.decodeErrors++ }
func (d *Diagnostics) ParseErrors(n uint64) { d.parseErrors += n }
func (d *Diagnostics) RxBytes(n int)        { d.rxBytes += uint64(n) }
func (d *Diagnostics) TxBytes(n int)        { d.txBytes += uint64(n) }

// Tick closes the window once it has lasted at least the window length.
// It reports whether a window was closed.
func (d *Diagnostics) Tick(now time.Time) bool {
	elapsed := now.Sub(d.windowStart)
	if elapsed < d.window {
		return false
	}
	secs := elapsed.Seconds()
	d.framesPerSec = float64(d.framesSeen) / secs
	d.envelopesPerSec = float64(d.envelopes) / secs
	d.lastDecodeErrs = d.decodeErrors
	d.lastParseErrs = d.parseErrors
	d.closed = true

	d.framesSeen, d.envelopes, d.decodeErrors, d.parseErrors = 0, 0, 0, 0
	d.windowStart = now
	return true
}

// Sample computes byte throughput since the previous sample.
func (d *Diagnostics) Sample(now time.Time) bool {
	elapsed := now.Sub(d.sampleStart).Seconds()
	if elapsed <= 0 {
		return false
	}
	d.rxSpeed = float64(d.rxBytes) / elapsed
	d.txSpeed = float64(d.txBytes) / elapsed
	d.sampled = true
	d.rxBytes, d.txBytes = 0, 0
	d.sampleStart = now
	return true
}

// utilization in percent of the nominal line rate; each byte costs ten
// bit times on an 8N1 line.
func (d *Diagnostics) utilization(bytesPerSec float64) float64 {
	if d.baud <= 0 {
		return 0
	}
	return bytesPerSec * 10 / float64(d.baud) * 100
}

func (d *Diagnostics) Fields() map[string]float64 {
	out := make(map[string]float64, 8)
	if d.closed {
		out[diagPrefix+"frames_per_sec"] = d.framesPerSec
		out[diagPrefix+"envelopes_per_sec"] = d.envelopesPerSec
		out[diagPrefix+"decode_errors_last_sec"] = float64(d.lastDecodeErrs)
		out[diagPrefix+"parse_errors_last_sec"] = float64(d.lastParseErrs)
	}
	if d.sampled {
		out[linkPrefix+"rx_speed"] = d.rxSpeed
		out[linkPrefix+"tx_speed"] = d.txSpeed
		out[linkPrefix+"rx_util"] = d.utilization(d.rxSpeed)
		out[linkPrefix+"tx_util"] = d.utilization(d.txSpeed)
	}
	return out
}
