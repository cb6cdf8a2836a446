// Package bridge turns a MAVLink serial byte stream into periodic snapshot
// datagrams. All state is owned by whoever drives the Bridge; none of its
// methods are safe for concurrent use.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"telemetry-bridge/canmap"
	"telemetry-bridge/mavlink"
	"telemetry-bridge/utils"
)

type Config struct {
	SendPeriod      time.Duration
	HeartbeatPeriod time.Duration
	AliveTimeout    time.Duration
	DiagWindow      time.Duration
	BaudRate        int
	SnapshotPolicy  SnapshotPolicy

	RemoteSystemID         uint8
	RemoteComponentID      uint8 // 0 matches any component
	SurfaceRemoteHeartbeat bool

	LocalSystemID    uint8
	LocalComponentID uint8
	Heartbeat        mavlink.Heartbeat
}

func DefaultConfig() Config {
	return Config{
		SendPeriod:             20 * time.Millisecond,
		HeartbeatPeriod:        time.Second,
		AliveTimeout:           2 * time.Second,
		DiagWindow:             time.Second,
		BaudRate:               115200,
		SnapshotPolicy:         PolicyHold,
		RemoteSystemID:         1,
		SurfaceRemoteHeartbeat: true,
		LocalSystemID:          255,
		LocalComponentID:       190,
		Heartbeat: mavlink.Heartbeat{
			Type:           6, // GCS
			Autopilot:      8, // invalid: not a flight controller
			MavlinkVersion: 3,
		},
	}
}

// Outputs are the sinks a Bridge writes to. Datagram receives exactly one
// Write per snapshot packet. Serial, Echo, Mirrors and Metrics are optional.
type Outputs struct {
	Datagram io.Writer
	Serial   io.Writer
	Codec    PacketCodec
	Echo     canmap.CANWriter
	Mirrors  []Mirror
	Metrics  *Metrics
}

// Outcome classifies what happened to one dispatched envelope.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeUnknownFrame
	OutcomeFieldMissing
	OutcomeIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnknownFrame:
		return "unknown_frame"
	case OutcomeFieldMissing:
		return "field_missing"
	default:
		return "ignored"
	}
}

type Bridge struct {
	cfg   Config
	table *canmap.CANMap
	out   Outputs
	log   *utils.Logger

	decodeLog *utils.Throttled
	sendLog   *utils.Throttled

	parser *mavlink.Parser
	enc    *mavlink.Encoder
	store  *SnapshotStore
	link   *LinkMonitor
	diag   *Diagnostics

	parseSeen     mavlink.Stats
	lastSend      time.Time
	lastHeartbeat time.Time
}

func New(cfg Config, table *canmap.CANMap, out Outputs, log *utils.Logger) *Bridge {
	if out.Codec == nil {
		out.Codec = MsgpackCodec{}
	}
	if out.Metrics == nil {
		out.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	if cfg.SnapshotPolicy == "" {
		cfg.SnapshotPolicy = PolicyHold
	}
	return &Bridge{
		cfg:       cfg,
		table:     table,
		out:       out,
		log:       log,
		decodeLog: utils.NewThrottled(log, utils.WARN, time.Second, 5),
		sendLog:   utils.NewThrottled(log, utils.ERROR, time.Second, 5),
		parser:    mavlink.NewParser(),
		enc:       mavlink.NewEncoder(cfg.LocalSystemID, cfg.LocalComponentID),
		store:     NewSnapshotStore(),
		link:      NewLinkMonitor(cfg),
		diag:      NewDiagnostics(cfg.DiagWindow, cfg.BaudRate),
	}
}

func (b *Bridge) Store() *SnapshotStore      { return b.store }
func (b *Bridge) Link() *LinkMonitor         { return b.link }
func (b *Bridge) Diagnostics() *Diagnostics  { return b.diag }
func (b *Bridge) ParserStats() mavlink.Stats { return b.parser.Stats() }
func (b *Bridge) Metrics() *Metrics          { return b.out.Metrics }
func (b *Bridge) Config() Config             { return b.cfg }

// Start anchors every periodic deadline at now.
func (b *Bridge) Start(now time.Time) {
	b.lastSend = now
	b.lastHeartbeat = now
	b.diag.Start(now)
}

// Ingest feeds a chunk of serial bytes through the parser and dispatches
// every completed envelope in stream order.
func (b *Bridge) Ingest(ctx context.Context, chunk []byte, now time.Time) {
	b.diag.RxBytes(len(chunk))
	b.out.Metrics.RxBytes.Add(float64(len(chunk)))

	for _, c := range chunk {
		if env := b.parser.Feed(c); env != nil {
			b.Dispatch(ctx, env, now)
		}
	}

	stats := b.parser.Stats()
	if n := stats.Errors() - b.parseSeen.Errors(); n > 0 {
		b.diag.ParseErrors(n)
		b.out.Metrics.ParseErrors.Add(float64(n))
	}
	if n := stats.Unknown - b.parseSeen.Unknown; n > 0 {
		b.out.Metrics.UnknownMessages.Add(float64(n))
	}
	b.parseSeen = stats
}

// Dispatch routes one envelope to the link monitor and the signal decoder.
// Failures are counted and logged; nothing propagates to the caller.
func (b *Bridge) Dispatch(ctx context.Context, env *mavlink.Envelope, now time.Time) Outcome {
	b.diag.EnvelopeSeen()
	b.out.Metrics.Envelopes.WithLabelValues(env.Kind.String()).Inc()

	fields, err := b.link.Observe(env, now)
	if err != nil {
		b.decodeFailed("payload", now, "decode envelope", "kind", env.Kind, "err", err)
		return OutcomeFieldMissing
	}
	b.store.Merge(fields, now)

	switch env.Kind {
	case mavlink.KindGenericCANFrame:
		return b.dispatchCAN(ctx, env, now)
	case mavlink.KindDebugFrame:
		if dbg, err := mavlink.DecodeDebugFrame(env.Payload); err == nil {
			b.log.Trace("debug frame", "status", dbg.Status, "text", dbg.Text)
		}
		return OutcomeIgnored
	}
	return OutcomeOK
}

func (b *Bridge) dispatchCAN(ctx context.Context, env *mavlink.Envelope, now time.Time) Outcome {
	cf, err := mavlink.DecodeGenericCANFrame(env.Payload)
	if err != nil {
		b.decodeFailed("payload", now, "decode generic can frame", "err", err)
		return OutcomeFieldMissing
	}

	if b.out.Echo != nil {
		if err := b.out.Echo.WriteFrame(ctx, canmap.RawFrame(uint32(cf.ID), cf.Data[:])); err != nil {
			b.sendLog.LogAt(now, "can echo failed", "id", cf.ID, "err", err)
		}
	}

	dec, err := b.table.DecodeFrame(uint32(cf.ID), cf.Data[:])
	if err != nil {
		var unknown *canmap.UnknownFrameError
		if errors.As(err, &unknown) {
			b.decodeFailed("unknown_frame", now, "unknown frame id", "id", fmt.Sprintf("0x%X", unknown.ID))
			return OutcomeUnknownFrame
		}
		b.decodeFailed("signal", now, "decode frame", "id", cf.ID, "err", err)
		return OutcomeFieldMissing
	}

	for name, v := range dec.Values {
		b.store.Set(canmap.QualifiedName(dec.Frame.Name, name), v, now)
	}
	b.diag.FrameDecoded()
	b.out.Metrics.FramesDecoded.Inc()

	if len(dec.Failed) > 0 {
		b.decodeFailed("signal", now, "signals skipped", "frame", dec.Frame.Name, "err", errors.Join(signalErrs(dec.Failed)...))
		return OutcomeFieldMissing
	}
	return OutcomeOK
}

func signalErrs(failed []canmap.SignalError) []error {
	errs := make([]error, len(failed))
	for i, f := range failed {
		errs[i] = f
	}
	return errs
}

func (b *Bridge) decodeFailed(reason string, now time.Time, msg string, args ...any) {
	b.diag.DecodeError()
	b.out.Metrics.DecodeErrors.WithLabelValues(reason).Inc()
	b.decodeLog.LogAt(now, msg, args...)
}

// Service runs the periodic steps that follow a read: heartbeat out,
// diagnostic window, snapshot send.
func (b *Bridge) Service(now time.Time) {
	b.MaybeSendHeartbeat(now)
	b.MaybeTick(now)
	b.MaybeSend(now)
}

func (b *Bridge) MaybeSendHeartbeat(now time.Time) bool {
	if b.out.Serial == nil || now.Sub(b.lastHeartbeat) < b.cfg.HeartbeatPeriod {
		return false
	}
	b.lastHeartbeat = now

	frame, err := b.enc.EncodeHeartbeat(b.cfg.Heartbeat)
	if err != nil {
		b.sendLog.LogAt(now, "encode heartbeat", "err", err)
		return false
	}
	n, err := b.out.Serial.Write(frame)
	b.diag.TxBytes(n)
	b.out.Metrics.TxBytes.Add(float64(n))
	if err != nil {
		b.out.Metrics.SendErrors.Inc()
		b.sendLog.LogAt(now, "heartbeat write failed", "err", err)
		return false
	}
	b.out.Metrics.Heartbeats.Inc()
	return true
}

func (b *Bridge) MaybeTick(now time.Time) bool {
	if !b.diag.Tick(now) {
		return false
	}
	alive := 0.0
	if b.link.Alive(now) {
		alive = 1
	}
	b.out.Metrics.LinkAlive.Set(alive)
	if b.log.Enabled(utils.DEBUG) {
		d := b.diag.Fields()
		b.log.Debug("diag window",
			"frames_per_sec", d[diagPrefix+"frames_per_sec"],
			"decode_errors", d[diagPrefix+"decode_errors_last_sec"],
			"parse_errors", d[diagPrefix+"parse_errors_last_sec"],
			"alive", alive == 1)
	}
	return true
}

// MaybeSend transmits a snapshot when the send period has elapsed and the
// store holds something. It reports whether a packet went out.
func (b *Bridge) MaybeSend(now time.Time) bool {
	if now.Sub(b.lastSend) < b.cfg.SendPeriod {
		return false
	}
	b.lastSend = now
	b.diag.Sample(now)

	if b.store.Len() == 0 {
		return false
	}
	pkt := b.BuildPacket(now)
	b.out.Metrics.SnapshotSize.Set(float64(b.store.Len()))

	data, err := b.out.Codec.Marshal(pkt)
	if err != nil {
		b.out.Metrics.SendErrors.Inc()
		b.sendLog.LogAt(now, "encode packet", "codec", b.out.Codec.Name(), "err", err)
		return false
	}
	if _, err := b.out.Datagram.Write(data); err != nil {
		b.out.Metrics.SendErrors.Inc()
		b.sendLog.LogAt(now, "udp send failed", "err", err)
		return false
	}
	b.out.Metrics.PacketsSent.Inc()

	for _, m := range b.out.Mirrors {
		m.Mirror(pkt)
	}
	if b.cfg.SnapshotPolicy == PolicyClear {
		b.store.Clear()
	}
	return true
}

// BuildPacket merges the store with link and diagnostic fields.
func (b *Bridge) BuildPacket(now time.Time) Packet {
	fields := b.store.Fields()
	for k, v := range b.link.Fields(now) {
		fields[k] = v
	}
	for k, v := range b.diag.Fields() {
		fields[k] = v
	}
	return Packet{
		Timestamp: float64(now.UnixNano()) / 1e9,
		Fields:    fields,
	}
}
