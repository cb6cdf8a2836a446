package bridge

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Envelopes       *prometheus.CounterVec
	ParseErrors     prometheus.Counter
	UnknownMessages prometheus.Counter
	FramesDecoded   prometheus.Counter
	DecodeErrors    *prometheus.CounterVec
	PacketsSent     prometheus.Counter
	SendErrors      prometheus.Counter
	Heartbeats      prometheus.Counter
	RxBytes         prometheus.Counter
	TxBytes         prometheus.Counter
	LinkAlive       prometheus.Gauge
	SnapshotSize    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_envelopes_total",
			Help: "Envelopes parsed from the serial link, by message kind.",
		}, []string{"kind"}),
		ParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_parse_errors_total",
			Help: "Frames discarded for header, length or checksum errors.",
		}),
		UnknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_unknown_messages_total",
			Help: "Frames dropped for an unsupported message id.",
		}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_can_frames_decoded_total",
			Help: "Tunneled bus frames decoded with the signal table.",
		}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_decode_errors_total",
			Help: "Envelopes or bus frames that could not be fully decoded.",
		}, []string{"reason"}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_packets_sent_total",
			Help: "Snapshot datagrams transmitted.",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_send_errors_total",
			Help: "Snapshot datagrams or heartbeats that failed to transmit.",
		}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_heartbeats_sent_total",
			Help: "Heartbeats written back over the serial link.",
		}),
		RxBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_serial_rx_bytes_total",
			Help: "Bytes read from the serial link.",
		}),
		TxBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_serial_tx_bytes_total",
			Help: "Bytes written to the serial link.",
		}),
		LinkAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_link_alive",
			Help: "1 while the remote heartbeat is within the alive timeout.",
		}),
		SnapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_snapshot_entries",
			Help: "Entries in the snapshot store at the last send.",
		}),
	}
	reg.MustRegister(
		m.Envelopes, m.ParseErrors, m.UnknownMessages, m.FramesDecoded, m.DecodeErrors,
		m.PacketsSent, m.SendErrors, m.Heartbeats, m.RxBytes, m.TxBytes,
		m.LinkAlive, m.SnapshotSize,
	)
	return m
}
