package bridge

import (
	"math"
	"time"

	"telemetry-bridge/mavlink"
)

const (
	radioPrefix     = "radio/"
	linkPrefix      = "link/"
	heartbeatPrefix = "remote_heartbeat/"
)

// LinkState holds the receive timestamps the link health is derived from.
// A zero time means nothing has been received yet.
type LinkState struct {
	LastGenericRx       time.Time
	LastRemoteHeartbeat time.Time
}

type LinkMonitor struct {
	state LinkState

	remoteSystem    uint8
	remoteComponent uint8
	aliveTimeout    time.Duration
	surface         bool
}

func NewLinkMonitor(cfg Config) *LinkMonitor {
	return &LinkMonitor{
		remoteSystem:    cfg.RemoteSystemID,
		remoteComponent: cfg.RemoteComponentID,
		aliveTimeout:    cfg.AliveTimeout,
		surface:         cfg.SurfaceRemoteHeartbeat,
	}
}

func (m *LinkMonitor) State() LinkState { return m.state }

// Observe updates the link state from one envelope and returns the
// snapshot fields it derives, if any. An error means the payload could
// not be decoded; the receive timestamp is updated regardless.
func (m *LinkMonitor) Observe(env *mavlink.Envelope, now time.Time) (map[string]float64, error) {
	m.state.LastGenericRx = now

	switch env.Kind {
	case mavlink.KindHeartbeat:
		if !m.fromRemote(env) {
			return nil, nil
		}
		hb, err := mavlink.DecodeHeartbeat(env.Payload)
		if err != nil {
			return nil, err
		}
		m.state.LastRemoteHeartbeat = now
		if !m.surface {
			return nil, nil
		}
		return map[string]float64{
			heartbeatPrefix + "type":          float64(hb.Type),
			heartbeatPrefix + "autopilot":     float64(hb.Autopilot),
			heartbeatPrefix + "system_status": float64(hb.SystemStatus),
			heartbeatPrefix + "base_mode":     float64(hb.BaseMode),
			heartbeatPrefix + "custom_mode":   float64(hb.CustomMode),
		}, nil

	case mavlink.KindRadioStatus:
		return RadioFields(mavlink.DecodeRadioStatus(env.Payload)), nil
	}
	return nil, nil
}

// component id 0 accepts any component of the remote system
func (m *LinkMonitor) fromRemote(env *mavlink.Envelope) bool {
	if env.SystemID != m.remoteSystem {
		return false
	}
	return m.remoteComponent == 0 || env.ComponentID == m.remoteComponent
}

func (m *LinkMonitor) Alive(now time.Time) bool {
	if m.state.LastRemoteHeartbeat.IsZero() {
		return false
	}
	return now.Sub(m.state.LastRemoteHeartbeat) < m.aliveTimeout
}

// Latency is the time in seconds since anything was received, NaN before
// the first envelope.
func (m *LinkMonitor) Latency(now time.Time) float64 {
	if m.state.LastGenericRx.IsZero() {
		return math.NaN()
	}
	return now.Sub(m.state.LastGenericRx).Seconds()
}

func (m *LinkMonitor) Fields(now time.Time) map[string]float64 {
	alive := 0.0
	if m.Alive(now) {
		alive = 1.0
	}
	return map[string]float64{
		linkPrefix + "alive":   alive,
		linkPrefix + "latency": m.Latency(now),
	}
}

func radioDBm(raw uint8) float64 {
	return float64(raw)/1.9 - 127.0
}

// RadioFields converts a RADIO_STATUS into physical units. Fields the
// payload did not carry are omitted; a ratio with a missing operand is NaN.
func RadioFields(r mavlink.RadioStatus) map[string]float64 {
	out := make(map[string]float64, 9)
	dbm := func(name string, f mavlink.RadioField, raw uint8) (float64, bool) {
		if !r.Has(f) {
			return 0, false
		}
		v := radioDBm(raw)
		out[radioPrefix+name] = v
		return v, true
	}
	rssi, okRSSI := dbm("rssi", mavlink.FieldRSSI, r.RSSI)
	remRSSI, okRemRSSI := dbm("remrssi", mavlink.FieldRemRSSI, r.RemRSSI)
	noise, okNoise := dbm("noise", mavlink.FieldNoise, r.Noise)
	remNoise, okRemNoise := dbm("remnoise", mavlink.FieldRemNoise, r.RemNoise)

	out[radioPrefix+"snr"] = math.NaN()
	if okRSSI && okNoise {
		out[radioPrefix+"snr"] = rssi - noise
	}
	out[radioPrefix+"rem_snr"] = math.NaN()
	if okRemRSSI && okRemNoise {
		out[radioPrefix+"rem_snr"] = remRSSI - remNoise
	}

	if r.Has(mavlink.FieldTxBuf) {
		out[radioPrefix+"txbuf"] = float64(r.TxBuf)
	}
	if r.Has(mavlink.FieldRxErrors) {
		out[radioPrefix+"rxerrors"] = float64(r.RxErrors)
	}
	if r.Has(mavlink.FieldFixed) {
		out[radioPrefix+"fixed"] = float64(r.Fixed)
	}
	return out
}
