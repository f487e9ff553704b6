package telemetry

import (
	"time"

	"github.com/nerrad567/meshcore-bridge/internal/session"
)

// PointWriter is the part of the InfluxDB client the recorder needs.
type PointWriter interface {
	WriteNodeStatus(node string, fields map[string]any, at time.Time)
	WriteContactSignal(contact, name string, rssi int, snr float64, at time.Time)
}

// InfluxRecorder turns status replies and contact refreshes into points.
type InfluxRecorder struct {
	writer PointWriter
}

// NewInfluxRecorder creates a recorder over w.
func NewInfluxRecorder(w PointWriter) *InfluxRecorder {
	return &InfluxRecorder{writer: w}
}

// HandleEvent implements session.Listener.
func (r *InfluxRecorder) HandleEvent(e session.Event) {
	switch e.Kind {
	case session.EventStatus:
		if e.Status != nil {
			r.writer.WriteNodeStatus(shortKey(e.StatusKey), statusFields(e.Status), e.Time)
		}
	case session.EventContacts:
		for _, c := range e.Contacts {
			// Contacts never heard during this connection have no signal.
			if c.RSSI == nil || c.SNR == nil {
				continue
			}
			r.writer.WriteContactSignal(shortKey(c.PublicKey), c.AdvName, *c.RSSI, *c.SNR, e.Time)
		}
	}
}

func statusFields(st *session.StatusRecord) map[string]any {
	fields := map[string]any{
		"bat_mv":       st.BatteryMV,
		"up_secs":      st.UptimeSecs,
		"noise_floor":  st.NoiseFloor,
		"last_rssi":    st.LastRSSI,
		"nb_recv":      st.PacketsRecv,
		"nb_sent":      st.PacketsSent,
		"airtime":      st.AirtimeSecs,
		"tx_queue_len": st.TxQueueLen,
	}
	if st.LastSNR != nil {
		fields["last_snr"] = *st.LastSNR
	}
	return fields
}
