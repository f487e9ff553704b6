package session

import (
	"github.com/nerrad567/meshcore-bridge/internal/meshcore"
)

// SelfIdentity is the connected node's own identity as reported to callers.
// Fields the device did not report are omitted from JSON.
type SelfIdentity struct {
	PublicKey  string   `json:"public_key"`
	Name       string   `json:"name"`
	AdvType    int      `json:"adv_type"`
	TxPower    *int     `json:"tx_power,omitempty"`
	MaxTxPower *int     `json:"max_tx_power,omitempty"`
	RadioFreq  *float64 `json:"radio_freq,omitempty"`
	RadioBW    *float64 `json:"radio_bw,omitempty"`
	RadioSF    *int     `json:"radio_sf,omitempty"`
	RadioCR    *int     `json:"radio_cr,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// ContactRecord is one peer known to the connected node.
type ContactRecord struct {
	PublicKey  string   `json:"public_key"`
	AdvName    string   `json:"adv_name"`
	Name       string   `json:"name"`
	RSSI       *int     `json:"rssi,omitempty"`
	SNR        *float64 `json:"snr,omitempty"`
	AdvType    int      `json:"adv_type"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	LastAdvert *int64   `json:"last_advert,omitempty"`
	OutPathLen int      `json:"out_path_len"`
}

// StatusRecord is a remote node's status reply.
//
// Status replies carry no radio settings. Every node on a mesh shares the
// same frequency, bandwidth, spreading factor and coding rate, so the radio
// fields are taken from the connected node. The remote's transmit power is
// not reported at all.
type StatusRecord struct {
	PublicKey  string   `json:"-"`
	BatteryMV  int      `json:"bat_mv"`
	UptimeSecs int64    `json:"up_secs"`
	RadioFreq  *float64 `json:"radio_freq,omitempty"`
	RadioBW    *float64 `json:"radio_bw,omitempty"`
	RadioSF    *int     `json:"radio_sf,omitempty"`
	RadioCR    *int     `json:"radio_cr,omitempty"`

	NoiseFloor  int      `json:"noise_floor"`
	LastRSSI    int      `json:"last_rssi"`
	LastSNR     *float64 `json:"last_snr,omitempty"`
	PacketsRecv int64    `json:"nb_recv"`
	PacketsSent int64    `json:"nb_sent"`
	AirtimeSecs int64    `json:"airtime"`
	TxQueueLen  int      `json:"tx_queue_len"`
}

// newSelfIdentity normalises a decoded SELF_INFO.
func newSelfIdentity(info *meshcore.SelfInfo) *SelfIdentity {
	id := &SelfIdentity{
		PublicKey:  info.PublicKey,
		Name:       info.Name,
		AdvType:    int(info.AdvType),
		TxPower:    copyPtr(info.TxPower),
		MaxTxPower: copyPtr(info.MaxTxPower),
		Latitude:   gpsAxis(info.Latitude),
		Longitude:  gpsAxis(info.Longitude),
	}
	if r := info.Radio; r != nil {
		freq, bw := r.FrequencyMHz, r.BandwidthKHz
		sf, cr := int(r.SpreadingFactor), int(r.CodingRate)
		id.RadioFreq, id.RadioBW, id.RadioSF, id.RadioCR = &freq, &bw, &sf, &cr
	}
	return id
}

// newContactRecord normalises a decoded contact.
func newContactRecord(c meshcore.Contact) ContactRecord {
	rec := ContactRecord{
		PublicKey:  c.PublicKey,
		AdvName:    c.Name,
		Name:       c.Name,
		RSSI:       copyPtr(c.RSSI),
		SNR:        copyPtr(c.SNR),
		AdvType:    int(c.Type),
		Latitude:   gpsAxis(c.Latitude),
		Longitude:  gpsAxis(c.Longitude),
		OutPathLen: int(c.OutPathLen),
	}
	if c.LastAdvert != 0 {
		ts := int64(c.LastAdvert)
		rec.LastAdvert = &ts
	}
	return rec
}

// newStatusRecord normalises a decoded status reply from publicKey, heard
// through the node described by self.
func newStatusRecord(publicKey string, st *meshcore.Status, self *SelfIdentity) StatusRecord {
	rec := StatusRecord{
		PublicKey:   publicKey,
		BatteryMV:   int(st.BatteryMV),
		UptimeSecs:  int64(st.UptimeSecs),
		NoiseFloor:  int(st.NoiseFloor),
		LastRSSI:    int(st.LastRSSI),
		LastSNR:     copyPtr(st.LastSNR),
		PacketsRecv: int64(st.PacketsRecv),
		PacketsSent: int64(st.PacketsSent),
		AirtimeSecs: int64(st.AirtimeSecs),
		TxQueueLen:  int(st.TxQueueLen),
	}
	if self != nil {
		rec.RadioFreq, rec.RadioBW = copyPtr(self.RadioFreq), copyPtr(self.RadioBW)
		rec.RadioSF, rec.RadioCR = copyPtr(self.RadioSF), copyPtr(self.RadioCR)
	}
	return rec
}

// gpsAxis drops a coordinate axis that is unreported or exactly zero.
// MeshCore nodes without a fix report 0,0.
func gpsAxis(v *float64) *float64 {
	if v == nil || *v == 0 {
		return nil
	}
	out := *v
	return &out
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
