package meshcore

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Frame layout offsets.
const (
	selfInfoMinLen   = 36 // code, adv_type, tx_power, max_tx_power, pubkey
	selfInfoGeoEnd   = 44
	selfInfoRadioEnd = 58

	contactNameOff   = 1 + PublicKeySize + 3 + 64
	contactMinLen    = contactNameOff + 32
	contactAdvertEnd = contactMinLen + 4
	contactGeoEnd    = contactAdvertEnd + 8
	contactModEnd    = contactGeoEnd + 4

	statusHeaderLen = 8 // code, reserved, 6-byte key prefix
	statusMinLen    = statusHeaderLen + 24
	statusSNROff    = statusHeaderLen + 42
)

// Raw packet header fields carried in LOG_RX_DATA pushes.
const (
	payloadTypeAdvert    = 0x04
	routeTransportFlood  = 0x00
	routeTransportDirect = 0x03
)

// DecodeSelfInfo parses a SELF_INFO frame. Trailing sections the firmware
// omitted leave the matching fields nil.
func DecodeSelfInfo(frame []byte) (*SelfInfo, error) {
	if len(frame) < selfInfoMinLen || frame[0] != RespSelfInfo {
		return nil, fmt.Errorf("%w: self info of %d bytes", ErrMalformedFrame, len(frame))
	}

	txPower := int(frame[2])
	maxTxPower := int(frame[3])
	info := &SelfInfo{
		AdvType:    frame[1],
		TxPower:    &txPower,
		MaxTxPower: &maxTxPower,
		PublicKey:  hex.EncodeToString(frame[4:36]),
	}

	if len(frame) >= selfInfoGeoEnd {
		lat := coordinate(frame[36:40])
		lon := coordinate(frame[40:44])
		info.Latitude, info.Longitude = &lat, &lon
	}

	if len(frame) >= selfInfoRadioEnd {
		info.Radio = &RadioParams{
			FrequencyMHz:    float64(binary.LittleEndian.Uint32(frame[48:52])) / 1000,
			BandwidthKHz:    float64(binary.LittleEndian.Uint32(frame[52:56])) / 1000,
			SpreadingFactor: frame[56],
			CodingRate:      frame[57],
		}
		info.Name = cString(frame[58:])
	}

	return info, nil
}

// DecodeContact parses a CONTACT frame.
func DecodeContact(frame []byte) (*Contact, error) {
	if len(frame) < contactMinLen || frame[0] != RespContact {
		return nil, fmt.Errorf("%w: contact of %d bytes", ErrMalformedFrame, len(frame))
	}

	c := &Contact{
		PublicKey:  hex.EncodeToString(frame[1 : 1+PublicKeySize]),
		Type:       frame[33],
		Flags:      frame[34],
		OutPathLen: int8(frame[35]), //nolint:gosec // signed on the wire, -1 means flood
		Name:       cString(frame[contactNameOff:contactMinLen]),
	}
	if len(frame) >= contactAdvertEnd {
		c.LastAdvert = binary.LittleEndian.Uint32(frame[contactMinLen:contactAdvertEnd])
	}
	if len(frame) >= contactGeoEnd {
		lat := coordinate(frame[contactAdvertEnd : contactAdvertEnd+4])
		lon := coordinate(frame[contactAdvertEnd+4 : contactGeoEnd])
		c.Latitude, c.Longitude = &lat, &lon
	}
	if len(frame) >= contactModEnd {
		c.LastMod = binary.LittleEndian.Uint32(frame[contactGeoEnd:contactModEnd])
	}
	return c, nil
}

// DecodeStatus parses a STATUS_RESPONSE push.
func DecodeStatus(frame []byte) (*Status, error) {
	if len(frame) < statusMinLen || frame[0] != PushStatusResponse {
		return nil, fmt.Errorf("%w: status of %d bytes", ErrMalformedFrame, len(frame))
	}

	b := frame[statusHeaderLen:]
	st := &Status{
		KeyPrefix:   hex.EncodeToString(frame[2:statusHeaderLen]),
		BatteryMV:   binary.LittleEndian.Uint16(b[0:2]),
		TxQueueLen:  binary.LittleEndian.Uint16(b[2:4]),
		NoiseFloor:  int16(binary.LittleEndian.Uint16(b[4:6])), //nolint:gosec // signed on the wire
		LastRSSI:    int16(binary.LittleEndian.Uint16(b[6:8])), //nolint:gosec // signed on the wire
		PacketsRecv: binary.LittleEndian.Uint32(b[8:12]),
		PacketsSent: binary.LittleEndian.Uint32(b[12:16]),
		AirtimeSecs: binary.LittleEndian.Uint32(b[16:20]),
		UptimeSecs:  binary.LittleEndian.Uint32(b[20:24]),
	}
	if len(frame) >= statusSNROff+2 {
		snr := float64(int16(binary.LittleEndian.Uint16(frame[statusSNROff:statusSNROff+2]))) / 4 //nolint:gosec // signed on the wire
		st.LastSNR = &snr
	}
	return st, nil
}

// decodeAdvertSignal extracts the advertiser's public key and reception
// quality from a LOG_RX_DATA push. ok is false for anything that is not a
// well-formed advert.
func decodeAdvertSignal(frame []byte) (key string, sig Signal, ok bool) {
	if len(frame) < 4 || frame[0] != PushLogRxData {
		return "", Signal{}, false
	}
	sig = Signal{
		SNR:  float64(int8(frame[1])) / 4, //nolint:gosec // signed on the wire
		RSSI: int(int8(frame[2])),         //nolint:gosec // signed on the wire
	}

	raw := frame[3:]
	header := raw[0]
	if (header>>2)&0x0F != payloadTypeAdvert {
		return "", Signal{}, false
	}

	pos := 1
	if route := header & 0x03; route == routeTransportFlood || route == routeTransportDirect {
		pos += 4
	}
	if pos >= len(raw) {
		return "", Signal{}, false
	}
	pathLen := int(raw[pos])
	pos += 1 + pathLen
	if pos+PublicKeySize > len(raw) {
		return "", Signal{}, false
	}
	return hex.EncodeToString(raw[pos : pos+PublicKeySize]), sig, true
}

// coordinate decodes a signed micro-degree value.
func coordinate(b []byte) float64 {
	return float64(int32(binary.LittleEndian.Uint32(b))) / 1e6 //nolint:gosec // signed on the wire
}

// cString returns b up to its first NUL byte.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
