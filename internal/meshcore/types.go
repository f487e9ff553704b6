package meshcore

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// RadioParams holds the LoRa radio settings of a node.
type RadioParams struct {
	FrequencyMHz    float64
	BandwidthKHz    float64
	SpreadingFactor uint8
	CodingRate      uint8
}

// Validate checks that the parameters fall inside what the firmware accepts.
func (p RadioParams) Validate() error {
	switch {
	case p.FrequencyMHz < 150 || p.FrequencyMHz > 2500:
		return fmt.Errorf("%w: frequency %.3f MHz out of range", ErrInvalidRadioParams, p.FrequencyMHz)
	case p.BandwidthKHz < 7 || p.BandwidthKHz > 500:
		return fmt.Errorf("%w: bandwidth %.1f kHz out of range", ErrInvalidRadioParams, p.BandwidthKHz)
	case p.SpreadingFactor < 5 || p.SpreadingFactor > 12:
		return fmt.Errorf("%w: spreading factor %d out of range 5-12", ErrInvalidRadioParams, p.SpreadingFactor)
	case p.CodingRate < 5 || p.CodingRate > 8:
		return fmt.Errorf("%w: coding rate %d out of range 5-8", ErrInvalidRadioParams, p.CodingRate)
	}
	return nil
}

// SelfInfo is the node's description of itself, returned by the handshake.
// Pointer fields are nil when the node's firmware did not report them.
type SelfInfo struct {
	AdvType    uint8
	TxPower    *int
	MaxTxPower *int
	PublicKey  string
	Latitude   *float64
	Longitude  *float64
	Radio      *RadioParams
	Name       string
}

// Contact is one entry of the node's contact table.
type Contact struct {
	PublicKey  string
	Type       uint8
	Flags      uint8
	OutPathLen int8
	Name       string
	LastAdvert uint32
	Latitude   *float64
	Longitude  *float64
	LastMod    uint32

	// Signal of the most recent advert heard from this contact, if any.
	RSSI *int
	SNR  *float64
}

// Status is a repeater's reply to a status request.
type Status struct {
	KeyPrefix   string
	BatteryMV   uint16
	TxQueueLen  uint16
	NoiseFloor  int16
	LastRSSI    int16
	PacketsRecv uint32
	PacketsSent uint32
	AirtimeSecs uint32
	UptimeSecs  uint32

	// LastSNR is only present in the extended reply.
	LastSNR *float64
}

// Signal is the reception quality of a single overheard packet.
type Signal struct {
	RSSI int
	SNR  float64
}

// ParsePublicKey decodes a full 32-byte public key from hex.
func ParsePublicKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(key) != PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), PublicKeySize)
	}
	return key, nil
}

// ParseKeyPrefix decodes a hex public key, or a prefix of one, and returns
// the leading bytes used to address direct messages.
func ParseKeyPrefix(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(key) < keyPrefixLen || len(key) > PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d to %d", ErrInvalidKey, len(key), keyPrefixLen, PublicKeySize)
	}
	return key[:keyPrefixLen], nil
}
