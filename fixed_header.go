package mqtt5

import (
	"errors"
	"io"
)

// PacketType is the 4-bit MQTT control packet type.
type PacketType byte

// Control packet types.
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
	PacketAUTH        PacketType = 15
)

var packetTypeNames = [...]string{
	"RESERVED", "CONNECT", "CONNACK", "PUBLISH", "PUBACK", "PUBREC", "PUBREL", "PUBCOMP",
	"SUBSCRIBE", "SUBACK", "UNSUBSCRIBE", "UNSUBACK", "PINGREQ", "PINGRESP", "DISCONNECT", "AUTH",
}

func (p PacketType) String() string {
	if int(p) < len(packetTypeNames) && p != 0 {
		return packetTypeNames[p]
	}
	return "UNKNOWN"
}

// Valid reports whether p is one of the fifteen defined control packet types.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketAUTH
}

// Fixed header errors.
var (
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidPacketFlags = errors.New("invalid packet flags")
)

// Fixed header flag bits.
const (
	flagRetain byte = 0x01
	flagQoS    byte = 0x06
	flagDUP    byte = 0x08

	// SUBSCRIBE, UNSUBSCRIBE and PUBREL carry 0b0010 in the low nibble.
	flagsReserved02 byte = 0x02
)

// FixedHeader is the first part of every control packet: type, flags and
// the variable byte integer remaining length.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// Encode writes the fixed header to w.
func (h *FixedHeader) Encode(w io.Writer) (int, error) {
	if !h.PacketType.Valid() {
		return 0, ErrInvalidPacketType
	}

	var buf [5]byte
	buf[0] = byte(h.PacketType)<<4 | h.Flags&0x0F

	n, err := putVarint(buf[1:], h.RemainingLength)
	if err != nil {
		return 0, err
	}

	return w.Write(buf[:1+n])
}

// Decode reads a fixed header from r.
func (h *FixedHeader) Decode(r io.Reader) (int, error) {
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return 0, err
	}

	h.PacketType = PacketType(first[0] >> 4)
	h.Flags = first[0] & 0x0F
	if !h.PacketType.Valid() {
		return 1, ErrInvalidPacketType
	}

	length, n, err := readVarint(r)
	if err != nil {
		return 1 + n, err
	}
	h.RemainingLength = length

	return 1 + n, nil
}

// Size returns the encoded size of the header.
func (h *FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// ValidateFlags checks the low nibble against the values the protocol
// mandates for the packet type. SUBSCRIBE additionally tolerates the DUP bit
// that retried subscriptions carry.
func (h *FixedHeader) ValidateFlags() error {
	switch h.PacketType {
	case PacketPUBLISH:
		if h.QoS() > 2 {
			return ErrInvalidPacketFlags
		}
	case PacketSUBSCRIBE:
		if h.Flags&^flagDUP != flagsReserved02 {
			return ErrInvalidPacketFlags
		}
	case PacketPUBREL, PacketUNSUBSCRIBE:
		if h.Flags != flagsReserved02 {
			return ErrInvalidPacketFlags
		}
	default:
		if !h.PacketType.Valid() {
			return ErrInvalidPacketType
		}
		if h.Flags != 0 {
			return ErrInvalidPacketFlags
		}
	}
	return nil
}

// DUP reports the duplicate delivery flag.
func (h *FixedHeader) DUP() bool { return h.Flags&flagDUP != 0 }

// QoS returns the PUBLISH QoS bits.
func (h *FixedHeader) QoS() byte { return (h.Flags & flagQoS) >> 1 }

// Retain reports the PUBLISH retain flag.
func (h *FixedHeader) Retain() bool { return h.Flags&flagRetain != 0 }

func publishFlags(dup bool, qos byte, retain bool) byte {
	flags := (qos << 1) & flagQoS
	if dup {
		flags |= flagDUP
	}
	if retain {
		flags |= flagRetain
	}
	return flags
}
