package mqtt5

import (
	"errors"
	"io"
)

// Codec errors.
var (
	ErrPacketTooLarge    = errors.New("packet exceeds maximum size")
	ErrUnknownPacketType = errors.New("unknown packet type")
	ErrTrailingBytes     = errors.New("unexpected bytes after packet body")
)

// newPacket returns an empty packet value for t.
func newPacket(t PacketType) (Packet, bool) {
	switch t {
	case PacketCONNECT:
		return &ConnectPacket{}, true
	case PacketCONNACK:
		return &ConnackPacket{}, true
	case PacketPUBLISH:
		return &PublishPacket{}, true
	case PacketPUBACK:
		return &PubackPacket{}, true
	case PacketPUBREC:
		return &PubrecPacket{}, true
	case PacketPUBREL:
		return &PubrelPacket{}, true
	case PacketPUBCOMP:
		return &PubcompPacket{}, true
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, true
	case PacketSUBACK:
		return &SubackPacket{}, true
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, true
	case PacketUNSUBACK:
		return &UnsubackPacket{}, true
	case PacketPINGREQ:
		return &PingreqPacket{}, true
	case PacketPINGRESP:
		return &PingrespPacket{}, true
	case PacketDISCONNECT:
		return &DisconnectPacket{}, true
	case PacketAUTH:
		return &AuthPacket{}, true
	}
	return nil, false
}

// ReadPacket reads one complete control packet from r. A non-zero maxSize
// rejects packets whose remaining length exceeds it.
func ReadPacket(r io.Reader, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		if errors.Is(err, ErrInvalidPacketType) || errors.Is(err, ErrVarintMalformed) {
			return nil, n, malformed(header.PacketType, err)
		}
		return nil, n, err
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}

	body := make([]byte, header.RemainingLength)
	m, err := io.ReadFull(r, body)
	n += m
	if err != nil {
		return nil, n, err
	}

	pkt, ok := newPacket(header.PacketType)
	if !ok {
		return nil, n, ErrUnknownPacketType
	}

	br := getBytesReader(body)
	defer putBytesReader(br)

	if _, err := pkt.Decode(br, header); err != nil {
		return nil, n, err
	}
	return pkt, n, nil
}

// WritePacket validates and writes pkt to w as a single Write call. A
// non-zero maxSize rejects packets larger than it.
func WritePacket(w io.Writer, pkt Packet, maxSize uint32) (int, error) {
	if err := pkt.Validate(); err != nil {
		return 0, err
	}

	buf := getBytesBuffer()
	defer putBytesBuffer(buf)

	n, err := pkt.Encode(buf)
	if err != nil {
		return 0, err
	}
	if maxSize > 0 && uint32(n) > maxSize {
		return 0, ErrPacketTooLarge
	}
	return w.Write(buf.data)
}

// EncodePacket returns the wire bytes of pkt.
func EncodePacket(pkt Packet) ([]byte, error) {
	var buf bytesBuffer
	if _, err := WritePacket(&buf, pkt, 0); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// DecodePacket parses exactly one packet from b.
func DecodePacket(b []byte) (Packet, error) {
	r := &bytesReader{data: b}
	pkt, _, err := ReadPacket(r, 0)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		var t PacketType
		if len(b) > 0 {
			t = PacketType(b[0] >> 4)
		}
		return nil, malformed(t, ErrPacketTruncated)
	}
	if err != nil {
		return nil, err
	}
	if r.pos != len(r.data) {
		return nil, malformed(pkt.Type(), ErrTrailingBytes)
	}
	return pkt, nil
}

type bytesReader struct {
	data []byte
	pos  int
}

func (r *bytesReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

type bytesBuffer struct {
	data []byte
}

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
