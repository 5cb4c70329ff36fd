package mqtt5

import "io"

// encodeEmpty writes a packet that consists of a fixed header only.
func encodeEmpty(w io.Writer, t PacketType) (int, error) {
	var e encoder
	return writeFramed(w, t, 0, &e)
}

func decodeEmpty(r io.Reader, header FixedHeader, t PacketType) (int, error) {
	if header.RemainingLength != 0 {
		return 0, malformed(t, ErrTrailingBytes)
	}
	d, n, err := readBody(r, header, t)
	if err != nil {
		return n, err
	}
	return finish(d, t, n)
}

// PingreqPacket is the keep-alive probe sent by the client.
type PingreqPacket struct{}

func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

func (p *PingreqPacket) Encode(w io.Writer) (int, error) { return encodeEmpty(w, PacketPINGREQ) }

func (p *PingreqPacket) Decode(r io.Reader, h FixedHeader) (int, error) {
	return decodeEmpty(r, h, PacketPINGREQ)
}

func (p *PingreqPacket) Validate() error { return nil }

// PingrespPacket answers PINGREQ.
type PingrespPacket struct{}

func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

func (p *PingrespPacket) Encode(w io.Writer) (int, error) { return encodeEmpty(w, PacketPINGRESP) }

func (p *PingrespPacket) Decode(r io.Reader, h FixedHeader) (int, error) {
	return decodeEmpty(r, h, PacketPINGRESP)
}

func (p *PingrespPacket) Validate() error { return nil }
