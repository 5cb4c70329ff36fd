package mqtt5

import "io"

// ConnackPacket is the server's answer to CONNECT.
type ConnackPacket struct {
	SessionPresent bool
	ReasonCode     ReasonCode
	Props          Properties
}

func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

func (p *ConnackPacket) Encode(w io.Writer) (int, error) {
	var e encoder
	if p.SessionPresent {
		e.byte(0x01)
	} else {
		e.byte(0x00)
	}
	e.byte(byte(p.ReasonCode))
	p.Props.encode(&e)
	return writeFramed(w, PacketCONNACK, 0, &e)
}

func (p *ConnackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	d, n, err := readBody(r, header, PacketCONNACK)
	if err != nil {
		return n, err
	}
	ackFlags := d.byte()
	if d.err == nil && ackFlags&0xFE != 0 {
		d.fail(ErrProtocolViolation)
	}
	p.SessionPresent = ackFlags&0x01 != 0
	p.ReasonCode = ReasonCode(d.byte())
	if d.err == nil && !p.ReasonCode.ValidFor(PacketCONNACK) {
		d.fail(ErrInvalidReasonCode)
	}
	p.Props.decode(d, PacketCONNACK)
	return finish(d, PacketCONNACK, n)
}

func (p *ConnackPacket) Validate() error {
	if !p.ReasonCode.ValidFor(PacketCONNACK) {
		return ErrInvalidReasonCode
	}
	if p.SessionPresent && p.ReasonCode.IsError() {
		return ErrProtocolViolation
	}
	return p.Props.ValidateFor(PacketCONNACK)
}
