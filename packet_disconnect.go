package mqtt5

import "io"

// reasoned is the shared body of DISCONNECT and AUTH: an optional reason
// code followed by optional properties.
type reasoned struct {
	ReasonCode ReasonCode
	Props      Properties
}

func (b *reasoned) encode(w io.Writer, t PacketType) (int, error) {
	var e encoder
	if b.ReasonCode != ReasonSuccess || b.Props.Len() > 0 {
		e.byte(byte(b.ReasonCode))
		if b.Props.Len() > 0 {
			b.Props.encode(&e)
		}
	}
	return writeFramed(w, t, 0, &e)
}

func (b *reasoned) decode(r io.Reader, header FixedHeader, t PacketType) (int, error) {
	d, n, err := readBody(r, header, t)
	if err != nil {
		return n, err
	}
	b.ReasonCode = ReasonSuccess
	if d.remaining() > 0 {
		b.ReasonCode = ReasonCode(d.byte())
		if !b.ReasonCode.ValidFor(t) {
			d.fail(ErrInvalidReasonCode)
		}
	}
	if d.err == nil && d.remaining() > 0 {
		b.Props.decode(d, t)
	}
	return finish(d, t, n)
}

func (b *reasoned) validate(t PacketType) error {
	if !b.ReasonCode.ValidFor(t) {
		return ErrInvalidReasonCode
	}
	return b.Props.ValidateFor(t)
}

// DisconnectPacket is the DISCONNECT control packet, sent by either side.
type DisconnectPacket struct {
	reasoned
}

// NewDisconnectPacket returns a DISCONNECT with the given reason.
func NewDisconnectPacket(rc ReasonCode) *DisconnectPacket {
	return &DisconnectPacket{reasoned{ReasonCode: rc}}
}

func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *DisconnectPacket) Encode(w io.Writer) (int, error) {
	return p.encode(w, PacketDISCONNECT)
}

func (p *DisconnectPacket) Decode(r io.Reader, h FixedHeader) (int, error) {
	return p.decode(r, h, PacketDISCONNECT)
}

func (p *DisconnectPacket) Validate() error { return p.validate(PacketDISCONNECT) }
