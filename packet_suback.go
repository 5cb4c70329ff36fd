package mqtt5

import "io"

// reasonList is the shared body of SUBACK and UNSUBACK: packet identifier,
// properties, then one reason code per requested filter.
type reasonList struct {
	PacketID    uint16
	Props       Properties
	ReasonCodes []ReasonCode
}

func (l *reasonList) encode(w io.Writer, t PacketType) (int, error) {
	var e encoder
	e.uint16(l.PacketID)
	l.Props.encode(&e)
	for _, rc := range l.ReasonCodes {
		e.byte(byte(rc))
	}
	return writeFramed(w, t, 0, &e)
}

func (l *reasonList) decode(r io.Reader, header FixedHeader, t PacketType) (int, error) {
	d, n, err := readBody(r, header, t)
	if err != nil {
		return n, err
	}
	l.PacketID = d.uint16()
	l.Props.decode(d, t)
	for d.err == nil && d.remaining() > 0 {
		rc := ReasonCode(d.byte())
		if !rc.ValidFor(t) {
			d.fail(ErrInvalidReasonCode)
			break
		}
		l.ReasonCodes = append(l.ReasonCodes, rc)
	}
	return finish(d, t, n)
}

func (l *reasonList) validate(t PacketType) error {
	if l.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(l.ReasonCodes) == 0 {
		return ErrProtocolViolation
	}
	for _, rc := range l.ReasonCodes {
		if !rc.ValidFor(t) {
			return ErrInvalidReasonCode
		}
	}
	return l.Props.ValidateFor(t)
}

// SubackPacket is the SUBACK control packet. It carries one reason code per
// filter of the SUBSCRIBE it answers, in request order.
type SubackPacket struct {
	reasonList
}

func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

func (p *SubackPacket) ID() uint16 { return p.PacketID }

func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	return p.encode(w, PacketSUBACK)
}

func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return p.decode(r, header, PacketSUBACK)
}

func (p *SubackPacket) Validate() error { return p.validate(PacketSUBACK) }

// GrantedQoS returns the granted QoS per filter, or 0x80 for a refused one.
func (p *SubackPacket) GrantedQoS() []byte {
	out := make([]byte, len(p.ReasonCodes))
	for i, rc := range p.ReasonCodes {
		out[i] = byte(rc)
		if rc.IsError() {
			out[i] = 0x80
		}
	}
	return out
}
