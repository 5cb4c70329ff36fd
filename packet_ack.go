package mqtt5

import (
	"errors"
	"io"
)

// ErrInvalidReasonCode is returned for a reason code the packet type does
// not permit.
var ErrInvalidReasonCode = errors.New("invalid reason code for packet type")

// ack is the shared body of PUBACK, PUBREC, PUBREL and PUBCOMP. The reason
// code and properties are omitted on the wire when they carry nothing.
type ack struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

func (a *ack) encode(w io.Writer, t PacketType, flags byte) (int, error) {
	var e encoder
	e.uint16(a.PacketID)
	if a.ReasonCode != ReasonSuccess || a.Props.Len() > 0 {
		e.byte(byte(a.ReasonCode))
		if a.Props.Len() > 0 {
			a.Props.encode(&e)
		}
	}
	return writeFramed(w, t, flags, &e)
}

func (a *ack) decode(r io.Reader, header FixedHeader, t PacketType) (int, error) {
	d, n, err := readBody(r, header, t)
	if err != nil {
		return n, err
	}
	a.PacketID = d.uint16()
	a.ReasonCode = ReasonSuccess
	if d.remaining() > 0 {
		a.ReasonCode = ReasonCode(d.byte())
		if !a.ReasonCode.ValidFor(t) {
			d.fail(ErrInvalidReasonCode)
		}
	}
	if d.err == nil && d.remaining() > 0 {
		a.Props.decode(d, t)
	}
	return finish(d, t, n)
}

func (a *ack) validate(t PacketType) error {
	if a.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if !a.ReasonCode.ValidFor(t) {
		return ErrInvalidReasonCode
	}
	return a.Props.ValidateFor(t)
}

// PubackPacket answers a QoS 1 PUBLISH.
type PubackPacket struct{ ack }

func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

func (p *PubackPacket) ID() uint16 { return p.PacketID }

func (p *PubackPacket) Validate() error { return p.validate(PacketPUBACK) }

func (p *PubackPacket) Encode(w io.Writer) (int, error) {
	return p.encode(w, PacketPUBACK, 0)
}

func (p *PubackPacket) Decode(r io.Reader, h FixedHeader) (int, error) {
	return p.decode(r, h, PacketPUBACK)
}

// PubrecPacket is the first answer to a QoS 2 PUBLISH.
type PubrecPacket struct{ ack }

func (p *PubrecPacket) Type() PacketType { return PacketPUBREC }

func (p *PubrecPacket) ID() uint16 { return p.PacketID }

func (p *PubrecPacket) Validate() error { return p.validate(PacketPUBREC) }

func (p *PubrecPacket) Encode(w io.Writer) (int, error) {
	return p.encode(w, PacketPUBREC, 0)
}

func (p *PubrecPacket) Decode(r io.Reader, h FixedHeader) (int, error) {
	return p.decode(r, h, PacketPUBREC)
}

// PubrelPacket releases a QoS 2 message after PUBREC.
type PubrelPacket struct{ ack }

func (p *PubrelPacket) Type() PacketType { return PacketPUBREL }

func (p *PubrelPacket) ID() uint16 { return p.PacketID }

func (p *PubrelPacket) Validate() error { return p.validate(PacketPUBREL) }

func (p *PubrelPacket) Encode(w io.Writer) (int, error) {
	return p.encode(w, PacketPUBREL, flagsReserved02)
}

func (p *PubrelPacket) Decode(r io.Reader, h FixedHeader) (int, error) {
	return p.decode(r, h, PacketPUBREL)
}

// PubcompPacket completes a QoS 2 exchange.
type PubcompPacket struct{ ack }

func (p *PubcompPacket) Type() PacketType { return PacketPUBCOMP }

func (p *PubcompPacket) ID() uint16 { return p.PacketID }

func (p *PubcompPacket) Validate() error { return p.validate(PacketPUBCOMP) }

func (p *PubcompPacket) Encode(w io.Writer) (int, error) {
	return p.encode(w, PacketPUBCOMP, 0)
}

func (p *PubcompPacket) Decode(r io.Reader, h FixedHeader) (int, error) {
	return p.decode(r, h, PacketPUBCOMP)
}
