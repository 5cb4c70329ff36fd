package mqtt5

import "io"

// UnsubscribePacket is the UNSUBSCRIBE control packet.
type UnsubscribePacket struct {
	PacketID     uint16
	Props        Properties
	TopicFilters []string
}

func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

func (p *UnsubscribePacket) ID() uint16 { return p.PacketID }

func (p *UnsubscribePacket) Encode(w io.Writer) (int, error) {
	var e encoder
	e.uint16(p.PacketID)
	p.Props.encode(&e)
	for _, f := range p.TopicFilters {
		e.string(f)
	}
	return writeFramed(w, PacketUNSUBSCRIBE, flagsReserved02, &e)
}

func (p *UnsubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	d, n, err := readBody(r, header, PacketUNSUBSCRIBE)
	if err != nil {
		return n, err
	}
	p.PacketID = d.uint16()
	p.Props.decode(d, PacketUNSUBSCRIBE)
	for d.err == nil && d.remaining() > 0 {
		f := d.string()
		if d.err == nil {
			p.TopicFilters = append(p.TopicFilters, f)
		}
	}
	if d.err == nil && len(p.TopicFilters) == 0 {
		d.fail(ErrNoSubscriptions)
	}
	return finish(d, PacketUNSUBSCRIBE, n)
}

func (p *UnsubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	if len(p.TopicFilters) == 0 {
		return ErrNoSubscriptions
	}
	for _, f := range p.TopicFilters {
		if err := ValidateTopicFilter(f); err != nil {
			return err
		}
	}
	return p.Props.ValidateFor(PacketUNSUBSCRIBE)
}

// UnsubackPacket is the UNSUBACK control packet.
type UnsubackPacket struct {
	reasonList
}

func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

func (p *UnsubackPacket) ID() uint16 { return p.PacketID }

func (p *UnsubackPacket) Encode(w io.Writer) (int, error) {
	return p.encode(w, PacketUNSUBACK)
}

func (p *UnsubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	return p.decode(r, header, PacketUNSUBACK)
}

func (p *UnsubackPacket) Validate() error { return p.validate(PacketUNSUBACK) }
