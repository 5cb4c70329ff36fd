package mqtt5

import (
	"errors"
	"io"
)

// PUBLISH errors.
var (
	ErrInvalidQoS       = errors.New("invalid QoS level")
	ErrPacketIDRequired = errors.New("packet identifier required for QoS > 0")
	ErrUnexpectedID     = errors.New("packet identifier not allowed for QoS 0")
)

// PublishPacket is the PUBLISH control packet.
type PublishPacket struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	DUP      bool
	PacketID uint16
	Props    Properties
}

// newPublishPacket builds a PUBLISH for msg. The caller assigns PacketID for
// QoS 1 and 2.
func newPublishPacket(msg *Message) *PublishPacket {
	return &PublishPacket{
		Topic:   msg.Topic,
		Payload: msg.Payload,
		QoS:     msg.QoS,
		Retain:  msg.Retain,
		Props:   msg.properties(),
	}
}

func (p *PublishPacket) Type() PacketType { return PacketPUBLISH }

func (p *PublishPacket) ID() uint16 { return p.PacketID }

// Message converts the packet into an application message.
func (p *PublishPacket) Message() *Message {
	msg := &Message{
		Topic:   p.Topic,
		Payload: p.Payload,
		QoS:     p.QoS,
		Retain:  p.Retain,
	}
	msg.applyProperties(&p.Props)
	return msg
}

func (p *PublishPacket) Encode(w io.Writer) (int, error) {
	var e encoder
	e.string(p.Topic)
	if p.QoS > 0 {
		e.uint16(p.PacketID)
	}
	p.Props.encode(&e)
	e.raw(p.Payload)
	return writeFramed(w, PacketPUBLISH, publishFlags(p.DUP, p.QoS, p.Retain), &e)
}

func (p *PublishPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	d, n, err := readBody(r, header, PacketPUBLISH)
	if err != nil {
		return n, err
	}
	p.DUP = header.DUP()
	p.QoS = header.QoS()
	p.Retain = header.Retain()

	p.Topic = d.string()
	if p.QoS > 0 {
		p.PacketID = d.uint16()
		if d.err == nil && p.PacketID == 0 {
			d.fail(ErrInvalidPacketID)
		}
	}
	p.Props.decode(d, PacketPUBLISH)
	if d.err == nil && p.Topic == "" && !p.Props.Has(PropTopicAlias) {
		d.fail(ErrProtocolViolation)
	}
	p.Payload = d.rest()
	return finish(d, PacketPUBLISH, n)
}

func (p *PublishPacket) Validate() error {
	if p.QoS > 2 {
		return ErrInvalidQoS
	}
	if p.QoS > 0 && p.PacketID == 0 {
		return ErrPacketIDRequired
	}
	if p.QoS == 0 && p.PacketID != 0 {
		return ErrUnexpectedID
	}
	if p.Topic != "" || !p.Props.Has(PropTopicAlias) {
		if err := ValidateTopicName(p.Topic); err != nil {
			return err
		}
	}
	return p.Props.ValidateFor(PacketPUBLISH)
}
