package mqtt5

import (
	"errors"
	"fmt"
	"io"
)

// Packet content errors shared by the packets that carry identifiers and
// subscriptions.
var (
	ErrInvalidPacketID       = errors.New("invalid packet identifier")
	ErrProtocolViolation     = errors.New("protocol violation")
	ErrInvalidSubscriptionID = errors.New("invalid subscription identifier")
	ErrInvalidRetainHandling = errors.New("invalid retain handling")
	ErrReservedOptionBits    = errors.New("reserved subscription option bits set")
	ErrNoSubscriptions       = errors.New("subscribe carries no topic filters")
)

// Subscription option bits.
const (
	subOptQoS            byte = 0x03
	subOptNoLocal        byte = 0x04
	subOptRetainAsPub    byte = 0x08
	subOptRetainHandling byte = 0x30
	subOptReserved       byte = 0xC0
)

// Subscription is one topic filter of a SUBSCRIBE request and its options.
type Subscription struct {
	TopicFilter       string
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool

	// RetainHandling: 0 send retained on subscribe, 1 only for new
	// subscriptions, 2 never.
	RetainHandling byte

	// SubscriptionID is copied from the packet's Subscription Identifier
	// property when decoding.
	SubscriptionID uint32
}

func (s Subscription) options() byte {
	opts := s.QoS & subOptQoS
	if s.NoLocal {
		opts |= subOptNoLocal
	}
	if s.RetainAsPublished {
		opts |= subOptRetainAsPub
	}
	return opts | (s.RetainHandling<<4)&subOptRetainHandling
}

func (s *Subscription) setOptions(opts byte) error {
	if opts&subOptReserved != 0 {
		return ErrReservedOptionBits
	}
	s.QoS = opts & subOptQoS
	s.NoLocal = opts&subOptNoLocal != 0
	s.RetainAsPublished = opts&subOptRetainAsPub != 0
	s.RetainHandling = (opts & subOptRetainHandling) >> 4
	if s.QoS > 2 {
		return ErrInvalidQoS
	}
	if s.RetainHandling > 2 {
		return ErrInvalidRetainHandling
	}
	return nil
}

// SubscribePacket is the SUBSCRIBE control packet.
type SubscribePacket struct {
	PacketID      uint16
	Props         Properties
	Subscriptions []Subscription

	// DUP marks a retransmission. It only changes bit 3 of the first byte.
	DUP bool
}

func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

func (p *SubscribePacket) ID() uint16 { return p.PacketID }

func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	var e encoder
	e.uint16(p.PacketID)
	p.Props.encode(&e)
	for _, sub := range p.Subscriptions {
		e.string(sub.TopicFilter)
		e.byte(sub.options())
	}

	flags := flagsReserved02
	if p.DUP {
		flags |= flagDUP
	}
	return writeFramed(w, PacketSUBSCRIBE, flags, &e)
}

func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	d, n, err := readBody(r, header, PacketSUBSCRIBE)
	if err != nil {
		return n, err
	}
	p.DUP = header.DUP()

	p.PacketID = d.uint16()
	p.Props.decode(d, PacketSUBSCRIBE)
	subID := p.Props.GetUint32(PropSubscriptionIdentifier)

	for d.err == nil && d.remaining() > 0 {
		sub := Subscription{TopicFilter: d.string(), SubscriptionID: subID}
		opts := d.byte()
		if d.err != nil {
			break
		}
		if err := sub.setOptions(opts); err != nil {
			d.fail(fmt.Errorf("%w: filter %q", err, sub.TopicFilter))
			break
		}
		p.Subscriptions = append(p.Subscriptions, sub)
	}

	if d.err == nil && len(p.Subscriptions) == 0 {
		d.fail(ErrNoSubscriptions)
	}
	return finish(d, PacketSUBSCRIBE, n)
}

// Validate checks the packet before it goes on the wire. Every topic filter
// must pass filter validation.
func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrInvalidPacketID
	}
	return p.validateBody()
}

// validateBody checks everything except the packet identifier, so requests
// can be rejected before an identifier is allocated.
func (p *SubscribePacket) validateBody() error {
	if len(p.Subscriptions) == 0 {
		return ErrNoSubscriptions
	}
	if err := p.Props.ValidateFor(PacketSUBSCRIBE); err != nil {
		return err
	}
	if p.Props.Has(PropSubscriptionIdentifier) {
		id := p.Props.GetUint32(PropSubscriptionIdentifier)
		if id == 0 || id > maxVarint {
			return ErrInvalidSubscriptionID
		}
	}
	for _, sub := range p.Subscriptions {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
		if sub.QoS > 2 {
			return ErrInvalidQoS
		}
		if sub.RetainHandling > 2 {
			return ErrInvalidRetainHandling
		}
	}
	return nil
}

// EncodeSubscribe returns the wire bytes of a SUBSCRIBE packet.
func EncodeSubscribe(packetID uint16, subs []Subscription, props *Properties) ([]byte, error) {
	p := &SubscribePacket{PacketID: packetID, Subscriptions: subs}
	if props != nil {
		p.Props = props.Clone()
	}
	return EncodePacket(p)
}

// DecodeSubscribe parses the wire bytes of a SUBSCRIBE packet.
func DecodeSubscribe(b []byte) (uint16, *Properties, []Subscription, error) {
	pkt, err := DecodePacket(b)
	if err != nil {
		return 0, nil, nil, err
	}
	sub, ok := pkt.(*SubscribePacket)
	if !ok {
		return 0, nil, nil, malformed(PacketSUBSCRIBE, fmt.Errorf("%w: got %s", ErrInvalidPacketType, pkt.Type()))
	}
	return sub.PacketID, &sub.Props, sub.Subscriptions, nil
}
