package mqtt5

import (
	"errors"
	"io"
)

const (
	protocolName    = "MQTT"
	protocolVersion = 5
)

// Connect flag bits.
const (
	connectReserved   byte = 0x01
	connectCleanStart byte = 0x02
	connectWill       byte = 0x04
	connectWillQoS    byte = 0x18
	connectWillRetain byte = 0x20
	connectPassword   byte = 0x40
	connectUsername   byte = 0x80
)

// CONNECT errors.
var (
	ErrInvalidProtocolName    = errors.New("invalid protocol name")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
	ErrClientIDRequired       = errors.New("client identifier required without clean start")
)

// ConnectPacket is the CONNECT control packet.
type ConnectPacket struct {
	ClientID   string
	CleanStart bool
	KeepAlive  uint16
	Props      Properties
	Username   string
	Password   []byte

	// Will is published by the server when the connection ends without a
	// normal DISCONNECT. WillDelay maps to the Will Delay Interval.
	Will      *Message
	WillDelay uint32
}

func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

func (p *ConnectPacket) flags() byte {
	var f byte
	if p.CleanStart {
		f |= connectCleanStart
	}
	if p.Will != nil {
		f |= connectWill | (p.Will.QoS<<3)&connectWillQoS
		if p.Will.Retain {
			f |= connectWillRetain
		}
	}
	if len(p.Password) > 0 {
		f |= connectPassword
	}
	if p.Username != "" {
		f |= connectUsername
	}
	return f
}

func (p *ConnectPacket) willProperties() Properties {
	props := p.Will.properties()
	if p.WillDelay > 0 {
		props.Set(PropWillDelayInterval, p.WillDelay)
	}
	return props
}

func (p *ConnectPacket) Encode(w io.Writer) (int, error) {
	var e encoder
	e.string(protocolName)
	e.byte(protocolVersion)
	e.byte(p.flags())
	e.uint16(p.KeepAlive)
	p.Props.encode(&e)

	e.string(p.ClientID)
	if p.Will != nil {
		wp := p.willProperties()
		wp.encode(&e)
		e.string(p.Will.Topic)
		e.binary(p.Will.Payload)
	}
	if p.Username != "" {
		e.string(p.Username)
	}
	if len(p.Password) > 0 {
		e.binary(p.Password)
	}
	return writeFramed(w, PacketCONNECT, 0, &e)
}

func (p *ConnectPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	d, n, err := readBody(r, header, PacketCONNECT)
	if err != nil {
		return n, err
	}

	if name := d.string(); d.err == nil && name != protocolName {
		d.fail(ErrInvalidProtocolName)
	}
	if v := d.byte(); d.err == nil && v != protocolVersion {
		d.fail(ErrInvalidProtocolVersion)
	}
	flags := d.byte()
	if d.err == nil && (flags&connectReserved != 0 || (flags&connectWillQoS)>>3 > 2 ||
		(flags&connectWill == 0 && flags&(connectWillQoS|connectWillRetain) != 0)) {
		d.fail(ErrInvalidConnectFlags)
	}
	p.CleanStart = flags&connectCleanStart != 0
	p.KeepAlive = d.uint16()
	p.Props.decode(d, PacketCONNECT)
	p.ClientID = d.string()

	if flags&connectWill != 0 && d.err == nil {
		var wp Properties
		wp.decode(d, packetWillProperties)
		will := &Message{
			QoS:    (flags & connectWillQoS) >> 3,
			Retain: flags&connectWillRetain != 0,
		}
		will.Topic = d.string()
		will.Payload = d.binary()
		will.applyProperties(&wp)
		p.Will = will
		p.WillDelay = wp.GetUint32(PropWillDelayInterval)
	}
	if flags&connectUsername != 0 {
		p.Username = d.string()
	}
	if flags&connectPassword != 0 {
		p.Password = d.binary()
	}
	return finish(d, PacketCONNECT, n)
}

func (p *ConnectPacket) Validate() error {
	if err := validateString(p.ClientID); err != nil {
		return err
	}
	if !p.CleanStart && p.ClientID == "" {
		return ErrClientIDRequired
	}
	if p.Will != nil {
		if p.Will.QoS > 2 {
			return ErrInvalidConnectFlags
		}
		if err := ValidateTopicName(p.Will.Topic); err != nil {
			return err
		}
		wp := p.willProperties()
		if err := wp.ValidateFor(packetWillProperties); err != nil {
			return err
		}
	}
	return p.Props.ValidateFor(PacketCONNECT)
}
