package mqtt5

import (
	"io"
)

// Packet is implemented by every MQTT control packet.
type Packet interface {
	// Type returns the control packet type.
	Type() PacketType

	// Encode writes the complete packet, fixed header included.
	Encode(w io.Writer) (int, error)

	// Decode reads the packet body described by an already decoded header.
	Decode(r io.Reader, header FixedHeader) (int, error)

	// Validate checks the packet contents before it is written.
	Validate() error
}

// PacketWithID is implemented by packets that carry a packet identifier.
type PacketWithID interface {
	Packet
	ID() uint16
}

// writeFramed writes a fixed header followed by body.
func writeFramed(w io.Writer, t PacketType, flags byte, body *encoder) (int, error) {
	if body.err != nil {
		return 0, body.err
	}
	header := FixedHeader{PacketType: t, Flags: flags, RemainingLength: uint32(len(body.buf))}
	if len(body.buf) > maxVarint {
		return 0, ErrPacketTooLarge
	}
	n, err := header.Encode(w)
	if err != nil {
		return n, err
	}
	m, err := w.Write(body.buf)
	return n + m, err
}

// readBody checks the header flags and loads the remaining length into a
// decoder. Reading directly from a bytesReader avoids a copy.
func readBody(r io.Reader, header FixedHeader, t PacketType) (*decoder, int, error) {
	if header.PacketType != t {
		return nil, 0, malformed(t, ErrInvalidPacketType)
	}
	if err := header.ValidateFlags(); err != nil {
		return nil, 0, malformed(t, err)
	}

	if br, ok := r.(*bytesReader); ok && br.pos == 0 && len(br.data) == int(header.RemainingLength) {
		br.pos = len(br.data)
		return &decoder{buf: br.data}, len(br.data), nil
	}

	buf := make([]byte, header.RemainingLength)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return nil, n, malformed(t, ErrPacketTruncated)
	}
	return &decoder{buf: buf}, n, nil
}

// finish converts a decoder's sticky error into the packet's decode error.
func finish(d *decoder, t PacketType, n int) (int, error) {
	if d.err != nil {
		return n, malformed(t, d.err)
	}
	if d.remaining() != 0 {
		return n, malformed(t, ErrTrailingBytes)
	}
	return n, nil
}

// Quality of service levels.
const (
	QoS0 byte = 0
	QoS1 byte = 1
	QoS2 byte = 2
)

// Message is an application message as seen by publishers and subscribers.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	// PayloadFormat is 1 when Payload is UTF-8 text.
	PayloadFormat byte

	// MessageExpiry is the lifetime in seconds; zero means none.
	MessageExpiry   uint32
	ContentType     string
	ResponseTopic   string
	CorrelationData []byte
	UserProperties  []StringPair

	// SubscriptionIdentifiers is only populated on received messages.
	SubscriptionIdentifiers []uint32
}

// NewTextMessage returns a message with a UTF-8 payload.
func NewTextMessage(topic, text string, qos byte, retain bool) *Message {
	return &Message{
		Topic:         topic,
		Payload:       []byte(text),
		QoS:           qos,
		Retain:        retain,
		PayloadFormat: 1,
	}
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Payload = cloneBytes(m.Payload)
	c.CorrelationData = cloneBytes(m.CorrelationData)
	if m.UserProperties != nil {
		c.UserProperties = append([]StringPair(nil), m.UserProperties...)
	}
	if m.SubscriptionIdentifiers != nil {
		c.SubscriptionIdentifiers = append([]uint32(nil), m.SubscriptionIdentifiers...)
	}
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// properties converts the message metadata into PUBLISH properties.
func (m *Message) properties() Properties {
	var p Properties
	if m.PayloadFormat != 0 {
		p.Set(PropPayloadFormatIndicator, m.PayloadFormat)
	}
	if m.MessageExpiry != 0 {
		p.Set(PropMessageExpiryInterval, m.MessageExpiry)
	}
	if m.ContentType != "" {
		p.Set(PropContentType, m.ContentType)
	}
	if m.ResponseTopic != "" {
		p.Set(PropResponseTopic, m.ResponseTopic)
	}
	if len(m.CorrelationData) > 0 {
		p.Set(PropCorrelationData, m.CorrelationData)
	}
	for _, up := range m.UserProperties {
		p.Add(PropUserProperty, up)
	}
	return p
}

// applyProperties copies metadata from received PUBLISH properties.
func (m *Message) applyProperties(p *Properties) {
	m.PayloadFormat = p.GetByte(PropPayloadFormatIndicator)
	m.MessageExpiry = p.GetUint32(PropMessageExpiryInterval)
	m.ContentType = p.GetString(PropContentType)
	m.ResponseTopic = p.GetString(PropResponseTopic)
	m.CorrelationData = p.GetBinary(PropCorrelationData)
	m.UserProperties = p.GetAllStringPairs(PropUserProperty)
	m.SubscriptionIdentifiers = p.GetAllVarInts(PropSubscriptionIdentifier)
}
