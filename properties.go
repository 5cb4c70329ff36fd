package mqtt5

import (
	"errors"
	"fmt"
)

// PropertyID identifies an MQTT v5 property.
type PropertyID byte

// Property identifiers.
const (
	PropPayloadFormatIndicator   PropertyID = 0x01
	PropMessageExpiryInterval    PropertyID = 0x02
	PropContentType              PropertyID = 0x03
	PropResponseTopic            PropertyID = 0x08
	PropCorrelationData          PropertyID = 0x09
	PropSubscriptionIdentifier   PropertyID = 0x0B
	PropSessionExpiryInterval    PropertyID = 0x11
	PropAssignedClientIdentifier PropertyID = 0x12
	PropServerKeepAlive          PropertyID = 0x13
	PropAuthenticationMethod     PropertyID = 0x15
	PropAuthenticationData       PropertyID = 0x16
	PropRequestProblemInfo       PropertyID = 0x17
	PropWillDelayInterval        PropertyID = 0x18
	PropRequestResponseInfo      PropertyID = 0x19
	PropResponseInformation      PropertyID = 0x1A
	PropServerReference          PropertyID = 0x1C
	PropReasonString             PropertyID = 0x1F
	PropReceiveMaximum           PropertyID = 0x21
	PropTopicAliasMaximum        PropertyID = 0x22
	PropTopicAlias               PropertyID = 0x23
	PropMaximumQoS               PropertyID = 0x24
	PropRetainAvailable          PropertyID = 0x25
	PropUserProperty             PropertyID = 0x26
	PropMaximumPacketSize        PropertyID = 0x27
	PropWildcardSubAvailable     PropertyID = 0x28
	PropSubscriptionIDAvailable  PropertyID = 0x29
	PropSharedSubAvailable       PropertyID = 0x2A
)

// PropertyType is the wire data type of a property value.
type PropertyType byte

// Property value types.
const (
	PropTypeByte PropertyType = iota
	PropTypeTwoByteInt
	PropTypeFourByteInt
	PropTypeVarInt
	PropTypeString
	PropTypeBinary
	PropTypeStringPair
)

// packetWillProperties marks the Will Properties block of CONNECT, which has
// its own allowlist. It sits just above the real packet type range.
const packetWillProperties PacketType = 16

type propertyRule struct {
	kind    PropertyType
	allowed packetSet
	// repeat lists packets in which the property may occur more than once.
	repeat packetSet
}

var (
	messageProps = packets(PacketPUBLISH, packetWillProperties)
	withProps    = packets(PacketCONNECT, PacketCONNACK, PacketPUBLISH, packetWillProperties,
		PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP, PacketSUBSCRIBE, PacketSUBACK,
		PacketUNSUBSCRIBE, PacketUNSUBACK, PacketDISCONNECT, PacketAUTH)
	reasonProps = packets(PacketCONNACK, PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP,
		PacketSUBACK, PacketUNSUBACK, PacketDISCONNECT, PacketAUTH)
)

var propertyRules = map[PropertyID]propertyRule{
	PropPayloadFormatIndicator:   {kind: PropTypeByte, allowed: messageProps},
	PropMessageExpiryInterval:    {kind: PropTypeFourByteInt, allowed: messageProps},
	PropContentType:              {kind: PropTypeString, allowed: messageProps},
	PropResponseTopic:            {kind: PropTypeString, allowed: messageProps},
	PropCorrelationData:          {kind: PropTypeBinary, allowed: messageProps},
	PropSubscriptionIdentifier:   {kind: PropTypeVarInt, allowed: packets(PacketPUBLISH, PacketSUBSCRIBE), repeat: packets(PacketPUBLISH)},
	PropSessionExpiryInterval:    {kind: PropTypeFourByteInt, allowed: packets(PacketCONNECT, PacketCONNACK, PacketDISCONNECT)},
	PropAssignedClientIdentifier: {kind: PropTypeString, allowed: packets(PacketCONNACK)},
	PropServerKeepAlive:          {kind: PropTypeTwoByteInt, allowed: packets(PacketCONNACK)},
	PropAuthenticationMethod:     {kind: PropTypeString, allowed: packets(PacketCONNECT, PacketCONNACK, PacketAUTH)},
	PropAuthenticationData:       {kind: PropTypeBinary, allowed: packets(PacketCONNECT, PacketCONNACK, PacketAUTH)},
	PropRequestProblemInfo:       {kind: PropTypeByte, allowed: packets(PacketCONNECT)},
	PropWillDelayInterval:        {kind: PropTypeFourByteInt, allowed: packets(packetWillProperties)},
	PropRequestResponseInfo:      {kind: PropTypeByte, allowed: packets(PacketCONNECT)},
	PropResponseInformation:      {kind: PropTypeString, allowed: packets(PacketCONNACK)},
	PropServerReference:          {kind: PropTypeString, allowed: packets(PacketCONNACK, PacketDISCONNECT)},
	PropReasonString:             {kind: PropTypeString, allowed: reasonProps},
	PropReceiveMaximum:           {kind: PropTypeTwoByteInt, allowed: packets(PacketCONNECT, PacketCONNACK)},
	PropTopicAliasMaximum:        {kind: PropTypeTwoByteInt, allowed: packets(PacketCONNECT, PacketCONNACK)},
	PropTopicAlias:               {kind: PropTypeTwoByteInt, allowed: packets(PacketPUBLISH)},
	PropMaximumQoS:               {kind: PropTypeByte, allowed: packets(PacketCONNACK)},
	PropRetainAvailable:          {kind: PropTypeByte, allowed: packets(PacketCONNACK)},
	PropUserProperty:             {kind: PropTypeStringPair, allowed: withProps, repeat: withProps},
	PropMaximumPacketSize:        {kind: PropTypeFourByteInt, allowed: packets(PacketCONNECT, PacketCONNACK)},
	PropWildcardSubAvailable:     {kind: PropTypeByte, allowed: packets(PacketCONNACK)},
	PropSubscriptionIDAvailable:  {kind: PropTypeByte, allowed: packets(PacketCONNACK)},
	PropSharedSubAvailable:       {kind: PropTypeByte, allowed: packets(PacketCONNACK)},
}

// PropertyType returns the wire type of the property. Unknown identifiers
// report PropTypeByte.
func (p PropertyID) PropertyType() PropertyType {
	return propertyRules[p].kind
}

// Property errors.
var (
	ErrUnknownPropertyID   = errors.New("unknown property identifier")
	ErrInvalidPropertyType = errors.New("invalid property value type")
	ErrDuplicateProperty   = errors.New("duplicate property not allowed")
	ErrPropertyNotAllowed  = errors.New("property not allowed for packet type")
)

// Properties is an ordered collection of MQTT v5 properties. The zero value
// is an empty set.
type Properties struct {
	props []property
}

type property struct {
	id    PropertyID
	value any
}

// Len returns the number of property entries.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.props)
}

// Has reports whether at least one entry with the given id exists.
func (p *Properties) Has(id PropertyID) bool {
	return p.Get(id) != nil
}

// Get returns the first value stored under id, or nil.
func (p *Properties) Get(id PropertyID) any {
	if p == nil {
		return nil
	}
	for _, prop := range p.props {
		if prop.id == id {
			return prop.value
		}
	}
	return nil
}

// GetAll returns every value stored under id in wire order.
func (p *Properties) GetAll(id PropertyID) []any {
	if p == nil {
		return nil
	}
	var out []any
	for _, prop := range p.props {
		if prop.id == id {
			out = append(out, prop.value)
		}
	}
	return out
}

// Set stores value under id, replacing an existing entry.
func (p *Properties) Set(id PropertyID, value any) {
	if p == nil {
		return
	}
	for i := range p.props {
		if p.props[i].id == id {
			p.props[i].value = value
			return
		}
	}
	p.props = append(p.props, property{id: id, value: value})
}

// Add appends an entry. Use it for repeatable properties.
func (p *Properties) Add(id PropertyID, value any) {
	if p == nil {
		return
	}
	p.props = append(p.props, property{id: id, value: value})
}

// Delete removes all entries with the given id.
func (p *Properties) Delete(id PropertyID) {
	if p == nil {
		return
	}
	kept := p.props[:0]
	for _, prop := range p.props {
		if prop.id != id {
			kept = append(kept, prop)
		}
	}
	p.props = kept
}

// GetByte returns a byte property or 0.
func (p *Properties) GetByte(id PropertyID) byte {
	v, _ := p.Get(id).(byte)
	return v
}

// GetUint16 returns a two byte integer property or 0.
func (p *Properties) GetUint16(id PropertyID) uint16 {
	v, _ := p.Get(id).(uint16)
	return v
}

// GetUint32 returns a four byte or variable byte integer property or 0.
func (p *Properties) GetUint32(id PropertyID) uint32 {
	v, _ := p.Get(id).(uint32)
	return v
}

// GetString returns a string property or "".
func (p *Properties) GetString(id PropertyID) string {
	v, _ := p.Get(id).(string)
	return v
}

// GetBinary returns a binary property or nil.
func (p *Properties) GetBinary(id PropertyID) []byte {
	v, _ := p.Get(id).([]byte)
	return v
}

// GetAllStringPairs returns every string pair stored under id.
func (p *Properties) GetAllStringPairs(id PropertyID) []StringPair {
	var out []StringPair
	for _, v := range p.GetAll(id) {
		if sp, ok := v.(StringPair); ok {
			out = append(out, sp)
		}
	}
	return out
}

// GetAllVarInts returns every integer stored under id.
func (p *Properties) GetAllVarInts(id PropertyID) []uint32 {
	var out []uint32
	for _, v := range p.GetAll(id) {
		if u, ok := v.(uint32); ok {
			out = append(out, u)
		}
	}
	return out
}

// Clone returns an independent copy.
func (p *Properties) Clone() Properties {
	if p == nil || len(p.props) == 0 {
		return Properties{}
	}
	out := Properties{props: make([]property, len(p.props))}
	copy(out.props, p.props)
	return out
}

// ValidateFor checks that every entry is known, carries a value of the
// right Go type, is permitted in a packet of type t, and is not repeated
// unless repetition is allowed there.
func (p *Properties) ValidateFor(t PacketType) error {
	if p == nil {
		return nil
	}
	seen := make(map[PropertyID]struct{}, len(p.props))
	for _, prop := range p.props {
		rule, ok := propertyRules[prop.id]
		if !ok {
			return fmt.Errorf("%w: 0x%02X", ErrUnknownPropertyID, byte(prop.id))
		}
		if !rule.allowed.has(t) {
			return fmt.Errorf("%w: 0x%02X in %s", ErrPropertyNotAllowed, byte(prop.id), propertyContextName(t))
		}
		if !valueMatches(rule.kind, prop.value) {
			return fmt.Errorf("%w: 0x%02X", ErrInvalidPropertyType, byte(prop.id))
		}
		if _, dup := seen[prop.id]; dup && !rule.repeat.has(t) {
			return fmt.Errorf("%w: 0x%02X", ErrDuplicateProperty, byte(prop.id))
		}
		seen[prop.id] = struct{}{}
	}
	return nil
}

func propertyContextName(t PacketType) string {
	if t == packetWillProperties {
		return "will properties"
	}
	return t.String()
}

func valueMatches(kind PropertyType, v any) bool {
	switch kind {
	case PropTypeByte:
		_, ok := v.(byte)
		return ok
	case PropTypeTwoByteInt:
		_, ok := v.(uint16)
		return ok
	case PropTypeFourByteInt, PropTypeVarInt:
		_, ok := v.(uint32)
		return ok
	case PropTypeString:
		_, ok := v.(string)
		return ok
	case PropTypeBinary:
		_, ok := v.([]byte)
		return ok
	case PropTypeStringPair:
		_, ok := v.(StringPair)
		return ok
	}
	return false
}

// encode appends the property block (length prefix included).
func (p *Properties) encode(e *encoder) {
	var body encoder
	if p != nil {
		for _, prop := range p.props {
			body.byte(byte(prop.id))
			switch rule := propertyRules[prop.id]; rule.kind {
			case PropTypeByte:
				v, _ := prop.value.(byte)
				body.byte(v)
			case PropTypeTwoByteInt:
				v, _ := prop.value.(uint16)
				body.uint16(v)
			case PropTypeFourByteInt:
				v, _ := prop.value.(uint32)
				body.uint32(v)
			case PropTypeVarInt:
				v, _ := prop.value.(uint32)
				body.varint(v)
			case PropTypeString:
				v, _ := prop.value.(string)
				body.string(v)
			case PropTypeBinary:
				v, _ := prop.value.([]byte)
				body.binary(v)
			case PropTypeStringPair:
				v, _ := prop.value.(StringPair)
				body.pair(v)
			}
		}
	}
	if body.err != nil {
		e.fail(body.err)
		return
	}
	e.varint(uint32(len(body.buf)))
	e.raw(body.buf)
}

// decode reads a property block and validates it for packet type t.
func (p *Properties) decode(d *decoder, t PacketType) {
	length := int(d.varint())
	if d.err != nil {
		return
	}
	if length > d.remaining() {
		d.fail(ErrPacketTruncated)
		return
	}

	block := decoder{buf: d.take(length)}
	for block.remaining() > 0 && block.err == nil {
		id := PropertyID(block.byte())
		rule, ok := propertyRules[id]
		if !ok {
			block.fail(fmt.Errorf("%w: 0x%02X", ErrUnknownPropertyID, byte(id)))
			break
		}

		var value any
		switch rule.kind {
		case PropTypeByte:
			value = block.byte()
		case PropTypeTwoByteInt:
			value = block.uint16()
		case PropTypeFourByteInt:
			value = block.uint32()
		case PropTypeVarInt:
			value = block.varint()
		case PropTypeString:
			value = block.string()
		case PropTypeBinary:
			value = block.binary()
			if value.([]byte) == nil {
				value = []byte{}
			}
		case PropTypeStringPair:
			value = block.pair()
		}
		if block.err == nil {
			p.props = append(p.props, property{id: id, value: value})
		}
	}
	if block.err != nil {
		d.fail(block.err)
		return
	}
	if err := p.ValidateFor(t); err != nil {
		d.fail(err)
	}
}

// size returns the encoded size of the block including the length prefix.
func (p *Properties) size() int {
	var e encoder
	p.encode(&e)
	return len(e.buf)
}
