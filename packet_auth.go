package mqtt5

import (
	"errors"
	"io"
)

// ErrAuthMethodRequired is returned for an AUTH packet without an
// Authentication Method property.
var ErrAuthMethodRequired = errors.New("authentication method required")

// AuthPacket carries an enhanced authentication exchange step.
type AuthPacket struct {
	reasoned
}

// NewAuthPacket returns an AUTH packet for method carrying data.
func NewAuthPacket(rc ReasonCode, method string, data []byte) *AuthPacket {
	p := &AuthPacket{reasoned{ReasonCode: rc}}
	p.Props.Set(PropAuthenticationMethod, method)
	if data != nil {
		p.Props.Set(PropAuthenticationData, data)
	}
	return p
}

func (p *AuthPacket) Type() PacketType { return PacketAUTH }

// Method returns the Authentication Method property.
func (p *AuthPacket) Method() string { return p.Props.GetString(PropAuthenticationMethod) }

// Data returns the Authentication Data property.
func (p *AuthPacket) Data() []byte { return p.Props.GetBinary(PropAuthenticationData) }

func (p *AuthPacket) Encode(w io.Writer) (int, error) {
	return p.encode(w, PacketAUTH)
}

func (p *AuthPacket) Decode(r io.Reader, h FixedHeader) (int, error) {
	return p.decode(r, h, PacketAUTH)
}

func (p *AuthPacket) Validate() error {
	if err := p.validate(PacketAUTH); err != nil {
		return err
	}
	if p.ReasonCode != ReasonSuccess && p.Method() == "" {
		return ErrAuthMethodRequired
	}
	return nil
}
