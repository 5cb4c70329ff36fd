package mqtt5

import (
	"errors"
	"fmt"
	"time"
)

// Error categories. Every error returned by this package matches one of
// these with errors.Is, or is a plain codec error from the packet layer.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrInvalidTopic    = errors.New("invalid topic")
	ErrMalformedPacket = errors.New("malformed packet")
	ErrClientTimeout   = errors.New("client timeout")
	ErrTransport       = errors.New("transport error")
	ErrEngineRecycled  = errors.New("engine recycled")
)

// Connection state errors.
var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionLost   = errors.New("connection lost")
	ErrClientClosed     = errors.New("client closed")
	ErrConnectRefused   = errors.New("connect refused")
	ErrSubscribeFailed  = errors.New("subscribe failed")
	ErrPublishFailed    = errors.New("publish failed")
	ErrServerDisconnect = errors.New("server disconnected")
	ErrNoPacketIDs      = errors.New("no packet identifiers available")
)

// ConfigurationError reports a missing or invalid engine input.
type ConfigurationError struct {
	Field string
	Cause error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("configuration error: %s is required", e.Field)
}

func (e *ConfigurationError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConfiguration}
	}
	return []error{ErrConfiguration, e.Cause}
}

// MalformedPacketError is returned when received bytes do not form a valid
// packet of the announced type.
type MalformedPacketError struct {
	Packet PacketType
	Cause  error
}

func malformed(t PacketType, cause error) error {
	var mpe *MalformedPacketError
	if errors.As(cause, &mpe) {
		return cause
	}
	return &MalformedPacketError{Packet: t, Cause: cause}
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed %s packet: %v", e.Packet, e.Cause)
}

func (e *MalformedPacketError) Unwrap() []error {
	return []error{ErrMalformedPacket, e.Cause}
}

// TimeoutError is returned when a token wait or a handshake exceeds its
// deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("client timeout: %s after %s", e.Op, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrClientTimeout }

// TransportError wraps a network level failure.
type TransportError struct {
	Op    string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Cause}
}

func transportErr(op string, cause error) error {
	var te *TransportError
	if errors.As(cause, &te) {
		return cause
	}
	return &TransportError{Op: op, Cause: cause}
}

// ConnectError is returned when the server answers CONNECT with a failure
// reason code.
type ConnectError struct {
	ReasonCode ReasonCode
	Props      *Properties
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("connect refused: %s (0x%02X)", e.ReasonCode, byte(e.ReasonCode))
	if rs := e.Props.GetString(PropReasonString); rs != "" {
		msg += ": " + rs
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return ErrConnectRefused }

// SubscribeError is returned when every filter of a SUBSCRIBE was refused.
type SubscribeError struct {
	Filters     []string
	ReasonCodes []ReasonCode
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe failed: %v %v", e.Filters, e.ReasonCodes)
}

func (e *SubscribeError) Unwrap() error { return ErrSubscribeFailed }

// PublishError is returned when the server acknowledges a publish with a
// failure reason code.
type PublishError struct {
	Topic      string
	PacketID   uint16
	ReasonCode ReasonCode
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q (id %d) failed: %s", e.Topic, e.PacketID, e.ReasonCode)
}

func (e *PublishError) Unwrap() error { return ErrPublishFailed }

// DisconnectError describes a DISCONNECT sent by the server.
type DisconnectError struct {
	ReasonCode ReasonCode
	Props      *Properties
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("server disconnected: %s (0x%02X)", e.ReasonCode, byte(e.ReasonCode))
}

func (e *DisconnectError) Unwrap() error { return ErrServerDisconnect }
