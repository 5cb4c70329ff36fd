package mqtt5

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// TokenKind identifies the operation a Token tracks.
type TokenKind int

// Token kinds.
const (
	TokenConnect TokenKind = iota + 1
	TokenSubscribe
	TokenUnsubscribe
	TokenPublish
	TokenDisconnect
)

func (k TokenKind) String() string {
	switch k {
	case TokenConnect:
		return "connect"
	case TokenSubscribe:
		return "subscribe"
	case TokenUnsubscribe:
		return "unsubscribe"
	case TokenPublish:
		return "publish"
	case TokenDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// ActionListener receives the outcome of an asynchronous operation. Either
// field may be nil. Callbacks run on the goroutine that completes the token.
type ActionListener struct {
	OnSuccess func(t *Token)
	OnFailure func(t *Token, err error)
}

// Token tracks one asynchronous operation. It completes exactly once, with
// either a response packet or an error; later completion attempts are
// ignored and do not reach the listener.
type Token struct {
	kind      TokenKind
	done      chan struct{}
	completed atomic.Bool

	mu        sync.Mutex
	err       error
	messageID uint16
	request   Packet
	response  Packet
	message   *Message
	listener  *ActionListener
}

func newToken(kind TokenKind, listener *ActionListener) *Token {
	return &Token{
		kind:     kind,
		done:     make(chan struct{}),
		listener: listener,
	}
}

// newDeliveryToken returns a publish token holding msg until delivery is
// confirmed.
func newDeliveryToken(msg *Message, listener *ActionListener) *Token {
	t := newToken(TokenPublish, listener)
	t.message = msg
	return t
}

// Kind returns the tracked operation.
func (t *Token) Kind() TokenKind { return t.kind }

// Done is closed when the token completes.
func (t *Token) Done() <-chan struct{} { return t.done }

// IsComplete reports whether the token has completed.
func (t *Token) IsComplete() bool { return t.completed.Load() }

// Err returns the failure, or nil while pending or after success.
func (t *Token) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Wait blocks until the token completes or ctx is done.
func (t *Token) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForCompletion blocks until the token completes. A positive timeout
// bounds the wait and yields a *TimeoutError when it elapses; zero or a
// negative value waits indefinitely.
func (t *Token) WaitForCompletion(timeout time.Duration) error {
	if timeout <= 0 {
		<-t.done
		return t.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.done:
		return t.Err()
	case <-timer.C:
		return &TimeoutError{Op: t.kind.String(), After: timeout}
	}
}

// MessageID returns the packet identifier assigned to the operation, or 0.
func (t *Token) MessageID() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messageID
}

// Request returns the packet sent for the operation.
func (t *Token) Request() Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.request
}

// Response returns the packet that completed the operation, if any.
func (t *Token) Response() Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.response
}

// Message returns the message of a publish token until its delivery is
// confirmed, then nil.
func (t *Token) Message() *Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

// GrantedQoS returns the per-filter result of a subscribe.
func (t *Token) GrantedQoS() []byte {
	if ack, ok := t.Response().(*SubackPacket); ok {
		return ack.GrantedQoS()
	}
	return nil
}

// ReasonCodes returns the reason codes of the response packet.
func (t *Token) ReasonCodes() []ReasonCode {
	switch resp := t.Response().(type) {
	case *SubackPacket:
		return resp.ReasonCodes
	case *UnsubackPacket:
		return resp.ReasonCodes
	case *ConnackPacket:
		return []ReasonCode{resp.ReasonCode}
	case *PubackPacket:
		return []ReasonCode{resp.ReasonCode}
	case *PubrecPacket:
		return []ReasonCode{resp.ReasonCode}
	case *PubcompPacket:
		return []ReasonCode{resp.ReasonCode}
	}
	return nil
}

// ResponseProperties returns the properties of the response packet.
func (t *Token) ResponseProperties() *Properties {
	switch resp := t.Response().(type) {
	case *SubackPacket:
		return &resp.Props
	case *UnsubackPacket:
		return &resp.Props
	case *ConnackPacket:
		return &resp.Props
	case *PubackPacket:
		return &resp.Props
	case *PubrecPacket:
		return &resp.Props
	case *PubcompPacket:
		return &resp.Props
	}
	return nil
}

// SessionPresent reports the CONNACK session present flag.
func (t *Token) SessionPresent() bool {
	ack, ok := t.Response().(*ConnackPacket)
	return ok && ack.SessionPresent
}

func (t *Token) setRequest(pkt Packet, id uint16) {
	t.mu.Lock()
	t.request = pkt
	t.messageID = id
	t.mu.Unlock()
}

func (t *Token) setListener(l *ActionListener) {
	t.mu.Lock()
	t.listener = l
	t.mu.Unlock()
}

// notifyComplete completes the token successfully. It reports false when
// the token had already completed.
func (t *Token) notifyComplete(resp Packet) bool {
	if !t.completed.CompareAndSwap(false, true) {
		return false
	}
	t.mu.Lock()
	t.response = resp
	if t.kind == TokenPublish {
		t.message = nil
	}
	l := t.listener
	t.mu.Unlock()

	close(t.done)
	if l != nil && l.OnSuccess != nil {
		l.OnSuccess(t)
	}
	return true
}

// notifyFailure completes the token with err. It reports false when the
// token had already completed.
func (t *Token) notifyFailure(resp Packet, err error) bool {
	if !t.completed.CompareAndSwap(false, true) {
		return false
	}
	t.mu.Lock()
	t.response = resp
	t.err = err
	l := t.listener
	t.mu.Unlock()

	close(t.done)
	if l != nil && l.OnFailure != nil {
		l.OnFailure(t, err)
	}
	return true
}
