package mqtt5

import (
	"fmt"
	"sync"
	"time"
)

// Event is a notification from the engine. Use a type switch to pick the
// variants of interest:
//
//	func(ev mqtt5.Event) {
//		switch ev := ev.(type) {
//		case *mqtt5.MessageArrivedEvent:
//			handle(ev.Message)
//		case *mqtt5.ConnectionLostEvent:
//			log.Print(ev.Cause)
//		}
//	}
type Event interface {
	// EventName is a short stable identifier such as "message_arrived".
	EventName() string
}

// EventHandler receives events on the engine's dispatch goroutine, one at a
// time and in emission order. Handlers must not block for long.
type EventHandler func(Event)

// ConnectSuccessEvent reports an accepted CONNECT.
type ConnectSuccessEvent struct {
	Token *Token
}

// ConnectFailedEvent reports a failed connect attempt.
type ConnectFailedEvent struct {
	Token *Token
	Err   error
}

// ConnectionLostEvent reports that an established connection dropped.
type ConnectionLostEvent struct {
	Cause error
}

// DisconnectedEvent reports a DISCONNECT, sent by either side.
type DisconnectedEvent struct {
	ReasonCode ReasonCode
	Props      *Properties
	Remote     bool
}

// ProtocolErrorEvent reports a violation detected on an incoming packet.
// The connection is closed afterwards.
type ProtocolErrorEvent struct {
	Err error
}

// MessageArrivedEvent carries an application message from the server.
type MessageArrivedEvent struct {
	Message  *Message
	PacketID uint16
	DUP      bool
}

// DeliveryCompleteEvent reports that a publish finished its QoS flow.
type DeliveryCompleteEvent struct {
	Token *Token
}

// ConnectCompleteEvent follows a successful connect.
type ConnectCompleteEvent struct {
	Reconnect bool
	ServerURI string
}

// AuthArrivedEvent reports an AUTH packet from the server.
type AuthArrivedEvent struct {
	ReasonCode ReasonCode
	Props      *Properties
}

// ReconnectingEvent announces the next reconnect attempt.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

// TraceLevel classifies a TraceEvent.
type TraceLevel int

// Trace levels.
const (
	TraceDebug TraceLevel = iota
	TraceError
	TraceException
)

func (l TraceLevel) String() string {
	switch l {
	case TraceDebug:
		return "debug"
	case TraceError:
		return "error"
	case TraceException:
		return "exception"
	default:
		return fmt.Sprintf("TraceLevel(%d)", int(l))
	}
}

// TraceEvent is a diagnostic message from the engine internals.
type TraceEvent struct {
	Level   TraceLevel
	Tag     string
	Message string
	Err     error
}

func (*ConnectSuccessEvent) EventName() string   { return "connect_success" }
func (*ConnectFailedEvent) EventName() string    { return "connect_failed" }
func (*ConnectionLostEvent) EventName() string   { return "connection_lost" }
func (*DisconnectedEvent) EventName() string     { return "disconnected" }
func (*ProtocolErrorEvent) EventName() string    { return "protocol_error" }
func (*MessageArrivedEvent) EventName() string   { return "message_arrived" }
func (*DeliveryCompleteEvent) EventName() string { return "delivery_complete" }
func (*ConnectCompleteEvent) EventName() string  { return "connect_complete" }
func (*AuthArrivedEvent) EventName() string      { return "auth_arrived" }
func (*ReconnectingEvent) EventName() string     { return "reconnecting" }
func (*TraceEvent) EventName() string            { return "trace" }

// dispatcher delivers events to the handler on one goroutine. emit never
// blocks, so producers such as the read loop are not slowed by handlers.
type dispatcher struct {
	mu      sync.Mutex
	handler EventHandler
	pending []Event
	closed  bool

	wake   chan struct{}
	done   chan struct{}
	logger Logger
}

func newDispatcher(handler EventHandler, logger Logger) *dispatcher {
	d := &dispatcher{
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  logger,
	}
	go d.run()
	return d
}

func (d *dispatcher) setHandler(h EventHandler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *dispatcher) emit(ev Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// close stops the dispatcher once the events already emitted are handled.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.done)

	for {
		d.mu.Lock()
		batch, closed, handler := d.pending, d.closed, d.handler
		d.pending = nil
		d.mu.Unlock()

		for _, ev := range batch {
			d.deliver(handler, ev)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-d.wake
	}
}

func (d *dispatcher) deliver(handler EventHandler, ev Event) {
	if handler == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("event handler panic", LogFields{"event": ev.EventName(), LogFieldError: fmt.Sprint(p)})
		}
	}()
	handler(ev)
}
