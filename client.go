package mqtt5

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Client errors.
var (
	ErrPingTimeout      = errors.New("no PINGRESP within keep alive")
	ErrClientUsed       = errors.New("client already connected once")
	ErrUnexpectedPacket = errors.New("unexpected packet")
)

// Client connection states.
const (
	clientIdle int32 = iota
	clientConnecting
	clientConnected
	clientClosed
)

// Client is a single MQTT v5 network session: one dial, one handshake and
// the packet flows that follow it. A Client is never reconnected; the
// Engine replaces it after a failure.
type Client struct {
	serverURI string
	opts      ConnectionOptions
	logger    Logger
	emit      func(Event)
	stats     *stats

	// undelivered receives the unacknowledged publish tokens when the
	// connection drops. When nil those tokens fail with the drop cause.
	undelivered func([]*Token)

	state      atomic.Int32
	lastWrite  atomic.Int64
	pingSent   atomic.Int64
	outMaxSize atomic.Uint32

	ids   *packetIDs
	quota *sendQuota

	mu              sync.Mutex
	clientID        string
	conn            net.Conn
	pending         map[uint16]*Token
	inboundQoS2     map[uint16]*Message
	authState       any
	keepAlive       time.Duration
	maxQoS          byte
	retainAvailable bool

	writeMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	readDone  chan struct{}
	closeOnce sync.Once
}

// NewClient prepares a session with serverURI. Nothing is sent until
// Connect. emit receives every event the session produces; it may be nil.
func NewClient(serverURI, clientID string, opts ConnectionOptions, logger Logger, emit func(Event)) *Client {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	if emit == nil {
		emit = func(Event) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		serverURI:       serverURI,
		clientID:        clientID,
		opts:            opts,
		logger:          logger.WithFields(LogFields{LogFieldClientID: clientID, LogFieldServer: serverURI}),
		emit:            emit,
		stats:           &stats{},
		ids:             newPacketIDs(),
		quota:           newSendQuota(0),
		pending:         make(map[uint16]*Token),
		inboundQoS2:     make(map[uint16]*Message),
		keepAlive:       time.Duration(opts.KeepAlive) * time.Second,
		maxQoS:          QoS2,
		retainAvailable: true,
		ctx:             ctx,
		cancel:          cancel,
		readDone:        make(chan struct{}),
	}
}

// ClientID returns the client identifier, which the server may have
// replaced in CONNACK.
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// ServerURI returns the server this client dials.
func (c *Client) ServerURI() string { return c.serverURI }

// IsConnected reports whether the handshake completed and the connection
// is still up.
func (c *Client) IsConnected() bool { return c.state.Load() == clientConnected }

// Connect dials the server and performs the CONNECT handshake, including
// any enhanced authentication exchange. It blocks until the handshake ends
// and returns the completed token.
func (c *Client) Connect(ctx context.Context) *Token {
	tok := newToken(TokenConnect, nil)
	if !c.state.CompareAndSwap(clientIdle, clientConnecting) {
		tok.notifyFailure(nil, ErrClientUsed)
		return tok
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	connack, pkt, err := c.handshake(ctx)
	if pkt != nil {
		tok.setRequest(pkt, 0)
	}
	if err != nil {
		c.logger.Warn("connect failed", LogFields{LogFieldError: err})
		c.state.Store(clientClosed)
		c.closeOnce.Do(func() { c.release() })
		if connack != nil {
			tok.notifyFailure(connack, err)
		} else {
			tok.notifyFailure(nil, err)
		}
		return tok
	}

	c.state.Store(clientConnected)
	c.lastWrite.Store(time.Now().UnixNano())
	go c.readLoop()
	if c.keepAlive > 0 {
		go c.keepAliveLoop()
	}

	c.logger.Info("connected", LogFields{"session_present": connack.SessionPresent})
	tok.notifyComplete(connack)
	return tok
}

func (c *Client) handshake(ctx context.Context) (*ConnackPacket, *ConnectPacket, error) {
	dialer, address := c.opts.Dialer, c.serverURI
	if dialer == nil {
		var err error
		if dialer, address, err = resolveDialer(c.serverURI, &c.opts); err != nil {
			return nil, nil, &ConfigurationError{Field: "ServerURI", Cause: err}
		}
	}

	conn, err := dialer.Dial(ctx, address)
	if err != nil {
		return nil, nil, transportErr("dial", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Unblock handshake reads when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	pkt := c.opts.connectPacket(c.ClientID())
	if auth := c.opts.EnhancedAuth; auth != nil {
		res, err := auth.AuthStart(ctx)
		if err != nil {
			return nil, pkt, fmt.Errorf("enhanced auth start: %w", err)
		}
		pkt.Props.Set(PropAuthenticationMethod, auth.AuthMethod())
		if len(res.AuthData) > 0 {
			pkt.Props.Set(PropAuthenticationData, res.AuthData)
		}
		c.setAuthState(res.State)
	}
	if err := c.writePacket(pkt); err != nil {
		return nil, pkt, err
	}

	for {
		resp, n, err := ReadPacket(conn, c.opts.MaxPacketSize)
		if err != nil {
			if ctx.Err() != nil {
				return nil, pkt, &TimeoutError{Op: "connect", After: c.opts.ConnectTimeout}
			}
			return nil, pkt, transportErr("read CONNACK", err)
		}
		c.stats.received(n)

		switch p := resp.(type) {
		case *AuthPacket:
			if err := c.continueAuth(ctx, p); err != nil {
				return nil, pkt, err
			}
		case *ConnackPacket:
			if p.ReasonCode.IsError() {
				return p, pkt, &ConnectError{ReasonCode: p.ReasonCode, Props: &p.Props}
			}
			if err := c.verifyAuth(ctx, p); err != nil {
				return p, pkt, err
			}
			c.applyConnack(p)
			conn.SetDeadline(time.Time{})
			return p, pkt, nil
		default:
			return nil, pkt, malformed(resp.Type(), ErrUnexpectedPacket)
		}
	}
}

// continueAuth answers a server AUTH packet during the handshake.
func (c *Client) continueAuth(ctx context.Context, p *AuthPacket) error {
	auth := c.opts.EnhancedAuth
	if auth == nil {
		return malformed(PacketAUTH, ErrProtocolViolation)
	}
	c.emit(&AuthArrivedEvent{ReasonCode: p.ReasonCode, Props: &p.Props})
	if p.ReasonCode != ReasonContinueAuth {
		return fmt.Errorf("enhanced auth: server sent %s", p.ReasonCode)
	}
	res, err := auth.AuthContinue(ctx, &ClientEnhancedAuthContext{
		AuthMethod: p.Method(),
		AuthData:   p.Data(),
		ReasonCode: p.ReasonCode,
		State:      c.authState,
	})
	if err != nil {
		return fmt.Errorf("enhanced auth continue: %w", err)
	}
	c.setAuthState(res.State)
	return c.writePacket(NewAuthPacket(ReasonContinueAuth, auth.AuthMethod(), res.AuthData))
}

// verifyAuth passes the final authentication data in CONNACK back to the
// authenticator so it can check the server.
func (c *Client) verifyAuth(ctx context.Context, p *ConnackPacket) error {
	auth := c.opts.EnhancedAuth
	if auth == nil || !p.Props.Has(PropAuthenticationData) {
		return nil
	}
	res, err := auth.AuthContinue(ctx, &ClientEnhancedAuthContext{
		AuthMethod: p.Props.GetString(PropAuthenticationMethod),
		AuthData:   p.Props.GetBinary(PropAuthenticationData),
		ReasonCode: p.ReasonCode,
		State:      c.authState,
	})
	if err != nil {
		return fmt.Errorf("enhanced auth verify: %w", err)
	}
	c.setAuthState(res.State)
	return nil
}

// applyConnack records the limits announced by the server.
func (c *Client) applyConnack(p *ConnackPacket) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id := p.Props.GetString(PropAssignedClientIdentifier); id != "" {
		c.clientID = id
	}
	if p.Props.Has(PropServerKeepAlive) {
		c.keepAlive = time.Duration(p.Props.GetUint16(PropServerKeepAlive)) * time.Second
	}
	if p.Props.Has(PropMaximumQoS) {
		c.maxQoS = p.Props.GetByte(PropMaximumQoS)
	}
	if p.Props.Has(PropRetainAvailable) {
		c.retainAvailable = p.Props.GetByte(PropRetainAvailable) == 1
	}
	c.quota = newSendQuota(p.Props.GetUint16(PropReceiveMaximum))

	out := c.opts.MaxPacketSize
	if limit := p.Props.GetUint32(PropMaximumPacketSize); limit > 0 && limit < out {
		out = limit
	}
	c.outMaxSize.Store(out)
}

// writePacket serializes pkt onto the connection. Writes are ordered by
// the time callers acquire writeMu.
func (c *Client) writePacket(pkt Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if c.opts.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
		defer conn.SetWriteDeadline(time.Time{})
	}

	maxSize := c.outMaxSize.Load()
	if maxSize == 0 {
		maxSize = c.opts.MaxPacketSize
	}
	n, err := WritePacket(conn, pkt, maxSize)
	if err != nil {
		var me *MalformedPacketError
		if errors.As(err, &me) || errors.Is(err, ErrPacketTooLarge) {
			return err
		}
		return transportErr("write "+pkt.Type().String(), err)
	}
	c.stats.sent(n)
	c.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// Subscribe sends a SUBSCRIBE for subs. The token completes with the
// SUBACK; it fails with a *SubscribeError when every filter was refused.
func (c *Client) Subscribe(subs []Subscription, props *Properties, listener *ActionListener) (*Token, error) {
	tok := newToken(TokenSubscribe, listener)
	if err := c.subscribe(subs, props, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

func (c *Client) subscribe(subs []Subscription, props *Properties, tok *Token) error {
	pkt := &SubscribePacket{Subscriptions: subs}
	if props != nil {
		pkt.Props = props.Clone()
	}
	if err := pkt.validateBody(); err != nil {
		return err
	}
	return c.sendTracked(pkt, tok, func(id uint16) { pkt.PacketID = id })
}

// Unsubscribe sends an UNSUBSCRIBE for filters.
func (c *Client) Unsubscribe(filters []string, listener *ActionListener) (*Token, error) {
	pkt := &UnsubscribePacket{TopicFilters: filters}
	tok := newToken(TokenUnsubscribe, listener)
	if err := c.sendTracked(pkt, tok, func(id uint16) { pkt.PacketID = id }); err != nil {
		return nil, err
	}
	return tok, nil
}

// Publish sends msg. A QoS 0 token completes once the packet is written;
// QoS 1 and 2 tokens complete when the flow is acknowledged.
func (c *Client) Publish(msg *Message, listener *ActionListener) (*Token, error) {
	tok := newDeliveryToken(msg, listener)
	if err := c.publish(msg, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// publish sends msg on behalf of tok. On error tok is left pending so the
// caller can retry it on another connection.
func (c *Client) publish(msg *Message, tok *Token) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.mu.Lock()
	maxQoS, retain, quota := c.maxQoS, c.retainAvailable, c.quota
	c.mu.Unlock()
	if msg.QoS > maxQoS {
		return &PublishError{Topic: msg.Topic, ReasonCode: ReasonQoSNotSupported}
	}
	if msg.Retain && !retain {
		return &PublishError{Topic: msg.Topic, ReasonCode: ReasonRetainNotSupported}
	}

	pkt := newPublishPacket(msg)
	if pkt.QoS == QoS0 {
		tok.setRequest(pkt, 0)
		if err := c.writePacket(pkt); err != nil {
			return err
		}
		c.stats.messagesPublished.Inc()
		c.completeDelivery(tok, nil)
		return nil
	}

	if err := quota.acquire(c.ctx); err != nil {
		return ErrConnectionLost
	}
	err := c.sendTracked(pkt, tok, func(id uint16) { pkt.PacketID = id })
	if err != nil {
		quota.release()
		return err
	}
	c.stats.messagesPublished.Inc()
	return nil
}

// sendTracked assigns a packet identifier, registers tok under it and
// writes pkt. Nothing stays registered when the write fails.
func (c *Client) sendTracked(pkt Packet, tok *Token, setID func(uint16)) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	id, err := c.ids.acquire()
	if err != nil {
		return err
	}
	setID(id)
	tok.setRequest(pkt, id)

	c.mu.Lock()
	c.pending[id] = tok
	c.mu.Unlock()

	if err := c.writePacket(pkt); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		c.ids.release(id)
		return err
	}
	c.logger.Debug("packet sent", LogFields{LogFieldPacketType: pkt.Type().String(), LogFieldPacketID: id})
	return nil
}

// takePending removes and returns the token registered under id.
func (c *Client) takePending(id uint16) *Token {
	c.mu.Lock()
	tok, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.ids.release(id)
	return tok
}

func (c *Client) completeDelivery(tok *Token, resp Packet) {
	if tok.notifyComplete(resp) {
		c.emit(&DeliveryCompleteEvent{Token: tok})
	}
}

// Disconnect sends DISCONNECT with rc and closes the connection. Pending
// tokens fail with ErrClientClosed.
func (c *Client) Disconnect(rc ReasonCode) error {
	if !c.state.CompareAndSwap(clientConnected, clientClosed) {
		return c.Close()
	}
	err := c.writePacket(NewDisconnectPacket(rc))
	c.closeOnce.Do(func() {
		c.release()
		c.failPending(ErrClientClosed, false)
	})
	c.emit(&DisconnectedEvent{ReasonCode: rc})
	return err
}

// Close drops the connection without DISCONNECT. The server publishes the
// will message, if any.
func (c *Client) Close() error {
	c.state.Store(clientClosed)
	var err error
	c.closeOnce.Do(func() {
		err = c.release()
		c.failPending(ErrClientClosed, false)
	})
	return err
}

// lost tears down a connection that failed underneath us.
func (c *Client) lost(cause error) {
	if c.state.Swap(clientClosed) == clientClosed {
		return
	}
	c.closeOnce.Do(func() {
		if err := c.release(); err != nil {
			c.logger.Debug("close after connection loss", LogFields{LogFieldError: err})
		}
		c.failPending(cause, true)
	})
	c.logger.Warn("connection lost", LogFields{LogFieldError: cause})
	c.emit(&ConnectionLostEvent{Cause: cause})
}

// release closes the network connection and stops the background loops.
func (c *Client) release() error {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// failPending completes every registered token with cause. Unacknowledged
// publishes go to the undelivered hook instead when requeue is set.
func (c *Client) failPending(cause error, requeue bool) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint16]*Token)
	c.inboundQoS2 = make(map[uint16]*Message)
	hook := c.undelivered
	c.mu.Unlock()

	var unacked []*Token
	for id, tok := range pending {
		c.ids.release(id)
		if requeue && hook != nil && tok.Kind() == TokenPublish && tok.Message() != nil {
			unacked = append(unacked, tok)
			continue
		}
		tok.notifyFailure(nil, cause)
	}
	if len(unacked) > 0 {
		hook(unacked)
	}
}

func (c *Client) readLoop() {
	defer close(c.readDone)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		if ka := c.keepAliveInterval(); ka > 0 {
			conn.SetReadDeadline(time.Now().Add(ka * 3 / 2))
		}
		pkt, n, err := ReadPacket(conn, c.opts.MaxPacketSize)
		if err != nil {
			if c.state.Load() == clientClosed {
				return
			}
			var me *MalformedPacketError
			switch {
			case errors.As(err, &me):
				c.protocolError(ReasonMalformedPacket, err)
			case errors.Is(err, ErrPacketTooLarge):
				c.protocolError(ReasonPacketTooLarge, err)
			default:
				c.lost(transportErr("read", err))
			}
			return
		}
		c.stats.received(n)
		c.handlePacket(pkt)
	}
}

// protocolError reports a violation, tells the server why and drops the
// connection.
func (c *Client) protocolError(rc ReasonCode, err error) {
	c.logger.Error("protocol error", LogFields{LogFieldReasonCode: rc.String(), LogFieldError: err})
	c.emit(&ProtocolErrorEvent{Err: err})
	if c.IsConnected() {
		_ = c.writePacket(NewDisconnectPacket(rc))
	}
	c.lost(err)
}

func (c *Client) keepAliveInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive
}

// keepAliveLoop sends PINGREQ when nothing was written for half the keep
// alive interval and drops the connection when PINGRESP does not arrive.
func (c *Client) keepAliveLoop() {
	interval := c.keepAliveInterval()
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			if sent := c.pingSent.Load(); sent > 0 && now.Sub(time.Unix(0, sent)) >= interval {
				c.lost(ErrPingTimeout)
				return
			}
			if now.Sub(time.Unix(0, c.lastWrite.Load())) < interval/2 {
				continue
			}
			c.pingSent.CompareAndSwap(0, now.UnixNano())
			if err := c.writePacket(&PingreqPacket{}); err != nil {
				c.lost(err)
				return
			}
		}
	}
}
