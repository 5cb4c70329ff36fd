package mqtt5

import (
	"context"
	"fmt"
)

func (c *Client) handlePacket(pkt Packet) {
	switch p := pkt.(type) {
	case *PublishPacket:
		c.handlePublish(p)
	case *PubackPacket:
		c.handlePuback(p)
	case *PubrecPacket:
		c.handlePubrec(p)
	case *PubrelPacket:
		c.handlePubrel(p)
	case *PubcompPacket:
		c.handlePubcomp(p)
	case *SubackPacket:
		c.handleSuback(p)
	case *UnsubackPacket:
		c.handleUnsuback(p)
	case *PingrespPacket:
		c.pingSent.Store(0)
	case *DisconnectPacket:
		c.handleDisconnect(p)
	case *AuthPacket:
		c.handleAuth(p)
	default:
		c.protocolError(ReasonProtocolError, fmt.Errorf("%w: %s", ErrUnexpectedPacket, pkt.Type()))
	}
}

func (c *Client) handlePublish(p *PublishPacket) {
	// No Topic Alias Maximum is announced, so the server must not use one.
	if p.Props.Has(PropTopicAlias) || p.Topic == "" {
		c.protocolError(ReasonTopicAliasInvalid, malformed(PacketPUBLISH, ErrProtocolViolation))
		return
	}

	msg := p.Message()
	switch p.QoS {
	case QoS0:
		c.deliver(msg, p)
	case QoS1:
		c.deliver(msg, p)
		c.ack(&PubackPacket{ack{PacketID: p.PacketID}})
	case QoS2:
		c.mu.Lock()
		_, dup := c.inboundQoS2[p.PacketID]
		full := !dup && len(c.inboundQoS2) >= int(c.opts.ReceiveMaximum)
		if !dup && !full {
			c.inboundQoS2[p.PacketID] = msg
		}
		c.mu.Unlock()
		if full {
			c.protocolError(ReasonReceiveMaxExceeded, fmt.Errorf("more than %d QoS 2 messages awaiting PUBREL", c.opts.ReceiveMaximum))
			return
		}
		c.ack(&PubrecPacket{ack{PacketID: p.PacketID}})
	}
}

// deliver hands an inbound message to the event stream.
func (c *Client) deliver(msg *Message, p *PublishPacket) {
	c.stats.messagesReceived.Inc()
	c.logger.Debug("message arrived", LogFields{LogFieldTopic: msg.Topic, LogFieldQoS: msg.QoS, LogFieldPacketID: p.PacketID})
	c.emit(&MessageArrivedEvent{Message: msg, PacketID: p.PacketID, DUP: p.DUP})
}

// ack writes an acknowledgement. A failed write surfaces through the read
// loop, so the error is only logged.
func (c *Client) ack(pkt Packet) {
	if err := c.writePacket(pkt); err != nil {
		c.logger.Debug("ack not sent", LogFields{LogFieldPacketType: pkt.Type().String(), LogFieldError: err})
	}
}

func (c *Client) handlePubrel(p *PubrelPacket) {
	c.mu.Lock()
	msg, ok := c.inboundQoS2[p.PacketID]
	delete(c.inboundQoS2, p.PacketID)
	c.mu.Unlock()

	if !ok {
		c.ack(&PubcompPacket{ack{PacketID: p.PacketID, ReasonCode: ReasonPacketIDNotFound}})
		return
	}
	c.deliver(msg, &PublishPacket{PacketID: p.PacketID})
	c.ack(&PubcompPacket{ack{PacketID: p.PacketID}})
}

func (c *Client) handlePuback(p *PubackPacket) {
	c.finishPublish(p.PacketID, p, p.ReasonCode)
}

func (c *Client) handlePubrec(p *PubrecPacket) {
	if p.ReasonCode.IsError() {
		c.finishPublish(p.PacketID, p, p.ReasonCode)
		return
	}

	c.mu.Lock()
	_, ok := c.pending[p.PacketID]
	c.mu.Unlock()
	rc := ReasonSuccess
	if !ok {
		rc = ReasonPacketIDNotFound
	}
	c.ack(&PubrelPacket{ack{PacketID: p.PacketID, ReasonCode: rc}})
}

func (c *Client) handlePubcomp(p *PubcompPacket) {
	c.finishPublish(p.PacketID, p, p.ReasonCode)
}

// finishPublish completes the publish token waiting on id and frees its
// send quota.
func (c *Client) finishPublish(id uint16, resp Packet, rc ReasonCode) {
	tok := c.takePending(id)
	if tok == nil {
		c.logger.Debug("ack for unknown packet id", LogFields{LogFieldPacketID: id, LogFieldPacketType: resp.Type().String()})
		return
	}
	c.quota.release()
	if rc.IsError() {
		topic := ""
		if msg := tok.Message(); msg != nil {
			topic = msg.Topic
		}
		tok.notifyFailure(resp, &PublishError{Topic: topic, PacketID: id, ReasonCode: rc})
		return
	}
	c.completeDelivery(tok, resp)
}

func (c *Client) handleSuback(p *SubackPacket) {
	tok := c.takePending(p.PacketID)
	if tok == nil {
		return
	}
	req, _ := tok.Request().(*SubscribePacket)
	if req == nil || len(req.Subscriptions) != len(p.ReasonCodes) {
		err := fmt.Errorf("%w: SUBACK carries %d reason codes", ErrProtocolViolation, len(p.ReasonCodes))
		tok.notifyFailure(p, err)
		c.protocolError(ReasonProtocolError, err)
		return
	}

	filters := make([]string, len(req.Subscriptions))
	refused := 0
	for i, sub := range req.Subscriptions {
		filters[i] = sub.TopicFilter
		if p.ReasonCodes[i].IsError() {
			refused++
			c.logger.Warn("subscription refused", LogFields{LogFieldTopic: sub.TopicFilter, LogFieldReasonCode: p.ReasonCodes[i].String()})
		}
	}
	if refused == len(filters) {
		tok.notifyFailure(p, &SubscribeError{Filters: filters, ReasonCodes: p.ReasonCodes})
		return
	}
	tok.notifyComplete(p)
}

func (c *Client) handleUnsuback(p *UnsubackPacket) {
	tok := c.takePending(p.PacketID)
	if tok == nil {
		return
	}
	req, _ := tok.Request().(*UnsubscribePacket)
	if req == nil || len(req.TopicFilters) != len(p.ReasonCodes) {
		err := fmt.Errorf("%w: UNSUBACK carries %d reason codes", ErrProtocolViolation, len(p.ReasonCodes))
		tok.notifyFailure(p, err)
		c.protocolError(ReasonProtocolError, err)
		return
	}
	tok.notifyComplete(p)
}

func (c *Client) handleDisconnect(p *DisconnectPacket) {
	c.logger.Warn("server disconnect", LogFields{LogFieldReasonCode: p.ReasonCode.String()})
	c.emit(&DisconnectedEvent{ReasonCode: p.ReasonCode, Props: &p.Props, Remote: true})
	c.lost(&DisconnectError{ReasonCode: p.ReasonCode, Props: &p.Props})
}

// handleAuth drives re-authentication after the handshake.
func (c *Client) handleAuth(p *AuthPacket) {
	c.emit(&AuthArrivedEvent{ReasonCode: p.ReasonCode, Props: &p.Props})

	auth := c.opts.EnhancedAuth
	if auth == nil {
		c.protocolError(ReasonProtocolError, malformed(PacketAUTH, ErrProtocolViolation))
		return
	}
	c.mu.Lock()
	state := c.authState
	c.mu.Unlock()

	switch p.ReasonCode {
	case ReasonSuccess:
		c.setAuthState(nil)
	case ReasonContinueAuth:
		res, err := auth.AuthContinue(c.ctx, &ClientEnhancedAuthContext{
			AuthMethod: p.Method(),
			AuthData:   p.Data(),
			ReasonCode: p.ReasonCode,
			State:      state,
		})
		if err != nil {
			c.logger.Error("re-authentication failed", LogFields{LogFieldError: err})
			c.ack(NewDisconnectPacket(ReasonNotAuthorized))
			c.lost(err)
			return
		}
		c.setAuthState(res.State)
		c.ack(NewAuthPacket(ReasonContinueAuth, auth.AuthMethod(), res.AuthData))
	default:
		c.protocolError(ReasonProtocolError, fmt.Errorf("%w: AUTH with %s", ErrProtocolViolation, p.ReasonCode))
	}
}

// Reauthenticate starts a new enhanced authentication exchange on the live
// connection. The outcome arrives as AuthArrivedEvent.
func (c *Client) Reauthenticate(ctx context.Context) error {
	auth := c.opts.EnhancedAuth
	if auth == nil {
		return &ConfigurationError{Field: "options.EnhancedAuth", Cause: ErrAuthMethodRequired}
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	res, err := auth.AuthStart(ctx)
	if err != nil {
		return fmt.Errorf("enhanced auth start: %w", err)
	}
	c.setAuthState(res.State)
	return c.writePacket(NewAuthPacket(ReasonReAuth, auth.AuthMethod(), res.AuthData))
}

func (c *Client) setAuthState(state any) {
	c.mu.Lock()
	c.authState = state
	c.mu.Unlock()
}
