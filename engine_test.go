package mqtt5

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, addr string, configure func(*Config), opts ...Option) (*Engine, *eventLog) {
	t.Helper()

	events := newEventLog()
	o := testOptions(t, opts...)
	cfg := Config{
		AppContext:   context.Background(),
		ServerURI:    "tcp://" + addr,
		ClientID:     "engine-1",
		PublishTopic: "dev/1/out",
		Options:      &o,
		Handler:      events.emit,
	}
	if configure != nil {
		configure(&cfg)
	}

	e := NewEngine()
	require.NoError(t, e.Initialize(cfg))
	assert.Equal(t, StateInitialized, e.State())
	return e, events
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestEngineInitializeValidation(t *testing.T) {
	opts := testOptions(t)
	valid := func() Config {
		return Config{AppContext: context.Background(), ServerURI: "tcp://broker:1883", Options: &opts}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing context", func(c *Config) { c.AppContext = nil }, "config.AppContext"},
		{"missing server", func(c *Config) { c.ServerURI = "" }, "config.ServerURI"},
		{"bad server", func(c *Config) { c.ServerURI = "not a uri" }, "config.ServerURI"},
		{"missing options", func(c *Config) { c.Options = nil }, "config.Options"},
		{"subscribe qos", func(c *Config) { c.SubscribeQoS = 3 }, "config.SubscribeQoS"},
		{"subscribe topic", func(c *Config) { c.SubscribeTopic = "a/#/b" }, "config.SubscribeTopic"},
		{"publish topic", func(c *Config) { c.PublishTopic = "a/+" }, "config.PublishTopic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := NewEngine().Initialize(cfg)
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}

	t.Run("generated client id", func(t *testing.T) {
		e := NewEngine()
		require.NoError(t, e.Initialize(valid()))
		defer e.Recycle()
		assert.Equal(t, DeviceClientID(), e.ClientID())
		assert.Equal(t, "tcp://broker:1883", e.ServerURI())
	})
}

func TestEngineUnconfigured(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, StateUnconfigured, e.State())

	err := e.Connect()
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = e.PublishString("x")
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = e.SubscribeTopic("a", nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, e.Disconnect(), ErrNotInitialized)
}

func TestEngineRequestValidation(t *testing.T) {
	e, _ := newTestEngine(t, closedAddr(t), func(c *Config) { c.PublishTopic = "" })
	defer e.Recycle()

	tests := []struct {
		name    string
		publish func() (*Token, error)
		want    error
	}{
		{"nil message", func() (*Token, error) { return e.PublishMessage(nil) }, ErrNilMessage},
		{"qos", func() (*Token, error) { return e.PublishMessage(&Message{Topic: "a", QoS: 3}) }, ErrInvalidQoS},
		{"wildcard topic", func() (*Token, error) { return e.PublishMessage(&Message{Topic: "a/+"}) }, ErrInvalidTopic},
		{"no publish topic", func() (*Token, error) { return e.PublishString("x") }, ErrInvalidTopic},
		{"no subscriptions", func() (*Token, error) { return e.Subscribe(nil, nil) }, ErrNoSubscriptions},
		{"bad filter", func() (*Token, error) { return e.SubscribeTopic("a/#/b", nil) }, ErrInvalidTopic},
		{"subscribe qos", func() (*Token, error) { return e.Subscribe([]Subscription{{TopicFilter: "a", QoS: 3}}, nil) }, ErrInvalidQoS},
		{"bad unsubscribe filter", func() (*Token, error) { return e.Unsubscribe("a/#/b") }, ErrInvalidTopic},
		{"unsubscribe offline", func() (*Token, error) { return e.Unsubscribe("a") }, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := tt.publish()
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, tok)
		})
	}

	t.Run("subscribe offline", func(t *testing.T) {
		tok, err := e.SubscribeTopic("a/b", nil)
		require.NoError(t, err)
		assert.ErrorIs(t, tok.WaitForCompletion(2*time.Second), ErrNotConnected)
	})

	assert.Zero(t, e.QueueLen())
	assert.Equal(t, StateInitialized, e.State())
}

func TestEngineReplaysQueueInOrder(t *testing.T) {
	received := make(chan string, 3)
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		if !accept(t, conn) {
			return
		}
		for range 3 {
			p := expectPacket[*PublishPacket](t, conn)
			if p == nil {
				return
			}
			assert.Equal(t, "dev/1/out", p.Topic)
			received <- string(p.Payload)
			WritePacket(conn, &PubackPacket{ack{PacketID: p.PacketID}}, 0)
		}
		waitClosed(conn)
	})
	defer cleanup()

	e, events := newTestEngine(t, addr, nil)
	defer e.Recycle()

	var toks []*Token
	for _, payload := range []string{"m1", "m2", "m3"} {
		tok, err := e.PublishMessage(NewTextMessage("", payload, QoS1, false))
		require.NoError(t, err)
		toks = append(toks, tok)
	}

	for i, tok := range toks {
		require.NoError(t, tok.WaitForCompletion(5*time.Second), "message %d", i)
	}
	assert.Equal(t, "m1", <-received)
	assert.Equal(t, "m2", <-received)
	assert.Equal(t, "m3", <-received)

	ev := waitEvent[*ConnectCompleteEvent](t, events)
	assert.False(t, ev.Reconnect)
	assert.Equal(t, "tcp://"+addr, ev.ServerURI)

	assert.True(t, e.IsConnected())
	assert.Zero(t, e.QueueLen())
	stats := e.Stats()
	assert.Equal(t, uint64(3), stats.MessagesReplayed)
	assert.Equal(t, uint64(3), stats.MessagesPublished)
	assert.Equal(t, uint64(1), stats.Connects)
	assert.GreaterOrEqual(t, stats.MessagesQueued, uint64(1))
}

func TestEngineAutomaticSubscription(t *testing.T) {
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		if !accept(t, conn) {
			return
		}
		sub := expectPacket[*SubscribePacket](t, conn)
		if sub == nil {
			return
		}
		if !assert.Len(t, sub.Subscriptions, 1) {
			return
		}
		assert.Equal(t, "dev/1/cmd/#", sub.Subscriptions[0].TopicFilter)
		assert.Equal(t, QoS1, sub.Subscriptions[0].QoS)
		WritePacket(conn, &SubackPacket{reasonList{PacketID: sub.PacketID, ReasonCodes: []ReasonCode{ReasonGrantedQoS1}}}, 0)
		WritePacket(conn, &PublishPacket{Topic: "dev/1/cmd/reboot", Payload: []byte("now")}, 0)

		if unsub := expectPacket[*UnsubscribePacket](t, conn); unsub != nil {
			assert.Equal(t, []string{"dev/1/cmd/#"}, unsub.TopicFilters)
		}
		if d := expectPacket[*DisconnectPacket](t, conn); d != nil {
			assert.Equal(t, ReasonSuccess, d.ReasonCode)
		}
	})
	defer cleanup()

	subscribed := make(chan *Token, 1)
	e, events := newTestEngine(t, addr, func(c *Config) {
		c.SubscribeTopic = "dev/1/cmd/#"
		c.SubscribeQoS = QoS1
		c.ActionListener = &ActionListener{OnSuccess: func(tok *Token) { subscribed <- tok }}
	})
	defer e.Recycle()

	require.NoError(t, e.Connect())

	select {
	case tok := <-subscribed:
		assert.Equal(t, TokenSubscribe, tok.Kind())
		assert.NotZero(t, tok.MessageID())
		assert.Equal(t, []byte{1}, tok.GrantedQoS())
	case <-time.After(5 * time.Second):
		t.Fatal("automatic subscription did not complete")
	}

	msg := waitEvent[*MessageArrivedEvent](t, events)
	assert.Equal(t, "dev/1/cmd/reboot", msg.Message.Topic)
	assert.Equal(t, []byte("now"), msg.Message.Payload)

	require.NoError(t, e.Disconnect())
	assert.Equal(t, StateDisconnected, e.State())
	waitEvent[*DisconnectedEvent](t, events)
}

func TestEngineReconnectsAfterConnectionLoss(t *testing.T) {
	tests := []struct {
		name   string
		policy ReconnectPolicy
		delay  time.Duration
	}{
		{"backoff", ReconnectBackoff, 10 * time.Millisecond},
		{"immediate", ReconnectImmediate, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drop := make(chan struct{})
			addr, cleanup := mockServer(t,
				func(conn net.Conn) {
					if accept(t, conn) {
						select {
						case <-drop:
						case <-time.After(5 * time.Second):
						}
					}
				},
				func(conn net.Conn) {
					if accept(t, conn) {
						waitClosed(conn)
					}
				},
			)
			defer cleanup()

			e, events := newTestEngine(t, addr, nil, WithReconnectPolicy(tt.policy))
			defer e.Recycle()
			require.NoError(t, e.Connect())

			first := waitEvent[*ConnectCompleteEvent](t, events)
			assert.False(t, first.Reconnect)
			close(drop)

			lost := waitEvent[*ConnectionLostEvent](t, events)
			assert.ErrorIs(t, lost.Cause, ErrTransport)

			rec := waitEvent[*ReconnectingEvent](t, events)
			assert.Equal(t, 1, rec.Attempt)
			assert.Equal(t, tt.delay, rec.Delay)

			second := waitEvent[*ConnectCompleteEvent](t, events)
			assert.True(t, second.Reconnect)
			assert.True(t, e.IsConnected())

			stats := e.Stats()
			assert.Equal(t, uint64(2), stats.Connects)
			assert.Equal(t, uint64(1), stats.ConnectionsLost)
		})
	}
}

func TestEngineRequeuesUnacknowledgedPublish(t *testing.T) {
	dropped := make(chan uint16, 1)
	addr, cleanup := mockServer(t,
		func(conn net.Conn) {
			if !accept(t, conn) {
				return
			}
			if p := expectPacket[*PublishPacket](t, conn); p != nil {
				dropped <- p.PacketID
			}
		},
		func(conn net.Conn) {
			if !accept(t, conn) {
				return
			}
			p := expectPacket[*PublishPacket](t, conn)
			if p == nil {
				return
			}
			assert.Equal(t, "p1", string(p.Payload))
			WritePacket(conn, &PubackPacket{ack{PacketID: p.PacketID}}, 0)
			waitClosed(conn)
		},
	)
	defer cleanup()

	e, events := newTestEngine(t, addr, nil)
	defer e.Recycle()
	require.NoError(t, e.Connect())
	waitEvent[*ConnectCompleteEvent](t, events)

	tok, err := e.PublishMessage(NewTextMessage("", "p1", QoS1, false))
	require.NoError(t, err)
	require.NoError(t, tok.WaitForCompletion(5*time.Second))
	assert.Nil(t, tok.Message())

	<-dropped
	second := waitEvent[*ConnectCompleteEvent](t, events)
	assert.True(t, second.Reconnect)
	assert.Zero(t, e.QueueLen())
	assert.Equal(t, uint64(2), e.Stats().MessagesReplayed)
}

func TestEngineConnectFailure(t *testing.T) {
	refuse := func(conn net.Conn) {
		if readConnect(t, conn) != nil {
			assert.NoError(t, sendConnack(conn, false, ReasonNotAuthorized))
		}
	}

	t.Run("no automatic reconnect", func(t *testing.T) {
		addr, cleanup := mockServer(t, refuse)
		defer cleanup()

		failures := make(chan error, 1)
		e, events := newTestEngine(t, addr, func(c *Config) {
			c.ActionListener = &ActionListener{OnFailure: func(_ *Token, err error) { failures <- err }}
		}, WithAutomaticReconnect(false))
		defer e.Recycle()

		require.NoError(t, e.Connect())

		ev := waitEvent[*ConnectFailedEvent](t, events)
		assert.ErrorIs(t, ev.Err, ErrConnectRefused)
		assert.ErrorIs(t, <-failures, ErrConnectRefused)
		assert.Equal(t, StateDisconnected, e.State())
		assert.Equal(t, uint64(1), e.Stats().ConnectAttempts)
	})

	t.Run("max reconnects", func(t *testing.T) {
		addr, cleanup := mockServer(t, refuse, refuse)
		defer cleanup()

		e, events := newTestEngine(t, addr, nil, WithMaxReconnects(2))
		defer e.Recycle()

		require.NoError(t, e.Connect())

		waitEvent[*ConnectFailedEvent](t, events)
		rec := waitEvent[*ReconnectingEvent](t, events)
		assert.Equal(t, 1, rec.Attempt)
		waitEvent[*ConnectFailedEvent](t, events)

		tr := waitEvent[*TraceEvent](t, events)
		assert.Equal(t, "reconnect", tr.Tag)
		assert.Equal(t, TraceError, tr.Level)
		assert.ErrorIs(t, tr.Err, ErrConnectRefused)
		assert.Equal(t, uint64(2), e.Stats().ConnectAttempts)
		assert.Equal(t, StateDisconnected, e.State())
	})
}

func TestEngineRecycle(t *testing.T) {
	e, events := newTestEngine(t, closedAddr(t), nil, WithAutomaticReconnect(false))

	tok, err := e.PublishMessage(NewTextMessage("", "lost", QoS1, false))
	require.NoError(t, err)

	failed := waitEvent[*ConnectFailedEvent](t, events)
	assert.ErrorIs(t, failed.Err, ErrTransport)
	assert.Equal(t, 1, e.QueueLen())
	assert.False(t, tok.IsComplete())

	require.NoError(t, e.Recycle())
	assert.Equal(t, StateRecycled, e.State())
	assert.ErrorIs(t, tok.WaitForCompletion(time.Second), ErrEngineRecycled)
	assert.Zero(t, e.QueueLen())

	_, err = e.PublishMessage(NewTextMessage("", "late", QoS0, false))
	assert.ErrorIs(t, err, ErrEngineRecycled)
	assert.ErrorIs(t, e.Connect(), ErrEngineRecycled)
	assert.ErrorIs(t, e.Initialize(Config{}), ErrEngineRecycled)
	assert.ErrorIs(t, e.Recycle(), ErrEngineRecycled)
}

func TestEngineTopic(t *testing.T) {
	addr, cleanup := mockServer(t, func(conn net.Conn) {
		if !accept(t, conn) {
			return
		}
		if p := expectPacket[*PublishPacket](t, conn); p != nil {
			assert.Equal(t, "dev/1/state", p.Topic)
			assert.True(t, p.Retain)
		}
		waitClosed(conn)
	})
	defer cleanup()

	e, events := newTestEngine(t, addr, nil)
	defer e.Recycle()
	require.NoError(t, e.Connect())
	waitEvent[*ConnectCompleteEvent](t, events)

	topic, err := e.Topic("dev/1/state")
	require.NoError(t, err)
	assert.Equal(t, "dev/1/state", topic.Name())

	tok, err := topic.Publish([]byte("on"), QoS0, true)
	require.NoError(t, err)
	require.NoError(t, tok.WaitForCompletion(2*time.Second))

	_, err = e.Topic("dev/+/state")
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestEngineStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "recycled", StateRecycled.String())
	assert.Equal(t, "unknown", EngineState(42).String())
}
