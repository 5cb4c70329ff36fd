package mqtt5

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConnectionOptionsDefaults(t *testing.T) {
	opts, err := NewConnectionOptions()
	require.NoError(t, err)
	assert.Equal(t, DefaultConnectionOptions(), opts)
	assert.Equal(t, ReconnectBackoff, opts.ReconnectPolicy)
	assert.True(t, opts.AutomaticReconnect)
	assert.True(t, opts.CleanStart)
}

func TestNewConnectionOptionsValidation(t *testing.T) {
	tests := []struct {
		name  string
		opt   Option
		field string
	}{
		{"zero connect timeout", WithConnectTimeout(0), "options.ConnectTimeout"},
		{"negative write timeout", WithWriteTimeout(-time.Second), "options.WriteTimeout"},
		{"tiny max packet size", WithMaxPacketSize(8), "options.MaxPacketSize"},
		{"zero receive maximum", WithReceiveMaximum(0), "options.ReceiveMaximum"},
		{"unknown policy", WithReconnectPolicy(ReconnectPolicy(9)), "options.ReconnectPolicy"},
		{"max below min", WithReconnectDelay(time.Minute, time.Second), "options.ReconnectMaxDelay"},
		{"zero min delay", WithReconnectDelay(0, time.Second), "options.ReconnectMinDelay"},
		{"negative rate", WithReconnectRate(-1), "options.ReconnectRate"},
		{"negative max reconnects", WithMaxReconnects(-1), "options.MaxReconnects"},
		{"bad proxy", WithProxy("::not a url"), "options.ProxyURL"},
		{"will qos", WithWill(&Message{Topic: "a", QoS: 3}, 0), "options.Will.QoS"},
		{"will topic", WithWill(&Message{Topic: "a/#"}, 0), "options.Will.Topic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConnectionOptions(tt.opt)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestConnectionOptionsConnectPacket(t *testing.T) {
	will := &Message{Topic: "dev/1/status", Payload: []byte("offline"), QoS: QoS1}
	opts, err := NewConnectionOptions(
		WithCredentials("user", "pass"),
		WithKeepAlive(20),
		WithCleanStart(false),
		WithSessionExpiryInterval(300),
		WithReceiveMaximum(10),
		WithMaxPacketSize(4096),
		WithWill(will, 5),
		WithUserProperty("site", "lab"),
	)
	require.NoError(t, err)

	will.Topic = "changed"
	assert.Equal(t, "dev/1/status", opts.Will.Topic)

	pkt := opts.connectPacket("dev-1")
	require.NoError(t, pkt.Validate())
	assert.Equal(t, "dev-1", pkt.ClientID)
	assert.False(t, pkt.CleanStart)
	assert.Equal(t, uint16(20), pkt.KeepAlive)
	assert.Equal(t, "user", pkt.Username)
	assert.Equal(t, []byte("pass"), pkt.Password)
	assert.Equal(t, uint32(5), pkt.WillDelay)
	assert.Equal(t, uint32(300), pkt.Props.GetUint32(PropSessionExpiryInterval))
	assert.Equal(t, uint16(10), pkt.Props.GetUint16(PropReceiveMaximum))
	assert.Equal(t, uint32(4096), pkt.Props.GetUint32(PropMaximumPacketSize))
	assert.Equal(t, []StringPair{{Key: "site", Value: "lab"}}, pkt.Props.GetAllStringPairs(PropUserProperty))

	t.Run("default receive maximum omitted", func(t *testing.T) {
		opts, err := NewConnectionOptions()
		require.NoError(t, err)
		assert.False(t, opts.connectPacket("x").Props.Has(PropReceiveMaximum))
	})
}

func TestParseReconnectPolicy(t *testing.T) {
	p, err := ParseReconnectPolicy("immediate")
	require.NoError(t, err)
	assert.Equal(t, ReconnectImmediate, p)
	assert.Equal(t, "immediate", p.String())

	p, err = ParseReconnectPolicy("")
	require.NoError(t, err)
	assert.Equal(t, ReconnectBackoff, p)

	_, err = ParseReconnectPolicy("linear")
	assert.Error(t, err)
}

func TestValidationMessagesAreTranslated(t *testing.T) {
	_, err := NewConnectionOptions(WithReceiveMaximum(0))
	require.Error(t, err)
	assert.ErrorContains(t, err, "ReceiveMaximum must be 1 or greater")
}
