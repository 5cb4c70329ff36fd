package mqtt5

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWritePacketStream(t *testing.T) {
	connect := &ConnectPacket{ClientID: "dev-1", CleanStart: true, KeepAlive: 30, Username: "u", Password: []byte("p")}
	connect.Props.Set(PropSessionExpiryInterval, uint32(3600))

	publish := &PublishPacket{Topic: "a/b", Payload: []byte("hello"), QoS: QoS1, PacketID: 9}
	publish.Props.Set(PropContentType, "text/plain")

	packets := []Packet{
		connect,
		&ConnackPacket{SessionPresent: true},
		publish,
		&PubackPacket{ack{PacketID: 9}},
		&PubrecPacket{ack{PacketID: 10, ReasonCode: ReasonNoMatchingSubscribers}},
		&SubackPacket{reasonList{PacketID: 3, ReasonCodes: []ReasonCode{ReasonGrantedQoS1, ReasonNotAuthorized}}},
		&PingreqPacket{},
		NewDisconnectPacket(ReasonDisconnectWithWill),
	}

	var buf bytes.Buffer
	written := 0
	for _, p := range packets {
		n, err := WritePacket(&buf, p, 0)
		require.NoError(t, err, p.Type().String())
		written += n
	}
	assert.Equal(t, buf.Len(), written)

	var read int
	for _, want := range packets {
		got, n, err := ReadPacket(&buf, 0)
		require.NoError(t, err)
		require.Equal(t, want.Type(), got.Type())
		read += n
	}
	assert.Equal(t, written, read)

	_, _, err := ReadPacket(&buf, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadPacketFields(t *testing.T) {
	publish := &PublishPacket{Topic: "a/b", Payload: []byte("hello"), QoS: QoS2, PacketID: 9, Retain: true}
	publish.Props.Set(PropContentType, "text/plain")
	publish.Props.Add(PropUserProperty, StringPair{Key: "k", Value: "v"})

	b, err := EncodePacket(publish)
	require.NoError(t, err)

	pkt, err := DecodePacket(b)
	require.NoError(t, err)
	got := pkt.(*PublishPacket)

	assert.Equal(t, "a/b", got.Topic)
	assert.Equal(t, []byte("hello"), got.Payload)
	assert.Equal(t, QoS2, got.QoS)
	assert.True(t, got.Retain)
	assert.False(t, got.DUP)
	assert.Equal(t, uint16(9), got.PacketID)

	msg := got.Message()
	assert.Equal(t, "text/plain", msg.ContentType)
	assert.Equal(t, []StringPair{{Key: "k", Value: "v"}}, msg.UserProperties)

	connect := &ConnectPacket{ClientID: "dev-1", KeepAlive: 15, Username: "user", Password: []byte("secret")}
	connect.Will = &Message{Topic: "dev/1/status", Payload: []byte("gone"), QoS: QoS1, Retain: true}
	connect.WillDelay = 5

	b, err = EncodePacket(connect)
	require.NoError(t, err)
	pkt, err = DecodePacket(b)
	require.NoError(t, err)
	gotConnect := pkt.(*ConnectPacket)

	assert.Equal(t, "dev-1", gotConnect.ClientID)
	assert.False(t, gotConnect.CleanStart)
	assert.Equal(t, uint16(15), gotConnect.KeepAlive)
	assert.Equal(t, "user", gotConnect.Username)
	assert.Equal(t, []byte("secret"), gotConnect.Password)
	require.NotNil(t, gotConnect.Will)
	assert.Equal(t, "dev/1/status", gotConnect.Will.Topic)
	assert.Equal(t, []byte("gone"), gotConnect.Will.Payload)
	assert.Equal(t, QoS1, gotConnect.Will.QoS)
	assert.True(t, gotConnect.Will.Retain)
	assert.Equal(t, uint32(5), gotConnect.WillDelay)
}

func TestPublishWireFormat(t *testing.T) {
	b, err := EncodePacket(&PublishPacket{Topic: "a/b", Payload: []byte("hi")})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x08, 0x00, 0x03, 'a', '/', 'b', 0x00, 'h', 'i'}, b)

	b, err = EncodePacket(&PubackPacket{ack{PacketID: 258}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x02, 0x01, 0x02}, b)

	b, err = EncodePacket(&PubrelPacket{ack{PacketID: 1}})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x62, 0x02, 0x00, 0x01}, b)
}

func TestDecodePacketErrors(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		typ   PacketType
		cause error
	}{
		{"empty input", nil, 0, ErrPacketTruncated},
		{"reserved type", []byte{0x00, 0x00}, 0, ErrInvalidPacketType},
		{"malformed remaining length", []byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF}, PacketPUBLISH, ErrVarintMalformed},
		{"trailing bytes", []byte{0xC0, 0x00, 0xFF}, PacketPINGREQ, ErrTrailingBytes},
		{"pingreq with body", []byte{0xC0, 0x01, 0x00}, PacketPINGREQ, ErrTrailingBytes},
		{"pingreq flags", []byte{0xC1, 0x00}, PacketPINGREQ, ErrInvalidPacketFlags},
		{"publish qos 3", []byte{0x36, 0x06, 0x00, 0x01, 'a', 0x00, 0x01, 0x00}, PacketPUBLISH, ErrInvalidPacketFlags},
		{"publish zero packet id", []byte{0x32, 0x06, 0x00, 0x01, 'a', 0x00, 0x00, 0x00}, PacketPUBLISH, ErrInvalidPacketID},
		{"puback reason code", []byte{0x40, 0x03, 0x00, 0x01, 0x01}, PacketPUBACK, ErrInvalidReasonCode},
		{"pubrel flags", []byte{0x60, 0x02, 0x00, 0x01}, PacketPUBREL, ErrInvalidPacketFlags},
		{"connack reserved flags", []byte{0x20, 0x03, 0x02, 0x00, 0x00}, PacketCONNACK, ErrProtocolViolation},
		{"invalid utf8 topic", []byte{0x30, 0x04, 0x00, 0x02, 0xC3, 0x28}, PacketPUBLISH, ErrInvalidUTF8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePacket(tt.data)

			var mpe *MalformedPacketError
			require.ErrorAs(t, err, &mpe)
			assert.Equal(t, tt.typ, mpe.Packet)
			assert.ErrorIs(t, err, ErrMalformedPacket)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestMaxPacketSize(t *testing.T) {
	p := &PublishPacket{Topic: "a/b", Payload: []byte("hello world")}

	t.Run("write", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := WritePacket(&buf, p, 8)
		assert.ErrorIs(t, err, ErrPacketTooLarge)
		assert.Zero(t, buf.Len())
	})

	t.Run("read", func(t *testing.T) {
		b, err := EncodePacket(p)
		require.NoError(t, err)

		_, _, err = ReadPacket(bytes.NewReader(b), 8)
		assert.ErrorIs(t, err, ErrPacketTooLarge)

		pkt, n, err := ReadPacket(bytes.NewReader(b), uint32(len(b)))
		require.NoError(t, err)
		assert.Equal(t, len(b), n)
		assert.Equal(t, "a/b", pkt.(*PublishPacket).Topic)
	})
}

func TestWritePacketValidates(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
		want error
	}{
		{"qos 1 without id", &PublishPacket{Topic: "a", QoS: QoS1}, ErrPacketIDRequired},
		{"qos 0 with id", &PublishPacket{Topic: "a", PacketID: 4}, ErrUnexpectedID},
		{"wildcard topic", &PublishPacket{Topic: "a/+"}, ErrInvalidTopic},
		{"puback without id", &PubackPacket{}, ErrInvalidPacketID},
		{"connect without client id", &ConnectPacket{}, ErrClientIDRequired},
		{"auth without method", &AuthPacket{reasoned{ReasonCode: ReasonContinueAuth}}, ErrAuthMethodRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := WritePacket(&buf, tt.pkt, 0)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, n)
			assert.Zero(t, buf.Len())
		})
	}
}

func TestReadPacketShortBody(t *testing.T) {
	_, _, err := ReadPacket(bytes.NewReader([]byte{0x30, 0x08, 0x00, 0x03}), 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
