package mqtt5

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTopic(t *testing.T) {
	tests := []struct {
		name     string
		topic    string
		wildcard bool
		reason   TopicReason
	}{
		{"plain name", "sport/tennis/player1", false, 0},
		{"single char", "a", false, 0},
		{"leading slash", "/finance", false, 0},
		{"empty levels", "a//b", false, 0},
		{"space", " ", false, 0},
		{"max length", strings.Repeat("a", 65535), false, 0},
		{"empty", "", false, TopicReasonLength},
		{"too long", strings.Repeat("a", 65536), true, TopicReasonLength},
		{"hash in name", "sport/#", false, TopicReasonWildcardInName},
		{"plus in name", "sport/+/player", false, TopicReasonWildcardInName},
		{"lone hash in name", "#", false, TopicReasonWildcardInName},
		{"invalid utf8", "a/\xff", false, TopicReasonInvalidUTF8},
		{"nul", "a\x00b", true, TopicReasonInvalidUTF8},

		{"hash alone", "#", true, 0},
		{"plus alone", "+", true, 0},
		{"trailing hash", "sport/tennis/#", true, 0},
		{"plus levels", "+/tennis/+", true, 0},
		{"plus then hash", "sport/+/#", true, 0},
		{"leading plus slash", "+/", true, 0},
		{"hash glued", "sport/tennis#", true, TopicReasonMultiLevelMisuse},
		{"hash not last", "sport/#/ranking", true, TopicReasonMultiLevelMisuse},
		{"two hashes", "#/#", true, TopicReasonMultiLevelMisuse},
		{"plus glued", "sport+", true, TopicReasonSingleLevelMisuse},
		{"plus inside level", "sport/te+nnis", true, TopicReasonSingleLevelMisuse},
		{"plus before text", "+sport", true, TopicReasonSingleLevelMisuse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTopic(tt.topic, tt.wildcard)
			if tt.reason == 0 {
				assert.NoError(t, err)
				return
			}

			var te *InvalidTopicError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.reason, te.Reason)
			assert.Equal(t, tt.topic, te.Topic)
			assert.ErrorIs(t, err, ErrInvalidTopic)
		})
	}
}

func TestValidateTopicWrappers(t *testing.T) {
	assert.NoError(t, ValidateTopicName("a/b"))
	assert.Error(t, ValidateTopicName("a/+"))
	assert.NoError(t, ValidateTopicFilter("a/+"))
	assert.Error(t, ValidateTopicFilter("a/b#"))
}

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"sport/tennis", "sport/tennis", true},
		{"sport/tennis", "sport/tennis/player", false},
		{"sport/#", "sport", true},
		{"sport/#", "sport/tennis/player", true},
		{"#", "a/b/c", true},
		{"sport/+", "sport/tennis", true},
		{"sport/+", "sport/tennis/player", false},
		{"sport/+", "sport/", true},
		{"+/+", "/finance", true},
		{"+", "/finance", false},
		{"#", "$SYS/uptime", false},
		{"+/uptime", "$SYS/uptime", false},
		{"$SYS/#", "$SYS/uptime", true},
		{"$share/group/sport/#", "sport/tennis", true},
		{"", "a", false},
		{"a", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+" "+tt.topic, func(t *testing.T) {
			assert.Equal(t, tt.want, TopicMatch(tt.filter, tt.topic))
		})
	}
}

func TestParseSharedSubscription(t *testing.T) {
	shared, err := ParseSharedSubscription("$share/workers/jobs/+")
	require.NoError(t, err)
	assert.Equal(t, &SharedSubscription{ShareName: "workers", TopicFilter: "jobs/+"}, shared)

	shared, err = ParseSharedSubscription("jobs/+")
	assert.NoError(t, err)
	assert.Nil(t, shared)

	for _, bad := range []string{"$share/", "$share/workers", "$share//jobs", "$share/w+/jobs", "$share/w/jobs#"} {
		_, err := ParseSharedSubscription(bad)
		assert.ErrorIs(t, err, ErrInvalidTopic, bad)
	}
}

type recordingPublisher struct {
	msgs []*Message
	err  error
}

func (p *recordingPublisher) PublishMessage(msg *Message) (*Token, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.msgs = append(p.msgs, msg)
	return newDeliveryToken(msg, nil), nil
}

func TestTopic(t *testing.T) {
	t.Run("invalid name", func(t *testing.T) {
		_, err := NewTopic("a/#", &recordingPublisher{})
		assert.ErrorIs(t, err, ErrInvalidTopic)
	})

	t.Run("publish", func(t *testing.T) {
		pub := &recordingPublisher{}
		topic, err := NewTopic("home/lamp", pub)
		require.NoError(t, err)
		assert.Equal(t, "home/lamp", topic.Name())
		assert.Equal(t, "home/lamp", topic.String())

		tok, err := topic.Publish([]byte("on"), QoS1, true)
		require.NoError(t, err)
		assert.Equal(t, TokenPublish, tok.Kind())

		require.Len(t, pub.msgs, 1)
		assert.Equal(t, &Message{Topic: "home/lamp", Payload: []byte("on"), QoS: QoS1, Retain: true}, pub.msgs[0])
	})

	t.Run("invalid qos", func(t *testing.T) {
		topic, err := NewTopic("a", &recordingPublisher{})
		require.NoError(t, err)
		_, err = topic.Publish(nil, 3, false)
		assert.ErrorIs(t, err, ErrInvalidQoS)
	})

	t.Run("publisher error", func(t *testing.T) {
		boom := errors.New("boom")
		topic, err := NewTopic("a", &recordingPublisher{err: boom})
		require.NoError(t, err)
		_, err = topic.Publish(nil, QoS0, false)
		assert.ErrorIs(t, err, boom)
	})
}
