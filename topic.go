package mqtt5

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = '+'
	multiLevelWildcard  = '#'
	maxTopicLength      = 65535
)

// TopicReason names the rule a topic string broke.
type TopicReason int

// Topic validation failure reasons.
const (
	TopicReasonLength TopicReason = iota + 1
	TopicReasonInvalidUTF8
	TopicReasonWildcardInName
	TopicReasonMultiLevelMisuse
	TopicReasonSingleLevelMisuse
)

func (r TopicReason) String() string {
	switch r {
	case TopicReasonLength:
		return "length must be between 1 and 65535 bytes"
	case TopicReasonInvalidUTF8:
		return "not a valid UTF-8 string"
	case TopicReasonWildcardInName:
		return "wildcards are not allowed in topic names"
	case TopicReasonMultiLevelMisuse:
		return "'#' must appear once, as the last level"
	case TopicReasonSingleLevelMisuse:
		return "'+' must occupy an entire level"
	default:
		return "unknown"
	}
}

// InvalidTopicError is returned by topic validation.
type InvalidTopicError struct {
	Topic  string
	Reason TopicReason
}

func (e *InvalidTopicError) Error() string {
	return fmt.Sprintf("invalid topic %q: %s", e.Topic, e.Reason)
}

func (e *InvalidTopicError) Unwrap() error { return ErrInvalidTopic }

// ValidateTopic checks topic against the topic name grammar, or the topic
// filter grammar when wildcardAllowed is true.
func ValidateTopic(topic string, wildcardAllowed bool) error {
	fail := func(r TopicReason) error { return &InvalidTopicError{Topic: topic, Reason: r} }

	if len(topic) < 1 || len(topic) > maxTopicLength {
		return fail(TopicReasonLength)
	}
	if !utf8.ValidString(topic) || strings.IndexByte(topic, 0) >= 0 {
		return fail(TopicReasonInvalidUTF8)
	}

	if !wildcardAllowed {
		if strings.ContainsAny(topic, "#+") {
			return fail(TopicReasonWildcardInName)
		}
		return nil
	}

	if topic == "#" || topic == "+" {
		return nil
	}

	if n := strings.Count(topic, "#"); n > 1 || (n == 1 && !strings.HasSuffix(topic, "/#")) {
		return fail(TopicReasonMultiLevelMisuse)
	}

	for i := 0; i < len(topic); i++ {
		if topic[i] != singleLevelWildcard {
			continue
		}
		before := i == 0 || topic[i-1] == topicSeparator
		after := i == len(topic)-1 || topic[i+1] == topicSeparator
		if !before || !after {
			return fail(TopicReasonSingleLevelMisuse)
		}
	}
	return nil
}

// ValidateTopicName validates a topic name used for publishing.
func ValidateTopicName(topic string) error { return ValidateTopic(topic, false) }

// ValidateTopicFilter validates a topic filter used for subscribing.
func ValidateTopicFilter(filter string) error { return ValidateTopic(filter, true) }

// TopicMatch reports whether topic matches filter. Shared subscription
// prefixes are stripped from the filter, and topics starting with '$' are
// not matched by a leading wildcard.
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if shared, err := ParseSharedSubscription(filter); err == nil && shared != nil {
		filter = shared.TopicFilter
	}
	if topic[0] == '$' && (filter[0] == singleLevelWildcard || filter[0] == multiLevelWildcard) {
		return false
	}

	for {
		fl, frest, fmore := strings.Cut(filter, "/")
		if fl == "#" {
			return true
		}
		tl, trest, tmore := strings.Cut(topic, "/")
		if fl != "+" && fl != tl {
			return false
		}
		switch {
		case !fmore && !tmore:
			return true
		case !tmore:
			// "a/#" also matches "a".
			return frest == "#"
		case !fmore:
			return false
		}
		filter, topic = frest, trest
	}
}

const sharePrefix = "$share/"

// SharedSubscription is a parsed "$share/{group}/{filter}" filter.
type SharedSubscription struct {
	ShareName   string
	TopicFilter string
}

// ParseSharedSubscription returns nil, nil for filters without the share
// prefix.
func ParseSharedSubscription(filter string) (*SharedSubscription, error) {
	rest, ok := strings.CutPrefix(filter, sharePrefix)
	if !ok {
		return nil, nil
	}
	name, tf, found := strings.Cut(rest, "/")
	if !found || name == "" || tf == "" || strings.ContainsAny(name, "#+") {
		return nil, &InvalidTopicError{Topic: filter, Reason: TopicReasonSingleLevelMisuse}
	}
	if err := ValidateTopicFilter(tf); err != nil {
		return nil, err
	}
	return &SharedSubscription{ShareName: name, TopicFilter: tf}, nil
}

// Publisher publishes application messages.
type Publisher interface {
	PublishMessage(msg *Message) (*Token, error)
}

// Topic is a validated topic name bound to the publisher that owns it.
type Topic struct {
	name  string
	owner Publisher
}

// NewTopic validates name and binds it to owner.
func NewTopic(name string, owner Publisher) (*Topic, error) {
	if err := ValidateTopicName(name); err != nil {
		return nil, err
	}
	return &Topic{name: name, owner: owner}, nil
}

// Name returns the topic name.
func (t *Topic) Name() string { return t.name }

func (t *Topic) String() string { return t.name }

// Publish sends payload to the topic through the owning publisher.
func (t *Topic) Publish(payload []byte, qos byte, retained bool) (*Token, error) {
	if qos > 2 {
		return nil, ErrInvalidQoS
	}
	return t.owner.PublishMessage(&Message{
		Topic:   t.name,
		Payload: payload,
		QoS:     qos,
		Retain:  retained,
	})
}
