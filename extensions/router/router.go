// Package router dispatches messages received by an mqtt5 Engine to
// handlers chosen by topic filter and message metadata.
package router

import (
	"regexp"
	"slices"
	"sort"
	"sync"

	"github.com/cion/mqtt5"
)

// Handler processes one received message.
type Handler func(msg *mqtt5.Message)

type propertyMatcher struct {
	key   *regexp.Regexp
	value *regexp.Regexp
}

// Condition selects the messages a handler receives. The zero Condition
// matches every message.
type Condition struct {
	filter         string
	qos            *byte
	retained       *bool
	subscriptionID *uint32
	contentType    *regexp.Regexp
	responseTopic  *regexp.Regexp
	properties     []propertyMatcher
}

// ConditionOption configures a Condition.
type ConditionOption func(*Condition)

// WithTopic restricts the handler to topics matching filter, which may use
// the + and # wildcards.
func WithTopic(filter string) ConditionOption {
	return func(c *Condition) { c.filter = filter }
}

// WithQoS matches the QoS the message was delivered with.
func WithQoS(qos byte) ConditionOption {
	return func(c *Condition) { c.qos = &qos }
}

// WithRetained matches the retain flag.
func WithRetained(retained bool) ConditionOption {
	return func(c *Condition) { c.retained = &retained }
}

// WithSubscriptionID matches messages delivered for the subscription that
// carried id.
func WithSubscriptionID(id uint32) ConditionOption {
	return func(c *Condition) { c.subscriptionID = &id }
}

// WithContentType matches the content type against pattern.
func WithContentType(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) { c.contentType = pattern }
}

// WithResponseTopic matches the response topic against pattern.
func WithResponseTopic(pattern *regexp.Regexp) ConditionOption {
	return func(c *Condition) { c.responseTopic = pattern }
}

// WithUserProperty requires a user property whose key and value match the
// patterns. Repeat it to require several properties.
func WithUserProperty(key, value *regexp.Regexp) ConditionOption {
	return func(c *Condition) {
		c.properties = append(c.properties, propertyMatcher{key: key, value: value})
	}
}

func (c *Condition) matches(msg *mqtt5.Message) bool {
	switch {
	case c.filter != "" && !mqtt5.TopicMatch(c.filter, msg.Topic):
		return false
	case c.qos != nil && *c.qos != msg.QoS:
		return false
	case c.retained != nil && *c.retained != msg.Retain:
		return false
	case c.subscriptionID != nil && !slices.Contains(msg.SubscriptionIdentifiers, *c.subscriptionID):
		return false
	case c.contentType != nil && !c.contentType.MatchString(msg.ContentType):
		return false
	case c.responseTopic != nil && !c.responseTopic.MatchString(msg.ResponseTopic):
		return false
	}

	for _, m := range c.properties {
		found := slices.ContainsFunc(msg.UserProperties, func(p mqtt5.StringPair) bool {
			return m.key.MatchString(p.Key) && m.value.MatchString(p.Value)
		})
		if !found {
			return false
		}
	}
	return true
}

type route struct {
	handler   Handler
	condition Condition
}

// Router dispatches messages to every handler whose condition matches.
type Router struct {
	mu       sync.RWMutex
	routes   []route
	fallback Handler
}

// New returns an empty Router.
func New() *Router {
	return &Router{}
}

// Handle registers handler for messages matching all opts.
//
//	r.Handle(onReading, router.WithTopic("sensors/+/value"), router.WithQoS(1))
func (r *Router) Handle(handler Handler, opts ...ConditionOption) {
	var cond Condition
	for _, opt := range opts {
		opt(&cond)
	}

	r.mu.Lock()
	r.routes = append(r.routes, route{handler: handler, condition: cond})
	r.mu.Unlock()
}

// NotFound sets the handler for messages no route matched.
func (r *Router) NotFound(handler Handler) {
	r.mu.Lock()
	r.fallback = handler
	r.mu.Unlock()
}

// Route dispatches msg and reports whether a registered route matched.
func (r *Router) Route(msg *mqtt5.Message) bool {
	if msg == nil {
		return false
	}

	r.mu.RLock()
	var matched []Handler
	for _, rt := range r.routes {
		if rt.condition.matches(msg) {
			matched = append(matched, rt.handler)
		}
	}
	fallback := r.fallback
	r.mu.RUnlock()

	for _, h := range matched {
		h(msg)
	}
	if len(matched) == 0 && fallback != nil {
		fallback(msg)
	}
	return len(matched) > 0
}

// EventHandler returns an engine event handler that routes arrived
// messages and passes every other event to next, which may be nil.
func (r *Router) EventHandler(next mqtt5.EventHandler) mqtt5.EventHandler {
	return func(ev mqtt5.Event) {
		if arrived, ok := ev.(*mqtt5.MessageArrivedEvent); ok {
			r.Route(arrived.Message)
			return
		}
		if next != nil {
			next(ev)
		}
	}
}

// Filters returns the distinct topic filters of the registered routes in
// sorted order.
func (r *Router) Filters() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rt := range r.routes {
		if rt.condition.filter != "" {
			seen[rt.condition.filter] = struct{}{}
		}
	}

	filters := make([]string, 0, len(seen))
	for f := range seen {
		filters = append(filters, f)
	}
	sort.Strings(filters)
	return filters
}

// Subscriptions returns one subscription per registered filter, ready for
// Engine.Subscribe.
func (r *Router) Subscriptions(qos byte) []mqtt5.Subscription {
	filters := r.Filters()
	subs := make([]mqtt5.Subscription, len(filters))
	for i, f := range filters {
		subs[i] = mqtt5.Subscription{TopicFilter: f, QoS: qos}
	}
	return subs
}

// Len returns the number of registered routes.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Clear removes every route and the fallback handler.
func (r *Router) Clear() {
	r.mu.Lock()
	r.routes = nil
	r.fallback = nil
	r.mu.Unlock()
}
