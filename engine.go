package mqtt5

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// EngineState is a step in the engine lifecycle.
type EngineState int32

// Engine states.
const (
	StateUnconfigured EngineState = iota
	StateInitialized
	StateConnecting
	StateConnected
	StateDisconnected
	StateRecycled
)

var engineStateNames = [...]string{
	StateUnconfigured: "unconfigured",
	StateInitialized:  "initialized",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateRecycled:     "recycled",
}

func (s EngineState) String() string {
	if s >= 0 && int(s) < len(engineStateNames) {
		return engineStateNames[s]
	}
	return "unknown"
}

// Engine errors.
var (
	ErrNotInitialized = errors.New("engine not initialized")
	ErrNilMessage     = errors.New("message is nil")
)

// recycleTimeout bounds how long Recycle waits for running workers.
const recycleTimeout = 5 * time.Second

// Config is what the hosting application supplies to Initialize.
type Config struct {
	// AppContext scopes the engine; cancelling it stops reconnects.
	AppContext context.Context `validate:"required"`

	// ServerURI is scheme://host[:port], for example tcp://broker:1883.
	ServerURI string `validate:"required,uri"`

	// ClientID defaults to DeviceClientID.
	ClientID string

	// PublishTopic is used for messages published without a topic.
	PublishTopic string

	// SubscribeTopic is subscribed after every successful connect.
	SubscribeTopic string
	SubscribeQoS   byte `validate:"lte=2"`

	Options *ConnectionOptions `validate:"required"`

	// Handler receives every event. It may be nil.
	Handler EventHandler

	// ActionListener is told about connect failures and the outcome of the
	// automatic subscription.
	ActionListener *ActionListener `validate:"-"`

	Logger Logger
}

// Engine keeps one MQTT v5 session alive for an application: it connects,
// subscribes, reconnects after failures and queues publishes while the
// connection is down. Construct it with NewEngine.
type Engine struct {
	state      atomic.Int32
	connecting atomic.Bool
	stats      *stats
	queue      *MessageQueue

	// drainMu orders replay against requeueing after a connection drop.
	drainMu sync.Mutex

	mu            sync.Mutex
	cfg           Config
	opts          ConnectionOptions
	clientID      string
	client        *Client
	logger        Logger
	pool          *workerPool
	events        *dispatcher
	ctx           context.Context
	cancel        context.CancelFunc
	queued        map[*Message][]*Token
	draining      bool
	everConnected bool
	attempt       int
	subs          map[string]Subscription
	reconnect     *reconnector
}

// NewEngine returns an engine in StateUnconfigured.
func NewEngine() *Engine {
	return &Engine{
		stats:  &stats{},
		queue:  NewMessageQueue(),
		logger: NewNoOpLogger(),
		queued: make(map[*Message][]*Token),
		subs:   make(map[string]Subscription),
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() EngineState { return EngineState(e.state.Load()) }

// IsConnected reports whether the engine holds a live session.
func (e *Engine) IsConnected() bool { return e.State() == StateConnected }

// ClientID returns the identifier used for the session.
func (e *Engine) ClientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client.ClientID()
	}
	return e.clientID
}

// ServerURI returns the configured server.
func (e *Engine) ServerURI() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.ServerURI
}

// QueueLen returns how many messages wait for the transport.
func (e *Engine) QueueLen() int { return e.queue.Count() }

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats { return e.stats.snapshot() }

func (e *Engine) setState(s EngineState) {
	if old := EngineState(e.state.Swap(int32(s))); old != s {
		e.logger.Debug("state changed", LogFields{LogFieldState: s.String(), "from": old.String()})
	}
}

// Initialize validates cfg and prepares the engine. Calling it again while
// a session is live or being established keeps that session.
func (e *Engine) Initialize(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.State() {
	case StateRecycled:
		return ErrEngineRecycled
	case StateConnected, StateConnecting:
		return nil
	}

	if err := structValidator().Struct(&cfg); err != nil {
		return validationError("config", err)
	}
	opts := *cfg.Options
	if err := opts.Validate(); err != nil {
		return err
	}
	if cfg.SubscribeTopic != "" {
		if err := ValidateTopicFilter(cfg.SubscribeTopic); err != nil {
			return &ConfigurationError{Field: "config.SubscribeTopic", Cause: err}
		}
	}
	if cfg.PublishTopic != "" {
		if err := ValidateTopicName(cfg.PublishTopic); err != nil {
			return &ConfigurationError{Field: "config.PublishTopic", Cause: err}
		}
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = e.clientID
	}
	if clientID == "" {
		clientID = DeviceClientID()
	}

	// The logger and pool are fixed by the first successful call.
	if e.pool == nil {
		logger := cfg.Logger
		if logger == nil {
			logger = NewNoOpLogger()
		}
		pool, err := newWorkerPool(logger)
		if err != nil {
			return err
		}
		e.pool = pool
		e.logger = logger.WithFields(LogFields{LogFieldClientID: clientID})
	}
	if e.events == nil {
		e.events = newDispatcher(cfg.Handler, e.logger)
	} else {
		e.events.setHandler(cfg.Handler)
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.ctx, e.cancel = context.WithCancel(cfg.AppContext)
	if e.reconnect != nil {
		e.reconnect.stop()
	}
	e.reconnect = newReconnector(&opts)

	e.cfg = cfg
	e.opts = opts
	e.clientID = clientID
	e.setState(StateInitialized)
	e.logger.Info("engine initialized", LogFields{LogFieldServer: cfg.ServerURI})
	return nil
}

// checkUsable rejects calls on a recycled or unconfigured engine.
func (e *Engine) checkUsable() error {
	switch e.State() {
	case StateRecycled:
		return ErrEngineRecycled
	case StateUnconfigured:
		return &ConfigurationError{Field: "config", Cause: ErrNotInitialized}
	}
	return nil
}

// Connect starts connecting on the worker pool and returns at once. It is
// a no-op while connected or while another attempt is running.
func (e *Engine) Connect() error {
	if err := e.checkUsable(); err != nil {
		return err
	}
	if e.IsConnected() || !e.connecting.CompareAndSwap(false, true) {
		return nil
	}
	e.setState(StateConnecting)
	if err := e.pool.submit(e.connectTask); err != nil {
		e.connecting.Store(false)
		return err
	}
	return nil
}

func (e *Engine) connectTask() {
	e.mu.Lock()
	cfg, opts, clientID, ctx := e.cfg, e.opts, e.clientID, e.ctx
	e.mu.Unlock()

	e.stats.connectAttempts.Inc()
	e.logger.Debug("connecting", LogFields{LogFieldServer: cfg.ServerURI})

	var client *Client
	client = NewClient(cfg.ServerURI, clientID, opts, e.logger, func(ev Event) { e.onClientEvent(client, ev) })
	client.stats = e.stats
	client.undelivered = e.requeue

	tok := client.Connect(ctx)
	if err := tok.Err(); err != nil {
		e.connectFailed(tok, err)
		return
	}
	e.connectSucceeded(client, tok)
}

func (e *Engine) connectSucceeded(client *Client, tok *Token) {
	e.mu.Lock()
	if e.State() == StateRecycled {
		e.mu.Unlock()
		client.Close()
		return
	}
	if !client.IsConnected() {
		// Dropped before it was recorded; its ConnectionLostEvent was ignored.
		e.setState(StateDisconnected)
		e.connecting.Store(false)
		auto := e.opts.AutomaticReconnect
		e.mu.Unlock()
		e.stats.connectionsLost.Inc()
		if auto {
			e.scheduleReconnect(1)
		}
		return
	}
	stale := e.client
	e.client = client
	reconnect := e.everConnected
	e.everConnected = true
	e.attempt = 0
	cfg := e.cfg
	var restore []Subscription
	if !tok.SessionPresent() {
		for _, sub := range e.subs {
			if sub.TopicFilter != cfg.SubscribeTopic {
				restore = append(restore, sub)
			}
		}
	}
	e.setState(StateConnected)
	e.connecting.Store(false)
	e.mu.Unlock()

	if stale != nil && stale != client {
		if err := e.teardown(stale); err != nil {
			e.logger.Debug("stale transport cleanup", LogFields{LogFieldError: err})
		}
	}

	e.stats.connects.Inc()
	e.logger.Info("connected", LogFields{LogFieldServer: cfg.ServerURI, "reconnect": reconnect})
	e.emit(&ConnectSuccessEvent{Token: tok})
	e.emit(&ConnectCompleteEvent{Reconnect: reconnect, ServerURI: cfg.ServerURI})

	if cfg.SubscribeTopic != "" {
		sub := Subscription{TopicFilter: cfg.SubscribeTopic, QoS: cfg.SubscribeQoS}
		if _, err := e.subscribeWith(client, []Subscription{sub}, cfg.ActionListener); err != nil {
			e.trace(TraceError, "subscribe", "automatic subscribe failed", err)
		}
	}
	if len(restore) > 0 {
		sort.Slice(restore, func(i, j int) bool { return restore[i].TopicFilter < restore[j].TopicFilter })
		if _, err := e.subscribeWith(client, restore, nil); err != nil {
			e.trace(TraceError, "subscribe", "restoring subscriptions failed", err)
		}
	}

	e.startDrain()
}

func (e *Engine) connectFailed(tok *Token, err error) {
	e.mu.Lock()
	if e.State() == StateRecycled {
		e.mu.Unlock()
		return
	}
	e.attempt++
	attempt := e.attempt
	cfg, opts := e.cfg, e.opts
	e.setState(StateDisconnected)
	e.connecting.Store(false)
	e.mu.Unlock()

	e.logger.Warn("connect failed", LogFields{LogFieldAttempt: attempt, LogFieldError: err})
	e.emit(&ConnectFailedEvent{Token: tok, Err: err})
	if l := cfg.ActionListener; l != nil && l.OnFailure != nil {
		l.OnFailure(tok, err)
	}

	switch {
	case !opts.AutomaticReconnect:
	case errors.Is(err, ErrConfiguration):
		e.trace(TraceError, "reconnect", "not retrying a configuration error", err)
	case opts.MaxReconnects > 0 && attempt >= opts.MaxReconnects:
		e.trace(TraceError, "reconnect", "giving up after max reconnect attempts", err)
	default:
		e.scheduleReconnect(attempt)
	}
}

// onClientEvent tracks the live client and forwards every event.
func (e *Engine) onClientEvent(client *Client, ev Event) {
	lost, ok := ev.(*ConnectionLostEvent)
	if !ok {
		e.emit(ev)
		return
	}
	reconnect := e.connectionLost(client, lost.Cause)
	e.emit(ev)
	if reconnect {
		e.scheduleReconnect(1)
	}
}

// connectionLost forgets the live client and reports whether a reconnect
// should follow. Losses of a replaced client are ignored.
func (e *Engine) connectionLost(client *Client, cause error) bool {
	e.mu.Lock()
	if e.client != client || e.State() == StateRecycled {
		e.mu.Unlock()
		return false
	}
	e.client = nil
	e.draining = false
	auto := e.opts.AutomaticReconnect
	e.setState(StateDisconnected)
	e.mu.Unlock()

	e.stats.connectionsLost.Inc()
	e.logger.Warn("connection lost", LogFields{LogFieldError: cause, LogFieldQueued: e.queue.Count()})
	return auto
}

// SubscribeTopic subscribes to filter at the configured subscribe QoS.
// Filter errors are returned at once; the network exchange runs on the
// worker pool and reports through the token and listener.
func (e *Engine) SubscribeTopic(filter string, listener *ActionListener) (*Token, error) {
	e.mu.Lock()
	qos := e.cfg.SubscribeQoS
	e.mu.Unlock()
	return e.Subscribe([]Subscription{{TopicFilter: filter, QoS: qos}}, listener)
}

// Subscribe subscribes to every entry of subs with one SUBSCRIBE.
func (e *Engine) Subscribe(subs []Subscription, listener *ActionListener) (*Token, error) {
	if err := e.checkUsable(); err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoSubscriptions
	}
	for _, sub := range subs {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return nil, err
		}
		if sub.QoS > QoS2 {
			return nil, ErrInvalidQoS
		}
	}

	tok := newToken(TokenSubscribe, listener)
	err := e.pool.submit(func() {
		e.mu.Lock()
		client := e.client
		e.mu.Unlock()
		if client == nil {
			tok.notifyFailure(nil, ErrNotConnected)
			return
		}
		e.remember(subs, tok)
		if err := client.subscribe(subs, nil, tok); err != nil {
			tok.notifyFailure(nil, err)
		}
	})
	if err != nil {
		return nil, err
	}
	return tok, nil
}

func (e *Engine) subscribeWith(client *Client, subs []Subscription, listener *ActionListener) (*Token, error) {
	tok := newToken(TokenSubscribe, listener)
	if err := client.subscribe(subs, nil, tok); err != nil {
		tok.notifyFailure(nil, err)
		return tok, err
	}
	return tok, nil
}

// remember records filters granted by tok so they are restored when a
// reconnect starts without a session.
func (e *Engine) remember(subs []Subscription, tok *Token) {
	go func() {
		<-tok.Done()
		codes := tok.ReasonCodes()
		if tok.Err() != nil || len(codes) != len(subs) {
			return
		}
		e.mu.Lock()
		for i, sub := range subs {
			if !codes[i].IsError() {
				e.subs[sub.TopicFilter] = sub
			}
		}
		e.mu.Unlock()
	}()
}

// Unsubscribe removes filters. Like Subscribe it returns before the
// exchange happens.
func (e *Engine) Unsubscribe(filters ...string) (*Token, error) {
	if err := e.checkUsable(); err != nil {
		return nil, err
	}
	for _, f := range filters {
		if err := ValidateTopicFilter(f); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	for _, f := range filters {
		delete(e.subs, f)
	}
	client := e.client
	e.mu.Unlock()
	if client == nil {
		return nil, ErrNotConnected
	}
	return client.Unsubscribe(filters, nil)
}

// PublishString publishes payload as UTF-8 text at QoS 0 to the configured
// publish topic.
func (e *Engine) PublishString(payload string) (*Token, error) {
	return e.PublishMessage(NewTextMessage("", payload, QoS0, false))
}

// Topic binds name to the engine for repeated publishing.
func (e *Engine) Topic(name string) (*Topic, error) {
	return NewTopic(name, e)
}

// PublishMessage sends msg, using the configured publish topic when
// msg.Topic is empty. While disconnected the message is queued and a
// reconnect is started; the returned token completes once the message is
// delivered on a later connection.
func (e *Engine) PublishMessage(msg *Message) (*Token, error) {
	if err := e.checkUsable(); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNilMessage
	}
	if msg.QoS > QoS2 {
		return nil, ErrInvalidQoS
	}
	if msg.Topic == "" {
		e.mu.Lock()
		topic := e.cfg.PublishTopic
		e.mu.Unlock()
		msg = msg.Clone()
		msg.Topic = topic
	}
	if err := ValidateTopicName(msg.Topic); err != nil {
		return nil, err
	}

	tok := newDeliveryToken(msg, nil)

	e.mu.Lock()
	e.queue.Push(msg)
	e.queued[msg] = append(e.queued[msg], tok)
	connected := e.State() == StateConnected
	e.mu.Unlock()

	if connected {
		e.startDrain()
		return tok, nil
	}

	e.stats.messagesQueued.Inc()
	e.logger.Debug("message queued", LogFields{LogFieldTopic: msg.Topic, LogFieldQueued: e.queue.Count()})
	e.recover()
	return tok, nil
}

// recover drops a stale transport and starts a new connect.
func (e *Engine) recover() {
	e.mu.Lock()
	if e.State() == StateConnecting {
		e.mu.Unlock()
		return
	}
	stale, cfg := e.client, e.cfg
	e.client = nil
	e.mu.Unlock()

	if stale != nil {
		if err := e.teardown(stale); err != nil {
			e.logger.Warn("cleanup before reconnect failed", LogFields{LogFieldError: err})
		}
	}
	if err := e.Initialize(cfg); err != nil {
		e.trace(TraceError, "initialize", "re-initialize failed", err)
		return
	}
	if err := e.Connect(); err != nil {
		e.trace(TraceError, "connect", "reconnect submit failed", err)
	}
}

// startDrain runs drain on the pool unless it already runs.
func (e *Engine) startDrain() {
	e.mu.Lock()
	if e.draining || e.State() != StateConnected {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	if err := e.pool.submit(e.drain); err != nil {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}
}

// drain publishes queued messages in order until the queue is empty or
// the connection fails.
func (e *Engine) drain() {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	for {
		e.mu.Lock()
		client := e.client
		if client == nil || !e.draining {
			e.draining = false
			e.mu.Unlock()
			return
		}
		msg, ok := e.queue.Poll()
		if !ok {
			e.draining = false
			e.mu.Unlock()
			return
		}
		tok := e.takeQueued(msg)
		e.mu.Unlock()

		err := client.publish(msg, tok)
		if err == nil {
			e.stats.messagesReplayed.Inc()
			continue
		}
		if retryable(err) {
			e.mu.Lock()
			e.queue.PushFront(msg)
			e.queued[msg] = append([]*Token{tok}, e.queued[msg]...)
			e.draining = false
			e.mu.Unlock()
			e.logger.Debug("publish deferred", LogFields{LogFieldTopic: msg.Topic, LogFieldError: err})
			return
		}
		e.trace(TraceError, "publish", "publish rejected", err)
		tok.notifyFailure(nil, err)
	}
}

// takeQueued pops the oldest token waiting on msg, creating one if the
// message was queued by the transport itself. e.mu must be held.
func (e *Engine) takeQueued(msg *Message) *Token {
	toks := e.queued[msg]
	if len(toks) == 0 {
		return newDeliveryToken(msg, nil)
	}
	tok := toks[0]
	if len(toks) == 1 {
		delete(e.queued, msg)
	} else {
		e.queued[msg] = toks[1:]
	}
	return tok
}

// requeue puts publishes that were in flight on a dropped connection back
// at the head of the queue, oldest first.
func (e *Engine) requeue(toks []*Token) {
	sort.Slice(toks, func(i, j int) bool { return toks[i].MessageID() < toks[j].MessageID() })
	msgs := make([]*Message, 0, len(toks))

	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	e.mu.Lock()
	for i := len(toks) - 1; i >= 0; i-- {
		msg := toks[i].Message()
		e.queued[msg] = append([]*Token{toks[i]}, e.queued[msg]...)
	}
	for _, tok := range toks {
		msgs = append(msgs, tok.Message())
	}
	e.queue.PushFront(msgs...)
	e.mu.Unlock()

	e.logger.Info("requeued in-flight messages", LogFields{LogFieldQueued: len(msgs)})
}

// retryable reports whether a publish failed because of the connection
// rather than the message.
func retryable(err error) bool {
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrTransport)
}

// teardown disconnects client and releases it. Every step runs; their
// errors are joined.
func (e *Engine) teardown(client *Client) error {
	var errs []error
	if client.IsConnected() {
		e.mu.Lock()
		filter := e.cfg.SubscribeTopic
		e.mu.Unlock()
		if filter != "" {
			if _, err := client.Unsubscribe([]string{filter}, nil); err != nil {
				errs = append(errs, err)
			}
		}
		if err := client.Disconnect(ReasonSuccess); err != nil {
			errs = append(errs, err)
		}
	}
	if err := client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Disconnect ends the session gracefully. Automatic reconnect does not
// follow; a later publish or Connect starts a new session.
func (e *Engine) Disconnect() error {
	if err := e.checkUsable(); err != nil {
		return err
	}
	e.mu.Lock()
	client := e.client
	e.client = nil
	e.draining = false
	if e.reconnect != nil {
		e.reconnect.stop()
	}
	e.setState(StateDisconnected)
	e.mu.Unlock()

	if client == nil {
		return nil
	}
	return e.teardown(client)
}

// Recycle tears the engine down. Queued messages are dropped and their
// tokens fail with ErrEngineRecycled. Every later call on the engine fails
// with ErrEngineRecycled.
func (e *Engine) Recycle() error {
	e.mu.Lock()
	if e.State() == StateRecycled {
		e.mu.Unlock()
		return ErrEngineRecycled
	}
	e.setState(StateRecycled)
	client := e.client
	e.client = nil
	if e.reconnect != nil {
		e.reconnect.stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	queued := e.queued
	e.queued = make(map[*Message][]*Token)
	pool, events := e.pool, e.events
	e.mu.Unlock()

	if client != nil {
		if err := e.teardown(client); err != nil {
			e.logger.Warn("cleanup during recycle failed", LogFields{LogFieldError: err})
		}
	}
	e.queue.Clear()
	for _, toks := range queued {
		for _, tok := range toks {
			tok.notifyFailure(nil, ErrEngineRecycled)
		}
	}
	if pool != nil {
		if err := pool.release(recycleTimeout); err != nil {
			e.logger.Warn("worker pool release", LogFields{LogFieldError: err})
		}
	}
	e.logger.Info("engine recycled", nil)
	if events != nil {
		events.close()
	}
	return nil
}

func (e *Engine) emit(ev Event) {
	e.mu.Lock()
	d := e.events
	e.mu.Unlock()
	if d != nil {
		d.emit(ev)
	}
}

// trace logs a diagnostic and emits it as a TraceEvent.
func (e *Engine) trace(level TraceLevel, tag, msg string, err error) {
	fields := LogFields{LogFieldTag: tag}
	if err != nil {
		fields[LogFieldError] = err
	}
	switch level {
	case TraceDebug:
		e.logger.Debug(msg, fields)
	default:
		e.logger.Error(msg, fields)
	}
	e.emit(&TraceEvent{Level: level, Tag: tag, Message: msg, Err: err})
}
