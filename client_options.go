package mqtt5

import (
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// ReconnectPolicy selects how the engine schedules reconnect attempts.
type ReconnectPolicy int

// Reconnect policies.
const (
	// ReconnectBackoff waits an exponentially growing delay, starting at
	// ReconnectMinDelay and capped at ReconnectMaxDelay.
	ReconnectBackoff ReconnectPolicy = iota + 1

	// ReconnectImmediate re-issues connect as soon as an attempt fails.
	// ReconnectRate, when set, throttles the attempts.
	ReconnectImmediate
)

func (p ReconnectPolicy) String() string {
	switch p {
	case ReconnectBackoff:
		return "backoff"
	case ReconnectImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

// ParseReconnectPolicy maps "backoff" and "immediate" to a policy.
func ParseReconnectPolicy(s string) (ReconnectPolicy, error) {
	switch s {
	case "", "backoff":
		return ReconnectBackoff, nil
	case "immediate":
		return ReconnectImmediate, nil
	}
	return 0, fmt.Errorf("unknown reconnect policy %q", s)
}

// MaxPacketSizeDefault is the default Maximum Packet Size announced in
// CONNECT and enforced on outgoing packets.
const MaxPacketSizeDefault = 256 * 1024

// ConnectionOptions is the immutable session configuration. Build it with
// NewConnectionOptions; the engine keeps its own copy.
type ConnectionOptions struct {
	Username string
	Password []byte

	// KeepAlive is the keep alive interval in seconds; zero disables it.
	KeepAlive      uint16
	ConnectTimeout time.Duration `validate:"gt=0"`
	WriteTimeout   time.Duration `validate:"gte=0"`

	SessionExpiryInterval uint32
	CleanStart            bool
	MaxPacketSize         uint32 `validate:"gte=16,lte=268435460"`
	ReceiveMaximum        uint16 `validate:"gte=1"`

	AutomaticReconnect bool
	ReconnectPolicy    ReconnectPolicy `validate:"oneof=1 2"`
	ReconnectMinDelay  time.Duration   `validate:"gt=0"`
	ReconnectMaxDelay  time.Duration   `validate:"gtefield=ReconnectMinDelay"`

	// ReconnectRate caps reconnect attempts per second. Zero means no cap.
	ReconnectRate float64 `validate:"gte=0"`

	// MaxReconnects bounds consecutive failed attempts. Zero means no bound.
	MaxReconnects int `validate:"gte=0"`

	Will      *Message `validate:"-"`
	WillDelay uint32

	UserProperties []StringPair `validate:"-"`

	TLSConfig *tls.Config `validate:"-"`

	// ProxyURL routes the connection through an http, https or socks5 proxy.
	ProxyURL string `validate:"omitempty,url"`

	EnhancedAuth ClientEnhancedAuthenticator `validate:"-"`

	// Dialer replaces the transport chosen from the server URI scheme.
	Dialer Dialer `validate:"-"`
}

// DefaultConnectionOptions returns the defaults applied before any Option.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		KeepAlive:          60,
		ConnectTimeout:     10 * time.Second,
		WriteTimeout:       5 * time.Second,
		CleanStart:         true,
		MaxPacketSize:      MaxPacketSizeDefault,
		ReceiveMaximum:     65535,
		AutomaticReconnect: true,
		ReconnectPolicy:    ReconnectBackoff,
		ReconnectMinDelay:  time.Second,
		ReconnectMaxDelay:  60 * time.Second,
	}
}

// Option configures ConnectionOptions.
type Option func(*ConnectionOptions)

// NewConnectionOptions applies opts over the defaults and validates the
// result.
func NewConnectionOptions(opts ...Option) (ConnectionOptions, error) {
	o := DefaultConnectionOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return ConnectionOptions{}, err
	}
	return o, nil
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
	translator   ut.Translator
)

// structValidator returns the shared validator with English messages
// registered.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		uni := ut.New(en.New())
		trans, _ := uni.GetTranslator("en")
		if err := en_translations.RegisterDefaultTranslations(validate, trans); err == nil {
			translator = trans
		}
	})
	return validate
}

// Validate checks field ranges and the will message. Failures are reported
// as *ConfigurationError naming the offending field.
func (o *ConnectionOptions) Validate() error {
	if err := structValidator().Struct(o); err != nil {
		return validationError("options", err)
	}
	if o.Will != nil {
		if o.Will.QoS > 2 {
			return &ConfigurationError{Field: "options.Will.QoS", Cause: ErrInvalidQoS}
		}
		if err := ValidateTopicName(o.Will.Topic); err != nil {
			return &ConfigurationError{Field: "options.Will.Topic", Cause: err}
		}
	}
	return nil
}

// validationError converts validator output into a ConfigurationError for
// the first failing field.
func validationError(prefix string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		cause := fmt.Errorf("failed %q constraint (value %v)", fe.Tag(), fe.Value())
		if translator != nil {
			cause = errors.New(fe.Translate(translator))
		}
		return &ConfigurationError{Field: prefix + "." + fe.Field(), Cause: cause}
	}
	return &ConfigurationError{Field: prefix, Cause: err}
}

// WithCredentials sets the user name and password.
func WithCredentials(username, password string) Option {
	return func(o *ConnectionOptions) {
		o.Username = username
		o.Password = []byte(password)
	}
}

// WithKeepAlive sets the keep alive interval in seconds.
func WithKeepAlive(seconds uint16) Option {
	return func(o *ConnectionOptions) { o.KeepAlive = seconds }
}

// WithConnectTimeout bounds the transport dial plus the CONNECT/CONNACK
// exchange.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *ConnectionOptions) { o.ConnectTimeout = d }
}

// WithWriteTimeout bounds each packet write. Zero disables write deadlines.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *ConnectionOptions) { o.WriteTimeout = d }
}

// WithSessionExpiryInterval sets the session expiry in seconds.
func WithSessionExpiryInterval(seconds uint32) Option {
	return func(o *ConnectionOptions) { o.SessionExpiryInterval = seconds }
}

// WithCleanStart sets the clean start flag.
func WithCleanStart(clean bool) Option {
	return func(o *ConnectionOptions) { o.CleanStart = clean }
}

// WithMaxPacketSize sets the Maximum Packet Size.
func WithMaxPacketSize(size uint32) Option {
	return func(o *ConnectionOptions) { o.MaxPacketSize = size }
}

// WithReceiveMaximum sets how many unacknowledged QoS>0 publishes the
// server may send us.
func WithReceiveMaximum(n uint16) Option {
	return func(o *ConnectionOptions) { o.ReceiveMaximum = n }
}

// WithAutomaticReconnect toggles reconnecting after a failed or lost
// connection.
func WithAutomaticReconnect(enabled bool) Option {
	return func(o *ConnectionOptions) { o.AutomaticReconnect = enabled }
}

// WithReconnectDelay sets the backoff bounds.
func WithReconnectDelay(minDelay, maxDelay time.Duration) Option {
	return func(o *ConnectionOptions) {
		o.ReconnectMinDelay = minDelay
		o.ReconnectMaxDelay = maxDelay
	}
}

// WithReconnectPolicy selects backoff or immediate reconnects.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(o *ConnectionOptions) { o.ReconnectPolicy = p }
}

// WithReconnectRate caps reconnect attempts per second.
func WithReconnectRate(perSecond float64) Option {
	return func(o *ConnectionOptions) { o.ReconnectRate = perSecond }
}

// WithMaxReconnects bounds consecutive failed reconnect attempts.
func WithMaxReconnects(n int) Option {
	return func(o *ConnectionOptions) { o.MaxReconnects = n }
}

// WithWill sets the will message and its delay interval in seconds.
func WithWill(msg *Message, delay uint32) Option {
	return func(o *ConnectionOptions) {
		o.Will = msg.Clone()
		o.WillDelay = delay
	}
}

// WithUserProperty adds a user property to CONNECT.
func WithUserProperty(key, value string) Option {
	return func(o *ConnectionOptions) {
		o.UserProperties = append(o.UserProperties, StringPair{Key: key, Value: value})
	}
}

// WithTLS sets the TLS configuration used for ssl, tls, mqtts and wss URIs.
func WithTLS(cfg *tls.Config) Option {
	return func(o *ConnectionOptions) { o.TLSConfig = cfg }
}

// WithProxy routes connections through the proxy at rawURL.
func WithProxy(rawURL string) Option {
	return func(o *ConnectionOptions) { o.ProxyURL = rawURL }
}

// WithEnhancedAuthentication enables the AUTH exchange with a.
func WithEnhancedAuthentication(a ClientEnhancedAuthenticator) Option {
	return func(o *ConnectionOptions) { o.EnhancedAuth = a }
}

// WithDialer overrides the transport picked from the server URI.
func WithDialer(d Dialer) Option {
	return func(o *ConnectionOptions) { o.Dialer = d }
}

// connectPacket builds the CONNECT packet for clientID.
func (o *ConnectionOptions) connectPacket(clientID string) *ConnectPacket {
	pkt := &ConnectPacket{
		ClientID:   clientID,
		CleanStart: o.CleanStart,
		KeepAlive:  o.KeepAlive,
		Username:   o.Username,
		Password:   o.Password,
		Will:       o.Will,
		WillDelay:  o.WillDelay,
	}
	if o.SessionExpiryInterval > 0 {
		pkt.Props.Set(PropSessionExpiryInterval, o.SessionExpiryInterval)
	}
	if o.ReceiveMaximum > 0 && o.ReceiveMaximum < 65535 {
		pkt.Props.Set(PropReceiveMaximum, o.ReceiveMaximum)
	}
	if o.MaxPacketSize > 0 {
		pkt.Props.Set(PropMaximumPacketSize, o.MaxPacketSize)
	}
	for _, up := range o.UserProperties {
		pkt.Props.Add(PropUserProperty, up)
	}
	return pkt
}
