// ABOUTME: Client configuration and defaults
// ABOUTME: Resolves reconnect and retry settings once at construction
package wsr2

import (
	"time"

	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultAutoReconnectInterval      = 1 * time.Second
	DefaultAutoReconnectMaxRetries    = 600 // ten minutes at the default interval
	DefaultRequestTimeout             = 30 * time.Second
	DefaultRequestRetryInterval       = 5 * time.Second
	DefaultRequestRetryQueueMaxLength = 1000
)

// Config configures a Client. The zero value is usable: zero-valued
// durations and limits are replaced by their defaults and reconnection is on.
type Config struct {
	// DisableAutoReconnect stops the client from re-establishing the
	// connection after the server closes it
	DisableAutoReconnect bool

	// AutoReconnectInterval is the delay between reconnect attempts
	AutoReconnectInterval time.Duration

	// AutoReconnectMaxRetries is the number of attempts made before giving up.
	// Zero means DefaultAutoReconnectMaxRetries. A negative value makes no
	// attempts: the client gives up at the first reconnect tick while
	// DisableAutoReconnect stays false.
	AutoReconnectMaxRetries int

	// RequestTimeout is the age after which an unanswered request is resent.
	// A negative value disables resending.
	RequestTimeout time.Duration

	// RequestRetryInterval is how often the retry queue is scanned.
	// It is never shorter than RequestTimeout.
	RequestRetryInterval time.Duration

	// RequestRetryQueueMaxLength bounds the retry queue; the oldest entry is evicted on overflow
	RequestRetryQueueMaxLength int

	// Transport opens connections. Defaults to a WebSocketTransport.
	Transport Transport

	// LoggerFactory creates the client logger.
	// If nil, pion's default factory is used.
	LoggerFactory logging.LoggerFactory

	// Registerer receives the client metrics. If nil, metrics are kept but not registered.
	Registerer prometheus.Registerer
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		AutoReconnectInterval:      DefaultAutoReconnectInterval,
		AutoReconnectMaxRetries:    DefaultAutoReconnectMaxRetries,
		RequestTimeout:             DefaultRequestTimeout,
		RequestRetryInterval:       DefaultRequestRetryInterval,
		RequestRetryQueueMaxLength: DefaultRequestRetryQueueMaxLength,
	}
}

// withDefaults fills unset fields and applies the retry interval floor
func (c Config) withDefaults() Config {
	if c.AutoReconnectInterval <= 0 {
		c.AutoReconnectInterval = DefaultAutoReconnectInterval
	}
	if c.AutoReconnectMaxRetries == 0 {
		c.AutoReconnectMaxRetries = DefaultAutoReconnectMaxRetries
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RequestRetryInterval <= 0 {
		c.RequestRetryInterval = DefaultRequestRetryInterval
	}
	if c.RequestRetryInterval < c.RequestTimeout {
		c.RequestRetryInterval = c.RequestTimeout
	}
	if c.RequestRetryQueueMaxLength <= 0 {
		c.RequestRetryQueueMaxLength = DefaultRequestRetryQueueMaxLength
	}
	if c.Transport == nil {
		c.Transport = NewWebSocketTransport(nil)
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return c
}

// retryEnabled reports whether the retry queue is scanned at all
func (c Config) retryEnabled() bool {
	return c.RequestTimeout > 0
}
