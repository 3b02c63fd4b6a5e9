package astm

import (
	"time"

	"github.com/sysmex-bridge/astmhl7/logger"
)

// Mode selects whether a Connection dials out (client) or accepts an
// incoming socket (server).
type Mode int

const (
	// ModeActive dials the analyzer and reconnects with backoff on failure.
	ModeActive Mode = iota
	// ModePassive listens for the analyzer to connect, accepting one
	// connection at a time.
	ModePassive
)

// Default timing constants, grounded on the link-establishment and
// transfer-with-retry timing the bridge is required to use against the
// analyzer: a 15s wait for ENQ, a 10s wait for ACK/NAK, six attempts per
// frame, and a 5s-doubling-to-60s reconnect backoff.
const (
	DefaultEnqWaitTimeout  = 15 * time.Second
	DefaultAckWaitTimeout  = 10 * time.Second
	DefaultRetryLimit      = 6
	DefaultPollInterval    = 200 * time.Millisecond
	DefaultConnectTimeout  = 10 * time.Second
	DefaultCloseTimeout    = 5 * time.Second
	DefaultInitialBackoff  = 5 * time.Second
	DefaultBackoffFactor   = 2
	DefaultMaxBackoff      = 60 * time.Second
	DefaultSenderQueueSize = 8
)

// ConnectionConfig configures a Connection's transport timing and TCP role.
type ConnectionConfig struct {
	Mode Mode
	Host string
	Port int

	EnqWaitTimeout time.Duration
	AckWaitTimeout time.Duration
	RetryLimit     int
	PollInterval   time.Duration

	ConnectTimeout time.Duration
	CloseTimeout   time.Duration

	InitialBackoff time.Duration
	BackoffFactor  float64
	MaxBackoff     time.Duration

	SenderQueueSize int

	Logger logger.Logger
}

// ConnOption configures a ConnectionConfig at construction time.
type ConnOption interface {
	apply(*ConnectionConfig)
}

type connOptFunc func(*ConnectionConfig)

func (f connOptFunc) apply(cfg *ConnectionConfig) { f(cfg) }

// NewConnectionConfig builds a ConnectionConfig for host:port with sane
// defaults, applying any options on top.
func NewConnectionConfig(host string, port int, opts ...ConnOption) *ConnectionConfig {
	cfg := &ConnectionConfig{
		Mode:            ModeActive,
		Host:            host,
		Port:            port,
		EnqWaitTimeout:  DefaultEnqWaitTimeout,
		AckWaitTimeout:  DefaultAckWaitTimeout,
		RetryLimit:      DefaultRetryLimit,
		PollInterval:    DefaultPollInterval,
		ConnectTimeout:  DefaultConnectTimeout,
		CloseTimeout:    DefaultCloseTimeout,
		InitialBackoff:  DefaultInitialBackoff,
		BackoffFactor:   DefaultBackoffFactor,
		MaxBackoff:      DefaultMaxBackoff,
		SenderQueueSize: DefaultSenderQueueSize,
		Logger:          logger.GetLogger(),
	}

	for _, opt := range opts {
		opt.apply(cfg)
	}

	return cfg
}

// WithActive makes the connection dial out to Host:Port.
func WithActive() ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) { cfg.Mode = ModeActive })
}

// WithPassive makes the connection listen on Port for the analyzer to dial in.
func WithPassive() ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) { cfg.Mode = ModePassive })
}

// WithEnqWaitTimeout overrides the idle window (spec's 15s ENQ-wait
// deadline) after which going without an ENQ is counted and logged as
// notable idle time, rather than ordinary PollInterval-sized polling.
func WithEnqWaitTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) { cfg.EnqWaitTimeout = d })
}

// WithAckWaitTimeout overrides how long the sender waits for ACK/NAK after
// ENQ or a frame.
func WithAckWaitTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) { cfg.AckWaitTimeout = d })
}

// WithPollInterval overrides the granularity at which the receiver polls
// for ENQ while idle, between checks of the outgoing send queue.
func WithPollInterval(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) { cfg.PollInterval = d })
}

// WithRetryLimit overrides the number of send attempts per frame before
// aborting the message.
func WithRetryLimit(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) { cfg.RetryLimit = n })
}

// WithConnectTimeout overrides the dial timeout used in active mode.
func WithConnectTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) { cfg.ConnectTimeout = d })
}

// WithBackoff overrides the reconnect backoff schedule used in active mode.
func WithBackoff(initial time.Duration, factor float64, max time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) {
		cfg.InitialBackoff = initial
		cfg.BackoffFactor = factor
		cfg.MaxBackoff = max
	})
}

// WithLogger overrides the logger used by the connection and its link engine.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) { cfg.Logger = l })
}
