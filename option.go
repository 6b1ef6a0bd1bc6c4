package refetch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	// defaultChunkSize is the size of a single receive call.
	defaultChunkSize = 128
	// defaultMaxMessageSize is the default maximum size of a whole response (1MB).
	defaultMaxMessageSize = 1024 * 1024
	defaultConnectTimeout = 10 * time.Second
	defaultIOTimeout      = 30 * time.Second
)

// options holds the configuration for connections and the fetch loop.
type options struct {
	logger Logger
	dialer Dialer

	// onError is called for every failed cycle. It only reports;
	// the loop always continues.
	onError func(error)

	chunkSize      int           // bytes requested per receive
	maxMessageSize int           // maximum size of header block plus body
	connectTimeout time.Duration // dial timeout
	ioTimeout      time.Duration // deadline for each send and receive
	retryInterval  time.Duration // pause after a failed cycle
	maxCycles      int           // stop after this many cycles, 0 = forever
	limiter        *rate.Limiter // cycle pacing

	registerer prometheus.Registerer
}

// Option is a function that configures fetcher and connection options.
type Option func(*options)

func newOptions(opt []Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.chunkSize <= 0 {
		opts.chunkSize = defaultChunkSize
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.connectTimeout <= 0 {
		opts.connectTimeout = defaultConnectTimeout
	}

	if opts.ioTimeout <= 0 {
		opts.ioTimeout = defaultIOTimeout
	}

	if opts.retryInterval < 0 {
		opts.retryInterval = 0
	}

	if opts.maxCycles < 0 {
		opts.maxCycles = 0
	}

	if opts.limiter == nil {
		opts.limiter = rate.NewLimiter(rate.Inf, 1)
	}

	if opts.dialer == nil {
		opts.dialer = dialTransport
	}

	if opts.onError == nil {
		opts.onError = func(error) {}
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// DialerOption replaces the function used to open a transport each cycle.
func DialerOption(dialer Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked once per failed cycle, from the fetcher goroutine.
func OnErrorOption(cb func(error)) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// ChunkSizeOption sets how many bytes a single receive asks for.
func ChunkSizeOption(size int) Option {
	return func(o *options) {
		o.chunkSize = size
	}
}

// MessageMaxSize returns an Option that sets the maximum response size.
// Larger responses fail the cycle with ErrMessageTooLarge.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// ConnectTimeoutOption sets the dial timeout.
func ConnectTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = timeout
	}
}

// IOTimeoutOption sets the deadline applied to each send and receive.
func IOTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.ioTimeout = timeout
	}
}

// RetryIntervalOption sets the pause after a failed cycle.
// Zero retries immediately.
func RetryIntervalOption(interval time.Duration) Option {
	return func(o *options) {
		o.retryInterval = interval
	}
}

// MaxCyclesOption stops Run after n cycles. Zero runs until cancelled.
func MaxCyclesOption(n int) Option {
	return func(o *options) {
		o.maxCycles = n
	}
}

// CycleRateOption limits how many cycles start per second.
// A non-positive value leaves the loop unpaced.
func CycleRateOption(perSecond float64) Option {
	return func(o *options) {
		if perSecond <= 0 {
			o.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// RegistererOption sets where the fetcher registers its metrics.
// If not set, metrics are kept in a private registry.
func RegistererOption(registerer prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = registerer
	}
}
