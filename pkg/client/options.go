package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/cachemir/muxcache/pkg/config"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	metrics        *Metrics
	ids            IDGenerator
	dialTimeout    time.Duration
	requestTimeout time.Duration
	writeTimeout   time.Duration
	queueSize      int
	readBufferSize int
	maxFrameSize   int
}

func buildOptions(opts []Option) options {
	o := options{
		logger:         zap.NewNop(),
		ids:            UUIDGenerator{},
		dialTimeout:    config.DefaultDialTimeout,
		requestTimeout: config.DefaultRequestTimeout,
		writeTimeout:   config.DefaultWriteTimeout,
		queueSize:      config.DefaultQueueSize,
		readBufferSize: config.DefaultReadBufferSize,
		maxFrameSize:   config.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithIDGenerator replaces the default UUID id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithDialTimeout bounds connection establishment in Dial.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithRequestTimeout sets the timeout used when a request is sent with a zero
// timeout. Zero means such requests are bounded only by their context.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithWriteTimeout bounds each frame write. A write that exceeds it fails the
// connection.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) { o.writeTimeout = d }
}

// WithQueueSize sets the capacity of the outbound queue. Senders block while
// it is full.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithReadBufferSize sets the size of each read from the connection.
func WithReadBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readBufferSize = n
		}
	}
}

// WithMaxFrameSize caps the size of a single inbound frame. A larger frame
// is unrecoverable and shuts the client down.
func WithMaxFrameSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFrameSize = n
		}
	}
}
