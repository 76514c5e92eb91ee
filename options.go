package minredis

import (
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/minredis/replication"
)

// DefaultPort is the port a node listens on when none is given
const DefaultPort = 6379

// config holds the configuration for a Node. It is immutable once New returns.
type config struct {
	// Server settings
	listenPort  uint16
	bindHost    string
	readTimeout time.Duration
	shardCount  int

	// Replication settings
	primary          *replication.Primary
	connectTimeout   time.Duration
	handshakeTimeout time.Duration

	// Observability
	logger  Logger
	metrics MetricsCollector
}

// defaultConfig returns a configuration with sensible defaults
func defaultConfig() *config {
	return &config{
		listenPort:       DefaultPort,
		bindHost:         "0.0.0.0",
		connectTimeout:   5 * time.Second,
		handshakeTimeout: 30 * time.Second,
		logger:           NewSlogLogger(slog.Default()),
	}
}

// listenAddr returns the address the server binds
func (c *config) listenAddr() string {
	return net.JoinHostPort(c.bindHost, strconv.Itoa(int(c.listenPort)))
}

// Option represents a configuration option for a Node
type Option func(*config) error

// WithPort sets the port the node listens on. Port 0 picks a free port.
//
// Example:
//
//	WithPort(6380)
func WithPort(port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return &ConfigError{Option: "port", Value: port, Reason: "must be between 0 and 65535"}
		}
		c.listenPort = uint16(port)
		return nil
	}
}

// WithBindHost sets the interface the node listens on
func WithBindHost(host string) Option {
	return func(c *config) error {
		if host == "" {
			return &ConfigError{Option: "bind host", Value: host, Reason: "must not be empty"}
		}
		c.bindHost = host
		return nil
	}
}

// WithReplicaOf makes the node a replica of the given primary. The address
// is "host port" as in redis.conf, or "host:port".
//
// Example:
//
//	WithReplicaOf("localhost 6379")
func WithReplicaOf(addr string) Option {
	return func(c *config) error {
		primary, err := ParseReplicaOf(addr)
		if err != nil {
			return err
		}
		c.primary = primary
		return nil
	}
}

// WithReadTimeout closes client connections idle for longer than timeout.
// Zero, the default, keeps idle connections open.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout < 0 {
			return &ConfigError{Option: "read timeout", Value: timeout, Reason: "must not be negative"}
		}
		c.readTimeout = timeout
		return nil
	}
}

// WithConnectTimeout sets the dial timeout for the primary connection
func WithConnectTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return &ConfigError{Option: "connect timeout", Value: timeout, Reason: "must be positive"}
		}
		c.connectTimeout = timeout
		return nil
	}
}

// WithHandshakeTimeout bounds the whole replica bootstrap, snapshot included
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(c *config) error {
		if timeout <= 0 {
			return &ConfigError{Option: "handshake timeout", Value: timeout, Reason: "must be positive"}
		}
		c.handshakeTimeout = timeout
		return nil
	}
}

// WithShardCount sets the number of storage shards, rounded up to a power of two
func WithShardCount(count int) Option {
	return func(c *config) error {
		if count <= 0 {
			return &ConfigError{Option: "shard count", Value: count, Reason: "must be positive"}
		}
		c.shardCount = count
		return nil
	}
}

// WithLogger sets a custom logger
func WithLogger(logger Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return &ConfigError{Option: "logger", Value: logger, Reason: "must not be nil"}
		}
		c.logger = logger
		return nil
	}
}

// WithMetrics enables metrics collection
func WithMetrics(metrics MetricsCollector) Option {
	return func(c *config) error {
		c.metrics = metrics
		return nil
	}
}

// ParseReplicaOf parses a primary address given as "host port" or "host:port"
func ParseReplicaOf(addr string) (*replication.Primary, error) {
	addr = strings.TrimSpace(addr)

	var host, port string
	if fields := strings.Fields(addr); len(fields) == 2 {
		host, port = fields[0], fields[1]
	} else {
		var err error
		host, port, err = net.SplitHostPort(addr)
		if err != nil {
			return nil, &ConfigError{Option: "replicaof", Value: addr, Reason: `expected "host port"`}
		}
	}

	if host == "" {
		return nil, &ConfigError{Option: "replicaof", Value: addr, Reason: "missing host"}
	}
	n, err := strconv.ParseUint(port, 10, 16)
	if err != nil || n == 0 {
		return nil, &ConfigError{Option: "replicaof", Value: addr, Reason: "invalid port"}
	}

	return &replication.Primary{Host: host, Port: int(n)}, nil
}
