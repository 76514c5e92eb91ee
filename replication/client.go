package replication

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/raniellyferreira/minredis/storage"
)

// Logger interface for replication logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for replication metrics
type MetricsCollector interface {
	RecordSyncDuration(duration time.Duration)
	RecordNetworkBytes(bytes int64)
	RecordError(errorType string)
}

// Stats is a snapshot of the client's replication progress
type Stats struct {
	Connected     bool
	PrimaryAddr   string
	ReplID        string
	Offset        int64
	SnapshotBytes int64
	KeysLoaded    int64
	KeysSkipped   int64
	LastSyncTime  time.Time
}

// Client is the replica side of the bootstrap. It owns the connection to the
// primary from dial until Close.
type Client struct {
	primaryAddr string
	storage     storage.Storage

	logger         Logger
	metrics        MetricsCollector
	connectTimeout time.Duration

	mu    sync.Mutex
	conn  net.Conn
	stats Stats
}

// NewClient creates a new replication client
func NewClient(primaryAddr string, stor storage.Storage) *Client {
	return &Client{
		primaryAddr:    primaryAddr,
		storage:        stor,
		logger:         nopLogger{},
		connectTimeout: 5 * time.Second,
		stats:          Stats{PrimaryAddr: primaryAddr},
	}
}

// SetLogger sets the logger
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (c *Client) SetMetrics(metrics MetricsCollector) {
	c.metrics = metrics
}

// SetConnectTimeout sets the dial timeout
func (c *Client) SetConnectTimeout(timeout time.Duration) {
	c.connectTimeout = timeout
}

// Sync dials the primary, runs the handshake and loads the snapshot into storage.
// It runs once; a failure is returned as *HandshakeError and is not retried.
func (c *Client) Sync(ctx context.Context, listenPort uint16) (*Session, error) {
	start := time.Now()
	c.logger.Info("Starting replication handshake", "primary", c.primaryAddr, "listening_port", listenPort)

	dialer := &net.Dialer{Timeout: c.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.primaryAddr)
	if err != nil {
		return nil, c.fail(&HandshakeError{Step: StepConnect, Err: err})
	}

	session, err := Handshake(ctx, conn, listenPort)
	if err != nil {
		conn.Close()
		return nil, c.fail(err)
	}

	c.logger.Debug("Received snapshot", "repl_id", session.ReplID, "offset", session.Offset, "bytes", len(session.Snapshot))

	loader := &storageLoader{storage: c.storage, logger: c.logger, now: time.Now}
	parser := NewRDBParser(bytes.NewReader(session.Snapshot), loader)
	if err := parser.Parse(); err != nil {
		conn.Close()
		return nil, c.fail(&HandshakeError{Step: StepLoad, Err: err})
	}

	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.RecordSyncDuration(duration)
		c.metrics.RecordNetworkBytes(int64(len(session.Snapshot)))
	}

	c.mu.Lock()
	c.conn = conn
	c.stats.Connected = true
	c.stats.ReplID = session.ReplID
	c.stats.Offset = session.Offset
	c.stats.SnapshotBytes = int64(len(session.Snapshot))
	c.stats.KeysLoaded = loader.loaded
	c.stats.KeysSkipped = int64(parser.Skipped()) + loader.expired
	c.stats.LastSyncTime = time.Now()
	c.mu.Unlock()

	c.logger.Info("Replication handshake completed",
		"repl_id", session.ReplID,
		"rdb_version", parser.Version(),
		"keys", loader.loaded,
		"duration", duration)

	return session, nil
}

// fail logs and records a handshake failure
func (c *Client) fail(err error) error {
	c.logger.Error("Replication handshake failed", "primary", c.primaryAddr, "error", err)
	if c.metrics != nil {
		c.metrics.RecordError("handshake")
	}
	return err
}

// Stats returns the current replication statistics
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close closes the connection to the primary
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.stats.Connected = false
	return err
}

// storageLoader feeds string keys from a snapshot into storage.
// Absolute expiries are turned back into a TTL relative to now; keys that
// are already expired are dropped.
type storageLoader struct {
	storage storage.Storage
	logger  Logger
	now     func() time.Time

	loaded  int64
	expired int64
}

func (l *storageLoader) OnDatabase(index int) error {
	if index != 0 {
		l.logger.Debug("Loading keys from non-default database into the single keyspace", "db", index)
	}
	return nil
}

func (l *storageLoader) OnKey(key, value []byte, expiry *time.Time) error {
	var ttl *uint64
	if expiry != nil {
		remaining := expiry.Sub(l.now()).Milliseconds()
		if remaining <= 0 {
			l.expired++
			return nil
		}
		ms := uint64(remaining)
		ttl = &ms
	}

	if err := l.storage.Set(string(key), string(value), ttl); err != nil {
		return fmt.Errorf("load key %s: %w", key, err)
	}
	l.loaded++
	return nil
}

func (l *storageLoader) OnAux(key, value []byte) error {
	l.logger.Debug("RDB aux field", "key", string(key), "value", string(value))
	return nil
}

func (l *storageLoader) OnEnd() error {
	return nil
}

// nopLogger discards everything
type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{}) {}
func (nopLogger) Info(msg string, fields ...interface{})  {}
func (nopLogger) Error(msg string, fields ...interface{}) {}
