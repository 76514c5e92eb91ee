package minredis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/raniellyferreira/minredis/replication"
	"github.com/raniellyferreira/minredis/server"
	"github.com/raniellyferreira/minredis/storage"
)

// Status reports a node's replication state
type Status struct {
	Role        replication.Role
	ReplID      string
	Offset      int64
	PrimaryAddr string

	// Replica only
	Synced         bool
	PrimaryReplID  string
	KeysLoaded     int64
	HandshakeError error
}

// Node is a single server process: a store, a command server and, when a
// primary is configured, a replica bootstrap run once at start
type Node struct {
	config *config

	// Components
	storage *storage.MemoryStorage
	state   *replication.State
	handler *server.Handler
	server  *server.Server
	repl    *replication.Client

	// State
	mu           sync.RWMutex
	started      bool
	closed       bool
	handshakeErr error
}

// New creates a node with the given options. It is created but not started.
//
// Example:
//
//	node, err := minredis.New(
//		minredis.WithPort(6380),
//		minredis.WithReplicaOf("localhost 6379"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
func New(opts ...Option) (*Node, error) {
	cfg := defaultConfig()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	var storeOpts []storage.MemoryOption
	if cfg.shardCount > 0 {
		storeOpts = append(storeOpts, storage.WithShardCount(cfg.shardCount))
	}
	if cfg.metrics != nil {
		storeOpts = append(storeOpts, storage.WithObserver(&keyObserver{metrics: cfg.metrics}))
	}
	stor := storage.NewMemory(storeOpts...)

	state, err := replication.NewState(cfg.primary)
	if err != nil {
		return nil, err
	}

	logger := &loggerAdapter{logger: cfg.logger}

	handler := server.NewHandler(stor, state)
	handler.SetLogger(logger)

	srv := server.NewServer(cfg.listenAddr(), handler)
	srv.SetLogger(logger)
	srv.SetReadTimeout(cfg.readTimeout)

	if cfg.metrics != nil {
		metrics := &metricsAdapter{metrics: cfg.metrics}
		handler.SetMetrics(metrics)
		srv.SetMetrics(metrics)
	}

	node := &Node{
		config:  cfg,
		storage: stor,
		state:   state,
		handler: handler,
		server:  srv,
	}

	if cfg.primary != nil {
		node.repl = replication.NewClient(cfg.primary.Addr(), stor)
		node.repl.SetLogger(logger)
		node.repl.SetConnectTimeout(cfg.connectTimeout)
		if cfg.metrics != nil {
			node.repl.SetMetrics(&metricsAdapter{metrics: cfg.metrics})
		}
	}

	return node, nil
}

// Start binds the listener and, on a replica, runs the handshake with the
// primary before accepting clients, so no client sees a partly loaded
// keyspace. A failed handshake is logged and recorded in Status; the node
// still serves. Only a listen failure is returned.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.started {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	n.started = true
	n.mu.Unlock()

	if err := n.server.Listen(); err != nil {
		return err
	}

	if n.repl != nil {
		n.bootstrap(ctx)
	}

	n.server.Serve()

	n.config.logger.Info("Node started",
		Field{Key: "addr", Value: n.server.Addr()},
		Field{Key: "role", Value: n.state.Role.String()},
		Field{Key: "replid", Value: n.state.ReplID})

	return nil
}

// bootstrap loads the primary's snapshot. The announced port is the bound
// one, which is known once Listen returns.
func (n *Node) bootstrap(ctx context.Context) {
	syncCtx, cancel := context.WithTimeout(ctx, n.config.handshakeTimeout)
	defer cancel()

	if _, err := n.repl.Sync(syncCtx, n.Port()); err != nil {
		connErr := &ConnectionError{Addr: n.config.primary.Addr(), Err: err}
		n.config.logger.Error("Replication bootstrap failed, serving without primary data",
			Field{Key: "error", Value: connErr})

		n.mu.Lock()
		n.handshakeErr = connErr
		n.mu.Unlock()
	}
}

// Addr returns the address the node is listening on
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Port returns the port the node is listening on. Before Start it is the
// configured port.
func (n *Node) Port() uint16 {
	_, port, err := net.SplitHostPort(n.server.Addr())
	if err != nil {
		return n.config.listenPort
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return n.config.listenPort
	}
	return uint16(p)
}

// Info returns the INFO replication block
func (n *Node) Info() string {
	return n.state.InfoSection()
}

// Keys returns the number of keys held, expired ones included until read
func (n *Node) Keys() int {
	return n.storage.Len()
}

// Status returns the node's replication status
func (n *Node) Status() Status {
	status := Status{
		Role:   n.state.Role,
		ReplID: n.state.ReplID,
		Offset: n.state.Offset,
	}

	if n.repl == nil {
		return status
	}

	stats := n.repl.Stats()
	status.PrimaryAddr = stats.PrimaryAddr
	status.Synced = stats.Connected
	status.PrimaryReplID = stats.ReplID
	status.KeysLoaded = stats.KeysLoaded

	n.mu.RLock()
	status.HandshakeError = n.handshakeErr
	n.mu.RUnlock()

	return status
}

// Close stops the server and drops the primary connection
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	n.mu.Unlock()

	var errs []error
	if n.repl != nil {
		if err := n.repl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close primary connection: %w", err))
		}
	}
	if started {
		if err := n.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop server: %w", err))
		}
	}

	return errors.Join(errs...)
}
