package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/raniellyferreira/minredis/command"
	"github.com/raniellyferreira/minredis/protocol"
)

// Server accepts client connections and serves commands through a Handler
type Server struct {
	handler *Handler

	// Server configuration
	addr        string
	readTimeout time.Duration

	logger  Logger
	metrics MetricsCollector

	// Connection management
	listener net.Listener
	clients  *xsync.MapOf[net.Conn, *Client]

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	connCount    atomic.Int64
	commandCount atomic.Int64
	errorCount   atomic.Int64
}

// Stats is a snapshot of server counters
type Stats struct {
	ConnectedClients int
	TotalConnections int64
	TotalCommands    int64
	TotalErrors      int64
}

// Client represents a connected client
type Client struct {
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
	server *Server

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewServer creates a server that will listen on addr
func NewServer(addr string, handler *Handler) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		handler: handler,
		addr:    addr,
		logger:  nopLogger{},
		clients: xsync.NewMapOf[net.Conn, *Client](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetLogger sets the logger
func (s *Server) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (s *Server) SetMetrics(metrics MetricsCollector) {
	s.metrics = metrics
}

// SetReadTimeout closes connections idle for longer than timeout. Zero disables it.
func (s *Server) SetReadTimeout(timeout time.Duration) {
	s.readTimeout = timeout
}

// Start binds the listener and starts accepting connections
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.Serve()
	return nil
}

// Listen binds the listener without accepting connections. Peers that
// connect before Serve wait in the accept backlog.
func (s *Server) Listen() error {
	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("Server listening", "addr", s.listener.Addr().String())
	return nil
}

// Serve starts the accept loop on a bound listener
func (s *Server) Serve() {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	go s.acceptConnections()
}

// Stop closes the listener and all client connections and waits for them to finish
func (s *Server) Stop() error {
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.clients.Range(func(_ net.Conn, client *Client) bool {
		client.Close()
		return true
	})

	s.wg.Wait()
	return err
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats returns server statistics
func (s *Server) Stats() Stats {
	return Stats{
		ConnectedClients: s.clients.Size(),
		TotalConnections: s.connCount.Load(),
		TotalCommands:    s.commandCount.Load(),
		TotalErrors:      s.errorCount.Load(),
	}
}

// acceptConnections accepts new client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return // Server is shutting down
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Accept failed", "error", err)
			continue
		}

		s.handleNewClient(conn)
	}
}

// handleNewClient registers a connection and starts its goroutine
func (s *Server) handleNewClient(conn net.Conn) {
	s.connCount.Add(1)
	if s.metrics != nil {
		s.metrics.RecordConnection()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	client := &Client{
		conn:   conn,
		reader: protocol.NewReader(conn),
		writer: protocol.NewWriter(conn),
		server: s,
		ctx:    ctx,
		cancel: cancel,
	}

	s.clients.Store(conn, client)

	// Stop may have already swept the registry
	if s.ctx.Err() != nil {
		client.Close()
		return
	}

	s.logger.Debug("Client connected", "remote", conn.RemoteAddr().String())

	s.wg.Add(1)
	go client.handle()
}

// Close closes the client connection
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		c.conn.Close()
		c.server.clients.Delete(c.conn)
	})
}

// handle reads requests until the peer disconnects or sends a malformed frame.
// A frame that is well formed but not a valid command gets an error reply and
// the connection stays open.
func (c *Client) handle() {
	defer c.server.wg.Done()
	defer c.Close()

	for {
		if c.server.readTimeout > 0 {
			c.conn.SetReadDeadline(time.Now().Add(c.server.readTimeout))
		}

		value, err := c.reader.ReadNext()
		if err != nil {
			c.readFailed(err)
			return
		}

		c.server.commandCount.Add(1)

		cmd, err := command.FromRequest(value)
		if err != nil {
			c.server.errorCount.Add(1)
			if c.server.metrics != nil {
				c.server.metrics.RecordError("parse")
			}
			if err := c.write(errorReply("ERR %v", err)); err != nil {
				return
			}
			continue
		}

		resp := c.server.handler.Handle(c.ctx, cmd)
		if _, failed := resp.(command.Error); failed {
			c.server.errorCount.Add(1)
		}

		if err := c.write(resp); err != nil {
			c.server.logger.Debug("Write failed", "remote", c.conn.RemoteAddr().String(), "error", err)
			return
		}
	}
}

// readFailed decides what, if anything, the peer is told before the connection closes
func (c *Client) readFailed(err error) {
	if errors.Is(err, io.EOF) || c.ctx.Err() != nil {
		return
	}

	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		c.server.errorCount.Add(1)
		if c.server.metrics != nil {
			c.server.metrics.RecordError("protocol")
		}
		c.server.logger.Debug("Closing connection after protocol error", "remote", c.conn.RemoteAddr().String(), "error", err)
		c.write(errorReply("ERR Protocol error: %s", perr.Message))
		return
	}

	c.server.logger.Debug("Client read failed", "remote", c.conn.RemoteAddr().String(), "error", err)
}

// write encodes one reply and flushes it
func (c *Client) write(resp command.Response) error {
	if err := resp.Encode(c.writer); err != nil {
		return err
	}
	return c.writer.Flush()
}
