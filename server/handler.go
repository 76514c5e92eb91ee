package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raniellyferreira/minredis/command"
	"github.com/raniellyferreira/minredis/lua"
	"github.com/raniellyferreira/minredis/replication"
	"github.com/raniellyferreira/minredis/storage"
)

// ErrNotAllowedFromScript is returned when a script issues a command that
// only makes sense on a client connection
var ErrNotAllowedFromScript = errors.New("This Redis command is not allowed from script")

// Logger interface for server logging
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// MetricsCollector interface for server metrics
type MetricsCollector interface {
	RecordCommandProcessed(cmd string, duration time.Duration)
	RecordConnection()
	RecordError(errorType string)
}

// Handler executes commands against the store and the replication state.
// It holds no per-connection state and is safe for concurrent use.
type Handler struct {
	storage storage.Storage
	state   *replication.State
	lua     *lua.Engine

	logger  Logger
	metrics MetricsCollector
}

// NewHandler creates a command handler
func NewHandler(stor storage.Storage, state *replication.State) *Handler {
	h := &Handler{
		storage: stor,
		state:   state,
		logger:  nopLogger{},
	}
	h.lua = lua.NewEngine(h)
	return h
}

// SetLogger sets the logger
func (h *Handler) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// SetMetrics sets the metrics collector
func (h *Handler) SetMetrics(metrics MetricsCollector) {
	h.metrics = metrics
}

// Handle executes one command and returns its reply. Failures are returned
// as command.Error replies; Handle never fails the connection.
func (h *Handler) Handle(ctx context.Context, cmd command.Command) command.Response {
	start := time.Now()
	resp := h.dispatch(ctx, cmd)

	if h.metrics != nil {
		h.metrics.RecordCommandProcessed(cmd.Name(), time.Since(start))
		if _, failed := resp.(command.Error); failed {
			h.metrics.RecordError("command")
		}
	}
	return resp
}

func (h *Handler) dispatch(ctx context.Context, cmd command.Command) command.Response {
	switch c := cmd.(type) {
	case command.Ping:
		return command.Pong{}

	case command.Echo:
		return command.BulkString(c.Message)

	case command.Set:
		return h.handleSet(c)

	case command.Get:
		value, ok := h.storage.Get(c.Key)
		if !ok {
			return command.Null{}
		}
		return command.BulkString(value)

	case command.Info:
		return command.BulkString(h.state.InfoSection())

	case command.ReplConf:
		if c.Kind == command.ListeningPort {
			h.logger.Debug("Replica announced listening port", "port", c.Port)
		} else {
			h.logger.Debug("Replica announced capabilities", "capabilities", c.Capabilities)
		}
		return command.OK{}

	case command.Psync:
		h.logger.Info("Full resync requested", "replica_id", c.ReplicaID, "offset", c.Offset)
		return command.Sequence{
			command.SimpleString(h.state.FullResyncLine()),
			command.RawPayload(replication.EmptySnapshot()),
		}

	case command.Eval:
		return h.handleEval(ctx, c)

	case command.Script:
		return h.handleScript(c)

	default:
		return errorReply("ERR unknown command '%s'", cmd.Name())
	}
}

func (h *Handler) handleSet(c command.Set) command.Response {
	if err := h.storage.Set(c.Key, c.Value, c.TTL); err != nil {
		if errors.Is(err, storage.ErrInvalidExpire) {
			return command.Error("ERR invalid expire time in 'set' command")
		}
		return errorReply("ERR %v", err)
	}
	return command.OK{}
}

func (h *Handler) handleEval(ctx context.Context, c command.Eval) command.Response {
	var (
		resp command.Response
		err  error
	)
	if c.SHA {
		resp, err = h.lua.EvalSHA(ctx, c.Script, c.Keys, c.Argv)
	} else {
		resp, err = h.lua.Eval(ctx, c.Script, c.Keys, c.Argv)
	}

	switch {
	case errors.Is(err, lua.ErrNoScript):
		return command.Error(err.Error())
	case err != nil:
		h.logger.Debug("Script failed", "error", err)
		return errorReply("ERR %v", err)
	}
	return resp
}

func (h *Handler) handleScript(c command.Script) command.Response {
	switch c.Subcommand {
	case "LOAD":
		if len(c.Params) != 1 {
			return command.Error("ERR wrong number of arguments for 'script|load' command")
		}
		return command.BulkString(h.lua.LoadScript(c.Params[0]))

	case "EXISTS":
		if len(c.Params) == 0 {
			return command.Error("ERR wrong number of arguments for 'script|exists' command")
		}
		exists := h.lua.ScriptExists(c.Params)
		out := make(command.Array, len(exists))
		for i, ok := range exists {
			if ok {
				out[i] = command.Integer(1)
			} else {
				out[i] = command.Integer(0)
			}
		}
		return out

	case "FLUSH":
		// ASYNC and SYNC are accepted; the flush is always immediate
		if len(c.Params) > 1 {
			return command.Error("ERR wrong number of arguments for 'script|flush' command")
		}
		h.lua.ScriptFlush()
		return command.OK{}

	default:
		return errorReply("ERR unknown subcommand '%s'. Try SCRIPT HELP.", c.Subcommand)
	}
}

// Call runs a command issued by a script through redis.call
func (h *Handler) Call(ctx context.Context, args []string) (command.Response, error) {
	cmd, err := command.FromArgs(args)
	if err != nil {
		return nil, err
	}

	switch cmd.(type) {
	case command.Eval, command.Script, command.Psync, command.ReplConf:
		return nil, ErrNotAllowedFromScript
	}

	return h.dispatch(ctx, cmd), nil
}

// errorReply formats an error reply, flattening line breaks that would end
// the frame early
func errorReply(format string, args ...interface{}) command.Error {
	msg := fmt.Sprintf(format, args...)
	msg = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(msg)
	return command.Error(msg)
}

// nopLogger discards everything
type nopLogger struct{}

func (nopLogger) Debug(msg string, fields ...interface{}) {}
func (nopLogger) Info(msg string, fields ...interface{})  {}
func (nopLogger) Error(msg string, fields ...interface{}) {}
