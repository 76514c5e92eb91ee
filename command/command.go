package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/raniellyferreira/minredis/protocol"
)

var (
	// ErrNotArray indicates a request whose top level is not an array
	ErrNotArray = errors.New("request is not an array")

	// ErrEmptyCommand indicates an array with no command name
	ErrEmptyCommand = errors.New("empty command")

	// ErrUnsupportedCommand indicates a command name outside the supported set
	ErrUnsupportedCommand = errors.New("unsupported command")

	// ErrWrongArgs indicates a known command with a malformed argument list
	ErrWrongArgs = errors.New("wrong arguments")
)

// ParseError reports a well-formed frame that is not a valid command.
// It is fatal for the single request only.
type ParseError struct {
	Command string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	switch {
	case errors.Is(e.Err, ErrUnsupportedCommand):
		return fmt.Sprintf("unknown command '%s'", e.Command)
	case e.Command != "" && e.Message != "":
		return fmt.Sprintf("%s for '%s' command", e.Message, e.Command)
	case e.Message != "":
		return e.Message
	default:
		return e.Err.Error()
	}
}

// Unwrap returns the wrapped error
func (e *ParseError) Unwrap() error {
	return e.Err
}

func wrongArgs(name, format string, args ...interface{}) error {
	return &ParseError{Command: name, Message: fmt.Sprintf(format, args...), Err: ErrWrongArgs}
}

// Command is one request in the supported command set
type Command interface {
	// Name returns the canonical upper-case command name
	Name() string
	// Args returns the arguments as they go on the wire
	Args() []string
}

// Ping checks liveness
type Ping struct{}

// Echo returns its argument
type Echo struct {
	Message string
}

// Set stores a string value, optionally with a TTL in milliseconds
type Set struct {
	Key   string
	Value string
	TTL   *uint64
}

// Get reads a string value
type Get struct {
	Key string
}

// Info requests server information. Section is accepted but not used for filtering.
type Info struct {
	Section string
}

// ReplConfKind selects the REPLCONF form
type ReplConfKind int

const (
	// ListeningPort is REPLCONF listening-port <port>
	ListeningPort ReplConfKind = iota
	// Capabilities is REPLCONF capa <name> [capa <name>]...
	Capabilities
)

// ReplConf carries replica configuration sent during the handshake
type ReplConf struct {
	Kind         ReplConfKind
	Port         uint16
	Capabilities []string
}

// Psync requests synchronization from a primary.
// ReplicaID "?" with Offset -1 asks for a full resync.
type Psync struct {
	ReplicaID string
	Offset    int64
}

// Eval runs a Lua script. When SHA is set, Script holds a cached script's digest.
type Eval struct {
	Script string
	SHA    bool
	Keys   []string
	Argv   []string
}

// Script manages the Lua script cache (LOAD, EXISTS, FLUSH)
type Script struct {
	Subcommand string
	Params     []string
}

func (Ping) Name() string     { return "PING" }
func (Echo) Name() string     { return "ECHO" }
func (Set) Name() string      { return "SET" }
func (Get) Name() string      { return "GET" }
func (Info) Name() string     { return "INFO" }
func (ReplConf) Name() string { return "REPLCONF" }
func (Psync) Name() string    { return "PSYNC" }
func (Script) Name() string   { return "SCRIPT" }

func (e Eval) Name() string {
	if e.SHA {
		return "EVALSHA"
	}
	return "EVAL"
}

func (Ping) Args() []string { return nil }

func (c Echo) Args() []string { return []string{c.Message} }

func (c Set) Args() []string {
	if c.TTL == nil {
		return []string{c.Key, c.Value}
	}
	return []string{c.Key, c.Value, "PX", strconv.FormatUint(*c.TTL, 10)}
}

func (c Get) Args() []string { return []string{c.Key} }

func (c Info) Args() []string {
	if c.Section == "" {
		return nil
	}
	return []string{c.Section}
}

func (c ReplConf) Args() []string {
	if c.Kind == ListeningPort {
		return []string{"listening-port", strconv.FormatUint(uint64(c.Port), 10)}
	}
	args := make([]string, 0, 2*len(c.Capabilities))
	for _, capa := range c.Capabilities {
		args = append(args, "capa", capa)
	}
	return args
}

func (c Psync) Args() []string {
	return []string{c.ReplicaID, strconv.FormatInt(c.Offset, 10)}
}

func (c Eval) Args() []string {
	args := make([]string, 0, 2+len(c.Keys)+len(c.Argv))
	args = append(args, c.Script, strconv.Itoa(len(c.Keys)))
	args = append(args, c.Keys...)
	return append(args, c.Argv...)
}

func (c Script) Args() []string {
	return append([]string{c.Subcommand}, c.Params...)
}

// FromRequest converts a parsed request frame into a Command.
// The frame must be an array whose elements all have a string form.
func FromRequest(v protocol.Value) (Command, error) {
	if v.Type != protocol.TypeArray {
		return nil, &ParseError{Message: fmt.Sprintf("expected array, got %s", v.Type), Err: ErrNotArray}
	}

	args := make([]string, len(v.Array))
	for i, item := range v.Array {
		s, err := item.Text()
		if err != nil {
			return nil, &ParseError{Message: fmt.Sprintf("argument %d: %v", i, err), Err: err}
		}
		args[i] = s
	}

	return FromArgs(args)
}

// FromArgs builds a Command from its name and arguments
func FromArgs(args []string) (Command, error) {
	if len(args) == 0 {
		return nil, &ParseError{Err: ErrEmptyCommand}
	}

	name := strings.ToLower(args[0])
	rest := args[1:]

	switch name {
	case "ping":
		return Ping{}, nil

	case "echo":
		if len(rest) < 1 {
			return nil, wrongArgs(name, "wrong number of arguments")
		}
		return Echo{Message: rest[0]}, nil

	case "set":
		return parseSet(rest)

	case "get":
		if len(rest) < 1 {
			return nil, wrongArgs(name, "wrong number of arguments")
		}
		return Get{Key: rest[0]}, nil

	case "info":
		if len(rest) > 0 {
			return Info{Section: rest[0]}, nil
		}
		return Info{}, nil

	case "replconf":
		return parseReplConf(rest)

	case "psync":
		if len(rest) < 2 {
			return nil, wrongArgs(name, "wrong number of arguments")
		}
		offset, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return nil, wrongArgs(name, "invalid offset %q", rest[1])
		}
		return Psync{ReplicaID: rest[0], Offset: offset}, nil

	case "eval", "evalsha":
		return parseEval(name, rest)

	case "script":
		if len(rest) < 1 {
			return nil, wrongArgs(name, "wrong number of arguments")
		}
		return Script{Subcommand: strings.ToUpper(rest[0]), Params: rest[1:]}, nil

	default:
		return nil, &ParseError{Command: args[0], Err: ErrUnsupportedCommand}
	}
}

// parseSet reads SET key value [PX millis]. The PX pair is only taken as a TTL
// when the millis token is a non-negative integer; other trailing tokens are ignored.
func parseSet(rest []string) (Command, error) {
	if len(rest) < 2 {
		return nil, wrongArgs("set", "wrong number of arguments")
	}

	cmd := Set{Key: rest[0], Value: rest[1]}
	if len(rest) >= 4 && strings.EqualFold(rest[2], "px") {
		if ms, err := strconv.ParseUint(rest[3], 10, 64); err == nil {
			cmd.TTL = &ms
		}
	}
	return cmd, nil
}

func parseReplConf(rest []string) (Command, error) {
	if len(rest) < 2 {
		return nil, wrongArgs("replconf", "wrong number of arguments")
	}

	switch strings.ToLower(rest[0]) {
	case "listening-port":
		if len(rest) != 2 {
			return nil, wrongArgs("replconf", "wrong number of arguments")
		}
		port, err := strconv.ParseUint(rest[1], 10, 16)
		if err != nil {
			return nil, wrongArgs("replconf", "invalid listening port %q", rest[1])
		}
		return ReplConf{Kind: ListeningPort, Port: uint16(port)}, nil

	case "capa":
		if len(rest)%2 != 0 {
			return nil, wrongArgs("replconf", "unpaired capability")
		}
		capabilities := make([]string, 0, len(rest)/2)
		for i := 0; i < len(rest); i += 2 {
			if !strings.EqualFold(rest[i], "capa") {
				return nil, wrongArgs("replconf", "expected capa, got %q", rest[i])
			}
			capabilities = append(capabilities, rest[i+1])
		}
		return ReplConf{Kind: Capabilities, Capabilities: capabilities}, nil

	default:
		return nil, wrongArgs("replconf", "unsupported option %q", rest[0])
	}
}

func parseEval(name string, rest []string) (Command, error) {
	if len(rest) < 2 {
		return nil, wrongArgs(name, "wrong number of arguments")
	}

	numKeys, err := strconv.Atoi(rest[1])
	if err != nil {
		return nil, &ParseError{Message: "value is not an integer or out of range", Err: ErrWrongArgs}
	}
	if numKeys < 0 || len(rest) < 2+numKeys {
		return nil, &ParseError{Message: "Number of keys can't be negative or greater than args", Err: ErrWrongArgs}
	}

	return Eval{
		Script: rest[0],
		SHA:    name == "evalsha",
		Keys:   rest[2 : 2+numKeys],
		Argv:   rest[2+numKeys:],
	}, nil
}

// Request encodes a command as an array of bulk strings, name first
func Request(cmd Command) protocol.Value {
	args := cmd.Args()
	values := make([]protocol.Value, 0, 1+len(args))
	values = append(values, protocol.BulkString(cmd.Name()))
	for _, arg := range args {
		values = append(values, protocol.BulkString(arg))
	}
	return protocol.Array(values...)
}
