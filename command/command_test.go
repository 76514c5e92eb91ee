package command_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/minredis/command"
	"github.com/raniellyferreira/minredis/protocol"
)

func request(args ...string) protocol.Value {
	values := make([]protocol.Value, len(args))
	for i, arg := range args {
		values[i] = protocol.BulkString(arg)
	}
	return protocol.Array(values...)
}

func ttl(ms uint64) *uint64 {
	return &ms
}

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected command.Command
	}{
		{"ping", []string{"PING"}, command.Ping{}},
		{"ping lower case", []string{"ping"}, command.Ping{}},
		{"echo", []string{"ECHO", "hey"}, command.Echo{Message: "hey"}},
		{"get", []string{"GET", "foo"}, command.Get{Key: "foo"}},
		{"set", []string{"SET", "foo", "bar"}, command.Set{Key: "foo", Value: "bar"}},
		{"set px", []string{"set", "foo", "bar", "px", "100"}, command.Set{Key: "foo", Value: "bar", TTL: ttl(100)}},
		{"set px zero", []string{"SET", "foo", "bar", "PX", "0"}, command.Set{Key: "foo", Value: "bar", TTL: ttl(0)}},
		{"set negative px ignored", []string{"SET", "foo", "bar", "PX", "-5"}, command.Set{Key: "foo", Value: "bar"}},
		{"set unknown option ignored", []string{"SET", "foo", "bar", "EX", "10"}, command.Set{Key: "foo", Value: "bar"}},
		{"set dangling px ignored", []string{"SET", "foo", "bar", "PX"}, command.Set{Key: "foo", Value: "bar"}},
		{"info", []string{"INFO"}, command.Info{}},
		{"info section", []string{"INFO", "replication"}, command.Info{Section: "replication"}},
		{
			"replconf listening-port",
			[]string{"REPLCONF", "listening-port", "6380"},
			command.ReplConf{Kind: command.ListeningPort, Port: 6380},
		},
		{
			"replconf single capa",
			[]string{"REPLCONF", "capa", "psync2"},
			command.ReplConf{Kind: command.Capabilities, Capabilities: []string{"psync2"}},
		},
		{
			"replconf repeated capa",
			[]string{"replconf", "capa", "eof", "CAPA", "psync2"},
			command.ReplConf{Kind: command.Capabilities, Capabilities: []string{"eof", "psync2"}},
		},
		{"psync", []string{"PSYNC", "?", "-1"}, command.Psync{ReplicaID: "?", Offset: -1}},
		{
			"eval",
			[]string{"EVAL", "return 1", "1", "k", "a"},
			command.Eval{Script: "return 1", Keys: []string{"k"}, Argv: []string{"a"}},
		},
		{
			"evalsha",
			[]string{"EVALSHA", "abc", "0"},
			command.Eval{Script: "abc", SHA: true, Keys: []string{}, Argv: []string{}},
		},
		{"script", []string{"SCRIPT", "load", "return 1"}, command.Script{Subcommand: "LOAD", Params: []string{"return 1"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, err := command.FromRequest(request(tt.args...))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cmd)
		})
	}
}

func TestFromRequestAcceptsMixedStringFrames(t *testing.T) {
	req := protocol.Array(
		protocol.SimpleString("SET"),
		protocol.BulkString("n"),
		protocol.Integer(42),
	)

	cmd, err := command.FromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, command.Set{Key: "n", Value: "42"}, cmd)
}

func TestFromRequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		req     protocol.Value
		wantErr error
	}{
		{"not an array", protocol.BulkString("PING"), command.ErrNotArray},
		{"empty array", protocol.Array(), command.ErrEmptyCommand},
		{"unknown command", request("FLUSHALL"), command.ErrUnsupportedCommand},
		{"echo without argument", request("ECHO"), command.ErrWrongArgs},
		{"get without key", request("GET"), command.ErrWrongArgs},
		{"set without value", request("SET", "foo"), command.ErrWrongArgs},
		{"psync bad offset", request("PSYNC", "?", "x"), command.ErrWrongArgs},
		{"psync missing offset", request("PSYNC", "?"), command.ErrWrongArgs},
		{"replconf bare", request("REPLCONF"), command.ErrWrongArgs},
		{"replconf unpaired capa", request("REPLCONF", "capa", "eof", "capa"), command.ErrWrongArgs},
		{"replconf broken pair", request("REPLCONF", "capa", "eof", "foo", "bar"), command.ErrWrongArgs},
		{"replconf bad port", request("REPLCONF", "listening-port", "99999"), command.ErrWrongArgs},
		{"replconf unknown option", request("REPLCONF", "getack", "*"), command.ErrWrongArgs},
		{"eval key count too large", request("EVAL", "return 1", "3", "k"), command.ErrWrongArgs},
		{"nested array argument", protocol.Array(protocol.BulkString("ECHO"), protocol.Array()), protocol.ErrNotString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := command.FromRequest(tt.req)
			require.Error(t, err)

			var perr *command.ParseError
			assert.ErrorAs(t, err, &perr)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseErrorMessages(t *testing.T) {
	_, err := command.FromArgs([]string{"nosuch", "x"})
	assert.EqualError(t, err, "unknown command 'nosuch'")

	_, err = command.FromArgs([]string{"get"})
	assert.EqualError(t, err, "wrong number of arguments for 'get' command")
}

func TestRequestEncoding(t *testing.T) {
	tests := []struct {
		name     string
		cmd      command.Command
		expected string
	}{
		{
			name:     "ping",
			cmd:      command.Ping{},
			expected: "*1\r\n$4\r\nPING\r\n",
		},
		{
			name:     "replconf listening-port",
			cmd:      command.ReplConf{Kind: command.ListeningPort, Port: 6380},
			expected: "*3\r\n$8\r\nREPLCONF\r\n$14\r\nlistening-port\r\n$4\r\n6380\r\n",
		},
		{
			name:     "replconf capa",
			cmd:      command.ReplConf{Kind: command.Capabilities, Capabilities: []string{"psync2"}},
			expected: "*3\r\n$8\r\nREPLCONF\r\n$4\r\ncapa\r\n$6\r\npsync2\r\n",
		},
		{
			name:     "psync",
			cmd:      command.Psync{ReplicaID: "?", Offset: -1},
			expected: "*3\r\n$5\r\nPSYNC\r\n$1\r\n?\r\n$2\r\n-1\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := protocol.Encode(command.Request(tt.cmd))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(encoded))
		})
	}
}

func TestRequestRoundTrip(t *testing.T) {
	cmds := []command.Command{
		command.Ping{},
		command.Echo{Message: "hello"},
		command.Set{Key: "k", Value: "v", TTL: ttl(250)},
		command.Get{Key: "k"},
		command.ReplConf{Kind: command.Capabilities, Capabilities: []string{"eof", "psync2"}},
		command.Psync{ReplicaID: "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", Offset: 42},
	}

	for _, cmd := range cmds {
		t.Run(cmd.Name(), func(t *testing.T) {
			parsed, err := command.FromRequest(command.Request(cmd))
			require.NoError(t, err)
			assert.Equal(t, cmd, parsed)
		})
	}
}

func TestResponseEncoding(t *testing.T) {
	tests := []struct {
		name     string
		resp     command.Response
		expected string
	}{
		{"ok", command.OK{}, "+OK\r\n"},
		{"pong", command.Pong{}, "+PONG\r\n"},
		{"null", command.Null{}, "$-1\r\n"},
		{"simple string", command.SimpleString("FULLRESYNC abc 0"), "+FULLRESYNC abc 0\r\n"},
		{"bulk string", command.BulkString("bar"), "$3\r\nbar\r\n"},
		{"empty bulk string", command.BulkString(""), "$0\r\n\r\n"},
		{"raw payload", command.RawPayload("REDIS"), "$5\r\nREDIS"},
		{"integer", command.Integer(7), ":7\r\n"},
		{"error", command.Error("ERR nope"), "-ERR nope\r\n"},
		{
			"array",
			command.Array{command.Integer(1), command.BulkString("x"), command.Null{}},
			"*3\r\n:1\r\n$1\r\nx\r\n$-1\r\n",
		},
		{
			"sequence has no framing",
			command.Sequence{command.SimpleString("FULLRESYNC id 0"), command.RawPayload("RDB")},
			"+FULLRESYNC id 0\r\n$3\r\nRDB",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := protocol.NewWriter(&buf)
			require.NoError(t, tt.resp.Encode(w))
			require.NoError(t, w.Flush())
			assert.Equal(t, tt.expected, buf.String())
		})
	}
}
