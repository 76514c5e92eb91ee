package replication_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raniellyferreira/minredis/protocol"
	"github.com/raniellyferreira/minredis/replication"
	"github.com/raniellyferreira/minredis/storage"
)

func TestNewStateMaster(t *testing.T) {
	state, err := replication.NewState(nil)
	require.NoError(t, err)

	assert.Equal(t, replication.RoleMaster, state.Role)
	assert.Nil(t, state.Primary)
	assert.Len(t, state.ReplID, replication.ReplIDLength)
	assert.Equal(t, int64(0), state.Offset)

	for _, ch := range state.ReplID {
		assert.True(t, strings.ContainsRune("0123456789abcdef", ch), "replid must be lower-case hex")
	}
}

func TestNewStateSlave(t *testing.T) {
	primary := &replication.Primary{Host: "localhost", Port: 6379}
	state, err := replication.NewState(primary)
	require.NoError(t, err)

	assert.Equal(t, replication.RoleSlave, state.Role)
	require.NotNil(t, state.Primary)
	assert.Equal(t, "localhost:6379", state.Primary.Addr())

	primary.Port = 1
	assert.Equal(t, 6379, state.Primary.Port, "state keeps its own copy")
}

func TestReplIDsDiffer(t *testing.T) {
	a, err := replication.NewState(nil)
	require.NoError(t, err)
	b, err := replication.NewState(nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ReplID, b.ReplID)
}

func TestInfoSection(t *testing.T) {
	state := &replication.State{Role: replication.RoleSlave, ReplID: strings.Repeat("a", 40)}
	expected := "# Replication\nrole:slave\nmaster_replid:" + strings.Repeat("a", 40) + "\nmaster_repl_offset:0"
	assert.Equal(t, expected, state.InfoSection())

	state.Role = replication.RoleMaster
	assert.Contains(t, state.InfoSection(), "role:master\n")
	assert.Equal(t, "FULLRESYNC "+strings.Repeat("a", 40)+" 0", state.FullResyncLine())
}

// recordingHandler collects what an RDB parse reports
type recordingHandler struct {
	aux   map[string]string
	keys  map[string]string
	ttls  map[string]*time.Time
	dbs   []int
	ended bool
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		aux:  make(map[string]string),
		keys: make(map[string]string),
		ttls: make(map[string]*time.Time),
	}
}

func (h *recordingHandler) OnDatabase(index int) error {
	h.dbs = append(h.dbs, index)
	return nil
}

func (h *recordingHandler) OnKey(key, value []byte, expiry *time.Time) error {
	h.keys[string(key)] = string(value)
	h.ttls[string(key)] = expiry
	return nil
}

func (h *recordingHandler) OnAux(key, value []byte) error {
	h.aux[string(key)] = string(value)
	return nil
}

func (h *recordingHandler) OnEnd() error {
	h.ended = true
	return nil
}

func TestParseEmptySnapshot(t *testing.T) {
	h := newRecordingHandler()
	parser := replication.NewRDBParser(bytes.NewReader(replication.EmptySnapshot()), h)

	require.NoError(t, parser.Parse())
	assert.True(t, h.ended)
	assert.Equal(t, 11, parser.Version())
	assert.Empty(t, h.keys)
	assert.Equal(t, "7.2.0", h.aux["redis-ver"])
	assert.Equal(t, "64", h.aux["redis-bits"])
	assert.Equal(t, "0", h.aux["aof-base"])
}

// rdbBuilder assembles RDB bytes for tests
type rdbBuilder struct {
	bytes.Buffer
}

func newRDB() *rdbBuilder {
	b := &rdbBuilder{}
	b.WriteString("REDIS0011")
	return b
}

func (b *rdbBuilder) str(s string) *rdbBuilder {
	b.WriteByte(byte(len(s)))
	b.WriteString(s)
	return b
}

func (b *rdbBuilder) op(ops ...byte) *rdbBuilder {
	b.Write(ops)
	return b
}

func (b *rdbBuilder) expiresAt(t time.Time) *rdbBuilder {
	b.WriteByte(0xFC)
	binary.Write(b, binary.LittleEndian, uint64(t.UnixMilli()))
	return b
}

func (b *rdbBuilder) end() []byte {
	b.WriteByte(0xFF)
	b.Write(make([]byte, 8))
	return b.Bytes()
}

func testRDB(now time.Time) []byte {
	b := newRDB()
	b.op(0xFA).str("redis-ver").str("7.2.0")
	b.op(0xFE, 0x00)
	b.op(0xFB, 0x06, 0x02)
	b.op(0x00).str("foo").str("bar")
	b.op(0x00).str("num").op(0xC0, 0x05)
	b.op(0x00).str("neg").op(0xC1, 0xFE, 0xFF)
	b.expiresAt(now.Add(time.Hour)).op(0x00).str("later").str("v")
	b.expiresAt(now.Add(-time.Hour)).op(0x00).str("gone").str("v")
	// LZF: one literal 'a' then a 9-byte overlapping match
	b.op(0x00).str("lz").op(0xC3, 0x05, 0x0A, 0x00, 'a', 0xE0, 0x00, 0x00)
	// a set and a zset2 are skipped
	b.op(0x02).str("set").op(0x02).str("m1").str("m2")
	b.op(0x05).str("zset").op(0x01).str("member")
	b.Write(make([]byte, 8))
	b.op(0x00).str("after").str("skips")
	return b.end()
}

func TestParseRDB(t *testing.T) {
	now := time.Now()
	h := newRecordingHandler()
	parser := replication.NewRDBParser(bytes.NewReader(testRDB(now)), h)

	require.NoError(t, parser.Parse())
	assert.Equal(t, []int{0}, h.dbs)
	assert.Equal(t, 2, parser.Skipped())
	assert.Equal(t, map[string]string{
		"foo":   "bar",
		"num":   "5",
		"neg":   "-2",
		"later": "v",
		"gone":  "v",
		"lz":    "aaaaaaaaaa",
		"after": "skips",
	}, h.keys)

	assert.Nil(t, h.ttls["foo"])
	require.NotNil(t, h.ttls["later"])
	assert.Equal(t, now.Add(time.Hour).UnixMilli(), h.ttls["later"].UnixMilli())
}

func TestParseRDBErrors(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"bad magic", []byte("RADIS0011\xff"), replication.ErrInvalidRDB},
		{"short header", []byte("RED"), replication.ErrInvalidRDB},
		{"future version", []byte("REDIS0099\xff"), replication.ErrInvalidRDB},
		{"missing EOF", []byte("REDIS0011"), io.ErrUnexpectedEOF},
		{"truncated value", newRDB().op(0x00).str("k").op(0x05, 'a').Bytes(), io.ErrUnexpectedEOF},
		{"stream value", newRDB().op(0x0F).str("s").end(), replication.ErrUnsupportedRDBType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := replication.ParseRDB(bytes.NewReader(tt.data), newRecordingHandler())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// fakePrimary accepts one connection and answers the handshake from a script
type fakePrimary struct {
	ln       net.Listener
	received chan []string
}

// primaryScript writes the reply to handshake step n. raw bypasses RESP
// framing; flush w before using it. Returning true hangs up.
type primaryScript func(step int, w *protocol.Writer, raw io.Writer) (hangUp bool)

func startFakePrimary(t *testing.T, script primaryScript) *fakePrimary {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &fakePrimary{ln: ln, received: make(chan []string, 16)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := protocol.NewReader(conn)
		writer := protocol.NewWriter(conn)
		for step := 0; ; step++ {
			v, err := reader.ReadNext()
			if err != nil {
				return
			}
			args := make([]string, len(v.Array))
			for i, item := range v.Array {
				args[i] = string(item.Data)
			}
			p.received <- args

			if script(step, writer, conn) {
				writer.Flush()
				return
			}
			writer.Flush()
		}
	}()

	return p
}

func (p *fakePrimary) addr() string {
	return p.ln.Addr().String()
}

func (p *fakePrimary) commands() [][]string {
	var out [][]string
	for {
		select {
		case args := <-p.received:
			out = append(out, args)
		default:
			return out
		}
	}
}

func happyPrimary(snapshot []byte) primaryScript {
	return func(step int, w *protocol.Writer, raw io.Writer) bool {
		switch step {
		case 0:
			w.WriteSimpleString("PONG")
		case 1, 2:
			w.WriteSimpleString("OK")
		case 3:
			w.WriteSimpleString("FULLRESYNC 8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb 0")
			w.WriteRaw(snapshot)
		}
		return false
	}
}

func TestHandshake(t *testing.T) {
	primary := startFakePrimary(t, happyPrimary(replication.EmptySnapshot()))

	conn, err := net.Dial("tcp", primary.addr())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := replication.Handshake(ctx, conn, 6380)
	require.NoError(t, err)

	assert.Equal(t, "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", session.ReplID)
	assert.Equal(t, int64(0), session.Offset)
	assert.Equal(t, replication.EmptySnapshot(), session.Snapshot)

	assert.Equal(t, [][]string{
		{"PING"},
		{"REPLCONF", "listening-port", "6380"},
		{"REPLCONF", "capa", "psync2"},
		{"PSYNC", "?", "-1"},
	}, primary.commands())
}

func TestHandshakeFailures(t *testing.T) {
	tests := []struct {
		name     string
		script   primaryScript
		wantStep replication.Step
		wantErr  error
	}{
		{
			name: "error reply to ping",
			script: func(step int, w *protocol.Writer, raw io.Writer) bool {
				w.WriteError("NOAUTH Authentication required.")
				return false
			},
			wantStep: replication.StepPing,
			wantErr:  replication.ErrPrimaryError,
		},
		{
			name: "wrong reply to listening-port",
			script: func(step int, w *protocol.Writer, raw io.Writer) bool {
				if step == 0 {
					w.WriteSimpleString("PONG")
				} else {
					w.WriteBulkStringFromString("OK")
				}
				return false
			},
			wantStep: replication.StepListeningPort,
			wantErr:  replication.ErrUnexpectedReply,
		},
		{
			name: "primary hangs up during capa",
			script: func(step int, w *protocol.Writer, raw io.Writer) bool {
				switch step {
				case 0:
					w.WriteSimpleString("PONG")
				case 1:
					w.WriteSimpleString("OK")
				default:
					return true
				}
				return false
			},
			wantStep: replication.StepCapabilities,
			wantErr:  io.EOF,
		},
		{
			name: "continue instead of full resync",
			script: func(step int, w *protocol.Writer, raw io.Writer) bool {
				switch step {
				case 0:
					w.WriteSimpleString("PONG")
				case 1, 2:
					w.WriteSimpleString("OK")
				default:
					w.WriteSimpleString("CONTINUE")
				}
				return false
			},
			wantStep: replication.StepPsync,
			wantErr:  replication.ErrUnexpectedReply,
		},
		{
			name: "snapshot cut short",
			script: func(step int, w *protocol.Writer, raw io.Writer) bool {
				switch step {
				case 0:
					w.WriteSimpleString("PONG")
				case 1, 2:
					w.WriteSimpleString("OK")
				default:
					w.WriteSimpleString("FULLRESYNC abc 0")
					w.Flush()
					io.WriteString(raw, "$100\r\nREDIS")
					return true
				}
				return false
			},
			wantStep: replication.StepSnapshot,
			wantErr:  io.ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := startFakePrimary(t, tt.script)

			conn, err := net.Dial("tcp", primary.addr())
			require.NoError(t, err)
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err = replication.Handshake(ctx, conn, 6380)
			require.Error(t, err)

			var herr *replication.HandshakeError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, tt.wantStep, herr.Step)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHandshakeContextCancel(t *testing.T) {
	// a primary that never answers
	primary := startFakePrimary(t, func(int, *protocol.Writer, io.Writer) bool { return false })

	conn, err := net.Dial("tcp", primary.addr())
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = replication.Handshake(ctx, conn, 6380)

	var herr *replication.HandshakeError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, replication.StepPing, herr.Step)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientSyncLoadsSnapshot(t *testing.T) {
	primary := startFakePrimary(t, happyPrimary(testRDB(time.Now())))
	store := storage.NewMemory()

	client := replication.NewClient(primary.addr(), store)
	defer client.Close()

	session, err := client.Sync(context.Background(), 6380)
	require.NoError(t, err)
	assert.NotEmpty(t, session.Snapshot)

	value, ok := store.Get("foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", value)

	value, ok = store.Get("lz")
	assert.True(t, ok)
	assert.Equal(t, "aaaaaaaaaa", value)

	_, ok = store.Get("later")
	assert.True(t, ok)

	_, ok = store.Get("gone")
	assert.False(t, ok, "keys already expired in the snapshot are not loaded")

	stats := client.Stats()
	assert.True(t, stats.Connected)
	assert.Equal(t, int64(6), stats.KeysLoaded)
	assert.Equal(t, int64(3), stats.KeysSkipped)
	assert.Equal(t, "8371b4fb1155b71f4a04d3e1bc3e18c4a990aeeb", stats.ReplID)

	require.NoError(t, client.Close())
	assert.False(t, client.Stats().Connected)
}

func TestClientSyncDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	client := replication.NewClient(addr, storage.NewMemory())
	client.SetConnectTimeout(time.Second)

	_, err = client.Sync(context.Background(), 6380)

	var herr *replication.HandshakeError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, replication.StepConnect, herr.Step)
}

func TestClientSyncCorruptSnapshot(t *testing.T) {
	primary := startFakePrimary(t, happyPrimary([]byte("NOT AN RDB FILE")))

	client := replication.NewClient(primary.addr(), storage.NewMemory())
	_, err := client.Sync(context.Background(), 6380)

	var herr *replication.HandshakeError
	require.True(t, errors.As(err, &herr))
	assert.Equal(t, replication.StepLoad, herr.Step)
	assert.ErrorIs(t, err, replication.ErrInvalidRDB)
}
