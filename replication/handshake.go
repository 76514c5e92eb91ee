package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/raniellyferreira/minredis/command"
	"github.com/raniellyferreira/minredis/protocol"
)

var (
	// ErrUnexpectedReply indicates the primary answered a step with the wrong frame
	ErrUnexpectedReply = errors.New("unexpected reply from primary")

	// ErrPrimaryError indicates the primary answered a step with an error frame
	ErrPrimaryError = errors.New("primary returned error")
)

// Step identifies one stage of the replica bootstrap
type Step int

const (
	StepConnect Step = iota
	StepPing
	StepListeningPort
	StepCapabilities
	StepPsync
	StepSnapshot
	StepLoad
)

// String returns a short name for the step
func (s Step) String() string {
	switch s {
	case StepConnect:
		return "connect"
	case StepPing:
		return "ping"
	case StepListeningPort:
		return "replconf listening-port"
	case StepCapabilities:
		return "replconf capa"
	case StepPsync:
		return "psync"
	case StepSnapshot:
		return "snapshot"
	case StepLoad:
		return "load"
	default:
		return "step " + strconv.Itoa(int(s))
	}
}

// HandshakeError reports a failed bootstrap step. Earlier steps are not undone.
type HandshakeError struct {
	Step Step
	Err  error
}

// Error implements the error interface
func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed at %s: %v", e.Step, e.Err)
}

// Unwrap returns the wrapped error
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Session is the outcome of a completed handshake
type Session struct {
	ReplID   string
	Offset   int64
	Snapshot []byte
}

// capabilities advertised in REPLCONF capa
var capabilities = []string{"psync2"}

// handshake drives the request/reply steps over one connection
type handshake struct {
	reader *protocol.Reader
	writer *protocol.Writer
}

// Handshake performs the four-step handshake over conn and reads the snapshot.
//
// If conn is a net.Conn, the context deadline is applied to it and
// cancelling ctx unblocks any pending read or write.
func Handshake(ctx context.Context, conn io.ReadWriter, listenPort uint16) (*Session, error) {
	if nc, ok := conn.(net.Conn); ok {
		release := bindContext(ctx, nc)
		defer release()
	}

	h := &handshake{
		reader: protocol.NewReader(conn),
		writer: protocol.NewWriter(conn),
	}

	steps := []struct {
		step  Step
		cmd   command.Command
		reply string
	}{
		{StepPing, command.Ping{}, "PONG"},
		{StepListeningPort, command.ReplConf{Kind: command.ListeningPort, Port: listenPort}, "OK"},
		{StepCapabilities, command.ReplConf{Kind: command.Capabilities, Capabilities: capabilities}, "OK"},
	}

	for _, s := range steps {
		if err := h.expect(s.cmd, s.reply); err != nil {
			return nil, stepError(ctx, s.step, err)
		}
	}

	session, err := h.psync()
	if err != nil {
		return nil, stepError(ctx, StepPsync, err)
	}

	session.Snapshot, err = h.reader.ReadSnapshot()
	if err != nil {
		return nil, stepError(ctx, StepSnapshot, err)
	}

	return session, nil
}

// stepError prefers the context error when the context ended the step.
// The connection deadline can fire just before the context notices its own.
func stepError(ctx context.Context, step Step, err error) error {
	var netErr net.Error
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else if deadline, ok := ctx.Deadline(); ok && errors.As(err, &netErr) && netErr.Timeout() && !time.Now().Before(deadline) {
		err = context.DeadlineExceeded
	}
	return &HandshakeError{Step: step, Err: err}
}

// send writes one command and flushes it
func (h *handshake) send(cmd command.Command) error {
	if err := h.writer.WriteValue(command.Request(cmd)); err != nil {
		return err
	}
	return h.writer.Flush()
}

// reply reads one simple-string reply
func (h *handshake) reply() (string, error) {
	v, err := h.reader.ReadNext()
	if err != nil {
		return "", err
	}
	if v.IsError() {
		return "", fmt.Errorf("%w: %s", ErrPrimaryError, v.Data)
	}
	if v.Type != protocol.TypeSimpleString {
		return "", fmt.Errorf("%w: got %s", ErrUnexpectedReply, v.Type)
	}
	return string(v.Data), nil
}

func (h *handshake) expect(cmd command.Command, want string) error {
	if err := h.send(cmd); err != nil {
		return err
	}
	got, err := h.reply()
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: want %q, got %q", ErrUnexpectedReply, want, got)
	}
	return nil
}

// psync asks for a full resync and parses +FULLRESYNC <replid> <offset>
func (h *handshake) psync() (*Session, error) {
	if err := h.send(command.Psync{ReplicaID: "?", Offset: -1}); err != nil {
		return nil, err
	}
	line, err := h.reply()
	if err != nil {
		return nil, err
	}

	parts := strings.Fields(line)
	if len(parts) != 3 || !strings.EqualFold(parts[0], "FULLRESYNC") {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedReply, line)
	}

	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid offset %q", ErrUnexpectedReply, parts[2])
	}

	return &Session{ReplID: parts[1], Offset: offset}, nil
}

// bindContext applies ctx's deadline to conn and interrupts blocked I/O when
// ctx is cancelled. The returned func detaches and clears the deadline.
func bindContext(ctx context.Context, conn net.Conn) func() {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		conn.SetDeadline(time.Time{})
	}
}
