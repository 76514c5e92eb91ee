package replication

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ReplIDLength is the length of a replication id in hex characters
const ReplIDLength = 40

// Role is the replication role of a node
type Role int

const (
	// RoleMaster serves PSYNC and has no configured primary
	RoleMaster Role = iota
	// RoleSlave was started with a primary to replicate from
	RoleSlave
)

// String returns the role name used in INFO
func (r Role) String() string {
	if r == RoleSlave {
		return "slave"
	}
	return "master"
}

// Primary is the address of the node to replicate from
type Primary struct {
	Host string
	Port int
}

// Addr returns host:port
func (p Primary) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// State is the process-wide replication state. It is built once at startup
// and only read afterwards.
type State struct {
	Role    Role
	Primary *Primary
	ReplID  string
	Offset  int64
}

// NewState creates the state for a node. A nil primary makes it a master.
func NewState(primary *Primary) (*State, error) {
	replID, err := generateReplID()
	if err != nil {
		return nil, err
	}

	s := &State{
		Role:   RoleMaster,
		ReplID: replID,
	}
	if primary != nil {
		p := *primary
		s.Role = RoleSlave
		s.Primary = &p
	}
	return s, nil
}

// InfoSection renders the INFO replication block
func (s *State) InfoSection() string {
	var b strings.Builder
	b.WriteString("# Replication\n")
	fmt.Fprintf(&b, "role:%s\n", s.Role)
	fmt.Fprintf(&b, "master_replid:%s\n", s.ReplID)
	fmt.Fprintf(&b, "master_repl_offset:%d", s.Offset)
	return b.String()
}

// FullResyncLine is the status line a master sends in reply to PSYNC
func (s *State) FullResyncLine() string {
	return fmt.Sprintf("FULLRESYNC %s %d", s.ReplID, s.Offset)
}

// generateReplID returns 20 random bytes as 40 hex characters
func generateReplID() (string, error) {
	buf := make([]byte, ReplIDLength/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate replication id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
