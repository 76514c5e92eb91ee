package metrics

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func render(c *Collector) string {
	var buf bytes.Buffer
	c.WritePrometheus(&buf)
	return buf.String()
}

func TestCollectorCommands(t *testing.T) {
	c := NewCollector()

	c.RecordCommandProcessed("GET", time.Millisecond)
	c.RecordCommandProcessed("GET", 2*time.Millisecond)
	c.RecordCommandProcessed("SET", time.Millisecond)

	out := render(c)
	assert.Contains(t, out, `minredis_commands_total{command="GET"} 2`)
	assert.Contains(t, out, `minredis_commands_total{command="SET"} 1`)
	assert.Contains(t, out, `minredis_command_duration_seconds_count{command="GET"} 2`)
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordConnection()
	c.RecordConnection()
	c.RecordError("protocol")
	c.RecordError("parse")
	c.RecordError("parse")
	c.RecordKeyEvent("set")
	c.RecordKeyEvent("expired")
	c.RecordNetworkBytes(88)

	out := render(c)
	assert.Contains(t, out, "minredis_connections_total 2")
	assert.Contains(t, out, `minredis_errors_total{type="parse"} 2`)
	assert.Contains(t, out, `minredis_errors_total{type="protocol"} 1`)
	assert.Contains(t, out, `minredis_key_events_total{event="set"} 1`)
	assert.Contains(t, out, `minredis_key_events_total{event="expired"} 1`)
	assert.Contains(t, out, "minredis_snapshot_bytes_total 88")
}

func TestCollectorSyncDuration(t *testing.T) {
	c := NewCollector()

	c.RecordSyncDuration(250 * time.Millisecond)

	assert.Contains(t, render(c), "minredis_handshake_duration_seconds_count 1")
}

func TestCollectorTrackKeys(t *testing.T) {
	c := NewCollector()

	keys := 3
	c.TrackKeys(func() int { return keys })
	assert.Contains(t, render(c), "minredis_keys 3")

	keys = 5
	assert.Contains(t, render(c), "minredis_keys 5")
}
