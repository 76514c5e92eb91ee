package metrics

import (
	"fmt"
	"io"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
)

const namespace = "minredis"

// Collector records command, connection, error and replication metrics.
// All methods are safe for concurrent use.
type Collector struct {
	set *vm.Set

	connections   *vm.Counter
	snapshotBytes *vm.Counter
	syncDuration  *vm.Histogram
}

// NewCollector creates a collector with its own metric set
func NewCollector() *Collector {
	set := vm.NewSet()
	return &Collector{
		set:           set,
		connections:   set.NewCounter(namespace + "_connections_total"),
		snapshotBytes: set.NewCounter(namespace + "_snapshot_bytes_total"),
		syncDuration:  set.NewHistogram(namespace + "_handshake_duration_seconds"),
	}
}

// RecordSyncDuration records the time a replica handshake took, snapshot load included
func (c *Collector) RecordSyncDuration(duration time.Duration) {
	c.syncDuration.Update(duration.Seconds())
}

// RecordCommandProcessed counts a command and records how long it ran
func (c *Collector) RecordCommandProcessed(cmd string, duration time.Duration) {
	c.set.GetOrCreateCounter(labeled("_commands_total", "command", cmd)).Inc()
	c.set.GetOrCreateHistogram(labeled("_command_duration_seconds", "command", cmd)).Update(duration.Seconds())
}

// RecordNetworkBytes counts snapshot bytes received from a primary
func (c *Collector) RecordNetworkBytes(bytes int64) {
	c.snapshotBytes.Add(int(bytes))
}

// RecordConnection counts an accepted client connection
func (c *Collector) RecordConnection() {
	c.connections.Inc()
}

// RecordKeyEvent counts keyspace events such as "set" and "expired"
func (c *Collector) RecordKeyEvent(event string) {
	c.set.GetOrCreateCounter(labeled("_key_events_total", "event", event)).Inc()
}

// RecordError counts an error by type
func (c *Collector) RecordError(errorType string) {
	c.set.GetOrCreateCounter(labeled("_errors_total", "type", errorType)).Inc()
}

// TrackKeys exposes the current key count as a gauge read at scrape time
func (c *Collector) TrackKeys(count func() int) {
	c.set.GetOrCreateGauge(namespace+"_keys", func() float64 {
		return float64(count())
	})
}

// WritePrometheus writes all metrics in the Prometheus text format
func (c *Collector) WritePrometheus(w io.Writer) {
	c.set.WritePrometheus(w)
}

func labeled(suffix, label, value string) string {
	return fmt.Sprintf("%s%s{%s=%q}", namespace, suffix, label, value)
}
