// Package metrics collects node metrics on a VictoriaMetrics set and
// renders them in the Prometheus text format.
package metrics
