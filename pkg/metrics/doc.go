// Package metrics defines and registers the boxvault Prometheus metrics:
// session activity (pkg/protocol), object-store throughput (pkg/sos,
// pkg/session), checker findings (pkg/checker), and housekeeping cycles
// (pkg/housekeeping). All metrics are registered at package init and
// exposed via Handler() for cmd/boxserver's /metrics endpoint.
package metrics
