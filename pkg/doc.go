// Package pkg holds the building blocks of the notification subsystem.
//
// The sub-packages, from the bottom up:
//
//   - protocol: JSON-RPC 2.0 envelopes, notification params and the eight
//     logging levels
//   - errors: the MCPError taxonomy and its JSON-RPC conversion
//   - logging: the structured logger and the request id HTTP middleware
//   - registry: the atomically swapped snapshot of transport entries
//   - transport: connection handles (stdio, SSE, websocket, MQTT, embedded
//     broker, Redis) plus rate limiting and fan-out wrappers
//   - observability: Prometheus metrics and OpenTelemetry tracing
//   - hub: concurrent fan-out of one notification to every recipient
//   - clientlog: per-session log level filtering on top of the hub
//   - progress: progress reporting and cooperative cancellation
//   - server: the inbound control dispatcher and the HTTP session server
//   - config: environment, .env and YAML configuration
//   - utils: test helpers such as the goroutine leak detector
//
// Most programs only need the root package, which wires these together.
package pkg
