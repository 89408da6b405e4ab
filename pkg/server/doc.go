// Package server is the inbound side of the notification subsystem.
//
// A Dispatcher decodes JSON-RPC control messages from any transport:
//
//   - logging/setLevel changes a session's client log level, or the default
//     level when the message arrived without a session
//   - notifications/cancelled flags an operation as cancelled
//   - ping is answered with an empty result
//
// Unknown requests are answered with a method-not-found error. Unknown
// notifications are ignored.
//
// Server exposes the multi-session transports over HTTP:
//
//	GET    /mcp      open an SSE session (Mcp-Session-Id response header)
//	POST   /mcp      send one JSON-RPC message, optionally for a session
//	DELETE /mcp      end the session named by Mcp-Session-Id
//	GET    /ws       open a websocket session
//	GET    /healthz  liveness and open session count
//
// Every open session is registered in the multi-session map of a
// registry.Registry, so hub broadcasts reach it. When the session ends it is
// removed from the registry and its client log level is forgotten.
package server
