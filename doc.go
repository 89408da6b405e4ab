// Package mcp is the entry point of mcp-notify-go, a notification broadcast
// subsystem for Model Context Protocol servers.
//
// A server announces log records, progress and cancellation to every
// connected client at once. Clients arrive over three kinds of transport:
//
//   - multi-session: many addressable clients, such as SSE streams and
//     websocket connections opened through pkg/server
//   - single-session: one implicit client, such as stdin/stdout
//   - broadcast-only: a publish target with no addressable client, such as an
//     MQTT topic or a Redis channel
//
// New wires the pieces together:
//
//	sys := mcp.New(mcp.WithLogger(logger), mcp.WithDefaultLevel(protocol.LoggingLevelInfo))
//	sys.SetSingleSession(transport.NewStdioConn(os.Stdin, os.Stdout))
//
//	sys.Logs.LogAndNotify(ctx, protocol.LoggingLevelWarning, "disk almost full", nil)
//
//	res, err := sys.Progress.RunWithProgress(ctx, progress.Run{
//	    Token: progress.NewToken(),
//	    Steps: steps,
//	})
//
// Delivery is best effort. Every send operation returns true when at least
// one recipient accepted the notification and never returns an error for a
// failed recipient.
package mcp
