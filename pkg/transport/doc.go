// Package transport provides the connection handles the notification hub
// delivers through. Every handle implements registry.Conn.
//
// # Handles
//
// Multi-session handles address one connected client each:
//
//   - SSEConn writes notifications as server-sent events on an open
//     HTTP response.
//   - WSConn writes notifications as websocket text frames.
//
// The single-session handle owns one duplex channel:
//
//   - StdioConn writes newline-delimited JSON to stdout and reads inbound
//     messages from stdin.
//
// Broadcast-only handles publish to a channel with no addressing:
//
//   - MQTTHandle publishes to an MQTT topic through a paho client.
//   - EmbeddedBroker runs an in-process MQTT broker and publishes through
//     its inline client.
//   - RedisHandle publishes to a Redis pub/sub channel.
//
// Limited wraps any handle with a token-bucket rate limiter.
//
// # Usage
//
//	stdio := transport.NewStdioConn(os.Stdin, os.Stdout)
//	reg.SetTransportState(registry.State{
//		SingleSession: registry.SingleSession{Initialized: true, Conn: stdio},
//	})
//	go stdio.Serve(ctx, dispatcher.HandleSingle)
//
// Send never retries. A failed send is reported to the caller, which treats
// it as a failed delivery to that recipient only.
package transport
