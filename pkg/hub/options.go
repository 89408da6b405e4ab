package hub

// BroadcastOption adjusts a single Broadcast call
type BroadcastOption func(*broadcastOptions)

type broadcastOptions struct {
	forceHTTP     bool
	sessionFilter func(sessionID string) bool
	skipSingle    bool
	skipBroadcast bool
}

// WithForceBroadcastHTTP is accepted for compatibility with callers that
// request HTTP broadcast explicitly. Every session transport is already
// included, so delivery is unchanged; the flag is recorded on the span and
// the log line.
func WithForceBroadcastHTTP() BroadcastOption {
	return func(o *broadcastOptions) {
		o.forceHTTP = true
	}
}

// WithSessionFilter limits multi-session delivery to ids for which keep
// returns true.
func WithSessionFilter(keep func(sessionID string) bool) BroadcastOption {
	return func(o *broadcastOptions) {
		o.sessionFilter = keep
	}
}

// SkipSingleSession excludes the single-session transport
func SkipSingleSession() BroadcastOption {
	return func(o *broadcastOptions) {
		o.skipSingle = true
	}
}

// SkipBroadcastOnly excludes the broadcast-only transport
func SkipBroadcastOnly() BroadcastOption {
	return func(o *broadcastOptions) {
		o.skipBroadcast = true
	}
}
