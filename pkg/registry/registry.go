// Package registry holds the snapshot of live transport connections that the
// notification hub delivers through.
//
// A snapshot has one entry per transport kind. Readers load the current
// snapshot without locking; writers replace it wholesale.
package registry

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/mcp-notify-go/pkg/protocol"
)

// Kind identifies a transport technology
type Kind int

const (
	// KindMultiSession is an addressable per-session channel (SSE, websocket)
	KindMultiSession Kind = iota
	// KindSingleSession is one persistent duplex channel (stdio)
	KindSingleSession
	// KindBroadcastOnly is a message-queue channel with no addressing (MQTT, Redis)
	KindBroadcastOnly
)

// Kinds returns every transport kind in delivery order.
func Kinds() []Kind {
	return []Kind{KindMultiSession, KindSingleSession, KindBroadcastOnly}
}

func (k Kind) String() string {
	switch k {
	case KindMultiSession:
		return "multi-session"
	case KindSingleSession:
		return "single-session"
	case KindBroadcastOnly:
		return "broadcast-only"
	default:
		return "unknown"
	}
}

// Conn is a connection handle able to deliver a notification. A returned
// error fails delivery to that recipient only.
type Conn interface {
	Send(ctx context.Context, n *protocol.Notification) error
}

// MultiSession is the entry for KindMultiSession
type MultiSession struct {
	Initialized bool
	Sessions    map[string]Conn
}

// SingleSession is the entry for KindSingleSession
type SingleSession struct {
	Initialized bool
	Conn        Conn
}

// BroadcastOnly is the entry for KindBroadcastOnly
type BroadcastOnly struct {
	Initialized bool
	Handle      Conn
}

// State is one snapshot of every transport entry
type State struct {
	MultiSession  MultiSession
	SingleSession SingleSession
	BroadcastOnly BroadcastOnly
}

// Initialized reports whether the entry for kind is initialized.
func (s State) Initialized(kind Kind) bool {
	switch kind {
	case KindMultiSession:
		return s.MultiSession.Initialized
	case KindSingleSession:
		return s.SingleSession.Initialized
	case KindBroadcastOnly:
		return s.BroadcastOnly.Initialized
	default:
		return false
	}
}

// SessionIDs returns the multi-session ids in sorted order.
func (s State) SessionIDs() []string {
	ids := make([]string, 0, len(s.MultiSession.Sessions))
	for id := range s.MultiSession.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Session returns the multi-session connection for id.
func (s State) Session(id string) (Conn, bool) {
	if !s.MultiSession.Initialized || id == "" {
		return nil, false
	}
	conn, ok := s.MultiSession.Sessions[id]
	if !ok || conn == nil {
		return nil, false
	}
	return conn, true
}

func (s State) clone() State {
	out := s
	out.MultiSession.Sessions = make(map[string]Conn, len(s.MultiSession.Sessions))
	for id, conn := range s.MultiSession.Sessions {
		out.MultiSession.Sessions[id] = conn
	}
	return out
}

// Registry stores the current transport snapshot. The zero value is ready to
// use and reports every kind as uninitialized.
type Registry struct {
	mu    sync.Mutex
	state atomic.Pointer[State]
}

// New creates an empty registry
func New() *Registry {
	return &Registry{}
}

// SetTransportState replaces the snapshot. Last write wins. The session map is
// copied so later changes by the caller are not observed.
func (r *Registry) SetTransportState(s State) {
	c := s.clone()

	r.mu.Lock()
	r.state.Store(&c)
	r.mu.Unlock()
}

// TransportState returns the current snapshot. Callers must treat the session
// map as read-only.
func (r *Registry) TransportState() State {
	if s := r.state.Load(); s != nil {
		return *s
	}
	return State{}
}

// Update applies fn to a copy of the current snapshot and installs the result.
// Concurrent updates are serialized.
func (r *Registry) Update(fn func(*State)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var c State
	if cur := r.state.Load(); cur != nil {
		c = cur.clone()
	} else {
		c = State{}.clone()
	}
	fn(&c)
	r.state.Store(&c)
}

// AddSession registers conn under id in the multi-session entry and marks the
// entry initialized.
func (r *Registry) AddSession(id string, conn Conn) {
	r.Update(func(s *State) {
		s.MultiSession.Initialized = true
		s.MultiSession.Sessions[id] = conn
	})
}

// RemoveSession drops id from the multi-session entry.
func (r *Registry) RemoveSession(id string) {
	r.Update(func(s *State) {
		delete(s.MultiSession.Sessions, id)
	})
}
