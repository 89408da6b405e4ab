package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/transport"
)

// SessionHeader carries the session id on every /mcp exchange
const SessionHeader = "Mcp-Session-Id"

// maxRequestBody bounds a POSTed JSON-RPC message
const maxRequestBody = 4 << 20

var localhostOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
	"http://[::1]",
	"https://[::1]",
}

// generateSessionID creates a session id from 256 random bits
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secure session ID: %w", err)
	}
	return "mcp_session_" + hex.EncodeToString(b), nil
}

// checkOrigin rejects browser requests from origins outside the allow list.
// Requests without an Origin header come from non-browser clients and pass.
func (s *Server) checkOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if !s.isOriginAllowed(origin) {
				s.logger.Warn("rejected origin", logging.String("origin", origin))
				http.Error(w, "Origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Expose-Headers", SessionHeader)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	for _, local := range localhostOrigins {
		if origin == local || strings.HasPrefix(origin, local+":") {
			return true
		}
	}
	return false
}

// handleOptions answers CORS preflight requests
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+SessionHeader+", Last-Event-ID")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// handleStream opens an SSE session. The session lives until the client
// disconnects, the session is deleted or the server shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID, err := generateSessionID()
	if err != nil {
		s.logger.WithError(err).Error("failed to create session")
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	w.Header().Set(SessionHeader, sessionID)
	conn, err := transport.NewSSEConn(sessionID, w)
	if err != nil {
		s.logger.WithError(err).Error("failed to open event stream")
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	s.addSession(r.Context(), sessionID, transport.NameSSE, conn)
	defer func() {
		// Close waits for an in-flight send so nothing writes after return
		_ = conn.Close()
		s.removeSession(r.Context(), sessionID)
	}()

	ready, _ := json.Marshal(map[string]string{"sessionId": sessionID})
	if err := conn.SendEvent("ready", ready); err != nil {
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				s.logger.Debug("keepalive failed", logging.Session(sessionID), logging.ErrorField(err))
				return
			}
		}
	}
}

// handlePost dispatches one inbound JSON-RPC message. A request gets a 200
// with the JSON response, anything else a 202.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID != "" && !s.hasSession(sessionID) {
		http.Error(w, "Session not found or expired", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusRequestEntityTooLarge)
		return
	}

	var resp []byte
	if sessionID == "" {
		resp = s.dispatcher.HandleUnbound(r.Context(), body)
	} else {
		resp = s.dispatcher.Handle(r.Context(), sessionID, body)
	}
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp); err != nil {
		s.logger.WithError(err).Debug("failed to write response", logging.Session(sessionID))
	}
}

// handleDelete terminates a session
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Missing "+SessionHeader+" header", http.StatusBadRequest)
		return
	}
	if !s.closeSession(r.Context(), sessionID) {
		http.Error(w, "Session not found or expired", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleWebSocket upgrades to a websocket session whose inbound frames feed
// the dispatcher.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID, err := generateSessionID()
	if err != nil {
		s.logger.WithError(err).Error("failed to create session")
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	w.Header().Set(SessionHeader, sessionID)

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// checkOrigin has already run
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := transport.NewWSConn(sessionID, c,
		transport.WithWSWriteTimeout(s.wsWriteTimeout),
		transport.WithWSLogger(s.logger),
	)
	s.addSession(r.Context(), sessionID, transport.NameWebSocket, conn)
	defer func() {
		_ = conn.Close()
		s.removeSession(r.Context(), sessionID)
	}()

	ctx, cancel := contextUntil(r.Context(), s.done)
	defer cancel()

	if err := conn.ReadLoop(ctx, s.dispatcher.Handler(sessionID)); err != nil {
		s.logger.WithError(err).Debug("websocket session ended", logging.Session(sessionID))
	}
}

// handleHealth reports liveness and the number of open sessions
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"sessions": s.SessionCount(),
	})
}
