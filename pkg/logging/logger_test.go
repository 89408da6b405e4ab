package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-notify-go/pkg/errors"
)

// TestLogger tests the basic logger functionality
func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, &TextFormatter{DisableColors: true, TimestampFormat: time.RFC3339})
	logger.SetLevel(DebugLevel)

	logger.Debug("Debug message", String("key", "value"))
	logger.Info("Info message", Int("count", 42))
	logger.Warn("Warning message", Bool("flag", true))
	logger.Error("Error message", ErrorField(errors.New("test error")))

	output := buf.String()

	for _, want := range []string{
		"Debug message", "Info message", "Warning message", "Error message",
		"key=value", "count=42", "flag=true", "error=test error",
		"[DEBUG]", "[ERROR]",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in output:\n%s", want, output)
		}
	}
}

// TestLogLevels tests log level filtering
func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewTextFormatter())
	logger.SetLevel(WarnLevel)

	logger.Debug("Debug message")
	logger.Info("Info message")
	logger.Warn("Warning message")
	logger.Error("Error message")

	output := buf.String()

	if strings.Contains(output, "Debug message") || strings.Contains(output, "Info message") {
		t.Error("Debug and info messages should be filtered out")
	}
	if !strings.Contains(output, "Warning message") || !strings.Contains(output, "Error message") {
		t.Error("Warn and error messages should be logged")
	}
	if logger.GetLevel() != WarnLevel {
		t.Errorf("GetLevel() = %v, want %v", logger.GetLevel(), WarnLevel)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{" error ", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"chatty", InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// TestJSONFormatter tests the JSON output shape
func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewJSONFormatter())

	logger.Info("sent notification",
		Session("sess-1"),
		Transport("multi-session"),
		Method("notifications/progress"),
		Duration("elapsed", 1500*time.Millisecond),
	)

	var out map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to parse JSON output: %v", err)
	}

	expect := map[string]interface{}{
		"level":      "INFO",
		"message":    "sent notification",
		"session_id": "sess-1",
		"transport":  "multi-session",
		"method":     "notifications/progress",
		"elapsed":    "1.5s",
	}
	for k, v := range expect {
		if out[k] != v {
			t.Errorf("%s = %v, want %v", k, out[k], v)
		}
	}
	if _, ok := out["timestamp"]; !ok {
		t.Error("Expected timestamp in JSON output")
	}
}

// TestWithFields tests that derived loggers keep parent fields without
// leaking their own back to the parent
func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, &TextFormatter{DisableColors: true, DisableTimestamp: true})
	child := parent.WithFields(String("component", "Hub"), String("operation", "broadcast"))

	child.Info("fan-out", Int("recipients", 3))
	parent.Info("plain")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "Hub/broadcast: fan-out") {
		t.Errorf("Expected component prefix in %q", lines[0])
	}
	if strings.Contains(lines[0], "component=") {
		t.Errorf("Component should not be repeated as a field: %q", lines[0])
	}
	if strings.Contains(lines[1], "Hub") {
		t.Errorf("Parent logger picked up child fields: %q", lines[1])
	}
}

// TestWithError tests MCPError context extraction
func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewJSONFormatter())

	err := mcperrors.SessionNotFound("ghost").WithContext(&mcperrors.Context{
		SessionID: "ghost",
		Component: "Hub",
		Operation: "send_to_session",
	})
	logger.WithError(err).Warn("delivery skipped")

	var out map[string]interface{}
	if uErr := json.Unmarshal(buf.Bytes(), &out); uErr != nil {
		t.Fatalf("Failed to parse JSON output: %v", uErr)
	}

	if out["error_code"] != float64(mcperrors.CodeSessionNotFound) {
		t.Errorf("error_code = %v", out["error_code"])
	}
	if out["error_category"] != string(mcperrors.CategoryNotFound) {
		t.Errorf("error_category = %v", out["error_category"])
	}
	if out["session_id"] != "ghost" || out["component"] != "Hub" {
		t.Errorf("missing error context fields: %v", out)
	}
}

// TestWithContext tests request id propagation from a context
func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, &TextFormatter{DisableColors: true, DisableTimestamp: true})

	ctx := ContextWithRequestID(context.Background(), "req-123")
	logger.WithContext(ctx).Info("handled")

	if !strings.Contains(buf.String(), "[req-123]") {
		t.Errorf("Expected request id in output: %q", buf.String())
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("Empty context should carry no request id")
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("discarded")
	logger.WithFields(String("k", "v")).Error("also discarded")
}

func TestNewFormatter(t *testing.T) {
	if f, err := NewFormatter("json"); err != nil {
		t.Fatal(err)
	} else if _, ok := f.(*JSONFormatter); !ok {
		t.Errorf("NewFormatter(json) returned %T", f)
	}
	if _, err := NewFormatter("xml"); err == nil {
		t.Error("Expected error for unknown format")
	}
}

// TestHTTPMiddleware tests request id stamping and Flush passthrough
func TestHTTPMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, NewJSONFormatter())

	var seenID string
	var flushed bool
	handler := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
			flushed = true
		}
	}))

	t.Run("generated id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))

		if rec.Code != http.StatusAccepted {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
		}
		if seenID == "" || rec.Header().Get(RequestIDHeader) != seenID {
			t.Errorf("request id not propagated: ctx=%q header=%q", seenID, rec.Header().Get(RequestIDHeader))
		}
		if !flushed || !rec.Flushed {
			t.Error("Flush should pass through to the underlying writer")
		}
		if !strings.Contains(buf.String(), "HTTP request completed") {
			t.Error("Expected completion log line")
		}
	})

	t.Run("client supplied id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(RequestIDHeader, "from-client")
		handler.ServeHTTP(rec, req)

		if seenID != "from-client" {
			t.Errorf("request id = %q, want from-client", seenID)
		}
	})
}
