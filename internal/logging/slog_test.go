package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetup_LevelsAndFormats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  string
		logAt  func(l *slog.Logger)
		want   bool
	}{
		{"info suppressed at warn", "json", "warn", func(l *slog.Logger) { l.Info("hello") }, false},
		{"warn emitted at warn", "json", "warn", func(l *slog.Logger) { l.Warn("hello") }, true},
		{"debug emitted at debug", "text", "debug", func(l *slog.Logger) { l.Debug("hello") }, true},
		{"default level is info", "json", "", func(l *slog.Logger) { l.Debug("hello") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := Setup(&buf, tt.format, tt.level)
			tt.logAt(logger)
			got := strings.Contains(buf.String(), "hello")
			if got != tt.want {
				t.Errorf("output contains message = %v, want %v (output: %q)", got, tt.want, buf.String())
			}
		})
	}
}

func TestSetup_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(&buf, "json", "info")
	logger.Info("structured", Operation("test.op"), Status(StatusSuccess))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if entry[KeyOperation] != "test.op" {
		t.Errorf("operation attr = %v, want test.op", entry[KeyOperation])
	}
	if entry[KeyStatus] != StatusSuccess {
		t.Errorf("status attr = %v, want %v", entry[KeyStatus], StatusSuccess)
	}
}

func TestAnonymizeUserID(t *testing.T) {
	if AnonymizeUserID("") != "" {
		t.Error("empty user ID should anonymize to empty string")
	}

	h1 := AnonymizeUserID("u1")
	h2 := AnonymizeUserID("u1")
	h3 := AnonymizeUserID("u2")

	if h1 != h2 {
		t.Error("anonymization should be deterministic")
	}
	if h1 == h3 {
		t.Error("different user IDs should produce different hashes")
	}
	if !strings.HasPrefix(h1, "user:") {
		t.Errorf("hash %q missing user: prefix", h1)
	}
	if strings.Contains(h1, "u1") {
		t.Error("hash must not contain the raw user ID")
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken(""); got != "<empty>" {
		t.Errorf("SanitizeToken(\"\") = %q", got)
	}
	got := SanitizeToken("ya29.supersecret")
	if strings.Contains(got, "ya29") {
		t.Errorf("SanitizeToken leaked token content: %q", got)
	}
	if got != "[token:16 chars]" {
		t.Errorf("SanitizeToken = %q, want [token:16 chars]", got)
	}
}

func TestErr_NilSafe(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(&buf, "json", "info")
	logger.Info("no error here", Err(nil))

	if strings.Contains(buf.String(), `"`+KeyError+`"`) {
		t.Errorf("nil error should not emit an error attribute: %q", buf.String())
	}
}
