package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeKVs(t *testing.T) {
	tests := []struct {
		name string
		in   []interface{}
		want []interface{}
	}{
		{"empty", nil, nil},
		{"plain", []interface{}{"url", "/v1/chats"}, []interface{}{"url", "/v1/chats"}},
		{"token", []interface{}{"api_token", "abc"}, []interface{}{"api_token", "[REDACTED]"}},
		{"cookie", []interface{}{"Cookie", "sid=1"}, []interface{}{"Cookie", "[REDACTED]"}},
		{"credential origins", []interface{}{"bearer_from", "command-line flag", "session_from", "configuration"},
			[]interface{}{"bearer_from", "command-line flag", "session_from", "configuration"}},
		{"token source is redacted", []interface{}{"token_source", "x"}, []interface{}{"token_source", "[REDACTED]"}},
		{"odd", []interface{}{"k", 1, "dangling"}, []interface{}{"k", 1, "dangling"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeKVs(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("sanitizeKVs() len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sanitizeKVs()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestLogger_RedactsThroughWith(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.With("token", "secret-value").Info("request", "attempt", 1)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", ctx["token"])
	}
	if ctx["attempt"] != int64(1) {
		t.Errorf("attempt = %v (%T), want 1", ctx["attempt"], ctx["attempt"])
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		l, err := New("bogus", format)
		if err != nil {
			t.Fatalf("New(%q) error = %v", format, err)
		}
		if l.SugaredLogger == nil {
			t.Fatalf("New(%q) returned nil logger", format)
		}
	}
	Nop().Info("discarded")
}
