package logutil

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestIsSensitiveLogField(t *testing.T) {
	sensitive := []string{"password", "Password Input", "X-Api-Key", "session_token", "Contraseña", "cookie"}
	for _, key := range sensitive {
		if !IsSensitiveLogField(key) {
			t.Errorf("expected %q to be sensitive", key)
		}
	}
	plain := []string{"username", "xpath=html/body/main/div/div/form/div/div/input", "Cliente Prueba"}
	for _, key := range plain {
		if IsSensitiveLogField(key) {
			t.Errorf("expected %q to be non-sensitive", key)
		}
	}
}

func TestRedactFillValue(t *testing.T) {
	if got := RedactFillValue("Admin2025!", "Enter the password"); got != "[REDACTED]" {
		t.Fatalf("password fill not redacted: %q", got)
	}
	if got := RedactFillValue("admin2", "Enter the username"); got != "admin2" {
		t.Fatalf("username fill altered: %q", got)
	}
	if got := RedactFillValue("", "password"); got != "" {
		t.Fatalf("empty value should stay empty, got %q", got)
	}
}

func TestTruncateForLog_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.StringMatching(`[a-zA-Z0-9 \n]{0,200}`).Draw(t, "value")
		limit := rapid.IntRange(1, 100).Draw(t, "limit")

		got := TruncateForLog(value, limit)
		if strings.Contains(got, "\n") {
			t.Fatalf("output contains newline: %q", got)
		}
		if len(got) > limit+len("... [truncated]") {
			t.Fatalf("output too long: %d > %d", len(got), limit)
		}
	})
}
