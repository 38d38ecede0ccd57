package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsCredentials(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"api_key", "sk-123",
		"acr_access_key", "abc",
		"query_hash", "deadbeef",
	})
	if len(out) != 6 {
		t.Fatalf("length: want=6 got=%d", len(out))
	}
	if out[1] != "[REDACTED]" {
		t.Fatalf("api_key: want=%q got=%v", "[REDACTED]", out[1])
	}
	if out[3] != "[REDACTED]" {
		t.Fatalf("access_key: want=%q got=%v", "[REDACTED]", out[3])
	}
	if out[5] != "deadbeef" {
		t.Fatalf("query_hash: want=%q got=%v", "deadbeef", out[5])
	}
}

func TestSanitizeKVsHashesUserIdentifiers(t *testing.T) {
	out := sanitizeKVs([]interface{}{"user_id", "u-1"})
	got, ok := out[1].(string)
	if !ok {
		t.Fatalf("user_id type: got=%T", out[1])
	}
	if !strings.HasPrefix(got, "hash:") || len(got) != len("hash:")+12 {
		t.Fatalf("user_id: unexpected hash %q", got)
	}
}

func TestSanitizeKVsKeepsDanglingKey(t *testing.T) {
	out := sanitizeKVs([]interface{}{"a", 1, "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("dangling key: got=%v", out)
	}
}

func TestSanitizeNestedMap(t *testing.T) {
	out := sanitizeKVs([]interface{}{"payload", map[string]interface{}{"password": "x", "url": "https://a"}})
	m, ok := out[1].(map[string]interface{})
	if !ok {
		t.Fatalf("payload type: got=%T", out[1])
	}
	if m["password"] != "[REDACTED]" {
		t.Fatalf("nested password: got=%v", m["password"])
	}
	if m["url"] != "https://a" {
		t.Fatalf("nested url: got=%v", m["url"])
	}
}

func TestNopLoggerDoesNotPanic(t *testing.T) {
	log := Nop()
	log.With("service", "test").Info("hello", "k", "v")
	log.Sync()
}
