package logger

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{SugaredLogger: zap.New(core).Sugar()}, logs
}

func TestSanitizeRedactsCredentials(t *testing.T) {
	log, logs := observed()
	log.Info("submit",
		"sieve_api_key", "sk-live",
		"signed_url", "https://storage.googleapis.com/b/o?X-Goog-Signature=abc",
		"job_id", "7f0c",
	)

	fields := logs.All()[0].ContextMap()
	if fields["sieve_api_key"] != "[REDACTED]" {
		t.Fatalf("api key logged: %v", fields["sieve_api_key"])
	}
	if fields["signed_url"] != "[REDACTED]" {
		t.Fatalf("signed url logged: %v", fields["signed_url"])
	}
	if fields["job_id"] != "7f0c" {
		t.Fatalf("job_id altered: %v", fields["job_id"])
	}
}

func TestSanitizeHashesIdentifiers(t *testing.T) {
	log, logs := observed()
	log.With("payment_intent_id", "pi_123").Warn("purchase", "user_id", "u-1")

	fields := logs.All()[0].ContextMap()
	for _, key := range []string{"user_id", "payment_intent_id"} {
		got, _ := fields[key].(string)
		if !strings.HasPrefix(got, "hash:") {
			t.Fatalf("%s not hashed: %v", key, fields[key])
		}
	}
	if hashValue("u-1") != fields["user_id"] {
		t.Fatalf("hash not stable")
	}
}

func TestSanitizeCatchesBareJWT(t *testing.T) {
	got := sanitizeValue("note", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.sig")
	if got != "[REDACTED]" {
		t.Fatalf("jwt value passed through: %v", got)
	}
}
