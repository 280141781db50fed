package instrumentation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestAuditLogger_ToolInvocationHashesAccount(t *testing.T) {
	logger, buf := newBufferLogger()
	al := NewAuditLogger(logger, AuditLoggingConfig{Enabled: true})

	ti := NewToolInvocation("get_workspace_profile").WithAccount("jane@example.com")
	ti.Complete(false, errors.New("not authenticated"))
	al.LogToolInvocation(ti)

	out := buf.String()
	if strings.Contains(out, "jane@example.com") {
		t.Errorf("raw account leaked into audit log: %s", out)
	}
	for _, want := range []string{"tool_failed", "example.com", "user_hash", "not authenticated"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in audit log: %s", want, out)
		}
	}
	if ti.Status() != StatusError {
		t.Errorf("Status = %q, want error", ti.Status())
	}
}

func TestAuditLogger_IncludePII(t *testing.T) {
	logger, buf := newBufferLogger()
	al := NewAuditLogger(logger, AuditLoggingConfig{Enabled: true, IncludePII: true})

	al.LogCredentialEvent(context.Background(), CredentialEvent{Action: "purged", Account: "jane@example.com", Reason: "invalid_grant"})

	out := buf.String()
	for _, want := range []string{"credential_purged", "jane@example.com", "invalid_grant"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in audit log: %s", want, out)
		}
	}
}

func TestAuditLogger_DisabledAndNil(t *testing.T) {
	logger, buf := newBufferLogger()
	al := NewAuditLogger(logger, AuditLoggingConfig{Enabled: false})
	al.LogCredentialEvent(context.Background(), CredentialEvent{Action: "stored", Account: "a@x.com"})
	al.LogToolInvocation(NewToolInvocation("t").Complete(true, nil))
	if buf.Len() != 0 {
		t.Errorf("disabled audit logger wrote output: %s", buf.String())
	}

	var nilLogger *AuditLogger
	nilLogger.LogCredentialEvent(context.Background(), CredentialEvent{Action: "stored"})
	nilLogger.LogToolInvocation(NewToolInvocation("t"))
}
