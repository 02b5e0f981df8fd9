package api

import (
	"log/slog"
	"net/http"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditRegister         AuditEvent = "register"
	AuditLoginSuccess     AuditEvent = "login_success"
	AuditLoginFailure     AuditEvent = "login_failure"
	AuditLoginRateLimited AuditEvent = "login_rate_limited"
	AuditBlobStored       AuditEvent = "blob_stored"
	AuditBlobFetched      AuditEvent = "blob_fetched"
	AuditGrantCreated     AuditEvent = "grant_created"
	AuditGrantRedeemed    AuditEvent = "grant_redeemed"
	AuditGrantRevoked     AuditEvent = "grant_revoked"
)

// auditLogger wraps slog.Logger for structured security audit logging.
// Principals are public identifiers; nothing derived from a passphrase
// ever reaches a log line.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
}

// logEvent is a convenience for events tied to a principal.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, principal string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("principal", principal),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a failed authentication attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
