package goSession

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

const (
	auditEventSessionCreated         = "session_created"
	auditEventRefreshSuccess         = "refresh_success"
	auditEventRefreshReissued        = "refresh_reissued"
	auditEventRefreshUnauthorised    = "refresh_unauthorised"
	auditEventRefreshRateLimited     = "refresh_rate_limited"
	auditEventRefreshFailure         = "refresh_failure"
	auditEventRefreshTheftDetected   = "refresh_theft_detected"
	auditEventSessionRevoked         = "session_revoked"
	auditEventSessionsRevokedForUser = "sessions_revoked_for_user"
)

// AuditErrorCode is the stable, non-sensitive error label written to
// AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrInvalidToken      AuditErrorCode = "invalid_token"
	auditErrExpiredToken      AuditErrorCode = "expired_token"
	auditErrSessionNotFound   AuditErrorCode = "session_not_found"
	auditErrSessionRevoked    AuditErrorCode = "session_revoked"
	auditErrForwardGeneration AuditErrorCode = "forward_generation"
	auditErrReissueMismatch   AuditErrorCode = "reissue_mismatch"
	auditErrTokenTheft        AuditErrorCode = internalaudit.TheftErrorCode
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrContention        AuditErrorCode = "contention"
	auditErrUnavailable       AuditErrorCode = "backend_unavailable"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	code AuditErrorCode,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	e.audit.Emit(ctx, AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Error:     string(code),
		Metadata:  metadata,
	})
}

func refreshFailureCode(kind flows.RefreshFailureKind, err error) AuditErrorCode {
	switch kind {
	case flows.RefreshFailureDecode:
		if errors.Is(err, token.ErrExpired) {
			return auditErrExpiredToken
		}
		return auditErrInvalidToken
	case flows.RefreshFailureSessionNotFound:
		return auditErrSessionNotFound
	case flows.RefreshFailureRevoked:
		return auditErrSessionRevoked
	case flows.RefreshFailureForwardGeneration:
		return auditErrForwardGeneration
	case flows.RefreshFailureReissueMismatch:
		return auditErrReissueMismatch
	case flows.RefreshFailureTheft:
		return auditErrTokenTheft
	case flows.RefreshFailureRateLimited:
		return auditErrRateLimited
	case flows.RefreshFailureContention:
		return auditErrContention
	case flows.RefreshFailureStore:
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

func auditErrorCode(err error) AuditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, session.ErrNotFound), errors.Is(err, ErrUnauthorised):
		return auditErrSessionNotFound
	case errors.Is(err, session.ErrUnavailable), errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
