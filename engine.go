package goSession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/token"
)

// Engine creates, refreshes and revokes sessions. It holds no mutable state of
// its own beyond counters, so all methods are safe for concurrent use.
type Engine struct {
	config  Config
	store   session.Store
	codec   *token.Codec
	limiter *rate.Limiter
	flows   flows.Service
	audit   *internalaudit.Dispatcher
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Close flushes pending audit events. It does not close the session store.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns the number of audit events dropped because the buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditDroppedByType breaks AuditDropped down by event type. Theft verdicts
// only appear here when the caller's context ended before the event was queued.
func (e *Engine) AuditDroppedByType() map[string]uint64 {
	if e == nil || e.audit == nil {
		return map[string]uint64{}
	}
	return e.audit.DroppedByType()
}

// MetricsSnapshot returns a copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Codec returns the token codec, for verifying access and id-refresh tokens
// outside the engine.
func (e *Engine) Codec() *token.Codec {
	if e == nil {
		return nil
	}
	return e.codec
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// CreateSession starts a generation-0 session for userID and returns its token
// triple.
func (e *Engine) CreateSession(ctx context.Context, userID string) (*SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUserID
	}

	res, err := e.flows.Create(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventSessionCreated, false, userID, "", auditErrorCode(err), nil)
		if errors.Is(err, session.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrSessionCreationFailed, err)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventSessionCreated, true, userID, res.Session.Handle, "", nil)
	return sessionInfo(res.Session, res.Tokens, false), nil
}

// Refresh exchanges refreshToken for a token triple. Token and session problems
// are reported through RefreshResult.Outcome; the error is reserved for
// transient conditions the caller may retry: ErrStoreUnavailable,
// ErrRefreshContention and ErrRefreshRateLimited.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	if !e.ready() {
		return RefreshResult{}, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() {
			e.metrics.Observe(MetricRefreshLatency, time.Since(start))
		}()
	}

	res := e.flows.Refresh(ctx, refreshToken)
	if res.Retried {
		e.metricInc(MetricRefreshConflictRetry)
	}

	switch res.Failure {
	case flows.RefreshFailureNone:
		event := auditEventRefreshSuccess
		if res.Reissued {
			event = auditEventRefreshReissued
			e.metricInc(MetricRefreshReissued)
		} else {
			e.metricInc(MetricRefreshSuccess)
		}
		e.emitAudit(ctx, event, true, res.UserID, res.SessionID, "", generationMetadata(res.Session))
		return RefreshResult{
			Outcome: OutcomeOK,
			Session: sessionInfo(res.Session, res.Tokens, res.Reissued),
		}, nil

	case flows.RefreshFailureDecode,
		flows.RefreshFailureSessionNotFound,
		flows.RefreshFailureRevoked,
		flows.RefreshFailureForwardGeneration,
		flows.RefreshFailureReissueMismatch:
		e.metricInc(MetricRefreshUnauthorised)
		e.emitAudit(ctx, auditEventRefreshUnauthorised, false, res.UserID, res.SessionID, refreshFailureCode(res.Failure, res.Err), nil)
		return RefreshResult{
			Outcome: OutcomeUnauthorised,
			Message: unauthorisedMessage(res.Failure, res.Err),
		}, nil

	case flows.RefreshFailureTheft:
		e.metricInc(MetricRefreshTheftDetected)
		e.emitAudit(ctx, auditEventRefreshTheftDetected, false, res.UserID, res.SessionID, auditErrTokenTheft, generationMetadata(res.Session))
		e.logger.Warn("goSession: refresh token theft detected", "session_id", res.SessionID, "user_id", res.UserID)
		if e.config.Security.RevokeAllOnTheft && res.UserID != "" {
			e.revokeAllAfterTheft(ctx, res.UserID)
		}
		return RefreshResult{
			Outcome: OutcomeTheftDetected,
			Theft:   &TheftInfo{Handle: res.SessionID, UserID: res.UserID},
		}, nil

	case flows.RefreshFailureRateLimited:
		if errors.Is(res.Err, rate.ErrRedisUnavailable) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshFailure, false, "", res.SessionID, auditErrUnavailable, nil)
			return RefreshResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, res.Err)
		}
		e.metricInc(MetricRefreshRateLimited)
		e.emitAudit(ctx, auditEventRefreshRateLimited, false, "", res.SessionID, auditErrRateLimited, nil)
		return RefreshResult{}, ErrRefreshRateLimited

	case flows.RefreshFailureContention:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, res.UserID, res.SessionID, auditErrContention, nil)
		return RefreshResult{}, ErrRefreshContention

	case flows.RefreshFailureStore:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, res.UserID, res.SessionID, auditErrUnavailable, nil)
		return RefreshResult{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, res.Err)

	default:
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, res.UserID, res.SessionID, auditErrInternal, nil)
		e.logger.Error("goSession: refresh failed", "session_id", res.SessionID, "error", res.Err)
		return RefreshResult{}, fmt.Errorf("refresh: %w", res.Err)
	}
}

func (e *Engine) revokeAllAfterTheft(ctx context.Context, userID string) {
	n, err := e.flows.RevokeAllForUser(ctx, userID)
	if err != nil {
		e.logger.Warn("goSession: revoke all after theft failed", "user_id", userID, "error", err)
		return
	}
	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventSessionsRevokedForUser, true, userID, "", "", func() map[string]string {
		return map[string]string{"count": strconv.Itoa(n), "reason": "theft"}
	})
}

// RevokeSession revokes one session. Revoking an already revoked session
// succeeds; an unknown handle returns ErrUnauthorised.
func (e *Engine) RevokeSession(ctx context.Context, handle string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(handle) == "" {
		return ErrInvalidHandle
	}

	if err := e.flows.Revoke(ctx, handle); err != nil {
		e.emitAudit(ctx, auditEventSessionRevoked, false, "", handle, auditErrorCode(err), nil)
		return mapStoreError(err)
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, "", handle, "", nil)
	return nil
}

// RevokeAllForUser revokes every active session of userID and returns how many
// were revoked.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidUserID
	}

	n, err := e.flows.RevokeAllForUser(ctx, userID)
	if err != nil {
		e.emitAudit(ctx, auditEventSessionsRevokedForUser, false, userID, "", auditErrorCode(err), nil)
		return 0, mapStoreError(err)
	}

	for i := 0; i < n; i++ {
		e.metricInc(MetricSessionRevoked)
	}
	e.emitAudit(ctx, auditEventSessionsRevokedForUser, true, userID, "", "", func() map[string]string {
		return map[string]string{"count": strconv.Itoa(n)}
	})
	return n, nil
}

// GetSession returns the stored record of handle. An unknown handle returns
// ErrUnauthorised.
func (e *Engine) GetSession(ctx context.Context, handle string) (*session.Session, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(handle) == "" {
		return nil, ErrInvalidHandle
	}

	sess, err := e.store.Get(ctx, handle)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return sess, nil
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return ErrUnauthorised
	case errors.Is(err, session.ErrUnavailable):
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	default:
		return err
	}
}

func sessionInfo(sess *session.Session, tokens token.Triple, reissued bool) *SessionInfo {
	return &SessionInfo{
		Handle:         sess.Handle,
		UserID:         sess.UserID,
		Generation:     sess.Generation,
		AccessToken:    tokenInfo(tokens.Access),
		RefreshToken:   tokenInfo(tokens.Refresh),
		IDRefreshToken: tokenInfo(tokens.IDRefresh),
		AntiCSRFToken:  tokens.AntiCSRF,
		Reissued:       reissued,
	}
}

func tokenInfo(issued token.Issued) TokenInfo {
	return TokenInfo{
		Token:     issued.Token,
		IssuedAt:  issued.IssuedAt,
		ExpiresAt: issued.ExpiresAt,
	}
}

func generationMetadata(sess *session.Session) func() map[string]string {
	if sess == nil {
		return nil
	}
	return func() map[string]string {
		return map[string]string{"generation": strconv.FormatUint(sess.Generation, 10)}
	}
}

func unauthorisedMessage(kind flows.RefreshFailureKind, err error) string {
	switch kind {
	case flows.RefreshFailureDecode:
		if errors.Is(err, token.ErrExpired) {
			return "refresh token expired"
		}
		return "invalid refresh token"
	case flows.RefreshFailureSessionNotFound:
		return "session does not exist"
	case flows.RefreshFailureRevoked:
		return "session revoked"
	case flows.RefreshFailureForwardGeneration:
		return "refresh token generation not issued by this session"
	case flows.RefreshFailureReissueMismatch:
		return "refresh token superseded"
	default:
		return "unauthorised"
	}
}
