package goSession

import "time"

// SecurityReport summarises the security-relevant settings of a built Engine.
type SecurityReport struct {
	SigningAlgorithm      string
	KeyRotationReady      bool
	AccessTTL             time.Duration
	RefreshTTL            time.Duration
	GraceWindow           time.Duration
	AntiCSRFEnabled       bool
	RefreshThrottleActive bool
	IPThrottleActive      bool
	RevokeAllOnTheft      bool
	AuditEnabled          bool
	AuditMayDrop          bool
}

// SecurityReport returns the effective settings. A nil Engine reports zero
// values.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	throttle := e.config.Security.EnableRefreshThrottle &&
		e.config.Security.MaxRefreshAttempts > 0 &&
		e.config.Security.RefreshCooldownDuration > 0

	return SecurityReport{
		SigningAlgorithm:      e.config.Token.SigningMethod,
		KeyRotationReady:      e.config.Token.KeyID != "" && len(e.config.Token.VerifyKeys) > 0,
		AccessTTL:             e.config.Token.AccessTTL,
		RefreshTTL:            e.config.Token.RefreshTTL,
		GraceWindow:           e.config.Session.GraceWindow,
		AntiCSRFEnabled:       e.config.Token.EnableAntiCSRF,
		RefreshThrottleActive: throttle,
		IPThrottleActive:      throttle && e.config.Security.EnableIPThrottle,
		RevokeAllOnTheft:      e.config.Security.RevokeAllOnTheft,
		AuditEnabled:          e.config.Audit.Enabled,
		AuditMayDrop:          e.config.Audit.Enabled && e.config.Audit.DropIfFull,
	}
}
