package audit

// EventType categorizes an entry.
type EventType string

const (
	EventAuthentication EventType = "AUTHENTICATION"
	EventPassword       EventType = "PASSWORD"
	EventTwoFactor      EventType = "TWO_FACTOR"
	EventSession        EventType = "SESSION"
	EventAccount        EventType = "ACCOUNT"
	EventSecurity       EventType = "SECURITY"
	EventDataAccess     EventType = "DATA_ACCESS"
)

// Action names what happened within an EventType.
type Action string

const (
	ActionLogin             Action = "LOGIN"
	ActionLoginFailed       Action = "LOGIN_FAILED"
	ActionLogout            Action = "LOGOUT"
	ActionLogoutAll         Action = "LOGOUT_ALL"
	ActionTwoFactorRequired Action = "TWO_FACTOR_REQUIRED"
	ActionOAuthLogin        Action = "OAUTH_LOGIN"

	ActionPasswordChanged  Action = "PASSWORD_CHANGED"
	ActionPasswordReset    Action = "PASSWORD_RESET"
	ActionResetRequested   Action = "RESET_REQUESTED"
	ActionPasswordUpgraded Action = "PASSWORD_UPGRADED"

	ActionTwoFactorSetup     Action = "SETUP"
	ActionTwoFactorEnabled   Action = "ENABLED"
	ActionTwoFactorDisabled  Action = "DISABLED"
	ActionTwoFactorVerified  Action = "VERIFIED"
	ActionTwoFactorFailed    Action = "VERIFY_FAILED"
	ActionBackupCodeUsed     Action = "BACKUP_CODE_USED"
	ActionBackupCodesRotated Action = "BACKUP_CODES_REGENERATED"

	ActionSessionCreated Action = "CREATED"
	ActionSessionRevoked Action = "REVOKED"
	ActionSessionEvicted Action = "EVICTED"
	ActionSessionInvalid Action = "INVALID"

	ActionRegistered       Action = "REGISTERED"
	ActionEmailVerified    Action = "EMAIL_VERIFIED"
	ActionVerificationSent Action = "VERIFICATION_SENT"
	ActionOAuthLinked      Action = "OAUTH_LINKED"
	ActionOAuthUnlinked    Action = "OAUTH_UNLINKED"
	ActionAccountDisabled  Action = "DISABLED_ACCOUNT_ACCESS"

	ActionRateLimited        Action = "RATE_LIMITED"
	ActionIntegrityViolation Action = "INTEGRITY_VIOLATION"
	ActionTokenRejected      Action = "TOKEN_REJECTED"

	ActionAuditQueried Action = "AUDIT_QUERIED"
	ActionSessionsRead Action = "SESSIONS_LISTED"
)

var allowedActions = map[EventType]map[Action]struct{}{
	EventAuthentication: set(ActionLogin, ActionLoginFailed, ActionLogout, ActionLogoutAll, ActionTwoFactorRequired, ActionOAuthLogin),
	EventPassword:       set(ActionPasswordChanged, ActionPasswordReset, ActionResetRequested, ActionPasswordUpgraded),
	EventTwoFactor: set(ActionTwoFactorSetup, ActionTwoFactorEnabled, ActionTwoFactorDisabled, ActionTwoFactorVerified,
		ActionTwoFactorFailed, ActionBackupCodeUsed, ActionBackupCodesRotated),
	EventSession:    set(ActionSessionCreated, ActionSessionRevoked, ActionSessionEvicted, ActionSessionInvalid),
	EventAccount: set(ActionRegistered, ActionEmailVerified, ActionVerificationSent, ActionOAuthLinked,
		ActionOAuthUnlinked, ActionAccountDisabled),
	EventSecurity:   set(ActionRateLimited, ActionIntegrityViolation, ActionTokenRejected),
	EventDataAccess: set(ActionAuditQueried, ActionSessionsRead),
}

func set(actions ...Action) map[Action]struct{} {
	m := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		m[a] = struct{}{}
	}
	return m
}

// Allowed reports whether action is legal for eventType.
func Allowed(eventType EventType, action Action) bool {
	actions, ok := allowedActions[eventType]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}

// EventTypes lists every known type in a stable order.
func EventTypes() []EventType {
	return []EventType{
		EventAuthentication, EventPassword, EventTwoFactor, EventSession,
		EventAccount, EventSecurity, EventDataAccess,
	}
}

// Severity grades an entry.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return true
	}
	return false
}
