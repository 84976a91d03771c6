package internaldefs

import (
	"github.com/MrEthical07/authguard"
)

// CounterDef binds an engine counter to its exported name.
type CounterDef struct {
	ID   authguard.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   authguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: authguard.MetricLoginSuccess, Name: "authguard_login_success_total", Help: "Successful password logins."},
	{ID: authguard.MetricLoginFailure, Name: "authguard_login_failure_total", Help: "Rejected password logins."},
	{ID: authguard.MetricLoginRateLimited, Name: "authguard_login_rate_limited_total", Help: "Logins denied by a rate policy."},
	{ID: authguard.MetricTwoFactorRequired, Name: "authguard_two_factor_required_total", Help: "Logins that stopped for a second factor."},
	{ID: authguard.MetricTwoFactorSuccess, Name: "authguard_two_factor_success_total", Help: "Accepted second-factor codes."},
	{ID: authguard.MetricTwoFactorFailure, Name: "authguard_two_factor_failure_total", Help: "Rejected second-factor codes."},
	{ID: authguard.MetricTwoFactorChallengeExhausted, Name: "authguard_two_factor_challenge_exhausted_total", Help: "Pending challenges dropped after too many bad codes."},
	{ID: authguard.MetricBackupCodeUsed, Name: "authguard_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: authguard.MetricBackupCodeRegenerated, Name: "authguard_backup_code_regenerated_total", Help: "Backup code sets regenerated."},
	{ID: authguard.MetricTwoFactorEnabled, Name: "authguard_two_factor_enabled_total", Help: "Two-factor enrollments confirmed."},
	{ID: authguard.MetricTwoFactorDisabled, Name: "authguard_two_factor_disabled_total", Help: "Two-factor enrollments removed."},
	{ID: authguard.MetricRateLimitHit, Name: "authguard_rate_limit_hit_total", Help: "Requests denied by any rate policy."},
	{ID: authguard.MetricSessionCreated, Name: "authguard_session_created_total", Help: "Sessions issued."},
	{ID: authguard.MetricSessionInvalid, Name: "authguard_session_invalid_total", Help: "Session tokens rejected."},
	{ID: authguard.MetricSessionEvicted, Name: "authguard_session_evicted_total", Help: "Sessions evicted by the concurrency cap."},
	{ID: authguard.MetricSessionRevoked, Name: "authguard_session_revoked_total", Help: "Sessions revoked by id."},
	{ID: authguard.MetricLogout, Name: "authguard_logout_total", Help: "Single-session logouts."},
	{ID: authguard.MetricLogoutAll, Name: "authguard_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: authguard.MetricRegisterSuccess, Name: "authguard_register_success_total", Help: "Accounts registered."},
	{ID: authguard.MetricRegisterConflict, Name: "authguard_register_conflict_total", Help: "Registrations rejected for a taken address."},
	{ID: authguard.MetricEmailVerified, Name: "authguard_email_verified_total", Help: "Addresses verified."},
	{ID: authguard.MetricEmailVerificationFailure, Name: "authguard_email_verification_failure_total", Help: "Rejected verification tokens."},
	{ID: authguard.MetricPasswordChangeSuccess, Name: "authguard_password_change_success_total", Help: "Password changes."},
	{ID: authguard.MetricPasswordChangeInvalidOld, Name: "authguard_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authguard.MetricPasswordResetRequest, Name: "authguard_password_reset_request_total", Help: "Password reset requests."},
	{ID: authguard.MetricPasswordResetSuccess, Name: "authguard_password_reset_success_total", Help: "Completed password resets."},
	{ID: authguard.MetricPasswordResetFailure, Name: "authguard_password_reset_failure_total", Help: "Rejected password reset tokens."},
	{ID: authguard.MetricOAuthLogin, Name: "authguard_oauth_login_total", Help: "Sign-ins through an OAuth provider."},
	{ID: authguard.MetricOAuthLinked, Name: "authguard_oauth_linked_total", Help: "Provider identities linked."},
	{ID: authguard.MetricOAuthFailure, Name: "authguard_oauth_failure_total", Help: "Failed OAuth flows."},
	{ID: authguard.MetricAuditAppendFailure, Name: "authguard_audit_append_failure_total", Help: "Audit entries that could not be written."},
	{ID: authguard.MetricIntegrityViolation, Name: "authguard_integrity_violation_total", Help: "Audit entries failing checksum verification."},
	{ID: authguard.MetricNotifyFailure, Name: "authguard_notify_failure_total", Help: "Notifications that could not be delivered."},
	{ID: authguard.MetricStorageUnavailable, Name: "authguard_storage_unavailable_total", Help: "Operations failed by an unreachable store."},
}

var HistogramDefs = []HistogramDef{
	{ID: authguard.MetricValidateLatency, Name: "authguard_validate_latency_seconds", Help: "Session validation latency."},
}

// HistogramBounds are the upper bounds of the engine's eight latency buckets.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix names the buckets where a label is not available.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding missing buckets
// with zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
