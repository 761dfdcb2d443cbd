package internaldefs

import (
	"github.com/MrEthical07/authgate"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authgate.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authgate.MetricLoginSuccess, Name: "authgate_login_success_total", Help: "Sign-ins that issued a session."},
	{ID: authgate.MetricLoginFailure, Name: "authgate_login_failure_total", Help: "Rejected password sign-ins."},
	{ID: authgate.MetricMFARequired, Name: "authgate_mfa_required_total", Help: "Password sign-ins that issued an MFA challenge."},
	{ID: authgate.MetricMFASuccess, Name: "authgate_mfa_success_total", Help: "MFA challenges completed."},
	{ID: authgate.MetricMFAFailure, Name: "authgate_mfa_failure_total", Help: "Rejected MFA verifications."},
	{ID: authgate.MetricMFAAttemptsExceeded, Name: "authgate_mfa_attempts_exceeded_total", Help: "MFA challenges destroyed after too many wrong codes."},
	{ID: authgate.MetricMFAReplay, Name: "authgate_mfa_replay_total", Help: "MFA challenges used concurrently after verification."},
	{ID: authgate.MetricSSOSuccess, Name: "authgate_sso_success_total", Help: "SSO tokens exchanged for a session."},
	{ID: authgate.MetricSSOFailure, Name: "authgate_sso_failure_total", Help: "Rejected SSO exchanges."},
	{ID: authgate.MetricSessionCreated, Name: "authgate_session_created_total", Help: "Sessions issued."},
	{ID: authgate.MetricSessionInvalidated, Name: "authgate_session_invalidated_total", Help: "Sessions removed by logout."},
	{ID: authgate.MetricLogout, Name: "authgate_logout_total", Help: "Logout calls."},
	{ID: authgate.MetricPasswordResetRequest, Name: "authgate_password_reset_request_total", Help: "Password reset requests."},
	{ID: authgate.MetricPasswordResetNotFound, Name: "authgate_password_reset_not_found_total", Help: "Password reset requests for unknown emails."},
	{ID: authgate.MetricPasswordResetSuccess, Name: "authgate_password_reset_success_total", Help: "Completed password resets."},
	{ID: authgate.MetricPasswordResetFailure, Name: "authgate_password_reset_failure_total", Help: "Rejected password reset completions."},
	{ID: authgate.MetricSyncSubmitted, Name: "authgate_sync_submitted_total", Help: "External identity sync jobs submitted."},
	{ID: authgate.MetricSyncDropped, Name: "authgate_sync_dropped_total", Help: "External identity sync jobs dropped on a full queue."},
	{ID: authgate.MetricSyncSucceeded, Name: "authgate_sync_succeeded_total", Help: "External identity sync jobs that succeeded."},
	{ID: authgate.MetricSyncFailed, Name: "authgate_sync_failed_total", Help: "External identity sync jobs that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: authgate.MetricLoginLatency, Name: "authgate_login_latency_seconds", Help: "Login latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authgate_audit_dropped_total"

// HistogramUpperBounds are the bucket bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
