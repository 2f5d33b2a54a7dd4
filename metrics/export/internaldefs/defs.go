package internaldefs

import (
	goLogin "github.com/MrEthical07/goLogin"
)

type CounterDef struct {
	ID   goLogin.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   goLogin.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter.
var CounterDefs = []CounterDef{
	{ID: goLogin.MetricLoginSuccess, Name: "gologin_login_success_total", Help: "Successful logins."},
	{ID: goLogin.MetricLoginFailure, Name: "gologin_login_failure_total", Help: "Denied logins, any reason."},
	{ID: goLogin.MetricLoginRateLimited, Name: "gologin_login_rate_limited_total", Help: "Logins denied by an admission window."},
	{ID: goLogin.MetricLoginLocked, Name: "gologin_login_locked_total", Help: "Logins denied because the account was locked."},
	{ID: goLogin.MetricAccountLocked, Name: "gologin_account_locked_total", Help: "Accounts locked after repeated password failures."},
	{ID: goLogin.MetricAdmissionDegraded, Name: "gologin_admission_degraded_total", Help: "Counter store failures seen on the login path."},
	{ID: goLogin.MetricRefreshSuccess, Name: "gologin_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: goLogin.MetricRefreshFailure, Name: "gologin_refresh_failure_total", Help: "Failed refresh token rotations."},
	{ID: goLogin.MetricRefreshReuseDetected, Name: "gologin_refresh_reuse_detected_total", Help: "Refresh tokens presented after use."},
	{ID: goLogin.MetricLogout, Name: "gologin_logout_total", Help: "Single-token logouts."},
	{ID: goLogin.MetricLogoutAll, Name: "gologin_logout_all_total", Help: "Logout-all operations."},
	{ID: goLogin.MetricAccountCreationSuccess, Name: "gologin_account_creation_success_total", Help: "Registered accounts."},
	{ID: goLogin.MetricAccountCreationDuplicate, Name: "gologin_account_creation_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: goLogin.MetricPasswordResetRequest, Name: "gologin_password_reset_request_total", Help: "Password reset requests."},
	{ID: goLogin.MetricPasswordResetConfirmSuccess, Name: "gologin_password_reset_confirm_success_total", Help: "Completed password resets."},
	{ID: goLogin.MetricPasswordResetConfirmFailure, Name: "gologin_password_reset_confirm_failure_total", Help: "Failed password reset confirmations."},
	{ID: goLogin.MetricEmailVerificationRequest, Name: "gologin_email_verification_request_total", Help: "Email verification requests."},
	{ID: goLogin.MetricEmailVerificationSuccess, Name: "gologin_email_verification_success_total", Help: "Verified email addresses."},
	{ID: goLogin.MetricEmailVerificationFailure, Name: "gologin_email_verification_failure_total", Help: "Failed email verifications."},
	{ID: goLogin.MetricAccountDisabled, Name: "gologin_account_disabled_total", Help: "Account deactivations."},
	{ID: goLogin.MetricAccountDeleted, Name: "gologin_account_deleted_total", Help: "Account deletions."},
	{ID: goLogin.MetricAccountUnlocked, Name: "gologin_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: goLogin.MetricPasswordRehashed, Name: "gologin_password_rehashed_total", Help: "Password hashes upgraded on login."},
}

// HistogramDefs lists the latency histograms. Buckets follow HistogramBounds.
var HistogramDefs = []HistogramDef{
	{ID: goLogin.MetricLoginLatency, Name: "gologin_login_latency_seconds", Help: "Login latency histogram."},
	{ID: goLogin.MetricValidateLatency, Name: "gologin_validate_latency_seconds", Help: "Access token validation latency histogram."},
}

// HistogramBounds are the upper bounds, in seconds, of the engine's eight
// latency buckets.
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

// HistogramBoundSuffix spells HistogramBounds in metric-name-safe form.
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

// NormalizeBuckets copies raw into a fixed array, zero-filling missing
// buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into less-or-equal counts.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
