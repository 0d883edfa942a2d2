package shared

const (
	ContactTypeEmail = "email"
	ContactTypePhone = "phone"

	PurposeLogin         = "login"
	PurposePasswordReset = "password_reset"
	PurposeHealthCheck   = "health_check"

	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"

	SettingOtpMaxRequests   = "otp_max_requests"
	SettingOtpWindowMinutes = "otp_window_minutes"
	SettingPlatformName     = "platform_name"
	SettingContactEmail     = "contact_email"

	DefaultOtpMaxRequests   = 5
	DefaultOtpWindowMinutes = 5
	DefaultPlatformName     = "Tradeyard"
)

// Sentinel codes accepted by the verification bypass outside production.
var DevBypassCodes = []string{"0000", "1111"}
