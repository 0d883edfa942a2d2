package dto

import "time"

// ==================== OTC REQUEST DTOs ====================

type SendCodeRequest struct {
	Contact     string `json:"contact" validate:"required,max=255" example:"user@example.com"`
	ContactType string `json:"contact_type" validate:"required,oneof=email phone" example:"email"`
	Purpose     string `json:"purpose" validate:"required,max=50" example:"login"`
}

func (r SendCodeRequest) Validate() error {
	return GetValidator().Struct(r)
}

type VerifyCodeRequest struct {
	Contact     string `json:"contact" validate:"required,max=255" example:"user@example.com"`
	ContactType string `json:"contact_type" validate:"required,oneof=email phone" example:"email"`
	Purpose     string `json:"purpose" validate:"required,max=50" example:"login"`
	Code        string `json:"code" validate:"required,len=4,numeric" example:"1234"`
}

func (r VerifyCodeRequest) Validate() error {
	return GetValidator().Struct(r)
}

// ==================== OTC RESPONSE DTOs ====================

type SendCodeResponse struct {
	Status           string `json:"status" example:"sent"`
	Message          string `json:"message" example:"Verification code sent."`
	ExpiresInSeconds int    `json:"expires_in_seconds" example:"300"`
	Delivered        bool   `json:"delivered" example:"true"`

	// DevCode is only populated outside production to support automated
	// testing. It is never set when APP_ENV=production.
	DevCode string `json:"dev_code,omitempty"`
}

type VerifyCodeResult struct {
	Status      string `json:"status" example:"accepted"`
	Message     string `json:"message" example:"Code accepted."`
	ShouldBlock bool   `json:"-"`
}

// OtpRateLimitResult is the outcome of a ledger check for one
// (contact, contact_type, purpose) key.
type OtpRateLimitResult struct {
	Allowed        bool          `json:"allowed"`
	RequestCount   int           `json:"request_count"`
	MaxRequests    int           `json:"max_requests"`
	WindowMinutes  int           `json:"window_minutes"`
	TimeUntilReset time.Duration `json:"time_until_reset"`
	BlockedUntil   *time.Time    `json:"blocked_until,omitempty"`
}

// RetryAfterMinutes reports the human-facing wait estimate, rounded up.
func (r OtpRateLimitResult) RetryAfterMinutes() int {
	if r.TimeUntilReset <= 0 {
		return 0
	}
	minutes := int((r.TimeUntilReset + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrorResponse struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors"`
}
