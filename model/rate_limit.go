package model

import "time"

// OtpRateLimit is one ledger row per (contact, contact_type, purpose).
// IPAddress and UserAgent are last-seen advisory metadata only.
type OtpRateLimit struct {
	ID            string     `json:"id" gorm:"primaryKey;type:text;not null"`
	Contact       string     `json:"contact" gorm:"not null;uniqueIndex:idx_otp_rate_limits_key;size:255"`
	ContactType   string     `json:"contact_type" gorm:"not null;uniqueIndex:idx_otp_rate_limits_key;size:10"`
	Purpose       string     `json:"purpose" gorm:"not null;uniqueIndex:idx_otp_rate_limits_key;size:50"`
	RequestCount  int        `json:"request_count" gorm:"default:0;not null"`
	WindowStart   time.Time  `json:"window_start" gorm:"not null"`
	LastRequestAt time.Time  `json:"last_request_at" gorm:"not null;index"`
	BlockedUntil  *time.Time `json:"blocked_until,omitempty" gorm:"index"`
	IPAddress     string     `json:"ip_address,omitempty" gorm:"size:45"`
	UserAgent     string     `json:"user_agent,omitempty" gorm:"size:255"`
	CreatedAt     time.Time  `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"not null"`
}
