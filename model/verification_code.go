package model

import "time"

// VerificationCode is one outstanding or historical one-time code. At most one
// unused, unexpired row exists per (contact, purpose); CreateVerificationCode
// enforces this transactionally.
type VerificationCode struct {
	ID          string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Contact     string    `json:"contact" gorm:"not null;index:idx_verification_codes_key;size:255"`
	ContactType string    `json:"contact_type" gorm:"not null;size:10"`
	Purpose     string    `json:"purpose" gorm:"not null;index:idx_verification_codes_key;size:50"`
	Code        string    `json:"-" gorm:"not null;size:8"`
	IsUsed      bool      `json:"is_used" gorm:"default:false;not null"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"not null;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"not null"`
}
