package model

import "time"

// AdminSetting is a string-encoded key/value tunable managed outside this
// service. The OTC core only reads otp_max_requests, otp_window_minutes and
// the two display values used in outgoing message templates.
type AdminSetting struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Key       string    `json:"key" gorm:"uniqueIndex;not null;size:100"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}
