package models

import "time"

// VerificationCode stores a short-lived one-time email verification code.
// Only the SHA-256 hash of the 6-digit code is persisted.
type VerificationCode struct {
	BaseModel

	Email     string     `gorm:"not null;index" json:"email"`
	CodeHash  string     `gorm:"not null" json:"-"`
	ExpiresAt time.Time  `gorm:"index" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// IsValid reports whether the code is unused and unexpired at the given time.
func (v *VerificationCode) IsValid(now time.Time) bool {
	return v != nil && v.UsedAt == nil && now.Before(v.ExpiresAt)
}
