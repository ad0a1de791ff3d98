package models

import "time"

// Ghost is an anonymous identity, one per browser/device. Its ID is the
// opaque bearer token the client holds; the row is materialized on first
// contact, so client-generated identifiers are tolerated.
//
// Lifecycle: soft-deleted 30 days after creation, hard-deleted 7 days later.
// There is deliberately no activity timestamp; retention runs off CreatedAt
// only, so the window cannot be extended.
type Ghost struct {
	BaseModel

	// AccountID links the ghost to a claimed account. A unique index keeps
	// the relation one-to-one from the database side; the link transaction
	// enforces it logically in both directions.
	AccountID *string `gorm:"type:uuid;uniqueIndex" json:"account_id,omitempty"`

	IsSoftDeleted bool       `gorm:"not null;default:false;index" json:"is_soft_deleted"`
	SoftDeletedAt *time.Time `json:"soft_deleted_at,omitempty"`

	Account *Account `gorm:"constraint:OnDelete:CASCADE" json:"account,omitempty"`
}

// IsClaimed reports whether the ghost has been linked to an account.
func (g *Ghost) IsClaimed() bool {
	return g != nil && g.AccountID != nil && *g.AccountID != ""
}
