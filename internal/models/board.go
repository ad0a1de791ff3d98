package models

import "time"

// Board is a shared note board owned by the ghost that created it.
// AdminSecret is a rotatable bearer token granting admin rights over the
// board without any identity linkage.
type Board struct {
	BaseModel

	Title          string `gorm:"size:255;not null" json:"title"`
	CreatorGhostID string `gorm:"type:uuid;not null;index" json:"creator_ghost_id"`
	IsPublic       bool   `gorm:"not null" json:"is_public"`
	AdminSecret    string `gorm:"type:uuid;uniqueIndex;not null" json:"-"`

	IsSoftDeleted bool       `gorm:"not null;default:false;index" json:"is_soft_deleted"`
	SoftDeletedAt *time.Time `json:"soft_deleted_at,omitempty"`

	CreatorGhost *Ghost        `gorm:"foreignKey:CreatorGhostID;constraint:OnDelete:CASCADE" json:"-"`
	Notes        []Note        `gorm:"constraint:OnDelete:CASCADE" json:"notes,omitempty"`
	Invites      []BoardInvite `gorm:"constraint:OnDelete:CASCADE" json:"invites,omitempty"`
}

// IsClaimed reports whether the owning ghost is linked to an account.
func (b *Board) IsClaimed() bool {
	return b != nil && b.CreatorGhost.IsClaimed()
}
